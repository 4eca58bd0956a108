package dto

type CreateRunRequest struct {
	IssueKey      string `json:"issue_key" binding:"required"`
	TargetProject string `json:"target_project,omitempty"`
	DryRun        bool   `json:"dry_run,omitempty"`
}

type CreateRunResponse struct {
	MessageID     string `json:"message_id"`
	AnchorKey     string `json:"anchor_key"`
	TargetProject string `json:"target_project,omitempty"`
	DryRun        bool   `json:"dry_run"`
}
