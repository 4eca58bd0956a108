package model

// TestCaseFields is everything the tracker needs to create one test case.
type TestCaseFields struct {
	Project             string
	IssueType           string
	Summary             string
	Description         string
	TestScope           string // "System" or "End2End"
	ExecutionMode       string
	AutomationCandidate string // "High", "Low" or "Discarded"
	Labels              []string
}

// LinkInstruction asks the publisher to link a created test case to Target.
type LinkInstruction struct {
	Target   string `json:"target"`
	Relation string `json:"relation"`
}
