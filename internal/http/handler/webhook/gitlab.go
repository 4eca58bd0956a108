package webhook

import (
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"
	gitlab "gitlab.com/gitlab-org/api/client-go"

	"basegraph.app/testgen/internal/http/handler"
	"basegraph.app/testgen/internal/queue"
)

// GitLabConfig controls which GitLab events start a run.
type GitLabConfig struct {
	Secret         string
	TriggerLabel   string
	KeyPrefix      string
	TraceHeader    string
	DefaultProject string
	// Command is the note body that triggers a run, e.g. "/testgen".
	Command string
}

type GitLabWebhookHandler struct {
	producer queue.Producer
	cfg      GitLabConfig
}

func NewGitLabWebhookHandler(producer queue.Producer, cfg GitLabConfig) *GitLabWebhookHandler {
	if cfg.Command == "" && cfg.TriggerLabel != "" {
		cfg.Command = "/" + cfg.TriggerLabel
	}
	return &GitLabWebhookHandler{producer: producer, cfg: cfg}
}

func (h *GitLabWebhookHandler) HandleEvent(c *gin.Context) {
	ctx := c.Request.Context()

	token := c.GetHeader("X-Gitlab-Token")
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing webhook token"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.cfg.Secret)) != 1 {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook token"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	var payload gitlabWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	eventType := gitlab.HookEventType(c.Request)
	iid, triggered := h.trigger(eventType, payload)
	if !triggered {
		slog.DebugContext(ctx, "gitlab event does not trigger a run",
			"event_type", eventType,
			"object_kind", payload.ObjectKind,
			"action", payload.ObjectAttributes.Action)
		c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "event ignored"})
		return
	}

	key := fmt.Sprintf("%s-%d", h.cfg.KeyPrefix, iid)
	id, err := h.producer.Enqueue(ctx, queue.RunMessage{
		AnchorKey:     key,
		TargetProject: h.cfg.DefaultProject,
		TraceID:       handler.TraceID(c, h.cfg.TraceHeader),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to enqueue run from gitlab event",
			"error", err,
			"anchor_key", key)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}

	slog.InfoContext(ctx, "gitlab webhook enqueued run",
		"event_type", eventType,
		"anchor_key", key,
		"message_id", id,
		"user", payload.User.Username)

	c.JSON(http.StatusAccepted, gin.H{"status": "enqueued", "message_id": id, "anchor_key": key})
}

// trigger reports the issue iid a run should start for. Issue events fire
// when the trigger label was just added; note events fire on the command.
func (h *GitLabWebhookHandler) trigger(eventType gitlab.EventType, p gitlabWebhookPayload) (int64, bool) {
	switch eventType {
	case gitlab.EventTypeIssue:
		if p.ObjectAttributes.IID == 0 || h.cfg.TriggerLabel == "" {
			return 0, false
		}
		label := strings.ToLower(h.cfg.TriggerLabel)
		if p.ObjectAttributes.Action == "open" && hasLabel(p.Labels, label) {
			return p.ObjectAttributes.IID, true
		}
		added := hasLabel(p.Changes.Labels.Current, label) && !hasLabel(p.Changes.Labels.Previous, label)
		return p.ObjectAttributes.IID, added
	case gitlab.EventTypeNote:
		if p.Issue.IID == 0 || h.cfg.Command == "" {
			return 0, false
		}
		note := strings.TrimSpace(p.ObjectAttributes.Note)
		return p.Issue.IID, strings.EqualFold(note, h.cfg.Command)
	default:
		return 0, false
	}
}

func hasLabel(labels []gitlabLabel, title string) bool {
	return slices.ContainsFunc(labels, func(l gitlabLabel) bool {
		return strings.ToLower(l.Title) == title
	})
}

type gitlabLabel struct {
	Title string `json:"title"`
}

type gitlabWebhookPayload struct {
	ObjectKind string `json:"object_kind"`
	User       struct {
		Username string `json:"username"`
	} `json:"user"`
	ObjectAttributes struct {
		Action string `json:"action"`
		Note   string `json:"note"`
		IID    int64  `json:"iid"`
	} `json:"object_attributes"`
	Issue struct {
		IID int64 `json:"iid"`
	} `json:"issue"`
	Labels  []gitlabLabel `json:"labels"`
	Changes struct {
		Labels struct {
			Previous []gitlabLabel `json:"previous"`
			Current  []gitlabLabel `json:"current"`
		} `json:"labels"`
	} `json:"changes"`
}
