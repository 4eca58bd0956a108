package handler

import (
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"

	"basegraph.app/testgen/internal/http/dto"
	"basegraph.app/testgen/internal/queue"
)

var issueKeyPattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*-\d+$`)

type RunHandler struct {
	producer       queue.Producer
	traceHeader    string
	defaultProject string
}

func NewRunHandler(producer queue.Producer, traceHeader, defaultProject string) *RunHandler {
	return &RunHandler{
		producer:       producer,
		traceHeader:    traceHeader,
		defaultProject: defaultProject,
	}
}

func (h *RunHandler) Create(c *gin.Context) {
	ctx := c.Request.Context()

	var req dto.CreateRunRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		slog.WarnContext(ctx, "invalid run request", "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	key := strings.ToUpper(strings.TrimSpace(req.IssueKey))
	if !issueKeyPattern.MatchString(key) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "issue_key must look like PROJ-123"})
		return
	}

	target := strings.TrimSpace(req.TargetProject)
	if target == "" {
		target = h.defaultProject
	}

	id, err := h.producer.Enqueue(ctx, queue.RunMessage{
		AnchorKey:     key,
		TargetProject: target,
		DryRun:        req.DryRun,
		TraceID:       TraceID(c, h.traceHeader),
	})
	if err != nil {
		slog.ErrorContext(ctx, "failed to enqueue run", "error", err, "anchor_key", key)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to enqueue run"})
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateRunResponse{
		MessageID:     id,
		AnchorKey:     key,
		TargetProject: target,
		DryRun:        req.DryRun,
	})
}
