package queue

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RunMessage asks a worker to run the pipeline for one anchor story.
type RunMessage struct {
	AnchorKey     string
	TargetProject string
	DryRun        bool
	TraceID       *string
	Attempt       int
}

// Message is a RunMessage as read back from the stream.
type Message struct {
	ID            string
	AnchorKey     string
	TargetProject string
	DryRun        bool
	Attempt       int
	TraceID       string
	LastError     string
	Raw           redis.XMessage
}

func ParseMessage(msg redis.XMessage) (Message, error) {
	anchorKey, err := parseString(msg.Values, "anchor_key")
	if err != nil {
		return Message{}, err
	}
	anchorKey = strings.TrimSpace(anchorKey)
	if anchorKey == "" {
		return Message{}, fmt.Errorf("empty anchor_key")
	}

	targetProject, err := parseOptionalString(msg.Values, "target_project")
	if err != nil {
		return Message{}, err
	}
	traceID, err := parseOptionalString(msg.Values, "trace_id")
	if err != nil {
		return Message{}, err
	}
	lastError, err := parseOptionalString(msg.Values, "last_error")
	if err != nil {
		return Message{}, err
	}
	dryRun, err := parseOptionalBool(msg.Values, "dry_run")
	if err != nil {
		return Message{}, err
	}

	attempt, err := parseOptionalInt(msg.Values, "attempt")
	if err != nil {
		return Message{}, err
	}
	if attempt == 0 {
		attempt = 1
	}

	return Message{
		ID:            msg.ID,
		AnchorKey:     anchorKey,
		TargetProject: targetProject,
		DryRun:        dryRun,
		Attempt:       attempt,
		TraceID:       traceID,
		LastError:     lastError,
		Raw:           msg,
	}, nil
}

func runValues(msg RunMessage) map[string]any {
	attempt := msg.Attempt
	if attempt <= 0 {
		attempt = 1
	}

	values := map[string]any{
		"anchor_key": msg.AnchorKey,
		"attempt":    attempt,
	}
	if msg.TargetProject != "" {
		values["target_project"] = msg.TargetProject
	}
	if msg.DryRun {
		values["dry_run"] = "1"
	}
	if msg.TraceID != nil && *msg.TraceID != "" {
		values["trace_id"] = *msg.TraceID
	}
	return values
}

func messageValues(msg Message, attempt int) map[string]any {
	run := RunMessage{
		AnchorKey:     msg.AnchorKey,
		TargetProject: msg.TargetProject,
		DryRun:        msg.DryRun,
		Attempt:       attempt,
	}
	if msg.TraceID != "" {
		run.TraceID = &msg.TraceID
	}
	return runValues(run)
}

func parseString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", fmt.Errorf("missing %s", key)
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalInt(values map[string]any, key string) (int, error) {
	raw, ok := values[key]
	if !ok {
		return 0, nil
	}
	str := fmt.Sprint(raw)
	num, err := strconv.Atoi(str)
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", key, err)
	}
	return num, nil
}

func parseOptionalString(values map[string]any, key string) (string, error) {
	raw, ok := values[key]
	if !ok {
		return "", nil
	}
	return fmt.Sprint(raw), nil
}

func parseOptionalBool(values map[string]any, key string) (bool, error) {
	raw, ok := values[key]
	if !ok {
		return false, nil
	}
	b, err := strconv.ParseBool(fmt.Sprint(raw))
	if err != nil {
		return false, fmt.Errorf("parsing %s: %w", key, err)
	}
	return b, nil
}
