package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so every stage of a run logs its run id and
// anchor issue without passing them around explicitly.
type LogFields struct {
	RunID     *int64  // Snowflake id of the pipeline run
	AnchorKey *string // Anchor user story key
	MessageID *string // Redis stream message ID
	Round     *int    // Completion round (0 = initial generation)
	Component string  // Component name (OTel semantic convention style, e.g., "testgen.brain.coverage")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.RunID != nil {
		result.RunID = new.RunID
	}
	if new.AnchorKey != nil {
		result.AnchorKey = new.AnchorKey
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.Round != nil {
		result.Round = new.Round
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{Round: logger.Ptr(1)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate shortens s to at most maxLen runes, appending "..." if truncated.
// Used for logging provider error bodies and prompt excerpts.
func Truncate(s string, maxLen int) string {
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen]) + "..."
}
