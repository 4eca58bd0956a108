package handler

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/trace"
)

// TraceID prefers the configured trace header and falls back to the span
// started by otelgin. Returns nil when neither is present.
func TraceID(c *gin.Context, header string) *string {
	traceID := c.GetHeader(header)
	if traceID == "" {
		if spanCtx := trace.SpanContextFromContext(c.Request.Context()); spanCtx.IsValid() {
			traceID = spanCtx.TraceID().String()
		}
	}
	if traceID == "" {
		return nil
	}
	return &traceID
}
