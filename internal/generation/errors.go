package generation

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"basegraph.app/testgen/common/llm"
)

var (
	ErrOversizedRequest  = errors.New("generation request too large")
	ErrUnavailable       = errors.New("generation service unavailable")
	ErrMalformedResponse = errors.New("generation response malformed")
)

// RateLimitError is a 429 from the generation service. Daily limits do not
// reset within a run and must not be retried.
type RateLimitError struct {
	Daily      bool
	RetryAfter time.Duration // zero when the service gave no hint
	Message    string
}

func (e *RateLimitError) Error() string {
	kind := "rate limited"
	if e.Daily {
		kind = "daily rate limit reached"
	}
	if e.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry after %s): %s", kind, e.RetryAfter, e.Message)
	}
	return fmt.Sprintf("%s: %s", kind, e.Message)
}

var waitHint = regexp.MustCompile(`(?i)please wait\s+(\d+)\s+seconds?`)

// ParseWaitHint extracts "Please wait N seconds" from a provider message.
func ParseWaitHint(msg string) (time.Duration, bool) {
	m := waitHint.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	secs, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

// IsDailyLimit reports whether a rate limit message names a per-day quota.
func IsDailyLimit(msg string) bool {
	low := strings.ToLower(msg)
	for _, marker := range []string{"per 86400s", "userbymodelbyday", "per day"} {
		if strings.Contains(low, marker) {
			return true
		}
	}
	return false
}

var oversizedMarkers = []string{
	"context_length_exceeded",
	"tokens_limit_reached",
	"maximum context length",
	"request body too large",
	"prompt is too long",
	"too many tokens",
}

func isOversizedMessage(msg string) bool {
	low := strings.ToLower(msg)
	for _, marker := range oversizedMarkers {
		if strings.Contains(low, marker) {
			return true
		}
	}
	return false
}

// classifyError maps a model client error onto the generation taxonomy.
// Context errors pass through untouched so callers can tell their own
// timeouts from the service's.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, llm.ErrMalformedOutput) {
		return fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	apiErr, ok := llm.AsAPIError(err)
	if !ok {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}

	switch {
	case apiErr.StatusCode == http.StatusRequestEntityTooLarge,
		apiErr.Code == "context_length_exceeded",
		apiErr.Code == "tokens_limit_reached",
		apiErr.StatusCode == http.StatusBadRequest && isOversizedMessage(apiErr.Message):
		return fmt.Errorf("%w: %w", ErrOversizedRequest, err)

	case apiErr.StatusCode == http.StatusTooManyRequests:
		rl := &RateLimitError{
			Daily:      IsDailyLimit(apiErr.Message),
			RetryAfter: apiErr.RetryAfter,
			Message:    apiErr.Message,
		}
		if wait, ok := ParseWaitHint(apiErr.Message); ok {
			rl.RetryAfter = wait
		}
		return rl

	case apiErr.StatusCode >= 500:
		return fmt.Errorf("%w: %w", ErrUnavailable, err)

	default:
		return err
	}
}
