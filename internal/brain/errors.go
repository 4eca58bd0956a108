package brain

import (
	"errors"
	"fmt"

	"basegraph.app/testgen/internal/generation"
	"basegraph.app/testgen/internal/tracker"
)

var (
	ErrDegradationExhausted = errors.New("request still too large after all degradation steps")
	ErrRetriesExhausted     = errors.New("generation retries exhausted")
	ErrDailyRateLimit       = errors.New("daily rate limit reached")
	ErrInvalidInventory     = errors.New("generation returned an invalid inventory")
	ErrNotAdmitted          = errors.New("release was not admitted by the publish gate")
)

// ResolutionError means the anchor story or its epic could not be resolved.
// The run stops before any generation call.
type ResolutionError struct {
	Key  string
	Role string // "anchor" or "epic"
	Err  error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolving %s %s: %v", e.Role, e.Key, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// IncompleteCoverageError is the soft failure of a run whose inventory could
// not be fully covered. Nothing was written.
type IncompleteCoverageError struct {
	Missing  []int
	Attempts int
}

func (e *IncompleteCoverageError) Error() string {
	return fmt.Sprintf("incomplete coverage: %d inventory items missing after %d completion rounds", len(e.Missing), e.Attempts)
}

// PublishError is a tracker failure after the gate opened. Test cases in
// Created were written and are not rolled back.
type PublishError struct {
	Created     []string
	InventoryID int
	Err         error
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publishing inventory item %d (%d test cases already created): %v", e.InventoryID, len(e.Created), e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

type Outcome string

const (
	OutcomeSuccess            Outcome = "success"
	OutcomeDailyRateLimit     Outcome = "daily_rate_limit"
	OutcomeRetriesExhausted   Outcome = "retries_exhausted"
	OutcomeRequestTooLarge    Outcome = "request_too_large"
	OutcomeIncompleteCoverage Outcome = "incomplete_coverage"
	OutcomeIssueStoreError    Outcome = "issue_store_error"
	OutcomeUnhandled          Outcome = "unhandled"
)

func (o Outcome) ExitCode() int {
	switch o {
	case OutcomeSuccess:
		return 0
	case OutcomeDailyRateLimit:
		return 10
	case OutcomeRetriesExhausted:
		return 11
	case OutcomeRequestTooLarge:
		return 12
	case OutcomeIncompleteCoverage:
		return 20
	case OutcomeIssueStoreError:
		return 30
	default:
		return 99
	}
}

// Classify maps a run error onto its outcome class.
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	var (
		incomplete *IncompleteCoverageError
		rateLimit  *generation.RateLimitError
		resolution *ResolutionError
		publish    *PublishError
	)

	switch {
	case errors.As(err, &incomplete):
		return OutcomeIncompleteCoverage
	case errors.Is(err, ErrDailyRateLimit),
		errors.As(err, &rateLimit) && rateLimit.Daily:
		return OutcomeDailyRateLimit
	case errors.Is(err, ErrDegradationExhausted):
		return OutcomeRequestTooLarge
	case errors.Is(err, ErrRetriesExhausted):
		return OutcomeRetriesExhausted
	case errors.As(err, &resolution),
		errors.As(err, &publish),
		errors.Is(err, tracker.ErrIssueNotFound):
		return OutcomeIssueStoreError
	default:
		return OutcomeUnhandled
	}
}

// IsRetryable reports whether repeating the whole run later may succeed.
// Publish failures are never retried since created test cases stay.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var publish *PublishError
	if errors.As(err, &publish) {
		return false
	}
	if errors.Is(err, ErrRetriesExhausted) {
		return true
	}

	var resolution *ResolutionError
	if errors.As(err, &resolution) {
		return !errors.Is(err, tracker.ErrIssueNotFound)
	}
	return false
}
