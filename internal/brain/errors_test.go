package brain_test

import (
	"errors"
	"fmt"

	"basegraph.app/testgen/internal/brain"
	"basegraph.app/testgen/internal/generation"
	"basegraph.app/testgen/internal/tracker"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Outcome classification", func() {
	DescribeTable("Classify",
		func(err error, outcome brain.Outcome, code int) {
			Expect(brain.Classify(err)).To(Equal(outcome))
			Expect(brain.Classify(err).ExitCode()).To(Equal(code))
		},
		Entry("success", nil, brain.OutcomeSuccess, 0),
		Entry("daily limit from provider", fmt.Errorf("initial generation: %w", &generation.RateLimitError{Daily: true}), brain.OutcomeDailyRateLimit, 10),
		Entry("fail-fast wait", fmt.Errorf("%w: wait too long", brain.ErrDailyRateLimit), brain.OutcomeDailyRateLimit, 10),
		Entry("retries exhausted", fmt.Errorf("%w: 8 retries", brain.ErrRetriesExhausted), brain.OutcomeRetriesExhausted, 11),
		Entry("request too large", fmt.Errorf("%w: %w", brain.ErrDegradationExhausted, generation.ErrOversizedRequest), brain.OutcomeRequestTooLarge, 12),
		Entry("incomplete coverage", &brain.IncompleteCoverageError{Missing: []int{9}}, brain.OutcomeIncompleteCoverage, 20),
		Entry("resolution", &brain.ResolutionError{Key: "SHOP-1", Role: "anchor", Err: tracker.ErrIssueNotFound}, brain.OutcomeIssueStoreError, 30),
		Entry("publish", fmt.Errorf("publish: %w", &brain.PublishError{Err: errors.New("503")}), brain.OutcomeIssueStoreError, 30),
		Entry("anything else", errors.New("boom"), brain.OutcomeUnhandled, 99),
	)

	DescribeTable("IsRetryable",
		func(err error, expected bool) {
			Expect(brain.IsRetryable(err)).To(Equal(expected))
		},
		Entry("nil", nil, false),
		Entry("retries exhausted", brain.ErrRetriesExhausted, true),
		Entry("tracker outage while resolving", &brain.ResolutionError{Key: "SHOP-1", Role: "anchor", Err: errors.New("connection reset")}, true),
		Entry("missing anchor", &brain.ResolutionError{Key: "SHOP-1", Role: "anchor", Err: tracker.ErrIssueNotFound}, false),
		Entry("publish failure", &brain.PublishError{Err: brain.ErrRetriesExhausted}, false),
		Entry("incomplete coverage", &brain.IncompleteCoverageError{}, false),
		Entry("daily limit", brain.ErrDailyRateLimit, false),
	)
})
