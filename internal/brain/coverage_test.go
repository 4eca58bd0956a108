package brain_test

import (
	"context"
	"errors"
	"strings"
	"time"

	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/brain"
	"basegraph.app/testgen/internal/generation"
	"basegraph.app/testgen/internal/model"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func truthPayload() model.Payload {
	return model.Payload{
		Truth: []model.TruthSource{{Key: "SHOP-1", Text: strings.Repeat("The cart keeps its items. ", 200), Tokens: 1300}},
		Context: []model.ContextBlock{
			{Source: "SHOP-7", Text: "Refund flow", Tier: model.TierMentionedIssue, Seq: 1, Tokens: 3},
			{Source: wikiPrefix + "payments", Text: "Card rules", Tier: model.TierDocument, Seq: 2, Tokens: 3},
			{Source: wikiPrefix + "commerce", Text: "Epic overview", Tier: model.TierHierarchyDoc, Seq: 3, Tokens: 4},
		},
	}
}

var _ = Describe("CoverageEngine", func() {
	var (
		ctx     context.Context
		cfg     config.EngineConfig
		gen     *mockGenerator
		sleeper *recordingSleeper
	)

	newEngine := func() *brain.CoverageEngine {
		return brain.NewCoverageEngine(gen, brain.NewTokenBudgetAllocator(cfg), brain.NewContextDegrader(cfg), cfg, sleeper.Sleep)
	}

	BeforeEach(func() {
		ctx = context.Background()
		cfg = testEngineConfig()
		gen = &mockGenerator{}
		sleeper = &recordingSleeper{}
	})

	Context("initial call covers part of the inventory", func() {
		It("requests only the missing ids and reaches full coverage", func() {
			gen.generateFn = func(_ context.Context, req generation.Request) (*generation.Response, error) {
				if req.Mode == generation.ModeFull {
					return &generation.Response{
						Inventory: inventory(5),
						Scenarios: scenarios(model.ClassificationSystem, 1, 2, 4),
					}, nil
				}
				return &generation.Response{Scenarios: scenarios(model.ClassificationSystem, 3, 5)}, nil
			}

			result, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Plan.State).To(Equal(model.CoverageFull))
			Expect(result.Plan.GenerationCalls).To(Equal(2))
			Expect(gen.callCount).To(Equal(2))
			Expect(gen.requests[1].Mode).To(Equal(generation.ModeCompletion))
			Expect(gen.requests[1].MissingIDs).To(Equal([]int{3, 5}))
			Expect(gen.requests[1].Inventory).To(HaveLen(5))

			var ids []int
			for _, s := range result.Plan.Scenarios() {
				ids = append(ids, s.InventoryID)
			}
			Expect(ids).To(Equal([]int{1, 2, 3, 4, 5}))
		})

		It("uses the compact payload for completion rounds", func() {
			cfg.CompletionContextTokens = 3
			gen.generateFn = func(_ context.Context, req generation.Request) (*generation.Response, error) {
				if req.Mode == generation.ModeFull {
					return &generation.Response{Inventory: inventory(2), Scenarios: scenarios(model.ClassificationSystem, 1)}, nil
				}
				return &generation.Response{Scenarios: scenarios(model.ClassificationSystem, 2)}, nil
			}

			_, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(err).NotTo(HaveOccurred())
			Expect(gen.requests[0].Payload.Context).To(HaveLen(3))
			Expect(gen.requests[1].Payload.Context).To(HaveLen(1))
			Expect(gen.requests[1].Payload.Truth).To(Equal(gen.requests[0].Payload.Truth))
		})

		It("batches missing ids", func() {
			cfg.CompletionBatchSize = 2
			gen.generateFn = func(_ context.Context, req generation.Request) (*generation.Response, error) {
				if req.Mode == generation.ModeFull {
					return &generation.Response{Inventory: inventory(5)}, nil
				}
				return &generation.Response{Scenarios: scenarios(model.ClassificationSystem, req.MissingIDs...)}, nil
			}

			result, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Plan.State).To(Equal(model.CoverageFull))
			Expect(gen.requests[1].MissingIDs).To(Equal([]int{1, 2}))
			Expect(gen.requests[2].MissingIDs).To(Equal([]int{3, 4}))
			Expect(gen.requests[3].MissingIDs).To(Equal([]int{5}))
			Expect(result.Plan.Attempts).To(Equal(3))
		})
	})

	Context("the request is too large", func() {
		It("degrades in order and succeeds on the fourth attempt", func() {
			gen.generateFn = func(_ context.Context, req generation.Request) (*generation.Response, error) {
				if gen.callCount <= 3 {
					return nil, generation.ErrOversizedRequest
				}
				return &generation.Response{Inventory: inventory(1), Scenarios: scenarios(model.ClassificationSystem, 1)}, nil
			}

			result, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(err).NotTo(HaveOccurred())
			Expect(gen.callCount).To(Equal(4))
			Expect(result.Stats.DegradeSteps).To(Equal([]brain.DegradeStep{
				brain.StepDropDocuments,
				brain.StepDropSupportingContext,
				brain.StepHardClipTruth,
			}))

			Expect(gen.requests[1].Payload.CountTier(model.TierDocument)).To(Equal(0))
			Expect(gen.requests[1].Payload.CountTier(model.TierMentionedIssue)).To(Equal(1))
			Expect(gen.requests[2].Payload.Context).To(BeEmpty())

			final := gen.requests[3].Payload.Truth[0]
			Expect(final.HardClipped).To(BeTrue())
			omitted, ok := brain.ParseTruncationMarker(final.Text)
			Expect(ok).To(BeTrue())
			Expect(omitted).To(BeNumerically(">", 0))
			Expect(result.Payload.HardClipped()).To(BeTrue())
		})

		It("fails with request_too_large once degradation rounds run out", func() {
			gen.generateFn = func(context.Context, generation.Request) (*generation.Response, error) {
				return nil, generation.ErrOversizedRequest
			}

			_, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(errors.Is(err, brain.ErrDegradationExhausted)).To(BeTrue())
			Expect(brain.Classify(err)).To(Equal(brain.OutcomeRequestTooLarge))
			Expect(gen.callCount).To(Equal(cfg.MaxDegradeRounds + 1))
		})

		It("treats a call timeout like an oversized request", func() {
			cfg.CallTimeout = 20 * time.Millisecond
			gen.generateFn = func(ctx context.Context, req generation.Request) (*generation.Response, error) {
				if gen.callCount == 1 {
					<-ctx.Done()
					return nil, ctx.Err()
				}
				return &generation.Response{Inventory: inventory(1), Scenarios: scenarios(model.ClassificationSystem, 1)}, nil
			}

			result, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Stats.DegradeSteps).To(Equal([]brain.DegradeStep{brain.StepDropDocuments}))
		})
	})

	Context("completion rounds never cover an item", func() {
		It("stops at the attempt limit with incomplete coverage", func() {
			cfg.MaxCompletionAttempts = 3
			gen.generateFn = func(_ context.Context, req generation.Request) (*generation.Response, error) {
				if req.Mode == generation.ModeFull {
					return &generation.Response{
						Inventory: inventory(9),
						Scenarios: scenarios(model.ClassificationSystem, 1, 2, 3, 4, 5, 6, 7, 8),
					}, nil
				}
				return &generation.Response{}, nil
			}

			result, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			var incomplete *brain.IncompleteCoverageError
			Expect(errors.As(err, &incomplete)).To(BeTrue())
			Expect(incomplete.Missing).To(Equal([]int{9}))
			Expect(brain.Classify(err)).To(Equal(brain.OutcomeIncompleteCoverage))
			Expect(result.Plan.State).To(Equal(model.CoverageMaxAttemptsExceeded))
			Expect(result.Plan.Attempts).To(Equal(3))
			Expect(gen.callCount).To(Equal(4))
		})

		It("counts a malformed completion as an empty round", func() {
			gen.generateFn = func(_ context.Context, req generation.Request) (*generation.Response, error) {
				switch {
				case req.Mode == generation.ModeFull:
					return &generation.Response{Inventory: inventory(2), Scenarios: scenarios(model.ClassificationSystem, 1)}, nil
				case req.Round == 1:
					return nil, generation.ErrMalformedResponse
				default:
					return &generation.Response{Scenarios: scenarios(model.ClassificationSystem, 2)}, nil
				}
			}

			result, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Plan.Attempts).To(Equal(2))
			Expect(result.Plan.GenerationCalls).To(Equal(2))
		})
	})

	Context("validation", func() {
		It("rejects scenarios for ids that were not requested", func() {
			cfg.CompletionBatchSize = 1
			gen.generateFn = func(_ context.Context, req generation.Request) (*generation.Response, error) {
				if req.Mode == generation.ModeFull {
					return &generation.Response{Inventory: inventory(4), Scenarios: scenarios(model.ClassificationSystem, 1, 2)}, nil
				}
				if req.Round == 1 {
					return &generation.Response{Scenarios: scenarios(model.ClassificationSystem, 3, 4)}, nil
				}
				return &generation.Response{Scenarios: scenarios(model.ClassificationSystem, 4)}, nil
			}

			result, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Plan.Violations).To(ContainElement(SatisfyAll(
				HaveField("InventoryID", 4),
				HaveField("Round", 1),
				HaveField("Reason", ContainSubstring("not requested")),
			)))
			Expect(gen.requests[2].MissingIDs).To(Equal([]int{4}))
			Expect(result.Plan.State).To(Equal(model.CoverageFull))
		})

		It("keeps the first scenario when an id repeats", func() {
			first := scenario(1, model.ClassificationSystem)
			second := scenario(1, model.ClassificationE2E)
			second.Title = "Duplicate"
			gen.generateFn = func(context.Context, generation.Request) (*generation.Response, error) {
				return &generation.Response{Inventory: inventory(1), Scenarios: []model.Scenario{first, second}}, nil
			}

			result, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Plan.Scenarios()).To(ConsistOf(first))
			Expect(result.Plan.Violations).To(HaveLen(1))
		})

		It("rejects out of range ids, missing fields and unknown classifications", func() {
			outOfRange := scenario(7, model.ClassificationSystem)
			noTitle := scenario(1, model.ClassificationSystem)
			noTitle.Title = " "
			badScope := scenario(1, "Integration")
			gen.generateFn = func(_ context.Context, req generation.Request) (*generation.Response, error) {
				if req.Mode == generation.ModeFull {
					return &generation.Response{Inventory: inventory(1), Scenarios: []model.Scenario{outOfRange, noTitle, badScope}}, nil
				}
				return &generation.Response{Scenarios: scenarios(model.ClassificationSystem, 1)}, nil
			}

			result, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(err).NotTo(HaveOccurred())
			var reasons []string
			for _, v := range result.Plan.Violations {
				reasons = append(reasons, v.Reason)
			}
			Expect(reasons).To(ConsistOf(
				ContainSubstring("outside 1..1"),
				ContainSubstring("missing required fields: title"),
				ContainSubstring(`invalid classification "Integration"`),
			))
		})

		It("normalizes End2End to E2E", func() {
			gen.generateFn = func(context.Context, generation.Request) (*generation.Response, error) {
				return &generation.Response{Inventory: inventory(1), Scenarios: scenarios("End2End", 1)}, nil
			}

			result, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Plan.Scenarios()[0].Classification).To(Equal(model.ClassificationE2E))
		})

		DescribeTable("rejects invalid inventories",
			func(items []model.InventoryItem) {
				gen.generateFn = func(context.Context, generation.Request) (*generation.Response, error) {
					return &generation.Response{Inventory: items}, nil
				}

				_, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

				Expect(errors.Is(err, brain.ErrInvalidInventory)).To(BeTrue())
				Expect(brain.Classify(err)).To(Equal(brain.OutcomeUnhandled))
			},
			Entry("empty", []model.InventoryItem{}),
			Entry("gap", []model.InventoryItem{{ID: 1, Description: "a"}, {ID: 3, Description: "b"}}),
			Entry("duplicate", []model.InventoryItem{{ID: 1, Description: "a"}, {ID: 1, Description: "b"}}),
			Entry("zero based", []model.InventoryItem{{ID: 0, Description: "a"}}),
			Entry("blank description", []model.InventoryItem{{ID: 1, Description: " "}}),
		)
	})

	Context("rate limits and outages", func() {
		okFull := func() (*generation.Response, error) {
			return &generation.Response{Inventory: inventory(1), Scenarios: scenarios(model.ClassificationSystem, 1)}, nil
		}

		It("waits the hinted time plus one second", func() {
			gen.generateFn = func(context.Context, generation.Request) (*generation.Response, error) {
				if gen.callCount == 1 {
					return nil, &generation.RateLimitError{RetryAfter: 5 * time.Second, Message: "Please wait 5 seconds"}
				}
				return okFull()
			}

			result, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(err).NotTo(HaveOccurred())
			Expect(sleeper.waits).To(Equal([]time.Duration{6 * time.Second}))
			Expect(result.Stats.RateLimitRetries).To(Equal(1))
		})

		It("backs off exponentially without a hint", func() {
			gen.generateFn = func(context.Context, generation.Request) (*generation.Response, error) {
				if gen.callCount <= 3 {
					return nil, &generation.RateLimitError{Message: "slow down"}
				}
				return okFull()
			}

			_, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(err).NotTo(HaveOccurred())
			Expect(sleeper.waits).To(Equal([]time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}))
		})

		It("stops immediately on a daily limit", func() {
			gen.generateFn = func(context.Context, generation.Request) (*generation.Response, error) {
				return nil, &generation.RateLimitError{Daily: true, Message: "Limit 150 per 86400s"}
			}

			_, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(brain.Classify(err)).To(Equal(brain.OutcomeDailyRateLimit))
			Expect(brain.IsRetryable(err)).To(BeFalse())
			Expect(gen.callCount).To(Equal(1))
			Expect(sleeper.waits).To(BeEmpty())
		})

		It("fails fast when the hinted wait is too long", func() {
			gen.generateFn = func(context.Context, generation.Request) (*generation.Response, error) {
				return nil, &generation.RateLimitError{RetryAfter: 1200 * time.Second}
			}

			_, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(errors.Is(err, brain.ErrDailyRateLimit)).To(BeTrue())
			Expect(brain.Classify(err)).To(Equal(brain.OutcomeDailyRateLimit))
			Expect(sleeper.waits).To(BeEmpty())
		})

		It("gives up after the rate limit retry ceiling", func() {
			cfg.MaxRateLimitRetries = 2
			gen.generateFn = func(context.Context, generation.Request) (*generation.Response, error) {
				return nil, &generation.RateLimitError{Message: "slow down"}
			}

			_, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(errors.Is(err, brain.ErrRetriesExhausted)).To(BeTrue())
			Expect(brain.Classify(err)).To(Equal(brain.OutcomeRetriesExhausted))
			Expect(brain.IsRetryable(err)).To(BeTrue())
			Expect(gen.callCount).To(Equal(3))
		})

		It("retries an unavailable service and a malformed initial response", func() {
			gen.generateFn = func(context.Context, generation.Request) (*generation.Response, error) {
				switch gen.callCount {
				case 1:
					return nil, generation.ErrUnavailable
				case 2:
					return nil, generation.ErrMalformedResponse
				default:
					return okFull()
				}
			}

			result, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(err).NotTo(HaveOccurred())
			Expect(result.Stats.UnavailableRetries).To(Equal(2))
			Expect(result.Stats.Attempts).To(Equal(3))
		})

		It("returns retries exhausted when the service stays down", func() {
			cfg.MaxUnavailableRetries = 1
			gen.generateFn = func(context.Context, generation.Request) (*generation.Response, error) {
				return nil, generation.ErrUnavailable
			}

			_, err := newEngine().Run(ctx, "SHOP-1", truthPayload())

			Expect(errors.Is(err, brain.ErrRetriesExhausted)).To(BeTrue())
			Expect(gen.callCount).To(Equal(2))
		})
	})
})
