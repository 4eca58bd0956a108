package brain_test

import (
	"context"
	"errors"

	"basegraph.app/testgen/internal/brain"
	"basegraph.app/testgen/internal/model"
	"basegraph.app/testgen/internal/tracker"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("TruthResolver", func() {
	var (
		ctx    context.Context
		issues *mockIssueStore
	)

	BeforeEach(func() {
		ctx = context.Background()
		issues = newMockIssueStore(
			&model.Issue{
				Key:         "SHOP-1",
				Summary:     "Checkout with saved card",
				Description: "Users pay with a stored card.",
				EpicKey:     "SHOP-100",
				Links:       []model.IssueLink{dependsOn("SHOP-2"), dependsOn("SHOP-3")},
			},
			&model.Issue{Key: "SHOP-2", Summary: "Store cards", Links: []model.IssueLink{dependsOn("SHOP-4")}},
			&model.Issue{Key: "SHOP-3", Summary: "Card tokens"},
			&model.Issue{Key: "SHOP-4", Summary: "Vault"},
			&model.Issue{Key: "SHOP-100", Summary: "Payments epic", Links: []model.IssueLink{childOf("SHOP-200")}},
			&model.Issue{Key: "SHOP-200", Summary: "Commerce initiative", DocRef: wikiPrefix + "commerce"},
		)
	})

	It("resolves the anchor, its direct dependencies and the epic chain", func() {
		resolver := brain.NewTruthResolver(issues, testEngineConfig())

		res, err := resolver.Resolve(ctx, "SHOP-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Anchor.Key).To(Equal("SHOP-1"))
		Expect(res.Truth[0].Key).To(Equal("SHOP-1"))
		Expect(res.Truth[0].Text).To(Equal("Checkout with saved card\n\nUsers pay with a stored card."))
		Expect(res.DependencyKeys).To(Equal([]string{"SHOP-2", "SHOP-3"}))
		Expect(res.EpicChain).To(Equal([]string{"SHOP-100", "SHOP-200"}))
		Expect(res.Epic.Key).To(Equal("SHOP-100"))
		Expect(res.AnchorEpic.Key).To(Equal("SHOP-200"))
	})

	It("follows dependencies transitively up to the configured depth", func() {
		cfg := testEngineConfig()
		cfg.TruthDepth = 2
		resolver := brain.NewTruthResolver(issues, cfg)

		res, err := resolver.Resolve(ctx, "SHOP-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(res.DependencyKeys).To(Equal([]string{"SHOP-2", "SHOP-3", "SHOP-4"}))
	})

	It("fetches every issue once when dependencies form a cycle", func() {
		issues.issues["SHOP-4"].Links = []model.IssueLink{dependsOn("SHOP-2"), dependsOn("SHOP-1")}
		issues.issues["SHOP-3"].Links = []model.IssueLink{dependsOn("SHOP-1")}
		cfg := testEngineConfig()
		cfg.TruthDepth = 5
		resolver := brain.NewTruthResolver(issues, cfg)

		res, err := resolver.Resolve(ctx, "SHOP-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(res.DependencyKeys).To(Equal([]string{"SHOP-2", "SHOP-3", "SHOP-4"}))
		for _, key := range []string{"SHOP-1", "SHOP-2", "SHOP-3", "SHOP-4"} {
			Expect(issues.fetchCount(key)).To(Equal(1), key)
		}
	})

	It("caps the number of truth sources", func() {
		cfg := testEngineConfig()
		cfg.MaxTruthIssues = 2
		resolver := brain.NewTruthResolver(issues, cfg)

		res, err := resolver.Resolve(ctx, "SHOP-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(res.Truth).To(HaveLen(2))
		Expect(res.DependencyKeys).To(Equal([]string{"SHOP-2"}))
	})

	It("skips dependencies that cannot be fetched", func() {
		issues.errs["SHOP-2"] = errors.New("boom")
		resolver := brain.NewTruthResolver(issues, testEngineConfig())

		res, err := resolver.Resolve(ctx, "SHOP-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(res.DependencyKeys).To(Equal([]string{"SHOP-3"}))
	})

	It("stops the epic climb at the configured depth", func() {
		cfg := testEngineConfig()
		cfg.EpicDepth = 0
		resolver := brain.NewTruthResolver(issues, cfg)

		res, err := resolver.Resolve(ctx, "SHOP-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(res.EpicChain).To(Equal([]string{"SHOP-100"}))
		Expect(res.AnchorEpic.Key).To(Equal("SHOP-100"))
	})

	It("fetches each epic once while climbing", func() {
		resolver := brain.NewTruthResolver(issues, testEngineConfig())

		_, err := resolver.Resolve(ctx, "SHOP-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(issues.fetchCount("SHOP-100")).To(Equal(1))
		Expect(issues.fetchCount("SHOP-200")).To(Equal(1))
	})

	It("stops at a parent epic cycle", func() {
		issues.issues["SHOP-200"].Links = []model.IssueLink{childOf("SHOP-100")}
		cfg := testEngineConfig()
		cfg.EpicDepth = 5
		resolver := brain.NewTruthResolver(issues, cfg)

		res, err := resolver.Resolve(ctx, "SHOP-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(res.EpicChain).To(Equal([]string{"SHOP-100", "SHOP-200"}))
		Expect(res.AnchorEpic.Key).To(Equal("SHOP-200"))
		Expect(issues.fetchCount("SHOP-100")).To(Equal(1))
		Expect(issues.fetchCount("SHOP-200")).To(Equal(1))
	})

	It("fails with a ResolutionError when the anchor is missing", func() {
		resolver := brain.NewTruthResolver(issues, testEngineConfig())

		_, err := resolver.Resolve(ctx, "SHOP-999")

		var resErr *brain.ResolutionError
		Expect(errors.As(err, &resErr)).To(BeTrue())
		Expect(resErr.Role).To(Equal("anchor"))
		Expect(errors.Is(err, tracker.ErrIssueNotFound)).To(BeTrue())
		Expect(brain.Classify(err)).To(Equal(brain.OutcomeIssueStoreError))
	})

	It("fails with a ResolutionError when the epic cannot be resolved", func() {
		delete(issues.issues, "SHOP-100")
		resolver := brain.NewTruthResolver(issues, testEngineConfig())

		_, err := resolver.Resolve(ctx, "SHOP-1")

		var resErr *brain.ResolutionError
		Expect(errors.As(err, &resErr)).To(BeTrue())
		Expect(resErr.Role).To(Equal("epic"))
		Expect(resErr.Key).To(Equal("SHOP-100"))
		Expect(brain.Classify(err)).To(Equal(brain.OutcomeIssueStoreError))
	})

	It("keeps the epic when a parent epic cannot be resolved", func() {
		delete(issues.issues, "SHOP-200")
		resolver := brain.NewTruthResolver(issues, testEngineConfig())

		res, err := resolver.Resolve(ctx, "SHOP-1")

		Expect(err).NotTo(HaveOccurred())
		Expect(res.EpicChain).To(Equal([]string{"SHOP-100"}))
		Expect(res.AnchorEpic.Key).To(Equal("SHOP-100"))
	})

	It("fails when the anchor has no epic", func() {
		issues.issues["SHOP-1"].EpicKey = ""
		resolver := brain.NewTruthResolver(issues, testEngineConfig())

		_, err := resolver.Resolve(ctx, "SHOP-1")

		var resErr *brain.ResolutionError
		Expect(errors.As(err, &resErr)).To(BeTrue())
		Expect(resErr.Role).To(Equal("epic"))
	})
})
