package config

import (
	"os"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = DescribeTable("cleanToken",
	func(in, want string) {
		Expect(cleanToken(in)).To(Equal(want))
	},
	Entry("plain", "abc123", "abc123"),
	Entry("quoted", `"abc123"`, "abc123"),
	Entry("bearer prefix", "Bearer abc123", "abc123"),
	Entry("lowercase bearer with spaces", "  bearer   abc123 ", "abc123"),
	Entry("stray control chars", "abc​123\r", "abc123"),
)

var _ = Describe("env helpers", func() {
	setEnv := func(key, value string) {
		prev, had := os.LookupEnv(key)
		Expect(os.Setenv(key, value)).To(Succeed())
		DeferCleanup(func() {
			if had {
				_ = os.Setenv(key, prev)
			} else {
				_ = os.Unsetenv(key)
			}
		})
	}

	It("splits, trims and lowercases lists", func() {
		setEnv("TESTGEN_TEST_LIST", " Is A Dependency For |  | blocks ")
		Expect(getEnvList("TESTGEN_TEST_LIST", []string{"x"})).To(Equal([]string{"is a dependency for", "blocks"}))
	})

	It("falls back when a list is empty", func() {
		setEnv("TESTGEN_TEST_LIST", " | ")
		Expect(getEnvList("TESTGEN_TEST_LIST", []string{"x"})).To(Equal([]string{"x"}))
	})

	It("accepts durations and bare seconds", func() {
		setEnv("TESTGEN_TEST_DUR", "90s")
		Expect(getEnvDuration("TESTGEN_TEST_DUR", time.Second)).To(Equal(90 * time.Second))

		setEnv("TESTGEN_TEST_DUR", "900")
		Expect(getEnvDuration("TESTGEN_TEST_DUR", time.Second)).To(Equal(900 * time.Second))

		setEnv("TESTGEN_TEST_DUR", "later")
		Expect(getEnvDuration("TESTGEN_TEST_DUR", time.Second)).To(Equal(time.Second))
	})

	It("ignores unparsable numbers", func() {
		setEnv("TESTGEN_TEST_INT", "many")
		Expect(getEnvInt("TESTGEN_TEST_INT", 7)).To(Equal(7))
	})
})

var _ = Describe("EngineConfig", func() {
	It("ships valid defaults", func() {
		Expect(DefaultEngineConfig().Validate()).To(Succeed())
	})

	It("reports every invalid value at once", func() {
		cfg := DefaultEngineConfig()
		cfg.CharsPerToken = 0
		cfg.CompletionBatchSize = 0
		cfg.TestRelation = ""

		err := cfg.Validate()
		Expect(err).To(HaveOccurred())
		Expect(err.Error()).To(ContainSubstring("chars per token"))
		Expect(err.Error()).To(ContainSubstring("batch size"))
		Expect(err.Error()).To(ContainSubstring("test relation"))
	})

	DescribeTable("TierLimits.For",
		func(tier string, want int) {
			limits := TierLimits{MentionedIssue: 1, Document: 2, HierarchyDoc: 3}
			Expect(limits.For(tier)).To(Equal(want))
		},
		Entry("mentioned issue", "mentioned_issue", 1),
		Entry("document", "document", 2),
		Entry("hierarchy doc", "hierarchy_doc", 3),
		Entry("truth has no tier limit", "truth", 0),
	)
})

var _ = Describe("Enabled helpers", func() {
	It("requires a known tracker provider", func() {
		Expect(TrackerConfig{Provider: TrackerJira, BaseURL: "u", Token: "t"}.Enabled()).To(BeTrue())
		Expect(TrackerConfig{Provider: "redmine", BaseURL: "u", Token: "t"}.Enabled()).To(BeFalse())
		Expect(TrackerConfig{Provider: TrackerGitLab, BaseURL: "u"}.Enabled()).To(BeFalse())
	})

	It("requires a known llm provider", func() {
		Expect(LLMConfig{Provider: "anthropic", APIKey: "k"}.Enabled()).To(BeTrue())
		Expect(LLMConfig{Provider: "mystery", APIKey: "k"}.Enabled()).To(BeFalse())
	})
})
