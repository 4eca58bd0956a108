package config

import (
	"errors"
	"fmt"
	"time"
)

// TierLimits holds one token limit per supporting-context tier.
type TierLimits struct {
	MentionedIssue int
	Document       int
	HierarchyDoc   int
}

// EngineConfig is the immutable value every pipeline component receives.
// Components copy it on construction and never read ambient state.
type EngineConfig struct {
	// Relation names are matched case-insensitively against a link's
	// name, inward and outward phrasing.
	DependencyRelations []string
	ParentEpicRelations []string
	TestRelation        string

	MaxTruthIssues     int
	TruthDepth         int
	EpicDepth          int
	ContextDepth       int
	MaxMentionedIssues int
	MaxDocuments       int
	FetchConcurrency   int
	FetchTimeout       time.Duration

	CharsPerToken           float64
	TruthSoftCeiling        int
	TierCeilings            TierLimits
	BlockCaps               TierLimits
	CompletionContextTokens int

	CompletionBatchSize   int
	MaxCompletionAttempts int
	MaxDegradeRounds      int
	ClipHeadChars         int
	ClipTailChars         int

	CallTimeout           time.Duration
	MaxRateLimitRetries   int
	MaxUnavailableRetries int
	BackoffBase           time.Duration
	BackoffMax            time.Duration
	FailFastWait          time.Duration
}

func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		DependencyRelations: []string{"is a dependency for"},
		ParentEpicRelations: []string{"is child of"},
		TestRelation:        "Tests",

		MaxTruthIssues:     10,
		TruthDepth:         1,
		EpicDepth:          1,
		ContextDepth:       2,
		MaxMentionedIssues: 8,
		MaxDocuments:       6,
		FetchConcurrency:   4,
		FetchTimeout:       30 * time.Second,

		CharsPerToken:    4,
		TruthSoftCeiling: 5000,
		TierCeilings: TierLimits{
			MentionedIssue: 2000,
			Document:       900,
			HierarchyDoc:   625,
		},
		BlockCaps: TierLimits{
			MentionedIssue: 225,
			Document:       300,
			HierarchyDoc:   625,
		},
		CompletionContextTokens: 875,

		CompletionBatchSize:   5,
		MaxCompletionAttempts: 6,
		MaxDegradeRounds:      3,
		ClipHeadChars:         1400,
		ClipTailChars:         500,

		CallTimeout:           180 * time.Second,
		MaxRateLimitRetries:   8,
		MaxUnavailableRetries: 3,
		BackoffBase:           2 * time.Second,
		BackoffMax:            60 * time.Second,
		FailFastWait:          900 * time.Second,
	}
}

func loadEngine() (EngineConfig, error) {
	d := DefaultEngineConfig()

	cfg := EngineConfig{
		DependencyRelations: getEnvList("DEPENDENCY_LINK_NAMES", d.DependencyRelations),
		ParentEpicRelations: getEnvList("PARENT_EPIC_LINK_NAMES", d.ParentEpicRelations),
		TestRelation:        getEnv("TEST_LINK_NAME", d.TestRelation),

		MaxTruthIssues:     getEnvInt("MAX_TRUTH_ISSUES", d.MaxTruthIssues),
		TruthDepth:         getEnvInt("TRUTH_DEPTH", d.TruthDepth),
		EpicDepth:          getEnvInt("EPIC_DEPTH", d.EpicDepth),
		ContextDepth:       getEnvInt("CONTEXT_DEPTH", d.ContextDepth),
		MaxMentionedIssues: getEnvInt("MAX_MENTIONED_ISSUES", d.MaxMentionedIssues),
		MaxDocuments:       getEnvInt("MAX_DOCUMENTS", d.MaxDocuments),
		FetchConcurrency:   getEnvInt("FETCH_CONCURRENCY", d.FetchConcurrency),
		FetchTimeout:       getEnvDuration("FETCH_TIMEOUT", d.FetchTimeout),

		CharsPerToken:    getEnvFloat("CHARS_PER_TOKEN", d.CharsPerToken),
		TruthSoftCeiling: getEnvInt("TRUTH_SOFT_CEILING_TOKENS", d.TruthSoftCeiling),
		TierCeilings: TierLimits{
			MentionedIssue: getEnvInt("MENTIONED_ISSUE_CEILING_TOKENS", d.TierCeilings.MentionedIssue),
			Document:       getEnvInt("DOCUMENT_CEILING_TOKENS", d.TierCeilings.Document),
			HierarchyDoc:   getEnvInt("HIERARCHY_DOC_CEILING_TOKENS", d.TierCeilings.HierarchyDoc),
		},
		BlockCaps: TierLimits{
			MentionedIssue: getEnvInt("MENTIONED_ISSUE_BLOCK_TOKENS", d.BlockCaps.MentionedIssue),
			Document:       getEnvInt("DOCUMENT_BLOCK_TOKENS", d.BlockCaps.Document),
			HierarchyDoc:   getEnvInt("HIERARCHY_DOC_BLOCK_TOKENS", d.BlockCaps.HierarchyDoc),
		},
		CompletionContextTokens: getEnvInt("COMPLETION_CONTEXT_TOKENS", d.CompletionContextTokens),

		CompletionBatchSize:   getEnvInt("COMPLETION_BATCH_SIZE", d.CompletionBatchSize),
		MaxCompletionAttempts: getEnvInt("MAX_COMPLETION_ATTEMPTS", d.MaxCompletionAttempts),
		MaxDegradeRounds:      getEnvInt("MAX_DEGRADE_ROUNDS", d.MaxDegradeRounds),
		ClipHeadChars:         getEnvInt("CLIP_HEAD_CHARS", d.ClipHeadChars),
		ClipTailChars:         getEnvInt("CLIP_TAIL_CHARS", d.ClipTailChars),

		CallTimeout:           getEnvDuration("LLM_CALL_TIMEOUT", d.CallTimeout),
		MaxRateLimitRetries:   getEnvInt("MAX_RATE_LIMIT_RETRIES", d.MaxRateLimitRetries),
		MaxUnavailableRetries: getEnvInt("MAX_UNAVAILABLE_RETRIES", d.MaxUnavailableRetries),
		BackoffBase:           getEnvDuration("BACKOFF_BASE", d.BackoffBase),
		BackoffMax:            getEnvDuration("BACKOFF_MAX", d.BackoffMax),
		FailFastWait:          getEnvDuration("FAIL_FAST_RATE_LIMIT_SECONDS", d.FailFastWait),
	}

	if err := cfg.Validate(); err != nil {
		return EngineConfig{}, fmt.Errorf("engine config: %w", err)
	}
	return cfg, nil
}

// Validate rejects values that would make budgeting or the retry loops meaningless.
func (c EngineConfig) Validate() error {
	var errs []error
	if c.CharsPerToken <= 0 {
		errs = append(errs, errors.New("chars per token must be positive"))
	}
	if len(c.DependencyRelations) == 0 {
		errs = append(errs, errors.New("at least one dependency relation is required"))
	}
	if c.TestRelation == "" {
		errs = append(errs, errors.New("test relation is required"))
	}
	if c.MaxTruthIssues < 1 {
		errs = append(errs, errors.New("max truth issues must be at least 1"))
	}
	if c.TruthDepth < 0 || c.EpicDepth < 0 || c.ContextDepth < 0 {
		errs = append(errs, errors.New("traversal depths cannot be negative"))
	}
	if c.MaxMentionedIssues < 0 || c.MaxDocuments < 0 {
		errs = append(errs, errors.New("fan-out caps cannot be negative"))
	}
	if c.FetchConcurrency < 1 {
		errs = append(errs, errors.New("fetch concurrency must be at least 1"))
	}
	if c.TierCeilings.MentionedIssue < 0 || c.TierCeilings.Document < 0 || c.TierCeilings.HierarchyDoc < 0 {
		errs = append(errs, errors.New("tier ceilings cannot be negative"))
	}
	if c.CompletionContextTokens < 1 {
		errs = append(errs, errors.New("completion context tokens must be at least 1"))
	}
	if c.CompletionBatchSize < 1 {
		errs = append(errs, errors.New("completion batch size must be at least 1"))
	}
	if c.MaxCompletionAttempts < 1 {
		errs = append(errs, errors.New("max completion attempts must be at least 1"))
	}
	if c.MaxDegradeRounds < 0 {
		errs = append(errs, errors.New("max degrade rounds cannot be negative"))
	}
	if c.ClipHeadChars < 1 || c.ClipTailChars < 1 {
		errs = append(errs, errors.New("clip head and tail must be at least 1 char"))
	}
	if c.CallTimeout <= 0 || c.FetchTimeout <= 0 {
		errs = append(errs, errors.New("timeouts must be positive"))
	}
	if c.MaxRateLimitRetries < 0 || c.MaxUnavailableRetries < 0 {
		errs = append(errs, errors.New("retry ceilings cannot be negative"))
	}
	return errors.Join(errs...)
}

// For returns the limit configured for tier. Unknown tiers get zero.
func (l TierLimits) For(tier string) int {
	switch tier {
	case "mentioned_issue":
		return l.MentionedIssue
	case "document":
		return l.Document
	case "hierarchy_doc":
		return l.HierarchyDoc
	default:
		return 0
	}
}
