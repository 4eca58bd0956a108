package brain

import (
	"context"
	"log/slog"
	"math"
	"sort"
	"unicode/utf8"

	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/model"
)

const truncationSuffix = "\n[...]"

// EstimateTokens approximates a token count from the rune count.
func EstimateTokens(text string, charsPerToken float64) int {
	if text == "" {
		return 0
	}
	return int(math.Ceil(float64(utf8.RuneCountInString(text)) / charsPerToken))
}

type TierUsage struct {
	Tier      model.Tier `json:"tier"`
	Allocated int        `json:"allocated"`
	Used      int        `json:"used"`
	Blocks    int        `json:"blocks"`
	Dropped   int        `json:"dropped"`
	Truncated int        `json:"truncated"`
}

type BudgetReport struct {
	TruthTokens      int         `json:"truth_tokens"`
	TruthSoftCeiling int         `json:"truth_soft_ceiling"`
	TruthOverCeiling bool        `json:"truth_over_ceiling"`
	Tiers            []TierUsage `json:"tiers"`
}

func (r BudgetReport) Tier(t model.Tier) TierUsage {
	for _, u := range r.Tiers {
		if u.Tier == t {
			return u
		}
	}
	return TierUsage{Tier: t}
}

type TokenBudgetAllocator struct {
	cfg config.EngineConfig
}

func NewTokenBudgetAllocator(cfg config.EngineConfig) *TokenBudgetAllocator {
	return &TokenBudgetAllocator{cfg: cfg}
}

func (a *TokenBudgetAllocator) EstimateTokens(text string) int {
	return EstimateTokens(text, a.cfg.CharsPerToken)
}

// Allocate builds the initial payload. Truth is always included in full.
// Each supporting block is first held to its per-block cap, then every tier
// is held to its ceiling by trimming the most recently discovered blocks.
func (a *TokenBudgetAllocator) Allocate(ctx context.Context, truth []model.TruthSource, blocks []model.ContextBlock) (model.Payload, BudgetReport) {
	report := BudgetReport{TruthSoftCeiling: a.cfg.TruthSoftCeiling}

	payload := model.Payload{Truth: make([]model.TruthSource, len(truth))}
	for i, t := range truth {
		t.Tokens = a.EstimateTokens(t.Text)
		payload.Truth[i] = t
		report.TruthTokens += t.Tokens
	}
	if report.TruthTokens > a.cfg.TruthSoftCeiling {
		report.TruthOverCeiling = true
		slog.WarnContext(ctx, "truth sources exceed soft ceiling, sending in full",
			"truth_tokens", report.TruthTokens,
			"soft_ceiling", a.cfg.TruthSoftCeiling)
	}

	byTier := make(map[model.Tier][]model.ContextBlock)
	for _, b := range blocks {
		b.Tokens = a.EstimateTokens(b.Text)
		if limit := a.cfg.BlockCaps.For(string(b.Tier)); limit > 0 && b.Tokens > limit {
			b = a.truncate(b, limit)
		}
		byTier[b.Tier] = append(byTier[b.Tier], b)
	}

	for _, tier := range model.SupportingTiers {
		kept, usage := a.fitTier(byTier[tier], tier, a.cfg.TierCeilings.For(string(tier)))
		payload.Context = append(payload.Context, kept...)
		report.Tiers = append(report.Tiers, usage)
	}
	sort.Slice(payload.Context, func(i, j int) bool { return payload.Context[i].Seq < payload.Context[j].Seq })

	return payload, report
}

// Compact returns the payload used for completion rounds. Truth is kept as
// is; supporting context shares one CompletionContextTokens budget.
func (a *TokenBudgetAllocator) Compact(p model.Payload) model.Payload {
	out := p.Clone()
	blocks := append([]model.ContextBlock(nil), out.Context...)
	sort.Slice(blocks, func(i, j int) bool { return blocks[i].Seq < blocks[j].Seq })
	out.Context, _ = a.fitTier(blocks, "", a.cfg.CompletionContextTokens)
	return out
}

// fitTier trims blocks, highest Seq first, until their total fits limit.
// A block is truncated when that alone closes the gap, otherwise dropped.
func (a *TokenBudgetAllocator) fitTier(blocks []model.ContextBlock, tier model.Tier, limit int) ([]model.ContextBlock, TierUsage) {
	usage := TierUsage{Tier: tier, Allocated: limit}

	sorted := append([]model.ContextBlock(nil), blocks...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Seq < sorted[j].Seq })

	used := 0
	for _, b := range sorted {
		used += b.Tokens
	}

	end := len(sorted)
	for used > limit && end > 0 {
		last := sorted[end-1]
		overflow := used - limit
		if last.Tokens > overflow {
			trimmed := a.truncate(last, last.Tokens-overflow)
			if trimmed.Text != "" {
				used += trimmed.Tokens - last.Tokens
				sorted[end-1] = trimmed
				break
			}
		}
		used -= last.Tokens
		usage.Dropped++
		end--
	}

	kept := sorted[:end]
	for _, b := range kept {
		if b.Truncated {
			usage.Truncated++
		}
	}
	usage.Used = used
	usage.Blocks = len(kept)
	return kept, usage
}

// truncate cuts b so it estimates to at most limit tokens, suffix included.
// The text is emptied when not even the suffix fits.
func (a *TokenBudgetAllocator) truncate(b model.ContextBlock, limit int) model.ContextBlock {
	room := int(math.Floor(float64(limit)*a.cfg.CharsPerToken)) - utf8.RuneCountInString(truncationSuffix)
	runes := []rune(b.Text)
	if room <= 0 {
		b.Text = ""
		b.Tokens = 0
		b.Truncated = true
		return b
	}
	if len(runes) <= room {
		return b
	}
	b.Text = string(runes[:room]) + truncationSuffix
	b.Tokens = a.EstimateTokens(b.Text)
	b.Truncated = true
	return b
}
