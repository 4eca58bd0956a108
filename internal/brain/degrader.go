package brain

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"unicode/utf8"

	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/model"
)

type DegradeStep string

const (
	StepDropDocuments         DegradeStep = "drop_documents"
	StepDropSupportingContext DegradeStep = "drop_supporting_context"
	StepHardClipTruth         DegradeStep = "hard_clip_truth"
)

// degradationOrder is fixed: documents go first, truth is clipped last.
var degradationOrder = []DegradeStep{
	StepDropDocuments,
	StepDropSupportingContext,
	StepHardClipTruth,
}

var truncationMarker = regexp.MustCompile(`\[\[TRUNCATED omitted=(\d+) chars\]\]`)

type ContextDegrader struct {
	cfg config.EngineConfig
}

func NewContextDegrader(cfg config.EngineConfig) *ContextDegrader {
	return &ContextDegrader{cfg: cfg}
}

// Degrade applies the first step of the fixed order that still changes p.
// It returns ErrDegradationExhausted when no step has anything left to do.
func (d *ContextDegrader) Degrade(ctx context.Context, p model.Payload) (model.Payload, DegradeStep, error) {
	for _, step := range degradationOrder {
		next, changed := d.apply(step, p)
		if !changed {
			continue
		}
		slog.InfoContext(ctx, "payload degraded",
			"step", step,
			"tokens_before", p.Tokens(),
			"tokens_after", next.Tokens())
		return next, step, nil
	}
	return p, "", ErrDegradationExhausted
}

func (d *ContextDegrader) apply(step DegradeStep, p model.Payload) (model.Payload, bool) {
	out := p.Clone()
	switch step {
	case StepDropDocuments:
		kept := out.Context[:0]
		for _, b := range out.Context {
			if b.Tier != model.TierDocument {
				kept = append(kept, b)
			}
		}
		changed := len(kept) != len(p.Context)
		out.Context = kept
		return out, changed

	case StepDropSupportingContext:
		if len(out.Context) == 0 {
			return p, false
		}
		out.Context = nil
		return out, true

	case StepHardClipTruth:
		changed := false
		for i, t := range out.Truth {
			clipped, ok := HardClip(t.Text, d.cfg.ClipHeadChars, d.cfg.ClipTailChars)
			if !ok {
				continue
			}
			t.Text = clipped
			t.Tokens = EstimateTokens(clipped, d.cfg.CharsPerToken)
			t.HardClipped = true
			out.Truth[i] = t
			changed = true
		}
		return out, changed
	}
	return p, false
}

// HardClip keeps the first head and last tail runes of text joined by a
// truncation marker. Text that would not get shorter is left alone.
func HardClip(text string, head, tail int) (string, bool) {
	if truncationMarker.MatchString(text) {
		return text, false
	}

	n := utf8.RuneCountInString(text)
	omitted := n - head - tail
	if omitted <= 0 {
		return text, false
	}

	marker := fmt.Sprintf("\n\n[[TRUNCATED omitted=%d chars]]\n\n", omitted)
	if omitted <= utf8.RuneCountInString(marker) {
		return text, false
	}

	runes := []rune(text)
	return string(runes[:head]) + marker + string(runes[n-tail:]), true
}

// ParseTruncationMarker reports how many characters a hard clip removed.
func ParseTruncationMarker(text string) (int, bool) {
	m := truncationMarker.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return n, true
}
