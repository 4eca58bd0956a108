package model

type Tier string

const (
	TierTruth          Tier = "truth"
	TierMentionedIssue Tier = "mentioned_issue"
	TierDocument       Tier = "document"
	TierHierarchyDoc   Tier = "hierarchy_doc"
)

// SupportingTiers lists the degradable tiers in a stable reporting order.
var SupportingTiers = []Tier{TierMentionedIssue, TierDocument, TierHierarchyDoc}

// TruthSource is mandatory requirement text. Only hard-clipping may shorten it.
type TruthSource struct {
	Key         string `json:"key"`
	Summary     string `json:"summary"`
	Text        string `json:"text"`
	Tokens      int    `json:"tokens"`
	HardClipped bool   `json:"hard_clipped"`
}

// ContextBlock is one piece of supporting context. Seq is the discovery order
// and never changes once assigned.
type ContextBlock struct {
	Source    string `json:"source"` // issue key or document reference
	Title     string `json:"title,omitempty"`
	Text      string `json:"text"`
	Tier      Tier   `json:"tier"`
	Seq       int    `json:"seq"`
	Tokens    int    `json:"tokens"`
	Truncated bool   `json:"truncated,omitempty"`
}

// Payload is what a generation call receives.
type Payload struct {
	Truth   []TruthSource  `json:"truth"`
	Context []ContextBlock `json:"context"`
}

func (p Payload) Clone() Payload {
	out := Payload{
		Truth:   make([]TruthSource, len(p.Truth)),
		Context: make([]ContextBlock, len(p.Context)),
	}
	copy(out.Truth, p.Truth)
	copy(out.Context, p.Context)
	return out
}

func (p Payload) Tokens() int {
	total := 0
	for _, t := range p.Truth {
		total += t.Tokens
	}
	for _, b := range p.Context {
		total += b.Tokens
	}
	return total
}

func (p Payload) CountTier(tier Tier) int {
	n := 0
	for _, b := range p.Context {
		if b.Tier == tier {
			n++
		}
	}
	return n
}

func (p Payload) HardClipped() bool {
	for _, t := range p.Truth {
		if t.HardClipped {
			return true
		}
	}
	return false
}
