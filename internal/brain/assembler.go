package brain

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"basegraph.app/testgen/common"
	"basegraph.app/testgen/common/logger"
	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/docs"
	"basegraph.app/testgen/internal/model"
	"basegraph.app/testgen/internal/tracker"
	"golang.org/x/sync/errgroup"
)

// Assembly is the supporting context gathered around the truth sources.
// Blocks are ordered by Seq.
type Assembly struct {
	Blocks           []model.ContextBlock
	ReferencedIssues []string
	Documents        []string
	Skipped          []string // "<ref>: <error>" for every reference that failed to load
}

type ContextAssembler struct {
	issues tracker.IssueStore
	docs   docs.DocumentStore
	cfg    config.EngineConfig
}

func NewContextAssembler(issues tracker.IssueStore, documents docs.DocumentStore, cfg config.EngineConfig) *ContextAssembler {
	if documents == nil {
		documents = docs.Multi{}
	}
	return &ContextAssembler{issues: issues, docs: documents, cfg: cfg}
}

type pendingRef struct {
	seq  int
	ref  string
	tier model.Tier
}

type fetched struct {
	block model.ContextBlock
	text  string // full text, scanned for the next level
	err   error
}

// Assemble follows issue keys and document references found in the truth
// text, level by level up to ContextDepth. Keys in known are never fetched
// again. Seq is assigned when a reference is first seen, so the order is
// stable regardless of how concurrent fetches finish.
func (a *ContextAssembler) Assemble(ctx context.Context, res *Resolution) (*Assembly, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "testgen.brain.assembler"})

	out := &Assembly{}
	seen := make(map[string]bool)
	for _, k := range res.Keys() {
		seen[k] = true
	}

	seq := 0
	issues, documents := 0, 0

	discover := func(text string) []pendingRef {
		var refs []pendingRef
		for _, key := range common.IssueKeys(text) {
			if seen[key] {
				continue
			}
			seen[key] = true
			if issues >= a.cfg.MaxMentionedIssues {
				continue
			}
			issues++
			seq++
			refs = append(refs, pendingRef{seq: seq, ref: key, tier: model.TierMentionedIssue})
		}
		for _, ref := range common.DocRefs(text) {
			if seen[ref] || !a.docs.Matches(ref) {
				continue
			}
			seen[ref] = true
			if documents >= a.cfg.MaxDocuments {
				continue
			}
			documents++
			seq++
			refs = append(refs, pendingRef{seq: seq, ref: ref, tier: model.TierDocument})
		}
		return refs
	}

	var level []pendingRef
	for _, t := range res.Truth {
		level = append(level, discover(t.Text)...)
	}

	if res.AnchorEpic != nil && res.AnchorEpic.DocRef != "" && !seen[res.AnchorEpic.DocRef] {
		ref := res.AnchorEpic.DocRef
		seen[ref] = true
		if a.docs.Matches(ref) {
			seq++
			level = append(level, pendingRef{seq: seq, ref: ref, tier: model.TierHierarchyDoc})
		} else {
			slog.WarnContext(ctx, "epic documentation reference not supported by any document store", "ref", ref)
		}
	}

	for depth := 1; depth <= a.cfg.ContextDepth && len(level) > 0; depth++ {
		results, err := a.fetchLevel(ctx, level)
		if err != nil {
			return nil, err
		}

		var next []pendingRef
		for i, r := range results {
			p := level[i]
			if r.err != nil {
				slog.WarnContext(ctx, "context reference could not be loaded, skipping",
					"ref", p.ref,
					"tier", p.tier,
					"error", r.err)
				out.Skipped = append(out.Skipped, fmt.Sprintf("%s: %v", p.ref, r.err))
				continue
			}

			out.Blocks = append(out.Blocks, r.block)
			if p.tier == model.TierMentionedIssue {
				out.ReferencedIssues = append(out.ReferencedIssues, p.ref)
			} else {
				out.Documents = append(out.Documents, p.ref)
			}

			if depth < a.cfg.ContextDepth && p.tier != model.TierHierarchyDoc {
				next = append(next, discover(r.text)...)
			}
		}
		level = next
	}

	sort.Slice(out.Blocks, func(i, j int) bool { return out.Blocks[i].Seq < out.Blocks[j].Seq })

	slog.InfoContext(ctx, "supporting context assembled",
		"blocks", len(out.Blocks),
		"referenced_issues", len(out.ReferencedIssues),
		"documents", len(out.Documents),
		"skipped", len(out.Skipped))

	return out, nil
}

// fetchLevel loads one traversal level with bounded concurrency. Individual
// failures are reported per slot, only cancellation fails the level.
func (a *ContextAssembler) fetchLevel(ctx context.Context, level []pendingRef) ([]fetched, error) {
	results := make([]fetched, len(level))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.FetchConcurrency)

	for i, p := range level {
		g.Go(func() error {
			fctx, cancel := context.WithTimeout(gctx, a.cfg.FetchTimeout)
			defer cancel()

			if p.tier == model.TierMentionedIssue {
				results[i] = a.fetchIssue(fctx, p)
			} else {
				results[i] = a.fetchDocument(fctx, p)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return results, nil
}

func (a *ContextAssembler) fetchIssue(ctx context.Context, p pendingRef) fetched {
	issue, err := a.issues.GetIssue(ctx, p.ref)
	if err != nil {
		return fetched{err: err}
	}
	text := issue.Text()
	return fetched{
		text: text,
		block: model.ContextBlock{
			Source: issue.Key,
			Title:  issue.Summary,
			Text:   text,
			Tier:   p.tier,
			Seq:    p.seq,
		},
	}
}

func (a *ContextAssembler) fetchDocument(ctx context.Context, p pendingRef) fetched {
	doc, err := a.docs.GetDocument(ctx, p.ref)
	if err != nil {
		return fetched{err: err}
	}
	if doc.Text == "" {
		return fetched{err: fmt.Errorf("%s: %w", p.ref, docs.ErrDocumentNotFound)}
	}
	return fetched{
		text: doc.Text,
		block: model.ContextBlock{
			Source: p.ref,
			Title:  doc.Title,
			Text:   doc.Text,
			Tier:   p.tier,
			Seq:    p.seq,
		},
	}
}
