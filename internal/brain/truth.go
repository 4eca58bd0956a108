package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"basegraph.app/testgen/common/logger"
	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/model"
	"basegraph.app/testgen/internal/tracker"
	"golang.org/x/sync/errgroup"
)

var errNoEpic = errors.New("issue has no epic")

// Resolution is everything TruthResolver learned about the anchor story.
type Resolution struct {
	Anchor         *model.Issue
	Truth          []model.TruthSource // anchor first, then dependencies in discovery order
	DependencyKeys []string
	Epic           *model.Issue // epic the anchor belongs to
	EpicChain      []string     // Epic first, AnchorEpic last
	AnchorEpic     *model.Issue // topmost resolved epic, used for E2E links
}

// Keys returns every issue key the resolution already holds.
func (r *Resolution) Keys() []string {
	keys := make([]string, 0, len(r.Truth)+len(r.EpicChain))
	for _, t := range r.Truth {
		keys = append(keys, t.Key)
	}
	return append(keys, r.EpicChain...)
}

type TruthResolver struct {
	issues tracker.IssueStore
	cfg    config.EngineConfig
}

func NewTruthResolver(issues tracker.IssueStore, cfg config.EngineConfig) *TruthResolver {
	return &TruthResolver{issues: issues, cfg: cfg}
}

// Resolve fetches the anchor in full, then walks dependency links and the
// epic hierarchy concurrently. An unresolvable anchor or epic is fatal.
func (r *TruthResolver) Resolve(ctx context.Context, anchorKey string) (*Resolution, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "testgen.brain.truth"})

	anchor, err := r.fetch(ctx, anchorKey)
	if err != nil {
		return nil, &ResolutionError{Key: anchorKey, Role: "anchor", Err: err}
	}

	res := &Resolution{
		Anchor: anchor,
		Truth:  []model.TruthSource{truthFrom(anchor)},
	}

	var (
		deps  []model.TruthSource
		chain []*model.Issue
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		deps = r.resolveDependencies(gctx, anchor)
		return nil
	})
	g.Go(func() error {
		var err error
		chain, err = r.resolveEpicChain(gctx, anchor)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for _, d := range deps {
		res.Truth = append(res.Truth, d)
		res.DependencyKeys = append(res.DependencyKeys, d.Key)
	}
	for _, epic := range chain {
		res.EpicChain = append(res.EpicChain, epic.Key)
	}
	res.Epic = chain[0]
	res.AnchorEpic = chain[len(chain)-1]

	slog.InfoContext(ctx, "truth resolved",
		"truth_sources", len(res.Truth),
		"dependencies", res.DependencyKeys,
		"epic_chain", res.EpicChain)

	return res, nil
}

// resolveDependencies is a bounded breadth-first walk over dependency links.
// Dependencies that fail to load are skipped.
func (r *TruthResolver) resolveDependencies(ctx context.Context, anchor *model.Issue) []model.TruthSource {
	var out []model.TruthSource
	visited := map[string]bool{anchor.Key: true}
	frontier := anchor.LinkedKeys(r.cfg.DependencyRelations)

	for depth := 1; depth <= r.cfg.TruthDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, key := range frontier {
			if visited[key] {
				continue
			}
			visited[key] = true

			if len(out)+1 >= r.cfg.MaxTruthIssues {
				slog.WarnContext(ctx, "truth source cap reached, skipping remaining dependencies",
					"max_truth_issues", r.cfg.MaxTruthIssues,
					"skipped_from", key)
				return out
			}

			issue, err := r.fetch(ctx, key)
			if err != nil {
				slog.WarnContext(ctx, "dependency could not be resolved, skipping",
					"key", key,
					"error", err)
				continue
			}

			out = append(out, truthFrom(issue))
			next = append(next, issue.LinkedKeys(r.cfg.DependencyRelations)...)
		}
		frontier = next
	}

	return out
}

// resolveEpicChain returns the anchor's epic followed by up to EpicDepth
// parent epics. Parent links are read from the epic already fetched, so
// each epic is loaded once.
func (r *TruthResolver) resolveEpicChain(ctx context.Context, anchor *model.Issue) ([]*model.Issue, error) {
	if anchor.EpicKey == "" {
		return nil, &ResolutionError{Key: anchor.Key, Role: "epic", Err: errNoEpic}
	}

	epic, err := r.fetch(ctx, anchor.EpicKey)
	if err != nil {
		return nil, &ResolutionError{Key: anchor.EpicKey, Role: "epic", Err: err}
	}

	chain := []*model.Issue{epic}
	visited := map[string]bool{anchor.Key: true, epic.Key: true}
	top := epic

	for hop := 0; hop < r.cfg.EpicDepth; hop++ {
		parentKey := ""
		for _, k := range top.LinkedKeys(r.cfg.ParentEpicRelations) {
			if !visited[k] {
				parentKey = k
				break
			}
		}
		if parentKey == "" {
			break
		}
		visited[parentKey] = true

		parent, err := r.fetch(ctx, parentKey)
		if err != nil {
			slog.WarnContext(ctx, "parent epic could not be resolved, stopping climb", "epic", parentKey, "error", err)
			break
		}
		chain = append(chain, parent)
		top = parent
	}

	return chain, nil
}

func (r *TruthResolver) fetch(ctx context.Context, key string) (*model.Issue, error) {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.FetchTimeout)
	defer cancel()

	issue, err := r.issues.GetIssue(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", key, err)
	}
	return issue, nil
}

func truthFrom(issue *model.Issue) model.TruthSource {
	return model.TruthSource{
		Key:     issue.Key,
		Summary: issue.Summary,
		Text:    issue.Text(),
	}
}
