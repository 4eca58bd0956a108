package brain

import (
	"context"
	"fmt"
	"log/slog"

	"basegraph.app/testgen/common/logger"
	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/model"
	"basegraph.app/testgen/internal/tracker"
)

// TestCaseRenderer turns an accepted scenario into tracker fields.
type TestCaseRenderer interface {
	Render(s model.Scenario, project string) model.TestCaseFields
}

type ReleaseItem struct {
	Scenario model.Scenario          `json:"scenario"`
	Links    []model.LinkInstruction `json:"links"`
}

// Release is a fully covered plan that passed the gate. Only Admit creates
// one that Publish accepts.
type Release struct {
	AnchorKey     string        `json:"anchor_key"`
	AnchorEpicKey string        `json:"anchor_epic_key"`
	Items         []ReleaseItem `json:"items"`

	admitted bool
}

type PublishedCase struct {
	InventoryID int      `json:"inventory_id"`
	Key         string   `json:"key"`
	LinkedTo    []string `json:"linked_to"`
}

// PublishGate is the only path to tracker writes.
type PublishGate struct {
	issues   tracker.IssueStore
	renderer TestCaseRenderer
	cfg      config.EngineConfig
}

func NewPublishGate(issues tracker.IssueStore, renderer TestCaseRenderer, cfg config.EngineConfig) *PublishGate {
	return &PublishGate{issues: issues, renderer: renderer, cfg: cfg}
}

// Admit opens the gate only for a plan in full coverage with one scenario
// per inventory id. System scenarios link to the story, E2E scenarios to the
// anchor epic and the story.
func (g *PublishGate) Admit(plan *model.CoveragePlan, res *Resolution) (*Release, error) {
	if plan.State != model.CoverageFull {
		return nil, &IncompleteCoverageError{Missing: plan.Missing(), Attempts: plan.Attempts}
	}

	scenarios := plan.Scenarios()
	if len(scenarios) != plan.N() {
		return nil, &IncompleteCoverageError{Missing: plan.Missing(), Attempts: plan.Attempts}
	}

	rel := &Release{AnchorKey: res.Anchor.Key, admitted: true}
	if res.AnchorEpic != nil {
		rel.AnchorEpicKey = res.AnchorEpic.Key
	}

	for _, s := range scenarios {
		var links []model.LinkInstruction
		if s.Classification == model.ClassificationE2E {
			if rel.AnchorEpicKey == "" {
				return nil, &ResolutionError{Key: res.Anchor.Key, Role: "epic", Err: errNoEpic}
			}
			links = append(links, model.LinkInstruction{Target: rel.AnchorEpicKey, Relation: g.cfg.TestRelation})
		}
		links = append(links, model.LinkInstruction{Target: rel.AnchorKey, Relation: g.cfg.TestRelation})
		rel.Items = append(rel.Items, ReleaseItem{Scenario: s, Links: links})
	}

	return rel, nil
}

// Publish creates one test case per release item in inventory order and
// links it. The first failure stops publishing; created cases stay.
func (g *PublishGate) Publish(ctx context.Context, rel *Release, project string) ([]PublishedCase, error) {
	if rel == nil || !rel.admitted {
		return nil, ErrNotAdmitted
	}
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "testgen.brain.gate"})

	var (
		published []PublishedCase
		created   []string
	)

	for _, item := range rel.Items {
		fields := g.renderer.Render(item.Scenario, project)
		if fields.Project == "" {
			fields.Project = project
		}

		key, err := g.issues.CreateTestCase(ctx, fields)
		if err != nil {
			return published, &PublishError{Created: created, InventoryID: item.Scenario.InventoryID, Err: err}
		}
		created = append(created, key)

		pc := PublishedCase{InventoryID: item.Scenario.InventoryID, Key: key}
		for _, link := range item.Links {
			if err := g.issues.LinkIssues(ctx, link.Target, key, link.Relation); err != nil {
				published = append(published, pc)
				return published, &PublishError{
					Created:     created,
					InventoryID: item.Scenario.InventoryID,
					Err:         fmt.Errorf("linking %s to %s: %w", key, link.Target, err),
				}
			}
			pc.LinkedTo = append(pc.LinkedTo, link.Target)
		}
		published = append(published, pc)

		slog.InfoContext(ctx, "test case published",
			"inventory_id", item.Scenario.InventoryID,
			"key", key,
			"linked_to", pc.LinkedTo)
	}

	return published, nil
}
