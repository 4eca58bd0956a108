package brain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"basegraph.app/testgen/common/logger"
	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/generation"
	"basegraph.app/testgen/internal/model"
)

// CoverageResult is what one coverage run produced. Plan is always set once
// an inventory exists.
type CoverageResult struct {
	Plan    *model.CoveragePlan
	Payload model.Payload // payload of the initial call after any degradation
	Stats   CallStats
}

// CoverageEngine drives generation until every inventory item has exactly
// one accepted scenario or the completion budget is spent.
type CoverageEngine struct {
	svc       generation.Service
	allocator *TokenBudgetAllocator
	degrader  *ContextDegrader
	cfg       config.EngineConfig
	sleep     Sleeper
}

func NewCoverageEngine(svc generation.Service, allocator *TokenBudgetAllocator, degrader *ContextDegrader, cfg config.EngineConfig, sleep Sleeper) *CoverageEngine {
	return &CoverageEngine{
		svc:       svc,
		allocator: allocator,
		degrader:  degrader,
		cfg:       cfg,
		sleep:     sleep,
	}
}

// Run issues the full generation call, freezes the inventory and then asks
// only for missing ids in batches. It returns *IncompleteCoverageError when
// MaxCompletionAttempts rounds leave ids uncovered.
func (e *CoverageEngine) Run(ctx context.Context, anchorKey string, payload model.Payload) (*CoverageResult, error) {
	ctx = logger.WithLogFields(ctx, logger.LogFields{Component: "testgen.brain.coverage"})

	caller := newGenerationCaller(e.svc, e.degrader, e.cfg, e.sleep)
	plan := model.NewCoveragePlan()
	result := &CoverageResult{Plan: plan, Payload: payload}
	defer func() { result.Stats = caller.stats }()

	resp, used, err := caller.call(ctx, generation.Request{
		Mode:      generation.ModeFull,
		AnchorKey: anchorKey,
		Payload:   payload,
	})
	result.Payload = used
	if err != nil {
		return result, fmt.Errorf("initial generation: %w", err)
	}
	plan.GenerationCalls++

	inventory, err := validateInventory(resp.Inventory)
	if err != nil {
		return result, err
	}
	if err := plan.FreezeInventory(inventory); err != nil {
		return result, err
	}
	if err := plan.Transition(model.CoverageInventoryGenerated); err != nil {
		return result, err
	}

	e.merge(ctx, plan, resp.Scenarios, nil, 0)

	slog.InfoContext(ctx, "inventory frozen",
		"inventory_size", plan.N(),
		"covered", plan.Covered(),
		"violations", len(plan.Violations))

	missing := plan.Missing()
	if len(missing) == 0 {
		return result, plan.Transition(model.CoverageFull)
	}
	if err := plan.Transition(model.CoveragePartial); err != nil {
		return result, err
	}

	compact := e.allocator.Compact(used)

	for len(missing) > 0 {
		if plan.Attempts >= e.cfg.MaxCompletionAttempts {
			if err := plan.Transition(model.CoverageMaxAttemptsExceeded); err != nil {
				return result, err
			}
			slog.WarnContext(ctx, "completion attempts exhausted",
				"attempts", plan.Attempts,
				"missing", missing)
			return result, &IncompleteCoverageError{Missing: missing, Attempts: plan.Attempts}
		}

		plan.Attempts++
		round := plan.Attempts
		batch := missing[:min(len(missing), e.cfg.CompletionBatchSize)]
		roundCtx := logger.WithLogFields(ctx, logger.LogFields{Round: logger.Ptr(round)})

		resp, next, err := caller.call(roundCtx, generation.Request{
			Mode:       generation.ModeCompletion,
			AnchorKey:  anchorKey,
			Payload:    compact,
			Inventory:  plan.Inventory,
			MissingIDs: batch,
			Round:      round,
		})
		compact = next
		switch {
		case errors.Is(err, generation.ErrMalformedResponse):
			slog.WarnContext(roundCtx, "completion response malformed, counting as empty round", "error", err)
		case err != nil:
			return result, fmt.Errorf("completion round %d: %w", round, err)
		default:
			plan.GenerationCalls++
			e.merge(roundCtx, plan, resp.Scenarios, batch, round)
		}

		missing = plan.Missing()
		slog.InfoContext(roundCtx, "completion round finished",
			"requested", batch,
			"covered", plan.Covered(),
			"missing", len(missing))

		if len(missing) == 0 {
			return result, plan.Transition(model.CoverageFull)
		}
		if err := plan.Transition(model.CoveragePartial); err != nil {
			return result, err
		}
	}

	return result, nil
}

// merge accepts the valid candidates of one response and records a
// violation for each rejected one. requested is nil for the initial call.
func (e *CoverageEngine) merge(ctx context.Context, plan *model.CoveragePlan, candidates []model.Scenario, requested []int, round int) {
	var allowed map[int]bool
	if requested != nil {
		allowed = make(map[int]bool, len(requested))
		for _, id := range requested {
			allowed[id] = true
		}
	}

	for _, s := range candidates {
		reason := rejectReason(plan, s, allowed)
		if reason == "" {
			s.Classification, _ = model.ParseClassification(string(s.Classification))
			plan.Accept(s)
			continue
		}

		plan.Reject(model.Violation{InventoryID: s.InventoryID, Round: round, Reason: reason})
		slog.WarnContext(ctx, "scenario rejected",
			"inventory_id", s.InventoryID,
			"round", round,
			"reason", reason)
	}
}

func rejectReason(plan *model.CoveragePlan, s model.Scenario, allowed map[int]bool) string {
	switch {
	case s.InventoryID < 1 || s.InventoryID > plan.N():
		return fmt.Sprintf("inventory id %d outside 1..%d", s.InventoryID, plan.N())
	case allowed != nil && !allowed[s.InventoryID]:
		return fmt.Sprintf("inventory id %d was not requested", s.InventoryID)
	case plan.IsCovered(s.InventoryID):
		return fmt.Sprintf("inventory id %d already covered", s.InventoryID)
	}
	if missing := s.MissingFields(); len(missing) > 0 {
		return "missing required fields: " + strings.Join(missing, ", ")
	}
	if _, ok := model.ParseClassification(string(s.Classification)); !ok {
		return fmt.Sprintf("invalid classification %q", s.Classification)
	}
	return ""
}

// validateInventory requires ids 1..N, each exactly once, and returns the
// items ordered by id.
func validateInventory(items []model.InventoryItem) ([]model.InventoryItem, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: empty inventory", ErrInvalidInventory)
	}

	sorted := append([]model.InventoryItem(nil), items...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	for i, item := range sorted {
		if item.ID != i+1 {
			return nil, fmt.Errorf("%w: expected id %d, got %d", ErrInvalidInventory, i+1, item.ID)
		}
		if strings.TrimSpace(item.Description) == "" {
			return nil, fmt.Errorf("%w: item %d has no description", ErrInvalidInventory, item.ID)
		}
	}
	return sorted, nil
}
