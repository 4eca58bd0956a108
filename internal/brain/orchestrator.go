package brain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"basegraph.app/testgen/common"
	"basegraph.app/testgen/common/id"
	"basegraph.app/testgen/common/logger"
	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/docs"
	"basegraph.app/testgen/internal/generation"
	"basegraph.app/testgen/internal/model"
	"basegraph.app/testgen/internal/tracker"
	"go.opentelemetry.io/otel/attribute"
)

type Dependencies struct {
	Issues     tracker.IssueStore
	Documents  docs.DocumentStore
	Generation generation.Service
	Renderer   TestCaseRenderer
	Sleep      Sleeper // nil sleeps for real
}

type RunRequest struct {
	AnchorKey     string
	TargetProject string // project key or issue key; empty uses the anchor's project
	DryRun        bool   // stop after the gate, write nothing
}

// Provenance records where a run's inputs came from and what the retry and
// budget policies did with them.
type Provenance struct {
	RunID            int64             `json:"run_id"`
	TruthKeys        []string          `json:"truth_keys"`
	DependencyKeys   []string          `json:"dependency_keys,omitempty"`
	ReferencedIssues []string          `json:"referenced_issues,omitempty"`
	Documents        []string          `json:"documents,omitempty"`
	Skipped          []string          `json:"skipped,omitempty"`
	AnchorEpic       string            `json:"anchor_epic,omitempty"`
	EpicChain        []string          `json:"epic_chain,omitempty"`
	Budget           BudgetReport      `json:"budget"`
	HardClipped      bool              `json:"hard_clipped"`
	Calls            CallStats         `json:"calls"`
	InventorySize    int               `json:"inventory_size"`
	CompletionRounds int               `json:"completion_rounds"`
	Violations       []model.Violation `json:"violations,omitempty"`
}

type RunResult struct {
	Outcome    Outcome             `json:"outcome"`
	Provenance Provenance          `json:"provenance"`
	Plan       *model.CoveragePlan `json:"plan,omitempty"`
	Release    *Release            `json:"release,omitempty"`
	Published  []PublishedCase     `json:"published,omitempty"`
	Duration   time.Duration       `json:"duration"`
}

// Orchestrator runs one pipeline per anchor story:
// resolve truth, assemble context, allocate budget, reach coverage, publish.
type Orchestrator struct {
	truth     *TruthResolver
	assembler *ContextAssembler
	allocator *TokenBudgetAllocator
	coverage  *CoverageEngine
	gate      *PublishGate
}

func NewOrchestrator(deps Dependencies, cfg config.EngineConfig) *Orchestrator {
	allocator := NewTokenBudgetAllocator(cfg)
	degrader := NewContextDegrader(cfg)
	return &Orchestrator{
		truth:     NewTruthResolver(deps.Issues, cfg),
		assembler: NewContextAssembler(deps.Issues, deps.Documents, cfg),
		allocator: allocator,
		coverage:  NewCoverageEngine(deps.Generation, allocator, degrader, cfg, deps.Sleep),
		gate:      NewPublishGate(deps.Issues, deps.Renderer, cfg),
	}
}

// Run always returns a result; its Outcome matches Classify(err).
func (o *Orchestrator) Run(ctx context.Context, req RunRequest) (*RunResult, error) {
	start := time.Now()
	runID := id.New()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RunID:     logger.Ptr(runID),
		AnchorKey: logger.Ptr(req.AnchorKey),
		Component: "testgen.brain.orchestrator",
	})

	sc := logger.StartSpan(ctx, "brain.run")
	defer sc.End()
	ctx = sc.Context()
	sc.SetAttributes(
		attribute.String("anchor_key", req.AnchorKey),
		attribute.Int64("run_id", runID),
		attribute.Bool("dry_run", req.DryRun),
	)

	result := &RunResult{Provenance: Provenance{RunID: runID}}
	err := o.run(ctx, req, result)

	result.Outcome = Classify(err)
	result.Duration = time.Since(start)
	sc.SetAttributes(attribute.String("outcome", string(result.Outcome)))

	if err != nil {
		sc.RecordError(err)
		slog.ErrorContext(ctx, "run failed",
			"outcome", result.Outcome,
			"exit_code", result.Outcome.ExitCode(),
			"error", err,
			"duration_ms", result.Duration.Milliseconds())
		return result, err
	}

	slog.InfoContext(ctx, "run completed",
		"outcome", result.Outcome,
		"inventory_size", result.Provenance.InventorySize,
		"published", len(result.Published),
		"dry_run", req.DryRun,
		"duration_ms", result.Duration.Milliseconds())
	return result, nil
}

func (o *Orchestrator) run(ctx context.Context, req RunRequest, result *RunResult) error {
	prov := &result.Provenance

	res, err := o.resolve(ctx, req.AnchorKey)
	if err != nil {
		return err
	}
	for _, t := range res.Truth {
		prov.TruthKeys = append(prov.TruthKeys, t.Key)
	}
	prov.DependencyKeys = res.DependencyKeys
	prov.EpicChain = res.EpicChain
	prov.AnchorEpic = res.AnchorEpic.Key

	assembly, err := o.assemble(ctx, res)
	if err != nil {
		return err
	}
	prov.ReferencedIssues = assembly.ReferencedIssues
	prov.Documents = assembly.Documents
	prov.Skipped = assembly.Skipped

	payload, report := o.allocator.Allocate(ctx, res.Truth, assembly.Blocks)
	prov.Budget = report
	slog.InfoContext(ctx, "budget allocated",
		"truth_tokens", report.TruthTokens,
		"payload_tokens", payload.Tokens(),
		"context_blocks", len(payload.Context))

	cov, err := o.cover(ctx, req.AnchorKey, payload)
	if cov != nil {
		result.Plan = cov.Plan
		prov.Calls = cov.Stats
		prov.HardClipped = cov.Payload.HardClipped()
		prov.InventorySize = cov.Plan.N()
		prov.CompletionRounds = cov.Plan.Attempts
		prov.Violations = cov.Plan.Violations
	}
	if err != nil {
		return err
	}

	release, err := o.gate.Admit(cov.Plan, res)
	if err != nil {
		return err
	}
	result.Release = release

	if req.DryRun {
		slog.InfoContext(ctx, "dry run, skipping publish", "test_cases", len(release.Items))
		return nil
	}

	project := req.TargetProject
	if project == "" {
		project = req.AnchorKey
	}
	project = ProjectFromKey(project)

	sc := logger.StartSpan(ctx, "brain.publish")
	defer sc.End()
	published, err := o.gate.Publish(sc.Context(), release, project)
	result.Published = published
	if err != nil {
		sc.RecordError(err)
		return fmt.Errorf("publish: %w", err)
	}
	return nil
}

func (o *Orchestrator) resolve(ctx context.Context, key string) (*Resolution, error) {
	sc := logger.StartSpan(ctx, "brain.resolve_truth")
	defer sc.End()
	res, err := o.truth.Resolve(sc.Context(), key)
	if err != nil {
		sc.RecordError(err)
		return nil, err
	}
	sc.SetAttributes(attribute.Int("truth_sources", len(res.Truth)))
	return res, nil
}

func (o *Orchestrator) assemble(ctx context.Context, res *Resolution) (*Assembly, error) {
	sc := logger.StartSpan(ctx, "brain.assemble_context")
	defer sc.End()
	a, err := o.assembler.Assemble(sc.Context(), res)
	if err != nil {
		sc.RecordError(err)
		return nil, fmt.Errorf("assemble context: %w", err)
	}
	sc.SetAttributes(attribute.Int("context_blocks", len(a.Blocks)))
	return a, nil
}

func (o *Orchestrator) cover(ctx context.Context, key string, payload model.Payload) (*CoverageResult, error) {
	sc := logger.StartSpan(ctx, "brain.coverage")
	defer sc.End()
	cov, err := o.coverage.Run(sc.Context(), key, payload)
	if err != nil {
		sc.RecordError(err)
	}
	if cov != nil {
		sc.SetAttributes(
			attribute.String("coverage_state", string(cov.Plan.State)),
			attribute.Int("generation_calls", cov.Plan.GenerationCalls),
		)
	}
	return cov, err
}

// ProjectFromKey returns "SHOP" for "SHOP-12". Anything that is not an
// issue key is returned unchanged.
func ProjectFromKey(key string) string {
	keys := common.IssueKeys(key)
	if len(keys) != 1 || keys[0] != key {
		return key
	}
	for i := len(key) - 1; i >= 0; i-- {
		if key[i] == '-' {
			return key[:i]
		}
	}
	return key
}
