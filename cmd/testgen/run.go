package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"basegraph.app/testgen/common/id"
	"basegraph.app/testgen/common/logger"
	"basegraph.app/testgen/common/otel"
	"basegraph.app/testgen/core/config"
	"basegraph.app/testgen/internal/brain"
	"basegraph.app/testgen/internal/service"
)

// exitCode is the process exit status; a run sets it from its outcome.
var exitCode int

var (
	runIssue         string
	runTargetProject string
	runDryRun        bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline once for an anchor story",
	Long: `Resolves the anchor story, its dependencies and epic, assembles supporting
context, generates a fully covering scenario set and publishes it as test cases
linked back to the story. Exit codes: 0 success, 10 daily rate limit,
11 retries exhausted, 12 request too large, 20 incomplete coverage,
30 issue store error, 99 unhandled.`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringVar(&runIssue, "issue", "", "anchor story key (env MANUAL_ISSUE_KEY)")
	runCmd.Flags().StringVar(&runTargetProject, "target-project", "", "project or issue key where test cases are created (env TARGET_PROJECT)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "stop at the publish gate and print the release without writing")
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	cfg, err := config.Load(config.ServiceTypeCLI)
	if err != nil {
		exitCode = brain.OutcomeUnhandled.ExitCode()
		return fmt.Errorf("loading config: %w", err)
	}

	telemetry, err := otel.Setup(ctx, cfg.OTel)
	if err != nil {
		exitCode = brain.OutcomeUnhandled.ExitCode()
		return fmt.Errorf("initializing otel: %w", err)
	}
	if telemetry != nil {
		defer func() {
			if err := telemetry.Shutdown(ctx); err != nil {
				slog.ErrorContext(ctx, "otel shutdown error", "error", err)
			}
		}()
	}

	logger.Setup(cfg)
	if err := id.Init(id.NodeCLI); err != nil {
		exitCode = brain.OutcomeUnhandled.ExitCode()
		return fmt.Errorf("initializing id generator: %w", err)
	}

	issue := strings.TrimSpace(runIssue)
	if issue == "" {
		issue = strings.TrimSpace(os.Getenv("MANUAL_ISSUE_KEY"))
	}
	if issue == "" {
		exitCode = 2
		return fmt.Errorf("--issue or MANUAL_ISSUE_KEY is required")
	}
	target := strings.TrimSpace(runTargetProject)
	if target == "" {
		target = cfg.TargetProject
	}

	orchestrator, err := service.NewServices(cfg).Orchestrator()
	if err != nil {
		exitCode = brain.OutcomeUnhandled.ExitCode()
		return err
	}

	slog.InfoContext(ctx, "testgen run starting",
		"issue", issue,
		"target_project", target,
		"dry_run", runDryRun,
		"tracker", cfg.Tracker.Provider,
		"model", cfg.LLM.Model)

	result, runErr := orchestrator.Run(ctx, brain.RunRequest{
		AnchorKey:     issue,
		TargetProject: target,
		DryRun:        runDryRun,
	})
	exitCode = result.Outcome.ExitCode()

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		slog.ErrorContext(ctx, "failed to print run summary", "error", err)
	}

	if runErr != nil {
		return fmt.Errorf("%s: %w", result.Outcome, runErr)
	}
	return nil
}
