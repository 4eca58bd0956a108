package generation

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"basegraph.app/testgen/common"
	"basegraph.app/testgen/common/llm"
	"basegraph.app/testgen/common/logger"
	"basegraph.app/testgen/internal/model"
)

type Config struct {
	MaxTokens   int
	Temperature float64
	Language    string
	DebugDir    string // raw responses are dumped here when set
}

type inventoryEntry struct {
	ID          int    `json:"id" jsonschema:"required,description=Sequential id starting at 1"`
	Description string `json:"description" jsonschema:"required,description=One atomic observable requirement check"`
}

type scenarioEntry struct {
	InventoryID          int    `json:"inventory_id" jsonschema:"required,description=Id of the inventory item this scenario covers"`
	MainFunction         string `json:"main_function" jsonschema:"required,description=Short name of the feature area under test"`
	TestTitle            string `json:"test_title" jsonschema:"required"`
	Scope                string `json:"scope" jsonschema:"required,enum=System,enum=E2E"`
	FormattedDescription string `json:"formatted_description" jsonschema:"required,description=Test case body using the h1. section layout"`
	AutomationCandidate  bool   `json:"automation_candidate" jsonschema:"required"`
	AutomationType       string `json:"automation_type" jsonschema:"required,enum=selenium,enum=appium,enum=api,enum=none"`
	AutomationCode       string `json:"automation_code" jsonschema:"required,description=Complete runnable automation code or empty"`
}

type fullResult struct {
	Inventory []inventoryEntry `json:"inventory" jsonschema:"required"`
	Scenarios []scenarioEntry  `json:"scenarios" jsonschema:"required"`
}

type completionResult struct {
	Scenarios []scenarioEntry `json:"scenarios" jsonschema:"required"`
}

type llmService struct {
	client llm.Client
	cfg    Config
}

func NewLLMService(client llm.Client, cfg Config) Service {
	if cfg.Language == "" {
		cfg.Language = "English"
	}
	return &llmService{client: client, cfg: cfg}
}

func (s *llmService) Generate(ctx context.Context, req Request) (*Response, error) {
	switch req.Mode {
	case ModeFull:
		return s.generateFull(ctx, req)
	case ModeCompletion:
		return s.generateCompletion(ctx, req)
	default:
		return nil, fmt.Errorf("unknown generation mode %q", req.Mode)
	}
}

func (s *llmService) generateFull(ctx context.Context, req Request) (*Response, error) {
	var result fullResult
	resp, err := s.client.Chat(ctx, llm.Request{
		SystemPrompt: fmt.Sprintf(fullSystemPrompt, s.cfg.Language),
		UserPrompt:   buildFullPrompt(req.Payload),
		SchemaName:   "inventory_and_scenarios",
		Schema:       llm.GenerateSchema[fullResult](),
		MaxTokens:    s.cfg.MaxTokens,
		Temperature:  llm.Temp(s.cfg.Temperature),
	}, &result)
	s.dump(ctx, req.AnchorKey, "initial", resp)
	if err != nil {
		return nil, classifyError(err)
	}

	inventory := make([]model.InventoryItem, 0, len(result.Inventory))
	for _, e := range result.Inventory {
		inventory = append(inventory, model.InventoryItem{ID: e.ID, Description: strings.TrimSpace(e.Description)})
	}

	slog.InfoContext(ctx, "initial generation received",
		"inventory", len(inventory),
		"scenarios", len(result.Scenarios),
		"prompt_tokens", promptTokens(resp))

	return &Response{Inventory: inventory, Scenarios: toScenarios(result.Scenarios)}, nil
}

func (s *llmService) generateCompletion(ctx context.Context, req Request) (*Response, error) {
	if len(req.MissingIDs) == 0 {
		return &Response{}, nil
	}

	var result completionResult
	resp, err := s.client.Chat(ctx, llm.Request{
		SystemPrompt: fmt.Sprintf(completionSystemPrompt, s.cfg.Language),
		UserPrompt:   buildCompletionPrompt(req),
		SchemaName:   "missing_scenarios",
		Schema:       llm.GenerateSchema[completionResult](),
		MaxTokens:    s.cfg.MaxTokens,
		Temperature:  llm.Temp(s.cfg.Temperature),
	}, &result)
	s.dump(ctx, req.AnchorKey, fmt.Sprintf("missing-attempt-%d", req.Round), resp)
	if err != nil {
		return nil, classifyError(err)
	}

	slog.InfoContext(ctx, "completion generation received",
		"requested", len(req.MissingIDs),
		"scenarios", len(result.Scenarios),
		"prompt_tokens", promptTokens(resp))

	return &Response{Scenarios: toScenarios(result.Scenarios)}, nil
}

func toScenarios(entries []scenarioEntry) []model.Scenario {
	out := make([]model.Scenario, 0, len(entries))
	for _, e := range entries {
		classification, ok := model.ParseClassification(e.Scope)
		if !ok {
			classification = model.Classification(strings.TrimSpace(e.Scope))
		}
		out = append(out, model.Scenario{
			InventoryID:         e.InventoryID,
			Title:               strings.TrimSpace(e.TestTitle),
			MainFunction:        strings.TrimSpace(e.MainFunction),
			Classification:      classification,
			Description:         strings.TrimSpace(e.FormattedDescription),
			AutomationCandidate: e.AutomationCandidate,
			AutomationType:      strings.ToLower(strings.TrimSpace(e.AutomationType)),
			AutomationCode:      e.AutomationCode,
		})
	}
	return out
}

func (s *llmService) dump(ctx context.Context, anchorKey, suffix string, resp *llm.Response) {
	if s.cfg.DebugDir == "" || resp == nil || resp.Raw == "" {
		return
	}

	if err := os.MkdirAll(s.cfg.DebugDir, 0o755); err != nil {
		slog.WarnContext(ctx, "failed to create debug dir", "dir", s.cfg.DebugDir, "error", err)
		return
	}

	filename := filepath.Join(s.cfg.DebugDir, common.DumpFileName(anchorKey, suffix, time.Now()))
	if err := os.WriteFile(filename, []byte(resp.Raw), 0o644); err != nil {
		slog.WarnContext(ctx, "failed to write raw response", "file", filename, "error", err)
		return
	}
	slog.DebugContext(ctx, "raw response written", "file", filename, "preview", logger.Truncate(resp.Raw, 200))
}

func promptTokens(resp *llm.Response) int {
	if resp == nil {
		return 0
	}
	return resp.PromptTokens
}

// RenderPayload renders truth and supporting context as prompt sections.
func RenderPayload(p model.Payload) string {
	var sb strings.Builder

	sb.WriteString("### TRUTH SOURCES\n")
	for _, t := range p.Truth {
		fmt.Fprintf(&sb, "\n[%s] %s\n%s\n", t.Key, t.Summary, t.Text)
	}

	writeTier := func(heading string, tiers ...model.Tier) {
		first := true
		for _, b := range p.Context {
			if !containsTier(tiers, b.Tier) {
				continue
			}
			if first {
				fmt.Fprintf(&sb, "\n### %s\n", heading)
				first = false
			}
			title := b.Source
			if b.Title != "" {
				title += " " + b.Title
			}
			fmt.Fprintf(&sb, "\n[%s]\n%s\n", title, b.Text)
		}
	}
	writeTier("SUPPORTING CONTEXT", model.TierMentionedIssue, model.TierDocument)
	writeTier("EPIC DOCUMENTATION", model.TierHierarchyDoc)

	return sb.String()
}

func containsTier(tiers []model.Tier, t model.Tier) bool {
	for _, x := range tiers {
		if x == t {
			return true
		}
	}
	return false
}

func buildFullPrompt(p model.Payload) string {
	var sb strings.Builder
	sb.WriteString(fullTaskPrompt)
	sb.WriteString("\n")
	sb.WriteString(RenderPayload(p))
	return sb.String()
}

func buildCompletionPrompt(req Request) string {
	ids := make([]string, len(req.MissingIDs))
	for i, id := range req.MissingIDs {
		ids[i] = strconv.Itoa(id)
	}

	var sb strings.Builder
	sb.WriteString("Complete the missing test scenarios for this requirement inventory.\n\n")
	sb.WriteString("### INVENTORY (reference)\n")
	for _, item := range req.Inventory {
		fmt.Fprintf(&sb, "%d. %s\n", item.ID, item.Description)
	}
	sb.WriteString("\n### CONTEXT (compact)\n")
	sb.WriteString(RenderPayload(req.Payload))
	fmt.Fprintf(&sb, "\nReturn scenarios ONLY for inventory_id in: %s\n", strings.Join(ids, ", "))
	sb.WriteString("- Each listed inventory_id must appear exactly once.\n")
	sb.WriteString("- Do not return any inventory_id outside the list.\n")
	return sb.String()
}

const fullSystemPrompt = `You are a senior QA engineer turning a user story into test scenarios.

Return JSON only, matching the schema:
- "inventory": every atomic, observable requirement check found in the TRUTH SOURCES, numbered 1..N without gaps.
- "scenarios": one scenario per inventory item, inventory_id referencing that item.

Scope rules:
- scope "E2E" when the check involves user-visible UI or a flow across systems.
- scope "System" when the check is data or backend behaviour inside one system.

formatted_description layout (no tables):
h1. Test short description
h1. Pre-requisites (bullets starting with "* ")
h1. Test Data (bullets starting with "* ")
h1. Steps & Expected Results (one line per step: "# Action: <action> | Expected: <result>")
h1. Notes and Special Considerations (bullets starting with "* ")

Automation fields are mandatory. When automation_candidate is true, automation_type is not "none" and automation_code is complete runnable code with imports, setup, waits, assertions and teardown. Never use placeholders.

Write all text in %s.`

const completionSystemPrompt = `You are a senior QA engineer completing missing test scenarios.

The requirement inventory is fixed. Do not add, renumber or drop inventory items.
Return JSON only, matching the schema, with one scenario per requested inventory_id and no other ids.
Use the same scope rules, formatted_description layout and automation rules as the initial generation:
scope "E2E" for user-visible or cross-system flows, "System" otherwise; steps as "# Action: <action> | Expected: <result>".

Write all text in %s.`

const fullTaskPrompt = `### TASK
Analyse every sentence of the TRUTH SOURCES together with the supporting context.
1. Build the complete inventory of parameters, flows and configuration to verify.
2. Generate one scenario per inventory item. Do not skip any item.
3. The mapping between inventory and scenarios must be exactly 1:1.
Supporting context explains the truth sources; it never adds requirements of its own.
`
