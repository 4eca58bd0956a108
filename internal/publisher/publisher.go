// Package publisher renders accepted scenarios into tracker test case fields.
package publisher

import (
	"fmt"
	"strings"

	"basegraph.app/testgen/internal/model"
)

const (
	scopeSystem  = "System"
	scopeEnd2End = "End2End"
)

type Config struct {
	IssueType     string   // tracker issue type for created test cases
	ExecutionMode string   // defaults to "Manual"
	Labels        []string // added to every created test case
}

// Renderer implements brain.TestCaseRenderer.
type Renderer struct {
	cfg Config
}

func New(cfg Config) *Renderer {
	if cfg.ExecutionMode == "" {
		cfg.ExecutionMode = "Manual"
	}
	return &Renderer{cfg: cfg}
}

func (r *Renderer) Render(s model.Scenario, project string) model.TestCaseFields {
	label, _ := Automation(s)

	desc := CorporateTemplate(s.Description)
	desc = AppendAutomationBlock(desc, s, label)

	return model.TestCaseFields{
		Project:             project,
		IssueType:           r.cfg.IssueType,
		Summary:             Summary(s, r.cfg.ExecutionMode),
		Description:         desc,
		TestScope:           TestScope(s.Classification),
		ExecutionMode:       r.cfg.ExecutionMode,
		AutomationCandidate: string(label),
		Labels:              append([]string(nil), r.cfg.Labels...),
	}
}

// Summary renders "[<main function>] <title> - <mode>".
func Summary(s model.Scenario, mode string) string {
	mf := strings.TrimSpace(s.MainFunction)
	if mf == "" {
		mf = "QA"
	}
	return fmt.Sprintf("[%s] %s - %s", mf, strings.TrimSpace(s.Title), mode)
}

// TestScope maps a classification to the tracker's scope value.
func TestScope(c model.Classification) string {
	if c == model.ClassificationE2E {
		return scopeEnd2End
	}
	return scopeSystem
}
