package publisher

import (
	"fmt"
	"strings"

	"basegraph.app/testgen/internal/model"
)

type AutomationLabel string

const (
	AutomationHigh      AutomationLabel = "High"
	AutomationLow       AutomationLabel = "Low"
	AutomationDiscarded AutomationLabel = "Discarded"
)

const minAutomationCodeChars = 600

var (
	placeholderTokens = []string{
		"todo", "...", "placeholder", "selenium_code_for_", "appium_code_for_",
		"lorem", "tbd", "por completar",
	}
	fakeEndpointTokens = []string{
		"example.com", "http://example", "https://example",
		"bearer token", "your_token", "insert_token", "changeme",
		"mib.example", "api.example", "testapplication.com",
	}
	mutatingCallTokens = []string{
		"requests.post", "requests.put", "requests.patch", "requests.delete",
		".post(", ".put(", ".patch(", ".delete(",
	}
	backofficeTokens = []string{
		"mib", "backoffice", "cms", "configur", "parametr",
		"feature flag", "toggle", "habilitar", "deshabilitar",
	}
	waitTokens   = []string{"webdriverwait", "expected_conditions", "wait.until"}
	assertTokens = []string{"assert", "expect"}
)

// Automation grades a scenario's automation proposal. UI proposals that pass
// the quality gate are High, read-only API proposals are Low, everything else
// is Discarded. The returned reason explains a Discarded label.
func Automation(s model.Scenario) (AutomationLabel, string) {
	if !s.AutomationCandidate {
		return AutomationDiscarded, "not an automation candidate"
	}
	if reason := rejectAutomation(s); reason != "" {
		return AutomationDiscarded, reason
	}
	if automationType(s) == "api" {
		return AutomationLow, ""
	}
	return AutomationHigh, ""
}

func automationType(s model.Scenario) string {
	t := strings.ToLower(strings.TrimSpace(s.AutomationType))
	if t == "" {
		return "none"
	}
	return t
}

func rejectAutomation(s model.Scenario) string {
	kind := automationType(s)
	code := strings.TrimSpace(s.AutomationCode)
	low := strings.ToLower(code)
	desc := strings.ToLower(s.Description)

	switch {
	case kind != "selenium" && kind != "appium" && kind != "api":
		return fmt.Sprintf("unsupported automation type %q", kind)
	case code == "":
		return "no automation code"
	case containsAny(low, placeholderTokens):
		return "automation code contains placeholders"
	case containsAny(low, fakeEndpointTokens):
		return "automation code uses example endpoints or credentials"
	case containsAny(strings.ToLower(s.Title)+" "+desc, backofficeTokens):
		return "scenario targets backoffice or configuration"
	case kind == "api" && containsAny(low, mutatingCallTokens):
		return "api automation mutates state"
	case len(code) < minAutomationCodeChars:
		return fmt.Sprintf("automation code shorter than %d chars", minAutomationCodeChars)
	case !containsAny(low, assertTokens):
		return "automation code has no assertions"
	}

	if kind == "selenium" || kind == "appium" {
		if !containsAny(low, waitTokens) {
			return "ui automation has no explicit waits"
		}
		if containsAny(desc, []string{"misma", "igual", "same as", "equal to"}) && !strings.Contains(low, "==") {
			return "equivalence check without a comparison assertion"
		}
	}
	return ""
}

// AppendAutomationBlock adds the automation proposal to a manual description.
// Discarded proposals leave the description unchanged.
func AppendAutomationBlock(desc string, s model.Scenario, label AutomationLabel) string {
	code := strings.TrimSpace(s.AutomationCode)
	if label == AutomationDiscarded || code == "" {
		return desc
	}

	var sb strings.Builder
	sb.WriteString(desc)
	sb.WriteString("\n\nh1. Automation (proposal)\n----\n")
	fmt.Fprintf(&sb, "* Automation Candidate: %s\n", label)
	fmt.Fprintf(&sb, "* Recommended type: %s\n", automationType(s))
	sb.WriteString("* Note: informative only. The manual test case remains the executable reference.\n\n")
	sb.WriteString("{code:python}\n")
	sb.WriteString(code)
	sb.WriteString("\n{code}")
	return sb.String()
}

func containsAny(s string, tokens []string) bool {
	for _, t := range tokens {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
