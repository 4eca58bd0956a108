package model

import "strings"

// InventoryItem is one atomic, observable requirement check. IDs are 1..N.
type InventoryItem struct {
	ID          int    `json:"id"`
	Description string `json:"description"`
}

type Classification string

const (
	ClassificationSystem Classification = "System"
	ClassificationE2E    Classification = "E2E"
)

// ParseClassification normalizes a scope label. "End2End" is accepted as E2E.
func ParseClassification(s string) (Classification, bool) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", "")) {
	case "system":
		return ClassificationSystem, true
	case "e2e", "end2end", "end-to-end", "endtoend":
		return ClassificationE2E, true
	default:
		return "", false
	}
}

type Scenario struct {
	InventoryID         int            `json:"inventory_id"`
	Title               string         `json:"title"`
	MainFunction        string         `json:"main_function"`
	Classification      Classification `json:"classification"`
	Description         string         `json:"description"`
	AutomationCandidate bool           `json:"automation_candidate"`
	AutomationType      string         `json:"automation_type,omitempty"`
	AutomationCode      string         `json:"automation_code,omitempty"`
}

// MissingFields lists the required fields that are empty.
func (s Scenario) MissingFields() []string {
	var missing []string
	if strings.TrimSpace(s.Title) == "" {
		missing = append(missing, "title")
	}
	if strings.TrimSpace(s.MainFunction) == "" {
		missing = append(missing, "main_function")
	}
	if strings.TrimSpace(s.Description) == "" {
		missing = append(missing, "description")
	}
	return missing
}
