package model

import "strings"

// LinkType is the relation carried by a tracker link. Jira exposes a name plus
// an inward and outward phrasing; GitLab only has a name.
type LinkType struct {
	Name    string `json:"name"`
	Inward  string `json:"inward,omitempty"`
	Outward string `json:"outward,omitempty"`
}

// Matches reports whether any of relations names this link type. Relations are
// compared case-insensitively against the name and both phrasings.
func (t LinkType) Matches(relations []string) bool {
	candidates := [...]string{
		strings.ToLower(strings.TrimSpace(t.Name)),
		strings.ToLower(strings.TrimSpace(t.Inward)),
		strings.ToLower(strings.TrimSpace(t.Outward)),
	}
	for _, rel := range relations {
		rel = strings.ToLower(strings.TrimSpace(rel))
		if rel == "" {
			continue
		}
		for _, c := range candidates {
			if c == rel {
				return true
			}
		}
	}
	return false
}

type IssueLink struct {
	Type      LinkType `json:"type"`
	TargetKey string   `json:"target_key"`
}

// Issue is an immutable snapshot of a tracker issue.
type Issue struct {
	Key         string      `json:"key"`
	Summary     string      `json:"summary"`
	Description string      `json:"description"`
	Links       []IssueLink `json:"links,omitempty"`
	EpicKey     string      `json:"epic_key,omitempty"` // epic the issue belongs to, if any
	DocRef      string      `json:"doc_ref,omitempty"`  // documentation reference, usually set on epics
}

// LinkedKeys returns the targets of links matching relations, deduplicated in
// link order.
func (i *Issue) LinkedKeys(relations []string) []string {
	var keys []string
	seen := make(map[string]bool)
	for _, l := range i.Links {
		if l.TargetKey == "" || l.TargetKey == i.Key || seen[l.TargetKey] {
			continue
		}
		if l.Type.Matches(relations) {
			seen[l.TargetKey] = true
			keys = append(keys, l.TargetKey)
		}
	}
	return keys
}

// Text is the issue rendered as a single requirement text block.
func (i *Issue) Text() string {
	summary := strings.TrimSpace(i.Summary)
	desc := strings.TrimSpace(i.Description)
	switch {
	case summary == "":
		return desc
	case desc == "":
		return summary
	default:
		return summary + "\n\n" + desc
	}
}
