package common

import (
	"regexp"
	"strings"
)

var (
	issueKeyPattern = regexp.MustCompile(`\b[A-Z][A-Z0-9]+-\d+\b`)
	docRefPattern   = regexp.MustCompile(`https?://[^\s\]\)\|,>"']+|\bwiki:[\w\-/]+`)
)

// IssueKeys returns tracker keys mentioned in text, deduplicated in order of
// first appearance.
func IssueKeys(text string) []string {
	return uniqueMatches(issueKeyPattern, text, nil)
}

// DocRefs returns URLs and wiki references mentioned in text, deduplicated in
// order of first appearance, with trailing punctuation removed.
func DocRefs(text string) []string {
	return uniqueMatches(docRefPattern, text, func(s string) string {
		return strings.TrimRight(s, ".;:!?")
	})
}

func uniqueMatches(re *regexp.Regexp, text string, clean func(string) string) []string {
	var out []string
	seen := make(map[string]bool)
	for _, m := range re.FindAllString(text, -1) {
		if clean != nil {
			m = clean(m)
		}
		if m == "" || seen[m] {
			continue
		}
		seen[m] = true
		out = append(out, m)
	}
	return out
}
