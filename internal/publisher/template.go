package publisher

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	sectionShort = "Test short description"
	sectionPre   = "Pre-requisites"
	sectionData  = "Test Data"
	sectionSteps = "Steps & Expected Results"
	sectionNotes = "Notes and Special Considerations"
	sectionDrop  = "-"
)

// sectionAliases maps normalized h1 titles, English and Spanish, onto the
// corporate sections. sectionDrop discards the section.
var sectionAliases = map[string]string{
	"test short description":             sectionShort,
	"breve descripción del test":         sectionShort,
	"pre-requisites":                     sectionPre,
	"pre-requisitos":                     sectionPre,
	"test data":                          sectionData,
	"datos de prueba":                    sectionData,
	"steps & expected results":           sectionSteps,
	"pasos y resultados esperados":       sectionSteps,
	"notes and special considerations":   sectionNotes,
	"notas y consideraciones especiales": sectionNotes,
	"references (external to jira)":      sectionDrop,
	"referencias (externas a jira)":      sectionDrop,
}

var (
	h1Line     = regexp.MustCompile(`(?m)^[ \t]*h1\.[ \t]*(.+?)[ \t]*$`)
	separator  = regexp.MustCompile(`(?m)^[ \t]*----[ \t]*$`)
	bulletLine = regexp.MustCompile(`(?m)^[ \t]*\*[ \t]+(.*)$`)
	stepLine   = regexp.MustCompile(`(?mi)^[ \t]*#[ \t]*(?:action|acción|accion)[ \t]*:[ \t]*(.*?)[ \t]*\|[ \t]*(?:expected|esperado)[ \t]*:[ \t]*(.*?)[ \t]*$`)
	extraLines = regexp.MustCompile(`\n{3,}`)
	spaces     = regexp.MustCompile(`\s+`)
)

type section struct {
	title string
	body  string
}

type step struct {
	action   string
	expected string
}

// CorporateTemplate rewrites a scenario description in Jira wiki markup into
// the fixed corporate layout: short description, then pre-requisites, test
// data, steps and notes as ID tables. Unknown sections are kept at the end.
func CorporateTemplate(desc string) string {
	desc = normalizeMarkup(desc)
	if desc == "" {
		return ""
	}

	var (
		short  string
		pre    []string
		data   []string
		steps  []step
		notes  []string
		extras []section
	)

	for _, sec := range splitSections(desc) {
		switch sectionAliases[normalizeTitle(sec.title)] {
		case sectionDrop:
		case sectionShort:
			if bullets := bullets(sec.body); len(bullets) > 0 {
				short = strings.Join(bullets, " ")
			} else {
				short = sec.body
			}
		case sectionPre:
			pre = append(pre, items(sec.body)...)
		case sectionData:
			data = append(data, items(sec.body)...)
		case sectionSteps:
			if s := parseSteps(sec.body); len(s) > 0 {
				steps = append(steps, s...)
			} else {
				extras = append(extras, section{title: sectionSteps + " (raw)", body: sec.body})
			}
		case sectionNotes:
			notes = append(notes, items(sec.body)...)
		default:
			extras = append(extras, sec)
		}
	}

	if strings.TrimSpace(short) == "" {
		short = "Description"
	}

	parts := []string{
		"h1. " + sectionShort + "\n----\n" + strings.TrimSpace(short),
		idTable(sectionPre, "Pre-requisite", dedupe(pre)),
		idTable(sectionData, "Test Data", dedupe(data)),
		stepsTable(steps),
		idTable(sectionNotes, "Description", dedupe(notes)),
	}
	for _, e := range extras {
		if e.title == "" && e.body == "" {
			continue
		}
		parts = append(parts, "h1. "+e.title+"\n----\n"+e.body)
	}

	out := strings.Join(parts, "\n\n")
	return strings.TrimSpace(extraLines.ReplaceAllString(out, "\n\n"))
}

// normalizeMarkup undoes escaped newlines that models sometimes emit inside
// JSON strings and unifies line endings.
func normalizeMarkup(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, `\n`, "\n")
	return strings.TrimSpace(s)
}

func normalizeTitle(t string) string {
	return spaces.ReplaceAllString(strings.ToLower(strings.TrimSpace(t)), " ")
}

func splitSections(text string) []section {
	matches := h1Line.FindAllStringSubmatchIndex(text, -1)
	if len(matches) == 0 {
		return []section{{title: sectionShort, body: text}}
	}

	sections := make([]section, 0, len(matches))
	for i, m := range matches {
		end := len(text)
		if i+1 < len(matches) {
			end = matches[i+1][0]
		}
		body := strings.TrimSpace(text[m[1]:end])
		if loc := separator.FindStringIndex(body); loc != nil {
			body = strings.TrimSpace(body[:loc[0]] + body[loc[1]:])
		}
		sections = append(sections, section{title: strings.TrimSpace(text[m[2]:m[3]]), body: body})
	}
	return sections
}

func bullets(body string) []string {
	var out []string
	for _, m := range bulletLine.FindAllStringSubmatch(body, -1) {
		if item := strings.TrimSpace(m[1]); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// items prefers bullets and falls back to non-empty lines.
func items(body string) []string {
	if b := bullets(body); len(b) > 0 {
		return b
	}
	var out []string
	for _, line := range strings.Split(body, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			out = append(out, line)
		}
	}
	return out
}

func parseSteps(body string) []step {
	var out []step
	for _, m := range stepLine.FindAllStringSubmatch(body, -1) {
		out = append(out, step{action: strings.TrimSpace(m[1]), expected: strings.TrimSpace(m[2])})
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if strings.TrimSpace(s) == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func idTable(title, header string, rows []string) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "h1. %s\n----\n||ID||%s||", title, header)
	for i, row := range rows {
		fmt.Fprintf(&sb, "\n|%d|%s|", i+1, row)
	}
	if len(rows) == 0 {
		sb.WriteString("\n|1|Description|")
	}
	return sb.String()
}

func stepsTable(steps []step) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "h1. %s\n(may reference an image or table to attach under this table)\n----\n||ID||Steps to Execute||Expected result||", sectionSteps)
	n := 0
	for _, s := range steps {
		if s.action == "" && s.expected == "" {
			continue
		}
		n++
		action, expected := s.action, s.expected
		if action == "" {
			action = "Description"
		}
		if expected == "" {
			expected = "Result"
		}
		fmt.Fprintf(&sb, "\n|%d|%s|%s|", n, action, expected)
	}
	if n == 0 {
		sb.WriteString("\n|1|Description|Result|")
	}
	return sb.String()
}
