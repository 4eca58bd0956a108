package common

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var whitespaceRun = regexp.MustCompile(`[ \t\f\v]+`)
var blankLines = regexp.MustCompile(`\n{3,}`)

// HTMLToText flattens HTML or Confluence storage markup into plain text.
// Block elements become line breaks so paragraphs and list items survive.
// Input without any tag is only whitespace-normalized.
func HTMLToText(s string) string {
	if !strings.Contains(s, "<") {
		return NormalizeWhitespace(s)
	}

	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return NormalizeWhitespace(s)
	}

	var sb strings.Builder
	writeText(doc, &sb, 0)
	return NormalizeWhitespace(sb.String())
}

func writeText(n *html.Node, sb *strings.Builder, depth int) {
	if depth > 200 {
		return
	}

	switch n.Type {
	case html.TextNode:
		sb.WriteString(n.Data)
		return
	case html.ElementNode:
		switch n.Data {
		case "script", "style", "noscript", "svg":
			return
		case "br":
			sb.WriteString("\n")
			return
		case "li":
			sb.WriteString("\n* ")
		case "td", "th":
			sb.WriteString(" | ")
		}
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(c, sb, depth+1)
	}

	if n.Type == html.ElementNode && isBlock(n.Data) {
		sb.WriteString("\n")
	}
}

func isBlock(tag string) bool {
	switch tag {
	case "p", "div", "tr", "table", "ul", "ol", "h1", "h2", "h3", "h4", "h5", "h6", "pre", "blockquote", "section":
		return true
	default:
		return false
	}
}

// NormalizeWhitespace collapses runs of spaces, trims every line and
// keeps at most one blank line between paragraphs.
func NormalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = strings.ReplaceAll(s, "\r", "\n")
	s = strings.ReplaceAll(s, "\u00a0", " ")

	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
	}
	out := strings.Join(lines, "\n")
	out = blankLines.ReplaceAllString(out, "\n\n")
	return strings.TrimSpace(out)
}
