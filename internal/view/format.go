package view

import (
	"regexp"
	"strings"
)

var (
	boldPattern   = regexp.MustCompile(`\*\*(.*?)\*\*`)
	italicPattern = regexp.MustCompile(`\*(.*?)\*`)
)

// FormatBody runs the minimal markup pass over a question body: bold and
// italic markers become emphasis tags, line breaks become visual breaks,
// and blank-line separation groups paragraphs. Presentation only; the
// catalog data is never altered.
func FormatBody(body string) string {
	if body == "" {
		return "<p>No content available.</p>"
	}

	formatted := boldPattern.ReplaceAllString(body, "<strong>$1</strong>")
	formatted = italicPattern.ReplaceAllString(formatted, "<em>$1</em>")
	formatted = strings.ReplaceAll(formatted, "\n", "<br>")

	if strings.Contains(formatted, "<p>") || strings.Contains(formatted, "<div>") {
		return formatted
	}
	paragraphs := strings.Split(formatted, "<br><br>")
	var b strings.Builder
	for _, p := range paragraphs {
		b.WriteString("<p>")
		b.WriteString(strings.ReplaceAll(p, "<br>", ""))
		b.WriteString("</p>")
	}
	return b.String()
}
