package feed

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSummaryLen bounds stored summaries, feeds occasionally ship whole articles
const maxSummaryLen = 1000

var stripPolicy = bluemonday.StrictPolicy()

// CleanSummary strips markup from a feed summary, collapses whitespace and
// truncates to a storable length
func CleanSummary(raw string) string {
	if raw == "" {
		return ""
	}

	text := raw
	if strings.Contains(raw, "<") {
		text = stripPolicy.Sanitize(raw)
	}
	text = html.UnescapeString(text)
	text = strings.Join(strings.Fields(text), " ")

	// cut on a rune boundary, a byte slice can split a multi-byte character
	if runes := []rune(text); len(runes) > maxSummaryLen {
		text = string(runes[:maxSummaryLen])
	}
	return text
}
