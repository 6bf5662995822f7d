package feed

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
)

func TestCleanSummary(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain text unchanged", "The Fed raised rates.", "The Fed raised rates."},
		{"html stripped", "<p>The Fed <b>raised</b> rates.</p>", "The Fed raised rates."},
		{"entities unescaped", "S&amp;P 500 up 1%", "S&P 500 up 1%"},
		{"whitespace collapsed", "one\n\ntwo   three\t", "one two three"},
		{"empty", "", ""},
		{"script removed", `<script>alert("x")</script>markets rallied`, "markets rallied"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CleanSummary(tt.in))
		})
	}
}

func TestCleanSummary_Truncates(t *testing.T) {
	long := strings.Repeat("a", 2500)
	got := CleanSummary(long)
	assert.Len(t, got, maxSummaryLen)
}

func TestCleanSummary_TruncatesOnRuneBoundary(t *testing.T) {
	// the euro sign straddles the cut point when counting bytes
	long := strings.Repeat("a", 999) + "€" + strings.Repeat("b", 500)
	got := CleanSummary(long)

	assert.True(t, utf8.ValidString(got))
	assert.Equal(t, maxSummaryLen, utf8.RuneCountInString(got))
	assert.Equal(t, strings.Repeat("a", 999)+"€", got)
}
