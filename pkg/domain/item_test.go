package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestImpactLevel_Valid(t *testing.T) {
	tests := []struct {
		level ImpactLevel
		want  bool
	}{
		{ImpactNone, true},
		{ImpactLow, true},
		{ImpactMedium, true},
		{ImpactHigh, true},
		{ImpactUnanalyzed, false},
		{ImpactLevel("extreme"), false},
		{ImpactLevel(""), false},
	}
	for _, tt := range tests {
		t.Run(string(tt.level), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.level.Valid())
		})
	}
}

func TestItem_Analyzed(t *testing.T) {
	item := Item{ImpactLevel: ImpactUnanalyzed}
	assert.False(t, item.Analyzed())

	now := time.Now()
	item = Item{ImpactLevel: ImpactHigh, AnalyzedAt: &now}
	assert.True(t, item.Analyzed())
}

func TestParseSectors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"json array", `["Technology","Energy"]`, []string{"Technology", "Energy"}},
		{"comma joined", "Technology, Energy", []string{"Technology", "Energy"}},
		{"single value", "Technology", []string{"Technology"}},
		{"empty", "", nil},
		{"empty json array", "[]", nil},
		{"whitespace entries dropped", "Technology, , Energy", []string{"Technology", "Energy"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ParseSectors(tt.raw)
			if tt.want == nil {
				assert.Empty(t, got)
				return
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestJoinSectors_RoundTrip(t *testing.T) {
	sectors := []string{"Technology", "Broad Market"}
	assert.Equal(t, sectors, ParseSectors(JoinSectors(sectors)))

	assert.Equal(t, "[]", JoinSectors(nil))
}
