package notify

import (
	"sort"
	"strings"

	"github.com/impactscan/impactscan/pkg/domain"
)

// Categories are the broad channel buckets the sector vocabulary maps into,
// in dispatch order
var Categories = []string{"TMT", "Defensive", "Macroeconomics", "Cyclical"}

// categoryKeywords maps each category to the sector-tag keywords it matches.
// Matching is case-insensitive substring, so "Consumer Staples" lands in
// Defensive via "consumer". One item may land in several categories when its
// tags span keyword sets.
var categoryKeywords = map[string][]string{
	"TMT":            {"technology", "communications", "media", "telecom"},
	"Defensive":      {"healthcare", "utilities", "consumer staples", "consumer"},
	"Macroeconomics": {"broad market", "bonds", "commodities", "crypto"},
	"Cyclical":       {"finance", "energy", "industrial", "real estate", "materials"},
}

// categoryColors are the embed accent colors per category
var categoryColors = map[string]int{
	"TMT":            0x42A5F5,
	"Defensive":      0x26A69A,
	"Macroeconomics": 0xFFA726,
	"Cyclical":       0xAB47BC,
}

const defaultColor = 0x545B67

// directionArrows render a direction as a compact glyph
var directionArrows = map[domain.Direction]string{
	domain.DirectionBullish: "▲",
	domain.DirectionBearish: "▼",
	domain.DirectionMixed:   "◆",
	domain.DirectionNeutral: "—",
}

func arrow(d domain.Direction) string {
	if a, ok := directionArrows[d]; ok {
		return a
	}
	return "—"
}

// CategoriesFor maps an item's sector tags into channel categories. Each
// category matches at most once per item.
func CategoriesFor(item *domain.Item) []string {
	sectors := item.Sectors()
	if len(sectors) == 0 {
		return nil
	}

	var matched []string
	for _, category := range Categories {
	keywords:
		for _, keyword := range categoryKeywords[category] {
			for _, sector := range sectors {
				if strings.Contains(strings.ToLower(sector), keyword) {
					matched = append(matched, category)
					break keywords
				}
			}
		}
	}
	return matched
}

// Bucketize groups analyzed items by category, each bucket sorted by impact
// score descending
func Bucketize(items []*domain.Item) map[string][]*domain.Item {
	buckets := make(map[string][]*domain.Item, len(Categories))
	for _, category := range Categories {
		buckets[category] = []*domain.Item{}
	}

	for _, item := range items {
		for _, category := range CategoriesFor(item) {
			buckets[category] = append(buckets[category], item)
		}
	}

	for _, bucket := range buckets {
		sort.SliceStable(bucket, func(i, j int) bool { return bucket[i].ImpactScore > bucket[j].ImpactScore })
	}
	return buckets
}
