package domain

import "time"

// ImpactLevel is the market-impact category assigned by the analyzer
type ImpactLevel string

// impact levels, ordered by severity
const (
	ImpactUnanalyzed ImpactLevel = "unanalyzed"
	ImpactNone       ImpactLevel = "none"
	ImpactLow        ImpactLevel = "low"
	ImpactMedium     ImpactLevel = "medium"
	ImpactHigh       ImpactLevel = "high"
)

// Valid reports whether the level is one of the analyzer-assignable values.
// ImpactUnanalyzed is the pre-analysis default and not assignable.
func (l ImpactLevel) Valid() bool {
	switch l {
	case ImpactNone, ImpactLow, ImpactMedium, ImpactHigh:
		return true
	}
	return false
}

// Direction is the expected market direction for an item or sector
type Direction string

// market directions
const (
	DirectionBullish Direction = "bullish"
	DirectionBearish Direction = "bearish"
	DirectionNeutral Direction = "neutral"
	DirectionMixed   Direction = "mixed"
)

// Directions lists all directions in tally order. The order matters for
// tie-breaking: when two direction buckets carry the same weight the first
// one in this list wins.
var Directions = []Direction{DirectionBullish, DirectionBearish, DirectionNeutral, DirectionMixed}

// Item represents a single ingested news article with optional
// analysis and archival state
type Item struct {
	ID          int64
	Title       string
	URL         string
	Source      string
	Summary     string
	PublishedAt *time.Time
	FetchedAt   time.Time
	ArchiveURL  string

	// analysis fields, zero until analyzed
	ImpactLevel     ImpactLevel
	ImpactScore     int
	ImpactSummary   string
	AffectedSectors string // serialized sector list, see ParseSectors
	Direction       Direction
	AnalyzedAt      *time.Time
}

// Analyzed reports whether the item has been through market-impact analysis
func (i *Item) Analyzed() bool {
	return i.ImpactLevel != "" && i.ImpactLevel != ImpactUnanalyzed
}

// Sectors returns the normalized sector tags for the item
func (i *Item) Sectors() []string {
	return ParseSectors(i.AffectedSectors)
}

// Analysis is the structured market-impact judgment produced for an item
type Analysis struct {
	ImpactLevel     ImpactLevel `json:"impact_level"`
	ImpactScore     int         `json:"impact_score"`
	ImpactSummary   string      `json:"impact_summary"`
	AffectedSectors []string    `json:"affected_sectors"`
	Direction       Direction   `json:"market_direction"`
}
