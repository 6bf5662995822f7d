package domain

// MarketSummary is a point-in-time sentiment snapshot computed over analyzed
// items. It is derived on demand and never persisted.
type MarketSummary struct {
	TotalAnalyzed      int                        `json:"total_analyzed"`
	OverallDirection   Direction                  `json:"overall_direction"`
	DirectionBreakdown map[Direction]int          `json:"direction_breakdown"`
	ImpactBreakdown    map[ImpactLevel]int        `json:"impact_breakdown"`
	AvgScore           float64                    `json:"avg_score"`
	TopDrivers         []Driver                   `json:"top_drivers"`
	SectorSentiment    map[string]SectorSentiment `json:"sector_sentiment"`
	SectorOrder        []string                   `json:"sector_order"`
}

// Driver is one of the highest-impact items behind the current snapshot
type Driver struct {
	Title         string      `json:"title"`
	URL           string      `json:"url"`
	Source        string      `json:"source"`
	ImpactScore   int         `json:"impact_score"`
	ImpactLevel   ImpactLevel `json:"impact_level"`
	ImpactSummary string      `json:"impact_summary"`
	Direction     Direction   `json:"market_direction"`
}

// SectorSentiment aggregates the per-sector vote. Direction is the dominant
// direction by item count, not score-weighted like the overall direction.
type SectorSentiment struct {
	Direction Direction `json:"direction"`
	Count     int       `json:"count"`
	AvgScore  float64   `json:"avg_score"`
}
