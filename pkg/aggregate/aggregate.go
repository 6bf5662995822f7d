package aggregate

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/impactscan/impactscan/pkg/domain"
)

// Store is the subset of the item store the aggregator needs
type Store interface {
	GetAnalyzed(ctx context.Context, since *time.Time) ([]*domain.Item, error)
}

// Aggregator computes point-in-time sentiment snapshots over analyzed items
type Aggregator struct {
	store Store
}

// NewAggregator creates an aggregator over the given store
func NewAggregator(store Store) *Aggregator {
	return &Aggregator{store: store}
}

// MarketSummary computes the snapshot, optionally windowed to items analyzed
// in the last sinceHours hours (0 means all analyzed items)
func (a *Aggregator) MarketSummary(ctx context.Context, sinceHours int) (*domain.MarketSummary, error) {
	var since *time.Time
	if sinceHours > 0 {
		t := time.Now().UTC().Add(-time.Duration(sinceHours) * time.Hour)
		since = &t
	}

	items, err := a.store.GetAnalyzed(ctx, since)
	if err != nil {
		return nil, err
	}
	return Summarize(items), nil
}

// maxDrivers caps the top-drivers list
const maxDrivers = 5

// Summarize computes a sentiment snapshot from analyzed items, assumed to be
// ordered by impact score descending. An empty input yields a fully-populated
// zero snapshot with a neutral overall direction, never nil fields, so
// consumers need no special-case branching.
func Summarize(items []*domain.Item) *domain.MarketSummary {
	summary := &domain.MarketSummary{
		OverallDirection:   domain.DirectionNeutral,
		DirectionBreakdown: map[domain.Direction]int{},
		ImpactBreakdown: map[domain.ImpactLevel]int{
			domain.ImpactHigh: 0, domain.ImpactMedium: 0, domain.ImpactLow: 0, domain.ImpactNone: 0,
		},
		TopDrivers:      []domain.Driver{},
		SectorSentiment: map[string]domain.SectorSentiment{},
		SectorOrder:     []string{},
	}
	for _, d := range domain.Directions {
		summary.DirectionBreakdown[d] = 0
	}

	if len(items) == 0 {
		return summary
	}

	summary.TotalAnalyzed = len(items)

	// direction tally by count and by summed score. The overall direction is
	// the bucket with the highest summed score so a single Fed decision
	// outweighs ten minor items of the opposite lean.
	directionScores := map[domain.Direction]int{}
	scoreSum := 0
	for _, item := range items {
		if _, ok := summary.DirectionBreakdown[item.Direction]; ok {
			summary.DirectionBreakdown[item.Direction]++
			directionScores[item.Direction] += item.ImpactScore
		}
		if _, ok := summary.ImpactBreakdown[item.ImpactLevel]; ok {
			summary.ImpactBreakdown[item.ImpactLevel]++
		}
		scoreSum += item.ImpactScore
	}

	best := domain.DirectionNeutral
	bestScore := -1
	for _, d := range domain.Directions {
		if directionScores[d] > bestScore {
			best, bestScore = d, directionScores[d]
		}
	}
	summary.OverallDirection = best

	summary.AvgScore = round1(float64(scoreSum) / float64(len(items)))

	for _, item := range items[:min(maxDrivers, len(items))] {
		summary.TopDrivers = append(summary.TopDrivers, domain.Driver{
			Title:         item.Title,
			URL:           item.URL,
			Source:        item.Source,
			ImpactScore:   item.ImpactScore,
			ImpactLevel:   item.ImpactLevel,
			ImpactSummary: item.ImpactSummary,
			Direction:     item.Direction,
		})
	}

	summary.SectorSentiment, summary.SectorOrder = sectorSentiment(items)
	return summary
}

// sectorTally accumulates per-sector counters
type sectorTally struct {
	votes      map[domain.Direction]int
	count      int
	totalScore int
}

// sectorSentiment aggregates direction per sector tag. Unlike the overall
// direction, a sector's dominant direction is determined by raw vote count:
// "is this sector mostly bullish or bearish" is a poll, not a magnitude.
// Sectors are ordered by total accumulated score, descending.
func sectorSentiment(items []*domain.Item) (map[string]domain.SectorSentiment, []string) {
	tallies := map[string]*sectorTally{}

	for _, item := range items {
		for _, sector := range item.Sectors() {
			tally, ok := tallies[sector]
			if !ok {
				tally = &sectorTally{votes: map[domain.Direction]int{}}
				tallies[sector] = tally
			}
			tally.count++
			tally.totalScore += item.ImpactScore
			tally.votes[item.Direction]++
		}
	}

	order := make([]string, 0, len(tallies))
	for sector := range tallies {
		order = append(order, sector)
	}
	sort.Slice(order, func(i, j int) bool {
		if tallies[order[i]].totalScore != tallies[order[j]].totalScore {
			return tallies[order[i]].totalScore > tallies[order[j]].totalScore
		}
		return order[i] < order[j] // stable order for equal scores
	})

	result := make(map[string]domain.SectorSentiment, len(tallies))
	for sector, tally := range tallies {
		dominant := domain.DirectionBullish
		bestVotes := -1
		for _, d := range domain.Directions {
			if tally.votes[d] > bestVotes {
				dominant, bestVotes = d, tally.votes[d]
			}
		}
		result[sector] = domain.SectorSentiment{
			Direction: dominant,
			Count:     tally.count,
			AvgScore:  round1(float64(tally.totalScore) / float64(tally.count)),
		}
	}

	return result, order
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
