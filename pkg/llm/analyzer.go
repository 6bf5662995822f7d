package llm

import (
	"context"

	"github.com/go-pkgz/lgr"

	"github.com/impactscan/impactscan/pkg/domain"
)

// Store is the subset of the item store the analyzer needs
type Store interface {
	GetUnanalyzed(ctx context.Context, limit int) ([]*domain.Item, error)
	UpdateAnalysis(ctx context.Context, itemID int64, analysis *domain.Analysis) error
}

// BackendSelector picks the currently available backend
type BackendSelector interface {
	Select(ctx context.Context) (Backend, error)
}

// Stats summarize one analysis batch
type Stats struct {
	Analyzed int `json:"analyzed"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

// Analyzer classifies stored items for market impact using whichever backend
// is available
type Analyzer struct {
	selector BackendSelector
	store    Store
}

// NewAnalyzer creates an analyzer over the given selector and store
func NewAnalyzer(selector BackendSelector, store Store) *Analyzer {
	return &Analyzer{selector: selector, store: store}
}

// AnalyzeOne produces a sanitized judgment for one headline/summary pair.
// Returns ErrNoBackend when no provider is available.
func (a *Analyzer) AnalyzeOne(ctx context.Context, title, summary string) (*domain.Analysis, error) {
	backend, err := a.selector.Select(ctx)
	if err != nil {
		return nil, err
	}

	analysis, err := backend.Analyze(ctx, title, summary)
	if err != nil {
		return nil, err
	}

	sanitize(analysis)
	return analysis, nil
}

// AnalyzePending pulls up to batchSize unanalyzed items (most recently
// fetched first) and classifies each one. Items are processed sequentially,
// providers rate-limit. A single item's failure is counted and the batch
// continues; the item stays unanalyzed and is picked up by the next cycle.
// Returns ErrNoBackend without touching any provider when none is available.
func (a *Analyzer) AnalyzePending(ctx context.Context, batchSize int) (*Stats, error) {
	if _, err := a.selector.Select(ctx); err != nil {
		return &Stats{}, err
	}

	items, err := a.store.GetUnanalyzed(ctx, batchSize)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Total: len(items)}
	for _, item := range items {
		analysis, err := a.AnalyzeOne(ctx, item.Title, item.Summary)
		if err != nil {
			lgr.Printf("[WARN] analysis failed for %q: %v", truncate(item.Title, 50), err)
			stats.Failed++
			continue
		}

		if err := a.store.UpdateAnalysis(ctx, item.ID, analysis); err != nil {
			lgr.Printf("[WARN] failed to store analysis for item %d: %v", item.ID, err)
			stats.Failed++
			continue
		}

		stats.Analyzed++
		lgr.Printf("[INFO] [%s] (%3d) %s", analysis.ImpactLevel, analysis.ImpactScore, truncate(item.Title, 80))
	}

	return stats, nil
}

// sanitize applies the two unconditional output rules: the score is clamped
// into [0,100] and an unmapped level is coerced to low (classification
// succeeded, the category just didn't fit the enumeration).
func sanitize(a *domain.Analysis) {
	if a.ImpactScore < 0 {
		a.ImpactScore = 0
	}
	if a.ImpactScore > 100 {
		a.ImpactScore = 100
	}
	if !a.ImpactLevel.Valid() {
		a.ImpactLevel = domain.ImpactLow
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
