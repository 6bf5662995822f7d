package feed

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-pkgz/lgr"
	"golang.org/x/sync/errgroup"

	"github.com/impactscan/impactscan/pkg/domain"
)

// Store is the subset of the item store the ingestion side needs
type Store interface {
	Insert(ctx context.Context, item *domain.Item) (id int64, inserted bool, err error)
}

// FeedParser parses one feed URL into items
type FeedParser interface {
	Parse(ctx context.Context, url string) ([]ParsedItem, error)
}

// FetchStats summarizes one ingestion cycle
type FetchStats struct {
	TotalFetched int `json:"total_fetched"`
	New          int `json:"new_articles"`
	Duplicates   int `json:"duplicates"`
	Errors       int `json:"errors"`
}

// Manager pulls items from all configured feed sources and deduplicates them
// into the store
type Manager struct {
	sources    map[string]string // name -> URL
	parser     FeedParser
	store      Store
	maxWorkers int
}

// NewManager creates a feed manager over the given sources
func NewManager(sources map[string]string, parser FeedParser, store Store, maxWorkers int) *Manager {
	if maxWorkers <= 0 {
		maxWorkers = 5
	}
	return &Manager{sources: sources, parser: parser, store: store, maxWorkers: maxWorkers}
}

// Sources returns the configured feed names, sorted
func (m *Manager) Sources() []string {
	names := make([]string, 0, len(m.sources))
	for name := range m.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FetchAll fetches every configured feed concurrently, then inserts the
// collected items sequentially so dedup decisions stay serialized against
// the store's uniqueness constraint.
func (m *Manager) FetchAll(ctx context.Context) (*FetchStats, error) {
	stats := &FetchStats{}

	type feedResult struct {
		name  string
		items []ParsedItem
		err   error
	}

	var mu sync.Mutex
	results := make([]feedResult, 0, len(m.sources))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.maxWorkers)

	for name, url := range m.sources {
		g.Go(func() error {
			items, err := m.parser.Parse(gctx, url)
			mu.Lock()
			results = append(results, feedResult{name: name, items: items, err: err})
			mu.Unlock()
			return nil // per-feed failures are counted, never abort the cycle
		})
	}

	if err := g.Wait(); err != nil {
		return stats, fmt.Errorf("fetch feeds: %w", err)
	}

	for _, res := range results {
		if res.err != nil {
			lgr.Printf("[WARN] failed to fetch feed %q: %v", res.name, res.err)
			stats.Errors++
			continue
		}
		lgr.Printf("[DEBUG] parsed %d items from %q", len(res.items), res.name)

		for _, item := range res.items {
			stats.TotalFetched++
			_, inserted, err := m.store.Insert(ctx, &domain.Item{
				Title:       item.Title,
				URL:         item.URL,
				Source:      res.name,
				Summary:     item.Summary,
				PublishedAt: item.Published,
			})
			if err != nil {
				lgr.Printf("[WARN] failed to insert item from %q: %v", res.name, err)
				stats.Errors++
				continue
			}
			if inserted {
				stats.New++
			} else {
				stats.Duplicates++
			}
		}
	}

	lgr.Printf("[INFO] feed fetch complete: %d new, %d duplicates, %d errors",
		stats.New, stats.Duplicates, stats.Errors)
	return stats, nil
}

// FetchOne fetches a single feed by its configured name
func (m *Manager) FetchOne(ctx context.Context, name string) (*FetchStats, error) {
	url, ok := m.sources[name]
	if !ok {
		return nil, fmt.Errorf("unknown feed: %s", name)
	}

	stats := &FetchStats{}
	items, err := m.parser.Parse(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("fetch feed %q: %w", name, err)
	}

	for _, item := range items {
		stats.TotalFetched++
		_, inserted, err := m.store.Insert(ctx, &domain.Item{
			Title:       item.Title,
			URL:         item.URL,
			Source:      name,
			Summary:     item.Summary,
			PublishedAt: item.Published,
		})
		if err != nil {
			stats.Errors++
			continue
		}
		if inserted {
			stats.New++
		} else {
			stats.Duplicates++
		}
	}
	return stats, nil
}
