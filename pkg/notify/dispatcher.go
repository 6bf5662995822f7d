package notify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/impactscan/impactscan/pkg/domain"
	"github.com/impactscan/impactscan/pkg/repository"
)

// Store is the subset of the item store the dispatcher needs
type Store interface {
	GetArticles(ctx context.Context, q repository.ArticlesQuery) ([]*domain.Item, error)
	Counts(ctx context.Context) (*repository.Counts, error)
	CountAnalyzedSince(ctx context.Context, since time.Time) (int, error)
}

// poolLimit bounds how many articles a dispatch cycle considers
const poolLimit = 500

// Dispatcher renders sentiment summaries into channel payloads and delivers
// them, suppressing redundant sends when nothing new was analyzed since the
// last successful dispatch. The debounce checkpoint is in-process state and
// is lost on restart, an accepted limitation.
type Dispatcher struct {
	store    Store
	main     Channel
	sectors  map[string]Channel // keyed by category name
	external Channel

	mu             sync.Mutex
	lastDispatchAt time.Time
	now            func() time.Time // swapped in tests
}

// NewDispatcher creates a dispatcher over the given store and channels. Any
// channel may be nil when not configured.
func NewDispatcher(store Store, main Channel, sectors map[string]Channel, external Channel) *Dispatcher {
	return &Dispatcher{
		store:    store,
		main:     main,
		sectors:  sectors,
		external: external,
		now:      time.Now,
	}
}

// DispatchSummary sends the header summary to the main channel and one
// sector summary per category channel. A non-forced dispatch is skipped
// entirely when nothing was analyzed since the last one: no payload is
// built and no channel contacted. Per-channel failures are isolated.
func (d *Dispatcher) DispatchSummary(ctx context.Context, force bool) error {
	d.mu.Lock()
	last := d.lastDispatchAt
	d.mu.Unlock()

	if !force && !last.IsZero() {
		newCount, err := d.store.CountAnalyzedSince(ctx, last)
		if err != nil {
			return fmt.Errorf("debounce check: %w", err)
		}
		if newCount == 0 {
			lgr.Printf("[INFO] no new analyzed articles since last dispatch, skipping summary")
			return nil
		}
	}

	if d.main != nil {
		header, err := d.buildHeader(ctx)
		if err != nil {
			lgr.Printf("[WARN] failed to build header summary: %v", err)
		} else if err := d.main.Send(ctx, []Embed{header}); err != nil {
			lgr.Printf("[WARN] failed to send header summary: %v", err)
		}
	}

	pool, err := d.analyzedPool(ctx)
	if err != nil {
		return fmt.Errorf("build sector buckets: %w", err)
	}
	buckets := Bucketize(pool)

	for _, category := range Categories {
		channel := d.sectors[category]
		if channel == nil {
			lgr.Printf("[DEBUG] no channel configured for %s, skipping", category)
			continue
		}
		embed := buildSectorEmbed(category, buckets[category], d.now())
		if err := channel.Send(ctx, []Embed{embed}); err != nil {
			lgr.Printf("[WARN] failed to send %s summary: %v", category, err)
			continue
		}
		lgr.Printf("[INFO] sent %s summary (%d articles)", category, len(buckets[category]))
	}

	d.mu.Lock()
	d.lastDispatchAt = d.now()
	d.mu.Unlock()
	return nil
}

// DispatchExternal sends the compact high-impact-only summary (past 6 hours)
// to the external channel
func (d *Dispatcher) DispatchExternal(ctx context.Context) error {
	if d.external == nil {
		return nil
	}

	pool, err := d.highImpactRecent(ctx, 6*time.Hour)
	if err != nil {
		return fmt.Errorf("get high impact articles: %w", err)
	}

	embeds := buildExternalEmbeds(pool, d.now())
	if err := d.external.Send(ctx, embeds); err != nil {
		return fmt.Errorf("send external summary: %w", err)
	}
	lgr.Printf("[INFO] sent external summary (%d high-impact articles)", len(pool))
	return nil
}

// LastDispatchAt returns the debounce checkpoint, zero before the first send
func (d *Dispatcher) LastDispatchAt() time.Time {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.lastDispatchAt
}

// analyzedPool fetches analyzed articles for bucketing, preferring those
// published in the last 3 hours when enough of them exist
func (d *Dispatcher) analyzedPool(ctx context.Context) ([]*domain.Item, error) {
	articles, err := d.store.GetArticles(ctx, repository.ArticlesQuery{
		SortBy: "impact_score", SortOrder: "DESC", Limit: poolLimit,
	})
	if err != nil {
		return nil, err
	}

	analyzed := make([]*domain.Item, 0, len(articles))
	for _, a := range articles {
		if a.Analyzed() {
			analyzed = append(analyzed, a)
		}
	}
	if len(analyzed) == 0 {
		return nil, nil
	}

	since := d.now().UTC().Add(-3 * time.Hour)
	recent := make([]*domain.Item, 0, len(analyzed))
	for _, a := range analyzed {
		if a.PublishedAt != nil && a.PublishedAt.After(since) {
			recent = append(recent, a)
		}
	}
	if len(recent) >= 3 {
		return recent, nil
	}
	return analyzed, nil
}

// highImpactRecent fetches high-impact articles analyzed within the window
func (d *Dispatcher) highImpactRecent(ctx context.Context, window time.Duration) ([]*domain.Item, error) {
	articles, err := d.store.GetArticles(ctx, repository.ArticlesQuery{
		ImpactLevel: string(domain.ImpactHigh),
		SortBy:      "impact_score", SortOrder: "DESC", Limit: poolLimit,
	})
	if err != nil {
		return nil, err
	}

	since := d.now().UTC().Add(-window)
	recent := make([]*domain.Item, 0, len(articles))
	for _, a := range articles {
		ts := a.AnalyzedAt
		if ts == nil {
			ts = a.PublishedAt
		}
		if ts != nil && ts.After(since) {
			recent = append(recent, a)
		}
	}
	return recent, nil
}

// buildHeader builds the overview embed for the main channel
func (d *Dispatcher) buildHeader(ctx context.Context) (Embed, error) {
	counts, err := d.store.Counts(ctx)
	if err != nil {
		return Embed{}, err
	}

	return Embed{
		Title: "Market Impact Scanner — 3h Summary",
		Description: fmt.Sprintf(
			"**%d** total articles | **%d** high | **%d** medium | **%d** low\n\nSector summaries posted to their dedicated channels.",
			counts.Total, counts.High, counts.Medium, counts.Low),
		Color:     categoryColors["Defensive"],
		Timestamp: d.now().UTC().Format(time.RFC3339),
		Footer:    &EmbedFooter{Text: "Next summary in 3 hours"},
	}, nil
}

// buildSectorEmbed renders one category's top articles
func buildSectorEmbed(category string, articles []*domain.Item, now time.Time) Embed {
	top := articles
	if len(top) > 5 {
		top = top[:5]
	}

	lines := make([]string, 0, len(top))
	for i, a := range top {
		level := strings.ToUpper(string(a.ImpactLevel))
		lines = append(lines, fmt.Sprintf("**%d.** %s `%s %d` %s\n> _%s_",
			i+1, arrow(a.Direction), level, a.ImpactScore, articleLink(a, 80), a.Source))
	}

	description := "_No articles in this sector._"
	if len(lines) > 0 {
		description = strings.Join(lines, "\n\n")
	}

	color, ok := categoryColors[category]
	if !ok {
		color = defaultColor
	}

	return Embed{
		Title:       category + " — Top Market Movers",
		Description: description,
		Color:       color,
		Timestamp:   now.UTC().Format(time.RFC3339),
		Footer:      &EmbedFooter{Text: fmt.Sprintf("%d articles in this sector", len(articles))},
	}
}

// buildExternalEmbeds renders the compact high-impact summary: a header plus
// one embed per non-empty category, capped at the channel's embed limit
func buildExternalEmbeds(pool []*domain.Item, now time.Time) []Embed {
	header := Embed{
		Title:       "Market Impact Scanner — High Impact (Past 6h)",
		Description: fmt.Sprintf("**%d** high-impact articles across all sectors", len(pool)),
		Color:       0xEF5350,
		Timestamp:   now.UTC().Format(time.RFC3339),
	}
	if len(pool) == 0 {
		header.Description += "\n\n_No high-impact news in the past 6 hours._"
		return []Embed{header}
	}

	embeds := []Embed{header}
	buckets := Bucketize(pool)

	for _, category := range Categories {
		articles := buckets[category]
		if len(articles) == 0 {
			continue
		}
		top := articles
		if len(top) > 5 {
			top = top[:5]
		}

		lines := make([]string, 0, len(top))
		for i, a := range top {
			lines = append(lines, fmt.Sprintf("**%d.** %s `%d` %s\n> %s",
				i+1, arrow(a.Direction), a.ImpactScore, articleLink(a, 70), truncate(a.ImpactSummary, 120)))
		}

		embeds = append(embeds, Embed{
			Title:       category,
			Description: strings.Join(lines, "\n\n"),
			Color:       categoryColors[category],
			Footer:      &EmbedFooter{Text: fmt.Sprintf("%d high-impact articles", len(articles))},
		})
	}

	if len(embeds) > MaxEmbeds {
		embeds = embeds[:MaxEmbeds]
	}
	return embeds
}

// articleLink renders a markdown link for an article, preferring the archive
// mirror over the original URL
func articleLink(a *domain.Item, maxTitle int) string {
	title := truncate(a.Title, maxTitle)

	url := a.ArchiveURL
	if url == "" {
		url = a.URL
	}
	if url == "" {
		return title
	}
	return fmt.Sprintf("[%s](%s)", title, url)
}

// truncate shortens s to at most max characters with an ellipsis, counting
// runes so a multi-byte character is never split
func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
