package notify

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/impactscan/impactscan/pkg/domain"
	"github.com/impactscan/impactscan/pkg/repository"
)

type fakeDispatchStore struct {
	articles      []*domain.Item
	counts        repository.Counts
	analyzedSince int
	sinceCalls    int
	lastQuery     repository.ArticlesQuery
}

func (s *fakeDispatchStore) GetArticles(_ context.Context, q repository.ArticlesQuery) ([]*domain.Item, error) {
	s.lastQuery = q
	if q.ImpactLevel != "" && q.ImpactLevel != "all" {
		filtered := make([]*domain.Item, 0, len(s.articles))
		for _, a := range s.articles {
			if string(a.ImpactLevel) == q.ImpactLevel {
				filtered = append(filtered, a)
			}
		}
		return filtered, nil
	}
	return s.articles, nil
}

func (s *fakeDispatchStore) Counts(_ context.Context) (*repository.Counts, error) {
	c := s.counts
	return &c, nil
}

func (s *fakeDispatchStore) CountAnalyzedSince(_ context.Context, _ time.Time) (int, error) {
	s.sinceCalls++
	return s.analyzedSince, nil
}

type fakeChannel struct {
	sends [][]Embed
	err   error
}

func (c *fakeChannel) Send(_ context.Context, embeds []Embed) error {
	if c.err != nil {
		return c.err
	}
	c.sends = append(c.sends, embeds)
	return nil
}

func dispatchItem(title string, score int, level domain.ImpactLevel, sectors ...string) *domain.Item {
	now := time.Now().UTC()
	return &domain.Item{
		Title:           title,
		URL:             "https://example.com/" + title,
		Source:          "Test Feed",
		ImpactLevel:     level,
		ImpactScore:     score,
		Direction:       domain.DirectionBullish,
		AffectedSectors: domain.JoinSectors(sectors),
		AnalyzedAt:      &now,
		PublishedAt:     &now,
	}
}

func TestDispatcher_DispatchSummary(t *testing.T) {
	store := &fakeDispatchStore{
		articles: []*domain.Item{
			dispatchItem("tech-news", 80, domain.ImpactHigh, "Technology"),
			dispatchItem("oil-news", 60, domain.ImpactMedium, "Energy"),
		},
		counts: repository.Counts{Total: 2, Analyzed: 2, High: 1, Medium: 1},
	}
	main := &fakeChannel{}
	tmt := &fakeChannel{}
	cyclical := &fakeChannel{}

	d := NewDispatcher(store, main, map[string]Channel{"TMT": tmt, "Cyclical": cyclical}, nil)

	err := d.DispatchSummary(context.Background(), false)
	require.NoError(t, err)

	// header went to the main channel
	require.Len(t, main.sends, 1)
	assert.Contains(t, main.sends[0][0].Description, "**2** total articles")

	// each configured sector channel got its bucket
	require.Len(t, tmt.sends, 1)
	assert.Contains(t, tmt.sends[0][0].Description, "tech-news")
	require.Len(t, cyclical.sends, 1)
	assert.Contains(t, cyclical.sends[0][0].Description, "oil-news")

	assert.False(t, d.LastDispatchAt().IsZero(), "checkpoint set after dispatch")
}

func TestDispatcher_Debounce(t *testing.T) {
	store := &fakeDispatchStore{
		articles: []*domain.Item{dispatchItem("news", 50, domain.ImpactMedium, "Technology")},
	}
	main := &fakeChannel{}
	d := NewDispatcher(store, main, nil, nil)

	// first dispatch always goes through
	require.NoError(t, d.DispatchSummary(context.Background(), false))
	require.Len(t, main.sends, 1)
	assert.Zero(t, store.sinceCalls, "no debounce check before a checkpoint exists")

	// nothing analyzed since: skipped, channel untouched
	store.analyzedSince = 0
	require.NoError(t, d.DispatchSummary(context.Background(), false))
	assert.Len(t, main.sends, 1)
	assert.Equal(t, 1, store.sinceCalls)

	// force bypasses the debounce without consulting the store
	require.NoError(t, d.DispatchSummary(context.Background(), true))
	assert.Len(t, main.sends, 2)
	assert.Equal(t, 1, store.sinceCalls)

	// new analyses re-enable the non-forced path
	store.analyzedSince = 3
	require.NoError(t, d.DispatchSummary(context.Background(), false))
	assert.Len(t, main.sends, 3)
}

func TestDispatcher_ChannelFailuresAreIsolated(t *testing.T) {
	store := &fakeDispatchStore{
		articles: []*domain.Item{
			dispatchItem("tech-news", 80, domain.ImpactHigh, "Technology"),
			dispatchItem("oil-news", 60, domain.ImpactMedium, "Energy"),
		},
	}
	main := &fakeChannel{err: fmt.Errorf("main webhook down")}
	tmt := &fakeChannel{err: fmt.Errorf("tmt webhook down")}
	cyclical := &fakeChannel{}

	d := NewDispatcher(store, main, map[string]Channel{"TMT": tmt, "Cyclical": cyclical}, nil)

	// failures on main and one sector must not stop the remaining sends
	err := d.DispatchSummary(context.Background(), true)
	require.NoError(t, err)
	require.Len(t, cyclical.sends, 1)
	assert.Contains(t, cyclical.sends[0][0].Description, "oil-news")
}

func TestDispatcher_DispatchExternal(t *testing.T) {
	store := &fakeDispatchStore{
		articles: []*domain.Item{
			dispatchItem("fed-shock", 95, domain.ImpactHigh, "Broad Market"),
			dispatchItem("minor", 20, domain.ImpactLow, "Energy"),
		},
	}
	external := &fakeChannel{}
	d := NewDispatcher(store, nil, nil, external)

	err := d.DispatchExternal(context.Background())
	require.NoError(t, err)

	require.Len(t, external.sends, 1)
	embeds := external.sends[0]
	require.NotEmpty(t, embeds)
	assert.Contains(t, embeds[0].Description, "**1** high-impact")
	assert.Equal(t, string(domain.ImpactHigh), store.lastQuery.ImpactLevel)

	// header plus the Macroeconomics bucket for the broad-market item
	require.Len(t, embeds, 2)
	assert.Equal(t, "Macroeconomics", embeds[1].Title)
	assert.Contains(t, embeds[1].Description, "fed-shock")
}

func TestDispatcher_DispatchExternal_NoChannel(t *testing.T) {
	d := NewDispatcher(&fakeDispatchStore{}, nil, nil, nil)
	assert.NoError(t, d.DispatchExternal(context.Background()))
}

func TestDispatcher_DispatchExternal_EmptyWindow(t *testing.T) {
	old := time.Now().UTC().Add(-48 * time.Hour)
	store := &fakeDispatchStore{
		articles: []*domain.Item{{
			Title: "stale", ImpactLevel: domain.ImpactHigh, ImpactScore: 90,
			AnalyzedAt: &old,
		}},
	}
	external := &fakeChannel{}
	d := NewDispatcher(store, nil, nil, external)

	require.NoError(t, d.DispatchExternal(context.Background()))
	require.Len(t, external.sends, 1)
	require.Len(t, external.sends[0], 1, "header only when the window is empty")
	assert.Contains(t, external.sends[0][0].Description, "No high-impact news")
}

func TestArticleLink(t *testing.T) {
	t.Run("prefers archive url", func(t *testing.T) {
		a := &domain.Item{Title: "News", URL: "https://example.com/n", ArchiveURL: "https://archive.ph/n"}
		assert.Equal(t, "[News](https://archive.ph/n)", articleLink(a, 80))
	})

	t.Run("falls back to original url", func(t *testing.T) {
		a := &domain.Item{Title: "News", URL: "https://example.com/n"}
		assert.Equal(t, "[News](https://example.com/n)", articleLink(a, 80))
	})

	t.Run("truncates long titles", func(t *testing.T) {
		a := &domain.Item{Title: "A Very Long Headline", URL: "https://example.com/n"}
		assert.Equal(t, "[A Very...](https://example.com/n)", articleLink(a, 6))
	})

	t.Run("keeps multi-byte titles valid", func(t *testing.T) {
		a := &domain.Item{Title: strings.Repeat("欧", 80), URL: "https://example.com/n"}
		got := articleLink(a, 70)
		assert.True(t, utf8.ValidString(got))
		assert.Contains(t, got, strings.Repeat("欧", 70)+"...")
	})
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 120))
	assert.Equal(t, "abc...", truncate("abcdef", 3))
	assert.Equal(t, "€€€...", truncate("€€€€€", 3))
	assert.True(t, utf8.ValidString(truncate(strings.Repeat("€", 200), 120)))
}
