package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/go-pkgz/repeater/v2"
	"github.com/jmoiron/sqlx"

	"github.com/impactscan/impactscan/pkg/domain"
)

// ItemRepository handles article-related database operations
type ItemRepository struct {
	db *sqlx.DB
}

// itemSQL represents an article row for SQL operations
type itemSQL struct {
	ID          int64      `db:"id"`
	Title       string     `db:"title"`
	URL         string     `db:"url"`
	Source      string     `db:"source"`
	Summary     string     `db:"summary"`
	PublishedAt *time.Time `db:"published_at"`
	FetchedAt   time.Time  `db:"fetched_at"`
	ArchiveURL  string     `db:"archive_url"`

	ImpactLevel     string     `db:"impact_level"`
	ImpactScore     int        `db:"impact_score"`
	ImpactSummary   string     `db:"impact_summary"`
	AffectedSectors string     `db:"affected_sectors"`
	Direction       string     `db:"market_direction"`
	AnalyzedAt      *time.Time `db:"analyzed_at"`
}

// allowedSortFields is the allow-list for user-supplied sort fields. Anything
// outside it silently falls back to published_at so a read never fails on a
// cosmetic input issue.
var allowedSortFields = map[string]bool{
	"published_at": true,
	"impact_score": true,
	"fetched_at":   true,
	"source":       true,
	"impact_level": true,
}

// ArticlesQuery describes a filtered, sorted article listing
type ArticlesQuery struct {
	ImpactLevel string // "" or "all" means no filter
	Source      string // "" or "all" means no filter
	SortBy      string
	SortOrder   string
	Limit       int
	Offset      int
}

// Counts holds store-wide article tallies
type Counts struct {
	Total    int `db:"total" json:"total"`
	Analyzed int `db:"analyzed" json:"analyzed"`
	High     int `db:"high" json:"high_impact"`
	Medium   int `db:"medium" json:"medium_impact"`
	Low      int `db:"low" json:"low_impact"`
}

// NewItemRepository creates a new item repository
func NewItemRepository(database *sqlx.DB) *ItemRepository {
	return &ItemRepository{db: database}
}

// Insert stores a new article. A duplicate URL is a normal dedup outcome, not
// an error: it returns inserted=false with a nil error. Concurrent inserts of
// the same URL resolve through the store's UNIQUE constraint, exactly one
// caller gets inserted=true.
func (r *ItemRepository) Insert(ctx context.Context, item *domain.Item) (id int64, inserted bool, err error) {
	if item.FetchedAt.IsZero() {
		item.FetchedAt = time.Now().UTC()
	}

	sqlItem := &itemSQL{
		Title:       item.Title,
		URL:         item.URL,
		Source:      item.Source,
		Summary:     item.Summary,
		PublishedAt: item.PublishedAt,
		FetchedAt:   item.FetchedAt,
		ImpactLevel: string(domain.ImpactUnanalyzed),
	}

	query := `
		INSERT INTO articles (title, url, source, summary, published_at, fetched_at, impact_level)
		VALUES (:title, :url, :source, :summary, :published_at, :fetched_at, :impact_level)
	`
	result, err := r.db.NamedExecContext(ctx, query, sqlItem)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("insert article: %w", err)
	}

	id, err = result.LastInsertId()
	if err != nil {
		return 0, false, fmt.Errorf("get insert id: %w", err)
	}

	item.ID = id
	return id, true, nil
}

// GetItem retrieves an article by ID
func (r *ItemRepository) GetItem(ctx context.Context, id int64) (*domain.Item, error) {
	var sqlItem itemSQL
	err := r.db.GetContext(ctx, &sqlItem, "SELECT * FROM articles WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("get article: %w", err)
	}
	return toDomainItem(&sqlItem), nil
}

// GetUnanalyzed retrieves articles awaiting analysis, most recently fetched first
func (r *ItemRepository) GetUnanalyzed(ctx context.Context, limit int) ([]*domain.Item, error) {
	query := `
		SELECT * FROM articles
		WHERE impact_level = 'unanalyzed'
		ORDER BY fetched_at DESC
		LIMIT ?
	`
	var sqlItems []itemSQL
	if err := r.db.SelectContext(ctx, &sqlItems, query, limit); err != nil {
		return nil, fmt.Errorf("get unanalyzed articles: %w", err)
	}
	return toDomainItems(sqlItems), nil
}

// GetUnarchived retrieves articles without an archive mirror yet
func (r *ItemRepository) GetUnarchived(ctx context.Context, limit int) ([]*domain.Item, error) {
	query := `
		SELECT * FROM articles
		WHERE archive_url = '' OR archive_url IS NULL
		ORDER BY fetched_at DESC
		LIMIT ?
	`
	var sqlItems []itemSQL
	if err := r.db.SelectContext(ctx, &sqlItems, query, limit); err != nil {
		return nil, fmt.Errorf("get unarchived articles: %w", err)
	}
	return toDomainItems(sqlItems), nil
}

// UpdateAnalysis stores the market-impact judgment for an article and stamps
// analyzed_at. Retries on SQLite lock errors.
func (r *ItemRepository) UpdateAnalysis(ctx context.Context, itemID int64, analysis *domain.Analysis) error {
	retrier := repeater.NewBackoff(5, 50*time.Millisecond, repeater.WithMaxDelay(2*time.Second))

	return retrier.Do(ctx, func() error {
		query := `
			UPDATE articles
			SET impact_level = ?, impact_score = ?, impact_summary = ?,
			    affected_sectors = ?, market_direction = ?, analyzed_at = ?
			WHERE id = ?
		`
		_, err := r.db.ExecContext(ctx, query,
			string(analysis.ImpactLevel), analysis.ImpactScore, analysis.ImpactSummary,
			domain.JoinSectors(analysis.AffectedSectors), string(analysis.Direction),
			time.Now().UTC(), itemID)
		if err != nil {
			if isLockError(err) {
				return err // repeater will retry this
			}
			return &criticalError{err: fmt.Errorf("update analysis: %w", err)}
		}
		return nil
	})
}

// UpdateArchiveURL stores the archival mirror for an article
func (r *ItemRepository) UpdateArchiveURL(ctx context.Context, itemID int64, archiveURL string) error {
	_, err := r.db.ExecContext(ctx, "UPDATE articles SET archive_url = ? WHERE id = ?", archiveURL, itemID)
	if err != nil {
		return fmt.Errorf("update archive url: %w", err)
	}
	return nil
}

// GetArticles retrieves articles with user-supplied filters and sorting.
// Sort fields outside the allow-list and malformed sort orders are silently
// normalized to published_at DESC, this endpoint is user-reachable and must
// never fail a read for bad input.
func (r *ItemRepository) GetArticles(ctx context.Context, q ArticlesQuery) ([]*domain.Item, error) {
	sortBy := q.SortBy
	if !allowedSortFields[sortBy] {
		sortBy = "published_at"
	}
	sortOrder := strings.ToUpper(q.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}
	offset := q.Offset
	if offset < 0 {
		offset = 0
	}

	builder := sq.Select("*").From("articles").
		OrderBy(sortBy + " " + sortOrder).
		Limit(uint64(limit)).Offset(uint64(offset)) //nolint:gosec // bounds checked above

	if q.ImpactLevel != "" && q.ImpactLevel != "all" {
		builder = builder.Where(sq.Eq{"impact_level": q.ImpactLevel})
	}
	if q.Source != "" && q.Source != "all" {
		builder = builder.Where(sq.Eq{"source": q.Source})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build articles query: %w", err)
	}

	var sqlItems []itemSQL
	if err := r.db.SelectContext(ctx, &sqlItems, query, args...); err != nil {
		return nil, fmt.Errorf("get articles: %w", err)
	}
	return toDomainItems(sqlItems), nil
}

// GetAnalyzed retrieves all analyzed articles ordered by impact score
// descending, optionally restricted to those analyzed after since. Ties keep
// store order. This feeds the aggregation engine.
func (r *ItemRepository) GetAnalyzed(ctx context.Context, since *time.Time) ([]*domain.Item, error) {
	query := `
		SELECT * FROM articles
		WHERE impact_level != 'unanalyzed' AND impact_level IS NOT NULL
	`
	var args []interface{}
	if since != nil {
		query += " AND analyzed_at > ?"
		args = append(args, *since)
	}
	query += " ORDER BY impact_score DESC, id ASC"

	var sqlItems []itemSQL
	if err := r.db.SelectContext(ctx, &sqlItems, query, args...); err != nil {
		return nil, fmt.Errorf("get analyzed articles: %w", err)
	}
	return toDomainItems(sqlItems), nil
}

// Counts returns article tallies by impact level
func (r *ItemRepository) Counts(ctx context.Context) (*Counts, error) {
	query := `
		SELECT
			COUNT(*) AS total,
			COUNT(CASE WHEN impact_level != 'unanalyzed' THEN 1 END) AS analyzed,
			COUNT(CASE WHEN impact_level = 'high' THEN 1 END) AS high,
			COUNT(CASE WHEN impact_level = 'medium' THEN 1 END) AS medium,
			COUNT(CASE WHEN impact_level = 'low' THEN 1 END) AS low
		FROM articles
	`
	var counts Counts
	if err := r.db.GetContext(ctx, &counts, query); err != nil {
		return nil, fmt.Errorf("get counts: %w", err)
	}
	return &counts, nil
}

// CountAnalyzedSince returns the number of articles analyzed after the given
// time. The notification dispatcher uses this for its debounce check.
func (r *ItemRepository) CountAnalyzedSince(ctx context.Context, since time.Time) (int, error) {
	var count int
	err := r.db.GetContext(ctx, &count,
		"SELECT COUNT(*) FROM articles WHERE analyzed_at > ? AND impact_level != 'unanalyzed'", since)
	if err != nil {
		return 0, fmt.Errorf("count analyzed since: %w", err)
	}
	return count, nil
}

// Sources returns the distinct feed sources present in the store
func (r *ItemRepository) Sources(ctx context.Context) ([]string, error) {
	var sources []string
	err := r.db.SelectContext(ctx, &sources, "SELECT DISTINCT source FROM articles ORDER BY source")
	if err != nil {
		return nil, fmt.Errorf("get sources: %w", err)
	}
	return sources, nil
}

// toDomainItem converts itemSQL to domain.Item
func toDomainItem(sqlItem *itemSQL) *domain.Item {
	return &domain.Item{
		ID:          sqlItem.ID,
		Title:       sqlItem.Title,
		URL:         sqlItem.URL,
		Source:      sqlItem.Source,
		Summary:     sqlItem.Summary,
		PublishedAt: sqlItem.PublishedAt,
		FetchedAt:   sqlItem.FetchedAt,
		ArchiveURL:  sqlItem.ArchiveURL,

		ImpactLevel:     domain.ImpactLevel(sqlItem.ImpactLevel),
		ImpactScore:     sqlItem.ImpactScore,
		ImpactSummary:   sqlItem.ImpactSummary,
		AffectedSectors: sqlItem.AffectedSectors,
		Direction:       domain.Direction(sqlItem.Direction),
		AnalyzedAt:      sqlItem.AnalyzedAt,
	}
}

func toDomainItems(sqlItems []itemSQL) []*domain.Item {
	items := make([]*domain.Item, len(sqlItems))
	for i := range sqlItems {
		items[i] = toDomainItem(&sqlItems[i])
	}
	return items
}
