package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/impactscan/impactscan/pkg/config"
	"github.com/impactscan/impactscan/pkg/domain"
)

// Store is the subset of the item store the archiver needs
type Store interface {
	GetUnarchived(ctx context.Context, limit int) ([]*domain.Item, error)
	UpdateArchiveURL(ctx context.Context, itemID int64, archiveURL string) error
}

// Stats summarize one archival batch
type Stats struct {
	Archived int `json:"archived"`
	Failed   int `json:"failed"`
	Total    int `json:"total"`
}

// Archiver obtains durable mirrors for article URLs. It is strictly
// best-effort: a primary submission service is tried first and any failure,
// including rate limiting, falls through to the Wayback Machine.
type Archiver struct {
	cfg    config.ArchiveConfig
	store  Store
	client *http.Client

	// recheckDelay is the wait before the one re-check after an ambiguous
	// Wayback save response; shortened in tests
	recheckDelay time.Duration
}

// NewArchiver creates an archiver over the given store
func NewArchiver(cfg config.ArchiveConfig, store Store) *Archiver {
	return &Archiver{
		cfg:          cfg,
		store:        store,
		client:       &http.Client{}, // per-call timeouts via request context
		recheckDelay: 2 * time.Second,
	}
}

// Save obtains an archival mirror for one URL: primary service first, Wayback
// on any primary failure. Returns the archive URL or an error after both
// tiers are exhausted.
func (a *Archiver) Save(ctx context.Context, pageURL string) (string, error) {
	archiveURL, err := a.savePrimary(ctx, pageURL)
	if err == nil {
		return archiveURL, nil
	}
	if isRateLimited(err) {
		lgr.Printf("[WARN] primary archive rate limited for %s", pageURL)
	} else {
		lgr.Printf("[WARN] primary archive failed for %s: %v", pageURL, err)
	}

	archiveURL, err = a.saveWayback(ctx, pageURL)
	if err != nil {
		return "", fmt.Errorf("all archive services failed for %s: %w", pageURL, err)
	}
	return archiveURL, nil
}

// ArchivePending archives up to batchSize items without a mirror yet. Items
// are processed sequentially with a mandatory politeness delay after every
// attempt, success or failure.
func (a *Archiver) ArchivePending(ctx context.Context, batchSize int) (*Stats, error) {
	items, err := a.store.GetUnarchived(ctx, batchSize)
	if err != nil {
		return nil, err
	}

	stats := &Stats{Total: len(items)}
	for _, item := range items {
		archiveURL, err := a.Save(ctx, item.URL)
		if err != nil {
			stats.Failed++
		} else if err := a.store.UpdateArchiveURL(ctx, item.ID, archiveURL); err != nil {
			lgr.Printf("[WARN] failed to store archive url for item %d: %v", item.ID, err)
			stats.Failed++
		} else {
			stats.Archived++
		}

		select {
		case <-time.After(a.cfg.Delay):
		case <-ctx.Done():
			return stats, ctx.Err()
		}
	}

	lgr.Printf("[INFO] archiving done: %d saved, %d failed out of %d", stats.Archived, stats.Failed, stats.Total)
	return stats, nil
}

// rateLimitError marks an explicit rate-limit response from a service
type rateLimitError struct{ service string }

func (e *rateLimitError) Error() string { return e.service + " rate limited" }

func isRateLimited(err error) bool {
	_, ok := err.(*rateLimitError)
	return ok
}

// savePrimary submits a capture request to the primary service. The service
// answers with a redirect to the snapshot or with a Refresh header naming it.
func (a *Archiver) savePrimary(ctx context.Context, pageURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.SaveTimeout)
	defer cancel()

	form := url.Values{"url": {pageURL}, "anyway": {"1"}}
	endpoint := strings.TrimSuffix(a.cfg.PrimaryEndpoint, "/") + "/submit/"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit to primary: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &rateLimitError{service: "primary"}
	}

	// the service signals the snapshot either via the final redirect target
	// or a Refresh header on a 200
	if loc := resp.Header.Get("Refresh"); loc != "" {
		if _, target, found := strings.Cut(loc, "url="); found && strings.Contains(target, "archive") {
			return target, nil
		}
	}
	if final := resp.Request.URL.String(); resp.StatusCode == http.StatusOK && strings.Contains(final, "archive") &&
		final != endpoint {
		return final, nil
	}

	return "", fmt.Errorf("primary returned no snapshot (status %d)", resp.StatusCode)
}

// saveWayback runs the secondary service's three-phase contract: check for a
// recent snapshot, otherwise submit a capture, and on an ambiguous response
// wait briefly and check once more.
func (a *Archiver) saveWayback(ctx context.Context, pageURL string) (string, error) {
	if snapshot, ok := a.checkWayback(ctx, pageURL); ok {
		lgr.Printf("[DEBUG] wayback cached: %s -> %s", pageURL, snapshot)
		return snapshot, nil
	}

	saveCtx, cancel := context.WithTimeout(ctx, a.cfg.SaveTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(saveCtx, http.MethodGet, a.cfg.WaybackSaveURL+pageURL, http.NoBody)
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("wayback save: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		final := resp.Request.URL.String()
		if strings.Contains(final, "web.archive.org") {
			return final, nil
		}
	}

	// ambiguous response, give the capture a moment and re-check once
	select {
	case <-time.After(a.recheckDelay):
	case <-ctx.Done():
		return "", ctx.Err()
	}

	if snapshot, ok := a.checkWayback(ctx, pageURL); ok {
		return snapshot, nil
	}
	return "", fmt.Errorf("wayback returned no snapshot (status %d)", resp.StatusCode)
}

// checkWayback queries the availability API for an existing snapshot
func (a *Archiver) checkWayback(ctx context.Context, pageURL string) (string, bool) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.CheckTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.cfg.WaybackCheckURL+pageURL, http.NoBody)
	if err != nil {
		return "", false
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return "", false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", false
	}

	var data struct {
		ArchivedSnapshots struct {
			Closest struct {
				Available bool   `json:"available"`
				URL       string `json:"url"`
			} `json:"closest"`
		} `json:"archived_snapshots"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return "", false
	}

	closest := data.ArchivedSnapshots.Closest
	if closest.Available && closest.URL != "" {
		return closest.URL, true
	}
	return "", false
}
