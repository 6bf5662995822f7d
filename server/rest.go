package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/impactscan/impactscan/pkg/feed"
	"github.com/impactscan/impactscan/pkg/llm"
	"github.com/impactscan/impactscan/pkg/repository"
)

const (
	defaultArticlesLimit = 50
	maxArticlesLimit     = 200
	defaultAnalyzeBatch  = 15
	defaultArchiveBatch  = 20
)

// healthHandler reports service health and LLM backend availability
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"status":        "ok",
		"version":       s.version,
		"llm_available": s.backends.Available(r.Context()),
		"time":          time.Now().UTC(),
	}
	renderJSON(w, r, http.StatusOK, resp)
}

// articlesHandler returns a filtered, sorted article listing
func (s *Server) articlesHandler(w http.ResponseWriter, r *http.Request) {
	q := repository.ArticlesQuery{
		ImpactLevel: r.URL.Query().Get("impact_level"),
		Source:      r.URL.Query().Get("source"),
		SortBy:      r.URL.Query().Get("sort_by"),
		SortOrder:   r.URL.Query().Get("sort_order"),
		Limit:       intParam(r, "limit", defaultArticlesLimit),
		Offset:      intParam(r, "offset", 0),
	}
	if q.Limit > maxArticlesLimit {
		q.Limit = maxArticlesLimit
	}

	articles, err := s.store.GetArticles(r.Context(), q)
	if err != nil {
		lgr.Printf("[ERROR] failed to get articles: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}

	renderJSON(w, r, http.StatusOK, map[string]interface{}{
		"articles": articles,
		"count":    len(articles),
	})
}

// statsHandler returns store-wide article tallies
func (s *Server) statsHandler(w http.ResponseWriter, r *http.Request) {
	counts, err := s.store.Counts(r.Context())
	if err != nil {
		lgr.Printf("[ERROR] failed to get stats: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, counts)
}

// sourcesHandler returns the distinct sources present in the store
func (s *Server) sourcesHandler(w http.ResponseWriter, r *http.Request) {
	sources, err := s.store.Sources(r.Context())
	if err != nil {
		lgr.Printf("[ERROR] failed to get sources: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, map[string]interface{}{"sources": sources})
}

// feedsHandler returns the configured feed set
func (s *Server) feedsHandler(w http.ResponseWriter, r *http.Request) {
	renderJSON(w, r, http.StatusOK, map[string]interface{}{"feeds": s.config.GetFeeds()})
}

// marketSummaryHandler returns the aggregated sentiment snapshot,
// optionally restricted to the past N hours
func (s *Server) marketSummaryHandler(w http.ResponseWriter, r *http.Request) {
	hours := intParam(r, "hours", 0)
	if hours < 0 {
		renderError(w, r, fmt.Errorf("hours must not be negative"), http.StatusBadRequest)
		return
	}

	summary, err := s.aggregator.MarketSummary(r.Context(), hours)
	if err != nil {
		lgr.Printf("[ERROR] failed to build market summary: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, summary)
}

// fetchHandler pulls feeds on demand, all of them or a single named source
func (s *Server) fetchHandler(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("source")

	var stats *feed.FetchStats
	var err error
	if name != "" {
		stats, err = s.fetcher.FetchOne(r.Context(), name)
	} else {
		stats, err = s.fetcher.FetchAll(r.Context())
	}
	if err != nil {
		lgr.Printf("[ERROR] fetch failed: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, stats)
}

// analyzeHandler runs one analysis batch on demand
func (s *Server) analyzeHandler(w http.ResponseWriter, r *http.Request) {
	batchSize := intParam(r, "batch_size", defaultAnalyzeBatch)
	if batchSize < 1 {
		renderError(w, r, fmt.Errorf("batch_size must be positive"), http.StatusBadRequest)
		return
	}

	stats, err := s.analyzer.AnalyzePending(r.Context(), batchSize)
	if err != nil {
		if errors.Is(err, llm.ErrNoBackend) {
			renderError(w, r, err, http.StatusServiceUnavailable)
			return
		}
		lgr.Printf("[ERROR] analysis failed: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, stats)
}

// archiveHandler runs one archival batch on demand
func (s *Server) archiveHandler(w http.ResponseWriter, r *http.Request) {
	batchSize := intParam(r, "batch_size", defaultArchiveBatch)
	if batchSize < 1 {
		renderError(w, r, fmt.Errorf("batch_size must be positive"), http.StatusBadRequest)
		return
	}

	stats, err := s.archiver.ArchivePending(r.Context(), batchSize)
	if err != nil {
		lgr.Printf("[ERROR] archival failed: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, stats)
}

// summaryHandler forces a webhook summary dispatch, bypassing the debounce
func (s *Server) summaryHandler(w http.ResponseWriter, r *http.Request) {
	if s.dispatcher == nil {
		renderError(w, r, fmt.Errorf("notifications not configured"), http.StatusServiceUnavailable)
		return
	}

	if err := s.dispatcher.DispatchSummary(r.Context(), true); err != nil {
		lgr.Printf("[ERROR] summary dispatch failed: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, map[string]string{"status": "sent"})
}

// emailSummaryHandler sends the email summary on demand
func (s *Server) emailSummaryHandler(w http.ResponseWriter, r *http.Request) {
	if s.mailer == nil {
		renderError(w, r, fmt.Errorf("email not configured"), http.StatusServiceUnavailable)
		return
	}

	result, err := s.mailer.SendSummary(r.Context())
	if err != nil {
		lgr.Printf("[ERROR] email summary failed: %v", err)
		renderError(w, r, err, http.StatusInternalServerError)
		return
	}
	renderJSON(w, r, http.StatusOK, result)
}

// intParam reads an integer query parameter, falling back to def on
// absence or parse failure
func intParam(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func renderJSON(w http.ResponseWriter, _ *http.Request, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			lgr.Printf("[ERROR] can't encode response to JSON: %v", err)
		}
	}
}

func renderError(w http.ResponseWriter, r *http.Request, err error, code int) {
	errMsg := "unknown error"
	if err != nil {
		errMsg = err.Error()
	}
	renderJSON(w, r, code, map[string]string{"error": errMsg})
}
