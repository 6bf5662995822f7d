package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"
	"github.com/go-pkgz/rest"
	"github.com/go-pkgz/rest/logger"
	"github.com/go-pkgz/routegroup"

	"github.com/impactscan/impactscan/pkg/archive"
	"github.com/impactscan/impactscan/pkg/domain"
	"github.com/impactscan/impactscan/pkg/feed"
	"github.com/impactscan/impactscan/pkg/llm"
	"github.com/impactscan/impactscan/pkg/notify"
	"github.com/impactscan/impactscan/pkg/repository"
)

// Server represents HTTP server instance
type Server struct {
	config     ConfigProvider
	store      Store
	fetcher    Fetcher
	analyzer   Analyzer
	archiver   Archiver
	aggregator Aggregator
	dispatcher Dispatcher
	mailer     Mailer
	backends   BackendChecker
	version    string
	debug      bool

	lock       sync.Mutex
	httpServer *http.Server
	router     *routegroup.Bundle
}

// Store interface for article queries
type Store interface {
	GetArticles(ctx context.Context, q repository.ArticlesQuery) ([]*domain.Item, error)
	Counts(ctx context.Context) (*repository.Counts, error)
	Sources(ctx context.Context) ([]string, error)
}

// Fetcher interface for on-demand feed pulls
type Fetcher interface {
	FetchAll(ctx context.Context) (*feed.FetchStats, error)
	FetchOne(ctx context.Context, name string) (*feed.FetchStats, error)
	Sources() []string
}

// Analyzer interface for on-demand analysis
type Analyzer interface {
	AnalyzePending(ctx context.Context, batchSize int) (*llm.Stats, error)
}

// Archiver interface for on-demand archival
type Archiver interface {
	ArchivePending(ctx context.Context, batchSize int) (*archive.Stats, error)
}

// Aggregator computes the market summary snapshot
type Aggregator interface {
	MarketSummary(ctx context.Context, sinceHours int) (*domain.MarketSummary, error)
}

// Dispatcher triggers webhook notifications
type Dispatcher interface {
	DispatchSummary(ctx context.Context, force bool) error
	DispatchExternal(ctx context.Context) error
}

// Mailer triggers email summaries
type Mailer interface {
	SendSummary(ctx context.Context) (*notify.EmailResult, error)
}

// BackendChecker reports LLM backend availability
type BackendChecker interface {
	Available(ctx context.Context) bool
}

// ConfigProvider provides server configuration
type ConfigProvider interface {
	GetServerConfig() (listen string, timeout time.Duration)
	GetFeeds() map[string]string
}

// Deps bundles server dependencies
type Deps struct {
	Config     ConfigProvider
	Store      Store
	Fetcher    Fetcher
	Analyzer   Analyzer
	Archiver   Archiver
	Aggregator Aggregator
	Dispatcher Dispatcher
	Mailer     Mailer
	Backends   BackendChecker
}

// New initializes a new server instance
func New(deps Deps, version string, debug bool) *Server {
	s := &Server{
		config:     deps.Config,
		store:      deps.Store,
		fetcher:    deps.Fetcher,
		analyzer:   deps.Analyzer,
		archiver:   deps.Archiver,
		aggregator: deps.Aggregator,
		dispatcher: deps.Dispatcher,
		mailer:     deps.Mailer,
		backends:   deps.Backends,
		version:    version,
		debug:      debug,
		router:     routegroup.New(http.NewServeMux()),
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

// Run starts the HTTP server and handles graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	listen, timeout := s.config.GetServerConfig()
	lgr.Printf("[INFO] starting server on %s", listen)

	s.lock.Lock()
	s.httpServer = &http.Server{
		Addr:         listen,
		Handler:      s.router,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	s.lock.Unlock()

	go func() {
		<-ctx.Done()
		lgr.Printf("[INFO] shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			lgr.Printf("[WARN] server shutdown error: %v", err)
		}
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server error: %w", err)
	}

	return nil
}

// setupMiddleware configures standard middleware for the server
func (s *Server) setupMiddleware() {
	s.router.Use(rest.AppInfo("impactscan", "impactscan", s.version))
	s.router.Use(rest.Ping)

	if s.debug {
		s.router.Use(logger.New(logger.Log(lgr.Default()), logger.Prefix("[DEBUG]")).Handler)
	}

	s.router.Use(rest.Recoverer(lgr.Default()))
	s.router.Use(rest.Throttle(100))
	s.router.Use(rest.SizeLimit(1024 * 1024)) // 1MB
}

// setupRoutes configures application routes
func (s *Server) setupRoutes() {
	s.router.Mount("/api").Route(func(r *routegroup.Bundle) {
		r.HandleFunc("GET /health", s.healthHandler)
		r.HandleFunc("GET /articles", s.articlesHandler)
		r.HandleFunc("GET /stats", s.statsHandler)
		r.HandleFunc("GET /sources", s.sourcesHandler)
		r.HandleFunc("GET /feeds", s.feedsHandler)
		r.HandleFunc("GET /market-summary", s.marketSummaryHandler)

		r.HandleFunc("POST /fetch", s.fetchHandler)
		r.HandleFunc("POST /analyze", s.analyzeHandler)
		r.HandleFunc("POST /archive", s.archiveHandler)
		r.HandleFunc("POST /summary", s.summaryHandler)
		r.HandleFunc("POST /email-summary", s.emailSummaryHandler)
	})
}
