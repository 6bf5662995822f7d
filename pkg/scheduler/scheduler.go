package scheduler

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/impactscan/impactscan/pkg/archive"
	"github.com/impactscan/impactscan/pkg/config"
	"github.com/impactscan/impactscan/pkg/feed"
	"github.com/impactscan/impactscan/pkg/llm"
	"github.com/impactscan/impactscan/pkg/notify"
)

// Fetcher pulls all configured feeds
type Fetcher interface {
	FetchAll(ctx context.Context) (*feed.FetchStats, error)
}

// Analyzer scores pending articles through the LLM
type Analyzer interface {
	AnalyzePending(ctx context.Context, batchSize int) (*llm.Stats, error)
}

// Archiver snapshots pending articles
type Archiver interface {
	ArchivePending(ctx context.Context, batchSize int) (*archive.Stats, error)
}

// Dispatcher sends webhook notifications
type Dispatcher interface {
	DispatchSummary(ctx context.Context, force bool) error
	DispatchExternal(ctx context.Context) error
}

// Mailer sends email digests
type Mailer interface {
	SendDailyDigest(ctx context.Context) (*notify.EmailResult, error)
}

// Scheduler runs the pipeline stages on their own tickers. Fetch runs
// immediately on start, every other stage waits for its first tick.
type Scheduler struct {
	fetcher    Fetcher
	analyzer   Analyzer
	archiver   Archiver
	dispatcher Dispatcher
	mailer     Mailer
	cfg        config.ScheduleConfig
	wg         sync.WaitGroup
	cancel     context.CancelFunc
}

// NewScheduler creates a scheduler for the given stages. Dispatcher and
// mailer may be nil when notifications are not configured.
func NewScheduler(fetcher Fetcher, analyzer Analyzer, archiver Archiver, dispatcher Dispatcher, mailer Mailer, cfg config.ScheduleConfig) *Scheduler {
	return &Scheduler{
		fetcher:    fetcher,
		analyzer:   analyzer,
		archiver:   archiver,
		dispatcher: dispatcher,
		mailer:     mailer,
		cfg:        cfg,
	}
}

// Start begins the background workers
func (s *Scheduler) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(1)
	go s.fetchWorker(ctx)

	s.wg.Add(1)
	go s.analyzeWorker(ctx)

	s.wg.Add(1)
	go s.archiveWorker(ctx)

	if s.dispatcher != nil {
		s.wg.Add(1)
		go s.notifyWorker(ctx)

		s.wg.Add(1)
		go s.externalWorker(ctx)
	}

	if s.mailer != nil {
		s.wg.Add(1)
		go s.digestWorker(ctx)
	}

	lgr.Printf("[INFO] scheduler started with fetch interval %v, analyze interval %v, archive interval %v",
		s.cfg.FetchInterval, s.cfg.AnalyzeInterval, s.cfg.ArchiveInterval)
}

// Stop gracefully stops the scheduler
func (s *Scheduler) Stop() {
	lgr.Printf("[INFO] stopping scheduler...")
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	lgr.Printf("[INFO] scheduler stopped")
}

// fetchWorker periodically pulls all feeds, starting immediately
func (s *Scheduler) fetchWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.FetchInterval)
	defer ticker.Stop()

	// run immediately on start
	s.runFetch(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.runFetch(ctx)
		}
	}
}

func (s *Scheduler) runFetch(ctx context.Context) {
	stats, err := s.fetcher.FetchAll(ctx)
	if err != nil {
		lgr.Printf("[ERROR] feed fetch failed: %v", err)
		return
	}
	lgr.Printf("[INFO] fetch cycle done: %d new, %d duplicates, %d errors",
		stats.New, stats.Duplicates, stats.Errors)
}

// analyzeWorker periodically scores unanalyzed articles
func (s *Scheduler) analyzeWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.AnalyzeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.AnalyzeNow(ctx)
		}
	}
}

// AnalyzeNow runs one analysis batch immediately
func (s *Scheduler) AnalyzeNow(ctx context.Context) {
	stats, err := s.analyzer.AnalyzePending(ctx, s.cfg.AnalyzeBatch)
	if err != nil {
		if errors.Is(err, llm.ErrNoBackend) {
			lgr.Printf("[WARN] no analysis backend available, skipping cycle")
			return
		}
		lgr.Printf("[ERROR] analysis cycle failed: %v", err)
		return
	}
	if stats.Total > 0 {
		lgr.Printf("[INFO] analysis cycle done: %d analyzed, %d failed", stats.Analyzed, stats.Failed)
	}
}

// archiveWorker periodically snapshots articles without an archive link
func (s *Scheduler) archiveWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ArchiveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.ArchiveNow(ctx)
		}
	}
}

// ArchiveNow runs one archival batch immediately
func (s *Scheduler) ArchiveNow(ctx context.Context) {
	stats, err := s.archiver.ArchivePending(ctx, s.cfg.ArchiveBatch)
	if err != nil {
		lgr.Printf("[ERROR] archive cycle failed: %v", err)
		return
	}
	if stats.Total > 0 {
		lgr.Printf("[INFO] archive cycle done: %d archived, %d failed", stats.Archived, stats.Failed)
	}
}

// notifyWorker periodically dispatches the webhook summary
func (s *Scheduler) notifyWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.NotifyInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.dispatcher.DispatchSummary(ctx, false); err != nil {
				lgr.Printf("[ERROR] summary dispatch failed: %v", err)
			}
		}
	}
}

// externalWorker periodically dispatches the high-impact external summary
func (s *Scheduler) externalWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.ExternalInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.dispatcher.DispatchExternal(ctx); err != nil {
				lgr.Printf("[ERROR] external dispatch failed: %v", err)
			}
		}
	}
}

// digestWorker periodically sends the email digest
func (s *Scheduler) digestWorker(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.DigestInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.mailer.SendDailyDigest(ctx); err != nil {
				lgr.Printf("[ERROR] email digest failed: %v", err)
			}
		}
	}
}
