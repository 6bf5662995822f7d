package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/go-pkgz/lgr"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"

	"github.com/impactscan/impactscan/pkg/aggregate"
	"github.com/impactscan/impactscan/pkg/archive"
	"github.com/impactscan/impactscan/pkg/config"
	"github.com/impactscan/impactscan/pkg/feed"
	"github.com/impactscan/impactscan/pkg/llm"
	"github.com/impactscan/impactscan/pkg/notify"
	"github.com/impactscan/impactscan/pkg/repository"
	"github.com/impactscan/impactscan/pkg/scheduler"
	"github.com/impactscan/impactscan/server"
)

// Opts with all CLI options
type Opts struct {
	Config string `short:"c" long:"config" env:"CONFIG" default:"config.yml" description:"config file path"`

	Debug   bool `long:"dbg" env:"DEBUG" description:"debug mode"`
	Version bool `short:"V" long:"version" description:"show version info"`
	NoColor bool `long:"no-color" env:"NO_COLOR" description:"disable color output"`
}

var revision = "unknown"

func main() {
	// .env is optional, environment wins when both define a key
	_ = godotenv.Load()

	var opts Opts
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	if opts.Version {
		fmt.Printf("Version: %s\nGolang: %s\n", revision, runtime.Version())
		os.Exit(0)
	}

	setupLog(opts.Debug, os.Getenv("GROQ_API_KEY"), os.Getenv("RESEND_API_KEY"))

	lgr.Printf("[INFO] starting impactscan version %s", revision)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
		<-sigChan
		lgr.Printf("[INFO] termination signal received")
		cancel()
	}()

	if err := run(ctx, opts); err != nil {
		lgr.Printf("[ERROR] %v", err)
		os.Exit(1)
	}

	lgr.Printf("[INFO] shutdown complete")
}

func run(ctx context.Context, opts Opts) error {
	cfg, err := loadConfig(opts.Config)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	repos, err := repository.NewRepositories(ctx, repository.Config{
		DSN:             cfg.Database.DSN,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: time.Duration(cfg.Database.ConnMaxLifetime) * time.Second,
	})
	if err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	defer repos.Close()

	feedParser := feed.NewParser(cfg.Fetch.Timeout, cfg.Fetch.UserAgent)
	fetcher := feed.NewManager(cfg.Feeds, feedParser, repos.Item, cfg.Fetch.MaxWorkers)

	selector := llm.NewSelector(cfg.GetLLMConfig())
	analyzer := llm.NewAnalyzer(selector, repos.Item)

	archiver := archive.NewArchiver(cfg.GetArchiveConfig(), repos.Item)
	aggregator := aggregate.NewAggregator(repos.Item)

	notifyCfg := cfg.GetNotifyConfig()

	// keep typed nils out of the interface fields so the nil checks
	// downstream behave
	var schedDispatcher scheduler.Dispatcher
	var srvDispatcher server.Dispatcher
	if dispatcher := makeDispatcher(repos, notifyCfg); dispatcher != nil {
		schedDispatcher, srvDispatcher = dispatcher, dispatcher
	}

	var schedMailer scheduler.Mailer
	var srvMailer server.Mailer
	if mailer := makeMailer(aggregator, notifyCfg); mailer != nil {
		schedMailer, srvMailer = mailer, mailer
	}

	sched := scheduler.NewScheduler(fetcher, analyzer, archiver, schedDispatcher, schedMailer, cfg.Schedule)
	sched.Start(ctx)
	defer sched.Stop()

	srv := server.New(server.Deps{
		Config:     cfg,
		Store:      repos.Item,
		Fetcher:    fetcher,
		Analyzer:   analyzer,
		Archiver:   archiver,
		Aggregator: aggregator,
		Dispatcher: srvDispatcher,
		Mailer:     srvMailer,
		Backends:   selector,
	}, revision, opts.Debug)

	return srv.Run(ctx)
}

// loadConfig reads the config file, falling back to built-in defaults when
// the file does not exist
func loadConfig(path string) (*config.Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		lgr.Printf("[WARN] config file %s not found, using defaults", path)
		return config.Default(), nil
	}
	return config.Load(path)
}

// makeDispatcher builds the webhook dispatcher, nil when no webhook is set
func makeDispatcher(repos *repository.Repositories, cfg config.NotifyConfig) *notify.Dispatcher {
	main := channelOrNil(cfg.MainWebhook, cfg.Timeout)
	external := channelOrNil(cfg.ExternalWebhook, cfg.Timeout)

	sectors := make(map[string]notify.Channel)
	for name, url := range cfg.SectorWebhooks {
		if ch := channelOrNil(url, cfg.Timeout); ch != nil {
			sectors[name] = ch
		}
	}

	if main == nil && external == nil && len(sectors) == 0 {
		lgr.Printf("[WARN] no webhooks configured, dispatcher disabled")
		return nil
	}
	return notify.NewDispatcher(repos.Item, main, sectors, external)
}

// channelOrNil keeps the nil returned for an empty URL out of the interface
func channelOrNil(url string, timeout time.Duration) notify.Channel {
	if ch := notify.NewWebhookChannel(url, timeout); ch != nil {
		return ch
	}
	return nil
}

// makeMailer builds the email digest mailer, nil when no API key is set
func makeMailer(aggregator *aggregate.Aggregator, cfg config.NotifyConfig) *notify.Mailer {
	if cfg.Email.APIKey == "" {
		return nil
	}
	return notify.NewMailer(notify.EmailConfig{
		APIKey:   cfg.Email.APIKey,
		Endpoint: cfg.Email.Endpoint,
		From:     cfg.Email.From,
		To:       cfg.Email.To,
		Timeout:  cfg.Timeout,
	}, aggregator)
}

func setupLog(dbg bool, secs ...string) {
	logOpts := []lgr.Option{lgr.Msec, lgr.LevelBraces}
	if dbg {
		logOpts = []lgr.Option{lgr.Debug, lgr.Msec, lgr.LevelBraces, lgr.StackTraceOnError}
	}

	colorizer := lgr.Mapper{
		ErrorFunc:  func(s string) string { return color.New(color.FgHiRed).Sprint(s) },
		WarnFunc:   func(s string) string { return color.New(color.FgRed).Sprint(s) },
		InfoFunc:   func(s string) string { return color.New(color.FgYellow).Sprint(s) },
		DebugFunc:  func(s string) string { return color.New(color.FgWhite).Sprint(s) },
		CallerFunc: func(s string) string { return color.New(color.FgBlue).Sprint(s) },
		TimeFunc:   func(s string) string { return color.New(color.FgCyan).Sprint(s) },
	}
	logOpts = append(logOpts, lgr.Map(colorizer))

	secrets := make([]string, 0, len(secs))
	for _, s := range secs {
		if s != "" {
			secrets = append(secrets, s)
		}
	}
	if len(secrets) > 0 {
		logOpts = append(logOpts, lgr.Secret(secrets...))
	}
	lgr.SetupStdLogger(logOpts...)
	lgr.Setup(logOpts...)
}
