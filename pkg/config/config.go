package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds the application configuration
type Config struct {
	Server struct {
		Listen  string        `yaml:"listen" json:"listen" jsonschema:"default=:8050,description=HTTP server listen address"`
		Timeout time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=HTTP server timeout"`
	} `yaml:"server" json:"server" jsonschema:"description=Server configuration"`

	Database struct {
		DSN             string `yaml:"dsn" json:"dsn" jsonschema:"default=file:impactscan.db?cache=shared&mode=rwc,description=Database connection string"`
		MaxOpenConns    int    `yaml:"max_open_conns" json:"max_open_conns" jsonschema:"default=10,description=Maximum number of open connections"`
		MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns" jsonschema:"default=5,description=Maximum number of idle connections"`
		ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime" jsonschema:"default=3600,description=Connection maximum lifetime in seconds"`
	} `yaml:"database" json:"database" jsonschema:"description=Database configuration"`

	Schedule ScheduleConfig `yaml:"schedule" json:"schedule" jsonschema:"description=Background job configuration"`

	Feeds map[string]string `yaml:"feeds" json:"feeds" jsonschema:"description=RSS feed sources (name to URL). Defaults to the built-in financial feed set when empty"`

	Fetch struct {
		Timeout    time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=30s,description=Feed fetch timeout"`
		UserAgent  string        `yaml:"user_agent" json:"user_agent" jsonschema:"default=ImpactScan/1.0,description=User agent for feed requests"`
		MaxWorkers int           `yaml:"max_workers" json:"max_workers" jsonschema:"default=5,description=Maximum concurrent feed fetches"`
	} `yaml:"fetch" json:"fetch" jsonschema:"description=Feed fetching configuration"`

	LLM LLMConfig `yaml:"llm" json:"llm" jsonschema:"description=LLM backends for market-impact analysis"`

	Archive ArchiveConfig `yaml:"archive" json:"archive" jsonschema:"description=Article archival configuration"`

	Notify NotifyConfig `yaml:"notify" json:"notify" jsonschema:"description=Notification channels"`
}

// ScheduleConfig holds intervals and batch sizes for the background workers
type ScheduleConfig struct {
	FetchInterval    time.Duration `yaml:"fetch_interval" json:"fetch_interval" jsonschema:"default=15m,description=Feed fetch interval"`
	AnalyzeInterval  time.Duration `yaml:"analyze_interval" json:"analyze_interval" jsonschema:"default=5m,description=Analysis interval"`
	ArchiveInterval  time.Duration `yaml:"archive_interval" json:"archive_interval" jsonschema:"default=30m,description=Archival interval"`
	NotifyInterval   time.Duration `yaml:"notify_interval" json:"notify_interval" jsonschema:"default=3h,description=Notification dispatch interval"`
	ExternalInterval time.Duration `yaml:"external_interval" json:"external_interval" jsonschema:"default=6h,description=External high-impact summary interval"`
	DigestInterval   time.Duration `yaml:"digest_interval" json:"digest_interval" jsonschema:"default=24h,description=Email digest interval"`
	AnalyzeBatch     int           `yaml:"analyze_batch" json:"analyze_batch" jsonschema:"default=15,description=Items analyzed per cycle"`
	ArchiveBatch     int           `yaml:"archive_batch" json:"archive_batch" jsonschema:"default=20,description=Items archived per cycle"`
}

// LLMConfig holds backends for market-impact analysis. The remote backend is
// used whenever an API key is present; otherwise the local Ollama instance is
// probed for the configured model on every call.
type LLMConfig struct {
	APIKey         string        `yaml:"api_key" json:"api_key" jsonschema:"description=Remote API key. When set the remote backend is selected"`
	RemoteEndpoint string        `yaml:"remote_endpoint" json:"remote_endpoint" jsonschema:"default=https://api.groq.com/openai/v1,description=OpenAI-compatible remote endpoint"`
	RemoteModel    string        `yaml:"remote_model" json:"remote_model" jsonschema:"default=llama-3.3-70b-versatile,description=Remote model name"`
	OllamaEndpoint string        `yaml:"ollama_endpoint" json:"ollama_endpoint" jsonschema:"default=http://localhost:11434,description=Local Ollama endpoint"`
	OllamaModel    string        `yaml:"ollama_model" json:"ollama_model" jsonschema:"default=llama3.1:8b,description=Local model name"`
	Temperature    float64       `yaml:"temperature" json:"temperature" jsonschema:"default=0.1,description=Sampling temperature (low for deterministic output)"`
	MaxTokens      int           `yaml:"max_tokens" json:"max_tokens" jsonschema:"default=500,description=Maximum tokens in response"`
	Timeout        time.Duration `yaml:"timeout" json:"timeout" jsonschema:"default=60s,description=Request timeout"`
}

// ArchiveConfig holds settings for the archival fallback chain
type ArchiveConfig struct {
	Enabled         bool          `yaml:"enabled" json:"enabled" jsonschema:"default=true,description=Enable article archiving"`
	PrimaryEndpoint string        `yaml:"primary_endpoint" json:"primary_endpoint" jsonschema:"default=https://archive.ph,description=Primary archival service"`
	WaybackSaveURL  string        `yaml:"wayback_save_url" json:"wayback_save_url" jsonschema:"default=https://web.archive.org/save/,description=Wayback save endpoint"`
	WaybackCheckURL string        `yaml:"wayback_check_url" json:"wayback_check_url" jsonschema:"default=https://archive.org/wayback/available?url=,description=Wayback availability endpoint"`
	Delay           time.Duration `yaml:"delay" json:"delay" jsonschema:"default=2s,description=Politeness delay between submissions"`
	CheckTimeout    time.Duration `yaml:"check_timeout" json:"check_timeout" jsonschema:"default=15s,description=Availability check timeout"`
	SaveTimeout     time.Duration `yaml:"save_timeout" json:"save_timeout" jsonschema:"default=30s,description=Capture submission timeout"`
}

// NotifyConfig holds webhook channels and the email digest settings
type NotifyConfig struct {
	MainWebhook     string            `yaml:"main_webhook" json:"main_webhook" jsonschema:"description=Main summary webhook URL"`
	SectorWebhooks  map[string]string `yaml:"sector_webhooks" json:"sector_webhooks" jsonschema:"description=Per-category webhook URLs (TMT/Defensive/Macroeconomics/Cyclical)"`
	ExternalWebhook string            `yaml:"external_webhook" json:"external_webhook" jsonschema:"description=External high-impact summary webhook URL"`
	Timeout         time.Duration     `yaml:"timeout" json:"timeout" jsonschema:"default=15s,description=Webhook delivery timeout"`

	Email struct {
		APIKey   string   `yaml:"api_key" json:"api_key" jsonschema:"description=Email service API key"`
		Endpoint string   `yaml:"endpoint" json:"endpoint" jsonschema:"default=https://api.resend.com/emails,description=Email service endpoint"`
		From     string   `yaml:"from" json:"from" jsonschema:"default=Market Impact Scanner <onboarding@resend.dev>,description=Sender address"`
		To       []string `yaml:"to" json:"to" jsonschema:"description=Recipient addresses"`
	} `yaml:"email" json:"email" jsonschema:"description=Email digest settings"`
}

// DefaultFeeds is the curated financial feed set used when the config does
// not define its own
var DefaultFeeds = map[string]string{
	"CNBC Top News":             "https://search.cnbc.com/rs/search/combinedcms/view.xml?partnerId=wrss01&id=100003114",
	"CNBC World":                "https://search.cnbc.com/rs/search/combinedcms/view.xml?partnerId=wrss01&id=100727362",
	"CNBC Economy":              "https://search.cnbc.com/rs/search/combinedcms/view.xml?partnerId=wrss01&id=20910258",
	"CNBC Finance":              "https://search.cnbc.com/rs/search/combinedcms/view.xml?partnerId=wrss01&id=10000664",
	"MarketWatch Top Stories":   "https://feeds.marketwatch.com/marketwatch/topstories/",
	"MarketWatch Markets":       "https://feeds.marketwatch.com/marketwatch/marketpulse/",
	"Reuters Business":          "https://www.reutersagency.com/feed/?best-topics=business-finance&post_type=best",
	"Yahoo Finance":             "https://finance.yahoo.com/news/rssindex",
	"Seeking Alpha Market News": "https://seekingalpha.com/market_currents.xml",
	"Seeking Alpha Wall St":     "https://seekingalpha.com/tag/wall-st-breakfast.xml",
	"Investing.com News":        "https://www.investing.com/rss/news.rss",
	"WSJ Markets":               "https://feeds.a.dj.com/rss/RSSMarketsMain.xml",
	"WSJ World":                 "https://feeds.a.dj.com/rss/RSSWorldNews.xml",
	"FT Home":                   "https://www.ft.com/?format=rss",
	"BBC Business":              "https://feeds.bbci.co.uk/news/business/rss.xml",
	"AP Business":               "https://rsshub.app/apnews/topics/business",
	"NY Times Business":         "https://rss.nytimes.com/services/xml/rss/nyt/Business.xml",
	"Bloomberg":                 "https://feeds.bloomberg.com/markets/news.rss",
	"The Economist Finance":     "https://www.economist.com/finance-and-economics/rss.xml",
	"Barrons":                   "https://www.barrons.com/feed",
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // file path comes from CLI flag
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	// expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.setDefaults()

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return &cfg, nil
}

// Default returns a configuration with all defaults applied, used when no
// config file is provided
func Default() *Config {
	cfg := &Config{}
	cfg.setDefaults()
	return cfg
}

func (c *Config) setDefaults() {
	if c.Server.Listen == "" {
		c.Server.Listen = ":8050"
	}
	if c.Server.Timeout == 0 {
		c.Server.Timeout = 30 * time.Second
	}

	if c.Database.DSN == "" {
		c.Database.DSN = "file:impactscan.db?cache=shared&mode=rwc&_txlock=immediate"
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.MaxIdleConns == 0 {
		c.Database.MaxIdleConns = 5
	}
	if c.Database.ConnMaxLifetime == 0 {
		c.Database.ConnMaxLifetime = 3600
	}

	if c.Schedule.FetchInterval == 0 {
		c.Schedule.FetchInterval = 15 * time.Minute
	}
	if c.Schedule.AnalyzeInterval == 0 {
		c.Schedule.AnalyzeInterval = 5 * time.Minute
	}
	if c.Schedule.ArchiveInterval == 0 {
		c.Schedule.ArchiveInterval = 30 * time.Minute
	}
	if c.Schedule.NotifyInterval == 0 {
		c.Schedule.NotifyInterval = 3 * time.Hour
	}
	if c.Schedule.ExternalInterval == 0 {
		c.Schedule.ExternalInterval = 6 * time.Hour
	}
	if c.Schedule.DigestInterval == 0 {
		c.Schedule.DigestInterval = 24 * time.Hour
	}
	if c.Schedule.AnalyzeBatch == 0 {
		c.Schedule.AnalyzeBatch = 15
	}
	if c.Schedule.ArchiveBatch == 0 {
		c.Schedule.ArchiveBatch = 20
	}

	if len(c.Feeds) == 0 {
		c.Feeds = DefaultFeeds
	}
	if c.Fetch.Timeout == 0 {
		c.Fetch.Timeout = 30 * time.Second
	}
	if c.Fetch.UserAgent == "" {
		c.Fetch.UserAgent = "ImpactScan/1.0"
	}
	if c.Fetch.MaxWorkers == 0 {
		c.Fetch.MaxWorkers = 5
	}

	if c.LLM.RemoteEndpoint == "" {
		c.LLM.RemoteEndpoint = "https://api.groq.com/openai/v1"
	}
	if c.LLM.RemoteModel == "" {
		c.LLM.RemoteModel = "llama-3.3-70b-versatile"
	}
	if c.LLM.OllamaEndpoint == "" {
		c.LLM.OllamaEndpoint = "http://localhost:11434"
	}
	if c.LLM.OllamaModel == "" {
		c.LLM.OllamaModel = "llama3.1:8b"
	}
	if c.LLM.Temperature == 0 {
		c.LLM.Temperature = 0.1
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 500
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 60 * time.Second
	}

	if c.Archive.PrimaryEndpoint == "" {
		c.Archive.PrimaryEndpoint = "https://archive.ph"
	}
	if c.Archive.WaybackSaveURL == "" {
		c.Archive.WaybackSaveURL = "https://web.archive.org/save/"
	}
	if c.Archive.WaybackCheckURL == "" {
		c.Archive.WaybackCheckURL = "https://archive.org/wayback/available?url="
	}
	if c.Archive.Delay == 0 {
		c.Archive.Delay = 2 * time.Second
	}
	if c.Archive.CheckTimeout == 0 {
		c.Archive.CheckTimeout = 15 * time.Second
	}
	if c.Archive.SaveTimeout == 0 {
		c.Archive.SaveTimeout = 30 * time.Second
	}

	if c.Notify.Timeout == 0 {
		c.Notify.Timeout = 15 * time.Second
	}
	if c.Notify.Email.Endpoint == "" {
		c.Notify.Email.Endpoint = "https://api.resend.com/emails"
	}
	if c.Notify.Email.From == "" {
		c.Notify.Email.From = "Market Impact Scanner <onboarding@resend.dev>"
	}
}

// validate checks configuration for correctness
func validate(cfg *Config) error {
	if cfg.LLM.Temperature < 0 || cfg.LLM.Temperature > 2 {
		return fmt.Errorf("llm.temperature must be between 0 and 2")
	}
	if cfg.Schedule.AnalyzeBatch < 1 {
		return fmt.Errorf("schedule.analyze_batch must be at least 1")
	}
	if cfg.Schedule.ArchiveBatch < 1 {
		return fmt.Errorf("schedule.archive_batch must be at least 1")
	}
	if cfg.Server.Timeout < time.Second {
		return fmt.Errorf("server timeout must be at least 1 second")
	}
	if cfg.Fetch.Timeout < time.Second {
		return fmt.Errorf("fetch timeout must be at least 1 second")
	}
	return nil
}

// GetServerConfig returns server configuration
func (c *Config) GetServerConfig() (listen string, timeout time.Duration) {
	return c.Server.Listen, c.Server.Timeout
}

// GetLLMConfig returns LLM configuration
func (c *Config) GetLLMConfig() LLMConfig {
	return c.LLM
}

// GetArchiveConfig returns archival configuration
func (c *Config) GetArchiveConfig() ArchiveConfig {
	return c.Archive
}

// GetNotifyConfig returns notification configuration
func (c *Config) GetNotifyConfig() NotifyConfig {
	return c.Notify
}

// GetFeeds returns the configured feed sources, name to URL
func (c *Config) GetFeeds() map[string]string {
	return c.Feeds
}
