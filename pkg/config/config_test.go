package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  listen: ":9090"
  timeout: 45s

database:
  dsn: "file:test.db?mode=rwc"

schedule:
  fetch_interval: 10m
  analyze_batch: 7

feeds:
  Custom Feed: "https://example.com/rss"

llm:
  api_key: "test-key"
  temperature: 0.3

notify:
  main_webhook: "https://discord.example.com/hook"
  email:
    to: ["trader@example.com"]
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Listen)
	assert.Equal(t, 45*time.Second, cfg.Server.Timeout)
	assert.Equal(t, "file:test.db?mode=rwc", cfg.Database.DSN)
	assert.Equal(t, 10*time.Minute, cfg.Schedule.FetchInterval)
	assert.Equal(t, 7, cfg.Schedule.AnalyzeBatch)
	assert.Equal(t, "test-key", cfg.LLM.APIKey)
	assert.InDelta(t, 0.3, cfg.LLM.Temperature, 0.001)
	assert.Equal(t, "https://discord.example.com/hook", cfg.Notify.MainWebhook)
	assert.Equal(t, []string{"trader@example.com"}, cfg.Notify.Email.To)

	// explicit feeds replace the built-in set entirely
	assert.Equal(t, map[string]string{"Custom Feed": "https://example.com/rss"}, cfg.Feeds)

	// unset sections still get defaults
	assert.Equal(t, 5*time.Minute, cfg.Schedule.AnalyzeInterval)
	assert.Equal(t, "https://api.groq.com/openai/v1", cfg.LLM.RemoteEndpoint)
	assert.Equal(t, "https://archive.ph", cfg.Archive.PrimaryEndpoint)
}

func TestLoad_EnvExpansion(t *testing.T) {
	t.Setenv("TEST_GROQ_KEY", "secret-from-env")

	path := writeConfig(t, `
llm:
  api_key: "${TEST_GROQ_KEY}"
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "secret-from-env", cfg.LLM.APIKey)
}

func TestLoad_Errors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		_, err := Load("/nonexistent/config.yml")
		require.Error(t, err)
	})

	t.Run("invalid yaml", func(t *testing.T) {
		path := writeConfig(t, "server: [not a map")
		_, err := Load(path)
		require.Error(t, err)
	})

	t.Run("temperature out of range", func(t *testing.T) {
		path := writeConfig(t, "llm:\n  temperature: 3.5\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "temperature")
	})

	t.Run("negative analyze batch", func(t *testing.T) {
		path := writeConfig(t, "schedule:\n  analyze_batch: -1\n")
		_, err := Load(path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "analyze_batch")
	})
}

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, ":8050", cfg.Server.Listen)
	assert.Equal(t, 15*time.Minute, cfg.Schedule.FetchInterval)
	assert.Equal(t, 3*time.Hour, cfg.Schedule.NotifyInterval)
	assert.Equal(t, 15, cfg.Schedule.AnalyzeBatch)
	assert.InDelta(t, 0.1, cfg.LLM.Temperature, 0.001)
	assert.Equal(t, 2*time.Second, cfg.Archive.Delay)
	assert.Equal(t, "https://api.resend.com/emails", cfg.Notify.Email.Endpoint)

	// curated financial feed set ships by default
	assert.NotEmpty(t, cfg.Feeds)
	assert.Contains(t, cfg.Feeds, "CNBC Top News")
	assert.Contains(t, cfg.Feeds, "Bloomberg")
	assert.Len(t, cfg.Feeds, 20)
}

func TestGetters(t *testing.T) {
	cfg := Default()

	listen, timeout := cfg.GetServerConfig()
	assert.Equal(t, ":8050", listen)
	assert.Equal(t, 30*time.Second, timeout)

	assert.Equal(t, cfg.LLM, cfg.GetLLMConfig())
	assert.Equal(t, cfg.Archive, cfg.GetArchiveConfig())
	assert.Equal(t, cfg.Notify, cfg.GetNotifyConfig())
	assert.Equal(t, cfg.Feeds, cfg.GetFeeds())
}
