package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// MaxEmbeds is the channel's hard per-message limit on rich-content blocks;
// the dispatcher truncates rather than fail a delivery
const MaxEmbeds = 10

// Embed is one rich-content block in a channel message
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Timestamp   string       `json:"timestamp,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
}

// EmbedFooter is the footer line of an embed
type EmbedFooter struct {
	Text string `json:"text"`
}

// Channel delivers rich-content messages; delivery is fire-and-forget from
// the pipeline's perspective, failures are observed but not retried here
type Channel interface {
	Send(ctx context.Context, embeds []Embed) error
}

// WebhookChannel posts embeds to a Discord-compatible webhook URL
type WebhookChannel struct {
	url    string
	client *http.Client
}

// NewWebhookChannel creates a webhook channel. An empty URL yields a nil
// channel, callers treat that as "not configured".
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	if url == "" {
		return nil
	}
	return &WebhookChannel{url: url, client: &http.Client{Timeout: timeout}}
}

// Send delivers up to MaxEmbeds blocks in a single message, truncating the rest
func (c *WebhookChannel) Send(ctx context.Context, embeds []Embed) error {
	if len(embeds) == 0 {
		return nil
	}
	if len(embeds) > MaxEmbeds {
		embeds = embeds[:MaxEmbeds]
	}

	payload, err := json.Marshal(map[string]interface{}{"embeds": embeds})
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
