package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/go-pkgz/lgr"

	"github.com/impactscan/impactscan/pkg/domain"
)

// Summarizer computes the sentiment snapshot the digest renders
type Summarizer interface {
	MarketSummary(ctx context.Context, sinceHours int) (*domain.MarketSummary, error)
}

// EmailConfig holds settings for the digest channel
type EmailConfig struct {
	APIKey   string
	Endpoint string
	From     string
	To       []string
	Timeout  time.Duration
}

// EmailResult reports the outcome of one digest attempt
type EmailResult struct {
	Status string `json:"status"` // sent, skipped or error
	Reason string `json:"reason,omitempty"`
	ID     string `json:"id,omitempty"`
}

// Mailer renders the market summary into an HTML digest and delivers it via
// an HTTP email API. It consumes the same snapshot as the webhook dispatcher
// but fails independently of it.
type Mailer struct {
	cfg        EmailConfig
	summarizer Summarizer
	client     *http.Client
}

// NewMailer creates a digest mailer
func NewMailer(cfg EmailConfig, summarizer Summarizer) *Mailer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &Mailer{cfg: cfg, summarizer: summarizer, client: &http.Client{Timeout: cfg.Timeout}}
}

// SendSummary sends the current full-history market summary
func (m *Mailer) SendSummary(ctx context.Context) (*EmailResult, error) {
	return m.send(ctx, 0, "Market Summary", "MIS Summary")
}

// SendDailyDigest sends the past-24h digest
func (m *Mailer) SendDailyDigest(ctx context.Context) (*EmailResult, error) {
	title := "Daily Digest — Past 24 Hours"
	tag := "Daily Digest | " + time.Now().UTC().Format("Jan 2, 2006")
	return m.send(ctx, 24, title, tag)
}

func (m *Mailer) send(ctx context.Context, sinceHours int, title, subjectTag string) (*EmailResult, error) {
	if m.cfg.APIKey == "" {
		lgr.Printf("[WARN] email api key not set, skipping digest")
		return &EmailResult{Status: "skipped", Reason: "no API key"}, nil
	}
	if len(m.cfg.To) == 0 {
		lgr.Printf("[WARN] email recipients not set, skipping digest")
		return &EmailResult{Status: "skipped", Reason: "no recipient"}, nil
	}

	data, err := m.summarizer.MarketSummary(ctx, sinceHours)
	if err != nil {
		return nil, fmt.Errorf("get market summary: %w", err)
	}
	if data.TotalAnalyzed == 0 {
		lgr.Printf("[INFO] no analyzed articles, skipping email digest")
		return &EmailResult{Status: "skipped", Reason: "no data"}, nil
	}

	subject := fmt.Sprintf("%s Market %s — %d articles analyzed | %s",
		arrow(data.OverallDirection), strings.ToUpper(string(data.OverallDirection)),
		data.TotalAnalyzed, subjectTag)

	html, err := renderDigest(data, title)
	if err != nil {
		return nil, fmt.Errorf("render digest: %w", err)
	}

	payload, err := json.Marshal(map[string]interface{}{
		"from":    m.cfg.From,
		"to":      m.cfg.To,
		"subject": subject,
		"html":    html,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal email payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create email request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+m.cfg.APIKey)

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send email: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("email service returned status %d", resp.StatusCode)
	}

	var result struct {
		ID string `json:"id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&result) // id is informational only

	lgr.Printf("[INFO] sent email digest to %s", strings.Join(m.cfg.To, ", "))
	return &EmailResult{Status: "sent", ID: result.ID}, nil
}

// digestData is the template input
type digestData struct {
	Title     string
	Now       string
	Summary   *domain.MarketSummary
	Arrow     string
	Direction string
	Sectors   []digestSector
}

type digestSector struct {
	Name  string
	Arrow string
	Count int
}

var digestTmpl = template.Must(template.New("digest").Parse(`
<div style="background:#0a0e17;color:#e1e4ea;font-family:-apple-system,'Segoe UI',Roboto,sans-serif;padding:20px;">
  <div style="max-width:640px;margin:0 auto;">
    <div style="text-align:center;padding:20px 0;border-bottom:1px solid #1e2636;">
      <h1 style="margin:0;font-size:22px;">MIS<span style="color:#26a69a;">.</span> {{.Title}}</h1>
      <p style="margin:6px 0 0;font-size:12px;color:#545b67;">{{.Now}}</p>
    </div>
    <div style="text-align:center;padding:24px 0;border-bottom:1px solid #1e2636;">
      <div style="font-size:36px;font-weight:700;">{{.Arrow}}</div>
      <div style="font-size:22px;font-weight:700;text-transform:uppercase;letter-spacing:1px;">{{.Direction}}</div>
      <div style="font-size:11px;color:#545b67;">Overall Market Sentiment</div>
    </div>
    <p style="font-size:13px;text-align:center;">
      Analyzed: <b>{{.Summary.TotalAnalyzed}}</b> &middot; Avg score: <b>{{.Summary.AvgScore}}</b>
    </p>
    <h2 style="font-size:12px;text-transform:uppercase;letter-spacing:1px;color:#545b67;">Key Drivers</h2>
    <table width="100%" cellpadding="0" cellspacing="0" style="background:#131722;border-radius:8px;">
      {{range .Summary.TopDrivers}}
      <tr>
        <td style="padding:10px 12px;border-bottom:1px solid #1e2636;">
          <div style="font-size:13px;font-weight:600;"><a href="{{.URL}}" style="color:#42a5f5;text-decoration:none;">{{.Title}}</a></div>
          <div style="font-size:11px;color:#545b67;margin-top:3px;">{{.Source}}</div>
          <div style="font-size:12px;color:#8a919e;margin-top:5px;">{{.ImpactSummary}}</div>
        </td>
        <td style="padding:10px 12px;border-bottom:1px solid #1e2636;text-align:right;">
          <span style="font-size:14px;font-weight:800;">{{.ImpactScore}}</span>
        </td>
      </tr>
      {{end}}
    </table>
    <h2 style="font-size:12px;text-transform:uppercase;letter-spacing:1px;color:#545b67;">Sector Sentiment</h2>
    <table width="100%" cellpadding="0" cellspacing="0" style="background:#131722;border-radius:8px;">
      {{range .Sectors}}
      <tr><td style="padding:8px 10px;border-bottom:1px solid #1e2636;">
        <span style="font-weight:700;font-size:14px;">{{.Arrow}}</span>
        <span style="font-size:12px;font-weight:600;">&nbsp;{{.Name}}</span>
        <span style="color:#545b67;font-size:10px;">&nbsp;({{.Count}})</span>
      </td></tr>
      {{end}}
    </table>
  </div>
</div>`))

// renderDigest builds the digest HTML from a snapshot
func renderDigest(summary *domain.MarketSummary, title string) (string, error) {
	sectors := make([]digestSector, 0, len(summary.SectorOrder))
	for i, name := range summary.SectorOrder {
		if i >= 15 {
			break
		}
		s := summary.SectorSentiment[name]
		sectors = append(sectors, digestSector{Name: name, Arrow: arrow(s.Direction), Count: s.Count})
	}

	data := digestData{
		Title:     title,
		Now:       time.Now().UTC().Format("January 2, 2006 15:04 UTC"),
		Summary:   summary,
		Arrow:     arrow(summary.OverallDirection),
		Direction: string(summary.OverallDirection),
		Sectors:   sectors,
	}

	var buf bytes.Buffer
	if err := digestTmpl.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
