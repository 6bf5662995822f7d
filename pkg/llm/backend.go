package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/sashabaranov/go-openai"

	"github.com/impactscan/impactscan/pkg/config"
	"github.com/impactscan/impactscan/pkg/domain"
)

// ErrNoBackend indicates no analysis backend is currently available. This is
// a configuration condition, not a transient failure: the operator either has
// to set an API key or start the local model server.
var ErrNoBackend = errors.New("no llm backend available")

// Backend produces a market-impact judgment for one item
type Backend interface {
	Name() string
	Analyze(ctx context.Context, title, summary string) (*domain.Analysis, error)
}

// analysisSchema is the response schema derived from domain.Analysis, sent to
// backends that support schema-validated output
var analysisSchema = func() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true, ExpandedStruct: true}
	return reflector.Reflect(&domain.Analysis{})
}()

// chatBackend is an OpenAI-compatible chat backend, used for both the remote
// provider and the local Ollama server (through its /v1 endpoint)
type chatBackend struct {
	name        string
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
	// the local server validates against a full JSON schema; the remote one
	// only guarantees a JSON object
	useSchema bool
}

// Name returns the backend identifier
func (b *chatBackend) Name() string { return b.name }

// Analyze requests a judgment for one headline/summary pair
func (b *chatBackend) Analyze(ctx context.Context, title, summary string) (*domain.Analysis, error) {
	req := openai.ChatCompletionRequest{
		Model:       b.model,
		Temperature: b.temperature,
		MaxTokens:   b.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: userContent(title, summary)},
		},
	}

	if b.useSchema {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   "market_impact_analysis",
				Schema: analysisSchema,
				Strict: true,
			},
		}
	} else {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := b.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("llm request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("no response from llm")
	}

	return parseAnalysis(resp.Choices[0].Message.Content)
}

// parseAnalysis parses the backend payload against the fixed schema. A parse
// failure is a classification failure for that item, not fatal to the batch.
func parseAnalysis(content string) (*domain.Analysis, error) {
	content = strings.TrimSpace(content)

	// some models wrap the object in code fences despite instructions
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start == -1 || end == -1 || start >= end {
		return nil, fmt.Errorf("no json object found in response")
	}

	var analysis domain.Analysis
	if err := json.Unmarshal([]byte(content[start:end+1]), &analysis); err != nil {
		return nil, fmt.Errorf("failed to parse analysis response: %w", err)
	}
	return &analysis, nil
}

// Selector picks the currently available backend, evaluated fresh on each
// call so a provider coming online is noticed without a restart
type Selector struct {
	cfg        config.LLMConfig
	probClient *http.Client
}

// NewSelector creates a backend selector for the given configuration
func NewSelector(cfg config.LLMConfig) *Selector {
	return &Selector{
		cfg:        cfg,
		probClient: &http.Client{Timeout: 5 * time.Second},
	}
}

// Select returns the backend to use right now: the remote provider when a
// credential is configured, otherwise the local server if the expected model
// is loaded. Returns ErrNoBackend when neither is usable.
func (s *Selector) Select(ctx context.Context) (Backend, error) {
	if s.cfg.APIKey != "" {
		clientCfg := openai.DefaultConfig(s.cfg.APIKey)
		clientCfg.BaseURL = s.cfg.RemoteEndpoint
		return &chatBackend{
			name:        "remote",
			client:      openai.NewClientWithConfig(clientCfg),
			model:       s.cfg.RemoteModel,
			temperature: float32(s.cfg.Temperature),
			maxTokens:   s.cfg.MaxTokens,
		}, nil
	}

	if s.localModelLoaded(ctx) {
		clientCfg := openai.DefaultConfig("ollama") // local server ignores the key
		clientCfg.BaseURL = strings.TrimSuffix(s.cfg.OllamaEndpoint, "/") + "/v1"
		return &chatBackend{
			name:        "local",
			client:      openai.NewClientWithConfig(clientCfg),
			model:       s.cfg.OllamaModel,
			temperature: float32(s.cfg.Temperature),
			maxTokens:   s.cfg.MaxTokens,
			useSchema:   true,
		}, nil
	}

	return nil, ErrNoBackend
}

// Available reports whether any backend can serve requests right now
func (s *Selector) Available(ctx context.Context) bool {
	_, err := s.Select(ctx)
	return err == nil
}

// localModelLoaded probes the local server's model list for the configured
// model. Matching on the name before the tag separator follows the server's
// own convention ("llama3.1:8b" matches "llama3.1:latest").
func (s *Selector) localModelLoaded(ctx context.Context) bool {
	url := strings.TrimSuffix(s.cfg.OllamaEndpoint, "/") + "/api/tags"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return false
	}

	resp, err := s.probClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	var tags struct {
		Models []struct {
			Model string `json:"model"`
		} `json:"models"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&tags); err != nil {
		return false
	}

	want, _, _ := strings.Cut(s.cfg.OllamaModel, ":")
	for _, m := range tags.Models {
		if strings.Contains(m.Model, want) {
			return true
		}
	}
	return false
}
