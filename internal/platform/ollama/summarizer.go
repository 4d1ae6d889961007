// Package ollama provides a summarizer that calls a local Ollama server's
// generate endpoint, the way the compute node runs its GPU-hosted model.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	"github.com/phrazzld/papersum/internal/prompt"
	"github.com/sethvargo/go-retry"
)

// DefaultModel is the model used when none is configured.
const DefaultModel = "llama3.2:latest"

// ErrInvalidResponse is returned when the server answers without usable text.
var ErrInvalidResponse = errors.New("invalid response from ollama")

// Config holds the summarizer settings.
type Config struct {
	BaseURL     string
	Model       string
	Temperature float32
	Timeout     time.Duration
	MaxRetries  int
	RetryDelay  time.Duration
}

type generateRequest struct {
	Model   string          `json:"model"`
	Prompt  string          `json:"prompt"`
	Stream  bool            `json:"stream"`
	Options generateOptions `json:"options"`
}

type generateOptions struct {
	Temperature float32 `json:"temperature"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Summarizer produces summaries through POST {base}/api/generate.
type Summarizer struct {
	logger     *slog.Logger
	client     *http.Client
	prompt     *prompt.Template
	endpoint   string
	model      string
	options    generateOptions
	maxRetries int
	retryDelay time.Duration
}

// NewSummarizer creates a summarizer. Summaries of long papers are slow, so
// the HTTP timeout defaults to ten minutes.
func NewSummarizer(logger *slog.Logger, tmpl *prompt.Template, cfg Config) (*Summarizer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if tmpl == nil {
		return nil, errors.New("prompt template cannot be nil")
	}
	if cfg.BaseURL == "" {
		return nil, errors.New("ollama base URL cannot be empty")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Minute
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}

	client := cleanhttp.DefaultPooledClient()
	client.Timeout = cfg.Timeout

	return &Summarizer{
		logger:     logger.With("component", "ollama"),
		client:     client,
		prompt:     tmpl,
		endpoint:   strings.TrimRight(cfg.BaseURL, "/") + "/api/generate",
		model:      cfg.Model,
		options:    generateOptions{Temperature: cfg.Temperature},
		maxRetries: cfg.MaxRetries,
		retryDelay: cfg.RetryDelay,
	}, nil
}

// Summarize returns the model's summary of text.
func (s *Summarizer) Summarize(ctx context.Context, text string) (string, error) {
	input, err := s.prompt.Render(text)
	if err != nil {
		return "", err
	}

	body, err := json.Marshal(generateRequest{
		Model:   s.model,
		Prompt:  input,
		Stream:  false,
		Options: s.options,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode generate request: %w", err)
	}

	start := time.Now()
	backoff := retry.WithMaxRetries(uint64(s.maxRetries), retry.NewExponential(s.retryDelay))

	var summary string
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		var callErr error
		summary, callErr = s.generate(ctx, body)
		if callErr != nil {
			s.logger.WarnContext(ctx, "ollama generate call failed", "error", callErr)
		}
		return callErr
	})
	if err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "summarization completed",
		"model", s.model,
		"duration_ms", time.Since(start).Milliseconds(),
		"summary_length", len(summary))
	return summary, nil
}

// generate performs one call. Network errors and 5xx responses are
// retryable; anything else is permanent.
func (s *Summarizer) generate(ctx context.Context, body []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build generate request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return "", err
		}
		return "", retry.RetryableError(fmt.Errorf("ollama request failed: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", retry.RetryableError(fmt.Errorf("failed to read ollama response: %w", err))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		return "", retry.RetryableError(fmt.Errorf("ollama returned status %d", resp.StatusCode))
	}

	var out generateResponse
	if err := json.Unmarshal(payload, &out); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: status %d: %s", ErrInvalidResponse, resp.StatusCode, out.Error)
	}

	summary := strings.TrimSpace(out.Response)
	if summary == "" {
		return "", fmt.Errorf("%w: empty response text", ErrInvalidResponse)
	}
	return summary, nil
}
