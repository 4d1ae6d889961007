package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/phrazzld/papersum/internal/prompt"
	"github.com/sethvargo/go-retry"
	"google.golang.org/genai"
)

// contentGenerator is the part of genai's Models service the summarizer uses.
type contentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Config holds the summarizer settings.
type Config struct {
	APIKey      string
	Model       string
	Temperature float32
	MaxRetries  int
	RetryDelay  time.Duration
}

// Summarizer produces summaries with a Gemini model.
type Summarizer struct {
	logger     *slog.Logger
	models     contentGenerator
	prompt     *prompt.Template
	model      string
	config     *genai.GenerateContentConfig
	maxRetries int
	retryDelay time.Duration
}

// NewSummarizer creates a Gemini API client and the summarizer around it.
func NewSummarizer(ctx context.Context, logger *slog.Logger, tmpl *prompt.Template, cfg Config) (*Summarizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}

	return newSummarizer(logger, client.Models, tmpl, cfg)
}

func newSummarizer(logger *slog.Logger, models contentGenerator, tmpl *prompt.Template, cfg Config) (*Summarizer, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if tmpl == nil {
		return nil, fmt.Errorf("%w: prompt template cannot be nil", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}

	temperature := cfg.Temperature
	return &Summarizer{
		logger:     logger.With("component", "gemini"),
		models:     models,
		prompt:     tmpl,
		model:      cfg.Model,
		config:     &genai.GenerateContentConfig{Temperature: &temperature},
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

	backoff := retry.WithJitterPercent(50,
		retry.WithMaxRetries(uint64(s.maxRetries), retry.NewExponential(s.retryDelay)))

	attempt := 0
	var summary string
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		s.logger.InfoContext(ctx, "making Gemini API call",
			"attempt", attempt,
			"max_attempts", s.maxRetries+1,
			"prompt_length", len(input))

		resp, err := s.models.GenerateContent(ctx, s.model, genai.Text(input), s.config)
		if err != nil {
			s.logger.WarnContext(ctx, "Gemini API call failed", "attempt", attempt, "error", err)
			if ctx.Err() != nil {
				return err
			}
			return retry.RetryableError(err)
		}

		// Response-shape failures are permanent and returned as-is.
		summary, err = extractText(resp)
		return err
	})
	if err != nil {
		return "", err
	}

	s.logger.InfoContext(ctx, "Gemini API call successful",
		"attempt", attempt,
		"summary_length", len(summary))
	return summary, nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", ErrInvalidResponse)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}

	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}

	text := strings.TrimSpace(b.String())
	if text == "" {
		return "", fmt.Errorf("%w: empty text in response", ErrInvalidResponse)
	}
	return text, nil
}
