// Package pdf retrieves documents by URL and extracts their plain text.
package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
	lpdf "github.com/ledongthuc/pdf"
)

// DefaultMaxBytes caps a single download.
const DefaultMaxBytes = 64 << 20

var (
	// ErrDownload is returned when the document cannot be retrieved.
	ErrDownload = errors.New("failed to download document")

	// ErrExtraction is returned when the document cannot be parsed.
	ErrExtraction = errors.New("failed to extract text")
)

// Extractor downloads a PDF (or plain text) document and returns its text.
type Extractor struct {
	logger   *slog.Logger
	client   *http.Client
	maxBytes int64
}

// NewExtractor creates an Extractor with its own pooled HTTP client.
func NewExtractor(logger *slog.Logger, timeout time.Duration, maxBytes int64) *Extractor {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if maxBytes <= 0 {
		maxBytes = DefaultMaxBytes
	}

	client := cleanhttp.DefaultPooledClient()
	client.Timeout = timeout

	return &Extractor{
		logger:   logger.With("component", "extractor"),
		client:   client,
		maxBytes: maxBytes,
	}
}

// Extract downloads the document at sourceLocator and returns its text.
func (e *Extractor) Extract(ctx context.Context, sourceLocator string) (string, error) {
	start := time.Now()
	e.logger.InfoContext(ctx, "downloading document", "source_locator", sourceLocator)

	data, contentType, err := e.download(ctx, sourceLocator)
	if err != nil {
		return "", err
	}

	e.logger.InfoContext(ctx, "document downloaded",
		"source_locator", sourceLocator,
		"size_bytes", len(data),
		"duration_ms", time.Since(start).Milliseconds())

	var text string
	if isPlainText(contentType) {
		text = string(data)
	} else {
		text, err = ExtractText(data)
		if err != nil {
			return "", err
		}
	}

	e.logger.InfoContext(ctx, "text extracted",
		"source_locator", sourceLocator,
		"characters", len(text),
		"duration_ms", time.Since(start).Milliseconds())
	return text, nil
}

func (e *Extractor) download(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDownload, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("%w: %s returned status %d", ErrDownload, url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", ErrDownload, err)
	}
	if int64(len(data)) > e.maxBytes {
		return nil, "", fmt.Errorf("%w: document exceeds %d bytes", ErrDownload, e.maxBytes)
	}

	return data, resp.Header.Get("Content-Type"), nil
}

// ExtractText returns the plain text of every page of a PDF, in page order.
func ExtractText(data []byte) (text string, err error) {
	// The parser panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			text, err = "", fmt.Errorf("%w: malformed pdf: %v", ErrExtraction, r)
		}
	}()

	reader, err := lpdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	plain, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}

	var buf strings.Builder
	if _, err := io.Copy(&buf, plain); err != nil {
		return "", fmt.Errorf("%w: %v", ErrExtraction, err)
	}
	return buf.String(), nil
}

func isPlainText(contentType string) bool {
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && mediaType == "text/plain"
}
