package wake

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-cleanhttp"
)

// DefaultProbeTimeout bounds a single health request.
const DefaultProbeTimeout = 5 * time.Second

// HTTPProber checks GET {serviceURL}/health.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates a prober for the node service at serviceURL.
func NewHTTPProber(serviceURL string, timeout time.Duration) *HTTPProber {
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	client := cleanhttp.DefaultClient()
	client.Timeout = timeout

	return &HTTPProber{
		url:    strings.TrimRight(serviceURL, "/") + "/health",
		client: client,
	}
}

// Probe returns nil when the health endpoint answers 200.
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("failed to build health request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("health request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}
	return nil
}
