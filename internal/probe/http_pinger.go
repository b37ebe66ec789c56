package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPPinger probes a media server by requesting its identity endpoint.
type HTTPPinger struct {
	client *http.Client
	token  string
}

// NewHTTPPinger creates an HTTPPinger. token is sent as X-Plex-Token when set.
func NewHTTPPinger(timeout time.Duration, token string) *HTTPPinger {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPinger{client: &http.Client{Timeout: timeout}, token: token}
}

// Ping requests <baseURL>/identity. A transport failure reports status code 0.
func (p *HTTPPinger) Ping(ctx context.Context, baseURL string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(baseURL, "/")+"/identity", nil)
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if p.token != "" {
		req.Header.Set("X-Plex-Token", p.token)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode, nil
}
