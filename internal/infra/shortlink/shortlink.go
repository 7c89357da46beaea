// Package shortlink wraps bot deep links in a monetized redirect URL.
// The wrapper is best-effort by contract: any failure or timeout degrades to
// the original URL so challenge issuance never blocks on the ad network.
package shortlink

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mediagate-bot/mediagate/internal/domain"
)

// DefaultTimeout bounds the outbound call; the redirect services in the wild
// are slow and flaky.
const DefaultTimeout = 10 * time.Second

// Client calls a shortlink service's GET API:
// {base}/api?api={key}&url={link}. Responses are either JSON with the
// shortened URL under one of several common keys, or a bare URL body.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New creates a shortlink client. A zero timeout uses the default.
func New(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if baseURL != "" && !strings.HasPrefix(baseURL, "http") {
		baseURL = "https://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: timeout},
	}
}

// Configured reports whether a service URL and key are set.
func (c *Client) Configured() bool {
	return c.baseURL != "" && c.apiKey != ""
}

// Wrap returns the monetized URL for rawURL. On any failure it returns
// rawURL itself alongside a domain.ErrRedirectService-wrapped error, so the
// caller can log and keep going with the unwrapped link.
func (c *Client) Wrap(ctx context.Context, rawURL string) (string, error) {
	if !c.Configured() {
		return rawURL, nil
	}

	endpoint := fmt.Sprintf("%s/api?api=%s&url=%s",
		c.baseURL, url.QueryEscape(c.apiKey), url.QueryEscape(rawURL))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return rawURL, fmt.Errorf("%w: build request: %v", domain.ErrRedirectService, err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return rawURL, fmt.Errorf("%w: %v", domain.ErrRedirectService, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return rawURL, fmt.Errorf("%w: status %d", domain.ErrRedirectService, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return rawURL, fmt.Errorf("%w: read body: %v", domain.ErrRedirectService, err)
	}

	if short := extractURL(body); short != "" {
		return short, nil
	}
	return rawURL, fmt.Errorf("%w: no shortened URL in response", domain.ErrRedirectService)
}

// extractURL pulls the shortened URL out of a JSON or plain-text body.
// Shortlink services disagree on the response key, so several are tried.
func extractURL(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err == nil {
		for _, key := range []string{"shortenedUrl", "short_url", "shortlink", "link", "url", "result"} {
			if s, ok := payload[key].(string); ok && strings.HasPrefix(s, "http") {
				return s
			}
		}
		if data, ok := payload["data"].(map[string]any); ok {
			if s, ok := data["url"].(string); ok && strings.HasPrefix(s, "http") {
				return s
			}
		}
		return ""
	}

	if s := strings.TrimSpace(string(body)); strings.HasPrefix(s, "http") {
		return s
	}
	return ""
}
