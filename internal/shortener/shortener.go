// Package shortener wraps generated deep links with a link-shortening
// service. Failures fall back to the original link.
package shortener

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
	gobreaker "github.com/sony/gobreaker/v2"

	"movielinks-tg-bot/internal/metrics"
)

const breakerName = "shortener"

type Client struct {
	apiURL string
	apiKey string
	hc     *http.Client
	cb     *gobreaker.CircuitBreaker[string]
}

// New targets APIs of the form GET <apiURL>?api=<key>&url=<long> answering
// {"status":"success","shortenedUrl":"..."}. Empty apiURL or apiKey
// disables shortening.
func New(apiURL, apiKey string) *Client {
	c := &Client{
		apiURL: strings.TrimSpace(apiURL),
		apiKey: strings.TrimSpace(apiKey),
		hc:     &http.Client{Timeout: 5 * time.Second},
	}
	metrics.BreakerState.WithLabelValues(breakerName).Set(0)
	c.cb = gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return c
}

func (c *Client) Enabled() bool { return c != nil && c.apiURL != "" && c.apiKey != "" }

// Shorten never fails: on any error it returns long unchanged.
func (c *Client) Shorten(ctx context.Context, long string) string {
	if !c.Enabled() {
		return long
	}
	short, err := c.cb.Execute(func() (string, error) { return c.shorten(ctx, long) })
	switch {
	case err == nil:
		metrics.ExternalCalls.WithLabelValues(breakerName, "ok").Inc()
		return short
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ExternalCalls.WithLabelValues(breakerName, "rejected").Inc()
	default:
		metrics.ExternalCalls.WithLabelValues(breakerName, "error").Inc()
		zerolog.Ctx(ctx).Warn().Err(err).Msg("shortener failed, using long link")
	}
	return long
}

func (c *Client) shorten(ctx context.Context, long string) (string, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("api", c.apiKey)
	q.Set("url", long)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return "", err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("shortener status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	var out struct {
		Status       string `json:"status"`
		ShortenedURL string `json:"shortenedUrl"`
		Message      any    `json:"message"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("shortener decode: %w", err)
	}
	if !strings.EqualFold(out.Status, "success") || !strings.HasPrefix(out.ShortenedURL, "http") {
		return "", fmt.Errorf("shortener status %q: %v", out.Status, out.Message)
	}
	return out.ShortenedURL, nil
}
