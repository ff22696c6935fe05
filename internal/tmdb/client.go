// Package tmdb looks up movie metadata used to decorate search results.
package tmdb

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

const (
	defaultAPIBase   = "https://api.themoviedb.org/3"
	defaultImageBase = "https://image.tmdb.org/t/p/w500"
	breakerName      = "tmdb"
)

type Info struct {
	Title    string  `json:"title"`
	Year     string  `json:"year,omitempty"`
	Rating   float64 `json:"rating"`
	Overview string  `json:"overview,omitempty"`
	Poster   string  `json:"poster,omitempty"`
}

type Client struct {
	apiBase   string
	imageBase string
	apiKey    string
	hc        *http.Client
	cb        *gobreaker.CircuitBreaker[*Info]
}

type Option func(*Client)

func WithAPIBase(u string) Option   { return func(c *Client) { c.apiBase = strings.TrimRight(u, "/") } }
func WithImageBase(u string) Option { return func(c *Client) { c.imageBase = strings.TrimRight(u, "/") } }

// NewClient returns a client that reports nothing when apiKey is empty.
func NewClient(apiKey string, opts ...Option) *Client {
	c := &Client{
		apiBase:   defaultAPIBase,
		imageBase: defaultImageBase,
		apiKey:    strings.TrimSpace(apiKey),
		hc:        &http.Client{Timeout: 9 * time.Second},
	}
	for _, o := range opts {
		o(c)
	}
	metrics.BreakerState.WithLabelValues(breakerName).Set(0)
	c.cb = gobreaker.NewCircuitBreaker[*Info](gobreaker.Settings{
		Name:        breakerName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})
	return c
}

func (c *Client) Enabled() bool { return c != nil && c.apiKey != "" }

// Lookup returns the best match for query, or nil when there is none.
func (c *Client) Lookup(ctx context.Context, query string) (*Info, error) {
	query = strings.TrimSpace(query)
	if !c.Enabled() || query == "" {
		return nil, nil
	}
	info, err := c.cb.Execute(func() (*Info, error) { return c.search(ctx, query) })
	switch {
	case err == nil:
		metrics.ExternalCalls.WithLabelValues(breakerName, "ok").Inc()
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		metrics.ExternalCalls.WithLabelValues(breakerName, "rejected").Inc()
	default:
		metrics.ExternalCalls.WithLabelValues(breakerName, "error").Inc()
		zerolog.Ctx(ctx).Warn().Err(err).Str("query", query).Msg("tmdb lookup failed")
	}
	return info, err
}

type searchResponse struct {
	Results []struct {
		Title       string  `json:"title"`
		ReleaseDate string  `json:"release_date"`
		VoteAverage float64 `json:"vote_average"`
		Overview    string  `json:"overview"`
		PosterPath  string  `json:"poster_path"`
	} `json:"results"`
}

func (c *Client) search(ctx context.Context, query string) (*Info, error) {
	u, _ := url.Parse(c.apiBase + "/search/movie")
	q := u.Query()
	q.Set("api_key", c.apiKey)
	q.Set("query", query)
	q.Set("include_adult", "false")
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("tmdb search status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out searchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 2<<20)).Decode(&out); err != nil {
		return nil, fmt.Errorf("tmdb search decode: %w", err)
	}
	if len(out.Results) == 0 {
		return nil, nil
	}
	r := out.Results[0]
	info := &Info{
		Title:    strings.TrimSpace(r.Title),
		Rating:   r.VoteAverage,
		Overview: strings.TrimSpace(r.Overview),
		Poster:   c.ImageURL(r.PosterPath),
	}
	if len(r.ReleaseDate) >= 4 {
		info.Year = r.ReleaseDate[:4]
	}
	if info.Title == "" {
		info.Title = query
	}
	return info, nil
}

func (c *Client) ImageURL(path string) string {
	path = strings.TrimSpace(path)
	if path == "" {
		return ""
	}
	if strings.HasPrefix(path, "http") {
		return path
	}
	return c.imageBase + "/" + strings.TrimLeft(path, "/")
}

// ShortOverview trims the overview to n runes for captions.
func (i *Info) ShortOverview(n int) string {
	if i == nil {
		return ""
	}
	r := []rune(i.Overview)
	if len(r) <= n {
		return i.Overview
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}
