package shortener

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

const long = "https://t.me/moviebot?start=0AEIYWJjZDEyMzQ"

func TestShorten(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api") != "key" || r.URL.Query().Get("url") != long {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{"status":"success","shortenedUrl":"https://sho.rt/abc"}`))
	}))
	defer srv.Close()
	if got := New(srv.URL+"/api", "key").Shorten(context.Background(), long); got != "https://sho.rt/abc" {
		t.Errorf("Shorten = %q", got)
	}
}

func TestShortenFallback(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusBadGateway) },
		"bad json":     func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte(`<html>`)) },
		"api error": func(w http.ResponseWriter, r *http.Request) {
			_, _ = w.Write([]byte(`{"status":"error","message":["Invalid API key"]}`))
		},
	}
	for name, h := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()
			if got := New(srv.URL, "key").Shorten(context.Background(), long); got != long {
				t.Errorf("Shorten = %q, want the long link", got)
			}
		})
	}
}

func TestShortenDisabled(t *testing.T) {
	if got := New("", "").Shorten(context.Background(), long); got != long {
		t.Errorf("Shorten = %q", got)
	}
	var c *Client
	if got := c.Shorten(context.Background(), long); got != long {
		t.Errorf("nil Shorten = %q", got)
	}
}
