package handler

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/goccy/go-json"

	"movielinks-tg-bot/internal/bot"
	"movielinks-tg-bot/internal/payload"
	"movielinks-tg-bot/internal/storage"
	"movielinks-tg-bot/internal/tg"
	"movielinks-tg-bot/internal/tmdb"
)

type recordingHandler struct {
	mu      sync.Mutex
	updates []tg.Update
}

func (h *recordingHandler) HandleUpdate(_ context.Context, upd tg.Update) bot.State {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.updates = append(h.updates, upd)
	return bot.Ignored
}

type staticLookup struct{ info *tmdb.Info }

func (l staticLookup) Lookup(context.Context, string) (*tmdb.Info, error) { return l.info, nil }

func newTestServer(t *testing.T, cfg Config) (*httptest.Server, *storage.Memory, *recordingHandler) {
	t.Helper()
	catalog := storage.NewMemory()
	updates := &recordingHandler{}
	if cfg.Updates == nil {
		cfg.Updates = updates
	}
	if cfg.Catalog == nil {
		cfg.Catalog = catalog
	}
	srv := httptest.NewServer(NewServer(cfg).Routes())
	t.Cleanup(srv.Close)
	return srv, catalog, updates
}

func do(t *testing.T, method, url, body string, header map[string]string) (*http.Response, string) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func TestWebhook(t *testing.T) {
	srv, _, updates := newTestServer(t, Config{WebhookSecret: "s3cret"})
	upd := `{"update_id":99,"message":{"message_id":1,"from":{"id":5},"chat":{"id":5,"type":"private"},"text":"/start"}}`

	tests := []struct {
		name   string
		method string
		body   string
		secret string
		want   int
	}{
		{"valid", http.MethodPost, upd, "s3cret", http.StatusOK},
		{"wrong secret", http.MethodPost, upd, "nope", http.StatusUnauthorized},
		{"missing secret", http.MethodPost, upd, "", http.StatusUnauthorized},
		{"bad json", http.MethodPost, "{", "s3cret", http.StatusBadRequest},
		{"get", http.MethodGet, "", "s3cret", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, _ := do(t, tt.method, srv.URL+"/api/webhook", tt.body, map[string]string{secretHeader: tt.secret})
			if resp.StatusCode != tt.want {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.want)
			}
		})
	}

	if len(updates.updates) != 1 {
		t.Fatalf("handled %d updates, want 1", len(updates.updates))
	}
	got := updates.updates[0]
	if got.UpdateID != 99 || got.Message == nil || got.Message.Text != "/start" {
		t.Errorf("update = %+v", got)
	}
}

func TestWebhookWithoutSecret(t *testing.T) {
	srv, _, updates := newTestServer(t, Config{})
	resp, _ := do(t, http.MethodPost, srv.URL+"/api/webhook", `{"update_id":1}`, nil)
	if resp.StatusCode != http.StatusOK || len(updates.updates) != 1 {
		t.Errorf("status = %d, handled = %d", resp.StatusCode, len(updates.updates))
	}
}

func TestHealth(t *testing.T) {
	srv, _, _ := newTestServer(t, Config{})
	resp, body := do(t, http.MethodGet, srv.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusOK || !strings.Contains(body, `"ok"`) {
		t.Errorf("health = %d %s", resp.StatusCode, body)
	}

	down, _, _ := newTestServer(t, Config{Health: func(context.Context) error { return errors.New("mongo unreachable") }})
	resp, body = do(t, http.MethodGet, down.URL+"/health", "", nil)
	if resp.StatusCode != http.StatusServiceUnavailable || !strings.Contains(body, "mongo unreachable") {
		t.Errorf("degraded health = %d %s", resp.StatusCode, body)
	}
}

func TestStatusAndIndex(t *testing.T) {
	srv, catalog, _ := newTestServer(t, Config{BotUsername: "moviebot", Mode: "polling"})
	if _, _, err := catalog.AddQuality(context.Background(), "Dune", 1, "720p", storage.QualityFile{FileID: "f"}); err != nil {
		t.Fatal(err)
	}
	_ = catalog.UpsertUser(context.Background(), 1, "a")

	resp, body := do(t, http.MethodGet, srv.URL+"/status", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var st statusResponse
	if err := json.Unmarshal([]byte(body), &st); err != nil {
		t.Fatal(err)
	}
	if st.Bot != "moviebot" || st.Mode != "polling" || st.Movies != 1 || st.Users != 1 {
		t.Errorf("status = %+v", st)
	}

	_, body = do(t, http.MethodGet, srv.URL+"/", "", nil)
	if body != "Bot is running" {
		t.Errorf("index = %q", body)
	}
	resp, _ = do(t, http.MethodGet, srv.URL+"/metrics", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("metrics = %d", resp.StatusCode)
	}
}

func TestLibrary(t *testing.T) {
	srv, catalog, _ := newTestServer(t, Config{
		BotUsername: "moviebot",
		Metadata:    staticLookup{info: &tmdb.Info{Title: "Dune", Year: "2021", Rating: 7.8, Poster: "https://img/dune.jpg"}},
	})
	m, _, err := catalog.AddQuality(context.Background(), "dune", 1, "1080p", storage.QualityFile{FileID: "f"})
	if err != nil {
		t.Fatal(err)
	}

	resp, body := do(t, http.MethodGet, srv.URL+"/api/library", "", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("library = %d", resp.StatusCode)
	}
	var items []libraryItem
	if err := json.Unmarshal([]byte(body), &items); err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Title != "Dune" || items[0].Year != "2021" || items[0].Qualities[0] != "1080p" {
		t.Fatalf("items = %+v", items)
	}
	arg, ok := strings.CutPrefix(items[0].Link, "https://t.me/moviebot?start=")
	if !ok {
		t.Fatalf("link = %q", items[0].Link)
	}
	if p, ok := payload.Decode(arg); !ok || p.MovieCode != m.Code || p.HasToken() {
		t.Errorf("link payload = %+v, %v", p, ok)
	}

	tests := []struct {
		query string
		want  int
	}{
		{"?code=" + m.Code, http.StatusOK},
		{"?code=zzzz9999", http.StatusNotFound},
		{"?code=short", http.StatusBadRequest},
		{"", http.StatusBadRequest},
	}
	for _, tt := range tests {
		resp, _ := do(t, http.MethodGet, srv.URL+"/api/library/item"+tt.query, "", nil)
		if resp.StatusCode != tt.want {
			t.Errorf("item%s = %d, want %d", tt.query, resp.StatusCode, tt.want)
		}
	}
}
