// Package handler serves the bot's HTTP surface: the Telegram webhook,
// health and status probes, metrics and the read-only library API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"movielinks-tg-bot/internal/bot"
	"movielinks-tg-bot/internal/logging"
	"movielinks-tg-bot/internal/storage"
	"movielinks-tg-bot/internal/tg"
	"movielinks-tg-bot/internal/tmdb"
)

const defaultHandlerTimeout = 9 * time.Second

type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd tg.Update) bot.State
}

type Catalog interface {
	GetMovie(ctx context.Context, code string) (*storage.Movie, error)
	ListRecent(ctx context.Context, limit int) ([]storage.Movie, error)
	CountMovies(ctx context.Context) (int64, error)
	CountUsers(ctx context.Context) (int64, error)
}

type MetadataLookup interface {
	Lookup(ctx context.Context, query string) (*tmdb.Info, error)
}

type Config struct {
	Updates  UpdateHandler
	Catalog  Catalog
	Metadata MetadataLookup
	// Health reports whether backing stores are reachable. Optional.
	Health         func(ctx context.Context) error
	WebhookSecret  string
	HandlerTimeout time.Duration
	BotUsername    string
	Mode           string
}

type Server struct {
	cfg     Config
	started time.Time
}

func NewServer(cfg Config) *Server {
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = defaultHandlerTimeout
	}
	return &Server{cfg: cfg, started: time.Now()}
}

func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/", s.index)
	r.Get("/health", s.health)
	r.Get("/status", s.status)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/webhook", s.webhook)
		r.Get("/library", s.library)
		r.Get("/library/item", s.libraryItem)
	})
	return r
}

func (s *Server) index(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Bot is running"))
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Health != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.cfg.Health(ctx); err != nil {
			zerolog.Ctx(r.Context()).Warn().Err(err).Msg("health check failed")
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type statusResponse struct {
	Status string `json:"status"`
	Bot    string `json:"bot"`
	Mode   string `json:"mode"`
	Uptime string `json:"uptime"`
	Movies int64  `json:"movies"`
	Users  int64  `json:"users"`
}

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	out := statusResponse{
		Status: "running",
		Bot:    s.cfg.BotUsername,
		Mode:   s.cfg.Mode,
		Uptime: time.Since(s.started).Truncate(time.Second).String(),
	}
	if s.cfg.Catalog != nil {
		out.Movies, _ = s.cfg.Catalog.CountMovies(r.Context())
		out.Users, _ = s.cfg.Catalog.CountUsers(r.Context())
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func accessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		log := logging.Logger().With().Str("request_id", middleware.GetReqID(r.Context())).Logger()
		r = r.WithContext(log.WithContext(r.Context()))
		next.ServeHTTP(ww, r)
		log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("took", time.Since(start)).
			Msg("http request")
	})
}
