package handler

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"movielinks-tg-bot/internal/payload"
	"movielinks-tg-bot/internal/storage"
)

const maxLibraryItems = 50

type libraryItem struct {
	Code      string   `json:"code"`
	Title     string   `json:"title"`
	Parts     int      `json:"parts"`
	Qualities []string `json:"qualities"`
	PosterURL string   `json:"poster_url,omitempty"`
	Rating    float64  `json:"rating,omitempty"`
	Year      string   `json:"year,omitempty"`
	Overview  string   `json:"overview,omitempty"`
	Link      string   `json:"link,omitempty"`
}

func (s *Server) library(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Catalog == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > maxLibraryItems {
		limit = 20
	}
	movies, err := s.cfg.Catalog.ListRecent(r.Context(), limit)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("library list failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	out := make([]libraryItem, 0, len(movies))
	for i := range movies {
		out = append(out, s.buildLibraryItem(r.Context(), &movies[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) libraryItem(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Catalog == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	code := strings.TrimSpace(r.URL.Query().Get("code"))
	if len(code) != storage.CodeLength {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	m, err := s.cfg.Catalog.GetMovie(r.Context(), code)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("code", code).Msg("library item lookup failed")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	if m == nil {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.buildLibraryItem(r.Context(), m))
}

// buildLibraryItem never fails: metadata and the deep link are decoration.
func (s *Server) buildLibraryItem(ctx context.Context, m *storage.Movie) libraryItem {
	item := libraryItem{
		Code:      m.Code,
		Title:     m.Title,
		Parts:     m.PartCount(),
		Qualities: m.QualityLabels(1),
	}
	if s.cfg.Metadata != nil {
		if info, err := s.cfg.Metadata.Lookup(ctx, m.Title); err == nil && info != nil {
			item.Title = firstNonEmpty(info.Title, m.Title)
			item.PosterURL = info.Poster
			item.Rating = info.Rating
			item.Year = info.Year
			item.Overview = info.ShortOverview(200)
		}
	}
	if s.cfg.BotUsername != "" {
		if p, err := payload.Encode(payload.Payload{MovieCode: m.Code}); err == nil {
			item.Link = fmt.Sprintf("https://t.me/%s?start=%s", s.cfg.BotUsername, p)
		}
	}
	return item
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		v = strings.TrimSpace(v)
		if v != "" {
			return v
		}
	}
	return ""
}
