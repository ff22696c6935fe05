package handler

import (
	"context"
	"crypto/subtle"
	"io"
	"net/http"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"movielinks-tg-bot/internal/tg"
)

const secretHeader = "X-Telegram-Bot-Api-Secret-Token"

// webhook answers 200 for every well-formed update, including ones the
// router ignores, so Telegram does not redeliver them.
func (s *Server) webhook(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Updates == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if s.cfg.WebhookSecret != "" {
		got := r.Header.Get(secretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(s.cfg.WebhookSecret)) != 1 {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 2<<20))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	var upd tg.Update
	if err := json.Unmarshal(body, &upd); err != nil {
		zerolog.Ctx(r.Context()).Debug().Err(err).Msg("webhook body is not an update")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.HandlerTimeout)
	defer cancel()
	s.cfg.Updates.HandleUpdate(ctx, upd)
	w.WriteHeader(http.StatusOK)
}
