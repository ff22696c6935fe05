package bot

import (
	"context"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"movielinks-tg-bot/internal/storage"
	"movielinks-tg-bot/internal/tg"
)

func (r *Router) handleCallback(ctx context.Context, cq *tg.CallbackQuery) State {
	answer := ""
	defer func() {
		if err := r.d.API.AnswerCallbackQuery(ctx, cq.ID, answer); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("answerCallbackQuery failed")
		}
	}()
	if cq.Message == nil {
		return Ignored
	}
	r.trackUser(ctx, &cq.From)
	chatID, msgID, userID := cq.Message.Chat.ID, cq.Message.MessageID, cq.From.ID

	data := strings.TrimSpace(cq.Data)
	if data == "close" {
		if err := r.d.API.DeleteMessage(ctx, chatID, msgID); err != nil {
			zerolog.Ctx(ctx).Debug().Err(err).Msg("deleteMessage failed")
		}
		return AwaitingCommand
	}

	kind, rest, _ := strings.Cut(data, ":")
	switch kind {
	case "movie":
		m := r.callbackMovie(ctx, rest)
		if m == nil {
			answer = "Movie not found"
			return FileUnavailable
		}
		return r.sendMovieCard(ctx, chatID, userID, m)

	case "partpage":
		code, pageStr, _ := strings.Cut(rest, ":")
		page, _ := strconv.Atoi(pageStr)
		m := r.callbackMovie(ctx, code)
		if m == nil {
			answer = "Movie not found"
			return FileUnavailable
		}
		r.show(ctx, chatID, msgID, partsText(m), m.PartsKeyboard(page))
		return PartSelection

	case "part":
		code, partStr, _ := strings.Cut(rest, ":")
		part, err := strconv.Atoi(partStr)
		m := r.callbackMovie(ctx, code)
		if m == nil || err != nil || part < 1 || part > m.PartCount() {
			answer = "Part not available"
			return FileUnavailable
		}
		return r.presentPart(ctx, chatID, msgID, userID, m, part)

	case "quality":
		fields := strings.SplitN(rest, ":", 3)
		if len(fields) != 3 {
			return Ignored
		}
		part, err := strconv.Atoi(fields[1])
		m := r.callbackMovie(ctx, fields[0])
		if m == nil || err != nil {
			answer = "File not available"
			return FileUnavailable
		}
		qs, _ := m.QualitiesFor(part)
		if _, ok := qs[fields[2]]; !ok {
			answer = "File not available"
			return FileUnavailable
		}
		return r.generateLink(ctx, chatID, userID, m, part, fields[2])
	}
	return Ignored
}

func (r *Router) callbackMovie(ctx context.Context, code string) *storage.Movie {
	if code == "" {
		return nil
	}
	m, err := r.d.Catalog.GetMovie(ctx, code)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("movie", code).Msg("movie lookup failed")
		return nil
	}
	return m
}
