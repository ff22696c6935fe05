package bot

import (
	"context"
	"fmt"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"movielinks-tg-bot/internal/payload"
	"movielinks-tg-bot/internal/storage"
	"movielinks-tg-bot/internal/tg"
	"movielinks-tg-bot/internal/tmdb"
)

const searchLimit = 50

func (r *Router) handleSearch(ctx context.Context, msg *tg.Message, text string) State {
	chatID := msg.Chat.ID
	query := storage.NormalizeName(text)
	if utf8.RuneCountInString(query) < 2 {
		r.reply(ctx, chatID, tooShortText)
		return AwaitingCommand
	}

	movies, err := r.d.Catalog.SearchMovies(ctx, query, searchLimit)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("query", query).Msg("catalog search failed")
		r.reply(ctx, chatID, tryAgainText)
		return AwaitingCommand
	}

	switch len(movies) {
	case 0:
		if info := r.lookup(ctx, text); info != nil {
			r.reply(ctx, chatID, notInCatalogText(info))
		} else {
			r.reply(ctx, chatID, notFoundText)
		}
		return NotInCatalog
	case 1:
		return r.sendMovieCard(ctx, chatID, msg.From.ID, &movies[0])
	default:
		r.send(ctx, tg.SendMessageRequest{
			ChatID:      chatID,
			Text:        fmt.Sprintf("🔍 Found %d results:", len(movies)),
			ReplyMarkup: storage.SearchKeyboard(movies),
		})
		return SearchResults
	}
}

func (r *Router) lookup(ctx context.Context, query string) *tmdb.Info {
	if r.d.Metadata == nil {
		return nil
	}
	info, err := r.d.Metadata.Lookup(ctx, query)
	if err != nil {
		return nil
	}
	return info
}

// sendMovieCard posts the movie card. A movie with one part and one
// quality gets its token link right away; otherwise the Download button
// opens the browse link.
func (r *Router) sendMovieCard(ctx context.Context, chatID, userID int64, m *storage.Movie) State {
	info := r.lookup(ctx, m.Title)
	caption := cardCaption(m, info)

	link, err := r.cardLink(ctx, userID, m)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("movie", m.Code).Msg("card link failed")
		r.reply(ctx, chatID, caption)
		return MovieCard
	}
	kb := storage.URLKeyboard("📥 Download", link)

	if info != nil && info.Poster != "" {
		_, err := r.d.API.SendPhoto(ctx, tg.SendPhotoRequest{ChatID: chatID, Photo: info.Poster, Caption: caption, ParseMode: "HTML", ReplyMarkup: kb})
		if err == nil {
			return MovieCard
		}
		zerolog.Ctx(ctx).Warn().Err(err).Msg("sendPhoto failed, sending text card")
	}
	r.send(ctx, tg.SendMessageRequest{ChatID: chatID, Text: caption, ReplyMarkup: kb})
	return MovieCard
}

func (r *Router) cardLink(ctx context.Context, userID int64, m *storage.Movie) (string, error) {
	if m.PartCount() == 1 && len(m.Qualities) == 1 {
		return r.mintLink(ctx, userID, m, 1, m.QualityLabels(1)[0])
	}
	p, err := payload.Encode(payload.Payload{MovieCode: m.Code})
	if err != nil {
		return "", err
	}
	return r.deepLink(p), nil
}
