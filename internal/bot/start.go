package bot

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"movielinks-tg-bot/internal/delivery"
	"movielinks-tg-bot/internal/metrics"
	"movielinks-tg-bot/internal/payload"
	"movielinks-tg-bot/internal/storage"
	"movielinks-tg-bot/internal/tg"
	"movielinks-tg-bot/internal/tokens"
)

// Start parameters that other bots and panels probe with. Payloads always
// begin with a digit, so none of these can collide with a real link.
var reservedStartPrefixes = []string{"connect", "controller", "setup", "config", "admin", "panel", "settings"}

func isReserved(arg string) bool {
	l := strings.ToLower(arg)
	for _, p := range reservedStartPrefixes {
		if strings.HasPrefix(l, p) {
			return true
		}
	}
	return false
}

func (r *Router) handleStart(ctx context.Context, msg *tg.Message, arg string) State {
	chatID, userID := msg.Chat.ID, msg.From.ID
	if arg == "" {
		return r.welcome(ctx, chatID)
	}
	if isReserved(arg) && !r.isAdmin(userID) {
		return r.welcome(ctx, chatID)
	}
	p, ok := payload.Decode(arg)
	if !ok {
		zerolog.Ctx(ctx).Debug().Str("arg", arg).Msg("undecodable start payload")
		return r.welcome(ctx, chatID)
	}

	if !r.d.Gate.IsSubscribed(ctx, userID) {
		return r.subscriptionRequired(ctx, chatID, arg)
	}
	if p.HasToken() {
		return r.redeem(ctx, chatID, userID, p)
	}

	m, err := r.d.Catalog.GetMovie(ctx, p.MovieCode)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("movie", p.MovieCode).Msg("movie lookup failed")
	}
	if m == nil {
		return r.welcome(ctx, chatID)
	}
	return r.presentSelection(ctx, chatID, 0, userID, m)
}

func (r *Router) subscriptionRequired(ctx context.Context, chatID int64, arg string) State {
	rows := [][]tg.InlineKeyboardButton{}
	if r.d.InviteLink != "" {
		rows = append(rows, []tg.InlineKeyboardButton{{Text: "✅ Join Channel", URL: r.d.InviteLink}})
	}
	rows = append(rows, []tg.InlineKeyboardButton{{Text: "🔄 Try Again", URL: r.deepLink(arg)}})
	kb := tg.NewInlineKeyboardMarkup(rows)
	r.send(ctx, tg.SendMessageRequest{ChatID: chatID, Text: joinText, ReplyMarkup: &kb})
	return SubscriptionRequired
}

func (r *Router) redeem(ctx context.Context, chatID, userID int64, p payload.Payload) State {
	log := zerolog.Ctx(ctx)
	rec, err := r.d.Tokens.VerifyToken(ctx, p.Token, userID)
	if err != nil {
		if tokens.IsCredentialError(err) {
			metrics.TokenRedemptions.WithLabelValues(redemptionResult(err)).Inc()
			log.Info().Err(err).Msg("token rejected")
			r.reply(ctx, chatID, expiredText)
			return LinkExpired
		}
		metrics.TokenRedemptions.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("token verification failed")
		r.reply(ctx, chatID, tryAgainText)
		return AwaitingCommand
	}
	metrics.TokenRedemptions.WithLabelValues("ok").Inc()
	if rec.MovieCode != p.MovieCode || rec.Part != max(p.Part, 1) || rec.Quality != p.Quality {
		log.Warn().Str("token_movie", rec.MovieCode).Str("payload_movie", p.MovieCode).Msg("payload disagrees with token record, using the record")
	}

	m, err := r.d.Catalog.GetMovie(ctx, rec.MovieCode)
	if err != nil {
		log.Error().Err(err).Msg("movie lookup failed during redemption")
		r.release(ctx, rec.Token)
		r.reply(ctx, chatID, tryAgainText)
		return AwaitingCommand
	}
	file, err := delivery.Resolve(m, rec.Part, rec.Quality)
	if err != nil {
		log.Info().Str("movie", rec.MovieCode).Int("part", rec.Part).Str("quality", rec.Quality).Msg("file no longer in catalog")
		r.reply(ctx, chatID, unavailableText)
		return FileUnavailable
	}

	res := r.d.Delivery.Deliver(ctx, chatID, m, rec.Part, rec.Quality, file)
	if !res.Delivered() {
		r.release(ctx, rec.Token)
		return FileUnavailable
	}
	return TokenRedemption
}

// releaseTimeout bounds a token release. It runs detached from the update's
// deadline so a delivery that used up the budget does not burn the link.
const releaseTimeout = 5 * time.Second

func (r *Router) release(ctx context.Context, token string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()
	if err := r.d.Tokens.Release(rctx, token); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("token release failed")
	}
}

func redemptionResult(err error) string {
	switch {
	case errors.Is(err, tokens.ErrNotFound):
		return "not_found"
	case errors.Is(err, tokens.ErrOwnerMismatch):
		return "owner_mismatch"
	case errors.Is(err, tokens.ErrExpired):
		return "expired"
	case errors.Is(err, tokens.ErrConsumed):
		return "consumed"
	default:
		return "error"
	}
}

// selectionState decides what a browse link for m shows first.
func selectionState(m *storage.Movie) State {
	if m.PartCount() > 1 {
		return PartSelection
	}
	return partState(m, 1)
}

func partState(m *storage.Movie, part int) State {
	qs, _ := m.QualitiesFor(part)
	switch len(qs) {
	case 0:
		return NoFiles
	case 1:
		return LinkGenerated
	default:
		return QualitySelection
	}
}

// presentSelection shows the next step for m, editing messageID when the
// request came from an inline button.
func (r *Router) presentSelection(ctx context.Context, chatID int64, messageID int, userID int64, m *storage.Movie) State {
	st := selectionState(m)
	if st == PartSelection {
		r.show(ctx, chatID, messageID, partsText(m), m.PartsKeyboard(1))
		return PartSelection
	}
	return r.presentPart(ctx, chatID, messageID, userID, m, 1)
}

func (r *Router) presentPart(ctx context.Context, chatID int64, messageID int, userID int64, m *storage.Movie, part int) State {
	switch partState(m, part) {
	case NoFiles:
		r.show(ctx, chatID, messageID, noFilesText, nil)
		return NoFiles
	case LinkGenerated:
		labels := m.QualityLabels(part)
		return r.generateLink(ctx, chatID, userID, m, part, labels[0])
	default:
		r.show(ctx, chatID, messageID, qualitiesText(m, part), m.QualityKeyboard(part))
		return QualitySelection
	}
}

// mintLink issues a token for the selection and returns its deep link.
func (r *Router) mintLink(ctx context.Context, userID int64, m *storage.Movie, part int, quality string) (string, error) {
	tok, err := r.d.Tokens.CreateToken(ctx, userID, m.Code, part, quality)
	if err != nil {
		return "", err
	}
	p, err := payload.Encode(payload.Payload{MovieCode: m.Code, Part: part, Quality: quality, Token: tok})
	if err != nil {
		return "", err
	}
	metrics.TokensIssued.Inc()
	return r.deepLink(p), nil
}

func (r *Router) generateLink(ctx context.Context, chatID, userID int64, m *storage.Movie, part int, quality string) State {
	link, err := r.mintLink(ctx, userID, m, part, quality)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("movie", m.Code).Msg("link generation failed")
		r.reply(ctx, chatID, tryAgainText)
		return AwaitingCommand
	}

	status := r.send(ctx, tg.SendMessageRequest{ChatID: chatID, Text: generatingText})
	if r.d.Shortener != nil {
		link = r.d.Shortener.Shorten(ctx, link)
	}

	var size string
	if qs, ok := m.QualitiesFor(part); ok {
		size = qs[quality].Size
	}
	statusID := 0
	if status != nil {
		statusID = status.MessageID
	}
	r.show(ctx, chatID, statusID, linkText(m, part, quality, size), storage.URLKeyboard("🔓 Download", link))
	return LinkGenerated
}
