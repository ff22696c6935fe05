package delivery

import (
	"context"
	"errors"
	"fmt"
	"html"
	"time"

	"github.com/rs/zerolog"

	"movielinks-tg-bot/internal/metrics"
	"movielinks-tg-bot/internal/monetize"
	"movielinks-tg-bot/internal/storage"
	"movielinks-tg-bot/internal/tg"
)

type Tier string

const (
	TierNone      Tier = ""
	TierMonetized Tier = "monetized"
	TierPrimary   Tier = "primary"
	TierAlternate Tier = "alternate"
)

// noticeTimeout bounds the failure notice, which runs detached from the
// update's deadline so a spent budget still gets the user a reply.
const noticeTimeout = 10 * time.Second

// ErrFlood is returned when Telegram kept rate limiting after the client's
// retry; the remaining tiers are not attempted.
var ErrFlood = errors.New("delivery stopped by flood control")

type Sender interface {
	SendMessage(ctx context.Context, req tg.SendMessageRequest) (*tg.Message, error)
	SendVideo(ctx context.Context, req tg.SendFileRequest) error
	SendDocument(ctx context.Context, req tg.SendFileRequest) error
}

type Result struct {
	Tier Tier
	Err  error
}

func (r Result) Delivered() bool { return r.Tier != TierNone && r.Err == nil }

type Deliverer struct {
	api    Sender
	linker *monetize.Linker
}

func NewDeliverer(api Sender, linker *monetize.Linker) *Deliverer {
	return &Deliverer{api: api, linker: linker}
}

// Deliver tries the monetized redirect, then the file's own form, then the
// other form. When every tier fails the user is told so.
func (d *Deliverer) Deliver(ctx context.Context, chatID int64, m *storage.Movie, part int, quality string, file storage.QualityFile) Result {
	log := zerolog.Ctx(ctx).With().Str("movie", m.Code).Int("part", part).Str("quality", quality).Logger()

	type attempt struct {
		tier Tier
		run  func() error
	}
	var chain []attempt
	if d.linker.Enabled() {
		if fileURL := d.linker.FileURL(file.FileID); fileURL != "" {
			chain = append(chain, attempt{TierMonetized, func() error { return d.sendMonetized(ctx, chatID, m, part, quality, file, fileURL) }})
		}
	}
	primary, alternate := d.api.SendDocument, d.api.SendVideo
	if file.Kind == storage.KindVideo {
		primary, alternate = d.api.SendVideo, d.api.SendDocument
	}
	req := tg.SendFileRequest{ChatID: chatID, File: file.FileID, Caption: fileCaption(m, part, quality), ParseMode: "HTML"}
	chain = append(chain,
		attempt{TierPrimary, func() error { return primary(ctx, req) }},
		attempt{TierAlternate, func() error { return alternate(ctx, req) }},
	)

	var lastErr error
	for _, a := range chain {
		err := a.run()
		outcome := tg.OutcomeOf(err)
		metrics.Deliveries.WithLabelValues(string(a.tier), outcome.String()).Inc()
		if err == nil {
			log.Info().Str("tier", string(a.tier)).Msg("file delivered")
			return Result{Tier: a.tier}
		}
		log.Warn().Err(err).Str("tier", string(a.tier)).Str("outcome", outcome.String()).Msg("delivery tier failed")
		lastErr = err
		if outcome == tg.OutcomeFlood {
			lastErr = fmt.Errorf("%w: %v", ErrFlood, err)
			break
		}
	}

	text := "❌ Could not send the file right now. Please open the link again later."
	if errors.Is(lastErr, ErrFlood) {
		text = "⏳ Too many requests. Please open the link again in a minute."
	}
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), noticeTimeout)
	defer cancel()
	if _, err := d.api.SendMessage(nctx, tg.SendMessageRequest{ChatID: chatID, Text: text}); err != nil {
		log.Error().Err(err).Msg("failure notice not sent")
	}
	return Result{Err: lastErr}
}

func (d *Deliverer) sendMonetized(ctx context.Context, chatID int64, m *storage.Movie, part int, quality string, file storage.QualityFile, fileURL string) error {
	name := m.Title
	if part > 1 {
		name = fmt.Sprintf("%s - Part %d", m.Title, part)
	}
	link := d.linker.CreateDownloadLink(fileURL, name, file.Size, quality)
	_, err := d.api.SendMessage(ctx, tg.SendMessageRequest{
		ChatID:                chatID,
		Text:                  fileCaption(m, part, quality) + "\n\n👇 Tap to download:",
		ParseMode:             "HTML",
		ReplyMarkup:           storage.URLKeyboard("📥 Download", link),
		DisableWebPagePreview: true,
	})
	return err
}

func fileCaption(m *storage.Movie, part int, quality string) string {
	return fmt.Sprintf("🎬 <b>%s</b>\n\n📦 Part: %d\n🎞️ Quality: %s\n\n✅ Enjoy!", html.EscapeString(m.Title), part, html.EscapeString(quality))
}
