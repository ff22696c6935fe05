package bot

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"movielinks-tg-bot/internal/payload"
	"movielinks-tg-bot/internal/storage"
	"movielinks-tg-bot/internal/tg"
)

// summaryTimeout bounds the final broadcast report.
const summaryTimeout = 10 * time.Second

// handleAdmin runs admin-only commands. ok is false for commands it does
// not know.
func (r *Router) handleAdmin(ctx context.Context, msg *tg.Message, cmd, arg string) (State, bool) {
	switch cmd {
	case "/add":
		r.adminAdd(ctx, msg, arg, false)
	case "/addpart":
		r.adminAdd(ctx, msg, arg, true)
	case "/delete":
		r.adminDelete(ctx, msg, arg)
	case "/list":
		r.adminList(ctx, msg, arg)
	case "/stats":
		r.adminStats(ctx, msg)
	case "/broadcast":
		r.adminBroadcast(ctx, msg)
	default:
		return Ignored, false
	}
	return Admin, true
}

func splitArgs(arg string) []string {
	parts := strings.Split(arg, "|")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}

func replyFile(msg *tg.Message) (storage.QualityFile, bool) {
	src := msg.ReplyToMessage
	if src == nil {
		return storage.QualityFile{}, false
	}
	switch {
	case src.Video != nil && src.Video.FileID != "":
		return storage.QualityFile{FileID: src.Video.FileID, Size: humanSize(src.Video.FileSize), Kind: storage.KindVideo}, true
	case src.Document != nil && src.Document.FileID != "":
		return storage.QualityFile{FileID: src.Document.FileID, Size: humanSize(src.Document.FileSize), Kind: storage.KindDocument}, true
	}
	return storage.QualityFile{}, false
}

func (r *Router) adminAdd(ctx context.Context, msg *tg.Message, arg string, withPart bool) {
	chatID := msg.Chat.ID
	usage := "Usage: reply to a video or document with <code>/add Movie Name | quality</code>"
	if withPart {
		usage = "Usage: reply to a video or document with <code>/addpart Movie Name | part | quality</code>"
	}
	args := splitArgs(arg)
	want := 2
	if withPart {
		want = 3
	}
	if len(args) != want || args[0] == "" || args[want-1] == "" {
		r.reply(ctx, chatID, usage)
		return
	}
	title, quality, part := args[0], args[want-1], 1
	if withPart {
		n, err := strconv.Atoi(args[1])
		if err != nil || n < 1 || n > storage.MaxParts {
			r.reply(ctx, chatID, fmt.Sprintf("❌ Part must be between 1 and %d.", storage.MaxParts))
			return
		}
		part = n
	}
	if len(quality) > storage.MaxQualityLabel {
		r.reply(ctx, chatID, fmt.Sprintf("❌ Quality label is limited to %d bytes.", storage.MaxQualityLabel))
		return
	}
	file, ok := replyFile(msg)
	if !ok {
		r.reply(ctx, chatID, usage)
		return
	}

	m, created, err := r.d.Catalog.AddQuality(ctx, title, part, quality, file)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("title", title).Msg("admin add failed")
		r.reply(ctx, chatID, "❌ Could not save: "+html.EscapeString(err.Error()))
		return
	}
	verb := "Updated"
	if created {
		verb = "Added"
	}
	text := fmt.Sprintf("✅ %s <b>%s</b>\n📦 Part: %d\n🎞️ Quality: %s\n🔑 Code: <code>%s</code>",
		verb, html.EscapeString(m.Title), part, html.EscapeString(quality), m.Code)
	if p, err := payload.Encode(payload.Payload{MovieCode: m.Code}); err == nil {
		text += "\n🔗 " + r.deepLink(p)
	}
	zerolog.Ctx(ctx).Info().Str("movie", m.Code).Int("part", part).Str("quality", quality).Bool("created", created).Msg("catalog entry saved")
	r.send(ctx, tg.SendMessageRequest{ChatID: chatID, Text: text, DisableWebPagePreview: true})
}

func (r *Router) adminDelete(ctx context.Context, msg *tg.Message, arg string) {
	chatID := msg.Chat.ID
	args := splitArgs(arg)
	if args[0] == "" || len(args) > 2 {
		r.reply(ctx, chatID, "Usage: <code>/delete Movie Name</code> or <code>/delete Movie Name | quality</code>")
		return
	}
	var (
		ok  bool
		err error
	)
	if len(args) == 2 {
		ok, err = r.d.Catalog.DeleteQuality(ctx, args[0], args[1])
	} else {
		ok, err = r.d.Catalog.DeleteMovie(ctx, args[0])
	}
	switch {
	case err != nil:
		zerolog.Ctx(ctx).Error().Err(err).Msg("admin delete failed")
		r.reply(ctx, chatID, tryAgainText)
	case !ok:
		r.reply(ctx, chatID, "❌ Not found.")
	default:
		r.reply(ctx, chatID, "🗑️ Deleted.")
	}
}

func (r *Router) adminList(ctx context.Context, msg *tg.Message, arg string) {
	limit := 20
	if n, err := strconv.Atoi(strings.TrimSpace(arg)); err == nil && n > 0 {
		limit = n
	}
	movies, err := r.d.Catalog.ListRecent(ctx, limit)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("admin list failed")
		r.reply(ctx, msg.Chat.ID, tryAgainText)
		return
	}
	if len(movies) == 0 {
		r.reply(ctx, msg.Chat.ID, "📭 Catalog is empty.")
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "🎬 <b>Movies (%d)</b>\n\n", len(movies))
	for _, m := range movies {
		fmt.Fprintf(&b, "• <code>%s</code> %s", m.Code, html.EscapeString(m.Title))
		if m.PartCount() > 1 {
			fmt.Fprintf(&b, " [%d parts]", m.PartCount())
		}
		if labels := m.QualityLabels(1); len(labels) > 0 {
			fmt.Fprintf(&b, " (%s)", html.EscapeString(strings.Join(labels, ", ")))
		}
		b.WriteString("\n")
	}
	r.reply(ctx, msg.Chat.ID, strings.TrimSpace(b.String()))
}

func (r *Router) adminStats(ctx context.Context, msg *tg.Message) {
	users, err := r.d.Catalog.CountUsers(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("count users failed")
	}
	movies, err := r.d.Catalog.CountMovies(ctx)
	if err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("count movies failed")
	}
	r.reply(ctx, msg.Chat.ID, fmt.Sprintf("📊 <b>Statistics</b>\n\n👥 Users: %d\n🎬 Movies: %d", users, movies))
}

// adminBroadcast copies the replied-to message to every known user. The copy
// loop outlives the update: it runs in the background under its own budget
// and reports into the status message when it is done.
func (r *Router) adminBroadcast(ctx context.Context, msg *tg.Message) {
	src := msg.ReplyToMessage
	if src == nil {
		r.reply(ctx, msg.Chat.ID, "Usage: reply to the message to broadcast with <code>/broadcast</code>")
		return
	}
	status := r.send(ctx, tg.SendMessageRequest{ChatID: msg.Chat.ID, Text: "📤 Broadcasting..."})
	statusID := 0
	if status != nil {
		statusID = status.MessageID
	}
	r.bg.Add(1)
	go func() {
		defer r.bg.Done()
		bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.d.BroadcastTimeout)
		defer cancel()
		r.broadcast(bctx, msg.Chat.ID, src.MessageID, statusID)
	}()
}

func (r *Router) broadcast(ctx context.Context, fromChatID int64, messageID, statusID int) {
	log := zerolog.Ctx(ctx)
	sent, failed := 0, 0
	err := r.d.Catalog.UserIDs(ctx, func(id int64) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := r.d.API.CopyMessage(ctx, id, fromChatID, messageID); err != nil {
			failed++
			log.Debug().Err(err).Int64("to", id).Msg("broadcast copy failed")
			return nil
		}
		sent++
		return nil
	})
	text := fmt.Sprintf("✅ Broadcast done.\n\n📨 Sent: %d\n❌ Failed: %d", sent, failed)
	if err != nil {
		log.Error().Err(err).Msg("broadcast interrupted")
		text = fmt.Sprintf("⚠️ Broadcast interrupted.\n\n📨 Sent: %d\n❌ Failed: %d", sent, failed)
	}
	log.Info().Int("sent", sent).Int("failed", failed).Msg("broadcast finished")

	// The summary gets a fresh budget so a broadcast that ran out of time
	// still reports.
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), summaryTimeout)
	defer cancel()
	r.show(sctx, fromChatID, statusID, text, nil)
}
