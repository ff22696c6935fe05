// Package bot routes Telegram updates through the search, selection and
// link redemption flow.
package bot

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"movielinks-tg-bot/internal/delivery"
	"movielinks-tg-bot/internal/logging"
	"movielinks-tg-bot/internal/metrics"
	"movielinks-tg-bot/internal/storage"
	"movielinks-tg-bot/internal/tg"
	"movielinks-tg-bot/internal/tmdb"
	"movielinks-tg-bot/internal/tokens"
)

type Messenger interface {
	SendMessage(ctx context.Context, req tg.SendMessageRequest) (*tg.Message, error)
	SendPhoto(ctx context.Context, req tg.SendPhotoRequest) (*tg.Message, error)
	EditMessageText(ctx context.Context, req tg.EditMessageTextRequest) error
	AnswerCallbackQuery(ctx context.Context, callbackQueryID string, text string) error
	DeleteMessage(ctx context.Context, chatID int64, messageID int) error
	CopyMessage(ctx context.Context, toChatID int64, fromChatID int64, messageID int) (int, error)
}

// Catalog is satisfied by storage.Mongo and storage.Memory.
type Catalog interface {
	UpsertUser(ctx context.Context, id int64, username string) error
	CountUsers(ctx context.Context) (int64, error)
	UserIDs(ctx context.Context, fn func(id int64) error) error
	GetMovie(ctx context.Context, code string) (*storage.Movie, error)
	SearchMovies(ctx context.Context, query string, limit int) ([]storage.Movie, error)
	ListRecent(ctx context.Context, limit int) ([]storage.Movie, error)
	CountMovies(ctx context.Context) (int64, error)
	AddQuality(ctx context.Context, title string, part int, label string, file storage.QualityFile) (*storage.Movie, bool, error)
	DeleteQuality(ctx context.Context, title string, label string) (bool, error)
	DeleteMovie(ctx context.Context, title string) (bool, error)
}

type Gate interface {
	IsSubscribed(ctx context.Context, userID int64) bool
}

type Deliverer interface {
	Deliver(ctx context.Context, chatID int64, m *storage.Movie, part int, quality string, file storage.QualityFile) delivery.Result
}

type MetadataLookup interface {
	Lookup(ctx context.Context, query string) (*tmdb.Info, error)
}

type Shortener interface {
	Shorten(ctx context.Context, long string) string
}

// DefaultBroadcastTimeout bounds a /broadcast run when Deps leaves it unset.
const DefaultBroadcastTimeout = 30 * time.Minute

// Deps is everything a Router needs. Metadata and Shortener are optional.
type Deps struct {
	API         Messenger
	Catalog     Catalog
	Tokens      *tokens.Service
	Gate        Gate
	Delivery    Deliverer
	Metadata    MetadataLookup
	Shortener   Shortener
	BotUsername string
	AdminID     int64
	InviteLink  string

	BroadcastTimeout time.Duration
}

type Router struct {
	d  Deps
	bg sync.WaitGroup
}

func NewRouter(d Deps) (*Router, error) {
	switch {
	case d.API == nil:
		return nil, fmt.Errorf("bot: messenger is required")
	case d.Catalog == nil:
		return nil, fmt.Errorf("bot: catalog is required")
	case d.Tokens == nil:
		return nil, fmt.Errorf("bot: token service is required")
	case d.Gate == nil:
		return nil, fmt.Errorf("bot: subscription gate is required")
	case d.Delivery == nil:
		return nil, fmt.Errorf("bot: deliverer is required")
	case strings.TrimSpace(d.BotUsername) == "":
		return nil, fmt.Errorf("bot: bot username is required")
	}
	d.BotUsername = strings.TrimPrefix(strings.TrimSpace(d.BotUsername), "@")
	if d.BroadcastTimeout <= 0 {
		d.BroadcastTimeout = DefaultBroadcastTimeout
	}
	return &Router{d: d}, nil
}

func (r *Router) BotUsername() string { return r.d.BotUsername }

// Wait blocks until background work such as broadcasts has finished or ctx
// is done.
func (r *Router) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.bg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// HandleUpdate processes one update and reports the state it ended in.
func (r *Router) HandleUpdate(ctx context.Context, upd tg.Update) State {
	var userID int64
	switch {
	case upd.Message != nil && upd.Message.From != nil:
		userID = upd.Message.From.ID
	case upd.CallbackQuery != nil:
		userID = upd.CallbackQuery.From.ID
	}
	ctx = logging.WithUpdate(ctx, upd.UpdateID, userID)

	var st State
	switch {
	case upd.CallbackQuery != nil:
		st = r.handleCallback(ctx, upd.CallbackQuery)
	case upd.Message != nil:
		st = r.handleMessage(ctx, upd.Message)
	default:
		st = Ignored
	}
	metrics.UpdatesTotal.WithLabelValues(st.String()).Inc()
	zerolog.Ctx(ctx).Debug().Str("state", st.String()).Msg("update handled")
	return st
}

func (r *Router) handleMessage(ctx context.Context, msg *tg.Message) State {
	if msg.From == nil || msg.From.IsBot {
		return Ignored
	}
	if msg.Chat.Type != "" && msg.Chat.Type != "private" {
		return Ignored
	}
	r.trackUser(ctx, msg.From)

	text := strings.TrimSpace(msg.Text)
	if text == "" {
		return Ignored
	}
	if !strings.HasPrefix(text, "/") {
		return r.handleSearch(ctx, msg, text)
	}

	cmd, arg, _ := strings.Cut(text, " ")
	cmd = strings.ToLower(cmd)
	if at := strings.IndexByte(cmd, '@'); at > 0 {
		if !strings.EqualFold(cmd[at+1:], r.d.BotUsername) {
			return Ignored
		}
		cmd = cmd[:at]
	}
	arg = strings.TrimSpace(arg)

	switch cmd {
	case "/start":
		return r.handleStart(ctx, msg, arg)
	case "/help":
		return r.handleHelp(ctx, msg)
	}
	if r.isAdmin(msg.From.ID) {
		if st, ok := r.handleAdmin(ctx, msg, cmd, arg); ok {
			return st
		}
	}
	return Ignored
}

func (r *Router) isAdmin(userID int64) bool {
	return r.d.AdminID != 0 && userID == r.d.AdminID
}

func (r *Router) trackUser(ctx context.Context, u *tg.User) {
	if err := r.d.Catalog.UpsertUser(ctx, u.ID, u.Username); err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Msg("user upsert failed")
	}
}

func (r *Router) deepLink(p string) string {
	return fmt.Sprintf("https://t.me/%s?start=%s", r.d.BotUsername, p)
}

func (r *Router) send(ctx context.Context, req tg.SendMessageRequest) *tg.Message {
	if req.ParseMode == "" {
		req.ParseMode = "HTML"
	}
	m, err := r.d.API.SendMessage(ctx, req)
	if err != nil {
		zerolog.Ctx(ctx).Warn().Err(err).Str("outcome", tg.OutcomeOf(err).String()).Msg("sendMessage failed")
		return nil
	}
	return m
}

func (r *Router) reply(ctx context.Context, chatID int64, text string) {
	r.send(ctx, tg.SendMessageRequest{ChatID: chatID, Text: text})
}

// show edits messageID in place when it is set, and sends a new message
// otherwise or when the edit fails.
func (r *Router) show(ctx context.Context, chatID int64, messageID int, text string, kb *tg.InlineKeyboardMarkup) {
	if messageID > 0 {
		err := r.d.API.EditMessageText(ctx, tg.EditMessageTextRequest{ChatID: chatID, MessageID: messageID, Text: text, ParseMode: "HTML", ReplyMarkup: kb})
		if err == nil || tg.IsMessageNotModified(err) {
			return
		}
		zerolog.Ctx(ctx).Warn().Err(err).Msg("editMessageText failed, sending new message")
	}
	r.send(ctx, tg.SendMessageRequest{ChatID: chatID, Text: text, ReplyMarkup: kb})
}

func (r *Router) welcome(ctx context.Context, chatID int64) State {
	req := tg.SendMessageRequest{ChatID: chatID, Text: welcomeText}
	if r.d.InviteLink != "" {
		req.ReplyMarkup = storage.URLKeyboard("📢 Join Channel", r.d.InviteLink)
	}
	r.send(ctx, req)
	return Welcome
}

func (r *Router) handleHelp(ctx context.Context, msg *tg.Message) State {
	text := helpText
	if r.isAdmin(msg.From.ID) {
		text += adminHelpText
	}
	r.reply(ctx, msg.Chat.ID, text)
	return Help
}
