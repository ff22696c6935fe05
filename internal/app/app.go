// Package app builds the bot's object graph from configuration and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/redis/go-redis/v9"

	handler "movielinks-tg-bot/api"
	"movielinks-tg-bot/internal/bot"
	"movielinks-tg-bot/internal/config"
	"movielinks-tg-bot/internal/delivery"
	"movielinks-tg-bot/internal/logging"
	"movielinks-tg-bot/internal/monetize"
	"movielinks-tg-bot/internal/shortener"
	"movielinks-tg-bot/internal/storage"
	"movielinks-tg-bot/internal/subscription"
	"movielinks-tg-bot/internal/supervisor"
	"movielinks-tg-bot/internal/tg"
	"movielinks-tg-bot/internal/tmdb"
	"movielinks-tg-bot/internal/tokens"
)

type App struct {
	cfg     *config.Config
	api     *tg.Client
	router  *bot.Router
	server  *handler.Server
	mongo   *storage.Mongo
	redis   *redis.Client
	catalog bot.Catalog
}

// New connects to every configured backend. On error anything already
// opened is closed.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logging.Init(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Caller: cfg.Logging.Caller})

	a := &App{cfg: cfg}
	if err := a.build(ctx); err != nil {
		a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.cfg
	a.api = tg.NewClient(cfg.Bot.Token,
		tg.WithBaseURL(cfg.Telegram.APIBase),
		tg.WithRateLimit(cfg.Telegram.RateLimit, cfg.Telegram.RateBurst),
		tg.WithMaxFloodWait(cfg.Telegram.MaxFloodWait),
	)
	me, err := a.api.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("getMe: %w", err)
	}
	if me.Username == "" {
		return errors.New("getMe returned no username")
	}

	if cfg.Mongo.URI != "" {
		a.mongo, err = storage.NewMongo(ctx, cfg.Mongo.URI, cfg.Mongo.Database, cfg.Tokens.TTL)
		if err != nil {
			return fmt.Errorf("mongo: %w", err)
		}
		a.catalog = a.mongo
	} else {
		logging.Warn().Msg("no MONGODB_URI set, catalog and users are kept in memory")
		a.catalog = storage.NewMemory()
	}

	store, err := a.tokenStore(ctx)
	if err != nil {
		return err
	}

	deps := bot.Deps{
		API:         a.api,
		Catalog:     a.catalog,
		Tokens:      tokens.NewService(store, cfg.Tokens.TTL),
		Gate:        subscription.NewGate(a.api, cfg.Channel.ID),
		BotUsername: me.Username,
		AdminID:     cfg.Bot.AdminID,
		InviteLink:  cfg.Channel.InviteLink,
	}
	linker := monetize.New(monetize.Config{
		Enabled:     cfg.Monetize.Enabled,
		PageURL:     cfg.Monetize.PageURL,
		FileBaseURL: cfg.Monetize.FileBaseURL,
	})
	deps.Delivery = delivery.NewDeliverer(a.api, linker)

	var metadata handler.MetadataLookup
	if meta := tmdb.NewClient(cfg.TMDB.APIKey); meta.Enabled() {
		deps.Metadata = meta
		metadata = meta
	}
	if short := shortener.New(cfg.Shortener.APIURL, cfg.Shortener.APIKey); short.Enabled() {
		deps.Shortener = short
	}

	a.router, err = bot.NewRouter(deps)
	if err != nil {
		return err
	}
	a.server = handler.NewServer(handler.Config{
		Updates:        a.router,
		Catalog:        a.catalog,
		Metadata:       metadata,
		Health:         a.health,
		WebhookSecret:  cfg.Telegram.WebhookSecret,
		HandlerTimeout: cfg.Server.HandlerTimeout,
		BotUsername:    me.Username,
		Mode:           cfg.Bot.Mode,
	})

	logging.Info().
		Str("bot", me.Username).
		Str("mode", cfg.Bot.Mode).
		Str("token_backend", cfg.TokenBackend()).
		Bool("gate", cfg.Channel.ID != "").
		Bool("monetized", linker.Enabled()).
		Bool("tmdb", deps.Metadata != nil).
		Bool("shortener", deps.Shortener != nil).
		Msg("bot configured")
	return nil
}

func (a *App) tokenStore(ctx context.Context) (tokens.Store, error) {
	switch backend := a.cfg.TokenBackend(); backend {
	case config.BackendMemory:
		return tokens.NewMemoryStore(a.cfg.Tokens.TTL), nil
	case config.BackendMongo:
		if a.mongo == nil {
			return nil, errors.New("token backend mongo needs MONGODB_URI")
		}
		return a.mongo.Tokens(), nil
	case config.BackendRedis:
		rdb, err := tokens.NewRedisClient(ctx, a.cfg.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("redis: %w", err)
		}
		a.redis = rdb
		return tokens.NewRedisStore(rdb, a.cfg.Tokens.TTL), nil
	default:
		return nil, fmt.Errorf("unknown token backend %q", backend)
	}
}

func (a *App) health(ctx context.Context) error {
	var errs []error
	if a.mongo != nil {
		if err := a.mongo.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongo: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Ping(ctx).Err(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) Router() *bot.Router { return a.router }

func (a *App) Handler() http.Handler { return a.server.Routes() }

// Tree returns the supervisor with the HTTP server and, in polling mode,
// the update poller.
func (a *App) Tree() *supervisor.Tree {
	tree := supervisor.NewTree(supervisor.DefaultTreeConfig())
	srv := &http.Server{
		Addr:         net.JoinHostPort("", a.cfg.Server.Port),
		Handler:      a.Handler(),
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
	}
	tree.AddAPIService(supervisor.NewHTTPServerService(srv, 0))
	if a.cfg.Bot.Mode == config.ModePolling {
		tree.AddUpdateService(supervisor.NewPoller(a.api, a.router, supervisor.PollerConfig{
			Workers:        a.cfg.Bot.Workers,
			PollTimeout:    a.cfg.Telegram.PollTimeout,
			HandlerTimeout: a.cfg.Server.HandlerTimeout,
		}))
	}
	return tree
}

// RegisterWebhook points Telegram at the configured webhook URL. It is a
// no-op in polling mode or when no URL is set.
func (a *App) RegisterWebhook(ctx context.Context) error {
	if a.cfg.Bot.Mode != config.ModeWebhook || a.cfg.Telegram.WebhookURL == "" {
		return nil
	}
	url := strings.TrimRight(a.cfg.Telegram.WebhookURL, "/")
	if !strings.HasSuffix(url, "/api/webhook") {
		url += "/api/webhook"
	}
	if err := a.api.SetWebhook(ctx, url, a.cfg.Telegram.WebhookSecret); err != nil {
		return fmt.Errorf("setWebhook: %w", err)
	}
	logging.Info().Str("url", url).Msg("webhook registered")
	return nil
}

// Run registers the webhook and serves until ctx is canceled.
func (a *App) Run(ctx context.Context) error {
	if err := a.RegisterWebhook(ctx); err != nil {
		return err
	}
	logging.Info().Str("port", a.cfg.Server.Port).Msg("starting supervisor tree")
	tree := a.Tree()
	err := tree.Serve(ctx)
	if unstopped, _ := tree.UnstoppedServiceReport(); len(unstopped) > 0 {
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("service failed to stop")
		}
	}
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close waits for background router work until ctx is done, then releases
// the store connections.
func (a *App) Close(ctx context.Context) {
	if a.router != nil {
		if err := a.router.Wait(ctx); err != nil {
			logging.Warn().Err(err).Msg("background work still running at shutdown")
		}
	}
	if a.mongo != nil {
		if err := a.mongo.Close(ctx); err != nil {
			logging.Warn().Err(err).Msg("mongo disconnect failed")
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			logging.Warn().Err(err).Msg("redis close failed")
		}
	}
}
