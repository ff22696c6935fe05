package supervisor

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/goccy/go-json"
	"golang.org/x/sync/semaphore"

	"movielinks-tg-bot/internal/bot"
	"movielinks-tg-bot/internal/logging"
	"movielinks-tg-bot/internal/tg"
)

type UpdateSource interface {
	GetUpdates(ctx context.Context, offset int, timeout time.Duration) ([]json.RawMessage, error)
	DeleteWebhook(ctx context.Context, dropPending bool) error
}

type UpdateHandler interface {
	HandleUpdate(ctx context.Context, upd tg.Update) bot.State
}

type PollerConfig struct {
	Workers        int
	PollTimeout    time.Duration
	HandlerTimeout time.Duration
	// DropPending discards updates queued while the bot was offline.
	DropPending bool
	// RetryDelay is the pause after a failed getUpdates call.
	RetryDelay time.Duration
}

// Poller long-polls getUpdates and hands each update to its own goroutine,
// at most Workers at a time. The offset survives restarts by the supervisor.
type Poller struct {
	src     UpdateSource
	handler UpdateHandler
	cfg     PollerConfig
	sem     *semaphore.Weighted
	offset  int
}

func NewPoller(src UpdateSource, handler UpdateHandler, cfg PollerConfig) *Poller {
	if cfg.Workers < 1 {
		cfg.Workers = 16
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 30 * time.Second
	}
	if cfg.HandlerTimeout <= 0 {
		cfg.HandlerTimeout = 30 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 2 * time.Second
	}
	return &Poller{src: src, handler: handler, cfg: cfg, sem: semaphore.NewWeighted(int64(cfg.Workers))}
}

func (p *Poller) Serve(ctx context.Context) error {
	if err := p.src.DeleteWebhook(ctx, p.cfg.DropPending); err != nil {
		logging.Warn().Err(err).Msg("deleteWebhook failed, polling anyway")
	}
	logging.Info().Int("workers", p.cfg.Workers).Int("offset", p.offset).Msg("polling started")
	defer p.drain()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		raws, err := p.src.GetUpdates(ctx, p.offset, p.cfg.PollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			logging.Warn().Err(err).Msg("getUpdates failed")
			if !sleep(ctx, p.cfg.RetryDelay) {
				return ctx.Err()
			}
			continue
		}
		for _, raw := range raws {
			var upd tg.Update
			if err := json.Unmarshal(raw, &upd); err != nil {
				logging.Warn().Err(err).Msg("undecodable update skipped")
				p.skip(raw)
				continue
			}
			if upd.UpdateID >= p.offset {
				p.offset = upd.UpdateID + 1
			}
			if err := p.sem.Acquire(ctx, 1); err != nil {
				return err
			}
			go p.dispatch(ctx, upd)
		}
	}
}

// skip advances the offset past an update whose body could not be decoded.
func (p *Poller) skip(raw json.RawMessage) {
	var id struct {
		UpdateID int `json:"update_id"`
	}
	if json.Unmarshal(raw, &id) == nil && id.UpdateID >= p.offset {
		p.offset = id.UpdateID + 1
	}
}

func (p *Poller) dispatch(ctx context.Context, upd tg.Update) {
	defer p.sem.Release(1)
	defer func() {
		if rec := recover(); rec != nil {
			logging.Error().Interface("panic", rec).Int("update_id", upd.UpdateID).Bytes("stack", debug.Stack()).Msg("update handler panicked")
		}
	}()
	// In-flight updates finish even when polling is being stopped.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.HandlerTimeout)
	defer cancel()
	p.handler.HandleUpdate(hctx, upd)
}

// drain waits for every dispatched update to finish.
func (p *Poller) drain() {
	_ = p.sem.Acquire(context.Background(), int64(p.cfg.Workers))
	p.sem.Release(int64(p.cfg.Workers))
}

func (p *Poller) String() string { return "update-poller" }

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
