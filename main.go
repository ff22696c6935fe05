package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"movielinks-tg-bot/internal/app"
	"movielinks-tg-bot/internal/config"
	"movielinks-tg-bot/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("failed to load configuration")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Error().Err(err).Msg("failed to start bot")
		return 1
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Close(cctx)
	}()

	if err := a.Run(ctx); err != nil {
		logging.Error().Err(err).Msg("bot stopped with error")
		return 1
	}
	logging.Info().Msg("bot stopped")
	return 0
}
