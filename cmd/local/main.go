// Command local runs the bot on a developer machine: it reads .env, forces
// long polling and serves the HTTP endpoints on PORT (default 7955).
package main

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"movielinks-tg-bot/internal/app"
	"movielinks-tg-bot/internal/config"
	"movielinks-tg-bot/internal/logging"
)

const shutdownTimeout = 30 * time.Second

func main() {
	if err := loadEnvFile(".env"); err != nil {
		logging.Warn().Err(err).Msg("failed to read .env")
	}
	if strings.TrimSpace(os.Getenv("PORT")) == "" {
		_ = os.Setenv("PORT", "7955")
	}
	_ = os.Setenv("BOT_MODE", config.ModePolling)
	if os.Getenv("LOG_FORMAT") == "" {
		_ = os.Setenv("LOG_FORMAT", "console")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Error().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logging.Error().Err(err).Msg("failed to start bot")
		os.Exit(1)
	}
	defer func() {
		cctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		a.Close(cctx)
	}()

	if err := a.Run(ctx); err != nil {
		logging.Error().Err(err).Msg("bot stopped with error")
	}
}

// loadEnvFile sets variables from path that are not already set. A missing
// file is not an error.
func loadEnvFile(path string) error {
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}
