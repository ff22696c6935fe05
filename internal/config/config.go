// Package config loads settings from built-in defaults, an optional YAML
// file and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

const ConfigPathEnvVar = "CONFIG_PATH"

var DefaultConfigPaths = []string{"config.yaml", "config.yml", "/etc/movielinks/config.yaml"}

const (
	ModeWebhook = "webhook"
	ModePolling = "polling"

	BackendMemory = "memory"
	BackendMongo  = "mongo"
	BackendRedis  = "redis"
)

type Config struct {
	Bot       BotConfig       `koanf:"bot"`
	Telegram  TelegramConfig  `koanf:"telegram"`
	Channel   ChannelConfig   `koanf:"channel"`
	Server    ServerConfig    `koanf:"server"`
	Mongo     MongoConfig     `koanf:"mongo"`
	Redis     RedisConfig     `koanf:"redis"`
	Tokens    TokensConfig    `koanf:"tokens"`
	Monetize  MonetizeConfig  `koanf:"monetize"`
	TMDB      TMDBConfig      `koanf:"tmdb"`
	Shortener ShortenerConfig `koanf:"shortener"`
	Logging   LoggingConfig   `koanf:"logging"`
}

type BotConfig struct {
	Token   string `koanf:"token"`
	AdminID int64  `koanf:"admin_id"`
	Mode    string `koanf:"mode"`
	// Workers bounds concurrent update handling in polling mode.
	Workers int `koanf:"workers"`
}

type TelegramConfig struct {
	APIBase       string        `koanf:"api_base"`
	RateLimit     float64       `koanf:"rate_limit"`
	RateBurst     int           `koanf:"rate_burst"`
	MaxFloodWait  time.Duration `koanf:"max_flood_wait"`
	WebhookURL    string        `koanf:"webhook_url"`
	WebhookSecret string        `koanf:"webhook_secret"`
	PollTimeout   time.Duration `koanf:"poll_timeout"`
}

type ChannelConfig struct {
	// ID is a numeric chat id or @username. Empty disables the gate.
	ID         string `koanf:"id"`
	InviteLink string `koanf:"invite_link"`
}

type ServerConfig struct {
	Port           string        `koanf:"port"`
	ReadTimeout    time.Duration `koanf:"read_timeout"`
	WriteTimeout   time.Duration `koanf:"write_timeout"`
	HandlerTimeout time.Duration `koanf:"handler_timeout"`
}

type MongoConfig struct {
	URI      string `koanf:"uri"`
	Database string `koanf:"database"`
}

type RedisConfig struct {
	URL string `koanf:"url"`
}

type TokensConfig struct {
	// Backend is memory, mongo or redis. Empty picks mongo when a URI is
	// configured and memory otherwise.
	Backend string        `koanf:"backend"`
	TTL     time.Duration `koanf:"ttl"`
}

type MonetizeConfig struct {
	Enabled     bool   `koanf:"enabled"`
	PageURL     string `koanf:"page_url"`
	FileBaseURL string `koanf:"file_base_url"`
}

type TMDBConfig struct {
	APIKey string `koanf:"api_key"`
}

type ShortenerConfig struct {
	APIURL string `koanf:"api_url"`
	APIKey string `koanf:"api_key"`
}

type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

func defaultConfig() *Config {
	return &Config{
		Bot: BotConfig{
			Mode:    ModeWebhook,
			Workers: 16,
		},
		Telegram: TelegramConfig{
			APIBase:      "https://api.telegram.org",
			RateLimit:    25,
			RateBurst:    5,
			MaxFloodWait: time.Minute,
			PollTimeout:  30 * time.Second,
		},
		Server: ServerConfig{
			Port:           "8080",
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			HandlerTimeout: 9 * time.Second,
		},
		Mongo: MongoConfig{
			Database: "moviebot",
		},
		Tokens: TokensConfig{
			TTL: 30 * time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads CONFIG_PATH or the first existing DefaultConfigPaths entry,
// then the environment.
func Load() (*Config, error) {
	return LoadFile(findConfigFile())
}

// LoadFile is Load with an explicit YAML path; empty skips the file layer.
func LoadFile(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

var envMappings = map[string]string{
	"bot_token":     "bot.token",
	"admin_id":      "bot.admin_id",
	"admin_chat_id": "bot.admin_id",
	"bot_mode":      "bot.mode",
	"bot_workers":   "bot.workers",

	"telegram_api_base":       "telegram.api_base",
	"telegram_rate_limit":     "telegram.rate_limit",
	"telegram_rate_burst":     "telegram.rate_burst",
	"telegram_max_flood_wait": "telegram.max_flood_wait",
	"webhook_url":             "telegram.webhook_url",
	"webhook_secret":          "telegram.webhook_secret",
	"poll_timeout":            "telegram.poll_timeout",

	"channel_id":          "channel.id",
	"backup_channel_id":   "channel.id",
	"channel_invite_link": "channel.invite_link",
	"backup_channel_link": "channel.invite_link",

	"port":            "server.port",
	"read_timeout":    "server.read_timeout",
	"write_timeout":   "server.write_timeout",
	"handler_timeout": "server.handler_timeout",

	"mongodb_uri":      "mongo.uri",
	"mongodb_database": "mongo.database",
	"redis_url":        "redis.url",

	"token_backend": "tokens.backend",
	"token_ttl":     "tokens.ttl",

	"monetization_enabled": "monetize.enabled",
	"monetize_page_url":    "monetize.page_url",
	"github_page_url":      "monetize.page_url",
	"file_base_url":        "monetize.file_base_url",

	"tmdb_api_key":      "tmdb.api_key",
	"shortener_api_url": "shortener.api_url",
	"shortener_api_key": "shortener.api_key",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",
}

// envTransformFunc maps known variables to config paths and drops the rest.
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}

func (c *Config) normalize() {
	c.Bot.Token = strings.TrimSpace(c.Bot.Token)
	c.Bot.Mode = strings.ToLower(strings.TrimSpace(c.Bot.Mode))
	c.Tokens.Backend = strings.ToLower(strings.TrimSpace(c.Tokens.Backend))
	c.Server.Port = strings.TrimPrefix(strings.TrimSpace(c.Server.Port), ":")
	c.Channel.ID = strings.TrimSpace(c.Channel.ID)
}

// TokenBackend resolves the empty backend setting.
func (c *Config) TokenBackend() string {
	if c.Tokens.Backend != "" {
		return c.Tokens.Backend
	}
	if c.Mongo.URI != "" {
		return BackendMongo
	}
	return BackendMemory
}

func (c *Config) Validate() error {
	var errs []error
	if c.Bot.Token == "" {
		errs = append(errs, errors.New("bot.token (BOT_TOKEN) is required"))
	}
	switch c.Bot.Mode {
	case ModeWebhook, ModePolling:
	default:
		errs = append(errs, fmt.Errorf("bot.mode %q must be webhook or polling", c.Bot.Mode))
	}
	if c.Bot.Workers < 1 {
		errs = append(errs, fmt.Errorf("bot.workers must be positive, got %d", c.Bot.Workers))
	}
	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	if c.Tokens.TTL <= 0 {
		errs = append(errs, fmt.Errorf("tokens.ttl must be positive, got %s", c.Tokens.TTL))
	}
	switch c.TokenBackend() {
	case BackendMemory:
	case BackendMongo:
		if c.Mongo.URI == "" {
			errs = append(errs, errors.New("tokens.backend=mongo needs mongo.uri (MONGODB_URI)"))
		}
	case BackendRedis:
		if c.Redis.URL == "" {
			errs = append(errs, errors.New("tokens.backend=redis needs redis.url (REDIS_URL)"))
		}
	default:
		errs = append(errs, fmt.Errorf("tokens.backend %q must be memory, mongo or redis", c.Tokens.Backend))
	}
	if c.Telegram.RateLimit < 0 {
		errs = append(errs, errors.New("telegram.rate_limit must not be negative"))
	}
	return errors.Join(errs...)
}
