// Package config loads LeadPipe configuration from the environment and the conversation
// script from YAML.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for LeadPipe state data
	DefaultStateDir = "/var/lib/leadpipe"
	// ClearFlagFileName is the file whose presence requests a full state reset
	ClearFlagFileName = "clear_user_states.flag"
	// LeadsExportFileName is the file written by the lead export command
	LeadsExportFileName = "leads_export.json"
)

// Supported chat transports.
const (
	TransportTelegram = "telegram"
	TransportWhatsApp = "whatsapp"
)

// Configuration errors
var (
	ErrUnknownTransport = errors.New("unknown transport")
	ErrMissingBotToken  = errors.New("TELEGRAM_BOT_TOKEN is required for the telegram transport")
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	StateDir        string        `env:"LEADPIPE_STATE_DIR" envDefault:"/var/lib/leadpipe"`
	Transport       string        `env:"TRANSPORT" envDefault:"telegram"`
	StoreDSN        string        `env:"STORE_DSN"`
	APIAddr         string        `env:"API_ADDR"`
	ScriptPath      string        `env:"SCRIPT_PATH"`
	LogLevel        string        `env:"LOG_LEVEL" envDefault:"debug"`
	LogFile         string        `env:"LOG_FILE"`
	StaleMessageAge time.Duration `env:"STALE_MESSAGE_AGE" envDefault:"30s"`
	AdminUsernames  []string      `env:"ADMIN_USERNAMES" envSeparator:","`

	Telegram struct {
		BotToken string `env:"TELEGRAM_BOT_TOKEN"`
		Debug    bool   `env:"TELEGRAM_DEBUG" envDefault:"false"`
	}

	WhatsApp struct {
		DSN         string `env:"WHATSAPP_DB_DSN"`
		QRPath      string `env:"WHATSAPP_QR_PATH"`
		NumericCode bool   `env:"WHATSAPP_NUMERIC_CODE" envDefault:"false"`
	}

	Media struct {
		GreetingVideo      string `env:"GREETING_VIDEO_PATH"`
		PhoneQuestionVideo string `env:"PHONE_QUESTION_VIDEO_PATH"`
	}

	Bitrix24 struct {
		WebhookURL string        `env:"BITRIX24_WEBHOOK_URL"`
		Timeout    time.Duration `env:"BITRIX24_TIMEOUT" envDefault:"30s"`
	}

	SMTP struct {
		Host     string `env:"SMTP_HOST"`
		Port     int    `env:"SMTP_PORT" envDefault:"587"`
		User     string `env:"SMTP_USER"`
		Password string `env:"SMTP_PASSWORD"`
		From     string `env:"NOTIFY_EMAIL_FROM"`
		To       string `env:"NOTIFY_EMAIL_TO"`
	}

	AMQP struct {
		URL        string `env:"AMQP_URL"`
		Exchange   string `env:"AMQP_EXCHANGE" envDefault:"leadpipe.leads"`
		RoutingKey string `env:"AMQP_ROUTING_KEY" envDefault:"lead.created"`
	}
}

// Load reads a .env file if present and parses the environment into Config.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}
	return Parse(env.Options{})
}

// Parse parses Config with the given env options. Tests pass an explicit Environment map.
func Parse(opts env.Options) (*Config, error) {
	cfg := &Config{}
	if err := env.ParseWithOptions(cfg, opts); err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}
	cfg.AdminUsernames = NormalizeUsernames(cfg.AdminUsernames)
	if cfg.StateDir == "" {
		cfg.StateDir = DefaultStateDir
	}
	slog.Debug("environment variables loaded",
		"LEADPIPE_STATE_DIR", cfg.StateDir,
		"TRANSPORT", cfg.Transport,
		"STORE_DSN_SET", cfg.StoreDSN != "",
		"API_ADDR", cfg.APIAddr,
		"ADMIN_USERNAMES", len(cfg.AdminUsernames),
		"BITRIX24_WEBHOOK_URL_SET", cfg.Bitrix24.WebhookURL != "",
		"SMTP_HOST_SET", cfg.SMTP.Host != "",
		"AMQP_URL_SET", cfg.AMQP.URL != "")
	return cfg, nil
}

// Validate checks cross-field requirements.
func (c *Config) Validate() error {
	switch c.Transport {
	case TransportTelegram:
		if c.Telegram.BotToken == "" {
			return ErrMissingBotToken
		}
	case TransportWhatsApp:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownTransport, c.Transport)
	}
	return nil
}

// SnapshotDSN returns the store DSN, defaulting to the JSON snapshot in the state directory.
func (c *Config) SnapshotDSN() string {
	if c.StoreDSN != "" {
		return c.StoreDSN
	}
	return filepath.Join(c.StateDir, "users_data.json")
}

// ClearFlagPath returns the path of the reset flag file.
func (c *Config) ClearFlagPath() string {
	return filepath.Join(c.StateDir, ClearFlagFileName)
}

// LeadsExportPath returns the path written by the lead export command.
func (c *Config) LeadsExportPath() string {
	return filepath.Join(c.StateDir, LeadsExportFileName)
}

// EmailEnabled reports whether admin e-mail notifications are configured.
func (c *Config) EmailEnabled() bool {
	return c.SMTP.Host != "" && c.SMTP.To != ""
}

// AMQPEnabled reports whether lead events should be published.
func (c *Config) AMQPEnabled() bool {
	return c.AMQP.URL != ""
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to debug.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(strings.TrimSpace(c.LogLevel)) {
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelDebug
	}
}

// NormalizeUsernames lowercases usernames, strips "@" and drops blanks and duplicates.
func NormalizeUsernames(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, u := range in {
		u = NormalizeUsername(u)
		if u == "" {
			continue
		}
		if _, ok := seen[u]; ok {
			continue
		}
		seen[u] = struct{}{}
		out = append(out, u)
	}
	return out
}

// NormalizeUsername lowercases a username and strips the leading "@".
func NormalizeUsername(u string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(u), "@"))
}
