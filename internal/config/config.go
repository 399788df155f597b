// Package config loads the service configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Provider names.
const (
	PaymentStripe  = "stripe"
	PaymentSandbox = "sandbox"

	IdentityClerk = "clerk"
	IdentityLocal = "local"

	MailerResend = "resend"
	MailerLog    = "log"
)

// Config holds every runtime setting. All keys are prefixed with TRYOUTS_.
type Config struct {
	Addr        string `env:"ADDR"         envDefault:":8080"`
	BaseURL     string `env:"BASE_URL"     envDefault:"http://localhost:8080"`
	DBPath      string `env:"DB_PATH"      envDefault:"tryouts.db"`
	CatalogFile string `env:"CATALOG_FILE" envDefault:"tryouts.yaml"`
	Verbose     bool   `env:"VERBOSE"`

	PaymentProvider     string `env:"PAYMENT_PROVIDER"      envDefault:"sandbox"`
	StripeSecretKey     string `env:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret string `env:"STRIPE_WEBHOOK_SECRET" envDefault:"whsec_sandbox"`

	Mailer       string `env:"MAILER"         envDefault:"log"`
	ResendAPIKey string `env:"RESEND_API_KEY"`
	EmailFrom    string `env:"EMAIL_FROM"     envDefault:"Tryouts <tryouts@example.com>"`

	IdentityProvider string `env:"IDENTITY_PROVIDER" envDefault:"local"`
	ClerkSecretKey   string `env:"CLERK_SECRET_KEY"`

	JWTSecret           string `env:"JWT_SECRET"`
	AdminPasswordHash   string `env:"ADMIN_PASSWORD_HASH"`
	CheckInPasswordHash string `env:"CHECKIN_PASSWORD_HASH"`

	RedisURL string `env:"REDIS_URL"`

	TelegramToken  string `env:"TELEGRAM_TOKEN"`
	TelegramChatID int64  `env:"TELEGRAM_CHAT_ID"`

	SheetsCredentialsFile string `env:"SHEETS_CREDENTIALS_FILE"`
	SheetsSpreadsheetID   string `env:"SHEETS_SPREADSHEET_ID"`
	SheetsRange           string `env:"SHEETS_RANGE" envDefault:"Roster!A1"`

	OTelEndpoint string `env:"OTEL_ENDPOINT"`

	HeartbeatInterval time.Duration `env:"HEARTBEAT_INTERVAL" envDefault:"30s"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL"     envDefault:"0s"`
	AbandonAfter      time.Duration `env:"ABANDON_AFTER"      envDefault:"1h"`
	ShutdownTimeout   time.Duration `env:"SHUTDOWN_TIMEOUT"   envDefault:"10s"`
}

// Load reads the given .env files (missing ones are skipped; variables
// already set in the environment win) and parses TRYOUTS_ variables.
func Load(dotenvFiles ...string) (Config, error) {
	for _, path := range dotenvFiles {
		if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", path, err)
		}
	}
	var cfg Config
	if err := env.ParseWithOptions(&cfg, env.Options{Prefix: "TRYOUTS_"}); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}

// Validate checks that the selected providers have what they need.
// Only the serve command calls it; one-shot commands need less.
func (c Config) Validate() error {
	var problems []string
	switch c.PaymentProvider {
	case PaymentStripe:
		if c.StripeSecretKey == "" {
			problems = append(problems, "TRYOUTS_STRIPE_SECRET_KEY is required for the stripe provider")
		}
		if c.StripeWebhookSecret == "" || c.StripeWebhookSecret == "whsec_sandbox" {
			problems = append(problems, "TRYOUTS_STRIPE_WEBHOOK_SECRET is required for the stripe provider")
		}
	case PaymentSandbox:
	default:
		problems = append(problems, fmt.Sprintf("unknown payment provider %q", c.PaymentProvider))
	}
	switch c.Mailer {
	case MailerResend:
		if c.ResendAPIKey == "" {
			problems = append(problems, "TRYOUTS_RESEND_API_KEY is required for the resend mailer")
		}
	case MailerLog:
	default:
		problems = append(problems, fmt.Sprintf("unknown mailer %q", c.Mailer))
	}
	switch c.IdentityProvider {
	case IdentityClerk:
		if c.ClerkSecretKey == "" {
			problems = append(problems, "TRYOUTS_CLERK_SECRET_KEY is required for the clerk identity provider")
		}
	case IdentityLocal:
	default:
		problems = append(problems, fmt.Sprintf("unknown identity provider %q", c.IdentityProvider))
	}
	if len(c.JWTSecret) < 16 {
		problems = append(problems, "TRYOUTS_JWT_SECRET must be at least 16 characters")
	}
	if c.HeartbeatInterval <= 0 {
		problems = append(problems, "TRYOUTS_HEARTBEAT_INTERVAL must be positive")
	}
	if c.AbandonAfter <= 0 {
		problems = append(problems, "TRYOUTS_ABANDON_AFTER must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

// SheetsEnabled reports whether roster export is configured.
func (c Config) SheetsEnabled() bool {
	return c.SheetsCredentialsFile != "" && c.SheetsSpreadsheetID != ""
}

// TelegramEnabled reports whether operator alerts go to Telegram.
func (c Config) TelegramEnabled() bool {
	return c.TelegramToken != "" && c.TelegramChatID != 0
}
