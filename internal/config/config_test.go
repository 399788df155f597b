package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Addr != ":8080" {
		t.Errorf("expected :8080, got %q", cfg.Addr)
	}
	if cfg.PaymentProvider != PaymentSandbox {
		t.Errorf("expected sandbox provider, got %q", cfg.PaymentProvider)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("expected 30s heartbeat, got %v", cfg.HeartbeatInterval)
	}
	if cfg.AbandonAfter != time.Hour {
		t.Errorf("expected 1h abandon threshold, got %v", cfg.AbandonAfter)
	}
	if cfg.SweepInterval != 0 {
		t.Errorf("expected sweep disabled, got %v", cfg.SweepInterval)
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("TRYOUTS_ADDR", ":9090")
	t.Setenv("TRYOUTS_BASE_URL", "https://tryouts.example.com/")
	t.Setenv("TRYOUTS_TELEGRAM_CHAT_ID", "-1001")
	t.Setenv("TRYOUTS_SWEEP_INTERVAL", "15m")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Addr != ":9090" {
		t.Errorf("expected :9090, got %q", cfg.Addr)
	}
	if cfg.BaseURL != "https://tryouts.example.com" {
		t.Errorf("expected trailing slash trimmed, got %q", cfg.BaseURL)
	}
	if cfg.TelegramChatID != -1001 {
		t.Errorf("expected chat id -1001, got %d", cfg.TelegramChatID)
	}
	if cfg.SweepInterval != 15*time.Minute {
		t.Errorf("expected 15m, got %v", cfg.SweepInterval)
	}
}

func TestLoadDotenv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	if err := os.WriteFile(path, []byte("TRYOUTS_DB_PATH=/tmp/from-dotenv.db\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	// Keep the variable scoped to this test.
	t.Setenv("TRYOUTS_DB_PATH", "")
	os.Unsetenv("TRYOUTS_DB_PATH")

	cfg, err := Load(path, filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.DBPath != "/tmp/from-dotenv.db" {
		t.Errorf("expected db path from .env, got %q", cfg.DBPath)
	}
}

func TestValidate(t *testing.T) {
	base := Config{
		PaymentProvider:   PaymentSandbox,
		Mailer:            MailerLog,
		IdentityProvider:  IdentityLocal,
		JWTSecret:         "0123456789abcdef",
		HeartbeatInterval: time.Second,
		AbandonAfter:      time.Hour,
	}
	if err := base.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"stripe without key", func(c *Config) { c.PaymentProvider = PaymentStripe }, "STRIPE_SECRET_KEY"},
		{"resend without key", func(c *Config) { c.Mailer = MailerResend }, "RESEND_API_KEY"},
		{"clerk without key", func(c *Config) { c.IdentityProvider = IdentityClerk }, "CLERK_SECRET_KEY"},
		{"short jwt secret", func(c *Config) { c.JWTSecret = "short" }, "JWT_SECRET"},
		{"unknown mailer", func(c *Config) { c.Mailer = "carrier-pigeon" }, "unknown mailer"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}
