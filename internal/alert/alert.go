// Package alert notifies operators about payments that need manual attention.
package alert

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// Notifier delivers a short operator alert.
type Notifier interface {
	Alert(ctx context.Context, text string) error
}

// Nop drops alerts.
type Nop struct{}

// Alert does nothing.
func (Nop) Alert(context.Context, string) error { return nil }

// TelegramConfig configures the Telegram notifier.
type TelegramConfig struct {
	Token  string
	ChatID int64
	// Endpoint overrides tgbotapi.APIEndpoint; it must contain two %s verbs.
	Endpoint string
	Timeout  time.Duration
}

// Telegram posts alerts to an operator chat.
type Telegram struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

// NewTelegram connects to the bot API and verifies the token.
func NewTelegram(cfg TelegramConfig) (*Telegram, error) {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.Token, endpoint, &http.Client{Timeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("telegram bot: %w", err)
	}
	return &Telegram{bot: bot, chatID: cfg.ChatID}, nil
}

// Alert sends text to the configured chat.
func (t *Telegram) Alert(_ context.Context, text string) error {
	if _, err := t.bot.Send(tgbotapi.NewMessage(t.chatID, text)); err != nil {
		return fmt.Errorf("telegram send: %w", err)
	}
	return nil
}

// Recorder keeps alerts in memory and logs them.
type Recorder struct {
	mu     sync.Mutex
	logger *slog.Logger
	alerts []string
}

// NewRecorder creates a recorder; logger may be nil.
func NewRecorder(logger *slog.Logger) *Recorder {
	return &Recorder{logger: logger}
}

// Alert records text.
func (r *Recorder) Alert(_ context.Context, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.alerts = append(r.alerts, text)
	if r.logger != nil {
		r.logger.Warn("operator alert", "text", text)
	}
	return nil
}

// Alerts returns a copy of what was recorded.
func (r *Recorder) Alerts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.alerts))
	copy(out, r.alerts)
	return out
}
