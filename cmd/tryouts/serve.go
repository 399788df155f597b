package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/precisionheat/tryouts/internal/alert"
	"github.com/precisionheat/tryouts/internal/api"
	"github.com/precisionheat/tryouts/internal/auth"
	"github.com/precisionheat/tryouts/internal/catalog"
	"github.com/precisionheat/tryouts/internal/checkin"
	"github.com/precisionheat/tryouts/internal/clock"
	"github.com/precisionheat/tryouts/internal/config"
	"github.com/precisionheat/tryouts/internal/identity"
	"github.com/precisionheat/tryouts/internal/mailer"
	"github.com/precisionheat/tryouts/internal/payment"
	"github.com/precisionheat/tryouts/internal/registration"
	"github.com/precisionheat/tryouts/internal/roster"
	"github.com/precisionheat/tryouts/internal/server"
	"github.com/precisionheat/tryouts/internal/store"
	"github.com/precisionheat/tryouts/internal/telemetry"
)

const serviceName = "tryouts"

func openStore(ctx context.Context, cfg config.Config) (*store.Store, *clock.Clock, error) {
	st, err := store.Open(ctx, cfg.DBPath)
	if err != nil {
		return nil, nil, err
	}
	return st, clock.New(), nil
}

func newRoster(ctx context.Context, cfg config.Config, st *store.Store) (*roster.Exporter, error) {
	return roster.New(ctx, roster.Config{
		CredentialsFile: cfg.SheetsCredentialsFile,
		SpreadsheetID:   cfg.SheetsSpreadsheetID,
		Range:           cfg.SheetsRange,
	}, st)
}

func newPayments(cfg config.Config, clk *clock.Clock, logger *slog.Logger) (payment.Provider, *payment.Sandbox) {
	if cfg.PaymentProvider == config.PaymentStripe {
		return payment.NewStripe(payment.StripeConfig{
			SecretKey:     cfg.StripeSecretKey,
			WebhookSecret: cfg.StripeWebhookSecret,
		}), nil
	}
	sb := payment.NewSandbox(payment.SandboxConfig{
		BaseURL:       cfg.BaseURL,
		WebhookURL:    cfg.BaseURL + "/webhooks/stripe",
		WebhookSecret: cfg.StripeWebhookSecret,
		Logger:        logger.With("component", "sandbox"),
		Now:           clk.Now,
	})
	return sb, sb
}

func newMailer(cfg config.Config, logger *slog.Logger) (mailer.Sender, error) {
	if cfg.Mailer == config.MailerResend {
		return mailer.NewResend(mailer.ResendConfig{APIKey: cfg.ResendAPIKey, From: cfg.EmailFrom})
	}
	return mailer.NewLogSender(logger.With("component", "mailer")), nil
}

func newIdentity(cfg config.Config) identity.Directory {
	if cfg.IdentityProvider == config.IdentityClerk {
		return identity.NewClerk(identity.ClerkConfig{SecretKey: cfg.ClerkSecretKey})
	}
	return identity.NewLocalDirectory()
}

func newAlerts(cfg config.Config, logger *slog.Logger) alert.Notifier {
	if !cfg.TelegramEnabled() {
		return alert.NewRecorder(logger.With("component", "alerts"))
	}
	tg, err := alert.NewTelegram(alert.TelegramConfig{Token: cfg.TelegramToken, ChatID: cfg.TelegramChatID})
	if err != nil {
		logger.Warn("telegram alerts disabled", "err", err)
		return alert.NewRecorder(logger.With("component", "alerts"))
	}
	return tg
}

func cmdServe(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger := server.NewLogger(os.Stderr, cfg.Verbose)
	slog.SetDefault(logger)

	shutdownTracing, err := telemetry.Setup(ctx, serviceName, cfg.OTelEndpoint)
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			logger.Warn("telemetry shutdown failed", "err", err)
		}
	}()

	cat, err := catalog.Load(cfg.CatalogFile)
	if err != nil {
		return err
	}

	st, clk, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	payments, sandbox := newPayments(cfg, clk, logger)
	mail, err := newMailer(cfg, logger)
	if err != nil {
		return err
	}
	users := newIdentity(cfg)

	var bus checkin.Bus = checkin.NewMemoryBus()
	if cfg.RedisURL != "" {
		rb, err := checkin.NewRedisBus(ctx, checkin.RedisConfig{URL: cfg.RedisURL, Logger: logger})
		if err != nil {
			return fmt.Errorf("check-in bus: %w", err)
		}
		defer rb.Close()
		bus = rb
	}

	var exporter api.RosterExporter
	if cfg.SheetsEnabled() {
		ex, err := newRoster(ctx, cfg, st)
		if err != nil {
			return fmt.Errorf("roster: %w", err)
		}
		exporter = ex
	}

	regs := registration.NewService(registration.Options{
		Store:    st,
		Payments: payments,
		Mailer:   mail,
		Identity: users,
		Catalog:  cat,
		Alerts:   newAlerts(cfg, logger),
		Clock:    clk,
		Logger:   logger.With("component", "registration"),
		BaseURL:  cfg.BaseURL,
	})
	desk := checkin.NewService(checkin.Options{
		Store:     st,
		Identity:  users,
		Bus:       bus,
		Catalog:   cat,
		Clock:     clk,
		Logger:    logger.With("component", "checkin"),
		Heartbeat: cfg.HeartbeatInterval,
	})

	srv := server.New(server.Options{
		Addr:            cfg.Addr,
		Verbose:         cfg.Verbose,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})
	srv.Router.Use(telemetry.Middleware)

	opts := api.Options{
		Registrations:       regs,
		CheckIn:             desk,
		Store:               st,
		Issuer:              auth.NewIssuer(cfg.JWTSecret, nil),
		AdminPasswordHash:   cfg.AdminPasswordHash,
		CheckInPasswordHash: cfg.CheckInPasswordHash,
		Roster:              exporter,
		Requests:            srv.Requests,
		Sandbox:             sandbox,
		Clock:               clk,
		Logger:              logger.With("component", "api"),
		SecureCookies:       strings.HasPrefix(cfg.BaseURL, "https://"),
	}
	api.New(opts).Routes(srv.Router)

	if cfg.SweepInterval > 0 {
		go runSweeper(ctx, regs, cfg.SweepInterval, cfg.AbandonAfter, logger)
	}

	logger.Info("tryouts configured",
		"payments", cfg.PaymentProvider,
		"mailer", cfg.Mailer,
		"identity", cfg.IdentityProvider,
		"redis", cfg.RedisURL != "",
		"roster", exporter != nil,
		"catalog", cat.Name,
	)
	if err := srv.Serve(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runSweeper abandons stale registrations every interval until ctx ends.
func runSweeper(ctx context.Context, regs *registration.Service, interval, olderThan time.Duration, logger *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := regs.AbandonStale(ctx, olderThan); err != nil {
				logger.Error("scheduled sweep failed", "err", err)
			}
		}
	}
}
