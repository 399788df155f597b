// tryouts runs the tryout registration service and its operator commands.
//
// Usage:
//
//	tryouts serve                  Run the HTTP API
//	tryouts sweep [--hours N]      Abandon unpaid online registrations once
//	tryouts roster                 Export the paid roster to the spreadsheet
//	tryouts status [--url U]       Health check a running server
//	tryouts hash-password <pw>     Print a bcrypt hash for the login settings
//	tryouts version                Print the version
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/precisionheat/tryouts/internal/auth"
	"github.com/precisionheat/tryouts/internal/client"
	"github.com/precisionheat/tryouts/internal/config"
	"github.com/precisionheat/tryouts/internal/registration"
	"github.com/precisionheat/tryouts/internal/server"
)

// version is set at build time via -ldflags "-X main.version=..."
var version = "dev"

const defaultEnvFile = ".env"

func main() {
	cmd, args, envFile := parseArgs(os.Args[1:])

	if cmd == "" || cmd == "help" || cmd == "--help" || cmd == "-h" {
		printUsage()
		if cmd == "" {
			os.Exit(1)
		}
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd {
	case "version", "--version", "-v":
		fmt.Printf("tryouts version %s\n", version)
		return
	case "hash-password":
		err = cmdHashPassword(args)
	case "serve":
		err = withConfig(envFile, func(cfg config.Config) error { return cmdServe(ctx, cfg) })
	case "sweep":
		err = withConfig(envFile, func(cfg config.Config) error { return cmdSweep(ctx, cfg, args) })
	case "roster":
		err = withConfig(envFile, func(cfg config.Config) error { return cmdRoster(ctx, cfg) })
	case "status":
		err = withConfig(envFile, func(cfg config.Config) error { return cmdStatus(ctx, cfg, args) })
	default:
		fmt.Fprintf(os.Stderr, "tryouts: unknown command %q\n\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "tryouts: %v\n", err)
		os.Exit(1)
	}
}

// parseArgs extracts the subcommand, positional args, and --env file path.
func parseArgs(raw []string) (command string, args []string, envFile string) {
	envFile = defaultEnvFile
	if p := os.Getenv("TRYOUTS_ENV_FILE"); p != "" {
		envFile = p
	}

	var filtered []string
	for i := 0; i < len(raw); i++ {
		if raw[i] == "--env" && i+1 < len(raw) {
			envFile = raw[i+1]
			i++
			continue
		}
		filtered = append(filtered, raw[i])
	}

	if len(filtered) == 0 {
		return "", nil, envFile
	}
	return filtered[0], filtered[1:], envFile
}

func withConfig(envFile string, fn func(config.Config) error) error {
	cfg, err := config.Load(envFile)
	if err != nil {
		return err
	}
	return fn(cfg)
}

func printUsage() {
	fmt.Printf(`tryouts %s

Usage:
  tryouts [--env <path>] <command> [arguments]

Commands:
  serve                  Run the HTTP API
  sweep [--hours N]      Abandon online registrations unpaid for N hours (default 1)
  roster                 Export the paid roster to the configured spreadsheet
  status [--url U]       Health check a running server (default: TRYOUTS_BASE_URL)
  hash-password <pw>     Print a bcrypt hash for TRYOUTS_*_PASSWORD_HASH
  version                Print the version

Options:
  --env <path>   .env file to load before reading TRYOUTS_* variables (default: ./.env)

Environment:
  TRYOUTS_ENV_FILE   Override the default .env path
`, version)
}

// parseHours reads "--hours N" from args, defaulting to fallback.
func parseHours(args []string, fallback time.Duration) (time.Duration, error) {
	for i := 0; i < len(args); i++ {
		if args[i] != "--hours" {
			return 0, fmt.Errorf("unexpected argument %q", args[i])
		}
		if i+1 >= len(args) {
			return 0, errors.New("--hours needs a value")
		}
		n, err := strconv.Atoi(args[i+1])
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("--hours must be a positive integer, got %q", args[i+1])
		}
		return time.Duration(n) * time.Hour, nil
	}
	return fallback, nil
}

func cmdHashPassword(args []string) error {
	if len(args) != 1 || args[0] == "" {
		return errors.New("usage: tryouts hash-password <password>")
	}
	hash, err := auth.HashPassword(args[0])
	if err != nil {
		return err
	}
	fmt.Println(hash)
	return nil
}

func cmdSweep(ctx context.Context, cfg config.Config, args []string) error {
	olderThan, err := parseHours(args, cfg.AbandonAfter)
	if err != nil {
		return err
	}
	logger := server.NewLogger(os.Stderr, cfg.Verbose)
	st, clk, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	regs := registration.NewService(registration.Options{Store: st, Clock: clk, Logger: logger})
	n, err := regs.AbandonStale(ctx, olderThan)
	if err != nil {
		return err
	}
	fmt.Printf("abandoned %d registration(s) unpaid for more than %s\n", n, olderThan)
	return nil
}

func cmdRoster(ctx context.Context, cfg config.Config) error {
	if !cfg.SheetsEnabled() {
		return errors.New("roster export needs TRYOUTS_SHEETS_CREDENTIALS_FILE and TRYOUTS_SHEETS_SPREADSHEET_ID")
	}
	st, _, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	exporter, err := newRoster(ctx, cfg, st)
	if err != nil {
		return err
	}
	n, err := exporter.Export(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("exported %d player(s) to %s\n", n, cfg.SheetsSpreadsheetID)
	return nil
}

func cmdStatus(ctx context.Context, cfg config.Config, args []string) error {
	url := cfg.BaseURL
	if len(args) == 2 && args[0] == "--url" {
		url = args[1]
	} else if len(args) != 0 {
		return errors.New("usage: tryouts status [--url <base url>]")
	}

	c := client.New(url)
	ok, body := c.Health(ctx)
	if !ok {
		fmt.Printf("  %-10s DOWN  %s\n", url, body)
		return fmt.Errorf("server at %s is unhealthy", url)
	}
	fmt.Printf("  %-10s OK    %s\n", url, body)

	cat, err := c.Catalog(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("  %s: %d %s per player, %d session(s)\n", cat.Name, cat.PricePerPlayer, cat.Currency, len(cat.Sessions))
	return nil
}
