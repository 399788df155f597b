// Package roster publishes the list of paid players to a Google Sheet.
package roster

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"google.golang.org/api/option"
	sheetsv4 "google.golang.org/api/sheets/v4"

	"github.com/precisionheat/tryouts/internal/store"
)

// ErrNotConfigured is returned when no spreadsheet is configured.
var ErrNotConfigured = errors.New("roster export is not configured")

// Source lists roster rows.
type Source interface {
	ListRoster(ctx context.Context) ([]store.RosterRow, error)
}

// Header is the first row written to the sheet.
var Header = []any{"Registration", "Guardian email", "First name", "Last name", "Birthdate", "Gender", "Amount paid", "Currency", "Completed at"}

// Config configures the Sheets exporter.
type Config struct {
	CredentialsFile string
	SpreadsheetID   string
	// Range is the A1 anchor, e.g. "Roster!A1". The sheet part is cleared on every export.
	Range string
	// Options replace the credentials-file options; tests use them to point at a local server.
	Options []option.ClientOption
}

// Exporter writes the roster to a spreadsheet.
type Exporter struct {
	srv           *sheetsv4.Service
	spreadsheetID string
	rng           string
	source        Source
}

// New creates an exporter reading rows from source.
func New(ctx context.Context, cfg Config, source Source) (*Exporter, error) {
	if cfg.SpreadsheetID == "" {
		return nil, ErrNotConfigured
	}
	opts := cfg.Options
	if len(opts) == 0 {
		if _, err := os.Stat(cfg.CredentialsFile); err != nil {
			return nil, fmt.Errorf("service account json: %w", err)
		}
		opts = []option.ClientOption{
			option.WithCredentialsFile(cfg.CredentialsFile),
			option.WithScopes(sheetsv4.SpreadsheetsScope),
		}
	}
	srv, err := sheetsv4.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}
	rng := cfg.Range
	if rng == "" {
		rng = "Roster!A1"
	}
	return &Exporter{srv: srv, spreadsheetID: cfg.SpreadsheetID, rng: rng, source: source}, nil
}

// Export replaces the sheet contents with the current roster and returns
// the number of player rows written.
func (e *Exporter) Export(ctx context.Context) (int, error) {
	rows, err := e.source.ListRoster(ctx)
	if err != nil {
		return 0, err
	}
	values := make([][]any, 0, len(rows)+1)
	values = append(values, Header)
	for _, r := range rows {
		values = append(values, Row(r))
	}

	sheet := e.rng
	if i := strings.Index(sheet, "!"); i >= 0 {
		sheet = sheet[:i]
	}
	if _, err := e.srv.Spreadsheets.Values.Clear(e.spreadsheetID, sheet, &sheetsv4.ClearValuesRequest{}).
		Context(ctx).Do(); err != nil {
		return 0, fmt.Errorf("clear roster sheet: %w", err)
	}
	if _, err := e.srv.Spreadsheets.Values.Update(e.spreadsheetID, e.rng, &sheetsv4.ValueRange{Values: values}).
		ValueInputOption("RAW").
		Context(ctx).
		Do(); err != nil {
		return 0, fmt.Errorf("write roster sheet: %w", err)
	}
	return len(rows), nil
}

// Row renders one roster row as sheet cells.
func Row(r store.RosterRow) []any {
	completed := ""
	if !r.CompletedAt.IsZero() {
		completed = r.CompletedAt.Format("2006-01-02 15:04")
	}
	return []any{
		r.RegistrationID, r.GuardianEmail, r.FirstName, r.LastName,
		r.Birthdate, r.Gender, r.AmountPaid, strings.ToUpper(r.Currency), completed,
	}
}
