package roster

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/precisionheat/tryouts/internal/store"
)

type fakeSource struct {
	rows []store.RosterRow
	err  error
}

func (f fakeSource) ListRoster(context.Context) ([]store.RosterRow, error) {
	return f.rows, f.err
}

func TestExportReplacesSheet(t *testing.T) {
	var (
		calls   []string
		written [][]any
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls = append(calls, r.Method+" "+r.URL.Path)
		if r.Method == http.MethodPut {
			var body struct {
				Values [][]any `json:"values"`
			}
			data, _ := io.ReadAll(r.Body)
			json.Unmarshal(data, &body)
			written = body.Values
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{}`)
	}))
	defer srv.Close()

	src := fakeSource{rows: []store.RosterRow{{
		RegistrationID: "reg_1", GuardianEmail: "parent@example.com",
		FirstName: "Ana", LastName: "Smith", Birthdate: "2012-05-01", Gender: "F",
		AmountPaid: 3000, Currency: "cad", CompletedAt: time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
	}}}
	exp, err := New(context.Background(), Config{
		SpreadsheetID: "sheet123",
		Range:         "Roster!A1",
		Options: []option.ClientOption{
			option.WithEndpoint(srv.URL + "/"),
			option.WithHTTPClient(srv.Client()),
		},
	}, src)
	if err != nil {
		t.Fatalf("new exporter: %v", err)
	}

	n, err := exp.Export(context.Background())
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 row exported, got %d", n)
	}
	if len(calls) != 2 || !strings.HasPrefix(calls[0], "POST ") || !strings.Contains(calls[0], ":clear") || !strings.HasPrefix(calls[1], "PUT ") {
		t.Errorf("expected clear then update, got %v", calls)
	}
	if len(written) != 2 {
		t.Fatalf("expected header + 1 row, got %d rows", len(written))
	}
	if written[1][0] != "reg_1" || written[1][7] != "CAD" || written[1][8] != "2026-03-01 09:30" {
		t.Errorf("unexpected row %v", written[1])
	}
}

func TestExportSourceError(t *testing.T) {
	exp := &Exporter{source: fakeSource{err: errors.New("db down")}}
	if _, err := exp.Export(context.Background()); err == nil {
		t.Fatal("expected source error")
	}
}

func TestNewRequiresSpreadsheet(t *testing.T) {
	if _, err := New(context.Background(), Config{}, fakeSource{}); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}
