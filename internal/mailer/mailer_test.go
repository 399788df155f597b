package mailer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMemorySender(t *testing.T) {
	m := NewMemorySender()
	id, err := m.Send(context.Background(), Message{To: "a@example.com", Subject: "hi"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "msg_000001" {
		t.Errorf("expected msg_000001, got %s", id)
	}

	m.FailWith(errors.New("boom"))
	if _, err := m.Send(context.Background(), Message{To: "a@example.com"}); err == nil {
		t.Error("expected configured failure")
	}
	m.FailWith(nil)

	if _, err := m.Send(context.Background(), Message{}); !errors.Is(err, ErrNoRecipient) {
		t.Errorf("expected ErrNoRecipient, got %v", err)
	}
	if m.Count() != 1 {
		t.Errorf("expected 1 recorded message, got %d", m.Count())
	}
}

func TestLogSender(t *testing.T) {
	var buf strings.Builder
	l := NewLogSender(slog.New(slog.NewJSONHandler(&buf, nil)))
	if _, err := l.Send(context.Background(), Message{To: "a@example.com", Subject: "Confirmed"}); err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(buf.String(), `"subject":"Confirmed"`) {
		t.Errorf("expected subject in log, got %s", buf.String())
	}
	if len(l.Messages()) != 1 {
		t.Errorf("expected message kept")
	}
}

func TestResendSender(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/emails" || r.Header.Get("Authorization") != "Bearer re_test" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		body, _ := io.ReadAll(r.Body)
		json.Unmarshal(body, &got)
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"id":"email_123"}`)
	}))
	defer srv.Close()

	s, err := NewResend(ResendConfig{APIKey: "re_test", From: "Tryouts <t@example.com>", BaseURL: srv.URL})
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.Send(context.Background(), Message{To: "parent@example.com", Subject: "Confirmed", HTML: "<p>hi</p>"})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if id != "email_123" {
		t.Errorf("expected email_123, got %s", id)
	}
	if got["subject"] != "Confirmed" || got["from"] != "Tryouts <t@example.com>" {
		t.Errorf("unexpected request body %+v", got)
	}
}

func TestFormatAmount(t *testing.T) {
	got, err := FormatAmount(6000, "cad")
	if err != nil {
		t.Fatalf("format: %v", err)
	}
	if !strings.HasSuffix(got, "60.00") {
		t.Errorf("expected amount ending in 60.00, got %q", got)
	}
	if _, err := FormatAmount(100, "zzz"); err == nil {
		t.Error("expected error for unknown currency")
	}
}

func TestRenderConfirmation(t *testing.T) {
	msg, err := RenderConfirmation("parent@example.com", ConfirmationData{
		TryoutName:     "Spring Tryouts",
		RegistrationID: "reg_1",
		Players:        []string{"Ana Smith", "Ben <b>Smith</b>"},
		Amount:         6000,
		Currency:       "cad",
		ReceiptURL:     "https://receipts.example/1",
		Sessions:       []SessionInfo{{Label: "Day 1", Date: "2026-04-01", Location: "Main Gym"}},
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.To != "parent@example.com" || !strings.Contains(msg.Subject, "Spring Tryouts") {
		t.Errorf("unexpected envelope %+v", msg)
	}
	for _, want := range []string{"Ana Smith", "60.00", "https://receipts.example/1", "Main Gym", "reg_1", "Ben &lt;b&gt;Smith&lt;/b&gt;"} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("expected body to contain %q", want)
		}
	}
}

func TestRenderLeadGuide(t *testing.T) {
	msg, err := RenderLeadGuide("lead@example.com", LeadGuideData{
		FirstName:   "Sam<script>",
		TryoutName:  "Spring Tryouts",
		GuideURL:    "https://example.com/guide.pdf",
		RegisterURL: "https://tryouts.example/#tryouts",
	})
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.To != "lead@example.com" || !strings.HasPrefix(msg.Subject, "Sam") {
		t.Errorf("unexpected envelope %+v", msg)
	}
	for _, want := range []string{"https://example.com/guide.pdf", "https://tryouts.example/#tryouts", "Sam&lt;script&gt;"} {
		if !strings.Contains(msg.HTML, want) {
			t.Errorf("expected body to contain %q", want)
		}
	}
}
