package identity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func TestLocalDirectory(t *testing.T) {
	d := NewLocalDirectory()
	ctx := context.Background()

	a, err := d.EnsureUser(ctx, "Parent@Example.com")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if !strings.HasPrefix(a, "local_") {
		t.Errorf("expected local_ prefix, got %s", a)
	}
	b, _ := d.EnsureUser(ctx, " parent@example.com ")
	if a != b {
		t.Errorf("expected same subject for same email, got %s and %s", a, b)
	}
	c, _ := d.EnsureUser(ctx, "other@example.com")
	if c == a {
		t.Error("expected distinct subject for another email")
	}
	if _, err := d.EnsureUser(ctx, "  "); !errors.Is(err, ErrInvalidEmail) {
		t.Errorf("expected ErrInvalidEmail, got %v", err)
	}
}

func fakeClerk(t *testing.T, existing map[string]string, creates *int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if !strings.HasSuffix(r.URL.Path, "/users") {
			w.WriteHeader(http.StatusNotFound)
			io.WriteString(w, `{"errors":[{"code":"resource_not_found","message":"not found"}]}`)
			return
		}
		switch r.Method {
		case http.MethodGet:
			var users []map[string]any
			for _, email := range r.URL.Query()["email_address"] {
				if id, ok := existing[email]; ok {
					users = append(users, map[string]any{"id": id, "object": "user"})
				}
			}
			json.NewEncoder(w).Encode(map[string]any{"data": users, "total_count": len(users)})
		case http.MethodPost:
			atomic.AddInt32(creates, 1)
			io.WriteString(w, `{"id":"user_created","object":"user"}`)
		}
	}))
}

func TestClerkEnsureUserExisting(t *testing.T) {
	var creates int32
	srv := fakeClerk(t, map[string]string{"parent@example.com": "user_existing"}, &creates)
	defer srv.Close()

	c := NewClerk(ClerkConfig{SecretKey: "sk_test", APIURL: srv.URL + "/v1"})
	id, err := c.EnsureUser(context.Background(), "Parent@example.com")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if id != "user_existing" {
		t.Errorf("expected user_existing, got %s", id)
	}
	if creates != 0 {
		t.Errorf("expected no create call, got %d", creates)
	}
}

func TestClerkEnsureUserCreates(t *testing.T) {
	var creates int32
	srv := fakeClerk(t, nil, &creates)
	defer srv.Close()

	c := NewClerk(ClerkConfig{SecretKey: "sk_test", APIURL: srv.URL + "/v1"})
	id, err := c.EnsureUser(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("ensure: %v", err)
	}
	if id != "user_created" || creates != 1 {
		t.Errorf("expected one create returning user_created, got %s after %d creates", id, creates)
	}
}
