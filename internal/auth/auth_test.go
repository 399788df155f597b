package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestIssueAndVerify(t *testing.T) {
	iss := NewIssuer("0123456789abcdef", nil)
	token, exp, err := iss.Issue(RoleAdmin, AdminTTL)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if time.Until(exp) < 23*time.Hour {
		t.Errorf("expected ~24h expiry, got %v", exp)
	}
	claims, err := iss.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Role != RoleAdmin {
		t.Errorf("expected admin role, got %q", claims.Role)
	}
}

func TestVerifyRejects(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := now
	iss := NewIssuer("0123456789abcdef", func() time.Time { return clock })
	token, _, err := iss.Issue(RoleCheckIn, CheckInTTL)
	if err != nil {
		t.Fatal(err)
	}

	other := NewIssuer("fedcba9876543210", func() time.Time { return clock })
	if _, err := other.Verify(token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected wrong secret to be rejected, got %v", err)
	}

	clock = now.Add(7 * time.Hour)
	if _, err := iss.Verify(token); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected expired token to be rejected, got %v", err)
	}

	if _, err := iss.Verify("not-a-token"); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected garbage to be rejected, got %v", err)
	}
}

func TestCheckPassword(t *testing.T) {
	hash, err := HashPassword("desk-secret")
	if err != nil {
		t.Fatal(err)
	}
	if !CheckPassword(hash, "desk-secret") {
		t.Error("expected matching password")
	}
	if CheckPassword(hash, "wrong") {
		t.Error("expected wrong password to fail")
	}
	if CheckPassword("", "") {
		t.Error("expected empty hash to never match")
	}
}

func TestRequireRole(t *testing.T) {
	iss := NewIssuer("0123456789abcdef", nil)
	adminToken, _, _ := iss.Issue(RoleAdmin, AdminTTL)
	deskToken, _, _ := iss.Issue(RoleCheckIn, CheckInTTL)

	var gotErr error
	onError := func(w http.ResponseWriter, err error) {
		gotErr = err
		w.WriteHeader(http.StatusUnauthorized)
	}
	h := iss.RequireRole(onError, RoleAdmin)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if c, ok := FromContext(r.Context()); !ok || c.Role != RoleAdmin {
			t.Errorf("expected admin claims in context")
		}
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name    string
		prepare func(*http.Request)
		status  int
		err     error
	}{
		{"no token", func(*http.Request) {}, http.StatusUnauthorized, ErrUnauthorized},
		{"bad token", func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }, http.StatusUnauthorized, ErrUnauthorized},
		{"wrong role", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+deskToken) }, http.StatusUnauthorized, ErrForbidden},
		{"admin bearer", func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+adminToken) }, http.StatusNoContent, nil},
		{"admin cookie", func(r *http.Request) { r.AddCookie(&http.Cookie{Name: SessionCookie, Value: adminToken}) }, http.StatusNoContent, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotErr = nil
			req := httptest.NewRequest(http.MethodGet, "/admin/registrations", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.status {
				t.Errorf("expected %d, got %d", tt.status, rec.Code)
			}
			if !errors.Is(gotErr, tt.err) && gotErr != tt.err {
				t.Errorf("expected %v, got %v", tt.err, gotErr)
			}
		})
	}
}
