package xdmod

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSessionTokenIsReusedUntilExpiry(t *testing.T) {
	var exchanges atomic.Int64
	srv := mockWarehouse(t, map[string]http.HandlerFunc{
		"POST /auth/session": func(w http.ResponseWriter, r *http.Request) {
			exchanges.Add(1)
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "session-token-xyz",
					"expires_at": time.Now().Add(1 * time.Hour).Format(time.RFC3339),
				},
			})
		},
		"GET /warehouse/export/realms": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": []Realm{{ID: "SUPREMM"}}})
		},
	})
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	for i := 0; i < 3; i++ {
		if _, err := s.DescribeRawRealms(context.Background()); err != nil {
			t.Fatalf("DescribeRawRealms: %v", err)
		}
	}
	if n := exchanges.Load(); n != 1 {
		t.Errorf("expected 1 token exchange, got %d", n)
	}
}

func TestSessionTokenRefreshesWhenExpired(t *testing.T) {
	var exchanges atomic.Int64
	srv := mockWarehouse(t, map[string]http.HandlerFunc{
		"POST /auth/session": func(w http.ResponseWriter, r *http.Request) {
			exchanges.Add(1)
			// Already inside the refresh margin, so every operation
			// re-exchanges.
			writeJSON(w, http.StatusOK, map[string]any{
				"data": map[string]any{
					"token":      "session-token-xyz",
					"expires_at": time.Now().Add(5 * time.Second).Format(time.RFC3339),
				},
			})
		},
		"GET /warehouse/export/realms": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]any{"data": []Realm{{ID: "SUPREMM"}}})
		},
	})
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	for i := 0; i < 2; i++ {
		if _, err := s.DescribeRawRealms(context.Background()); err != nil {
			t.Fatalf("DescribeRawRealms: %v", err)
		}
	}
	if n := exchanges.Load(); n != 2 {
		t.Errorf("expected 2 token exchanges, got %d", n)
	}
}

func TestRejectedTokenIsAuthError(t *testing.T) {
	srv := mockWarehouse(t, map[string]http.HandlerFunc{
		"POST /auth/session": func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error": map[string]any{"code": "unauthorized", "message": "token revoked"},
			})
		},
	})
	defer srv.Close()

	s := newTestSession(t, srv.URL)
	_, err := s.DescribeRawRealms(context.Background())
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}

func TestMissingTokenIsAuthErrorWithoutNetwork(t *testing.T) {
	var calls atomic.Int64
	srv := mockWarehouse(t, map[string]http.HandlerFunc{
		"/": func(w http.ResponseWriter, r *http.Request) { calls.Add(1) },
	})
	defer srv.Close()

	s, err := Connect(Config{BaseURL: srv.URL})
	if err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer s.Close()

	_, err = s.DescribeRawRealms(context.Background())
	if !IsAuthError(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
	if n := calls.Load(); n != 0 {
		t.Errorf("expected no network calls, server saw %d", n)
	}
}

func TestTokenExpiryFallsBackToExpClaim(t *testing.T) {
	wantExp := time.Now().Add(45 * time.Minute).Truncate(time.Second)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "user",
		"exp": wantExp.Unix(),
	}).SignedString([]byte("unimportant"))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}

	got := tokenExpiry(token)
	if !got.Equal(wantExp) {
		t.Errorf("expected expiry %v, got %v", wantExp, got)
	}
}

func TestTokenExpiryWithoutClaimUsesDefaultTTL(t *testing.T) {
	before := time.Now()
	got := tokenExpiry("not-a-jwt")
	if got.Before(before.Add(defaultTokenTTL-time.Minute)) || got.After(before.Add(defaultTokenTTL+time.Minute)) {
		t.Errorf("expected expiry near now+%v, got %v", defaultTokenTTL, got)
	}
}
