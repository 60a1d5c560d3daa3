package xdmod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// defaultTokenTTL is assumed when the server reports no expiry and the
// session token carries no exp claim.
const defaultTokenTTL = 15 * time.Minute

// tokenManager exchanges the long-lived API token for a short-lived
// session token and caches it until shortly before expiry. It is safe
// for concurrent use.
type tokenManager struct {
	baseURL   string
	apiToken  string
	userAgent string
	client    *http.Client
	margin    time.Duration

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenManager(baseURL, apiToken, userAgent string, client *http.Client) *tokenManager {
	return &tokenManager{
		baseURL:   baseURL,
		apiToken:  apiToken,
		userAgent: userAgent,
		client:    client,
		margin:    30 * time.Second,
	}
}

func (tm *tokenManager) getToken(ctx context.Context) (string, error) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	if tm.token != "" && time.Now().Before(tm.expiresAt.Add(-tm.margin)) {
		return tm.token, nil
	}

	if err := tm.refresh(ctx); err != nil {
		return "", err
	}
	return tm.token, nil
}

type sessionRequest struct {
	Token string `json:"token"`
}

type sessionResponseEnvelope struct {
	Data struct {
		Token     string    `json:"token"`
		ExpiresAt time.Time `json:"expires_at"`
	} `json:"data"`
}

func (tm *tokenManager) refresh(ctx context.Context) error {
	if tm.apiToken == "" {
		return &Error{StatusCode: http.StatusUnauthorized, Code: CodeUnauthorized,
			Message: "no API token configured; add one to the credential file"}
	}

	body, err := json.Marshal(sessionRequest{Token: tm.apiToken})
	if err != nil {
		return fmt.Errorf("xdmod: marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, tm.baseURL+"/auth/session", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("xdmod: create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", tm.userAgent)

	resp, err := tm.client.Do(req)
	if err != nil {
		return transient(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return &Error{StatusCode: resp.StatusCode, Code: CodeUnauthorized,
			Message: "API token was rejected; obtain a fresh token from the portal"}
	}
	if resp.StatusCode != http.StatusOK {
		return &Error{StatusCode: resp.StatusCode, Code: http.StatusText(resp.StatusCode),
			Message: "session exchange failed"}
	}

	var envelope sessionResponseEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("xdmod: decode session response: %w", err)
	}

	tm.token = envelope.Data.Token
	tm.expiresAt = envelope.Data.ExpiresAt
	if tm.expiresAt.IsZero() {
		tm.expiresAt = tokenExpiry(tm.token)
	}
	return nil
}

// tokenExpiry recovers the expiry from the session token's exp claim.
// The signature is not verified; the server remains the authority and
// the claim is only used to schedule the next refresh.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err == nil {
		if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
			return exp.Time
		}
	}
	return time.Now().Add(defaultTokenTTL)
}
