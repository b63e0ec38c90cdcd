package http

import (
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DayDreamerAI/daydreamer-memory/internal/adapter/outbound/memory"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/auth"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/oauth"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/ratelimit"
)

func pkceChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

func passthroughHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestGatekeeper_RequireAuthFalse_AllowsUnauthenticated(t *testing.T) {
	gk := NewGatekeeper(GatekeeperConfig{RequireAuth: false})
	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	rec := httptest.NewRecorder()

	gk.Middleware(passthroughHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGatekeeper_RequireAuthTrue_RejectsMissingToken(t *testing.T) {
	gk := NewGatekeeper(GatekeeperConfig{RequireAuth: true})
	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	rec := httptest.NewRecorder()

	gk.Middleware(passthroughHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestGatekeeper_LegacyBearer_Accepted(t *testing.T) {
	hash, err := auth.HashSecretArgon2id("super-secret-token")
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	gk := NewGatekeeper(GatekeeperConfig{RequireAuth: true, LegacyBearerHash: hash})

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	req.Header.Set("Authorization", "Bearer super-secret-token")
	rec := httptest.NewRecorder()

	gk.Middleware(passthroughHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestGatekeeper_LegacyBearer_WrongTokenRejected(t *testing.T) {
	hash, _ := auth.HashSecretArgon2id("super-secret-token")
	gk := NewGatekeeper(GatekeeperConfig{RequireAuth: true, LegacyBearerHash: hash})

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	req.Header.Set("Authorization", "Bearer wrong-token")
	rec := httptest.NewRecorder()

	gk.Middleware(passthroughHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", rec.Code)
	}
}

func TestGatekeeper_JWT_MalformedRejected(t *testing.T) {
	svc := oauth.NewService(oauth.Config{
		Issuer:    "https://issuer.example",
		Resource:  "https://gateway.example",
		JWTSecret: []byte("test-signing-key"),
	}, memory.NewOAuthClientStore(), memory.NewOAuthCodeStore())

	gk := NewGatekeeper(GatekeeperConfig{RequireAuth: true, OAuth: svc})
	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	req.Header.Set("Authorization", "Bearer not-a-real-jwt")
	rec := httptest.NewRecorder()

	gk.Middleware(passthroughHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401 for a malformed JWT", rec.Code)
	}
}

func TestGatekeeper_JWT_ValidTokenAccepted(t *testing.T) {
	svc := oauth.NewService(oauth.Config{
		Issuer:    "https://issuer.example",
		Resource:  "https://gateway.example",
		JWTSecret: []byte("test-signing-key"),
	}, memory.NewOAuthClientStore(), memory.NewOAuthCodeStore())

	client, _, err := svc.Register(t.Context(), []string{"https://client.example/cb"}, "client_secret_post")
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	verifier := "a-code-verifier-at-least-43-characters-long"
	challenge := pkceChallenge(verifier)
	code, err := svc.Authorize(t.Context(), client.ClientID, "https://client.example/cb", challenge, "S256", "", "")
	if err != nil {
		t.Fatalf("authorize: %v", err)
	}
	result, err := svc.ExchangeAuthorizationCode(t.Context(), client.ClientID, code, "https://client.example/cb", verifier)
	if err != nil {
		t.Fatalf("exchange: %v", err)
	}

	gk := NewGatekeeper(GatekeeperConfig{RequireAuth: true, OAuth: svc})
	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	req.Header.Set("Authorization", "Bearer "+result.AccessToken)
	rec := httptest.NewRecorder()

	gk.Middleware(passthroughHandler()).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 for a valid access token", rec.Code)
	}
}

func TestGatekeeper_RateLimit_Enforced(t *testing.T) {
	limiter := memory.NewRateLimiter()
	t.Cleanup(limiter.Stop)
	gk := NewGatekeeper(GatekeeperConfig{
		RequireAuth:  false,
		Limiter:      limiter,
		RateLimitCfg: ratelimit.RateLimitConfig{Rate: 1, Burst: 1, Period: time.Minute},
	})
	handler := gk.Middleware(passthroughHandler())

	req := httptest.NewRequest(http.MethodGet, "/sse", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, req)
	if first.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", first.Code)
	}

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, req)
	if second.Code != http.StatusTooManyRequests {
		t.Errorf("second request status = %d, want 429", second.Code)
	}
}
