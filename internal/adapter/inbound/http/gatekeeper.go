package http

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/auth"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/oauth"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/ratelimit"
)

// LegacyBearerPrincipal identifies a request authenticated via the static
// RAILWAY_BEARER_TOKEN rather than a dynamically issued JWT.
const LegacyBearerPrincipal = "legacy-bearer"

// GatekeeperConfig configures the auth + rate-limit middleware.
type GatekeeperConfig struct {
	// RequireAuth gates whether unauthenticated requests are rejected at
	// all (REQUIRE_AUTHENTICATION). When false, every request is let
	// through with an empty principal.
	RequireAuth bool

	OAuth *oauth.Service // nil disables JWT verification

	// LegacyBearerHash is the Argon2id (or sha256:-prefixed) hash of the
	// static RAILWAY_BEARER_TOKEN. Empty disables the legacy path.
	LegacyBearerHash string

	Limiter      ratelimit.RateLimiter
	RateLimitCfg ratelimit.RateLimitConfig

	Log *slog.Logger
}

// Gatekeeper authenticates (JWT or legacy static bearer) and rate-limits
// every request reaching the MCP transport surface. A request that fails
// either check never reaches the SSE engine or the dispatcher.
type Gatekeeper struct {
	cfg GatekeeperConfig
	log *slog.Logger
}

// NewGatekeeper constructs a Gatekeeper.
func NewGatekeeper(cfg GatekeeperConfig) *Gatekeeper {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	return &Gatekeeper{cfg: cfg, log: log}
}

// Middleware wraps next with authentication and rate limiting.
func (g *Gatekeeper) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		principal, authenticated := g.authenticate(r)
		if g.cfg.RequireAuth && !authenticated {
			writeAuthError(w, "missing or invalid bearer token")
			return
		}

		if g.cfg.Limiter != nil {
			key := g.rateLimitKey(r, principal)
			result, err := g.cfg.Limiter.Allow(r.Context(), key, g.cfg.RateLimitCfg)
			if err != nil {
				g.log.Warn("rate limiter error, allowing request", "error", err)
			} else if !result.Allowed {
				w.Header().Set("Retry-After", result.RetryAfter.Truncate(time.Second).String())
				http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}

		ctx := withPrincipal(r.Context(), principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// authenticate returns the request's principal and whether a credential
// was presented and validated. With RequireAuth false and no credential,
// it returns ("", false) and the caller still proceeds.
func (g *Gatekeeper) authenticate(r *http.Request) (principal string, ok bool) {
	token := bearerToken(r)
	if token == "" {
		return "", false
	}

	if g.cfg.OAuth != nil {
		if claims, err := g.cfg.OAuth.VerifyAccessToken(token); err == nil {
			return claims.Subject, true
		}
	}

	if g.cfg.LegacyBearerHash != "" {
		if match, err := auth.VerifySecret(token, g.cfg.LegacyBearerHash); err == nil && match {
			return LegacyBearerPrincipal, true
		}
	}

	return "", false
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(h) > len(prefix) && strings.EqualFold(h[:len(prefix)], prefix) {
		return h[len(prefix):]
	}
	return ""
}

func (g *Gatekeeper) rateLimitKey(r *http.Request, principal string) string {
	if principal != "" {
		return ratelimit.FormatKey(ratelimit.KeyTypeUser, principal)
	}
	return ratelimit.FormatKey(ratelimit.KeyTypeIP, clientIP(r))
}

func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i != -1 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host := r.RemoteAddr
	if i := strings.LastIndexByte(host, ':'); i != -1 {
		return host[:i]
	}
	return host
}

func writeAuthError(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	http.Error(w, message, http.StatusUnauthorized)
}
