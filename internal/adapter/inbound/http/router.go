package http

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/DayDreamerAI/daydreamer-memory/internal/adapter/inbound/httpoauth"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/audit"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/mcpsession"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/oauth"
	"github.com/DayDreamerAI/daydreamer-memory/internal/service/mcpdispatcher"
)

// BreakerChecker reports whether the embedding circuit breaker is
// currently open. Satisfied by *embedder.Embedder; optional so tests
// can omit it.
type BreakerChecker interface {
	BreakerOpen() bool
}

// RouterConfig assembles every HTTP-facing piece of the gateway.
type RouterConfig struct {
	Sessions    *mcpsession.Table
	Dispatcher  *mcpdispatcher.Dispatcher
	Gatekeeper  *Gatekeeper
	Metrics     *Metrics
	OAuth       *oauth.Service // may be nil; OAUTH_ENABLED off
	Audit       audit.Store    // may be nil; disables the tool-call audit trail
	Embedder    BreakerChecker // may be nil
	BaseURL     string
	CORSOrigins []string // empty disables CORS headers
	Log         *slog.Logger
}

// NewRouter builds the complete *http.ServeMux: the MCP transport
// (/sse, /messages), OAuth discovery/registration/token endpoints (when
// configured), health, root, and /metrics.
func NewRouter(cfg RouterConfig) http.Handler {
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	mux := http.NewServeMux()
	engine := NewEngine(cfg.Sessions, cfg.Dispatcher, cfg.Metrics, log)
	if cfg.Audit != nil {
		engine = engine.WithAudit(cfg.Audit)
	}

	transport := http.NewServeMux()
	transport.HandleFunc("/sse", engine.ServeSSE)
	transport.HandleFunc("/messages", engine.ServeMessages)

	var protected http.Handler = transport
	if cfg.Gatekeeper != nil {
		protected = cfg.Gatekeeper.Middleware(transport)
	}
	mux.Handle("/sse", protected)
	mux.Handle("/messages", protected)

	if cfg.OAuth != nil {
		httpoauth.New(cfg.OAuth, cfg.BaseURL, log).Register(mux)
	}

	mux.HandleFunc("/health", healthHandlerFor(cfg.Sessions, cfg.Embedder))
	mux.HandleFunc("/", rootHandler)
	mux.Handle("/metrics", promhttp.Handler())

	var handler http.Handler = mux
	if len(cfg.CORSOrigins) > 0 {
		handler = corsMiddleware(cfg.CORSOrigins, handler)
	}
	if cfg.Metrics != nil {
		handler = MetricsMiddleware(cfg.Metrics)(handler)
	}
	handler = RequestIDMiddleware(log)(handler)
	return handler
}

// healthHandlerFor returns a /health handler reporting liveness plus, when
// available, session-table occupancy and embedding circuit breaker state.
func healthHandlerFor(sessions *mcpsession.Table, embedder BreakerChecker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body := map[string]any{
			"status":  "ok",
			"service": mcpdispatcher.ServerName,
			"version": mcpdispatcher.ServerVersion,
		}
		if sessions != nil {
			body["active_sessions"] = sessions.Count()
		}
		if embedder != nil {
			body["embedder_circuit_breaker_open"] = embedder.BreakerOpen()
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(body)
	}
}

func rootHandler(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"name":            mcpdispatcher.ServerName,
		"version":         mcpdispatcher.ServerVersion,
		"protocolVersion": mcpdispatcher.ProtocolVersion,
		"transport":       "sse",
	})
}

// corsMiddleware applies an allow-list of origins to every response and
// short-circuits OPTIONS preflight requests.
func corsMiddleware(allowed []string, next http.Handler) http.Handler {
	allowSet := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		allowSet[o] = struct{}{}
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if _, ok := allowSet["*"]; ok {
			w.Header().Set("Access-Control-Allow-Origin", "*")
		} else if _, ok := allowSet[origin]; ok && origin != "" {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
