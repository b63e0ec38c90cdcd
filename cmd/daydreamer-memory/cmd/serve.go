package cmd

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	inboundhttp "github.com/DayDreamerAI/daydreamer-memory/internal/adapter/inbound/http"
	fileaudit "github.com/DayDreamerAI/daydreamer-memory/internal/adapter/outbound/audit"
	"github.com/DayDreamerAI/daydreamer-memory/internal/adapter/outbound/embedder"
	"github.com/DayDreamerAI/daydreamer-memory/internal/adapter/outbound/graphmem"
	"github.com/DayDreamerAI/daydreamer-memory/internal/adapter/outbound/memory"
	"github.com/DayDreamerAI/daydreamer-memory/internal/adapter/outbound/rssmonitor"
	"github.com/DayDreamerAI/daydreamer-memory/internal/config"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/audit"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/auth"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/mcpsession"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/oauth"
	"github.com/DayDreamerAI/daydreamer-memory/internal/domain/ratelimit"
	"github.com/DayDreamerAI/daydreamer-memory/internal/service/mcpdispatcher"
	"github.com/DayDreamerAI/daydreamer-memory/internal/service/toolregistry"
	"github.com/DayDreamerAI/daydreamer-memory/internal/service/v6pipeline"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the gateway server",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	v, err := config.NewViper()
	if err != nil {
		return fmt.Errorf("configure environment binding: %w", err)
	}
	cfg, err := config.Load(v)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := graphmem.New()

	metrics := inboundhttp.NewMetrics(prometheus.DefaultRegisterer)

	var rssReader embedder.RSSReaderFunc
	if cfg.EnableResourceMonitoring {
		reader := rssmonitor.New()
		rssReader = reader.Sample
	}
	enc := embedder.New(embedder.Config{
		CallTimeout: cfg.EmbeddingTimeout,
		OnCacheHit:  metrics.EmbeddingCacheHits.Inc,
		OnCacheMiss: metrics.EmbeddingCacheMiss.Inc,
		OnBreakerChange: func(open bool) {
			if open {
				metrics.CircuitBreakerOpen.Set(1)
			} else {
				metrics.CircuitBreakerOpen.Set(0)
			}
		},
	}, hashEncode, rssReader, logger)
	if cfg.EnableAutoUnload {
		enc.StartIdleUnload(ctx, embedder.DefaultIdleUnloadTimeout)
	}

	entityLimiter := memory.NewEntityWriteLimiter()
	entityLimiter.StartCleanup(ctx)
	defer entityLimiter.Stop()

	pipeline := v6pipeline.New(v6pipeline.Config{
		Store:              store,
		Encoder:            enc,
		Strict:             cfg.SchemaEnforcementStrict,
		Log:                logger,
		EntityLimiter:      entityLimiter,
		EntityRateLimitCfg: v6pipeline.DefaultEntityRateLimitConfig,
		OnObservationsCreated: func(count int) {
			metrics.ObservationsTotal.Add(float64(count))
		},
	})

	tools := toolregistry.NewDefaultRegistry(toolregistry.Deps{
		Store:          store,
		Encoder:        enc,
		Pipeline:       pipeline,
		Strict:         cfg.SchemaEnforcementStrict,
		GraphRAGGlobal: cfg.GraphRAG.Enabled && cfg.GraphRAG.GlobalSearch,
		GraphRAGLocal:  cfg.GraphRAG.Enabled && cfg.GraphRAG.LocalSearch,
	})
	dispatcher := mcpdispatcher.New(tools)
	sessions := mcpsession.NewTable(mcpsession.DefaultMaxSessions, mcpsession.DefaultIdleTimeout)
	go sweepIdleSessions(ctx, sessions, logger)
	var auditStore audit.Store
	if cfg.AuditLogDir != "" {
		fileStore, err := fileaudit.NewFileAuditStore(fileaudit.AuditFileConfig{Dir: cfg.AuditLogDir}, logger)
		if err != nil {
			return fmt.Errorf("open audit log: %w", err)
		}
		auditStore = fileStore
	} else {
		auditStore = memory.NewAuditStore()
	}
	defer func() { _ = auditStore.Close() }()

	var oauthSvc *oauth.Service
	if cfg.OAuth.Enabled {
		oauthSvc = oauth.NewService(oauth.Config{
			Issuer:      cfg.OAuth.Issuer,
			Resource:    cfg.OAuth.Issuer,
			TokenExpiry: cfg.OAuth.TokenExpiry,
			JWTSecret:   []byte(cfg.OAuth.JWTSecret),
		}, memory.NewOAuthClientStore(), memory.NewOAuthCodeStore())
	}

	var legacyBearerHash string
	if cfg.HasLegacyBearer() {
		hash, err := auth.HashSecretArgon2id(cfg.RailwayBearerToken)
		if err != nil {
			return fmt.Errorf("hash legacy bearer token: %w", err)
		}
		legacyBearerHash = hash
	}

	rateLimiter := memory.NewRateLimiter()
	rateLimiter.StartCleanup(ctx)
	defer rateLimiter.Stop()

	gatekeeper := inboundhttp.NewGatekeeper(inboundhttp.GatekeeperConfig{
		RequireAuth:      cfg.RequireAuthentication,
		OAuth:            oauthSvc,
		LegacyBearerHash: legacyBearerHash,
		Limiter:          rateLimiter,
		RateLimitCfg: ratelimit.RateLimitConfig{
			Rate:   cfg.RateLimitPerMinute,
			Burst:  cfg.RateLimitPerMinute,
			Period: time.Minute,
		},
		Log: logger,
	})

	var corsOrigins []string
	if cfg.EnableCORS {
		corsOrigins = cfg.CORSAllowedOrigins
	}

	router := inboundhttp.NewRouter(inboundhttp.RouterConfig{
		Sessions:    sessions,
		Dispatcher:  dispatcher,
		Gatekeeper:  gatekeeper,
		Metrics:     metrics,
		OAuth:       oauthSvc,
		Audit:       auditStore,
		Embedder:    enc,
		BaseURL:     cfg.OAuth.Issuer,
		CORSOrigins: corsOrigins,
		Log:         logger,
	})

	addr := fmt.Sprintf(":%d", cfg.Port)
	server := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	logger.Info("daydreamer-memory starting",
		"version", Version,
		"addr", addr,
		"require_authentication", cfg.RequireAuthentication,
		"oauth_enabled", cfg.OAuth.Enabled,
		"rate_limit_per_minute", cfg.RateLimitPerMinute,
		"schema_enforcement_strict", cfg.SchemaEnforcementStrict,
	)

	serveErr := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
			return
		}
		serveErr <- nil
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received, draining sessions")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		sessions.CloseAll()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown: %w", err)
		}
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("daydreamer-memory stopped")
	return nil
}

// sweepIdleSessions closes sessions idle for longer than the table's
// timeout, on a coarse fixed interval, until ctx is canceled.
func sweepIdleSessions(ctx context.Context, sessions *mcpsession.Table, logger *slog.Logger) {
	ticker := time.NewTicker(mcpsession.DefaultSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			for _, s := range sessions.SweepIdle(now) {
				logger.Info("closed idle session", "session_id", s.ID, "peer", s.PeerAddr)
			}
		}
	}
}

// hashEncode is the default 256-D encoder used when no real embedding
// model is configured: a deterministic, SHA-256-seeded unit vector. It
// has no semantic meaning but exercises the full embedding path (caching,
// circuit breaker, storage) the way graphmem exercises the graph store
// path without a real database.
func hashEncode(ctx context.Context, text string) ([]float32, error) {
	seed := sha256.Sum256([]byte(text))
	vec := make([]float32, 256)
	var sumSquares float64
	for i := range vec {
		b := seed[i%len(seed)]
		v := float64(b)/127.5 - 1
		vec[i] = float32(v)
		sumSquares += v * v
	}
	norm := math.Sqrt(sumSquares)
	if norm == 0 {
		return vec, nil
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec, nil
}
