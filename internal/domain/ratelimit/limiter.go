package ratelimit

import "context"

// RateLimiter is the single throttling contract shared by the HTTP
// gatekeeper (RATE_LIMIT_PER_MINUTE, keyed per IP or per authenticated
// principal) and the V6 write pipeline (keyed per entity name).
//
// Implementations use GCRA (Generic Cell Rate Algorithm) so requests are
// spread smoothly over the period instead of bursting at fixed-window
// boundaries. The interface is storage-agnostic; the in-memory adapter in
// internal/adapter/outbound/memory is the only implementation this
// gateway ships.
type RateLimiter interface {
	// Allow atomically charges one event against key under config and
	// reports whether it fit. A rejected result carries RetryAfter (when
	// the next event will fit) and CategoryResourceExhausted, so the
	// HTTP 429 path and the JSON-RPC error path classify the rejection
	// identically. key must come from FormatKey.
	Allow(ctx context.Context, key string, config RateLimitConfig) (RateLimitResult, error)
}
