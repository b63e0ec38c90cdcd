// Package embedder implements a lazy-loaded, singleton, memory-circuit-
// broken embedding subsystem. The model weights and tokenizer are an
// external collaborator this module never loads directly; the package
// depends only on an EncodeFunc contract that a real model binding or an
// in-memory test double can satisfy.
package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/DayDreamerAI/daydreamer-memory/internal/port/outbound"
)

// EncodeFunc is the shape of the underlying model's raw encode call. A
// real implementation loads weights and a tokenizer; test doubles can be
// arbitrary deterministic functions.
type EncodeFunc func(ctx context.Context, text string) ([]float32, error)

// RSSReaderFunc samples this process's own resident set size in bytes.
// The circuit breaker never reads system-wide memory.
type RSSReaderFunc func() (uint64, error)

// Config configures the embedding subsystem.
type Config struct {
	// MemoryThresholdBytes is the soft RSS threshold above which the
	// breaker opens (default 4.5 GiB).
	MemoryThresholdBytes uint64
	// RecoveryThresholdBytes is the RSS level the breaker must drop below
	// before it closes again. Defaults to 90% of MemoryThresholdBytes.
	RecoveryThresholdBytes uint64
	// CallTimeout bounds a single encode call, accommodating first-call
	// model load (default 40s).
	CallTimeout time.Duration
	// CacheCapacity is the LRU cache's entry capacity (default ~1000).
	CacheCapacity int

	// OnCacheHit, OnCacheMiss, and OnBreakerChange are optional metric
	// hooks; nil disables them. OnBreakerChange fires only on a state
	// transition, not on every check.
	OnCacheHit      func()
	OnCacheMiss     func()
	OnBreakerChange func(open bool)
}

const (
	defaultMemoryThreshold = 4608 * 1024 * 1024 // 4.5 GiB
	defaultCallTimeout     = 40 * time.Second
	defaultCacheCapacity   = 1000
)

// DefaultIdleUnloadTimeout is how long the model may sit unused before
// StartIdleUnload releases it.
const DefaultIdleUnloadTimeout = 10 * time.Minute

func (c Config) withDefaults() Config {
	if c.MemoryThresholdBytes == 0 {
		c.MemoryThresholdBytes = defaultMemoryThreshold
	}
	if c.RecoveryThresholdBytes == 0 {
		c.RecoveryThresholdBytes = uint64(float64(c.MemoryThresholdBytes) * 0.9)
	}
	if c.CallTimeout == 0 {
		c.CallTimeout = defaultCallTimeout
	}
	if c.CacheCapacity == 0 {
		c.CacheCapacity = defaultCacheCapacity
	}
	return c
}

// breakerState is the circuit breaker's monotonic state machine: once
// open, it only closes when RSS is observed back under the recovery
// threshold, never merely because a call succeeded.
type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
)

// Embedder is the process-wide singleton embedding service. The same
// instance is shared by every tool handler, including graphrag_global_search.
type Embedder struct {
	cfg Config
	log *slog.Logger

	loadMu    sync.Mutex // serializes load, unload, and last-use bookkeeping
	loaded    bool
	loadedRSS uint64
	lastUsed  time.Time

	newModel EncodeFunc
	model    EncodeFunc
	readRSS  RSSReaderFunc

	breakerMu    sync.Mutex
	breaker      breakerState

	cache *lruCache
}

// New constructs an Embedder. newModel is not called here: it is installed
// as the model, inside the load mutex, on the first EncodeSingle/EncodeBatch
// call, and from then on is called once per cache miss. readRSS samples
// this process's own memory.
func New(cfg Config, newModel EncodeFunc, readRSS RSSReaderFunc, log *slog.Logger) *Embedder {
	if log == nil {
		log = slog.Default()
	}
	return &Embedder{
		cfg:      cfg.withDefaults(),
		log:      log,
		newModel: newModel,
		readRSS:  readRSS,
		cache:    newLRUCache(cfg.withDefaults().CacheCapacity),
	}
}

var _ outbound.Encoder = (*Embedder)(nil)

// EncodeSingle implements outbound.Encoder.
func (e *Embedder) EncodeSingle(ctx context.Context, text string) ([]float32, error) {
	key := cacheKey(text)
	if v, ok := e.cache.get(key); ok {
		if e.cfg.OnCacheHit != nil {
			e.cfg.OnCacheHit()
		}
		return v, nil
	}
	if e.cfg.OnCacheMiss != nil {
		e.cfg.OnCacheMiss()
	}

	if err := e.checkBreaker(); err != nil {
		return nil, err
	}

	model, err := e.ensureLoaded(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	type result struct {
		vec []float32
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := model(ctx, text)
		ch <- result{v, err}
	}()

	select {
	case <-ctx.Done():
		return nil, outbound.ErrEncodeTimeout
	case r := <-ch:
		if r.err != nil {
			return nil, outbound.ErrUnavailable
		}
		vec := l2Normalize(r.vec)
		e.cache.put(key, vec)
		e.touchUsed()
		return vec, nil
	}
}

// EncodeBatch implements outbound.Encoder, encoding sequentially through
// the same circuit breaker and cache as EncodeSingle. The underlying model
// in this deployment does not support concurrent inference, so batch
// encoding is serialized.
func (e *Embedder) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := e.EncodeSingle(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// checkBreaker refuses the request when the breaker is open. Cache hits
// bypass this entirely; for every other call it re-samples RSS to decide
// whether to open, or, if already open, whether recovery has occurred.
func (e *Embedder) checkBreaker() error {
	if e.readRSS == nil {
		return nil
	}
	rss, err := e.readRSS()
	if err != nil {
		// Inability to sample memory is not itself ResourceExhausted;
		// fail open on the breaker and let the call proceed.
		e.log.Warn("rss sample failed", "error", err)
		return nil
	}

	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()

	switch e.breaker {
	case breakerOpen:
		if rss < e.cfg.RecoveryThresholdBytes {
			e.breaker = breakerClosed
			e.log.Info("embedding circuit breaker closed", "rss_bytes", rss)
			if e.cfg.OnBreakerChange != nil {
				e.cfg.OnBreakerChange(false)
			}
			return nil
		}
		return outbound.ErrResourceExhausted
	default:
		if rss >= e.cfg.MemoryThresholdBytes {
			e.breaker = breakerOpen
			e.log.Warn("embedding circuit breaker opened", "rss_bytes", rss, "threshold_bytes", e.cfg.MemoryThresholdBytes)
			if e.cfg.OnBreakerChange != nil {
				e.cfg.OnBreakerChange(true)
			}
			return outbound.ErrResourceExhausted
		}
		return nil
	}
}

// BreakerOpen reports the current breaker state, for /health and metrics.
func (e *Embedder) BreakerOpen() bool {
	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()
	return e.breaker == breakerOpen
}

// ensureLoaded performs the true-lazy, mutex-serialized model load,
// returning the loaded model function. Concurrent callers block on
// loadMu; exactly one loader is ever active, and after an idle unload the
// next caller re-loads the same way. The returned func stays valid for
// this call even if an unload runs concurrently.
func (e *Embedder) ensureLoaded(ctx context.Context) (EncodeFunc, error) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if e.loaded {
		return e.model, nil
	}
	if e.newModel == nil {
		return nil, outbound.ErrUnavailable
	}
	start := time.Now()
	// The loader itself is the model's first call; subsequent calls
	// reuse e.model directly.
	e.model = e.newModel
	e.loaded = true
	e.lastUsed = time.Now()
	if e.readRSS != nil {
		if rss, err := e.readRSS(); err == nil {
			e.loadedRSS = rss
		}
	}
	e.log.Info("embedding model loaded", "duration", time.Since(start), "resident_bytes", e.loadedRSS)
	return e.model, nil
}

func (e *Embedder) touchUsed() {
	e.loadMu.Lock()
	e.lastUsed = time.Now()
	e.loadMu.Unlock()
}

// StartIdleUnload releases the model after it has been idle for timeout,
// re-loading lazily on the next encode call (ENABLE_AUTO_UNLOAD). The
// sweep runs until ctx is canceled.
func (e *Embedder) StartIdleUnload(ctx context.Context, timeout time.Duration) {
	if timeout <= 0 {
		timeout = DefaultIdleUnloadTimeout
	}
	go func() {
		ticker := time.NewTicker(timeout / 2)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				e.maybeUnload(now, timeout)
			}
		}
	}()
}

// maybeUnload releases the model if it has been idle for at least timeout.
func (e *Embedder) maybeUnload(now time.Time, timeout time.Duration) {
	e.loadMu.Lock()
	defer e.loadMu.Unlock()
	if !e.loaded || now.Sub(e.lastUsed) < timeout {
		return
	}
	e.model = nil
	e.loaded = false
	e.log.Info("embedding model unloaded after idle timeout", "idle", now.Sub(e.lastUsed))
}

// l2Normalize scales v to unit length and truncates/pads to Dimension,
// implementing Matryoshka truncation from the underlying 1024-D model.
func l2Normalize(v []float32) []float32 {
	if len(v) > outbound.Dimension {
		v = v[:outbound.Dimension]
	}
	out := make([]float32, outbound.Dimension)
	copy(out, v)

	var sumSq float64
	for _, x := range out {
		sumSq += float64(x) * float64(x)
	}
	if sumSq == 0 {
		return out
	}
	norm := float32(math.Sqrt(sumSq))
	for i := range out {
		out[i] /= norm
	}
	return out
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
