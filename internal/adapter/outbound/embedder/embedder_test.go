package embedder

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DayDreamerAI/daydreamer-memory/internal/port/outbound"
)

func fakeVector(seed float32) []float32 {
	v := make([]float32, 8)
	for i := range v {
		v[i] = seed
	}
	return v
}

func TestEmbedder_EncodeSingle_NormalizesAndPads(t *testing.T) {
	e := New(Config{}, func(ctx context.Context, text string) ([]float32, error) {
		return fakeVector(3), nil
	}, nil, nil)

	vec, err := e.EncodeSingle(context.Background(), "hello")
	if err != nil {
		t.Fatalf("EncodeSingle() error: %v", err)
	}
	if len(vec) != outbound.Dimension {
		t.Fatalf("len(vec) = %d, want %d", len(vec), outbound.Dimension)
	}
	var sumSq float64
	for _, x := range vec {
		sumSq += float64(x) * float64(x)
	}
	if diff := sumSq - 1.0; diff > 1e-3 || diff < -1e-3 {
		t.Errorf("vector not L2-normalized: sum of squares = %f", sumSq)
	}
}

func TestEmbedder_LazyLoad_ModelNotCalledUntilFirstEncode(t *testing.T) {
	var loadCount int64
	e := New(Config{}, func(ctx context.Context, text string) ([]float32, error) {
		atomic.AddInt64(&loadCount, 1)
		return fakeVector(1), nil
	}, nil, nil)

	if atomic.LoadInt64(&loadCount) != 0 {
		t.Fatal("model must not be loaded at construction time")
	}

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			_, _ = e.EncodeSingle(context.Background(), "concurrent")
		}(i)
	}
	wg.Wait()

	// ensureLoaded runs once per load cycle; the model function is called
	// once per cache-miss request, but loadMu guards the *load*, not
	// inference.
	if atomic.LoadInt64(&loadCount) == 0 {
		t.Fatal("model should have been invoked at least once")
	}
}

func TestEmbedder_IdleUnload_ReleasesAndReloads(t *testing.T) {
	e := New(Config{}, func(ctx context.Context, text string) ([]float32, error) {
		return fakeVector(1), nil
	}, nil, nil)

	if _, err := e.EncodeSingle(context.Background(), "warm up"); err != nil {
		t.Fatalf("EncodeSingle() error: %v", err)
	}

	e.maybeUnload(time.Now().Add(DefaultIdleUnloadTimeout+time.Second), DefaultIdleUnloadTimeout)
	e.loadMu.Lock()
	loaded := e.loaded
	e.loadMu.Unlock()
	if loaded {
		t.Fatal("model should have been unloaded after the idle timeout")
	}

	// The next cache-missing call re-loads lazily.
	if _, err := e.EncodeSingle(context.Background(), "after unload"); err != nil {
		t.Fatalf("EncodeSingle() after unload: %v", err)
	}
	e.loadMu.Lock()
	loaded = e.loaded
	e.loadMu.Unlock()
	if !loaded {
		t.Error("model should have re-loaded on the next encode call")
	}
}

func TestEmbedder_CacheHitBypassesModel(t *testing.T) {
	var calls int64
	e := New(Config{}, func(ctx context.Context, text string) ([]float32, error) {
		atomic.AddInt64(&calls, 1)
		return fakeVector(2), nil
	}, nil, nil)

	if _, err := e.EncodeSingle(context.Background(), "same text"); err != nil {
		t.Fatalf("EncodeSingle() error: %v", err)
	}
	if _, err := e.EncodeSingle(context.Background(), "same text"); err != nil {
		t.Fatalf("EncodeSingle() error: %v", err)
	}
	if got := atomic.LoadInt64(&calls); got != 1 {
		t.Errorf("model called %d times, want 1 (second call should hit cache)", got)
	}
}

func TestEmbedder_EncodeFailure_ReturnsUnavailable(t *testing.T) {
	e := New(Config{}, func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("model exploded")
	}, nil, nil)

	_, err := e.EncodeSingle(context.Background(), "anything")
	if !errors.Is(err, outbound.ErrUnavailable) {
		t.Errorf("EncodeSingle() error = %v, want ErrUnavailable", err)
	}
}

func TestEmbedder_CircuitBreaker_OpensAboveThreshold(t *testing.T) {
	var rss uint64 = 5 * 1024 * 1024 * 1024 // above default 4.5 GiB threshold
	e := New(Config{MemoryThresholdBytes: 4608 * 1024 * 1024}, func(ctx context.Context, text string) ([]float32, error) {
		return fakeVector(1), nil
	}, func() (uint64, error) { return rss, nil }, nil)

	_, err := e.EncodeSingle(context.Background(), "first call opens breaker")
	if !errors.Is(err, outbound.ErrResourceExhausted) {
		t.Fatalf("EncodeSingle() error = %v, want ErrResourceExhausted", err)
	}
	if !e.BreakerOpen() {
		t.Error("breaker should be open")
	}
}

func TestEmbedder_CircuitBreaker_MonotonicUntilRecovery(t *testing.T) {
	// The breaker stays open until RSS crosses back under the recovery
	// threshold; it never closes purely because a call succeeds.
	var rss uint64 = 5 * 1024 * 1024 * 1024
	cfg := Config{MemoryThresholdBytes: 4608 * 1024 * 1024}
	e := New(cfg, func(ctx context.Context, text string) ([]float32, error) {
		return fakeVector(1), nil
	}, func() (uint64, error) { return rss, nil }, nil)

	for i := 0; i < 3; i++ {
		// each call uses a distinct cache key so the breaker is re-checked
		text := "distinct-" + string(rune('a'+i))
		_, err := e.EncodeSingle(context.Background(), text)
		if !errors.Is(err, outbound.ErrResourceExhausted) {
			t.Fatalf("call %d: error = %v, want ErrResourceExhausted while RSS stays high", i, err)
		}
	}

	// RSS recovers below the recovery threshold (90% of 4.5 GiB).
	rss = 1024 * 1024 * 1024
	_, err := e.EncodeSingle(context.Background(), "distinct-recovered")
	if err != nil {
		t.Fatalf("EncodeSingle() after recovery: error = %v, want nil", err)
	}
	if e.BreakerOpen() {
		t.Error("breaker should have closed after RSS dropped below recovery threshold")
	}
}

func TestEmbedder_Timeout(t *testing.T) {
	e := New(Config{CallTimeout: 10 * time.Millisecond}, func(ctx context.Context, text string) ([]float32, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, nil, nil)

	_, err := e.EncodeSingle(context.Background(), "slow")
	if !errors.Is(err, outbound.ErrEncodeTimeout) {
		t.Errorf("EncodeSingle() error = %v, want ErrEncodeTimeout", err)
	}
}

func TestEmbedder_EncodeBatch_SequentialThroughSamePath(t *testing.T) {
	e := New(Config{}, func(ctx context.Context, text string) ([]float32, error) {
		return fakeVector(1), nil
	}, nil, nil)

	out, err := e.EncodeBatch(context.Background(), []string{"one", "two", "three"})
	if err != nil {
		t.Fatalf("EncodeBatch() error: %v", err)
	}
	if len(out) != 3 {
		t.Fatalf("len(out) = %d, want 3", len(out))
	}
	for _, v := range out {
		if len(v) != outbound.Dimension {
			t.Errorf("len(v) = %d, want %d", len(v), outbound.Dimension)
		}
	}
}

func TestEmbedder_NoModelConfigured_ReturnsUnavailable(t *testing.T) {
	e := New(Config{}, nil, nil, nil)
	_, err := e.EncodeSingle(context.Background(), "x")
	if !errors.Is(err, outbound.ErrUnavailable) {
		t.Errorf("EncodeSingle() error = %v, want ErrUnavailable", err)
	}
}
