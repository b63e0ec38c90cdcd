package outbound

import (
	"context"
	"errors"
)

// Encoding failure modes. Callers in internal/service/v6pipeline treat
// all three identically: embedding is best-effort.
var (
	// ErrUnavailable means the model failed to load or is not ready.
	ErrUnavailable = errors.New("embedding model unavailable")
	// ErrEncodeTimeout means the per-call ceiling elapsed.
	ErrEncodeTimeout = errors.New("embedding call timed out")
	// ErrResourceExhausted means the memory circuit breaker is open.
	ErrResourceExhausted = errors.New("embedding resource exhausted")
)

// Dimension is the fixed output vector width (Matryoshka truncation from
// the underlying 1024-D model).
const Dimension = 256

// Encoder supplies 256-D, L2-normalized vectors for text. The concrete
// model and tokenizer are external collaborators; this package only
// depends on the contract.
type Encoder interface {
	// EncodeSingle returns a Dimension-length L2-normalized vector, or one
	// of ErrUnavailable, ErrEncodeTimeout, ErrResourceExhausted.
	EncodeSingle(ctx context.Context, text string) ([]float32, error)

	// EncodeBatch encodes multiple texts. Implementations may parallelize
	// internally but must still honor the circuit breaker and cache.
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}
