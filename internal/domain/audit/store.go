package audit

import "context"

// Store persists audit records. Both implementations write the records
// synchronously inside Append, without batching.
type Store interface {
	Append(ctx context.Context, records ...Record) error
	Flush(ctx context.Context) error
	Close() error
}
