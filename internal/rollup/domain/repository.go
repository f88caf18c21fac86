package rollup

import (
	"context"
	"time"
)

// ApplyBatch is the atomic unit of aggregation progress: absolute bucket
// state, the event ids counted in it, and the new stream cursor. The
// repository persists all three in one transaction: either the whole
// batch lands or the cursor stays put and the batch is retried.
type ApplyBatch struct {
	Partition string
	NewCursor int64
	EventIDs  []string
	Buckets   []*Bucket
}

// Repository persists rollup buckets, the per-partition stream cursor and
// the event-id dedup window.
type Repository interface {
	// GetBuckets loads current state for the given keys; missing keys are
	// simply absent from the result.
	GetBuckets(ctx context.Context, keys []BucketKey) ([]*Bucket, error)
	// Apply commits an aggregation batch atomically.
	Apply(ctx context.Context, batch ApplyBatch) error
	// Cursor returns the last committed stream sequence for the partition,
	// zero when the partition has never been aggregated.
	Cursor(ctx context.Context, partition string) (int64, error)
	// Seen reports which of the event ids have already been counted.
	Seen(ctx context.Context, eventIDs []string) (map[string]bool, error)
	// PruneDedup drops dedup records older than the cutoff and returns the
	// number removed.
	PruneDedup(ctx context.Context, olderThan time.Time) (int64, error)
}
