package application

import (
	"context"
	"errors"
	"log"
	"sync"
	"time"

	events "piam-analytics/internal/events/domain"
	"piam-analytics/internal/observability/metrics"
	rollup "piam-analytics/internal/rollup/domain"
)

// Clock provides time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

const (
	defaultBatchSize      = 500
	defaultGraceMinute    = 2 * time.Minute
	defaultGraceHour      = 10 * time.Minute
	defaultDedupRetention = 2 * time.Hour
	defaultBatchDeadline  = 5 * time.Second
	defaultWorkers        = 4
)

// Aggregator consumes the event stream and maintains minute and hour
// rollup buckets with exactly-once accounting. Minute and hour buckets
// are maintained independently so each granularity stays self-consistent
// and independently recoverable.
type Aggregator struct {
	stream events.StreamReader
	repo   rollup.Repository
	clock  Clock
	logger *log.Logger

	batchSize      int
	graceMinute    time.Duration
	graceHour      time.Duration
	dedupRetention time.Duration
	batchDeadline  time.Duration
	workers        int

	lastPrune time.Time
}

// Option customizes the aggregator.
type Option func(*Aggregator)

// WithClock assigns a clock.
func WithClock(clock Clock) Option {
	return func(a *Aggregator) {
		if clock != nil {
			a.clock = clock
		}
	}
}

// WithBatchSize sets the stream read batch size.
func WithBatchSize(size int) Option {
	return func(a *Aggregator) {
		if size > 0 {
			a.batchSize = size
		}
	}
}

// WithGrace sets the late-arrival grace periods per granularity.
func WithGrace(minute, hour time.Duration) Option {
	return func(a *Aggregator) {
		if minute > 0 {
			a.graceMinute = minute
		}
		if hour > 0 {
			a.graceHour = hour
		}
	}
}

// WithDedupRetention sets how long counted event ids are remembered. It is
// also the drop horizon for late events: beyond it dedup can no longer
// vouch for exactly-once accounting, so the event goes to the late counter.
func WithDedupRetention(retention time.Duration) Option {
	return func(a *Aggregator) {
		if retention > 0 {
			a.dedupRetention = retention
		}
	}
}

// WithBatchDeadline bounds one partition's aggregation pass; partial
// progress past the deadline is committed and the rest retried next cycle.
func WithBatchDeadline(deadline time.Duration) Option {
	return func(a *Aggregator) {
		if deadline > 0 {
			a.batchDeadline = deadline
		}
	}
}

// WithWorkers sets how many partitions aggregate in parallel.
func WithWorkers(workers int) Option {
	return func(a *Aggregator) {
		if workers > 0 {
			a.workers = workers
		}
	}
}

// NewAggregator constructs an aggregator.
func NewAggregator(stream events.StreamReader, repo rollup.Repository, logger *log.Logger, opts ...Option) (*Aggregator, error) {
	if stream == nil {
		return nil, errors.New("aggregator: nil stream reader")
	}
	if repo == nil {
		return nil, errors.New("aggregator: nil rollup repository")
	}
	if logger == nil {
		logger = log.Default()
	}
	agg := &Aggregator{
		stream:         stream,
		repo:           repo,
		clock:          systemClock{},
		logger:         logger,
		batchSize:      defaultBatchSize,
		graceMinute:    defaultGraceMinute,
		graceHour:      defaultGraceHour,
		dedupRetention: defaultDedupRetention,
		batchDeadline:  defaultBatchDeadline,
		workers:        defaultWorkers,
	}
	for _, opt := range opts {
		opt(agg)
	}
	return agg, nil
}

// GraceFor returns the grace period for a granularity.
func (a *Aggregator) GraceFor(granularity rollup.Granularity) time.Duration {
	if granularity == rollup.GranularityHour {
		return a.graceHour
	}
	return a.graceMinute
}

// RunOnce aggregates pending events across all partitions. Each partition
// is processed by exactly one worker, so bucket updates per partition are
// serialized.
func (a *Aggregator) RunOnce(ctx context.Context) error {
	partitions, err := a.stream.ListPartitions(ctx)
	if err != nil {
		return err
	}
	if len(partitions) == 0 {
		return nil
	}

	work := make(chan string)
	var wg sync.WaitGroup
	var mu sync.Mutex
	var firstErr error

	workers := a.workers
	if workers > len(partitions) {
		workers = len(partitions)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for partition := range work {
				if err := a.processPartition(ctx, partition); err != nil {
					a.logger.Printf("aggregator: partition %s: %v", partition, err)
					mu.Lock()
					if firstErr == nil {
						firstErr = err
					}
					mu.Unlock()
				}
			}
		}()
	}
	for _, partition := range partitions {
		work <- partition
	}
	close(work)
	wg.Wait()

	a.maybePrune(ctx)
	return firstErr
}

// processPartition drains one partition's stream up to the batch deadline.
// The cursor only advances inside a successful Apply, so a crash or storage
// error replays the batch and dedup absorbs the duplicates.
func (a *Aggregator) processPartition(ctx context.Context, partition string) error {
	cursor, err := a.repo.Cursor(ctx, partition)
	if err != nil {
		return err
	}

	deadline := a.clock.Now().Add(a.batchDeadline)
	for {
		batch, err := a.stream.ReadBatch(ctx, partition, cursor, a.batchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		start := a.clock.Now()
		applied, newCursor, err := a.aggregateBatch(ctx, partition, cursor, batch)
		if err != nil {
			metrics.ObserveAggregatorBatch(metrics.ResultError, 0, a.clock.Now().Sub(start))
			return err
		}
		metrics.ObserveAggregatorBatch(metrics.ResultSuccess, applied, a.clock.Now().Sub(start))
		cursor = newCursor

		if len(batch) < a.batchSize {
			return nil
		}
		if a.clock.Now().After(deadline) {
			// Partial progress is committed; the rest is picked up next cycle.
			return nil
		}
	}
}

func (a *Aggregator) aggregateBatch(ctx context.Context, partition string, cursor int64, batch []events.StoredEvent) (int, int64, error) {
	ids := make([]string, 0, len(batch))
	for _, stored := range batch {
		ids = append(ids, stored.Event.EventID)
	}
	seen, err := a.repo.Seen(ctx, ids)
	if err != nil {
		return 0, cursor, err
	}

	now := a.clock.Now()
	deltas := make(map[string]*rollup.Bucket)
	fresh := make([]string, 0, len(batch))
	applied := 0
	newCursor := cursor

	for _, stored := range batch {
		if stored.Seq > newCursor {
			newCursor = stored.Seq
		}
		event := stored.Event
		if seen[event.EventID] {
			metrics.IncEventDuplicate()
			continue
		}
		counted := false
		for _, granularity := range []rollup.Granularity{rollup.GranularityMinute, rollup.GranularityHour} {
			key, ok := a.resolveKey(event, granularity, now)
			if !ok {
				continue
			}
			bucket := deltas[key.String()]
			if bucket == nil {
				bucket, err = rollup.NewBucket(key)
				if err != nil {
					return 0, cursor, err
				}
				deltas[key.String()] = bucket
			}
			if err := bucket.Apply(event); err != nil {
				return 0, cursor, err
			}
			counted = true
		}
		if counted {
			applied++
		}
		// Remember the id either way so a replay of a dropped-late event
		// does not get a second chance at routing.
		fresh = append(fresh, event.EventID)
	}

	merged, err := a.mergeWithStored(ctx, deltas)
	if err != nil {
		return 0, cursor, err
	}

	apply := rollup.ApplyBatch{
		Partition: partition,
		NewCursor: newCursor,
		EventIDs:  fresh,
		Buckets:   merged,
	}
	if err := a.repo.Apply(ctx, apply); err != nil {
		return 0, cursor, err
	}
	return applied, newCursor, nil
}

// resolveKey picks the bucket for the event at the granularity, applying
// the late-arrival policy: a closed target routes to the oldest still-open
// bucket; past the drop horizon the event is counted late and skipped.
func (a *Aggregator) resolveKey(event events.AccessEvent, granularity rollup.Granularity, now time.Time) (rollup.BucketKey, bool) {
	grace := a.GraceFor(granularity)
	key := rollup.KeyFor(event, granularity)
	if !key.Closed(now, grace) {
		return key, true
	}
	if now.Sub(event.EventTime) > a.dedupRetention {
		metrics.IncLateEvent(string(granularity), "dropped")
		a.logger.Printf("aggregator: late event dropped: tenant=%s location=%s event_time=%s granularity=%s",
			event.TenantID, event.LocationID, event.EventTime.Format(time.RFC3339), granularity)
		return rollup.BucketKey{}, false
	}
	key.BucketStart = rollup.OldestOpenStart(granularity, now, grace)
	metrics.IncLateEvent(string(granularity), "routed")
	a.logger.Printf("aggregator: late event routed: tenant=%s location=%s event_time=%s bucket=%s",
		event.TenantID, event.LocationID, event.EventTime.Format(time.RFC3339), key.BucketStart.Format(time.RFC3339))
	return key, true
}

// mergeWithStored folds batch deltas into the stored bucket state. Safe
// without locking because each partition has a single writer.
func (a *Aggregator) mergeWithStored(ctx context.Context, deltas map[string]*rollup.Bucket) ([]*rollup.Bucket, error) {
	if len(deltas) == 0 {
		return nil, nil
	}
	keys := make([]rollup.BucketKey, 0, len(deltas))
	for _, bucket := range deltas {
		keys = append(keys, bucket.Key)
	}
	stored, err := a.repo.GetBuckets(ctx, keys)
	if err != nil {
		return nil, err
	}
	byKey := make(map[string]*rollup.Bucket, len(stored))
	for _, bucket := range stored {
		byKey[bucket.Key.String()] = bucket
	}

	merged := make([]*rollup.Bucket, 0, len(deltas))
	for key, delta := range deltas {
		if current := byKey[key]; current != nil {
			if err := current.Merge(delta); err != nil {
				return nil, err
			}
			merged = append(merged, current)
			continue
		}
		merged = append(merged, delta)
	}
	return merged, nil
}

func (a *Aggregator) maybePrune(ctx context.Context) {
	now := a.clock.Now()
	if now.Sub(a.lastPrune) < a.dedupRetention/4 {
		return
	}
	a.lastPrune = now
	removed, err := a.repo.PruneDedup(ctx, now.Add(-a.dedupRetention))
	if err != nil {
		a.logger.Printf("aggregator: dedup prune error: %v", err)
		return
	}
	if removed > 0 {
		a.logger.Printf("aggregator: pruned %d dedup records", removed)
	}
}
