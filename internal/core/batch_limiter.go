package core

// batch_limiter.go bounds how many batches insert at the same time.
//
// Each batch holds its own database connection for the duration of the
// inserts, so the limit is also the ceiling on connections opened by the
// service. A batch that cannot get a slot within maxWait fails with ErrBusy.

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// ErrBusy is returned when every batch slot stays occupied for the whole
// wait. Clients should retry after a short delay.
var ErrBusy = errors.New("too many batches in progress")

const (
	// DefaultMaxConcurrentBatches is used when no limit is configured.
	DefaultMaxConcurrentBatches = 4

	// DefaultMaxBatchWait is how long a batch waits for a slot by default.
	DefaultMaxBatchWait = 30 * time.Second
)

// BatchLimiter is a weighted semaphore over batch slots.
type BatchLimiter struct {
	sem      *semaphore.Weighted
	capacity int64
	maxWait  time.Duration
	active   atomic.Int64
}

// NewBatchLimiter allows maxConcurrent batches at once. Non-positive
// arguments select the defaults.
func NewBatchLimiter(maxConcurrent int, maxWait time.Duration) *BatchLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentBatches
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxBatchWait
	}
	return &BatchLimiter{
		sem:      semaphore.NewWeighted(int64(maxConcurrent)),
		capacity: int64(maxConcurrent),
		maxWait:  maxWait,
	}
}

// Acquire takes a slot, waiting at most maxWait. The caller must Release
// after a nil return.
func (l *BatchLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		// Caller cancellation wins over our own wait timeout.
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrBusy
	}
	l.active.Add(1)
	return nil
}

// Release returns a slot taken by Acquire.
func (l *BatchLimiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// Active returns the number of batches holding a slot.
func (l *BatchLimiter) Active() int { return int(l.active.Load()) }

// Capacity returns the slot count.
func (l *BatchLimiter) Capacity() int { return int(l.capacity) }

// WaitForDrain blocks until no batch holds a slot or ctx is done. New
// batches are held off while it waits.
func (l *BatchLimiter) WaitForDrain(ctx context.Context) error {
	if err := l.sem.Acquire(ctx, l.capacity); err != nil {
		return err
	}
	l.sem.Release(l.capacity)
	return nil
}
