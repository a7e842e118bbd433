package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/quotelens/quotelens/internal/metrics"
)

// ErrBatcherClosed is returned by Add after Close.
var ErrBatcherClosed = errors.New("batcher closed")

// BatchOptions configures flush thresholds.
type BatchOptions struct {
	MaxBatchSize int
	MinWait      time.Duration
	MaxWait      time.Duration
}

// BatchProcessor handles one batch. Result i belongs to item i.
type BatchProcessor[In, Out any] func(ctx context.Context, items []In) ([]Out, error)

type batchResult[Out any] struct {
	value Out
	err   error
}

type batchItem[In, Out any] struct {
	key      string
	data     In
	enqueued time.Time
	result   chan batchResult[Out]
}

// Batcher accumulates items and flushes them through one processor call when
// the batch is full or its timer elapses.
type Batcher[In, Out any] struct {
	opts      BatchOptions
	processor BatchProcessor[In, Out]
	clock     func() time.Time

	mu         sync.Mutex
	batch      []*batchItem[In, Out]
	firstAt    time.Time
	timer      *time.Timer
	processing bool
	closed     bool
	idle       *sync.Cond
	wg         sync.WaitGroup
}

// NewBatcher creates a Batcher. Non-positive options fall back to 10 items, 50ms and 500ms.
func NewBatcher[In, Out any](opts BatchOptions, processor BatchProcessor[In, Out]) *Batcher[In, Out] {
	if opts.MaxBatchSize <= 0 {
		opts.MaxBatchSize = 10
	}
	if opts.MinWait <= 0 {
		opts.MinWait = 50 * time.Millisecond
	}
	if opts.MaxWait < opts.MinWait {
		opts.MaxWait = opts.MinWait
	}
	b := &Batcher[In, Out]{opts: opts, processor: processor}
	b.idle = sync.NewCond(&b.mu)
	return b
}

// Add enqueues item and waits for its positional result.
func (b *Batcher[In, Out]) Add(ctx context.Context, key string, item In) (Out, error) {
	var zero Out
	entry := &batchItem[In, Out]{
		key:      key,
		data:     item,
		enqueued: b.now(),
		result:   make(chan batchResult[Out], 1),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return zero, ErrBatcherClosed
	}
	if len(b.batch) == 0 {
		b.firstAt = entry.enqueued
	}
	b.batch = append(b.batch, entry)
	if len(b.batch) >= b.opts.MaxBatchSize {
		b.stopTimerLocked()
		b.wg.Add(1)
		go func() {
			defer b.wg.Done()
			b.flush()
		}()
	} else {
		b.scheduleLocked()
	}
	b.mu.Unlock()

	select {
	case res := <-entry.result:
		return res.value, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Flush processes the open batch now.
func (b *Batcher[In, Out]) Flush() {
	b.mu.Lock()
	b.stopTimerLocked()
	b.mu.Unlock()
	b.flush()
}

// Pending returns the number of items in the open batch.
func (b *Batcher[In, Out]) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.batch)
}

// Close flushes the remainder and rejects later Adds.
func (b *Batcher[In, Out]) Close() {
	b.mu.Lock()
	b.closed = true
	b.stopTimerLocked()
	for b.processing {
		b.idle.Wait()
	}
	b.mu.Unlock()

	b.flush()
	b.wg.Wait()
}

// WaitDelay returns clamp(MinWait, MaxWait, MaxWait-age) for a batch of the given age.
func (b *Batcher[In, Out]) WaitDelay(age time.Duration) time.Duration {
	delay := b.opts.MaxWait - age
	if delay < b.opts.MinWait {
		return b.opts.MinWait
	}
	if delay > b.opts.MaxWait {
		return b.opts.MaxWait
	}
	return delay
}

// scheduleLocked re-arms the flush timer. Caller holds b.mu. An armed timer
// counts in wg until it fires or is stopped, so Close waits for timer flushes.
func (b *Batcher[In, Out]) scheduleLocked() {
	b.stopTimerLocked()
	delay := b.WaitDelay(b.now().Sub(b.firstAt))
	b.wg.Add(1)
	b.timer = time.AfterFunc(delay, func() {
		defer b.wg.Done()
		b.flush()
	})
}

func (b *Batcher[In, Out]) stopTimerLocked() {
	if b.timer != nil {
		if b.timer.Stop() {
			b.wg.Done()
		}
		b.timer = nil
	}
}

// flush swaps out the open batch and runs the processor once. A flush while
// another is in flight is a no-op; the remainder is re-armed when it finishes.
func (b *Batcher[In, Out]) flush() {
	b.mu.Lock()
	if b.processing || len(b.batch) == 0 {
		b.mu.Unlock()
		return
	}
	n := len(b.batch)
	if n > b.opts.MaxBatchSize {
		n = b.opts.MaxBatchSize
	}
	items := b.batch[:n:n]
	b.batch = append([]*batchItem[In, Out](nil), b.batch[n:]...)
	if len(b.batch) > 0 {
		b.firstAt = b.batch[0].enqueued
	}
	b.processing = true
	b.mu.Unlock()

	b.process(items)

	b.mu.Lock()
	b.processing = false
	b.idle.Broadcast()
	if len(b.batch) > 0 {
		if b.closed || len(b.batch) >= b.opts.MaxBatchSize {
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.flush()
			}()
		} else {
			b.scheduleLocked()
		}
	}
	b.mu.Unlock()
}

func (b *Batcher[In, Out]) process(items []*batchItem[In, Out]) {
	payloads := make([]In, len(items))
	for i, item := range items {
		payloads[i] = item.data
	}

	results, err := b.processor(context.Background(), payloads)
	if err == nil && len(results) != len(items) {
		err = fmt.Errorf("batch processor returned %d results for %d items", len(results), len(items))
	}
	metrics.RecordBatchFlush(len(items), err == nil)

	for i, item := range items {
		if err != nil {
			item.result <- batchResult[Out]{err: err}
			continue
		}
		item.result <- batchResult[Out]{value: results[i]}
	}
}

func (b *Batcher[In, Out]) now() time.Time {
	if b.clock != nil {
		return b.clock()
	}
	return time.Now()
}
