package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/quotelens/quotelens/internal/metrics"
	"github.com/quotelens/quotelens/internal/observability"
)

var (
	// ErrRateLimited is returned when the limiter refuses a call. No slot is consumed.
	ErrRateLimited = errors.New("rate limit exceeded, please wait")
	// ErrSuperseded is returned to a caller whose pending call was replaced by a newer one for the same key.
	ErrSuperseded = errors.New("request superseded by a newer request")
	// ErrCoordinatorStopped is returned after Stop.
	ErrCoordinatorStopped = errors.New("coordinator stopped")
)

// RateLimitError is ErrRateLimited with the wait until a slot frees up.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return ErrRateLimited.Error()
}

func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// CallFunc performs one upstream call.
type CallFunc[T any] func(ctx context.Context) (T, error)

// CoordinatorOptions configures a Coordinator.
type CoordinatorOptions[T any] struct {
	// Name labels logs and metrics.
	Name  string
	Delay time.Duration
	// Cache is optional; nil disables caching.
	Cache *TTLCache[T]
	// Limiter is optional; nil disables rate limiting.
	Limiter *RateLimiter
	// UpstreamTimeout bounds each dispatched call when positive.
	UpstreamTimeout time.Duration
	Logger          observability.FieldLogger
}

type callResult[T any] struct {
	value T
	err   error
}

type pendingCall[T any] struct {
	ctx   context.Context
	fn    CallFunc[T]
	timer *time.Timer
	done  chan callResult[T]
}

// Coordinator debounces calls per key with last-call-wins semantics, then
// consults the cache and limiter before dispatching.
type Coordinator[T any] struct {
	opts   CoordinatorOptions[T]
	logger observability.FieldLogger
	group  singleflight.Group

	mu      sync.Mutex
	pending map[string]*pendingCall[T]
	stopped bool
}

// NewCoordinator creates a Coordinator.
func NewCoordinator[T any](opts CoordinatorOptions[T]) *Coordinator[T] {
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.Delay < 0 {
		opts.Delay = 0
	}
	return &Coordinator[T]{
		opts:    opts,
		logger:  observability.OrNop(opts.Logger),
		pending: make(map[string]*pendingCall[T]),
	}
}

// Do schedules fn under key and waits for the result. A newer Do for the same
// key before the delay elapses rejects this call with ErrSuperseded.
//
// If ctx ends before dispatch the pending timer is cancelled. Once dispatched,
// fn runs to completion on a context detached from ctx and still populates the cache.
func (c *Coordinator[T]) Do(ctx context.Context, key string, fn CallFunc[T]) (T, error) {
	var zero T
	call := &pendingCall[T]{
		ctx:  ctx,
		fn:   fn,
		done: make(chan callResult[T], 1),
	}

	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return zero, ErrCoordinatorStopped
	}
	if prev, ok := c.pending[key]; ok && prev.timer.Stop() {
		prev.done <- callResult[T]{err: ErrSuperseded}
		metrics.RecordSuperseded(c.opts.Name)
		c.logger.Debug("Debounced call superseded",
			zap.String("coordinator", c.opts.Name),
			zap.String("key", key))
	}
	c.pending[key] = call
	call.timer = time.AfterFunc(c.opts.Delay, func() { c.fire(key, call) })
	c.mu.Unlock()

	select {
	case res := <-call.done:
		return res.value, res.err
	case <-ctx.Done():
		c.mu.Lock()
		if c.pending[key] == call && call.timer.Stop() {
			delete(c.pending, key)
		}
		c.mu.Unlock()
		return zero, ctx.Err()
	}
}

// Invalidate drops the cached value for key.
func (c *Coordinator[T]) Invalidate(key string) {
	c.opts.Cache.Delete(key)
}

// Cached returns the cached value for key without dispatching.
func (c *Coordinator[T]) Cached(key string) (T, bool) {
	return c.opts.Cache.Get(key)
}

// Limiter returns the configured limiter, which may be nil.
func (c *Coordinator[T]) Limiter() *RateLimiter {
	return c.opts.Limiter
}

// Cache returns the configured cache, which may be nil.
func (c *Coordinator[T]) Cache() *TTLCache[T] {
	return c.opts.Cache
}

// Pending returns the number of keys waiting on a debounce timer.
func (c *Coordinator[T]) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}

// Stop cancels every pending timer and rejects waiting callers with
// ErrCoordinatorStopped. Calls already dispatched run to completion.
func (c *Coordinator[T]) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	for key, call := range c.pending {
		if call.timer.Stop() {
			call.done <- callResult[T]{err: ErrCoordinatorStopped}
		}
		delete(c.pending, key)
	}
}

func (c *Coordinator[T]) fire(key string, call *pendingCall[T]) {
	c.mu.Lock()
	if c.pending[key] == call {
		delete(c.pending, key)
	}
	c.mu.Unlock()

	value, err := c.dispatch(call.ctx, key, call.fn)
	call.done <- callResult[T]{value: value, err: err}
}

// dispatch runs inside a singleflight group so at most one upstream call per
// key is in flight. Cache and limiter are checked by the flight leader only.
func (c *Coordinator[T]) dispatch(parent context.Context, key string, fn CallFunc[T]) (T, error) {
	var zero T

	result, err, _ := c.group.Do(key, func() (any, error) {
		if c.opts.Cache != nil {
			if cached, ok := c.opts.Cache.Get(key); ok {
				metrics.RecordCacheLookup(c.opts.Name, true)
				return cached, nil
			}
			metrics.RecordCacheLookup(c.opts.Name, false)
		}

		if !c.opts.Limiter.TryAcquire() {
			metrics.RecordRateLimited(c.opts.Name)
			c.logger.Warn("Upstream call rate limited",
				zap.String("coordinator", c.opts.Name),
				zap.String("key", key),
				zap.Duration("retry_after", c.opts.Limiter.RetryAfter()))
			return zero, &RateLimitError{RetryAfter: c.opts.Limiter.RetryAfter()}
		}

		ctx := context.WithoutCancel(parent)
		if c.opts.UpstreamTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.opts.UpstreamTimeout)
			defer cancel()
		}

		start := time.Now()
		value, err := fn(ctx)
		metrics.RecordUpstreamCall(c.opts.Name, err == nil, time.Since(start))
		if c.opts.Limiter != nil {
			metrics.SetRateLimitRemaining(c.opts.Limiter.RemainingCalls())
		}
		if err != nil {
			c.logger.Warn("Upstream call failed",
				zap.String("coordinator", c.opts.Name),
				zap.String("key", key),
				zap.Error(err))
			return zero, err
		}

		c.opts.Cache.Set(key, value)
		return value, nil
	})
	if err != nil {
		return zero, err
	}
	value, ok := result.(T)
	if !ok {
		return zero, nil
	}
	return value, nil
}
