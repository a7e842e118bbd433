package quotes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/metrics"
	"github.com/quotelens/quotelens/internal/observability"
)

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("quote provider circuit open")

// Breaker states as reported by Status.
const (
	StateClosed   = "CLOSED"
	StateHalfOpen = "HALF-OPEN"
	StateOpen     = "OPEN"
)

// BreakerSettings configures the circuit breaker.
type BreakerSettings struct {
	Name             string
	FailureThreshold uint32
	CoolDown         time.Duration
	HalfOpenRequests uint32
	// Interval clears closed-state counts periodically; zero never clears.
	Interval time.Duration
}

// BreakerStatus is a point-in-time view of the breaker.
type BreakerStatus struct {
	Name                string        `json:"name"`
	State               string        `json:"state"`
	Requests            uint32        `json:"requests"`
	TotalFailures       uint32        `json:"total_failures"`
	ConsecutiveFailures uint32        `json:"consecutive_failures"`
	OpenedAt            *time.Time    `json:"opened_at,omitempty"`
	CoolDown            time.Duration `json:"cool_down"`
	RetryAt             *time.Time    `json:"retry_at,omitempty"`
}

// Breaker guards a Provider with a circuit breaker. Once open it rejects
// calls until its cool-down elapses; ForceReset is the explicit override.
type Breaker struct {
	inner    Provider
	settings BreakerSettings
	logger   observability.FieldLogger
	clock    func() time.Time

	mu sync.RWMutex
	cb *gobreaker.CircuitBreaker

	stateMu  sync.Mutex
	openedAt time.Time
}

// NewBreaker wraps inner. Zero settings default to 5 failures, a 60s cool-down, and 1 half-open probe.
func NewBreaker(inner Provider, settings BreakerSettings, logger observability.FieldLogger) *Breaker {
	if settings.Name == "" {
		settings.Name = inner.Name()
	}
	if settings.FailureThreshold == 0 {
		settings.FailureThreshold = 5
	}
	if settings.CoolDown <= 0 {
		settings.CoolDown = 60 * time.Second
	}
	if settings.HalfOpenRequests == 0 {
		settings.HalfOpenRequests = 1
	}
	b := &Breaker{
		inner:    inner,
		settings: settings,
		logger:   observability.OrNop(logger),
	}
	b.cb = b.newCircuitBreaker()
	return b
}

// Name returns the wrapped provider name.
func (b *Breaker) Name() string {
	return b.inner.Name()
}

// IsConfigured reports whether the wrapped provider is configured.
func (b *Breaker) IsConfigured() bool {
	return b.inner.IsConfigured()
}

// Unwrap returns the guarded provider.
func (b *Breaker) Unwrap() Provider {
	return b.inner
}

// GetQuote fetches one quote through the breaker.
func (b *Breaker) GetQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	result, err := b.execute(func() (any, error) {
		return b.inner.GetQuote(ctx, symbol)
	})
	if err != nil {
		return nil, err
	}
	quote, _ := result.(*core.Quote)
	return quote, nil
}

// GetMultipleQuotes fetches quotes through the breaker. A PartialError keeps its quotes.
func (b *Breaker) GetMultipleQuotes(ctx context.Context, symbols []string) ([]core.Quote, error) {
	var partial error
	result, err := b.execute(func() (any, error) {
		quotes, err := b.inner.GetMultipleQuotes(ctx, symbols)
		var pe *PartialError
		if errors.As(err, &pe) {
			partial = err
			return quotes, nil
		}
		return quotes, err
	})
	if err != nil {
		return nil, err
	}
	quotes, _ := result.([]core.Quote)
	return quotes, partial
}

// Status reports the breaker state and counts.
func (b *Breaker) Status() BreakerStatus {
	cb := b.current()
	counts := cb.Counts()
	status := BreakerStatus{
		Name:                b.settings.Name,
		State:               stateName(cb.State()),
		Requests:            counts.Requests,
		TotalFailures:       counts.TotalFailures,
		ConsecutiveFailures: counts.ConsecutiveFailures,
		CoolDown:            b.settings.CoolDown,
	}
	if status.State == StateOpen {
		b.stateMu.Lock()
		openedAt := b.openedAt
		b.stateMu.Unlock()
		if !openedAt.IsZero() {
			retryAt := openedAt.Add(b.settings.CoolDown)
			status.OpenedAt = &openedAt
			status.RetryAt = &retryAt
		}
	}
	return status
}

// IsOpen reports whether calls are currently rejected.
func (b *Breaker) IsOpen() bool {
	return b.current().State() == gobreaker.StateOpen
}

// ForceReset closes the breaker immediately, discarding its counts and cool-down.
func (b *Breaker) ForceReset() {
	b.mu.Lock()
	previous := stateName(b.cb.State())
	b.cb = b.newCircuitBreaker()
	b.mu.Unlock()

	b.stateMu.Lock()
	b.openedAt = time.Time{}
	b.stateMu.Unlock()

	metrics.RecordBreakerReset(b.settings.Name, true)
	b.logger.Warn("Circuit breaker force reset",
		zap.String("breaker", b.settings.Name),
		zap.String("previous_state", previous))
}

func (b *Breaker) execute(fn func() (any, error)) (any, error) {
	result, err := b.current().Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%w: %s: %v", ErrCircuitOpen, b.settings.Name, err)
	}
	return result, err
}

func (b *Breaker) current() *gobreaker.CircuitBreaker {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cb
}

func (b *Breaker) newCircuitBreaker() *gobreaker.CircuitBreaker {
	threshold := b.settings.FailureThreshold
	return gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        b.settings.Name,
		MaxRequests: b.settings.HalfOpenRequests,
		Interval:    b.settings.Interval,
		Timeout:     b.settings.CoolDown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: isHealthy,
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.stateMu.Lock()
			if to == gobreaker.StateOpen {
				b.openedAt = b.now()
			}
			b.stateMu.Unlock()
			metrics.RecordBreakerStateChange(name, stateName(from), stateName(to))
			b.logger.Warn("Circuit breaker state changed",
				zap.String("breaker", name),
				zap.String("from", stateName(from)),
				zap.String("to", stateName(to)))
		},
	})
}

func (b *Breaker) now() time.Time {
	if b.clock != nil {
		return b.clock()
	}
	return time.Now().UTC()
}

// isHealthy treats caller mistakes and missing symbols as healthy upstream responses.
func isHealthy(err error) bool {
	if err == nil {
		return true
	}
	return errors.Is(err, core.ErrInvalidSymbol) ||
		errors.Is(err, ErrSymbolNotFound) ||
		errors.Is(err, context.Canceled)
}

func stateName(state gobreaker.State) string {
	return strings.ToUpper(state.String())
}
