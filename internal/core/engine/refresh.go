package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/metrics"
	"github.com/quotelens/quotelens/internal/observability"
)

// ErrRefreshRunning is returned by Start when the loop is already running.
var ErrRefreshRunning = errors.New("refresh loop already running")

// SessionSource reports the current market session.
type SessionSource interface {
	Session() core.MarketSession
}

// RefreshOutcome describes what one tick did.
type RefreshOutcome string

const (
	RefreshUpdated       RefreshOutcome = "updated"
	RefreshSkippedClosed RefreshOutcome = "skipped_closed"
	RefreshSkippedLimit  RefreshOutcome = "skipped_rate_limited"
	RefreshFailed        RefreshOutcome = "failed"
	RefreshPersistFailed RefreshOutcome = "persist_failed"
)

// RefreshOptions wires a RefreshLoop to its collaborators.
type RefreshOptions struct {
	Name        string
	Schedule    SessionSource
	Limiter     *RateLimiter
	Coordinator *Coordinator[[]core.Quote]
	Fetch       func(ctx context.Context, symbols []string) ([]core.Quote, error)
	OnUpdate    func(quotes []core.Quote)
	Persist     func(ctx context.Context, quotes []core.Quote) error
	// FireImmediately runs one tick on Start instead of waiting a full interval.
	FireImmediately bool
	Logger          observability.FieldLogger
}

// RefreshStatus is a point-in-time view of the loop.
type RefreshStatus struct {
	Name        string         `json:"name"`
	Running     bool           `json:"running"`
	Symbols     []string       `json:"symbols,omitempty"`
	Interval    time.Duration  `json:"interval"`
	Ticks       int            `json:"ticks"`
	LastTick    *time.Time     `json:"last_tick,omitempty"`
	LastOutcome RefreshOutcome `json:"last_outcome,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
}

// RefreshLoop polls quotes on an interval while the market is not closed.
// Tick errors are logged and never stop the loop.
type RefreshLoop struct {
	opts   RefreshOptions
	logger observability.FieldLogger

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	symbols  []string
	interval time.Duration
	status   RefreshStatus
}

// NewRefreshLoop creates a stopped loop.
func NewRefreshLoop(opts RefreshOptions) *RefreshLoop {
	if opts.Name == "" {
		opts.Name = "watchlist"
	}
	return &RefreshLoop{
		opts:   opts,
		logger: observability.OrNop(opts.Logger),
		status: RefreshStatus{Name: opts.Name},
	}
}

// Start begins polling symbols every interval until Stop or ctx ends.
func (l *RefreshLoop) Start(ctx context.Context, symbols []string, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("refresh interval must be positive, got %s", interval)
	}
	if len(symbols) == 0 {
		return errors.New("refresh requires at least one symbol")
	}
	if l.opts.Fetch == nil || l.opts.Coordinator == nil {
		return errors.New("refresh loop requires a coordinator and fetch function")
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.cancel != nil {
		return ErrRefreshRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	l.cancel = cancel
	l.done = make(chan struct{})
	l.symbols = normalizeSymbols(symbols)
	l.interval = interval
	l.status.Running = true
	l.status.Symbols = append([]string(nil), l.symbols...)
	l.status.Interval = interval

	go l.run(loopCtx, l.done)

	l.logger.Info("Refresh loop started",
		zap.String("loop", l.opts.Name),
		zap.Strings("symbols", l.symbols),
		zap.Duration("interval", interval))
	return nil
}

// Stop halts the loop and waits for an in-progress tick to return.
func (l *RefreshLoop) Stop() {
	l.mu.Lock()
	cancel, done := l.cancel, l.done
	l.cancel = nil
	l.done = nil
	l.status.Running = false
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
	l.logger.Info("Refresh loop stopped", zap.String("loop", l.opts.Name))
}

// Running reports whether the loop is active.
func (l *RefreshLoop) Running() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.cancel != nil
}

// Status returns a copy of the loop status.
func (l *RefreshLoop) Status() RefreshStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	status := l.status
	status.Symbols = append([]string(nil), l.status.Symbols...)
	return status
}

// Tick runs one refresh cycle for symbols.
func (l *RefreshLoop) Tick(ctx context.Context, symbols []string) RefreshOutcome {
	outcome, err := l.tick(ctx, normalizeSymbols(symbols))
	metrics.RecordRefreshTick(string(outcome))

	now := time.Now().UTC()
	l.mu.Lock()
	l.status.Ticks++
	l.status.LastTick = &now
	l.status.LastOutcome = outcome
	l.status.LastError = ""
	if err != nil {
		l.status.LastError = err.Error()
	}
	l.mu.Unlock()
	return outcome
}

func (l *RefreshLoop) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	l.mu.Lock()
	symbols, interval := l.symbols, l.interval
	l.mu.Unlock()

	if l.opts.FireImmediately {
		l.Tick(ctx, symbols)
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.Tick(ctx, symbols)
		}
	}
}

func (l *RefreshLoop) tick(ctx context.Context, symbols []string) (RefreshOutcome, error) {
	if l.opts.Schedule != nil {
		session := l.opts.Schedule.Session()
		if session.Status == core.SessionClosed {
			l.logger.Debug("Refresh skipped, market closed", zap.String("loop", l.opts.Name))
			return RefreshSkippedClosed, nil
		}
	}
	if !l.opts.Limiter.CanMakeCall() {
		l.logger.Debug("Refresh skipped, rate limit reached",
			zap.String("loop", l.opts.Name),
			zap.Int("remaining", l.opts.Limiter.RemainingCalls()))
		return RefreshSkippedLimit, nil
	}

	key := QuotesKey(symbols)
	quotes, err := l.opts.Coordinator.Do(ctx, key, func(callCtx context.Context) ([]core.Quote, error) {
		return l.opts.Fetch(callCtx, symbols)
	})
	if err != nil {
		if errors.Is(err, ErrRateLimited) {
			return RefreshSkippedLimit, err
		}
		l.logger.Warn("Refresh tick failed",
			zap.String("loop", l.opts.Name),
			zap.String("key", key),
			zap.Error(err))
		return RefreshFailed, err
	}

	if l.opts.OnUpdate != nil {
		l.opts.OnUpdate(quotes)
	}
	if l.opts.Persist != nil {
		if err := l.opts.Persist(ctx, quotes); err != nil {
			l.logger.Warn("Refresh persist failed",
				zap.String("loop", l.opts.Name),
				zap.Int("quotes", len(quotes)),
				zap.Error(err))
			return RefreshPersistFailed, err
		}
	}
	return RefreshUpdated, nil
}

// QuotesKey is the coordinator key for a set of symbols.
func QuotesKey(symbols []string) string {
	return "quotes:" + strings.Join(normalizeSymbols(symbols), ",")
}

// QuoteKey is the coordinator key for one symbol.
func QuoteKey(symbol string) string {
	return "quote:" + strings.ToUpper(strings.TrimSpace(symbol))
}

func normalizeSymbols(symbols []string) []string {
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		symbol = strings.ToUpper(strings.TrimSpace(symbol))
		if symbol == "" {
			continue
		}
		if _, ok := seen[symbol]; ok {
			continue
		}
		seen[symbol] = struct{}{}
		out = append(out, symbol)
	}
	sort.Strings(out)
	return out
}
