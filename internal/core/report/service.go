// Package report builds per-symbol reports from a fresh quote and an optional
// AI insight, retrying a failed quote fetch once with the cache bypassed.
package report

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/engine"
	"github.com/quotelens/quotelens/internal/core/quotes"
	"github.com/quotelens/quotelens/internal/metrics"
	"github.com/quotelens/quotelens/internal/observability"
)

// DefaultRetryDelay separates the first attempt from the retry.
const DefaultRetryDelay = 500 * time.Millisecond

// Analyzer produces an insight for a quote.
type Analyzer interface {
	Analyze(ctx context.Context, quote core.Quote) (*core.Insight, error)
}

// Store persists reports.
type Store interface {
	SaveReport(ctx context.Context, report *core.Report) error
	GetReport(ctx context.Context, userID, symbol string) (*core.Report, error)
}

// BreakerControl exposes the provider breaker to the report path.
type BreakerControl interface {
	IsOpen() bool
	Status() quotes.BreakerStatus
	ForceReset()
}

// Options wires a Service.
type Options struct {
	Provider    quotes.Provider
	Coordinator *engine.Coordinator[core.Quote]
	Breaker     BreakerControl
	Analyzer    Analyzer
	Store       Store
	RetryDelay  time.Duration
	Clock       func() time.Time
	Logger      observability.FieldLogger
}

// RefreshOptions modifies a single refresh.
type RefreshOptions struct {
	// Force resets an open breaker and bypasses the quote cache.
	Force  bool
	SkipAI bool
}

// CircuitOpenError carries when the breaker will next allow a call.
type CircuitOpenError struct {
	RetryAt *time.Time
}

func (e *CircuitOpenError) Error() string {
	if e.RetryAt == nil {
		return quotes.ErrCircuitOpen.Error()
	}
	return fmt.Sprintf("%s until %s", quotes.ErrCircuitOpen, e.RetryAt.UTC().Format(time.RFC3339))
}

func (e *CircuitOpenError) Unwrap() error { return quotes.ErrCircuitOpen }

// Service refreshes and stores reports.
type Service struct {
	opts   Options
	logger observability.FieldLogger
}

// NewService creates a Service. Provider and Coordinator are required.
func NewService(opts Options) (*Service, error) {
	if opts.Provider == nil {
		return nil, errors.New("report service requires a quote provider")
	}
	if opts.Coordinator == nil {
		return nil, errors.New("report service requires a coordinator")
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = DefaultRetryDelay
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Service{opts: opts, logger: observability.OrNop(opts.Logger)}, nil
}

// Refresh fetches a quote for symbol, attaches an insight when an analyzer is
// configured, and stores the result for userID.
//
// An open breaker fails fast unless opts.Force is set. A failed fetch is
// retried exactly once after invalidating the cached quote.
func (s *Service) Refresh(ctx context.Context, userID, symbol string, opts RefreshOptions) (*core.Report, error) {
	symbol, err := core.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	key := engine.QuoteKey(symbol)

	if s.opts.Breaker != nil && s.opts.Breaker.IsOpen() {
		if !opts.Force {
			metrics.RecordReportRefresh("circuit_open", 0)
			return nil, &CircuitOpenError{RetryAt: s.opts.Breaker.Status().RetryAt}
		}
		s.logger.Warn("Forcing breaker reset for report refresh",
			zap.String("symbol", symbol),
			zap.String("user_id", userID))
		s.opts.Breaker.ForceReset()
	}
	if opts.Force {
		s.opts.Coordinator.Invalidate(key)
	}

	attempts := 0
	var quote core.Quote
	operation := func() error {
		attempts++
		if attempts > 1 {
			s.opts.Coordinator.Invalidate(key)
			s.logger.Info("Retrying report quote fetch",
				zap.String("symbol", symbol),
				zap.Int("attempt", attempts))
		}
		q, err := s.opts.Coordinator.Do(ctx, key, func(ctx context.Context) (core.Quote, error) {
			got, err := s.opts.Provider.GetQuote(ctx, symbol)
			if err != nil {
				return core.Quote{}, err
			}
			if err := quotes.ValidateQuote(got); err != nil {
				return core.Quote{}, err
			}
			return *got, nil
		})
		if err != nil {
			if ctx.Err() != nil || !retryable(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		quote = q
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(s.opts.RetryDelay), 1), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		metrics.RecordReportRefresh("failed", attempts)
		s.logger.Warn("Report refresh failed",
			zap.String("symbol", symbol),
			zap.Int("attempts", attempts),
			zap.Error(err))
		return nil, err
	}

	report := &core.Report{
		ID:          uuid.NewString(),
		UserID:      userID,
		Symbol:      symbol,
		Quote:       quote,
		Attempts:    attempts,
		Forced:      opts.Force,
		GeneratedAt: s.opts.Clock().UTC(),
	}

	if s.opts.Analyzer != nil && !opts.SkipAI {
		insight, err := s.opts.Analyzer.Analyze(ctx, quote)
		if err != nil {
			report.InsightErr = err.Error()
			s.logger.Warn("Insight unavailable",
				zap.String("symbol", symbol),
				zap.Error(err))
		} else {
			report.Insight = insight
		}
	}

	if s.opts.Store != nil {
		if err := s.opts.Store.SaveReport(ctx, report); err != nil {
			metrics.RecordReportRefresh("persist_failed", attempts)
			return report, fmt.Errorf("save report: %w", err)
		}
	}

	metrics.RecordReportRefresh("ok", attempts)
	return report, nil
}

// Get returns the stored report for (userID, symbol).
func (s *Service) Get(ctx context.Context, userID, symbol string) (*core.Report, error) {
	if s.opts.Store == nil {
		return nil, errors.New("report store is not configured")
	}
	return s.opts.Store.GetReport(ctx, userID, symbol)
}

// RefreshAll refreshes every symbol concurrently. Failures are collected per
// symbol and never abort the others. Reports keep the order of symbols.
func (s *Service) RefreshAll(ctx context.Context, userID string, symbols []string, opts RefreshOptions) ([]core.Report, []core.SymbolError) {
	type outcome struct {
		report *core.Report
		err    error
	}
	results := make([]outcome, len(symbols))

	var wg sync.WaitGroup
	for i, symbol := range symbols {
		wg.Add(1)
		go func(i int, symbol string) {
			defer wg.Done()
			report, err := s.Refresh(ctx, userID, symbol, opts)
			results[i] = outcome{report: report, err: err}
		}(i, symbol)
	}
	wg.Wait()

	reports := []core.Report{}
	var failed []core.SymbolError
	for i, res := range results {
		if res.err != nil {
			failed = append(failed, core.SymbolError{
				Symbol:  symbols[i],
				Code:    ErrorCode(res.err),
				Message: res.err.Error(),
			})
			continue
		}
		reports = append(reports, *res.report)
	}
	return reports, failed
}

// ErrorCode extends quotes.ErrorCode with the engine's request-shaping errors.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, engine.ErrRateLimited):
		return "RATE_LIMITED"
	case errors.Is(err, engine.ErrSuperseded):
		return "SUPERSEDED"
	default:
		return quotes.ErrorCode(err)
	}
}

// retryable reports whether a second attempt could succeed. Local refusals
// and caller errors are final, as is an open breaker.
func retryable(err error) bool {
	switch {
	case errors.Is(err, engine.ErrRateLimited), errors.Is(err, engine.ErrSuperseded), errors.Is(err, engine.ErrCoordinatorStopped):
		return false
	case errors.Is(err, core.ErrInvalidSymbol), errors.Is(err, quotes.ErrSymbolNotFound), errors.Is(err, quotes.ErrInvalidQuote):
		return false
	case errors.Is(err, quotes.ErrCircuitOpen), errors.Is(err, quotes.ErrNotConfigured):
		return false
	default:
		return true
	}
}
