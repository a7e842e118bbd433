// Package watch serves quotes for symbols and user watchlists through the
// shared coordinators, and runs one refresh loop per streaming user.
package watch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/engine"
	"github.com/quotelens/quotelens/internal/core/quotes"
	"github.com/quotelens/quotelens/internal/metrics"
	"github.com/quotelens/quotelens/internal/observability"
)

// ErrEmptyWatchlist is returned when an operation needs at least one symbol.
var ErrEmptyWatchlist = errors.New("watchlist is empty")

// Store is the watchlist persistence used by the service.
type Store interface {
	AddWatchlistItem(ctx context.Context, userID, symbol, notes string) (*core.WatchlistItem, error)
	ListWatchlist(ctx context.Context, userID string) ([]core.WatchlistItem, error)
	WatchlistSymbols(ctx context.Context, userID string) ([]string, error)
	RemoveWatchlistItem(ctx context.Context, userID, symbol string) error
	UpdateWatchlistQuotes(ctx context.Context, userID string, quotes []core.Quote) error
}

// Options wires a Service.
type Options struct {
	Provider quotes.Provider
	// Single serves one symbol per key (quote:SYM).
	Single *engine.Coordinator[core.Quote]
	// Multi serves symbol sets for refresh loops (quotes:A,B).
	Multi    *engine.Coordinator[[]core.Quote]
	Limiter  *engine.RateLimiter
	Schedule engine.SessionSource
	Store    Store
	Logger   observability.FieldLogger
}

// RefreshResult is the outcome of refreshing a whole watchlist.
type RefreshResult struct {
	Quotes      []core.Quote       `json:"quotes"`
	Errors      []core.SymbolError `json:"errors,omitempty"`
	RefreshedAt time.Time          `json:"refreshed_at"`
}

// Service fetches quotes and manages per-user refresh streams.
type Service struct {
	opts   Options
	logger observability.FieldLogger

	mu      sync.Mutex
	streams map[string]*stream
}

type stream struct {
	loop   *engine.RefreshLoop
	latest []core.Quote
	at     time.Time
}

// StreamStatus reports a user's refresh loop and its last quotes.
type StreamStatus struct {
	engine.RefreshStatus
	Quotes    []core.Quote `json:"quotes,omitempty"`
	UpdatedAt *time.Time   `json:"updated_at,omitempty"`
}

func NewService(opts Options) (*Service, error) {
	if opts.Provider == nil {
		return nil, errors.New("watch service requires a quote provider")
	}
	if opts.Single == nil || opts.Multi == nil {
		return nil, errors.New("watch service requires quote coordinators")
	}
	return &Service{
		opts:    opts,
		logger:  observability.OrNop(opts.Logger),
		streams: map[string]*stream{},
	}, nil
}

// Quote returns a quote for symbol, served from cache when fresh.
func (s *Service) Quote(ctx context.Context, symbol string) (*core.Quote, error) {
	symbol, err := core.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	q, err := s.opts.Single.Do(ctx, engine.QuoteKey(symbol), func(ctx context.Context) (core.Quote, error) {
		q, err := s.opts.Provider.GetQuote(ctx, symbol)
		if err != nil {
			return core.Quote{}, err
		}
		return *q, nil
	})
	if err != nil {
		return nil, err
	}
	return &q, nil
}

// Quotes fetches every symbol concurrently. Failures are collected per
// symbol and never abort the rest. Symbols that normalise to the same ticker
// are fetched and reported once, in first-occurrence order.
func (s *Service) Quotes(ctx context.Context, symbols []string) ([]core.Quote, []core.SymbolError) {
	type result struct {
		symbol string
		quote  *core.Quote
		err    error
	}
	// One entry per normalised symbol, so duplicates share a single fetch
	// instead of superseding each other on the same coordinator key.
	var results []*result
	seen := make(map[string]bool, len(symbols))
	var wg sync.WaitGroup
	for _, raw := range symbols {
		symbol, err := core.NormalizeSymbol(raw)
		if err != nil {
			symbol = raw
		}
		if seen[symbol] {
			continue
		}
		seen[symbol] = true

		res := &result{symbol: symbol, err: err}
		results = append(results, res)
		if err != nil {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			res.quote, res.err = s.Quote(ctx, res.symbol)
		}()
	}
	wg.Wait()

	out := make([]core.Quote, 0, len(results))
	var failed []core.SymbolError
	for _, res := range results {
		if res.err != nil {
			s.logger.Warn("Quote fetch failed", zap.String("symbol", res.symbol), zap.Error(res.err))
			failed = append(failed, core.SymbolError{Symbol: res.symbol, Code: ErrorCode(res.err), Message: res.err.Error()})
			continue
		}
		out = append(out, *res.quote)
	}
	return out, failed
}

// Add validates symbol and adds it to userID's watchlist.
func (s *Service) Add(ctx context.Context, userID, symbol, notes string) (*core.WatchlistItem, error) {
	symbol, err := core.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	return s.store().AddWatchlistItem(ctx, userID, symbol, notes)
}

// List returns userID's watchlist.
func (s *Service) List(ctx context.Context, userID string) ([]core.WatchlistItem, error) {
	return s.store().ListWatchlist(ctx, userID)
}

// Remove deletes symbol from userID's watchlist.
func (s *Service) Remove(ctx context.Context, userID, symbol string) error {
	symbol, err := core.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}
	return s.store().RemoveWatchlistItem(ctx, userID, symbol)
}

// Symbols returns the symbols on userID's watchlist.
func (s *Service) Symbols(ctx context.Context, userID string) ([]string, error) {
	return s.store().WatchlistSymbols(ctx, userID)
}

// RefreshWatchlist fetches quotes for every watchlist symbol and persists
// the prices that arrived.
func (s *Service) RefreshWatchlist(ctx context.Context, userID string) (*RefreshResult, error) {
	symbols, err := s.store().WatchlistSymbols(ctx, userID)
	if err != nil {
		return nil, err
	}
	if len(symbols) == 0 {
		return nil, ErrEmptyWatchlist
	}

	got, failed := s.Quotes(ctx, symbols)
	if len(got) > 0 {
		if err := s.store().UpdateWatchlistQuotes(ctx, userID, got); err != nil {
			return nil, fmt.Errorf("persist watchlist quotes: %w", err)
		}
	}
	return &RefreshResult{Quotes: got, Errors: failed, RefreshedAt: time.Now().UTC()}, nil
}

// StartStream starts a refresh loop over userID's watchlist. The loop
// outlives the request context and stops on StopStream or StopAll.
func (s *Service) StartStream(ctx context.Context, userID string, interval time.Duration) (StreamStatus, error) {
	symbols, err := s.store().WatchlistSymbols(ctx, userID)
	if err != nil {
		return StreamStatus{}, err
	}
	if len(symbols) == 0 {
		return StreamStatus{}, ErrEmptyWatchlist
	}

	s.mu.Lock()
	st, ok := s.streams[userID]
	if !ok {
		st = &stream{}
		st.loop = engine.NewRefreshLoop(engine.RefreshOptions{
			Name:        "watchlist:" + userID,
			Schedule:    s.opts.Schedule,
			Limiter:     s.opts.Limiter,
			Coordinator: s.opts.Multi,
			Fetch:       s.fetchForLoop,
			OnUpdate: func(quotes []core.Quote) {
				s.mu.Lock()
				defer s.mu.Unlock()
				st.latest = quotes
				st.at = time.Now().UTC()
			},
			Persist: func(ctx context.Context, quotes []core.Quote) error {
				return s.store().UpdateWatchlistQuotes(ctx, userID, quotes)
			},
			FireImmediately: true,
			Logger:          s.logger,
		})
		s.streams[userID] = st
	}
	s.mu.Unlock()

	if err := st.loop.Start(context.WithoutCancel(ctx), symbols, interval); err != nil {
		return s.StreamStatus(userID), err
	}
	s.reportActiveStreams()
	s.logger.Info("Watchlist stream started",
		zap.String("user_id", userID),
		zap.Int("symbols", len(symbols)),
		zap.Duration("interval", interval))
	return s.StreamStatus(userID), nil
}

// StopStream stops userID's refresh loop. It reports whether one was running.
func (s *Service) StopStream(userID string) bool {
	s.mu.Lock()
	st, ok := s.streams[userID]
	s.mu.Unlock()
	if !ok || !st.loop.Running() {
		return false
	}
	st.loop.Stop()
	s.reportActiveStreams()
	s.logger.Info("Watchlist stream stopped", zap.String("user_id", userID))
	return true
}

// StreamStatus returns userID's loop status and last quotes.
func (s *Service) StreamStatus(userID string) StreamStatus {
	s.mu.Lock()
	st, ok := s.streams[userID]
	if !ok {
		s.mu.Unlock()
		return StreamStatus{RefreshStatus: engine.RefreshStatus{Name: "watchlist:" + userID}}
	}
	status := StreamStatus{Quotes: append([]core.Quote(nil), st.latest...)}
	if !st.at.IsZero() {
		at := st.at
		status.UpdatedAt = &at
	}
	s.mu.Unlock()

	status.RefreshStatus = st.loop.Status()
	return status
}

// StopAll stops every running loop.
func (s *Service) StopAll() {
	s.mu.Lock()
	loops := make([]*engine.RefreshLoop, 0, len(s.streams))
	for _, st := range s.streams {
		loops = append(loops, st.loop)
	}
	s.mu.Unlock()

	for _, loop := range loops {
		loop.Stop()
	}
	s.reportActiveStreams()
}

func (s *Service) reportActiveStreams() {
	s.mu.Lock()
	running := 0
	for _, st := range s.streams {
		if st.loop.Running() {
			running++
		}
	}
	s.mu.Unlock()
	metrics.SetActiveStreams(running)
}

// fetchForLoop keeps the quotes that arrived when only some symbols fail,
// so one bad symbol does not stall the whole stream.
func (s *Service) fetchForLoop(ctx context.Context, symbols []string) ([]core.Quote, error) {
	got, err := s.opts.Provider.GetMultipleQuotes(ctx, symbols)
	var partial *quotes.PartialError
	if errors.As(err, &partial) && len(got) > 0 {
		for _, failed := range partial.Failed {
			s.logger.Warn("Stream symbol failed",
				zap.String("symbol", failed.Symbol),
				zap.String("code", failed.Code),
				zap.String("error", failed.Message))
		}
		return got, nil
	}
	return got, err
}

func (s *Service) store() Store {
	if s.opts.Store == nil {
		return unavailableStore{}
	}
	return s.opts.Store
}

// ErrorCode classifies quote-path errors for per-symbol reporting.
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

// ErrNoStore is returned by watchlist operations when persistence is not configured.
var ErrNoStore = errors.New("watchlist store not configured")

type unavailableStore struct{}

func (unavailableStore) AddWatchlistItem(context.Context, string, string, string) (*core.WatchlistItem, error) {
	return nil, ErrNoStore
}

func (unavailableStore) ListWatchlist(context.Context, string) ([]core.WatchlistItem, error) {
	return nil, ErrNoStore
}

func (unavailableStore) WatchlistSymbols(context.Context, string) ([]string, error) {
	return nil, ErrNoStore
}

func (unavailableStore) RemoveWatchlistItem(context.Context, string, string) error {
	return ErrNoStore
}

func (unavailableStore) UpdateWatchlistQuotes(context.Context, string, []core.Quote) error {
	return ErrNoStore
}
