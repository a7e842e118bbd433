package watch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/engine"
	"github.com/quotelens/quotelens/internal/core/quotes"
	"github.com/quotelens/quotelens/internal/core/quotes/sim"
)

type memoryStore struct {
	mu      sync.Mutex
	items   map[string][]string
	updates int
}

func newMemoryStore(symbols ...string) *memoryStore {
	return &memoryStore{items: map[string][]string{"u1": symbols}}
}

func (m *memoryStore) AddWatchlistItem(ctx context.Context, userID, symbol, notes string) (*core.WatchlistItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.items[userID] {
		if s == symbol {
			return nil, errors.New("already exists")
		}
	}
	m.items[userID] = append(m.items[userID], symbol)
	return &core.WatchlistItem{UserID: userID, Symbol: symbol, Notes: notes}, nil
}

func (m *memoryStore) ListWatchlist(ctx context.Context, userID string) ([]core.WatchlistItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []core.WatchlistItem
	for _, s := range m.items[userID] {
		out = append(out, core.WatchlistItem{UserID: userID, Symbol: s})
	}
	return out, nil
}

func (m *memoryStore) WatchlistSymbols(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.items[userID]...), nil
}

func (m *memoryStore) RemoveWatchlistItem(ctx context.Context, userID, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[userID] = nil
	return nil
}

func (m *memoryStore) UpdateWatchlistQuotes(ctx context.Context, userID string, quotes []core.Quote) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
	return nil
}

func (m *memoryStore) updateCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updates
}

type countingProvider struct {
	quotes.Provider
	mu    sync.Mutex
	calls map[string]int
}

func (c *countingProvider) GetQuote(ctx context.Context, symbol string) (*core.Quote, error) {
	c.mu.Lock()
	c.calls[symbol]++
	c.mu.Unlock()
	if symbol == "ZZZZ" {
		return nil, quotes.ErrSymbolNotFound
	}
	return c.Provider.GetQuote(ctx, symbol)
}

func (c *countingProvider) GetMultipleQuotes(ctx context.Context, symbols []string) ([]core.Quote, error) {
	return quotes.FetchEach(ctx, symbols, c.GetQuote)
}

func newTestService(t *testing.T, store Store, limit int) (*Service, *countingProvider) {
	t.Helper()
	provider := &countingProvider{Provider: sim.New(nil), calls: map[string]int{}}
	limiter := engine.NewRateLimiter(limit, nil)
	single := engine.NewCoordinator(engine.CoordinatorOptions[core.Quote]{
		Name: "quote", Cache: engine.NewTTLCache[core.Quote](time.Minute, nil), Limiter: limiter,
	})
	multi := engine.NewCoordinator(engine.CoordinatorOptions[[]core.Quote]{
		Name: "quotes", Cache: engine.NewTTLCache[[]core.Quote](time.Minute, nil), Limiter: limiter,
	})
	t.Cleanup(single.Stop)
	t.Cleanup(multi.Stop)

	svc, err := NewService(Options{Provider: provider, Single: single, Multi: multi, Limiter: limiter, Store: store, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(svc.StopAll)
	return svc, provider
}

func TestQuoteUsesCache(t *testing.T) {
	svc, provider := newTestService(t, nil, 10)

	first, err := svc.Quote(context.Background(), "aapl")
	require.NoError(t, err)
	second, err := svc.Quote(context.Background(), "AAPL")
	require.NoError(t, err)

	require.Equal(t, first.Price.String(), second.Price.String())
	require.Equal(t, 1, provider.calls["AAPL"])
}

func TestQuoteRejectsInvalidSymbolWithoutCall(t *testing.T) {
	svc, provider := newTestService(t, nil, 10)
	_, err := svc.Quote(context.Background(), "BRK.B")
	require.ErrorIs(t, err, core.ErrInvalidSymbol)
	require.Empty(t, provider.calls)
}

func TestQuotesCollectsPerSymbolErrors(t *testing.T) {
	svc, _ := newTestService(t, nil, 10)

	got, failed := svc.Quotes(context.Background(), []string{"AAPL", "ZZZZ", "bad!", "MSFT"})
	require.Len(t, got, 2)
	require.Equal(t, "AAPL", got[0].Symbol)
	require.Equal(t, "MSFT", got[1].Symbol)
	require.Len(t, failed, 2)
	require.Equal(t, "NOT_FOUND", failed[0].Code)
	require.Equal(t, "VALIDATION_ERROR", failed[1].Code)
}

func TestQuotesRateLimitedPerSymbol(t *testing.T) {
	svc, _ := newTestService(t, nil, 1)

	got, failed := svc.Quotes(context.Background(), []string{"AAPL", "MSFT"})
	require.Len(t, got, 1)
	require.Len(t, failed, 1)
	require.Equal(t, "RATE_LIMITED", failed[0].Code)
}

func TestQuotesDeduplicatesNormalisedSymbols(t *testing.T) {
	provider := &countingProvider{Provider: sim.New(nil), calls: map[string]int{}}
	limiter := engine.NewRateLimiter(10, nil)
	single := engine.NewCoordinator(engine.CoordinatorOptions[core.Quote]{
		Name: "quote", Delay: 50 * time.Millisecond,
		Cache: engine.NewTTLCache[core.Quote](time.Minute, nil), Limiter: limiter,
	})
	multi := engine.NewCoordinator(engine.CoordinatorOptions[[]core.Quote]{
		Name: "quotes", Cache: engine.NewTTLCache[[]core.Quote](time.Minute, nil), Limiter: limiter,
	})
	t.Cleanup(single.Stop)
	t.Cleanup(multi.Stop)
	svc, err := NewService(Options{Provider: provider, Single: single, Multi: multi, Limiter: limiter, Logger: zap.NewNop()})
	require.NoError(t, err)
	t.Cleanup(svc.StopAll)

	got, failed := svc.Quotes(context.Background(), []string{"AAPL", "aapl", " MSFT", "MSFT"})
	require.Empty(t, failed)
	require.Len(t, got, 2)
	require.Equal(t, "AAPL", got[0].Symbol)
	require.Equal(t, "MSFT", got[1].Symbol)
	require.Equal(t, 1, provider.calls["AAPL"])
	require.Equal(t, 1, provider.calls["MSFT"])
	require.Equal(t, 8, limiter.RemainingCalls())
}

func TestRefreshWatchlistPersists(t *testing.T) {
	store := newMemoryStore("AAPL", "TSLA")
	svc, _ := newTestService(t, store, 10)

	result, err := svc.RefreshWatchlist(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, result.Quotes, 2)
	require.Empty(t, result.Errors)
	require.Equal(t, 1, store.updateCount())

	_, err = svc.RefreshWatchlist(context.Background(), "nobody")
	require.ErrorIs(t, err, ErrEmptyWatchlist)
}

func TestWatchlistOperationsWithoutStore(t *testing.T) {
	svc, _ := newTestService(t, nil, 10)
	_, err := svc.List(context.Background(), "u1")
	require.ErrorIs(t, err, ErrNoStore)
	_, err = svc.Add(context.Background(), "u1", "bad symbol", "")
	require.ErrorIs(t, err, core.ErrInvalidSymbol)
}

func TestStreamLifecycle(t *testing.T) {
	store := newMemoryStore("AAPL", "ZZZZ")
	svc, _ := newTestService(t, store, 10)

	status, err := svc.StartStream(context.Background(), "u1", time.Hour)
	require.NoError(t, err)
	require.True(t, status.Running)
	require.Equal(t, []string{"AAPL", "ZZZZ"}, status.Symbols)

	_, err = svc.StartStream(context.Background(), "u1", time.Hour)
	require.ErrorIs(t, err, engine.ErrRefreshRunning)

	require.Eventually(t, func() bool {
		return len(svc.StreamStatus("u1").Quotes) == 1
	}, 2*time.Second, 10*time.Millisecond)
	require.Equal(t, "AAPL", svc.StreamStatus("u1").Quotes[0].Symbol)
	require.GreaterOrEqual(t, store.updateCount(), 1)

	require.True(t, svc.StopStream("u1"))
	require.False(t, svc.StreamStatus("u1").Running)
	require.False(t, svc.StopStream("u1"))
}

func TestStartStreamNeedsSymbols(t *testing.T) {
	svc, _ := newTestService(t, newMemoryStore(), 10)
	_, err := svc.StartStream(context.Background(), "u1", time.Minute)
	require.ErrorIs(t, err, ErrEmptyWatchlist)
}
