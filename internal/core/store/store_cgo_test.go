//go:build cgo

package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/quotelens/quotelens/internal/config"
	"github.com/quotelens/quotelens/internal/core"
)

func TestOpenMemoryStore(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{
		Driver: "libsql",
		Path:   ":memory:",
	}

	store, err := Open(ctx, cfg)
	require.NoError(t, err)
	require.NotNil(t, store)
	require.Equal(t, "libsql", store.Driver())
	require.NoError(t, store.Close())
}

func TestLocalStoreUsesWALAndOneConnection(t *testing.T) {
	ctx := context.Background()
	path := "file:" + t.TempDir() + "/quotelens.db"

	server, err := Open(ctx, config.StoreConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = server.Close() })
	require.NoError(t, server.Migrate(ctx))
	require.Equal(t, 1, server.DB.Stats().MaxOpenConnections)

	var journalMode string
	require.NoError(t, server.DB.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&journalMode))
	require.Contains(t, journalMode, "wal")

	var busyTimeout int
	require.NoError(t, server.DB.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&busyTimeout))
	require.GreaterOrEqual(t, busyTimeout, 1000)

	// A second handle, as a one-shot CLI command would open, sees the
	// server's call log.
	cli, err := Open(ctx, config.StoreConfig{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { _ = cli.Close() })

	calls := []time.Time{time.Now().UTC().Add(-10 * time.Second).Truncate(time.Millisecond)}
	require.NoError(t, server.SaveCallLog(ctx, &core.CallLogState{Endpoint: "quotes", Calls: calls, UpdatedAt: time.Now().UTC()}))
	state, err := cli.LoadCallLog(ctx, "quotes")
	require.NoError(t, err)
	require.NotNil(t, state)
	require.Len(t, state.Calls, 1)
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	ctx := context.Background()
	store, err := Open(ctx, config.StoreConfig{Driver: "libsql", Path: "file:" + t.TempDir() + "/quotelens.db"})
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx))
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestWatchlistDuplicateIsConflict(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	first, err := store.AddWatchlistItem(ctx, "u1", "aapl", "core holding")
	require.NoError(t, err)
	require.Equal(t, "AAPL", first.Symbol)

	_, err = store.AddWatchlistItem(ctx, "u1", "AAPL", "again")
	require.ErrorIs(t, err, ErrAlreadyExists)

	items, err := store.ListWatchlist(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, first.ID, items[0].ID)
	require.Equal(t, "core holding", items[0].Notes)

	// Another user may hold the same symbol.
	_, err = store.AddWatchlistItem(ctx, "u2", "AAPL", "")
	require.NoError(t, err)
}

func TestWatchlistRejectsInvalidSymbol(t *testing.T) {
	store := openTestStore(t)
	_, err := store.AddWatchlistItem(context.Background(), "u1", "BRK.B", "")
	require.ErrorIs(t, err, core.ErrInvalidSymbol)
}

func TestWatchlistRemoveAndUpdate(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.AddWatchlistItem(ctx, "u1", "MSFT", "")
	require.NoError(t, err)
	_, err = store.AddWatchlistItem(ctx, "u1", "TSLA", "")
	require.NoError(t, err)

	at := time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpdateWatchlistQuotes(ctx, "u1", []core.Quote{
		{Symbol: "MSFT", Price: decimal.RequireFromString("415.75"), Timestamp: at},
		{Symbol: "NVDA", Price: decimal.RequireFromString("450"), Timestamp: at},
	}))

	items, err := store.ListWatchlist(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, item := range items {
		if item.Symbol == "MSFT" {
			require.NotNil(t, item.LastPrice)
			require.Equal(t, "415.75", item.LastPrice.String())
			require.Equal(t, at, *item.LastQuotedAt)
		} else {
			require.Nil(t, item.LastPrice)
		}
	}

	require.NoError(t, store.RemoveWatchlistItem(ctx, "u1", "tsla"))
	require.ErrorIs(t, store.RemoveWatchlistItem(ctx, "u1", "TSLA"), ErrNotFound)

	symbols, err := store.WatchlistSymbols(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, []string{"MSFT"}, symbols)
}

func TestReportUpsert(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	_, err := store.GetReport(ctx, "u1", "TSLA")
	require.ErrorIs(t, err, ErrNotFound)

	first := &core.Report{UserID: "u1", Symbol: "TSLA", Quote: core.Quote{Symbol: "TSLA", Price: decimal.NewFromInt(240)}, Attempts: 1, GeneratedAt: time.Now()}
	require.NoError(t, store.SaveReport(ctx, first))
	second := &core.Report{UserID: "u1", Symbol: "TSLA", Quote: core.Quote{Symbol: "TSLA", Price: decimal.NewFromInt(250)}, Attempts: 2, GeneratedAt: time.Now()}
	require.NoError(t, store.SaveReport(ctx, second))

	got, err := store.GetReport(ctx, "u1", "TSLA")
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
	require.Equal(t, "250", got.Quote.Price.String())
	require.Equal(t, 2, got.Attempts)
}

func TestCallLogRoundTripAndReset(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	missing, err := store.LoadCallLog(ctx, "quotes:finnhub")
	require.NoError(t, err)
	require.Nil(t, missing)

	calls := []time.Time{
		time.Date(2025, 1, 15, 15, 0, 1, 250_000_000, time.UTC),
		time.Date(2025, 1, 15, 15, 0, 30, 0, time.UTC),
	}
	require.NoError(t, store.SaveCallLog(ctx, &core.CallLogState{Endpoint: "quotes:finnhub", Calls: calls}))
	require.NoError(t, store.SaveCallLog(ctx, &core.CallLogState{Endpoint: "quotes:sim"}))

	loaded, err := store.LoadCallLog(ctx, "quotes:finnhub")
	require.NoError(t, err)
	require.Equal(t, calls, loaded.Calls)

	all, err := store.ListCallLogs(ctx, CallLogQuery{Prefix: "quotes:"})
	require.NoError(t, err)
	require.Len(t, all, 2)

	removed, err := store.ResetCallLogs(ctx, CallLogQuery{Endpoint: "quotes:sim"})
	require.NoError(t, err)
	require.Equal(t, int64(1), removed)
}

func TestMetaRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := openTestStore(t)

	value, err := store.GetMeta(ctx, "schema")
	require.NoError(t, err)
	require.Empty(t, value)

	require.NoError(t, store.SetMeta(ctx, "schema", "1"))
	require.NoError(t, store.SetMeta(ctx, "schema", "2"))
	value, err = store.GetMeta(ctx, "schema")
	require.NoError(t, err)
	require.Equal(t, "2", value)
}
