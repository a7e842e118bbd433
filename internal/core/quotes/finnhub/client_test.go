package finnhub

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/quotes"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client := NewClient(server.URL, "test-key", 60000)
	client.HTTPClient = server.Client()
	return client
}

func TestClientRequiresAPIKey(t *testing.T) {
	client := NewClient("", "", 0)
	require.False(t, client.IsConfigured())

	_, err := client.GetQuote(context.Background(), "AAPL")
	require.ErrorIs(t, err, quotes.ErrNotConfigured)
}

func TestClientRejectsInvalidSymbolBeforeRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("unexpected request to %s", r.URL.Path)
	})

	_, err := client.GetQuote(context.Background(), "BRK.B")
	require.ErrorIs(t, err, core.ErrInvalidSymbol)
}

func TestClientParsesQuote(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/quote", r.URL.Path)
		require.Equal(t, "AAPL", r.URL.Query().Get("symbol"))
		require.Equal(t, "test-key", r.Header.Get("X-Finnhub-Token"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"c":189.25,"d":1.5,"dp":0.8,"h":190.1,"l":187.2,"o":188,"pc":187.75,"t":1736953200}`))
	})

	quote, err := client.GetQuote(context.Background(), "aapl")
	require.NoError(t, err)
	require.Equal(t, "AAPL", quote.Symbol)
	require.Equal(t, "189.25", quote.Price.String())
	require.Equal(t, "187.75", quote.PreviousClose.String())
	require.Equal(t, "finnhub", quote.Source)
	require.Equal(t, time.Unix(1736953200, 0).UTC(), quote.Timestamp)
}

func TestClientUnknownSymbol(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"c":0,"d":null,"dp":null,"h":0,"l":0,"o":0,"pc":0,"t":0}`))
	})

	_, err := client.GetQuote(context.Background(), "ZZZZ")
	require.ErrorIs(t, err, quotes.ErrSymbolNotFound)
}

func TestClientErrorsOnNon2xx(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"API limit reached"}`))
	})

	_, err := client.GetQuote(context.Background(), "AAPL")
	var upstream *quotes.UpstreamError
	require.True(t, errors.As(err, &upstream))
	require.Equal(t, http.StatusTooManyRequests, upstream.StatusCode)
	require.Equal(t, "RATE_LIMITED", quotes.ErrorCode(err))
}

func TestClientMultipleQuotesPartialFailure(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("symbol") == "BAD" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(`{"c":10,"d":0,"dp":0,"h":10,"l":10,"o":10,"pc":10,"t":1736953200}`))
	})

	got, err := client.GetMultipleQuotes(context.Background(), []string{"AAPL", "BAD", "MSFT"})
	require.Len(t, got, 2)
	var partial *quotes.PartialError
	require.True(t, errors.As(err, &partial))
	require.Len(t, partial.Failed, 1)
	require.Equal(t, "BAD", partial.Failed[0].Symbol)
	require.Equal(t, "UPSTREAM_ERROR", partial.Failed[0].Code)
}

func TestClientHistoricalData(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/stock/candle", r.URL.Path)
		require.Equal(t, "D", r.URL.Query().Get("resolution"))
		_, _ = w.Write([]byte(`{"c":[10,11],"h":[12,13],"l":[9,10],"o":[9.5,10.5],"t":[1736899200,1736985600],"v":[1000,2000],"s":"ok"}`))
	})

	from := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	candles, err := client.GetHistoricalData(context.Background(), "AAPL", from, from.AddDate(0, 1, 0), "")
	require.NoError(t, err)
	require.Len(t, candles, 2)
	require.Equal(t, "11", candles[1].Close.String())
	require.Equal(t, int64(2000), candles[1].Volume)

	historical, ok := quotes.AsHistoricalProvider(client)
	require.True(t, ok)
	require.NotNil(t, historical)
	_, ok = quotes.AsOptionsChainProvider(client)
	require.False(t, ok)
}
