package handlers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/quotelens/quotelens/internal/ailink"
	"github.com/quotelens/quotelens/internal/chat"
	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/engine"
	"github.com/quotelens/quotelens/internal/core/quotes"
	"github.com/quotelens/quotelens/internal/core/report"
	"github.com/quotelens/quotelens/internal/core/store"
	"github.com/quotelens/quotelens/internal/core/watch"
	apperrors "github.com/quotelens/quotelens/internal/errors"
)

func TestDomainStatus(t *testing.T) {
	ctx := context.Background()
	cases := []struct {
		err    error
		status int
	}{
		{&engine.RateLimitError{RetryAfter: time.Second}, http.StatusTooManyRequests},
		{engine.ErrSuperseded, http.StatusConflict},
		{engine.ErrRefreshRunning, http.StatusConflict},
		{fmt.Errorf("add: %w", store.ErrAlreadyExists), http.StatusConflict},
		{store.ErrNotFound, http.StatusNotFound},
		{quotes.ErrSymbolNotFound, http.StatusNotFound},
		{fmt.Errorf("%w: bad", core.ErrInvalidSymbol), http.StatusBadRequest},
		{fmt.Errorf("%w: empty", chat.ErrInvalidMessage), http.StatusBadRequest},
		{watch.ErrEmptyWatchlist, http.StatusBadRequest},
		{&report.CircuitOpenError{}, http.StatusServiceUnavailable},
		{quotes.ErrNotConfigured, http.StatusServiceUnavailable},
		{&quotes.UpstreamError{Provider: "finnhub", StatusCode: 500}, http.StatusBadGateway},
		{&ailink.Error{Code: ailink.CodeProviderTimeout}, http.StatusGatewayTimeout},
		{&ailink.Error{Code: ailink.CodeNotConfigured}, http.StatusServiceUnavailable},
		{&ailink.Error{Code: ailink.CodeProviderAuth}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.err.Error(), func(t *testing.T) {
			require.Equal(t, tc.status, DomainStatus(ctx, tc.err))
		})
	}
}

func TestDomainEnvelopeCarriesRetryAfter(t *testing.T) {
	env := DomainEnvelope(context.Background(), fmt.Errorf("quote: %w", &engine.RateLimitError{RetryAfter: 1500 * time.Millisecond}))
	require.Equal(t, apperrors.CodeRateLimited, env.Code)
	require.Equal(t, 2, env.Details["retry_after_seconds"])
}

func TestDomainEnvelopeMapsStoreConnectionFailures(t *testing.T) {
	env := DomainEnvelope(context.Background(), fmt.Errorf("list watchlist: %w", sql.ErrConnDone))
	require.Equal(t, apperrors.CodeDatabase, env.Code)
	require.Equal(t, http.StatusInternalServerError, apperrors.HTTPStatusFromEnvelope(env))
}

func TestDomainEnvelopePassesEnvelopesThrough(t *testing.T) {
	original := apperrors.NewServiceUnavailableError("taken")
	require.Same(t, original, DomainEnvelope(context.Background(), original))
}
