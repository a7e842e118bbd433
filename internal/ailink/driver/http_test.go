package driver

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPostJSONDecodesCompletion(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"model":"m","choices":[{"message":{"content":"AAPL looks steady"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	var out ChatCompletion
	require.NoError(t, PostJSON(context.Background(), srv.Client(), "openai", srv.URL, "k", "m", map[string]string{"q": "x"}, &out))
	resp, err := out.ToResponse()
	require.NoError(t, err)
	require.Equal(t, "AAPL looks steady", resp.Text)
}

func TestPostJSONRateLimitCarriesRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":"slow down"}`))
	}))
	defer srv.Close()

	err := PostJSON(context.Background(), srv.Client(), "xai", srv.URL, "k", "m", struct{}{}, &ChatCompletion{})
	var perr *ProviderError
	require.True(t, errors.As(err, &perr))
	require.Equal(t, http.StatusTooManyRequests, perr.StatusCode)
	require.Equal(t, 7*time.Second, perr.RetryAfter)
	require.True(t, perr.Retryable())
}

func TestRetryAfterIgnoresDates(t *testing.T) {
	require.Zero(t, retryAfter("Wed, 21 Oct 2026 07:28:00 GMT"))
	require.Zero(t, retryAfter(""))
	require.Equal(t, 2*time.Second, retryAfter(" 2 "))
}
