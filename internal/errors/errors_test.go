package errors

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatusFromCode(t *testing.T) {
	cases := map[string]int{
		CodeValidation:         http.StatusBadRequest,
		CodeNotFound:           http.StatusNotFound,
		CodeConflict:           http.StatusConflict,
		CodeSuperseded:         http.StatusConflict,
		CodeRateLimited:        http.StatusTooManyRequests,
		CodeUpstream:           http.StatusBadGateway,
		CodeServiceUnavailable: http.StatusServiceUnavailable,
		CodeTimeout:            http.StatusGatewayTimeout,
		"SOMETHING_ELSE":       http.StatusInternalServerError,
	}
	for code, want := range cases {
		assert.Equal(t, want, HTTPStatusFromCode(code), code)
	}
}

func TestRateLimitedCarriesRetryAfter(t *testing.T) {
	env := WrapRateLimited(context.Background(), stderrors.New("limit"), "rate limit exceeded", 1500*time.Millisecond)
	require.Equal(t, CodeRateLimited, env.Code)
	details := ResponseDetails(env)
	require.Equal(t, 2, details["retry_after_seconds"])
	require.Equal(t, "limit", details["wrapped_error"])

	bare := WrapRateLimited(context.Background(), nil, "slow down", 0)
	assert.NotContains(t, ResponseDetails(bare), "retry_after_seconds")
}

func TestRespondWithEnvelopeWritesBody(t *testing.T) {
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/quotes/AAPL", nil)

	RespondWithEnvelope(rec, req, WrapConflict(req.Context(), nil, "symbol already in watchlist"))

	require.Equal(t, http.StatusConflict, rec.Code)
	var body HTTPErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeConflict, body.Error.Code)
	assert.Equal(t, "symbol already in watchlist", body.Error.Message)
	assert.NotEmpty(t, body.Error.RequestID)
}

func TestEnsureEnvelopeWrapsPlainErrors(t *testing.T) {
	env := EnsureEnvelope(stderrors.New("boom"))
	require.Equal(t, CodeInternal, env.Code)
	require.Equal(t, http.StatusInternalServerError, HTTPStatusFromEnvelope(env))
}
