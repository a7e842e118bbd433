package ailink

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/quotelens/quotelens/internal/ailink/driver"
)

func TestMapProviderErrorStatusCodes(t *testing.T) {
	cases := []struct {
		name       string
		statusCode int
		wantCode   string
		temporary  bool
	}{
		{"auth", 401, CodeProviderAuth, false},
		{"forbidden", 403, CodeProviderAuth, false},
		{"rate", 429, CodeProviderRateLimit, true},
		{"bad", 400, CodeProviderBadRequest, false},
		{"unavail", 503, CodeProviderUnavailable, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := &driver.ProviderError{Provider: "openai", StatusCode: tc.statusCode, Message: "boom"}
			mapped := mapProviderError("main", err)
			require.NotNil(t, mapped)
			require.Equal(t, tc.wantCode, mapped.Code)
			require.Equal(t, tc.temporary, mapped.Temporary())
			require.Equal(t, "main", mapped.Provider)
			require.ErrorIs(t, mapped, err)
		})
	}
}

func TestMapProviderErrorSpecialCases(t *testing.T) {
	require.Nil(t, mapProviderError("x", nil))
	require.Equal(t, CodeProviderTimeout, mapProviderError("x", fmt.Errorf("call: %w", context.DeadlineExceeded)).Code)
	require.Equal(t, CodeNotConfigured, mapProviderError("x", driver.ErrNotConfigured).Code)
	require.Equal(t, CodeProviderError, mapProviderError("x", errors.New("dial tcp")).Code)

	existing := &Error{Code: CodeInvalidResponse}
	require.Same(t, existing, mapProviderError("x", fmt.Errorf("wrap: %w", existing)))
}

func TestShouldFallback(t *testing.T) {
	require.True(t, shouldFallback(&driver.ProviderError{StatusCode: 429}))
	require.True(t, shouldFallback(&driver.ProviderError{StatusCode: 502}))
	require.False(t, shouldFallback(&driver.ProviderError{StatusCode: 400}))
	require.True(t, shouldFallback(context.DeadlineExceeded))
	require.False(t, shouldFallback(context.Canceled))
	require.True(t, shouldFallback(fmt.Errorf("x: %w", driver.ErrNotConfigured)))
	require.False(t, shouldFallback(errors.New("other")))
	require.False(t, shouldFallback(nil))
}
