package ailink

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/ailink/driver"
)

func userMessage(text string) driver.Request {
	return driver.Request{Messages: []driver.Message{{Role: "user", Content: text}}}
}

func TestRouterFallsBackOnRetryableStatus(t *testing.T) {
	primary := newFakeProvider(t, func(map[string]any) (int, string) {
		return http.StatusServiceUnavailable, "overloaded"
	})
	backup := newFakeProvider(t, func(map[string]any) (int, string) {
		return http.StatusOK, "from backup"
	})

	router := NewRouter(NewRegistry(Config{
		Providers: map[string]ProviderInstanceConfig{
			"primary": primary.config("xai"),
			"backup":  backup.config("openai"),
		},
		Routing:   map[string]string{"chat": "primary"},
		Fallbacks: map[string][]string{"chat": {"backup"}},
	}), zap.NewNop())

	completion, err := router.Complete(context.Background(), "chat", userMessage("hi"))
	require.NoError(t, err)
	require.Equal(t, "backup", completion.ProviderID)
	require.Equal(t, "from backup", completion.Text)
	require.Equal(t, "openai-model", backup.lastRequest()["model"])
	require.Equal(t, int32(1), primary.calls.Load())
}

func TestRouterStopsOnNonRetryableStatus(t *testing.T) {
	primary := newFakeProvider(t, func(map[string]any) (int, string) {
		return http.StatusUnauthorized, "bad key"
	})
	backup := newFakeProvider(t, func(map[string]any) (int, string) {
		return http.StatusOK, "unused"
	})

	router := NewRouter(NewRegistry(Config{
		Providers: map[string]ProviderInstanceConfig{
			"primary": primary.config("openai"),
			"backup":  backup.config("openai"),
		},
		Routing:   map[string]string{"chat": "primary"},
		Fallbacks: map[string][]string{"chat": {"backup"}},
	}), zap.NewNop())

	_, err := router.Complete(context.Background(), "chat", userMessage("hi"))
	var aiErr *Error
	require.True(t, errors.As(err, &aiErr))
	require.Equal(t, CodeProviderAuth, aiErr.Code)
	require.Equal(t, "primary", aiErr.Provider)
	require.Equal(t, int32(0), backup.calls.Load())
}

func TestRouterSkipsUnconfiguredCredential(t *testing.T) {
	backup := newFakeProvider(t, func(map[string]any) (int, string) {
		return http.StatusOK, "ok"
	})
	keyless := provider("xai")
	keyless.Credentials = []CredentialConfig{{Enabled: true, Label: "main"}}

	router := NewRouter(NewRegistry(Config{
		DefaultProvider: "backup",
		Providers: map[string]ProviderInstanceConfig{
			"keyless": keyless,
			"backup":  backup.config("openai"),
		},
		Routing: map[string]string{"insight": "keyless"},
	}), zap.NewNop())

	completion, err := router.Complete(context.Background(), "insight", userMessage("hi"))
	require.NoError(t, err)
	require.Equal(t, "backup", completion.ProviderID)
}

func TestRouterReportsLastFailure(t *testing.T) {
	primary := newFakeProvider(t, func(map[string]any) (int, string) {
		return http.StatusTooManyRequests, "slow down"
	})
	router := NewRouter(NewRegistry(Config{
		Providers: map[string]ProviderInstanceConfig{"primary": primary.config("openai")},
	}), zap.NewNop())

	_, err := router.Complete(context.Background(), "chat", userMessage("hi"))
	var aiErr *Error
	require.True(t, errors.As(err, &aiErr))
	require.Equal(t, CodeProviderRateLimit, aiErr.Code)
	require.True(t, aiErr.Temporary())
}

func TestRouterLiveSearchOnlyWhereEnabled(t *testing.T) {
	fake := newFakeProvider(t, func(map[string]any) (int, string) {
		return http.StatusOK, "ok"
	})
	cfg := fake.config("xai")
	router := NewRouter(NewRegistry(Config{Providers: map[string]ProviderInstanceConfig{"x": cfg}}), zap.NewNop())

	req := userMessage("news")
	req.LiveSearch = true
	_, err := router.Complete(context.Background(), "insight", req)
	require.NoError(t, err)
	_, has := fake.lastRequest()["search_parameters"]
	require.False(t, has)

	cfg.LiveSearch = true
	router = NewRouter(NewRegistry(Config{Providers: map[string]ProviderInstanceConfig{"x": cfg}}), zap.NewNop())
	_, err = router.Complete(context.Background(), "insight", req)
	require.NoError(t, err)
	_, has = fake.lastRequest()["search_parameters"]
	require.True(t, has)
}

func TestRouterNoProviders(t *testing.T) {
	router := NewRouter(NewRegistry(Config{}), nil)
	require.False(t, router.Available("chat"))

	_, err := router.Complete(context.Background(), "chat", userMessage("hi"))
	require.ErrorIs(t, err, ErrNoProviders)
}
