package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/quotelens/quotelens/internal/ailink"
	"github.com/quotelens/quotelens/internal/chat"
	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/engine"
	"github.com/quotelens/quotelens/internal/core/market"
	"github.com/quotelens/quotelens/internal/core/quotes"
	"github.com/quotelens/quotelens/internal/core/quotes/sim"
	"github.com/quotelens/quotelens/internal/core/report"
	"github.com/quotelens/quotelens/internal/core/store"
	"github.com/quotelens/quotelens/internal/core/watch"
	apperrors "github.com/quotelens/quotelens/internal/errors"
	"github.com/quotelens/quotelens/internal/server/handlers"
	servermw "github.com/quotelens/quotelens/internal/server/middleware"
)

var testSecret = []byte("server-test-secret")

// memoryStore backs the watchlist and reports with maps.
type memoryStore struct {
	mu      sync.Mutex
	items   map[string][]core.WatchlistItem
	reports map[string]core.Report
}

func newMemoryStore() *memoryStore {
	return &memoryStore{items: map[string][]core.WatchlistItem{}, reports: map[string]core.Report{}}
}

func (m *memoryStore) AddWatchlistItem(ctx context.Context, userID, symbol, notes string) (*core.WatchlistItem, error) {
	symbol, err := core.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, item := range m.items[userID] {
		if item.Symbol == symbol {
			return nil, store.ErrAlreadyExists
		}
	}
	item := core.WatchlistItem{ID: symbol, UserID: userID, Symbol: symbol, Notes: notes, CreatedAt: time.Now().UTC()}
	m.items[userID] = append(m.items[userID], item)
	return &item, nil
}

func (m *memoryStore) ListWatchlist(ctx context.Context, userID string) ([]core.WatchlistItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.WatchlistItem(nil), m.items[userID]...), nil
}

func (m *memoryStore) WatchlistSymbols(ctx context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, item := range m.items[userID] {
		out = append(out, item.Symbol)
	}
	return out, nil
}

func (m *memoryStore) RemoveWatchlistItem(ctx context.Context, userID, symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	items := m.items[userID]
	for i, item := range items {
		if item.Symbol == symbol {
			m.items[userID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return store.ErrNotFound
}

func (m *memoryStore) UpdateWatchlistQuotes(ctx context.Context, userID string, quotes []core.Quote) error {
	return nil
}

func (m *memoryStore) SaveReport(ctx context.Context, r *core.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.UserID+"/"+r.Symbol] = *r
	return nil
}

func (m *memoryStore) GetReport(ctx context.Context, userID, symbol string) (*core.Report, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[userID+"/"+symbol]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &r, nil
}

type echoResponder struct{}

func (echoResponder) Chat(ctx context.Context, req ailink.ChatRequest) (string, error) {
	return "You asked about " + req.Symbol, nil
}

type testEnv struct {
	handler http.Handler
	breaker *quotes.Breaker
	limiter *engine.RateLimiter
}

func newTestEnv(t *testing.T, quoteLimit int) *testEnv {
	t.Helper()
	clock := func() time.Time { return time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC) }

	provider := quotes.NewBreaker(sim.New(clock), quotes.BreakerSettings{FailureThreshold: 3, CoolDown: time.Minute}, zap.NewNop())
	limiter := engine.NewRateLimiter(quoteLimit, nil)
	single := engine.NewCoordinator(engine.CoordinatorOptions[core.Quote]{
		Name: "quote", Cache: engine.NewTTLCache[core.Quote](time.Minute, nil), Limiter: limiter,
	})
	multi := engine.NewCoordinator(engine.CoordinatorOptions[[]core.Quote]{
		Name: "quotes", Cache: engine.NewTTLCache[[]core.Quote](time.Minute, nil), Limiter: limiter,
	})
	t.Cleanup(single.Stop)
	t.Cleanup(multi.Stop)

	schedule, err := market.NewSchedule(market.DefaultExchange(), nil, clock)
	require.NoError(t, err)

	mem := newMemoryStore()
	watchSvc, err := watch.NewService(watch.Options{
		Provider: provider, Single: single, Multi: multi, Limiter: limiter, Schedule: schedule, Store: mem,
	})
	require.NoError(t, err)
	t.Cleanup(watchSvc.StopAll)

	reports, err := report.NewService(report.Options{
		Provider: provider, Coordinator: single, Breaker: provider, Store: mem, RetryDelay: time.Millisecond,
	})
	require.NoError(t, err)

	chatLimiter := engine.NewRateLimiter(1, nil)
	chats, err := chat.NewManager(chat.Options{
		Responder:   echoResponder{},
		Coordinator: engine.NewCoordinator(engine.CoordinatorOptions[string]{Name: "chat", Limiter: chatLimiter}),
	})
	require.NoError(t, err)
	t.Cleanup(chats.Close)

	srv := New("127.0.0.1", 0)
	srv.MountAPI(&handlers.API{
		Watch:          watchSvc,
		Reports:        reports,
		Chat:           chats,
		Schedule:       schedule,
		Limiter:        limiter,
		ChatLimiter:    chatLimiter,
		InsightLimiter: engine.NewRateLimiter(3, nil),
		Breaker:        provider,
		ResetCaches:    func() { single.Cache().Clear(); multi.Cache().Clear() },
		StreamInterval: time.Hour,
		Clock:          clock,
	}, servermw.AuthConfig{Required: true, Secret: testSecret})

	return &testEnv{handler: srv.Handler(), breaker: provider, limiter: limiter}
}

func (e *testEnv) do(t *testing.T, method, path, body, user string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if user != "" {
		token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"sub": user,
			"exp": time.Now().Add(time.Hour).Unix(),
		}).SignedString(testSecret)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) apperrors.HTTPErrorResponse {
	t.Helper()
	var body apperrors.HTTPErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body
}

func TestServerUsesStandardErrorHandlers(t *testing.T) {
	srv := New("127.0.0.1", 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", decodeError(t, rec).Error.Code)
}

func TestAPIRequiresToken(t *testing.T) {
	env := newTestEnv(t, 10)
	rec := env.do(t, http.MethodGet, "/api/v1/watchlist", "", "")
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestMarketStatusAt(t *testing.T) {
	env := newTestEnv(t, 10)

	rec := env.do(t, http.MethodGet, "/api/v1/market/status?at=2025-01-15T15:00:00Z", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var session core.MarketSession
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&session))
	require.True(t, session.IsOpen)
	require.Equal(t, core.SessionOpen, session.Status)

	rec = env.do(t, http.MethodGet, "/api/v1/market/status?at=yesterday", "", "u1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestQuoteEndpoint(t *testing.T) {
	env := newTestEnv(t, 10)

	rec := env.do(t, http.MethodGet, "/api/v1/quotes/AAPL", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var quote core.Quote
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&quote))
	require.Equal(t, "AAPL", quote.Symbol)

	rec = env.do(t, http.MethodGet, "/api/v1/quotes/NOT-A-TICKER", "", "u1")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Error.Code)
}

func TestQuoteRateLimitedReturns429(t *testing.T) {
	env := newTestEnv(t, 1)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/quotes/AAPL", "", "u1").Code)
	// Served from cache without touching the limiter.
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/quotes/AAPL", "", "u1").Code)

	rec := env.do(t, http.MethodGet, "/api/v1/quotes/MSFT", "", "u1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	body := decodeError(t, rec)
	require.Equal(t, "RATE_LIMITED", body.Error.Code)
	require.Contains(t, body.Error.Details, "retry_after_seconds")
	require.Equal(t, int64(1), env.limiter.Rejected())
}

func TestWatchlistLifecycle(t *testing.T) {
	env := newTestEnv(t, 10)

	rec := env.do(t, http.MethodPost, "/api/v1/watchlist", `{"symbol":"aapl","notes":"core"}`, "u1")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/watchlist", `{"symbol":"AAPL"}`, "u1")
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "CONFLICT", decodeError(t, rec).Error.Code)

	// Watchlists are per user.
	rec = env.do(t, http.MethodGet, "/api/v1/watchlist", "", "u2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"items":[]}`, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/api/v1/watchlist/refresh", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var result watch.RefreshResult
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	require.Len(t, result.Quotes, 1)

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/v1/watchlist/AAPL", "", "u1").Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/v1/watchlist/AAPL", "", "u1").Code)
}

func TestAddWatchlistItemValidatesBody(t *testing.T) {
	env := newTestEnv(t, 10)

	cases := map[string]string{
		"missing symbol": `{"notes":"core"}`,
		"bad symbol":     `{"symbol":"BRK.B"}`,
		"long notes":     `{"symbol":"MSFT","notes":"` + strings.Repeat("n", handlers.MaxNotesLength+1) + `"}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/watchlist", body, "u1")
			require.Equal(t, http.StatusBadRequest, rec.Code)
			require.Equal(t, "VALIDATION_ERROR", decodeError(t, rec).Error.Code)
		})
	}

	rec := env.do(t, http.MethodPost, "/api/v1/watchlist", `{"symbol":"msft","notes":"`+strings.Repeat("n", handlers.MaxNotesLength)+`"}`, "u1")
	require.Equal(t, http.StatusCreated, rec.Code)
}

func TestStreamStartConflictsWhenRunning(t *testing.T) {
	env := newTestEnv(t, 10)

	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/v1/watchlist/stream/start", "", "u1").Code)

	env.do(t, http.MethodPost, "/api/v1/watchlist", `{"symbol":"MSFT"}`, "u1")
	require.Equal(t, http.StatusAccepted, env.do(t, http.MethodPost, "/api/v1/watchlist/stream/start", "", "u1").Code)

	rec := env.do(t, http.MethodPost, "/api/v1/watchlist/stream/start", "", "u1")
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/watchlist/stream/stop", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"stopped":true`)
}

func TestReportRefreshAndGet(t *testing.T) {
	env := newTestEnv(t, 10)

	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/v1/reports/TSLA", "", "u1").Code)

	rec := env.do(t, http.MethodPost, "/api/v1/reports/TSLA/refresh?force=true&no_ai=true", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var rep core.Report
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rep))
	require.True(t, rep.Forced)
	require.Nil(t, rep.Insight)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/api/v1/reports/TSLA", "", "u1").Code)
	require.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/v1/reports/TSLA/refresh?force=maybe", "", "u1").Code)
}

func TestChatEnvelopeAndRateLimit(t *testing.T) {
	env := newTestEnv(t, 10)

	rec := env.do(t, http.MethodPost, "/api/v1/chat", `{"message":"What about puts?","symbol":"TSLA"}`, "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var ok struct {
		Message   string    `json:"message"`
		Timestamp time.Time `json:"timestamp"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&ok))
	require.Equal(t, "You asked about TSLA", ok.Message)
	require.False(t, ok.Timestamp.IsZero())

	rec = env.do(t, http.MethodPost, "/api/v1/chat", `{"message":"And calls?"}`, "u1")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	var failed struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&failed))
	require.Equal(t, "RATE_LIMITED", failed.Code)
	require.NotEmpty(t, failed.Error)

	rec = env.do(t, http.MethodPost, "/api/v1/chat", `{"message":"   "}`, "u1")
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/chat", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "You asked about TSLA")

	require.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/v1/chat", "", "u1").Code)
}

func TestLimitsAndBreakerReset(t *testing.T) {
	env := newTestEnv(t, 5)
	env.do(t, http.MethodGet, "/api/v1/quotes/AAPL", "", "u1")

	rec := env.do(t, http.MethodGet, "/api/v1/limits", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	var limits struct {
		Quotes  handlers.LimitStatus `json:"quotes"`
		Chat    handlers.LimitStatus `json:"chat"`
		Insight handlers.LimitStatus `json:"insight"`
		Breaker quotes.BreakerStatus `json:"breaker"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&limits))
	require.Equal(t, 5, limits.Quotes.Limit)
	require.Equal(t, 4, limits.Quotes.Remaining)
	require.Equal(t, 1, limits.Chat.Limit)
	require.Equal(t, 3, limits.Insight.Limit)
	require.Equal(t, 3, limits.Insight.Remaining)
	require.Equal(t, quotes.StateClosed, limits.Breaker.State)

	rec = env.do(t, http.MethodPost, "/api/v1/breaker/reset", "", "u1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.False(t, env.breaker.IsOpen())
}
