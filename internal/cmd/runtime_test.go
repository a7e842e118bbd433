package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/quotelens/quotelens/internal/config"
	"github.com/quotelens/quotelens/internal/core"
	"github.com/quotelens/quotelens/internal/core/engine"
	"github.com/quotelens/quotelens/internal/core/quotes/finnhub"
	"github.com/quotelens/quotelens/internal/output"
)

func defaultConfig(t *testing.T) *config.Config {
	t.Helper()
	v := viper.New()
	config.SetDefaults(v)
	cfg, err := config.Load(v)
	require.NoError(t, err)
	return cfg
}

func TestBuildRuntimeWithoutStore(t *testing.T) {
	cfg := defaultConfig(t)

	rt, err := buildRuntime(context.Background(), cfg, nil, runtimeOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { rt.close(context.Background()) })

	require.Nil(t, rt.store)
	require.Equal(t, "sim", rt.breaker.Name())
	require.Equal(t, cfg.Refresh.MaxCallsPerMinute, rt.limiter.Limit())
	require.Same(t, rt.limiter, rt.single.Limiter())
	require.Same(t, rt.limiter, rt.multi.Limiter())
	require.Nil(t, rt.insights, "no ailink providers are configured")
	require.Equal(t, cfg.Report.MaxAICallsPerMinute, rt.insightLimiter.Limit())
	require.Nil(t, rt.chats)

	quote, err := rt.watch.Quote(context.Background(), "AAPL")
	require.NoError(t, err)
	require.Equal(t, "AAPL", quote.Symbol)
	require.Equal(t, cfg.Refresh.MaxCallsPerMinute-1, rt.limiter.RemainingCalls())

	_, err = rt.watch.List(context.Background(), "local")
	require.Error(t, err)
}

func TestOptionalLimiter(t *testing.T) {
	require.Nil(t, optionalLimiter(0))
	require.True(t, optionalLimiter(0).TryAcquire())
	require.Equal(t, 2, optionalLimiter(2).Limit())
}

func TestRuntimeCloseIsIdempotent(t *testing.T) {
	rt, err := buildRuntime(context.Background(), defaultConfig(t), nil, runtimeOptions{})
	require.NoError(t, err)
	rt.close(context.Background())
	require.NotPanics(t, func() { rt.close(context.Background()) })
}

func TestResetCachesClearsBothCoordinators(t *testing.T) {
	rt, err := buildRuntime(context.Background(), defaultConfig(t), nil, runtimeOptions{})
	require.NoError(t, err)
	t.Cleanup(func() { rt.close(context.Background()) })

	_, err = rt.watch.Quote(context.Background(), "MSFT")
	require.NoError(t, err)
	require.Equal(t, 1, rt.single.Cache().Len())

	rt.resetCaches()
	require.Zero(t, rt.single.Cache().Len())
	require.Zero(t, rt.multi.Cache().Len())
}

func TestBuildProvider(t *testing.T) {
	p, err := buildProvider(config.QuotesConfig{Provider: "SIM"})
	require.NoError(t, err)
	require.Equal(t, "sim", p.Name())

	p, err = buildProvider(config.QuotesConfig{Provider: "finnhub", APIKey: "k", Timeout: 3 * time.Second})
	require.NoError(t, err)
	client, ok := p.(*finnhub.Client)
	require.True(t, ok)
	require.True(t, client.IsConfigured())
	require.Equal(t, 3*time.Second, client.Timeout)

	_, err = buildProvider(config.QuotesConfig{Provider: "bloomberg"})
	require.Error(t, err)
}

func TestBuildScheduleMergesHolidaySources(t *testing.T) {
	path := filepath.Join(t.TempDir(), "holidays.yaml")
	require.NoError(t, os.WriteFile(path, []byte("holidays:\n  - date: \"2025-07-04\"\n    name: Independence Day\n"), 0o600))

	schedule, err := buildSchedule(config.MarketConfig{
		Exchange:     "TEST",
		RegularOpen:  "10:00",
		Holidays:     []string{"2025-01-01"},
		HolidaysFile: path,
	})
	require.NoError(t, err)
	require.Equal(t, "TEST", schedule.Exchange().Name)
	require.Equal(t, "10:00", schedule.Exchange().RegularOpen)
	require.Equal(t, "America/New_York", schedule.Exchange().Timezone)
	require.Equal(t, 2, schedule.Calendar().Len())

	// 14:30 UTC is 09:30 New York: regular session under the default
	// exchange, still pre-market with the 10:00 override.
	session := schedule.SessionAt(time.Date(2025, 1, 15, 14, 30, 0, 0, time.UTC))
	require.Equal(t, core.SessionPreMarket, session.Status)

	holiday := schedule.SessionAt(time.Date(2025, 7, 4, 16, 0, 0, 0, time.UTC))
	require.False(t, holiday.IsOpen)
}

func TestBuildScheduleRejectsBadHoliday(t *testing.T) {
	_, err := buildSchedule(config.MarketConfig{Holidays: []string{"07/04/2025"}})
	require.Error(t, err)
}

func TestDescribeErrorAddsRetryHint(t *testing.T) {
	err := describeError(&engine.RateLimitError{RetryAfter: 12400 * time.Millisecond})
	require.ErrorIs(t, err, engine.ErrRateLimited)
	require.Contains(t, err.Error(), "retry after 12s")

	require.Nil(t, describeError(nil))
}

func TestFormatResetResult(t *testing.T) {
	text, err := formatResetResult(output.FormatTable, resetResult{Matched: 2, DryRun: true})
	require.NoError(t, err)
	require.Equal(t, "Would delete 2 call log(s)", text)

	text, err = formatResetResult(output.FormatTable, resetResult{Matched: 2, Deleted: 2})
	require.NoError(t, err)
	require.Equal(t, "Deleted 2/2 call log(s)", text)

	text, err = formatResetResult(output.FormatJSON, resetResult{Matched: 1, Deleted: 1})
	require.NoError(t, err)
	require.JSONEq(t, `{"matched":1,"deleted":1,"dry_run":false}`, text)
}

func TestSanitizeFilename(t *testing.T) {
	require.Equal(t, "rate-limit.list", sanitizeFilename("Rate Limit.List"))
	require.Equal(t, "output", sanitizeFilename("  ../  "))
}
