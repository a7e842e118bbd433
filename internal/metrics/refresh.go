package metrics

import (
	"strconv"
	"time"

	"github.com/quotelens/quotelens/internal/observability"
)

// Request-shaping metrics
var (
	CacheLookupsTotal      = "quote_cache_lookups_total"
	RateLimitedTotal       = "rate_limited_total"
	SupersededTotal        = "debounce_superseded_total"
	UpstreamCallsTotal     = "upstream_calls_total"
	UpstreamCallDuration   = "upstream_call_duration_ms"
	BatchFlushesTotal      = "batch_flushes_total"
	BatchSize              = "batch_size"
	RefreshTicksTotal      = "refresh_ticks_total"
	BreakerResetsTotal     = "breaker_resets_total"
	BreakerStateChanges    = "breaker_state_changes_total"
	AIRequestsTotal        = "ai_requests_total"
	AIRequestDuration      = "ai_request_duration_ms"
	RateLimitRemainingCall = "rate_limit_remaining_calls"
	ReportRefreshesTotal   = "report_refreshes_total"
)

// RecordCacheLookup records a cache hit or miss for a coordinator scope.
func RecordCacheLookup(scope string, hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			CacheLookupsTotal,
			1,
			map[string]string{
				"scope":  scope,
				"result": result,
			},
		)
	}
}

// RecordRateLimited records a call refused by the local limiter.
func RecordRateLimited(scope string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(RateLimitedTotal, 1, map[string]string{"scope": scope})
	}
}

// RecordSuperseded records a debounced caller replaced by a newer one.
func RecordSuperseded(scope string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(SupersededTotal, 1, map[string]string{"scope": scope})
	}
}

// RecordUpstreamCall records one dispatched upstream call.
func RecordUpstreamCall(scope string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			UpstreamCallsTotal,
			1,
			map[string]string{
				"scope":  scope,
				"status": status,
			},
		)
		_ = observability.TelemetrySystem.Histogram(
			UpstreamCallDuration,
			duration,
			map[string]string{
				"scope": scope,
			},
		)
	}
}

// RecordBatchFlush records a batch processor invocation.
func RecordBatchFlush(size int, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(BatchFlushesTotal, 1, map[string]string{"status": status})
		_ = observability.TelemetrySystem.Gauge(BatchSize, float64(size), nil)
	}
}

// RecordRefreshTick records the outcome of one refresh loop tick.
func RecordRefreshTick(outcome string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(RefreshTicksTotal, 1, map[string]string{"outcome": outcome})
	}
}

// SetRateLimitRemaining publishes the remaining calls in the current window.
func SetRateLimitRemaining(remaining int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(RateLimitRemainingCall, float64(remaining), nil)
	}
}

// RecordBreakerReset records a circuit breaker reset.
func RecordBreakerReset(name string, forced bool) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			BreakerResetsTotal,
			1,
			map[string]string{
				"breaker": name,
				"forced":  strconv.FormatBool(forced),
			},
		)
	}
}

// RecordBreakerStateChange records a breaker transition.
func RecordBreakerStateChange(name, from, to string) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			BreakerStateChanges,
			1,
			map[string]string{
				"breaker": name,
				"from":    from,
				"to":      to,
			},
		)
	}
}

// RecordAIRequest records one AI provider request.
func RecordAIRequest(provider, role string, success bool, duration time.Duration) {
	status := "success"
	if !success {
		status = "failure"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(
			AIRequestsTotal,
			1,
			map[string]string{
				"provider": provider,
				"role":     role,
				"status":   status,
			},
		)
		_ = observability.TelemetrySystem.Histogram(
			AIRequestDuration,
			duration,
			map[string]string{
				"provider": provider,
			},
		)
	}
}

// RecordReportRefresh records one report refresh and how many upstream attempts it took.
func RecordReportRefresh(outcome string, attempts int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(ReportRefreshesTotal, 1, map[string]string{
			"outcome":  outcome,
			"attempts": strconv.Itoa(attempts),
		})
	}
}
