package metrics

import (
	"time"

	"github.com/quotelens/quotelens/internal/observability"
)

// Process-level metrics
var (
	ActiveStreams       = "watchlist_active_streams"
	HealthCheckTotal    = "health_check_total"
	HealthCheckDuration = "health_check_duration_ms"
	ServerStartTime     = "server_start_time_seconds"
)

// SetActiveStreams sets the number of running watchlist refresh loops.
func SetActiveStreams(count int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ActiveStreams, float64(count), nil)
	}
}

// RecordHealthCheck records one checker run and its outcome
// (healthy, degraded, timeout or unhealthy).
func RecordHealthCheck(check, outcome string, duration time.Duration) {
	if observability.TelemetrySystem == nil {
		return
	}
	_ = observability.TelemetrySystem.Counter(
		HealthCheckTotal,
		1,
		map[string]string{
			"check":  check,
			"status": outcome,
		},
	)
	_ = observability.TelemetrySystem.Histogram(
		HealthCheckDuration,
		duration,
		map[string]string{"check": check},
	)
}

// SetServerStartTime records when serve began accepting requests.
func SetServerStartTime(at time.Time) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Gauge(ServerStartTime, float64(at.Unix()), nil)
	}
}
