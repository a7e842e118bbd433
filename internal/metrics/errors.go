package metrics

import (
	"strconv"

	"github.com/quotelens/quotelens/internal/observability"
)

// Error metric names
const (
	ErrorsTotalName   = "errors_total"
	PanicsTotalName   = "panics_total"
	ErrorsByRouteName = "errors_by_route"
)

// RecordError counts an error envelope written to a client.
func RecordError(errorCode string, httpStatus int) {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(ErrorsTotalName, 1, map[string]string{
			"error_code":  errorCode,
			"http_status": strconv.Itoa(httpStatus),
		})
	}
}

// RecordPanic counts a recovered handler panic.
func RecordPanic() {
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(PanicsTotalName, 1, nil)
	}
}

// RecordErrorByRoute counts an error by chi route pattern. Callers pass
// the pattern, never the raw path, so symbols stay out of label values.
func RecordErrorByRoute(route string, errorCode string) {
	if route == "" {
		route = "/unknown"
	}
	if observability.TelemetrySystem != nil {
		_ = observability.TelemetrySystem.Counter(ErrorsByRouteName, 1, map[string]string{
			"route":      route,
			"error_code": errorCode,
		})
	}
}
