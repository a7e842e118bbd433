package driver

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// TraceEntry is one request/response exchange written as a line of NDJSON.
type TraceEntry struct {
	Timestamp   time.Time       `json:"timestamp"`
	Driver      string          `json:"driver"`
	Endpoint    string          `json:"endpoint"`
	Method      string          `json:"method"`
	Model       string          `json:"model,omitempty"`
	RequestBody json.RawMessage `json:"request_body,omitempty"`
	StatusCode  int             `json:"status_code,omitempty"`
	Response    json.RawMessage `json:"response,omitempty"`
	Error       string          `json:"error,omitempty"`
	DurationMs  int64           `json:"duration_ms"`
}

var (
	traceMu  sync.Mutex
	traceOut io.WriteCloser
)

// EnableTracing appends every AI exchange to path until the returned
// cleanup runs. A second call replaces the previous destination.
func EnableTracing(path string) (func(), error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	setTraceOutput(f)
	return func() { setTraceOutput(nil) }, nil
}

// IsTracingEnabled returns true if tracing is active.
func IsTracingEnabled() bool {
	traceMu.Lock()
	defer traceMu.Unlock()
	return traceOut != nil
}

// Trace records entry when tracing is enabled.
func Trace(entry TraceEntry) {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	traceMu.Lock()
	defer traceMu.Unlock()
	if traceOut == nil {
		return
	}
	_, _ = traceOut.Write(append(data, '\n'))
}

func setTraceOutput(w io.WriteCloser) {
	traceMu.Lock()
	defer traceMu.Unlock()
	if traceOut != nil {
		_ = traceOut.Close()
	}
	traceOut = w
}
