package core

import "time"

// CallLogState captures a persisted sliding-window call log.
type CallLogState struct {
	Endpoint  string
	Calls     []time.Time
	UpdatedAt time.Time
}
