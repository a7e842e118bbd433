package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/quotelens/quotelens/internal/core"
)

// LoadCallLog returns the stored call log for an endpoint, or nil when none exists.
func (s *Store) LoadCallLog(ctx context.Context, endpoint string) (*core.CallLogState, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("endpoint is required")
	}

	var (
		callsJSON string
		updatedAt int64
	)
	row := s.DB.QueryRowContext(ctx, `
		SELECT calls_json, updated_at
		FROM rate_limits
		WHERE endpoint = ?
	`, endpoint)
	if err := row.Scan(&callsJSON, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch call log: %w", err)
	}

	return decodeCallLog(endpoint, callsJSON, updatedAt)
}

// SaveCallLog persists the call log for an endpoint.
func (s *Store) SaveCallLog(ctx context.Context, state *core.CallLogState) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if state == nil {
		return errors.New("call log state is required")
	}
	endpoint := strings.TrimSpace(state.Endpoint)
	if endpoint == "" {
		return errors.New("endpoint is required")
	}

	calls := make([]int64, 0, len(state.Calls))
	for _, at := range state.Calls {
		calls = append(calls, at.UTC().UnixMilli())
	}
	encoded, err := json.Marshal(calls)
	if err != nil {
		return fmt.Errorf("encode call log: %w", err)
	}

	updatedAt := state.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO rate_limits (endpoint, calls_json, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(endpoint) DO UPDATE SET
			calls_json = excluded.calls_json,
			updated_at = excluded.updated_at
	`, endpoint, string(encoded), updatedAt.UTC().UnixMilli())
	if err != nil {
		return fmt.Errorf("store call log: %w", err)
	}

	return nil
}

func decodeCallLog(endpoint, callsJSON string, updatedAt int64) (*core.CallLogState, error) {
	var millis []int64
	if err := json.Unmarshal([]byte(callsJSON), &millis); err != nil {
		return nil, fmt.Errorf("decode call log %s: %w", endpoint, err)
	}
	state := &core.CallLogState{
		Endpoint:  endpoint,
		Calls:     make([]time.Time, 0, len(millis)),
		UpdatedAt: time.UnixMilli(updatedAt).UTC(),
	}
	for _, ms := range millis {
		state.Calls = append(state.Calls, time.UnixMilli(ms).UTC())
	}
	return state, nil
}
