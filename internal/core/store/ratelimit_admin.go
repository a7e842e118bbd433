package store

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/quotelens/quotelens/internal/core"
)

// CallLogQuery selects call logs by exact endpoint, prefix, or all.
type CallLogQuery struct {
	All      bool
	Endpoint string
	Prefix   string
}

func (q CallLogQuery) Validate() error {
	if q.All || strings.TrimSpace(q.Endpoint) != "" || strings.TrimSpace(q.Prefix) != "" {
		return nil
	}
	return errors.New("must specify --all, --endpoint, or --prefix")
}

func (q CallLogQuery) whereClause() (string, []any, error) {
	if err := q.Validate(); err != nil {
		return "", nil, err
	}
	if q.All {
		return "", nil, nil
	}
	if endpoint := strings.TrimSpace(q.Endpoint); endpoint != "" {
		return "WHERE endpoint = ?", []any{endpoint}, nil
	}
	return "WHERE endpoint LIKE ?", []any{strings.TrimSpace(q.Prefix) + "%"}, nil
}

func (s *Store) ListCallLogs(ctx context.Context, q CallLogQuery) ([]core.CallLogState, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	where, args, err := q.whereClause()
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, fmt.Sprintf(`
		SELECT endpoint, calls_json, updated_at
		FROM rate_limits
		%s
		ORDER BY endpoint
	`, where), args...)
	if err != nil {
		return nil, fmt.Errorf("list call logs: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	entries := []core.CallLogState{}
	for rows.Next() {
		var (
			endpoint  string
			callsJSON string
			updatedAt int64
		)
		if err := rows.Scan(&endpoint, &callsJSON, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan call logs: %w", err)
		}
		state, err := decodeCallLog(endpoint, callsJSON, updatedAt)
		if err != nil {
			return nil, err
		}
		entries = append(entries, *state)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list call logs: %w", err)
	}

	return entries, nil
}

func (s *Store) ResetCallLogs(ctx context.Context, q CallLogQuery) (int64, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return 0, err
	}

	where, args, err := q.whereClause()
	if err != nil {
		return 0, err
	}

	result, err := s.DB.ExecContext(ctx, fmt.Sprintf(`
		DELETE FROM rate_limits
		%s
	`, where), args...)
	if err != nil {
		return 0, fmt.Errorf("reset call logs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("reset call logs: %w", err)
	}
	return affected, nil
}
