package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/quotelens/quotelens/internal/core"
)

// SaveReport upserts the latest report for (user, symbol).
func (s *Store) SaveReport(ctx context.Context, report *core.Report) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if report == nil {
		return errors.New("report is required")
	}
	if report.ID == "" {
		report.ID = uuid.NewString()
	}

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO reports (id, user_id, symbol, payload_json, generated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, symbol) DO UPDATE SET
			id = excluded.id,
			payload_json = excluded.payload_json,
			generated_at = excluded.generated_at
	`, report.ID, report.UserID, report.Symbol, string(payload), report.GeneratedAt.UTC().Unix())
	if err != nil {
		return fmt.Errorf("store report: %w", err)
	}
	return nil
}

// GetReport returns the stored report, or ErrNotFound.
func (s *Store) GetReport(ctx context.Context, userID, symbol string) (*core.Report, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}
	symbol, err = core.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	var payload string
	row := s.DB.QueryRowContext(ctx, `
		SELECT payload_json FROM reports WHERE user_id = ? AND symbol = ?
	`, strings.TrimSpace(userID), symbol)
	if err := row.Scan(&payload); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: no report for %s", ErrNotFound, symbol)
		}
		return nil, fmt.Errorf("fetch report: %w", err)
	}

	var report core.Report
	if err := json.Unmarshal([]byte(payload), &report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}
