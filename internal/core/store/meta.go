package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// GetMeta returns a stored value, or "" when the key is unset.
func (s *Store) GetMeta(ctx context.Context, key string) (string, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return "", err
	}

	var value string
	row := s.DB.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, strings.TrimSpace(key))
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", nil
		}
		return "", fmt.Errorf("fetch meta %s: %w", key, err)
	}
	return value, nil
}

// SetMeta upserts a value.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return errors.New("meta key is required")
	}

	_, err = s.DB.ExecContext(ctx, `
		INSERT INTO meta (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, key, value, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("store meta %s: %w", key, err)
	}
	return nil
}
