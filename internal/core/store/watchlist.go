package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/quotelens/quotelens/internal/core"
)

// AddWatchlistItem inserts symbol for userID. A symbol already on the user's
// list returns ErrAlreadyExists and leaves the existing row untouched.
func (s *Store) AddWatchlistItem(ctx context.Context, userID, symbol, notes string) (*core.WatchlistItem, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil, errors.New("user id is required")
	}
	symbol, err = core.NormalizeSymbol(symbol)
	if err != nil {
		return nil, err
	}

	item := &core.WatchlistItem{
		ID:        uuid.NewString(),
		UserID:    userID,
		Symbol:    symbol,
		Notes:     strings.TrimSpace(notes),
		CreatedAt: time.Now().UTC().Truncate(time.Second),
	}

	result, err := s.DB.ExecContext(ctx, `
		INSERT INTO watchlist (id, user_id, symbol, notes, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, symbol) DO NOTHING
	`, item.ID, item.UserID, item.Symbol, item.Notes, item.CreatedAt.Unix())
	if err != nil {
		return nil, fmt.Errorf("add watchlist item: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("add watchlist item: %w", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s is already on the watchlist", ErrAlreadyExists, symbol)
	}

	return item, nil
}

// ListWatchlist returns a user's items in insertion order.
func (s *Store) ListWatchlist(ctx context.Context, userID string) ([]core.WatchlistItem, error) {
	ctx, err := s.ready(ctx)
	if err != nil {
		return nil, err
	}

	rows, err := s.DB.QueryContext(ctx, `
		SELECT id, user_id, symbol, notes, last_price, last_quoted_at, created_at
		FROM watchlist
		WHERE user_id = ?
		ORDER BY created_at, symbol
	`, strings.TrimSpace(userID))
	if err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}
	defer rows.Close() // nolint:errcheck // best-effort cleanup

	items := []core.WatchlistItem{}
	for rows.Next() {
		var (
			item         core.WatchlistItem
			lastPrice    sql.NullString
			lastQuotedAt sql.NullInt64
			createdAt    int64
		)
		if err := rows.Scan(&item.ID, &item.UserID, &item.Symbol, &item.Notes, &lastPrice, &lastQuotedAt, &createdAt); err != nil {
			return nil, fmt.Errorf("scan watchlist: %w", err)
		}
		item.CreatedAt = time.Unix(createdAt, 0).UTC()
		if lastPrice.Valid && lastPrice.String != "" {
			price, err := decimal.NewFromString(lastPrice.String)
			if err != nil {
				return nil, fmt.Errorf("decode last price for %s: %w", item.Symbol, err)
			}
			item.LastPrice = &price
		}
		if lastQuotedAt.Valid {
			at := time.Unix(lastQuotedAt.Int64, 0).UTC()
			item.LastQuotedAt = &at
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list watchlist: %w", err)
	}

	return items, nil
}

// WatchlistSymbols returns the symbols on a user's watchlist.
func (s *Store) WatchlistSymbols(ctx context.Context, userID string) ([]string, error) {
	items, err := s.ListWatchlist(ctx, userID)
	if err != nil {
		return nil, err
	}
	symbols := make([]string, 0, len(items))
	for _, item := range items {
		symbols = append(symbols, item.Symbol)
	}
	return symbols, nil
}

// RemoveWatchlistItem deletes symbol from a user's list.
func (s *Store) RemoveWatchlistItem(ctx context.Context, userID, symbol string) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	symbol, err = core.NormalizeSymbol(symbol)
	if err != nil {
		return err
	}

	result, err := s.DB.ExecContext(ctx, `
		DELETE FROM watchlist WHERE user_id = ? AND symbol = ?
	`, strings.TrimSpace(userID), symbol)
	if err != nil {
		return fmt.Errorf("remove watchlist item: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove watchlist item: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s is not on the watchlist", ErrNotFound, symbol)
	}
	return nil
}

// UpdateWatchlistQuotes records the latest price for every matching row of
// the user. Symbols not on the list are ignored.
func (s *Store) UpdateWatchlistQuotes(ctx context.Context, userID string, quotes []core.Quote) error {
	ctx, err := s.ready(ctx)
	if err != nil {
		return err
	}
	if len(quotes) == 0 {
		return nil
	}

	return s.withTx(ctx, "update watchlist quotes", func(tx *sql.Tx) error {
		for _, quote := range quotes {
			if _, err := tx.ExecContext(ctx, `
				UPDATE watchlist SET last_price = ?, last_quoted_at = ?
				WHERE user_id = ? AND symbol = ?
			`, quote.Price.String(), quote.Timestamp.UTC().Unix(), strings.TrimSpace(userID), quote.Symbol); err != nil {
				return fmt.Errorf("update watchlist quote %s: %w", quote.Symbol, err)
			}
		}
		return nil
	})
}
