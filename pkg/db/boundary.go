package db

import (
	"context"
	"fmt"
)

// AddWatchlistItem upserts a watched symbol for a user.
func (d *Database) AddWatchlistItem(ctx context.Context, userID, symbol string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO watchlist_items (user_id, symbol)
		VALUES (?, ?)
		ON CONFLICT(user_id, symbol) DO NOTHING
	`, userID, symbol)
	return err
}

// RemoveWatchlistItem deletes a watched symbol; returns whether a row was removed.
func (d *Database) RemoveWatchlistItem(ctx context.Context, userID, symbol string) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		DELETE FROM watchlist_items WHERE user_id = ? AND symbol = ?
	`, userID, symbol)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListWatchlist returns a user's watched symbols, oldest first.
func (d *Database) ListWatchlist(ctx context.Context, userID string) ([]WatchlistItem, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT user_id, symbol, created_at
		FROM watchlist_items WHERE user_id = ?
		ORDER BY created_at, symbol
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []WatchlistItem
	for rows.Next() {
		var w WatchlistItem
		if err := rows.Scan(&w.UserID, &w.Symbol, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan watchlist item: %w", err)
		}
		res = append(res, w)
	}
	return res, rows.Err()
}

// InsertNews stores a news item.
func (d *Database) InsertNews(ctx context.Context, n NewsItem) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO news (id, ticker, headline, body, published_at)
		VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, n.ID, n.Ticker, n.Headline, n.Body, n.PublishedAt)
	return err
}

// ListNews returns news items, optionally filtered by ticker, newest first.
func (d *Database) ListNews(ctx context.Context, ticker string, limit int) ([]NewsItem, error) {
	query := `
		SELECT id, COALESCE(ticker, ''), headline, COALESCE(body, ''), published_at
		FROM news`
	args := []any{}
	if ticker != "" {
		query += ` WHERE ticker = ?`
		args = append(args, ticker)
	}
	query += ` ORDER BY published_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []NewsItem
	for rows.Next() {
		var n NewsItem
		if err := rows.Scan(&n.ID, &n.Ticker, &n.Headline, &n.Body, &n.PublishedAt); err != nil {
			return nil, fmt.Errorf("scan news item: %w", err)
		}
		res = append(res, n)
	}
	return res, rows.Err()
}
