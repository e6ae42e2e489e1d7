package db

import (
	"context"
	"database/sql"
	"fmt"
)

// UpsertTicker stores a tradable symbol.
func (d *Database) UpsertTicker(ctx context.Context, t Ticker) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO tickers (symbol, name, asset_type)
		VALUES (?, ?, ?)
		ON CONFLICT(symbol) DO UPDATE SET
			name = excluded.name,
			asset_type = excluded.asset_type
	`, t.Symbol, t.Name, t.AssetType)
	return err
}

// GetTicker returns a ticker by symbol.
func (d *Database) GetTicker(ctx context.Context, symbol string) (*Ticker, error) {
	var t Ticker
	err := d.DB.QueryRowContext(ctx, `
		SELECT symbol, name, asset_type FROM tickers WHERE symbol = ?
	`, symbol).Scan(&t.Symbol, &t.Name, &t.AssetType)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ListTickers returns tickers, optionally filtered by a case-insensitive
// substring match on symbol or name.
func (d *Database) ListTickers(ctx context.Context, q string, limit int) ([]Ticker, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if q != "" {
		pattern := "%" + q + "%"
		rows, err = d.DB.QueryContext(ctx, `
			SELECT symbol, name, asset_type FROM tickers
			WHERE symbol LIKE ? COLLATE NOCASE OR name LIKE ? COLLATE NOCASE
			ORDER BY symbol LIMIT ?
		`, pattern, pattern, limit)
	} else {
		rows, err = d.DB.QueryContext(ctx, `
			SELECT symbol, name, asset_type FROM tickers ORDER BY symbol LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Ticker
	for rows.Next() {
		var t Ticker
		if err := rows.Scan(&t.Symbol, &t.Name, &t.AssetType); err != nil {
			return nil, fmt.Errorf("scan ticker: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// InsertBar appends a price bar. Bars are immutable once written.
func (d *Database) InsertBar(ctx context.Context, b Bar) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO price_bars (ticker, time, open, high, low, close, volume, source)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, b.Ticker, b.Time, b.Open, b.High, b.Low, b.Close, b.Volume, b.Source)
	return err
}

// LatestBar returns the most recent bar for a ticker.
func (d *Database) LatestBar(ctx context.Context, ticker string) (*Bar, error) {
	var b Bar
	err := d.DB.QueryRowContext(ctx, `
		SELECT ticker, time, open, high, low, close, volume, source
		FROM price_bars WHERE ticker = ?
		ORDER BY time DESC LIMIT 1
	`, ticker).Scan(&b.Ticker, &b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Source)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBars returns up to limit most recent bars for a ticker in ascending
// time order (chart-friendly).
func (d *Database) ListBars(ctx context.Context, ticker string, limit int) ([]Bar, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT ticker, time, open, high, low, close, volume, source
		FROM (
			SELECT * FROM price_bars WHERE ticker = ?
			ORDER BY time DESC LIMIT ?
		) ORDER BY time
	`, ticker, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Bar
	for rows.Next() {
		var b Bar
		if err := rows.Scan(&b.Ticker, &b.Time, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.Source); err != nil {
			return nil, fmt.Errorf("scan bar: %w", err)
		}
		res = append(res, b)
	}
	return res, rows.Err()
}

// LatestCloses returns the newest close per ticker.
func (d *Database) LatestCloses(ctx context.Context) (map[string]float64, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT p.ticker, p.close
		FROM price_bars p
		JOIN (
			SELECT ticker, MAX(time) AS max_time FROM price_bars GROUP BY ticker
		) m ON m.ticker = p.ticker AND m.max_time = p.time
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	res := make(map[string]float64)
	for rows.Next() {
		var (
			ticker string
			close  float64
		)
		if err := rows.Scan(&ticker, &close); err != nil {
			return nil, fmt.Errorf("scan close: %w", err)
		}
		res[ticker] = close
	}
	return res, rows.Err()
}

// BarCount returns the number of stored bars for a ticker.
func (d *Database) BarCount(ctx context.Context, ticker string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM price_bars WHERE ticker = ?
	`, ticker).Scan(&n)
	return n, err
}
