package db

import (
	"context"
	"database/sql"
	"fmt"
)

const orderColumns = `id, account_id, COALESCE(group_id, ''), ticker, side, kind, qty,
	COALESCE(limit_price, 0), COALESCE(fill_price, 0), status, COALESCE(reason, ''),
	requested_by, COALESCE(approved_by, ''), created_at, updated_at`

func scanOrder(s interface{ Scan(...any) error }) (Order, error) {
	var o Order
	err := s.Scan(&o.ID, &o.AccountID, &o.GroupID, &o.Ticker, &o.Side, &o.Kind, &o.Qty,
		&o.LimitPrice, &o.FillPrice, &o.Status, &o.Reason,
		&o.RequestedBy, &o.ApprovedBy, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

// CreateOrder inserts a new order row.
func (d *Database) CreateOrder(ctx context.Context, o Order) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO orders (
			id, account_id, group_id, ticker, side, kind, qty, limit_price, fill_price,
			status, reason, requested_by, approved_by, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, o.ID, o.AccountID, o.GroupID, o.Ticker, o.Side, o.Kind, o.Qty, o.LimitPrice, o.FillPrice,
		o.Status, o.Reason, o.RequestedBy, o.ApprovedBy, o.CreatedAt, o.UpdatedAt)
	return err
}

// GetOrder returns an order by ID.
func (d *Database) GetOrder(ctx context.Context, id string) (*Order, error) {
	row := d.DB.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = ?`, id)
	o, err := scanOrder(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan order: %w", err)
	}
	return &o, nil
}

// ListOrdersByAccount returns orders for an account, newest first.
// When openOnly is set only non-terminal orders are returned.
func (d *Database) ListOrdersByAccount(ctx context.Context, accountID string, openOnly bool, limit int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE account_id = ?`
	if openOnly {
		query += ` AND status IN ('NEW','PENDING_APPROVAL','APPROVED')`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	return d.queryOrders(ctx, query, accountID, limit)
}

// ListOrdersByGroup returns orders placed against a group's account, newest first.
func (d *Database) ListOrdersByGroup(ctx context.Context, groupID string, openOnly bool, limit int) ([]Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE group_id = ?`
	if openOnly {
		query += ` AND status IN ('NEW','PENDING_APPROVAL','APPROVED')`
	}
	query += ` ORDER BY created_at DESC, id DESC LIMIT ?`
	return d.queryOrders(ctx, query, groupID, limit)
}

// ListPendingApprovalsForUser returns PENDING_APPROVAL orders the user may approve:
// orders on accounts where they are owner/manager, or on groups where they are
// owner/manager.
func (d *Database) ListPendingApprovalsForUser(ctx context.Context, userID string) ([]Order, error) {
	query := `
		SELECT ` + orderColumns + ` FROM orders o
		WHERE o.status = 'PENDING_APPROVAL'
		  AND (
			EXISTS (
				SELECT 1 FROM account_memberships am
				WHERE am.account_id = o.account_id
				  AND am.user_id = ?
				  AND am.role IN ('owner','manager')
			)
			OR EXISTS (
				SELECT 1 FROM group_memberships gm
				WHERE gm.group_id = o.group_id
				  AND gm.user_id = ?
				  AND gm.role IN ('owner','manager')
			)
		  )
		ORDER BY o.created_at DESC`
	return d.queryOrders(ctx, query, userID, userID)
}

// ListWorkingOrders returns APPROVED LIMIT/STOP orders for a ticker, oldest first.
func (d *Database) ListWorkingOrders(ctx context.Context, ticker string) ([]Order, error) {
	query := `
		SELECT ` + orderColumns + ` FROM orders
		WHERE ticker = ? AND status = 'APPROVED' AND kind IN ('LIMIT','STOP')
		ORDER BY created_at, id`
	return d.queryOrders(ctx, query, ticker)
}

// ListOpenOrdersByGroupTx returns non-terminal orders for a group inside a transaction.
func (d *Database) ListOpenOrdersByGroupTx(ctx context.Context, tx *sql.Tx, groupID string) ([]Order, error) {
	rows, err := tx.QueryContext(ctx, `
		SELECT `+orderColumns+` FROM orders
		WHERE group_id = ? AND status IN ('NEW','PENDING_APPROVAL','APPROVED')
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func (d *Database) queryOrders(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectOrders(rows)
}

func collectOrders(rows *sql.Rows) ([]Order, error) {
	var res []Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		res = append(res, o)
	}
	return res, rows.Err()
}

// TransitionOrderTx performs an atomic check-and-set of order status inside tx.
// It only succeeds when the order is currently in one of fromStatuses; the
// returned bool reports whether a row was updated.
func (d *Database) TransitionOrderTx(ctx context.Context, tx *sql.Tx, id, toStatus, approvedBy, reason string, fillPrice float64, fromStatuses ...string) (bool, error) {
	if len(fromStatuses) == 0 {
		return false, fmt.Errorf("transition order %s: no source statuses", id)
	}
	placeholders := ""
	for i := range fromStatuses {
		if i > 0 {
			placeholders += ","
		}
		placeholders += "?"
	}
	res, err := tx.ExecContext(ctx, `
		UPDATE orders
		SET status = ?,
		    approved_by = CASE WHEN ? != '' THEN ? ELSE approved_by END,
		    reason = CASE WHEN ? != '' THEN ? ELSE reason END,
		    fill_price = CASE WHEN ? > 0 THEN ? ELSE fill_price END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN (`+placeholders+`)
	`, append([]any{toStatus, approvedBy, approvedBy, reason, reason, fillPrice, fillPrice, id}, toAny(fromStatuses)...)...)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// InsertTransactionTx appends a ledger entry inside a transaction.
func (d *Database) InsertTransactionTx(ctx context.Context, tx *sql.Tx, t Transaction) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO transactions (
			id, account_id, group_id, order_id, ticker, side, qty, price, kind, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, t.ID, t.AccountID, t.GroupID, t.OrderID, t.Ticker, t.Side, t.Qty, t.Price, t.Kind, t.CreatedAt)
	return err
}

// CashFlowTx returns the signed sum of transaction cash effects for an account
// inside a transaction (BUY debits, SELL credits).
func (d *Database) CashFlowTx(ctx context.Context, tx *sql.Tx, accountID string) (float64, error) {
	var flow float64
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN side = 'BUY' THEN -qty * price ELSE qty * price END), 0)
		FROM transactions WHERE account_id = ?
	`, accountID).Scan(&flow)
	return flow, err
}

// NetPositionTx returns the net quantity held for (account, ticker) inside a transaction.
func (d *Database) NetPositionTx(ctx context.Context, tx *sql.Tx, accountID, ticker string) (float64, error) {
	var qty float64
	err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN side = 'BUY' THEN qty ELSE -qty END), 0)
		FROM transactions WHERE account_id = ? AND ticker = ?
	`, accountID, ticker).Scan(&qty)
	return qty, err
}

// CashFlow is the non-transactional variant of CashFlowTx.
func (d *Database) CashFlow(ctx context.Context, accountID string) (float64, error) {
	var flow float64
	err := d.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN side = 'BUY' THEN -qty * price ELSE qty * price END), 0)
		FROM transactions WHERE account_id = ?
	`, accountID).Scan(&flow)
	return flow, err
}

// NetPosition is the non-transactional variant of NetPositionTx.
func (d *Database) NetPosition(ctx context.Context, accountID, ticker string) (float64, error) {
	var qty float64
	err := d.DB.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN side = 'BUY' THEN qty ELSE -qty END), 0)
		FROM transactions WHERE account_id = ? AND ticker = ?
	`, accountID, ticker).Scan(&qty)
	return qty, err
}

// ListTransactionsByAccount returns ledger entries for an account, oldest first.
func (d *Database) ListTransactionsByAccount(ctx context.Context, accountID string) ([]Transaction, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, account_id, COALESCE(group_id, ''), COALESCE(order_id, ''),
		       ticker, side, qty, price, kind, created_at
		FROM transactions
		WHERE account_id = ?
		ORDER BY created_at, id
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(&t.ID, &t.AccountID, &t.GroupID, &t.OrderID,
			&t.Ticker, &t.Side, &t.Qty, &t.Price, &t.Kind, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// CountFillsByOrder returns the number of FILL transactions recorded for an order.
func (d *Database) CountFillsByOrder(ctx context.Context, orderID string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM transactions WHERE order_id = ? AND kind = 'FILL'
	`, orderID).Scan(&n)
	return n, err
}
