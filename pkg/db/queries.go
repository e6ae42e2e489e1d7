package db

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// CreateUser inserts a new user row.
func (d *Database) CreateUser(ctx context.Context, u User) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, created_at, updated_at)
		VALUES (?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP), COALESCE(?, CURRENT_TIMESTAMP))
	`, u.ID, strings.ToLower(u.Email), u.PasswordHash, u.CreatedAt, u.UpdatedAt)
	return err
}

// GetUserByEmail returns a user by email or nil if not found.
func (d *Database) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE email = ?
	`, strings.ToLower(email))
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}

// GetUserByID returns a user by ID.
func (d *Database) GetUserByID(ctx context.Context, id string) (*User, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, email, password_hash, created_at, updated_at
		FROM users WHERE id = ?
	`, id)
	var u User
	if err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.CreatedAt, &u.UpdatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

// CreateAccount inserts a new account row.
func (d *Database) CreateAccount(ctx context.Context, a Account) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO accounts (
			id, account_type, name, starting_cash,
			max_order_notional, max_position_abs_qty, earnings_lockout, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, a.ID, a.AccountType, a.Name, a.StartingCash,
		a.MaxOrderNotional, a.MaxPositionAbsQty, boolToInt(a.EarningsLockout), a.CreatedAt)
	return err
}

// GetAccount returns an account by ID.
func (d *Database) GetAccount(ctx context.Context, id string) (*Account, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, account_type, name, starting_cash,
		       max_order_notional, max_position_abs_qty,
		       COALESCE(earnings_lockout, 0), created_at
		FROM accounts WHERE id = ?
	`, id)
	return scanAccount(row)
}

func scanAccount(row *sql.Row) (*Account, error) {
	var (
		a       Account
		notional sql.NullFloat64
		posQty   sql.NullFloat64
		lockout  int
	)
	if err := row.Scan(&a.ID, &a.AccountType, &a.Name, &a.StartingCash,
		&notional, &posQty, &lockout, &a.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan account: %w", err)
	}
	if notional.Valid {
		a.MaxOrderNotional = &notional.Float64
	}
	if posQty.Valid {
		a.MaxPositionAbsQty = &posQty.Float64
	}
	a.EarningsLockout = lockout != 0
	return &a, nil
}

// ListAccountIDs returns all account IDs (used by leaderboard and reconciliation).
func (d *Database) ListAccountIDs(ctx context.Context) ([]string, error) {
	rows, err := d.DB.QueryContext(ctx, `SELECT id FROM accounts ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AccountWithRole is an account joined with the caller's membership role.
type AccountWithRole struct {
	Account
	Role string
}

// ListAccountsByUser returns the accounts a user belongs to, with role.
func (d *Database) ListAccountsByUser(ctx context.Context, userID string) ([]AccountWithRole, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT a.id, a.account_type, a.name, a.starting_cash,
		       a.max_order_notional, a.max_position_abs_qty,
		       COALESCE(a.earnings_lockout, 0), a.created_at, am.role
		FROM account_memberships am
		JOIN accounts a ON a.id = am.account_id
		WHERE am.user_id = ?
		ORDER BY a.created_at, a.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []AccountWithRole
	for rows.Next() {
		var (
			ar      AccountWithRole
			notional sql.NullFloat64
			posQty   sql.NullFloat64
			lockout  int
		)
		if err := rows.Scan(&ar.ID, &ar.AccountType, &ar.Name, &ar.StartingCash,
			&notional, &posQty, &lockout, &ar.CreatedAt, &ar.Role); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		if notional.Valid {
			ar.MaxOrderNotional = &notional.Float64
		}
		if posQty.Valid {
			ar.MaxPositionAbsQty = &posQty.Float64
		}
		ar.EarningsLockout = lockout != 0
		res = append(res, ar)
	}
	return res, rows.Err()
}

// AddAccountMember upserts an account membership.
func (d *Database) AddAccountMember(ctx context.Context, accountID, userID, role string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO account_memberships (account_id, user_id, role)
		VALUES (?, ?, ?)
		ON CONFLICT(account_id, user_id) DO UPDATE SET role = excluded.role
	`, accountID, userID, role)
	return err
}

// AccountRole returns the user's role on an account, or "" when not a member.
func (d *Database) AccountRole(ctx context.Context, accountID, userID string) (string, error) {
	var role string
	err := d.DB.QueryRowContext(ctx, `
		SELECT role FROM account_memberships WHERE account_id = ? AND user_id = ?
	`, accountID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return role, err
}

// UpdateRiskLimits sets the per-account risk limit columns. Nil pointers clear values.
func (d *Database) UpdateRiskLimits(ctx context.Context, accountID string, maxOrderNotional, maxPositionAbsQty *float64, earningsLockout bool) error {
	_, err := d.DB.ExecContext(ctx, `
		UPDATE accounts
		SET max_order_notional = ?, max_position_abs_qty = ?, earnings_lockout = ?
		WHERE id = ?
	`, maxOrderNotional, maxPositionAbsQty, boolToInt(earningsLockout), accountID)
	return err
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
