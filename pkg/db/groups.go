package db

import (
	"context"
	"database/sql"
	"fmt"
)

// CreateGroup inserts a group row.
func (d *Database) CreateGroup(ctx context.Context, g Group) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO groups (id, name, account_id, created_by, created_at)
		VALUES (?, ?, ?, ?, COALESCE(?, CURRENT_TIMESTAMP))
	`, g.ID, g.Name, g.AccountID, g.CreatedBy, g.CreatedAt)
	return err
}

// GetGroup returns a group by ID.
func (d *Database) GetGroup(ctx context.Context, id string) (*Group, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, name, account_id, created_by, created_at FROM groups WHERE id = ?
	`, id)
	var g Group
	if err := row.Scan(&g.ID, &g.Name, &g.AccountID, &g.CreatedBy, &g.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// GetGroupByAccount resolves the group backing a group account.
func (d *Database) GetGroupByAccount(ctx context.Context, accountID string) (*Group, error) {
	row := d.DB.QueryRowContext(ctx, `
		SELECT id, name, account_id, created_by, created_at FROM groups WHERE account_id = ?
	`, accountID)
	var g Group
	if err := row.Scan(&g.ID, &g.Name, &g.AccountID, &g.CreatedBy, &g.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &g, nil
}

// GroupNameExists reports whether a group name is taken (case-insensitive),
// excluding excludeID when non-empty.
func (d *Database) GroupNameExists(ctx context.Context, name, excludeID string) (bool, error) {
	var one int
	err := d.DB.QueryRowContext(ctx, `
		SELECT 1 FROM groups WHERE name = ? COLLATE NOCASE AND id != ? LIMIT 1
	`, name, excludeID).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	return err == nil, err
}

// RenameGroup updates a group's name.
func (d *Database) RenameGroup(ctx context.Context, id, name string) error {
	_, err := d.DB.ExecContext(ctx, `UPDATE groups SET name = ? WHERE id = ?`, name, id)
	return err
}

// DeleteGroupTx removes the group and its memberships inside a transaction.
// The group's account and its ledger rows are kept as terminal records.
func (d *Database) DeleteGroupTx(ctx context.Context, tx *sql.Tx, id string) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM group_memberships WHERE group_id = ?`, id); err != nil {
		return fmt.Errorf("delete memberships: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM groups WHERE id = ?`, id); err != nil {
		return fmt.Errorf("delete group: %w", err)
	}
	return nil
}

// AddGroupMember upserts a group membership. Existing roles are preserved
// (joining twice does not demote an owner).
func (d *Database) AddGroupMember(ctx context.Context, groupID, userID, role string) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO group_memberships (group_id, user_id, role)
		VALUES (?, ?, ?)
		ON CONFLICT(group_id, user_id) DO NOTHING
	`, groupID, userID, role)
	return err
}

// UpdateGroupMemberRole changes an existing member's role; returns whether a
// row was updated.
func (d *Database) UpdateGroupMemberRole(ctx context.Context, groupID, userID, role string) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE group_memberships SET role = ? WHERE group_id = ? AND user_id = ?
	`, role, groupID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// CountGroupOwners returns the number of owners in a group.
func (d *Database) CountGroupOwners(ctx context.Context, groupID string) (int, error) {
	var n int
	err := d.DB.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM group_memberships WHERE group_id = ? AND role = 'owner'
	`, groupID).Scan(&n)
	return n, err
}

// RemoveGroupMember deletes a membership; returns whether a row was removed.
func (d *Database) RemoveGroupMember(ctx context.Context, groupID, userID string) (bool, error) {
	res, err := d.DB.ExecContext(ctx, `
		DELETE FROM group_memberships WHERE group_id = ? AND user_id = ?
	`, groupID, userID)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// GroupRole returns the user's role in a group, or "" when not a member.
func (d *Database) GroupRole(ctx context.Context, groupID, userID string) (string, error) {
	var role string
	err := d.DB.QueryRowContext(ctx, `
		SELECT role FROM group_memberships WHERE group_id = ? AND user_id = ?
	`, groupID, userID).Scan(&role)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return role, err
}

// GroupWithRole is a group joined with the caller's membership role.
type GroupWithRole struct {
	Group
	Role string
}

// ListGroupsByUser returns the groups a user belongs to, newest first.
func (d *Database) ListGroupsByUser(ctx context.Context, userID string) ([]GroupWithRole, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT g.id, g.name, g.account_id, g.created_by, g.created_at, gm.role
		FROM group_memberships gm
		JOIN groups g ON g.id = gm.group_id
		WHERE gm.user_id = ?
		ORDER BY g.created_at DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []GroupWithRole
	for rows.Next() {
		var gr GroupWithRole
		if err := rows.Scan(&gr.ID, &gr.Name, &gr.AccountID, &gr.CreatedBy, &gr.CreatedAt, &gr.Role); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		res = append(res, gr)
	}
	return res, rows.Err()
}

// GroupMember is a membership joined with the user's email.
type GroupMember struct {
	UserID string
	Email  string
	Role   string
}

// ListGroupMembers returns a group's members ordered by role then email.
func (d *Database) ListGroupMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT gm.user_id, u.email, gm.role
		FROM group_memberships gm
		JOIN users u ON u.id = gm.user_id
		WHERE gm.group_id = ?
		ORDER BY gm.role, u.email
	`, groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []GroupMember
	for rows.Next() {
		var m GroupMember
		if err := rows.Scan(&m.UserID, &m.Email, &m.Role); err != nil {
			return nil, fmt.Errorf("scan member: %w", err)
		}
		res = append(res, m)
	}
	return res, rows.Err()
}

// DiscoverGroups returns groups matching q that the user has not joined
// (unless includeMine), newest first.
func (d *Database) DiscoverGroups(ctx context.Context, userID, q string, includeMine bool, limit int) ([]GroupWithRole, error) {
	query := `
		SELECT g.id, g.name, g.account_id, g.created_by, g.created_at, COALESCE(gm.role, '')
		FROM groups g
		LEFT JOIN group_memberships gm ON gm.group_id = g.id AND gm.user_id = ?
		WHERE 1 = 1`
	args := []any{userID}
	if q != "" {
		query += ` AND g.name LIKE ? COLLATE NOCASE`
		args = append(args, "%"+q+"%")
	}
	if !includeMine {
		query += ` AND gm.user_id IS NULL`
	}
	query += ` ORDER BY g.created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := d.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var res []GroupWithRole
	for rows.Next() {
		var gr GroupWithRole
		if err := rows.Scan(&gr.ID, &gr.Name, &gr.AccountID, &gr.CreatedBy, &gr.CreatedAt, &gr.Role); err != nil {
			return nil, fmt.Errorf("scan group: %w", err)
		}
		res = append(res, gr)
	}
	return res, rows.Err()
}
