package authz

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"papertrade-core/internal/events"
	"papertrade-core/pkg/db"
	"papertrade-core/pkg/i18n"
)

var (
	ErrNameTaken        = errors.New("group name already taken")
	ErrInvalidName      = errors.New("invalid group name")
	ErrInvalidRole      = errors.New("invalid role")
	ErrNotMember        = errors.New("not a group member")
	ErrForbidden        = errors.New("insufficient role")
	ErrOwnerCannotLeave = errors.New("owner cannot leave the group")
	ErrLastOwner        = errors.New("group must keep at least one owner")
)

const maxGroupNameLen = 64

// openStatuses are the order states the delete cascade cancels.
var openStatuses = []string{"NEW", "PENDING_APPROVAL", "APPROVED"}

// Groups manages collaborative trading groups. Every group is backed by one
// group account; group roles are mirrored onto that account's memberships so
// trading authorization never has to consult the group tables.
type Groups struct {
	database *db.Database
	bus      *events.Bus

	startingCash float64
}

// NewGroups creates the group service.
func NewGroups(database *db.Database, bus *events.Bus, startingCash float64) *Groups {
	return &Groups{database: database, bus: bus, startingCash: startingCash}
}

// Create provisions a group with a fresh trading account and makes the
// creator its owner.
func (g *Groups) Create(ctx context.Context, userID, name string) (*db.Group, error) {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxGroupNameLen {
		return nil, ErrInvalidName
	}
	taken, err := g.database.GroupNameExists(ctx, name, "")
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, ErrNameTaken
	}

	account := db.Account{
		ID:           uuid.NewString(),
		AccountType:  "group",
		Name:         name,
		StartingCash: g.startingCash,
	}
	if err := g.database.CreateAccount(ctx, account); err != nil {
		return nil, fmt.Errorf("create group account: %w", err)
	}
	group := db.Group{
		ID:        uuid.NewString(),
		Name:      name,
		AccountID: account.ID,
		CreatedBy: userID,
		CreatedAt: time.Now().UTC(),
	}
	if err := g.database.CreateGroup(ctx, group); err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	if err := g.database.AddGroupMember(ctx, group.ID, userID, RoleOwner); err != nil {
		return nil, err
	}
	if err := g.database.AddAccountMember(ctx, account.ID, userID, RoleOwner); err != nil {
		return nil, err
	}

	log.Printf(i18n.Get("GroupCreated"), name, account.ID)
	return &group, nil
}

// Join adds the user as a member. Joining a group you already belong to is a
// no-op and never demotes your role.
func (g *Groups) Join(ctx context.Context, groupID, userID string) error {
	group, err := g.database.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	if err := g.database.AddGroupMember(ctx, groupID, userID, RoleMember); err != nil {
		return err
	}
	role, err := g.database.GroupRole(ctx, groupID, userID)
	if err != nil {
		return err
	}
	return g.database.AddAccountMember(ctx, group.AccountID, userID, role)
}

// Leave removes the user's membership. Owners cannot leave; they must delete
// the group or hand over ownership first.
func (g *Groups) Leave(ctx context.Context, groupID, userID string) error {
	group, err := g.database.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	role, err := g.database.GroupRole(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if role == "" {
		return ErrNotMember
	}
	if role == RoleOwner {
		return ErrOwnerCannotLeave
	}
	removed, err := g.database.RemoveGroupMember(ctx, groupID, userID)
	if err != nil {
		return err
	}
	if !removed {
		return ErrNotMember
	}
	_, err = g.database.DB.ExecContext(ctx, `
		DELETE FROM account_memberships WHERE account_id = ? AND user_id = ?
	`, group.AccountID, userID)
	return err
}

// SetRole changes a member's role. Only owners and managers may change
// roles; the last owner cannot be demoted.
func (g *Groups) SetRole(ctx context.Context, groupID, callerID, targetID, role string) error {
	if !ValidRole(role) {
		return fmt.Errorf("%w: %q", ErrInvalidRole, role)
	}
	group, err := g.database.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}
	callerRole, err := g.database.GroupRole(ctx, groupID, callerID)
	if err != nil {
		return err
	}
	if !CanManageGroup(callerRole) {
		return ErrForbidden
	}
	current, err := g.database.GroupRole(ctx, groupID, targetID)
	if err != nil {
		return err
	}
	if current == "" {
		return ErrNotMember
	}
	if current == RoleOwner && role != RoleOwner {
		owners, err := g.database.CountGroupOwners(ctx, groupID)
		if err != nil {
			return err
		}
		if owners <= 1 {
			return ErrLastOwner
		}
	}
	updated, err := g.database.UpdateGroupMemberRole(ctx, groupID, targetID, role)
	if err != nil {
		return err
	}
	if !updated {
		return ErrNotMember
	}
	return g.database.AddAccountMember(ctx, group.AccountID, targetID, role)
}

// Rename changes the group's display name, keeping names unique.
func (g *Groups) Rename(ctx context.Context, groupID, callerID, name string) error {
	name = strings.TrimSpace(name)
	if name == "" || len(name) > maxGroupNameLen {
		return ErrInvalidName
	}
	role, err := g.database.GroupRole(ctx, groupID, callerID)
	if err != nil {
		return err
	}
	if !CanManageGroup(role) {
		return ErrForbidden
	}
	taken, err := g.database.GroupNameExists(ctx, name, groupID)
	if err != nil {
		return err
	}
	if taken {
		return ErrNameTaken
	}
	return g.database.RenameGroup(ctx, groupID, name)
}

// Delete removes the group after cancelling every open order on its account.
// The account and its ledger survive as a terminal record.
func (g *Groups) Delete(ctx context.Context, groupID, callerID string) error {
	role, err := g.database.GroupRole(ctx, groupID, callerID)
	if err != nil {
		return err
	}
	if !CanDeleteGroup(role) {
		return ErrForbidden
	}
	group, err := g.database.GetGroup(ctx, groupID)
	if err != nil {
		return err
	}

	tx, err := g.database.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	open, err := g.database.ListOpenOrdersByGroupTx(ctx, tx, groupID)
	if err != nil {
		return err
	}
	for _, o := range open {
		ok, err := g.database.TransitionOrderTx(ctx, tx, o.ID, "CANCELLED", "", "group deleted", 0, openStatuses...)
		if err != nil {
			return err
		}
		if !ok {
			// already terminal, nothing to cancel
			continue
		}
	}
	if err := g.database.DeleteGroupTx(ctx, tx, groupID); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	for _, o := range open {
		g.publishCancel(o)
	}
	if len(open) > 0 {
		log.Printf(i18n.Get("GroupCascadeCancel"), len(open), group.Name)
	}
	log.Printf(i18n.Get("GroupDeleted"), group.Name)
	return nil
}

func (g *Groups) publishCancel(o db.Order) {
	if g.bus == nil {
		return
	}
	g.bus.Publish(events.EventOrderCancelled, events.OrderUpdate{
		OrderID:   o.ID,
		AccountID: o.AccountID,
		Ticker:    o.Ticker,
		Side:      o.Side,
		Qty:       o.Qty,
		Status:    "CANCELLED",
		Reason:    "group deleted",
	})
}

// Role returns the caller's role in the group, "" when not a member.
func (g *Groups) Role(ctx context.Context, groupID, userID string) (string, error) {
	return g.database.GroupRole(ctx, groupID, userID)
}

// Get returns a group by ID.
func (g *Groups) Get(ctx context.Context, groupID string) (*db.Group, error) {
	return g.database.GetGroup(ctx, groupID)
}

// ListForUser returns the caller's groups with their role.
func (g *Groups) ListForUser(ctx context.Context, userID string) ([]db.GroupWithRole, error) {
	return g.database.ListGroupsByUser(ctx, userID)
}

// Members lists a group's members; any member may look.
func (g *Groups) Members(ctx context.Context, groupID, callerID string) ([]db.GroupMember, error) {
	role, err := g.database.GroupRole(ctx, groupID, callerID)
	if err != nil {
		return nil, err
	}
	if role == "" {
		return nil, ErrNotMember
	}
	return g.database.ListGroupMembers(ctx, groupID)
}

// Discover returns joinable groups matching q.
func (g *Groups) Discover(ctx context.Context, userID, q string, includeMine bool, limit int) ([]db.GroupWithRole, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	return g.database.DiscoverGroups(ctx, userID, q, includeMine, limit)
}
