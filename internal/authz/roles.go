package authz

// Group and account roles. Group accounts mirror the group's roles in their
// account memberships; individual accounts have a single owner.
const (
	RoleOwner   = "owner"
	RoleManager = "manager"
	RoleMember  = "member"
)

// ValidRole reports whether s is a known role.
func ValidRole(s string) bool {
	switch s {
	case RoleOwner, RoleManager, RoleMember:
		return true
	}
	return false
}

// CanTradeImmediately reports whether a role's orders skip the approval
// queue. Members trade too, but their orders wait for an owner or manager.
func CanTradeImmediately(role string) bool {
	return role == RoleOwner || role == RoleManager
}

// CanApprove reports whether a role may approve or reject pending orders.
func CanApprove(role string) bool {
	return role == RoleOwner || role == RoleManager
}

// CanManageGroup reports whether a role may rename the group or change
// memberships.
func CanManageGroup(role string) bool {
	return role == RoleOwner || role == RoleManager
}

// CanDeleteGroup reports whether a role may delete the group.
func CanDeleteGroup(role string) bool {
	return role == RoleOwner
}
