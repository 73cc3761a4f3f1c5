package auth

// Permission is a named capability.
type Permission string

// Permission constants.
const (
	PermRegisterAny      Permission = "principal:register:any"
	PermRegisterGuest    Permission = "principal:register:guest"
	PermListAll          Permission = "principal:list:all"
	PermManageNonGuest   Permission = "principal:manage"
	PermManageOwnGuests  Permission = "guest:manage:own"
	PermManageGrantGuest Permission = "guest:manage:granted"
	PermRequestTech      Permission = "tech:request"
	PermActivateGrant    Permission = "tech:activate"
	PermViewSecurityLog  Permission = "security:log:view"
)

// rolePermissions maps each role to its capabilities. It is the single
// source of truth for the role half of every decision; the ownership half
// is evaluated by the functions below.
var rolePermissions = map[Role][]Permission{
	RoleAdmin: {
		PermRegisterAny,
		PermRegisterGuest,
		PermListAll,
		PermManageNonGuest,
		PermViewSecurityLog,
	},
	RoleHomeowner: {
		PermRegisterGuest,
		PermManageOwnGuests,
		PermRequestTech,
	},
	RoleTechnician: {
		PermRegisterGuest,
		PermManageGrantGuest,
		PermActivateGrant,
	},
	RoleGuest: {},
}

// HasPermission reports whether role carries perm.
func HasPermission(role Role, perm Permission) bool {
	for _, p := range rolePermissions[role] {
		if p == perm {
			return true
		}
	}
	return false
}

// PermissionsForRole returns a copy of role's capabilities; nil for an
// unknown role.
func PermissionsForRole(role Role) []Permission {
	perms, ok := rolePermissions[role]
	if !ok {
		return nil
	}
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// Decision is the outcome of a policy check that passed.
type Decision int

const (
	// Allow means the caller may proceed.
	Allow Decision = iota + 1

	// AllowWithGrant means the caller is a technician and may proceed only
	// while holding a live grant from the target's homeowner. The grant
	// must be checked at the time of the action.
	AllowWithGrant
)

// Actor is the caller side of a decision.
type Actor struct {
	ID   string
	Role Role
}

// Target is the principal being acted on.
type Target struct {
	ID      string
	Role    Role
	OwnerID string
}

// ActorFromPrincipal returns the Actor view of p.
func ActorFromPrincipal(p *Principal) Actor {
	return Actor{ID: p.ID, Role: p.Role}
}

// TargetFromPrincipal returns the Target view of p.
func TargetFromPrincipal(p *Principal) Target {
	return Target{ID: p.ID, Role: p.Role, OwnerID: p.OwnerID}
}

// CanRegister decides whether caller may create a principal with role.
func CanRegister(caller Role, role Role) (Decision, error) {
	if !role.Valid() {
		return 0, &InputError{Field: "role", Reason: "unknown role"}
	}
	switch {
	case HasPermission(caller, PermRegisterAny):
		return Allow, nil
	case role != RoleGuest:
		return 0, ErrForbidden
	case HasPermission(caller, PermRegisterGuest) && HasPermission(caller, PermManageGrantGuest):
		return AllowWithGrant, nil
	case HasPermission(caller, PermRegisterGuest):
		return Allow, nil
	default:
		return 0, ErrForbidden
	}
}

// CanListAll decides whether caller may view every principal.
func CanListAll(caller Role) error {
	if HasPermission(caller, PermListAll) {
		return nil
	}
	return ErrForbidden
}

// CanSetActive decides whether caller may enable or disable target.
// Self-modification and admin targets are always rejected. Non-guest
// targets are admin-only. Guest targets belong to their homeowner, matched
// by ID, or to a technician holding that homeowner's live grant.
func CanSetActive(caller Actor, target Target) (Decision, error) {
	if caller.ID == target.ID {
		return 0, ErrSelfModification
	}
	if target.Role == RoleAdmin {
		return 0, ErrAdminTarget
	}
	if target.Role != RoleGuest {
		if HasPermission(caller.Role, PermManageNonGuest) {
			return Allow, nil
		}
		return 0, ErrForbidden
	}
	return canManageGuest(caller, target)
}

// CanDeleteGuest decides whether caller may delete target. Only guests can
// be deleted, and only by whoever may manage them.
func CanDeleteGuest(caller Actor, target Target) (Decision, error) {
	if caller.ID == target.ID {
		return 0, ErrSelfModification
	}
	if target.Role != RoleGuest {
		return 0, ErrForbidden
	}
	return canManageGuest(caller, target)
}

// CanListGuests decides whether caller may list the guests of homeowner.
func CanListGuests(caller Actor, homeownerID string) (Decision, error) {
	switch {
	case HasPermission(caller.Role, PermListAll):
		return Allow, nil
	case HasPermission(caller.Role, PermManageOwnGuests) && caller.ID == homeownerID:
		return Allow, nil
	case HasPermission(caller.Role, PermManageGrantGuest):
		return AllowWithGrant, nil
	default:
		return 0, ErrForbidden
	}
}

// CanRequestTechnician decides whether caller may open a technician grant.
func CanRequestTechnician(caller Role) error {
	if HasPermission(caller, PermRequestTech) {
		return nil
	}
	return ErrForbidden
}

// CanActivateGrant decides whether caller may activate a technician grant.
func CanActivateGrant(caller Role) error {
	if HasPermission(caller, PermActivateGrant) {
		return nil
	}
	return ErrForbidden
}

// CanViewSecurityLog decides whether caller may read the security history.
func CanViewSecurityLog(caller Role) error {
	if HasPermission(caller, PermViewSecurityLog) {
		return nil
	}
	return ErrForbidden
}

func canManageGuest(caller Actor, target Target) (Decision, error) {
	if target.OwnerID == "" {
		return 0, ErrForbidden
	}
	switch {
	case HasPermission(caller.Role, PermManageOwnGuests) && target.OwnerID == caller.ID:
		return Allow, nil
	case HasPermission(caller.Role, PermManageGrantGuest):
		return AllowWithGrant, nil
	default:
		return 0, ErrForbidden
	}
}
