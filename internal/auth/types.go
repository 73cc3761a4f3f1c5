package auth

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/audit"
)

// usernamePattern: alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// MinSecretLength is the shortest password or PIN accepted at registration.
const MinSecretLength = 8

// IsValidUsername checks if a username meets format requirements. The audit
// system actor is reserved in any case so the trail stays unambiguous.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username) && !strings.EqualFold(username, audit.SystemActor)
}

// Role is an authorisation tier. The set is closed.
type Role string

const (
	// RoleAdmin manages every non-guest account and may register any role.
	RoleAdmin Role = "admin"

	// RoleHomeowner owns guest accounts and hires technicians.
	RoleHomeowner Role = "homeowner"

	// RoleTechnician acts on a homeowner's guests while holding a live grant.
	RoleTechnician Role = "technician"

	// RoleGuest can log in and use the device but manage nobody.
	RoleGuest Role = "guest"
)

// Roles lists every valid role.
var Roles = []Role{RoleAdmin, RoleHomeowner, RoleTechnician, RoleGuest}

// Valid reports whether r is one of the four roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleHomeowner, RoleTechnician, RoleGuest:
		return true
	default:
		return false
	}
}

// ParseRole converts stored or user-supplied text to a Role.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToLower(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", &InputError{Field: "role", Reason: fmt.Sprintf("unknown role %q", s)}
	}
	return r, nil
}

// Principal is an authenticable account.
type Principal struct {
	ID           string     `json:"id"`
	Username     string     `json:"username"`
	PasswordHash string     `json:"-"` // never serialised
	Role         Role       `json:"role"`
	Active       bool       `json:"is_active"`
	OwnerID      string     `json:"homeowner_id,omitempty"` // guests only
	CreatedBy    string     `json:"created_by,omitempty"`
	LastLogin    *time.Time `json:"last_login_time,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrLocked             = errors.New("account locked")
	ErrConcurrentSession  = errors.New("session already active")

	ErrPrincipalNotFound = errors.New("principal not found")
	ErrUsernameExists    = errors.New("username already exists")
	ErrSessionInvalid    = errors.New("session invalid or expired")

	ErrForbidden        = errors.New("insufficient permissions")
	ErrSelfModification = fmt.Errorf("%w: cannot modify own account", ErrForbidden)
	ErrAdminTarget      = fmt.Errorf("%w: admin accounts cannot be modified", ErrForbidden)
)

// InputError reports malformed caller input. The caller can re-prompt.
type InputError struct {
	Field  string
	Reason string
}

func (e *InputError) Error() string {
	return "invalid " + e.Field + ": " + e.Reason
}

// IsInputError reports whether err is, or wraps, an InputError.
func IsInputError(err error) bool {
	var ie *InputError
	return errors.As(err, &ie)
}

// LoginError is returned for every failed login. Its message never says
// why; use errors.Is against ErrInvalidCredentials, ErrAccountDisabled,
// ErrLocked or ErrConcurrentSession to find out.
type LoginError struct {
	reason error
}

func (e *LoginError) Error() string { return "login failed" }

func (e *LoginError) Unwrap() error { return e.reason }

func loginFailed(reason error) error {
	return &LoginError{reason: reason}
}
