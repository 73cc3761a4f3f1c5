package household

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/auth"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/techaccess"
)

// ErrNoGrant is returned when a technician acts on a homeowner's guests
// without a live grant from that homeowner.
var ErrNoGrant = fmt.Errorf("%w: no live technician grant", auth.ErrForbidden)

// Auditor records and queries security events. *audit.Recorder implements it.
type Auditor interface {
	auth.Auditor
	History(ctx context.Context, filter audit.Filter) (*audit.ListResult, error)
}

// Config wires a Service.
type Config struct {
	Principals    auth.PrincipalRepository
	Hasher        *auth.Hasher
	Authenticator *auth.Authenticator
	Sessions      *auth.SessionRegistry
	Grants        *techaccess.Engine
	Audit         Auditor
	Logger        *slog.Logger
}

// Service implements the household access operations.
type Service struct {
	principals auth.PrincipalRepository
	hasher     *auth.Hasher
	authn      *auth.Authenticator
	sessions   *auth.SessionRegistry
	grants     *techaccess.Engine
	audit      Auditor
	logger     *slog.Logger
}

// New creates a Service.
func New(cfg Config) *Service {
	return &Service{
		principals: cfg.Principals,
		hasher:     cfg.Hasher,
		authn:      cfg.Authenticator,
		sessions:   cfg.Sessions,
		grants:     cfg.Grants,
		audit:      cfg.Audit,
		logger:     cfg.Logger.With("component", "household"),
	}
}

// Login authenticates and opens a session. Authentication failures are an
// opaque *auth.LoginError.
func (s *Service) Login(ctx context.Context, username string, secret []byte) (*auth.SessionHandle, error) {
	h, err := s.authn.Login(ctx, username, secret)
	return h, s.logged("login", err)
}

// Logout ends the caller's session.
func (s *Service) Logout(ctx context.Context, h *auth.SessionHandle) error {
	if err := s.sessions.Validate(ctx, h); err != nil {
		return s.logged("logout", err)
	}
	return s.logged("logout", s.authn.Logout(ctx, h))
}

// RegisterRequest describes a new principal. Homeowner names the owning
// homeowner of a guest; homeowners registering their own guests leave it
// empty, technicians must set it.
type RegisterRequest struct {
	Username  string
	Secret    []byte
	Role      auth.Role
	Homeowner string
}

// Register creates a principal. Secret is wiped on return.
func (s *Service) Register(ctx context.Context, h *auth.SessionHandle, req RegisterRequest) (*auth.Principal, error) {
	defer clear(req.Secret)

	caller, err := s.caller(ctx, h)
	if err != nil {
		return nil, err
	}

	username := strings.TrimSpace(req.Username)
	if !auth.IsValidUsername(username) {
		return nil, &auth.InputError{Field: "username", Reason: "1-64 letters, digits, '.', '_' or '-'"}
	}
	if len(req.Secret) < auth.MinSecretLength {
		return nil, &auth.InputError{Field: "secret", Reason: fmt.Sprintf("must be at least %d characters", auth.MinSecretLength)}
	}

	decision, err := auth.CanRegister(caller.Role, req.Role)
	if err != nil {
		if errors.Is(err, auth.ErrForbidden) {
			return nil, s.deny(ctx, caller, "register "+string(req.Role), username, err)
		}
		return nil, err
	}

	ownerID, err := s.guestOwner(ctx, caller, decision, req)
	if err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(req.Secret)
	if err != nil {
		return nil, err
	}
	p := &auth.Principal{
		Username:     username,
		PasswordHash: hash,
		Role:         req.Role,
		Active:       true,
		OwnerID:      ownerID,
		CreatedBy:    caller.Username,
	}
	if err := s.principals.Create(ctx, p); err != nil {
		return nil, s.logged("register", err)
	}

	if err := s.audit.Record(ctx, caller.Username, audit.EventUserRegistered, p.Username, "role "+string(p.Role)); err != nil {
		return nil, s.logged("register", err)
	}
	return p, nil
}

// guestOwner resolves the owning homeowner ID for a new principal.
func (s *Service) guestOwner(ctx context.Context, caller *auth.Principal, decision auth.Decision, req RegisterRequest) (string, error) {
	if req.Role != auth.RoleGuest {
		return "", nil
	}
	if caller.Role == auth.RoleHomeowner {
		return caller.ID, nil
	}
	if req.Homeowner == "" {
		if decision == auth.AllowWithGrant {
			return "", &auth.InputError{Field: "homeowner", Reason: "required"}
		}
		return "", nil
	}

	owner, err := s.principals.GetByUsername(ctx, strings.TrimSpace(req.Homeowner))
	if errors.Is(err, auth.ErrPrincipalNotFound) || (err == nil && owner.Role != auth.RoleHomeowner) {
		return "", &auth.InputError{Field: "homeowner", Reason: "no such homeowner"}
	}
	if err != nil {
		return "", s.logged("register", err)
	}

	if decision == auth.AllowWithGrant {
		if err := s.requireGrant(ctx, caller, owner, "register guest", req.Username); err != nil {
			return "", err
		}
	}
	return owner.ID, nil
}

// SetActive enables or disables the principal named username. Disabling
// also revokes the target's session.
func (s *Service) SetActive(ctx context.Context, h *auth.SessionHandle, username string, active bool) error {
	caller, err := s.caller(ctx, h)
	if err != nil {
		return err
	}
	action := "disable"
	event := audit.EventUserDisabled
	if active {
		action = "enable"
		event = audit.EventUserEnabled
	}

	target, err := s.target(ctx, username)
	if err != nil {
		return err
	}

	decision, err := auth.CanSetActive(auth.ActorFromPrincipal(caller), auth.TargetFromPrincipal(target))
	if err != nil {
		return s.deny(ctx, caller, action, target.Username, err)
	}
	scope, err := s.scope(ctx, caller, target, decision, action)
	if err != nil {
		return err
	}

	if err := s.principals.SetActive(ctx, target.ID, active, scope); err != nil {
		if errors.Is(err, auth.ErrPrincipalNotFound) {
			return s.deny(ctx, caller, action, target.Username, auth.ErrForbidden)
		}
		return s.logged(action, err)
	}
	if !active {
		if err := s.sessions.Revoke(ctx, target.Username); err != nil {
			return s.logged(action, err)
		}
	}
	return s.logged(action, s.audit.Record(ctx, caller.Username, event, target.Username, ""))
}

// DeleteGuest removes the guest named username.
func (s *Service) DeleteGuest(ctx context.Context, h *auth.SessionHandle, username string) error {
	caller, err := s.caller(ctx, h)
	if err != nil {
		return err
	}
	target, err := s.target(ctx, username)
	if err != nil {
		return err
	}

	decision, err := auth.CanDeleteGuest(auth.ActorFromPrincipal(caller), auth.TargetFromPrincipal(target))
	if err != nil {
		return s.deny(ctx, caller, "delete", target.Username, err)
	}
	scope, err := s.scope(ctx, caller, target, decision, "delete")
	if err != nil {
		return err
	}

	if err := s.sessions.Revoke(ctx, target.Username); err != nil {
		return s.logged("delete", err)
	}
	if err := s.principals.DeleteGuest(ctx, target.ID, scope); err != nil {
		if errors.Is(err, auth.ErrPrincipalNotFound) {
			return s.deny(ctx, caller, "delete", target.Username, auth.ErrForbidden)
		}
		return s.logged("delete", err)
	}
	return s.logged("delete", s.audit.Record(ctx, caller.Username, audit.EventUserDeleted, target.Username, ""))
}

// ListPrincipals returns every principal. Admin only.
func (s *Service) ListPrincipals(ctx context.Context, h *auth.SessionHandle) ([]auth.Principal, error) {
	caller, err := s.caller(ctx, h)
	if err != nil {
		return nil, err
	}
	if err := auth.CanListAll(caller.Role); err != nil {
		return nil, s.deny(ctx, caller, "list principals", "", err)
	}
	list, err := s.principals.List(ctx)
	return list, s.logged("list principals", err)
}

// ListGuests returns the guests of homeowner. An empty homeowner means the
// caller's own guests.
func (s *Service) ListGuests(ctx context.Context, h *auth.SessionHandle, homeowner string) ([]auth.Principal, error) {
	caller, err := s.caller(ctx, h)
	if err != nil {
		return nil, err
	}

	owner := caller
	if homeowner != "" && !strings.EqualFold(homeowner, caller.Username) {
		if owner, err = s.target(ctx, homeowner); err != nil {
			return nil, err
		}
	}
	if owner.Role != auth.RoleHomeowner {
		return nil, &auth.InputError{Field: "homeowner", Reason: "no such homeowner"}
	}

	decision, err := auth.CanListGuests(auth.ActorFromPrincipal(caller), owner.ID)
	if err != nil {
		return nil, s.deny(ctx, caller, "list guests", owner.Username, err)
	}
	if decision == auth.AllowWithGrant {
		if err := s.requireGrant(ctx, caller, owner, "list guests", owner.Username); err != nil {
			return nil, err
		}
	}

	guests, err := s.principals.ListByOwner(ctx, owner.ID)
	return guests, s.logged("list guests", err)
}

// RequestTechnician opens a time-bounded grant for the named technician
// over the calling homeowner's guests.
func (s *Service) RequestTechnician(ctx context.Context, h *auth.SessionHandle, technician string, minutes int, description string) (*techaccess.Job, error) {
	caller, err := s.caller(ctx, h)
	if err != nil {
		return nil, err
	}
	if err := auth.CanRequestTechnician(caller.Role); err != nil {
		return nil, s.deny(ctx, caller, "request technician", technician, err)
	}

	tech, err := s.principals.GetByUsername(ctx, strings.TrimSpace(technician))
	if errors.Is(err, auth.ErrPrincipalNotFound) || (err == nil && (tech.Role != auth.RoleTechnician || !tech.Active)) {
		return nil, &auth.InputError{Field: "technician", Reason: "no such active technician"}
	}
	if err != nil {
		return nil, s.logged("request technician", err)
	}

	job, err := s.grants.RequestGrant(ctx, caller.Username, tech.Username, minutes, description)
	return job, s.logged("request technician", err)
}

// ActivateTechnicianAccess re-authenticates the calling technician with
// secret and activates the grant jobID. Secret is wiped on return.
func (s *Service) ActivateTechnicianAccess(ctx context.Context, h *auth.SessionHandle, jobID string, secret []byte) (*techaccess.Job, error) {
	defer clear(secret)

	caller, err := s.caller(ctx, h)
	if err != nil {
		return nil, err
	}
	if err := auth.CanActivateGrant(caller.Role); err != nil {
		return nil, s.deny(ctx, caller, "activate grant", jobID, err)
	}
	if err := s.authn.Reauthenticate(ctx, caller, secret); err != nil {
		return nil, s.logged("activate grant", err)
	}

	job, err := s.grants.Activate(ctx, caller.Username, jobID)
	return job, s.logged("activate grant", err)
}

// JobsForTechnician lists the calling technician's jobs.
func (s *Service) JobsForTechnician(ctx context.Context, h *auth.SessionHandle) ([]techaccess.Job, error) {
	caller, err := s.caller(ctx, h)
	if err != nil {
		return nil, err
	}
	if err := auth.CanActivateGrant(caller.Role); err != nil {
		return nil, s.deny(ctx, caller, "list technician jobs", "", err)
	}
	jobs, err := s.grants.JobsForTechnician(ctx, caller.Username)
	return jobs, s.logged("list technician jobs", err)
}

// JobsForHomeowner lists the calling homeowner's jobs.
func (s *Service) JobsForHomeowner(ctx context.Context, h *auth.SessionHandle) ([]techaccess.Job, error) {
	caller, err := s.caller(ctx, h)
	if err != nil {
		return nil, err
	}
	if err := auth.CanRequestTechnician(caller.Role); err != nil {
		return nil, s.deny(ctx, caller, "list homeowner jobs", "", err)
	}
	jobs, err := s.grants.JobsForHomeowner(ctx, caller.Username)
	return jobs, s.logged("list homeowner jobs", err)
}

// SecurityHistory returns security events matching filter. Admin only.
func (s *Service) SecurityHistory(ctx context.Context, h *auth.SessionHandle, filter audit.Filter) (*audit.ListResult, error) {
	caller, err := s.caller(ctx, h)
	if err != nil {
		return nil, err
	}
	if err := auth.CanViewSecurityLog(caller.Role); err != nil {
		return nil, s.deny(ctx, caller, "view security log", "", err)
	}
	page, err := s.audit.History(ctx, filter)
	return page, s.logged("security history", err)
}

// caller validates h and reloads the principal behind it. A principal that
// was disabled or deleted since login loses its session here.
func (s *Service) caller(ctx context.Context, h *auth.SessionHandle) (*auth.Principal, error) {
	if err := s.sessions.Validate(ctx, h); err != nil {
		return nil, s.logged("validate session", err)
	}

	p, err := s.principals.GetByID(ctx, h.PrincipalID)
	if err == nil && p.Active {
		return p, nil
	}
	if err != nil && !errors.Is(err, auth.ErrPrincipalNotFound) {
		return nil, s.logged("load caller", err)
	}
	if rerr := s.sessions.Revoke(ctx, h.Username); rerr != nil {
		return nil, s.logged("revoke session", rerr)
	}
	return nil, auth.ErrSessionInvalid
}

// target loads the principal named username.
func (s *Service) target(ctx context.Context, username string) (*auth.Principal, error) {
	p, err := s.principals.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		return nil, s.logged("load target", err)
	}
	return p, nil
}

// scope returns the owner ID a guest mutation is restricted to, checking
// the technician's grant when the decision requires one. Admin mutations
// of non-guests are unscoped.
func (s *Service) scope(ctx context.Context, caller, target *auth.Principal, decision auth.Decision, action string) (string, error) {
	if target.Role != auth.RoleGuest {
		return "", nil
	}
	if decision == auth.AllowWithGrant {
		if target.OwnerID == "" {
			return "", s.deny(ctx, caller, action, target.Username, ErrNoGrant)
		}
		owner, err := s.principals.GetByID(ctx, target.OwnerID)
		if err != nil {
			return "", s.logged(action, err)
		}
		if err := s.requireGrant(ctx, caller, owner, action, target.Username); err != nil {
			return "", err
		}
		return owner.ID, nil
	}
	return caller.ID, nil
}

// requireGrant checks, at the moment of the action, that the technician
// caller holds a live grant from owner.
func (s *Service) requireGrant(ctx context.Context, caller, owner *auth.Principal, action, target string) error {
	ok, err := s.grants.HasActivePermission(ctx, caller.Username, owner.Username)
	if err != nil {
		return s.logged(action, err)
	}
	if !ok {
		return s.deny(ctx, caller, action, target, ErrNoGrant)
	}
	return nil
}

// deny records an ACCESS_DENIED event and returns reason. A failure to
// record takes precedence.
func (s *Service) deny(ctx context.Context, caller *auth.Principal, action, target string, reason error) error {
	if err := s.audit.Record(ctx, caller.Username, audit.EventAccessDenied, target, action+": "+reason.Error()); err != nil {
		return s.logged(action, err)
	}
	return reason
}

// logged logs store failures and passes err through.
func (s *Service) logged(op string, err error) error {
	if err != nil && database.IsStoreError(err) {
		s.logger.Error("store failure", "op", op, "error", err)
	}
	return err
}
