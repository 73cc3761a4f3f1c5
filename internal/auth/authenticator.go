package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/clock"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

// Auditor records security events. *audit.Recorder implements it.
type Auditor interface {
	Record(ctx context.Context, actor string, typ audit.EventType, target, description string) error
}

// AuthenticatorConfig wires an Authenticator.
type AuthenticatorConfig struct {
	Principals PrincipalRepository
	Hasher     *Hasher
	Lockout    *LockoutGuard
	Sessions   *SessionRegistry
	Audit      Auditor
	Clock      clock.Clock
	Jitter     clock.Jitter
	MinDelay   time.Duration
	MaxDelay   time.Duration
	Logger     *slog.Logger
}

// Authenticator is the login entry point.
type Authenticator struct {
	principals PrincipalRepository
	hasher     *Hasher
	lockout    *LockoutGuard
	sessions   *SessionRegistry
	audit      Auditor
	clock      clock.Clock
	jitter     clock.Jitter
	minDelay   time.Duration
	maxDelay   time.Duration
	logger     *slog.Logger
}

// NewAuthenticator creates an Authenticator. Clock and Jitter default to
// the real clock and crypto/rand.
func NewAuthenticator(cfg AuthenticatorConfig) *Authenticator {
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Jitter == nil {
		cfg.Jitter = clock.CryptoJitter()
	}
	return &Authenticator{
		principals: cfg.Principals,
		hasher:     cfg.Hasher,
		lockout:    cfg.Lockout,
		sessions:   cfg.Sessions,
		audit:      cfg.Audit,
		clock:      cfg.Clock,
		jitter:     cfg.Jitter,
		minDelay:   cfg.MinDelay,
		maxDelay:   cfg.MaxDelay,
		logger:     cfg.Logger.With("component", "auth"),
	}
}

// Login authenticates username with secret and issues a session.
//
// The order is fixed: lockout check, lookup, active check, verification,
// session issue. Locked principals are rejected before any hashing work.
// Unknown and disabled principals get the same random delay and dummy
// verification as a wrong password. secret is wiped on return.
//
// Authentication failures are *LoginError; store failures are returned as
// they are.
func (a *Authenticator) Login(ctx context.Context, username string, secret []byte) (*SessionHandle, error) {
	defer clear(secret)

	username = strings.TrimSpace(username)
	if username == "" {
		return nil, &InputError{Field: "username", Reason: "required"}
	}

	status, err := a.lockout.CheckLockout(ctx, username)
	if err != nil {
		return nil, err
	}
	if status.Locked {
		if err := a.record(ctx, username, audit.EventLoginLocked, "",
			"locked until "+database.FormatTime(status.Until)); err != nil {
			return nil, err
		}
		return nil, loginFailed(ErrLocked)
	}

	p, err := a.principals.GetByUsername(ctx, username)
	if errors.Is(err, ErrPrincipalNotFound) {
		a.delay()
		a.hasher.VerifyDummy(secret)
		return nil, a.fail(ctx, username, audit.EventLoginFailure, "unknown username", ErrInvalidCredentials)
	}
	if err != nil {
		return nil, err
	}

	if !p.Active {
		a.delay()
		a.hasher.VerifyDummy(secret)
		return nil, a.fail(ctx, p.Username, audit.EventLoginDisabled, "account disabled", ErrAccountDisabled)
	}

	if !a.hasher.Verify(secret, p.PasswordHash) {
		a.delay()
		return nil, a.fail(ctx, p.Username, audit.EventLoginFailure, "wrong secret", ErrInvalidCredentials)
	}

	return a.succeed(ctx, p)
}

func (a *Authenticator) succeed(ctx context.Context, p *Principal) (*SessionHandle, error) {
	if err := a.lockout.RecordSuccess(ctx, p.Username); err != nil {
		return nil, err
	}

	h, err := a.sessions.Issue(ctx, p)
	if errors.Is(err, ErrConcurrentSession) {
		if err := a.record(ctx, p.Username, audit.EventLoginConcurrent, "", "live session exists"); err != nil {
			return nil, err
		}
		return nil, loginFailed(ErrConcurrentSession)
	}
	if err != nil {
		return nil, err
	}

	if err := a.principals.TouchLastLogin(ctx, p.ID); err != nil {
		a.revokeQuietly(ctx, p.Username)
		return nil, err
	}

	if err := a.record(ctx, p.Username, audit.EventLoginSuccess, "", "role "+string(p.Role)); err != nil {
		a.revokeQuietly(ctx, p.Username)
		return nil, err
	}
	return h, nil
}

// fail records a FAILURE attempt, audits the reason and any lock it
// triggered, and returns the opaque login error.
func (a *Authenticator) fail(ctx context.Context, username string, typ audit.EventType, description string, reason error) error {
	status, err := a.lockout.RecordFailure(ctx, username)
	if err != nil {
		return err
	}
	if err := a.record(ctx, username, typ, "", description); err != nil {
		return err
	}
	if status.Triggered {
		desc := fmt.Sprintf("lock #%d until %s", status.LockCount, database.FormatTime(status.Until))
		if err := a.record(ctx, audit.SystemActor, audit.EventAccountLocked, username, desc); err != nil {
			return err
		}
	}
	return loginFailed(reason)
}

// Reauthenticate checks p's secret again for a sensitive action without
// touching sessions. Failures count toward lockout. secret is wiped on
// return.
func (a *Authenticator) Reauthenticate(ctx context.Context, p *Principal, secret []byte) error {
	defer clear(secret)

	status, err := a.lockout.CheckLockout(ctx, p.Username)
	if err != nil {
		return err
	}
	if status.Locked {
		if err := a.record(ctx, p.Username, audit.EventReauthFailure, "", "locked"); err != nil {
			return err
		}
		return loginFailed(ErrLocked)
	}

	if a.hasher.Verify(secret, p.PasswordHash) {
		return nil
	}

	a.delay()
	return a.fail(ctx, p.Username, audit.EventReauthFailure, "wrong secret", ErrInvalidCredentials)
}

// Logout revokes the session behind h.
func (a *Authenticator) Logout(ctx context.Context, h *SessionHandle) error {
	if h == nil {
		return ErrSessionInvalid
	}
	if err := a.sessions.Revoke(ctx, h.Username); err != nil {
		return err
	}
	return a.record(ctx, h.Username, audit.EventLogout, "", "")
}

func (a *Authenticator) delay() {
	a.clock.Sleep(a.jitter.Between(a.minDelay, a.maxDelay))
}

func (a *Authenticator) record(ctx context.Context, actor string, typ audit.EventType, target, description string) error {
	return a.audit.Record(ctx, actor, typ, target, description)
}

func (a *Authenticator) revokeQuietly(ctx context.Context, username string) {
	if err := a.sessions.Revoke(ctx, username); err != nil {
		a.logger.Error("revoking session after failed login bookkeeping", "username", username, "error", err)
	}
}
