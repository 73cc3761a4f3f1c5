package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/audit"
)

func assertLoginError(t *testing.T, err, reason error) {
	t.Helper()
	var le *LoginError
	if !errors.As(err, &le) {
		t.Fatalf("error = %v (%T), want *LoginError", err, err)
	}
	if err.Error() != "login failed" {
		t.Errorf("Error() = %q, want opaque message", err.Error())
	}
	if !errors.Is(err, reason) {
		t.Errorf("error does not unwrap to %v", reason)
	}
}

func TestLogin_Success(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedPrincipal(t, "alice", RoleHomeowner, "")

	h, err := env.login("alice", testSecret)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if h.PrincipalID != alice.ID || h.Role != RoleHomeowner {
		t.Errorf("handle = %+v", h)
	}
	if _, n := env.clock.Slept(); n != 0 {
		t.Errorf("successful login slept %d times, want 0", n)
	}
	if got := env.eventCount(t, audit.EventLoginSuccess); got != 1 {
		t.Errorf("LOGIN_SUCCESS events = %d, want 1", got)
	}
	if got := env.attemptCount(t, "alice", outcomeSuccess); got != 1 {
		t.Errorf("SUCCESS attempts = %d, want 1", got)
	}

	stored, err := env.principals.GetByID(context.Background(), alice.ID)
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if stored.LastLogin == nil {
		t.Error("last login not stamped")
	}
}

func TestLogin_UsernameTrimmedAndCaseInsensitive(t *testing.T) {
	env := newTestEnv(t)
	env.seedPrincipal(t, "alice", RoleHomeowner, "")

	if _, err := env.login("  ALICE ", testSecret); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
}

func TestLogin_EmptyUsername(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.login("   ", testSecret)
	if !IsInputError(err) {
		t.Errorf("Login() error = %v, want InputError", err)
	}
}

func TestLogin_UnknownUserLooksLikeWrongSecret(t *testing.T) {
	env := newTestEnv(t)
	env.seedPrincipal(t, "alice", RoleHomeowner, "")

	_, unknownErr := env.login("nouser", "whatever-secret")
	assertLoginError(t, unknownErr, ErrInvalidCredentials)

	slept, n := env.clock.Slept()
	if n != 1 || slept != 150*time.Millisecond {
		t.Errorf("Slept() = %v over %d calls, want 150ms once", slept, n)
	}
	if got := env.attemptCount(t, "nouser", outcomeFailure); got != 1 {
		t.Errorf("FAILURE attempts for nouser = %d, want 1", got)
	}

	_, wrongErr := env.login("alice", "not-the-secret")
	assertLoginError(t, wrongErr, ErrInvalidCredentials)
	if unknownErr.Error() != wrongErr.Error() {
		t.Errorf("messages differ: %q vs %q", unknownErr, wrongErr)
	}
	if _, n := env.clock.Slept(); n != 2 {
		t.Errorf("sleep calls = %d, want 2", n)
	}
	if got := env.eventCount(t, audit.EventLoginFailure); got != 2 {
		t.Errorf("LOGIN_FAILURE events = %d, want 2", got)
	}
}

func TestLogin_DisabledAccount(t *testing.T) {
	env := newTestEnv(t)
	alice := env.seedPrincipal(t, "alice", RoleHomeowner, "")
	if err := env.principals.SetActive(context.Background(), alice.ID, false, ""); err != nil {
		t.Fatalf("SetActive() error = %v", err)
	}

	_, err := env.login("alice", testSecret)
	assertLoginError(t, err, ErrAccountDisabled)

	if _, n := env.clock.Slept(); n != 1 {
		t.Errorf("sleep calls = %d, want 1", n)
	}
	if got := env.eventCount(t, audit.EventLoginDisabled); got != 1 {
		t.Errorf("LOGIN_DISABLED events = %d, want 1", got)
	}
	if got := env.attemptCount(t, "alice", outcomeFailure); got != 1 {
		t.Errorf("FAILURE attempts = %d, want 1", got)
	}
	if live, _ := env.sessions.IsLive(context.Background(), "alice"); live {
		t.Error("disabled account must not get a session")
	}
}

func TestLogin_LockoutAfterFiveFailures(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedPrincipal(t, "alice", RoleHomeowner, "")

	for i := range 5 {
		_, err := env.login("alice", "wrong-secret")
		assertLoginError(t, err, ErrInvalidCredentials)
		if i < 4 && env.eventCount(t, audit.EventAccountLocked) != 0 {
			t.Fatalf("locked after %d failures", i+1)
		}
	}

	locked, err := env.recorder.History(ctx, audit.Filter{EventType: audit.EventAccountLocked, Target: "alice"})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if locked.Total != 1 || locked.Events[0].Actor != audit.SystemActor {
		t.Fatalf("ACCOUNT_LOCKED events = %+v", locked.Events)
	}

	// The right secret is rejected while locked, without hashing or delay.
	_, err = env.login("alice", testSecret)
	assertLoginError(t, err, ErrLocked)
	if _, n := env.clock.Slept(); n != 5 {
		t.Errorf("sleep calls = %d, want 5", n)
	}
	if got := env.eventCount(t, audit.EventLoginLocked); got != 1 {
		t.Errorf("LOGIN_LOCKED events = %d, want 1", got)
	}
	if got := env.attemptCount(t, "alice", outcomeFailure); got != 5 {
		t.Errorf("FAILURE attempts = %d, want 5 (locked attempts are not counted)", got)
	}

	env.clock.Advance(31 * time.Second)
	if _, err := env.login("alice", testSecret); err != nil {
		t.Fatalf("Login() after lock expiry error = %v", err)
	}
	status, err := env.lockout.CheckLockout(ctx, "alice")
	if err != nil {
		t.Fatalf("CheckLockout() error = %v", err)
	}
	if status.Locked || status.LockCount != 1 {
		t.Errorf("status = %+v, want unlocked with history 1", status)
	}
}

func TestLogin_UnknownUsernameIsThrottled(t *testing.T) {
	env := newTestEnv(t)

	for range 5 {
		_, err := env.login("ghost", "guess")
		assertLoginError(t, err, ErrInvalidCredentials)
	}
	_, err := env.login("ghost", "guess")
	assertLoginError(t, err, ErrLocked)
}

func TestLogin_ConcurrentSession(t *testing.T) {
	env := newTestEnv(t)
	env.seedPrincipal(t, "alice", RoleHomeowner, "")
	env.seedPrincipal(t, "bob", RoleTechnician, "")

	if _, err := env.login("alice", testSecret); err != nil {
		t.Fatalf("first Login() error = %v", err)
	}

	_, err := env.login("alice", testSecret)
	assertLoginError(t, err, ErrConcurrentSession)

	_, err = env.login("bob", testSecret)
	assertLoginError(t, err, ErrConcurrentSession)

	if got := env.eventCount(t, audit.EventLoginConcurrent); got != 2 {
		t.Errorf("LOGIN_CONCURRENT events = %d, want 2", got)
	}
	if got := env.eventCount(t, audit.EventLoginSuccess); got != 1 {
		t.Errorf("LOGIN_SUCCESS events = %d, want 1", got)
	}
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.seedPrincipal(t, "alice", RoleHomeowner, "")
	env.seedPrincipal(t, "bob", RoleTechnician, "")

	h, err := env.login("alice", testSecret)
	if err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	if err := env.auth.Logout(ctx, h); err != nil {
		t.Fatalf("Logout() error = %v", err)
	}
	if err := env.sessions.Validate(ctx, h); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("Validate() after logout error = %v", err)
	}
	if got := env.eventCount(t, audit.EventLogout); got != 1 {
		t.Errorf("LOGOUT events = %d, want 1", got)
	}
	if _, err := env.login("bob", testSecret); err != nil {
		t.Errorf("Login(bob) after logout error = %v", err)
	}
	if err := env.auth.Logout(ctx, nil); !errors.Is(err, ErrSessionInvalid) {
		t.Errorf("Logout(nil) error = %v", err)
	}
}

func TestLogin_SecretWiped(t *testing.T) {
	env := newTestEnv(t)
	env.seedPrincipal(t, "alice", RoleHomeowner, "")

	secret := []byte(testSecret)
	if _, err := env.auth.Login(context.Background(), "alice", secret); err != nil {
		t.Fatalf("Login() error = %v", err)
	}
	for i, b := range secret {
		if b != 0 {
			t.Fatalf("secret[%d] = %d, want wiped", i, b)
		}
	}
}

func TestReauthenticate(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	bob := env.seedPrincipal(t, "bob", RoleTechnician, "")

	if err := env.auth.Reauthenticate(ctx, bob, []byte(testSecret)); err != nil {
		t.Fatalf("Reauthenticate() error = %v", err)
	}

	err := env.auth.Reauthenticate(ctx, bob, []byte("wrong-secret"))
	assertLoginError(t, err, ErrInvalidCredentials)
	if got := env.eventCount(t, audit.EventReauthFailure); got != 1 {
		t.Errorf("REAUTH_FAILURE events = %d, want 1", got)
	}
	if got := env.attemptCount(t, "bob", outcomeFailure); got != 1 {
		t.Errorf("FAILURE attempts = %d, want 1", got)
	}

	for range 4 {
		_ = env.auth.Reauthenticate(ctx, bob, []byte("wrong-secret")) //nolint:errcheck // driving to lockout
	}
	err = env.auth.Reauthenticate(ctx, bob, []byte(testSecret))
	assertLoginError(t, err, ErrLocked)
}
