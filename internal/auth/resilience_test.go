package auth

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/nerrad567/gray-logic-access/internal/audit"
)

// Resilience tests exercise the auth stack under concurrent load. They use
// the TestResilience_ prefix for easy filtering:
//
//	go test -run TestResilience -race ./internal/auth/...

// TestResilience_ConcurrentLoginSameAccount verifies that racing logins for
// one principal produce exactly one session.
func TestResilience_ConcurrentLoginSameAccount(t *testing.T) {
	env := newTestEnv(t)
	env.seedPrincipal(t, "alice", RoleHomeowner, "")

	const workers = 8
	var (
		wg         sync.WaitGroup
		mu         sync.Mutex
		successes  int
		concurrent int
		other      []error
	)

	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.login("alice", testSecret)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConcurrentSession):
				concurrent++
			default:
				other = append(other, err)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("successes = %d, want exactly 1", successes)
	}
	if concurrent != workers-1 {
		t.Errorf("concurrent rejections = %d, want %d", concurrent, workers-1)
	}
	for _, err := range other {
		t.Errorf("unexpected error: %v", err)
	}
}

// TestResilience_ConcurrentFailuresLockOnce verifies that a burst of bad
// secrets produces one lock and one ACCOUNT_LOCKED event.
func TestResilience_ConcurrentFailuresLockOnce(t *testing.T) {
	env := newTestEnv(t)
	env.seedPrincipal(t, "alice", RoleHomeowner, "")

	const workers = 10
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.login("alice", "wrong-secret")
			var le *LoginError
			if !errors.As(err, &le) {
				t.Errorf("Login() error = %v, want *LoginError", err)
			}
		}()
	}
	wg.Wait()

	if got := env.eventCount(t, audit.EventAccountLocked); got != 1 {
		t.Errorf("ACCOUNT_LOCKED events = %d, want 1", got)
	}
	status, err := env.lockout.CheckLockout(context.Background(), "alice")
	if err != nil {
		t.Fatalf("CheckLockout() error = %v", err)
	}
	if !status.Locked || status.LockCount != 1 {
		t.Errorf("status = %+v, want locked once", status)
	}
}
