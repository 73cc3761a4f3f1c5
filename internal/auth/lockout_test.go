package auth

import (
	"context"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
)

func TestLockoutPolicy_DurationSequence(t *testing.T) {
	p := DefaultLockoutPolicy()
	want := []time.Duration{30, 60, 120, 240, 300, 300, 300, 300, 300, 300}

	for i, w := range want {
		if got := p.Duration(i + 1); got != w*time.Second {
			t.Errorf("Duration(%d) = %v, want %v", i+1, got, w*time.Second)
		}
	}
	if got := p.Duration(0); got != 30*time.Second {
		t.Errorf("Duration(0) = %v, want base", got)
	}
}

func TestLockoutPolicyFromConfig(t *testing.T) {
	p := LockoutPolicyFromConfig(config.LockoutConfig{
		Threshold: 3, WindowSeconds: 60, BaseSeconds: 10, MaxSeconds: 40, MaxLockCount: 50,
	})
	if p.Threshold != 3 || p.Window != time.Minute || p.Base != 10*time.Second || p.Max != 40*time.Second {
		t.Errorf("policy = %+v", p)
	}
	if p.MaxLockCount != 10 {
		t.Errorf("MaxLockCount = %d, want clamp to 10", p.MaxLockCount)
	}
}

func TestLockoutGuard_LocksAtThreshold(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		status, err := env.lockout.RecordFailure(ctx, "alice")
		if err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
		if status.Locked {
			t.Fatalf("locked after %d failures", i)
		}
		env.clock.Advance(time.Second)
	}

	status, err := env.lockout.RecordFailure(ctx, "alice")
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if !status.Locked || status.LockCount != 1 {
		t.Fatalf("fifth failure status = %+v, want locked with count 1", status)
	}
	if want := env.clock.Now().Add(30 * time.Second); !status.Until.Equal(want) {
		t.Errorf("Until = %v, want %v", status.Until, want)
	}

	check, err := env.lockout.CheckLockout(ctx, "ALICE")
	if err != nil {
		t.Fatalf("CheckLockout() error = %v", err)
	}
	if !check.Locked {
		t.Error("CheckLockout() should be case-insensitive and report locked")
	}
}

func TestLockoutGuard_WindowSlides(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for range 4 {
		if _, err := env.lockout.RecordFailure(ctx, "alice"); err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
	}
	env.clock.Advance(5*time.Minute + time.Second)

	status, err := env.lockout.RecordFailure(ctx, "alice")
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if status.Locked {
		t.Error("failures outside the window must not count")
	}
}

func TestLockoutGuard_StaleLockClearedAndEscalates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	lockOnce := func() LockStatus {
		t.Helper()
		var status LockStatus
		for range 5 {
			var err error
			status, err = env.lockout.RecordFailure(ctx, "alice")
			if err != nil {
				t.Fatalf("RecordFailure() error = %v", err)
			}
		}
		return status
	}

	wantDurations := []time.Duration{30, 60, 120, 240, 300, 300}
	for i, want := range wantDurations {
		status := lockOnce()
		if !status.Locked {
			t.Fatalf("round %d: not locked", i+1)
		}
		if got := status.Until.Sub(env.clock.Now()); got != want*time.Second {
			t.Errorf("round %d: duration = %v, want %v", i+1, got, want*time.Second)
		}

		env.clock.Advance(want*time.Second + time.Second)
		check, err := env.lockout.CheckLockout(ctx, "alice")
		if err != nil {
			t.Fatalf("CheckLockout() error = %v", err)
		}
		if check.Locked {
			t.Fatalf("round %d: still locked after expiry", i+1)
		}
		if check.LockCount != i+1 {
			t.Errorf("round %d: LockCount = %d, want %d", i+1, check.LockCount, i+1)
		}
	}

	var lockedUntil *string
	if err := env.db.QueryRow("SELECT locked_until FROM lockouts WHERE username = 'alice'").Scan(&lockedUntil); err != nil {
		t.Fatalf("reading lockout row: %v", err)
	}
	if lockedUntil != nil {
		t.Errorf("locked_until = %v, want NULL after stale clear", *lockedUntil)
	}
}

func TestLockoutGuard_LockCountSaturates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var status LockStatus
	for range 12 {
		for range 5 {
			var err error
			status, err = env.lockout.RecordFailure(ctx, "mallory")
			if err != nil {
				t.Fatalf("RecordFailure() error = %v", err)
			}
		}
		env.clock.Advance(301 * time.Second)
	}
	if status.LockCount != 10 {
		t.Errorf("LockCount = %d, want 10", status.LockCount)
	}
}

func TestLockoutGuard_SuccessLiftsLockKeepsCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	for range 5 {
		if _, err := env.lockout.RecordFailure(ctx, "alice"); err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
	}
	if err := env.lockout.RecordSuccess(ctx, "alice"); err != nil {
		t.Fatalf("RecordSuccess() error = %v", err)
	}

	status, err := env.lockout.CheckLockout(ctx, "alice")
	if err != nil {
		t.Fatalf("CheckLockout() error = %v", err)
	}
	if status.Locked {
		t.Error("success should lift the lock")
	}
	if status.LockCount != 1 {
		t.Errorf("LockCount = %d, want history kept at 1", status.LockCount)
	}

	env.clock.Advance(time.Second)
	for i := 1; i <= 4; i++ {
		s, err := env.lockout.RecordFailure(ctx, "alice")
		if err != nil {
			t.Fatalf("RecordFailure() error = %v", err)
		}
		if s.Locked {
			t.Fatalf("failures before the success must not count (locked at %d)", i)
		}
	}
	s, err := env.lockout.RecordFailure(ctx, "alice")
	if err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	if !s.Locked || s.LockCount != 2 {
		t.Errorf("status = %+v, want second lock", s)
	}
}

func TestLockoutGuard_PruneAttempts(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if _, err := env.lockout.RecordFailure(ctx, "alice"); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}
	env.clock.Advance(11 * time.Minute)
	if _, err := env.lockout.RecordFailure(ctx, "alice"); err != nil {
		t.Fatalf("RecordFailure() error = %v", err)
	}

	n, err := env.lockout.PruneAttempts(ctx, 10*time.Minute)
	if err != nil {
		t.Fatalf("PruneAttempts() error = %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	if got := env.attemptCount(t, "alice", outcomeFailure); got != 1 {
		t.Errorf("remaining attempts = %d, want 1", got)
	}
}
