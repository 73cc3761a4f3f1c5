package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/clock"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

// Attempt outcomes stored in login_attempts.
const (
	outcomeSuccess = "SUCCESS"
	outcomeFailure = "FAILURE"
)

// maxLockCountCeiling is the schema bound on lockouts.lock_count.
const maxLockCountCeiling = 10

// LockoutPolicy holds the throttling parameters.
type LockoutPolicy struct {
	Threshold    int
	Window       time.Duration
	Base         time.Duration
	Max          time.Duration
	MaxLockCount int
}

// DefaultLockoutPolicy: 5 failures in 5 minutes, 30s doubling to 300s,
// lock count capped at 10.
func DefaultLockoutPolicy() LockoutPolicy {
	return LockoutPolicy{
		Threshold:    5,
		Window:       5 * time.Minute,
		Base:         30 * time.Second,
		Max:          300 * time.Second,
		MaxLockCount: maxLockCountCeiling,
	}
}

// LockoutPolicyFromConfig converts the security.lockout config section.
func LockoutPolicyFromConfig(cfg config.LockoutConfig) LockoutPolicy {
	p := LockoutPolicy{
		Threshold:    cfg.Threshold,
		Window:       time.Duration(cfg.WindowSeconds) * time.Second,
		Base:         time.Duration(cfg.BaseSeconds) * time.Second,
		Max:          time.Duration(cfg.MaxSeconds) * time.Second,
		MaxLockCount: cfg.MaxLockCount,
	}
	if p.MaxLockCount > maxLockCountCeiling || p.MaxLockCount < 1 {
		p.MaxLockCount = maxLockCountCeiling
	}
	return p
}

// Duration returns the lock length for the given lock count:
// Base * 2^(lockCount-1), capped at Max.
func (p LockoutPolicy) Duration(lockCount int) time.Duration {
	if lockCount < 1 {
		lockCount = 1
	}
	d := p.Base
	for i := 1; i < lockCount; i++ {
		d *= 2
		if d >= p.Max {
			return p.Max
		}
	}
	return min(d, p.Max)
}

// LockStatus describes a principal's lockout state at one instant.
type LockStatus struct {
	Locked    bool
	Until     time.Time
	LockCount int

	// Triggered is set by RecordFailure when that failure created the lock.
	Triggered bool
}

// LockoutGuard tracks failed attempts per username and applies escalating
// lockouts. It is keyed by username only, so unknown usernames are
// throttled too and history survives principal deletion.
type LockoutGuard struct {
	db     *sql.DB
	clock  clock.Clock
	policy LockoutPolicy
}

// NewLockoutGuard creates a LockoutGuard.
func NewLockoutGuard(db *sql.DB, clk clock.Clock, policy LockoutPolicy) *LockoutGuard {
	return &LockoutGuard{db: db, clock: clk, policy: policy}
}

// Policy returns the active policy.
func (g *LockoutGuard) Policy() LockoutPolicy { return g.policy }

// CheckLockout reports whether username is locked right now. An expired
// lock is cleared as a side effect; lock_count is kept.
func (g *LockoutGuard) CheckLockout(ctx context.Context, username string) (LockStatus, error) {
	var status LockStatus
	err := database.WithTx(ctx, g.db, func(tx *sql.Tx) error {
		row, err := readLockout(ctx, tx, username)
		if err != nil || row == nil {
			return err
		}
		status.LockCount = row.lockCount

		if row.lockedUntil == nil {
			return nil
		}
		now := g.clock.Now()
		if row.lockedUntil.After(now) {
			status.Locked = true
			status.Until = *row.lockedUntil
			return nil
		}

		_, err = tx.ExecContext(ctx,
			"UPDATE lockouts SET locked_until = NULL WHERE username = ?", username)
		return database.Wrap("clearing stale lockout", err)
	})
	return status, err
}

// RecordFailure appends a FAILURE attempt and locks the principal when the
// failures since the window start, the last success and the last lock
// reach the threshold. A failure landing on an already active lock reports
// Locked without Triggered.
func (g *LockoutGuard) RecordFailure(ctx context.Context, username string) (LockStatus, error) {
	var status LockStatus
	err := database.WithTx(ctx, g.db, func(tx *sql.Tx) error {
		now := g.clock.Now()

		if err := insertAttempt(ctx, tx, username, outcomeFailure, now); err != nil {
			return err
		}

		row, err := readLockout(ctx, tx, username)
		if err != nil {
			return err
		}
		if row != nil {
			status.LockCount = row.lockCount
			if row.lockedUntil != nil && row.lockedUntil.After(now) {
				status.Locked = true
				status.Until = *row.lockedUntil
				return nil
			}
		}

		since := now.Add(-g.policy.Window)
		if row != nil && row.lockedAt.After(since) {
			since = row.lockedAt
		}
		var lastSuccess sql.NullString
		if err := tx.QueryRowContext(ctx,
			"SELECT MAX(attempted_at) FROM login_attempts WHERE username = ? AND outcome = ?",
			username, outcomeSuccess,
		).Scan(&lastSuccess); err != nil {
			return database.Wrap("reading last success", err)
		}
		if t, err := database.ParseNullTime(lastSuccess); err == nil && t != nil && t.After(since) {
			since = *t
		}

		var failures int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM login_attempts WHERE username = ? AND outcome = ? AND attempted_at > ?",
			username, outcomeFailure, database.FormatTime(since),
		).Scan(&failures); err != nil {
			return database.Wrap("counting failures", err)
		}
		if failures < g.policy.Threshold {
			return nil
		}

		lockCount := min(status.LockCount+1, g.policy.MaxLockCount)
		until := now.Add(g.policy.Duration(lockCount))

		if _, err := tx.ExecContext(ctx,
			`INSERT INTO lockouts (username, locked_until, locked_at, lock_count) VALUES (?, ?, ?, ?)
			 ON CONFLICT(username) DO UPDATE SET
			   locked_until = excluded.locked_until,
			   locked_at = excluded.locked_at,
			   lock_count = excluded.lock_count`,
			username, database.FormatTime(until), database.FormatTime(now), lockCount,
		); err != nil {
			return database.Wrap("writing lockout", err)
		}

		status = LockStatus{Locked: true, Until: until, LockCount: lockCount, Triggered: true}
		return nil
	})
	return status, err
}

// RecordSuccess appends a SUCCESS attempt and lifts any active lock.
// lock_count is preserved so a repeat offender escalates.
func (g *LockoutGuard) RecordSuccess(ctx context.Context, username string) error {
	return database.WithTx(ctx, g.db, func(tx *sql.Tx) error {
		if err := insertAttempt(ctx, tx, username, outcomeSuccess, g.clock.Now()); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"UPDATE lockouts SET locked_until = NULL WHERE username = ?", username)
		return database.Wrap("clearing lockout", err)
	})
}

// PruneAttempts deletes attempt rows older than olderThan. It should be at
// least the window length so lockout decisions are unaffected.
func (g *LockoutGuard) PruneAttempts(ctx context.Context, olderThan time.Duration) (int64, error) {
	olderThan = max(olderThan, g.policy.Window)
	cutoff := database.FormatTime(g.clock.Now().Add(-olderThan))

	result, err := g.db.ExecContext(ctx,
		"DELETE FROM login_attempts WHERE attempted_at < ?", cutoff)
	if err != nil {
		return 0, database.Wrap("pruning login attempts", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

type lockoutRow struct {
	lockedUntil *time.Time
	lockedAt    time.Time
	lockCount   int
}

func readLockout(ctx context.Context, tx *sql.Tx, username string) (*lockoutRow, error) {
	var until sql.NullString
	var lockedAt string
	var row lockoutRow

	err := tx.QueryRowContext(ctx,
		"SELECT locked_until, locked_at, lock_count FROM lockouts WHERE username = ?", username,
	).Scan(&until, &lockedAt, &row.lockCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil //nolint:nilnil // no lockout row is the common case
	}
	if err != nil {
		return nil, database.Wrap("reading lockout", err)
	}

	// An unparseable locked_until counts as lapsed; the next lock overwrites it.
	row.lockedUntil, err = database.ParseNullTime(until)
	if err != nil {
		row.lockedUntil = nil
	}
	row.lockedAt, _ = database.ParseTime(lockedAt) //nolint:errcheck // zero time widens the window, never narrows it
	return &row, nil
}

func insertAttempt(ctx context.Context, tx *sql.Tx, username, outcome string, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		"INSERT INTO login_attempts (username, outcome, attempted_at) VALUES (?, ?, ?)",
		username, outcome, database.FormatTime(at),
	)
	return database.Wrap("recording login attempt", err)
}
