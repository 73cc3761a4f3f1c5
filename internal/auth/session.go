package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/clock"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

// tokenBytes is the raw session token length before hex encoding.
const tokenBytes = 32

// SessionHandle is the caller's proof of login. It is passed explicitly to
// every operation that needs the caller's identity. Token is the raw
// token; only its hash is stored.
type SessionHandle struct {
	PrincipalID string
	Username    string
	Role        Role
	OwnerID     string
	Token       string `json:"-"`
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

// HashToken computes the SHA-256 hash of a raw token for storage.
func HashToken(raw string) string {
	h := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(h[:])
}

// SessionRegistry enforces one persisted session per principal and one
// active session per process.
type SessionRegistry struct {
	db    *sql.DB
	clock clock.Clock
	ttl   time.Duration

	// mu guards active and serialises Issue so the in-process marker and
	// the session_state table change together.
	mu     sync.Mutex
	active *activeSession

	// reconciled is set once rows left by an earlier process are cleared.
	reconciled bool
}

type activeSession struct {
	username  string
	expiresAt time.Time
}

// NewSessionRegistry creates a registry issuing sessions that live for ttl.
func NewSessionRegistry(db *sql.DB, clk clock.Clock, ttl time.Duration) *SessionRegistry {
	return &SessionRegistry{db: db, clock: clk, ttl: ttl}
}

// Reconcile deletes every persisted session and returns how many rows went.
// Raw tokens never outlive the process that issued them, so rows found by a
// fresh registry are unusable. Issue reconciles on first use if this was
// not called.
func (r *SessionRegistry) Reconcile(ctx context.Context) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result, err := r.db.ExecContext(ctx, "DELETE FROM session_state")
	if err != nil {
		return 0, database.Wrap("reconciling sessions", err)
	}
	r.active = nil
	r.reconciled = true
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

// Issue creates a session for p. It fails with ErrConcurrentSession when p
// already has a live session, or when another principal holds the
// process's active session. Expired rows are reaped first.
func (r *SessionRegistry) Issue(ctx context.Context, p *Principal) (*SessionHandle, error) {
	raw, err := newToken()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock.Now()
	if r.active != nil {
		if !r.active.expiresAt.After(now) {
			r.active = nil
		} else if !strings.EqualFold(r.active.username, p.Username) {
			return nil, ErrConcurrentSession
		}
	}

	h := &SessionHandle{
		PrincipalID: p.ID,
		Username:    p.Username,
		Role:        p.Role,
		OwnerID:     p.OwnerID,
		Token:       raw,
		CreatedAt:   now.Truncate(time.Millisecond),
		ExpiresAt:   now.Add(r.ttl).Truncate(time.Millisecond),
	}

	err = database.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		if !r.reconciled {
			if _, err := tx.ExecContext(ctx, "DELETE FROM session_state"); err != nil {
				return database.Wrap("reconciling sessions", err)
			}
		}
		if _, err := tx.ExecContext(ctx,
			"DELETE FROM session_state WHERE session_expires <= ?", database.FormatTime(now),
		); err != nil {
			return database.Wrap("reaping expired sessions", err)
		}

		var live int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM session_state WHERE username = ? OR user_id = ?", p.Username, p.ID,
		).Scan(&live); err != nil {
			return database.Wrap("checking live session", err)
		}
		if live > 0 {
			return ErrConcurrentSession
		}

		_, err := tx.ExecContext(ctx,
			`INSERT INTO session_state (username, user_id, session_token_hash, created_at, session_expires)
			 VALUES (?, ?, ?, ?, ?)`,
			p.Username, p.ID, HashToken(raw),
			database.FormatTime(h.CreatedAt), database.FormatTime(h.ExpiresAt),
		)
		if database.IsUniqueViolation(err) {
			return ErrConcurrentSession
		}
		return database.Wrap("inserting session", err)
	})
	if err != nil {
		return nil, err
	}

	r.reconciled = true
	r.active = &activeSession{username: p.Username, expiresAt: h.ExpiresAt}
	return h, nil
}

// Revoke deletes username's session and clears the process marker if it
// belongs to username. Revoking a missing session is not an error.
func (r *SessionRegistry) Revoke(ctx context.Context, username string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.db.ExecContext(ctx,
		"DELETE FROM session_state WHERE username = ?", username,
	); err != nil {
		return database.Wrap("revoking session", err)
	}

	if r.active != nil && strings.EqualFold(r.active.username, username) {
		r.active = nil
	}
	return nil
}

// IsLive reports whether username has an unexpired session row.
func (r *SessionRegistry) IsLive(ctx context.Context, username string) (bool, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM session_state WHERE username = ? AND session_expires > ?",
		username, database.FormatTime(r.clock.Now()),
	).Scan(&n)
	if err != nil {
		return false, database.Wrap("checking session", err)
	}
	return n > 0, nil
}

// Validate checks that h still matches the stored session and has not
// expired. An expired session is revoked.
func (r *SessionRegistry) Validate(ctx context.Context, h *SessionHandle) error {
	if h == nil || h.Token == "" {
		return ErrSessionInvalid
	}

	var storedHash, userID, expires string
	err := r.db.QueryRowContext(ctx,
		"SELECT session_token_hash, user_id, session_expires FROM session_state WHERE username = ?",
		h.Username,
	).Scan(&storedHash, &userID, &expires)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrSessionInvalid
	}
	if err != nil {
		return database.Wrap("loading session", err)
	}

	if subtle.ConstantTimeCompare([]byte(storedHash), []byte(HashToken(h.Token))) != 1 ||
		userID != h.PrincipalID {
		return ErrSessionInvalid
	}

	expiresAt, err := database.ParseTime(expires)
	if err != nil || !expiresAt.After(r.clock.Now()) {
		if rerr := r.Revoke(ctx, h.Username); rerr != nil {
			return rerr
		}
		return ErrSessionInvalid
	}
	return nil
}

// ReapExpired deletes every expired session row.
func (r *SessionRegistry) ReapExpired(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"DELETE FROM session_state WHERE session_expires <= ?", database.FormatTime(r.clock.Now()))
	if err != nil {
		return 0, database.Wrap("reaping expired sessions", err)
	}
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	return n, nil
}

// Active returns the username holding the process's active session.
func (r *SessionRegistry) Active() (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active == nil || !r.active.expiresAt.After(r.clock.Now()) {
		return "", false
	}
	return r.active.username, true
}

func newToken() (string, error) {
	b := make([]byte, tokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating session token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
