package auth

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/clock"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/logging"
	_ "github.com/nerrad567/gray-logic-access/migrations"
)

var epoch = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

// testParams keeps Argon2 cheap in tests.
var testParams = HashParams{Time: 1, Memory: 64, Threads: 1, KeyLen: 32, SaltLen: 16}

const testSecret = "test-password"

// testDB creates a temporary SQLite database with the real schema applied.
func testDB(t *testing.T) *database.DB {
	t.Helper()
	db, err := database.Open(database.Config{
		Path:        filepath.Join(t.TempDir(), "auth.db"),
		WALMode:     true,
		BusyTimeout: 5,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // test cleanup
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

// testEnv is a fully wired auth stack over a fresh database.
type testEnv struct {
	db         *database.DB
	clock      *clock.Fake
	hasher     *Hasher
	principals *SQLitePrincipalRepository
	lockout    *LockoutGuard
	sessions   *SessionRegistry
	recorder   *audit.Recorder
	auth       *Authenticator
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db := testDB(t)
	clk := clock.NewFake(epoch)
	logger := logging.Discard()

	env := &testEnv{
		db:         db,
		clock:      clk,
		hasher:     NewHasherWithParams(testParams),
		principals: NewPrincipalRepository(db.DB, clk),
		lockout:    NewLockoutGuard(db.DB, clk, DefaultLockoutPolicy()),
		sessions:   NewSessionRegistry(db.DB, clk, time.Hour),
		recorder:   audit.NewRecorder(audit.NewSQLiteRepository(db.DB), clk, logger),
	}
	env.auth = NewAuthenticator(AuthenticatorConfig{
		Principals: env.principals,
		Hasher:     env.hasher,
		Lockout:    env.lockout,
		Sessions:   env.sessions,
		Audit:      env.recorder,
		Clock:      clk,
		Jitter:     clock.FixedJitter(150 * time.Millisecond),
		MinDelay:   100 * time.Millisecond,
		MaxDelay:   250 * time.Millisecond,
		Logger:     logger,
	})
	return env
}

// seedPrincipal inserts an active principal with testSecret.
func (e *testEnv) seedPrincipal(t *testing.T, username string, role Role, ownerID string) *Principal {
	t.Helper()
	hash, err := e.hasher.Hash([]byte(testSecret))
	if err != nil {
		t.Fatalf("hashing secret: %v", err)
	}
	p := &Principal{
		Username:     username,
		PasswordHash: hash,
		Role:         role,
		Active:       true,
		OwnerID:      ownerID,
	}
	if err := e.principals.Create(context.Background(), p); err != nil {
		t.Fatalf("creating principal %s: %v", username, err)
	}
	return p
}

func (e *testEnv) login(username, secret string) (*SessionHandle, error) {
	return e.auth.Login(context.Background(), username, []byte(secret))
}

// eventCount returns how many security events of typ were recorded.
func (e *testEnv) eventCount(t *testing.T, typ audit.EventType) int {
	t.Helper()
	page, err := e.recorder.History(context.Background(), audit.Filter{EventType: typ, Limit: 200})
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	return page.Total
}

// attemptCount returns the stored login attempts for username and outcome.
func (e *testEnv) attemptCount(t *testing.T, username, outcome string) int {
	t.Helper()
	var n int
	if err := e.db.QueryRow(
		"SELECT COUNT(*) FROM login_attempts WHERE username = ? AND outcome = ?", username, outcome,
	).Scan(&n); err != nil {
		t.Fatalf("counting attempts: %v", err)
	}
	return n
}
