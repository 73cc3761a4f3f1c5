package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/auth"
	"github.com/nerrad567/gray-logic-access/internal/clock"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/config"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

func TestParseFlags(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    options
		wantErr bool
	}{
		{"defaults", nil, options{}, false},
		{"config long", []string{"--config", "/etc/gl.yaml"}, options{configPath: "/etc/gl.yaml"}, false},
		{"config short", []string{"-c", "x.yaml"}, options{configPath: "x.yaml"}, false},
		{"console", []string{"--console"}, options{console: true}, false},
		{"version", []string{"-v"}, options{showVersion: true}, false},
		{"unknown flag", []string{"--nope"}, options{}, true},
		{"positional", []string{"extra"}, options{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFlags(tt.args, io.Discard)
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseFlags() error = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("parseFlags() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestParseFlags_Help(t *testing.T) {
	var out bytes.Buffer
	_, err := parseFlags([]string{"--help"}, &out)
	if !errors.Is(err, pflag.ErrHelp) {
		t.Fatalf("parseFlags(--help) error = %v, want ErrHelp", err)
	}
	if !strings.Contains(out.String(), "--console") {
		t.Errorf("usage output missing --console: %q", out.String())
	}
}

func TestGetConfigPath(t *testing.T) {
	t.Setenv("GRAYLOGIC_CONFIG", "")
	if got := getConfigPath(""); got != defaultConfigPath {
		t.Errorf("getConfigPath() = %q, want default", got)
	}

	t.Setenv("GRAYLOGIC_CONFIG", "/env/config.yaml")
	if got := getConfigPath(""); got != "/env/config.yaml" {
		t.Errorf("getConfigPath() = %q, want env value", got)
	}
	if got := getConfigPath("/flag/config.yaml"); got != "/flag/config.yaml" {
		t.Errorf("getConfigPath(flag) = %q, flag should win", got)
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := run(ctx, options{configPath: "/nonexistent/path/config.yaml"}); err == nil {
		t.Fatal("run() should fail with invalid config path")
	}
}

func TestRun_MissingDatabasePath(t *testing.T) {
	configPath := writeConfig(t, `
site:
  id: test-site
database:
  path: ""
logging:
  level: error
  output: stderr
`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := run(ctx, options{configPath: configPath})
	if err == nil || !strings.Contains(err.Error(), "database.path is required") {
		t.Fatalf("run() error = %v, want database.path validation error", err)
	}
}

func TestRun_StartsAndStops(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "access.db")
	configPath := writeConfig(t, `
site:
  id: test-site
database:
  path: "`+dbPath+`"
  wal_mode: true
  busy_timeout: 5
logging:
  level: error
  format: text
  output: stderr
security:
  grants:
    sweep_interval_seconds: 1
`)

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err := run(ctx, options{configPath: configPath})
		cancel()
		if err != nil {
			t.Fatalf("run #%d error = %v", i+1, err)
		}
	}

	db, err := database.Open(database.Config{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("reopening database: %v", err)
	}
	defer db.Close()

	var admins int
	if err := db.QueryRow("SELECT COUNT(*) FROM users WHERE user_status = 'admin'").Scan(&admins); err != nil {
		t.Fatalf("counting admins: %v", err)
	}
	if admins != 1 {
		t.Errorf("admins = %d after two starts, want 1", admins)
	}
}

func TestConsole_Session(t *testing.T) {
	c, secret := testCore(t)

	script := strings.Join([]string{
		"admin",
		secret,
		"whoami",
		"register alice homeowner",
		"alice-secret-1",
		"register bob wizard",
		"users",
		"bogus",
		"logout",
		"quit",
	}, "\n") + "\n"

	var out bytes.Buffer
	if err := newConsole(c.service, strings.NewReader(script), &out).run(context.Background()); err != nil {
		t.Fatalf("console run() error = %v", err)
	}

	got := out.String()
	for _, want := range []string{
		"logged in as admin (admin)",
		"alice registered as homeowner",
		"error:",
		"unknown command \"bogus\"",
		"logged out",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("console output missing %q:\n%s", want, got)
		}
	}

	if _, err := c.principals.GetByUsername(context.Background(), "alice"); err != nil {
		t.Errorf("alice not stored: %v", err)
	}
	if _, live := c.sessions.Active(); live {
		t.Error("session still active after logout")
	}
}

func TestConsole_FailedLoginKeepsPrompting(t *testing.T) {
	c, secret := testCore(t)

	script := "admin\nwrong-secret\nadmin\n" + secret + "\nquit\n"
	var out bytes.Buffer
	if err := newConsole(c.service, strings.NewReader(script), &out).run(context.Background()); err != nil {
		t.Fatalf("console run() error = %v", err)
	}

	got := out.String()
	if !strings.Contains(got, "error: login failed") {
		t.Errorf("missing login failure:\n%s", got)
	}
	if !strings.Contains(got, "logged in as admin") {
		t.Errorf("second attempt should succeed:\n%s", got)
	}
	if _, live := c.sessions.Active(); live {
		t.Error("console should close the session on quit")
	}
}

func TestEndActiveSession_ConsoleParkedOnInput(t *testing.T) {
	c, secret := testCore(t)
	ctx := context.Background()

	// The console logs in and then blocks reading the next command.
	in, feed := io.Pipe()
	t.Cleanup(func() { feed.Close() })
	go newConsole(c.service, in, io.Discard).run(ctx) //nolint:errcheck // ends when the pipe closes

	if _, err := io.WriteString(feed, "admin\n"+secret+"\n"); err != nil {
		t.Fatalf("feeding console: %v", err)
	}
	deadline := time.Now().Add(5 * time.Second)
	for {
		if _, live := c.sessions.Active(); live {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("console never logged in")
		}
		time.Sleep(10 * time.Millisecond)
	}

	c.endActiveSession(ctx, slog.New(slog.NewTextHandler(io.Discard, nil)))

	if _, live := c.sessions.Active(); live {
		t.Error("active marker still set after shutdown")
	}
	if live, err := c.sessions.IsLive(ctx, "admin"); err != nil || live {
		t.Errorf("IsLive(admin) = %v, %v after shutdown, want false", live, err)
	}
}

func TestEndActiveSession_NoSession(t *testing.T) {
	c, _ := testCore(t)
	c.endActiveSession(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
	if _, live := c.sessions.Active(); live {
		t.Error("no session should be active")
	}
}

func TestRun_ClearsSessionsFromPreviousRun(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "access.db")
	configPath := writeConfig(t, `
site:
  id: test-site
database:
  path: "`+dbPath+`"
logging:
  level: error
  output: stderr
`)

	db, err := database.Open(database.Config{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrating: %v", err)
	}
	if _, err := db.Exec(`
		INSERT INTO users (id, username, hashed_password, user_status, created_at, updated_at)
		VALUES ('usr-left', 'leftover', 'x', 'homeowner', '2026-03-01T10:00:00.000Z', '2026-03-01T10:00:00.000Z');
		INSERT INTO session_state (username, user_id, session_token_hash, created_at, session_expires)
		VALUES ('leftover', 'usr-left', 'deadbeef', '2026-03-01T10:00:00.000Z', '2999-01-01T00:00:00.000Z');
	`); err != nil {
		t.Fatalf("seeding leftover session: %v", err)
	}
	db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := run(ctx, options{configPath: configPath}); err != nil {
		t.Fatalf("run() error = %v", err)
	}

	db, err = database.Open(database.Config{Path: dbPath, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("reopening database: %v", err)
	}
	defer db.Close()
	var n int
	if err := db.QueryRow("SELECT COUNT(*) FROM session_state").Scan(&n); err != nil {
		t.Fatalf("counting sessions: %v", err)
	}
	if n != 0 {
		t.Errorf("session rows = %d after restart, want 0", n)
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

// testCore wires a core over a fresh database and seeds the admin.
func testCore(t *testing.T) (*core, string) {
	t.Helper()
	ctx := context.Background()

	db, err := database.Open(database.Config{Path: filepath.Join(t.TempDir(), "access.db"), BusyTimeout: 5})
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx); err != nil {
		t.Fatalf("migrating: %v", err)
	}

	cfg := config.Default()
	cfg.Security.Timing = config.TimingConfig{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	recorder := audit.NewRecorder(audit.NewSQLiteRepository(db.DB), clock.Real(), logger)

	c := newCore(db, cfg, recorder, clock.Real(), logger)
	secret, err := auth.SeedAdmin(ctx, c.principals, c.hasher, recorder, "admin", logger)
	if err != nil || secret == "" {
		t.Fatalf("SeedAdmin() = %q, %v", secret, err)
	}
	return c, secret
}
