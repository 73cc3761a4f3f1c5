package auth

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/clock"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

// PrincipalRepository persists principals.
type PrincipalRepository interface {
	Create(ctx context.Context, p *Principal) error
	GetByID(ctx context.Context, id string) (*Principal, error)
	GetByUsername(ctx context.Context, username string) (*Principal, error)
	List(ctx context.Context) ([]Principal, error)
	ListByOwner(ctx context.Context, ownerID string) ([]Principal, error)
	SetActive(ctx context.Context, id string, active bool, ownerID string) error
	DeleteGuest(ctx context.Context, id, ownerID string) error
	TouchLastLogin(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
}

// SQLitePrincipalRepository implements PrincipalRepository on the users table.
type SQLitePrincipalRepository struct {
	db    *sql.DB
	clock clock.Clock
}

// NewPrincipalRepository creates a SQLite-backed principal repository.
func NewPrincipalRepository(db *sql.DB, clk clock.Clock) *SQLitePrincipalRepository {
	return &SQLitePrincipalRepository{db: db, clock: clk}
}

const principalColumns = `id, username, hashed_password, user_status, homeowner_id, is_active,
	created_by, last_login_time, created_at, updated_at`

// Create inserts p, generating its ID. Usernames are unique ignoring case.
func (r *SQLitePrincipalRepository) Create(ctx context.Context, p *Principal) error {
	if !p.Role.Valid() {
		return &InputError{Field: "role", Reason: "unknown role"}
	}
	if p.OwnerID != "" && p.Role != RoleGuest {
		return &InputError{Field: "owner", Reason: "only guests have an owning homeowner"}
	}
	if p.ID == "" {
		p.ID = "usr-" + uuid.NewString()
	}

	now := r.clock.Now()
	p.CreatedAt = now.Truncate(time.Millisecond)
	p.UpdatedAt = p.CreatedAt

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO users (id, username, hashed_password, user_status, homeowner_id, is_active, created_by, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Username, p.PasswordHash, string(p.Role), nullString(p.OwnerID),
		boolToInt(p.Active), nullString(p.CreatedBy),
		database.FormatTime(now), database.FormatTime(now),
	)
	if err != nil {
		if database.IsUniqueViolationOn(err, "users.username") {
			return ErrUsernameExists
		}
		return database.Wrap("creating principal", err)
	}
	return nil
}

// GetByID retrieves a principal by ID.
func (r *SQLitePrincipalRepository) GetByID(ctx context.Context, id string) (*Principal, error) {
	return scanPrincipal(r.db.QueryRowContext(ctx,
		"SELECT "+principalColumns+" FROM users WHERE id = ?", id))
}

// GetByUsername retrieves a principal by username, ignoring case.
func (r *SQLitePrincipalRepository) GetByUsername(ctx context.Context, username string) (*Principal, error) {
	return scanPrincipal(r.db.QueryRowContext(ctx,
		"SELECT "+principalColumns+" FROM users WHERE username = ?", username))
}

// List returns every principal in creation order.
func (r *SQLitePrincipalRepository) List(ctx context.Context) ([]Principal, error) {
	return r.list(ctx, "SELECT "+principalColumns+" FROM users ORDER BY created_at, username")
}

// ListByOwner returns the guests owned by the homeowner with ownerID.
func (r *SQLitePrincipalRepository) ListByOwner(ctx context.Context, ownerID string) ([]Principal, error) {
	return r.list(ctx,
		"SELECT "+principalColumns+" FROM users WHERE homeowner_id = ? AND user_status = 'guest' ORDER BY username",
		ownerID)
}

func (r *SQLitePrincipalRepository) list(ctx context.Context, query string, args ...any) ([]Principal, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.Wrap("listing principals", err)
	}
	defer rows.Close()

	principals := []Principal{}
	for rows.Next() {
		p, err := scanPrincipal(rows)
		if err != nil {
			return nil, err
		}
		principals = append(principals, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap("iterating principals", err)
	}
	return principals, nil
}

// SetActive enables or disables a principal. A non-empty ownerID scopes
// the update to guests of that homeowner: a guest owned by someone else is
// not touched and ErrPrincipalNotFound is returned.
func (r *SQLitePrincipalRepository) SetActive(ctx context.Context, id string, active bool, ownerID string) error {
	query := "UPDATE users SET is_active = ?, updated_at = ? WHERE id = ?"
	args := []any{boolToInt(active), database.FormatTime(r.clock.Now()), id}
	if ownerID != "" {
		query += " AND user_status = 'guest' AND homeowner_id = ?"
		args = append(args, ownerID)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return database.Wrap("updating principal status", err)
	}
	return requireRow(result)
}

// DeleteGuest removes a guest account. A non-empty ownerID scopes the
// delete to that homeowner's guests. Non-guests are never deleted.
func (r *SQLitePrincipalRepository) DeleteGuest(ctx context.Context, id, ownerID string) error {
	query := "DELETE FROM users WHERE id = ? AND user_status = 'guest'"
	args := []any{id}
	if ownerID != "" {
		query += " AND homeowner_id = ?"
		args = append(args, ownerID)
	}

	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return database.Wrap("deleting guest", err)
	}
	return requireRow(result)
}

// TouchLastLogin stamps last_login_time with the current time.
func (r *SQLitePrincipalRepository) TouchLastLogin(ctx context.Context, id string) error {
	now := database.FormatTime(r.clock.Now())
	result, err := r.db.ExecContext(ctx,
		"UPDATE users SET last_login_time = ?, updated_at = ? WHERE id = ?", now, now, id)
	if err != nil {
		return database.Wrap("updating last login", err)
	}
	return requireRow(result)
}

// Count returns the number of principals.
func (r *SQLitePrincipalRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM users").Scan(&n); err != nil {
		return 0, database.Wrap("counting principals", err)
	}
	return n, nil
}

func requireRow(result sql.Result) error {
	n, _ := result.RowsAffected() //nolint:errcheck // always succeeds on SQLite
	if n == 0 {
		return ErrPrincipalNotFound
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanPrincipal(s scanner) (*Principal, error) {
	var p Principal
	var role string
	var active int
	var ownerID, createdBy, lastLogin sql.NullString
	var createdAt, updatedAt string

	err := s.Scan(&p.ID, &p.Username, &p.PasswordHash, &role, &ownerID, &active,
		&createdBy, &lastLogin, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrPrincipalNotFound
		}
		return nil, database.Wrap("scanning principal", err)
	}

	// The CHECK constraint keeps role valid; an unknown value still must not
	// grant anything, so it is mapped to the least privileged role.
	p.Role = Role(role)
	if !p.Role.Valid() {
		p.Role = RoleGuest
		active = 0
	}
	p.Active = active == 1
	p.OwnerID = ownerID.String
	p.CreatedBy = createdBy.String

	if p.LastLogin, err = database.ParseNullTime(lastLogin); err != nil {
		p.LastLogin = nil
	}
	p.CreatedAt, _ = database.ParseTime(createdAt) //nolint:errcheck // written by Create
	p.UpdatedAt, _ = database.ParseTime(updatedAt) //nolint:errcheck // written by Create

	return &p, nil
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
