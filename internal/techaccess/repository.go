package techaccess

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

// openStatuses is the SQL form of Status.Open.
const openStatuses = "('ACCESS_GRANTED', 'TECH_ACCESS')"

const jobColumns = `job_id, homeowner_username, technician_username, status, access_minutes,
	job_desc, grant_start, grant_expires, activated_at, expired_at`

// expiredJob identifies a job moved to ACCESS_EXPIRED.
type expiredJob struct {
	ID         string
	Homeowner  string
	Technician string
}

// Repository persists technician jobs in SQLite. Methods taking a *sql.Tx
// run inside the caller's transaction.
type Repository struct {
	db *sql.DB
}

// NewRepository creates a Repository.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// expireStale moves open jobs whose grant has lapsed at now to
// ACCESS_EXPIRED. A non-empty homeowner limits the sweep to that homeowner.
func (r *Repository) expireStale(ctx context.Context, tx *sql.Tx, homeowner string, now time.Time) ([]expiredJob, error) {
	stamp := database.FormatTime(now)
	query := `UPDATE technician_jobs SET status = 'ACCESS_EXPIRED', expired_at = ?
		WHERE status IN ` + openStatuses + ` AND grant_expires <= ?`
	args := []any{stamp, stamp}
	if homeowner != "" {
		query += " AND homeowner_username = ?"
		args = append(args, homeowner)
	}
	query += " RETURNING job_id, homeowner_username, technician_username"

	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.Wrap("expiring grants", err)
	}
	defer rows.Close()

	var expired []expiredJob
	for rows.Next() {
		var j expiredJob
		if err := rows.Scan(&j.ID, &j.Homeowner, &j.Technician); err != nil {
			return nil, database.Wrap("scanning expired grant", err)
		}
		expired = append(expired, j)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap("iterating expired grants", err)
	}
	return expired, nil
}

// openJobID returns the ID of homeowner's open job, or "" if none.
func (r *Repository) openJobID(ctx context.Context, tx *sql.Tx, homeowner string) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx,
		"SELECT job_id FROM technician_jobs WHERE homeowner_username = ? AND status IN "+openStatuses,
		homeowner,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", database.Wrap("checking open grant", err)
	}
	return id, nil
}

// insert stores j and fills GrantExpires from the generated column.
func (r *Repository) insert(ctx context.Context, tx *sql.Tx, j *Job) error {
	var expires string
	err := tx.QueryRowContext(ctx,
		`INSERT INTO technician_jobs
		   (job_id, homeowner_username, technician_username, status, access_minutes, job_desc, grant_start)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 RETURNING grant_expires`,
		j.ID, j.Homeowner, j.Technician, string(j.Status), j.AccessMinutes, j.Description,
		database.FormatTime(j.GrantStart),
	).Scan(&expires)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return ErrGrantOpen
		}
		return database.Wrap("inserting grant", err)
	}
	j.GrantExpires, err = database.ParseTime(expires)
	if err != nil {
		return fmt.Errorf("parsing grant expiry: %w", err)
	}
	return nil
}

// get loads one job inside tx.
func (r *Repository) get(ctx context.Context, tx *sql.Tx, id string) (*Job, error) {
	return scanJob(tx.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM technician_jobs WHERE job_id = ?", id))
}

// setStatus moves a job to status, stamping activated_at or expired_at.
func (r *Repository) setStatus(ctx context.Context, tx *sql.Tx, id string, status Status, at time.Time) error {
	column := "activated_at"
	if status == StatusAccessExpired {
		column = "expired_at"
	}
	_, err := tx.ExecContext(ctx,
		"UPDATE technician_jobs SET status = ?, "+column+" = ? WHERE job_id = ?", //nolint:gosec // column is one of two constants
		string(status), database.FormatTime(at), id)
	return database.Wrap("updating grant status", err)
}

// GetByID loads one job.
func (r *Repository) GetByID(ctx context.Context, id string) (*Job, error) {
	return scanJob(r.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+" FROM technician_jobs WHERE job_id = ?", id))
}

// liveJob returns the open, unexpired job for the pair, or nil.
func (r *Repository) liveJob(ctx context.Context, technician, homeowner string, now time.Time) (*Job, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx,
		"SELECT "+jobColumns+` FROM technician_jobs
		 WHERE technician_username = ? AND homeowner_username = ?
		   AND status IN `+openStatuses+` AND grant_expires > ?`,
		technician, homeowner, database.FormatTime(now)))
	if errors.Is(err, ErrGrantNotFound) {
		return nil, nil //nolint:nilnil // no live grant is an ordinary answer
	}
	return j, err
}

// ListByTechnician returns the technician's jobs, newest first.
func (r *Repository) ListByTechnician(ctx context.Context, technician string) ([]Job, error) {
	return r.list(ctx,
		"SELECT "+jobColumns+" FROM technician_jobs WHERE technician_username = ? ORDER BY grant_start DESC",
		technician)
}

// ListByHomeowner returns the homeowner's jobs, newest first.
func (r *Repository) ListByHomeowner(ctx context.Context, homeowner string) ([]Job, error) {
	return r.list(ctx,
		"SELECT "+jobColumns+" FROM technician_jobs WHERE homeowner_username = ? ORDER BY grant_start DESC",
		homeowner)
}

func (r *Repository) list(ctx context.Context, query string, args ...any) ([]Job, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.Wrap("listing grants", err)
	}
	defer rows.Close()

	jobs := []Job{}
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap("iterating grants", err)
	}
	return jobs, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(s rowScanner) (*Job, error) {
	var j Job
	var status, start, expires string
	var activated, expired sql.NullString

	err := s.Scan(&j.ID, &j.Homeowner, &j.Technician, &status, &j.AccessMinutes,
		&j.Description, &start, &expires, &activated, &expired)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrGrantNotFound
		}
		return nil, database.Wrap("scanning grant", err)
	}

	j.Status = Status(status)
	if !j.Status.Valid() {
		j.Status = StatusAccessExpired
	}

	// A timestamp that fails to parse leaves the zero time, which reads as
	// already expired.
	j.GrantStart, _ = database.ParseTime(start)     //nolint:errcheck // zero time fails closed
	j.GrantExpires, _ = database.ParseTime(expires) //nolint:errcheck // zero time fails closed
	if j.ActivatedAt, err = database.ParseNullTime(activated); err != nil {
		j.ActivatedAt = nil
	}
	if j.ExpiredAt, err = database.ParseNullTime(expired); err != nil {
		j.ExpiredAt = nil
	}
	return &j, nil
}
