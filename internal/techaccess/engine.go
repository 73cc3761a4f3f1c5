package techaccess

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/audit"
	"github.com/nerrad567/gray-logic-access/internal/auth"
	"github.com/nerrad567/gray-logic-access/internal/clock"
	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

// Engine runs the technician grant state machine.
//
// Status changes happen inside transactions; audit events are written
// after commit because the store allows a single connection.
type Engine struct {
	repo   *Repository
	clock  clock.Clock
	audit  auth.Auditor
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(repo *Repository, clk clock.Clock, auditor auth.Auditor, logger *slog.Logger) *Engine {
	return &Engine{
		repo:   repo,
		clock:  clk,
		audit:  auditor,
		logger: logger.With("component", "techaccess"),
	}
}

// RequestGrant opens a grant letting technician manage homeowner's guests
// for minutes. Lapsed grants of the homeowner are expired first; a grant
// that is still live rejects the request with ErrGrantOpen.
func (e *Engine) RequestGrant(ctx context.Context, homeowner, technician string, minutes int, description string) (*Job, error) {
	if err := validateMinutes(minutes); err != nil {
		return nil, err
	}
	desc, err := NormalizeDescription(description)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	job := &Job{
		ID:            "job-" + uuid.NewString(),
		Homeowner:     homeowner,
		Technician:    technician,
		Status:        StatusAccessGranted,
		AccessMinutes: minutes,
		Description:   desc,
		GrantStart:    now.Truncate(time.Millisecond),
	}

	var expired []expiredJob
	err = database.WithTx(ctx, e.repo.db, func(tx *sql.Tx) error {
		var err error
		if expired, err = e.repo.expireStale(ctx, tx, homeowner, now); err != nil {
			return err
		}
		open, err := e.repo.openJobID(ctx, tx, homeowner)
		if err != nil {
			return err
		}
		if open != "" {
			return &StateError{JobID: open, Reason: ErrGrantOpen}
		}
		if err := e.repo.insert(ctx, tx, job); err != nil {
			if errors.Is(err, ErrGrantOpen) {
				return &StateError{Reason: ErrGrantOpen}
			}
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if err := e.recordExpired(ctx, expired); err != nil {
		return nil, err
	}

	if err := e.audit.Record(ctx, homeowner, audit.EventTechAccessRequested, technician,
		fmt.Sprintf("%s for %d minutes: %s", job.ID, minutes, desc)); err != nil {
		return nil, err
	}
	e.logger.Info("technician grant opened",
		"job_id", job.ID, "homeowner", homeowner, "technician", technician, "minutes", minutes)
	return job, nil
}

// Activate moves technician's pending grant jobID to TECH_ACCESS. The
// caller re-authenticates the technician first. A grant found lapsed is
// expired on the spot.
func (e *Engine) Activate(ctx context.Context, technician, jobID string) (*Job, error) {
	now := e.clock.Now()
	var job *Job
	var lapsed bool

	err := database.WithTx(ctx, e.repo.db, func(tx *sql.Tx) error {
		var err error
		job, err = e.repo.get(ctx, tx, jobID)
		if errors.Is(err, ErrGrantNotFound) {
			return &StateError{JobID: jobID, Reason: ErrGrantNotFound}
		}
		if err != nil {
			return err
		}

		if !strings.EqualFold(job.Technician, technician) {
			return &StateError{JobID: jobID, Reason: ErrGrantNotOwned}
		}
		if job.Status == StatusAccessExpired {
			return &StateError{JobID: jobID, Reason: ErrGrantExpired}
		}
		if job.Status.Open() && !job.GrantExpires.After(now) {
			lapsed = true
			job.Status = StatusAccessExpired
			return e.repo.setStatus(ctx, tx, jobID, StatusAccessExpired, now)
		}
		if job.Status != StatusAccessGranted {
			return &StateError{JobID: jobID, Reason: ErrGrantNotPending}
		}

		if err := e.repo.setStatus(ctx, tx, jobID, StatusTechAccess, now); err != nil {
			return err
		}
		at := now.Truncate(time.Millisecond)
		job.Status = StatusTechAccess
		job.ActivatedAt = &at
		return nil
	})
	if err != nil {
		return nil, err
	}

	if lapsed {
		if err := e.recordExpired(ctx, []expiredJob{{ID: job.ID, Homeowner: job.Homeowner, Technician: job.Technician}}); err != nil {
			return nil, err
		}
		return nil, &StateError{JobID: jobID, Reason: ErrGrantExpired}
	}

	if err := e.audit.Record(ctx, technician, audit.EventTechAccessActivated, job.Homeowner, job.ID); err != nil {
		return nil, err
	}
	return job, nil
}

// HasActivePermission reports whether technician holds an open, unexpired
// grant from homeowner right now. It reads the store on every call.
func (e *Engine) HasActivePermission(ctx context.Context, technician, homeowner string) (bool, error) {
	job, err := e.repo.liveJob(ctx, technician, homeowner, e.clock.Now())
	if err != nil {
		return false, err
	}
	return job != nil, nil
}

// SweepExpired moves every lapsed open grant to ACCESS_EXPIRED and returns
// how many were moved. Unexpired grants are untouched.
func (e *Engine) SweepExpired(ctx context.Context) (int, error) {
	var expired []expiredJob
	err := database.WithTx(ctx, e.repo.db, func(tx *sql.Tx) error {
		var err error
		expired, err = e.repo.expireStale(ctx, tx, "", e.clock.Now())
		return err
	})
	if err != nil {
		return 0, err
	}
	if err := e.recordExpired(ctx, expired); err != nil {
		return len(expired), err
	}
	return len(expired), nil
}

// Job returns one job by ID.
func (e *Engine) Job(ctx context.Context, jobID string) (*Job, error) {
	return e.repo.GetByID(ctx, jobID)
}

// JobsForTechnician lists technician's jobs, newest first.
func (e *Engine) JobsForTechnician(ctx context.Context, technician string) ([]Job, error) {
	return e.repo.ListByTechnician(ctx, technician)
}

// JobsForHomeowner lists homeowner's jobs, newest first.
func (e *Engine) JobsForHomeowner(ctx context.Context, homeowner string) ([]Job, error) {
	return e.repo.ListByHomeowner(ctx, homeowner)
}

func (e *Engine) recordExpired(ctx context.Context, jobs []expiredJob) error {
	for _, j := range jobs {
		if err := e.audit.Record(ctx, audit.SystemActor, audit.EventTechAccessExpired, j.Technician,
			fmt.Sprintf("%s for homeowner %s", j.ID, j.Homeowner)); err != nil {
			return err
		}
	}
	return nil
}
