package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-access/internal/infrastructure/database"
)

// Page size limits for List.
const (
	defaultLimit = 50
	maxLimit     = 200
)

// Filter selects security log entries. Zero values match everything.
type Filter struct {
	Actor     string
	Target    string
	EventType EventType
	Since     time.Time
	Limit     int // default 50, max 200
	Offset    int
}

// ListResult is one page of history, newest first.
type ListResult struct {
	Events []Event `json:"events"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// Repository persists security events.
type Repository interface {
	Append(ctx context.Context, e *Event) error
	List(ctx context.Context, filter Filter) (*ListResult, error)
}

// SQLiteRepository stores events in the security_log table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a security log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts e, filling ID and Timestamp when empty.
func (r *SQLiteRepository) Append(ctx context.Context, e *Event) error {
	if !e.Type.Valid() {
		return fmt.Errorf("audit: unknown event type %q", e.Type)
	}
	if e.ID == "" {
		e.ID = "sec-" + uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO security_log (id, actor_username, target_username, event_type, description, timestamp)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Actor, nullableString(e.Target), string(e.Type), e.Description,
		database.FormatTime(e.Timestamp),
	)
	if err != nil {
		return database.Wrap("inserting security event", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns events matching filter, newest first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	if filter.Limit <= 0 {
		filter.Limit = defaultLimit
	}
	if filter.Limit > maxLimit {
		filter.Limit = maxLimit
	}
	if filter.Offset < 0 {
		filter.Offset = 0
	}

	var conditions []string
	var args []any

	if filter.Actor != "" {
		conditions = append(conditions, "actor_username = ? COLLATE NOCASE")
		args = append(args, filter.Actor)
	}
	if filter.Target != "" {
		conditions = append(conditions, "target_username = ? COLLATE NOCASE")
		args = append(args, filter.Target)
	}
	if filter.EventType != "" {
		conditions = append(conditions, "event_type = ?")
		args = append(args, string(filter.EventType))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "timestamp >= ?")
		args = append(args, database.FormatTime(filter.Since))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	countQuery := "SELECT COUNT(*) FROM security_log " + where //nolint:gosec // WHERE built from parameterised conditions
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, database.Wrap("counting security events", err)
	}

	query := "SELECT id, actor_username, target_username, event_type, description, timestamp FROM security_log " + //nolint:gosec // WHERE built from parameterised conditions
		where + " ORDER BY timestamp DESC, rowid DESC LIMIT ? OFFSET ?"
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, database.Wrap("querying security events", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var e Event
		var target sql.NullString
		var eventType, ts string
		if err := rows.Scan(&e.ID, &e.Actor, &target, &eventType, &e.Description, &ts); err != nil {
			return nil, database.Wrap("scanning security event", err)
		}
		e.Target = target.String
		e.Type = EventType(eventType)
		e.Timestamp, err = database.ParseTime(ts)
		if err != nil {
			return nil, database.Wrap("parsing security event timestamp", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, database.Wrap("iterating security events", err)
	}

	return &ListResult{
		Events: events,
		Total:  total,
		Limit:  filter.Limit,
		Offset: filter.Offset,
	}, nil
}
