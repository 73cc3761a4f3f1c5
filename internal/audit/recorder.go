package audit

import (
	"context"
	"log/slog"

	"github.com/nerrad567/gray-logic-access/internal/clock"
)

// Sink receives a copy of every recorded event. Sinks are best effort: they
// must not block for long and cannot fail the operation being audited.
type Sink interface {
	Publish(e Event)
}

// Recorder appends events to the security log and fans them out to the
// structured log and any sinks.
type Recorder struct {
	repo   Repository
	clock  clock.Clock
	logger *slog.Logger
	sinks  []Sink
}

// NewRecorder creates a Recorder. A nil clock uses the real clock.
func NewRecorder(repo Repository, clk clock.Clock, logger *slog.Logger, sinks ...Sink) *Recorder {
	if clk == nil {
		clk = clock.Real()
	}
	return &Recorder{
		repo:   repo,
		clock:  clk,
		logger: logger.With("component", "audit"),
		sinks:  sinks,
	}
}

// AddSink attaches another sink. Not safe to call once recording has started.
func (r *Recorder) AddSink(s Sink) {
	r.sinks = append(r.sinks, s)
}

// Record appends one event. The durable write is authoritative: its error
// is returned and the event is not mirrored to sinks.
func (r *Recorder) Record(ctx context.Context, actor string, typ EventType, target, description string) error {
	e := Event{
		Actor:       actor,
		Target:      target,
		Type:        typ,
		Description: description,
		Timestamp:   r.clock.Now(),
	}

	if err := r.repo.Append(ctx, &e); err != nil {
		r.logger.Error("security event not recorded",
			"event_type", string(typ),
			"actor", actor,
			"error", err,
		)
		return err
	}

	r.logger.Log(ctx, levelFor(typ), "security event",
		"event_id", e.ID,
		"event_type", string(e.Type),
		"actor", e.Actor,
		"target", e.Target,
		"description", e.Description,
	)

	for _, s := range r.sinks {
		s.Publish(e)
	}
	return nil
}

// History returns recorded events matching filter, newest first.
func (r *Recorder) History(ctx context.Context, filter Filter) (*ListResult, error) {
	return r.repo.List(ctx, filter)
}

func levelFor(t EventType) slog.Level {
	switch t {
	case EventLoginFailure, EventLoginLocked, EventLoginDisabled, EventLoginConcurrent,
		EventAccessDenied, EventReauthFailure:
		return slog.LevelWarn
	case EventAccountLocked:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
