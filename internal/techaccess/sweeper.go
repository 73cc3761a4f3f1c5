package techaccess

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// defaultSweepInterval applies when SweeperConfig.Interval is zero.
const defaultSweepInterval = time.Minute

// Task is extra housekeeping run on every sweep tick, such as pruning
// login attempts or reaping expired sessions.
type Task struct {
	Name string
	Run  func(ctx context.Context) (int64, error)
}

// SweeperConfig configures a Sweeper.
type SweeperConfig struct {
	Engine   *Engine
	Interval time.Duration
	Tasks    []Task
	Logger   *slog.Logger
}

// Sweeper expires lapsed grants in the background. Lazy expiry on use stays
// authoritative; the sweeper keeps the table and the audit trail tidy.
type Sweeper struct {
	engine   *Engine
	interval time.Duration
	tasks    []Task
	logger   *slog.Logger

	done     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewSweeper creates a Sweeper. Call Start to begin and Stop to end.
func NewSweeper(cfg SweeperConfig) *Sweeper {
	interval := cfg.Interval
	if interval <= 0 {
		interval = defaultSweepInterval
	}
	return &Sweeper{
		engine:   cfg.Engine,
		interval: interval,
		tasks:    cfg.Tasks,
		logger:   cfg.Logger.With("component", "sweeper"),
		done:     make(chan struct{}),
	}
}

// Start runs one sweep immediately and then one per interval until ctx is
// cancelled or Stop is called.
func (s *Sweeper) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop ends the loop and waits for it. Safe to call more than once.
func (s *Sweeper) Stop() {
	s.stopOnce.Do(func() {
		close(s.done)
		s.wg.Wait()
	})
}

func (s *Sweeper) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep and the configured tasks. Failures are
// logged; the next tick retries.
func (s *Sweeper) RunOnce(ctx context.Context) {
	n, err := s.engine.SweepExpired(ctx)
	switch {
	case err != nil:
		s.logger.Error("grant sweep failed", "error", err)
	case n > 0:
		s.logger.Info("expired technician grants", "count", n)
	}

	for _, t := range s.tasks {
		n, err := t.Run(ctx)
		switch {
		case err != nil:
			s.logger.Error("housekeeping task failed", "task", t.Name, "error", err)
		case n > 0:
			s.logger.Debug("housekeeping task", "task", t.Name, "rows", n)
		}
	}
}
