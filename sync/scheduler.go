package sync

import (
	"context"
	"fmt"
	"log/slog"
	stdsync "sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	// startupDelay is how long the scheduler waits after Start before
	// the first tick, giving the host time to finish serving setup.
	startupDelay = 4 * time.Second

	// tickSchedule is the steady-state cadence between ticks.
	tickSchedule = "@every 10m"
)

// Scheduler drives the cadence runners: one tick shortly after start,
// then every ten minutes. Each tick is a no-op until a delivery email
// is configured.
type Scheduler struct {
	runner *Runner
	status *StatusStore
	cron   *cron.Cron

	mu        stdsync.Mutex
	running   bool
	scheduled bool
	timer     *time.Timer
}

// NewScheduler creates a stopped scheduler over the given runner.
func NewScheduler(runner *Runner, status *StatusStore) *Scheduler {
	return &Scheduler{
		runner: runner,
		status: status,
		cron:   cron.New(),
	}
}

// Start schedules the startup tick and the recurring ticks.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}

	if !s.scheduled {
		if _, err := s.cron.AddFunc(tickSchedule, func() {
			s.Tick(context.Background())
		}); err != nil {
			return fmt.Errorf("adding tick schedule: %w", err)
		}
		s.scheduled = true
	}

	s.cron.Start()
	s.timer = time.AfterFunc(startupDelay, func() {
		s.Tick(context.Background())
	})
	s.running = true

	slog.Info("Report sync scheduler started", "schedule", tickSchedule)
	return nil
}

// Stop halts future ticks and waits for any cron-dispatched tick to
// return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	slog.Info("Stopping report sync scheduler")
	if s.timer != nil {
		s.timer.Stop()
	}
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
	slog.Info("Report sync scheduler stopped")
}

// Tick runs both cadences once. The initial and daily transfers are
// independent, so they run concurrently; the runner's own guards keep
// each cadence single flight.
func (s *Scheduler) Tick(ctx context.Context) {
	if s.status.Email() == "" {
		slog.Debug("No delivery email configured, skipping sync tick")
		return
	}

	var wg stdsync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.runner.RunInitial(ctx)
	}()
	go func() {
		defer wg.Done()
		s.runner.RunDaily(ctx)
	}()
	wg.Wait()
}
