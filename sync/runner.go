package sync

import (
	"context"
	"log/slog"
	stdsync "sync"
	"time"
)

// Report windows in days for the two cadences.
const (
	// InitialReportRange is the one-time catch-up window.
	InitialReportRange = 90
	// DailyReportRange is the rolling window refreshed on every tick.
	DailyReportRange = 14
)

// Cadence names used for in-flight tracking and event payloads.
const (
	CadenceInitial = "initial"
	CadenceDaily   = "daily"
)

type reportPipeline interface {
	Run(ctx context.Context, windowDays int) (Outcome, error)
}

// Runner gates pipeline runs on persisted status: a cadence that has
// already completed is skipped, a cadence still running is not started
// again, and every finished run writes its outcome back before the
// next tick can read it.
type Runner struct {
	pipeline reportPipeline
	status   *StatusStore
	bus      *Bus
	now      func() time.Time

	mu       stdsync.Mutex
	inFlight map[string]bool
}

// NewRunner wires the cadence runners over a pipeline.
func NewRunner(pipeline reportPipeline, status *StatusStore, bus *Bus) *Runner {
	return &Runner{
		pipeline: pipeline,
		status:   status,
		bus:      bus,
		now:      time.Now,
		inFlight: map[string]bool{},
	}
}

// InFlight reports whether the named cadence is currently running.
func (r *Runner) InFlight(cadence string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.inFlight[cadence]
}

// begin marks a cadence in flight. It returns false when a previous
// run is still going, which makes overlapping ticks a no-op.
func (r *Runner) begin(cadence string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.inFlight[cadence] {
		return false
	}
	r.inFlight[cadence] = true
	return true
}

func (r *Runner) end(cadence string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.inFlight, cadence)
}

// RunInitial performs the catch-up transfer once. After it has
// completed, every later call is a cheap no-op.
func (r *Runner) RunInitial(ctx context.Context) {
	if !r.begin(CadenceInitial) {
		slog.Info("Initial report sync already running, skipping")
		return
	}
	defer r.end(CadenceInitial)

	prev := r.status.Initial()
	if prev.Completed() {
		return
	}

	outcome := r.runPipeline(ctx, CadenceInitial, InitialReportRange)
	rec := newAttemptStatus(prev, outcome, InitialReportRange, r.now())
	if err := r.status.SetInitial(rec); err != nil {
		slog.Error("Failed to persist initial report status", "error", err)
		return
	}
	r.publishStatus(CadenceInitial, rec)
}

// RunDaily performs today's rolling-window transfer. Each UTC date gets
// its own record, so yesterday's completion never suppresses today's
// run, and a completed today is not repeated.
func (r *Runner) RunDaily(ctx context.Context) {
	if !r.begin(CadenceDaily) {
		slog.Info("Daily report sync already running, skipping")
		return
	}
	defer r.end(CadenceDaily)

	today := dateKey(r.now())
	prev := r.status.Daily()[today]
	if prev.Completed() {
		return
	}

	outcome := r.runPipeline(ctx, CadenceDaily, DailyReportRange)
	rec := newAttemptStatus(prev, outcome, DailyReportRange, r.now())
	if err := r.status.SetDailyEntry(today, rec); err != nil {
		slog.Error("Failed to persist daily report status", "error", err)
		return
	}
	r.publishStatus(CadenceDaily, rec)
}

func (r *Runner) runPipeline(ctx context.Context, cadence string, windowDays int) Outcome {
	outcome, err := r.pipeline.Run(ctx, windowDays)
	if err != nil {
		slog.Error("Report sync failed", "cadence", cadence, "outcome", string(outcome), "error", err)
	}
	return outcome
}

func (r *Runner) publishStatus(cadence string, rec ReportStatus) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(Event{
		Type: EventStatusChanged,
		Payload: map[string]any{
			"cadence":    cadence,
			"status":     string(rec.Status),
			"retryCount": rec.RetryCount,
			"range":      rec.Range,
			"updatedAt":  rec.UpdatedAt,
		},
	})
}
