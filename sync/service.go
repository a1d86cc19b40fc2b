package sync

import (
	"fmt"
	"log/slog"
	stdsync "sync"

	"github.com/pocketbase/pocketbase/core"

	"github.com/inkpress/royaltyrelay/pocketbase/google"
	"github.com/inkpress/royaltyrelay/pocketbase/kdp"
)

var (
	serviceOnce   stdsync.Once
	globalService *Service
)

// Service bundles the sync subsystem: the portal client, the status
// store, the cadence runner, the event bus, and the scheduler.
type Service struct {
	app       core.App
	client    *kdp.Client
	clientErr error
	status    *StatusStore
	bus       *Bus
	runner    *Runner
	scheduler *Scheduler
}

// GetService returns the process-wide sync service, creating it on
// first use.
func GetService(app core.App) *Service {
	serviceOnce.Do(func() {
		globalService = newService(app)
	})
	return globalService
}

func newService(app core.App) *Service {
	s := &Service{
		app:    app,
		status: NewStatusStore(NewSettingsStore(app)),
		bus:    NewBus(),
	}

	client, err := kdp.NewClient(kdp.ConfigFromEnv())
	if err != nil {
		s.clientErr = fmt.Errorf("portal client unavailable: %w", err)
		slog.Error("Report sync disabled", "error", err)
		return s
	}
	s.client = client

	var archiver Archiver
	if drive, err := google.NewArchiverFromEnv(); err != nil {
		slog.Warn("Drive archival disabled", "error", err)
	} else if drive != nil {
		archiver = drive
	}

	pipeline := NewPipeline(client, s.status, archiver)
	s.runner = NewRunner(pipeline, s.status, s.bus)
	s.scheduler = NewScheduler(s.runner, s.status)
	return s
}

// StartScheduler begins the periodic sync ticks. It fails when the
// portal client could not be built, which keeps a misconfigured
// deployment loudly inert instead of silently retrying.
func (s *Service) StartScheduler() error {
	if s.clientErr != nil {
		return s.clientErr
	}
	return s.scheduler.Start()
}

// StartSyncScheduler starts the global service's scheduler.
func StartSyncScheduler(app core.App) error {
	return GetService(app).StartScheduler()
}

// StopScheduler halts the periodic ticks.
func (s *Service) StopScheduler() {
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
