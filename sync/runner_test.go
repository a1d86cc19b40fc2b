package sync

import (
	"context"
	"errors"
	stdsync "sync"
	"testing"
	"time"
)

// scriptedPipeline returns queued outcomes in order, then the last one
// forever.
type scriptedPipeline struct {
	mu       stdsync.Mutex
	outcomes []Outcome
	calls    int
	block    chan struct{}
}

func (s *scriptedPipeline) Run(ctx context.Context, windowDays int) (Outcome, error) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i >= len(s.outcomes) {
		i = len(s.outcomes) - 1
	}
	outcome := s.outcomes[i]
	if outcome != OutcomeCompleted {
		return outcome, errors.New("stage failed")
	}
	return outcome, nil
}

func (s *scriptedPipeline) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newTestRunner(pipeline reportPipeline, now time.Time) (*Runner, *StatusStore, *Bus) {
	status := NewStatusStore(newMemStore())
	bus := NewBus()
	r := NewRunner(pipeline, status, bus)
	r.now = func() time.Time { return now }
	return r, status, bus
}

func TestRunInitialCompletesOnce(t *testing.T) {
	pipeline := &scriptedPipeline{outcomes: []Outcome{OutcomeCompleted}}
	r, status, _ := newTestRunner(pipeline, time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC))

	r.RunInitial(context.Background())
	r.RunInitial(context.Background())

	if pipeline.callCount() != 1 {
		t.Errorf("pipeline ran %d times, want 1", pipeline.callCount())
	}
	rec := status.Initial()
	if rec.Status != OutcomeCompleted || rec.Range != InitialReportRange || rec.RetryCount != 1 {
		t.Errorf("initial record = %+v", rec)
	}
}

func TestRunInitialRetriesAfterFailure(t *testing.T) {
	pipeline := &scriptedPipeline{outcomes: []Outcome{OutcomeFailedDownload, OutcomeCompleted}}
	r, status, _ := newTestRunner(pipeline, time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC))

	r.RunInitial(context.Background())
	rec := status.Initial()
	if rec.Status != OutcomeFailedDownload || rec.RetryCount != 1 {
		t.Fatalf("after first run: %+v", rec)
	}

	r.RunInitial(context.Background())
	rec = status.Initial()
	if rec.Status != OutcomeCompleted || rec.RetryCount != 2 {
		t.Errorf("after second run: %+v", rec)
	}
	if pipeline.callCount() != 2 {
		t.Errorf("pipeline ran %d times, want 2", pipeline.callCount())
	}
}

func TestRunDailyKeyedByDate(t *testing.T) {
	pipeline := &scriptedPipeline{outcomes: []Outcome{OutcomeCompleted}}
	day1 := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	r, status, _ := newTestRunner(pipeline, day1)

	r.RunDaily(context.Background())
	r.RunDaily(context.Background())
	if pipeline.callCount() != 1 {
		t.Fatalf("same-day rerun executed pipeline %d times, want 1", pipeline.callCount())
	}

	// Next day must run again and keep the previous date's record.
	r.now = func() time.Time { return day1.AddDate(0, 0, 1) }
	r.RunDaily(context.Background())

	if pipeline.callCount() != 2 {
		t.Errorf("pipeline ran %d times across two days, want 2", pipeline.callCount())
	}
	recs := status.Daily()
	if len(recs) != 2 {
		t.Fatalf("daily records = %d, want 2", len(recs))
	}
	if recs["2024-03-01"].Status != OutcomeCompleted || recs["2024-03-02"].Status != OutcomeCompleted {
		t.Errorf("daily records = %+v", recs)
	}
}

func TestRunDailyRetryCountAcrossTicks(t *testing.T) {
	pipeline := &scriptedPipeline{outcomes: []Outcome{OutcomeFailedUpload, OutcomeCompleted}}
	now := time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC)
	r, status, _ := newTestRunner(pipeline, now)

	r.RunDaily(context.Background())
	r.RunDaily(context.Background())

	rec := status.Daily()["2024-03-01"]
	if rec.Status != OutcomeCompleted {
		t.Errorf("status = %q, want completed", rec.Status)
	}
	if rec.RetryCount != 2 {
		t.Errorf("retryCount = %d, want 2", rec.RetryCount)
	}
	if rec.Range != DailyReportRange {
		t.Errorf("range = %d, want %d", rec.Range, DailyReportRange)
	}
}

func TestRunnerOverlapGuard(t *testing.T) {
	pipeline := &scriptedPipeline{outcomes: []Outcome{OutcomeCompleted}, block: make(chan struct{})}
	r, _, _ := newTestRunner(pipeline, time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC))

	done := make(chan struct{})
	go func() {
		r.RunDaily(context.Background())
		close(done)
	}()

	for !r.InFlight(CadenceDaily) {
		time.Sleep(time.Millisecond)
	}

	// Overlapping call returns immediately without a second pipeline run.
	r.RunDaily(context.Background())

	close(pipeline.block)
	<-done

	if pipeline.callCount() != 1 {
		t.Errorf("pipeline ran %d times under overlap, want 1", pipeline.callCount())
	}
	if r.InFlight(CadenceDaily) {
		t.Error("cadence still marked in flight after completion")
	}
}

func TestRunnerPublishesStatusEvents(t *testing.T) {
	pipeline := &scriptedPipeline{outcomes: []Outcome{OutcomeFailedFetchURL}}
	r, _, bus := newTestRunner(pipeline, time.Date(2024, 3, 1, 6, 0, 0, 0, time.UTC))

	ch, cancel := bus.Subscribe()
	defer cancel()

	r.RunInitial(context.Background())

	select {
	case ev := <-ch:
		if ev.Type != EventStatusChanged {
			t.Errorf("event type = %q", ev.Type)
		}
		if ev.Payload["cadence"] != CadenceInitial || ev.Payload["status"] != string(OutcomeFailedFetchURL) {
			t.Errorf("payload = %v", ev.Payload)
		}
	default:
		t.Fatal("no event published")
	}
}
