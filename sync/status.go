package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// Outcome is the result of one pipeline run. Exactly one outcome is
// produced per run and written back whole; there are no partial states.
type Outcome string

const (
	OutcomeCompleted      Outcome = "completed"
	OutcomeFailedFetchURL Outcome = "failed_fetch_url"
	OutcomeFailedDownload Outcome = "failed_download"
	OutcomeFailedUpload   Outcome = "failed_upload"
)

// Store keys in the settings collection.
const (
	KeyEmail         = "kdp_email"
	KeyInitialStatus = "kdp_initial_report_status"
	KeyDailyStatus   = "kdp_daily_report_status"
)

// statusSchemaVersion is the current serialization version for status
// records. Blobs without a version field are treated as version 1.
const statusSchemaVersion = 1

// ReportStatus records the latest sync attempt for one cadence.
// RetryCount is informational only: it counts attempts across ticks
// but never caps them, so a failing cadence keeps retrying on every
// tick until it completes.
type ReportStatus struct {
	Version    int     `json:"version,omitempty"`
	Status     Outcome `json:"status,omitempty"`
	RetryCount int     `json:"retryCount"`
	Range      int     `json:"range"`
	UpdatedAt  int64   `json:"updatedAt"` // unix milliseconds
}

// Completed reports whether this cadence needs no further attempts.
func (s ReportStatus) Completed() bool {
	return s.Status == OutcomeCompleted
}

// Store is the persistent key-value collaborator holding the operator
// identity and the serialized status blobs.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
}

// StatusStore reads and writes typed status records over the raw
// key-value store. Corrupt or missing blobs degrade to empty records:
// stale state never blocks progress, at the cost of losing retry-count
// continuity.
type StatusStore struct {
	kv Store
}

// NewStatusStore wraps a key-value store.
func NewStatusStore(kv Store) *StatusStore {
	return &StatusStore{kv: kv}
}

// Email returns the operator's delivery address, or "" when not set.
func (s *StatusStore) Email() string {
	email, _ := s.kv.Get(KeyEmail)
	return email
}

// SetEmail stores the operator's delivery address; "" clears it.
func (s *StatusStore) SetEmail(email string) error {
	return s.kv.Set(KeyEmail, email)
}

// Initial returns the long-window catch-up record.
func (s *StatusStore) Initial() ReportStatus {
	raw, ok := s.kv.Get(KeyInitialStatus)
	if !ok || raw == "" {
		return ReportStatus{}
	}
	rec, err := ParseReportStatus(raw)
	if err != nil {
		slog.Warn("Discarding corrupt initial status record", "error", err)
		return ReportStatus{}
	}
	return rec
}

// SetInitial replaces the long-window catch-up record.
func (s *StatusStore) SetInitial(rec ReportStatus) error {
	rec.Version = statusSchemaVersion
	blob, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode initial status: %w", err)
	}
	return s.kv.Set(KeyInitialStatus, string(blob))
}

// Daily returns the date-keyed short-window records.
func (s *StatusStore) Daily() map[string]ReportStatus {
	raw, ok := s.kv.Get(KeyDailyStatus)
	if !ok || raw == "" {
		return map[string]ReportStatus{}
	}
	recs, err := ParseDailyStatus(raw)
	if err != nil {
		slog.Warn("Discarding corrupt daily status records", "error", err)
		return map[string]ReportStatus{}
	}
	return recs
}

// SetDailyEntry read-modify-writes the daily mapping, replacing only
// the given date and preserving every other recorded date.
func (s *StatusStore) SetDailyEntry(date string, rec ReportStatus) error {
	recs := s.Daily()
	rec.Version = statusSchemaVersion
	recs[date] = rec

	blob, err := json.Marshal(recs)
	if err != nil {
		return fmt.Errorf("encode daily status: %w", err)
	}
	return s.kv.Set(KeyDailyStatus, string(blob))
}

// ParseReportStatus decodes a single status blob. A missing version
// field is tolerated (legacy records predate versioning); a malformed
// blob is a typed failure the callers degrade to an empty record.
func ParseReportStatus(raw string) (ReportStatus, error) {
	var rec ReportStatus
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return ReportStatus{}, fmt.Errorf("parse status record: %w", err)
	}
	if rec.Version == 0 {
		rec.Version = 1
	}
	if rec.Version > statusSchemaVersion {
		return ReportStatus{}, fmt.Errorf("status record version %d is newer than supported %d", rec.Version, statusSchemaVersion)
	}
	return rec, nil
}

// ParseDailyStatus decodes the date-keyed mapping blob.
func ParseDailyStatus(raw string) (map[string]ReportStatus, error) {
	var recs map[string]ReportStatus
	if err := json.Unmarshal([]byte(raw), &recs); err != nil {
		return nil, fmt.Errorf("parse daily status records: %w", err)
	}
	if recs == nil {
		recs = map[string]ReportStatus{}
	}
	return recs, nil
}

// newAttemptStatus builds the record written after a pipeline run,
// carrying the retry counter forward from the previous record.
func newAttemptStatus(prev ReportStatus, outcome Outcome, windowDays int, at time.Time) ReportStatus {
	return ReportStatus{
		Version:    statusSchemaVersion,
		Status:     outcome,
		RetryCount: prev.RetryCount + 1,
		Range:      windowDays,
		UpdatedAt:  at.UnixMilli(),
	}
}
