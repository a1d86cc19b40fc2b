// Package sync implements the royalty report synchronization pipeline:
// status-gated cadence runners, the transfer pipeline, the scheduler,
// and the persisted status records that keep restarts from repeating
// or skipping work.
package sync

import (
	"time"

	"github.com/inkpress/royaltyrelay/pocketbase/kdp"
)

// windowLayout is second-precision ISO-8601 UTC with a Z suffix.
const windowLayout = "2006-01-02T15:04:05Z"

// WindowFor derives the inclusive report window of exactly periodDays
// full calendar days ending on now's UTC date: the end bound is today
// at 23:59:59 and the start bound is (periodDays-1) days earlier at
// 00:00:00.
func WindowFor(periodDays int, now time.Time) kdp.Window {
	now = now.UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 23, 59, 59, 0, time.UTC)
	start := end.AddDate(0, 0, -(periodDays - 1))
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)

	return kdp.Window{
		StartDate: start.Format(windowLayout),
		EndDate:   end.Format(windowLayout),
	}
}

// dateKey formats a time as the UTC calendar date used to key daily
// status records.
func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
