package sync

import (
	"testing"
	"time"
)

func TestWindowFor(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 30, 45, 0, time.UTC)

	testCases := []struct {
		name      string
		period    int
		wantStart string
		wantEnd   string
	}{
		{
			name:      "single day",
			period:    1,
			wantStart: "2024-03-01T00:00:00Z",
			wantEnd:   "2024-03-01T23:59:59Z",
		},
		{
			name:      "week",
			period:    7,
			wantStart: "2024-02-24T00:00:00Z",
			wantEnd:   "2024-03-01T23:59:59Z",
		},
		{
			name:      "daily range crosses month boundary",
			period:    14,
			wantStart: "2024-02-17T00:00:00Z",
			wantEnd:   "2024-03-01T23:59:59Z",
		},
		{
			name:      "initial range crosses year boundary",
			period:    90,
			wantStart: "2023-12-03T00:00:00Z",
			wantEnd:   "2024-03-01T23:59:59Z",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := WindowFor(tc.period, now)
			if w.StartDate != tc.wantStart {
				t.Errorf("StartDate = %q, want %q", w.StartDate, tc.wantStart)
			}
			if w.EndDate != tc.wantEnd {
				t.Errorf("EndDate = %q, want %q", w.EndDate, tc.wantEnd)
			}
		})
	}
}

// TestWindowForExactDayCount checks the inclusive-day property for a
// spread of periods: the window always spans exactly P calendar days.
func TestWindowForExactDayCount(t *testing.T) {
	now := time.Date(2024, 3, 1, 23, 59, 59, 0, time.UTC)

	for _, period := range []int{1, 2, 14, 30, 90, 365} {
		w := WindowFor(period, now)

		start, err := time.Parse(windowLayout, w.StartDate)
		if err != nil {
			t.Fatalf("period %d: parse start: %v", period, err)
		}
		end, err := time.Parse(windowLayout, w.EndDate)
		if err != nil {
			t.Fatalf("period %d: parse end: %v", period, err)
		}

		days := int(end.Truncate(24*time.Hour).Sub(start.Truncate(24*time.Hour)).Hours()/24) + 1
		if days != period {
			t.Errorf("period %d: window spans %d days", period, days)
		}
	}
}

func TestWindowForNormalizesToUTC(t *testing.T) {
	loc := time.FixedZone("UTC-8", -8*60*60)
	// 2024-03-01 20:00 UTC-8 is 2024-03-02 04:00 UTC; the window must
	// anchor on the UTC date.
	now := time.Date(2024, 3, 1, 20, 0, 0, 0, loc)

	w := WindowFor(1, now)
	if w.StartDate != "2024-03-02T00:00:00Z" {
		t.Errorf("StartDate = %q, want 2024-03-02T00:00:00Z", w.StartDate)
	}
	if w.EndDate != "2024-03-02T23:59:59Z" {
		t.Errorf("EndDate = %q, want 2024-03-02T23:59:59Z", w.EndDate)
	}
}

func TestDateKey(t *testing.T) {
	loc := time.FixedZone("UTC+9", 9*60*60)
	// 2024-03-02 05:00 UTC+9 is still 2024-03-01 in UTC.
	got := dateKey(time.Date(2024, 3, 2, 5, 0, 0, 0, loc))
	if got != "2024-03-01" {
		t.Errorf("dateKey = %q, want 2024-03-01", got)
	}
}
