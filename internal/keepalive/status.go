package keepalive

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// TimeLayout is used for every timestamp in the status line.
const TimeLayout = "2006-01-02 15:04:05"

// StatusSource is the persisted state the status line is rendered from.
type StatusSource interface {
	State
	FlagSource
}

// Status is a snapshot of the keepalive bookkeeping.
type Status struct {
	LastRefresh    time.Time
	HasLastRefresh bool
	AutoRefresh    bool
	// NextRefresh is only meaningful when AutoRefresh is set.
	NextRefresh time.Time
}

// ReadStatus loads a Status. The next refresh is the last one plus interval,
// or now when that moment has already passed or no refresh was recorded.
func ReadStatus(ctx context.Context, src StatusSource, interval time.Duration, now time.Time) (Status, error) {
	if interval <= 0 {
		interval = DefaultInterval
	}
	var s Status
	last, ok, err := src.LastRefresh(ctx)
	if err != nil {
		return s, fmt.Errorf("failed to read last refresh: %w", err)
	}
	s.LastRefresh, s.HasLastRefresh = last, ok

	enabled, err := src.AutoRefresh(ctx)
	if err != nil {
		return s, fmt.Errorf("failed to read auto refresh flag: %w", err)
	}
	s.AutoRefresh = enabled

	s.NextRefresh = now
	if ok && last.Add(interval).After(now) {
		s.NextRefresh = last.Add(interval)
	}
	return s, nil
}

// FormatStatus renders s as the multi-line status text shown to the user.
// Times are rendered in loc; a nil loc means time.Local.
func FormatStatus(s Status, loc *time.Location) string {
	if loc == nil {
		loc = time.Local
	}
	var b strings.Builder
	if s.HasLastRefresh {
		fmt.Fprintf(&b, "Last refresh: %s\n", s.LastRefresh.In(loc).Format(TimeLayout))
	}
	if s.AutoRefresh {
		b.WriteString("Auto refresh enabled\n")
		fmt.Fprintf(&b, "Next refresh: %s\n", s.NextRefresh.In(loc).Format(TimeLayout))
	} else {
		b.WriteString("Auto refresh disabled\n")
	}
	return b.String()
}
