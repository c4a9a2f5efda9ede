package cron

import (
	"log/slog"
	"time"
)

// QuietHours is a local-time window that suppresses proactive delivery.
// A window crossing midnight (e.g. 22:00-06:00) is supported; identical
// start and end means never quiet.
type QuietHours struct {
	Enabled  bool
	Start    string // "HH:MM"
	End      string // "HH:MM"
	Timezone string // IANA name; empty = local
}

// IsQuiet reports whether t falls inside the quiet window. The window
// includes its start and excludes its end.
func (q QuietHours) IsQuiet(t time.Time) bool {
	if !q.Enabled {
		return false
	}
	start, okS := parseClock(q.Start)
	end, okE := parseClock(q.End)
	if !okS || !okE || start == end {
		return false
	}

	loc := time.Local
	if q.Timezone != "" {
		l, err := time.LoadLocation(q.Timezone)
		if err != nil {
			slog.Warn("unknown quiet hours timezone", "tz", q.Timezone)
		} else {
			loc = l
		}
	}

	local := t.In(loc)
	minute := local.Hour()*60 + local.Minute()

	if start < end {
		return minute >= start && minute < end
	}
	// Window crosses midnight.
	return minute >= start || minute < end
}

// parseClock turns "HH:MM" into minutes since midnight.
func parseClock(s string) (int, bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, false
	}
	return t.Hour()*60 + t.Minute(), true
}
