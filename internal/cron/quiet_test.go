package cron

import (
	"testing"
	"time"
)

func TestQuietHours(t *testing.T) {
	at := func(hour, min int) time.Time {
		return time.Date(2026, 7, 1, hour, min, 0, 0, time.UTC)
	}

	tests := []struct {
		name  string
		q     QuietHours
		t     time.Time
		want  bool
	}{
		{"disabled", QuietHours{Start: "22:00", End: "06:00"}, at(23, 0), false},
		{"daytime window inside", QuietHours{Enabled: true, Start: "13:00", End: "14:00", Timezone: "UTC"}, at(13, 30), true},
		{"daytime window before", QuietHours{Enabled: true, Start: "13:00", End: "14:00", Timezone: "UTC"}, at(12, 59), false},
		{"start inclusive", QuietHours{Enabled: true, Start: "13:00", End: "14:00", Timezone: "UTC"}, at(13, 0), true},
		{"end exclusive", QuietHours{Enabled: true, Start: "13:00", End: "14:00", Timezone: "UTC"}, at(14, 0), false},
		{"overnight late evening", QuietHours{Enabled: true, Start: "22:00", End: "06:00", Timezone: "UTC"}, at(23, 15), true},
		{"overnight early morning", QuietHours{Enabled: true, Start: "22:00", End: "06:00", Timezone: "UTC"}, at(5, 59), true},
		{"overnight daytime", QuietHours{Enabled: true, Start: "22:00", End: "06:00", Timezone: "UTC"}, at(12, 0), false},
		{"identical bounds never quiet", QuietHours{Enabled: true, Start: "08:00", End: "08:00", Timezone: "UTC"}, at(8, 0), false},
		{"unparseable clock", QuietHours{Enabled: true, Start: "late", End: "06:00", Timezone: "UTC"}, at(23, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.q.IsQuiet(tt.t); got != tt.want {
				t.Errorf("IsQuiet(%v) = %v, want %v", tt.t, got, tt.want)
			}
		})
	}
}

func TestQuietHoursTimezone(t *testing.T) {
	q := QuietHours{Enabled: true, Start: "22:00", End: "06:00", Timezone: "Asia/Jakarta"}

	// 16:00 UTC is 23:00 in Jakarta (UTC+7): inside the window.
	if !q.IsQuiet(time.Date(2026, 7, 1, 16, 0, 0, 0, time.UTC)) {
		t.Error("16:00 UTC should be quiet in Asia/Jakarta")
	}
	// 05:00 UTC is 12:00 in Jakarta: outside.
	if q.IsQuiet(time.Date(2026, 7, 1, 5, 0, 0, 0, time.UTC)) {
		t.Error("05:00 UTC should not be quiet in Asia/Jakarta")
	}
}
