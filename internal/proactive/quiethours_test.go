package proactive

import (
	"testing"
	"time"
)

func TestQuietHoursContainsWrapsPastMidnight(t *testing.T) {
	q := DefaultQuietHours() // 22:00-07:00
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		hour int
		want bool
	}{
		{23, true},
		{3, true},
		{6, true},
		{7, false},
		{12, false},
		{21, false},
		{22, true},
	}
	for _, tt := range tests {
		now := base.Add(time.Duration(tt.hour) * time.Hour)
		if got := q.Contains(now); got != tt.want {
			t.Errorf("Contains(hour=%d) = %v, want %v", tt.hour, got, tt.want)
		}
	}
}

func TestQuietHoursZeroValueNeverApplies(t *testing.T) {
	var q QuietHours
	if q.Contains(time.Now()) {
		t.Error("Contains() = true for zero-value QuietHours, want false")
	}
}
