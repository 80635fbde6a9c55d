package billing

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aura-consult/backend/internal/models"
)

func TestCeilMinutes(t *testing.T) {
	tests := []struct {
		name string
		d    time.Duration
		want int64
	}{
		{"zero", 0, 0},
		{"one second", time.Second, 1},
		{"under a minute", 59 * time.Second, 1},
		{"exact minute", 60 * time.Second, 1},
		{"just over a minute", 61 * time.Second, 2},
		{"two minutes five seconds", 125 * time.Second, 3},
		{"exact ten minutes", 10 * time.Minute, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ceilMinutes(tt.d); got != tt.want {
				t.Errorf("ceilMinutes(%v) = %d, want %d", tt.d, got, tt.want)
			}
		})
	}
}

func TestCostFor(t *testing.T) {
	rate := decimal.RequireFromString("2.50")
	got := costFor(125*time.Second, rate)
	want := decimal.RequireFromString("7.50")
	if !got.Equal(want) {
		t.Errorf("costFor(125s, 2.50) = %s, want %s", got, want)
	}

	if got := costFor(0, rate); !got.IsZero() {
		t.Errorf("costFor(0, 2.50) = %s, want 0", got)
	}
}

func TestDurationAt(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("no pauses", func(t *testing.T) {
		s := &models.TimerSession{StartTime: start}
		got := durationAt(s, start.Add(125*time.Second))
		if got != 125*time.Second {
			t.Errorf("duration = %v, want 125s", got)
		}
	})

	t.Run("accumulated pause subtracted", func(t *testing.T) {
		s := &models.TimerSession{StartTime: start, PausedSeconds: 30}
		got := durationAt(s, start.Add(150*time.Second))
		if got != 120*time.Second {
			t.Errorf("duration = %v, want 120s", got)
		}
	})

	t.Run("pause in progress counts", func(t *testing.T) {
		pausedAt := start.Add(60 * time.Second)
		s := &models.TimerSession{StartTime: start, LastPauseTime: &pausedAt}
		got := durationAt(s, start.Add(90*time.Second))
		if got != 60*time.Second {
			t.Errorf("duration = %v, want 60s", got)
		}
	})

	t.Run("never negative", func(t *testing.T) {
		s := &models.TimerSession{StartTime: start, PausedSeconds: 1000}
		got := durationAt(s, start.Add(10*time.Second))
		if got != 0 {
			t.Errorf("duration = %v, want 0", got)
		}
	})
}
