// Package billing implements the metered consultation billing engine: the
// session registry, per-session billing clocks, ceil-minute cost arithmetic,
// and the balance guard that force-ends sessions when funds run out.
package billing

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aura-consult/backend/internal/models"
)

var (
	// ErrSessionNotFound means no session with the given id is known.
	ErrSessionNotFound = errors.New("session not found")
	// ErrInvalidRate means the per-minute rate is not positive.
	ErrInvalidRate = errors.New("rate per minute must be positive")
	// ErrSessionTerminal means the session is completed or cancelled and
	// can no longer be paused or resumed.
	ErrSessionTerminal = errors.New("session already ended")
)

// durationAt returns the billable duration at the given instant: wall time
// since start minus accumulated pauses, including any pause still in progress.
// Never negative.
func durationAt(s *models.TimerSession, now time.Time) time.Duration {
	paused := time.Duration(s.PausedSeconds) * time.Second
	if s.LastPauseTime != nil {
		paused += now.Sub(*s.LastPauseTime)
	}
	d := now.Sub(s.StartTime) - paused
	if d < 0 {
		d = 0
	}
	return d
}

// ceilMinutes converts a duration to billed minutes, rounding partial minutes up.
func ceilMinutes(d time.Duration) int64 {
	secs := int64(d / time.Second)
	if secs <= 0 {
		return 0
	}
	return (secs + 59) / 60
}

// costFor computes the ceil-minute cost of a duration at a per-minute rate.
func costFor(d time.Duration, ratePerMinute decimal.Decimal) decimal.Decimal {
	return ratePerMinute.Mul(decimal.NewFromInt(ceilMinutes(d)))
}
