package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SessionStatus is the lifecycle state of a consultation session.
type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionPaused    SessionStatus = "paused"
	SessionCompleted SessionStatus = "completed"
	SessionCancelled SessionStatus = "cancelled"
)

// Terminal reports whether no further mutation of the session is permitted.
func (s SessionStatus) Terminal() bool {
	return s == SessionCompleted || s == SessionCancelled
}

// EndReason explains why a session reached a terminal state.
type EndReason string

const (
	ReasonClientEnded       EndReason = "client_ended"
	ReasonOperatorEnded     EndReason = "operator_ended"
	ReasonInsufficientFunds EndReason = "insufficient_funds"
	ReasonTransportFailed   EndReason = "transport_failed"
)

// Forced reports whether the reason indicates a forced or error termination,
// which maps the session to cancelled instead of completed.
func (r EndReason) Forced() bool {
	return r == ReasonInsufficientFunds || r == ReasonTransportFailed
}

// Valid reports whether the reason is one of the known reason codes.
func (r EndReason) Valid() bool {
	switch r {
	case ReasonClientEnded, ReasonOperatorEnded, ReasonInsufficientFunds, ReasonTransportFailed:
		return true
	}
	return false
}

// TimerSession is one metered consultation between a client and an operator.
// Billing is in whole-minute increments, rounding partial minutes up.
type TimerSession struct {
	ID            uuid.UUID       `json:"id"`
	ClientID      uuid.UUID       `json:"client_id"`
	OperatorID    uuid.UUID       `json:"operator_id"`
	StartTime     time.Time       `json:"start_time"`
	EndTime       *time.Time      `json:"end_time,omitempty"`
	RatePerMinute decimal.Decimal `json:"rate_per_minute"`
	Status        SessionStatus   `json:"status"`
	EndedReason   EndReason       `json:"ended_reason,omitempty"`

	// PausedSeconds accumulates completed pause intervals. It never decreases.
	PausedSeconds int64      `json:"paused_seconds"`
	LastPauseTime *time.Time `json:"last_pause_time,omitempty"`

	// DurationSeconds is billable time as of the last recomputation.
	DurationSeconds int64           `json:"duration_seconds"`
	BilledMinutes   int64           `json:"billed_minutes"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	OperatorEarning decimal.Decimal `json:"operator_earning"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Clone returns a shallow copy safe to hand out while the original keeps mutating.
func (s *TimerSession) Clone() *TimerSession {
	c := *s
	if s.EndTime != nil {
		t := *s.EndTime
		c.EndTime = &t
	}
	if s.LastPauseTime != nil {
		t := *s.LastPauseTime
		c.LastPauseTime = &t
	}
	return &c
}
