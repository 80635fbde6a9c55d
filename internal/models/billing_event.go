package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventType identifies the kind of billing event.
type EventType string

const (
	EventStart  EventType = "start"
	EventPause  EventType = "pause"
	EventResume EventType = "resume"
	EventTick   EventType = "tick"
	EventEnd    EventType = "end"
)

// BillingEvent is one immutable entry in a session's append-only audit trail.
// Seq is assigned by the store on append and orders events within a session.
type BillingEvent struct {
	ID        uuid.UUID       `json:"id"`
	SessionID uuid.UUID       `json:"session_id"`
	Seq       int64           `json:"seq"`
	Timestamp time.Time       `json:"timestamp"`
	Type      EventType       `json:"type"`
	Amount    decimal.Decimal `json:"amount"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// StartPayload carries the session parameters needed to rebuild it from events.
type StartPayload struct {
	ClientID      uuid.UUID       `json:"client_id"`
	OperatorID    uuid.UUID       `json:"operator_id"`
	RatePerMinute decimal.Decimal `json:"rate_per_minute"`
}

// TickPayload carries the recomputed totals at a tick.
type TickPayload struct {
	DurationSeconds int64           `json:"duration_seconds"`
	BilledMinutes   int64           `json:"billed_minutes"`
	TotalCost       decimal.Decimal `json:"total_cost"`
}

// EndPayload carries the terminal totals and the reason code.
type EndPayload struct {
	Reason          EndReason       `json:"reason"`
	DurationSeconds int64           `json:"duration_seconds"`
	BilledMinutes   int64           `json:"billed_minutes"`
	TotalCost       decimal.Decimal `json:"total_cost"`
	OperatorEarning decimal.Decimal `json:"operator_earning"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
}
