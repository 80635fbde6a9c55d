package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Wallet holds a client's prepaid balance.
type Wallet struct {
	ID        uuid.UUID       `json:"id"`
	ClientID  uuid.UUID       `json:"client_id"`
	Balance   decimal.Decimal `json:"balance"`
	Currency  string          `json:"currency"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// SettlementStatus for settlements.
const (
	SettlementPending   = "pending"
	SettlementCompleted = "completed"
	SettlementFailed    = "failed"
)

// Settlement records the wallet debit for a finished session. Debit failure is
// recorded here and surfaced; the billed amounts in the event log stand either way.
type Settlement struct {
	ID              uuid.UUID       `json:"id"`
	SessionID       uuid.UUID       `json:"session_id"`
	ClientID        uuid.UUID       `json:"client_id"`
	OperatorID      uuid.UUID       `json:"operator_id"`
	Amount          decimal.Decimal `json:"amount"`
	OperatorEarning decimal.Decimal `json:"operator_earning"`
	PlatformFee     decimal.Decimal `json:"platform_fee"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	FailureReason   string          `json:"failure_reason,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
