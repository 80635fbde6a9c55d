package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CommissionTier unlocks a bonus once an operator's consultation count for the
// period reaches the threshold. Tiers are not stacked; the highest reached wins.
type CommissionTier struct {
	ConsultationsThreshold int64           `json:"consultations_threshold"`
	BonusPercent           decimal.Decimal `json:"bonus_percent"`
}

// CommissionRule is the platform-owned commission configuration for an operator.
type CommissionRule struct {
	ID                    uuid.UUID        `json:"id"`
	OperatorID            uuid.UUID        `json:"operator_id"`
	BaseCommissionPercent decimal.Decimal  `json:"base_commission_percent"`
	Tiers                 []CommissionTier `json:"tiers"`
	ActivatedAt           time.Time        `json:"activated_at"`
	Active                bool             `json:"active"`
	CreatedAt             time.Time        `json:"created_at"`
	UpdatedAt             time.Time        `json:"updated_at"`
}

// RealTimeCommission is the cached running commission state per operator.
// It is derived; always reconstructible from the rule plus consultation history.
type RealTimeCommission struct {
	OperatorID               uuid.UUID       `json:"operator_id"`
	CurrentCommissionPercent decimal.Decimal `json:"current_commission_percent"`
	ConsultationsThisPeriod  int64           `json:"consultations_this_period"`
	CumulativeEarnings       decimal.Decimal `json:"cumulative_earnings"`
	CumulativePlatformFee    decimal.Decimal `json:"cumulative_platform_fee"`
	// NextBonusThreshold is the smallest tier threshold still unmet; nil when
	// every tier has been reached or the rule has no tiers.
	NextBonusThreshold *int64    `json:"next_bonus_threshold,omitempty"`
	UpdatedAt          time.Time `json:"updated_at"`
}
