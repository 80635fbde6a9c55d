// Package commission resolves operator commission percentages and tracks
// running earnings per operator across concurrent sessions.
package commission

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-consult/backend/internal/models"
)

var hundred = decimal.NewFromInt(100)

// RuleSource provides the active commission rule for an operator.
// Returns (nil, nil) when the operator has no rule on file.
type RuleSource interface {
	GetActiveByOperator(ctx context.Context, operatorID uuid.UUID) (*models.CommissionRule, error)
}

// Engine resolves effective commission percentages and accumulates per-operator
// running totals. Multiple sessions for the same operator settle concurrently,
// so each operator's state is guarded by its own lock.
type Engine struct {
	rules          RuleSource
	defaultPercent decimal.Decimal
	logger         *zap.Logger

	mu  sync.Mutex
	ops map[uuid.UUID]*operatorState
}

type operatorState struct {
	mu  sync.Mutex
	rtc models.RealTimeCommission
}

// NewEngine creates a commission engine. defaultPercent applies to operators
// without a rule on file; billing never stalls on a missing rule.
func NewEngine(rules RuleSource, defaultPercent decimal.Decimal, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		rules:          rules,
		defaultPercent: defaultPercent,
		logger:         logger,
		ops:            make(map[uuid.UUID]*operatorState),
	}
}

func (e *Engine) state(operatorID uuid.UUID) *operatorState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.ops[operatorID]
	if !ok {
		st = &operatorState{rtc: models.RealTimeCommission{
			OperatorID:               operatorID,
			CurrentCommissionPercent: e.defaultPercent,
			CumulativeEarnings:       decimal.Zero,
			CumulativePlatformFee:    decimal.Zero,
		}}
		e.ops[operatorID] = st
	}
	return st
}

func (e *Engine) rule(ctx context.Context, operatorID uuid.UUID) *models.CommissionRule {
	rule, err := e.rules.GetActiveByOperator(ctx, operatorID)
	if err != nil {
		e.logger.Warn("commission rule lookup failed, using default rate",
			zap.Error(err), zap.String("operator_id", operatorID.String()))
		return nil
	}
	return rule
}

// EffectivePercent returns the commission percentage currently in force for an
// operator, given their consultation count this period. Operators without a
// rule get the platform default.
func (e *Engine) EffectivePercent(ctx context.Context, operatorID uuid.UUID) decimal.Decimal {
	st := e.state(operatorID)
	st.mu.Lock()
	count := st.rtc.ConsultationsThisPeriod
	st.mu.Unlock()
	return resolvePercent(e.rule(ctx, operatorID), count, e.defaultPercent)
}

// RecordConsultation registers one billed consultation for the operator:
// increments the period count, splits the amount at the effective percentage,
// accumulates running totals, and recomputes the next unmet tier threshold.
// Returns the updated cached state.
func (e *Engine) RecordConsultation(ctx context.Context, operatorID uuid.UUID, amount decimal.Decimal) models.RealTimeCommission {
	rule := e.rule(ctx, operatorID)
	st := e.state(operatorID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.rtc.ConsultationsThisPeriod++
	percent := resolvePercent(rule, st.rtc.ConsultationsThisPeriod, e.defaultPercent)
	earning := amount.Mul(percent).Div(hundred)
	fee := amount.Sub(earning)

	st.rtc.CurrentCommissionPercent = percent
	st.rtc.CumulativeEarnings = st.rtc.CumulativeEarnings.Add(earning)
	st.rtc.CumulativePlatformFee = st.rtc.CumulativePlatformFee.Add(fee)
	st.rtc.NextBonusThreshold = nextThreshold(rule, st.rtc.ConsultationsThisPeriod)
	st.rtc.UpdatedAt = time.Now()
	return st.rtc
}

// Snapshot returns the cached running commission state for an operator.
// Operators never seen before get an initialized zero state.
func (e *Engine) Snapshot(ctx context.Context, operatorID uuid.UUID) models.RealTimeCommission {
	rule := e.rule(ctx, operatorID)
	st := e.state(operatorID)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.rtc.CurrentCommissionPercent = resolvePercent(rule, st.rtc.ConsultationsThisPeriod, e.defaultPercent)
	st.rtc.NextBonusThreshold = nextThreshold(rule, st.rtc.ConsultationsThisPeriod)
	return st.rtc
}

// Split apportions an amount at the given percentage into operator earning and
// platform fee. The two always sum to the amount.
func Split(amount, percent decimal.Decimal) (earning, fee decimal.Decimal) {
	earning = amount.Mul(percent).Div(hundred)
	fee = amount.Sub(earning)
	return earning, fee
}

// resolvePercent applies the rule's base percentage plus the bonus of the
// single highest tier whose threshold the count has reached. Tiers are never
// summed. A nil or inactive rule yields the platform default.
func resolvePercent(rule *models.CommissionRule, count int64, fallback decimal.Decimal) decimal.Decimal {
	if rule == nil || !rule.Active {
		return fallback
	}
	percent := rule.BaseCommissionPercent
	bonus := decimal.Zero
	for _, tier := range sortedTiers(rule.Tiers) {
		if count >= tier.ConsultationsThreshold {
			bonus = tier.BonusPercent
		}
	}
	return percent.Add(bonus)
}

// nextThreshold returns the smallest tier threshold still unmet, or nil.
func nextThreshold(rule *models.CommissionRule, count int64) *int64 {
	if rule == nil {
		return nil
	}
	for _, tier := range sortedTiers(rule.Tiers) {
		if count < tier.ConsultationsThreshold {
			t := tier.ConsultationsThreshold
			return &t
		}
	}
	return nil
}

func sortedTiers(tiers []models.CommissionTier) []models.CommissionTier {
	out := make([]models.CommissionTier, len(tiers))
	copy(out, tiers)
	sort.Slice(out, func(i, j int) bool {
		return out[i].ConsultationsThreshold < out[j].ConsultationsThreshold
	})
	return out
}
