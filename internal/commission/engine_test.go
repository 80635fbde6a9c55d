package commission

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aura-consult/backend/internal/models"
)

type stubRules struct {
	rule *models.CommissionRule
	err  error
}

func (s stubRules) GetActiveByOperator(ctx context.Context, operatorID uuid.UUID) (*models.CommissionRule, error) {
	return s.rule, s.err
}

func tieredRule(operatorID uuid.UUID) *models.CommissionRule {
	return &models.CommissionRule{
		ID:                    uuid.New(),
		OperatorID:            operatorID,
		BaseCommissionPercent: decimal.NewFromInt(30),
		Tiers: []models.CommissionTier{
			{ConsultationsThreshold: 50, BonusPercent: decimal.NewFromInt(5)},
			{ConsultationsThreshold: 100, BonusPercent: decimal.NewFromInt(10)},
		},
		Active: true,
	}
}

func TestEffectivePercentDefaultWithoutRule(t *testing.T) {
	e := NewEngine(stubRules{}, decimal.NewFromInt(30), nil)
	got := e.EffectivePercent(context.Background(), uuid.New())
	if !got.Equal(decimal.NewFromInt(30)) {
		t.Errorf("percent = %s, want 30", got)
	}
}

func TestEffectivePercentDefaultOnLookupError(t *testing.T) {
	e := NewEngine(stubRules{err: errors.New("db down")}, decimal.NewFromInt(30), nil)
	got := e.EffectivePercent(context.Background(), uuid.New())
	if !got.Equal(decimal.NewFromInt(30)) {
		t.Errorf("percent = %s, want default 30 on lookup error", got)
	}
}

func TestResolvePercentHighestTierOnly(t *testing.T) {
	operatorID := uuid.New()
	rule := tieredRule(operatorID)

	tests := []struct {
		name  string
		count int64
		want  string
	}{
		{"no tier reached", 10, "30"},
		{"just below first tier", 49, "30"},
		{"first tier", 50, "35"},
		{"between tiers", 99, "35"},
		{"second tier", 100, "40"},
		// Bonuses never stack; 120 consultations is 30+10, not 30+5+10.
		{"past second tier", 120, "40"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := resolvePercent(rule, tt.count, decimal.NewFromInt(30))
			if !got.Equal(decimal.RequireFromString(tt.want)) {
				t.Errorf("resolvePercent(count=%d) = %s, want %s", tt.count, got, tt.want)
			}
		})
	}
}

func TestResolvePercentInactiveRuleFallsBack(t *testing.T) {
	rule := tieredRule(uuid.New())
	rule.Active = false
	got := resolvePercent(rule, 200, decimal.NewFromInt(25))
	if !got.Equal(decimal.NewFromInt(25)) {
		t.Errorf("percent = %s, want fallback 25 for inactive rule", got)
	}
}

func TestRecordConsultationProgression(t *testing.T) {
	operatorID := uuid.New()
	e := NewEngine(stubRules{rule: tieredRule(operatorID)}, decimal.NewFromInt(30), nil)
	ctx := context.Background()
	amount := decimal.NewFromInt(100)

	var rtc models.RealTimeCommission
	for i := 0; i < 49; i++ {
		rtc = e.RecordConsultation(ctx, operatorID, amount)
	}
	if !rtc.CurrentCommissionPercent.Equal(decimal.NewFromInt(30)) {
		t.Errorf("percent at 49 = %s, want 30", rtc.CurrentCommissionPercent)
	}
	if rtc.NextBonusThreshold == nil || *rtc.NextBonusThreshold != 50 {
		t.Errorf("next threshold at 49 = %v, want 50", rtc.NextBonusThreshold)
	}

	rtc = e.RecordConsultation(ctx, operatorID, amount)
	if rtc.ConsultationsThisPeriod != 50 {
		t.Fatalf("count = %d, want 50", rtc.ConsultationsThisPeriod)
	}
	if !rtc.CurrentCommissionPercent.Equal(decimal.NewFromInt(35)) {
		t.Errorf("percent at 50 = %s, want 35", rtc.CurrentCommissionPercent)
	}
	if rtc.NextBonusThreshold == nil || *rtc.NextBonusThreshold != 100 {
		t.Errorf("next threshold at 50 = %v, want 100", rtc.NextBonusThreshold)
	}

	for i := 0; i < 50; i++ {
		rtc = e.RecordConsultation(ctx, operatorID, amount)
	}
	if !rtc.CurrentCommissionPercent.Equal(decimal.NewFromInt(40)) {
		t.Errorf("percent at 100 = %s, want 40", rtc.CurrentCommissionPercent)
	}
	if rtc.NextBonusThreshold != nil {
		t.Errorf("next threshold at 100 = %d, want nil", *rtc.NextBonusThreshold)
	}

	// Earnings plus fees always reconcile with the total billed.
	total := amount.Mul(decimal.NewFromInt(100))
	if !rtc.CumulativeEarnings.Add(rtc.CumulativePlatformFee).Equal(total) {
		t.Errorf("earnings %s + fees %s != billed %s",
			rtc.CumulativeEarnings, rtc.CumulativePlatformFee, total)
	}
}

func TestSplitSumsToAmount(t *testing.T) {
	tests := []struct {
		amount  string
		percent string
		earning string
	}{
		{"7.50", "30", "2.25"},
		{"0.01", "33", "0.0033"},
		{"100", "0", "0"},
		{"100", "100", "100"},
	}
	for _, tt := range tests {
		amount := decimal.RequireFromString(tt.amount)
		earning, fee := Split(amount, decimal.RequireFromString(tt.percent))
		if !earning.Equal(decimal.RequireFromString(tt.earning)) {
			t.Errorf("Split(%s, %s) earning = %s, want %s", tt.amount, tt.percent, earning, tt.earning)
		}
		if !earning.Add(fee).Equal(amount) {
			t.Errorf("Split(%s, %s): earning %s + fee %s != amount", tt.amount, tt.percent, earning, fee)
		}
	}
}

func TestSnapshotUnknownOperator(t *testing.T) {
	e := NewEngine(stubRules{}, decimal.NewFromInt(30), nil)
	rtc := e.Snapshot(context.Background(), uuid.New())
	if rtc.ConsultationsThisPeriod != 0 {
		t.Errorf("count = %d, want 0", rtc.ConsultationsThisPeriod)
	}
	if !rtc.CurrentCommissionPercent.Equal(decimal.NewFromInt(30)) {
		t.Errorf("percent = %s, want default 30", rtc.CurrentCommissionPercent)
	}
	if !rtc.CumulativeEarnings.IsZero() || !rtc.CumulativePlatformFee.IsZero() {
		t.Errorf("cumulative totals not zero: %s / %s", rtc.CumulativeEarnings, rtc.CumulativePlatformFee)
	}
}
