package events

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aura-consult/backend/internal/models"
)

func mustJSON(t *testing.T, v interface{}) json.RawMessage {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}

func TestReplaySessionFullLifecycle(t *testing.T) {
	sessionID := uuid.New()
	clientID := uuid.New()
	operatorID := uuid.New()
	rate := decimal.RequireFromString("2.50")
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	evs := []models.BillingEvent{
		{SessionID: sessionID, Seq: 1, Timestamp: t0, Type: models.EventStart,
			Payload: mustJSON(t, models.StartPayload{ClientID: clientID, OperatorID: operatorID, RatePerMinute: rate})},
		{SessionID: sessionID, Seq: 2, Timestamp: t0.Add(60 * time.Second), Type: models.EventTick,
			Payload: mustJSON(t, models.TickPayload{DurationSeconds: 60, BilledMinutes: 1, TotalCost: decimal.RequireFromString("2.50")})},
		{SessionID: sessionID, Seq: 3, Timestamp: t0.Add(90 * time.Second), Type: models.EventPause},
		{SessionID: sessionID, Seq: 4, Timestamp: t0.Add(120 * time.Second), Type: models.EventResume},
		{SessionID: sessionID, Seq: 5, Timestamp: t0.Add(150 * time.Second), Type: models.EventEnd,
			Payload: mustJSON(t, models.EndPayload{
				Reason:          models.ReasonClientEnded,
				DurationSeconds: 120,
				BilledMinutes:   2,
				TotalCost:       decimal.RequireFromString("5.00"),
				OperatorEarning: decimal.RequireFromString("1.50"),
				PlatformFee:     decimal.RequireFromString("3.50"),
			})},
	}

	s, err := ReplaySession(evs)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if s.ID != sessionID || s.ClientID != clientID || s.OperatorID != operatorID {
		t.Error("identity fields not restored from start event")
	}
	if !s.RatePerMinute.Equal(rate) {
		t.Errorf("rate = %s, want %s", s.RatePerMinute, rate)
	}
	if s.PausedSeconds != 30 {
		t.Errorf("paused seconds = %d, want 30", s.PausedSeconds)
	}
	if s.Status != models.SessionCompleted {
		t.Errorf("status = %s, want completed", s.Status)
	}
	if s.EndedReason != models.ReasonClientEnded {
		t.Errorf("reason = %s, want client_ended", s.EndedReason)
	}
	if s.DurationSeconds != 120 || s.BilledMinutes != 2 {
		t.Errorf("duration/minutes = %d/%d, want 120/2", s.DurationSeconds, s.BilledMinutes)
	}
	if !s.TotalCost.Equal(decimal.RequireFromString("5.00")) {
		t.Errorf("total cost = %s, want 5.00", s.TotalCost)
	}
	if !s.OperatorEarning.Add(s.PlatformFee).Equal(s.TotalCost) {
		t.Errorf("earning %s + fee %s != cost %s", s.OperatorEarning, s.PlatformFee, s.TotalCost)
	}
	if s.EndTime == nil || !s.EndTime.Equal(t0.Add(150*time.Second)) {
		t.Errorf("end time = %v, want %v", s.EndTime, t0.Add(150*time.Second))
	}
}

func TestReplaySessionEndedWhilePaused(t *testing.T) {
	sessionID := uuid.New()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	evs := []models.BillingEvent{
		{SessionID: sessionID, Seq: 1, Timestamp: t0, Type: models.EventStart,
			Payload: mustJSON(t, models.StartPayload{ClientID: uuid.New(), OperatorID: uuid.New(), RatePerMinute: decimal.NewFromInt(1)})},
		{SessionID: sessionID, Seq: 2, Timestamp: t0.Add(60 * time.Second), Type: models.EventPause},
		{SessionID: sessionID, Seq: 3, Timestamp: t0.Add(90 * time.Second), Type: models.EventEnd,
			Payload: mustJSON(t, models.EndPayload{
				Reason:          models.ReasonInsufficientFunds,
				DurationSeconds: 60,
				BilledMinutes:   1,
				TotalCost:       decimal.NewFromInt(1),
				OperatorEarning: decimal.RequireFromString("0.30"),
				PlatformFee:     decimal.RequireFromString("0.70"),
			})},
	}

	s, err := ReplaySession(evs)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if s.PausedSeconds != 30 {
		t.Errorf("paused seconds = %d, want 30 (open pause folded at end)", s.PausedSeconds)
	}
	if s.LastPauseTime != nil {
		t.Error("last pause time should be cleared after end")
	}
	if s.Status != models.SessionCancelled {
		t.Errorf("status = %s, want cancelled for forced termination", s.Status)
	}
}

func TestReplaySessionInFlight(t *testing.T) {
	sessionID := uuid.New()
	t0 := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	evs := []models.BillingEvent{
		{SessionID: sessionID, Seq: 1, Timestamp: t0, Type: models.EventStart,
			Payload: mustJSON(t, models.StartPayload{ClientID: uuid.New(), OperatorID: uuid.New(), RatePerMinute: decimal.NewFromInt(2)})},
		{SessionID: sessionID, Seq: 2, Timestamp: t0.Add(60 * time.Second), Type: models.EventPause},
	}

	s, err := ReplaySession(evs)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if s.Status != models.SessionPaused {
		t.Errorf("status = %s, want paused", s.Status)
	}
	if s.LastPauseTime == nil || !s.LastPauseTime.Equal(t0.Add(60*time.Second)) {
		t.Errorf("last pause time = %v, want %v", s.LastPauseTime, t0.Add(60*time.Second))
	}
}

func TestReplaySessionRequiresStart(t *testing.T) {
	if _, err := ReplaySession(nil); !errors.Is(err, ErrNoStartEvent) {
		t.Errorf("empty log: err = %v, want ErrNoStartEvent", err)
	}

	evs := []models.BillingEvent{{SessionID: uuid.New(), Seq: 1, Type: models.EventTick}}
	if _, err := ReplaySession(evs); !errors.Is(err, ErrNoStartEvent) {
		t.Errorf("tick-first log: err = %v, want ErrNoStartEvent", err)
	}
}

func TestMemoryStoreAssignsSeq(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	sessionID := uuid.New()

	for i := 0; i < 3; i++ {
		// Caller-provided Seq is ignored; the store numbers events itself.
		if err := store.Append(ctx, models.BillingEvent{SessionID: sessionID, Seq: 99, Type: models.EventTick}); err != nil {
			t.Fatalf("append: %v", err)
		}
	}
	evs, err := store.ListBySession(ctx, sessionID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(evs) != 3 {
		t.Fatalf("len = %d, want 3", len(evs))
	}
	for i, ev := range evs {
		if ev.Seq != int64(i+1) {
			t.Errorf("seq[%d] = %d, want %d", i, ev.Seq, i+1)
		}
	}
}
