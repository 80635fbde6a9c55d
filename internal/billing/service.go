package billing

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/aura-consult/backend/internal/commission"
	"github.com/aura-consult/backend/internal/events"
	"github.com/aura-consult/backend/internal/models"
	"github.com/aura-consult/backend/pkg/queue"
)

// Wallet is the external balance collaborator. The engine only reads it; the
// settlement worker is the one that debits.
type Wallet interface {
	GetBalance(ctx context.Context, clientID uuid.UUID) (decimal.Decimal, error)
}

// SessionUpdate is pushed to client/operator UIs on every tick.
type SessionUpdate struct {
	SessionID       uuid.UUID            `json:"session_id"`
	Status          models.SessionStatus `json:"status"`
	DurationSeconds int64                `json:"duration_seconds"`
	BilledMinutes   int64                `json:"billed_minutes"`
	TotalCost       decimal.Decimal      `json:"total_cost"`
}

// SessionSummary is pushed once when a session reaches a terminal state.
type SessionSummary struct {
	SessionID       uuid.UUID        `json:"session_id"`
	Reason          models.EndReason `json:"reason"`
	DurationSeconds int64            `json:"duration_seconds"`
	BilledMinutes   int64            `json:"billed_minutes"`
	TotalCost       decimal.Decimal  `json:"total_cost"`
	OperatorEarning decimal.Decimal  `json:"operator_earning"`
	PlatformFee     decimal.Decimal  `json:"platform_fee"`
}

// Notifier receives session updates for display; delivery is not this engine's concern.
type Notifier interface {
	SessionUpdate(update SessionUpdate)
	SessionEnded(summary SessionSummary)
}

// Transport is the external call/chat media collaborator. Terminate tells it
// to tear down the live channel for a session.
type Transport interface {
	Terminate(sessionID uuid.UUID, reason models.EndReason)
}

// SnapshotStore checkpoints sessions so billing survives restarts.
type SnapshotStore interface {
	Save(ctx context.Context, s *models.TimerSession) error
	Get(ctx context.Context, id uuid.UUID) (*models.TimerSession, error)
	ListOpen(ctx context.Context) ([]*models.TimerSession, error)
}

// Settler hands terminal sessions to the settlement worker.
type Settler interface {
	EnqueueSettlement(ctx context.Context, payload queue.SettlementPayload) error
}

// entry pairs a session with its single-writer lock and clock cancellation.
// All mutation of the session goes through mu; the registry lock covers only
// map insert/lookup.
type entry struct {
	mu     sync.Mutex
	s      *models.TimerSession
	cancel context.CancelFunc
}

// Service owns the session registry and drives the billing lifecycle.
type Service struct {
	mu      sync.RWMutex
	entries map[uuid.UUID]*entry

	wallet      Wallet
	commissions *commission.Engine
	events      events.Store
	snapshots   SnapshotStore
	settler     Settler
	notifier    Notifier
	transport   Transport
	logger      *zap.Logger

	interval time.Duration
	now      func() time.Time

	rootCtx context.Context
	stop    context.CancelFunc
}

// NewService creates the billing service. notifier, transport, settler and
// snapshots may be nil; the engine then runs without that collaborator.
func NewService(interval time.Duration, wallet Wallet, commissions *commission.Engine, eventStore events.Store, snapshots SnapshotStore, settler Settler, notifier Notifier, transport Transport, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	rootCtx, stop := context.WithCancel(context.Background())
	return &Service{
		entries:     make(map[uuid.UUID]*entry),
		wallet:      wallet,
		commissions: commissions,
		events:      eventStore,
		snapshots:   snapshots,
		settler:     settler,
		notifier:    notifier,
		transport:   transport,
		logger:      logger,
		interval:    interval,
		now:         time.Now,
		rootCtx:     rootCtx,
		stop:        stop,
	}
}

// Close stops every session clock. Sessions themselves are left as-is; a
// restart restores them via Restore.
func (s *Service) Close() {
	s.stop()
}

// StartSession registers a new active session and starts its billing clock.
func (s *Service) StartSession(ctx context.Context, clientID, operatorID uuid.UUID, ratePerMinute decimal.Decimal) (*models.TimerSession, error) {
	if ratePerMinute.Sign() <= 0 {
		return nil, ErrInvalidRate
	}
	now := s.now()
	sess := &models.TimerSession{
		ID:              uuid.New(),
		ClientID:        clientID,
		OperatorID:      operatorID,
		StartTime:       now,
		RatePerMinute:   ratePerMinute,
		Status:          models.SessionActive,
		TotalCost:       decimal.Zero,
		OperatorEarning: decimal.Zero,
		PlatformFee:     decimal.Zero,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	payload, _ := json.Marshal(models.StartPayload{
		ClientID:      clientID,
		OperatorID:    operatorID,
		RatePerMinute: ratePerMinute,
	})
	s.appendEvent(ctx, models.BillingEvent{
		SessionID: sess.ID,
		Timestamp: now,
		Type:      models.EventStart,
		Amount:    decimal.Zero,
		Payload:   payload,
	})
	s.checkpoint(ctx, sess)

	clone := sess.Clone()
	e := &entry{s: sess}
	s.mu.Lock()
	s.entries[sess.ID] = e
	s.mu.Unlock()
	s.startClock(e)

	s.logger.Info("session started",
		zap.String("session_id", sess.ID.String()),
		zap.String("client_id", clientID.String()),
		zap.String("operator_id", operatorID.String()),
		zap.String("rate_per_minute", ratePerMinute.String()))
	return clone, nil
}

// Get returns a session by id: live registry first, then the snapshot store
// for sessions from before the last restart.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (*models.TimerSession, error) {
	if e, ok := s.entry(id); ok {
		e.mu.Lock()
		defer e.mu.Unlock()
		return e.s.Clone(), nil
	}
	if s.snapshots != nil {
		sess, err := s.snapshots.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if sess != nil {
			return sess, nil
		}
	}
	return nil, ErrSessionNotFound
}

// ListActive returns all non-terminal sessions in the registry.
func (s *Service) ListActive() []*models.TimerSession {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.entries))
	for _, e := range s.entries {
		entries = append(entries, e)
	}
	s.mu.RUnlock()

	var out []*models.TimerSession
	for _, e := range entries {
		e.mu.Lock()
		if !e.s.Status.Terminal() {
			out = append(out, e.s.Clone())
		}
		e.mu.Unlock()
	}
	return out
}

// Pause suspends billing for an active session. Pausing an already paused
// session is a no-op, not an error.
func (s *Service) Pause(ctx context.Context, id uuid.UUID) (*models.TimerSession, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.mu.Lock()
	sess := e.s
	if sess.Status.Terminal() {
		e.mu.Unlock()
		return nil, ErrSessionTerminal
	}
	if sess.Status == models.SessionPaused {
		clone := sess.Clone()
		e.mu.Unlock()
		return clone, nil
	}
	now := s.now()
	sess.Status = models.SessionPaused
	sess.LastPauseTime = &now
	sess.UpdatedAt = now
	clone := sess.Clone()
	e.mu.Unlock()

	s.appendEvent(ctx, models.BillingEvent{
		SessionID: id,
		Timestamp: now,
		Type:      models.EventPause,
		Amount:    decimal.Zero,
	})
	s.checkpoint(ctx, clone)
	return clone, nil
}

// Resume restarts billing for a paused session, folding the completed pause
// into the accumulated paused duration. Resuming an active session is a no-op.
func (s *Service) Resume(ctx context.Context, id uuid.UUID) (*models.TimerSession, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.mu.Lock()
	sess := e.s
	if sess.Status.Terminal() {
		e.mu.Unlock()
		return nil, ErrSessionTerminal
	}
	if sess.Status == models.SessionActive {
		clone := sess.Clone()
		e.mu.Unlock()
		return clone, nil
	}
	now := s.now()
	if sess.LastPauseTime != nil {
		sess.PausedSeconds += int64(now.Sub(*sess.LastPauseTime) / time.Second)
		sess.LastPauseTime = nil
	}
	sess.Status = models.SessionActive
	sess.UpdatedAt = now
	clone := sess.Clone()
	e.mu.Unlock()

	s.appendEvent(ctx, models.BillingEvent{
		SessionID: id,
		Timestamp: now,
		Type:      models.EventResume,
		Amount:    decimal.Zero,
	})
	s.checkpoint(ctx, clone)
	return clone, nil
}

// End finalizes a session from active or paused: computes the final cost and
// commission split, stops the clock, records the consultation with the
// commission engine, and hands the session to settlement. Ending an already
// terminal session is an idempotent no-op.
func (s *Service) End(ctx context.Context, id uuid.UUID, reason models.EndReason) (*models.TimerSession, error) {
	e, ok := s.entry(id)
	if !ok {
		return nil, ErrSessionNotFound
	}
	e.mu.Lock()
	sess := e.s
	if sess.Status.Terminal() {
		clone := sess.Clone()
		e.mu.Unlock()
		return clone, nil
	}
	now := s.now()
	if sess.LastPauseTime != nil {
		sess.PausedSeconds += int64(now.Sub(*sess.LastPauseTime) / time.Second)
		sess.LastPauseTime = nil
	}
	dur := durationAt(sess, now)
	sess.DurationSeconds = int64(dur / time.Second)
	sess.BilledMinutes = ceilMinutes(dur)
	sess.TotalCost = costFor(dur, sess.RatePerMinute)

	rtc := s.commissions.RecordConsultation(ctx, sess.OperatorID, sess.TotalCost)
	sess.OperatorEarning, sess.PlatformFee = commission.Split(sess.TotalCost, rtc.CurrentCommissionPercent)

	sess.EndTime = &now
	sess.EndedReason = reason
	if reason.Forced() {
		sess.Status = models.SessionCancelled
	} else {
		sess.Status = models.SessionCompleted
	}
	sess.UpdatedAt = now
	if e.cancel != nil {
		e.cancel()
	}
	clone := sess.Clone()
	e.mu.Unlock()

	// The clock context was cancelled above, and on a forced end ctx IS the
	// clock context. The terminal event, checkpoint and settlement job must
	// still land, so they run detached from that cancellation.
	ctx = context.WithoutCancel(ctx)

	payload, _ := json.Marshal(models.EndPayload{
		Reason:          reason,
		DurationSeconds: clone.DurationSeconds,
		BilledMinutes:   clone.BilledMinutes,
		TotalCost:       clone.TotalCost,
		OperatorEarning: clone.OperatorEarning,
		PlatformFee:     clone.PlatformFee,
	})
	s.appendEvent(ctx, models.BillingEvent{
		SessionID: id,
		Timestamp: now,
		Type:      models.EventEnd,
		Amount:    clone.TotalCost,
		Payload:   payload,
	})
	s.checkpoint(ctx, clone)

	if s.settler != nil {
		if err := s.settler.EnqueueSettlement(ctx, queue.SettlementPayload{
			SessionID:       clone.ID,
			ClientID:        clone.ClientID,
			OperatorID:      clone.OperatorID,
			Amount:          clone.TotalCost,
			OperatorEarning: clone.OperatorEarning,
			PlatformFee:     clone.PlatformFee,
			Reason:          string(reason),
		}); err != nil {
			s.logger.Error("enqueue settlement", zap.Error(err), zap.String("session_id", id.String()))
		}
	}
	if s.notifier != nil {
		s.notifier.SessionEnded(SessionSummary{
			SessionID:       clone.ID,
			Reason:          reason,
			DurationSeconds: clone.DurationSeconds,
			BilledMinutes:   clone.BilledMinutes,
			TotalCost:       clone.TotalCost,
			OperatorEarning: clone.OperatorEarning,
			PlatformFee:     clone.PlatformFee,
		})
	}
	if s.transport != nil {
		s.transport.Terminate(id, reason)
	}

	s.logger.Info("session ended",
		zap.String("session_id", id.String()),
		zap.String("reason", string(reason)),
		zap.Int64("duration_seconds", clone.DurationSeconds),
		zap.String("total_cost", clone.TotalCost.String()))
	return clone, nil
}

// Restore reloads non-terminal sessions from the snapshot store and restarts
// their clocks. Call once at boot, before serving traffic.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.snapshots == nil {
		return 0, nil
	}
	open, err := s.snapshots.ListOpen(ctx)
	if err != nil {
		return 0, err
	}
	for _, sess := range open {
		e := &entry{s: sess}
		s.mu.Lock()
		if _, exists := s.entries[sess.ID]; exists {
			s.mu.Unlock()
			continue
		}
		s.entries[sess.ID] = e
		s.mu.Unlock()
		s.startClock(e)
		s.logger.Info("session restored", zap.String("session_id", sess.ID.String()), zap.String("status", string(sess.Status)))
	}
	return len(open), nil
}

func (s *Service) entry(id uuid.UUID) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

// startClock launches the session's billing clock goroutine. Each session owns
// its own timer; no session's tick can delay another's. Cancelling twice is safe.
func (s *Service) startClock(e *entry) {
	ctx, cancel := context.WithCancel(s.rootCtx)
	e.mu.Lock()
	e.cancel = cancel
	id := e.s.ID
	e.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx, id, e)
			}
		}
	}()
}

// tick recomputes the session's duration and cost, refreshes the commission
// split, checkpoints, notifies, and consults the balance guard. A tick on a
// non-active session is a no-op; that is what makes pause race-safe without
// rescheduling the timer. A transient wallet error is logged and retried on
// the next tick.
func (s *Service) tick(ctx context.Context, id uuid.UUID, e *entry) {
	e.mu.Lock()
	sess := e.s
	if sess.Status != models.SessionActive {
		e.mu.Unlock()
		return
	}
	now := s.now()
	dur := durationAt(sess, now)
	sess.DurationSeconds = int64(dur / time.Second)
	sess.BilledMinutes = ceilMinutes(dur)
	sess.TotalCost = costFor(dur, sess.RatePerMinute)
	percent := s.commissions.EffectivePercent(ctx, sess.OperatorID)
	sess.OperatorEarning, sess.PlatformFee = commission.Split(sess.TotalCost, percent)
	sess.UpdatedAt = now
	clone := sess.Clone()
	e.mu.Unlock()

	payload, _ := json.Marshal(models.TickPayload{
		DurationSeconds: clone.DurationSeconds,
		BilledMinutes:   clone.BilledMinutes,
		TotalCost:       clone.TotalCost,
	})
	s.appendEvent(ctx, models.BillingEvent{
		SessionID: id,
		Timestamp: now,
		Type:      models.EventTick,
		Amount:    clone.TotalCost,
		Payload:   payload,
	})
	s.checkpoint(ctx, clone)

	if s.notifier != nil {
		s.notifier.SessionUpdate(SessionUpdate{
			SessionID:       id,
			Status:          clone.Status,
			DurationSeconds: clone.DurationSeconds,
			BilledMinutes:   clone.BilledMinutes,
			TotalCost:       clone.TotalCost,
		})
	}

	balance, err := s.wallet.GetBalance(ctx, clone.ClientID)
	if err != nil {
		s.logger.Warn("wallet lookup failed, retrying next tick",
			zap.Error(err), zap.String("session_id", id.String()))
		return
	}
	if clone.TotalCost.GreaterThanOrEqual(balance) {
		s.logger.Info("balance exhausted, forcing termination",
			zap.String("session_id", id.String()),
			zap.String("total_cost", clone.TotalCost.String()),
			zap.String("balance", balance.String()))
		if _, err := s.End(ctx, id, models.ReasonInsufficientFunds); err != nil {
			s.logger.Error("forced termination failed", zap.Error(err), zap.String("session_id", id.String()))
		}
	}
}

// appendEvent writes to the audit log. Failures are logged, never fatal to the
// session: billing keeps running and the next transition writes again.
func (s *Service) appendEvent(ctx context.Context, ev models.BillingEvent) {
	if err := s.events.Append(ctx, ev); err != nil {
		s.logger.Error("append billing event",
			zap.Error(err),
			zap.String("session_id", ev.SessionID.String()),
			zap.String("type", string(ev.Type)))
	}
}

func (s *Service) checkpoint(ctx context.Context, sess *models.TimerSession) {
	if s.snapshots == nil {
		return
	}
	if err := s.snapshots.Save(ctx, sess); err != nil {
		s.logger.Error("checkpoint session", zap.Error(err), zap.String("session_id", sess.ID.String()))
	}
}
