package billing

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aura-consult/backend/internal/commission"
	"github.com/aura-consult/backend/internal/events"
	"github.com/aura-consult/backend/internal/models"
	"github.com/aura-consult/backend/pkg/queue"
)

type noRules struct{}

func (noRules) GetActiveByOperator(ctx context.Context, operatorID uuid.UUID) (*models.CommissionRule, error) {
	return nil, nil
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fakeWallet struct {
	mu      sync.Mutex
	balance decimal.Decimal
	err     error
}

func (w *fakeWallet) GetBalance(ctx context.Context, clientID uuid.UUID) (decimal.Decimal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return decimal.Zero, w.err
	}
	return w.balance, nil
}

type fakeSettler struct {
	mu       sync.Mutex
	payloads []queue.SettlementPayload
}

func (f *fakeSettler) EnqueueSettlement(ctx context.Context, payload queue.SettlementPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeSettler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.payloads)
}

type fakeNotifier struct {
	mu        sync.Mutex
	updates   []SessionUpdate
	summaries []SessionSummary
}

func (f *fakeNotifier) SessionUpdate(u SessionUpdate) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updates = append(f.updates, u)
}

func (f *fakeNotifier) SessionEnded(s SessionSummary) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.summaries = append(f.summaries, s)
}

type fakeTransport struct {
	mu      sync.Mutex
	reasons []models.EndReason
}

func (f *fakeTransport) Terminate(sessionID uuid.UUID, reason models.EndReason) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reasons = append(f.reasons, reason)
}

type fixture struct {
	svc       *Service
	clock     *fakeClock
	wallet    *fakeWallet
	store     *events.MemoryStore
	settler   *fakeSettler
	notifier  *fakeNotifier
	transport *fakeTransport
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	wallet := &fakeWallet{balance: decimal.NewFromInt(1000)}
	store := events.NewMemoryStore()
	settler := &fakeSettler{}
	notifier := &fakeNotifier{}
	transport := &fakeTransport{}
	engine := commission.NewEngine(noRules{}, decimal.NewFromInt(30), nil)

	// Long interval keeps the clock goroutine idle; ticks are driven manually.
	svc := NewService(time.Hour, wallet, engine, store, nil, settler, notifier, transport, nil)
	svc.now = clock.Now
	t.Cleanup(svc.Close)
	return &fixture{svc: svc, clock: clock, wallet: wallet, store: store, settler: settler, notifier: notifier, transport: transport}
}

func TestStartSessionInvalidRate(t *testing.T) {
	f := newFixture(t)
	for _, rate := range []string{"0", "-1.50"} {
		if _, err := f.svc.StartSession(context.Background(), uuid.New(), uuid.New(), decimal.RequireFromString(rate)); !errors.Is(err, ErrInvalidRate) {
			t.Errorf("rate %s: err = %v, want ErrInvalidRate", rate, err)
		}
	}
}

func TestSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rate := decimal.RequireFromString("2.50")

	sess, err := f.svc.StartSession(ctx, uuid.New(), uuid.New(), rate)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if sess.Status != models.SessionActive {
		t.Fatalf("status = %s, want active", sess.Status)
	}

	f.clock.Advance(125 * time.Second)
	ended, err := f.svc.End(ctx, sess.ID, models.ReasonClientEnded)
	if err != nil {
		t.Fatalf("end: %v", err)
	}

	if ended.DurationSeconds != 125 {
		t.Errorf("duration = %d, want 125", ended.DurationSeconds)
	}
	if ended.BilledMinutes != 3 {
		t.Errorf("billed minutes = %d, want 3", ended.BilledMinutes)
	}
	if want := decimal.RequireFromString("7.50"); !ended.TotalCost.Equal(want) {
		t.Errorf("total cost = %s, want %s", ended.TotalCost, want)
	}
	if want := decimal.RequireFromString("2.25"); !ended.OperatorEarning.Equal(want) {
		t.Errorf("operator earning = %s, want %s", ended.OperatorEarning, want)
	}
	if !ended.OperatorEarning.Add(ended.PlatformFee).Equal(ended.TotalCost) {
		t.Errorf("earning %s + fee %s != cost %s", ended.OperatorEarning, ended.PlatformFee, ended.TotalCost)
	}
	if ended.Status != models.SessionCompleted {
		t.Errorf("status = %s, want completed", ended.Status)
	}
	if ended.EndTime == nil {
		t.Error("end time not set")
	}

	if got := f.settler.count(); got != 1 {
		t.Errorf("settlements enqueued = %d, want 1", got)
	}
	f.notifier.mu.Lock()
	summaries := len(f.notifier.summaries)
	f.notifier.mu.Unlock()
	if summaries != 1 {
		t.Errorf("end summaries = %d, want 1", summaries)
	}
}

func TestEndIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.StartSession(ctx, uuid.New(), uuid.New(), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.Advance(90 * time.Second)

	first, err := f.svc.End(ctx, sess.ID, models.ReasonClientEnded)
	if err != nil {
		t.Fatalf("first end: %v", err)
	}
	f.clock.Advance(time.Hour)
	second, err := f.svc.End(ctx, sess.ID, models.ReasonOperatorEnded)
	if err != nil {
		t.Fatalf("second end: %v", err)
	}

	if !second.TotalCost.Equal(first.TotalCost) || second.DurationSeconds != first.DurationSeconds {
		t.Errorf("second end mutated totals: %s/%d vs %s/%d",
			second.TotalCost, second.DurationSeconds, first.TotalCost, first.DurationSeconds)
	}
	if second.EndedReason != models.ReasonClientEnded {
		t.Errorf("reason = %s, want original client_ended", second.EndedReason)
	}
	if got := f.settler.count(); got != 1 {
		t.Errorf("settlements enqueued = %d, want 1", got)
	}
}

func TestPauseResumeBookkeeping(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rate := decimal.RequireFromString("2.50")

	sess, err := f.svc.StartSession(ctx, uuid.New(), uuid.New(), rate)
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	f.clock.Advance(60 * time.Second)
	paused, err := f.svc.Pause(ctx, sess.ID)
	if err != nil {
		t.Fatalf("pause: %v", err)
	}
	if paused.Status != models.SessionPaused {
		t.Fatalf("status = %s, want paused", paused.Status)
	}

	f.clock.Advance(30 * time.Second)
	resumed, err := f.svc.Resume(ctx, sess.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.PausedSeconds != 30 {
		t.Errorf("paused seconds = %d, want 30", resumed.PausedSeconds)
	}
	if resumed.Status != models.SessionActive {
		t.Errorf("status = %s, want active", resumed.Status)
	}

	f.clock.Advance(60 * time.Second)
	ended, err := f.svc.End(ctx, sess.ID, models.ReasonClientEnded)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.DurationSeconds != 120 {
		t.Errorf("duration = %d, want 120", ended.DurationSeconds)
	}
	if ended.BilledMinutes != 2 {
		t.Errorf("billed minutes = %d, want 2", ended.BilledMinutes)
	}
	if want := decimal.RequireFromString("5.00"); !ended.TotalCost.Equal(want) {
		t.Errorf("total cost = %s, want %s", ended.TotalCost, want)
	}
}

func TestPausePausedIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.StartSession(ctx, uuid.New(), uuid.New(), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.Pause(ctx, sess.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	if _, err := f.svc.Pause(ctx, sess.ID); err != nil {
		t.Fatalf("second pause: %v", err)
	}

	evs, err := f.store.ListBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	var pauses int
	for _, ev := range evs {
		if ev.Type == models.EventPause {
			pauses++
		}
	}
	if pauses != 1 {
		t.Errorf("pause events = %d, want 1", pauses)
	}
}

func TestEndWhilePausedFoldsOpenPause(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.StartSession(ctx, uuid.New(), uuid.New(), decimal.NewFromInt(2))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	f.clock.Advance(60 * time.Second)
	if _, err := f.svc.Pause(ctx, sess.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	f.clock.Advance(30 * time.Second)

	ended, err := f.svc.End(ctx, sess.ID, models.ReasonOperatorEnded)
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if ended.DurationSeconds != 60 {
		t.Errorf("duration = %d, want 60", ended.DurationSeconds)
	}
	if ended.PausedSeconds != 30 {
		t.Errorf("paused seconds = %d, want 30", ended.PausedSeconds)
	}
	if ended.BilledMinutes != 1 {
		t.Errorf("billed minutes = %d, want 1", ended.BilledMinutes)
	}
}

func TestPauseAfterEndRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.StartSession(ctx, uuid.New(), uuid.New(), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.End(ctx, sess.ID, models.ReasonClientEnded); err != nil {
		t.Fatalf("end: %v", err)
	}
	if _, err := f.svc.Pause(ctx, sess.ID); !errors.Is(err, ErrSessionTerminal) {
		t.Errorf("pause after end: err = %v, want ErrSessionTerminal", err)
	}
	if _, err := f.svc.Resume(ctx, sess.ID); !errors.Is(err, ErrSessionTerminal) {
		t.Errorf("resume after end: err = %v, want ErrSessionTerminal", err)
	}
}

func TestUnknownSession(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	if _, err := f.svc.Pause(ctx, uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("pause: err = %v, want ErrSessionNotFound", err)
	}
	if _, err := f.svc.End(ctx, uuid.New(), models.ReasonClientEnded); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("end: err = %v, want ErrSessionNotFound", err)
	}
	if _, err := f.svc.Get(ctx, uuid.New()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("get: err = %v, want ErrSessionNotFound", err)
	}
}

func TestTickBalanceGuard(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.wallet.balance = decimal.RequireFromString("5.00")
	rate := decimal.RequireFromString("3.00")

	sess, err := f.svc.StartSession(ctx, uuid.New(), uuid.New(), rate)
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	e, ok := f.svc.entry(sess.ID)
	if !ok {
		t.Fatal("session not registered")
	}

	// First minute costs 3.00, still under the 5.00 balance.
	f.clock.Advance(30 * time.Second)
	f.svc.tick(ctx, sess.ID, e)
	got, err := f.svc.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.SessionActive {
		t.Fatalf("status after first tick = %s, want active", got.Status)
	}

	// Second minute brings the cost to 6.00, at which point the session is
	// forced to end.
	f.clock.Advance(31 * time.Second)
	f.svc.tick(ctx, sess.ID, e)
	got, err = f.svc.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.SessionCancelled {
		t.Errorf("status = %s, want cancelled", got.Status)
	}
	if got.EndedReason != models.ReasonInsufficientFunds {
		t.Errorf("reason = %s, want insufficient_funds", got.EndedReason)
	}
	if want := decimal.RequireFromString("6.00"); !got.TotalCost.Equal(want) {
		t.Errorf("total cost = %s, want %s", got.TotalCost, want)
	}

	f.transport.mu.Lock()
	reasons := append([]models.EndReason(nil), f.transport.reasons...)
	f.transport.mu.Unlock()
	if len(reasons) != 1 || reasons[0] != models.ReasonInsufficientFunds {
		t.Errorf("transport terminations = %v, want [insufficient_funds]", reasons)
	}
}

// ctxStore and ctxSettler refuse cancelled contexts, like the pgx and go-redis
// backed implementations do in production.
type ctxStore struct {
	*events.MemoryStore
}

func (s ctxStore) Append(ctx context.Context, ev models.BillingEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.MemoryStore.Append(ctx, ev)
}

type ctxSettler struct {
	*fakeSettler
}

func (s ctxSettler) EnqueueSettlement(ctx context.Context, payload queue.SettlementPayload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.fakeSettler.EnqueueSettlement(ctx, payload)
}

// A forced end stops the session's own clock, which is also the context the
// tick handed to End. The terminal event and settlement job must survive that
// cancellation.
func TestForcedEndPersistsPastClockShutdown(t *testing.T) {
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	wallet := &fakeWallet{balance: decimal.RequireFromString("1.00")}
	store := events.NewMemoryStore()
	settler := &fakeSettler{}
	engine := commission.NewEngine(noRules{}, decimal.NewFromInt(30), nil)

	// Real short-interval clock: the tick runs on the clock goroutine with the
	// clock's own context, exactly as in production.
	svc := NewService(10*time.Millisecond, wallet, engine, ctxStore{store}, nil, ctxSettler{settler}, nil, nil, nil)
	svc.now = clock.Now
	t.Cleanup(svc.Close)

	sess, err := svc.StartSession(context.Background(), uuid.New(), uuid.New(), decimal.RequireFromString("3.00"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	clock.Advance(61 * time.Second)

	deadline := time.Now().Add(2 * time.Second)
	for {
		evs, err := store.ListBySession(context.Background(), sess.ID)
		if err != nil {
			t.Fatalf("list events: %v", err)
		}
		var ends int
		for _, ev := range evs {
			if ev.Type == models.EventEnd {
				ends++
			}
		}
		if ends == 1 && settler.count() == 1 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("forced end not persisted: end events = %d, settlements = %d", ends, settler.count())
		}
		time.Sleep(5 * time.Millisecond)
	}

	got, err := svc.Get(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.SessionCancelled || got.EndedReason != models.ReasonInsufficientFunds {
		t.Errorf("session = %s/%s, want cancelled/insufficient_funds", got.Status, got.EndedReason)
	}
}

func TestTickWalletErrorKeepsSessionRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.StartSession(ctx, uuid.New(), uuid.New(), decimal.NewFromInt(3))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	e, _ := f.svc.entry(sess.ID)

	f.wallet.mu.Lock()
	f.wallet.err = errors.New("wallet unavailable")
	f.wallet.mu.Unlock()

	f.clock.Advance(10 * time.Minute)
	f.svc.tick(ctx, sess.ID, e)

	got, err := f.svc.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.SessionActive {
		t.Errorf("status = %s, want active (transient wallet error must not end the session)", got.Status)
	}
	if got.BilledMinutes != 10 {
		t.Errorf("billed minutes = %d, want 10 (billing continues through wallet outage)", got.BilledMinutes)
	}
}

func TestTickOnPausedSessionIsNoop(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	sess, err := f.svc.StartSession(ctx, uuid.New(), uuid.New(), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := f.svc.Pause(ctx, sess.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}
	e, _ := f.svc.entry(sess.ID)

	f.clock.Advance(5 * time.Minute)
	f.svc.tick(ctx, sess.ID, e)

	evs, err := f.store.ListBySession(ctx, sess.ID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	for _, ev := range evs {
		if ev.Type == models.EventTick {
			t.Errorf("unexpected tick event on paused session (seq %d)", ev.Seq)
		}
	}
}
