package billing

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/aura-consult/backend/internal/commission"
	"github.com/aura-consult/backend/internal/events"
	"github.com/aura-consult/backend/internal/models"
)

type fakeSnapshots struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.TimerSession
}

func newFakeSnapshots() *fakeSnapshots {
	return &fakeSnapshots{sessions: make(map[uuid.UUID]*models.TimerSession)}
}

func (f *fakeSnapshots) Save(ctx context.Context, s *models.TimerSession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[s.ID] = s.Clone()
	return nil
}

func (f *fakeSnapshots) Get(ctx context.Context, id uuid.UUID) (*models.TimerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.sessions[id]; ok {
		return s.Clone(), nil
	}
	return nil, nil
}

func (f *fakeSnapshots) ListOpen(ctx context.Context) ([]*models.TimerSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.TimerSession
	for _, s := range f.sessions {
		if !s.Status.Terminal() {
			out = append(out, s.Clone())
		}
	}
	return out, nil
}

func newRestoreService(snapshots *fakeSnapshots, clock *fakeClock) *Service {
	engine := commission.NewEngine(noRules{}, decimal.NewFromInt(30), nil)
	wallet := &fakeWallet{balance: decimal.NewFromInt(1000)}
	svc := NewService(time.Hour, wallet, engine, events.NewMemoryStore(), snapshots, nil, nil, nil, nil)
	svc.now = clock.Now
	return svc
}

func TestRestoreResumesOpenSessions(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	snapshots := newFakeSnapshots()

	first := newRestoreService(snapshots, clock)
	sess, err := first.StartSession(ctx, uuid.New(), uuid.New(), decimal.RequireFromString("2.50"))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	done, err := first.StartSession(ctx, uuid.New(), uuid.New(), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := first.End(ctx, done.ID, models.ReasonClientEnded); err != nil {
		t.Fatalf("end: %v", err)
	}
	first.Close()

	// A new service instance, as after a process restart.
	second := newRestoreService(snapshots, clock)
	defer second.Close()
	restored, err := second.Restore(ctx)
	if err != nil {
		t.Fatalf("restore: %v", err)
	}
	if restored != 1 {
		t.Errorf("restored = %d, want 1 (terminal sessions stay terminal)", restored)
	}

	clock.Advance(125 * time.Second)
	ended, err := second.End(ctx, sess.ID, models.ReasonClientEnded)
	if err != nil {
		t.Fatalf("end restored session: %v", err)
	}
	if ended.BilledMinutes != 3 {
		t.Errorf("billed minutes = %d, want 3", ended.BilledMinutes)
	}
	if want := decimal.RequireFromString("7.50"); !ended.TotalCost.Equal(want) {
		t.Errorf("total cost = %s, want %s", ended.TotalCost, want)
	}
}

func TestGetFallsBackToSnapshots(t *testing.T) {
	ctx := context.Background()
	clock := &fakeClock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
	snapshots := newFakeSnapshots()

	first := newRestoreService(snapshots, clock)
	sess, err := first.StartSession(ctx, uuid.New(), uuid.New(), decimal.NewFromInt(1))
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := first.End(ctx, sess.ID, models.ReasonClientEnded); err != nil {
		t.Fatalf("end: %v", err)
	}
	first.Close()

	second := newRestoreService(snapshots, clock)
	defer second.Close()
	got, err := second.Get(ctx, sess.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != models.SessionCompleted {
		t.Errorf("status = %s, want completed", got.Status)
	}
}
