package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ArtemKuhestani/Notification/internal/db"
)

type mockStore struct {
	reclaimed  []*db.Notification
	expired    []db.ExpiredRecord
	rearmed    []db.RearmedRecord
	reclaimErr error
	expireErr  error
	rearmErr   error

	calls []string
}

func (m *mockStore) ReclaimExpiredLeases(ctx context.Context) ([]*db.Notification, error) {
	m.calls = append(m.calls, "reclaim")
	return m.reclaimed, m.reclaimErr
}

func (m *mockStore) ExpireOverdue(ctx context.Context) ([]db.ExpiredRecord, error) {
	m.calls = append(m.calls, "expire")
	return m.expired, m.expireErr
}

func (m *mockStore) RearmDueRetries(ctx context.Context) ([]db.RearmedRecord, error) {
	m.calls = append(m.calls, "rearm")
	return m.rearmed, m.rearmErr
}

type recordedChange struct {
	id                   uuid.UUID
	oldStatus, newStatus string
	errMsg               string
}

type mockRecorder struct {
	mu      sync.Mutex
	changes []recordedChange
}

func (m *mockRecorder) StatusChange(id uuid.UUID, oldStatus, newStatus, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.changes = append(m.changes, recordedChange{id, oldStatus, newStatus, errMsg})
}

func newTestScheduler(store *mockStore, recorder *mockRecorder) *Scheduler {
	return New(store, recorder, nil, Config{}, zap.NewNop())
}

func TestRunCycleOrder(t *testing.T) {
	store := &mockStore{}
	sched := newTestScheduler(store, &mockRecorder{})

	sched.RunCycle(context.Background())

	want := []string{"reclaim", "expire", "rearm"}
	if len(store.calls) != len(want) {
		t.Fatalf("got %d calls, want %d", len(store.calls), len(want))
	}
	for i, call := range want {
		if store.calls[i] != call {
			t.Errorf("call %d = %s, want %s", i, store.calls[i], call)
		}
	}
}

func TestReclaimAuditsSendingToFailed(t *testing.T) {
	id := uuid.New()
	store := &mockStore{
		reclaimed: []*db.Notification{{ID: id, Status: db.StatusFailed}},
	}
	recorder := &mockRecorder{}
	sched := newTestScheduler(store, recorder)

	sched.RunCycle(context.Background())

	if len(recorder.changes) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(recorder.changes))
	}
	change := recorder.changes[0]
	if change.id != id || change.oldStatus != db.StatusSending || change.newStatus != db.StatusFailed {
		t.Errorf("unexpected audit entry: %+v", change)
	}
	if change.errMsg == "" {
		t.Error("lease reclamation should carry an error message")
	}
}

func TestExpireAuditsOldStatus(t *testing.T) {
	idFailed := uuid.New()
	idPending := uuid.New()
	store := &mockStore{
		expired: []db.ExpiredRecord{
			{ID: idFailed, OldStatus: db.StatusFailed},
			{ID: idPending, OldStatus: db.StatusPending},
		},
	}
	recorder := &mockRecorder{}
	sched := newTestScheduler(store, recorder)

	sched.RunCycle(context.Background())

	if len(recorder.changes) != 2 {
		t.Fatalf("got %d audit entries, want 2", len(recorder.changes))
	}
	for i, wantOld := range []string{db.StatusFailed, db.StatusPending} {
		if recorder.changes[i].oldStatus != wantOld {
			t.Errorf("entry %d old status = %s, want %s", i, recorder.changes[i].oldStatus, wantOld)
		}
		if recorder.changes[i].newStatus != db.StatusExpired {
			t.Errorf("entry %d new status = %s, want EXPIRED", i, recorder.changes[i].newStatus)
		}
	}
}

func TestRearmAuditsFailedToPending(t *testing.T) {
	id := uuid.New()
	store := &mockStore{
		rearmed: []db.RearmedRecord{{ID: id, RetryCount: 3}},
	}
	recorder := &mockRecorder{}
	sched := newTestScheduler(store, recorder)

	sched.RunCycle(context.Background())

	if len(recorder.changes) != 1 {
		t.Fatalf("got %d audit entries, want 1", len(recorder.changes))
	}
	change := recorder.changes[0]
	if change.oldStatus != db.StatusFailed || change.newStatus != db.StatusPending {
		t.Errorf("unexpected transition %s -> %s", change.oldStatus, change.newStatus)
	}
}

func TestCycleContinuesPastErrors(t *testing.T) {
	store := &mockStore{
		reclaimErr: errors.New("db down"),
		expireErr:  errors.New("db down"),
		rearmed:    []db.RearmedRecord{{ID: uuid.New(), RetryCount: 1}},
	}
	recorder := &mockRecorder{}
	sched := newTestScheduler(store, recorder)

	sched.RunCycle(context.Background())

	if len(store.calls) != 3 {
		t.Fatalf("a failing pass must not abort the cycle, got calls %v", store.calls)
	}
	if len(recorder.changes) != 1 {
		t.Errorf("re-arm should still be audited, got %d entries", len(recorder.changes))
	}
}
