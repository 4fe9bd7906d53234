package tasks

import "testing"

func TestEnqueueAndReceive(t *testing.T) {
	m := New(4)
	if err := m.Enqueue(Clone(1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	got := <-m.Tasks()
	if got.Kind != KindClone || got.RepoID != 1 {
		t.Fatalf("got %+v", got)
	}
}

func TestDedupRejectsDuplicateClone(t *testing.T) {
	m := New(4)
	if err := m.Enqueue(Clone(7)); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := m.Enqueue(Clone(7)); err == nil {
		t.Fatalf("expected duplicate Clone(7) to be rejected")
	}
}

func TestDedupRejectsDuplicateUpdateAfterClone(t *testing.T) {
	m := New(4)
	if err := m.Enqueue(Clone(7)); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if err := m.Enqueue(Update(7)); err == nil {
		t.Fatalf("expected Update(7) to be rejected while Clone(7) is active")
	}
}

func TestDedupAllowsDifferentIDs(t *testing.T) {
	m := New(4)
	if err := m.Enqueue(Clone(1)); err != nil {
		t.Fatalf("Clone(1): %v", err)
	}
	if err := m.Enqueue(Clone(2)); err != nil {
		t.Fatalf("Clone(2) should be accepted: %v", err)
	}
}

func TestCancelRemovesAndSignals(t *testing.T) {
	m := New(4)
	if err := m.Enqueue(Clone(7)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	token, ok := m.GetCancellationToken(7)
	if !ok {
		t.Fatalf("expected token for 7")
	}
	m.Cancel(7)
	if !token.Cancelled() {
		t.Fatalf("expected token to be cancelled")
	}
	if m.IsActive(7) {
		t.Fatalf("expected 7 to no longer be active")
	}
}

func TestCancelNoopForUnknownID(t *testing.T) {
	m := New(4)
	m.Cancel(999) // must not panic
}

func TestCancelAll(t *testing.T) {
	m := New(4)
	for _, id := range []int64{1, 2, 3} {
		if err := m.Enqueue(Clone(id)); err != nil {
			t.Fatalf("Enqueue(%d): %v", id, err)
		}
	}
	tokens := make(map[int64]*CancelToken)
	for _, id := range []int64{1, 2, 3} {
		token, _ := m.GetCancellationToken(id)
		tokens[id] = token
	}

	m.CancelAll()

	if m.ActiveCount() != 0 {
		t.Fatalf("expected active count 0, got %d", m.ActiveCount())
	}
	for id, token := range tokens {
		if !token.Cancelled() {
			t.Fatalf("expected token %d to be cancelled", id)
		}
	}
}

func TestMarkComplete(t *testing.T) {
	m := New(4)
	if err := m.Enqueue(Clone(7)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	m.MarkComplete(7)
	if m.IsActive(7) {
		t.Fatalf("expected 7 to be freed after MarkComplete")
	}
	if err := m.Enqueue(Clone(7)); err != nil {
		t.Fatalf("expected a fresh Clone(7) to be accepted after MarkComplete: %v", err)
	}
}

func TestUpdateAllNoDedup(t *testing.T) {
	m := New(4)
	if err := m.Enqueue(UpdateAll(false)); err != nil {
		t.Fatalf("first UpdateAll: %v", err)
	}
	if err := m.Enqueue(UpdateAll(true)); err != nil {
		t.Fatalf("second UpdateAll should not be deduped: %v", err)
	}
	if m.ActiveCount() != 0 {
		t.Fatalf("UpdateAll must not occupy an active-table slot")
	}
}

func TestRefreshStatusesNoDedup(t *testing.T) {
	m := New(4)
	if err := m.Enqueue(RefreshStatuses()); err != nil {
		t.Fatalf("first: %v", err)
	}
	if err := m.Enqueue(RefreshStatuses()); err != nil {
		t.Fatalf("second should not be deduped: %v", err)
	}
}

func TestStopGoesThroughChannel(t *testing.T) {
	m := New(4)
	if err := m.Enqueue(Stop()); err != nil {
		t.Fatalf("Enqueue(Stop): %v", err)
	}
	got := <-m.Tasks()
	if got.Kind != KindStop {
		t.Fatalf("expected Stop task, got %+v", got)
	}
}

func TestGetCancellationToken(t *testing.T) {
	m := New(4)
	if _, ok := m.GetCancellationToken(1); ok {
		t.Fatalf("expected no token before enqueue")
	}
	if err := m.Enqueue(Clone(1)); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if _, ok := m.GetCancellationToken(1); !ok {
		t.Fatalf("expected a token after enqueue")
	}
}

func TestSemaphoreIsAccessible(t *testing.T) {
	m := New(4)
	if m.Semaphore() == nil {
		t.Fatalf("expected a non-nil semaphore")
	}
}

func TestMaxConcurrentClampedMin(t *testing.T) {
	m := New(0)
	if m.MaxConcurrent() != 1 {
		t.Fatalf("expected clamp(0,1,16) = 1, got %d", m.MaxConcurrent())
	}
}

func TestMaxConcurrentClampedMax(t *testing.T) {
	m := New(100)
	if m.MaxConcurrent() != 16 {
		t.Fatalf("expected clamp(100,1,16) = 16, got %d", m.MaxConcurrent())
	}
}

// TestSemaphoreRefusesBeyondClamp verifies the clamp by acquiring exactly
// clamp permits and observing that a clamp+1'th TryAcquire is refused.
func TestSemaphoreRefusesBeyondClamp(t *testing.T) {
	m := New(3)
	sem := m.Semaphore()
	for i := int64(0); i < m.MaxConcurrent(); i++ {
		if !sem.TryAcquire(1) {
			t.Fatalf("expected permit %d of %d to be acquired", i+1, m.MaxConcurrent())
		}
	}
	if sem.TryAcquire(1) {
		t.Fatalf("expected the %dth permit to be refused", m.MaxConcurrent()+1)
	}
}
