package workflow

import (
	"errors"
	"sync"
	"testing"
)

// NOTE: These tests are intentionally DB-free. They validate the intended
// approval semantics:
// - a pending entry is resolved at most once, no matter how many staff race
// - a circulation conflict degrades to a rejection, it never leaves the
//   entry pending or resolves it twice
//
// Full DB integration coverage lives in models/circulation_regression_test.go
// (requires docker).

type fakeMailbox struct {
	mu       sync.Mutex
	resolved map[int]string
	applies  int
}

func newFakeMailbox() *fakeMailbox {
	return &fakeMailbox{resolved: map[int]string{}}
}

var errTitleTaken = errors.New("title already borrowed")

// resolve mirrors Approve's transaction shape: lock the entry, bail if a
// rival already resolved it, apply the ledger operation, record the outcome.
func (m *fakeMailbox) resolve(entryId int, apply func() error) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if outcome, ok := m.resolved[entryId]; ok {
		return outcome, errors.New("already resolved")
	}

	if err := apply(); err != nil {
		if !errors.Is(err, errTitleTaken) {
			// Infrastructure failure: roll back, entry stays pending.
			return "", err
		}
		m.resolved[entryId] = "rejected"
		return "rejected", nil
	}
	m.applies++
	m.resolved[entryId] = "approved"
	return "approved", nil
}

func TestApproval_ConcurrentStaff_SingleResolution(t *testing.T) {
	for run := 0; run < 100; run++ {
		m := newFakeMailbox()

		var wg sync.WaitGroup
		wins := make(chan string, 25)
		for i := 0; i < 25; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				outcome, err := m.resolve(1, func() error { return nil })
				if err == nil {
					wins <- outcome
				}
			}()
		}
		wg.Wait()
		close(wins)

		winners := 0
		for outcome := range wins {
			winners++
			if outcome != "approved" {
				t.Fatalf("run=%d winner resolved to %q, want approved", run, outcome)
			}
		}
		if winners != 1 {
			t.Fatalf("run=%d expected exactly 1 winning resolution, got %d", run, winners)
		}
		if m.applies != 1 {
			t.Fatalf("run=%d ledger operation applied %d times, want 1", run, m.applies)
		}
	}
}

func TestApproval_ConflictDegradesToRejection(t *testing.T) {
	m := newFakeMailbox()

	outcome, err := m.resolve(1, func() error { return errTitleTaken })
	if err != nil {
		t.Fatalf("conflict must not fail the approval call: %v", err)
	}
	if outcome != "rejected" {
		t.Fatalf("conflict resolved to %q, want rejected", outcome)
	}
	if m.applies != 0 {
		t.Fatalf("ledger operation must not apply on conflict, applied %d times", m.applies)
	}

	// The entry is spent either way; a retry cannot flip the outcome.
	if _, err := m.resolve(1, func() error { return nil }); err == nil {
		t.Fatal("expected retry after rejection to fail with already resolved")
	}
}

func TestApproval_InfraErrorLeavesEntryPending(t *testing.T) {
	m := newFakeMailbox()
	infraErr := errors.New("connection reset")

	if _, err := m.resolve(1, func() error { return infraErr }); !errors.Is(err, infraErr) {
		t.Fatalf("expected the infrastructure error back, got %v", err)
	}

	// Entry stayed pending: a retry can still approve it.
	outcome, err := m.resolve(1, func() error { return nil })
	if err != nil || outcome != "approved" {
		t.Fatalf("retry after rollback: outcome=%q err=%v, want approved", outcome, err)
	}
}
