package sqlite

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/splitledger/splitledger/internal/feed"
	"github.com/splitledger/splitledger/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "splitledger-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := New(filepath.Join(tempDir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func testExpense(t *testing.T, total, payer string, participants []string) *models.Expense {
	t.Helper()
	e, err := models.NewExpense("Test expense", decimal.RequireFromString(total), payer, participants, "actor-1")
	if err != nil {
		t.Fatalf("NewExpense failed: %v", err)
	}
	return e
}

func TestSQLiteStore(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	t.Run("CreateExpense assigns ID and timestamp", func(t *testing.T) {
		e := testExpense(t, "90", "Alice", []string{"Alice", "Bob", "Charlie"})

		if err := store.CreateExpense(ctx, "trip", e); err != nil {
			t.Fatalf("CreateExpense failed: %v", err)
		}

		if e.ID == "" {
			t.Error("Expected expense ID to be generated")
		}
		if e.CreatedAt.IsZero() {
			t.Error("Expected CreatedAt to be set")
		}
	})

	t.Run("ListExpenses round-trips amounts and participant order", func(t *testing.T) {
		e := testExpense(t, "100", "Bob", []string{"Charlie", "Alice", "Bob"})
		if err := store.CreateExpense(ctx, "trip", e); err != nil {
			t.Fatalf("CreateExpense failed: %v", err)
		}

		expenses, err := store.ListExpenses(ctx, "trip")
		if err != nil {
			t.Fatalf("ListExpenses failed: %v", err)
		}
		if len(expenses) != 2 {
			t.Fatalf("Expected 2 expenses, got %d", len(expenses))
		}

		var got *models.Expense
		for i := range expenses {
			if expenses[i].ID == e.ID {
				got = &expenses[i]
			}
		}
		if got == nil {
			t.Fatalf("Created expense %s not in listing", e.ID)
		}

		if !got.TotalAmount.Equal(decimal.RequireFromString("100")) {
			t.Errorf("Total = %s, want 100", got.TotalAmount)
		}
		if !got.SplitAmount.Equal(decimal.RequireFromString("33.33")) {
			t.Errorf("Split = %s, want 33.33", got.SplitAmount)
		}
		want := []string{"Charlie", "Alice", "Bob"}
		if len(got.ParticipantIDs) != len(want) {
			t.Fatalf("Participants = %v, want %v", got.ParticipantIDs, want)
		}
		for i := range want {
			if got.ParticipantIDs[i] != want[i] {
				t.Errorf("Participants[%d] = %q, want %q", i, got.ParticipantIDs[i], want[i])
			}
		}
		if !got.CreatedAt.Equal(e.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, e.CreatedAt)
		}
	})

	t.Run("Groups are isolated", func(t *testing.T) {
		e := testExpense(t, "12", "Dana", []string{"Dana"})
		if err := store.CreateExpense(ctx, "other", e); err != nil {
			t.Fatalf("CreateExpense failed: %v", err)
		}

		expenses, err := store.ListExpenses(ctx, "other")
		if err != nil {
			t.Fatalf("ListExpenses failed: %v", err)
		}
		if len(expenses) != 1 {
			t.Errorf("Expected 1 expense in group other, got %d", len(expenses))
		}
	})

	t.Run("DeleteExpense is idempotent", func(t *testing.T) {
		e := testExpense(t, "20", "Alice", []string{"Alice", "Bob"})
		if err := store.CreateExpense(ctx, "trip", e); err != nil {
			t.Fatalf("CreateExpense failed: %v", err)
		}

		before, err := store.ListExpenses(ctx, "trip")
		if err != nil {
			t.Fatalf("ListExpenses failed: %v", err)
		}

		if err := store.DeleteExpense(ctx, "trip", e.ID); err != nil {
			t.Fatalf("DeleteExpense failed: %v", err)
		}
		// Second delete of the same id must succeed without effect.
		if err := store.DeleteExpense(ctx, "trip", e.ID); err != nil {
			t.Fatalf("Repeated DeleteExpense failed: %v", err)
		}
		// Unknown id as well.
		if err := store.DeleteExpense(ctx, "trip", "no-such-id"); err != nil {
			t.Fatalf("DeleteExpense of unknown id failed: %v", err)
		}

		after, err := store.ListExpenses(ctx, "trip")
		if err != nil {
			t.Fatalf("ListExpenses failed: %v", err)
		}
		if len(after) != len(before)-1 {
			t.Errorf("Expected %d expenses after delete, got %d", len(before)-1, len(after))
		}
		for _, exp := range after {
			if exp.ID == e.ID {
				t.Errorf("Deleted expense %s still listed", e.ID)
			}
		}
	})
}

func TestSQLiteSubscribe(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	seed := testExpense(t, "50", "Alice", []string{"Alice", "Bob"})
	if err := store.CreateExpense(ctx, "trip", seed); err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}

	snapshots := make(chan feed.Snapshot, 16)
	sub, err := store.Subscribe(ctx, "trip", func(s feed.Snapshot) { snapshots <- s })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	wait := func() feed.Snapshot {
		select {
		case s := <-snapshots:
			return s
		case <-time.After(2 * time.Second):
			t.Fatal("Timed out waiting for snapshot")
			return feed.Snapshot{}
		}
	}

	// The current collection arrives without waiting for a change.
	snap := wait()
	if len(snap.Expenses) != 1 || snap.Expenses[0].ID != seed.ID {
		t.Fatalf("Initial snapshot = %+v, want the seeded expense", snap)
	}

	second := testExpense(t, "30", "Bob", []string{"Alice", "Bob"})
	if err := store.CreateExpense(ctx, "trip", second); err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}
	snap = wait()
	if len(snap.Expenses) != 2 {
		t.Fatalf("Snapshot after create has %d expenses, want 2", len(snap.Expenses))
	}

	if err := store.DeleteExpense(ctx, "trip", seed.ID); err != nil {
		t.Fatalf("DeleteExpense failed: %v", err)
	}
	snap = wait()
	if len(snap.Expenses) != 1 || snap.Expenses[0].ID != second.ID {
		t.Fatalf("Snapshot after delete = %+v, want only the second expense", snap)
	}

	// Writes to other groups never reach this subscription.
	other := testExpense(t, "5", "Zoe", []string{"Zoe"})
	if err := store.CreateExpense(ctx, "other", other); err != nil {
		t.Fatalf("CreateExpense failed: %v", err)
	}
	select {
	case snap := <-snapshots:
		t.Errorf("Received another group's snapshot: %+v", snap)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestConcurrentCreates(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	snapshots := make(chan feed.Snapshot, 64)
	sub, err := store.Subscribe(ctx, "trip", func(s feed.Snapshot) { snapshots <- s })
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer sub.Unsubscribe()

	// Simultaneous writers must all succeed; SQLite's single-writer
	// restriction queues them, it never rejects them.
	const writers = 8
	expenses := make([]*models.Expense, writers)
	for i := range expenses {
		expenses[i] = testExpense(t, "10", fmt.Sprintf("Payer%d", i), nil)
	}

	errs := make(chan error, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(e *models.Expense) {
			defer wg.Done()
			errs <- store.CreateExpense(ctx, "trip", e)
		}(expenses[i])
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Concurrent create failed: %v", err)
		}
	}

	listed, err := store.ListExpenses(ctx, "trip")
	if err != nil {
		t.Fatalf("ListExpenses failed: %v", err)
	}
	if len(listed) != writers {
		t.Fatalf("Expected %d expenses, got %d", writers, len(listed))
	}

	// The subscriber must converge on a snapshot holding every write;
	// commit order and publication order agree, so the last delivery
	// cannot be a stale subset.
	deadline := time.After(5 * time.Second)
	for {
		select {
		case snap := <-snapshots:
			if len(snap.Expenses) == writers {
				return
			}
		case <-deadline:
			t.Fatalf("Subscriber never saw all %d concurrent writes", writers)
		}
	}
}
