package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/splitledger/splitledger/internal/feed"
	"github.com/splitledger/splitledger/internal/models"
	"github.com/splitledger/splitledger/internal/registry"
	"github.com/splitledger/splitledger/internal/storage"
)

// fakeStore is an in-memory storage.Store with switchable failure.
type fakeStore struct {
	mu         sync.Mutex
	hub        *feed.Hub
	expenses   map[string][]models.Expense
	nextID     int
	failWrites bool
}

var _ storage.Store = (*fakeStore)(nil)

func newFakeStore() *fakeStore {
	return &fakeStore{hub: feed.NewHub(), expenses: map[string][]models.Expense{}}
}

func (f *fakeStore) setFailWrites(fail bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrites = fail
}

func (f *fakeStore) CreateExpense(_ context.Context, groupID string, expense *models.Expense) error {
	f.mu.Lock()
	if f.failWrites {
		f.mu.Unlock()
		return fmt.Errorf("create expense: %w", storage.ErrUnavailable)
	}
	f.nextID++
	expense.ID = fmt.Sprintf("expense-%d", f.nextID)
	expense.CreatedAt = time.Now().UTC()
	f.expenses[groupID] = append(f.expenses[groupID], *expense)
	snap := f.snapshotLocked(groupID)
	f.mu.Unlock()

	f.hub.Publish(snap)
	return nil
}

func (f *fakeStore) DeleteExpense(_ context.Context, groupID, id string) error {
	f.mu.Lock()
	if f.failWrites {
		f.mu.Unlock()
		return fmt.Errorf("delete expense: %w", storage.ErrUnavailable)
	}
	kept := f.expenses[groupID][:0]
	for _, e := range f.expenses[groupID] {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	f.expenses[groupID] = kept
	snap := f.snapshotLocked(groupID)
	f.mu.Unlock()

	f.hub.Publish(snap)
	return nil
}

func (f *fakeStore) ListExpenses(_ context.Context, groupID string) ([]models.Expense, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapshotLocked(groupID).Expenses, nil
}

func (f *fakeStore) Subscribe(_ context.Context, groupID string, fn feed.SnapshotFunc) (*feed.Subscription, error) {
	f.mu.Lock()
	snap := f.snapshotLocked(groupID)
	f.mu.Unlock()
	return f.hub.Subscribe(groupID, snap, fn)
}

func (f *fakeStore) Close() error {
	f.hub.Close()
	return nil
}

func (f *fakeStore) snapshotLocked(groupID string) feed.Snapshot {
	return feed.Snapshot{
		GroupID:  groupID,
		Expenses: append([]models.Expense(nil), f.expenses[groupID]...),
	}
}

// startController wires a controller to the store and returns a channel
// of recomputed balance maps, one per snapshot.
func startController(t *testing.T, store storage.Store) (*Controller, chan map[string]decimal.Decimal) {
	t.Helper()

	ctl := New(store, "trip", "device-1")
	updates := make(chan map[string]decimal.Decimal, 16)
	ctl.OnBalances = func(b map[string]decimal.Decimal) { updates <- b }

	if err := ctl.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	t.Cleanup(ctl.Stop)
	return ctl, updates
}

func waitBalances(t *testing.T, updates chan map[string]decimal.Decimal) map[string]decimal.Decimal {
	t.Helper()
	select {
	case b := <-updates:
		return b
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for balance recomputation")
		return nil
	}
}

func assertBalance(t *testing.T, balances map[string]decimal.Decimal, name, want string) {
	t.Helper()
	got, ok := balances[name]
	if !ok {
		t.Fatalf("no balance for %s in %v", name, balances)
	}
	if !got.Equal(decimal.RequireFromString(want)) {
		t.Errorf("balance[%s] = %s, want %s", name, got, want)
	}
}

func TestSubmitRecomputesBalances(t *testing.T) {
	store := newFakeStore()
	defer store.Close()

	ctl, updates := startController(t, store)
	if b := waitBalances(t, updates); len(b) != 0 {
		t.Fatalf("initial balances = %v, want empty", b)
	}

	ctl.SetDescription("Hotel")
	ctl.SetAmount("100")
	ctl.SelectParticipant("Alice")
	ctl.SelectParticipant("Bob")
	ctl.SetPayer("Alice")
	if ctl.State() != StateComposing {
		t.Fatalf("state = %v, want composing", ctl.State())
	}

	expense, err := ctl.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if expense.ID == "" {
		t.Error("expected store-assigned id")
	}
	if ctl.State() != StateIdle {
		t.Errorf("state = %v, want idle after ack", ctl.State())
	}

	balances := waitBalances(t, updates)
	assertBalance(t, balances, "Alice", "50")
	assertBalance(t, balances, "Bob", "-50")

	// Second expense, different payer, a third participant.
	ctl.SetDescription("Dinner")
	ctl.SetAmount("60")
	ctl.SelectParticipant("Alice")
	ctl.SelectParticipant("Charlie")
	ctl.SetPayer("Bob")
	if _, err := ctl.Submit(context.Background()); err != nil {
		t.Fatalf("second Submit failed: %v", err)
	}

	balances = waitBalances(t, updates)
	assertBalance(t, balances, "Alice", "30")
	assertBalance(t, balances, "Bob", "-10")
	assertBalance(t, balances, "Charlie", "-20")
}

func TestSubmitValidationKeepsDraft(t *testing.T) {
	store := newFakeStore()
	defer store.Close()

	ctl, updates := startController(t, store)
	waitBalances(t, updates)

	ctl.SetDescription("Taxi")
	ctl.SetAmount("not-a-number")
	ctl.SetPayer("Alice")

	_, err := ctl.Submit(context.Background())
	var verr *models.ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if len(verr.Fields) != 1 || verr.Fields[0] != "amount" {
		t.Fatalf("fields = %v, want [amount]", verr.Fields)
	}
	if ctl.State() != StateComposing {
		t.Errorf("state = %v, want composing after rejection", ctl.State())
	}

	// Fix only the failing field; the rest of the draft survived.
	ctl.SetAmount("18")
	expense, err := ctl.Submit(context.Background())
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}
	if expense.Description != "Taxi" || expense.PayerID != "Alice" {
		t.Errorf("draft not retained: %+v", expense)
	}
}

func TestSubmitStoreFailureKeepsDraft(t *testing.T) {
	store := newFakeStore()
	defer store.Close()

	ctl, updates := startController(t, store)
	waitBalances(t, updates)

	ctl.SetDescription("Groceries")
	ctl.SetAmount("45.10")
	ctl.SetPayer("Alice")

	store.setFailWrites(true)
	_, err := ctl.Submit(context.Background())
	if !errors.Is(err, storage.ErrUnavailable) {
		t.Fatalf("expected ErrUnavailable, got %v", err)
	}
	if ctl.State() != StateComposing {
		t.Errorf("state = %v, want composing for resubmission", ctl.State())
	}
	if b := ctl.Balances(); len(b) != 0 {
		t.Errorf("balances = %v, want untouched by failed create", b)
	}

	store.setFailWrites(false)
	expense, err := ctl.Submit(context.Background())
	if err != nil {
		t.Fatalf("resubmit failed: %v", err)
	}

	balances := waitBalances(t, updates)
	assertBalance(t, balances, "Alice", "0")
	if expense.Description != "Groceries" {
		t.Errorf("draft not retained: %+v", expense)
	}
}

func TestPayerAutoInclusion(t *testing.T) {
	store := newFakeStore()
	defer store.Close()

	ctl, updates := startController(t, store)
	waitBalances(t, updates)

	// Only a payer selected: valid single-person expense.
	ctl.SetDescription("Coffee")
	ctl.SetAmount("3.50")
	ctl.SetPayer("Alice")

	expense, err := ctl.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(expense.ParticipantIDs) != 1 || expense.ParticipantIDs[0] != "Alice" {
		t.Fatalf("participants = %v, want [Alice]", expense.ParticipantIDs)
	}
	if !expense.SplitAmount.Equal(expense.TotalAmount) {
		t.Errorf("split = %s, want the full total %s", expense.SplitAmount, expense.TotalAmount)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	store := newFakeStore()
	defer store.Close()

	ctl, updates := startController(t, store)
	waitBalances(t, updates)

	ctl.SetDescription("Hotel")
	ctl.SetAmount("100")
	ctl.SelectParticipant("Bob")
	ctl.SetPayer("Alice")
	expense, err := ctl.Submit(context.Background())
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	waitBalances(t, updates)

	if err := ctl.Delete(context.Background(), expense.ID); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	balances := waitBalances(t, updates)
	if len(balances) != 0 {
		t.Fatalf("balances = %v, want empty after delete", balances)
	}

	// Deleting the same id again must not error or change anything.
	if err := ctl.Delete(context.Background(), expense.ID); err != nil {
		t.Fatalf("repeat Delete failed: %v", err)
	}
	balances = waitBalances(t, updates)
	if len(balances) != 0 {
		t.Fatalf("balances = %v, want still empty", balances)
	}
}

func TestAddParticipantDuplicate(t *testing.T) {
	store := newFakeStore()
	defer store.Close()

	ctl := New(store, "trip", "device-1")
	if err := ctl.AddParticipant(" Sam "); err != nil {
		t.Fatalf("AddParticipant failed: %v", err)
	}
	if err := ctl.AddParticipant("Sam"); !errors.Is(err, registry.ErrDuplicateParticipant) {
		t.Fatalf("expected ErrDuplicateParticipant, got %v", err)
	}
	if got := ctl.Participants(); len(got) != 1 || got[0] != "Sam" {
		t.Errorf("participants = %v, want [Sam]", got)
	}
}

// gatedStore holds CreateExpense open until released, so a test can
// observe the session state mid-submit.
type gatedStore struct {
	*fakeStore
	enter   chan struct{}
	release chan struct{}
}

func (g *gatedStore) CreateExpense(ctx context.Context, groupID string, e *models.Expense) error {
	g.enter <- struct{}{}
	<-g.release
	return g.fakeStore.CreateExpense(ctx, groupID, e)
}

func TestSubmitStateProgression(t *testing.T) {
	store := &gatedStore{
		fakeStore: newFakeStore(),
		enter:     make(chan struct{}),
		release:   make(chan struct{}),
	}
	defer store.Close()

	ctl := New(store, "trip", "device-1")
	if ctl.State() != StateIdle {
		t.Fatalf("state = %v, want idle before any edit", ctl.State())
	}

	ctl.SetDescription("Hotel")
	if ctl.State() != StateComposing {
		t.Fatalf("state = %v, want composing after first edit", ctl.State())
	}
	ctl.SetAmount("100")
	ctl.SetPayer("Alice")

	done := make(chan error, 1)
	go func() {
		_, err := ctl.Submit(context.Background())
		done <- err
	}()

	<-store.enter
	if ctl.State() != StateValidating {
		t.Errorf("state during store call = %v, want validating", ctl.State())
	}
	close(store.release)

	if err := <-done; err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if ctl.State() != StateIdle {
		t.Errorf("state = %v, want idle after ack", ctl.State())
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{StateIdle, "idle"},
		{StateComposing, "composing"},
		{StateValidating, "validating"},
		{StateSubmitted, "submitted"},
		{State(42), "state(42)"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}

func TestLostFeedMarksStale(t *testing.T) {
	store := newFakeStore()

	ctl, updates := startController(t, store)
	waitBalances(t, updates)
	if ctl.Stale() {
		t.Fatal("fresh controller should not be stale")
	}

	// Closing the store kills the feed out from under the session.
	store.Close()

	deadline := time.After(2 * time.Second)
	for !ctl.Stale() {
		select {
		case <-deadline:
			t.Fatal("controller never noticed the lost feed")
		case <-time.After(10 * time.Millisecond):
		}
	}
}
