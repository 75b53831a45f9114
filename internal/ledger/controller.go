// Package ledger orchestrates expense composition, submission, and the
// derived balance view for one settlement group.
//
// A Controller owns one composition session: a participant registry, at
// most one draft expense, and the balance map recomputed from every
// snapshot the store delivers. It never patches balances incrementally;
// correctness under concurrent writers comes entirely from
// recompute-from-scratch on the full collection.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/splitledger/splitledger/internal/calculator"
	"github.com/splitledger/splitledger/internal/feed"
	"github.com/splitledger/splitledger/internal/models"
	"github.com/splitledger/splitledger/internal/registry"
	"github.com/splitledger/splitledger/internal/storage"
)

// State is the composition session state.
type State int

const (
	// StateIdle: no draft expense exists.
	StateIdle State = iota
	// StateComposing: a draft is being assembled.
	StateComposing
	// StateValidating: a submit is checking the draft. Transient.
	StateValidating
	// StateSubmitted: the store acknowledged the create. Transient;
	// the session returns to StateIdle immediately after.
	StateSubmitted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateComposing:
		return "composing"
	case StateValidating:
		return "validating"
	case StateSubmitted:
		return "submitted"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type draft struct {
	description string
	amount      string
	payer       string
	selected    []string
}

// Controller drives one expense composition session against a store.
//
// All methods are safe for concurrent use; snapshot callbacks arrive on
// the feed's delivery goroutine while user operations arrive elsewhere.
type Controller struct {
	store   storage.Store
	groupID string
	actorID string

	// OnBalances, if set before Start, is invoked after every snapshot
	// with the freshly computed balance map. It runs on the feed
	// delivery goroutine and must not block.
	OnBalances func(map[string]decimal.Decimal)

	mu           sync.Mutex
	participants *registry.Registry
	draft        draft
	state        State
	expenses     []models.Expense
	balances     map[string]decimal.Decimal
	stale        bool
	sub          *feed.Subscription
}

// New creates a Controller for the group, writing as actorID.
func New(store storage.Store, groupID, actorID string) *Controller {
	return &Controller{
		store:        store,
		groupID:      groupID,
		actorID:      actorID,
		participants: registry.New(),
		balances:     map[string]decimal.Decimal{},
	}
}

// Start subscribes to the group's change feed. The first balance
// computation happens on the immediately delivered current snapshot.
// Stop must be called on every exit path; a leaked subscription keeps
// processing snapshots for a dead session.
func (c *Controller) Start(ctx context.Context) error {
	sub, err := c.store.Subscribe(ctx, c.groupID, c.applySnapshot)
	if err != nil {
		return fmt.Errorf("subscribe to group %s: %w", c.groupID, err)
	}

	c.mu.Lock()
	c.sub = sub
	c.mu.Unlock()

	// Surface an unexpected feed termination as staleness instead of
	// silently keeping an outdated ledger on display.
	go func() {
		<-sub.Done()
		if sub.Err() == nil {
			return
		}
		c.mu.Lock()
		c.stale = true
		c.mu.Unlock()
		slog.Warn("change feed lost, balances may be stale",
			"group_id", c.groupID, "error", sub.Err())
	}()

	return nil
}

// Stop releases the change feed subscription.
func (c *Controller) Stop() {
	c.mu.Lock()
	sub := c.sub
	c.sub = nil
	c.mu.Unlock()

	if sub != nil {
		sub.Unsubscribe()
	}
}

func (c *Controller) applySnapshot(snap feed.Snapshot) {
	balances := calculator.Balances(snap.Expenses)

	c.mu.Lock()
	c.expenses = snap.Expenses
	c.balances = balances
	c.stale = false
	onBalances := c.OnBalances
	c.mu.Unlock()

	if onBalances != nil {
		onBalances(balances)
	}
}

// AddParticipant registers a participant for the session. Empty names
// are quietly discarded; exact duplicates (after trimming) return
// registry.ErrDuplicateParticipant and leave the set unchanged.
func (c *Controller) AddParticipant(name string) error {
	return c.participants.Add(name)
}

// Participants returns the session's participants in insertion order.
func (c *Controller) Participants() []string {
	return c.participants.List()
}

// SetDescription updates the draft description.
func (c *Controller) SetDescription(description string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compose()
	c.draft.description = description
}

// SetAmount updates the draft total amount. The textual value is kept
// as entered; it is parsed, and rejected if non-numeric, at submit.
func (c *Controller) SetAmount(amount string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.compose()
	c.draft.amount = amount
}

// SetPayer selects the payer. A payer who is not yet selected as a
// participant is added to the selection (and registered if unknown):
// the payer is always a member of the expense they paid for.
func (c *Controller) SetPayer(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	c.mu.Lock()
	c.compose()
	c.draft.payer = name
	c.selectLocked(name)
	c.mu.Unlock()

	if err := c.participants.Add(name); err != nil && !errors.Is(err, registry.ErrDuplicateParticipant) {
		slog.Warn("failed to register payer", "name", name, "error", err)
	}
}

// SelectParticipant adds a participant to the draft selection,
// registering them for the session if unknown. Reselecting is a no-op.
func (c *Controller) SelectParticipant(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}

	c.mu.Lock()
	c.compose()
	c.selectLocked(name)
	c.mu.Unlock()

	if err := c.participants.Add(name); err != nil && !errors.Is(err, registry.ErrDuplicateParticipant) {
		slog.Warn("failed to register participant", "name", name, "error", err)
	}
}

// compose moves an idle session into composing. Callers hold c.mu.
func (c *Controller) compose() {
	if c.state == StateIdle {
		c.state = StateComposing
	}
}

func (c *Controller) selectLocked(name string) {
	for _, s := range c.draft.selected {
		if s == name {
			return
		}
	}
	c.draft.selected = append(c.draft.selected, name)
}

// Submit validates the draft, persists it, and resets the session.
//
// On validation failure the error is a *models.ValidationError naming
// every failing field and the draft stays intact in StateComposing. On
// store failure the error wraps storage.ErrUnavailable and the draft is
// likewise retained so the user can resubmit; the ledger is untouched
// either way, since balances only change on confirmed snapshots.
func (c *Controller) Submit(ctx context.Context) (*models.Expense, error) {
	c.mu.Lock()
	c.state = StateValidating
	d := c.draft
	c.mu.Unlock()

	total, err := decimal.NewFromString(strings.TrimSpace(d.amount))
	if err != nil {
		total = decimal.Zero // NewExpense reports the amount field
	}

	expense, verr := models.NewExpense(d.description, total, d.payer, d.selected, c.actorID)
	if verr != nil {
		c.mu.Lock()
		c.state = StateComposing
		c.mu.Unlock()
		return nil, verr
	}

	if err := c.store.CreateExpense(ctx, c.groupID, expense); err != nil {
		c.mu.Lock()
		c.state = StateComposing
		c.mu.Unlock()
		return nil, fmt.Errorf("create expense: %w", err)
	}

	c.mu.Lock()
	c.state = StateSubmitted
	c.draft = draft{}
	c.mu.Unlock()

	slog.Info("expense submitted",
		"group_id", c.groupID,
		"expense_id", expense.ID,
		"amount", expense.TotalAmount.StringFixed(2),
		"participants", len(expense.ParticipantIDs),
	)

	c.mu.Lock()
	c.state = StateIdle
	c.mu.Unlock()
	return expense, nil
}

// Delete removes an expense by id. Deleting an id that no longer
// exists is a no-op; the store guarantees idempotence.
func (c *Controller) Delete(ctx context.Context, id string) error {
	if err := c.store.DeleteExpense(ctx, c.groupID, id); err != nil {
		return fmt.Errorf("delete expense %s: %w", id, err)
	}
	return nil
}

// Balances returns a copy of the most recently computed balance map.
// Positive means the participant is owed money, negative that they owe.
func (c *Controller) Balances() map[string]decimal.Decimal {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]decimal.Decimal, len(c.balances))
	for k, v := range c.balances {
		out[k] = v
	}
	return out
}

// Expenses returns a copy of the most recent snapshot.
func (c *Controller) Expenses() []models.Expense {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.Expense(nil), c.expenses...)
}

// Stale reports whether the change feed was lost; when true the
// balance view may no longer reflect the store.
func (c *Controller) Stale() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stale
}

// State returns the composition state. StateValidating and
// StateSubmitted are transient states passed through inside Submit; a
// caller polling from another goroutine may glimpse them, but once
// Submit returns the session is back to StateIdle (or StateComposing
// after a rejection).
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}
