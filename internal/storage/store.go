// Package storage provides abstractions for persistent expense storage.
package storage

import (
	"context"
	"errors"

	"github.com/splitledger/splitledger/internal/feed"
	"github.com/splitledger/splitledger/internal/models"
)

// ErrUnavailable marks infrastructure failures (database down, network
// unreachable). Implementations wrap it so callers can distinguish "the
// store rejected this" from "the store could not be reached" with
// errors.Is. The core never retries on its own; the caller keeps the
// draft and may resubmit.
var ErrUnavailable = errors.New("store unavailable")

// Store defines the expense record store contract. It must be safe for
// multiple uncoordinated writers: creates always succeed (absent
// infrastructure failure) and become visible to all subscribers
// eventually, deletes are idempotent, and no cross-record ordering is
// guaranteed beyond store-assigned ids. Consumers stay correct by
// recomputing from full snapshots, never by patching deltas.
//
// This abstraction allows swapping backends (SQLite, Postgres, a remote
// server over HTTP) without changing the ledger layer.
type Store interface {
	// CreateExpense appends a new expense to the group and populates
	// expense.ID and expense.CreatedAt.
	CreateExpense(ctx context.Context, groupID string, expense *models.Expense) error

	// DeleteExpense removes an expense by id. Deleting an id that does
	// not exist is a no-op, not an error.
	DeleteExpense(ctx context.Context, groupID, id string) error

	// ListExpenses returns the full current collection for the group.
	ListExpenses(ctx context.Context, groupID string) ([]models.Expense, error)

	// Subscribe delivers the full current collection immediately, then
	// again on every create or delete visible to the store, including
	// this client's own writes echoed back. The returned handle must be
	// released with Unsubscribe on every exit path.
	Subscribe(ctx context.Context, groupID string, fn feed.SnapshotFunc) (*feed.Subscription, error)

	// Close releases any resources held by the store.
	Close() error
}
