// Package postgres provides a Postgres-backed implementation of the
// storage.Store interface using pgx. Like the sqlite store, change
// notifications cover writes made through this process; devices share
// one feed by subscribing to the server over HTTP, not to the database.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/splitledger/splitledger/internal/feed"
	"github.com/splitledger/splitledger/internal/models"
	"github.com/splitledger/splitledger/internal/storage"
)

// Ensure Store implements storage.Store
var _ storage.Store = (*Store)(nil)

const schema = `
CREATE TABLE IF NOT EXISTS expenses (
    id TEXT PRIMARY KEY,
    group_id TEXT NOT NULL,
    description TEXT NOT NULL,
    total_amount TEXT NOT NULL,
    payer TEXT NOT NULL,
    split_amount TEXT NOT NULL,
    created_at BIGINT NOT NULL,
    created_by TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS expense_participants (
    expense_id TEXT NOT NULL REFERENCES expenses(id) ON DELETE CASCADE,
    position INTEGER NOT NULL,
    name TEXT NOT NULL,
    PRIMARY KEY (expense_id, name)
);

CREATE INDEX IF NOT EXISTS idx_expenses_group_id ON expenses(group_id);
`

// Store implements storage.Store using a pgx connection pool.
//
// mu orders commits with their snapshot publications, the same way the
// sqlite store does: a stale snapshot published after a fresher one
// would strand coalescing subscribers on the stale state. Subscribe
// takes it too, so a registration cannot fall between a commit and its
// publication and miss the write.
type Store struct {
	pool *pgxpool.Pool
	hub  *feed.Hub
	mu   sync.Mutex
}

// New connects to the database at dsn, verifies the connection, and
// bootstraps the schema.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("ping", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return &Store{pool: pool, hub: feed.NewHub()}, nil
}

// Close terminates all subscriptions and releases the pool.
func (s *Store) Close() error {
	s.hub.Close()
	s.pool.Close()
	return nil
}

// CreateExpense persists a new expense and notifies subscribers.
func (s *Store) CreateExpense(ctx context.Context, groupID string, expense *models.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if expense.ID == "" {
		expense.ID = uuid.New().String()
	}
	if expense.CreatedAt.IsZero() {
		expense.CreatedAt = time.Now().UTC().Truncate(time.Second)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO expenses (id, group_id, description, total_amount, payer, split_amount, created_at, created_by)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		expense.ID, groupID, expense.Description, expense.TotalAmount.String(),
		expense.PayerID, expense.SplitAmount.String(), expense.CreatedAt.Unix(), expense.CreatedBy,
	)
	if err != nil {
		return unavailable("insert expense", err)
	}

	for i, name := range expense.ParticipantIDs {
		_, err = tx.Exec(ctx,
			"INSERT INTO expense_participants (expense_id, position, name) VALUES ($1, $2, $3)",
			expense.ID, i, name,
		)
		if err != nil {
			return unavailable("insert participant", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit transaction", err)
	}

	s.publish(ctx, groupID)
	return nil
}

// DeleteExpense removes an expense by id; a missing id is a no-op.
func (s *Store) DeleteExpense(ctx context.Context, groupID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.pool.Exec(ctx,
		"DELETE FROM expenses WHERE id = $1 AND group_id = $2",
		id, groupID,
	)
	if err != nil {
		return unavailable("delete expense", err)
	}

	s.publish(ctx, groupID)
	return nil
}

// ListExpenses returns the full current collection for the group.
func (s *Store) ListExpenses(ctx context.Context, groupID string) ([]models.Expense, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, description, total_amount, payer, split_amount, created_at, created_by
		 FROM expenses WHERE group_id = $1 ORDER BY created_at, id`,
		groupID,
	)
	if err != nil {
		return nil, unavailable("list expenses", err)
	}
	defer rows.Close()

	expenses := []models.Expense{}
	for rows.Next() {
		var (
			e         models.Expense
			total     string
			split     string
			createdAt int64
		)
		if err := rows.Scan(&e.ID, &e.Description, &total, &e.PayerID, &split, &createdAt, &e.CreatedBy); err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		if e.TotalAmount, err = decimal.NewFromString(total); err != nil {
			return nil, fmt.Errorf("failed to parse total amount %q: %w", total, err)
		}
		if e.SplitAmount, err = decimal.NewFromString(split); err != nil {
			return nil, fmt.Errorf("failed to parse split amount %q: %w", split, err)
		}
		e.CreatedAt = time.Unix(createdAt, 0).UTC()
		expenses = append(expenses, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate expenses", err)
	}

	prows, err := s.pool.Query(ctx,
		`SELECT p.expense_id, p.name
		 FROM expense_participants p
		 JOIN expenses e ON e.id = p.expense_id
		 WHERE e.group_id = $1
		 ORDER BY p.expense_id, p.position`,
		groupID,
	)
	if err != nil {
		return nil, unavailable("list participants", err)
	}
	defer prows.Close()

	byExpense := make(map[string][]string, len(expenses))
	for prows.Next() {
		var expenseID, name string
		if err := prows.Scan(&expenseID, &name); err != nil {
			return nil, fmt.Errorf("failed to scan participant: %w", err)
		}
		byExpense[expenseID] = append(byExpense[expenseID], name)
	}
	if err := prows.Err(); err != nil {
		return nil, unavailable("iterate participants", err)
	}

	for i := range expenses {
		expenses[i].ParticipantIDs = byExpense[expenses[i].ID]
	}

	return expenses, nil
}

// Subscribe delivers the current collection immediately and after every
// create or delete made through this store.
func (s *Store) Subscribe(ctx context.Context, groupID string, fn feed.SnapshotFunc) (*feed.Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	expenses, err := s.ListExpenses(ctx, groupID)
	if err != nil {
		return nil, err
	}
	return s.hub.Subscribe(groupID, feed.Snapshot{GroupID: groupID, Expenses: expenses}, fn)
}

func (s *Store) publish(ctx context.Context, groupID string) {
	expenses, err := s.ListExpenses(ctx, groupID)
	if err != nil {
		slog.Warn("failed to read snapshot for publication", "group_id", groupID, "error", err)
		return
	}
	s.hub.Publish(feed.Snapshot{GroupID: groupID, Expenses: expenses})
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w", op, errors.Join(storage.ErrUnavailable, err))
}
