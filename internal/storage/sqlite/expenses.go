package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/splitledger/splitledger/internal/models"
)

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

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin transaction", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO expenses (id, group_id, description, total_amount, payer, split_amount, created_at, created_by)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		expense.ID, groupID, expense.Description, expense.TotalAmount.String(),
		expense.PayerID, expense.SplitAmount.String(), expense.CreatedAt.Unix(), expense.CreatedBy,
	)
	if err != nil {
		return unavailable("insert expense", err)
	}

	for i, name := range expense.ParticipantIDs {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO expense_participants (expense_id, position, name) VALUES (?, ?, ?)",
			expense.ID, i, name,
		)
		if err != nil {
			return unavailable("insert participant", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit transaction", err)
	}

	s.publish(ctx, groupID)
	return nil
}

// DeleteExpense removes an expense by id. Deleting an id that does not
// exist is a no-op; a snapshot is still published so a delete racing a
// concurrent create leaves every subscriber on the current state.
func (s *Store) DeleteExpense(ctx context.Context, groupID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx,
		"DELETE FROM expenses WHERE id = ? AND group_id = ?",
		id, groupID,
	)
	if err != nil {
		return unavailable("delete expense", err)
	}

	s.publish(ctx, groupID)
	return nil
}

// ListExpenses returns the full current collection for the group,
// ordered by creation time then id.
func (s *Store) ListExpenses(ctx context.Context, groupID string) ([]models.Expense, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, description, total_amount, payer, split_amount, created_at, created_by
		 FROM expenses WHERE group_id = ? ORDER BY created_at, id`,
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

	if err := s.attachParticipants(ctx, groupID, expenses); err != nil {
		return nil, err
	}

	return expenses, nil
}

// attachParticipants loads the participant lists for every expense in
// the slice, preserving selection order.
func (s *Store) attachParticipants(ctx context.Context, groupID string, expenses []models.Expense) error {
	if len(expenses) == 0 {
		return nil
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT p.expense_id, p.name
		 FROM expense_participants p
		 JOIN expenses e ON e.id = p.expense_id
		 WHERE e.group_id = ?
		 ORDER BY p.expense_id, p.position`,
		groupID,
	)
	if err != nil {
		return unavailable("list participants", err)
	}
	defer rows.Close()

	byExpense := make(map[string][]string, len(expenses))
	for rows.Next() {
		var expenseID, name string
		if err := rows.Scan(&expenseID, &name); err != nil {
			return fmt.Errorf("failed to scan participant: %w", err)
		}
		byExpense[expenseID] = append(byExpense[expenseID], name)
	}
	if err := rows.Err(); err != nil {
		return unavailable("iterate participants", err)
	}

	for i := range expenses {
		expenses[i].ParticipantIDs = byExpense[expenses[i].ID]
	}
	return nil
}
