package models

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Expense represents a single recorded shared cost. The designated payer
// fronted the full amount; every participant (payer included) owes an
// equal share of it.
type Expense struct {
	// ID is the store-assigned unique identifier (UUID format).
	// Empty until the expense has been persisted.
	ID string

	// Description is the human-readable label for the expense.
	Description string

	// TotalAmount is the full cost of the expense. Always positive.
	TotalAmount decimal.Decimal

	// PayerID is the participant who paid. Always a member of
	// ParticipantIDs; NewExpense adds the payer if missing.
	PayerID string

	// ParticipantIDs are the participants splitting the expense, in
	// selection order, deduplicated. Never empty.
	ParticipantIDs []string

	// SplitAmount is the per-participant share, rounded to 2 decimal
	// places once at construction and stored. It is never recomputed
	// from TotalAmount afterwards, so the split stays stable even where
	// rounding would drift.
	SplitAmount decimal.Decimal

	// CreatedAt is when the expense was recorded.
	CreatedAt time.Time

	// CreatedBy is the opaque actor id of the writer that created the
	// expense. Informational only; never authenticated here.
	CreatedBy string
}

// ValidationError reports which expense fields failed validation.
// Fields holds the failing field names ("description", "amount",
// "payer", "participants") in a stable order.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid expense: missing or invalid %s", strings.Join(e.Fields, ", "))
}

// NewExpense builds a validated Expense from raw input.
//
// The payer is added to the participant set if not already selected, so
// an expense with only a payer is valid (a single-person expense whose
// split equals the total). Participants are trimmed and deduplicated,
// keeping first-seen order. On validation failure the returned error is
// a *ValidationError naming every failing field.
func NewExpense(description string, total decimal.Decimal, payerID string, participantIDs []string, createdBy string) (*Expense, error) {
	description = strings.TrimSpace(description)
	payerID = strings.TrimSpace(payerID)

	// Normalize the participant set before any invariant check.
	seen := make(map[string]bool, len(participantIDs)+1)
	participants := make([]string, 0, len(participantIDs)+1)
	for _, p := range participantIDs {
		p = strings.TrimSpace(p)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		participants = append(participants, p)
	}
	if payerID != "" && !seen[payerID] {
		participants = append(participants, payerID)
	}

	var missing []string
	if description == "" {
		missing = append(missing, "description")
	}
	if !total.IsPositive() {
		missing = append(missing, "amount")
	}
	if payerID == "" {
		missing = append(missing, "payer")
	}
	if len(participants) == 0 {
		missing = append(missing, "participants")
	}
	if len(missing) > 0 {
		return nil, &ValidationError{Fields: missing}
	}

	split := total.Div(decimal.NewFromInt(int64(len(participants)))).Round(2)

	return &Expense{
		Description:    description,
		TotalAmount:    total,
		PayerID:        payerID,
		ParticipantIDs: participants,
		SplitAmount:    split,
		CreatedBy:      createdBy,
	}, nil
}

// ExpenseRecord is the persisted and wire representation of an Expense,
// one JSON object per expense under a store-assigned id. Participant
// identity is the display name itself.
type ExpenseRecord struct {
	Description   string    `json:"description"`
	Amount        string    `json:"amount"`
	SelectedUsers []string  `json:"selectedUsers"`
	PaidBy        string    `json:"paidBy"`
	SplitAmount   string    `json:"splitAmount"`
	CreatedAt     time.Time `json:"createdAt"`
	CreatedBy     string    `json:"createdBy"`
}

// Record converts the expense to its persisted form.
func (e *Expense) Record() ExpenseRecord {
	return ExpenseRecord{
		Description:   e.Description,
		Amount:        e.TotalAmount.StringFixed(2),
		SelectedUsers: append([]string(nil), e.ParticipantIDs...),
		PaidBy:        e.PayerID,
		SplitAmount:   e.SplitAmount.StringFixed(2),
		CreatedAt:     e.CreatedAt,
		CreatedBy:     e.CreatedBy,
	}
}

// Expense converts a persisted record back to the domain model under the
// given store-assigned id. A stored splitAmount wins over recomputation;
// records written without one (never by this code) get the frozen split
// computed as at creation.
func (r ExpenseRecord) Expense(id string) (*Expense, error) {
	total, err := decimal.NewFromString(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("parse amount %q: %w", r.Amount, err)
	}

	e, err := NewExpense(r.Description, total, r.PaidBy, r.SelectedUsers, r.CreatedBy)
	if err != nil {
		return nil, err
	}
	e.ID = id
	e.CreatedAt = r.CreatedAt

	if r.SplitAmount != "" {
		split, err := decimal.NewFromString(r.SplitAmount)
		if err != nil {
			return nil, fmt.Errorf("parse splitAmount %q: %w", r.SplitAmount, err)
		}
		e.SplitAmount = split
	}

	return e, nil
}

// SortExpenses orders expenses by creation time, then id, for stable
// display. Balances never depend on this order.
func SortExpenses(expenses []Expense) {
	sort.Slice(expenses, func(i, j int) bool {
		if !expenses[i].CreatedAt.Equal(expenses[j].CreatedAt) {
			return expenses[i].CreatedAt.Before(expenses[j].CreatedAt)
		}
		return expenses[i].ID < expenses[j].ID
	})
}
