// Package models defines the core domain models for Splitledger.
//
// # Models
//
//   - Expense: a shared cost with a designated payer and an even split
//     among its participants
//   - ExpenseRecord: the persisted/wire JSON form of an Expense
//   - ValidationError: field-level rejection of invalid expense input
//
// Participants are identified by their trimmed display name, exactly as
// persisted in records ("selectedUsers", "paidBy"). There is no separate
// participant id: two people sharing a name in one group collide, and a
// rename orphans history. That trade-off is inherited from the record
// format and kept deliberately; introducing synthetic ids would change
// the persisted contract without changing any computed balance.
//
// # Design principles
//
//  1. Money is decimal, never float. Amounts carry 2-digit display
//     precision; arithmetic runs at full precision.
//  2. The split amount is computed once at construction and frozen.
//     Later recomputation from the total is a bug, not a cleanup.
//  3. Invariants are enforced at construction (NewExpense), not by
//     callers remembering to check.
package models
