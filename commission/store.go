/*
store.go - Persistence interface for commission entries

PURPOSE:
  Defines the interface between the ledger and the database. The critical
  contract is Insert: the one-active-entry-per-(order, agent, type) rule is
  enforced by a database uniqueness constraint, not by a prior read, so
  concurrent triggers for the same order cannot create duplicates.

SEE ALSO:
  - ledger.go: The service using this interface
  - store/sqlite/commission.go: SQLite implementation
  - payout/store.go: Settlement-side entry mutations (paid transitions)
*/
package commission

import (
	"context"
	"time"

	"github.com/settleware/commission-engine/money"
)

// EntryFilter narrows ledger read queries. Nil fields match everything.
type EntryFilter struct {
	Status *Status
	Type   *Type
	From   *time.Time
	To     *time.Time
}

// Store persists commission entries.
type Store interface {
	// Insert persists a new entry. Returns ErrDuplicateEntry if an active
	// (pending or paid) entry already exists for (OrderID, AgentID, Type).
	// The constraint is database-backed: Insert is safe under concurrency.
	Insert(ctx context.Context, e Entry) error

	// FindActive returns the active entry for (orderID, agentID, typ), or
	// nil if none exists.
	FindActive(ctx context.Context, orderID, agentID string, typ Type) (*Entry, error)

	// GetEntry returns an entry by id, or ErrEntryNotFound.
	GetEntry(ctx context.Context, id string) (*Entry, error)

	// CancelPendingForOrder transitions every pending entry for the order
	// to cancelled, stamping cancelledAt. Paid entries are untouched.
	// Returns the number of entries cancelled.
	CancelPendingForOrder(ctx context.Context, orderID string, at time.Time) (int, error)

	// PendingBalance sums pending entry amounts for the agent. This is the
	// available-for-withdrawal balance, not lifetime earnings.
	PendingBalance(ctx context.Context, agentID string) (money.Money, error)

	// PaidTotal sums paid entry amounts for the agent - lifetime earnings
	// actually disbursed.
	PaidTotal(ctx context.Context, agentID string) (money.Money, error)

	// EntriesForAgent returns the agent's entries, oldest first.
	EntriesForAgent(ctx context.Context, agentID string, f EntryFilter) ([]Entry, error)
}
