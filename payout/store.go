/*
store.go - Persistence interfaces for the payout workflow and settlement

PURPOSE:
  Two contracts live here:

  RequestStore: What the workflow needs - insert with the database-backed
  one-outstanding-request constraint, point reads, status updates, and the
  rate-limit usage query.

  TxStore / SettlementStore: What the settlement engine needs - the entry
  reads and mutations of an allocation, executable inside a single database
  transaction via WithTx. Everything settle touches (entry reads, the
  sufficiency check, entry mutations, the remainder insert, the request's
  paid transition) commits or rolls back as one unit.

SEE ALSO:
  - workflow.go, settlement.go: Consumers
  - store/sqlite/payout.go: SQLite implementation
*/
package payout

import (
	"context"
	"time"

	"github.com/settleware/commission-engine/commission"
	"github.com/settleware/commission-engine/money"
)

// =============================================================================
// REQUEST STORE - Workflow persistence
// =============================================================================

// Usage is an agent's request activity since a point in time, for rate
// limiting.
type Usage struct {
	Count int
	Total money.Money
}

// RequestStore persists payout requests.
type RequestStore interface {
	// InsertRequest persists a new request. Returns ErrOutstandingRequest
	// if the agent already has a pending/approved/on_hold request; the
	// constraint is database-backed, so concurrent creates cannot both win.
	InsertRequest(ctx context.Context, r Request) error

	// GetRequest returns a request by id, or ErrRequestNotFound.
	GetRequest(ctx context.Context, id string) (*Request, error)

	// UpdateRequest persists status, processing, and metadata changes.
	UpdateRequest(ctx context.Context, r Request) error

	// HasOutstandingRequest reports whether the agent currently has a
	// pending, approved, or on-hold request. Used at validation time so
	// the conflict lands in the collected violations; the insert-time
	// constraint remains the race-safe enforcement.
	HasOutstandingRequest(ctx context.Context, agentID string) (bool, error)

	// UsageSince returns the agent's request count and summed amounts for
	// requests created at or after since. Rejected requests still count:
	// a rejection consumes an attempt.
	UsageSince(ctx context.Context, agentID string, since time.Time) (Usage, error)
}

// =============================================================================
// SETTLEMENT STORE - Atomic allocation persistence
// =============================================================================

// SettlementStore is the slice of persistence the settlement engine uses.
// Obtain one inside TxStore.WithTx so the whole allocation is atomic.
type SettlementStore interface {
	// PendingEntriesForAgent returns the agent's pending commission
	// entries ordered by creation time ascending (oldest first).
	PendingEntriesForAgent(ctx context.Context, agentID string) ([]commission.Entry, error)

	// MarkEntryPaid transitions an entry to paid, setting its (possibly
	// reduced, for splits) amount, the consuming payout request id, and
	// paidAt.
	MarkEntryPaid(ctx context.Context, entryID string, amount money.Money, payoutRequestID string, paidAt time.Time) error

	// InsertRemainder persists the new pending entry produced by a split.
	InsertRemainder(ctx context.Context, e commission.Entry) error

	// MarkRequestPaid flips the request to paid, recording the consumed
	// commission ids in allocation order.
	MarkRequestPaid(ctx context.Context, requestID string, commissionIDs []string, processedBy string, at time.Time, autoPaid bool) error
}

// TxStore runs settlement operations inside a database transaction.
type TxStore interface {
	SettlementStore

	// WithTx executes fn within a transaction. If fn returns an error the
	// transaction is rolled back, otherwise committed.
	WithTx(ctx context.Context, fn func(SettlementStore) error) error
}
