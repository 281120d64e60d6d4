/*
settlement.go - FIFO allocation of pending commissions to a payout

PURPOSE:
  Converts a payout request's amount into a concrete set of commission
  entry transitions. Oldest-earned commissions are consumed first - a FIFO
  policy chosen for predictability and auditability over alternatives like
  largest-first.

ALGORITHM:
  1. Load the agent's pending entries, oldest first.
  2. If their sum is less than the requested amount, abort with an
     insufficient-balance error. Nothing changes.
  3. Walk the entries with a remaining counter:
     - entry.amount <= remaining: mark paid in full, subtract, record id.
     - entry.amount >  remaining: SPLIT. The original is mutated down to
       the paid slice and marked paid; a new pending entry carries the
       remainder with a SplitFromID back-reference. A split always ends
       the walk, since remaining is zero afterwards.
  4. Everything - entry mutations, the remainder insert, and the request's
     paid transition - commits as a single transaction. Any failure leaves
     no trace.

CONSERVATION:
  The sum of amounts across paid slices, untouched pending entries, and
  split remainders always equals the pre-settlement total.

SEE ALSO:
  - workflow.go: The only caller (pay transition)
  - store.go: SettlementStore / TxStore contracts
*/
package payout

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/settleware/commission-engine/commission"
	"github.com/settleware/commission-engine/money"
)

// =============================================================================
// SETTLEMENT ENGINE
// =============================================================================

// Settlement allocates ledger entries to payout requests.
type Settlement struct {
	Store TxStore

	// Now is the clock. Overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// NewSettlement creates a settlement engine over the given store.
func NewSettlement(store TxStore) *Settlement {
	return &Settlement{Store: store, Now: time.Now}
}

// Result reports what a settlement consumed.
type Result struct {
	// PaidCommissionIDs lists consumed entries in allocation order.
	PaidCommissionIDs []string
	TotalPaid         money.Money
}

// Settle consumes the agent's pending entries to fund the request and flips
// it to paid, all inside one transaction. On insufficient balance nothing
// changes and the error reports requested vs available.
func (s *Settlement) Settle(ctx context.Context, req *Request) (*Result, error) {
	paidAt := s.Now().UTC()
	processedBy := req.ProcessedBy
	if processedBy == "" {
		processedBy = SystemActor
	}

	var result Result

	err := s.Store.WithTx(ctx, func(store SettlementStore) error {
		entries, err := store.PendingEntriesForAgent(ctx, req.AgentID)
		if err != nil {
			return fmt.Errorf("failed to load pending entries: %w", err)
		}

		available := money.Zero()
		for _, e := range entries {
			available = available.Add(e.Amount)
		}
		if available.LessThan(req.Amount) {
			return &InsufficientBalanceError{
				AgentID:   req.AgentID,
				Requested: req.Amount,
				Available: available,
			}
		}

		remaining := req.Amount
		for _, entry := range entries {
			if remaining.IsZero() {
				break
			}

			if entry.Amount.LessThanOrEqual(remaining) {
				// Consume the entry whole.
				if err := store.MarkEntryPaid(ctx, entry.ID, entry.Amount, req.ID, paidAt); err != nil {
					return fmt.Errorf("failed to mark entry %s paid: %w", entry.ID, err)
				}
				remaining = remaining.Sub(entry.Amount)
				result.PaidCommissionIDs = append(result.PaidCommissionIDs, entry.ID)
				continue
			}

			// Split: the original keeps the paid slice, a new pending entry
			// inherits the rest. remaining is zero afterwards, so a split
			// always ends the allocation.
			remainderAmount := entry.Amount.Sub(remaining)

			if err := store.MarkEntryPaid(ctx, entry.ID, remaining, req.ID, paidAt); err != nil {
				return fmt.Errorf("failed to mark split entry %s paid: %w", entry.ID, err)
			}

			remainder := entry
			remainder.ID = uuid.NewString()
			remainder.Amount = remainderAmount
			remainder.Status = commission.StatusPending
			remainder.PayoutRequestID = ""
			remainder.SplitFromID = entry.ID
			remainder.Note = fmt.Sprintf("remainder from split of %s (payout %s)", entry.ID, req.ID)
			remainder.CreatedAt = entry.CreatedAt // keeps FIFO position
			remainder.PaidAt = nil
			remainder.CancelledAt = nil

			if err := store.InsertRemainder(ctx, remainder); err != nil {
				return fmt.Errorf("failed to insert split remainder: %w", err)
			}

			result.PaidCommissionIDs = append(result.PaidCommissionIDs, entry.ID)
			remaining = money.Zero()
			break
		}

		result.TotalPaid = req.Amount

		if err := store.MarkRequestPaid(ctx, req.ID, result.PaidCommissionIDs, processedBy, paidAt, req.Metadata.AutoPaid); err != nil {
			return fmt.Errorf("failed to mark request paid: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Reflect the transition on the in-memory request.
	req.Status = StatusPaid
	req.CommissionIDs = result.PaidCommissionIDs
	req.ProcessedAt = &paidAt
	req.ProcessedBy = processedBy
	req.UpdatedAt = paidAt

	return &result, nil
}
