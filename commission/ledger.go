/*
ledger.go - Commission ledger service

PURPOSE:
  The write path for commission entries. Order lifecycle events land here:
  delivery completion and agent-order creation record commissions; order
  cancellation cancels whatever is still pending.

IDEMPOTENCY:
  Record is safe to re-fire. If an active entry already exists for
  (order, agent, type) it is returned unchanged. The fast path is a read;
  the race window is closed by the store's uniqueness constraint, with a
  re-read on conflict.

FAILURE SEMANTICS:
  Unresolvable agents/orders and unavailable policy are surfaced to the
  caller as errors - no retries, no fallback rates. The order-event
  boundary (api package) logs and swallows these so order processing never
  blocks on commission bookkeeping.

SEE ALSO:
  - calculator.go: Amount computation
  - store.go: Persistence contract
  - payout/settlement.go: Consumes pending entries at payout time
*/
package commission

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/settleware/commission-engine/money"
	"github.com/settleware/commission-engine/policy"
)

// =============================================================================
// LEDGER - Commission write/read service
// =============================================================================

// Ledger records and queries commission entries.
type Ledger struct {
	Store     Store
	Directory Directory
	Policies  policy.Store

	// Now is the clock. Overridable in tests; defaults to time.Now.
	Now func() time.Time
}

// NewLedger creates a ledger over the given collaborators.
func NewLedger(store Store, directory Directory, policies policy.Store) *Ledger {
	return &Ledger{
		Store:     store,
		Directory: directory,
		Policies:  policies,
		Now:       time.Now,
	}
}

// Record creates a pending commission entry for an order event. It is
// idempotent: if an active entry already exists for (orderID, agentID, typ)
// the existing entry is returned unchanged.
func (l *Ledger) Record(ctx context.Context, orderID, agentID string, typ Type, orderTotal money.Money, deliveryCount int) (*Entry, error) {
	if !typ.Valid() {
		return nil, &CalculationError{Type: typ, Detail: "unknown commission type"}
	}

	// Integrity checks against the excluded subsystems.
	if _, err := l.Directory.ResolveAgent(ctx, agentID); err != nil {
		return nil, err
	}
	exists, err := l.Directory.OrderExists(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve order %s: %w", orderID, err)
	}
	if !exists {
		return nil, fmt.Errorf("order %s: %w", orderID, ErrOrderNotFound)
	}

	// Fast idempotency path.
	if existing, err := l.Store.FindActive(ctx, orderID, agentID, typ); err != nil {
		return nil, err
	} else if existing != nil {
		return existing, nil
	}

	settings, err := l.Policies.Current(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyUnavailable, err)
	}

	calc, err := Calculate(orderTotal, typ, deliveryCount, *settings)
	if err != nil {
		return nil, err
	}

	if typ != TypeDelivery {
		deliveryCount = 0
	}

	entry := Entry{
		ID:              uuid.NewString(),
		OrderID:         orderID,
		AgentID:         agentID,
		Type:            typ,
		Amount:          calc.Amount,
		OrderTotal:      orderTotal,
		Rate:            calc.Rate,
		IsFixedAmount:   calc.IsFixedAmount,
		DeliveryCount:   deliveryCount,
		Status:          StatusPending,
		SettingsVersion: settings.Version,
		CreatedAt:       l.Now().UTC(),
	}

	err = l.Store.Insert(ctx, entry)
	if errors.Is(err, ErrDuplicateEntry) {
		// Lost the race with a concurrent trigger for the same event.
		// The constraint guarantees exactly one active entry; return it.
		existing, ferr := l.Store.FindActive(ctx, orderID, agentID, typ)
		if ferr != nil {
			return nil, ferr
		}
		if existing == nil {
			return nil, err
		}
		return existing, nil
	}
	if err != nil {
		return nil, err
	}

	return &entry, nil
}

// CancelPendingForOrder cancels every still-pending entry for the order.
// Paid entries are never clawed back. Returns the count cancelled.
func (l *Ledger) CancelPendingForOrder(ctx context.Context, orderID string) (int, error) {
	return l.Store.CancelPendingForOrder(ctx, orderID, l.Now().UTC())
}

// PendingBalance is the agent's available-for-withdrawal balance.
func (l *Ledger) PendingBalance(ctx context.Context, agentID string) (money.Money, error) {
	return l.Store.PendingBalance(ctx, agentID)
}

// PaidTotal is the agent's lifetime disbursed earnings.
func (l *Ledger) PaidTotal(ctx context.Context, agentID string) (money.Money, error) {
	return l.Store.PaidTotal(ctx, agentID)
}

// EntriesForAgent is the read surface for the reporting layer.
func (l *Ledger) EntriesForAgent(ctx context.Context, agentID string, f EntryFilter) ([]Entry, error) {
	if _, err := l.Directory.ResolveAgent(ctx, agentID); err != nil {
		return nil, err
	}
	return l.Store.EntriesForAgent(ctx, agentID, f)
}
