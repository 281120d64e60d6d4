/*
Package commission provides the agent commission ledger.

PURPOSE:
  Commissions credit agents for qualifying order events: completing a
  delivery or creating an order on a customer's behalf. Each commission is
  one ledger entry with a lifecycle (pending -> paid/cancelled) and an
  amount computed from the policy in force when it was recorded.

KEY CONCEPTS IN THIS FILE (types.go):
  - Entry: One commission ledger entry per (order, agent, type)
  - Type: delivery (fixed per item) vs agent_order (fraction of total)
  - Status: pending, paid, cancelled - terminal once paid or cancelled
  - Split lineage: entries created by payout splits carry SplitFromID

DESIGN PRINCIPLES:
  1. One active entry per (order, agent, type): re-recording is idempotent
  2. Immutable once terminal: paid and cancelled entries never change
  3. Auditable: every entry records the rate, order total, and policy
     version that produced its amount

SEE ALSO:
  - calculator.go: Pure amount computation
  - ledger.go: Record / cancel / balance operations
  - payout/settlement.go: The only writer of paid transitions
*/
package commission

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/settleware/commission-engine/money"
)

// =============================================================================
// COMMISSION TYPE
// =============================================================================

// Type distinguishes the two commission formulas.
type Type string

const (
	// TypeDelivery pays a fixed amount per delivered item.
	TypeDelivery Type = "delivery"

	// TypeAgentOrder pays a fraction of the order total for orders the
	// agent created on a customer's behalf.
	TypeAgentOrder Type = "agent_order"
)

// Valid reports whether t is a known commission type.
func (t Type) Valid() bool { return t == TypeDelivery || t == TypeAgentOrder }

// =============================================================================
// STATUS
// =============================================================================

type Status string

const (
	StatusPending   Status = "pending"
	StatusPaid      Status = "paid"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool { return s == StatusPaid || s == StatusCancelled }

// =============================================================================
// ENTRY - One commission ledger entry
// =============================================================================

// Entry is a single commission credit. Amount is always >= 0; pending
// entries make up the agent's available-for-withdrawal balance.
type Entry struct {
	ID      string
	OrderID string
	AgentID string
	Type    Type

	Amount     money.Money
	OrderTotal money.Money

	// Rate is the per-item fixed amount (IsFixedAmount=true) or the
	// fraction of the order total (IsFixedAmount=false) used to compute
	// Amount.
	Rate          decimal.Decimal
	IsFixedAmount bool

	// DeliveryCount is only meaningful for TypeDelivery. Always >= 1.
	DeliveryCount int

	Status Status

	// PayoutRequestID is set when the entry is consumed by a settlement.
	PayoutRequestID string

	// SplitFromID links a remainder entry back to the entry it was split
	// from, making the split lineage a traversable chain.
	SplitFromID string
	Note        string

	// SettingsVersion is the policy version the amount was computed against.
	SettingsVersion int

	CreatedAt   time.Time
	PaidAt      *time.Time
	CancelledAt *time.Time
}

// Active reports whether the entry counts against the one-per-(order,agent,type)
// uniqueness rule. Cancelled entries free the slot; pending and paid hold it.
func (e Entry) Active() bool { return e.Status == StatusPending || e.Status == StatusPaid }
