/*
Package payout provides the withdrawal request workflow and the settlement
engine that converts pending commission balance into disbursed funds.

PURPOSE:
  An agent's withdrawal request moves through an explicit state machine,
  gated by the current policy (bounds, holds, schedule window, rate limits)
  and the agent's pending commission balance. Paying a request invokes the
  settlement engine, which consumes ledger entries oldest-first, splitting
  the boundary entry when needed.

KEY CONCEPTS IN THIS FILE (types.go):
  - Request: The withdrawal request entity
  - Status: pending/approved/paid/rejected/on_hold state machine
  - Method: mobile_money or bank disbursement
  - Metadata: Auto-approval and policy snapshots captured at creation

STATE MACHINE:
  pending  -> approved, paid, rejected, on_hold
  approved -> paid, rejected, on_hold
  on_hold  -> pending
  paid, rejected are TERMINAL. Transitions from a terminal state are
  errors, never silent no-ops.

SEE ALSO:
  - workflow.go: Transition guards and auto-approval
  - settlement.go: The pay transition's ledger allocation
*/
package payout

import (
	"time"

	"github.com/settleware/commission-engine/money"
)

// SystemActor is the processedBy sentinel for automatic transitions.
const SystemActor = "system"

// =============================================================================
// METHOD - How the payout is disbursed
// =============================================================================

type Method string

const (
	MethodMobileMoney Method = "mobile_money"
	MethodBank        Method = "bank"
)

func (m Method) Valid() bool { return m == MethodMobileMoney || m == MethodBank }

// =============================================================================
// STATUS - Request state machine
// =============================================================================

type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusPaid     Status = "paid"
	StatusRejected Status = "rejected"
	StatusOnHold   Status = "on_hold"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool { return s == StatusPaid || s == StatusRejected }

// Outstanding reports whether the request blocks the agent from creating a
// new one. At most one outstanding request per agent exists at a time.
func (s Status) Outstanding() bool {
	return s == StatusPending || s == StatusApproved || s == StatusOnHold
}

// canTransition encodes the legal state machine edges. Every workflow
// transition guard goes through here.
func canTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusApproved || to == StatusPaid || to == StatusRejected || to == StatusOnHold
	case StatusApproved:
		return to == StatusPaid || to == StatusRejected || to == StatusOnHold
	case StatusOnHold:
		return to == StatusPending
	default:
		return false
	}
}

// =============================================================================
// REQUEST - A withdrawal request
// =============================================================================

// Request is one withdrawal request. Amount is gross; the processing fee
// snapshot in Metadata is informational for the disbursement side and never
// changes what the settlement engine allocates.
type Request struct {
	ID      string
	AgentID string

	Amount         money.Money
	Method         Method
	AccountDetails string

	Status Status

	RequestedAt time.Time
	ProcessedAt *time.Time
	ProcessedBy string

	Notes           string
	RejectionReason string

	// CommissionIDs lists the ledger entries consumed to fund this request,
	// in allocation order. Populated only once paid.
	CommissionIDs []string

	Metadata Metadata

	UpdatedAt time.Time
}

// Metadata captures the policy context the request was created under.
type Metadata struct {
	AutoApproved          bool
	AutoPaid              bool
	AutoApprovalThreshold money.Money
	ValidationWarnings    []string
	SettingsVersion       int
	ProcessingFee         money.Money
}

// NetAmount is the amount the agent receives after the processing fee
// snapshot. Display-only; the ledger always settles the gross amount.
func (r Request) NetAmount() money.Money {
	net := r.Amount.Sub(r.Metadata.ProcessingFee)
	if net.IsNegative() {
		return money.Zero()
	}
	return net
}
