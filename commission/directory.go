/*
directory.go - Seam to the excluded agent/order subsystems

PURPOSE:
  The commission core does not own agent profiles or order documents; it
  only needs to confirm that an agent id resolves to an active agent-role
  account (plus its payout-hold flag) and that an order id exists. The
  Directory interface is that seam. The user/order subsystems sit behind
  it; store/sqlite carries minimal agents/orders tables so the engine is
  runnable and testable on its own.

SEE ALSO:
  - ledger.go: Resolves agents and orders before recording
  - payout/workflow.go: Reads the per-agent payout hold
*/
package commission

import "context"

// Agent is the slice of an agent account the settlement engine needs.
// Profile and auth fields belong to the excluded user directory.
type Agent struct {
	ID     string
	Name   string
	Active bool

	// PayoutHold pauses payout request creation for this agent only.
	PayoutHold     bool
	HoldReason     string
}

// Directory resolves agent and order ids for integrity checks.
type Directory interface {
	// ResolveAgent returns the agent for id, or ErrAgentNotFound if the id
	// does not resolve to an active agent-role account.
	ResolveAgent(ctx context.Context, agentID string) (*Agent, error)

	// OrderExists reports whether an order id resolves.
	OrderExists(ctx context.Context, orderID string) (bool, error)
}
