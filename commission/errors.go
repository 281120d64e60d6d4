/*
errors.go - Error types for the commission ledger

PURPOSE:
  Sentinel errors for errors.Is checks plus structured errors carrying
  enough context for reconciliation. Integrity errors (unresolvable agent
  or order) fail the triggering operation; the order-event caller logs and
  swallows them so order processing is never blocked by commission
  bookkeeping, but the failure stays auditable.

SEE ALSO:
  - ledger.go: Producers of these errors
  - api/handlers.go: The log-and-swallow order-event boundary
*/
package commission

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrAgentNotFound is returned when an agent id does not resolve to an
	// active agent-role account.
	ErrAgentNotFound = errors.New("agent not found or not active")

	// ErrOrderNotFound is returned when an order id does not resolve.
	ErrOrderNotFound = errors.New("order not found")

	// ErrDuplicateEntry is returned by the store when an active entry
	// already exists for (order, agent, type). The ledger absorbs it and
	// returns the existing entry; callers normally never see it.
	ErrDuplicateEntry = errors.New("active commission entry already exists")

	// ErrEntryNotFound is returned when a commission entry id does not resolve.
	ErrEntryNotFound = errors.New("commission entry not found")

	// ErrPolicyUnavailable is returned when the current policy settings
	// cannot be loaded. Commission creation fails rather than guessing a
	// rate; there is no fallback default.
	ErrPolicyUnavailable = errors.New("policy settings unavailable")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// CalculationError reports invalid calculator input.
type CalculationError struct {
	Type   Type
	Detail string
}

func (e *CalculationError) Error() string {
	return fmt.Sprintf("cannot calculate %s commission: %s", e.Type, e.Detail)
}
