/*
errors.go - Error taxonomy for the payout workflow

PURPOSE:
  Four kinds of failure, kept distinct so callers can react correctly:

  1. Validation errors  - bad amount/method/fields; the WHAT is wrong.
     Reported as the complete set of violated constraints, not fail-fast.
  2. Policy-gate errors - holds, closed windows, rate limits; the WHEN/WHO
     is wrong. Carry the human-readable reason and, for schedule gates,
     the next allowed time.
  3. Insufficient balance - always reports requested vs available.
  4. State conflicts    - illegal transitions and duplicate outstanding
     requests. Carry the current state; never silently coerced.

  No automatic retries anywhere: every failure is either a permanent
  rejection or an integrity problem needing operator attention.

SEE ALSO:
  - workflow.go: Producers
  - api/handlers.go: HTTP status mapping
*/
package payout

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/settleware/commission-engine/money"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	// ErrRequestNotFound is returned when a request id does not resolve.
	ErrRequestNotFound = errors.New("payout request not found")

	// ErrOutstandingRequest is returned when the agent already has a
	// pending, approved, or on-hold request.
	ErrOutstandingRequest = errors.New("agent already has an outstanding payout request")

	// ErrInsufficientBalance is the sentinel behind InsufficientBalanceError.
	ErrInsufficientBalance = errors.New("insufficient pending commission balance")

	// ErrPolicyGate is the sentinel behind PolicyGateError.
	ErrPolicyGate = errors.New("payout blocked by policy")

	// ErrStateConflict is the sentinel behind StateConflictError.
	ErrStateConflict = errors.New("illegal payout state transition")
)

// =============================================================================
// STRUCTURED ERRORS
// =============================================================================

// ValidationError carries every violated creation constraint at once so the
// caller can show them all rather than one per round trip.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return "payout request validation failed: " + strings.Join(e.Violations, "; ")
}

// PolicyGateError reports a when/who gate: global hold, per-agent hold,
// closed schedule window, or an exceeded rate limit.
type PolicyGateError struct {
	Reason string

	// NextWindowStart is set for schedule gates: the next time requests
	// will be accepted.
	NextWindowStart *time.Time
}

func (e *PolicyGateError) Error() string {
	if e.NextWindowStart != nil {
		return fmt.Sprintf("payout blocked by policy: %s (next window %s)",
			e.Reason, e.NextWindowStart.Format(time.RFC3339))
	}
	return "payout blocked by policy: " + e.Reason
}

func (e *PolicyGateError) Unwrap() error { return ErrPolicyGate }

// InsufficientBalanceError reports requested vs available amounts.
type InsufficientBalanceError struct {
	AgentID   string
	Requested money.Money
	Available money.Money
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for agent %s: requested %s, available %s",
		e.AgentID, e.Requested, e.Available)
}

func (e *InsufficientBalanceError) Unwrap() error { return ErrInsufficientBalance }

// StateConflictError reports a transition attempted from a state that does
// not allow it. The current state is included so callers get explicit
// feedback instead of a silent no-op.
type StateConflictError struct {
	RequestID string
	Current   Status
	Attempted Status
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("request %s: cannot transition from %s to %s",
		e.RequestID, e.Current, e.Attempted)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }
