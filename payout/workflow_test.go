package payout_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settleware/commission-engine/commission"
	"github.com/settleware/commission-engine/money"
	"github.com/settleware/commission-engine/payout"
	"github.com/settleware/commission-engine/policy"
	"github.com/settleware/commission-engine/store/sqlite"
)

// =============================================================================
// TEST SETUP
// =============================================================================

func newTestWorkflow(t *testing.T) (*payout.Workflow, *sqlite.Store) {
	store := newTestStore(t)
	settler := payout.NewSettlement(store)
	workflow := payout.NewWorkflow(store, store, store, store, settler, nil)
	return workflow, store
}

func seedActiveAgent(t *testing.T, store *sqlite.Store, id string) {
	t.Helper()
	err := store.SaveAgent(context.Background(), commission.Agent{
		ID: id, Name: "Agent " + id, Active: true,
	})
	require.NoError(t, err)
}

// adjustSettings mutates the live policy through the store so version and
// history behave as in production.
func adjustSettings(t *testing.T, store *sqlite.Store, mutate func(*policy.Settings)) {
	t.Helper()
	ctx := context.Background()
	current, err := store.Current(ctx)
	require.NoError(t, err)
	next := *current
	mutate(&next)
	_, err = store.Update(ctx, next, "test", "test adjustment")
	require.NoError(t, err)
}

func createInput(agentID string, amount int64) payout.CreateInput {
	return payout.CreateInput{
		AgentID:        agentID,
		Amount:         money.FromInt(amount),
		Method:         payout.MethodMobileMoney,
		AccountDetails: "+255700000001",
	}
}

// =============================================================================
// CREATE VALIDATION TESTS
// =============================================================================

func TestWorkflow_Create_CollectsEveryViolation(t *testing.T) {
	// GIVEN: A request violating amount bounds, method, account details,
	//        balance, and a global hold at once
	// WHEN: Creation is attempted
	// THEN: One error lists every violated constraint, not just the first

	workflow, store := newTestWorkflow(t)
	seedActiveAgent(t, store, "agent-1")
	adjustSettings(t, store, func(s *policy.Settings) {
		s.GlobalHold = true
		s.HoldReason = "quarterly audit"
	})

	_, err := workflow.Create(context.Background(), payout.CreateInput{
		AgentID:        "agent-1",
		Amount:         money.FromInt(50), // below the 1000 minimum
		Method:         payout.Method("cash"),
		AccountDetails: "   ",
	})

	var validationErr *payout.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.GreaterOrEqual(t, len(validationErr.Violations), 4)

	joined := strings.Join(validationErr.Violations, "; ")
	assert.Contains(t, joined, "minimum withdrawal")
	assert.Contains(t, joined, "mobile_money or bank")
	assert.Contains(t, joined, "account details")
	assert.Contains(t, joined, "global hold: quarterly audit")
	assert.Contains(t, joined, "insufficient balance")
}

func TestWorkflow_Create_UnknownAgent_Rejected(t *testing.T) {
	workflow, _ := newTestWorkflow(t)

	_, err := workflow.Create(context.Background(), createInput("ghost", 5000))
	assert.ErrorIs(t, err, commission.ErrAgentNotFound)
}

func TestWorkflow_Create_AgentHold_Rejected(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	seedActiveAgent(t, store, "agent-1")
	require.NoError(t, store.SetAgentHold(context.Background(), "agent-1", true, "chargeback dispute"))
	seedEntry(t, store, "agent-1", 50000, time.Now().UTC())

	_, err := workflow.Create(context.Background(), createInput("agent-1", 5000))

	var validationErr *payout.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, strings.Join(validationErr.Violations, "; "), "chargeback dispute")
}

func TestWorkflow_Create_ClosedWindow_Rejected(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	seedActiveAgent(t, store, "agent-1")
	seedEntry(t, store, "agent-1", 50000, time.Now().UTC())
	adjustSettings(t, store, func(s *policy.Settings) {
		s.Schedule.Enabled = true
		s.Schedule.DayOfWeek = time.Friday
	})

	// Pin the clock to a Wednesday.
	workflow.Now = func() time.Time {
		return time.Date(2025, time.June, 4, 12, 0, 0, 0, time.UTC)
	}

	_, err := workflow.Create(context.Background(), createInput("agent-1", 20000))

	var validationErr *payout.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, strings.Join(validationErr.Violations, "; "), "outside payout window")
}

func TestWorkflow_Create_NearFullBalance_Warns(t *testing.T) {
	// Requests over 90% of the pending balance succeed with a recorded
	// warning.

	workflow, store := newTestWorkflow(t)
	seedActiveAgent(t, store, "agent-1")
	seedEntry(t, store, "agent-1", 20000, time.Now().UTC())
	adjustSettings(t, store, func(s *policy.Settings) {
		s.RequireManagerApproval = true
	})

	req, err := workflow.Create(context.Background(), createInput("agent-1", 19000))
	require.NoError(t, err)

	require.Len(t, req.Metadata.ValidationWarnings, 1)
	assert.Contains(t, req.Metadata.ValidationWarnings[0], "90%")
}

// =============================================================================
// RATE LIMIT TESTS
// =============================================================================

func TestWorkflow_Create_DailyRequestLimit(t *testing.T) {
	// The default policy allows one request per day; rejected requests
	// still count, so a second attempt fails even after a rejection.

	workflow, store := newTestWorkflow(t)
	seedActiveAgent(t, store, "agent-1")
	seedEntry(t, store, "agent-1", 90000, time.Now().UTC())

	first, err := workflow.Create(context.Background(), createInput("agent-1", 20000))
	require.NoError(t, err)

	_, err = workflow.Reject(context.Background(), first.ID, "admin", "testing limits")
	require.NoError(t, err)

	_, err = workflow.Create(context.Background(), createInput("agent-1", 20000))

	var validationErr *payout.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, strings.Join(validationErr.Violations, "; "), "daily request limit")
}

func TestWorkflow_Create_DailyAmountLimit(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	seedActiveAgent(t, store, "agent-1")
	seedEntry(t, store, "agent-1", 400000, time.Now().UTC())

	_, err := workflow.Create(context.Background(), createInput("agent-1", 150000))

	var validationErr *payout.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, strings.Join(validationErr.Violations, "; "), "daily amount limit")
}

// =============================================================================
// OUTSTANDING REQUEST TESTS
// =============================================================================

func TestWorkflow_Create_OutstandingRequest_Rejected(t *testing.T) {
	// GIVEN: An agent with a pending request
	// WHEN: A second request is created before the first resolves
	// THEN: Validation reports the outstanding request

	workflow, store := newTestWorkflow(t)
	seedActiveAgent(t, store, "agent-1")
	seedEntry(t, store, "agent-1", 90000, time.Now().UTC())
	adjustSettings(t, store, func(s *policy.Settings) {
		s.DailyRequestLimit = 10 // keep rate limits out of the way
		s.WeeklyRequestLimit = 10
	})

	_, err := workflow.Create(context.Background(), createInput("agent-1", 20000))
	require.NoError(t, err)

	_, err = workflow.Create(context.Background(), createInput("agent-1", 15000))

	var validationErr *payout.ValidationError
	require.ErrorAs(t, err, &validationErr)
	assert.Contains(t, strings.Join(validationErr.Violations, "; "),
		"outstanding payout request already exists")
}

func TestWorkflow_Create_OutstandingRequest_ListedWithOtherViolations(t *testing.T) {
	// GIVEN: An agent with a pending request submitting a second one that
	//        is also below the minimum withdrawal
	// WHEN: Creation is attempted
	// THEN: The outstanding request and the amount problem are reported
	//       together, so fixing the amount does not reveal a second failure

	workflow, store := newTestWorkflow(t)
	seedActiveAgent(t, store, "agent-1")
	seedEntry(t, store, "agent-1", 90000, time.Now().UTC())
	adjustSettings(t, store, func(s *policy.Settings) {
		s.DailyRequestLimit = 10
		s.WeeklyRequestLimit = 10
	})

	_, err := workflow.Create(context.Background(), createInput("agent-1", 20000))
	require.NoError(t, err)

	_, err = workflow.Create(context.Background(), createInput("agent-1", 500))

	var validationErr *payout.ValidationError
	require.ErrorAs(t, err, &validationErr)
	joined := strings.Join(validationErr.Violations, "; ")
	assert.Contains(t, joined, "outstanding payout request already exists")
	assert.Contains(t, joined, "minimum withdrawal")
}

func TestWorkflow_Create_AfterRejection_Allowed(t *testing.T) {
	// A rejected request is no longer outstanding.

	workflow, store := newTestWorkflow(t)
	seedActiveAgent(t, store, "agent-1")
	seedEntry(t, store, "agent-1", 90000, time.Now().UTC())
	adjustSettings(t, store, func(s *policy.Settings) {
		s.DailyRequestLimit = 10
		s.WeeklyRequestLimit = 10
	})

	first, err := workflow.Create(context.Background(), createInput("agent-1", 20000))
	require.NoError(t, err)

	_, err = workflow.Reject(context.Background(), first.ID, "admin", "account verification failed")
	require.NoError(t, err)

	_, err = workflow.Create(context.Background(), createInput("agent-1", 15000))
	assert.NoError(t, err)
}

// =============================================================================
// AUTO-APPROVAL TESTS
// =============================================================================

func TestWorkflow_Create_AtThreshold_AutoApprovedAndPaid(t *testing.T) {
	// GIVEN: Auto-approval threshold of 10000, no manager approval required
	// WHEN: A request for exactly 10000 is created
	// THEN: It is approved by the system actor and immediately settled

	workflow, store := newTestWorkflow(t)
	seedActiveAgent(t, store, "agent-1")
	seedEntry(t, store, "agent-1", 50000, time.Now().UTC())

	req, err := workflow.Create(context.Background(), createInput("agent-1", 10000))
	require.NoError(t, err)

	assert.Equal(t, payout.StatusPaid, req.Status)
	assert.True(t, req.Metadata.AutoApproved)
	assert.True(t, req.Metadata.AutoPaid)
	assert.Equal(t, payout.SystemActor, req.ProcessedBy)
	assert.NotEmpty(t, req.CommissionIDs)

	pending, err := store.PendingBalance(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, pending.Equal(money.FromInt(40000)))
}

func TestWorkflow_Create_AboveThreshold_StaysPending(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	seedActiveAgent(t, store, "agent-1")
	seedEntry(t, store, "agent-1", 50000, time.Now().UTC())

	req, err := workflow.Create(context.Background(), createInput("agent-1", 10001))
	require.NoError(t, err)

	assert.Equal(t, payout.StatusPending, req.Status)
	assert.False(t, req.Metadata.AutoApproved)
	assert.Empty(t, req.ProcessedBy)
}

func TestWorkflow_Create_ManagerApprovalRequired_NeverAutoApproves(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	seedActiveAgent(t, store, "agent-1")
	seedEntry(t, store, "agent-1", 50000, time.Now().UTC())
	adjustSettings(t, store, func(s *policy.Settings) {
		s.RequireManagerApproval = true
	})

	req, err := workflow.Create(context.Background(), createInput("agent-1", 2000))
	require.NoError(t, err)

	assert.Equal(t, payout.StatusPending, req.Status)
	assert.False(t, req.Metadata.AutoApproved)
}

// =============================================================================
// ADMIN TRANSITION TESTS
// =============================================================================

func createPendingRequest(t *testing.T, workflow *payout.Workflow, store *sqlite.Store, agentID string) *payout.Request {
	t.Helper()
	seedActiveAgent(t, store, agentID)
	seedEntry(t, store, agentID, 90000, time.Now().UTC())

	req, err := workflow.Create(context.Background(), createInput(agentID, 20000))
	require.NoError(t, err)
	require.Equal(t, payout.StatusPending, req.Status)
	return req
}

func TestWorkflow_ApproveThenPay(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	req := createPendingRequest(t, workflow, store, "agent-1")
	ctx := context.Background()

	approved, err := workflow.Approve(ctx, req.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusApproved, approved.Status)
	assert.Equal(t, "manager-1", approved.ProcessedBy)

	paid, result, err := workflow.Pay(ctx, req.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusPaid, paid.Status)
	assert.True(t, result.TotalPaid.Equal(money.FromInt(20000)))
}

func TestWorkflow_PayDirectlyFromPending(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	req := createPendingRequest(t, workflow, store, "agent-1")

	paid, _, err := workflow.Pay(context.Background(), req.ID, "manager-1")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusPaid, paid.Status)
}

func TestWorkflow_Pay_BlockedByGlobalHold(t *testing.T) {
	// A hold imposed after approval still gates the disbursement.

	workflow, store := newTestWorkflow(t)
	req := createPendingRequest(t, workflow, store, "agent-1")
	ctx := context.Background()

	_, err := workflow.Approve(ctx, req.ID, "manager-1")
	require.NoError(t, err)

	adjustSettings(t, store, func(s *policy.Settings) {
		s.GlobalHold = true
		s.HoldReason = "fraud review"
	})

	_, _, err = workflow.Pay(ctx, req.ID, "manager-1")

	var gateErr *payout.PolicyGateError
	require.ErrorAs(t, err, &gateErr)
	assert.Contains(t, gateErr.Reason, "fraud review")

	pending, err := store.PendingBalance(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, pending.Equal(money.FromInt(90000)), "no entries consumed")
}

func TestWorkflow_Pay_BlockedByAgentHold(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	req := createPendingRequest(t, workflow, store, "agent-1")
	ctx := context.Background()

	require.NoError(t, store.SetAgentHold(ctx, "agent-1", true, "chargeback dispute"))

	_, _, err := workflow.Pay(ctx, req.ID, "manager-1")
	assert.ErrorIs(t, err, payout.ErrPolicyGate)
}

func TestWorkflow_Reject_RequiresReason(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	req := createPendingRequest(t, workflow, store, "agent-1")
	ctx := context.Background()

	_, err := workflow.Reject(ctx, req.ID, "admin", "no")
	var validationErr *payout.ValidationError
	require.ErrorAs(t, err, &validationErr)

	_, err = workflow.Reject(ctx, req.ID, "admin", strings.Repeat("x", 501))
	require.ErrorAs(t, err, &validationErr)

	rejected, err := workflow.Reject(ctx, req.ID, "admin", "account verification failed")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusRejected, rejected.Status)
	assert.Equal(t, "account verification failed", rejected.RejectionReason)
}

func TestWorkflow_Reject_LeavesLedgerUntouched(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	req := createPendingRequest(t, workflow, store, "agent-1")

	_, err := workflow.Reject(context.Background(), req.ID, "admin", "suspicious activity")
	require.NoError(t, err)

	pending, err := store.PendingBalance(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.True(t, pending.Equal(money.FromInt(90000)))
}

func TestWorkflow_Hold_FromApproved(t *testing.T) {
	// Approval does not stop an admin from pausing the request before it
	// is paid.

	workflow, store := newTestWorkflow(t)
	req := createPendingRequest(t, workflow, store, "agent-1")
	ctx := context.Background()

	_, err := workflow.Approve(ctx, req.ID, "manager-1")
	require.NoError(t, err)

	held, err := workflow.Hold(ctx, req.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusOnHold, held.Status)

	// An on-hold request cannot be paid or re-approved, only released.
	var conflictErr *payout.StateConflictError
	_, _, err = workflow.Pay(ctx, req.ID, "manager-1")
	require.ErrorAs(t, err, &conflictErr)
	_, err = workflow.Approve(ctx, req.ID, "manager-1")
	require.ErrorAs(t, err, &conflictErr)
}

func TestWorkflow_HoldAndRelease(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	req := createPendingRequest(t, workflow, store, "agent-1")
	ctx := context.Background()

	held, err := workflow.Hold(ctx, req.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusOnHold, held.Status)

	released, err := workflow.Release(ctx, req.ID, "admin")
	require.NoError(t, err)
	assert.Equal(t, payout.StatusPending, released.Status)
}

func TestWorkflow_TerminalStates_RejectAllTransitions(t *testing.T) {
	// GIVEN: A paid request and a rejected request
	// WHEN: Any further transition is attempted
	// THEN: Each fails with an explicit state conflict

	workflow, store := newTestWorkflow(t)
	req := createPendingRequest(t, workflow, store, "agent-1")
	ctx := context.Background()

	_, _, err := workflow.Pay(ctx, req.ID, "manager-1")
	require.NoError(t, err)

	var conflictErr *payout.StateConflictError

	_, err = workflow.Approve(ctx, req.ID, "manager-1")
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, payout.StatusPaid, conflictErr.Current)

	_, err = workflow.Reject(ctx, req.ID, "manager-1", "too late for this")
	require.ErrorAs(t, err, &conflictErr)

	_, err = workflow.Hold(ctx, req.ID, "manager-1")
	require.ErrorAs(t, err, &conflictErr)

	_, err = workflow.Release(ctx, req.ID, "manager-1")
	require.ErrorAs(t, err, &conflictErr)

	_, _, err = workflow.Pay(ctx, req.ID, "manager-1")
	require.ErrorAs(t, err, &conflictErr)
}

func TestWorkflow_Release_OnlyFromHold(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	req := createPendingRequest(t, workflow, store, "agent-1")

	var conflictErr *payout.StateConflictError
	_, err := workflow.Release(context.Background(), req.ID, "admin")
	require.ErrorAs(t, err, &conflictErr)
}

func TestWorkflow_UnknownRequest_NotFound(t *testing.T) {
	workflow, _ := newTestWorkflow(t)

	_, err := workflow.Approve(context.Background(), "ghost", "admin")
	assert.ErrorIs(t, err, payout.ErrRequestNotFound)
	assert.True(t, payout.IsNotFound(err))
}

// =============================================================================
// WINDOW STATUS TESTS
// =============================================================================

func TestWorkflow_Window_ReflectsPolicy(t *testing.T) {
	workflow, store := newTestWorkflow(t)
	ctx := context.Background()

	decision, err := workflow.Window(ctx)
	require.NoError(t, err)
	assert.True(t, decision.Allowed, "default schedule is disabled")

	adjustSettings(t, store, func(s *policy.Settings) {
		s.GlobalHold = true
		s.HoldReason = "maintenance"
	})

	decision, err = workflow.Window(ctx)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Contains(t, decision.Reason, "maintenance")
}
