package sqlite_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/settleware/commission-engine/commission"
	"github.com/settleware/commission-engine/money"
	"github.com/settleware/commission-engine/payout"
	"github.com/settleware/commission-engine/policy"
	"github.com/settleware/commission-engine/store/sqlite"
)

func newStore(t *testing.T) *sqlite.Store {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func testEntry(agentID, orderID string, typ commission.Type, amount int64, createdAt time.Time) commission.Entry {
	return commission.Entry{
		ID:              uuid.NewString(),
		OrderID:         orderID,
		AgentID:         agentID,
		Type:            typ,
		Amount:          money.FromInt(amount),
		OrderTotal:      money.FromInt(amount * 10),
		Rate:            decimal.NewFromFloat(0.1),
		Status:          commission.StatusPending,
		SettingsVersion: 1,
		CreatedAt:       createdAt,
	}
}

func testRequest(agentID string, amount int64, status payout.Status, requestedAt time.Time) payout.Request {
	return payout.Request{
		ID:             uuid.NewString(),
		AgentID:        agentID,
		Amount:         money.FromInt(amount),
		Method:         payout.MethodBank,
		AccountDetails: "acct-001",
		Status:         status,
		RequestedAt:    requestedAt,
		UpdatedAt:      requestedAt,
	}
}

// =============================================================================
// SETTINGS SINGLETON TESTS
// =============================================================================

func TestSettings_LazilyCreatedWithDefaults(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	settings, err := store.Current(ctx)
	require.NoError(t, err)

	defaults := policy.Defaults()
	assert.True(t, settings.MinWithdrawal.Equal(defaults.MinWithdrawal))
	assert.True(t, settings.CommissionRates.DeliveryAmount.Equal(defaults.CommissionRates.DeliveryAmount))
	assert.Equal(t, 1, settings.Version)

	// Second read returns the same row, not a second creation.
	again, err := store.Current(ctx)
	require.NoError(t, err)
	assert.Equal(t, settings.CreatedAt, again.CreatedAt)
}

func TestSettings_UpdateBumpsVersionAndAppendsHistory(t *testing.T) {
	// GIVEN: The default settings
	// WHEN: The minimum withdrawal changes
	// THEN: Version increments and the history records the field diff

	store := newStore(t)
	ctx := context.Background()

	current, err := store.Current(ctx)
	require.NoError(t, err)

	next := *current
	next.MinWithdrawal = money.FromInt(2500)

	updated, err := store.Update(ctx, next, "admin-1", "raise minimum")
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	records, err := store.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 1)

	rec := records[0]
	assert.Equal(t, "admin-1", rec.Actor)
	assert.Equal(t, "raise minimum", rec.Reason)
	assert.Equal(t, 2, rec.Version)
	require.Len(t, rec.Changes, 1)
	assert.Equal(t, "minWithdrawal", rec.Changes[0].Field)
	assert.Equal(t, "1000", rec.Changes[0].From)
	assert.Equal(t, "2500", rec.Changes[0].To)
}

func TestSettings_HistoryNewestFirst(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	current, err := store.Current(ctx)
	require.NoError(t, err)

	next := *current
	next.MinWithdrawal = money.FromInt(2000)
	mid, err := store.Update(ctx, next, "admin-1", "first change")
	require.NoError(t, err)

	final := *mid
	final.MinWithdrawal = money.FromInt(3000)
	_, err = store.Update(ctx, final, "admin-2", "second change")
	require.NoError(t, err)

	records, err := store.History(ctx, 0)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 3, records[0].Version)
	assert.Equal(t, 2, records[1].Version)

	limited, err := store.History(ctx, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, 3, limited[0].Version)
}

func TestSettings_NoOpUpdate_NoHistoryRecord(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	current, err := store.Current(ctx)
	require.NoError(t, err)

	_, err = store.Update(ctx, *current, "admin-1", "nothing changed")
	require.NoError(t, err)

	records, err := store.History(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

// =============================================================================
// ACTIVE ENTRY UNIQUENESS TESTS
// =============================================================================

func TestEntries_DuplicateActiveTriple_Rejected(t *testing.T) {
	// The (order, agent, type) uniqueness is constraint-backed, so it
	// holds even for writers that race past the find-first check.

	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := testEntry("agent-1", "order-1", commission.TypeDelivery, 500, now)
	require.NoError(t, store.Insert(ctx, first))

	dup := testEntry("agent-1", "order-1", commission.TypeDelivery, 500, now)
	err := store.Insert(ctx, dup)
	assert.ErrorIs(t, err, commission.ErrDuplicateEntry)
}

func TestEntries_CancelledEntry_AllowsReinsert(t *testing.T) {
	// Only active (pending/paid) entries occupy the uniqueness slot.

	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	first := testEntry("agent-1", "order-1", commission.TypeDelivery, 500, now)
	require.NoError(t, store.Insert(ctx, first))

	_, err := store.CancelPendingForOrder(ctx, "order-1", now)
	require.NoError(t, err)

	second := testEntry("agent-1", "order-1", commission.TypeDelivery, 500, now)
	assert.NoError(t, store.Insert(ctx, second))
}

func TestEntries_SplitRemainder_ExemptFromUniqueness(t *testing.T) {
	// A split leaves two active entries for the same triple; the
	// remainder's back-reference exempts it.

	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	original := testEntry("agent-1", "order-1", commission.TypeAgentOrder, 300, now)
	require.NoError(t, store.Insert(ctx, original))

	remainder := testEntry("agent-1", "order-1", commission.TypeAgentOrder, 100, now)
	remainder.SplitFromID = original.ID
	assert.NoError(t, store.InsertRemainder(ctx, remainder))
}

func TestEntries_FifoOrdering_ByCreationTime(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)

	newest := testEntry("agent-1", "order-3", commission.TypeAgentOrder, 30, base.Add(2*time.Hour))
	oldest := testEntry("agent-1", "order-1", commission.TypeAgentOrder, 10, base)
	middle := testEntry("agent-1", "order-2", commission.TypeAgentOrder, 20, base.Add(time.Hour))

	// Insert out of order; reads must still come back oldest first.
	for _, e := range []commission.Entry{newest, oldest, middle} {
		require.NoError(t, store.Insert(ctx, e))
	}

	entries, err := store.PendingEntriesForAgent(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, oldest.ID, entries[0].ID)
	assert.Equal(t, middle.ID, entries[1].ID)
	assert.Equal(t, newest.ID, entries[2].ID)
}

// =============================================================================
// OUTSTANDING REQUEST INDEX TESTS
// =============================================================================

func TestRequests_SecondOutstanding_Rejected(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InsertRequest(ctx, testRequest("agent-1", 5000, payout.StatusPending, now)))

	err := store.InsertRequest(ctx, testRequest("agent-1", 3000, payout.StatusPending, now))
	assert.ErrorIs(t, err, payout.ErrOutstandingRequest)
}

func TestRequests_OnHoldStillOutstanding(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InsertRequest(ctx, testRequest("agent-1", 5000, payout.StatusOnHold, now)))

	err := store.InsertRequest(ctx, testRequest("agent-1", 3000, payout.StatusPending, now))
	assert.ErrorIs(t, err, payout.ErrOutstandingRequest)
}

func TestRequests_TerminalStatesFreeTheSlot(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	rejected := testRequest("agent-1", 5000, payout.StatusRejected, now)
	require.NoError(t, store.InsertRequest(ctx, rejected))

	assert.NoError(t, store.InsertRequest(ctx, testRequest("agent-1", 3000, payout.StatusPending, now)))
}

func TestRequests_DifferentAgents_Independent(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InsertRequest(ctx, testRequest("agent-1", 5000, payout.StatusPending, now)))
	assert.NoError(t, store.InsertRequest(ctx, testRequest("agent-2", 5000, payout.StatusPending, now)))
}

func TestRequests_HasOutstanding_TracksStatus(t *testing.T) {
	// The read-side check agrees with the index: pending, approved, and
	// on_hold block; terminal states free the agent.

	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	outstanding, err := store.HasOutstandingRequest(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, outstanding, "no requests yet")

	req := testRequest("agent-1", 5000, payout.StatusOnHold, now)
	require.NoError(t, store.InsertRequest(ctx, req))

	outstanding, err = store.HasOutstandingRequest(ctx, "agent-1")
	require.NoError(t, err)
	assert.True(t, outstanding)

	req.Status = payout.StatusRejected
	req.RejectionReason = "account closed"
	require.NoError(t, store.UpdateRequest(ctx, req))

	outstanding, err = store.HasOutstandingRequest(ctx, "agent-1")
	require.NoError(t, err)
	assert.False(t, outstanding, "rejected requests do not block")
}

func TestRequests_MarkPaidTwice_StateConflict(t *testing.T) {
	// GIVEN: A request already paid
	// WHEN: The paid transition runs again
	// THEN: The error is a state conflict carrying the current status, not
	//       a not-found

	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	req := testRequest("agent-1", 5000, payout.StatusApproved, now)
	require.NoError(t, store.InsertRequest(ctx, req))
	require.NoError(t, store.MarkRequestPaid(ctx, req.ID, []string{"entry-1"}, "admin", now, false))

	err := store.MarkRequestPaid(ctx, req.ID, []string{"entry-1"}, "admin", now, false)

	var conflictErr *payout.StateConflictError
	require.ErrorAs(t, err, &conflictErr)
	assert.Equal(t, payout.StatusPaid, conflictErr.Current)

	err = store.MarkRequestPaid(ctx, "ghost", nil, "admin", now, false)
	assert.ErrorIs(t, err, payout.ErrRequestNotFound)
}

// =============================================================================
// REQUEST ROUND-TRIP AND USAGE TESTS
// =============================================================================

func TestRequests_RoundTripPreservesMetadata(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	req := testRequest("agent-1", 5000, payout.StatusPending, now)
	req.Notes = "weekly withdrawal"
	req.Metadata = payout.Metadata{
		AutoApprovalThreshold: money.FromInt(10000),
		ValidationWarnings:    []string{"request consumes over 90% of pending balance"},
		SettingsVersion:       3,
		ProcessingFee:         money.FromInt(50),
	}
	require.NoError(t, store.InsertRequest(ctx, req))

	got, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)

	assert.Equal(t, req.Notes, got.Notes)
	assert.Equal(t, req.Metadata.ValidationWarnings, got.Metadata.ValidationWarnings)
	assert.Equal(t, 3, got.Metadata.SettingsVersion)
	assert.True(t, got.Metadata.ProcessingFee.Equal(money.FromInt(50)))
	assert.True(t, got.NetAmount().Equal(money.FromInt(4950)))
}

func TestRequests_UsageSince_CountsAllStatuses(t *testing.T) {
	// Rate limiting counts every created request; rejections do not give
	// the quota back.

	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InsertRequest(ctx, testRequest("agent-1", 5000, payout.StatusRejected, now.Add(-2*time.Hour))))
	require.NoError(t, store.InsertRequest(ctx, testRequest("agent-1", 3000, payout.StatusPaid, now.Add(-time.Hour))))
	require.NoError(t, store.InsertRequest(ctx, testRequest("agent-1", 2000, payout.StatusPending, now)))

	usage, err := store.UsageSince(ctx, "agent-1", now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 3, usage.Count)
	assert.True(t, usage.Total.Equal(money.FromInt(10000)))

	// The window boundary excludes older requests.
	usage, err = store.UsageSince(ctx, "agent-1", now.Add(-30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, usage.Count)
}

func TestRequests_ListWithFilters(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	base := time.Date(2025, time.June, 1, 10, 0, 0, 0, time.UTC)

	require.NoError(t, store.InsertRequest(ctx, testRequest("agent-1", 5000, payout.StatusPaid, base)))
	require.NoError(t, store.InsertRequest(ctx, testRequest("agent-2", 3000, payout.StatusPending, base.Add(time.Hour))))

	all, err := store.ListRequests(ctx, sqlite.RequestFilter{})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "agent-2", all[0].AgentID, "newest first")

	paid, err := store.ListRequests(ctx, sqlite.RequestFilter{Status: payout.StatusPaid})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.Equal(t, "agent-1", paid[0].AgentID)

	from := base.Add(30 * time.Minute)
	recent, err := store.ListRequests(ctx, sqlite.RequestFilter{From: &from})
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, "agent-2", recent[0].AgentID)
}

// =============================================================================
// STATS TESTS
// =============================================================================

func TestStats_Aggregates(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	require.NoError(t, store.InsertRequest(ctx, testRequest("agent-1", 5000, payout.StatusPaid, now)))
	require.NoError(t, store.InsertRequest(ctx, testRequest("agent-2", 3000, payout.StatusPaid, now)))
	require.NoError(t, store.InsertRequest(ctx, testRequest("agent-2", 2000, payout.StatusPending, now.Add(time.Second))))

	byStatus, err := store.RequestStatsByStatus(ctx)
	require.NoError(t, err)

	totals := map[string]int64{}
	for _, b := range byStatus {
		totals[b.Key] = int64(b.Total.Float64())
	}
	assert.EqualValues(t, 8000, totals["paid"])
	assert.EqualValues(t, 2000, totals["pending"])

	require.NoError(t, store.Insert(ctx, testEntry("agent-1", "order-1", commission.TypeDelivery, 500, now)))
	require.NoError(t, store.Insert(ctx, testEntry("agent-1", "order-2", commission.TypeAgentOrder, 300, now)))

	byType, err := store.CommissionStatsByType(ctx)
	require.NoError(t, err)
	require.Len(t, byType, 2)
}
