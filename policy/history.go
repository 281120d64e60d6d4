/*
history.go - Append-only modification history for policy settings

PURPOSE:
  Every settings mutation records who changed what, when, and why, as an
  explicit field-level diff. The history is append-only: records are never
  edited or deleted, so rate changes stay auditable against the commission
  entries they produced.

SEE ALSO:
  - settings.go: The Settings struct being diffed
  - store.go: Persistence of ChangeRecord
*/
package policy

import (
	"fmt"
	"time"
)

// =============================================================================
// CHANGE RECORD - One entry in the modification history
// =============================================================================

// FieldChange is a single field transition inside a settings update.
type FieldChange struct {
	Field string
	From  string
	To    string
}

// ChangeRecord is one append-only history entry.
type ChangeRecord struct {
	ID        string
	Actor     string
	Reason    string
	Changes   []FieldChange
	Version   int // settings version AFTER this change
	Timestamp time.Time
}

// =============================================================================
// DIFF - Field-level comparison of two settings snapshots
// =============================================================================

// Diff returns the field-level changes from old to new. Unchanged fields are
// omitted. The comparison is explicit per field so the history reads like a
// human changelog, not a struct dump.
func Diff(old, new Settings) []FieldChange {
	var changes []FieldChange

	add := func(field, from, to string) {
		if from != to {
			changes = append(changes, FieldChange{Field: field, From: from, To: to})
		}
	}

	add("minWithdrawal", old.MinWithdrawal.String(), new.MinWithdrawal.String())
	add("maxWithdrawal", old.MaxWithdrawal.String(), new.MaxWithdrawal.String())
	add("commissionRates.deliveryAmount",
		old.CommissionRates.DeliveryAmount.String(), new.CommissionRates.DeliveryAmount.String())
	add("commissionRates.agentOrderRate",
		old.CommissionRates.AgentOrderRate.String(), new.CommissionRates.AgentOrderRate.String())
	add("schedule.enabled", fmt.Sprintf("%t", old.Schedule.Enabled), fmt.Sprintf("%t", new.Schedule.Enabled))
	add("schedule.dayOfWeek", old.Schedule.DayOfWeek.String(), new.Schedule.DayOfWeek.String())
	add("schedule.startTime", old.Schedule.StartTime, new.Schedule.StartTime)
	add("schedule.endTime", old.Schedule.EndTime, new.Schedule.EndTime)
	add("globalHold", fmt.Sprintf("%t", old.GlobalHold), fmt.Sprintf("%t", new.GlobalHold))
	add("holdReason", old.HoldReason, new.HoldReason)
	add("processingFee", old.ProcessingFee.String(), new.ProcessingFee.String())
	add("autoApprovalThreshold", old.AutoApprovalThreshold.String(), new.AutoApprovalThreshold.String())
	add("requireManagerApproval",
		fmt.Sprintf("%t", old.RequireManagerApproval), fmt.Sprintf("%t", new.RequireManagerApproval))
	add("dailyRequestLimit", fmt.Sprintf("%d", old.DailyRequestLimit), fmt.Sprintf("%d", new.DailyRequestLimit))
	add("dailyAmountLimit", old.DailyAmountLimit.String(), new.DailyAmountLimit.String())
	add("weeklyRequestLimit", fmt.Sprintf("%d", old.WeeklyRequestLimit), fmt.Sprintf("%d", new.WeeklyRequestLimit))
	add("weeklyAmountLimit", old.WeeklyAmountLimit.String(), new.WeeklyAmountLimit.String())

	return changes
}
