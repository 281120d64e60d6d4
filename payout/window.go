/*
window.go - Payout window and hold evaluation

PURPOSE:
  The pure predicate deciding whether payout requests are currently
  accepted. Consumed by the workflow's create guard and exposed standalone
  so agents can check before typing an amount.

EVALUATION ORDER:
  1. Global hold wins over everything (reason included).
  2. Schedule disabled means always allowed.
  3. Otherwise the current day-of-week and HH:MM must fall inside the
     configured window, bounds inclusive.

NEXT WINDOW:
  When closed by schedule, NextWindowStart is the next occurrence of the
  configured day at the start time strictly after now - rolling forward a
  full week if today's window has already closed.

SEE ALSO:
  - policy/settings.go: Schedule and GlobalHold fields
  - workflow.go: The create guard consuming Decision
*/
package payout

import (
	"time"

	"github.com/settleware/commission-engine/policy"
)

// Decision is the outcome of a window evaluation.
type Decision struct {
	Allowed bool
	Reason  string

	// NextWindowStart is set when the schedule (not a hold) closed the
	// window.
	NextWindowStart *time.Time
}

// EvaluateWindow decides whether payout requests are accepted at now.
// Pure: no clock, no persistence.
func EvaluateWindow(settings policy.Settings, now time.Time) Decision {
	if settings.GlobalHold {
		reason := "global hold"
		if settings.HoldReason != "" {
			reason = "global hold: " + settings.HoldReason
		}
		return Decision{Allowed: false, Reason: reason}
	}

	if !settings.Schedule.Enabled {
		return Decision{Allowed: true}
	}

	start, errStart := policy.ParseClock(settings.Schedule.StartTime)
	end, errEnd := policy.ParseClock(settings.Schedule.EndTime)
	if errStart != nil || errEnd != nil {
		// Malformed schedule never silently opens the window.
		return Decision{Allowed: false, Reason: "payout schedule misconfigured"}
	}

	nowClock := policy.Clock{Hour: now.Hour(), Minute: now.Minute()}
	if now.Weekday() == settings.Schedule.DayOfWeek &&
		nowClock.AfterOrEqual(start) && !end.Before(nowClock) {
		return Decision{Allowed: true}
	}

	next := nextWindowStart(settings.Schedule.DayOfWeek, start, now)
	return Decision{
		Allowed:         false,
		Reason:          "outside payout window",
		NextWindowStart: &next,
	}
}

// nextWindowStart finds the next occurrence of day at start strictly after now.
func nextWindowStart(day time.Weekday, start policy.Clock, now time.Time) time.Time {
	daysAhead := (int(day) - int(now.Weekday()) + 7) % 7
	candidate := start.At(now.AddDate(0, 0, daysAhead))
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}
