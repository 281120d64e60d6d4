/*
Package policy defines the mutable settlement policy that governs commissions
and payouts.

PURPOSE:
  A single live Settings row controls withdrawal bounds, commission rates,
  the payout schedule window, global holds, processing fees, auto-approval,
  and rate limits. Admins mutate it in place; every mutation appends a
  field-level diff to an append-only modification history.

KEY CONCEPTS IN THIS FILE (settings.go):
  - Settings: The policy singleton, versioned by mutation count
  - Schedule: Optional weekly payout window (day-of-week + HH:MM range)
  - Defaults: Values used when the row is lazily created on first read
  - Validate: Collect-all validation (every violation, not just the first)

LIFECYCLE:
  Lazily created with defaults on first read. Exactly one live row exists:
  "current settings" is always the same row, and Version increments on each
  update. Commission entries stamp the Version they were computed against
  so amounts remain auditable after rate changes.

SEE ALSO:
  - store.go: Persistence interface and the modification history
  - commission/calculator.go: Consumes CommissionRates
  - payout/window.go: Consumes Schedule and GlobalHold
*/
package policy

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/settleware/commission-engine/money"
)

// =============================================================================
// SETTINGS - The policy singleton
// =============================================================================

// Settings is the current settlement policy. One live instance exists at a
// time; Version counts mutations since creation.
type Settings struct {
	MinWithdrawal money.Money
	MaxWithdrawal money.Money

	CommissionRates CommissionRates
	Schedule        Schedule

	GlobalHold bool
	HoldReason string

	ProcessingFee money.Money

	AutoApprovalThreshold   money.Money
	RequireManagerApproval  bool

	DailyRequestLimit  int
	DailyAmountLimit   money.Money
	WeeklyRequestLimit int
	WeeklyAmountLimit  money.Money

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CommissionRates holds the two commission formulas.
type CommissionRates struct {
	// DeliveryAmount is a fixed amount per delivered item.
	DeliveryAmount money.Money

	// AgentOrderRate is a fraction of the order total, in [0,1].
	AgentOrderRate decimal.Decimal
}

// Schedule restricts payout request creation to a weekly window.
// Times are "HH:MM" in the platform's local clock.
type Schedule struct {
	Enabled   bool
	DayOfWeek time.Weekday
	StartTime string
	EndTime   string
}

// Defaults returns the settings used when the singleton is lazily created.
func Defaults() Settings {
	return Settings{
		MinWithdrawal: money.FromInt(1000),
		MaxWithdrawal: money.FromInt(500000),
		CommissionRates: CommissionRates{
			DeliveryAmount: money.FromInt(500),
			AgentOrderRate: decimal.NewFromFloat(0.03),
		},
		Schedule: Schedule{
			Enabled:   false,
			DayOfWeek: time.Friday,
			StartTime: "07:00",
			EndTime:   "23:59",
		},
		ProcessingFee:         money.Zero(),
		AutoApprovalThreshold: money.FromInt(10000),
		DailyRequestLimit:     1,
		DailyAmountLimit:      money.FromInt(100000),
		WeeklyRequestLimit:    3,
		WeeklyAmountLimit:     money.FromInt(300000),
		Version:               1,
	}
}

// =============================================================================
// VALIDATION - Collect all violations, never fail-fast
// =============================================================================

// Validate returns every constraint the settings violate. An empty slice
// means the settings are acceptable.
func (s Settings) Validate() []string {
	var violations []string

	if !s.MinWithdrawal.IsPositive() {
		violations = append(violations, "minimum withdrawal must be positive")
	}
	if !s.MinWithdrawal.LessThan(s.MaxWithdrawal) {
		violations = append(violations, "minimum withdrawal must be less than maximum withdrawal")
	}
	if s.CommissionRates.DeliveryAmount.IsNegative() {
		violations = append(violations, "delivery commission amount cannot be negative")
	}
	if s.CommissionRates.AgentOrderRate.IsNegative() || s.CommissionRates.AgentOrderRate.GreaterThan(decimal.NewFromInt(1)) {
		violations = append(violations, "agent order commission rate must be between 0 and 1")
	}
	if s.ProcessingFee.IsNegative() {
		violations = append(violations, "processing fee cannot be negative")
	}
	if s.AutoApprovalThreshold.IsNegative() {
		violations = append(violations, "auto-approval threshold cannot be negative")
	}
	if s.DailyRequestLimit < 0 || s.WeeklyRequestLimit < 0 {
		violations = append(violations, "request limits cannot be negative")
	}
	if s.DailyAmountLimit.IsNegative() || s.WeeklyAmountLimit.IsNegative() {
		violations = append(violations, "amount limits cannot be negative")
	}
	violations = append(violations, s.Schedule.validate()...)

	return violations
}

func (sc Schedule) validate() []string {
	var violations []string

	if sc.DayOfWeek < time.Sunday || sc.DayOfWeek > time.Saturday {
		violations = append(violations, "schedule day of week must be 0-6")
	}
	start, errStart := ParseClock(sc.StartTime)
	end, errEnd := ParseClock(sc.EndTime)
	if errStart != nil {
		violations = append(violations, "schedule start time must be HH:MM")
	}
	if errEnd != nil {
		violations = append(violations, "schedule end time must be HH:MM")
	}
	if errStart == nil && errEnd == nil && !start.Before(end) {
		violations = append(violations, "schedule start time must be before end time")
	}
	return violations
}

// =============================================================================
// CLOCK TIME - "HH:MM" within a day
// =============================================================================

// Clock is a time of day with minute precision.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	var c Clock
	if _, err := fmt.Sscanf(s, "%02d:%02d", &c.Hour, &c.Minute); err != nil {
		return Clock{}, fmt.Errorf("invalid clock time %q: %w", s, err)
	}
	if c.Hour < 0 || c.Hour > 23 || c.Minute < 0 || c.Minute > 59 {
		return Clock{}, fmt.Errorf("invalid clock time %q: out of range", s)
	}
	return c, nil
}

func (c Clock) Minutes() int          { return c.Hour*60 + c.Minute }
func (c Clock) Before(o Clock) bool   { return c.Minutes() < o.Minutes() }
func (c Clock) AfterOrEqual(o Clock) bool { return c.Minutes() >= o.Minutes() }

// At anchors the clock time onto a calendar day.
func (c Clock) At(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, day.Location())
}

func (c Clock) String() string { return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute) }
