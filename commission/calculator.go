/*
calculator.go - Pure commission amount computation

PURPOSE:
  Maps (order total, commission type, item count, current policy) to a
  commission amount. This is a pure function: no persistence, no clock,
  no side effects. The ledger calls it when recording new entries.

ROUNDING:
  Commission amounts are whole currency units. agent_order amounts round
  half away from zero, so 10000 * 0.03 is exactly 300 on every call.

NO FALLBACK RATES:
  If policy settings are unavailable the caller must fail the recording
  operation. Silently substituting a default rate would persist amounts
  with no audit trail distinguishing real from guessed values.

SEE ALSO:
  - ledger.go: The only caller in the write path
  - policy/settings.go: CommissionRates definition
*/
package commission

import (
	"github.com/shopspring/decimal"

	"github.com/settleware/commission-engine/money"
	"github.com/settleware/commission-engine/policy"
)

// Calculation is the result of a commission computation.
type Calculation struct {
	Amount money.Money

	// Rate is the per-item amount or the fraction used, matching
	// IsFixedAmount.
	Rate          decimal.Decimal
	IsFixedAmount bool
}

// Calculate computes a commission amount from the current policy.
//
// TypeDelivery:   deliveryAmount * deliveryCount (fixed per item).
// TypeAgentOrder: round(orderTotal * agentOrderRate) to the whole unit.
func Calculate(orderTotal money.Money, typ Type, deliveryCount int, settings policy.Settings) (Calculation, error) {
	if !typ.Valid() {
		return Calculation{}, &CalculationError{Type: typ, Detail: "unknown commission type"}
	}
	if orderTotal.IsNegative() {
		return Calculation{}, &CalculationError{Type: typ, Detail: "order total cannot be negative"}
	}

	switch typ {
	case TypeDelivery:
		if deliveryCount < 1 {
			return Calculation{}, &CalculationError{Type: typ, Detail: "delivery count must be at least 1"}
		}
		amount := settings.CommissionRates.DeliveryAmount.MulInt(int64(deliveryCount)).RoundToUnit()
		return Calculation{
			Amount:        amount,
			Rate:          settings.CommissionRates.DeliveryAmount.Value,
			IsFixedAmount: true,
		}, nil

	default: // TypeAgentOrder
		amount := orderTotal.Mul(settings.CommissionRates.AgentOrderRate).RoundToUnit()
		return Calculation{
			Amount:        amount,
			Rate:          settings.CommissionRates.AgentOrderRate,
			IsFixedAmount: false,
		}, nil
	}
}
