/*
Package money provides the Money value type used across the settlement engine.

PURPOSE:
  Every commission amount, payout amount, and policy bound in this system is
  a Money. Using a single decimal-backed type avoids floating-point drift:
  a 3% commission on 10000 is exactly 300, never 299.999...

KEY CONCEPTS IN THIS FILE:
  - Money: A currency amount backed by decimal.Decimal
  - RoundToUnit: Commission amounts are whole currency units (no subunits)

DESIGN PRINCIPLES:
  1. Precision: decimal.Decimal, never float64, for stored amounts
  2. Value semantics: Money is copied, never mutated in place
  3. Whole units: the platform's currency has no fractional subunits, so
     derived amounts always pass through RoundToUnit before persistence

USAGE:
  total := money.FromInt(10000)
  fee := total.Mul(decimal.NewFromFloat(0.03)).RoundToUnit() // exactly 300

SEE ALSO:
  - commission/calculator.go: The main producer of rounded amounts
  - payout/settlement.go: Allocation arithmetic over Money
*/
package money

import (
	"github.com/shopspring/decimal"
)

// Money is a currency amount. The zero value is zero money.
type Money struct {
	Value decimal.Decimal
}

// Constructors

func FromInt(v int64) Money       { return Money{Value: decimal.NewFromInt(v)} }
func FromFloat(v float64) Money   { return Money{Value: decimal.NewFromFloat(v)} }
func FromDecimal(d decimal.Decimal) Money { return Money{Value: d} }

// FromString parses a decimal string. Invalid input yields zero money.
// Used when scanning amounts persisted as TEXT.
func FromString(s string) Money {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}
	}
	return Money{Value: d}
}

func Zero() Money { return Money{} }

// Arithmetic

func (m Money) Add(o Money) Money             { return Money{Value: m.Value.Add(o.Value)} }
func (m Money) Sub(o Money) Money             { return Money{Value: m.Value.Sub(o.Value)} }
func (m Money) Mul(s decimal.Decimal) Money   { return Money{Value: m.Value.Mul(s)} }
func (m Money) MulInt(n int64) Money          { return Money{Value: m.Value.Mul(decimal.NewFromInt(n))} }
func (m Money) Neg() Money                    { return Money{Value: m.Value.Neg()} }

// RoundToUnit rounds to the nearest whole currency unit, half away from zero.
func (m Money) RoundToUnit() Money { return Money{Value: m.Value.Round(0)} }

// Comparison

func (m Money) IsZero() bool              { return m.Value.IsZero() }
func (m Money) IsNegative() bool          { return m.Value.IsNegative() }
func (m Money) IsPositive() bool          { return m.Value.IsPositive() }
func (m Money) Equal(o Money) bool        { return m.Value.Equal(o.Value) }
func (m Money) GreaterThan(o Money) bool  { return m.Value.GreaterThan(o.Value) }
func (m Money) LessThan(o Money) bool     { return m.Value.LessThan(o.Value) }
func (m Money) GreaterThanOrEqual(o Money) bool { return m.Value.GreaterThanOrEqual(o.Value) }
func (m Money) LessThanOrEqual(o Money) bool    { return m.Value.LessThanOrEqual(o.Value) }

func (m Money) String() string { return m.Value.String() }

// Float64 returns a float approximation for JSON display. Stored values
// always round-trip through String/FromString, never through this.
func (m Money) Float64() float64 {
	f, _ := m.Value.Float64()
	return f
}
