// Package finance holds the pure monetary calculations used by billing
// materialization and overdue accrual. All arithmetic is fixed-point
// decimal; values are rounded to 2 places only when persisted.
package finance

import (
	"time"

	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Line is one billed item before calculation.
type Line struct {
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
	DiscountPct decimal.Decimal
	TaxPct      decimal.Decimal
}

// LineAmounts is the computed breakdown for a single line.
type LineAmounts struct {
	Gross    decimal.Decimal
	Discount decimal.Decimal
	Net      decimal.Decimal
	Tax      decimal.Decimal
}

// Totals aggregates a billing's amounts. Net = Gross - Discount + Tax.
type Totals struct {
	Gross    decimal.Decimal
	Discount decimal.Decimal
	Tax      decimal.Decimal
	Net      decimal.Decimal
}

// CalculateLine computes gross, discount, net and tax for one line.
// Tax applies to the discounted amount.
func CalculateLine(line Line) LineAmounts {
	gross := line.Quantity.Mul(line.UnitPrice)
	discount := gross.Mul(line.DiscountPct).Div(hundred)
	net := gross.Sub(discount)
	tax := net.Mul(line.TaxPct).Div(hundred)
	return LineAmounts{Gross: gross, Discount: discount, Net: net, Tax: tax}
}

// CalculateBilling aggregates all lines and applies the contract-level
// discount on top of the per-line discounts.
func CalculateBilling(lines []Line, contractDiscountPct decimal.Decimal) Totals {
	totals := Totals{
		Gross:    decimal.Zero,
		Discount: decimal.Zero,
		Tax:      decimal.Zero,
	}
	for _, line := range lines {
		amounts := CalculateLine(line)
		totals.Gross = totals.Gross.Add(amounts.Gross)
		totals.Discount = totals.Discount.Add(amounts.Discount)
		totals.Tax = totals.Tax.Add(amounts.Tax)
	}
	if contractDiscountPct.IsPositive() {
		totals.Discount = totals.Discount.Add(totals.Gross.Mul(contractDiscountPct).Div(hundred))
	}
	totals.Net = totals.Gross.Sub(totals.Discount).Add(totals.Tax)
	return totals
}

// Accrual is the overdue surcharge for a billing.
type Accrual struct {
	Interest decimal.Decimal
	Fine     decimal.Decimal
}

// DaysOverdue returns whole days elapsed since dueDate, never negative.
func DaysOverdue(dueDate, today time.Time) int {
	due := time.Date(dueDate.Year(), dueDate.Month(), dueDate.Day(), 0, 0, 0, 0, time.UTC)
	now := time.Date(today.Year(), today.Month(), today.Day(), 0, 0, 0, 0, time.UTC)
	days := int(now.Sub(due).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// ApplyInterestAndFine computes the overdue surcharge. The fine is a flat
// one-time percentage of the net amount; callers guard its application with
// the billing's fine_applied_at timestamp. Interest is pro-rated daily from
// the monthly rate and accrues monotonically with days overdue. Both are
// zero until daysOverdue exceeds graceDays.
func ApplyInterestAndFine(net decimal.Decimal, dueDate, today time.Time, monthlyInterestPct, finePct decimal.Decimal, graceDays int) Accrual {
	days := DaysOverdue(dueDate, today)
	if days <= graceDays {
		return Accrual{Interest: decimal.Zero, Fine: decimal.Zero}
	}

	fine := net.Mul(finePct).Div(hundred)
	dailyRate := monthlyInterestPct.Div(decimal.NewFromInt(30))
	interest := net.Mul(dailyRate).Mul(decimal.NewFromInt(int64(days))).Div(hundred)
	return Accrual{Interest: interest, Fine: fine}
}

// Round2 rounds to 2 decimal places for persistence and display.
func Round2(value decimal.Decimal) decimal.Decimal {
	return value.Round(2)
}
