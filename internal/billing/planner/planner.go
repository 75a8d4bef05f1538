// Package planner decides which billing periods a contract owes at a given
// point in time. Retroactive back-fill and ordinary forward planning share
// one abstraction so materialization never needs to know how a period was
// planned.
package planner

import (
	"time"

	billingdomain "github.com/faturo/faturo/internal/billing/domain"
	contractdomain "github.com/faturo/faturo/internal/contract/domain"
)

// Period is one plannable billing window.
type Period struct {
	Start       time.Time
	End         time.Time
	BillDate    time.Time
	DueDate     time.Time
	Retroactive bool
}

// ReferencePeriod renders the YYYY-MM key used for billing idempotency.
func (p Period) ReferencePeriod() string {
	return p.Start.Format("2006-01")
}

// PlanForward enumerates future periods starting at the current cycle,
// stepping by the contract's cadence for horizonMonths iterations.
func PlanForward(c contractdomain.Contract, horizonMonths int, now time.Time) ([]Period, error) {
	step := c.BillingIntervalType.Months()
	if step <= 0 {
		return nil, billingdomain.ErrInvalidInterval
	}
	if c.BillingInterval > 1 {
		step *= c.BillingInterval
	}
	if horizonMonths <= 0 {
		horizonMonths = 1
	}

	first := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	billDate := dateWithClampedDay(now.Year(), now.Month(), c.BillingDay)
	// If the billing day already elapsed this month, the first period rolls
	// to the following month.
	if billDate.Before(truncateDay(now)) {
		first = first.AddDate(0, 1, 0)
	}

	periods := make([]Period, 0, horizonMonths)
	start := first
	for i := 0; i < horizonMonths; i++ {
		periods = append(periods, buildPeriod(c, start, step, false))
		start = start.AddDate(0, step, 0)
	}
	return periods, nil
}

// PlanRetroactive enumerates every elapsed cadence interval between the
// contract start date and now. A contract qualifies only when it is ACTIVE,
// started strictly before the current cycle, and has no billing yet for the
// skipped range; otherwise ErrNotRetroactive is returned and callers fall
// back to forward planning. An empty plan with a nil error means the
// contract is eligible but nothing is due yet, which is a different signal.
func PlanRetroactive(c contractdomain.Contract, now time.Time, hasPriorBillings bool) ([]Period, error) {
	if c.Status != contractdomain.ContractStatusActive {
		return nil, billingdomain.ErrNotRetroactive
	}
	currentCycle := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	start := time.Date(c.StartDate.Year(), c.StartDate.Month(), 1, 0, 0, 0, 0, time.UTC)
	if !start.Before(currentCycle) {
		return nil, billingdomain.ErrNotRetroactive
	}
	if hasPriorBillings {
		return nil, billingdomain.ErrNotRetroactive
	}

	step := c.BillingIntervalType.Months()
	if step <= 0 {
		return nil, billingdomain.ErrInvalidInterval
	}
	if c.BillingInterval > 1 {
		step *= c.BillingInterval
	}

	periods := make([]Period, 0, 4)
	for cursor := start; cursor.Before(currentCycle); cursor = cursor.AddDate(0, step, 0) {
		periods = append(periods, buildPeriod(c, cursor, step, true))
	}
	return periods, nil
}

// Plan returns the full sequence of periods owed: retroactive back-fill
// when the contract qualifies, then ordinary forward periods. Ineligible
// contracts silently degrade to forward-only planning.
func Plan(c contractdomain.Contract, horizonMonths int, now time.Time, hasPriorBillings bool) ([]Period, error) {
	retro, err := PlanRetroactive(c, now, hasPriorBillings)
	if err != nil {
		retro = nil
	}
	forward, err := PlanForward(c, horizonMonths, now)
	if err != nil {
		return nil, err
	}
	return append(retro, forward...), nil
}

func buildPeriod(c contractdomain.Contract, start time.Time, stepMonths int, retroactive bool) Period {
	end := start.AddDate(0, stepMonths, 0).AddDate(0, 0, -1)
	billDate := dateWithClampedDay(start.Year(), start.Month(), c.BillingDay)
	dueDate := dateWithClampedDay(billDate.Year(), billDate.Month(), c.DueDay)
	return Period{
		Start:       start,
		End:         end,
		BillDate:    billDate,
		DueDate:     dueDate,
		Retroactive: retroactive,
	}
}

// dateWithClampedDay clamps day to the month's length, so due_day 31 in
// February lands on the last day of February.
func dateWithClampedDay(year int, month time.Month, day int) time.Time {
	if day < 1 {
		day = 1
	}
	last := daysInMonth(year, month)
	if day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
}

func daysInMonth(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func truncateDay(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
