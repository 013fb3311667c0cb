/*
eligibility.go - Prorated advance eligibility

PURPOSE:
  Computes the maximum advanceable amount from a monthly salary and a
  reference date. Only days already worked count: the current day is never
  credited, except on the last day of the month when the full month is.

ALGORITHM:
  daysInMonth = days in the calendar month of ref
  daysWorked  = daysInMonth            if ref is the last day
              = ref.Day() - 1          otherwise (clamped at 0)
  available   = salary / daysInMonth * daysWorked, rounded to cents

EXAMPLES:
  salary 2000, 2026-06-15 -> 14 days * 2000/30 = 933.33
  salary 2000, 2026-06-30 -> 2000.00
  salary 2000, 2026-06-01 -> 0.00

PURITY:
  No clock access. The orchestrator passes the reference date from its
  injected Clock, so the same inputs always produce the same output.
*/
package advance

import (
	"time"

	"github.com/shopspring/decimal"
)

// Eligibility is the breakdown behind an available amount.
type Eligibility struct {
	ReferenceDate time.Time
	DaysInMonth   int
	DaysWorked    int
	DailyRate     decimal.Decimal // rounded to cents, informational only
	Available     decimal.Decimal
}

// CalculateAvailable returns the maximum advanceable amount for salary at ref.
func CalculateAvailable(monthlySalary decimal.Decimal, ref time.Time) (decimal.Decimal, error) {
	e, err := CalculateEligibility(monthlySalary, ref)
	if err != nil {
		return decimal.Zero, err
	}
	return e.Available, nil
}

// CalculateEligibility is CalculateAvailable with the intermediate figures.
func CalculateEligibility(monthlySalary decimal.Decimal, ref time.Time) (Eligibility, error) {
	if !monthlySalary.IsPositive() {
		return Eligibility{}, &InvalidInputError{Field: "monthly_salary", Reason: "must be a positive number"}
	}
	if ref.IsZero() {
		return Eligibility{}, &InvalidInputError{Field: "reference_date", Reason: "must be a valid date"}
	}

	daysInMonth := DaysInMonth(ref)
	daysWorked := ref.Day() - 1
	if ref.Day() == daysInMonth {
		daysWorked = daysInMonth
	}
	if daysWorked < 0 {
		daysWorked = 0
	}

	days := decimal.NewFromInt(int64(daysInMonth))
	dailyRate := monthlySalary.Div(days)

	// Multiply before dividing so a full month yields the salary exactly.
	available := monthlySalary.Mul(decimal.NewFromInt(int64(daysWorked))).Div(days)

	return Eligibility{
		ReferenceDate: ref,
		DaysInMonth:   daysInMonth,
		DaysWorked:    daysWorked,
		DailyRate:     RoundMoney(dailyRate),
		Available:     RoundMoney(available),
	}, nil
}
