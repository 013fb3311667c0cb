package advance

import "github.com/shopspring/decimal"

// =============================================================================
// FEE SCHEDULE - Commission and tax withholding on the commission
// =============================================================================

// FeeSchedule holds the rates applied to a requested amount.
// TaxRate applies to the commission, not to the principal.
type FeeSchedule struct {
	CommissionRate decimal.Decimal
	TaxRate        decimal.Decimal
}

// DefaultFeeSchedule is 5% commission with 18% tax withheld on it.
var DefaultFeeSchedule = FeeSchedule{
	CommissionRate: decimal.RequireFromString("0.05"),
	TaxRate:        decimal.RequireFromString("0.18"),
}

// Fees is the result of applying a schedule. All values are rounded to cents
// and NetAmountTransferred = RequestedAmount - Commission - Tax holds exactly.
type Fees struct {
	RequestedAmount      decimal.Decimal
	Commission           decimal.Decimal
	Tax                  decimal.Decimal
	NetAmountTransferred decimal.Decimal
}

// ComputeNet applies DefaultFeeSchedule.
func ComputeNet(requestedAmount decimal.Decimal) (Fees, error) {
	return DefaultFeeSchedule.Compute(requestedAmount)
}

// Compute applies the schedule to requestedAmount.
func (s FeeSchedule) Compute(requestedAmount decimal.Decimal) (Fees, error) {
	if !requestedAmount.IsPositive() {
		return Fees{}, &InvalidInputError{Field: "requested_amount", Reason: "must be a positive number"}
	}
	if err := s.Validate(); err != nil {
		return Fees{}, err
	}

	commission := requestedAmount.Mul(s.CommissionRate)
	tax := commission.Mul(s.TaxRate)

	roundedCommission := RoundMoney(commission)
	roundedTax := RoundMoney(tax)

	return Fees{
		RequestedAmount:      requestedAmount,
		Commission:           roundedCommission,
		Tax:                  roundedTax,
		NetAmountTransferred: RoundMoney(requestedAmount.Sub(roundedCommission).Sub(roundedTax)),
	}, nil
}

// Validate rejects rates outside [0, 1].
func (s FeeSchedule) Validate() error {
	one := decimal.NewFromInt(1)
	if s.CommissionRate.IsNegative() || s.CommissionRate.GreaterThan(one) {
		return &InvalidInputError{Field: "commission_rate", Reason: "must be between 0 and 1"}
	}
	if s.TaxRate.IsNegative() || s.TaxRate.GreaterThan(one) {
		return &InvalidInputError{Field: "tax_rate", Reason: "must be between 0 and 1"}
	}
	if s.CommissionRate.Mul(one.Add(s.TaxRate)).GreaterThan(one) {
		return &InvalidInputError{Field: "fee_schedule", Reason: "fees would exceed the requested amount"}
	}
	return nil
}
