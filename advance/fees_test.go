package advance_test

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/advance-engine/advance"
)

func TestComputeNet_DefaultSchedule(t *testing.T) {
	tests := []struct {
		requested  string
		commission string
		tax        string
		net        string
	}{
		{"1000", "50.00", "9.00", "941.00"},
		{"800", "40.00", "7.20", "752.80"},
		{"933.33", "46.67", "8.40", "878.26"},
		{"0.01", "0.00", "0.00", "0.01"},
		{"123.45", "6.17", "1.11", "116.17"},
	}

	for _, tt := range tests {
		t.Run(tt.requested, func(t *testing.T) {
			fees, err := advance.ComputeNet(money(tt.requested))
			require.NoError(t, err)

			assert.Equal(t, tt.commission, fees.Commission.StringFixed(2))
			assert.Equal(t, tt.tax, fees.Tax.StringFixed(2))
			assert.Equal(t, tt.net, fees.NetAmountTransferred.StringFixed(2))

			// The persisted identity holds exactly.
			sum := fees.NetAmountTransferred.Add(fees.Commission).Add(fees.Tax)
			assert.True(t, sum.Equal(fees.RequestedAmount), "net+commission+tax = %s", sum)
		})
	}
}

func TestComputeNet_RejectsNonPositive(t *testing.T) {
	for _, amount := range []string{"0", "-1", "-800.00"} {
		_, err := advance.ComputeNet(money(amount))
		assert.ErrorIs(t, err, advance.ErrInvalidInput, amount)
	}
}

func TestFeeSchedule_Custom(t *testing.T) {
	schedule := advance.FeeSchedule{
		CommissionRate: money("0.10"),
		TaxRate:        decimal.Zero,
	}

	fees, err := schedule.Compute(money("500"))
	require.NoError(t, err)
	assert.Equal(t, "50.00", fees.Commission.StringFixed(2))
	assert.True(t, fees.Tax.IsZero())
	assert.Equal(t, "450.00", fees.NetAmountTransferred.StringFixed(2))
}

func TestFeeSchedule_Validate(t *testing.T) {
	tests := []struct {
		name       string
		commission string
		tax        string
		valid      bool
	}{
		{"default", "0.05", "0.18", true},
		{"no fees", "0", "0", true},
		{"negative commission", "-0.01", "0.18", false},
		{"commission above one", "1.5", "0", false},
		{"tax above one", "0.05", "1.01", false},
		{"fees exceed principal", "0.9", "0.5", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := advance.FeeSchedule{CommissionRate: money(tt.commission), TaxRate: money(tt.tax)}.Validate()
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, advance.ErrInvalidInput)
			}
		})
	}
}
