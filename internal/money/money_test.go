package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentpay/agentpay/internal/errs"
)

func TestSplitFee_TenPercentOfFortyFive(t *testing.T) {
	split, err := SplitFee(decimal.RequireFromString("45.00"), 1000, "USD")
	require.NoError(t, err)

	assert.True(t, split.Payout.Equal(decimal.RequireFromString("40.50")), "payout %s", split.Payout)
	assert.True(t, split.Fee.Equal(decimal.RequireFromString("4.50")), "fee %s", split.Fee)
}

func TestSplitFee_RemainderGoesToFee(t *testing.T) {
	// 0.07 at 15%: fee floor(0.0105)=0.01, payout floor(0.0595)=0.05, remainder 0.01.
	split, err := SplitFee(decimal.RequireFromString("0.07"), 1500, "USD")
	require.NoError(t, err)

	assert.True(t, split.Payout.Equal(decimal.RequireFromString("0.05")), "payout %s", split.Payout)
	assert.True(t, split.Fee.Equal(decimal.RequireFromString("0.02")), "fee %s", split.Fee)
}

func TestSplitFee_Conserves(t *testing.T) {
	amounts := []string{"0.01", "0.99", "1.00", "33.33", "45.00", "1234.57", "99999.99"}
	for _, raw := range amounts {
		amount := decimal.RequireFromString(raw)
		for _, bps := range []int{0, 1, 250, 999, 1500, 3333, 10000} {
			split, err := SplitFee(amount, bps, "USD")
			require.NoError(t, err)
			assert.True(t, split.Payout.Add(split.Fee).Equal(amount), "%s at %d bps", raw, bps)
			assert.False(t, split.Payout.IsNegative())
			assert.False(t, split.Fee.IsNegative())
		}
	}
}

func TestSplitFee_ZeroDecimalCurrency(t *testing.T) {
	split, err := SplitFee(decimal.NewFromInt(1001), 1500, "XAF")
	require.NoError(t, err)

	assert.True(t, split.Payout.Equal(decimal.NewFromInt(850)), "payout %s", split.Payout)
	assert.True(t, split.Fee.Equal(decimal.NewFromInt(151)), "fee %s", split.Fee)
}

func TestSplitFee_RejectsOutOfRange(t *testing.T) {
	_, err := SplitFee(decimal.NewFromInt(10), 10001, "USD")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestParse(t *testing.T) {
	amount, err := Parse(" 12.50 ", "USD")
	require.NoError(t, err)
	assert.Equal(t, "12.5", amount.String())

	_, err = Parse("12.505", "USD")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = Parse("0", "USD")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = Parse("1.5", "JPY")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)

	_, err = Parse("abc", "USD")
	assert.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestMinorUnits(t *testing.T) {
	assert.EqualValues(t, 2, MinorUnits("usd"))
	assert.EqualValues(t, 0, MinorUnits("XAF"))
	assert.EqualValues(t, 2, MinorUnits("ZZZ"))
}
