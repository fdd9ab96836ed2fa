package money

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePositive(t *testing.T) {
	cases := []struct {
		name    string
		raw     string
		want    string
		wantErr error
	}{
		{name: "integer", raw: "100", want: "100"},
		{name: "four places", raw: "99.9999", want: "99.9999"},
		{name: "trailing zeros", raw: "100.000000", want: "100"},
		{name: "too precise", raw: "1.00001", wantErr: ErrTooPrecise},
		{name: "zero", raw: "0", wantErr: ErrNotPositive},
		{name: "negative", raw: "-5", wantErr: ErrNotPositive},
		{name: "garbage", raw: "ten", wantErr: ErrInvalidDecimal},
		{name: "exponent", raw: "1e3", wantErr: ErrInvalidDecimal},
		{name: "empty", raw: "  ", wantErr: ErrInvalidDecimal},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParsePositive(tc.raw, AmountScale)
			if tc.wantErr != nil {
				assert.ErrorIs(t, err, tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, got.Equal(decimal.RequireFromString(tc.want)), "got %s", got)
		})
	}
}

func TestConvertRoundsHalfUp(t *testing.T) {
	amount := decimal.RequireFromString("100.0000")
	rate := decimal.RequireFromString("1.1627")
	assert.Equal(t, "116.2700", Format(Convert(amount, rate, AmountScale), AmountScale))

	// 0.00005 rounds up
	assert.Equal(t, "0.0001", Format(RoundHalfUp(decimal.RequireFromString("0.00005"), 4), 4))
	assert.Equal(t, "0.0000", Format(RoundHalfUp(decimal.RequireFromString("0.000049"), 4), 4))
}

func TestCrossAndInverse(t *testing.T) {
	usdEUR := Inverse(decimal.RequireFromString("1.1627"))
	usdKES := RoundHalfUp(Cross(usdEUR, decimal.RequireFromString("150.3223")), RateScale)

	want := 150.3223 / 1.1627
	got, _ := usdKES.Float64()
	assert.InDelta(t, want, got, 1e-6)
}
