package pricing

import (
	sdkmath "cosmossdk.io/math"
	"github.com/shopspring/decimal"
)

// FormatUnits renders amount smallest units of an asset with the given
// decimals as a decimal string, e.g. 2500000 with 6 decimals is "2.5".
func FormatUnits(amount sdkmath.Int, decimals uint8) string {
	if amount.IsNil() {
		return "0"
	}
	return decimal.NewFromBigInt(amount.BigInt(), -int32(decimals)).String()
}

// FormatUSD renders a price in 10^-usdDecimals USD with exactly usdDecimals
// fraction digits.
func FormatUSD(price sdkmath.Int, usdDecimals uint8) string {
	if price.IsNil() {
		return decimal.Zero.StringFixed(int32(usdDecimals))
	}
	return decimal.NewFromBigInt(price.BigInt(), -int32(usdDecimals)).StringFixed(int32(usdDecimals))
}

// ParseUnits converts a decimal string such as "2500.12345678" into an
// integer number of 10^-decimals units, truncating extra precision.
func ParseUnits(s string, decimals uint8) (sdkmath.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return sdkmath.Int{}, err
	}
	return ScaleDecimal(d, decimals), nil
}

// ScaleDecimal returns d in 10^-decimals units, truncating extra precision.
func ScaleDecimal(d decimal.Decimal, decimals uint8) sdkmath.Int {
	return sdkmath.NewIntFromBigInt(d.Shift(int32(decimals)).Truncate(0).BigInt())
}
