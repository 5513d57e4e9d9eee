// Package pricing converts USD-denominated prices into amounts of a payment
// asset and splits payments into fee and net legs.
package pricing

import (
	"errors"
	"fmt"
	"math/big"

	sdkmath "cosmossdk.io/math"
)

// MaxFeeBps is the largest fee rate, 100%.
const MaxFeeBps = 10_000

// maxDecimals bounds exponents so 10^n stays well inside 256 bits.
const maxDecimals = 36

var (
	ErrInvalidRate  = errors.New("pricing: oracle rate must be positive")
	ErrInvalidPrice = errors.New("pricing: price must be positive")
	ErrOverflow     = errors.New("pricing: arithmetic overflow")
	ErrDecimals     = errors.New("pricing: decimals out of range")
)

func pow10(n uint8) (sdkmath.Int, error) {
	if n > maxDecimals {
		return sdkmath.Int{}, fmt.Errorf("%w: %d", ErrDecimals, n)
	}
	return sdkmath.NewIntFromBigInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)), nil
}

// Normalize converts priceUSD, expressed in units of 10^-usdDecimals USD, into
// the smallest unit of an asset with assetDecimals, given an oracle rate of
// rate·10^-rateDecimals USD per whole asset unit.
//
// The result is ceil(priceUSD·10^(assetDecimals+rateDecimals) / (rate·10^usdDecimals)).
// Multiplication happens before the single division and the result is rounded
// up, so the payment never falls short of the quoted price by more than zero
// and never exceeds it by a full smallest unit.
func Normalize(priceUSD sdkmath.Int, usdDecimals uint8, rate sdkmath.Int, rateDecimals, assetDecimals uint8) (sdkmath.Int, error) {
	if rate.IsNil() || !rate.IsPositive() {
		return sdkmath.Int{}, ErrInvalidRate
	}
	if priceUSD.IsNil() || priceUSD.IsNegative() {
		return sdkmath.Int{}, ErrInvalidPrice
	}
	if uint16(assetDecimals)+uint16(rateDecimals) > maxDecimals {
		return sdkmath.Int{}, fmt.Errorf("%w: %d+%d", ErrDecimals, assetDecimals, rateDecimals)
	}
	scale, err := pow10(assetDecimals + rateDecimals)
	if err != nil {
		return sdkmath.Int{}, err
	}
	usdScale, err := pow10(usdDecimals)
	if err != nil {
		return sdkmath.Int{}, err
	}

	num, err := priceUSD.SafeMul(scale)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	den, err := rate.SafeMul(usdScale)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %v", ErrOverflow, err)
	}

	quo, err := num.SafeQuo(den)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	rem, err := num.SafeMod(den)
	if err != nil {
		return sdkmath.Int{}, fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	if !rem.IsZero() {
		quo, err = quo.SafeAdd(sdkmath.OneInt())
		if err != nil {
			return sdkmath.Int{}, fmt.Errorf("%w: %v", ErrOverflow, err)
		}
	}
	return quo, nil
}

// SplitFee divides gross into the fee recipient's share, floor(gross·feeBps/10000),
// and the remainder for the seller.
func SplitFee(gross sdkmath.Int, feeBps uint32) (fee, net sdkmath.Int, err error) {
	if feeBps > MaxFeeBps {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("pricing: fee %d bps exceeds %d", feeBps, MaxFeeBps)
	}
	if gross.IsNil() || gross.IsNegative() {
		return sdkmath.Int{}, sdkmath.Int{}, ErrInvalidPrice
	}
	scaled, err := gross.SafeMul(sdkmath.NewIntFromUint64(uint64(feeBps)))
	if err != nil {
		return sdkmath.Int{}, sdkmath.Int{}, fmt.Errorf("%w: %v", ErrOverflow, err)
	}
	fee = scaled.QuoRaw(MaxFeeBps)
	return fee, gross.Sub(fee), nil
}
