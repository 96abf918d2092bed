// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package wadray implements the ray (1e27) and wad (1e18) fixed-point
// arithmetic used by lending pool contracts. Every operation rounds half up
// exactly as the on-chain WadRayMath library does, so balances derived here
// match contract state to the last unit.
package wadray

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

// ErrDivisionByZero is returned by the division helpers when the divisor is zero.
var ErrDivisionByZero = errors.New("wadray: division by zero")

var (
	// RAY is 1e27, the scale of interest indexes and rates.
	RAY = mustBigInt("1000000000000000000000000000")
	// WAD is 1e18, the scale of token amounts.
	WAD = mustBigInt("1000000000000000000")

	HalfRAY = new(big.Int).Rsh(RAY, 1)
	HalfWAD = new(big.Int).Rsh(WAD, 1)

	// WadRayRatio is the 1e9 gap between the two scales.
	WadRayRatio = big.NewInt(1_000_000_000)
	halfRatio   = new(big.Int).Rsh(WadRayRatio, 1)
)

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

func mul(a, b, scale, half *big.Int) *big.Int {
	product := new(big.Int).Mul(a, b)
	product.Add(product, half)
	return product.Quo(product, scale)
}

func div(a, b, scale *big.Int) (*big.Int, error) {
	if b.Sign() == 0 {
		return nil, ErrDivisionByZero
	}
	numerator := new(big.Int).Mul(a, scale)
	numerator.Add(numerator, new(big.Int).Rsh(b, 1))
	return numerator.Quo(numerator, b), nil
}

// RayMul returns (a*b + RAY/2) / RAY.
func RayMul(a, b *big.Int) *big.Int { return mul(a, b, RAY, HalfRAY) }

// WadMul returns (a*b + WAD/2) / WAD.
func WadMul(a, b *big.Int) *big.Int { return mul(a, b, WAD, HalfWAD) }

// RayDiv returns (a*RAY + b/2) / b.
func RayDiv(a, b *big.Int) (*big.Int, error) { return div(a, b, RAY) }

// WadDiv returns (a*WAD + b/2) / b.
func WadDiv(a, b *big.Int) (*big.Int, error) { return div(a, b, WAD) }

// RayToWad narrows a ray value to wad precision, rounding half up.
func RayToWad(r *big.Int) *big.Int {
	out := new(big.Int).Add(r, halfRatio)
	return out.Quo(out, WadRayRatio)
}

// WadToRay widens a wad value to ray precision.
func WadToRay(w *big.Int) *big.Int {
	return new(big.Int).Mul(w, WadRayRatio)
}

// Ray returns v expressed in ray units, e.g. Ray(1) == RAY.
func Ray(v int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(v), RAY)
}

// ToDecimal renders a raw integer amount with the given number of decimals.
func ToDecimal(amount *big.Int, decimals int32) decimal.Decimal {
	if amount == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(amount, -decimals)
}

// UtilizationRate is debt / liquidity rounded to 18 places, or zero when
// liquidity is not positive.
func UtilizationRate(debt, liquidity *big.Int) decimal.Decimal {
	if liquidity == nil || liquidity.Sign() <= 0 || debt == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(debt, 0).DivRound(decimal.NewFromBigInt(liquidity, 0), 18)
}

// AvailableLiquidity is liquidity - debt, clamped at zero.
func AvailableLiquidity(liquidity, debt *big.Int) *big.Int {
	out := new(big.Int).Sub(liquidity, debt)
	if out.Sign() < 0 {
		return out.SetInt64(0)
	}
	return out
}
