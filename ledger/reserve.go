// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/luxfi/lending-indexer/wadray"
)

// Reserves is the per-asset aggregate ledger.
type Reserves struct {
	store  Store
	prices PriceReader
	log    *zap.Logger
}

func NewReserves(store Store, prices PriceReader, log *zap.Logger) *Reserves {
	return &Reserves{store: store, prices: prices, log: log}
}

// GetOrCreate returns the reserve for asset in poolID, or a new zero-valued
// inactive one. New reserves are not saved until the caller saves them.
func (l *Reserves) GetOrCreate(ctx context.Context, asset common.Address, poolID string) (*Reserve, error) {
	id := ReserveID(asset, poolID)
	r, err := load[Reserve](ctx, l.store, KindReserve, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		r = &Reserve{
			ID:              id,
			UnderlyingAsset: asset,
			Pool:            poolID,
			Price:           AddressID(asset),
		}
	}
	fillZero(r.fields())
	return r, nil
}

func (l *Reserves) Save(ctx context.Context, r *Reserve) error {
	return save(ctx, l.store, KindReserve, r.ID, r)
}

// Activate fills in the reserve identity and marks it active and unfrozen.
// sToken may be empty when the reserve has no stable debt token.
func (l *Reserves) Activate(r *Reserve, symbol, name string, decimals uint8, aToken, vToken, sToken string) {
	r.Symbol = symbol
	r.Name = name
	r.Decimals = decimals
	r.AToken = aToken
	r.VToken = vToken
	if sToken != "" {
		r.SToken = sToken
	}
	r.IsActive = true
	r.IsFrozen = false
}

// Price returns the oracle price of the reserve asset. When the oracle read
// fails the last cached price is used, then zero.
func (l *Reserves) Price(ctx context.Context, r *Reserve, block uint64, ts uint64) (*big.Int, error) {
	asset, err := load[PriceOracleAsset](ctx, l.store, KindPriceOracleAsset, r.Price)
	if err != nil {
		return nil, err
	}
	if l.prices != nil {
		price, err := l.prices.AssetPrice(ctx, r.UnderlyingAsset, block)
		if err == nil {
			if asset == nil {
				asset = &PriceOracleAsset{ID: r.Price, Oracle: PriceOracleID}
			}
			asset.PriceInBase = price
			asset.LastUpdateTimestamp = ts
			if err := save(ctx, l.store, KindPriceOracleAsset, asset.ID, asset); err != nil {
				return nil, err
			}
			return new(big.Int).Set(price), nil
		}
		l.log.Warn("asset price unavailable, using cached price",
			zap.String("reserve", r.ID),
			zap.Uint64("block", block),
			zap.Error(err),
		)
	}
	if asset != nil && asset.PriceInBase != nil {
		return new(big.Int).Set(asset.PriceInBase), nil
	}
	return new(big.Int), nil
}

func add(a, b *big.Int) *big.Int { return new(big.Int).Add(orZero(a), orZero(b)) }
func sub(a, b *big.Int) *big.Int { return new(big.Int).Sub(orZero(a), orZero(b)) }

// Recompute derives total debt, available liquidity and utilization from the
// stored totals.
func (r *Reserve) Recompute() {
	r.TotalDebt = add(r.TotalCurrentVariableDebt, r.TotalCurrentStableDebt)
	r.AvailableLiquidity = wadray.AvailableLiquidity(r.TotalLiquidity, r.TotalDebt)
	r.UtilizationRate = wadray.UtilizationRate(r.TotalDebt, r.TotalLiquidity)
}

func (r *Reserve) mintAToken(value, balanceIncrease *big.Int, collateral bool) {
	r.TotalATokenSupply = add(r.TotalATokenSupply, value)
	r.TotalLiquidity = add(r.TotalLiquidity, value)
	r.LifetimeLiquidity = add(r.LifetimeLiquidity, sub(value, balanceIncrease))
	if collateral {
		r.TotalLiquidityAsCollateral = add(r.TotalLiquidityAsCollateral, value)
	}
}

// mintToTreasury accounts a reserve-factor mint that has no user position.
func (r *Reserve) mintToTreasury(value, balanceIncrease, accrued *big.Int) {
	r.TotalATokenSupply = add(r.TotalATokenSupply, value)
	r.TotalLiquidity = add(r.TotalLiquidity, value)
	r.LifetimeReserveFactorAccrued = add(r.LifetimeReserveFactorAccrued, sub(value, balanceIncrease))
	if accrued != nil {
		r.AccruedToTreasury = new(big.Int).Set(accrued)
	}
}

func (r *Reserve) burnAToken(value, balanceIncrease *big.Int, collateral bool) {
	r.TotalATokenSupply = sub(r.TotalATokenSupply, value)
	r.TotalLiquidity = sub(r.TotalLiquidity, value)
	r.LifetimeWithdrawals = add(r.LifetimeWithdrawals, add(value, balanceIncrease))
	if collateral {
		r.TotalLiquidityAsCollateral = sub(r.TotalLiquidityAsCollateral, value)
	}
}

// transferCollateral moves value between collateral and non-collateral
// liquidity when the two sides disagree.
func (r *Reserve) transferCollateral(value *big.Int, fromEnabled, toEnabled bool) {
	switch {
	case fromEnabled && !toEnabled:
		r.TotalLiquidityAsCollateral = sub(r.TotalLiquidityAsCollateral, value)
	case !fromEnabled && toEnabled:
		r.TotalLiquidityAsCollateral = add(r.TotalLiquidityAsCollateral, value)
	}
}

func (r *Reserve) setCollateral(balance *big.Int, enabled bool) {
	if enabled {
		r.TotalLiquidityAsCollateral = add(r.TotalLiquidityAsCollateral, balance)
	} else {
		r.TotalLiquidityAsCollateral = sub(r.TotalLiquidityAsCollateral, balance)
	}
}

func (r *Reserve) mintVariableDebt(value, balanceIncrease, scaled, index *big.Int) {
	r.TotalScaledVariableDebt = add(r.TotalScaledVariableDebt, scaled)
	r.LifetimeScaledVariableDebt = add(r.LifetimeScaledVariableDebt, scaled)
	r.LifetimeBorrows = add(r.LifetimeBorrows, sub(value, balanceIncrease))
	r.setVariableBorrowIndex(index)
}

func (r *Reserve) burnVariableDebt(value, balanceIncrease, scaled, index *big.Int) {
	r.TotalScaledVariableDebt = sub(r.TotalScaledVariableDebt, scaled)
	r.LifetimeRepayments = add(r.LifetimeRepayments, add(value, balanceIncrease))
	r.setVariableBorrowIndex(index)
}

func (r *Reserve) setVariableBorrowIndex(index *big.Int) {
	r.VariableBorrowIndex = new(big.Int).Set(index)
	r.TotalCurrentVariableDebt = wadray.RayMul(r.TotalScaledVariableDebt, index)
}

func (r *Reserve) mintStableDebt(amount, balanceIncrease, avgRate, totalSupply *big.Int) {
	r.TotalPrincipalStableDebt = add(r.TotalPrincipalStableDebt, amount)
	r.LifetimePrincipalStableDebt = add(r.LifetimePrincipalStableDebt, amount)
	r.LifetimeBorrows = add(r.LifetimeBorrows, sub(amount, balanceIncrease))
	r.setStableTotals(avgRate, totalSupply)
}

func (r *Reserve) burnStableDebt(amount, balanceIncrease, avgRate, totalSupply *big.Int) {
	r.TotalPrincipalStableDebt = sub(r.TotalPrincipalStableDebt, amount)
	r.LifetimeRepayments = add(r.LifetimeRepayments, add(amount, balanceIncrease))
	r.setStableTotals(avgRate, totalSupply)
}

// setStableTotals takes the average rate and accrued supply reported by the
// token, falling back to principal when the event omits the supply.
func (r *Reserve) setStableTotals(avgRate, totalSupply *big.Int) {
	if avgRate != nil {
		r.AverageStableRate = new(big.Int).Set(avgRate)
	}
	if totalSupply != nil {
		r.TotalCurrentStableDebt = new(big.Int).Set(totalSupply)
	} else {
		r.TotalCurrentStableDebt = new(big.Int).Set(r.TotalPrincipalStableDebt)
	}
}

func (r *Reserve) updateRates(e *ReserveDataUpdated) {
	r.LiquidityRate = orZero(e.LiquidityRate)
	r.StableBorrowRate = orZero(e.StableBorrowRate)
	r.VariableBorrowRate = orZero(e.VariableBorrowRate)
	r.LiquidityIndex = orZero(e.LiquidityIndex)
	if e.VariableBorrowIndex != nil {
		r.setVariableBorrowIndex(e.VariableBorrowIndex)
	}
}
