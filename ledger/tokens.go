// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// tokenReserve resolves the sub token that emitted an event and its reserve.
func (e *Engine) tokenReserve(ctx context.Context, token common.Address) (*SubToken, *Reserve, error) {
	st, err := e.registry.SubToken(ctx, token)
	if err != nil {
		return nil, nil, err
	}
	r, err := e.reserves.GetOrCreate(ctx, st.UnderlyingAssetAddress, st.Pool)
	if err != nil {
		return nil, nil, err
	}
	return st, r, nil
}

func (e *Engine) handleATokenMint(ctx context.Context, ev *ATokenMint) error {
	st, r, err := e.tokenReserve(ctx, ev.Address)
	if err != nil {
		return err
	}

	if e.positions.IsTreasury(ev.OnBehalfOf) {
		accrued := e.accruedToTreasury(ctx, st, ev.BlockNumber)
		r.mintToTreasury(ev.Value, ev.BalanceIncrease, accrued)
		e.metrics.IncTreasuryMint()
	} else {
		u, ur, err := e.positions.GetOrCreate(ctx, ev.OnBehalfOf, st.UnderlyingAssetAddress, st.Pool)
		if err != nil {
			return err
		}
		if _, err := ur.mintAToken(ev.Value, ev.BalanceIncrease, ev.Index, ev.Timestamp); err != nil {
			return err
		}
		r.mintAToken(ev.Value, ev.BalanceIncrease, ur.UsageAsCollateralEnabledOnUser)
		if err := e.savePosition(ctx, u, ur); err != nil {
			return err
		}
		if err := e.history.Balance(ctx, ur, InstrumentAToken, ev.Meta); err != nil {
			return err
		}
	}
	r.LiquidityIndex = new(big.Int).Set(ev.Index)
	return e.commitReserve(ctx, r, ev.Meta)
}

// accruedToTreasury reads the pool's accruedToTreasury for the token's asset.
// It returns nil when the value cannot be read.
func (e *Engine) accruedToTreasury(ctx context.Context, st *SubToken, block uint64) *big.Int {
	if e.pools == nil {
		return nil
	}
	pool, created, err := e.registry.GetOrCreatePool(ctx, st.Pool)
	if err != nil || created || pool.Pool == (common.Address{}) {
		e.log.Warn("pool contract unknown, accruedToTreasury unchanged", zap.String("pool", st.Pool))
		return nil
	}
	data, err := e.pools.GetReserveData(ctx, pool.Pool, st.UnderlyingAssetAddress, block)
	if err != nil || data == nil || data.AccruedToTreasury == nil {
		e.metrics.IncReadFailure("getReserveData")
		e.log.Warn("getReserveData failed, accruedToTreasury unchanged",
			zap.String("pool", st.Pool),
			zap.String("asset", AddressID(st.UnderlyingAssetAddress)),
			zap.Error(err),
		)
		return nil
	}
	return data.AccruedToTreasury
}

func (e *Engine) handleATokenBurn(ctx context.Context, ev *ATokenBurn) error {
	st, r, err := e.tokenReserve(ctx, ev.Address)
	if err != nil {
		return err
	}
	u, ur, err := e.positions.GetOrCreate(ctx, ev.From, st.UnderlyingAssetAddress, st.Pool)
	if err != nil {
		return err
	}
	if _, err := ur.burnAToken(ev.Value, ev.BalanceIncrease, ev.Index, ev.Timestamp); err != nil {
		return err
	}
	r.burnAToken(ev.Value, ev.BalanceIncrease, ur.UsageAsCollateralEnabledOnUser)
	r.LiquidityIndex = new(big.Int).Set(ev.Index)
	if err := e.savePosition(ctx, u, ur); err != nil {
		return err
	}
	if err := e.history.Balance(ctx, ur, InstrumentAToken, ev.Meta); err != nil {
		return err
	}
	return e.commitReserve(ctx, r, ev.Meta)
}

// handleATokenTransfer burns from the sender and mints to the receiver with
// no balance increase, both at the event index. Only the collateral split of
// the reserve moves.
func (e *Engine) handleATokenTransfer(ctx context.Context, ev *ATokenBalanceTransfer) error {
	st, r, err := e.tokenReserve(ctx, ev.Address)
	if err != nil {
		return err
	}
	zero := new(big.Int)

	fromUser, fromReserve, err := e.positions.GetOrCreate(ctx, ev.From, st.UnderlyingAssetAddress, st.Pool)
	if err != nil {
		return err
	}
	if _, err := fromReserve.burnAToken(ev.Value, zero, ev.Index, ev.Timestamp); err != nil {
		return err
	}
	touched := []*UserReserve{fromReserve}
	if err := e.positions.SaveUser(ctx, fromUser); err != nil {
		return err
	}

	toEnabled := false
	if !e.positions.IsTreasury(ev.To) {
		toUser, toReserve := fromUser, fromReserve
		if ev.To != ev.From {
			toUser, toReserve, err = e.positions.GetOrCreate(ctx, ev.To, st.UnderlyingAssetAddress, st.Pool)
			if err != nil {
				return err
			}
			touched = append(touched, toReserve)
		}
		if _, err := toReserve.mintAToken(ev.Value, zero, ev.Index, ev.Timestamp); err != nil {
			return err
		}
		toEnabled = toReserve.UsageAsCollateralEnabledOnUser
		if err := e.positions.SaveUser(ctx, toUser); err != nil {
			return err
		}
	}
	r.transferCollateral(ev.Value, fromReserve.UsageAsCollateralEnabledOnUser, toEnabled)
	r.LiquidityIndex = new(big.Int).Set(ev.Index)

	for _, ur := range touched {
		if err := e.positions.SaveUserReserve(ctx, ur); err != nil {
			return err
		}
		if err := e.history.Balance(ctx, ur, InstrumentAToken, ev.Meta); err != nil {
			return err
		}
	}
	return e.commitReserve(ctx, r, ev.Meta)
}

func (e *Engine) handleVariableDebtMint(ctx context.Context, ev *VariableDebtMint) error {
	st, r, err := e.tokenReserve(ctx, ev.Address)
	if err != nil {
		return err
	}
	u, ur, err := e.positions.GetOrCreate(ctx, ev.OnBehalfOf, st.UnderlyingAssetAddress, st.Pool)
	if err != nil {
		return err
	}
	scaled, err := ur.mintVariableDebt(u, ev.Value, ev.BalanceIncrease, ev.Index, ev.Timestamp)
	if err != nil {
		return err
	}
	r.mintVariableDebt(ev.Value, ev.BalanceIncrease, scaled, ev.Index)
	if err := e.savePosition(ctx, u, ur); err != nil {
		return err
	}
	if err := e.history.Balance(ctx, ur, InstrumentVToken, ev.Meta); err != nil {
		return err
	}
	return e.commitReserve(ctx, r, ev.Meta)
}

func (e *Engine) handleVariableDebtBurn(ctx context.Context, ev *VariableDebtBurn) error {
	st, r, err := e.tokenReserve(ctx, ev.Address)
	if err != nil {
		return err
	}
	u, ur, err := e.positions.GetOrCreate(ctx, ev.From, st.UnderlyingAssetAddress, st.Pool)
	if err != nil {
		return err
	}
	hadDebt := ur.HasDebt()
	scaled, err := ur.burnVariableDebt(ev.Value, ev.BalanceIncrease, ev.Index, ev.Timestamp)
	if err != nil {
		return err
	}
	e.positions.releaseBorrow(u, ur, hadDebt, ev.Timestamp)
	r.burnVariableDebt(ev.Value, ev.BalanceIncrease, scaled, ev.Index)
	if err := e.savePosition(ctx, u, ur); err != nil {
		return err
	}
	if err := e.history.Balance(ctx, ur, InstrumentVToken, ev.Meta); err != nil {
		return err
	}
	return e.commitReserve(ctx, r, ev.Meta)
}

func (e *Engine) handleStableDebtMint(ctx context.Context, ev *StableDebtMint) error {
	st, r, err := e.tokenReserve(ctx, ev.Address)
	if err != nil {
		return err
	}
	borrower := ev.User
	if ev.OnBehalfOf != ev.User {
		borrower = ev.OnBehalfOf
	}
	u, ur, err := e.positions.GetOrCreate(ctx, borrower, st.UnderlyingAssetAddress, st.Pool)
	if err != nil {
		return err
	}
	ur.mintStableDebt(u, ev.Amount, ev.NewRate, ev.Timestamp)
	r.mintStableDebt(ev.Amount, ev.BalanceIncrease, ev.AvgStableRate, ev.NewTotalSupply)
	if err := e.savePosition(ctx, u, ur); err != nil {
		return err
	}
	if err := e.history.Balance(ctx, ur, InstrumentSToken, ev.Meta); err != nil {
		return err
	}
	return e.commitReserve(ctx, r, ev.Meta)
}

func (e *Engine) handleStableDebtBurn(ctx context.Context, ev *StableDebtBurn) error {
	st, r, err := e.tokenReserve(ctx, ev.Address)
	if err != nil {
		return err
	}
	u, ur, err := e.positions.GetOrCreate(ctx, ev.From, st.UnderlyingAssetAddress, st.Pool)
	if err != nil {
		return err
	}
	hadDebt := ur.HasDebt()
	ur.burnStableDebt(ev.Amount, ev.Timestamp)
	e.positions.releaseBorrow(u, ur, hadDebt, ev.Timestamp)
	r.burnStableDebt(ev.Amount, ev.BalanceIncrease, ev.AvgStableRate, ev.NewTotalSupply)
	if err := e.savePosition(ctx, u, ur); err != nil {
		return err
	}
	if err := e.history.Balance(ctx, ur, InstrumentSToken, ev.Meta); err != nil {
		return err
	}
	return e.commitReserve(ctx, r, ev.Meta)
}

func (e *Engine) handleAllowanceDelegated(ctx context.Context, ev *BorrowAllowanceDelegated) error {
	st, err := e.registry.SubToken(ctx, ev.Address)
	if err != nil {
		return err
	}
	return e.positions.SetAllowance(ctx, ev.Instrument, ev.FromUser, ev.ToUser, ev.Asset, st.Pool, ev.Amount, ev.Timestamp)
}
