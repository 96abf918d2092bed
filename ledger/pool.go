// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// poolReserve resolves a reserve from an event emitted by the pool contract.
func (e *Engine) poolReserve(ctx context.Context, pool, asset common.Address) (*Reserve, error) {
	poolID, err := e.registry.ResolvePool(ctx, pool)
	if err != nil {
		return nil, err
	}
	return e.reserves.GetOrCreate(ctx, asset, poolID)
}

func (e *Engine) handleReserveDataUpdated(ctx context.Context, ev *ReserveDataUpdated) error {
	r, err := e.poolReserve(ctx, ev.Address, ev.Reserve)
	if err != nil {
		return err
	}
	r.updateRates(ev)
	return e.commitReserve(ctx, r, ev.Meta)
}

// handleCollateralToggle moves the user's current aToken balance into or out
// of the reserve's collateral total when the flag actually changes.
func (e *Engine) handleCollateralToggle(ctx context.Context, ev *ReserveUsedAsCollateral) error {
	r, err := e.poolReserve(ctx, ev.Address, ev.Reserve)
	if err != nil {
		return err
	}
	u, ur, err := e.positions.GetOrCreate(ctx, ev.User, ev.Reserve, r.Pool)
	if err != nil {
		return err
	}
	if ur.UsageAsCollateralEnabledOnUser != ev.Enabled {
		ur.UsageAsCollateralEnabledOnUser = ev.Enabled
		r.setCollateral(ur.CurrentATokenBalance, ev.Enabled)
	}
	ur.LastUpdateTimestamp = ev.Timestamp
	if err := e.savePosition(ctx, u, ur); err != nil {
		return err
	}
	return e.commitReserve(ctx, r, ev.Meta)
}

func (e *Engine) handleLiquidationCall(ctx context.Context, ev *LiquidationCall) error {
	r, err := e.poolReserve(ctx, ev.Address, ev.CollateralAsset)
	if err != nil {
		return err
	}
	r.LifetimeLiquidated = add(r.LifetimeLiquidated, ev.LiquidatedCollateralAmount)
	return e.commitReserve(ctx, r, ev.Meta)
}

func (e *Engine) handleFlashLoan(ctx context.Context, ev *FlashLoan) error {
	r, err := e.poolReserve(ctx, ev.Address, ev.Asset)
	if err != nil {
		return err
	}
	r.LifetimeFlashLoanPremium = add(r.LifetimeFlashLoanPremium, ev.Premium)
	return e.commitReserve(ctx, r, ev.Meta)
}
