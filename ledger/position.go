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

// Positions is the per-user ledger: balances, debts, collateral flags and
// credit delegations.
type Positions struct {
	store    Store
	treasury TreasurySet
	log      *zap.Logger
}

func NewPositions(store Store, treasury TreasurySet, log *zap.Logger) *Positions {
	return &Positions{store: store, treasury: treasury, log: log}
}

// IsTreasury reports whether mints to addr skip user accounting.
func (p *Positions) IsTreasury(addr common.Address) bool {
	return p.treasury.Contains(addr)
}

// GetUser returns the user, creating an unsaved one if absent.
func (p *Positions) GetUser(ctx context.Context, user common.Address) (*User, error) {
	id := AddressID(user)
	u, err := load[User](ctx, p.store, KindUser, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		u = &User{ID: id}
	}
	return u, nil
}

// GetOrCreate returns the user and their position in asset on poolID. Absent
// entities are created in memory; the caller saves them.
func (p *Positions) GetOrCreate(ctx context.Context, user, asset common.Address, poolID string) (*User, *UserReserve, error) {
	u, err := p.GetUser(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	id := UserReserveID(user, asset, poolID)
	ur, err := load[UserReserve](ctx, p.store, KindUserReserve, id)
	if err != nil {
		return nil, nil, err
	}
	if ur == nil {
		ur = &UserReserve{
			ID:      id,
			Pool:    poolID,
			Reserve: ReserveID(asset, poolID),
			User:    u.ID,
		}
	}
	fillZero(ur.fields())
	return u, ur, nil
}

func (p *Positions) SaveUser(ctx context.Context, u *User) error {
	return save(ctx, p.store, KindUser, u.ID, u)
}

func (p *Positions) SaveUserReserve(ctx context.Context, ur *UserReserve) error {
	return save(ctx, p.store, KindUserReserve, ur.ID, ur)
}

// SetAllowance records the latest delegated amount from one user to another.
func (p *Positions) SetAllowance(ctx context.Context, kind Instrument, from, to, asset common.Address, poolID string, amount *big.Int, ts uint64) error {
	u, ur, err := p.GetOrCreate(ctx, from, asset, poolID)
	if err != nil {
		return err
	}
	if err := p.SaveUser(ctx, u); err != nil {
		return err
	}
	if err := p.SaveUserReserve(ctx, ur); err != nil {
		return err
	}

	storeKind := KindVariableAllowance
	if kind == InstrumentSToken {
		storeKind = KindStableAllowance
	}
	id := AllowanceID(kind, from, to, asset)
	a, err := load[DelegatedAllowance](ctx, p.store, storeKind, id)
	if err != nil {
		return err
	}
	if a == nil {
		a = &DelegatedAllowance{
			ID:          id,
			Instrument:  kind,
			FromUser:    AddressID(from),
			ToUser:      AddressID(to),
			UserReserve: ur.ID,
		}
	}
	a.AmountAllowed = new(big.Int).Set(orZero(amount))
	a.LastUpdateTimestamp = ts
	return save(ctx, p.store, storeKind, id, a)
}

// mintAToken adds value-balanceIncrease at index to the scaled balance and
// returns the scaled delta.
func (ur *UserReserve) mintAToken(value, balanceIncrease, index *big.Int, ts uint64) (*big.Int, error) {
	delta, err := wadray.RayDiv(sub(value, balanceIncrease), index)
	if err != nil {
		return nil, err
	}
	ur.ScaledATokenBalance = add(ur.ScaledATokenBalance, delta)
	ur.setLiquidityIndex(index, ts)
	return delta, nil
}

// burnAToken removes value+balanceIncrease at index from the scaled balance.
func (ur *UserReserve) burnAToken(value, balanceIncrease, index *big.Int, ts uint64) (*big.Int, error) {
	delta, err := wadray.RayDiv(add(value, balanceIncrease), index)
	if err != nil {
		return nil, err
	}
	ur.ScaledATokenBalance = sub(ur.ScaledATokenBalance, delta)
	ur.setLiquidityIndex(index, ts)
	return delta, nil
}

func (ur *UserReserve) setLiquidityIndex(index *big.Int, ts uint64) {
	ur.CurrentATokenBalance = wadray.RayMul(ur.ScaledATokenBalance, index)
	ur.LiquidityIndex = new(big.Int).Set(index)
	ur.LastUpdateTimestamp = ts
}

// mintVariableDebt increments borrowedReservesCount when the user had no debt
// in this reserve before the mint.
func (ur *UserReserve) mintVariableDebt(u *User, value, balanceIncrease, index *big.Int, ts uint64) (*big.Int, error) {
	delta, err := wadray.RayDiv(sub(value, balanceIncrease), index)
	if err != nil {
		return nil, err
	}
	if !ur.HasDebt() {
		u.BorrowedReservesCount++
	}
	ur.ScaledVariableDebt = add(ur.ScaledVariableDebt, delta)
	ur.setVariableBorrowIndex(index, ts)
	u.LastUpdateTimestamp = ts
	return delta, nil
}

// burnVariableDebt removes value+balanceIncrease at index from the scaled debt.
// The caller settles borrowedReservesCount through releaseBorrow.
func (ur *UserReserve) burnVariableDebt(value, balanceIncrease, index *big.Int, ts uint64) (*big.Int, error) {
	delta, err := wadray.RayDiv(add(value, balanceIncrease), index)
	if err != nil {
		return nil, err
	}
	ur.ScaledVariableDebt = sub(ur.ScaledVariableDebt, delta)
	ur.setVariableBorrowIndex(index, ts)
	return delta, nil
}

func (ur *UserReserve) setVariableBorrowIndex(index *big.Int, ts uint64) {
	ur.CurrentVariableDebt = wadray.RayMul(ur.ScaledVariableDebt, index)
	ur.VariableBorrowIndex = new(big.Int).Set(index)
	ur.CurrentTotalDebt = add(ur.CurrentStableDebt, ur.CurrentVariableDebt)
	ur.LastUpdateTimestamp = ts
}

func (ur *UserReserve) mintStableDebt(u *User, amount, rate *big.Int, ts uint64) {
	if !ur.HasDebt() {
		u.BorrowedReservesCount++
	}
	ur.PrincipalStableDebt = add(ur.PrincipalStableDebt, amount)
	if rate != nil {
		ur.StableBorrowRate = new(big.Int).Set(rate)
	}
	ur.setStablePrincipal(ts)
	u.LastUpdateTimestamp = ts
}

func (ur *UserReserve) burnStableDebt(amount *big.Int, ts uint64) {
	ur.PrincipalStableDebt = sub(ur.PrincipalStableDebt, amount)
	ur.setStablePrincipal(ts)
}

func (ur *UserReserve) setStablePrincipal(ts uint64) {
	ur.CurrentStableDebt = new(big.Int).Set(ur.PrincipalStableDebt)
	ur.CurrentTotalDebt = add(ur.CurrentStableDebt, ur.CurrentVariableDebt)
	ur.StableBorrowLastUpdateTimestamp = ts
	ur.LastUpdateTimestamp = ts
}

// releaseBorrow decrements borrowedReservesCount after a debt burn left the
// position with no debt. The count never goes below zero.
func (p *Positions) releaseBorrow(u *User, ur *UserReserve, hadDebt bool, ts uint64) {
	if ur.HasDebt() || !hadDebt {
		return
	}
	if u.BorrowedReservesCount == 0 {
		p.log.Warn("debt burn on user with no borrowed reserves",
			zap.String("user", u.ID),
			zap.String("userReserve", ur.ID),
		)
		return
	}
	u.BorrowedReservesCount--
	u.LastUpdateTimestamp = ts
}
