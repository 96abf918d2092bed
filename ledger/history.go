// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"fmt"
	"math/big"
)

// Snapshotter appends immutable history items.
type Snapshotter struct {
	store Store
}

func NewSnapshotter(store Store) *Snapshotter {
	return &Snapshotter{store: store}
}

// HistoryID is entityID:txHash:logIndex.
func HistoryID(entityID string, m Meta) string {
	return entityID + ":" + m.ID()
}

func (s *Snapshotter) append(ctx context.Context, kind, id string, v any) error {
	exists, err := s.store.Has(ctx, kind, id)
	if err != nil {
		return fmt.Errorf("lookup %s %s: %w", kind, id, err)
	}
	if exists {
		return fmt.Errorf("%w: %s %s", ErrDuplicateHistory, kind, id)
	}
	return save(ctx, s.store, kind, id, v)
}

// Reserve records every aggregate of r together with the asset price.
func (s *Snapshotter) Reserve(ctx context.Context, r *Reserve, price *big.Int, m Meta) error {
	item := &ReserveParamsHistoryItem{
		ID:          HistoryID(r.ID, m),
		Reserve:     r.ID,
		PriceInBase: new(big.Int).Set(orZero(price)),
		Timestamp:   m.Timestamp,
		BlockNumber: m.BlockNumber,
		TxHash:      m.TxHash,
		Aggregates:  r.Aggregates.Clone(),
	}
	return s.append(ctx, KindReserveParamsHistory, item.ID, item)
}

// Balance records one instrument of ur.
func (s *Snapshotter) Balance(ctx context.Context, ur *UserReserve, inst Instrument, m Meta) error {
	item := &BalanceHistoryItem{
		ID:          HistoryID(ur.ID, m),
		UserReserve: ur.ID,
		Instrument:  inst,
		Timestamp:   m.Timestamp,
		BlockNumber: m.BlockNumber,
		TxHash:      m.TxHash,
	}
	var kind string
	switch inst {
	case InstrumentAToken:
		kind = KindATokenBalanceHistory
		item.Scaled, item.Current, item.Index = ur.ScaledATokenBalance, ur.CurrentATokenBalance, ur.LiquidityIndex
	case InstrumentVToken:
		kind = KindVTokenBalanceHistory
		item.Scaled, item.Current, item.Index = ur.ScaledVariableDebt, ur.CurrentVariableDebt, ur.VariableBorrowIndex
	case InstrumentSToken:
		kind = KindSTokenBalanceHistory
		item.Scaled, item.Current, item.Index = ur.PrincipalStableDebt, ur.CurrentStableDebt, ur.StableBorrowRate
	default:
		return fmt.Errorf("unknown instrument %q", inst)
	}
	item.Scaled = new(big.Int).Set(orZero(item.Scaled))
	item.Current = new(big.Int).Set(orZero(item.Current))
	item.Index = new(big.Int).Set(orZero(item.Index))
	return s.append(ctx, kind, item.ID, item)
}
