// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TokenReader performs ERC20 metadata calls. Each method returns an error
// when the call reverts or cannot be made.
type TokenReader interface {
	Name(ctx context.Context, token common.Address, block uint64) (string, error)
	NameBytes32(ctx context.Context, token common.Address, block uint64) (string, error)
	Symbol(ctx context.Context, token common.Address, block uint64) (string, error)
	SymbolBytes32(ctx context.Context, token common.Address, block uint64) (string, error)
	Decimals(ctx context.Context, token common.Address, block uint64) (uint8, error)
}

// ReserveData is the subset of a pool's getReserveData result the ledger uses.
type ReserveData struct {
	LiquidityIndex            *big.Int
	CurrentLiquidityRate      *big.Int
	VariableBorrowIndex       *big.Int
	CurrentVariableBorrowRate *big.Int
	CurrentStableBorrowRate   *big.Int
	LastUpdateTimestamp       uint64
	AccruedToTreasury         *big.Int
}

// PoolReader reads reserve state from a pool contract.
type PoolReader interface {
	GetReserveData(ctx context.Context, pool, asset common.Address, block uint64) (*ReserveData, error)
}

// PriceReader reads an asset price from the price oracle.
type PriceReader interface {
	AssetPrice(ctx context.Context, asset common.Address, block uint64) (*big.Int, error)
}
