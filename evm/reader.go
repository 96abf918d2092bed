// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package evm reads token metadata, reserve data and oracle prices from an
// EVM node with eth_call at the block of the event being replayed.
package evm

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"
	"golang.org/x/crypto/sha3"

	"github.com/luxfi/lending-indexer/ledger"
)

var (
	// ErrReverted is returned when the contract call reverted or returned
	// data that does not decode as the expected type.
	ErrReverted = errors.New("call reverted")
	// ErrEmptyResult is returned when the call succeeded with no data,
	// which is what a call to an address without code looks like.
	ErrEmptyResult = errors.New("empty call result")
)

// Caller is the subset of ethclient.Client the reader needs.
type Caller interface {
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

// Contract method selectors.
var (
	selName           = Selector("name()")
	selSymbol         = Selector("symbol()")
	selDecimals       = Selector("decimals()")
	selGetReserveData = Selector("getReserveData(address)")
	selGetAssetPrice  = Selector("getAssetPrice(address)")
)

// Selector returns the 4 byte method id of a canonical signature.
func Selector(signature string) []byte {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(signature))
	return h.Sum(nil)[:4]
}

// Reader implements ledger.TokenReader, ledger.PoolReader and
// ledger.PriceReader on top of a Caller.
type Reader struct {
	caller     Caller
	oracle     common.Address
	maxTries   uint
	maxElapsed time.Duration
	log        *zap.Logger
}

// Option configures a Reader.
type Option func(*Reader)

// WithOracle sets the price oracle contract queried by AssetPrice.
func WithOracle(addr common.Address) Option {
	return func(r *Reader) {
		r.oracle = addr
	}
}

// WithRetry bounds retries of transport failures. Reverts are never retried.
func WithRetry(maxTries uint, maxElapsed time.Duration) Option {
	return func(r *Reader) {
		r.maxTries = maxTries
		r.maxElapsed = maxElapsed
	}
}

// WithLogger sets the logger
func WithLogger(log *zap.Logger) Option {
	return func(r *Reader) {
		r.log = log
	}
}

// New creates a reader over an existing caller.
func New(caller Caller, opts ...Option) *Reader {
	r := &Reader{
		caller:     caller,
		maxTries:   5,
		maxElapsed: 30 * time.Second,
		log:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Dial connects to an RPC endpoint and returns a reader over it together
// with the client so the caller can close it.
func Dial(ctx context.Context, endpoint string, opts ...Option) (*Reader, *ethclient.Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, nil, fmt.Errorf("rpc endpoint required")
	}
	client, err := ethclient.DialContext(ctx, trimmed)
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", trimmed, err)
	}
	return New(client, opts...), client, nil
}

var (
	_ ledger.TokenReader = (*Reader)(nil)
	_ ledger.PoolReader  = (*Reader)(nil)
	_ ledger.PriceReader = (*Reader)(nil)
)

// call runs eth_call, retrying transport errors with exponential backoff.
func (r *Reader) call(ctx context.Context, to common.Address, data []byte, block uint64) ([]byte, error) {
	msg := ethereum.CallMsg{To: &to, Data: data}
	var number *big.Int
	if block > 0 {
		number = new(big.Int).SetUint64(block)
	}

	attempt := 0
	op := func() ([]byte, error) {
		attempt++
		out, err := r.caller.CallContract(ctx, msg, number)
		if err == nil {
			return out, nil
		}
		if isRevert(err) {
			return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrReverted, err))
		}
		r.log.Warn("eth_call failed",
			zap.String("to", to.Hex()),
			zap.Uint64("block", block),
			zap.Int("attempt", attempt),
			zap.Error(err))
		return nil, err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 5 * time.Second

	out, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(r.maxTries),
		backoff.WithMaxElapsedTime(r.maxElapsed),
	)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, ErrEmptyResult
	}
	return out, nil
}

// isRevert reports whether err came from the EVM rather than the transport.
func isRevert(err error) bool {
	if errors.Is(err, ErrReverted) {
		return true
	}
	var de rpc.DataError
	if errors.As(err, &de) {
		return true
	}
	return strings.Contains(err.Error(), "execution reverted")
}

func withAddress(sel []byte, addr common.Address) []byte {
	data := make([]byte, 4+32)
	copy(data, sel)
	copy(data[4+12:], addr.Bytes())
	return data
}

var (
	stringArgs  = mustArgs("string")
	bytes32Args = mustArgs("bytes32")
	uint8Args   = mustArgs("uint8")
	uint256Args = mustArgs("uint256")

	// getReserveData returns a 15 word static struct.
	reserveDataArgs = mustArgs(
		"uint256", // configuration
		"uint128", // liquidityIndex
		"uint128", // currentLiquidityRate
		"uint128", // variableBorrowIndex
		"uint128", // currentVariableBorrowRate
		"uint128", // currentStableBorrowRate
		"uint40",  // lastUpdateTimestamp
		"uint16",  // id
		"address", // aTokenAddress
		"address", // stableDebtTokenAddress
		"address", // variableDebtTokenAddress
		"address", // interestRateStrategyAddress
		"uint128", // accruedToTreasury
		"uint128", // unbacked
		"uint128", // isolationModeTotalDebt
	)
)

func mustArgs(types ...string) abi.Arguments {
	args := make(abi.Arguments, 0, len(types))
	for _, t := range types {
		typ, err := abi.NewType(t, "", nil)
		if err != nil {
			panic(err)
		}
		args = append(args, abi.Argument{Type: typ})
	}
	return args
}

func unpackOne(args abi.Arguments, out []byte) (any, error) {
	vals, err := args.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReverted, err)
	}
	if len(vals) != len(args) {
		return nil, fmt.Errorf("%w: got %d values", ErrReverted, len(vals))
	}
	return vals[0], nil
}

func (r *Reader) readString(ctx context.Context, token common.Address, sel []byte, block uint64) (string, error) {
	out, err := r.call(ctx, token, sel, block)
	if err != nil {
		return "", err
	}
	v, err := unpackOne(stringArgs, out)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Reader) readBytes32(ctx context.Context, token common.Address, sel []byte, block uint64) (string, error) {
	out, err := r.call(ctx, token, sel, block)
	if err != nil {
		return "", err
	}
	v, err := unpackOne(bytes32Args, out)
	if err != nil {
		return "", err
	}
	raw := v.([32]byte)
	return strings.TrimRight(string(raw[:]), "\x00"), nil
}

func (r *Reader) Name(ctx context.Context, token common.Address, block uint64) (string, error) {
	return r.readString(ctx, token, selName, block)
}

// NameBytes32 reads name() from tokens that return bytes32, such as MKR.
func (r *Reader) NameBytes32(ctx context.Context, token common.Address, block uint64) (string, error) {
	return r.readBytes32(ctx, token, selName, block)
}

func (r *Reader) Symbol(ctx context.Context, token common.Address, block uint64) (string, error) {
	return r.readString(ctx, token, selSymbol, block)
}

func (r *Reader) SymbolBytes32(ctx context.Context, token common.Address, block uint64) (string, error) {
	return r.readBytes32(ctx, token, selSymbol, block)
}

func (r *Reader) Decimals(ctx context.Context, token common.Address, block uint64) (uint8, error) {
	out, err := r.call(ctx, token, selDecimals, block)
	if err != nil {
		return 0, err
	}
	v, err := unpackOne(uint8Args, out)
	if err != nil {
		return 0, err
	}
	return v.(uint8), nil
}

// GetReserveData calls getReserveData(asset) on the pool.
func (r *Reader) GetReserveData(ctx context.Context, pool, asset common.Address, block uint64) (*ledger.ReserveData, error) {
	out, err := r.call(ctx, pool, withAddress(selGetReserveData, asset), block)
	if err != nil {
		return nil, err
	}
	vals, err := reserveDataArgs.Unpack(out)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrReverted, err)
	}
	if len(vals) != len(reserveDataArgs) {
		return nil, fmt.Errorf("%w: got %d values", ErrReverted, len(vals))
	}
	ts := vals[6].(*big.Int)
	return &ledger.ReserveData{
		LiquidityIndex:            vals[1].(*big.Int),
		CurrentLiquidityRate:      vals[2].(*big.Int),
		VariableBorrowIndex:       vals[3].(*big.Int),
		CurrentVariableBorrowRate: vals[4].(*big.Int),
		CurrentStableBorrowRate:   vals[5].(*big.Int),
		LastUpdateTimestamp:       ts.Uint64(),
		AccruedToTreasury:         vals[12].(*big.Int),
	}, nil
}

// AssetPrice calls getAssetPrice(asset) on the configured oracle.
func (r *Reader) AssetPrice(ctx context.Context, asset common.Address, block uint64) (*big.Int, error) {
	if r.oracle == (common.Address{}) {
		return nil, fmt.Errorf("price oracle not configured")
	}
	out, err := r.call(ctx, r.oracle, withAddress(selGetAssetPrice, asset), block)
	if err != nil {
		return nil, err
	}
	v, err := unpackOne(uint256Args, out)
	if err != nil {
		return nil, err
	}
	return v.(*big.Int), nil
}
