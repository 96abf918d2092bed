// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/lending-indexer/storage/kv"
	"github.com/luxfi/lending-indexer/wadray"
)

var (
	providerAddr     = common.HexToAddress("0x2f39d218133AFaB8F2B819B1066c7E434Ad94E9e")
	poolAddr         = common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")
	configuratorAddr = common.HexToAddress("0x64b761D848206f447Fe2dd461b0c635Ec39EbB27")

	assetA  = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")
	aTokenA = common.HexToAddress("0x018008bfb33d285247A21d44E50697654f754e63")
	vTokenA = common.HexToAddress("0xcF8d0c70c850859266f5C338b38F9D663181C314")
	sTokenA = common.HexToAddress("0x413AdaC9E2Ef8683ADf5DDAEce8f19613d60D1bb")

	assetB  = common.HexToAddress("0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48")
	aTokenB = common.HexToAddress("0x98C23E9d8f34FEFb1B7BD6a91B7FF122F4e16F5c")
	vTokenB = common.HexToAddress("0x72E95b8931767C79bA4EeE721354d6E99a61D004")

	userU = common.HexToAddress("0x1111111111111111111111111111111111111111")
	userV = common.HexToAddress("0x2222222222222222222222222222222222222222")

	treasuryAddr = common.HexToAddress(DefaultTreasuryAddresses[6])

	errRevert = errors.New("execution reverted")
)

var poolID = AddressID(providerAddr)

// rayOf returns num/den as a ray.
func rayOf(num, den int64) *big.Int {
	v := new(big.Int).Mul(wadray.RAY, big.NewInt(num))
	return v.Div(v, big.NewInt(den))
}

func n(v int64) *big.Int { return big.NewInt(v) }

type fakeTokens struct {
	names, namesBytes32     map[common.Address]string
	symbols, symbolsBytes32 map[common.Address]string
	decimals                map[common.Address]uint8
}

func newFakeTokens() *fakeTokens {
	return &fakeTokens{
		names:          map[common.Address]string{},
		namesBytes32:   map[common.Address]string{},
		symbols:        map[common.Address]string{},
		symbolsBytes32: map[common.Address]string{},
		decimals:       map[common.Address]uint8{},
	}
}

func lookup[V any](m map[common.Address]V, token common.Address) (V, error) {
	v, ok := m[token]
	if !ok {
		var zero V
		return zero, errRevert
	}
	return v, nil
}

func (f *fakeTokens) Name(_ context.Context, token common.Address, _ uint64) (string, error) {
	return lookup(f.names, token)
}

func (f *fakeTokens) NameBytes32(_ context.Context, token common.Address, _ uint64) (string, error) {
	return lookup(f.namesBytes32, token)
}

func (f *fakeTokens) Symbol(_ context.Context, token common.Address, _ uint64) (string, error) {
	return lookup(f.symbols, token)
}

func (f *fakeTokens) SymbolBytes32(_ context.Context, token common.Address, _ uint64) (string, error) {
	return lookup(f.symbolsBytes32, token)
}

func (f *fakeTokens) Decimals(_ context.Context, token common.Address, _ uint64) (uint8, error) {
	return lookup(f.decimals, token)
}

type fakePools struct {
	accrued *big.Int
	err     error
	calls   int
}

func (f *fakePools) GetReserveData(_ context.Context, pool, _ common.Address, _ uint64) (*ReserveData, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if pool != poolAddr {
		return nil, errRevert
	}
	return &ReserveData{AccruedToTreasury: f.accrued}, nil
}

type fakePrices struct {
	prices map[common.Address]*big.Int
}

func (f *fakePrices) AssetPrice(_ context.Context, asset common.Address, _ uint64) (*big.Int, error) {
	return lookup(f.prices, asset)
}

// fixture drives an engine over an in-memory store. Every event gets the
// next block so metas never collide.
type fixture struct {
	t      *testing.T
	ctx    context.Context
	store  *kv.Store
	engine *Engine
	tokens *fakeTokens
	pools  *fakePools
	prices *fakePrices
	block  uint64
	last   Meta
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		t:      t,
		ctx:    context.Background(),
		store:  kv.NewMemory(),
		tokens: newFakeTokens(),
		pools:  &fakePools{},
		prices: &fakePrices{prices: map[common.Address]*big.Int{}},
	}
	f.tokens.names[assetA] = "Dai Stablecoin"
	f.tokens.symbols[assetA] = "DAI"
	f.tokens.decimals[assetA] = 18
	f.tokens.names[assetB] = "USD Coin"
	f.tokens.symbols[assetB] = "USDC"
	f.tokens.decimals[assetB] = 6

	engine, err := NewEngine(Config{
		Store:  f.store,
		Tokens: f.tokens,
		Pools:  f.pools,
		Prices: f.prices,
	})
	require.NoError(t, err)
	f.engine = engine
	return f
}

func (f *fixture) meta(addr common.Address) Meta {
	f.block++
	f.last = Meta{
		Address:     addr,
		BlockNumber: f.block,
		Timestamp:   1700000000 + f.block*12,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(f.block)),
		LogIndex:    uint(f.block % 7),
	}
	return f.last
}

func (f *fixture) apply(ev Event) {
	f.t.Helper()
	require.NoError(f.t, f.engine.Apply(f.ctx, ev))
}

// bootstrap creates the pool and initializes reserve A (with a stable debt
// token) and reserve B (without one).
func (f *fixture) bootstrap() {
	f.t.Helper()
	f.apply(&ProxyCreated{Meta: f.meta(providerAddr), ID: ProxyIDPool, ProxyAddress: poolAddr})
	f.apply(&ProxyCreated{Meta: f.meta(providerAddr), ID: ProxyIDPoolConfigurator, ProxyAddress: configuratorAddr})
	f.apply(&ReserveInitialized{Meta: f.meta(configuratorAddr), Asset: assetA, AToken: aTokenA, VariableDebtToken: vTokenA, StableDebtToken: sTokenA})
	f.apply(&ReserveInitialized{Meta: f.meta(configuratorAddr), Asset: assetB, AToken: aTokenB, VariableDebtToken: vTokenB})
}

func (f *fixture) reserve(asset common.Address) *Reserve {
	f.t.Helper()
	r, err := Get[Reserve](f.ctx, f.store, KindReserve, ReserveID(asset, poolID))
	require.NoError(f.t, err)
	require.NotNil(f.t, r, "reserve %s", AddressID(asset))
	return r
}

func (f *fixture) userReserve(user, asset common.Address) *UserReserve {
	f.t.Helper()
	ur, err := Get[UserReserve](f.ctx, f.store, KindUserReserve, UserReserveID(user, asset, poolID))
	require.NoError(f.t, err)
	return ur
}

func (f *fixture) user(addr common.Address) *User {
	f.t.Helper()
	u, err := Get[User](f.ctx, f.store, KindUser, AddressID(addr))
	require.NoError(f.t, err)
	return u
}

func (f *fixture) mintA(token, to common.Address, value, inc, index *big.Int) {
	f.t.Helper()
	f.apply(&ATokenMint{Meta: f.meta(token), Caller: to, OnBehalfOf: to, Value: value, BalanceIncrease: inc, Index: index})
}

func (f *fixture) burnA(token, from common.Address, value, inc, index *big.Int) {
	f.t.Helper()
	f.apply(&ATokenBurn{Meta: f.meta(token), From: from, Target: from, Value: value, BalanceIncrease: inc, Index: index})
}

func (f *fixture) transferA(token, from, to common.Address, value, index *big.Int) {
	f.t.Helper()
	f.apply(&ATokenBalanceTransfer{Meta: f.meta(token), From: from, To: to, Value: value, Index: index})
}

func (f *fixture) borrowVariable(token, user common.Address, value, inc, index *big.Int) {
	f.t.Helper()
	f.apply(&VariableDebtMint{Meta: f.meta(token), Caller: user, OnBehalfOf: user, Value: value, BalanceIncrease: inc, Index: index})
}

func (f *fixture) repayVariable(token, user common.Address, value, inc, index *big.Int) {
	f.t.Helper()
	f.apply(&VariableDebtBurn{Meta: f.meta(token), From: user, Target: user, Value: value, BalanceIncrease: inc, Index: index})
}

func (f *fixture) setCollateral(user, asset common.Address, enabled bool) {
	f.t.Helper()
	f.apply(&ReserveUsedAsCollateral{Meta: f.meta(poolAddr), Reserve: asset, User: user, Enabled: enabled})
}

// debtReserves counts the user's positions with either debt non-zero.
func (f *fixture) debtReserves(user common.Address, assets ...common.Address) int64 {
	var count int64
	for _, a := range assets {
		if ur := f.userReserve(user, a); ur != nil && ur.HasDebt() {
			count++
		}
	}
	return count
}
