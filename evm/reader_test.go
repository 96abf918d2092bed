// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package evm

import (
	"bytes"
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

type fakeCall struct {
	out []byte
	err error
}

// fakeCaller answers by selector and records the blocks it was asked for.
type fakeCaller struct {
	responses map[string][]fakeCall
	blocks    []*big.Int
	calls     int
}

func newFakeCaller() *fakeCaller {
	return &fakeCaller{responses: make(map[string][]fakeCall)}
}

func (f *fakeCaller) on(sel []byte, calls ...fakeCall) {
	f.responses[string(sel)] = append(f.responses[string(sel)], calls...)
}

func (f *fakeCaller) CallContract(_ context.Context, msg ethereum.CallMsg, block *big.Int) ([]byte, error) {
	f.calls++
	f.blocks = append(f.blocks, block)
	key := string(msg.Data[:4])
	queue := f.responses[key]
	if len(queue) == 0 {
		return nil, errors.New("execution reverted")
	}
	next := queue[0]
	if len(queue) > 1 {
		f.responses[key] = queue[1:]
	}
	return next.out, next.err
}

func pack(t *testing.T, types []string, vals ...any) []byte {
	t.Helper()
	out, err := mustArgs(types...).Pack(vals...)
	require.NoError(t, err)
	return out
}

var token = common.HexToAddress("0x6B175474E89094C44Da98b954EedeAC495271d0F")

func TestSelector(t *testing.T) {
	require.Equal(t, []byte{0x06, 0xfd, 0xde, 0x03}, Selector("name()"))
	require.Equal(t, []byte{0x95, 0xd8, 0x9b, 0x41}, Selector("symbol()"))
	require.Equal(t, []byte{0x31, 0x3c, 0xe5, 0x67}, Selector("decimals()"))
}

func TestReaderStringMetadata(t *testing.T) {
	f := newFakeCaller()
	f.on(selName, fakeCall{out: pack(t, []string{"string"}, "Dai Stablecoin")})
	f.on(selSymbol, fakeCall{out: pack(t, []string{"string"}, "DAI")})
	f.on(selDecimals, fakeCall{out: pack(t, []string{"uint8"}, uint8(18))})
	r := New(f)
	ctx := context.Background()

	name, err := r.Name(ctx, token, 100)
	require.NoError(t, err)
	require.Equal(t, "Dai Stablecoin", name)

	symbol, err := r.Symbol(ctx, token, 100)
	require.NoError(t, err)
	require.Equal(t, "DAI", symbol)

	dec, err := r.Decimals(ctx, token, 100)
	require.NoError(t, err)
	require.Equal(t, uint8(18), dec)

	for _, b := range f.blocks {
		require.Equal(t, int64(100), b.Int64())
	}
}

func TestReaderBytes32Metadata(t *testing.T) {
	var raw [32]byte
	copy(raw[:], "Maker")
	f := newFakeCaller()
	f.on(selName, fakeCall{out: pack(t, []string{"bytes32"}, raw)})
	r := New(f)

	name, err := r.NameBytes32(context.Background(), token, 1)
	require.NoError(t, err)
	require.Equal(t, "Maker", name)
}

func TestReaderRevertIsNotRetried(t *testing.T) {
	f := newFakeCaller()
	r := New(f, WithRetry(5, time.Second))

	_, err := r.Symbol(context.Background(), token, 1)
	require.ErrorIs(t, err, ErrReverted)
	require.Equal(t, 1, f.calls)
}

func TestReaderRetriesTransportErrors(t *testing.T) {
	f := newFakeCaller()
	f.on(selDecimals,
		fakeCall{err: errors.New("connection reset")},
		fakeCall{out: pack(t, []string{"uint8"}, uint8(6))},
	)
	r := New(f, WithRetry(3, 10*time.Second))

	dec, err := r.Decimals(context.Background(), token, 1)
	require.NoError(t, err)
	require.Equal(t, uint8(6), dec)
	require.Equal(t, 2, f.calls)
}

func TestReaderUndecodableIsRevert(t *testing.T) {
	f := newFakeCaller()
	f.on(selName, fakeCall{out: []byte{0x01, 0x02}})
	r := New(f)

	_, err := r.Name(context.Background(), token, 1)
	require.ErrorIs(t, err, ErrReverted)
}

func TestReaderEmptyResult(t *testing.T) {
	f := newFakeCaller()
	f.on(selDecimals, fakeCall{out: []byte{}})
	r := New(f)

	_, err := r.Decimals(context.Background(), token, 1)
	require.ErrorIs(t, err, ErrEmptyResult)
}

func TestReaderGetReserveData(t *testing.T) {
	ray := new(big.Int).Exp(big.NewInt(10), big.NewInt(27), nil)
	index := new(big.Int).Add(ray, big.NewInt(12345))
	zero := common.Address{}
	out := pack(t, []string{
		"uint256", "uint128", "uint128", "uint128", "uint128", "uint128",
		"uint40", "uint16", "address", "address", "address", "address",
		"uint128", "uint128", "uint128",
	},
		big.NewInt(0), index, big.NewInt(3), ray, big.NewInt(5), big.NewInt(6),
		big.NewInt(1700000000), uint16(2), zero, zero, zero, zero,
		big.NewInt(777), big.NewInt(0), big.NewInt(0),
	)
	f := newFakeCaller()
	f.on(selGetReserveData, fakeCall{out: out})
	r := New(f)

	pool := common.HexToAddress("0x87870Bca3F3fD6335C3F4ce8392D69350B4fA4E2")
	data, err := r.GetReserveData(context.Background(), pool, token, 10)
	require.NoError(t, err)
	require.Equal(t, 0, data.LiquidityIndex.Cmp(index))
	require.Equal(t, int64(3), data.CurrentLiquidityRate.Int64())
	require.Equal(t, 0, data.VariableBorrowIndex.Cmp(ray))
	require.Equal(t, int64(5), data.CurrentVariableBorrowRate.Int64())
	require.Equal(t, int64(6), data.CurrentStableBorrowRate.Int64())
	require.Equal(t, uint64(1700000000), data.LastUpdateTimestamp)
	require.Equal(t, int64(777), data.AccruedToTreasury.Int64())
}

func TestReaderAssetPrice(t *testing.T) {
	oracle := common.HexToAddress("0x54586bE62E3c3580375aE3723C145253060Ca0C2")
	f := newFakeCaller()
	f.on(selGetAssetPrice, fakeCall{out: pack(t, []string{"uint256"}, big.NewInt(100000000))})

	_, err := New(f).AssetPrice(context.Background(), token, 1)
	require.Error(t, err)

	price, err := New(f, WithOracle(oracle)).AssetPrice(context.Background(), token, 1)
	require.NoError(t, err)
	require.Equal(t, int64(100000000), price.Int64())
}

func TestWithAddressEncoding(t *testing.T) {
	data := withAddress(selGetAssetPrice, token)
	require.Len(t, data, 36)
	require.True(t, bytes.Equal(data[:4], selGetAssetPrice))
	require.True(t, bytes.Equal(data[16:], token.Bytes()))
}

func TestBlockZeroMeansLatest(t *testing.T) {
	f := newFakeCaller()
	f.on(selDecimals, fakeCall{out: pack(t, []string{"uint8"}, uint8(8))})
	_, err := New(f).Decimals(context.Background(), token, 0)
	require.NoError(t, err)
	require.Nil(t, f.blocks[0])
}
