// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package feed decodes typed lending events from JSON lines and replays
// them into the ledger in chain order.
package feed

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/luxfi/lending-indexer/ledger"
)

var (
	ErrUnknownKind = errors.New("feed: unknown event kind")
	ErrMalformed   = errors.New("feed: malformed event")
)

// Envelope is one line of the feed. Integer params are JSON strings in
// decimal or 0x-prefixed hex.
type Envelope struct {
	Kind      string          `json:"kind"`
	Address   common.Address  `json:"address"`
	Block     uint64          `json:"block"`
	Timestamp uint64          `json:"timestamp"`
	TxHash    common.Hash     `json:"txHash"`
	TxIndex   uint            `json:"txIndex"`
	LogIndex  uint            `json:"logIndex"`
	Params    json.RawMessage `json:"params"`
}

func (e *Envelope) meta() ledger.Meta {
	return ledger.Meta{
		Address:     e.Address,
		BlockNumber: e.Block,
		Timestamp:   e.Timestamp,
		TxHash:      e.TxHash,
		TxIndex:     e.TxIndex,
		LogIndex:    e.LogIndex,
	}
}

// num is an integer param; nil when absent.
type num = *math.HexOrDecimal256

func bi(n num) *big.Int {
	if n == nil {
		return nil
	}
	return (*big.Int)(n)
}

type proxyParams struct {
	ID                    string         `json:"id"`
	ProxyAddress          common.Address `json:"proxyAddress"`
	ImplementationAddress common.Address `json:"implementationAddress"`
}

type reserveInitializedParams struct {
	Asset                       common.Address `json:"asset"`
	AToken                      common.Address `json:"aToken"`
	StableDebtToken             common.Address `json:"stableDebtToken"`
	VariableDebtToken           common.Address `json:"variableDebtToken"`
	InterestRateStrategyAddress common.Address `json:"interestRateStrategyAddress"`
}

type assetParams struct {
	Asset  common.Address `json:"asset"`
	Active bool           `json:"active"`
}

type mintParams struct {
	Caller          common.Address `json:"caller"`
	OnBehalfOf      common.Address `json:"onBehalfOf"`
	Value           num            `json:"value"`
	BalanceIncrease num            `json:"balanceIncrease"`
	Index           num            `json:"index"`
}

type burnParams struct {
	From            common.Address `json:"from"`
	Target          common.Address `json:"target"`
	Value           num            `json:"value"`
	BalanceIncrease num            `json:"balanceIncrease"`
	Index           num            `json:"index"`
}

type transferParams struct {
	From  common.Address `json:"from"`
	To    common.Address `json:"to"`
	Value num            `json:"value"`
	Index num            `json:"index"`
}

type stableMintParams struct {
	User            common.Address `json:"user"`
	OnBehalfOf      common.Address `json:"onBehalfOf"`
	Amount          num            `json:"amount"`
	CurrentBalance  num            `json:"currentBalance"`
	BalanceIncrease num            `json:"balanceIncrease"`
	NewRate         num            `json:"newRate"`
	AvgStableRate   num            `json:"avgStableRate"`
	NewTotalSupply  num            `json:"newTotalSupply"`
}

type stableBurnParams struct {
	From            common.Address `json:"from"`
	Amount          num            `json:"amount"`
	CurrentBalance  num            `json:"currentBalance"`
	BalanceIncrease num            `json:"balanceIncrease"`
	AvgStableRate   num            `json:"avgStableRate"`
	NewTotalSupply  num            `json:"newTotalSupply"`
}

type allowanceParams struct {
	FromUser common.Address `json:"fromUser"`
	ToUser   common.Address `json:"toUser"`
	Asset    common.Address `json:"asset"`
	Amount   num            `json:"amount"`
}

type assetSourceParams struct {
	Asset  common.Address `json:"asset"`
	Source common.Address `json:"source"`
}

type baseCurrencyParams struct {
	BaseCurrency     common.Address `json:"baseCurrency"`
	BaseCurrencyUnit num            `json:"baseCurrencyUnit"`
}

type reserveDataParams struct {
	Reserve             common.Address `json:"reserve"`
	LiquidityRate       num            `json:"liquidityRate"`
	StableBorrowRate    num            `json:"stableBorrowRate"`
	VariableBorrowRate  num            `json:"variableBorrowRate"`
	LiquidityIndex      num            `json:"liquidityIndex"`
	VariableBorrowIndex num            `json:"variableBorrowIndex"`
}

type collateralParams struct {
	Reserve common.Address `json:"reserve"`
	User    common.Address `json:"user"`
}

type liquidationParams struct {
	CollateralAsset            common.Address `json:"collateralAsset"`
	DebtAsset                  common.Address `json:"debtAsset"`
	User                       common.Address `json:"user"`
	DebtToCover                num            `json:"debtToCover"`
	LiquidatedCollateralAmount num            `json:"liquidatedCollateralAmount"`
	Liquidator                 common.Address `json:"liquidator"`
	ReceiveAToken              bool           `json:"receiveAToken"`
}

type flashLoanParams struct {
	Target           common.Address `json:"target"`
	Initiator        common.Address `json:"initiator"`
	Asset            common.Address `json:"asset"`
	Amount           num            `json:"amount"`
	InterestRateMode uint8          `json:"interestRateMode"`
	Premium          num            `json:"premium"`
	ReferralCode     uint16         `json:"referralCode"`
}

type decodeFunc func(m ledger.Meta, raw json.RawMessage) (ledger.Event, error)

// params unmarshals raw into a fresh P and hands it to build.
func params[P any](build func(ledger.Meta, *P) ledger.Event) decodeFunc {
	return func(m ledger.Meta, raw json.RawMessage) (ledger.Event, error) {
		p := new(P)
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, p); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
			}
		}
		return build(m, p), nil
	}
}

var decoders = map[ledger.EventKind]decodeFunc{
	ledger.KindProxyCreated: params(func(m ledger.Meta, p *proxyParams) ledger.Event {
		return &ledger.ProxyCreated{Meta: m, ID: p.ID, ProxyAddress: p.ProxyAddress, ImplementationAddress: p.ImplementationAddress}
	}),
	ledger.KindReserveInitialized: params(func(m ledger.Meta, p *reserveInitializedParams) ledger.Event {
		return &ledger.ReserveInitialized{
			Meta:                        m,
			Asset:                       p.Asset,
			AToken:                      p.AToken,
			StableDebtToken:             p.StableDebtToken,
			VariableDebtToken:           p.VariableDebtToken,
			InterestRateStrategyAddress: p.InterestRateStrategyAddress,
		}
	}),
	ledger.KindReserveFrozen: params(func(m ledger.Meta, p *assetParams) ledger.Event {
		return &ledger.ReserveFrozen{Meta: m, Asset: p.Asset}
	}),
	ledger.KindReserveUnfrozen: params(func(m ledger.Meta, p *assetParams) ledger.Event {
		return &ledger.ReserveUnfrozen{Meta: m, Asset: p.Asset}
	}),
	ledger.KindReserveActive: params(func(m ledger.Meta, p *assetParams) ledger.Event {
		return &ledger.ReserveActive{Meta: m, Asset: p.Asset, Active: p.Active}
	}),

	ledger.KindATokenMint: params(func(m ledger.Meta, p *mintParams) ledger.Event {
		return &ledger.ATokenMint{Meta: m, Caller: p.Caller, OnBehalfOf: p.OnBehalfOf, Value: bi(p.Value), BalanceIncrease: bi(p.BalanceIncrease), Index: bi(p.Index)}
	}),
	ledger.KindATokenBurn: params(func(m ledger.Meta, p *burnParams) ledger.Event {
		return &ledger.ATokenBurn{Meta: m, From: p.From, Target: p.Target, Value: bi(p.Value), BalanceIncrease: bi(p.BalanceIncrease), Index: bi(p.Index)}
	}),
	ledger.KindATokenBalanceTransfer: params(func(m ledger.Meta, p *transferParams) ledger.Event {
		return &ledger.ATokenBalanceTransfer{Meta: m, From: p.From, To: p.To, Value: bi(p.Value), Index: bi(p.Index)}
	}),

	ledger.KindVariableDebtMint: params(func(m ledger.Meta, p *mintParams) ledger.Event {
		return &ledger.VariableDebtMint{Meta: m, Caller: p.Caller, OnBehalfOf: p.OnBehalfOf, Value: bi(p.Value), BalanceIncrease: bi(p.BalanceIncrease), Index: bi(p.Index)}
	}),
	ledger.KindVariableDebtBurn: params(func(m ledger.Meta, p *burnParams) ledger.Event {
		return &ledger.VariableDebtBurn{Meta: m, From: p.From, Target: p.Target, Value: bi(p.Value), BalanceIncrease: bi(p.BalanceIncrease), Index: bi(p.Index)}
	}),
	ledger.KindVariableBorrowAllowanceDelegated: params(allowance(ledger.InstrumentVToken)),

	ledger.KindStableDebtMint: params(func(m ledger.Meta, p *stableMintParams) ledger.Event {
		return &ledger.StableDebtMint{
			Meta:            m,
			User:            p.User,
			OnBehalfOf:      p.OnBehalfOf,
			Amount:          bi(p.Amount),
			CurrentBalance:  bi(p.CurrentBalance),
			BalanceIncrease: bi(p.BalanceIncrease),
			NewRate:         bi(p.NewRate),
			AvgStableRate:   bi(p.AvgStableRate),
			NewTotalSupply:  bi(p.NewTotalSupply),
		}
	}),
	ledger.KindStableDebtBurn: params(func(m ledger.Meta, p *stableBurnParams) ledger.Event {
		return &ledger.StableDebtBurn{
			Meta:            m,
			From:            p.From,
			Amount:          bi(p.Amount),
			CurrentBalance:  bi(p.CurrentBalance),
			BalanceIncrease: bi(p.BalanceIncrease),
			AvgStableRate:   bi(p.AvgStableRate),
			NewTotalSupply:  bi(p.NewTotalSupply),
		}
	}),
	ledger.KindStableBorrowAllowanceDelegated: params(allowance(ledger.InstrumentSToken)),

	ledger.KindAssetSourceUpdated: params(func(m ledger.Meta, p *assetSourceParams) ledger.Event {
		return &ledger.AssetSourceUpdated{Meta: m, Asset: p.Asset, Source: p.Source}
	}),
	ledger.KindBaseCurrencySet: params(func(m ledger.Meta, p *baseCurrencyParams) ledger.Event {
		return &ledger.BaseCurrencySet{Meta: m, BaseCurrency: p.BaseCurrency, BaseCurrencyUnit: bi(p.BaseCurrencyUnit)}
	}),

	ledger.KindReserveDataUpdated: params(func(m ledger.Meta, p *reserveDataParams) ledger.Event {
		return &ledger.ReserveDataUpdated{
			Meta:                m,
			Reserve:             p.Reserve,
			LiquidityRate:       bi(p.LiquidityRate),
			StableBorrowRate:    bi(p.StableBorrowRate),
			VariableBorrowRate:  bi(p.VariableBorrowRate),
			LiquidityIndex:      bi(p.LiquidityIndex),
			VariableBorrowIndex: bi(p.VariableBorrowIndex),
		}
	}),
	ledger.KindReserveUsedAsCollateralEnabled:  params(collateral(true)),
	ledger.KindReserveUsedAsCollateralDisabled: params(collateral(false)),
	ledger.KindLiquidationCall: params(func(m ledger.Meta, p *liquidationParams) ledger.Event {
		return &ledger.LiquidationCall{
			Meta:                       m,
			CollateralAsset:            p.CollateralAsset,
			DebtAsset:                  p.DebtAsset,
			User:                       p.User,
			DebtToCover:                bi(p.DebtToCover),
			LiquidatedCollateralAmount: bi(p.LiquidatedCollateralAmount),
			Liquidator:                 p.Liquidator,
			ReceiveAToken:              p.ReceiveAToken,
		}
	}),
	ledger.KindFlashLoan: params(func(m ledger.Meta, p *flashLoanParams) ledger.Event {
		return &ledger.FlashLoan{
			Meta:             m,
			Target:           p.Target,
			Initiator:        p.Initiator,
			Asset:            p.Asset,
			Amount:           bi(p.Amount),
			InterestRateMode: p.InterestRateMode,
			Premium:          bi(p.Premium),
			ReferralCode:     p.ReferralCode,
		}
	}),
}

func allowance(inst ledger.Instrument) func(ledger.Meta, *allowanceParams) ledger.Event {
	return func(m ledger.Meta, p *allowanceParams) ledger.Event {
		return &ledger.BorrowAllowanceDelegated{Meta: m, Instrument: inst, FromUser: p.FromUser, ToUser: p.ToUser, Asset: p.Asset, Amount: bi(p.Amount)}
	}
}

func collateral(enabled bool) func(ledger.Meta, *collateralParams) ledger.Event {
	return func(m ledger.Meta, p *collateralParams) ledger.Event {
		return &ledger.ReserveUsedAsCollateral{Meta: m, Reserve: p.Reserve, User: p.User, Enabled: enabled}
	}
}

// Decode turns an envelope into a ledger event.
func Decode(env *Envelope) (ledger.Event, error) {
	dec, ok := decoders[ledger.EventKind(env.Kind)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Kind)
	}
	return dec(env.meta(), env.Params)
}

// DecodeLine parses one JSON line.
func DecodeLine(line []byte) (ledger.Event, error) {
	var env Envelope
	if err := json.Unmarshal(line, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Kind == "" {
		return nil, fmt.Errorf("%w: missing kind", ErrMalformed)
	}
	return Decode(&env)
}
