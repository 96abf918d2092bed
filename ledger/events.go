// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// EventKind names a decoded contract event.
type EventKind string

const (
	KindProxyCreated       EventKind = "ProxyCreated"
	KindReserveInitialized EventKind = "ReserveInitialized"
	KindReserveFrozen      EventKind = "ReserveFrozen"
	KindReserveUnfrozen    EventKind = "ReserveUnfrozen"
	KindReserveActive      EventKind = "ReserveActive"

	KindATokenMint            EventKind = "ATokenMint"
	KindATokenBurn            EventKind = "ATokenBurn"
	KindATokenBalanceTransfer EventKind = "ATokenBalanceTransfer"

	KindVariableDebtMint                 EventKind = "VariableDebtMint"
	KindVariableDebtBurn                 EventKind = "VariableDebtBurn"
	KindVariableBorrowAllowanceDelegated EventKind = "VariableBorrowAllowanceDelegated"

	KindStableDebtMint                 EventKind = "StableDebtMint"
	KindStableDebtBurn                 EventKind = "StableDebtBurn"
	KindStableBorrowAllowanceDelegated EventKind = "StableBorrowAllowanceDelegated"

	KindAssetSourceUpdated EventKind = "AssetSourceUpdated"
	KindBaseCurrencySet    EventKind = "BaseCurrencySet"

	KindReserveDataUpdated              EventKind = "ReserveDataUpdated"
	KindReserveUsedAsCollateralEnabled  EventKind = "ReserveUsedAsCollateralEnabled"
	KindReserveUsedAsCollateralDisabled EventKind = "ReserveUsedAsCollateralDisabled"
	KindLiquidationCall                 EventKind = "LiquidationCall"
	KindFlashLoan                       EventKind = "FlashLoan"
)

// Meta identifies where an event was emitted.
type Meta struct {
	Address     common.Address `json:"address"`
	BlockNumber uint64         `json:"blockNumber"`
	Timestamp   uint64         `json:"timestamp"`
	TxHash      common.Hash    `json:"txHash"`
	TxIndex     uint           `json:"txIndex"`
	LogIndex    uint           `json:"logIndex"`
}

// EventMeta returns m; it lets every event satisfy Event by embedding Meta.
func (m Meta) EventMeta() Meta { return m }

// ID is txHash:logIndex, unique per emitted log.
func (m Meta) ID() string {
	return fmt.Sprintf("%s:%d", m.TxHash.Hex(), m.LogIndex)
}

// Event is a decoded contract event.
type Event interface {
	Kind() EventKind
	EventMeta() Meta
}

// ProxyCreated is emitted by the addresses provider for each proxied component.
type ProxyCreated struct {
	Meta
	ID                    string
	ProxyAddress          common.Address
	ImplementationAddress common.Address
}

type ReserveInitialized struct {
	Meta
	Asset                       common.Address
	AToken                      common.Address
	StableDebtToken             common.Address
	VariableDebtToken           common.Address
	InterestRateStrategyAddress common.Address
}

type ReserveFrozen struct {
	Meta
	Asset common.Address
}

type ReserveUnfrozen struct {
	Meta
	Asset common.Address
}

type ReserveActive struct {
	Meta
	Asset  common.Address
	Active bool
}

type ATokenMint struct {
	Meta
	Caller          common.Address
	OnBehalfOf      common.Address
	Value           *big.Int
	BalanceIncrease *big.Int
	Index           *big.Int
}

type ATokenBurn struct {
	Meta
	From            common.Address
	Target          common.Address
	Value           *big.Int
	BalanceIncrease *big.Int
	Index           *big.Int
}

type ATokenBalanceTransfer struct {
	Meta
	From  common.Address
	To    common.Address
	Value *big.Int
	Index *big.Int
}

type VariableDebtMint struct {
	Meta
	Caller          common.Address
	OnBehalfOf      common.Address
	Value           *big.Int
	BalanceIncrease *big.Int
	Index           *big.Int
}

type VariableDebtBurn struct {
	Meta
	From            common.Address
	Target          common.Address
	Value           *big.Int
	BalanceIncrease *big.Int
	Index           *big.Int
}

type StableDebtMint struct {
	Meta
	User            common.Address
	OnBehalfOf      common.Address
	Amount          *big.Int
	CurrentBalance  *big.Int
	BalanceIncrease *big.Int
	NewRate         *big.Int
	AvgStableRate   *big.Int
	NewTotalSupply  *big.Int
}

type StableDebtBurn struct {
	Meta
	From            common.Address
	Amount          *big.Int
	CurrentBalance  *big.Int
	BalanceIncrease *big.Int
	AvgStableRate   *big.Int
	NewTotalSupply  *big.Int
}

// BorrowAllowanceDelegated is emitted by either debt token. Instrument says which.
type BorrowAllowanceDelegated struct {
	Meta
	Instrument Instrument
	FromUser   common.Address
	ToUser     common.Address
	Asset      common.Address
	Amount     *big.Int
}

type AssetSourceUpdated struct {
	Meta
	Asset  common.Address
	Source common.Address
}

type BaseCurrencySet struct {
	Meta
	BaseCurrency     common.Address
	BaseCurrencyUnit *big.Int
}

type ReserveDataUpdated struct {
	Meta
	Reserve             common.Address
	LiquidityRate       *big.Int
	StableBorrowRate    *big.Int
	VariableBorrowRate  *big.Int
	LiquidityIndex      *big.Int
	VariableBorrowIndex *big.Int
}

// ReserveUsedAsCollateral covers both the enabled and disabled pool events.
type ReserveUsedAsCollateral struct {
	Meta
	Reserve common.Address
	User    common.Address
	Enabled bool
}

type LiquidationCall struct {
	Meta
	CollateralAsset            common.Address
	DebtAsset                  common.Address
	User                       common.Address
	DebtToCover                *big.Int
	LiquidatedCollateralAmount *big.Int
	Liquidator                 common.Address
	ReceiveAToken              bool
}

type FlashLoan struct {
	Meta
	Target           common.Address
	Initiator        common.Address
	Asset            common.Address
	Amount           *big.Int
	InterestRateMode uint8
	Premium          *big.Int
	ReferralCode     uint16
}

func (*ProxyCreated) Kind() EventKind          { return KindProxyCreated }
func (*ReserveInitialized) Kind() EventKind    { return KindReserveInitialized }
func (*ReserveFrozen) Kind() EventKind         { return KindReserveFrozen }
func (*ReserveUnfrozen) Kind() EventKind       { return KindReserveUnfrozen }
func (*ReserveActive) Kind() EventKind         { return KindReserveActive }
func (*ATokenMint) Kind() EventKind            { return KindATokenMint }
func (*ATokenBurn) Kind() EventKind            { return KindATokenBurn }
func (*ATokenBalanceTransfer) Kind() EventKind { return KindATokenBalanceTransfer }
func (*VariableDebtMint) Kind() EventKind      { return KindVariableDebtMint }
func (*VariableDebtBurn) Kind() EventKind      { return KindVariableDebtBurn }
func (*StableDebtMint) Kind() EventKind        { return KindStableDebtMint }
func (*StableDebtBurn) Kind() EventKind        { return KindStableDebtBurn }
func (*AssetSourceUpdated) Kind() EventKind    { return KindAssetSourceUpdated }
func (*BaseCurrencySet) Kind() EventKind       { return KindBaseCurrencySet }
func (*ReserveDataUpdated) Kind() EventKind    { return KindReserveDataUpdated }
func (*LiquidationCall) Kind() EventKind       { return KindLiquidationCall }
func (*FlashLoan) Kind() EventKind             { return KindFlashLoan }

func (e *BorrowAllowanceDelegated) Kind() EventKind {
	if e.Instrument == InstrumentSToken {
		return KindStableBorrowAllowanceDelegated
	}
	return KindVariableBorrowAllowanceDelegated
}

func (e *ReserveUsedAsCollateral) Kind() EventKind {
	if e.Enabled {
		return KindReserveUsedAsCollateralEnabled
	}
	return KindReserveUsedAsCollateralDisabled
}

// validator is implemented by events with required integer fields.
type validator interface {
	validate() error
}

func requireInts(names []string, vals ...*big.Int) error {
	for i, v := range vals {
		if v == nil {
			return fmt.Errorf("%w: missing %s", ErrInvalidEvent, names[i])
		}
	}
	return nil
}

var scaledFields = []string{"value", "balanceIncrease", "index"}

func (e *ATokenMint) validate() error {
	return requireInts(scaledFields, e.Value, e.BalanceIncrease, e.Index)
}

func (e *ATokenBurn) validate() error {
	return requireInts(scaledFields, e.Value, e.BalanceIncrease, e.Index)
}

func (e *ATokenBalanceTransfer) validate() error {
	return requireInts([]string{"value", "index"}, e.Value, e.Index)
}

func (e *VariableDebtMint) validate() error {
	return requireInts(scaledFields, e.Value, e.BalanceIncrease, e.Index)
}

func (e *VariableDebtBurn) validate() error {
	return requireInts(scaledFields, e.Value, e.BalanceIncrease, e.Index)
}

func (e *StableDebtMint) validate() error {
	return requireInts([]string{"amount", "balanceIncrease"}, e.Amount, e.BalanceIncrease)
}

func (e *StableDebtBurn) validate() error {
	return requireInts([]string{"amount", "balanceIncrease"}, e.Amount, e.BalanceIncrease)
}

func (e *BorrowAllowanceDelegated) validate() error {
	return requireInts([]string{"amount"}, e.Amount)
}

func (e *LiquidationCall) validate() error {
	return requireInts([]string{"liquidatedCollateralAmount"}, e.LiquidatedCollateralAmount)
}

func (e *FlashLoan) validate() error {
	return requireInts([]string{"premium"}, e.Premium)
}
