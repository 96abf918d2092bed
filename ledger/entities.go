// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Entity kinds used as store namespaces.
const (
	KindProtocol             = "protocol"
	KindPool                 = "pool"
	KindContractToPool       = "contract_to_pool"
	KindReserve              = "reserve"
	KindSubToken             = "sub_token"
	KindUser                 = "user"
	KindUserReserve          = "user_reserve"
	KindStableAllowance      = "stable_allowance"
	KindVariableAllowance    = "variable_allowance"
	KindATokenBalanceHistory = "atoken_balance_history"
	KindVTokenBalanceHistory = "vtoken_balance_history"
	KindSTokenBalanceHistory = "stoken_balance_history"
	KindReserveParamsHistory = "reserve_params_history"
	KindPriceOracle          = "price_oracle"
	KindPriceOracleAsset     = "price_oracle_asset"
)

// Kinds lists every entity kind the ledger writes.
var Kinds = []string{
	KindProtocol, KindPool, KindContractToPool, KindReserve, KindSubToken,
	KindUser, KindUserReserve, KindStableAllowance, KindVariableAllowance,
	KindATokenBalanceHistory, KindVTokenBalanceHistory, KindSTokenBalanceHistory,
	KindReserveParamsHistory, KindPriceOracle, KindPriceOracleAsset,
}

// ProtocolID is the id of the protocol singleton.
const ProtocolID = "1"

// PriceOracleID is the id of the price oracle singleton.
const PriceOracleID = "1"

// AddressID is the lowercase hex form used in every entity id.
func AddressID(a common.Address) string {
	return strings.ToLower(a.Hex())
}

// ReserveID is asset + pool.
func ReserveID(asset common.Address, poolID string) string {
	return AddressID(asset) + poolID
}

// UserReserveID is user + asset + pool.
func UserReserveID(user, asset common.Address, poolID string) string {
	return AddressID(user) + AddressID(asset) + poolID
}

// AllowanceID is instrument + delegator + delegate + asset.
func AllowanceID(kind Instrument, from, to, asset common.Address) string {
	prefix := "variable"
	if kind == InstrumentSToken {
		prefix = "stable"
	}
	return prefix + AddressID(from) + AddressID(to) + AddressID(asset)
}

// Instrument identifies one of the three tokens bound to a reserve.
type Instrument string

const (
	InstrumentAToken Instrument = "aToken"
	InstrumentVToken Instrument = "vToken"
	InstrumentSToken Instrument = "sToken"
)

type Protocol struct {
	ID string `json:"id"`
}

// Pool is one deployed lending pool, keyed by its addresses provider.
type Pool struct {
	ID                  string         `json:"id"`
	Protocol            string         `json:"protocol"`
	Pool                common.Address `json:"pool"`
	PoolConfigurator    common.Address `json:"poolConfigurator"`
	Active              bool           `json:"active"`
	Paused              bool           `json:"paused"`
	LastUpdateTimestamp uint64         `json:"lastUpdateTimestamp"`
}

type ContractToPoolMapping struct {
	ID   string `json:"id"`
	Pool string `json:"pool"`
}

// Aggregates holds every reserve total that is snapshotted into history.
type Aggregates struct {
	TotalATokenSupply          *big.Int `json:"totalATokenSupply"`
	TotalLiquidity             *big.Int `json:"totalLiquidity"`
	TotalLiquidityAsCollateral *big.Int `json:"totalLiquidityAsCollateral"`
	AvailableLiquidity         *big.Int `json:"availableLiquidity"`
	TotalScaledVariableDebt    *big.Int `json:"totalScaledVariableDebt"`
	TotalCurrentVariableDebt   *big.Int `json:"totalCurrentVariableDebt"`
	TotalPrincipalStableDebt   *big.Int `json:"totalPrincipalStableDebt"`
	TotalCurrentStableDebt     *big.Int `json:"totalCurrentStableDebt"`
	TotalDebt                  *big.Int `json:"totalDebt"`
	AverageStableRate          *big.Int `json:"averageStableRate"`
	AccruedToTreasury          *big.Int `json:"accruedToTreasury"`

	UtilizationRate decimal.Decimal `json:"utilizationRate"`

	LiquidityIndex      *big.Int `json:"liquidityIndex"`
	VariableBorrowIndex *big.Int `json:"variableBorrowIndex"`
	LiquidityRate       *big.Int `json:"liquidityRate"`
	VariableBorrowRate  *big.Int `json:"variableBorrowRate"`
	StableBorrowRate    *big.Int `json:"stableBorrowRate"`

	LifetimeLiquidity            *big.Int `json:"lifetimeLiquidity"`
	LifetimeBorrows              *big.Int `json:"lifetimeBorrows"`
	LifetimeRepayments           *big.Int `json:"lifetimeRepayments"`
	LifetimeWithdrawals          *big.Int `json:"lifetimeWithdrawals"`
	LifetimeLiquidated           *big.Int `json:"lifetimeLiquidated"`
	LifetimeFlashLoanPremium     *big.Int `json:"lifetimeFlashLoanPremium"`
	LifetimeReserveFactorAccrued *big.Int `json:"lifetimeReserveFactorAccrued"`
	LifetimeScaledVariableDebt   *big.Int `json:"lifetimeScaledVariableDebt"`
	LifetimePrincipalStableDebt  *big.Int `json:"lifetimePrincipalStableDebt"`
}

func (a *Aggregates) fields() []**big.Int {
	return []**big.Int{
		&a.TotalATokenSupply, &a.TotalLiquidity, &a.TotalLiquidityAsCollateral,
		&a.AvailableLiquidity, &a.TotalScaledVariableDebt, &a.TotalCurrentVariableDebt,
		&a.TotalPrincipalStableDebt, &a.TotalCurrentStableDebt, &a.TotalDebt, &a.AverageStableRate,
		&a.AccruedToTreasury, &a.LiquidityIndex, &a.VariableBorrowIndex, &a.LiquidityRate,
		&a.VariableBorrowRate, &a.StableBorrowRate, &a.LifetimeLiquidity, &a.LifetimeBorrows,
		&a.LifetimeRepayments, &a.LifetimeWithdrawals, &a.LifetimeLiquidated,
		&a.LifetimeFlashLoanPremium, &a.LifetimeReserveFactorAccrued,
		&a.LifetimeScaledVariableDebt, &a.LifetimePrincipalStableDebt,
	}
}

// Clone returns a deep copy.
func (a Aggregates) Clone() Aggregates {
	out := a
	for _, f := range out.fields() {
		*f = new(big.Int).Set(orZero(*f))
	}
	return out
}

// Reserve is the aggregate ledger for one asset in one pool.
type Reserve struct {
	ID                  string         `json:"id"`
	UnderlyingAsset     common.Address `json:"underlyingAsset"`
	Pool                string         `json:"pool"`
	Symbol              string         `json:"symbol"`
	Name                string         `json:"name"`
	Decimals            uint8          `json:"decimals"`
	IsActive            bool           `json:"isActive"`
	IsFrozen            bool           `json:"isFrozen"`
	AToken              string         `json:"aToken,omitempty"`
	VToken              string         `json:"vToken,omitempty"`
	SToken              string         `json:"sToken,omitempty"`
	Price               string         `json:"price"`
	LastUpdateTimestamp uint64         `json:"lastUpdateTimestamp"`

	Aggregates
}

// SubToken binds an aToken, vToken or sToken contract to its reserve.
type SubToken struct {
	ID                      string         `json:"id"`
	Instrument              Instrument     `json:"instrument"`
	Pool                    string         `json:"pool"`
	UnderlyingAssetAddress  common.Address `json:"underlyingAssetAddress"`
	UnderlyingAssetDecimals uint8          `json:"underlyingAssetDecimals"`
}

type User struct {
	ID                    string `json:"id"`
	BorrowedReservesCount int64  `json:"borrowedReservesCount"`
	LastUpdateTimestamp   uint64 `json:"lastUpdateTimestamp"`
}

// UserReserve is one user's position in one reserve.
type UserReserve struct {
	ID      string `json:"id"`
	Pool    string `json:"pool"`
	Reserve string `json:"reserve"`
	User    string `json:"user"`

	UsageAsCollateralEnabledOnUser bool `json:"usageAsCollateralEnabledOnUser"`

	ScaledATokenBalance  *big.Int `json:"scaledATokenBalance"`
	CurrentATokenBalance *big.Int `json:"currentATokenBalance"`
	ScaledVariableDebt   *big.Int `json:"scaledVariableDebt"`
	CurrentVariableDebt  *big.Int `json:"currentVariableDebt"`
	PrincipalStableDebt  *big.Int `json:"principalStableDebt"`
	CurrentStableDebt    *big.Int `json:"currentStableDebt"`
	CurrentTotalDebt     *big.Int `json:"currentTotalDebt"`

	LiquidityIndex      *big.Int `json:"liquidityIndex"`
	VariableBorrowIndex *big.Int `json:"variableBorrowIndex"`
	StableBorrowRate    *big.Int `json:"stableBorrowRate"`

	StableBorrowLastUpdateTimestamp uint64 `json:"stableBorrowLastUpdateTimestamp"`
	LastUpdateTimestamp             uint64 `json:"lastUpdateTimestamp"`
}

func (ur *UserReserve) fields() []**big.Int {
	return []**big.Int{
		&ur.ScaledATokenBalance, &ur.CurrentATokenBalance, &ur.ScaledVariableDebt,
		&ur.CurrentVariableDebt, &ur.PrincipalStableDebt, &ur.CurrentStableDebt,
		&ur.CurrentTotalDebt, &ur.LiquidityIndex, &ur.VariableBorrowIndex, &ur.StableBorrowRate,
	}
}

// HasDebt reports whether either debt instrument is non-zero.
func (ur *UserReserve) HasDebt() bool {
	return ur.ScaledVariableDebt.Sign() != 0 || ur.PrincipalStableDebt.Sign() != 0
}

// DelegatedAllowance is a credit delegation from one user to another.
type DelegatedAllowance struct {
	ID                  string     `json:"id"`
	Instrument          Instrument `json:"instrument"`
	FromUser            string     `json:"fromUser"`
	ToUser              string     `json:"toUser"`
	UserReserve         string     `json:"userReserve"`
	AmountAllowed       *big.Int   `json:"amountAllowed"`
	LastUpdateTimestamp uint64     `json:"lastUpdateTimestamp"`
}

// BalanceHistoryItem is an immutable snapshot of one instrument of a user reserve.
type BalanceHistoryItem struct {
	ID          string     `json:"id"`
	UserReserve string     `json:"userReserve"`
	Instrument  Instrument `json:"instrument"`
	// Scaled is the scaled balance for aToken/vToken and the principal for sToken.
	Scaled  *big.Int `json:"scaled"`
	Current *big.Int `json:"current"`
	// Index is the liquidity or variable borrow index; for sToken it is the stable rate.
	Index       *big.Int    `json:"index"`
	Timestamp   uint64      `json:"timestamp"`
	BlockNumber uint64      `json:"blockNumber"`
	TxHash      common.Hash `json:"txHash"`
}

// ReserveParamsHistoryItem is an immutable snapshot of every reserve aggregate.
type ReserveParamsHistoryItem struct {
	ID          string      `json:"id"`
	Reserve     string      `json:"reserve"`
	PriceInBase *big.Int    `json:"priceInBase"`
	Timestamp   uint64      `json:"timestamp"`
	BlockNumber uint64      `json:"blockNumber"`
	TxHash      common.Hash `json:"txHash"`

	Aggregates
}

type PriceOracle struct {
	ID                  string         `json:"id"`
	BaseCurrency        common.Address `json:"baseCurrency"`
	BaseCurrencyUnit    *big.Int       `json:"baseCurrencyUnit"`
	FallbackPriceOracle common.Address `json:"fallbackPriceOracle"`
	LastUpdateTimestamp uint64         `json:"lastUpdateTimestamp"`
}

// PriceOracleAsset caches the price source and last known price of an asset.
type PriceOracleAsset struct {
	ID                           string         `json:"id"`
	Oracle                       string         `json:"oracle"`
	PriceSource                  common.Address `json:"priceSource"`
	FromChainlinkSourcesRegistry bool           `json:"fromChainlinkSourcesRegistry"`
	PriceInBase                  *big.Int       `json:"priceInBase"`
	LastUpdateTimestamp          uint64         `json:"lastUpdateTimestamp"`
}

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v
}

func fillZero(fields []**big.Int) {
	for _, f := range fields {
		if *f == nil {
			*f = new(big.Int)
		}
	}
}
