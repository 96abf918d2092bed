// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger_test

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/luxfi/lending-indexer/ledger"
	"github.com/luxfi/lending-indexer/storage"
	"github.com/luxfi/lending-indexer/wadray"
)

var (
	provider     = common.HexToAddress("0xa97684ead0e402dC232d5A977953DF7ECBaB3CDb")
	pool         = common.HexToAddress("0x794a61358D6845594F94dc1DB02A252b5b4814aD")
	configurator = common.HexToAddress("0x8145eddDf43f50276641b55bd3AD95944510021E")
	weth         = common.HexToAddress("0x4200000000000000000000000000000000000006")
	aWETH        = common.HexToAddress("0xe50fA9b3c56FfB159cB0FCA61F5c9D750e8128c8")
	vWETH        = common.HexToAddress("0x0c84331e39d6658Cd6e6b9ba04736cC4c4734351")
	sWETH        = common.HexToAddress("0xD8Ad37849950903571df17049516a5CD4cbE55F6")
	alice        = common.HexToAddress("0x000000000000000000000000000000000000a11c")
	bob          = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
)

func ray(num, den int64) *big.Int {
	v := new(big.Int).Mul(wadray.RAY, big.NewInt(num))
	return v.Div(v, big.NewInt(den))
}

func amt(v int64) *big.Int { return big.NewInt(v) }

// chain hands out strictly increasing metas.
type chain struct{ block uint64 }

func (c *chain) at(addr common.Address) ledger.Meta {
	c.block++
	return ledger.Meta{
		Address:     addr,
		BlockNumber: c.block,
		Timestamp:   1710000000 + c.block,
		TxHash:      common.BigToHash(new(big.Int).SetUint64(c.block)),
	}
}

// lifecycle is a deposit, borrow, accrue, repay and withdraw sequence for
// alice with a transfer to bob along the way.
func lifecycle(c *chain) []ledger.Event {
	return []ledger.Event{
		&ledger.ProxyCreated{Meta: c.at(provider), ID: ledger.ProxyIDPool, ProxyAddress: pool},
		&ledger.ProxyCreated{Meta: c.at(provider), ID: ledger.ProxyIDPoolConfigurator, ProxyAddress: configurator},
		&ledger.ReserveInitialized{Meta: c.at(configurator), Asset: weth, AToken: aWETH, VariableDebtToken: vWETH, StableDebtToken: sWETH},

		&ledger.ATokenMint{Meta: c.at(aWETH), Caller: alice, OnBehalfOf: alice, Value: amt(10000), BalanceIncrease: amt(0), Index: wadray.RAY},
		&ledger.ReserveUsedAsCollateral{Meta: c.at(pool), Reserve: weth, User: alice, Enabled: true},
		&ledger.VariableDebtMint{Meta: c.at(vWETH), Caller: alice, OnBehalfOf: alice, Value: amt(4000), BalanceIncrease: amt(0), Index: wadray.RAY},
		&ledger.ReserveDataUpdated{Meta: c.at(pool), Reserve: weth, LiquidityIndex: ray(11, 10), VariableBorrowIndex: ray(12, 10),
			LiquidityRate: amt(0), StableBorrowRate: amt(0), VariableBorrowRate: amt(0)},
		// alice repays everything at the new index: 4800 of which 800 is interest.
		&ledger.VariableDebtBurn{Meta: c.at(vWETH), From: alice, Target: alice, Value: amt(4000), BalanceIncrease: amt(800), Index: ray(12, 10)},
		&ledger.ATokenBalanceTransfer{Meta: c.at(aWETH), From: alice, To: bob, Value: amt(1100), Index: ray(11, 10)},
		// alice withdraws the rest, 8900 plus 1000 of interest.
		&ledger.ATokenBurn{Meta: c.at(aWETH), From: alice, Target: alice, Value: amt(8900), BalanceIncrease: amt(1000), Index: ray(11, 10)},
	}
}

func apply(ctx context.Context, e *ledger.Engine, events []ledger.Event) {
	for _, ev := range events {
		ExpectWithOffset(1, e.Apply(ctx, ev)).To(Succeed())
	}
}

var _ = Describe("Ledger", func() {
	var (
		ctx    context.Context
		store  *storage.Unified
		engine *ledger.Engine
		c      *chain
		poolID string
	)

	load := func(kind, id string, dst any) {
		ok, err := store.Load(ctx, kind, id, dst)
		ExpectWithOffset(1, err).NotTo(HaveOccurred())
		ExpectWithOffset(1, ok).To(BeTrue(), "%s %s", kind, id)
	}

	BeforeEach(func() {
		ctx = context.Background()
		store = storage.NewMemory()
		var err error
		engine, err = ledger.NewEngine(ledger.Config{Store: store})
		Expect(err).NotTo(HaveOccurred())
		c = &chain{}
		poolID = ledger.AddressID(provider)
	})

	AfterEach(func() {
		Expect(store.Close()).To(Succeed())
	})

	Context("full position lifecycle", func() {
		BeforeEach(func() {
			apply(ctx, engine, lifecycle(c))
		})

		It("closes alice's debt and releases the borrowed reserve", func() {
			var u ledger.User
			load(ledger.KindUser, ledger.AddressID(alice), &u)
			Expect(u.BorrowedReservesCount).To(BeZero())

			var ur ledger.UserReserve
			load(ledger.KindUserReserve, ledger.UserReserveID(alice, weth, poolID), &ur)
			Expect(ur.ScaledVariableDebt.Sign()).To(BeZero())
			Expect(ur.CurrentTotalDebt.Sign()).To(BeZero())
			Expect(ur.ScaledATokenBalance.Sign()).To(BeZero())
		})

		It("leaves bob holding the transferred balance", func() {
			var ur ledger.UserReserve
			load(ledger.KindUserReserve, ledger.UserReserveID(bob, weth, poolID), &ur)
			Expect(ur.ScaledATokenBalance.Int64()).To(Equal(int64(1000)))
			Expect(ur.CurrentATokenBalance.Int64()).To(Equal(int64(1100)))
			Expect(ur.UsageAsCollateralEnabledOnUser).To(BeFalse())
		})

		It("keeps the reserve totals consistent", func() {
			var r ledger.Reserve
			load(ledger.KindReserve, ledger.ReserveID(weth, poolID), &r)
			Expect(r.TotalATokenSupply.Int64()).To(Equal(int64(1100)))
			Expect(r.TotalLiquidityAsCollateral.Sign()).To(BeZero())
			Expect(r.TotalScaledVariableDebt.Sign()).To(BeZero())
			Expect(r.TotalDebt.Sign()).To(BeZero())
			Expect(r.LifetimeLiquidity.Int64()).To(Equal(int64(10000)))
			Expect(r.LifetimeBorrows.Int64()).To(Equal(int64(4000)))
			Expect(r.LifetimeRepayments.Int64()).To(Equal(int64(4800)))
			Expect(r.LifetimeWithdrawals.Int64()).To(Equal(int64(9900)))
			Expect(r.UtilizationRate.IsZero()).To(BeTrue())
		})

		It("records one history item per touched position", func() {
			items, err := store.List(ctx, ledger.KindATokenBalanceHistory, ledger.UserReserveID(alice, weth, poolID), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(3))

			items, err = store.List(ctx, ledger.KindVTokenBalanceHistory, "", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(2))

			items, err = store.List(ctx, ledger.KindReserveParamsHistory, ledger.ReserveID(weth, poolID), 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(items).To(HaveLen(7))
		})

		It("rejects a replayed event", func() {
			ev := lifecycle(&chain{})[3]
			Expect(engine.Apply(ctx, ev)).To(MatchError(ledger.ErrDuplicateHistory))

			var ur ledger.UserReserve
			load(ledger.KindUserReserve, ledger.UserReserveID(alice, weth, poolID), &ur)
			Expect(ur.ScaledATokenBalance.Sign()).To(BeZero())

			var r ledger.Reserve
			load(ledger.KindReserve, ledger.ReserveID(weth, poolID), &r)
			Expect(r.TotalATokenSupply.Int64()).To(Equal(int64(1100)))
			Expect(r.LifetimeLiquidity.Int64()).To(Equal(int64(10000)))
		})
	})

	It("is deterministic across stores", func() {
		apply(ctx, engine, lifecycle(c))

		other := storage.NewMemory()
		defer other.Close()
		again, err := ledger.NewEngine(ledger.Config{Store: other})
		Expect(err).NotTo(HaveOccurred())
		apply(ctx, again, lifecycle(&chain{}))

		for _, kind := range ledger.Kinds {
			want, err := store.List(ctx, kind, "", 0)
			Expect(err).NotTo(HaveOccurred())
			got, err := other.List(ctx, kind, "", 0)
			Expect(err).NotTo(HaveOccurred())
			Expect(got).To(HaveLen(len(want)), kind)
			for n := range want {
				Expect(string(got[n])).To(MatchJSON(string(want[n])), kind)
			}
		}
	})

	It("stops at an event from an unknown contract", func() {
		stray := common.HexToAddress("0x00000000000000000000000000000000000000ff")
		err := engine.Apply(ctx, &ledger.VariableDebtMint{Meta: c.at(stray), OnBehalfOf: alice,
			Value: amt(1), BalanceIncrease: amt(0), Index: wadray.RAY})
		Expect(err).To(MatchError(ledger.ErrUnregisteredContract))

		ok, err := store.Has(ctx, ledger.KindUser, ledger.AddressID(alice))
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})
})
