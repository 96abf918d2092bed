// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package ledger replays lending pool events into a keyed entity graph:
// pools, reserves, sub tokens, users, user reserves, credit delegations and
// their history. Amounts follow the pool's ray/wad rounding exactly.
//
// The Engine is not safe for concurrent use. Events must be applied one at a
// time in chain order (block, transaction index, log index).
package ledger

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/luxfi/lending-indexer/metrics"
)

// Config wires an Engine. Store is required; the readers are optional and a
// missing reader behaves like a reverted call.
type Config struct {
	Store    Store
	Tokens   TokenReader
	Pools    PoolReader
	Prices   PriceReader
	Treasury TreasurySet
	Logger   *zap.Logger
	Metrics  *metrics.Ledger
}

type handlerFunc func(context.Context, Event) error

// Engine dispatches events to their handlers.
type Engine struct {
	store     Store
	writes    *writeSet
	registry  *Registry
	reserves  *Reserves
	positions *Positions
	history   *Snapshotter
	tokens    TokenReader
	pools     PoolReader
	log       *zap.Logger
	metrics   *metrics.Ledger

	handlers map[EventKind]handlerFunc
}

func NewEngine(cfg Config) (*Engine, error) {
	if cfg.Store == nil {
		return nil, ErrNilStore
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	treasury := cfg.Treasury
	if treasury == nil {
		var err error
		treasury, err = NewTreasurySet(DefaultTreasuryAddresses)
		if err != nil {
			return nil, err
		}
	}
	// every component reads and writes through the event's write set
	ws := newWriteSet(cfg.Store)
	e := &Engine{
		store:     ws,
		writes:    ws,
		registry:  NewRegistry(ws),
		reserves:  NewReserves(ws, cfg.Prices, log),
		positions: NewPositions(ws, treasury, log),
		history:   NewSnapshotter(ws),
		tokens:    cfg.Tokens,
		pools:     cfg.Pools,
		log:       log,
		metrics:   cfg.Metrics,
		handlers:  make(map[EventKind]handlerFunc),
	}
	e.registerHandlers()
	return e, nil
}

func handle[T Event](fn func(context.Context, T) error) handlerFunc {
	return func(ctx context.Context, ev Event) error {
		t, ok := ev.(T)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", ev, ev.Kind())
		}
		return fn(ctx, t)
	}
}

func (e *Engine) registerHandlers() {
	// Addresses provider and configurator
	e.handlers[KindProxyCreated] = handle(e.handleProxyCreated)
	e.handlers[KindReserveInitialized] = handle(e.handleReserveInitialized)
	e.handlers[KindReserveFrozen] = handle(e.handleReserveFrozen)
	e.handlers[KindReserveUnfrozen] = handle(e.handleReserveUnfrozen)
	e.handlers[KindReserveActive] = handle(e.handleReserveActive)

	// Tokens
	e.handlers[KindATokenMint] = handle(e.handleATokenMint)
	e.handlers[KindATokenBurn] = handle(e.handleATokenBurn)
	e.handlers[KindATokenBalanceTransfer] = handle(e.handleATokenTransfer)
	e.handlers[KindVariableDebtMint] = handle(e.handleVariableDebtMint)
	e.handlers[KindVariableDebtBurn] = handle(e.handleVariableDebtBurn)
	e.handlers[KindStableDebtMint] = handle(e.handleStableDebtMint)
	e.handlers[KindStableDebtBurn] = handle(e.handleStableDebtBurn)
	e.handlers[KindVariableBorrowAllowanceDelegated] = handle(e.handleAllowanceDelegated)
	e.handlers[KindStableBorrowAllowanceDelegated] = handle(e.handleAllowanceDelegated)

	// Pool
	e.handlers[KindReserveDataUpdated] = handle(e.handleReserveDataUpdated)
	e.handlers[KindReserveUsedAsCollateralEnabled] = handle(e.handleCollateralToggle)
	e.handlers[KindReserveUsedAsCollateralDisabled] = handle(e.handleCollateralToggle)
	e.handlers[KindLiquidationCall] = handle(e.handleLiquidationCall)
	e.handlers[KindFlashLoan] = handle(e.handleFlashLoan)

	// Oracle
	e.handlers[KindAssetSourceUpdated] = handle(e.handleAssetSourceUpdated)
	e.handlers[KindBaseCurrencySet] = handle(e.handleBaseCurrencySet)
}

// Apply processes one event to completion. The event's writes reach the store
// only when its handler succeeds, so a rejected event, including a replayed
// one failing with ErrDuplicateHistory, changes nothing. Any error should
// still stop the replay.
func (e *Engine) Apply(ctx context.Context, ev Event) error {
	kind := ev.Kind()
	h, ok := e.handlers[kind]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEvent, kind)
	}
	m := ev.EventMeta()
	if v, ok := ev.(validator); ok {
		if err := v.validate(); err != nil {
			e.metrics.ObserveHandlerFailure(string(kind))
			return fmt.Errorf("%s at %s: %w", kind, m.ID(), err)
		}
	}
	e.writes.discard()
	if err := h(ctx, ev); err != nil {
		e.writes.discard()
		e.metrics.ObserveHandlerFailure(string(kind))
		return fmt.Errorf("handler error for %s at block %d (%s): %w", kind, m.BlockNumber, m.ID(), err)
	}
	if err := e.writes.commit(ctx); err != nil {
		e.metrics.ObserveHandlerFailure(string(kind))
		return fmt.Errorf("commit %s at %s: %w", kind, m.ID(), err)
	}
	e.metrics.ObserveEvent(string(kind), m.BlockNumber)
	return nil
}

// Registry returns the contract-to-pool registry backing the engine.
func (e *Engine) Registry() *Registry { return e.registry }

// commitReserve finishes every accounting mutation: derived fields are
// recomputed, the reserve saved, and a parameter snapshot appended.
func (e *Engine) commitReserve(ctx context.Context, r *Reserve, m Meta) error {
	r.Recompute()
	r.LastUpdateTimestamp = m.Timestamp
	price, err := e.reserves.Price(ctx, r, m.BlockNumber, m.Timestamp)
	if err != nil {
		return err
	}
	if err := e.reserves.Save(ctx, r); err != nil {
		return err
	}
	return e.history.Reserve(ctx, r, price, m)
}

func (e *Engine) savePosition(ctx context.Context, u *User, ur *UserReserve) error {
	if err := e.positions.SaveUser(ctx, u); err != nil {
		return err
	}
	return e.positions.SaveUserReserve(ctx, ur)
}
