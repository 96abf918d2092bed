// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// Proxy ids emitted by the addresses provider.
const (
	ProxyIDPool             = "POOL"
	ProxyIDPoolConfigurator = "POOL_CONFIGURATOR"
)

// handleProxyCreated creates the pool when its proxy is deployed and maps the
// pool and configurator proxies to the provider's pool id.
func (e *Engine) handleProxyCreated(ctx context.Context, ev *ProxyCreated) error {
	poolID := AddressID(ev.Address)
	switch ev.ID {
	case ProxyIDPool:
		pool, created, err := e.registry.GetOrCreatePool(ctx, poolID)
		if err != nil {
			return err
		}
		if created {
			e.log.Info("creating pool", zap.String("pool", poolID))
		}
		pool.Pool = ev.ProxyAddress
		pool.LastUpdateTimestamp = ev.Timestamp
		if err := e.registry.SavePool(ctx, pool); err != nil {
			return err
		}
		return e.registry.RegisterContract(ctx, ev.ProxyAddress, pool.ID)

	case ProxyIDPoolConfigurator:
		pool, created, err := e.registry.GetOrCreatePool(ctx, poolID)
		if err != nil {
			return err
		}
		if !created {
			pool.PoolConfigurator = ev.ProxyAddress
			pool.LastUpdateTimestamp = ev.Timestamp
			if err := e.registry.SavePool(ctx, pool); err != nil {
				return err
			}
		}
		return e.registry.RegisterContract(ctx, ev.ProxyAddress, poolID)

	default:
		e.log.Debug("ignoring proxy", zap.String("id", ev.ID), zap.String("proxy", AddressID(ev.ProxyAddress)))
		return nil
	}
}

// handleReserveInitialized reads the asset metadata, registers the reserve's
// tokens and activates it.
func (e *Engine) handleReserveInitialized(ctx context.Context, ev *ReserveInitialized) error {
	poolID, err := e.registry.ResolvePool(ctx, ev.Address)
	if err != nil {
		return err
	}
	r, err := e.reserves.GetOrCreate(ctx, ev.Asset, poolID)
	if err != nil {
		return err
	}

	name := e.readName(ctx, ev.Asset, ev.BlockNumber)
	symbol := e.readSymbol(ctx, ev.Asset, ev.BlockNumber)
	r.Decimals = e.readDecimals(ctx, ev.Asset, ev.BlockNumber, r.Decimals)

	aToken, err := e.registry.RegisterSubToken(ctx, ev.AToken, InstrumentAToken, r)
	if err != nil {
		return err
	}
	vToken, err := e.registry.RegisterSubToken(ctx, ev.VariableDebtToken, InstrumentVToken, r)
	if err != nil {
		return err
	}
	var sTokenID string
	if ev.StableDebtToken != (common.Address{}) {
		sToken, err := e.registry.RegisterSubToken(ctx, ev.StableDebtToken, InstrumentSToken, r)
		if err != nil {
			return err
		}
		sTokenID = sToken.ID
	}

	e.reserves.Activate(r, symbol, name, r.Decimals, aToken.ID, vToken.ID, sTokenID)
	r.LastUpdateTimestamp = ev.Timestamp
	e.log.Info("reserve initialized",
		zap.String("reserve", r.ID),
		zap.String("symbol", symbol),
		zap.Uint8("decimals", r.Decimals),
	)
	return e.reserves.Save(ctx, r)
}

type stringCall func(context.Context, common.Address, uint64) (string, error)

// readString tries the string-returning call, then the bytes32 variant, then
// settles for "".
func (e *Engine) readString(ctx context.Context, call string, primary, fallback stringCall, token common.Address, block uint64) string {
	v, err := primary(ctx, token, block)
	if err == nil {
		return v
	}
	e.metrics.IncReadFailure(call)
	v, err2 := fallback(ctx, token, block)
	if err2 == nil {
		return v
	}
	e.metrics.IncReadFailure(call + "Bytes32")
	e.log.Warn("token metadata unavailable",
		zap.String("call", call),
		zap.String("token", AddressID(token)),
		zap.NamedError("stringErr", err),
		zap.NamedError("bytes32Err", err2),
	)
	return ""
}

func (e *Engine) readName(ctx context.Context, token common.Address, block uint64) string {
	if e.tokens == nil {
		return ""
	}
	return e.readString(ctx, "name", e.tokens.Name, e.tokens.NameBytes32, token, block)
}

func (e *Engine) readSymbol(ctx context.Context, token common.Address, block uint64) string {
	if e.tokens == nil {
		return ""
	}
	return e.readString(ctx, "symbol", e.tokens.Symbol, e.tokens.SymbolBytes32, token, block)
}

// readDecimals has no fallback call; on failure current is kept.
func (e *Engine) readDecimals(ctx context.Context, token common.Address, block uint64, current uint8) uint8 {
	if e.tokens == nil {
		e.log.Warn("no token reader, decimals unchanged", zap.String("token", AddressID(token)))
		return current
	}
	d, err := e.tokens.Decimals(ctx, token, block)
	if err != nil {
		e.metrics.IncReadFailure("decimals")
		e.log.Warn("decimals call failed, leaving unchanged",
			zap.String("token", AddressID(token)),
			zap.Error(err),
		)
		return current
	}
	return d
}

func (e *Engine) configuredReserve(ctx context.Context, configurator, asset common.Address) (*Reserve, error) {
	poolID, err := e.registry.ResolvePool(ctx, configurator)
	if err != nil {
		return nil, err
	}
	return e.reserves.GetOrCreate(ctx, asset, poolID)
}

func (e *Engine) handleReserveFrozen(ctx context.Context, ev *ReserveFrozen) error {
	r, err := e.configuredReserve(ctx, ev.Address, ev.Asset)
	if err != nil {
		return err
	}
	r.IsFrozen = true
	r.LastUpdateTimestamp = ev.Timestamp
	return e.reserves.Save(ctx, r)
}

func (e *Engine) handleReserveUnfrozen(ctx context.Context, ev *ReserveUnfrozen) error {
	r, err := e.configuredReserve(ctx, ev.Address, ev.Asset)
	if err != nil {
		return err
	}
	r.IsFrozen = false
	r.LastUpdateTimestamp = ev.Timestamp
	return e.reserves.Save(ctx, r)
}

func (e *Engine) handleReserveActive(ctx context.Context, ev *ReserveActive) error {
	r, err := e.configuredReserve(ctx, ev.Address, ev.Asset)
	if err != nil {
		return err
	}
	r.IsActive = ev.Active
	r.LastUpdateTimestamp = ev.Timestamp
	return e.reserves.Save(ctx, r)
}
