// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"math/big"
)

func (e *Engine) priceOracle(ctx context.Context) (*PriceOracle, error) {
	o, err := load[PriceOracle](ctx, e.store, KindPriceOracle, PriceOracleID)
	if err != nil {
		return nil, err
	}
	if o == nil {
		o = &PriceOracle{ID: PriceOracleID, BaseCurrencyUnit: new(big.Int)}
	}
	return o, nil
}

func (e *Engine) handleAssetSourceUpdated(ctx context.Context, ev *AssetSourceUpdated) error {
	o, err := e.priceOracle(ctx)
	if err != nil {
		return err
	}
	o.FallbackPriceOracle = ev.Source
	o.LastUpdateTimestamp = ev.Timestamp
	if err := save(ctx, e.store, KindPriceOracle, o.ID, o); err != nil {
		return err
	}

	id := AddressID(ev.Asset)
	asset, err := load[PriceOracleAsset](ctx, e.store, KindPriceOracleAsset, id)
	if err != nil {
		return err
	}
	if asset == nil {
		asset = &PriceOracleAsset{ID: id, Oracle: o.ID, PriceInBase: new(big.Int)}
	}
	asset.PriceSource = ev.Source
	asset.FromChainlinkSourcesRegistry = true
	asset.LastUpdateTimestamp = ev.Timestamp
	return save(ctx, e.store, KindPriceOracleAsset, id, asset)
}

func (e *Engine) handleBaseCurrencySet(ctx context.Context, ev *BaseCurrencySet) error {
	o, err := e.priceOracle(ctx)
	if err != nil {
		return err
	}
	o.BaseCurrency = ev.BaseCurrency
	o.BaseCurrencyUnit = new(big.Int).Set(orZero(ev.BaseCurrencyUnit))
	o.LastUpdateTimestamp = ev.Timestamp
	return save(ctx, e.store, KindPriceOracle, o.ID, o)
}
