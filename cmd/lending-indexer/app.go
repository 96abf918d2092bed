// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/luxfi/lending-indexer/config"
	"github.com/luxfi/lending-indexer/evm"
	"github.com/luxfi/lending-indexer/ledger"
	"github.com/luxfi/lending-indexer/logging"
	"github.com/luxfi/lending-indexer/metrics"
	"github.com/luxfi/lending-indexer/storage"
	"github.com/luxfi/lending-indexer/storage/kv"
	"github.com/luxfi/lending-indexer/storage/query"
)

const (
	configKey = "config"
	eventsKey = "events"
	resumeKey = "resume"
	serveKey  = "serve"
	listenKey = "listen"
)

// app holds what every subcommand opens.
type app struct {
	cfg   *config.Config
	log   *zap.Logger
	store *storage.Unified
	close []func() error
}

func newApp(c *cobra.Command) (*app, error) {
	path, err := c.Flags().GetString(configKey)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Encoding)
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	a := &app{cfg: cfg, log: log}

	store, err := openStore(c.Context(), cfg.Storage)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.close = append(a.close, store.Close)
	return a, nil
}

func openStore(ctx context.Context, cfg config.StorageConfig) (*storage.Unified, error) {
	if cfg.InMemory {
		return storage.NewMemory(), nil
	}
	if cfg.QueryBackend == "" {
		kvStore, err := kv.New(kv.Config{Path: cfg.Path})
		if err != nil {
			return nil, fmt.Errorf("open kv store: %w", err)
		}
		return storage.NewKVOnly(kvStore), nil
	}
	store, err := storage.NewUnified(storage.UnifiedConfig{
		KV: kv.Config{Path: cfg.Path},
		Query: query.Config{
			Backend: query.Backend(cfg.QueryBackend),
			URL:     cfg.QueryURL,
			DataDir: cfg.QueryDataDir,
		},
		DualWrite: cfg.DualWrite,
	})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		store.Close()
		return nil, fmt.Errorf("init query schema: %w", err)
	}
	return store, nil
}

// engine wires the ledger to the store and, when an RPC endpoint is set, to
// the contract reader.
func (a *app) engine(ctx context.Context) (*ledger.Engine, error) {
	treasury, err := a.cfg.TreasurySet()
	if err != nil {
		return nil, err
	}
	cfg := ledger.Config{
		Store:    a.store,
		Treasury: treasury,
		Logger:   a.log.Named("ledger"),
		Metrics:  metrics.Default(),
	}

	if a.cfg.RPC.Endpoint != "" {
		reader, client, err := evm.Dial(ctx, a.cfg.RPC.Endpoint,
			evm.WithOracle(a.cfg.OracleAddress()),
			evm.WithRetry(a.cfg.RPC.Retries, a.cfg.RPC.Timeout),
			evm.WithLogger(a.log.Named("evm")),
		)
		if err != nil {
			return nil, err
		}
		a.close = append(a.close, func() error {
			client.Close()
			return nil
		})
		cfg.Tokens = reader
		cfg.Pools = reader
		if a.cfg.Oracle.Address != "" {
			cfg.Prices = reader
		}
	} else {
		a.log.Warn("no rpc endpoint configured, contract reads disabled")
	}
	return ledger.NewEngine(cfg)
}

func (a *app) Close() {
	for i := len(a.close) - 1; i >= 0; i-- {
		if err := a.close[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	a.log.Sync()
}
