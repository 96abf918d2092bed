// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package storage implements ledger.Store. Entities are authoritative in the
// KV layer (github.com/luxfi/database). The optional query layer mirrors
// each write into SQL, or is rebuilt from KV by Project.
//
// SQLite is the default query backend; build with -tags postgres otherwise.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/luxfi/database"

	"github.com/luxfi/lending-indexer/ledger"
	"github.com/luxfi/lending-indexer/storage/kv"
	"github.com/luxfi/lending-indexer/storage/query"
)

// ErrNotFound is returned by meta lookups for missing keys.
var ErrNotFound = errors.New("storage: not found")

// UnifiedConfig configures both layers. Without DualWrite the projection is
// only refreshed by Project.
type UnifiedConfig struct {
	KV        kv.Config
	Query     query.Config
	DualWrite bool

	// Kinds projected into the query layer; defaults to every ledger kind.
	Kinds []string
}

// Unified combines KV and Query layers into a single ledger.Store.
type Unified struct {
	kv    *kv.Store
	query query.Engine // nil when running KV-only

	dualWrite bool
	kinds     []string
	now       func() time.Time

	mu     sync.RWMutex
	closed bool
}

var _ ledger.Store = (*Unified)(nil)

// NewUnified opens both layers.
func NewUnified(cfg UnifiedConfig) (*Unified, error) {
	kvStore, err := kv.New(cfg.KV)
	if err != nil {
		return nil, fmt.Errorf("open kv: %w", err)
	}

	queryEngine, err := query.New(cfg.Query)
	if err != nil {
		kvStore.Close()
		return nil, fmt.Errorf("open query %s: %w", cfg.Query.Backend, err)
	}

	return newUnified(kvStore, queryEngine, cfg.DualWrite, cfg.Kinds), nil
}

// NewUnifiedWithDB keeps the ledger inside a node's database, always
// dual-writing to the projection.
func NewUnifiedWithDB(db database.Database, queryCfg query.Config) (*Unified, error) {
	kvStore, err := kv.New(kv.Config{
		InProcess: true,
		NodeDB:    db,
		Prefix:    kv.DefaultPrefix,
	})
	if err != nil {
		return nil, fmt.Errorf("open kv: %w", err)
	}

	queryEngine, err := query.New(queryCfg)
	if err != nil {
		kvStore.Close()
		return nil, fmt.Errorf("open query %s: %w", queryCfg.Backend, err)
	}

	return newUnified(kvStore, queryEngine, true, nil), nil
}

// NewKVOnly wraps a KV store without a query layer.
func NewKVOnly(store *kv.Store) *Unified {
	return newUnified(store, nil, false, nil)
}

// NewMemory returns a KV-only store backed by memdb (for testing).
func NewMemory() *Unified {
	return NewKVOnly(kv.NewMemory())
}

func newUnified(kvStore *kv.Store, engine query.Engine, dualWrite bool, kinds []string) *Unified {
	if len(kinds) == 0 {
		kinds = ledger.Kinds
	}
	return &Unified{
		kv:        kvStore,
		query:     engine,
		dualWrite: dualWrite && engine != nil,
		kinds:     kinds,
		now:       time.Now,
	}
}

// Init initializes the query layer schema.
func (u *Unified) Init(ctx context.Context) error {
	if u.query == nil {
		return nil
	}
	if err := u.query.Init(ctx); err != nil {
		return err
	}
	return u.query.InitSchema(ctx, query.LedgerSchema(u.kinds))
}

// Close closes the projection, then KV.
func (u *Unified) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.closed {
		return nil
	}
	u.closed = true

	var errs []error
	if u.query != nil {
		if err := u.query.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := u.kv.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Ping checks KV health and the projection connection.
func (u *Unified) Ping(ctx context.Context) error {
	if _, err := u.kv.HealthCheck(ctx); err != nil {
		return err
	}
	if u.query == nil {
		return nil
	}
	return u.query.Ping(ctx)
}

// KV returns the authoritative layer.
func (u *Unified) KV() *kv.Store {
	return u.kv
}

// QueryEngine returns the projection; nil when KV-only.
func (u *Unified) QueryEngine() query.Engine {
	return u.query
}

// Load reads from KV and falls back to the query layer.
func (u *Unified) Load(ctx context.Context, kind, id string, dst any) (bool, error) {
	ok, err := u.kv.Load(ctx, kind, id, dst)
	if err != nil || ok || u.query == nil {
		return ok, err
	}
	e, err := u.query.GetEntity(ctx, query.TableName(kind), id)
	if errors.Is(err, query.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(e.Data, dst); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return true, nil
}

// Save writes the entity to KV and, with dual write, to the projection.
func (u *Unified) Save(ctx context.Context, kind, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	if err := u.kv.Put(kind, id, raw); err != nil {
		return err
	}
	if u.dualWrite {
		e := &query.Entity{ID: id, Data: raw, UpdatedAt: u.now().UTC()}
		if err := u.query.UpsertEntity(ctx, query.TableName(kind), e); err != nil {
			return fmt.Errorf("project %s %s: %w", kind, id, err)
		}
	}
	return nil
}

func (u *Unified) Has(ctx context.Context, kind, id string) (bool, error) {
	return u.kv.Has(ctx, kind, id)
}

// List returns encoded entities of kind whose id starts with prefix.
func (u *Unified) List(ctx context.Context, kind, prefix string, limit int) ([]json.RawMessage, error) {
	items, err := u.kv.List(ctx, kind, prefix, limit)
	if err != nil {
		return nil, err
	}
	out := make([]json.RawMessage, len(items))
	for i, it := range items {
		out[i] = it
	}
	return out, nil
}

// PutMeta stores a bookkeeping value.
func (u *Unified) PutMeta(_ context.Context, key string, value []byte) error {
	return u.kv.PutMeta(key, value)
}

// GetMeta returns a bookkeeping value or ErrNotFound.
func (u *Unified) GetMeta(_ context.Context, key string) ([]byte, error) {
	v, err := u.kv.GetMeta(key)
	if errors.Is(err, database.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

// Project rebuilds the query layer from KV in one transaction and returns
// the number of rows written.
func (u *Unified) Project(ctx context.Context) (int, error) {
	if u.query == nil {
		return 0, query.ErrNotSupported
	}
	tx, err := u.query.Begin(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	now := u.now().UTC()
	for _, kind := range u.kinds {
		items, err := u.kv.List(ctx, kind, "", 0)
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		for _, raw := range items {
			var head struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(raw, &head); err != nil {
				tx.Rollback()
				return 0, fmt.Errorf("decode %s: %w", kind, err)
			}
			if err := tx.UpsertEntity(ctx, query.TableName(kind), &query.Entity{ID: head.ID, Data: raw, UpdatedAt: now}); err != nil {
				tx.Rollback()
				return 0, err
			}
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return n, nil
}
