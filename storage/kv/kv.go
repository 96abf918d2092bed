// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package kv stores ledger entities in github.com/luxfi/database.
// Every entity kind lives in its own prefixed database and is JSON encoded,
// so the ledger can run against a node's BadgerDB in-process or its own.
package kv

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/luxfi/database"
	"github.com/luxfi/database/badgerdb"
	"github.com/luxfi/database/memdb"
	"github.com/luxfi/database/prefixdb"
)

// Prefixes for the two top-level namespaces.
var (
	PrefixEntities = []byte("ent:")
	PrefixMeta     = []byte("meta:")
)

// DefaultPrefix namespaces ledger keys inside a shared node database.
var DefaultPrefix = []byte("lending:")

// Config locates the KV database. In process mode the ledger lives under
// Prefix inside NodeDB and the store never closes it. Otherwise a BadgerDB
// is opened at Path.
type Config struct {
	Path string

	InProcess bool
	NodeDB    database.Database
	Prefix    []byte
}

// Store wraps a luxfi/database.Database with entity-level access.
type Store struct {
	db    database.Database
	owned bool

	entities database.Database
	meta     database.Database

	bucketsMu sync.Mutex
	buckets   map[string]database.Database

	mu     sync.RWMutex
	closed bool
}

// New opens the store described by cfg.
func New(cfg Config) (*Store, error) {
	if cfg.InProcess && cfg.NodeDB != nil {
		prefix := cfg.Prefix
		if len(prefix) == 0 {
			prefix = DefaultPrefix
		}
		return wrap(prefixdb.New(prefix, cfg.NodeDB), false), nil
	}
	if cfg.Path == "" {
		return nil, errors.New("kv: path required")
	}
	db, err := badgerdb.New(cfg.Path, nil, "", nil)
	if err != nil {
		return nil, fmt.Errorf("open badgerdb %s: %w", cfg.Path, err)
	}
	return wrap(db, true), nil
}

// NewMemory returns a store over memdb.
func NewMemory() *Store {
	return wrap(memdb.New(), true)
}

func wrap(db database.Database, owned bool) *Store {
	return &Store{
		db:       db,
		owned:    owned,
		entities: prefixdb.New(PrefixEntities, db),
		meta:     prefixdb.New(PrefixMeta, db),
		buckets:  make(map[string]database.Database),
	}
}

// bucket returns the prefixed database holding one entity kind.
func (s *Store) bucket(kind string) database.Database {
	s.bucketsMu.Lock()
	defer s.bucketsMu.Unlock()
	b, ok := s.buckets[kind]
	if !ok {
		b = prefixdb.New([]byte(kind+":"), s.entities)
		s.buckets[kind] = b
	}
	return b
}

// read runs fn under the read lock, failing once the store is closed.
func (s *Store) read(fn func() error) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return database.ErrClosed
	}
	return fn()
}

// Load decodes the entity into dst. It reports false if the id is absent.
func (s *Store) Load(_ context.Context, kind, id string, dst any) (bool, error) {
	var raw []byte
	err := s.read(func() (err error) {
		raw, err = s.bucket(kind).Get([]byte(id))
		return err
	})
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return false, fmt.Errorf("decode %s %s: %w", kind, id, err)
	}
	return true, nil
}

// Save encodes v as JSON and writes it under id, replacing any prior value.
func (s *Store) Save(_ context.Context, kind, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	return s.Put(kind, id, raw)
}

// Put writes an already encoded entity.
func (s *Store) Put(kind, id string, raw []byte) error {
	return s.read(func() error {
		return s.bucket(kind).Put([]byte(id), raw)
	})
}

func (s *Store) Has(_ context.Context, kind, id string) (ok bool, err error) {
	err = s.read(func() error {
		ok, err = s.bucket(kind).Has([]byte(id))
		return err
	})
	return ok, err
}

// List returns up to limit encoded entities of kind whose id starts with
// prefix, in key order. A limit <= 0 means no limit.
func (s *Store) List(_ context.Context, kind, prefix string, limit int) ([][]byte, error) {
	var out [][]byte
	err := s.read(func() error {
		iter := s.bucket(kind).NewIteratorWithPrefix([]byte(prefix))
		defer iter.Release()
		for iter.Next() {
			out = append(out, bytes.Clone(iter.Value()))
			if limit > 0 && len(out) >= limit {
				break
			}
		}
		return iter.Error()
	})
	return out, err
}

// PutMeta stores a bookkeeping value such as the replay checkpoint.
func (s *Store) PutMeta(key string, value []byte) error {
	return s.read(func() error {
		return s.meta.Put([]byte(key), value)
	})
}

// GetMeta returns a bookkeeping value or database.ErrNotFound.
func (s *Store) GetMeta(key string) (v []byte, err error) {
	err = s.read(func() error {
		v, err = s.meta.Get([]byte(key))
		return err
	})
	return v, err
}

// HealthCheck reports the backing database's health.
func (s *Store) HealthCheck(ctx context.Context) (health any, err error) {
	err = s.read(func() error {
		health, err = s.db.HealthCheck(ctx)
		return err
	})
	return health, err
}

// Close releases the database unless it belongs to the node.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.owned {
		return s.db.Close()
	}
	return nil
}
