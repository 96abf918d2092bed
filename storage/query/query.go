// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

// Package query mirrors ledger entities into SQL so positions, reserves and
// histories can be explored with plain SQL. Every entity kind lives in its
// own ledger_<kind> table holding the entity id, its JSON document and the
// time it was last projected.
//
// SQLite is compiled in by default. Build with -tags postgres for PostgreSQL.
package query

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Backend names a SQL backend.
type Backend string

const (
	BackendSQLite   Backend = "sqlite"
	BackendPostgres Backend = "postgres"
)

// Config selects and locates the projection database.
type Config struct {
	Backend Backend
	URL     string // DSN, or the SQLite file path
	DataDir string // holds ledger.db when URL is empty
}

// Engine is a SQL projection of the ledger.
type Engine interface {
	Backend() Backend

	Init(ctx context.Context) error
	InitSchema(ctx context.Context, schema Schema) error
	Ping(ctx context.Context) error
	Close() error

	UpsertEntity(ctx context.Context, table string, e *Entity) error
	GetEntity(ctx context.Context, table string, id string) (*Entity, error)

	// Count counts rows of table matching where, written in the backend's
	// placeholder style. An empty where counts the whole table.
	Count(ctx context.Context, table string, where string, args ...any) (int64, error)

	Begin(ctx context.Context) (Tx, error)
}

// Tx batches projection writes, used when rebuilding from the KV layer.
type Tx interface {
	UpsertEntity(ctx context.Context, table string, e *Entity) error
	Commit() error
	Rollback() error
}

// Entity is one projected ledger document.
type Entity struct {
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Schema lists the entity kinds that get a projection table.
type Schema struct {
	Kinds []string
}

var (
	ErrNotFound     = errors.New("query: entity not found")
	ErrNotSupported = errors.New("query: not supported")
	ErrClosed       = errors.New("query: engine closed")
)

// New opens the projection database for the backend compiled into this
// build.
func New(cfg Config) (Engine, error) {
	if cfg.Backend != "" && cfg.Backend != compiled.backend {
		return nil, fmt.Errorf("%w: backend %q, built with %q", ErrNotSupported, cfg.Backend, compiled.backend)
	}
	return open(cfg)
}

// TableName maps an entity kind to its projection table.
func TableName(kind string) string {
	return "ledger_" + kind
}

// LedgerSchema returns the projection schema for kinds.
func LedgerSchema(kinds []string) Schema {
	return Schema{Kinds: append([]string(nil), kinds...)}
}
