// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package query

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
)

// dialect holds what differs between backends.
type dialect struct {
	backend Backend
	// column types for the document and its projection time
	jsonType string
	timeType string
	// bind returns the placeholder for the n-th argument, starting at 1.
	bind func(n int) string
	// upsert replaces a row keyed by id; %s is the table.
	upsert string
	// setup runs once per Init.
	setup []string
}

// sqlEngine implements Engine over database/sql.
type sqlEngine struct {
	db *sql.DB
	d  dialect

	mu     sync.RWMutex
	closed bool
}

var _ Engine = (*sqlEngine)(nil)

func (e *sqlEngine) Backend() Backend { return e.d.backend }

func (e *sqlEngine) Init(ctx context.Context) error {
	for _, stmt := range e.d.setup {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("%s setup: %w", e.d.backend, err)
		}
	}
	return nil
}

// InitSchema creates one table per kind plus an index on projection time so
// recently touched entities can be scanned cheaply. It is idempotent.
func (e *sqlEngine) InitSchema(ctx context.Context, schema Schema) error {
	for _, kind := range schema.Kinds {
		table := TableName(kind)
		ddl := []string{
			fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (\n  id TEXT NOT NULL PRIMARY KEY,\n  data %s NOT NULL,\n  updated_at %s NOT NULL\n)",
				table, e.d.jsonType, e.d.timeType),
			fmt.Sprintf("CREATE INDEX IF NOT EXISTS idx_%s_updated_at ON %s (updated_at)", table, table),
		}
		for _, stmt := range ddl {
			if _, err := e.db.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("create %s: %w", table, err)
			}
		}
	}
	return nil
}

func (e *sqlEngine) Ping(ctx context.Context) error {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return ErrClosed
	}
	return e.db.PingContext(ctx)
}

func (e *sqlEngine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.db.Close()
}

func (e *sqlEngine) UpsertEntity(ctx context.Context, table string, ent *Entity) error {
	return upsert(ctx, e.db, e.d, table, ent)
}

func (e *sqlEngine) GetEntity(ctx context.Context, table string, id string) (*Entity, error) {
	q := fmt.Sprintf("SELECT id, data, updated_at FROM %s WHERE id = %s", table, e.d.bind(1))
	var (
		ent  Entity
		data []byte
	)
	err := e.db.QueryRowContext(ctx, q, id).Scan(&ent.ID, &data, &ent.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ent.Data = data
	return &ent, nil
}

func (e *sqlEngine) Count(ctx context.Context, table string, where string, args ...any) (int64, error) {
	q := "SELECT COUNT(*) FROM " + table
	if where != "" {
		q += " WHERE " + where
	}
	var n int64
	err := e.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, err
}

func (e *sqlEngine) Begin(ctx context.Context) (Tx, error) {
	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqlTx{tx: tx, d: e.d}, nil
}

type sqlTx struct {
	tx *sql.Tx
	d  dialect
}

var _ Tx = (*sqlTx)(nil)

func (t *sqlTx) UpsertEntity(ctx context.Context, table string, ent *Entity) error {
	return upsert(ctx, t.tx, t.d, table, ent)
}

func (t *sqlTx) Commit() error   { return t.tx.Commit() }
func (t *sqlTx) Rollback() error { return t.tx.Rollback() }

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func upsert(ctx context.Context, db execer, d dialect, table string, ent *Entity) error {
	if ent.ID == "" {
		return fmt.Errorf("upsert %s: empty id", table)
	}
	_, err := db.ExecContext(ctx, fmt.Sprintf(d.upsert, table), ent.ID, string(ent.Data), ent.UpdatedAt.UTC())
	return err
}
