// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

//go:build !postgres

package query

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "github.com/mattn/go-sqlite3"
)

var compiled = dialect{
	backend:  BackendSQLite,
	jsonType: "TEXT",
	timeType: "DATETIME",
	bind:     func(int) string { return "?" },
	upsert: `INSERT INTO %s (id, data, updated_at) VALUES (?, ?, ?)
ON CONFLICT (id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
	setup: []string{"PRAGMA foreign_keys = ON"},
}

// open opens the ledger database file, creating its directory.
func open(cfg Config) (Engine, error) {
	path := cfg.URL
	if path == "" {
		path = filepath.Join(cfg.DataDir, "ledger.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Dir(path), err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// one writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}
	return &sqlEngine{db: db, d: compiled}, nil
}
