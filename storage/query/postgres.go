// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

//go:build postgres

package query

import (
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"
)

var compiled = dialect{
	backend:  BackendPostgres,
	jsonType: "JSONB",
	timeType: "TIMESTAMPTZ",
	bind:     func(n int) string { return "$" + strconv.Itoa(n) },
	upsert: `INSERT INTO %s (id, data, updated_at) VALUES ($1, $2, $3)
ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
}

func open(cfg Config) (Engine, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("postgres: url required")
	}
	db, err := sql.Open("postgres", cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &sqlEngine{db: db, d: compiled}, nil
}
