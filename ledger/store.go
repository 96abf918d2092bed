// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"fmt"
)

// Store is the keyed entity store the ledger reads and writes.
// Load reports false when no entity with that id exists. Save overwrites.
type Store interface {
	Load(ctx context.Context, kind, id string, dst any) (bool, error)
	Save(ctx context.Context, kind, id string, v any) error
	Has(ctx context.Context, kind, id string) (bool, error)
}

// load is a typed Load. The returned pointer is nil when the entity is absent.
func load[T any](ctx context.Context, s Store, kind, id string) (*T, error) {
	var v T
	ok, err := s.Load(ctx, kind, id, &v)
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	if !ok {
		return nil, nil
	}
	return &v, nil
}

func save(ctx context.Context, s Store, kind, id string, v any) error {
	if err := s.Save(ctx, kind, id, v); err != nil {
		return fmt.Errorf("save %s %s: %w", kind, id, err)
	}
	return nil
}

// Get loads a single entity for read-only callers such as the API.
func Get[T any](ctx context.Context, s Store, kind, id string) (*T, error) {
	return load[T](ctx, s, kind, id)
}
