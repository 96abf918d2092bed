// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package kv

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/luxfi/database"
	"github.com/luxfi/database/memdb"
)

type testEntity struct {
	ID    string `json:"id"`
	Value int    `json:"value"`
}

func TestMemoryStore(t *testing.T) {
	store := NewMemory()
	defer store.Close()

	ctx := context.Background()

	t.Run("SaveLoad", func(t *testing.T) {
		in := testEntity{ID: "a", Value: 7}
		if err := store.Save(ctx, "reserve", in.ID, &in); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}

		var out testEntity
		ok, err := store.Load(ctx, "reserve", "a", &out)
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if !ok {
			t.Fatal("Expected entity to exist")
		}
		if out != in {
			t.Errorf("Expected %+v, got %+v", in, out)
		}
	})

	t.Run("LoadMissing", func(t *testing.T) {
		var out testEntity
		ok, err := store.Load(ctx, "reserve", "missing", &out)
		if err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if ok {
			t.Error("Expected entity to not exist")
		}
	})

	t.Run("KindsAreIsolated", func(t *testing.T) {
		if err := store.Save(ctx, "user", "shared", &testEntity{ID: "shared", Value: 1}); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
		has, err := store.Has(ctx, "user_reserve", "shared")
		if err != nil {
			t.Fatalf("Failed to check has: %v", err)
		}
		if has {
			t.Error("Expected id to be scoped to its kind")
		}
		has, err = store.Has(ctx, "user", "shared")
		if err != nil {
			t.Fatalf("Failed to check has: %v", err)
		}
		if !has {
			t.Error("Expected entity to exist")
		}
	})

	t.Run("Overwrite", func(t *testing.T) {
		if err := store.Save(ctx, "pool", "p", &testEntity{ID: "p", Value: 1}); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
		if err := store.Save(ctx, "pool", "p", &testEntity{ID: "p", Value: 2}); err != nil {
			t.Fatalf("Failed to save: %v", err)
		}
		var out testEntity
		if _, err := store.Load(ctx, "pool", "p", &out); err != nil {
			t.Fatalf("Failed to load: %v", err)
		}
		if out.Value != 2 {
			t.Errorf("Expected last write to win, got %d", out.Value)
		}
	})

	t.Run("List", func(t *testing.T) {
		for _, id := range []string{"r1:0xaa:1", "r1:0xbb:2", "r2:0xcc:1"} {
			if err := store.Save(ctx, "history", id, &testEntity{ID: id}); err != nil {
				t.Fatalf("Failed to save: %v", err)
			}
		}
		items, err := store.List(ctx, "history", "r1:", 0)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(items) != 2 {
			t.Fatalf("Expected 2 items, got %d", len(items))
		}
		var first testEntity
		if err := json.Unmarshal(items[0], &first); err != nil {
			t.Fatalf("Failed to decode: %v", err)
		}
		if first.ID != "r1:0xaa:1" {
			t.Errorf("Expected key order, got %s", first.ID)
		}

		items, err = store.List(ctx, "history", "", 1)
		if err != nil {
			t.Fatalf("Failed to list: %v", err)
		}
		if len(items) != 1 {
			t.Errorf("Expected limit to apply, got %d", len(items))
		}
	})

	t.Run("Meta", func(t *testing.T) {
		if _, err := store.GetMeta("checkpoint"); !errors.Is(err, database.ErrNotFound) {
			t.Fatalf("Expected ErrNotFound, got %v", err)
		}
		if err := store.PutMeta("checkpoint", []byte("42")); err != nil {
			t.Fatalf("Failed to put meta: %v", err)
		}
		v, err := store.GetMeta("checkpoint")
		if err != nil {
			t.Fatalf("Failed to get meta: %v", err)
		}
		if string(v) != "42" {
			t.Errorf("Expected '42', got '%s'", v)
		}
	})

	t.Run("HealthCheck", func(t *testing.T) {
		if _, err := store.HealthCheck(ctx); err != nil {
			t.Errorf("Health check failed: %v", err)
		}
	})
}

func TestClosedStore(t *testing.T) {
	store := NewMemory()
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Second close should be a no-op: %v", err)
	}

	ctx := context.Background()
	if err := store.Save(ctx, "pool", "p", &testEntity{}); !errors.Is(err, database.ErrClosed) {
		t.Errorf("Expected ErrClosed on save, got %v", err)
	}
	var out testEntity
	if _, err := store.Load(ctx, "pool", "p", &out); !errors.Is(err, database.ErrClosed) {
		t.Errorf("Expected ErrClosed on load, got %v", err)
	}
}

func TestInProcessSharesNodeDB(t *testing.T) {
	node := memdb.New()
	defer node.Close()

	store, err := New(Config{InProcess: true, NodeDB: node})
	if err != nil {
		t.Fatalf("Failed to open: %v", err)
	}
	ctx := context.Background()
	if err := store.Save(ctx, "pool", "p", &testEntity{ID: "p", Value: 3}); err != nil {
		t.Fatalf("Failed to save: %v", err)
	}

	iter := node.NewIteratorWithPrefix(DefaultPrefix)
	defer iter.Release()
	if !iter.Next() {
		t.Fatal("Expected ledger keys under the default prefix")
	}

	// the node owns its database
	if err := store.Close(); err != nil {
		t.Fatalf("Failed to close: %v", err)
	}
	if _, err := node.Has([]byte("x")); err != nil {
		t.Errorf("Node database should stay open: %v", err)
	}
}

func TestNewRequiresPath(t *testing.T) {
	if _, err := New(Config{}); err == nil {
		t.Error("Expected an error without a path")
	}
}
