// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"encoding/json"
	"fmt"
)

type pendingWrite struct {
	kind, id string
	raw      json.RawMessage
}

// writeSet buffers the writes of one event on top of the backing store.
// Reads see buffered writes first. Nothing reaches the store until commit,
// so a handler that fails part way leaves the store as it was.
type writeSet struct {
	base   Store
	writes []pendingWrite
	index  map[string]int
}

var _ Store = (*writeSet)(nil)

func newWriteSet(base Store) *writeSet {
	return &writeSet{base: base, index: make(map[string]int)}
}

func pendingKey(kind, id string) string { return kind + "/" + id }

func (w *writeSet) Load(ctx context.Context, kind, id string, dst any) (bool, error) {
	i, ok := w.index[pendingKey(kind, id)]
	if !ok {
		return w.base.Load(ctx, kind, id, dst)
	}
	if err := json.Unmarshal(w.writes[i].raw, dst); err != nil {
		return false, fmt.Errorf("decode pending %s %s: %w", kind, id, err)
	}
	return true, nil
}

func (w *writeSet) Save(_ context.Context, kind, id string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s %s: %w", kind, id, err)
	}
	key := pendingKey(kind, id)
	if i, ok := w.index[key]; ok {
		w.writes[i].raw = raw
		return nil
	}
	w.index[key] = len(w.writes)
	w.writes = append(w.writes, pendingWrite{kind: kind, id: id, raw: raw})
	return nil
}

func (w *writeSet) Has(ctx context.Context, kind, id string) (bool, error) {
	if _, ok := w.index[pendingKey(kind, id)]; ok {
		return true, nil
	}
	return w.base.Has(ctx, kind, id)
}

// commit writes the buffered entities in first-write order and clears the
// set. A store failure here is fatal for the replay like any other.
func (w *writeSet) commit(ctx context.Context) error {
	defer w.discard()
	for _, pw := range w.writes {
		if err := w.base.Save(ctx, pw.kind, pw.id, pw.raw); err != nil {
			return fmt.Errorf("save %s %s: %w", pw.kind, pw.id, err)
		}
	}
	return nil
}

func (w *writeSet) discard() {
	w.writes = w.writes[:0]
	clear(w.index)
}
