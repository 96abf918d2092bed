// Copyright (c) 2025 Lux Partners Limited
// SPDX-License-Identifier: MIT

package ledger

import (
	"context"
	"testing"

	"github.com/luxfi/database"
	"github.com/stretchr/testify/require"

	"github.com/luxfi/lending-indexer/storage/kv"
)

func TestWriteSetBuffersUntilCommit(t *testing.T) {
	ctx := context.Background()
	base := kv.NewMemory()
	defer base.Close()
	ws := newWriteSet(base)

	require.NoError(t, ws.Save(ctx, KindUser, "0x1", &User{ID: "0x1", BorrowedReservesCount: 1}))
	require.NoError(t, ws.Save(ctx, KindUser, "0x1", &User{ID: "0x1", BorrowedReservesCount: 2}))

	var u User
	ok, err := ws.Load(ctx, KindUser, "0x1", &u)
	require.NoError(t, err)
	require.True(t, ok)
	require.EqualValues(t, 2, u.BorrowedReservesCount)

	has, err := base.Has(ctx, KindUser, "0x1")
	require.NoError(t, err)
	require.False(t, has)

	require.NoError(t, ws.commit(ctx))
	got, err := Get[User](ctx, base, KindUser, "0x1")
	require.NoError(t, err)
	require.EqualValues(t, 2, got.BorrowedReservesCount)
	require.Empty(t, ws.writes)
}

func TestWriteSetDiscard(t *testing.T) {
	ctx := context.Background()
	base := kv.NewMemory()
	defer base.Close()
	ws := newWriteSet(base)

	require.NoError(t, ws.Save(ctx, KindPool, "p", &Pool{ID: "p"}))
	has, err := ws.Has(ctx, KindPool, "p")
	require.NoError(t, err)
	require.True(t, has)

	ws.discard()
	has, err = ws.Has(ctx, KindPool, "p")
	require.NoError(t, err)
	require.False(t, has)
	require.NoError(t, ws.commit(ctx))
	has, err = base.Has(ctx, KindPool, "p")
	require.NoError(t, err)
	require.False(t, has)
}

func TestWriteSetCommitError(t *testing.T) {
	ctx := context.Background()
	base := kv.NewMemory()
	ws := newWriteSet(base)
	require.NoError(t, ws.Save(ctx, KindPool, "p", &Pool{ID: "p"}))
	require.NoError(t, base.Close())

	err := ws.commit(ctx)
	require.ErrorIs(t, err, database.ErrClosed)
	require.Empty(t, ws.writes)
}
