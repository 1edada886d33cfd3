package trade_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/flippy-books/internal/storage/memory"
	"github.com/rajivgeraev/flippy-books/internal/trade"
)

func TestAvailabilityGuard_BothOrNeither(t *testing.T) {
	ctx := context.Background()
	guard := trade.NewAvailabilityGuard(memory.NewLockTable())
	x, y, z := uuid.New(), uuid.New(), uuid.New()
	first, second := uuid.New(), uuid.New()

	require.NoError(t, guard.TryLockPair(ctx, x, y, first))

	err := guard.TryLockPair(ctx, z, y, second)
	var unavailable *trade.BookUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, y, unavailable.BookID)
	assert.Equal(t, first, unavailable.TradeID)

	_, locked, err := guard.IsLocked(ctx, z)
	require.NoError(t, err)
	assert.False(t, locked, "failed pair must not lock the free book")
}

func TestAvailabilityGuard_RejectsBadInput(t *testing.T) {
	ctx := context.Background()
	guard := trade.NewAvailabilityGuard(memory.NewLockTable())
	book := uuid.New()

	assert.ErrorIs(t, guard.TryLockPair(ctx, book, book, uuid.New()), trade.ErrValidation)
	assert.ErrorIs(t, guard.TryLockPair(ctx, book, uuid.New(), uuid.Nil), trade.ErrValidation)
}

func TestAvailabilityGuard_ReleaseForKeepsForeignLock(t *testing.T) {
	ctx := context.Background()
	guard := trade.NewAvailabilityGuard(memory.NewLockTable())
	x, y := uuid.New(), uuid.New()
	stale, current := uuid.New(), uuid.New()

	require.NoError(t, guard.TryLockPair(ctx, x, y, current))
	require.NoError(t, guard.ReleaseFor(ctx, x, stale))

	holder, locked, err := guard.IsLocked(ctx, x)
	require.NoError(t, err)
	assert.True(t, locked)
	assert.Equal(t, current, holder)

	require.NoError(t, guard.ReleaseFor(ctx, x, current))
	require.NoError(t, guard.Release(ctx, y))
	require.NoError(t, guard.Release(ctx, y))

	snapshot, err := guard.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}
