package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/flippy-books/internal/models"
	"github.com/rajivgeraev/flippy-books/internal/trade"
)

func newProposed(proposer, receiver uuid.UUID, createdAt time.Time) *models.Trade {
	return &models.Trade{
		ID:              uuid.New(),
		ProposerID:      proposer,
		ReceiverID:      receiver,
		OfferedBookID:   uuid.New(),
		RequestedBookID: uuid.New(),
		Status:          models.TradeProposed,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
	}
}

func TestTradeStore_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	store := NewTradeStore()
	tr := newProposed(uuid.New(), uuid.New(), time.Now())

	created, err := store.Create(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, int64(1), created.Version)

	got, err := store.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, tr.ID, got.ID)

	_, err = store.Create(ctx, tr)
	assert.ErrorIs(t, err, trade.ErrConflict)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, trade.ErrNotFound)
}

func TestTradeStore_CompareAndSwapStatus(t *testing.T) {
	ctx := context.Background()
	store := NewTradeStore()
	tr := newProposed(uuid.New(), uuid.New(), time.Now())
	_, err := store.Create(ctx, tr)
	require.NoError(t, err)

	updated, err := store.CompareAndSwapStatus(ctx, tr.ID, models.TradeProposed, func(_ context.Context, t *models.Trade) error {
		t.Status = models.TradeAccepted
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, models.TradeAccepted, updated.Status)
	assert.Equal(t, int64(2), updated.Version)

	_, err = store.CompareAndSwapStatus(ctx, tr.ID, models.TradeProposed, func(_ context.Context, t *models.Trade) error {
		t.Status = models.TradeDeclined
		return nil
	})
	assert.ErrorIs(t, err, trade.ErrConflict)
	assert.ErrorIs(t, err, trade.ErrStateConflict)
}

func TestTradeStore_UpdateErrorPersistsNothing(t *testing.T) {
	ctx := context.Background()
	store := NewTradeStore()
	tr := newProposed(uuid.New(), uuid.New(), time.Now())
	_, err := store.Create(ctx, tr)
	require.NoError(t, err)

	boom := errors.New("boom")
	_, err = store.CompareAndSwapStatus(ctx, tr.ID, models.TradeProposed, func(_ context.Context, t *models.Trade) error {
		t.Status = models.TradeAccepted
		t.Message = "changed"
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := store.Get(ctx, tr.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeProposed, got.Status)
	assert.Empty(t, got.Message)
	assert.Equal(t, int64(1), got.Version)
}

func TestTradeStore_ListByUser(t *testing.T) {
	ctx := context.Background()
	store := NewTradeStore()
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	base := time.Now()

	older := newProposed(alice, bob, base.Add(-time.Hour))
	newer := newProposed(bob, alice, base)
	other := newProposed(bob, carol, base)
	declined := newProposed(alice, carol, base.Add(-2*time.Hour))
	declined.Status = models.TradeDeclined
	for _, tr := range []*models.Trade{older, newer, other, declined} {
		_, err := store.Create(ctx, tr)
		require.NoError(t, err)
	}

	all, err := store.ListByUser(ctx, alice, models.TradeFilter{Role: models.RoleAll})
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, newer.ID, all[0].ID)
	assert.Equal(t, older.ID, all[1].ID)
	assert.Equal(t, declined.ID, all[2].ID)

	outgoing, err := store.ListByUser(ctx, alice, models.TradeFilter{Role: models.RoleOutgoing})
	require.NoError(t, err)
	assert.Len(t, outgoing, 2)

	incoming, err := store.ListByUser(ctx, alice, models.TradeFilter{Role: models.RoleIncoming, Status: models.TradeProposed})
	require.NoError(t, err)
	require.Len(t, incoming, 1)
	assert.Equal(t, newer.ID, incoming[0].ID)

	stale, err := store.ListStale(ctx, models.TradeProposed, base.Add(-30*time.Minute))
	require.NoError(t, err)
	require.Len(t, stale, 1)
	assert.Equal(t, older.ID, stale[0].ID)
}

func TestBookRepository_SwapOwners(t *testing.T) {
	ctx := context.Background()
	books := NewBookRepository()
	alice, bob := uuid.New(), uuid.New()
	x := books.AddBook(alice, "Solaris")
	y := books.AddBook(bob, "Roadside Picnic")

	require.NoError(t, books.SwapOwners(ctx, x.ID, y.ID, alice, bob))

	gotX, _ := books.GetBook(ctx, x.ID)
	gotY, _ := books.GetBook(ctx, y.ID)
	assert.Equal(t, bob, gotX.OwnerID)
	assert.Equal(t, alice, gotY.OwnerID)

	// Повторный обмен с прежними ожиданиями отклоняется
	err := books.SwapOwners(ctx, x.ID, y.ID, alice, bob)
	assert.ErrorIs(t, err, trade.ErrOwnershipChanged)
}

func TestRatingRepository_RejectsDuplicate(t *testing.T) {
	ctx := context.Background()
	ratings := NewRatingRepository()
	rating := &models.Rating{ID: uuid.New(), TradeID: uuid.New(), RaterID: uuid.New(), Score: 5}

	require.NoError(t, ratings.SaveRating(ctx, rating))
	rated, err := ratings.HasRated(ctx, rating.TradeID, rating.RaterID)
	require.NoError(t, err)
	assert.True(t, rated)

	assert.ErrorIs(t, ratings.SaveRating(ctx, rating), trade.ErrConflict)
}
