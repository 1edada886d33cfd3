package sweep_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/flippy-books/internal/models"
	"github.com/rajivgeraev/flippy-books/internal/storage/memory"
	"github.com/rajivgeraev/flippy-books/internal/sweep"
	"github.com/rajivgeraev/flippy-books/internal/trade"
)

type env struct {
	engine  *trade.Engine
	store   *memory.TradeStore
	books   *memory.BookRepository
	locks   *memory.LockTable
	guard   *trade.AvailabilityGuard
	sweeper *sweep.Sweeper
	now     time.Time
}

func newEnv(t *testing.T) *env {
	t.Helper()
	e := &env{
		store: memory.NewTradeStore(),
		books: memory.NewBookRepository(),
		locks: memory.NewLockTable(),
		now:   time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC),
	}
	e.guard = trade.NewAvailabilityGuard(e.locks)
	e.engine = trade.NewEngine(e.store, e.books, nil, e.guard)
	e.engine.SetNowFunc(func() time.Time { return e.now })
	e.sweeper = sweep.New(e.engine, e.store, e.guard, 7*24*time.Hour, time.Minute)
	e.sweeper.SetNowFunc(func() time.Time { return e.now })
	return e
}

func (e *env) propose(t *testing.T) *models.Trade {
	t.Helper()
	alice, bob := uuid.New(), uuid.New()
	tr, err := e.engine.Propose(context.Background(), trade.ProposeRequest{
		ProposerID:      alice,
		OfferedBookID:   e.books.AddBook(alice, "A").ID,
		RequestedBookID: e.books.AddBook(bob, "B").ID,
	})
	require.NoError(t, err)
	return tr
}

func TestSweeper_ExpiresStaleProposals(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	stale := e.propose(t)
	e.now = e.now.Add(6 * 24 * time.Hour)
	fresh := e.propose(t)
	e.now = e.now.Add(2 * 24 * time.Hour)

	res, err := e.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Expired)

	got, err := e.store.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeCancelled, got.Status)
	assert.Equal(t, trade.ReasonExpired, got.CancelReason)

	got, err = e.store.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TradeProposed, got.Status)

	snapshot, err := e.guard.Snapshot(ctx)
	require.NoError(t, err)
	assert.Len(t, snapshot, 2, "only the fresh trade keeps its books")
}

func TestSweeper_ReleasesLocksOfTerminalTrades(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	tr := e.propose(t)
	_, err := e.engine.Cancel(ctx, tr.ID, tr.ProposerID, "")
	require.NoError(t, err)

	// Имитируем сбой снятия блокировки после отмены
	require.NoError(t, e.locks.TryLockPair(ctx, tr.OfferedBookID, tr.RequestedBookID, tr.ID))

	res, err := e.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Released)

	snapshot, err := e.guard.Snapshot(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshot)
}

func TestSweeper_MissingTradeNeedsTwoPasses(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	book, other, ghost := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, e.guard.TryLockPair(ctx, book, other, ghost))

	res, err := e.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Released, "a lock may precede its trade record")

	e.now = e.now.Add(sweep.DefaultOrphanGrace)
	res, err = e.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Released)
}

func TestSweeper_MissingTradeKeptWithinGrace(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	e.sweeper.SetOrphanGrace(5 * time.Minute)
	book, other, slow := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, e.guard.TryLockPair(ctx, book, other, slow))

	// Несколько коротких проходов, пока сделка сохраняется
	for i := 0; i < 3; i++ {
		res, err := e.sweeper.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Released, "pass %d", i)
		e.now = e.now.Add(time.Minute)
	}

	holder, ok, err := e.guard.IsLocked(ctx, book)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, slow, holder)

	e.now = e.now.Add(2 * time.Minute)
	res, err := e.sweeper.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Released)
}

func TestSweeper_KeepsRestoredLocksOfOpenTrades(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	tr := e.propose(t)

	// Перезапуск: таблица блокировок пуста, сделки остались
	locks := memory.NewLockTable()
	guard := trade.NewAvailabilityGuard(locks)
	engine := trade.NewEngine(e.store, e.books, nil, guard)
	restored, err := engine.RestoreLocks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, restored)

	sweeper := sweep.New(engine, e.store, guard, 7*24*time.Hour, time.Minute)
	sweeper.SetNowFunc(func() time.Time { return e.now })
	for i := 0; i < 2; i++ {
		e.now = e.now.Add(sweep.DefaultOrphanGrace)
		res, err := sweeper.RunOnce(ctx)
		require.NoError(t, err)
		assert.Zero(t, res.Released)
	}

	snapshot, err := guard.Snapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[uuid.UUID]uuid.UUID{tr.OfferedBookID: tr.ID, tr.RequestedBookID: tr.ID}, snapshot)
}

func TestSweeper_RunStopsOnCancel(t *testing.T) {
	e := newEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		e.sweeper.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run не завершился после отмены")
	}
}
