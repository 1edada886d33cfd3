package trade_test

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajivgeraev/flippy-books/internal/models"
	"github.com/rajivgeraev/flippy-books/internal/trade"
)

func completedTrade(t *testing.T, f *fixture) *models.Trade {
	t.Helper()
	ctx := context.Background()
	tr := f.propose(t)
	_, err := f.engine.Respond(ctx, tr.ID, f.bob, trade.DecisionAccept)
	require.NoError(t, err)
	_, err = f.engine.Complete(ctx, tr.ID, f.alice)
	require.NoError(t, err)
	done, err := f.engine.Complete(ctx, tr.ID, f.bob)
	require.NoError(t, err)
	require.Equal(t, models.TradeCompleted, done.Status)
	return done
}

func TestRatingGate_Lifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := completedTrade(t, f)

	verdict, err := f.gate.CanRate(ctx, tr.ID, f.carol)
	require.NoError(t, err)
	assert.Equal(t, trade.Eligibility{Reason: trade.ReasonNotParticipant}, verdict)

	rating, err := f.gate.SubmitRating(ctx, tr.ID, f.alice, 5, "  отличная книга  ")
	require.NoError(t, err)
	assert.Equal(t, f.bob, rating.RateeID)
	assert.Equal(t, "отличная книга", rating.Comment)

	verdict, err = f.gate.CanRate(ctx, tr.ID, f.alice)
	require.NoError(t, err)
	assert.False(t, verdict.Allowed)
	assert.Equal(t, trade.ReasonAlreadyRated, verdict.Reason)

	// Вторая сторона оценивает независимо
	verdict, err = f.gate.CanRate(ctx, tr.ID, f.bob)
	require.NoError(t, err)
	assert.True(t, verdict.Allowed)

	_, err = f.gate.SubmitRating(ctx, tr.ID, f.alice, 4, "")
	assert.ErrorIs(t, err, trade.ErrRatingNotAllowed)
	assert.ErrorIs(t, err, trade.ErrAuthorization)
}

func TestRatingGate_NotCompletedStates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := f.propose(t)

	_, err := f.gate.SubmitRating(ctx, tr.ID, f.alice, 5, "")
	assert.ErrorIs(t, err, trade.ErrRatingNotAllowed)

	_, err = f.engine.Cancel(ctx, tr.ID, f.alice, "")
	require.NoError(t, err)

	verdict, err := f.gate.CanRate(ctx, tr.ID, f.bob)
	require.NoError(t, err)
	assert.Equal(t, trade.ReasonNotCompleted, verdict.Reason)

	_, err = f.gate.CanRate(ctx, uuid.New(), f.bob)
	assert.ErrorIs(t, err, trade.ErrNotFound)
}

func TestRatingGate_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := completedTrade(t, f)

	for _, score := range []int{0, 6, -1} {
		_, err := f.gate.SubmitRating(ctx, tr.ID, f.alice, score, "")
		assert.ErrorIs(t, err, trade.ErrValidation, "score %d", score)
	}
	_, err := f.gate.SubmitRating(ctx, tr.ID, f.alice, 3, strings.Repeat("я", 501))
	assert.ErrorIs(t, err, trade.ErrValidation)
}

func TestRatingGate_ConcurrentSubmitSavesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	tr := completedTrade(t, f)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.gate.SubmitRating(ctx, tr.ID, f.bob, 4, ""); err == nil {
				mu.Lock()
				success++
				mu.Unlock()
			} else {
				assert.ErrorIs(t, err, trade.ErrRatingNotAllowed)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, success)
}
