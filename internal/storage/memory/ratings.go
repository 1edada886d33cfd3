package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-books/internal/models"
	"github.com/rajivgeraev/flippy-books/internal/trade"
)

type ratingKey struct {
	tradeID uuid.UUID
	raterID uuid.UUID
}

// RatingRepository хранит оценки в памяти
type RatingRepository struct {
	mu      sync.RWMutex
	ratings map[ratingKey]models.Rating
}

// NewRatingRepository создаёт пустое хранилище оценок
func NewRatingRepository() *RatingRepository {
	return &RatingRepository{ratings: make(map[ratingKey]models.Rating)}
}

func (r *RatingRepository) HasRated(_ context.Context, tradeID, userID uuid.UUID) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.ratings[ratingKey{tradeID, userID}]
	return ok, nil
}

func (r *RatingRepository) SaveRating(_ context.Context, rating *models.Rating) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := ratingKey{rating.TradeID, rating.RaterID}
	if _, ok := r.ratings[key]; ok {
		return fmt.Errorf("оценка сделки %s уже есть: %w", rating.TradeID, trade.ErrConflict)
	}
	r.ratings[key] = *rating
	return nil
}
