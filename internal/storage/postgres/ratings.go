package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/flippy-books/internal/db"
	"github.com/rajivgeraev/flippy-books/internal/models"
	"github.com/rajivgeraev/flippy-books/internal/trade"
)

// RatingRepository хранит оценки участников сделок
type RatingRepository struct {
	pool *pgxpool.Pool
}

func NewRatingRepository(pool *pgxpool.Pool) *RatingRepository {
	return &RatingRepository{pool: pool}
}

func (r *RatingRepository) HasRated(ctx context.Context, tradeID, userID uuid.UUID) (bool, error) {
	var exists bool
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM ratings WHERE trade_id = $1 AND rater_id = $2)
	`, tradeID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("ошибка проверки оценки: %w", err)
	}
	return exists, nil
}

func (r *RatingRepository) SaveRating(ctx context.Context, rating *models.Rating) error {
	_, err := db.Conn(ctx, r.pool).Exec(ctx, `
		INSERT INTO ratings (id, trade_id, rater_id, ratee_id, score, comment, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, rating.ID, rating.TradeID, rating.RaterID, rating.RateeID, rating.Score, rating.Comment, rating.CreatedAt)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("оценка сделки %s уже есть: %w", rating.TradeID, trade.ErrConflict)
		}
		return fmt.Errorf("ошибка сохранения оценки: %w", err)
	}
	return nil
}
