package trade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-books/internal/models"
)

// RatingReason объясняет результат проверки права на оценку
type RatingReason string

const (
	ReasonEligible       RatingReason = "Eligible"
	ReasonNotCompleted   RatingReason = "NotCompleted"
	ReasonNotParticipant RatingReason = "NotParticipant"
	ReasonAlreadyRated   RatingReason = "AlreadyRated"
)

// ErrRatingNotAllowed - участник не может оставить оценку
var ErrRatingNotAllowed = fmt.Errorf("%w: оценка недоступна", ErrAuthorization)

// Eligibility - результат CanRate
type Eligibility struct {
	Allowed bool         `json:"allowed"`
	Reason  RatingReason `json:"reason"`
}

// RatingGate выводит право на оценку из конечного состояния сделки и истории оценок
type RatingGate struct {
	trades  TradeStore
	ratings RatingRepository
	nowFn   func() time.Time
}

// NewRatingGate создаёт RatingGate
func NewRatingGate(trades TradeStore, ratings RatingRepository) *RatingGate {
	return &RatingGate{trades: trades, ratings: ratings, nowFn: time.Now}
}

// CanRate проверяет, может ли пользователь оценить сделку
func (g *RatingGate) CanRate(ctx context.Context, tradeID, userID uuid.UUID) (Eligibility, error) {
	t, err := g.trades.Get(ctx, tradeID)
	if err != nil {
		return Eligibility{}, err
	}
	return g.eligibility(ctx, t, userID)
}

func (g *RatingGate) eligibility(ctx context.Context, t *models.Trade, userID uuid.UUID) (Eligibility, error) {
	if t.Status != models.TradeCompleted {
		return Eligibility{Reason: ReasonNotCompleted}, nil
	}
	if !t.IsParticipant(userID) {
		return Eligibility{Reason: ReasonNotParticipant}, nil
	}
	rated, err := g.ratings.HasRated(ctx, t.ID, userID)
	if err != nil {
		return Eligibility{}, fmt.Errorf("проверка оценок: %w", err)
	}
	if rated {
		return Eligibility{Reason: ReasonAlreadyRated}, nil
	}
	return Eligibility{Allowed: true, Reason: ReasonEligible}, nil
}

// SubmitRating сохраняет оценку второго участника, если гейт разрешает
func (g *RatingGate) SubmitRating(ctx context.Context, tradeID, raterID uuid.UUID, score int, comment string) (*models.Rating, error) {
	if score < models.MinRatingScore || score > models.MaxRatingScore {
		return nil, validationf("оценка должна быть от %d до %d", models.MinRatingScore, models.MaxRatingScore)
	}
	comment = strings.TrimSpace(comment)
	if utf8.RuneCountInString(comment) > maxMessageLength {
		return nil, validationf("комментарий длиннее %d символов", maxMessageLength)
	}

	t, err := g.trades.Get(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	verdict, err := g.eligibility(ctx, t, raterID)
	if err != nil {
		return nil, err
	}
	if !verdict.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrRatingNotAllowed, verdict.Reason)
	}

	rating := &models.Rating{
		ID:        uuid.New(),
		TradeID:   t.ID,
		RaterID:   raterID,
		RateeID:   t.Counterparty(raterID),
		Score:     score,
		Comment:   comment,
		CreatedAt: g.nowFn().UTC(),
	}
	if err := g.ratings.SaveRating(ctx, rating); err != nil {
		// Параллельная вторая оценка отсекается уникальным ключом хранилища
		if errors.Is(err, ErrStateConflict) {
			return nil, fmt.Errorf("%w: %s", ErrRatingNotAllowed, ReasonAlreadyRated)
		}
		return nil, fmt.Errorf("сохранение оценки: %w", err)
	}
	return rating, nil
}
