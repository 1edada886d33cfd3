package models

import (
	"time"

	"github.com/google/uuid"
)

// Rating - оценка участника после завершённого обмена
type Rating struct {
	ID        uuid.UUID `json:"id"`
	TradeID   uuid.UUID `json:"trade_id"`
	RaterID   uuid.UUID `json:"rater_id"`
	RateeID   uuid.UUID `json:"ratee_id"`
	Score     int       `json:"score"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const (
	MinRatingScore = 1
	MaxRatingScore = 5
)
