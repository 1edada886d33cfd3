package trade

import (
	"context"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-books/internal/models"
)

// EventType определяет тип события жизненного цикла сделки
type EventType string

const (
	EventTradeRequest   EventType = "trade_request"
	EventTradeAccepted  EventType = "trade_accepted"
	EventTradeDeclined  EventType = "trade_declined"
	EventTradeCancelled EventType = "trade_cancelled"
	EventTradeConfirmed EventType = "trade_confirmed"
	EventTradeCompleted EventType = "trade_completed"
)

// Dispatcher получает события после каждого сохранённого перехода.
// Emit не должен блокировать вызывающего и не возвращает ошибок:
// сбой доставки не откатывает переход.
type Dispatcher interface {
	Emit(ctx context.Context, eventType EventType, t *models.Trade, recipientID uuid.UUID)
}

// NoopDispatcher отбрасывает события
type NoopDispatcher struct{}

func (NoopDispatcher) Emit(context.Context, EventType, *models.Trade, uuid.UUID) {}
