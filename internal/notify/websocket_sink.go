package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rajivgeraev/flippy-books/internal/websocket"
)

// WebSocketSink отправляет события в открытые соединения получателя.
// Если пользователь не в сети, событие не считается ошибкой.
type WebSocketSink struct {
	manager *websocket.Manager
}

func NewWebSocketSink(manager *websocket.Manager) *WebSocketSink {
	return &WebSocketSink{manager: manager}
}

func (s *WebSocketSink) Name() string { return "websocket" }

func (s *WebSocketSink) Deliver(_ context.Context, msg Message) error {
	payload, err := json.Marshal(msg.Trade)
	if err != nil {
		return fmt.Errorf("сериализация сделки: %w", err)
	}
	s.manager.SendToUser(msg.RecipientID, websocket.Event{
		Type:      websocket.EventTrade,
		Kind:      string(msg.Type),
		TradeID:   msg.TradeID.String(),
		UserID:    msg.RecipientID.String(),
		Timestamp: msg.OccurredAt,
		Payload:   payload,
	})
	return nil
}
