package notify

import (
	"context"
	"log"
)

// LogSink пишет события в журнал
type LogSink struct{}

func (LogSink) Name() string { return "log" }

func (LogSink) Deliver(_ context.Context, msg Message) error {
	log.Printf("Событие %s: сделка %s (%s) для пользователя %s", msg.Type, msg.TradeID, msg.Status, msg.RecipientID)
	return nil
}
