package notify

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rajivgeraev/flippy-books/internal/metrics"
	"github.com/rajivgeraev/flippy-books/internal/models"
	"github.com/rajivgeraev/flippy-books/internal/trade"
)

const defaultMaxInFlight = 256

// Message - событие сделки, адресованное одному участнику
type Message struct {
	Type        trade.EventType `json:"type"`
	TradeID     uuid.UUID       `json:"trade_id"`
	RecipientID uuid.UUID       `json:"recipient_id"`
	Status      string          `json:"status"`
	Trade       *models.Trade   `json:"trade"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

// Sink доставляет сообщения одним транспортом
type Sink interface {
	Name() string
	Deliver(ctx context.Context, msg Message) error
}

// DispatchError - сбой доставки в конкретный транспорт
type DispatchError struct {
	Sink    string
	Event   trade.EventType
	TradeID uuid.UUID
	Err     error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: событие %s сделки %s: %v", e.Sink, e.Event, e.TradeID, e.Err)
}

func (e *DispatchError) Unwrap() []error { return []error{trade.ErrDispatch, e.Err} }

// Fanout рассылает события во все транспорты в фоне.
// Emit не блокирует: при переполнении событие отбрасывается и учитывается в метриках.
type Fanout struct {
	sinks   []Sink
	timeout time.Duration
	metrics *metrics.TradeMetrics
	group   errgroup.Group
	nowFn   func() time.Time
	onError func(*DispatchError)
}

// NewFanout создаёт рассыльщик. timeout ограничивает доставку одного события.
func NewFanout(timeout time.Duration, sinks ...Sink) *Fanout {
	f := &Fanout{sinks: sinks, timeout: timeout, nowFn: time.Now}
	f.group.SetLimit(defaultMaxInFlight)
	return f
}

func (f *Fanout) SetMetrics(m *metrics.TradeMetrics) { f.metrics = m }

// OnError задаёт дополнительный обработчик сбоев доставки
func (f *Fanout) OnError(fn func(*DispatchError)) { f.onError = fn }

func (f *Fanout) Emit(ctx context.Context, eventType trade.EventType, t *models.Trade, recipientID uuid.UUID) {
	msg := Message{
		Type:        eventType,
		TradeID:     t.ID,
		RecipientID: recipientID,
		Status:      t.Status.String(),
		Trade:       t,
		OccurredAt:  f.nowFn().UTC(),
	}
	// Доставка переживает запрос, который её породил
	base := context.WithoutCancel(ctx)

	started := f.group.TryGo(func() error {
		f.deliver(base, msg)
		return nil
	})
	if !started {
		f.fail(&DispatchError{Sink: "fanout", Event: eventType, TradeID: t.ID, Err: fmt.Errorf("очередь доставки переполнена")})
	}
}

func (f *Fanout) deliver(ctx context.Context, msg Message) {
	for _, sink := range f.sinks {
		sinkCtx := ctx
		cancel := func() {}
		if f.timeout > 0 {
			sinkCtx, cancel = context.WithTimeout(ctx, f.timeout)
		}
		err := sink.Deliver(sinkCtx, msg)
		cancel()
		if err != nil {
			f.fail(&DispatchError{Sink: sink.Name(), Event: msg.Type, TradeID: msg.TradeID, Err: err})
		}
	}
}

func (f *Fanout) fail(err *DispatchError) {
	log.Printf("Ошибка доставки уведомления: %v", err)
	f.metrics.ObserveDispatchFailure(err.Sink)
	if f.onError != nil {
		f.onError(err)
	}
}

// Wait дожидается доставки всех принятых событий
func (f *Fanout) Wait() {
	_ = f.group.Wait()
}
