package trade

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/rajivgeraev/flippy-books/internal/metrics"
	"github.com/rajivgeraev/flippy-books/internal/models"
)

const (
	maxMessageLength = 500

	ReasonOwnershipChanged = "ownership changed"
	ReasonExpired          = "expired"
)

// Decision - ответ получателя на предложение
type Decision string

const (
	DecisionAccept  Decision = "accept"
	DecisionDecline Decision = "decline"
)

// ParseDecision разбирает решение, включая старые статусы Flippy
func ParseDecision(raw string) (Decision, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "accept", "accepted":
		return DecisionAccept, nil
	case "decline", "declined", "reject", "rejected":
		return DecisionDecline, nil
	default:
		return "", validationf("неизвестное решение %q", raw)
	}
}

// ProposeRequest - входные данные нового предложения
type ProposeRequest struct {
	ProposerID      uuid.UUID
	OfferedBookID   uuid.UUID
	RequestedBookID uuid.UUID
	Message         string
}

// Engine - автомат состояний сделок обмена
type Engine struct {
	store      TradeStore
	books      BookRepository
	users      UserRepository
	guard      *AvailabilityGuard
	dispatcher Dispatcher
	metrics    *metrics.TradeMetrics
	nowFn      func() time.Time
	reads      singleflight.Group
}

// NewEngine создаёт движок. users может быть nil, тогда инициатор не проверяется.
func NewEngine(store TradeStore, books BookRepository, users UserRepository, guard *AvailabilityGuard) *Engine {
	return &Engine{
		store:      store,
		books:      books,
		users:      users,
		guard:      guard,
		dispatcher: NoopDispatcher{},
		nowFn:      time.Now,
	}
}

// SetDispatcher задаёт получателя событий
func (e *Engine) SetDispatcher(d Dispatcher) {
	if d == nil {
		e.dispatcher = NoopDispatcher{}
		return
	}
	e.dispatcher = d
}

// SetMetrics подключает счётчики; nil отключает их
func (e *Engine) SetMetrics(m *metrics.TradeMetrics) { e.metrics = m }

// SetNowFunc подменяет источник времени, в основном для тестов
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		e.nowFn = time.Now
		return
	}
	e.nowFn = now
}

func (e *Engine) now() time.Time {
	return e.nowFn().UTC()
}

// Propose создаёт новое предложение обмена и закрепляет обе книги за ним
func (e *Engine) Propose(ctx context.Context, req ProposeRequest) (*models.Trade, error) {
	t, err := e.propose(ctx, req)
	if err != nil {
		e.reject("propose", err)
		return nil, err
	}
	return t, nil
}

func (e *Engine) propose(ctx context.Context, req ProposeRequest) (*models.Trade, error) {
	if req.ProposerID == uuid.Nil || req.OfferedBookID == uuid.Nil || req.RequestedBookID == uuid.Nil {
		return nil, validationf("необходимо указать пользователя и обе книги")
	}
	if req.OfferedBookID == req.RequestedBookID {
		return nil, validationf("нельзя обменять книгу саму на себя")
	}
	message := strings.TrimSpace(req.Message)
	if utf8.RuneCountInString(message) > maxMessageLength {
		return nil, validationf("сообщение длиннее %d символов", maxMessageLength)
	}

	if e.users != nil {
		if _, err := e.users.GetUser(ctx, req.ProposerID); err != nil {
			return nil, fmt.Errorf("инициатор обмена: %w", err)
		}
	}

	offered, err := e.books.GetBook(ctx, req.OfferedBookID)
	if err != nil {
		return nil, fmt.Errorf("предлагаемая книга: %w", err)
	}
	requested, err := e.books.GetBook(ctx, req.RequestedBookID)
	if err != nil {
		return nil, fmt.Errorf("запрашиваемая книга: %w", err)
	}

	// Получатель определяется владельцем запрашиваемой книги
	receiverID := requested.OwnerID
	if receiverID == req.ProposerID {
		return nil, validationf("нельзя предложить обмен самому себе")
	}
	if offered.OwnerID != req.ProposerID {
		return nil, ErrNotBookOwner
	}

	tradeID := uuid.New()
	if err := e.guard.TryLockPair(ctx, offered.ID, requested.ID, tradeID); err != nil {
		if errors.Is(err, ErrBookUnavailable) {
			e.metrics.ObserveLockConflict()
		}
		return nil, err
	}

	now := e.now()
	created, err := e.store.Create(ctx, &models.Trade{
		ID:              tradeID,
		ProposerID:      req.ProposerID,
		ReceiverID:      receiverID,
		OfferedBookID:   offered.ID,
		RequestedBookID: requested.ID,
		Status:          models.TradeProposed,
		Message:         message,
		CreatedAt:       now,
		UpdatedAt:       now,
		Version:         1,
	})
	if err != nil {
		// Сделка не создана - книги не должны остаться занятыми
		e.releaseBooks(ctx, &models.Trade{ID: tradeID, OfferedBookID: offered.ID, RequestedBookID: requested.ID})
		return nil, fmt.Errorf("сохранение сделки: %w", err)
	}

	e.metrics.ObserveTransition(created.Status.String())
	e.emit(ctx, EventTradeRequest, created, created.ReceiverID)
	return created.Clone(), nil
}

// Respond принимает или отклоняет предложение от имени получателя
func (e *Engine) Respond(ctx context.Context, tradeID, actorID uuid.UUID, decision Decision) (*models.Trade, error) {
	var (
		t   *models.Trade
		err error
	)
	switch decision {
	case DecisionAccept:
		t, err = e.accept(ctx, tradeID, actorID)
	case DecisionDecline:
		t, err = e.decline(ctx, tradeID, actorID)
	default:
		err = validationf("неизвестное решение %q", decision)
	}
	if err != nil {
		e.reject(string(decision), err)
	}
	return t, err
}

func (e *Engine) accept(ctx context.Context, tradeID, actorID uuid.UUID) (*models.Trade, error) {
	current, err := e.load(ctx, tradeID, actorID, ActionAccept)
	if err != nil {
		return nil, err
	}

	ownershipChanged := false
	updated, err := e.store.CompareAndSwapStatus(ctx, tradeID, current.Status, func(ctx context.Context, t *models.Trade) error {
		intact, err := e.ownersIntact(ctx, t)
		if err != nil {
			return err
		}
		now := e.now()
		t.RespondedAt = &now
		if !intact {
			ownershipChanged = true
			t.CancelReason = ReasonOwnershipChanged
			return e.transition(t, models.TradeCancelled, now)
		}
		return e.transition(t, models.TradeAccepted, now)
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ObserveTransition(updated.Status.String())
	if ownershipChanged {
		log.Printf("Сделка %s отменена при принятии: владелец книги изменился", updated.ID)
		e.releaseBooks(ctx, updated)
		e.emit(ctx, EventTradeCancelled, updated, updated.ProposerID)
		return updated.Clone(), fmt.Errorf("сделка %s: %w", updated.ID, ErrOwnershipChanged)
	}

	e.emit(ctx, EventTradeAccepted, updated, updated.ProposerID)
	return updated.Clone(), nil
}

func (e *Engine) decline(ctx context.Context, tradeID, actorID uuid.UUID) (*models.Trade, error) {
	current, err := e.load(ctx, tradeID, actorID, ActionDecline)
	if err != nil {
		return nil, err
	}

	updated, err := e.store.CompareAndSwapStatus(ctx, tradeID, current.Status, func(_ context.Context, t *models.Trade) error {
		now := e.now()
		t.RespondedAt = &now
		return e.transition(t, models.TradeDeclined, now)
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ObserveTransition(updated.Status.String())
	e.releaseBooks(ctx, updated)
	e.emit(ctx, EventTradeDeclined, updated, updated.ProposerID)
	return updated.Clone(), nil
}

// Cancel отменяет открытую сделку по инициативе любого участника
func (e *Engine) Cancel(ctx context.Context, tradeID, actorID uuid.UUID, reason string) (*models.Trade, error) {
	t, err := e.cancel(ctx, tradeID, actorID, reason)
	if err != nil {
		e.reject(string(ActionCancel), err)
	}
	return t, err
}

func (e *Engine) cancel(ctx context.Context, tradeID, actorID uuid.UUID, reason string) (*models.Trade, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > maxMessageLength {
		return nil, validationf("причина длиннее %d символов", maxMessageLength)
	}

	current, err := e.load(ctx, tradeID, actorID, ActionCancel)
	if err != nil {
		return nil, err
	}

	updated, err := e.store.CompareAndSwapStatus(ctx, tradeID, current.Status, func(_ context.Context, t *models.Trade) error {
		by := actorID
		t.CancelledBy = &by
		t.CancelReason = reason
		return e.transition(t, models.TradeCancelled, e.now())
	})
	if err != nil {
		return nil, err
	}

	e.metrics.ObserveTransition(updated.Status.String())
	e.releaseBooks(ctx, updated)
	e.emit(ctx, EventTradeCancelled, updated, updated.Counterparty(actorID))
	return updated.Clone(), nil
}

// Expire отменяет устаревшее предложение от имени системы.
// Вызывается внешним планировщиком, не участниками.
func (e *Engine) Expire(ctx context.Context, tradeID uuid.UUID, reason string) (*models.Trade, error) {
	current, err := e.store.Get(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(current, ActionExpire, RoleSystem); err != nil {
		e.reject(string(ActionExpire), err)
		return nil, err
	}
	if reason == "" {
		reason = ReasonExpired
	}

	updated, err := e.store.CompareAndSwapStatus(ctx, tradeID, current.Status, func(_ context.Context, t *models.Trade) error {
		t.CancelReason = reason
		return e.transition(t, models.TradeCancelled, e.now())
	})
	if err != nil {
		e.reject(string(ActionExpire), err)
		return nil, err
	}

	e.metrics.ObserveTransition(updated.Status.String())
	e.releaseBooks(ctx, updated)
	e.emit(ctx, EventTradeCancelled, updated, updated.ProposerID)
	e.emit(ctx, EventTradeCancelled, updated, updated.ReceiverID)
	return updated.Clone(), nil
}

// Complete фиксирует подтверждение участника. Обмен завершается, когда
// подтвердили оба; повторное подтверждение той же стороны ничего не меняет.
func (e *Engine) Complete(ctx context.Context, tradeID, actorID uuid.UUID) (*models.Trade, error) {
	t, err := e.complete(ctx, tradeID, actorID)
	if err != nil {
		e.reject(string(ActionComplete), err)
	}
	return t, err
}

func (e *Engine) complete(ctx context.Context, tradeID, actorID uuid.UUID) (*models.Trade, error) {
	current, err := e.load(ctx, tradeID, actorID, ActionComplete)
	if err != nil {
		return nil, err
	}
	role := RoleOf(current, actorID)
	if confirmedBy(current, role) {
		return current, nil
	}

	updated, err := e.store.CompareAndSwapStatus(ctx, tradeID, current.Status, func(ctx context.Context, t *models.Trade) error {
		now := e.now()
		if role == RoleProposer {
			t.ProposerConfirmed = true
		} else {
			t.ReceiverConfirmed = true
		}
		t.UpdatedAt = now
		if !t.ProposerConfirmed || !t.ReceiverConfirmed {
			return nil
		}

		// Второе подтверждение: обмен владельцами в той же атомарной секции
		if err := e.books.SwapOwners(ctx, t.OfferedBookID, t.RequestedBookID, t.ProposerID, t.ReceiverID); err != nil {
			return fmt.Errorf("обмен владельцами: %w", err)
		}
		t.CompletedAt = &now
		return e.transition(t, models.TradeCompleted, now)
	})
	if err != nil {
		return nil, err
	}

	if updated.Status != models.TradeCompleted {
		e.emit(ctx, EventTradeConfirmed, updated, updated.Counterparty(actorID))
		return updated.Clone(), nil
	}

	e.metrics.ObserveTransition(updated.Status.String())
	e.releaseBooks(ctx, updated)
	e.emit(ctx, EventTradeCompleted, updated, updated.ProposerID)
	e.emit(ctx, EventTradeCompleted, updated, updated.ReceiverID)
	return updated.Clone(), nil
}

// Get возвращает сделку. Параллельные чтения одной сделки схлопываются в одно.
// Общее чтение не зависит от отмены контекста первого вызывающего; каждый
// вызывающий ждёт результат не дольше своего ctx.
func (e *Engine) Get(ctx context.Context, tradeID uuid.UUID) (*models.Trade, error) {
	shared := context.WithoutCancel(ctx)
	ch := e.reads.DoChan(tradeID.String(), func() (interface{}, error) {
		return e.store.Get(shared, tradeID)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*models.Trade).Clone(), nil
	}
}

// ListForUser возвращает сделки пользователя, новые первыми
func (e *Engine) ListForUser(ctx context.Context, userID uuid.UUID, filter models.TradeFilter) ([]*models.Trade, error) {
	if userID == uuid.Nil {
		return nil, validationf("пустой идентификатор пользователя")
	}
	return e.store.ListByUser(ctx, userID, filter)
}

// RestoreLocks заново закрепляет книги за открытыми сделками хранилища.
// Вызывается при старте до приёма запросов, когда таблица блокировок могла
// потеряться вместе с процессом. Повторный вызов ничего не меняет.
func (e *Engine) RestoreLocks(ctx context.Context) (int, error) {
	active, err := e.store.ListActive(ctx)
	if err != nil {
		return 0, fmt.Errorf("открытые сделки: %w", err)
	}

	restored := 0
	for _, t := range active {
		err := e.guard.TryLockPair(ctx, t.OfferedBookID, t.RequestedBookID, t.ID)
		if errors.Is(err, ErrBookUnavailable) {
			// Книга уже закреплена за более старой открытой сделкой
			log.Printf("Сделка %s: книги не восстановлены: %v", t.ID, err)
			e.metrics.ObserveLockConflict()
			continue
		}
		if err != nil {
			return restored, fmt.Errorf("сделка %s: %w", t.ID, err)
		}
		restored++
	}
	return restored, nil
}

// load читает сделку и проверяет право actorID на действие
func (e *Engine) load(ctx context.Context, tradeID, actorID uuid.UUID, action Action) (*models.Trade, error) {
	t, err := e.store.Get(ctx, tradeID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(t, action, RoleOf(t, actorID)); err != nil {
		return nil, err
	}
	return t, nil
}

// transition переводит сделку по ребру автомата
func (e *Engine) transition(t *models.Trade, to models.TradeStatus, now time.Time) error {
	if !CanTransition(t.Status, to) {
		return fmt.Errorf("%w: переход %s -> %s недопустим", ErrStateConflict, t.Status, to)
	}
	t.Status = to
	t.UpdatedAt = now
	return nil
}

func (e *Engine) ownersIntact(ctx context.Context, t *models.Trade) (bool, error) {
	offered, err := e.books.GetBook(ctx, t.OfferedBookID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	requested, err := e.books.GetBook(ctx, t.RequestedBookID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return offered.OwnerID == t.ProposerID && requested.OwnerID == t.ReceiverID, nil
}

// releaseBooks снимает блокировки после сохранённого перехода. Ошибка не
// откатывает переход: оставшуюся запись освободит sweep.
func (e *Engine) releaseBooks(ctx context.Context, t *models.Trade) {
	for _, bookID := range t.BookIDs() {
		if err := e.guard.ReleaseFor(ctx, bookID, t.ID); err != nil {
			log.Printf("Ошибка снятия блокировки книги %s (сделка %s): %v", bookID, t.ID, err)
			e.metrics.ObserveLockReleaseFailure()
		}
	}
}

func (e *Engine) emit(ctx context.Context, eventType EventType, t *models.Trade, recipientID uuid.UUID) {
	e.dispatcher.Emit(ctx, eventType, t.Clone(), recipientID)
}

func (e *Engine) reject(action string, err error) {
	e.metrics.ObserveRejection(action, ErrorClass(err))
}

func confirmedBy(t *models.Trade, role Role) bool {
	switch role {
	case RoleProposer:
		return t.ProposerConfirmed
	case RoleReceiver:
		return t.ReceiverConfirmed
	default:
		return false
	}
}

// ErrorClass возвращает короткое имя класса ошибки для метрик и логов
func ErrorClass(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrAuthorization):
		return "authorization"
	case errors.Is(err, ErrBookUnavailable):
		return "book_unavailable"
	case errors.Is(err, ErrStateConflict):
		return "state_conflict"
	default:
		return "internal"
	}
}
