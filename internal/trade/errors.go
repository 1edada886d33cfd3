package trade

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Классы ошибок движка. Проверяются через errors.Is.
var (
	ErrValidation      = errors.New("некорректные данные")
	ErrNotFound        = errors.New("не найдено")
	ErrAuthorization   = errors.New("действие не разрешено")
	ErrNotBookOwner    = fmt.Errorf("%w: книга принадлежит другому пользователю", ErrAuthorization)
	ErrBookUnavailable = errors.New("книга уже участвует в другом обмене")
	ErrStateConflict   = errors.New("конфликт состояния сделки")
	ErrDispatch        = errors.New("ошибка доставки уведомления")
)

// ErrOwnershipChanged - книга сменила владельца, пока сделка была открыта
var ErrOwnershipChanged = fmt.Errorf("%w: владелец книги изменился", ErrStateConflict)

// ErrConflict возвращается хранилищем, когда сохранённый статус не совпал с ожидаемым
var ErrConflict = fmt.Errorf("%w: статус изменён параллельно", ErrStateConflict)

// BookUnavailableError уточняет, какая книга и какой сделкой занята
type BookUnavailableError struct {
	BookID  uuid.UUID
	TradeID uuid.UUID
}

func (e *BookUnavailableError) Error() string {
	return fmt.Sprintf("книга %s занята сделкой %s", e.BookID, e.TradeID)
}

func (e *BookUnavailableError) Unwrap() error { return ErrBookUnavailable }

// StateConflictError описывает недопустимый переход
type StateConflictError struct {
	TradeID uuid.UUID
	Status  string
	Action  Action
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("сделка %s в статусе %s: действие %s недопустимо", e.TradeID, e.Status, e.Action)
}

func (e *StateConflictError) Unwrap() error { return ErrStateConflict }

func validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
