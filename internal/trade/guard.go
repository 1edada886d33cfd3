package trade

import (
	"bytes"
	"context"
	"fmt"

	"github.com/google/uuid"
)

// AvailabilityGuard - единственный источник истины о том, занята ли книга
type AvailabilityGuard struct {
	backend LockBackend
}

// NewAvailabilityGuard создаёт guard поверх хранилища блокировок
func NewAvailabilityGuard(backend LockBackend) *AvailabilityGuard {
	return &AvailabilityGuard{backend: backend}
}

// OrderPair упорядочивает книги по возрастанию идентификатора
func OrderPair(a, b uuid.UUID) (uuid.UUID, uuid.UUID) {
	if bytes.Compare(a[:], b[:]) > 0 {
		return b, a
	}
	return a, b
}

// TryLockPair атомарно закрепляет обе книги за сделкой или не закрепляет ни одной.
// Порядок аргументов не влияет на порядок захвата.
func (g *AvailabilityGuard) TryLockPair(ctx context.Context, bookA, bookB, tradeID uuid.UUID) error {
	if bookA == bookB {
		return validationf("нельзя обменять книгу саму на себя")
	}
	if tradeID == uuid.Nil {
		return validationf("пустой идентификатор сделки")
	}
	first, second := OrderPair(bookA, bookB)
	if err := g.backend.TryLockPair(ctx, first, second, tradeID); err != nil {
		return fmt.Errorf("блокировка книг %s и %s: %w", first, second, err)
	}
	return nil
}

// Release снимает блокировку книги. Повторный вызов не является ошибкой.
func (g *AvailabilityGuard) Release(ctx context.Context, bookID uuid.UUID) error {
	return g.backend.Release(ctx, bookID)
}

// ReleaseFor снимает блокировку, только если книга всё ещё закреплена за сделкой.
// Так завершение одной сделки не может освободить книгу, уже занятую другой.
func (g *AvailabilityGuard) ReleaseFor(ctx context.Context, bookID, tradeID uuid.UUID) error {
	return g.backend.ReleaseHeld(ctx, bookID, tradeID)
}

// IsLocked возвращает сделку, за которой закреплена книга
func (g *AvailabilityGuard) IsLocked(ctx context.Context, bookID uuid.UUID) (uuid.UUID, bool, error) {
	return g.backend.Holder(ctx, bookID)
}

// Snapshot возвращает все текущие записи блокировок
func (g *AvailabilityGuard) Snapshot(ctx context.Context) (map[uuid.UUID]uuid.UUID, error) {
	return g.backend.Snapshot(ctx)
}
