package trade

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-books/internal/models"
)

// UpdateFunc изменяет сделку внутри атомарной секции хранилища.
// Ошибка отменяет всё изменение.
type UpdateFunc func(ctx context.Context, t *models.Trade) error

// TradeStore - хранилище сделок с семантикой compare-and-swap
type TradeStore interface {
	Create(ctx context.Context, t *models.Trade) (*models.Trade, error)
	Get(ctx context.Context, tradeID uuid.UUID) (*models.Trade, error)
	// CompareAndSwapStatus применяет update, только если сохранённый статус
	// равен expected; иначе возвращает ErrConflict.
	CompareAndSwapStatus(ctx context.Context, tradeID uuid.UUID, expected models.TradeStatus, update UpdateFunc) (*models.Trade, error)
	ListByUser(ctx context.Context, userID uuid.UUID, filter models.TradeFilter) ([]*models.Trade, error)
	// ListStale возвращает сделки в статусе status, созданные раньше before.
	ListStale(ctx context.Context, status models.TradeStatus, before time.Time) ([]*models.Trade, error)
	// ListActive возвращает сделки в Proposed и Accepted, старые первыми.
	ListActive(ctx context.Context) ([]*models.Trade, error)
}

// BookRepository - внешний источник владельцев книг
type BookRepository interface {
	GetBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error)
	// SwapOwners меняет владельцев двух книг, если они всё ещё принадлежат
	// ожидаемым пользователям.
	SwapOwners(ctx context.Context, offeredBookID, requestedBookID, proposerID, receiverID uuid.UUID) error
}

// UserRepository - только чтение пользователей
type UserRepository interface {
	GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

// RatingRepository - история оценок
type RatingRepository interface {
	HasRated(ctx context.Context, tradeID, userID uuid.UUID) (bool, error)
	SaveRating(ctx context.Context, r *models.Rating) error
}

// LockBackend - хранилище записей bookId -> tradeId
type LockBackend interface {
	TryLockPair(ctx context.Context, first, second, tradeID uuid.UUID) error
	Release(ctx context.Context, bookID uuid.UUID) error
	// ReleaseHeld снимает блокировку, только если книга закреплена за tradeID
	ReleaseHeld(ctx context.Context, bookID, tradeID uuid.UUID) error
	Holder(ctx context.Context, bookID uuid.UUID) (uuid.UUID, bool, error)
	Snapshot(ctx context.Context) (map[uuid.UUID]uuid.UUID, error)
}
