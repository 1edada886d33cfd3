package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-books/internal/models"
	"github.com/rajivgeraev/flippy-books/internal/trade"
)

// UserRepository - справочник пользователей в памяти
type UserRepository struct {
	mu         sync.RWMutex
	users      map[uuid.UUID]*models.User
	byTelegram map[int64]uuid.UUID
}

// NewUserRepository создаёт пустой справочник
func NewUserRepository() *UserRepository {
	return &UserRepository{
		users:      make(map[uuid.UUID]*models.User),
		byTelegram: make(map[int64]uuid.UUID),
	}
}

// AddUser регистрирует активного пользователя
func (r *UserRepository) AddUser(username string) *models.User {
	user := &models.User{ID: uuid.New(), Username: username, IsActive: true}

	r.mu.Lock()
	r.users[user.ID] = user
	r.mu.Unlock()

	copied := *user
	return &copied
}

// LinkTelegram связывает Telegram ID с пользователем
func (r *UserRepository) LinkTelegram(telegramID int64, userID uuid.UUID) {
	r.mu.Lock()
	r.byTelegram[telegramID] = userID
	r.mu.Unlock()
}

func (r *UserRepository) GetUser(_ context.Context, userID uuid.UUID) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[userID]
	if !ok || !user.IsActive {
		return nil, fmt.Errorf("пользователь %s: %w", userID, trade.ErrNotFound)
	}
	copied := *user
	return &copied, nil
}

func (r *UserRepository) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	r.mu.RLock()
	userID, ok := r.byTelegram[telegramID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("пользователь Telegram %d: %w", telegramID, trade.ErrNotFound)
	}
	return r.GetUser(ctx, userID)
}

// UpsertTelegramUser создаёт пользователя при первом входе через Telegram
// или обновляет профиль существующего
func (r *UserRepository) UpsertTelegramUser(_ context.Context, p models.TelegramProfile) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	userID, ok := r.byTelegram[p.TelegramID]
	user := r.users[userID]
	if !ok || user == nil {
		user = &models.User{ID: uuid.New(), IsActive: true}
		r.users[user.ID] = user
		r.byTelegram[p.TelegramID] = user.ID
	}
	if !user.IsActive {
		return nil, fmt.Errorf("пользователь %s отключён: %w", user.ID, trade.ErrAuthorization)
	}
	user.Username = p.Username
	user.FirstName = p.FirstName
	user.LastName = p.LastName
	user.AvatarURL = p.PhotoURL

	copied := *user
	return &copied, nil
}
