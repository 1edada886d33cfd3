package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rajivgeraev/flippy-books/internal/db"
	"github.com/rajivgeraev/flippy-books/internal/models"
	"github.com/rajivgeraev/flippy-books/internal/trade"
)

// UserRepository читает пользователей и связывает их с Telegram
type UserRepository struct {
	pool *pgxpool.Pool
}

func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetUser возвращает активного пользователя
func (r *UserRepository) GetUser(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	return getUserByID(ctx, db.Conn(ctx, r.pool), userID)
}

// GetUserByTelegramID получает пользователя по ID Telegram
func (r *UserRepository) GetUserByTelegramID(ctx context.Context, telegramID int64) (*models.User, error) {
	var userID uuid.UUID
	err := db.Conn(ctx, r.pool).QueryRow(ctx, `
		SELECT user_id FROM telegram_users WHERE telegram_id = $1
	`, telegramID).Scan(&userID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("пользователь Telegram %d: %w", telegramID, trade.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка поиска пользователя Telegram: %w", err)
	}
	return r.GetUser(ctx, userID)
}

// UpsertTelegramUser создаёт пользователя при первом входе через Telegram
// или обновляет профиль и время входа существующего
func (r *UserRepository) UpsertTelegramUser(ctx context.Context, p models.TelegramProfile) (*models.User, error) {
	var user *models.User
	err := db.InTx(ctx, r.pool, func(ctx context.Context, tx pgx.Tx) error {
		var userID uuid.UUID
		err := tx.QueryRow(ctx, `
			SELECT user_id FROM telegram_users WHERE telegram_id = $1
		`, p.TelegramID).Scan(&userID)

		switch {
		case errors.Is(err, pgx.ErrNoRows):
			err = tx.QueryRow(ctx, `
				INSERT INTO users (first_name, last_name, username, avatar_url, last_login_at)
				VALUES ($1, $2, $3, $4, CURRENT_TIMESTAMP)
				RETURNING id
			`, p.FirstName, p.LastName, p.Username, p.PhotoURL).Scan(&userID)
			if err != nil {
				return fmt.Errorf("ошибка при создании пользователя: %w", err)
			}
			_, err = tx.Exec(ctx, `
				INSERT INTO telegram_users (user_id, telegram_id, username, first_name, last_name, photo_url, is_premium, language_code)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			`, userID, p.TelegramID, p.Username, p.FirstName, p.LastName, p.PhotoURL, p.IsPremium, p.LanguageCode)
			if err != nil {
				return fmt.Errorf("ошибка при создании Telegram пользователя: %w", err)
			}
		case err != nil:
			return fmt.Errorf("ошибка при проверке пользователя Telegram: %w", err)
		default:
			_, err = tx.Exec(ctx, `
				UPDATE users SET last_login_at = CURRENT_TIMESTAMP WHERE id = $1
			`, userID)
			if err != nil {
				return fmt.Errorf("ошибка при обновлении времени входа: %w", err)
			}
			_, err = tx.Exec(ctx, `
				UPDATE telegram_users
				SET username = $1, first_name = $2, last_name = $3, photo_url = $4,
					is_premium = $5, language_code = $6, updated_at = CURRENT_TIMESTAMP
				WHERE telegram_id = $7
			`, p.Username, p.FirstName, p.LastName, p.PhotoURL, p.IsPremium, p.LanguageCode, p.TelegramID)
			if err != nil {
				return fmt.Errorf("ошибка при обновлении Telegram пользователя: %w", err)
			}
		}

		user, err = getUserByID(ctx, tx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return user, nil
}

func getUserByID(ctx context.Context, q db.Querier, userID uuid.UUID) (*models.User, error) {
	var user models.User
	var username, firstName, lastName, avatarURL pgtype.Text
	err := q.QueryRow(ctx, `
		SELECT id, username, first_name, last_name, avatar_url, is_active
		FROM users WHERE id = $1
	`, userID).Scan(&user.ID, &username, &firstName, &lastName, &avatarURL, &user.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("пользователь %s: %w", userID, trade.ErrNotFound)
		}
		return nil, fmt.Errorf("ошибка получения пользователя: %w", err)
	}
	if !user.IsActive {
		return nil, fmt.Errorf("пользователь %s отключён: %w", userID, trade.ErrNotFound)
	}

	// Преобразуем nullable поля
	user.Username = username.String
	user.FirstName = firstName.String
	user.LastName = lastName.String
	user.AvatarURL = avatarURL.String
	return &user, nil
}
