package auth

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/gofiber/fiber/v3"
	initdata "github.com/telegram-mini-apps/init-data-golang"

	"github.com/rajivgeraev/flippy-books/internal/config"
	"github.com/rajivgeraev/flippy-books/internal/models"
	"github.com/rajivgeraev/flippy-books/internal/trade"
	"github.com/rajivgeraev/flippy-books/internal/utils"
)

// initDataTTL - сколько живут подписанные данные Mini App
const initDataTTL = 24 * time.Hour

// Accounts находит или создаёт пользователя по профилю Telegram
type Accounts interface {
	UpsertTelegramUser(ctx context.Context, p models.TelegramProfile) (*models.User, error)
}

// AuthService – структура для обработки авторизации
type AuthService struct {
	cfg        *config.Config
	jwtService *utils.JWTService
	accounts   Accounts
}

// NewAuthService – конструктор AuthService
func NewAuthService(cfg *config.Config, jwtService *utils.JWTService, accounts Accounts) *AuthService {
	return &AuthService{
		cfg:        cfg,
		jwtService: jwtService,
		accounts:   accounts,
	}
}

// GetJWTService возвращает сервис токенов для middleware и WebSocket
func (s *AuthService) GetJWTService() *utils.JWTService {
	return s.jwtService
}

// TelegramAuthHandler проверяет initData, находит пользователя и возвращает JWT
func (s *AuthService) TelegramAuthHandler(c fiber.Ctx) error {
	var payload struct {
		InitData string `json:"init_data"`
	}

	if err := c.Bind().Body(&payload); err != nil || payload.InitData == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request"})
	}

	// Проверяем initData
	if err := initdata.Validate(payload.InitData, s.cfg.TelegramBotToken, initDataTTL); err != nil {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Invalid Telegram data"})
	}

	// Парсим данные
	data, err := initdata.Parse(payload.InitData)
	if err != nil || data.User.ID == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Failed to parse initData"})
	}

	user, err := s.accounts.UpsertTelegramUser(c.Context(), models.TelegramProfile{
		TelegramID:   data.User.ID,
		Username:     data.User.Username,
		FirstName:    data.User.FirstName,
		LastName:     data.User.LastName,
		PhotoURL:     data.User.PhotoURL,
		IsPremium:    data.User.IsPremium,
		LanguageCode: data.User.LanguageCode,
	})
	if err != nil {
		if errors.Is(err, trade.ErrAuthorization) || errors.Is(err, trade.ErrNotFound) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "User is disabled"})
		}
		log.Printf("Ошибка входа пользователя Telegram %d: %v", data.User.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to sign in"})
	}

	// Генерируем JWT
	jwtToken, err := s.jwtService.GenerateToken(user.ID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to generate JWT"})
	}

	return c.JSON(fiber.Map{
		"token": jwtToken,
		"user":  user,
	})
}
