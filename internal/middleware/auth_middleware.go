package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-books/internal/utils"
)

// UserIDKey - ключ c.Locals с uuid.UUID пользователя
const UserIDKey = "userID"

// UserID возвращает пользователя, сохранённого AuthMiddleware
func UserID(c fiber.Ctx) (uuid.UUID, bool) {
	id, ok := c.Locals(UserIDKey).(uuid.UUID)
	return id, ok && id != uuid.Nil
}

// AuthMiddleware создаёт middleware для проверки JWT
func AuthMiddleware(jwtService *utils.JWTService) fiber.Handler {
	return func(c fiber.Ctx) error {
		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing authorization header",
			})
		}

		// Проверяем Bearer токен
		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid authorization header format",
			})
		}

		userID, err := jwtService.ParseUserID(parts[1])
		if err != nil {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid or expired token",
			})
		}

		// Добавляем userID в контекст
		c.Locals(UserIDKey, userID)

		return c.Next()
	}
}
