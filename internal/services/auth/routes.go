package auth

import (
	"time"

	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/flippy-books/internal/middleware"
)

// SetupRoutes регистрирует маршруты в Fiber
func (s *AuthService) SetupRoutes(app *fiber.App) {
	app.Post("/api/auth/telegram", s.TelegramAuthHandler)

	// Защищенные маршруты
	protected := app.Group("/api/profile")
	protected.Use(middleware.AuthMiddleware(s.jwtService))

	protected.Get("/", func(c fiber.Ctx) error {
		userID, _ := middleware.UserID(c)
		return c.JSON(fiber.Map{
			"user_id":   userID,
			"timestamp": time.Now().Format(time.RFC3339),
		})
	})
}
