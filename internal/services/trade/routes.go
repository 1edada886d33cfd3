package trade

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/flippy-books/internal/middleware"
)

// SetupRoutes настраивает маршруты для API обменов
func (s *TradeService) SetupRoutes(app *fiber.App) {
	// Группа для API обменов
	api := app.Group("/api/trades")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	api.Post("/", s.CreateTrade)
	api.Get("/", s.GetMyTrades)
	api.Get("/:id", s.GetTrade)

	// Прежний маршрут Flippy для принятия, отклонения и отмены
	api.Put("/:id/status", s.UpdateTradeStatus)

	api.Post("/:id/respond", s.RespondTrade)
	api.Post("/:id/cancel", s.CancelTrade)
	api.Post("/:id/complete", s.CompleteTrade)

	api.Get("/:id/rating", s.GetRatingEligibility)
	api.Post("/:id/rating", s.SubmitRating)
}
