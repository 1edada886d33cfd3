package book

import (
	"github.com/gofiber/fiber/v3"

	"github.com/rajivgeraev/flippy-books/internal/middleware"
)

// SetupRoutes настраивает маршруты для API книг
func (s *BookService) SetupRoutes(app *fiber.App) {
	api := app.Group("/api/books")

	// Защищенные маршруты (требуют авторизации)
	api.Use(middleware.AuthMiddleware(s.jwtService))

	api.Post("/", s.CreateBook)
	api.Get("/my", s.GetMyBooks)
	api.Get("/upload/params", s.GetUploadParams)
	api.Get("/:id", s.GetBook)
}
