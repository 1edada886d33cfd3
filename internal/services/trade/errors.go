package trade

import (
	"errors"
	"log"

	"github.com/gofiber/fiber/v3"

	engine "github.com/rajivgeraev/flippy-books/internal/trade"
)

// StatusFor переводит класс ошибки движка в HTTP-статус
func StatusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrValidation):
		return fiber.StatusBadRequest
	case errors.Is(err, engine.ErrAuthorization):
		return fiber.StatusForbidden
	case errors.Is(err, engine.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, engine.ErrBookUnavailable), errors.Is(err, engine.ErrStateConflict):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c fiber.Ctx, err error) error {
	status := StatusFor(err)
	if status == fiber.StatusInternalServerError {
		log.Printf("Ошибка обработки %s %s: %v", c.Method(), c.Path(), err)
		return c.Status(status).JSON(fiber.Map{"error": "Внутренняя ошибка сервера"})
	}
	return c.Status(status).JSON(fiber.Map{
		"error": err.Error(),
		"code":  engine.ErrorClass(err),
	})
}
