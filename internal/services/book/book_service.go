package book

import (
	"context"
	"errors"
	"log"
	"strings"
	"unicode/utf8"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"

	"github.com/rajivgeraev/flippy-books/internal/middleware"
	"github.com/rajivgeraev/flippy-books/internal/models"
	"github.com/rajivgeraev/flippy-books/internal/trade"
	"github.com/rajivgeraev/flippy-books/internal/utils"
)

const maxTitleLength = 200

// Catalog - хранилище книг пользователей
type Catalog interface {
	GetBook(ctx context.Context, bookID uuid.UUID) (*models.Book, error)
	CreateBook(ctx context.Context, ownerID uuid.UUID, draft models.BookDraft) (*models.Book, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Book, error)
}

// BookService представляет сервис для работы с книгами
type BookService struct {
	catalog    Catalog
	guard      *trade.AvailabilityGuard
	covers     *CoverUploads
	jwtService *utils.JWTService
}

// NewBookService создает новый экземпляр BookService
func NewBookService(catalog Catalog, guard *trade.AvailabilityGuard, jwtService *utils.JWTService) *BookService {
	return &BookService{
		catalog:    catalog,
		guard:      guard,
		jwtService: jwtService,
	}
}

// SetCoverUploads включает загрузку обложек; nil отключает её
func (s *BookService) SetCoverUploads(u *CoverUploads) { s.covers = u }

// BookView - книга и сделка, за которой она закреплена
type BookView struct {
	*models.Book
	Available bool       `json:"available"`
	TradeID   *uuid.UUID `json:"trade_id,omitempty"`
}

// CreateBook обрабатывает добавление книги на полку пользователя
func (s *BookService) CreateBook(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	var requestData struct {
		Title    string `json:"title"`
		Author   string `json:"author"`
		ImageURL string `json:"image_url"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	title := strings.TrimSpace(requestData.Title)
	if title == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Название обязательно"})
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Слишком длинное название"})
	}

	imageURL := strings.TrimSpace(requestData.ImageURL)
	if imageURL != "" && (s.covers == nil || !s.covers.Owns(imageURL)) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Недопустимый адрес обложки"})
	}

	book, err := s.catalog.CreateBook(c.Context(), userID, models.BookDraft{
		Title:    title,
		Author:   strings.TrimSpace(requestData.Author),
		ImageURL: imageURL,
	})
	if err != nil {
		log.Printf("Ошибка создания книги: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка при создании книги"})
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success": true,
		"book":    BookView{Book: book, Available: true},
		"message": "Книга успешно добавлена",
	})
}

// GetMyBooks возвращает книги текущего пользователя с признаком доступности
func (s *BookService) GetMyBooks(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	books, err := s.catalog.ListByOwner(c.Context(), userID)
	if err != nil {
		log.Printf("Ошибка получения книг: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка при получении книг"})
	}

	views := make([]BookView, 0, len(books))
	for _, book := range books {
		view, err := s.view(c.Context(), book)
		if err != nil {
			log.Printf("Ошибка проверки блокировки книги %s: %v", book.ID, err)
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка при получении книг"})
		}
		views = append(views, view)
	}

	return c.JSON(fiber.Map{
		"books": views,
		"count": len(views),
	})
}

// GetBook возвращает книгу по ID
func (s *BookService) GetBook(c fiber.Ctx) error {
	bookID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID книги"})
	}

	book, err := s.catalog.GetBook(c.Context(), bookID)
	if err != nil {
		if errors.Is(err, trade.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Книга не найдена"})
		}
		log.Printf("Ошибка получения книги: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка при получении книги"})
	}

	view, err := s.view(c.Context(), book)
	if err != nil {
		log.Printf("Ошибка проверки блокировки книги %s: %v", book.ID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Ошибка при получении книги"})
	}
	return c.JSON(fiber.Map{"book": view})
}

func (s *BookService) view(ctx context.Context, book *models.Book) (BookView, error) {
	holder, locked, err := s.guard.IsLocked(ctx, book.ID)
	if err != nil {
		return BookView{}, err
	}
	view := BookView{Book: book, Available: !locked}
	if locked {
		view.TradeID = &holder
	}
	return view, nil
}
