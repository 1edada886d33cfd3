package trade

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/rajivgeraev/flippy-books/internal/middleware"
	"github.com/rajivgeraev/flippy-books/internal/models"
	engine "github.com/rajivgeraev/flippy-books/internal/trade"
	"github.com/rajivgeraev/flippy-books/internal/utils"
)

// Одновременные запросы к справочникам при обогащении списка
const enrichConcurrency = 8

// TradeService представляет HTTP-фронт движка обменов
type TradeService struct {
	engine     *engine.Engine
	gate       *engine.RatingGate
	books      engine.BookRepository
	users      engine.UserRepository
	jwtService *utils.JWTService
}

// NewTradeService создает новый экземпляр TradeService
func NewTradeService(e *engine.Engine, gate *engine.RatingGate, books engine.BookRepository, users engine.UserRepository, jwtService *utils.JWTService) *TradeService {
	return &TradeService{
		engine:     e,
		gate:       gate,
		books:      books,
		users:      users,
		jwtService: jwtService,
	}
}

// TradeView - сделка вместе с книгами и участниками
type TradeView struct {
	*models.Trade
	OfferedBook   *models.Book `json:"offered_book,omitempty"`
	RequestedBook *models.Book `json:"requested_book,omitempty"`
	Proposer      *models.User `json:"proposer,omitempty"`
	Receiver      *models.User `json:"receiver,omitempty"`
}

// CreateTrade создает новое предложение обмена
func (s *TradeService) CreateTrade(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	var requestData struct {
		OfferedBookID   string `json:"offered_book_id"`
		RequestedBookID string `json:"requested_book_id"`
		Message         string `json:"message"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	offeredID, err := uuid.Parse(requestData.OfferedBookID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID предлагаемой книги"})
	}
	requestedID, err := uuid.Parse(requestData.RequestedBookID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат ID запрашиваемой книги"})
	}

	t, err := s.engine.Propose(c.Context(), engine.ProposeRequest{
		ProposerID:      userID,
		OfferedBookID:   offeredID,
		RequestedBookID: requestedID,
		Message:         requestData.Message,
	})
	if err != nil {
		return writeError(c, err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":  true,
		"trade_id": t.ID,
		"trade":    t,
		"message":  "Предложение обмена успешно создано",
	})
}

// GetMyTrades возвращает список входящих и исходящих предложений обмена
func (s *TradeService) GetMyTrades(c fiber.Ctx) error {
	userID, ok := middleware.UserID(c)
	if !ok {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "Пользователь не авторизован"})
	}

	filter := models.TradeFilter{Role: models.TradeRole(c.Query("type", string(models.RoleAll)))}
	switch filter.Role {
	case models.RoleAll, models.RoleIncoming, models.RoleOutgoing:
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Недопустимый тип предложений"})
	}
	if status := c.Query("status", "all"); status != "all" {
		parsed, err := models.ParseTradeStatus(status)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Недопустимый статус предложения обмена"})
		}
		filter.Status = parsed
	}

	trades, err := s.engine.ListForUser(c.Context(), userID, filter)
	if err != nil {
		return writeError(c, err)
	}

	views, err := s.enrich(c.Context(), trades)
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"trades": views,
		"count":  len(views),
	})
}

// GetTrade возвращает сделку участнику
func (s *TradeService) GetTrade(c fiber.Ctx) error {
	userID, tradeID, err := s.identify(c)
	if err != nil {
		return err
	}

	t, err := s.engine.Get(c.Context(), tradeID)
	if err != nil {
		return writeError(c, err)
	}
	// Чужие сделки не раскрываем
	if !t.IsParticipant(userID) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Предложение обмена не найдено"})
	}

	views, err := s.enrich(c.Context(), []*models.Trade{t})
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"trade": views[0]})
}

// UpdateTradeStatus поддерживает прежний формат Flippy: accepted, rejected, canceled
func (s *TradeService) UpdateTradeStatus(c fiber.Ctx) error {
	userID, tradeID, err := s.identify(c)
	if err != nil {
		return err
	}

	var requestData struct {
		Status string `json:"status"` // accepted, rejected, canceled
	}
	if err := c.Bind().Body(&requestData); err != nil {
		log.Printf("Ошибка декодирования тела запроса: %v", err)
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	var (
		t       *models.Trade
		message string
	)
	switch strings.ToLower(requestData.Status) {
	case "accepted":
		t, err = s.engine.Respond(c.Context(), tradeID, userID, engine.DecisionAccept)
		message = "Предложение обмена принято"
	case "rejected", "declined":
		t, err = s.engine.Respond(c.Context(), tradeID, userID, engine.DecisionDecline)
		message = "Предложение обмена отклонено"
	case "canceled", "cancelled":
		t, err = s.engine.Cancel(c.Context(), tradeID, userID, "")
		message = "Предложение обмена отменено"
	default:
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Недопустимый статус предложения обмена"})
	}
	if err != nil {
		return writeError(c, err)
	}

	return c.JSON(fiber.Map{
		"success":  true,
		"message":  message,
		"trade_id": t.ID,
		"status":   t.Status,
		"trade":    t,
	})
}

// RespondTrade принимает или отклоняет предложение
func (s *TradeService) RespondTrade(c fiber.Ctx) error {
	userID, tradeID, err := s.identify(c)
	if err != nil {
		return err
	}

	var requestData struct {
		Decision string `json:"decision"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}
	decision, err := engine.ParseDecision(requestData.Decision)
	if err != nil {
		return writeError(c, err)
	}

	t, err := s.engine.Respond(c.Context(), tradeID, userID, decision)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "trade": t})
}

// CancelTrade отменяет сделку по инициативе участника
func (s *TradeService) CancelTrade(c fiber.Ctx) error {
	userID, tradeID, err := s.identify(c)
	if err != nil {
		return err
	}

	var requestData struct {
		Reason string `json:"reason"`
	}
	if len(c.Body()) > 0 {
		if err := c.Bind().Body(&requestData); err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
		}
	}

	t, err := s.engine.Cancel(c.Context(), tradeID, userID, requestData.Reason)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{"success": true, "trade": t})
}

// CompleteTrade подтверждает получение книги участником
func (s *TradeService) CompleteTrade(c fiber.Ctx) error {
	userID, tradeID, err := s.identify(c)
	if err != nil {
		return err
	}

	t, err := s.engine.Complete(c.Context(), tradeID, userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(fiber.Map{
		"success":   true,
		"completed": t.Status == models.TradeCompleted,
		"trade":     t,
	})
}

// GetRatingEligibility сообщает, может ли пользователь оценить сделку
func (s *TradeService) GetRatingEligibility(c fiber.Ctx) error {
	userID, tradeID, err := s.identify(c)
	if err != nil {
		return err
	}

	verdict, err := s.gate.CanRate(c.Context(), tradeID, userID)
	if err != nil {
		return writeError(c, err)
	}
	return c.JSON(verdict)
}

// SubmitRating сохраняет оценку второго участника
func (s *TradeService) SubmitRating(c fiber.Ctx) error {
	userID, tradeID, err := s.identify(c)
	if err != nil {
		return err
	}

	var requestData struct {
		Score   int    `json:"score"`
		Comment string `json:"comment"`
	}
	if err := c.Bind().Body(&requestData); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Неверный формат данных"})
	}

	rating, err := s.gate.SubmitRating(c.Context(), tradeID, userID, requestData.Score, requestData.Comment)
	if err != nil {
		return writeError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"success": true, "rating": rating})
}

// identify достаёт пользователя и ID сделки из запроса
func (s *TradeService) identify(c fiber.Ctx) (uuid.UUID, uuid.UUID, error) {
	userID, ok := middleware.UserID(c)
	if !ok {
		return uuid.Nil, uuid.Nil, fiber.NewError(fiber.StatusUnauthorized, "Пользователь не авторизован")
	}
	tradeID, err := uuid.Parse(c.Params("id"))
	if err != nil {
		return uuid.Nil, uuid.Nil, fiber.NewError(fiber.StatusBadRequest, "Неверный формат ID предложения обмена")
	}
	return userID, tradeID, nil
}

// enrich параллельно подгружает книги и участников. Отсутствующие записи
// остаются nil, как и раньше; прочие ошибки прерывают запрос.
func (s *TradeService) enrich(ctx context.Context, trades []*models.Trade) ([]TradeView, error) {
	views := make([]TradeView, len(trades))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)

	for i, t := range trades {
		views[i].Trade = t
		view := &views[i]
		g.Go(func() error {
			book, err := s.books.GetBook(ctx, t.OfferedBookID)
			if err = skipMissing(err); err != nil {
				return err
			}
			view.OfferedBook = book
			return nil
		})
		g.Go(func() error {
			book, err := s.books.GetBook(ctx, t.RequestedBookID)
			if err = skipMissing(err); err != nil {
				return err
			}
			view.RequestedBook = book
			return nil
		})
		if s.users == nil {
			continue
		}
		g.Go(func() error {
			user, err := s.users.GetUser(ctx, t.ProposerID)
			if err = skipMissing(err); err != nil {
				return err
			}
			view.Proposer = user
			return nil
		})
		g.Go(func() error {
			user, err := s.users.GetUser(ctx, t.ReceiverID)
			if err = skipMissing(err); err != nil {
				return err
			}
			view.Receiver = user
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return views, nil
}

func skipMissing(err error) error {
	if errors.Is(err, engine.ErrNotFound) {
		log.Printf("Связанная запись не найдена: %v", err)
		return nil
	}
	return err
}
