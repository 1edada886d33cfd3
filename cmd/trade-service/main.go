package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/rajivgeraev/flippy-books/internal/config"
	"github.com/rajivgeraev/flippy-books/internal/db"
	"github.com/rajivgeraev/flippy-books/internal/metrics"
	"github.com/rajivgeraev/flippy-books/internal/middleware"
	"github.com/rajivgeraev/flippy-books/internal/notify"
	"github.com/rajivgeraev/flippy-books/internal/services/auth"
	"github.com/rajivgeraev/flippy-books/internal/services/book"
	tradeapi "github.com/rajivgeraev/flippy-books/internal/services/trade"
	"github.com/rajivgeraev/flippy-books/internal/storage/memory"
	"github.com/rajivgeraev/flippy-books/internal/storage/postgres"
	"github.com/rajivgeraev/flippy-books/internal/storage/redislock"
	"github.com/rajivgeraev/flippy-books/internal/sweep"
	"github.com/rajivgeraev/flippy-books/internal/trade"
	"github.com/rajivgeraev/flippy-books/internal/utils"
	"github.com/rajivgeraev/flippy-books/internal/websocket"
)

// Число попыток подключения к RabbitMQ при старте
const rabbitAttempts = 5

type bookStore interface {
	trade.BookRepository
	book.Catalog
}

type userStore interface {
	trade.UserRepository
	auth.Accounts
}

// repositories - хранилища выбранного бэкенда
type repositories struct {
	trades  trade.TradeStore
	books   bookStore
	users   userStore
	ratings trade.RatingRepository
}

func main() {
	// Загружаем конфигурацию
	cfg := config.LoadConfig()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	repos := openRepositories(ctx, cfg)
	defer db.CloseDB()

	locks := openLocks(ctx, cfg)
	guard := trade.NewAvailabilityGuard(locks)
	tradeMetrics := metrics.Trades()

	// События сделок: лог, WebSocket и, если настроен, RabbitMQ
	manager := websocket.NewManager()
	sinks := []notify.Sink{notify.LogSink{}, notify.NewWebSocketSink(manager)}
	if cfg.RabbitMQConfig.URL != "" {
		conn, ch, err := notify.SetupConn(cfg.RabbitMQConfig.URL, cfg.RabbitMQConfig.Exchange, rabbitAttempts)
		if err != nil {
			log.Fatalf("❌ Ошибка подключения к RabbitMQ: %v", err)
		}
		defer closeRabbit(conn, ch)
		sinks = append(sinks, notify.NewRabbitPublisher(ch, cfg.RabbitMQConfig.Exchange))
	}
	fanout := notify.NewFanout(cfg.TradeConfig.DispatchWait, sinks...)
	fanout.SetMetrics(tradeMetrics)

	engine := trade.NewEngine(repos.trades, repos.books, repos.users, guard)
	engine.SetDispatcher(fanout)
	engine.SetMetrics(tradeMetrics)
	gate := trade.NewRatingGate(repos.trades, repos.ratings)

	// Таблица блокировок в памяти пуста после перезапуска: восстанавливаем
	// её из открытых сделок до приёма запросов
	restored, err := engine.RestoreLocks(ctx)
	if err != nil {
		log.Fatalf("❌ Ошибка восстановления блокировок книг: %v", err)
	}
	log.Printf("✅ Восстановлены блокировки книг для %d открытых сделок", restored)

	sweeper := sweep.New(engine, repos.trades, guard, cfg.TradeConfig.ProposalTTL, cfg.TradeConfig.SweepInterval)
	sweeper.SetMetrics(tradeMetrics)
	go sweeper.Run(ctx)

	jwtService := utils.NewJWTService(cfg.JWTSecret)

	// Создаём экземпляр Fiber
	app := fiber.New(fiber.Config{
		AppName:      "Flippy Books",
		ErrorHandler: middleware.ErrorHandler,
	})

	// Добавляем middleware
	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowCredentials: false,
	}))

	// Регистрируем маршруты
	auth.NewAuthService(cfg, jwtService, repos.users).SetupRoutes(app)
	bookService := book.NewBookService(repos.books, guard, jwtService)
	if cfg.CloudinaryConfig.Enabled() {
		bookService.SetCoverUploads(book.NewCoverUploads(cfg.CloudinaryConfig))
	}
	bookService.SetupRoutes(app)
	tradeapi.NewTradeService(engine, gate, repos.books, repos.users, jwtService).SetupRoutes(app)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))
	app.Get("/health", func(c fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// WebSocket работает на отдельном порту
	wsServer := &http.Server{
		Addr:              ":" + cfg.WebSocketPort,
		Handler:           websocket.Handler(manager, jwtService.ParseUserID),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("✅ WebSocket сервер запущен на порту %s", cfg.WebSocketPort)
		if err := wsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("❌ Ошибка WebSocket сервера: %v", err)
		}
	}()

	go func() {
		<-ctx.Done()
		log.Println("Остановка сервера...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Printf("Ошибка остановки HTTP сервера: %v", err)
		}
		if err := wsServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("Ошибка остановки WebSocket сервера: %v", err)
		}
		manager.Shutdown()
	}()

	// Запускаем сервер
	log.Printf("✅ Flippy Books запущен на порту %s", cfg.Port)
	if err := app.Listen(":" + cfg.Port); err != nil {
		log.Printf("❌ Ошибка HTTP сервера: %v", err)
	}

	// Дожидаемся доставки уже принятых событий
	fanout.Wait()
	log.Println("Сервер остановлен")
}

func openRepositories(ctx context.Context, cfg *config.Config) repositories {
	if cfg.TradeConfig.StoreBackend == config.BackendMemory {
		log.Println("⚠️ Сделки и книги хранятся в памяти процесса")
		return repositories{
			trades:  memory.NewTradeStore(),
			books:   memory.NewBookRepository(),
			users:   memory.NewUserRepository(),
			ratings: memory.NewRatingRepository(),
		}
	}

	// Инициализируем базу данных
	if err := db.InitDB(cfg); err != nil {
		log.Fatalf("❌ Ошибка при инициализации базы данных: %v", err)
	}
	if err := db.Migrate(ctx, db.Pool); err != nil {
		log.Fatalf("❌ Ошибка миграции: %v", err)
	}
	return repositories{
		trades:  postgres.NewTradeStore(db.Pool),
		books:   postgres.NewBookRepository(db.Pool),
		users:   postgres.NewUserRepository(db.Pool),
		ratings: postgres.NewRatingRepository(db.Pool),
	}
}

func openLocks(ctx context.Context, cfg *config.Config) trade.LockBackend {
	if cfg.TradeConfig.LockBackend != config.BackendRedis {
		return memory.NewLockTable()
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisConfig.Addr,
		Password: cfg.RedisConfig.Password,
		DB:       cfg.RedisConfig.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		log.Fatalf("❌ Ошибка подключения к Redis: %v", err)
	}
	log.Printf("✅ Блокировки книг хранятся в Redis %s", cfg.RedisConfig.Addr)
	return redislock.New(client, cfg.RedisConfig.KeyPrefix)
}

func closeRabbit(conn *amqp.Connection, ch *amqp.Channel) {
	if err := ch.Close(); err != nil {
		log.Printf("Ошибка закрытия канала RabbitMQ: %v", err)
	}
	if err := conn.Close(); err != nil {
		log.Printf("Ошибка закрытия соединения RabbitMQ: %v", err)
	}
}
