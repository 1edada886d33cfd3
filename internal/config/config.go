package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Backend хранилища для сделок и блокировок
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config структура конфигурации
type Config struct {
	Port             string
	WebSocketPort    string
	TelegramBotToken string
	JWTSecret        string
	DatabaseURL      string
	DatabaseConfig   DatabaseConfig
	RedisConfig      RedisConfig
	RabbitMQConfig   RabbitMQConfig
	CloudinaryConfig CloudinaryConfig
	TradeConfig      TradeConfig
	AppEnv           string
}

// DatabaseConfig содержит конфигурацию базы данных
type DatabaseConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
	MaxConns int32
	MinConns int32
}

// RedisConfig содержит конфигурацию Redis для таблицы блокировок книг
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
}

// RabbitMQConfig содержит конфигурацию публикации событий сделок
type RabbitMQConfig struct {
	URL      string
	Exchange string
}

// CloudinaryConfig содержит конфигурацию для загрузки обложек книг
type CloudinaryConfig struct {
	CloudName    string
	APIKey       string
	APISecret    string
	UploadFolder string
}

// Enabled сообщает, заданы ли ключи Cloudinary
func (c CloudinaryConfig) Enabled() bool {
	return c.CloudName != "" && c.APIKey != "" && c.APISecret != ""
}

// TradeConfig содержит параметры движка обменов
type TradeConfig struct {
	StoreBackend  string        // memory | postgres
	LockBackend   string        // memory | redis
	ProposalTTL   time.Duration // 0 - предложения не истекают
	SweepInterval time.Duration
	DispatchWait  time.Duration
}

// LoadConfig загружает переменные из .env
func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️ .env файл не найден, используем переменные окружения")
	}

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("❌ Ошибка конфигурации: %v", err)
	}

	return cfg
}

// FromEnv собирает конфигурацию из переменных окружения без проверки
func FromEnv() *Config {
	dbConfig := DatabaseConfig{
		Host:     getEnv("PGHOST", "localhost"),
		Port:     getEnv("PGPORT", "5432"),
		User:     getEnv("PGUSER", "flippy_user"),
		Password: getEnv("PGPASSWORD", "flippy_pass"),
		Name:     getEnv("PGDATABASE", "flippy"),
		SSLMode:  getEnv("PGSSLMODE", "disable"),
		MaxConns: int32(getEnvInt("PG_MAX_CONNS", 10)),
		MinConns: int32(getEnvInt("PG_MIN_CONNS", 2)),
	}

	// Формируем строку подключения к базе данных
	dbURL := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbConfig.User, dbConfig.Password, dbConfig.Host, dbConfig.Port, dbConfig.Name, dbConfig.SSLMode)

	return &Config{
		Port:             getEnv("PORT", "8080"),
		WebSocketPort:    getEnv("WS_PORT", "8081"),
		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		DatabaseURL:      getEnv("DATABASE_URL", dbURL),
		DatabaseConfig:   dbConfig,
		RedisConfig: RedisConfig{
			Addr:      getEnv("REDIS_ADDR", "localhost:6379"),
			Password:  getEnv("REDIS_PASSWORD", ""),
			DB:        getEnvInt("REDIS_DB", 0),
			KeyPrefix: getEnv("REDIS_LOCK_PREFIX", "flippy:book-lock:"),
		},
		RabbitMQConfig: RabbitMQConfig{
			URL:      getEnv("RABBITMQ_URL", ""),
			Exchange: getEnv("RABBITMQ_EXCHANGE", "flippy_trades"),
		},
		CloudinaryConfig: CloudinaryConfig{
			CloudName:    getEnv("CLOUDINARY_CLOUD_NAME", ""),
			APIKey:       getEnv("CLOUDINARY_API_KEY", ""),
			APISecret:    getEnv("CLOUDINARY_API_SECRET", ""),
			UploadFolder: getEnv("CLOUDINARY_UPLOAD_FOLDER", "flippy/books"),
		},
		TradeConfig: TradeConfig{
			StoreBackend:  getEnv("TRADE_STORE", BackendPostgres),
			LockBackend:   getEnv("TRADE_LOCKS", BackendMemory),
			ProposalTTL:   getEnvDuration("TRADE_PROPOSAL_TTL", 14*24*time.Hour),
			SweepInterval: getEnvDuration("TRADE_SWEEP_INTERVAL", 10*time.Minute),
			DispatchWait:  getEnvDuration("TRADE_DISPATCH_TIMEOUT", 5*time.Second),
		},
		AppEnv: getEnv("APP_ENV", "production"), // По умолчанию production
	}
}

// Validate проверяет обязательные параметры
func (c *Config) Validate() error {
	if c.TelegramBotToken == "" || c.JWTSecret == "" {
		return errors.New("не заданы TELEGRAM_BOT_TOKEN или JWT_SECRET")
	}

	switch c.TradeConfig.StoreBackend {
	case BackendMemory, BackendPostgres:
	default:
		return fmt.Errorf("неизвестное хранилище сделок: %q", c.TradeConfig.StoreBackend)
	}

	// Сделки в памяти теряются при перезапуске
	if c.TradeConfig.StoreBackend == BackendMemory && !c.IsDevelopment() {
		return errors.New("TRADE_STORE=memory допустим только при APP_ENV=development")
	}

	switch c.TradeConfig.LockBackend {
	case BackendMemory, BackendRedis:
	default:
		return fmt.Errorf("неизвестное хранилище блокировок: %q", c.TradeConfig.LockBackend)
	}

	// Таблица в памяти восстанавливается из открытых сделок при старте,
	// но не разделяется между инстансами
	if c.AppEnv == "production" && c.TradeConfig.StoreBackend == BackendPostgres && c.TradeConfig.LockBackend == BackendMemory {
		log.Println("⚠️ Блокировки книг хранятся в памяти процесса: запускайте один инстанс или TRADE_LOCKS=redis")
	}

	if c.TradeConfig.SweepInterval <= 0 {
		return errors.New("TRADE_SWEEP_INTERVAL должен быть положительным")
	}

	return nil
}

// IsDevelopment сообщает, запущено ли приложение в режиме разработки
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// getEnv получает переменную окружения или использует дефолтное значение
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		log.Printf("⚠️ Некорректное значение %s=%q, используем %d", key, value, defaultValue)
		return defaultValue
	}
	return n
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value, exists := os.LookupEnv(key)
	if !exists {
		return defaultValue
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		log.Printf("⚠️ Некорректное значение %s=%q, используем %s", key, value, defaultValue)
		return defaultValue
	}
	return d
}
