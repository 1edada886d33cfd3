package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnv_Defaults(t *testing.T) {
	t.Setenv("PGUSER", "u")
	t.Setenv("PGPASSWORD", "p")
	t.Setenv("PGHOST", "db")
	t.Setenv("PGPORT", "5433")
	t.Setenv("PGDATABASE", "books")
	t.Setenv("PGSSLMODE", "disable")

	cfg := FromEnv()

	assert.Equal(t, "postgres://u:p@db:5433/books?sslmode=disable", cfg.DatabaseURL)
	assert.Equal(t, BackendPostgres, cfg.TradeConfig.StoreBackend)
	assert.Equal(t, BackendMemory, cfg.TradeConfig.LockBackend)
	assert.Equal(t, 14*24*time.Hour, cfg.TradeConfig.ProposalTTL)
}

func TestFromEnv_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://override")
	t.Setenv("TRADE_LOCKS", "redis")
	t.Setenv("TRADE_PROPOSAL_TTL", "48h")
	t.Setenv("REDIS_DB", "3")

	cfg := FromEnv()

	assert.Equal(t, "postgres://override", cfg.DatabaseURL)
	assert.Equal(t, BackendRedis, cfg.TradeConfig.LockBackend)
	assert.Equal(t, 48*time.Hour, cfg.TradeConfig.ProposalTTL)
	assert.Equal(t, 3, cfg.RedisConfig.DB)
}

func TestFromEnv_BadNumbersFallBack(t *testing.T) {
	t.Setenv("REDIS_DB", "three")
	t.Setenv("TRADE_SWEEP_INTERVAL", "soon")

	cfg := FromEnv()

	assert.Equal(t, 0, cfg.RedisConfig.DB)
	assert.Equal(t, 10*time.Minute, cfg.TradeConfig.SweepInterval)
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := FromEnv()
		cfg.TelegramBotToken = "bot"
		cfg.JWTSecret = "secret"
		cfg.AppEnv = "test"
		return cfg
	}

	require.NoError(t, valid().Validate())

	cfg := valid()
	cfg.JWTSecret = ""
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.TradeConfig.StoreBackend = "mongo"
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.TradeConfig.LockBackend = "etcd"
	assert.Error(t, cfg.Validate())

	cfg = valid()
	cfg.TradeConfig.SweepInterval = 0
	assert.Error(t, cfg.Validate())
}

func TestValidate_MemoryStoreOnlyInDevelopment(t *testing.T) {
	cfg := FromEnv()
	cfg.TelegramBotToken = "bot"
	cfg.JWTSecret = "secret"
	cfg.TradeConfig.StoreBackend = BackendMemory

	cfg.AppEnv = "production"
	assert.False(t, cfg.IsDevelopment())
	assert.Error(t, cfg.Validate())

	cfg.AppEnv = "development"
	assert.True(t, cfg.IsDevelopment())
	assert.NoError(t, cfg.Validate())
}

func TestCloudinaryEnabled(t *testing.T) {
	cfg := CloudinaryConfig{CloudName: "demo", APIKey: "key"}
	assert.False(t, cfg.Enabled())

	cfg.APISecret = "secret"
	assert.True(t, cfg.Enabled())
}
