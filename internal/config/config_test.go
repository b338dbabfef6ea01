package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func setRequired(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("ACCESS_TOKEN_TTL_MIN", "15")
	t.Setenv("REFRESH_TOKEN_TTL_DAYS", "7")
	t.Setenv("BCRYPT_COST", "4")
}

func TestLoad_SQLiteDefaults(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DRIVER", "sqlite3")
	t.Setenv("DB_NAME", "reservations.db")

	cfg := Load()
	assert.Equal(t, "sqlite3", cfg.DBDriver)
	assert.Equal(t, "reservations.db", cfg.DBName)
	assert.Equal(t, ReaperTicker, cfg.ReaperMode)
	assert.Equal(t, 5*time.Minute, cfg.ReaperInterval)
	assert.Equal(t, "reservation.events", cfg.NotifyQueue)
	assert.False(t, cfg.Calendar.Enabled)
	assert.Equal(t, 15, cfg.AccessTTLMin)
}

func TestLoad_Overrides(t *testing.T) {
	setRequired(t)
	t.Setenv("DB_DSN", "postgres://u:p@db/reservations?sslmode=disable")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("REAPER_MODE", "ASYNQ")
	t.Setenv("REAPER_INTERVAL", "90s")
	t.Setenv("AMQP_URL", "amqp://guest:guest@mq:5672/")
	t.Setenv("CALENDAR_ENABLED", "true")
	t.Setenv("CALENDAR_TENANT_ID", "tenant-1")
	t.Setenv("CALENDAR_CLIENT_ID", "client")
	t.Setenv("CALENDAR_MAILBOX", "rooms@example.com")

	cfg := Load()
	assert.Equal(t, ReaperAsynq, cfg.ReaperMode)
	assert.Equal(t, 90*time.Second, cfg.ReaperInterval)
	assert.Equal(t, "amqp://guest:guest@mq:5672/", cfg.AMQPURL)
	assert.Equal(t, "https://login.microsoftonline.com/tenant-1/oauth2/v2.0/token", cfg.Calendar.TokenURL)
	assert.Equal(t, "memory", cfg.Calendar.TokenCache)
}

func TestLoadRateLimitConfig_Clamps(t *testing.T) {
	t.Setenv("RATE_LIMIT_CAPACITY", "0")
	t.Setenv("RATE_LIMIT_TTL", "1s")
	rl := LoadRateLimitConfig()
	assert.Equal(t, 1, rl.Capacity)
	assert.Equal(t, 5*time.Second, rl.TTL)
}

func TestLoadCacheConfig(t *testing.T) {
	t.Setenv("CACHE_METHODS", "get, head")
	cc := LoadCacheConfig()
	assert.True(t, cc.Methods["GET"])
	assert.True(t, cc.Methods["HEAD"])
	assert.Equal(t, 30*time.Second, cc.TTL)
}

func TestLoadRedisConfig(t *testing.T) {
	t.Setenv("REDIS_HOST", "cache.internal")
	t.Setenv("REDIS_PORT", "6380")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("REDIS_TLS", "true")

	opts, err := LoadRedisConfig().Options()
	assert.NoError(t, err)
	assert.Equal(t, "cache.internal:6380", opts.Addr)
	assert.Equal(t, 2, opts.DB)
	if assert.NotNil(t, opts.TLSConfig) {
		assert.Equal(t, "cache.internal", opts.TLSConfig.ServerName)
	}

	t.Setenv("REDIS_URL", "redis://:pw@other:6379/5")
	opts, err = LoadRedisConfig().Options()
	assert.NoError(t, err)
	assert.Equal(t, "other:6379", opts.Addr)
	assert.Equal(t, "pw", opts.Password)
	assert.Equal(t, 5, opts.DB)
}

func TestLoadRateLimitConfig_UnknownStrategy(t *testing.T) {
	t.Setenv("RATE_LIMIT_KEY_STRATEGY", "by-phase-of-moon")
	assert.Equal(t, "user_route", LoadRateLimitConfig().KeyStrategy)
}
