package config

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisConfig locates the redis instance shared by the response cache, the
// rate limiter, the calendar token cache and the asynq review sweep.
type RedisConfig struct {
	URL      string // REDIS_URL, takes precedence over the discrete fields
	Addr     string
	Password string
	DB       int
	TLS      bool
}

func LoadRedisConfig() RedisConfig {
	rc := RedisConfig{
		URL:      envStr("REDIS_URL", ""),
		Addr:     envStr("REDIS_ADDR", "localhost:6379"),
		Password: envStr("REDIS_PASSWORD", ""),
		DB:       envInt("REDIS_DB", 0),
		TLS:      envBool("REDIS_TLS", false),
	}
	if host, port := envStr("REDIS_HOST", ""), envStr("REDIS_PORT", ""); host != "" && port != "" {
		rc.Addr = net.JoinHostPort(host, port)
	}
	return rc
}

// Options converts the config into client options.  A malformed REDIS_URL
// is reported rather than silently falling back to localhost.
func (rc RedisConfig) Options() (*redis.Options, error) {
	if rc.URL != "" {
		return redis.ParseURL(rc.URL)
	}
	opts := &redis.Options{Addr: rc.Addr, Password: rc.Password, DB: rc.DB}
	if rc.TLS {
		host, _, _ := net.SplitHostPort(rc.Addr)
		opts.TLSConfig = &tls.Config{ServerName: host, MinVersion: tls.VersionTLS12}
	}
	return opts, nil
}

// NewRedisClient connects using LoadRedisConfig.  It returns nil when redis
// is unreachable so callers can run without caching, rate limiting and the
// asynq sweep.
func NewRedisClient() *redis.Client {
	opts, err := LoadRedisConfig().Options()
	if err != nil {
		return nil
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}
