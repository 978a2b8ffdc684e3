// Package cache provides the advisory caches that stand in for a live call
// object between stateless webhook turns. Durable storage stays the source
// of truth; every cache here can lose entries at any time.
package cache

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Backend is a byte-oriented key/value store with per-entry TTL.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Take atomically reads and removes an entry.
	Take(ctx context.Context, key string) ([]byte, bool, error)
}

// Config selects and sizes the shared cache backend.
type Config struct {
	Backend           string        `mapstructure:"backend"`
	Size              int           `mapstructure:"size"`
	SessionTTL        time.Duration `mapstructure:"session_ttl"`
	ProcessingTTL     time.Duration `mapstructure:"processing_ttl"`
	ReplyTTL          time.Duration `mapstructure:"reply_ttl"`
	ReplyMaxWords     int           `mapstructure:"reply_max_words"`
	RedisAddr         string        `mapstructure:"redis_addr"`
	RedisPassword     string        `mapstructure:"redis_password"`
	RedisDB           int           `mapstructure:"redis_db"`
	RedisPrefix       string        `mapstructure:"redis_prefix"`
	RedisDialTimeout  time.Duration `mapstructure:"redis_dial_timeout"`
	RedisReadTimeout  time.Duration `mapstructure:"redis_read_timeout"`
	RedisWriteTimeout time.Duration `mapstructure:"redis_write_timeout"`
}

// NewBackend builds the configured backend: "memory" (default) or "redis".
func NewBackend(cfg Config) (Backend, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Backend)) {
	case "", "memory", "lru":
		return NewLRUBackend(cfg.Size)
	case "redis":
		if strings.TrimSpace(cfg.RedisAddr) == "" {
			return nil, fmt.Errorf("cache.redis_addr is required for redis backend")
		}
		client := redis.NewClient(&redis.Options{
			Addr:         cfg.RedisAddr,
			Password:     cfg.RedisPassword,
			DB:           cfg.RedisDB,
			DialTimeout:  cfg.RedisDialTimeout,
			ReadTimeout:  cfg.RedisReadTimeout,
			WriteTimeout: cfg.RedisWriteTimeout,
		})
		return NewRedisBackend(client, cfg.RedisPrefix), nil
	default:
		return nil, fmt.Errorf("unsupported cache backend: %s", cfg.Backend)
	}
}
