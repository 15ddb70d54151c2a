package cache

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/gofiber/storage/redis"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/sidebar-notepads/backend/internal/pkg/config"
)

// Redis database numbers shared by the process.
const (
	DBDefault    = 0
	DBSessions   = 1
	DBOAuthState = 2
)

// SetupCache connects to Redis. A failed ping is logged, not fatal, so the
// process can start while the cache recovers.
func SetupCache(cfg config.CacheConfig) *goredis.Client {
	client := goredis.NewClient(&goredis.Options{
		Addr:     net.JoinHostPort(cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       DBDefault,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if pong, err := client.Ping(ctx).Result(); err != nil {
		log.Warn().Err(err).Msg("could not connect to redis")
	} else {
		log.Info().Str("pong", pong).Msg("connected to redis")
	}
	return client
}

// Ping reports whether the cache answers within the context deadline.
func Ping(ctx context.Context, client *goredis.Client) error {
	if client == nil {
		return fmt.Errorf("redis client not initialized")
	}
	return client.Ping(ctx).Err()
}

// StorageConfig returns a fiber storage config that reuses the client's
// connection settings on another database.
func StorageConfig(client *goredis.Client, database int) redis.Config {
	host, port := "127.0.0.1", 6379
	opts := client.Options()
	if opts != nil && opts.Addr != "" {
		if h, p, err := net.SplitHostPort(opts.Addr); err == nil {
			host = h
			if parsed, e := strconv.Atoi(p); e == nil {
				port = parsed
			}
		} else {
			host = opts.Addr
		}
	}
	cfg := redis.Config{
		Host:     host,
		Port:     port,
		Database: database,
		Reset:    false,
	}
	if opts != nil {
		cfg.Username = opts.Username
		cfg.Password = opts.Password
	}
	return cfg
}

// NewStorage opens a fiber storage on the given Redis database.
func NewStorage(client *goredis.Client, database int) *redis.Storage {
	return redis.New(StorageConfig(client, database))
}
