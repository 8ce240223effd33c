package chatstore

import (
	"coachmeet/internal/core/ports"
	"coachmeet/internal/infrastructure/chatstore/memory"
	redisstore "coachmeet/internal/infrastructure/chatstore/redis"
	"coachmeet/internal/infrastructure/chatstore/sqlite"
	"coachmeet/pkg/config"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Factory creates the chat store for the configured backend with fallback
// to memory. The chat subsystem treats a nil store as "no persistence", so
// backend "none" returns nil.
type Factory struct {
	cfg         *config.Config
	logger      *zap.SugaredLogger
	redisClient *redis.Client
}

func NewFactory(cfg *config.Config, logger *zap.SugaredLogger) *Factory {
	f := &Factory{cfg: cfg, logger: logger}

	if cfg.Store.Backend == "redis" {
		client, err := redisstore.NewRedisClient(
			cfg.Redis.Address,
			cfg.Redis.Password,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			logger,
		)
		if err != nil {
			logger.Warnw("failed to connect to Redis, chat store falls back to memory",
				"error", err,
			)
		} else {
			f.redisClient = client
		}
	}
	return f
}

// CreateChatStore returns the store for the configured backend, or nil when
// persistence is disabled.
func (f *Factory) CreateChatStore() ports.ChatStore {
	switch f.cfg.Store.Backend {
	case "none":
		return nil
	case "redis":
		if f.redisClient != nil {
			f.logger.Infow("using Redis chat store")
			return redisstore.NewRedisChatStore(f.redisClient, f.logger)
		}
		f.logger.Infow("using in-memory chat store")
		return memory.NewMemoryChatStore()
	case "sqlite":
		store, err := sqlite.Open(f.cfg.Store.SQLitePath, f.logger)
		if err != nil {
			f.logger.Warnw("failed to open sqlite chat store, falling back to memory",
				"path", f.cfg.Store.SQLitePath,
				"error", err,
			)
			return memory.NewMemoryChatStore()
		}
		f.logger.Infow("using sqlite chat store", "path", f.cfg.Store.SQLitePath)
		return store
	default:
		f.logger.Infow("using in-memory chat store")
		return memory.NewMemoryChatStore()
	}
}

// RedisClient exposes the shared client so the broadcast channel can reuse
// the same connection pool. Nil when redis is not in play.
func (f *Factory) RedisClient() *redis.Client {
	return f.redisClient
}

// Close releases the shared redis client if one was created.
func (f *Factory) Close() error {
	if f.redisClient != nil {
		return f.redisClient.Close()
	}
	return nil
}
