package cli

import (
	"fmt"
	"io"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	relay "github.com/offlinekit/relay"
	"github.com/offlinekit/relay/election/redislease"
	"github.com/offlinekit/relay/election/static"
	"github.com/offlinekit/relay/storage/memory"
	redisstore "github.com/offlinekit/relay/storage/redis"
	"github.com/offlinekit/relay/storage/sqlite"
)

// namedCollection is the daemon-side stand-in for a reactive collection.
// relayd only forwards payloads, so the id is all it carries.
type namedCollection struct {
	id string
}

func (c namedCollection) ID() string { return c.id }

// collectionRegistry builds a registry of named collections from config.
func collectionRegistry(ids []string) relay.CollectionRegistry {
	reg := make(relay.CollectionRegistry, len(ids))
	for _, id := range ids {
		reg[id] = namedCollection{id: id}
	}
	return reg
}

// buildStorage constructs the configured storage adapter. The returned
// closer releases backend handles; it may be a no-op.
func buildStorage(cfg DaemonConfig, logger *zap.Logger) (relay.StorageAdapter, io.Closer, error) {
	switch cfg.Storage {
	case "sqlite":
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite storage: %w", err)
		}
		logger.Info("using sqlite storage", zap.String("path", cfg.SQLitePath))
		return store, store, nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		logger.Info("using redis storage",
			zap.String("addr", cfg.RedisAddr), zap.String("hash", cfg.RedisHash))
		return redisstore.New(client, cfg.RedisHash), client, nil
	case "memory":
		logger.Warn("using in-memory storage: the outbox will not survive restarts")
		return memory.New(), nopCloser{}, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage kind %q", cfg.Storage)
	}
}

// buildElection constructs the configured leader election.
func buildElection(cfg DaemonConfig, logger *zap.Logger) (relay.LeaderElection, io.Closer, error) {
	switch cfg.Election {
	case "static":
		return static.New(), nopCloser{}, nil
	case "redislease":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		logger.Info("using redis lease election",
			zap.String("addr", cfg.RedisAddr), zap.String("key", cfg.LeaseKey))
		election := redislease.New(client, cfg.LeaseKey, redislease.WithTTL(cfg.LeaseTTL))
		return election, client, nil
	default:
		return nil, nil, fmt.Errorf("unknown election mode %q", cfg.Election)
	}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
