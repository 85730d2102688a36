// Package convcache implements the short-window conversation cache: a
// per-channel ring of recent messages used to give the pipeline cheap access
// to the immediate thread without querying a store.
//
// Two backends exist: an in-process ring ([Memory]) and a Redis-backed list
// ([Redis]) shared across replicas. [New] selects the backend from
// configuration and falls back to in-memory with a warning when Redis is
// unreachable.
package convcache

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reverie-chat/reverie/internal/config"
	"github.com/reverie-chat/reverie/pkg/chat"
)

// Cache is the conversation cache contract. All implementations drop entries
// older than the configured staleness horizon on read and evict beyond the
// ring capacity on write.
type Cache interface {
	// Append adds one message to the channel's ring, evicting the oldest
	// entry beyond capacity.
	Append(ctx context.Context, channelID string, msg chat.CachedMessage) error

	// UserContext returns the most recent messages authored by userID or by
	// the bot, in chronological order, at most limit.
	UserContext(ctx context.Context, channelID, userID string, limit int) ([]chat.CachedMessage, error)

	// Len reports how many live entries the channel currently holds. The
	// orchestrator uses it to decide whether a transport bootstrap is
	// needed.
	Len(ctx context.Context, channelID string) (int, error)

	// Clear drops all entries for the channel.
	Clear(ctx context.Context, channelID string) error

	// SyncWithStorage records whether the just-seen message was durably
	// persisted. Informational; it never affects reads.
	SyncWithStorage(ctx context.Context, channelID string, msg chat.CachedMessage, persisted bool) error
}

// New builds the cache selected by cfg. Redis mode probes the server first
// and falls back to the in-memory ring with a warning when unreachable, per
// the degraded-but-running policy used across the pipeline.
func New(ctx context.Context, cfg config.CacheConfig, log *slog.Logger) Cache {
	if log == nil {
		log = slog.Default()
	}
	if cfg.Mode != config.CacheModeRedis {
		return NewMemory(cfg.MaxLocal, cfg.Timeout())
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis cache unreachable, falling back to in-memory",
			"addr", cfg.RedisAddr, "error", err)
		_ = client.Close()
		return NewMemory(cfg.MaxLocal, cfg.Timeout())
	}
	return NewRedis(client, cfg.MaxLocal, cfg.Timeout())
}
