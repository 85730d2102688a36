package convcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reverie-chat/reverie/pkg/chat"
)

var _ Cache = (*Redis)(nil)

// Redis is the shared cache backend: one Redis list per channel, trimmed to
// the ring capacity on every append and expired at twice the staleness
// horizon so idle channels clean themselves up.
type Redis struct {
	client    *redis.Client
	maxLocal  int
	staleness time.Duration
}

// redisEntry is the wire form of one cached message.
type redisEntry struct {
	Content    string    `json:"content"`
	AuthorID   string    `json:"author_id"`
	AuthorName string    `json:"author_name"`
	Timestamp  time.Time `json:"timestamp"`
	IsBot      bool      `json:"is_bot"`
	Source     string    `json:"source"`
	Persisted  bool      `json:"persisted"`
}

// NewRedis builds a Redis-backed cache on an already-connected client.
// Non-positive arguments take the defaults.
func NewRedis(client *redis.Client, maxLocal int, staleness time.Duration) *Redis {
	if maxLocal <= 0 {
		maxLocal = defaultMaxLocal
	}
	if staleness <= 0 {
		staleness = defaultStaleness
	}
	return &Redis{client: client, maxLocal: maxLocal, staleness: staleness}
}

func (r *Redis) key(channelID string) string {
	return "reverie:convcache:" + channelID
}

func (r *Redis) Append(ctx context.Context, channelID string, msg chat.CachedMessage) error {
	raw, err := json.Marshal(redisEntry{
		Content:    msg.Content,
		AuthorID:   msg.AuthorID,
		AuthorName: msg.AuthorName,
		Timestamp:  msg.Timestamp,
		IsBot:      msg.IsBot,
		Source:     msg.Source,
	})
	if err != nil {
		return fmt.Errorf("convcache: marshal entry: %w", err)
	}

	key := r.key(channelID)
	pipe := r.client.TxPipeline()
	pipe.RPush(ctx, key, raw)
	pipe.LTrim(ctx, key, int64(-r.maxLocal), -1)
	pipe.Expire(ctx, key, 2*r.staleness)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("convcache: append %s: %w", channelID, err)
	}
	return nil
}

func (r *Redis) UserContext(ctx context.Context, channelID, userID string, limit int) ([]chat.CachedMessage, error) {
	entries, err := r.load(ctx, channelID)
	if err != nil {
		return nil, err
	}

	horizon := time.Now().Add(-r.staleness)
	out := make([]chat.CachedMessage, 0, limit)
	for _, e := range entries {
		if e.Timestamp.Before(horizon) {
			continue
		}
		if e.AuthorID != userID && !e.IsBot {
			continue
		}
		out = append(out, chat.CachedMessage{
			Content:    e.Content,
			AuthorID:   e.AuthorID,
			AuthorName: e.AuthorName,
			Timestamp:  e.Timestamp,
			IsBot:      e.IsBot,
			Source:     e.Source,
		})
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (r *Redis) Len(ctx context.Context, channelID string) (int, error) {
	entries, err := r.load(ctx, channelID)
	if err != nil {
		return 0, err
	}
	horizon := time.Now().Add(-r.staleness)
	n := 0
	for _, e := range entries {
		if !e.Timestamp.Before(horizon) {
			n++
		}
	}
	return n, nil
}

func (r *Redis) Clear(ctx context.Context, channelID string) error {
	if err := r.client.Del(ctx, r.key(channelID)).Err(); err != nil {
		return fmt.Errorf("convcache: clear %s: %w", channelID, err)
	}
	return nil
}

func (r *Redis) SyncWithStorage(ctx context.Context, channelID string, msg chat.CachedMessage, persisted bool) error {
	key := r.key(channelID)
	raws, err := r.client.LRange(ctx, key, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("convcache: sync %s: %w", channelID, err)
	}
	for i := len(raws) - 1; i >= 0; i-- {
		var e redisEntry
		if err := json.Unmarshal([]byte(raws[i]), &e); err != nil {
			continue
		}
		if e.AuthorID != msg.AuthorID || !e.Timestamp.Equal(msg.Timestamp) || e.Content != msg.Content {
			continue
		}
		e.Persisted = persisted
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("convcache: marshal entry: %w", err)
		}
		if err := r.client.LSet(ctx, key, int64(i), raw).Err(); err != nil {
			return fmt.Errorf("convcache: sync %s: %w", channelID, err)
		}
		return nil
	}
	return nil
}

// Close releases the underlying client.
func (r *Redis) Close() error {
	return r.client.Close()
}

func (r *Redis) load(ctx context.Context, channelID string) ([]redisEntry, error) {
	raws, err := r.client.LRange(ctx, r.key(channelID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("convcache: read %s: %w", channelID, err)
	}
	entries := make([]redisEntry, 0, len(raws))
	for _, raw := range raws {
		var e redisEntry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		entries = append(entries, e)
	}
	return entries, nil
}
