package convcache

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/reverie-chat/reverie/internal/config"
	"github.com/reverie-chat/reverie/pkg/chat"
)

func cachedMsg(author, content string, isBot bool, age time.Duration) chat.CachedMessage {
	return chat.CachedMessage{
		Content:    content,
		AuthorID:   author,
		AuthorName: author,
		Timestamp:  time.Now().Add(-age),
		IsBot:      isBot,
		Source:     "live",
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// In-memory backend
// ─────────────────────────────────────────────────────────────────────────────

func TestMemory_UserContextFiltersAuthors(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(50, 15*time.Minute)

	msgs := []chat.CachedMessage{
		cachedMsg("alice", "hello", false, 4*time.Minute),
		cachedMsg("bot", "hi alice", true, 3*time.Minute),
		cachedMsg("bob", "unrelated", false, 2*time.Minute),
		cachedMsg("alice", "how are you?", false, time.Minute),
	}
	for _, m := range msgs {
		if err := c.Append(ctx, "chan-1", m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := c.UserContext(ctx, "chan-1", "alice", 10)
	if err != nil {
		t.Fatalf("UserContext: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d messages, want 3 (alice x2 + bot)", len(got))
	}
	for _, m := range got {
		if m.AuthorID == "bob" {
			t.Errorf("other user's message leaked into context: %q", m.Content)
		}
	}
	for i := 1; i < len(got); i++ {
		if got[i].Timestamp.Before(got[i-1].Timestamp) {
			t.Errorf("context not chronological at index %d", i)
		}
	}
}

func TestMemory_RingEviction(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(3, 15*time.Minute)

	for i := 0; i < 5; i++ {
		m := cachedMsg("alice", fmt.Sprintf("msg %d", i), false, time.Duration(5-i)*time.Second)
		if err := c.Append(ctx, "chan-1", m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	n, err := c.Len(ctx, "chan-1")
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 3 {
		t.Fatalf("ring holds %d entries, want 3", n)
	}
	got, _ := c.UserContext(ctx, "chan-1", "alice", 10)
	if got[0].Content != "msg 2" {
		t.Errorf("oldest surviving entry = %q, want %q", got[0].Content, "msg 2")
	}
}

func TestMemory_StalenessHorizon(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(50, 15*time.Minute)

	if err := c.Append(ctx, "chan-1", cachedMsg("alice", "old", false, 20*time.Minute)); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := c.Append(ctx, "chan-1", cachedMsg("alice", "fresh", false, time.Minute)); err != nil {
		t.Fatalf("Append: %v", err)
	}

	got, err := c.UserContext(ctx, "chan-1", "alice", 10)
	if err != nil {
		t.Fatalf("UserContext: %v", err)
	}
	if len(got) != 1 || got[0].Content != "fresh" {
		t.Fatalf("got %v, want only the fresh message", got)
	}
}

func TestMemory_LimitKeepsNewest(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(50, 15*time.Minute)

	for i := 0; i < 6; i++ {
		m := cachedMsg("alice", fmt.Sprintf("msg %d", i), false, time.Duration(6-i)*time.Second)
		if err := c.Append(ctx, "chan-1", m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	got, err := c.UserContext(ctx, "chan-1", "alice", 2)
	if err != nil {
		t.Fatalf("UserContext: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].Content != "msg 4" || got[1].Content != "msg 5" {
		t.Errorf("limit kept %q, %q; want the two newest", got[0].Content, got[1].Content)
	}
}

func TestMemory_ClearAndIsolation(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(50, 15*time.Minute)

	_ = c.Append(ctx, "chan-1", cachedMsg("alice", "one", false, time.Minute))
	_ = c.Append(ctx, "chan-2", cachedMsg("alice", "two", false, time.Minute))

	if err := c.Clear(ctx, "chan-1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n, _ := c.Len(ctx, "chan-1"); n != 0 {
		t.Errorf("chan-1 holds %d entries after clear, want 0", n)
	}
	if n, _ := c.Len(ctx, "chan-2"); n != 1 {
		t.Errorf("chan-2 holds %d entries, want 1 (clear must not cross channels)", n)
	}
}

func TestMemory_SyncWithStorageIsSilent(t *testing.T) {
	ctx := context.Background()
	c := NewMemory(50, 15*time.Minute)

	m := cachedMsg("alice", "hello", false, time.Minute)
	_ = c.Append(ctx, "chan-1", m)

	if err := c.SyncWithStorage(ctx, "chan-1", m, true); err != nil {
		t.Fatalf("SyncWithStorage: %v", err)
	}
	// Marking an unknown message is a no-op, not an error.
	if err := c.SyncWithStorage(ctx, "chan-1", cachedMsg("bob", "ghost", false, time.Minute), false); err != nil {
		t.Fatalf("SyncWithStorage unknown message: %v", err)
	}
	got, _ := c.UserContext(ctx, "chan-1", "alice", 10)
	if len(got) != 1 {
		t.Fatalf("sync must not change reads, got %d messages", len(got))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Redis backend (integration, needs a live server)
// ─────────────────────────────────────────────────────────────────────────────

func newTestRedis(t *testing.T) *Redis {
	t.Helper()
	addr := os.Getenv("REVERIE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("REVERIE_TEST_REDIS_ADDR not set, skipping Redis cache tests")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("ping redis: %v", err)
	}
	r := NewRedis(client, 3, 15*time.Minute)
	t.Cleanup(func() {
		_ = client.Del(context.Background(), r.key("chan-redis")).Err()
		_ = client.Close()
	})
	return r
}

func TestRedis_AppendAndTrim(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	_ = r.Clear(ctx, "chan-redis")

	for i := 0; i < 5; i++ {
		m := cachedMsg("alice", fmt.Sprintf("msg %d", i), false, time.Duration(5-i)*time.Second)
		if err := r.Append(ctx, "chan-redis", m); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	n, err := r.Len(ctx, "chan-redis")
	if err != nil {
		t.Fatalf("Len: %v", err)
	}
	if n != 3 {
		t.Fatalf("list holds %d entries, want 3 after trim", n)
	}
	got, err := r.UserContext(ctx, "chan-redis", "alice", 10)
	if err != nil {
		t.Fatalf("UserContext: %v", err)
	}
	if got[0].Content != "msg 2" {
		t.Errorf("oldest surviving entry = %q, want %q", got[0].Content, "msg 2")
	}
}

func TestRedis_SyncWithStorage(t *testing.T) {
	ctx := context.Background()
	r := newTestRedis(t)
	_ = r.Clear(ctx, "chan-redis")

	m := cachedMsg("alice", "hello", false, time.Minute)
	if err := r.Append(ctx, "chan-redis", m); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := r.SyncWithStorage(ctx, "chan-redis", m, true); err != nil {
		t.Fatalf("SyncWithStorage: %v", err)
	}
	got, err := r.UserContext(ctx, "chan-redis", "alice", 10)
	if err != nil {
		t.Fatalf("UserContext: %v", err)
	}
	if len(got) != 1 || got[0].Content != "hello" {
		t.Fatalf("sync must not change reads, got %v", got)
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Backend selection
// ─────────────────────────────────────────────────────────────────────────────

func TestNew_FallsBackWhenRedisUnreachable(t *testing.T) {
	cfg := config.CacheConfig{
		Mode:           config.CacheModeRedis,
		RedisAddr:      "127.0.0.1:1", // nothing listens here
		TimeoutMinutes: 15,
		MaxLocal:       50,
	}
	c := New(context.Background(), cfg, nil)
	if _, ok := c.(*Memory); !ok {
		t.Fatalf("cache is %T, want *Memory fallback when redis is unreachable", c)
	}
}
