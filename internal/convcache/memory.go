package convcache

import (
	"context"
	"sync"
	"time"

	"github.com/reverie-chat/reverie/pkg/chat"
)

var _ Cache = (*Memory)(nil)

const (
	defaultMaxLocal  = 50
	defaultStaleness = 15 * time.Minute
)

// Memory is the in-process cache backend: one bounded ring per channel,
// guarded by a single mutex. Entries past the staleness horizon are filtered
// on read and compacted away on write.
type Memory struct {
	maxLocal  int
	staleness time.Duration

	mu       sync.Mutex
	channels map[string][]entry
}

type entry struct {
	msg       chat.CachedMessage
	persisted bool
}

// NewMemory builds an in-memory cache. Non-positive arguments take the
// defaults (ring of 50, 15 minute horizon).
func NewMemory(maxLocal int, staleness time.Duration) *Memory {
	if maxLocal <= 0 {
		maxLocal = defaultMaxLocal
	}
	if staleness <= 0 {
		staleness = defaultStaleness
	}
	return &Memory{
		maxLocal:  maxLocal,
		staleness: staleness,
		channels:  make(map[string][]entry),
	}
}

func (m *Memory) Append(_ context.Context, channelID string, msg chat.CachedMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ring := m.compactLocked(channelID)
	ring = append(ring, entry{msg: msg})
	if len(ring) > m.maxLocal {
		ring = ring[len(ring)-m.maxLocal:]
	}
	m.channels[channelID] = ring
	return nil
}

func (m *Memory) UserContext(_ context.Context, channelID, userID string, limit int) ([]chat.CachedMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	horizon := time.Now().Add(-m.staleness)
	out := make([]chat.CachedMessage, 0, limit)
	for _, e := range m.channels[channelID] {
		if e.msg.Timestamp.Before(horizon) {
			continue
		}
		if e.msg.AuthorID != userID && !e.msg.IsBot {
			continue
		}
		out = append(out, e.msg)
	}
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

func (m *Memory) Len(_ context.Context, channelID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.compactLocked(channelID)), nil
}

func (m *Memory) Clear(_ context.Context, channelID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.channels, channelID)
	return nil
}

func (m *Memory) SyncWithStorage(_ context.Context, channelID string, msg chat.CachedMessage, persisted bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ring := m.channels[channelID]
	for i := len(ring) - 1; i >= 0; i-- {
		e := ring[i]
		if e.msg.AuthorID == msg.AuthorID && e.msg.Timestamp.Equal(msg.Timestamp) && e.msg.Content == msg.Content {
			ring[i].persisted = persisted
			return nil
		}
	}
	return nil
}

// compactLocked drops stale entries for the channel and stores the surviving
// slice back. Caller holds mu.
func (m *Memory) compactLocked(channelID string) []entry {
	ring := m.channels[channelID]
	horizon := time.Now().Add(-m.staleness)
	live := ring[:0]
	for _, e := range ring {
		if !e.msg.Timestamp.Before(horizon) {
			live = append(live, e)
		}
	}
	if len(live) == 0 && ring != nil {
		delete(m.channels, channelID)
		return nil
	}
	m.channels[channelID] = live
	return live
}
