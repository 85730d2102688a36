// Package mock provides in-memory test doubles for the memory store
// interfaces.
//
// Each mock records every method call for assertion in tests and exposes
// exported fields that control what the mock returns. All mocks are safe for
// concurrent use via an internal [sync.Mutex].
//
// Typical usage:
//
//	coll := &mock.Collection{}
//	coll.SearchResult = []memory.ScoredRecord{{Score: 0.9}}
//
//	// inject coll into the system under test …
//
//	if got := coll.CallCount("SearchByDimensions"); got != 1 {
//	    t.Errorf("expected 1 SearchByDimensions call, got %d", got)
//	}
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/memory"
)

// Call records the name and arguments of a single method invocation.
type Call struct {
	// Method is the name of the interface method that was called.
	Method string

	// Args holds the non-context arguments passed to the method, in order.
	Args []any
}

// calls is the shared call log embedded in every mock.
type calls struct {
	mu   sync.Mutex
	list []Call
}

func (c *calls) record(method string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list = append(c.list, Call{Method: method, Args: args})
}

// Calls returns a copy of all recorded method invocations.
func (c *calls) Calls() []Call {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Call, len(c.list))
	copy(out, c.list)
	return out
}

// CallCount returns how many times the named method was invoked.
func (c *calls) CallCount(method string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, call := range c.list {
		if call.Method == method {
			n++
		}
	}
	return n
}

// ─────────────────────────────────────────────────────────────────────────────
// Vector store mocks
// ─────────────────────────────────────────────────────────────────────────────

// Compile-time interface checks.
var (
	_ memory.VectorStore     = (*VectorStore)(nil)
	_ memory.Collection      = (*Collection)(nil)
	_ memory.RelationalStore = (*RelationalStore)(nil)
	_ memory.MetricStore     = (*MetricStore)(nil)
)

// VectorStore is a configurable test double for [memory.VectorStore]. It
// returns one shared [Collection] per persona, creating them on demand so that
// tests can pre-configure a collection before the system under test asks for it.
type VectorStore struct {
	calls

	mu          sync.Mutex
	collections map[string]*Collection
}

// Collection implements [memory.VectorStore].
func (m *VectorStore) Collection(personaID string) memory.Collection {
	m.record("Collection", personaID)
	return m.Persona(personaID)
}

// Persona returns the mock collection bound to personaID, creating it when
// absent. Use this in tests to configure results up front.
func (m *VectorStore) Persona(personaID string) *Collection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collections == nil {
		m.collections = make(map[string]*Collection)
	}
	c, ok := m.collections[personaID]
	if !ok {
		c = &Collection{Persona: personaID}
		m.collections[personaID] = c
	}
	return c
}

// Collection is a configurable test double for [memory.Collection]. Upserted
// records are retained and served by ScrollRecent in insertion order (newest
// first) so that simple round-trip tests work without configuration.
type Collection struct {
	calls

	// Persona is the bound persona ID returned by PersonaID.
	Persona string

	mu      sync.Mutex
	records map[string]memory.Record
	order   []string

	// UpsertErr is returned by Upsert when non-nil.
	UpsertErr error

	// SearchResult is returned by SearchByDimensions and SearchByContent.
	// When nil, an empty non-nil slice is returned.
	SearchResult []memory.ScoredRecord

	// SearchErr is returned by the search methods when non-nil.
	SearchErr error

	// ScrollErr is returned by ScrollRecent when non-nil.
	ScrollErr error
}

// PersonaID implements [memory.Collection].
func (m *Collection) PersonaID() string { return m.Persona }

// Upsert implements [memory.Collection].
func (m *Collection) Upsert(ctx context.Context, rec memory.Record) error {
	m.record("Upsert", rec)
	if m.UpsertErr != nil {
		return m.UpsertErr
	}
	if err := rec.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.records == nil {
		m.records = make(map[string]memory.Record)
	}
	if _, exists := m.records[rec.MemoryID]; !exists {
		m.order = append(m.order, rec.MemoryID)
	}
	m.records[rec.MemoryID] = rec
	return nil
}

// Stored returns a copy of every record upserted into the mock, in insertion
// order.
func (m *Collection) Stored() []memory.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]memory.Record, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.records[id])
	}
	return out
}

// SearchByDimensions implements [memory.Collection].
func (m *Collection) SearchByDimensions(ctx context.Context, userID string, dims map[memory.VectorKind][]float32, weights map[memory.VectorKind]float64, limit int, filter *memory.SearchFilter) ([]memory.ScoredRecord, error) {
	m.record("SearchByDimensions", userID, dims, weights, limit, filter)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if m.SearchResult == nil {
		return []memory.ScoredRecord{}, nil
	}
	return m.SearchResult, nil
}

// SearchByContent implements [memory.Collection].
func (m *Collection) SearchByContent(ctx context.Context, userID string, queryVec []float32, limit int) ([]memory.ScoredRecord, error) {
	m.record("SearchByContent", userID, queryVec, limit)
	if m.SearchErr != nil {
		return nil, m.SearchErr
	}
	if m.SearchResult == nil {
		return []memory.ScoredRecord{}, nil
	}
	return m.SearchResult, nil
}

// ScrollRecent implements [memory.Collection]. It serves the upserted records
// newest-first, filtered by userID.
func (m *Collection) ScrollRecent(ctx context.Context, userID string, limit int, olderThan time.Time) ([]memory.Record, error) {
	m.record("ScrollRecent", userID, limit, olderThan)
	if m.ScrollErr != nil {
		return nil, m.ScrollErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []memory.Record{}
	for i := len(m.order) - 1; i >= 0 && len(out) < limit; i-- {
		rec := m.records[m.order[i]]
		if rec.UserID != userID {
			continue
		}
		if !olderThan.IsZero() && !rec.CreatedAt.Before(olderThan) {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Relational store mock
// ─────────────────────────────────────────────────────────────────────────────

// RelationalStore is a configurable test double for [memory.RelationalStore].
// Turns and relationship state are retained in memory with the same
// idempotency and clamping semantics as the real store.
type RelationalStore struct {
	calls

	mu            sync.Mutex
	users         map[string]memory.User
	turns         map[string]chat.Turn
	relationships map[string]chat.RelationshipState // persona|user
	facts         []memory.Fact

	// UpsertUserErr is returned by UpsertUser when non-nil.
	UpsertUserErr error

	// InsertTurnErr is returned by InsertTurn when non-nil. Set to a slice of
	// errors via InsertTurnErrs to fail only the first N calls.
	InsertTurnErr error

	// InsertTurnErrs is consumed one error per InsertTurn call; a nil entry
	// means success. Takes precedence over InsertTurnErr while non-empty.
	InsertTurnErrs []error

	// RelationshipErr is returned by the relationship methods when non-nil.
	RelationshipErr error

	// FactErr is returned by the fact methods when non-nil.
	FactErr error
}

// UpsertUser implements [memory.RelationalStore].
func (m *RelationalStore) UpsertUser(ctx context.Context, u memory.User) error {
	m.record("UpsertUser", u)
	if m.UpsertUserErr != nil {
		return m.UpsertUserErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users == nil {
		m.users = make(map[string]memory.User)
	}
	if existing, ok := m.users[u.UserID]; ok {
		existing.DisplayName = u.DisplayName
		m.users[u.UserID] = existing
		return nil
	}
	m.users[u.UserID] = u
	return nil
}

// GetUser implements [memory.RelationalStore].
func (m *RelationalStore) GetUser(ctx context.Context, userID string) (*memory.User, error) {
	m.record("GetUser", userID)
	m.mu.Lock()
	defer m.mu.Unlock()
	if u, ok := m.users[userID]; ok {
		return &u, nil
	}
	return nil, nil
}

// InsertTurn implements [memory.RelationalStore].
func (m *RelationalStore) InsertTurn(ctx context.Context, turn chat.Turn, signals chat.Signals) error {
	m.record("InsertTurn", turn)
	m.mu.Lock()
	if len(m.InsertTurnErrs) > 0 {
		err := m.InsertTurnErrs[0]
		m.InsertTurnErrs = m.InsertTurnErrs[1:]
		m.mu.Unlock()
		if err != nil {
			return err
		}
	} else {
		m.mu.Unlock()
		if m.InsertTurnErr != nil {
			return m.InsertTurnErr
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.turns == nil {
		m.turns = make(map[string]chat.Turn)
	}
	if _, exists := m.turns[turn.TurnID]; exists {
		return nil // idempotent
	}
	m.turns[turn.TurnID] = turn
	return nil
}

// Turns returns a copy of every stored turn.
func (m *RelationalStore) Turns() []chat.Turn {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]chat.Turn, 0, len(m.turns))
	for _, t := range m.turns {
		out = append(out, t)
	}
	return out
}

// UpsertRelationshipState implements [memory.RelationalStore].
func (m *RelationalStore) UpsertRelationshipState(ctx context.Context, personaID, userID string, delta chat.RelationshipDelta) error {
	m.record("UpsertRelationshipState", personaID, userID, delta)
	if m.RelationshipErr != nil {
		return m.RelationshipErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.relationships == nil {
		m.relationships = make(map[string]chat.RelationshipState)
	}
	key := personaID + "|" + userID
	state, ok := m.relationships[key]
	if !ok {
		state = chat.DefaultRelationshipState()
	}
	state.Trust = clamp01(state.Trust + delta.Trust)
	state.Affection = clamp01(state.Affection + delta.Affection)
	state.Attunement = clamp01(state.Attunement + delta.Attunement)
	state.InteractionQuality = clamp01(state.InteractionQuality + delta.InteractionQuality)
	state.Comfort = clamp01(state.Comfort + delta.Comfort)
	state.LastUpdatedAt = time.Now()
	m.relationships[key] = state
	return nil
}

// GetRelationshipState implements [memory.RelationalStore].
func (m *RelationalStore) GetRelationshipState(ctx context.Context, personaID, userID string) (chat.RelationshipState, error) {
	m.record("GetRelationshipState", personaID, userID)
	if m.RelationshipErr != nil {
		return chat.RelationshipState{}, m.RelationshipErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if state, ok := m.relationships[personaID+"|"+userID]; ok {
		return state, nil
	}
	return chat.DefaultRelationshipState(), nil
}

// UpsertFact implements [memory.RelationalStore]. Re-upserting an existing
// fact ID replaces the row, like the conflict clause in the real store.
func (m *RelationalStore) UpsertFact(ctx context.Context, f memory.Fact) error {
	m.record("UpsertFact", f)
	if m.FactErr != nil {
		return m.FactErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.facts {
		if existing.FactID == f.FactID {
			m.facts[i] = f
			return nil
		}
	}
	m.facts = append(m.facts, f)
	return nil
}

// Facts returns a copy of every stored fact.
func (m *RelationalStore) Facts() []memory.Fact {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]memory.Fact(nil), m.facts...)
}

// QueryFacts implements [memory.RelationalStore].
func (m *RelationalStore) QueryFacts(ctx context.Context, personaID, userID string, limit int) ([]memory.Fact, error) {
	m.record("QueryFacts", personaID, userID, limit)
	if m.FactErr != nil {
		return nil, m.FactErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []memory.Fact{}
	for i := len(m.facts) - 1; i >= 0 && len(out) < limit; i-- {
		f := m.facts[i]
		if f.PersonaID == personaID && f.UserID == userID {
			out = append(out, f)
		}
	}
	return out, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// ─────────────────────────────────────────────────────────────────────────────
// Metric store mock
// ─────────────────────────────────────────────────────────────────────────────

// MetricStore is a configurable test double for [memory.MetricStore].
type MetricStore struct {
	calls

	// Disabled makes every write return false, mimicking an unconfigured store.
	Disabled bool

	// FailWrites makes every write return false while still recording the
	// call, mimicking a reachable but failing store.
	FailWrites bool

	// EmotionSamples is returned by RecentEmotions.
	EmotionSamples []memory.EmotionSample

	// RecentEmotionsErr is returned by RecentEmotions when non-nil.
	RecentEmotionsErr error
}

// Enabled implements [memory.MetricStore].
func (m *MetricStore) Enabled() bool { return !m.Disabled }

func (m *MetricStore) write(method string, args ...any) bool {
	m.record(method, args...)
	return !m.Disabled && !m.FailWrites
}

// WriteConfidenceEvolution implements [memory.MetricStore].
func (m *MetricStore) WriteConfidenceEvolution(ctx context.Context, tags memory.MetricTags, p memory.ConfidencePoint) bool {
	return m.write("WriteConfidenceEvolution", tags, p)
}

// WriteRelationshipProgression implements [memory.MetricStore].
func (m *MetricStore) WriteRelationshipProgression(ctx context.Context, tags memory.MetricTags, s chat.RelationshipState) bool {
	return m.write("WriteRelationshipProgression", tags, s)
}

// WriteConversationQuality implements [memory.MetricStore].
func (m *MetricStore) WriteConversationQuality(ctx context.Context, tags memory.MetricTags, p memory.QualityPoint) bool {
	return m.write("WriteConversationQuality", tags, p)
}

// WriteUserEmotion implements [memory.MetricStore].
func (m *MetricStore) WriteUserEmotion(ctx context.Context, tags memory.MetricTags, p memory.EmotionPoint) bool {
	return m.write("WriteUserEmotion", tags, p)
}

// WriteBotEmotion implements [memory.MetricStore].
func (m *MetricStore) WriteBotEmotion(ctx context.Context, tags memory.MetricTags, p memory.EmotionPoint) bool {
	return m.write("WriteBotEmotion", tags, p)
}

// RecentEmotions implements [memory.MetricStore].
func (m *MetricStore) RecentEmotions(ctx context.Context, tags memory.MetricTags, window time.Duration, limit int) ([]memory.EmotionSample, error) {
	m.record("RecentEmotions", tags, window, limit)
	if m.RecentEmotionsErr != nil {
		return nil, m.RecentEmotionsErr
	}
	if m.EmotionSamples == nil {
		return []memory.EmotionSample{}, nil
	}
	if len(m.EmotionSamples) > limit {
		return m.EmotionSamples[len(m.EmotionSamples)-limit:], nil
	}
	return m.EmotionSamples, nil
}
