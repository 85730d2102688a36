package memory

import (
	"context"
	"time"

	"github.com/reverie-chat/reverie/pkg/chat"
)

// ─────────────────────────────────────────────────────────────────────────────
// Vector store
// ─────────────────────────────────────────────────────────────────────────────

// SearchFilter narrows a vector search beyond the unconditional persona and
// user scoping. All non-zero fields are applied as AND conditions.
type SearchFilter struct {
	// ChannelID restricts results to a single channel.
	ChannelID string

	// After filters records created after this instant (exclusive).
	After time.Time

	// Before filters records created before this instant (exclusive).
	Before time.Time

	// Source restricts results to records with this source.
	Source Source
}

// VectorStore opens persona-bound collections. The persona is part of the
// collection identity: every read and write issued through a [Collection]
// carries the bound persona unconditionally, so a caller cannot accidentally
// cross persona boundaries by omitting a filter.
type VectorStore interface {
	// Collection returns the handle bound to personaID. The handle is cheap;
	// implementations may share underlying connections across personas.
	Collection(personaID string) Collection
}

// Collection is a persona-scoped view of the vector store.
//
// ANN recall is best-effort: exact result ordering is not contractual, but the
// top result for a query identical to just-written content must appear within
// the first limit results with overwhelming probability.
type Collection interface {
	// PersonaID returns the persona this collection is bound to.
	PersonaID() string

	// Upsert stores rec, replacing any record with the same MemoryID.
	// Records with a partial vector set are rejected with ErrInvalid.
	Upsert(ctx context.Context, rec Record) error

	// SearchByDimensions performs one top-k ANN query per provided dimension
	// and fuses by sum(weight_k · score_k) over all records that appear in any
	// result set (missing scores count as zero). Results are sorted by
	// descending combined score, filtered to userID and the bound persona,
	// and capped at limit. Weights may omit any subset of kinds and need not
	// be normalised; negative weights are rejected with ErrInvalid.
	SearchByDimensions(ctx context.Context, userID string, dims map[VectorKind][]float32, weights map[VectorKind]float64, limit int, filter *SearchFilter) ([]ScoredRecord, error)

	// SearchByContent is a convenience wrapper for a content-only search.
	SearchByContent(ctx context.Context, userID string, queryVec []float32, limit int) ([]ScoredRecord, error)

	// ScrollRecent returns records in descending CreatedAt order, filtered by
	// the bound persona and userID. When olderThan is non-zero only records
	// created strictly before it are returned.
	ScrollRecent(ctx context.Context, userID string, limit int, olderThan time.Time) ([]Record, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Relational store
// ─────────────────────────────────────────────────────────────────────────────

// RelationalStore persists users, turns, derived facts, and relationship
// state. Write failures are logged by callers; the pipeline never rolls back
// an already-delivered reply.
type RelationalStore interface {
	// UpsertUser creates or refreshes a user row. Creation is first-sight;
	// existing rows only update the display name.
	UpsertUser(ctx context.Context, u User) error

	// GetUser returns the user row, or (nil, nil) when unknown.
	GetUser(ctx context.Context, userID string) (*User, error)

	// InsertTurn stores a completed turn with its serialized signals.
	// Idempotent on TurnID: re-inserting an existing turn is a no-op.
	InsertTurn(ctx context.Context, turn chat.Turn, signals chat.Signals) error

	// UpsertRelationshipState applies delta as a clamped addition on every
	// scalar, creating the row from the default state when absent.
	UpsertRelationshipState(ctx context.Context, personaID, userID string, delta chat.RelationshipDelta) error

	// GetRelationshipState returns the current state, or the default neutral
	// state when no row exists.
	GetRelationshipState(ctx context.Context, personaID, userID string) (chat.RelationshipState, error)

	// UpsertFact stores a derived fact about a user.
	UpsertFact(ctx context.Context, f Fact) error

	// QueryFacts returns up to limit facts for (personaID, userID), most
	// recent first.
	QueryFacts(ctx context.Context, personaID, userID string, limit int) ([]Fact, error)
}

// ─────────────────────────────────────────────────────────────────────────────
// Time-series store
// ─────────────────────────────────────────────────────────────────────────────

// ConfidencePoint captures the pipeline's per-turn confidence evolution.
type ConfidencePoint struct {
	UserFactConfidence     float64
	RelationshipConfidence float64
	ContextConfidence      float64
	EmotionalConfidence    float64
	OverallConfidence      float64
}

// QualityPoint captures per-turn conversation quality. The reaction fields are
// optional user feedback attached after the fact.
type QualityPoint struct {
	Engagement         float64
	Satisfaction       float64
	NaturalFlow        float64
	EmotionalResonance float64
	TopicRelevance     float64

	UserReactionScore float64
	ReactionEmoji     string
	HasUserFeedback   bool
}

// EmotionPoint captures one detected emotion sample (user or bot side).
type EmotionPoint struct {
	Emotion    chat.Emotion
	Intensity  float64
	Confidence float64
}

// MetricTags identify the stream a point belongs to. SessionID may be empty.
type MetricTags struct {
	PersonaID string
	UserID    string
	SessionID string
}

// EmotionSample is one point returned by a trajectory-window read.
type EmotionSample struct {
	Emotion   chat.Emotion
	Intensity float64
	Time      time.Time
}

// MetricStore is the append-only time-series sink. All writes are best-effort:
// when the store is disabled or unreachable they return false without error,
// and a failed write never affects the user interaction.
type MetricStore interface {
	// Enabled reports whether the store is configured.
	Enabled() bool

	// WriteConfidenceEvolution appends a confidence_evolution point.
	WriteConfidenceEvolution(ctx context.Context, tags MetricTags, p ConfidencePoint) bool

	// WriteRelationshipProgression appends a relationship_progression point.
	WriteRelationshipProgression(ctx context.Context, tags MetricTags, s chat.RelationshipState) bool

	// WriteConversationQuality appends a conversation_quality point.
	WriteConversationQuality(ctx context.Context, tags MetricTags, p QualityPoint) bool

	// WriteUserEmotion appends a user_emotion point.
	WriteUserEmotion(ctx context.Context, tags MetricTags, p EmotionPoint) bool

	// WriteBotEmotion appends a bot_emotion point.
	WriteBotEmotion(ctx context.Context, tags MetricTags, p EmotionPoint) bool

	// RecentEmotions returns up to limit user_emotion samples for the stream,
	// oldest first, covering at most the window duration. Returns an empty
	// slice when the store is disabled or the query fails.
	RecentEmotions(ctx context.Context, tags MetricTags, window time.Duration, limit int) ([]EmotionSample, error)
}
