// Package memory defines the three heterogeneous stores behind the Reverie
// intelligence pipeline:
//
//   - Vector store ([Collection]): persona-scoped memory records carrying six
//     named embedding views, with weighted multi-dimensional retrieval.
//   - Relational store ([RelationalStore]): users, turns, derived facts, and
//     per-(persona,user) relationship state.
//   - Time-series store ([MetricStore]): append-only metric streams for
//     confidence, relationship, emotion, and conversation quality.
//
// All interfaces are public so that external packages can supply alternative
// backends (Postgres/pgvector, InfluxDB, in-memory, …) without depending on
// reverie internals.
//
// Every implementation must be safe for concurrent use.
package memory

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/reverie-chat/reverie/pkg/chat"
)

// ─────────────────────────────────────────────────────────────────────────────
// Vector kinds
// ─────────────────────────────────────────────────────────────────────────────

// VectorKind names one of the six embedding views attached to every memory
// record. The same text embedded under different kinds produces semantically
// distinct vectors (the embedding provider frames the input per kind).
type VectorKind string

const (
	KindContent      VectorKind = "content"
	KindEmotion      VectorKind = "emotion"
	KindSemantic     VectorKind = "semantic"
	KindRelationship VectorKind = "relationship"
	KindContext      VectorKind = "context"
	KindPersonality  VectorKind = "personality"
)

// AllKinds lists every vector kind in stable order.
var AllKinds = []VectorKind{
	KindContent, KindEmotion, KindSemantic,
	KindRelationship, KindContext, KindPersonality,
}

// IsValid reports whether k is a recognised vector kind.
func (k VectorKind) IsValid() bool {
	switch k {
	case KindContent, KindEmotion, KindSemantic,
		KindRelationship, KindContext, KindPersonality:
		return true
	}
	return false
}

// VectorSet holds the named embedding views of one memory record. The
// content view is mandatory; the remaining kinds may be absent when their
// embedding calls failed, and such records are stored with only the
// surviving views ([Record.Validate]).
type VectorSet map[VectorKind][]float32

// Complete reports whether every kind in [AllKinds] is present and non-empty.
func (vs VectorSet) Complete() bool {
	for _, k := range AllKinds {
		if len(vs[k]) == 0 {
			return false
		}
	}
	return true
}

// ─────────────────────────────────────────────────────────────────────────────
// Records
// ─────────────────────────────────────────────────────────────────────────────

// Source records how a memory entered the store.
type Source string

const (
	SourceTurn    Source = "turn"
	SourceFact    Source = "fact"
	SourceSummary Source = "summary"
	SourceUpdate  Source = "update"
)

// Payload is the closed, versioned metadata schema attached to every memory
// record. Unknown keys read back from a store are preserved in Extra but never
// drive logic.
type Payload struct {
	// PrimaryEmotion is the dominant emotion of the remembered exchange.
	// Always a member of the closed emotion set; coerced on ingress.
	PrimaryEmotion chat.Emotion

	// EmotionConfidence is the analyzer's confidence in PrimaryEmotion, [0, 1].
	EmotionConfidence float64

	// EmotionIntensity is the strength of the expressed emotion, [0, 1].
	EmotionIntensity float64

	// IsMultiEmotion marks exchanges that expressed several distinct emotions.
	IsMultiEmotion bool

	// SecondaryEmotions lists additional detected emotions.
	SecondaryEmotions []chat.Emotion

	// RelationshipLevel is the overall relationship scalar at persist time.
	RelationshipLevel float64

	// InteractionCount is the number of turns exchanged up to this memory.
	InteractionCount int

	// TopicTags are keywords describing the topic at persist time.
	TopicTags []string

	// Source records how this memory entered the store.
	Source Source

	// Extra preserves unknown payload keys round-tripped from the store.
	Extra map[string]any
}

// Record is one persona-scoped memory. Records are immutable after upsert and
// superseded (never mutated) by new records with Source = update.
type Record struct {
	// MemoryID is content- and persona-derived (see [GenerateMemoryID]) so
	// that re-ingesting the identical turn is idempotent.
	MemoryID string

	// PersonaID scopes the record; a record can never be read back under a
	// different persona.
	PersonaID string

	// UserID is the platform-scoped user the memory concerns.
	UserID string

	// ChannelID is the conversation channel the memory was formed in.
	ChannelID string

	// Content is the remembered text.
	Content string

	// CreatedAt is when the underlying exchange happened.
	CreatedAt time.Time

	// Vectors holds the named embedding views. The content view is
	// required; other kinds may be missing after partial embedding failure.
	Vectors VectorSet

	// Payload is the closed metadata schema.
	Payload Payload
}

// Validate checks the record for store admission: identifiers present, the
// content vector present, and the emotion fields within bounds. Non-content
// views are optional so a record survives partial embedding failure. The
// primary emotion is coerced rather than rejected.
func (r *Record) Validate() error {
	if r.MemoryID == "" {
		return fmt.Errorf("%w: memory_id must not be empty", ErrInvalid)
	}
	if r.PersonaID == "" {
		return fmt.Errorf("%w: persona_id must not be empty", ErrInvalid)
	}
	if r.UserID == "" {
		return fmt.Errorf("%w: user_id must not be empty", ErrInvalid)
	}
	if len(r.Vectors[KindContent]) == 0 {
		return fmt.Errorf("%w: record %s is missing the content vector", ErrInvalid, r.MemoryID)
	}
	if r.Payload.EmotionConfidence < 0 || r.Payload.EmotionConfidence > 1 {
		return fmt.Errorf("%w: emotion_confidence %g out of [0,1]", ErrInvalid, r.Payload.EmotionConfidence)
	}
	if r.Payload.EmotionIntensity < 0 || r.Payload.EmotionIntensity > 1 {
		return fmt.Errorf("%w: emotion_intensity %g out of [0,1]", ErrInvalid, r.Payload.EmotionIntensity)
	}
	return nil
}

// ScoredRecord pairs a retrieved record with its combined retrieval score.
// Higher scores indicate higher weighted similarity.
type ScoredRecord struct {
	Record Record
	Score  float64
}

// ─────────────────────────────────────────────────────────────────────────────
// Relational entities
// ─────────────────────────────────────────────────────────────────────────────

// User is a platform-scoped user known to the relational store. Users are
// created on first sight and never deleted by the core.
type User struct {
	UserID      string
	DisplayName string
	Platform    string
	FirstSeen   time.Time
}

// Fact is a derived statement about a user, attributed to a persona.
type Fact struct {
	FactID     string
	PersonaID  string
	UserID     string
	Category   string
	Content    string
	Confidence float64
	CreatedAt  time.Time
}

// ─────────────────────────────────────────────────────────────────────────────
// Memory IDs
// ─────────────────────────────────────────────────────────────────────────────

// GenerateMemoryID derives a stable memory identifier from the persona, user,
// content, and creation instant. Identical inputs always produce the same ID,
// which makes turn re-ingestion idempotent at the vector store.
func GenerateMemoryID(personaID, userID, content string, createdAt time.Time) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%d", personaID, userID, content, createdAt.Unix())
	return hex.EncodeToString(h.Sum(nil))[:32]
}
