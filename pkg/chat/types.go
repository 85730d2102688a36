// Package chat defines the shared types used across all Reverie packages.
//
// These types form the lingua franca between the transport, the analyzers, the
// memory layers, and the pipeline orchestrator. They are intentionally minimal —
// each package defines its own domain types, but cross-cutting data structures
// live here to avoid circular imports.
package chat

import "time"

// Message represents a single message in an LLM conversation history.
type Message struct {
	// Role is one of "system", "user", or "assistant".
	Role string

	// Content is the text content of the message.
	Content string

	// Name is an optional participant name (for multi-speaker contexts).
	Name string
}

// Attachment describes a non-text payload on an inbound message.
// Only the metadata travels through the pipeline; the transport resolves URLs.
type Attachment struct {
	// URL is the transport-hosted location of the attachment.
	URL string

	// ContentType is the MIME type reported by the transport (e.g., "image/png").
	ContentType string

	// Filename is the original file name, if known.
	Filename string
}

// IsImage reports whether the attachment is an image by MIME type prefix.
func (a Attachment) IsImage() bool {
	return len(a.ContentType) >= 6 && a.ContentType[:6] == "image/"
}

// InboundMessage is a normalized user utterance handed to the pipeline by a
// transport collaborator. All fields are set by the transport before the
// pipeline sees the message.
type InboundMessage struct {
	// UserID is the platform-scoped identifier of the author.
	UserID string

	// UserName is the author's display name on the platform.
	UserName string

	// ChannelID identifies the conversation channel (or DM).
	ChannelID string

	// MessageID is the platform's unique identifier for this message.
	// Used for idempotent re-submission handling.
	MessageID string

	// Text is the sanitized message content.
	Text string

	// Timestamp is when the platform received the message.
	Timestamp time.Time

	// IsDM indicates a direct-message conversation.
	IsDM bool

	// Attachments lists any non-text payloads on the message.
	Attachments []Attachment
}

// CachedMessage is one entry in the short-window conversation cache.
type CachedMessage struct {
	// Content is the message text.
	Content string

	// AuthorID is the platform-scoped author identifier.
	AuthorID string

	// AuthorName is the author's display name.
	AuthorName string

	// Timestamp is when the message was observed.
	Timestamp time.Time

	// IsBot marks messages authored by the persona itself.
	IsBot bool

	// Source records where the entry came from: "platform", "vector", or
	// "unknown". Informational only.
	Source string
}

// Turn is one completed exchange: a user utterance plus the persona's reply,
// with all derived signals. Turns are immutable after persistence.
type Turn struct {
	// TurnID is the unique identifier for this turn.
	TurnID string

	// PersonaID is the persona slug that produced the reply.
	PersonaID string

	// UserID is the platform-scoped user identifier.
	UserID string

	// ChannelID identifies the conversation channel.
	ChannelID string

	// CreatedAt is when the user utterance was received.
	CreatedAt time.Time

	// UserText is the user's utterance.
	UserText string

	// BotText is the persona's reply.
	BotText string
}

// RelationshipState tracks the persona's standing with one user.
// All five scalars are bounded to [0, 1].
type RelationshipState struct {
	Trust              float64
	Affection          float64
	Attunement         float64
	InteractionQuality float64
	Comfort            float64

	// LastUpdatedAt is when any scalar last changed.
	LastUpdatedAt time.Time
}

// DefaultRelationshipState is the neutral starting point for a relationship
// that has never been persisted.
func DefaultRelationshipState() RelationshipState {
	return RelationshipState{
		Trust:              0.5,
		Affection:          0.5,
		Attunement:         0.5,
		InteractionQuality: 0.5,
		Comfort:            0.5,
	}
}

// RelationshipDelta is a clamped additive adjustment to a RelationshipState.
// Positive values grow a scalar, negative values decay it; the store clamps
// every result to [0, 1].
type RelationshipDelta struct {
	Trust              float64
	Affection          float64
	Attunement         float64
	InteractionQuality float64
	Comfort            float64
}

// IsZero reports whether the delta would leave the state unchanged.
func (d RelationshipDelta) IsZero() bool {
	return d.Trust == 0 && d.Affection == 0 && d.Attunement == 0 &&
		d.InteractionQuality == 0 && d.Comfort == 0
}
