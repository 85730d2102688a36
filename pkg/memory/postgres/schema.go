// Package postgres provides the PostgreSQL-backed implementation of the
// Reverie memory stores: the persona-scoped vector collection (pgvector, six
// named vector columns) and the relational store (users, turns, relationship
// state, facts).
//
// Both share a single [pgxpool.Pool] connection pool. The pgvector extension
// must be available in the target database; [Migrate] installs it
// automatically via CREATE EXTENSION IF NOT EXISTS.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 384)
//	if err != nil { … }
//
//	coll := store.Collection("elena")
//	_ = coll.Upsert(ctx, rec)
//
//	rel := store.Relational()
//	_ = rel.InsertTurn(ctx, turn, signals)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ─────────────────────────────────────────────────────────────────────────────
// Vector DDL — memory records with six named vector columns
// ─────────────────────────────────────────────────────────────────────────────

// ddlMemoryRecords returns the memory_records DDL with the embedding dimension
// substituted. The vector dimension is baked into the column types at schema
// creation time.
func ddlMemoryRecords(embeddingDimensions int) string {
	return fmt.Sprintf(`
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS memory_records (
    memory_id          TEXT         PRIMARY KEY,
    persona_id         TEXT         NOT NULL,
    user_id            TEXT         NOT NULL,
    channel_id         TEXT         NOT NULL DEFAULT '',
    content            TEXT         NOT NULL,
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now(),
    vec_content        vector(%[1]d),
    vec_emotion        vector(%[1]d),
    vec_semantic       vector(%[1]d),
    vec_relationship   vector(%[1]d),
    vec_context        vector(%[1]d),
    vec_personality    vector(%[1]d),
    primary_emotion    TEXT         NOT NULL DEFAULT 'neutral',
    emotion_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
    emotion_intensity  DOUBLE PRECISION NOT NULL DEFAULT 0,
    is_multi_emotion   BOOLEAN      NOT NULL DEFAULT FALSE,
    secondary_emotions TEXT[]       NOT NULL DEFAULT '{}',
    relationship_level DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    interaction_count  INTEGER      NOT NULL DEFAULT 0,
    topic_tags         TEXT[]       NOT NULL DEFAULT '{}',
    source             TEXT         NOT NULL DEFAULT 'turn',
    extra              JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_memory_persona_user
    ON memory_records (persona_id, user_id);

CREATE INDEX IF NOT EXISTS idx_memory_persona_user_created
    ON memory_records (persona_id, user_id, created_at DESC);

CREATE INDEX IF NOT EXISTS idx_memory_vec_content
    ON memory_records USING hnsw (vec_content vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_memory_vec_emotion
    ON memory_records USING hnsw (vec_emotion vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_memory_vec_semantic
    ON memory_records USING hnsw (vec_semantic vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_memory_vec_relationship
    ON memory_records USING hnsw (vec_relationship vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_memory_vec_context
    ON memory_records USING hnsw (vec_context vector_cosine_ops);

CREATE INDEX IF NOT EXISTS idx_memory_vec_personality
    ON memory_records USING hnsw (vec_personality vector_cosine_ops);
`, embeddingDimensions)
}

// ─────────────────────────────────────────────────────────────────────────────
// Relational DDL — users, turns, relationship state, facts
// ─────────────────────────────────────────────────────────────────────────────

const ddlRelational = `
CREATE TABLE IF NOT EXISTS users (
    user_id      TEXT         PRIMARY KEY,
    display_name TEXT         NOT NULL DEFAULT '',
    platform     TEXT         NOT NULL DEFAULT '',
    first_seen   TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS turns (
    turn_id      TEXT         PRIMARY KEY,
    persona_id   TEXT         NOT NULL,
    user_id      TEXT         NOT NULL,
    channel_id   TEXT         NOT NULL DEFAULT '',
    created_at   TIMESTAMPTZ  NOT NULL DEFAULT now(),
    user_text    TEXT         NOT NULL,
    bot_text     TEXT         NOT NULL,
    signals_json JSONB        NOT NULL DEFAULT '{}'
);

CREATE INDEX IF NOT EXISTS idx_turns_persona_user
    ON turns (persona_id, user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS relationship_state (
    persona_id          TEXT             NOT NULL,
    user_id             TEXT             NOT NULL,
    trust               DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    affection           DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    attunement          DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    interaction_quality DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    comfort             DOUBLE PRECISION NOT NULL DEFAULT 0.5,
    last_updated_at     TIMESTAMPTZ      NOT NULL DEFAULT now(),
    PRIMARY KEY (persona_id, user_id)
);

CREATE TABLE IF NOT EXISTS facts (
    fact_id     TEXT             PRIMARY KEY,
    persona_id  TEXT             NOT NULL,
    user_id     TEXT             NOT NULL,
    category    TEXT             NOT NULL DEFAULT '',
    content     TEXT             NOT NULL,
    confidence  DOUBLE PRECISION NOT NULL DEFAULT 0,
    created_at  TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_facts_persona_user
    ON facts (persona_id, user_id, created_at DESC);
`

// Migrate creates or ensures all required database tables and extensions
// exist. It is idempotent (CREATE TABLE IF NOT EXISTS / CREATE INDEX IF NOT
// EXISTS) and safe to call on every application start.
//
// embeddingDimensions must match the vector model configured for your
// deployment (e.g., 1536 for OpenAI text-embedding-3-small, 384 for
// all-MiniLM). Changing this value after the first migration requires a
// manual schema update.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	statements := []string{
		ddlMemoryRecords(embeddingDimensions),
		ddlRelational,
	}

	for _, stmt := range statements {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("postgres migrate: %w", err)
		}
	}
	return nil
}
