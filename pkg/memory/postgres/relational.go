package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/memory"
)

// RelationalStore implements [memory.RelationalStore] on the shared pool.
// Obtain one via [Store.Relational].
type RelationalStore struct {
	pool *pgxpool.Pool
}

// UpsertUser implements [memory.RelationalStore]. The first_seen column is
// written once and never moved forward.
func (r *RelationalStore) UpsertUser(ctx context.Context, u memory.User) error {
	firstSeen := u.FirstSeen
	if firstSeen.IsZero() {
		firstSeen = time.Now()
	}
	const q = `
		INSERT INTO users (user_id, display_name, platform, first_seen)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE SET
		    display_name = EXCLUDED.display_name,
		    platform     = EXCLUDED.platform`
	if _, err := r.pool.Exec(ctx, q, u.UserID, u.DisplayName, u.Platform, firstSeen); err != nil {
		return classify(fmt.Errorf("relational store: upsert user %s: %w", u.UserID, err))
	}
	return nil
}

// GetUser implements [memory.RelationalStore].
func (r *RelationalStore) GetUser(ctx context.Context, userID string) (*memory.User, error) {
	const q = `
		SELECT user_id, display_name, platform, first_seen
		FROM   users
		WHERE  user_id = $1`
	var u memory.User
	err := r.pool.QueryRow(ctx, q, userID).Scan(&u.UserID, &u.DisplayName, &u.Platform, &u.FirstSeen)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, classify(fmt.Errorf("relational store: get user %s: %w", userID, err))
	}
	return &u, nil
}

// InsertTurn implements [memory.RelationalStore]. ON CONFLICT DO NOTHING makes
// re-delivery of an already-persisted turn a no-op.
func (r *RelationalStore) InsertTurn(ctx context.Context, turn chat.Turn, signals chat.Signals) error {
	raw, err := json.Marshal(signals)
	if err != nil {
		return fmt.Errorf("relational store: marshal signals for turn %s: %w", turn.TurnID, err)
	}
	const q = `
		INSERT INTO turns
		    (turn_id, persona_id, user_id, channel_id, created_at, user_text, bot_text, signals_json)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (turn_id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, q,
		turn.TurnID, turn.PersonaID, turn.UserID, turn.ChannelID,
		turn.CreatedAt, turn.UserText, turn.BotText, raw,
	); err != nil {
		return classify(fmt.Errorf("relational store: insert turn %s: %w", turn.TurnID, err))
	}
	return nil
}

// UpsertRelationshipState implements [memory.RelationalStore]. The delta is
// applied inside the statement with clamping to [0, 1], so concurrent updates
// for the same pair never produce out-of-range state.
func (r *RelationalStore) UpsertRelationshipState(ctx context.Context, personaID, userID string, delta chat.RelationshipDelta) error {
	const q = `
		INSERT INTO relationship_state
		    (persona_id, user_id, trust, affection, attunement, interaction_quality, comfort, last_updated_at)
		VALUES ($1, $2,
		        LEAST(1.0, GREATEST(0.0, 0.5 + $3)),
		        LEAST(1.0, GREATEST(0.0, 0.5 + $4)),
		        LEAST(1.0, GREATEST(0.0, 0.5 + $5)),
		        LEAST(1.0, GREATEST(0.0, 0.5 + $6)),
		        LEAST(1.0, GREATEST(0.0, 0.5 + $7)),
		        now())
		ON CONFLICT (persona_id, user_id) DO UPDATE SET
		    trust               = LEAST(1.0, GREATEST(0.0, relationship_state.trust + $3)),
		    affection           = LEAST(1.0, GREATEST(0.0, relationship_state.affection + $4)),
		    attunement          = LEAST(1.0, GREATEST(0.0, relationship_state.attunement + $5)),
		    interaction_quality = LEAST(1.0, GREATEST(0.0, relationship_state.interaction_quality + $6)),
		    comfort             = LEAST(1.0, GREATEST(0.0, relationship_state.comfort + $7)),
		    last_updated_at     = now()`
	if _, err := r.pool.Exec(ctx, q, personaID, userID,
		delta.Trust, delta.Affection, delta.Attunement, delta.InteractionQuality, delta.Comfort,
	); err != nil {
		return classify(fmt.Errorf("relational store: upsert relationship %s/%s: %w", personaID, userID, err))
	}
	return nil
}

// GetRelationshipState implements [memory.RelationalStore].
func (r *RelationalStore) GetRelationshipState(ctx context.Context, personaID, userID string) (chat.RelationshipState, error) {
	const q = `
		SELECT trust, affection, attunement, interaction_quality, comfort, last_updated_at
		FROM   relationship_state
		WHERE  persona_id = $1 AND user_id = $2`
	var s chat.RelationshipState
	err := r.pool.QueryRow(ctx, q, personaID, userID).Scan(
		&s.Trust, &s.Affection, &s.Attunement, &s.InteractionQuality, &s.Comfort, &s.LastUpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return chat.DefaultRelationshipState(), nil
	}
	if err != nil {
		return chat.RelationshipState{}, classify(fmt.Errorf("relational store: get relationship %s/%s: %w", personaID, userID, err))
	}
	return s, nil
}

// UpsertFact implements [memory.RelationalStore].
func (r *RelationalStore) UpsertFact(ctx context.Context, f memory.Fact) error {
	createdAt := f.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	const q = `
		INSERT INTO facts (fact_id, persona_id, user_id, category, content, confidence, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (fact_id) DO UPDATE SET
		    category   = EXCLUDED.category,
		    content    = EXCLUDED.content,
		    confidence = EXCLUDED.confidence`
	if _, err := r.pool.Exec(ctx, q,
		f.FactID, f.PersonaID, f.UserID, f.Category, f.Content, f.Confidence, createdAt,
	); err != nil {
		return classify(fmt.Errorf("relational store: upsert fact %s: %w", f.FactID, err))
	}
	return nil
}

// QueryFacts implements [memory.RelationalStore].
func (r *RelationalStore) QueryFacts(ctx context.Context, personaID, userID string, limit int) ([]memory.Fact, error) {
	if limit <= 0 {
		limit = 20
	}
	const q = `
		SELECT fact_id, persona_id, user_id, category, content, confidence, created_at
		FROM   facts
		WHERE  persona_id = $1 AND user_id = $2
		ORDER  BY created_at DESC
		LIMIT  $3`
	rows, err := r.pool.Query(ctx, q, personaID, userID, limit)
	if err != nil {
		return nil, classify(fmt.Errorf("relational store: query facts %s/%s: %w", personaID, userID, err))
	}
	facts, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Fact, error) {
		var f memory.Fact
		err := row.Scan(&f.FactID, &f.PersonaID, &f.UserID, &f.Category, &f.Content, &f.Confidence, &f.CreatedAt)
		return f, err
	})
	if err != nil {
		return nil, classify(fmt.Errorf("relational store: scan facts: %w", err))
	}
	if facts == nil {
		facts = []memory.Fact{}
	}
	return facts, nil
}
