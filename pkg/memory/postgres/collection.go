package postgres

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/memory"
)

// vectorColumns maps each vector kind to its table column. Search SQL is
// composed from this map so that a new view kind cannot silently miss a column.
var vectorColumns = map[memory.VectorKind]string{
	memory.KindContent:      "vec_content",
	memory.KindEmotion:      "vec_emotion",
	memory.KindSemantic:     "vec_semantic",
	memory.KindRelationship: "vec_relationship",
	memory.KindContext:      "vec_context",
	memory.KindPersonality:  "vec_personality",
}

// Collection is the persona-bound pgvector view of the memory_records table.
//
// The persona is fixed at construction and injected into every statement, so
// a caller cannot read or write outside its persona's namespace through this
// handle. Obtain one via [Store.Collection] rather than constructing directly.
//
// All methods are safe for concurrent use.
type Collection struct {
	pool      *pgxpool.Pool
	personaID string
}

// PersonaID implements [memory.Collection].
func (c *Collection) PersonaID() string { return c.personaID }

// Upsert implements [memory.Collection]. It validates the record, coerces the
// primary emotion into the closed set, and upserts by memory_id so that
// re-ingesting an identical turn is a no-op replace.
func (c *Collection) Upsert(ctx context.Context, rec memory.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	if rec.PersonaID != c.personaID {
		return fmt.Errorf("%w: record persona %q does not match collection %q",
			memory.ErrInvalid, rec.PersonaID, c.personaID)
	}

	const q = `
		INSERT INTO memory_records
		    (memory_id, persona_id, user_id, channel_id, content, created_at,
		     vec_content, vec_emotion, vec_semantic, vec_relationship, vec_context, vec_personality,
		     primary_emotion, emotion_confidence, emotion_intensity, is_multi_emotion,
		     secondary_emotions, relationship_level, interaction_count, topic_tags, source)
		VALUES ($1, $2, $3, $4, $5, $6,
		        $7, $8, $9, $10, $11, $12,
		        $13, $14, $15, $16, $17, $18, $19, $20, $21)
		ON CONFLICT (memory_id) DO UPDATE SET
		    content            = EXCLUDED.content,
		    vec_content        = EXCLUDED.vec_content,
		    vec_emotion        = EXCLUDED.vec_emotion,
		    vec_semantic       = EXCLUDED.vec_semantic,
		    vec_relationship   = EXCLUDED.vec_relationship,
		    vec_context        = EXCLUDED.vec_context,
		    vec_personality    = EXCLUDED.vec_personality,
		    primary_emotion    = EXCLUDED.primary_emotion,
		    emotion_confidence = EXCLUDED.emotion_confidence,
		    emotion_intensity  = EXCLUDED.emotion_intensity,
		    is_multi_emotion   = EXCLUDED.is_multi_emotion,
		    secondary_emotions = EXCLUDED.secondary_emotions,
		    relationship_level = EXCLUDED.relationship_level,
		    interaction_count  = EXCLUDED.interaction_count,
		    topic_tags         = EXCLUDED.topic_tags,
		    source             = EXCLUDED.source`

	secondary := make([]string, 0, len(rec.Payload.SecondaryEmotions))
	for _, e := range rec.Payload.SecondaryEmotions {
		secondary = append(secondary, string(e.Coerce()))
	}
	topicTags := rec.Payload.TopicTags
	if topicTags == nil {
		topicTags = []string{}
	}
	source := rec.Payload.Source
	if source == "" {
		source = memory.SourceTurn
	}

	_, err := c.pool.Exec(ctx, q,
		rec.MemoryID,
		c.personaID,
		rec.UserID,
		rec.ChannelID,
		rec.Content,
		rec.CreatedAt,
		vectorArg(rec.Vectors, memory.KindContent),
		vectorArg(rec.Vectors, memory.KindEmotion),
		vectorArg(rec.Vectors, memory.KindSemantic),
		vectorArg(rec.Vectors, memory.KindRelationship),
		vectorArg(rec.Vectors, memory.KindContext),
		vectorArg(rec.Vectors, memory.KindPersonality),
		string(rec.Payload.PrimaryEmotion.Coerce()),
		rec.Payload.EmotionConfidence,
		rec.Payload.EmotionIntensity,
		rec.Payload.IsMultiEmotion,
		secondary,
		rec.Payload.RelationshipLevel,
		rec.Payload.InteractionCount,
		topicTags,
		string(source),
	)
	if err != nil {
		return classify(fmt.Errorf("memory collection: upsert %s: %w", rec.MemoryID, err))
	}
	return nil
}

// vectorArg renders one view for insertion. Absent views become NULL so that
// a record written after partial embedding failure keeps only its surviving
// columns; searchOne already guards every dimension with IS NOT NULL.
func vectorArg(vs memory.VectorSet, kind memory.VectorKind) any {
	if len(vs[kind]) == 0 {
		return nil
	}
	return pgvector.NewVector(vs[kind])
}

// SearchByDimensions implements [memory.Collection]. Each provided dimension
// issues its own top-k ANN query; results are fused in memory by
// sum(weight · score) where score = 1 − cosine distance. Records appearing in
// only some result sets contribute zero for the missing dimensions.
func (c *Collection) SearchByDimensions(ctx context.Context, userID string, dims map[memory.VectorKind][]float32, weights map[memory.VectorKind]float64, limit int, filter *memory.SearchFilter) ([]memory.ScoredRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	for kind, w := range weights {
		if w < 0 {
			return nil, fmt.Errorf("%w: negative weight %g for dimension %q", memory.ErrInvalid, w, kind)
		}
	}

	combined := make(map[string]*memory.ScoredRecord)

	for kind, vec := range dims {
		if !kind.IsValid() {
			return nil, fmt.Errorf("%w: unknown vector kind %q", memory.ErrInvalid, kind)
		}
		weight, ok := weights[kind]
		if !ok || weight == 0 {
			continue
		}

		results, err := c.searchOne(ctx, userID, kind, vec, limit, filter)
		if err != nil {
			return nil, err
		}
		for _, pr := range results {
			entry, ok := combined[pr.rec.MemoryID]
			if !ok {
				entry = &memory.ScoredRecord{Record: pr.rec}
				combined[pr.rec.MemoryID] = entry
			}
			entry.Score += weight * pr.score
		}
	}

	out := make([]memory.ScoredRecord, 0, len(combined))
	for _, entry := range combined {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// SearchByContent implements [memory.Collection].
func (c *Collection) SearchByContent(ctx context.Context, userID string, queryVec []float32, limit int) ([]memory.ScoredRecord, error) {
	return c.SearchByDimensions(ctx, userID,
		map[memory.VectorKind][]float32{memory.KindContent: queryVec},
		map[memory.VectorKind]float64{memory.KindContent: 1.0},
		limit, nil)
}

// searchOne runs a single-dimension ANN query scoped to the bound persona and
// the caller's user.
func (c *Collection) searchOne(ctx context.Context, userID string, kind memory.VectorKind, vec []float32, limit int, filter *memory.SearchFilter) ([]struct {
	rec   memory.Record
	score float64
}, error) {
	column := vectorColumns[kind]

	args := []any{pgvector.NewVector(vec), c.personaID, userID}
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	conditions := []string{"persona_id = $2", "user_id = $3", column + " IS NOT NULL"}
	if filter != nil {
		if filter.ChannelID != "" {
			conditions = append(conditions, "channel_id = "+next(filter.ChannelID))
		}
		if !filter.After.IsZero() {
			conditions = append(conditions, "created_at > "+next(filter.After))
		}
		if !filter.Before.IsZero() {
			conditions = append(conditions, "created_at < "+next(filter.Before))
		}
		if filter.Source != "" {
			conditions = append(conditions, "source = "+next(string(filter.Source)))
		}
	}

	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT %s,
		       %s <=> $1 AS distance
		FROM   memory_records
		WHERE  %s
		ORDER  BY distance
		LIMIT  %s`, recordColumns, column, strings.Join(conditions, "\n  AND "), limitArg)

	rows, err := c.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("memory collection: search %s: %w", kind, err))
	}

	type partial = struct {
		rec   memory.Record
		score float64
	}
	results, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (partial, error) {
		var (
			p        partial
			distance float64
		)
		if err := scanRecord(row, &p.rec, &distance); err != nil {
			return partial{}, err
		}
		// Cosine distance is in [0, 2]; similarity 1 − d keeps identical
		// content at 1.0 and orthogonal content at 0.
		p.score = 1 - distance
		return p, nil
	})
	if err != nil {
		return nil, classify(fmt.Errorf("memory collection: scan rows: %w", err))
	}
	return results, nil
}

// ScrollRecent implements [memory.Collection].
func (c *Collection) ScrollRecent(ctx context.Context, userID string, limit int, olderThan time.Time) ([]memory.Record, error) {
	if limit <= 0 {
		limit = 20
	}

	args := []any{c.personaID, userID}
	cutoff := ""
	if !olderThan.IsZero() {
		args = append(args, olderThan)
		cutoff = "AND created_at < $3"
	}
	args = append(args, limit)
	limitArg := fmt.Sprintf("$%d", len(args))

	q := fmt.Sprintf(`
		SELECT %s, 0::float8 AS distance
		FROM   memory_records
		WHERE  persona_id = $1
		  AND  user_id = $2
		  %s
		ORDER  BY created_at DESC
		LIMIT  %s`, recordColumns, cutoff, limitArg)

	rows, err := c.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, classify(fmt.Errorf("memory collection: scroll: %w", err))
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (memory.Record, error) {
		var (
			rec      memory.Record
			distance float64
		)
		if err := scanRecord(row, &rec, &distance); err != nil {
			return memory.Record{}, err
		}
		return rec, nil
	})
	if err != nil {
		return nil, classify(fmt.Errorf("memory collection: scan rows: %w", err))
	}
	if records == nil {
		records = []memory.Record{}
	}
	return records, nil
}

// recordColumns is the shared SELECT column list for full-record scans.
const recordColumns = `memory_id, persona_id, user_id, channel_id, content, created_at,
       vec_content, vec_emotion, vec_semantic, vec_relationship, vec_context, vec_personality,
       primary_emotion, emotion_confidence, emotion_intensity, is_multi_emotion,
       secondary_emotions, relationship_level, interaction_count, topic_tags, source`

// scanRecord scans one row produced with recordColumns plus a trailing
// distance column.
func scanRecord(row pgx.CollectableRow, rec *memory.Record, distance *float64) error {
	var (
		vecs      [6]*pgvector.Vector
		primary   string
		secondary []string
		source    string
	)
	if err := row.Scan(
		&rec.MemoryID,
		&rec.PersonaID,
		&rec.UserID,
		&rec.ChannelID,
		&rec.Content,
		&rec.CreatedAt,
		&vecs[0], &vecs[1], &vecs[2], &vecs[3], &vecs[4], &vecs[5],
		&primary,
		&rec.Payload.EmotionConfidence,
		&rec.Payload.EmotionIntensity,
		&rec.Payload.IsMultiEmotion,
		&secondary,
		&rec.Payload.RelationshipLevel,
		&rec.Payload.InteractionCount,
		&rec.Payload.TopicTags,
		&source,
		distance,
	); err != nil {
		return err
	}

	// Column order matches memory.AllKinds; NULL columns stay absent from
	// the set.
	rec.Vectors = make(memory.VectorSet, len(memory.AllKinds))
	for i, kind := range memory.AllKinds {
		if vecs[i] != nil {
			rec.Vectors[kind] = vecs[i].Slice()
		}
	}
	rec.Payload.PrimaryEmotion = chat.Emotion(primary).Coerce()
	for _, s := range secondary {
		rec.Payload.SecondaryEmotions = append(rec.Payload.SecondaryEmotions, chat.Emotion(s).Coerce())
	}
	rec.Payload.Source = memory.Source(source)
	return nil
}

// classify maps driver-level failures onto the shared error kinds so that
// callers can branch with errors.Is without importing pgx.
func classify(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "53300", "53400", "57014": // too many connections, resource limits, cancelled
			return fmt.Errorf("%w: %v", memory.ErrOverloaded, err)
		}
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", memory.ErrTimeout, err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return fmt.Errorf("%w: %v", memory.ErrUnavailable, err)
	}
	return err
}
