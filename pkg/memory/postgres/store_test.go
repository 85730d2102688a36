package postgres_test

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/reverie-chat/reverie/pkg/chat"
	"github.com/reverie-chat/reverie/pkg/memory"
	"github.com/reverie-chat/reverie/pkg/memory/postgres"
)

const testEmbeddingDim = 4

// testDSN returns the test database DSN from the environment, or skips the
// test if REVERIE_TEST_POSTGRES_DSN is not set.
func testDSN(t *testing.T) string {
	t.Helper()
	dsn := os.Getenv("REVERIE_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("REVERIE_TEST_POSTGRES_DSN not set — skipping PostgreSQL integration tests")
	}
	return dsn
}

// newTestStore creates a fresh [postgres.Store] with a clean schema.
// It calls t.Cleanup to close the store when the test finishes.
func newTestStore(t *testing.T) *postgres.Store {
	t.Helper()
	dsn := testDSN(t)
	ctx := context.Background()

	// Use a bare pool to drop and recreate the schema.
	cleanPool := mustPool(t, ctx, dsn)
	t.Cleanup(cleanPool.Close)
	dropSchema(t, ctx, cleanPool)

	store, err := postgres.NewStore(ctx, dsn, testEmbeddingDim)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Close)
	return store
}

func mustPool(t *testing.T, ctx context.Context, dsn string) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		// best-effort: pgvector may not be installed yet on a fresh DB
		_ = pgxvec.RegisterTypes(ctx, conn)
		return nil
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		t.Fatalf("pool: %v", err)
	}
	return pool
}

// dropSchema removes all tables created by Migrate.
func dropSchema(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()
	for _, stmt := range []string{
		"DROP TABLE IF EXISTS memory_records CASCADE",
		"DROP TABLE IF EXISTS facts CASCADE",
		"DROP TABLE IF EXISTS relationship_state CASCADE",
		"DROP TABLE IF EXISTS turns CASCADE",
		"DROP TABLE IF EXISTS users CASCADE",
	} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			t.Fatalf("dropSchema %q: %v", stmt, err)
		}
	}
}

// completeVectors returns a full six-kind vector set. Each kind gets the same
// base vector unless overridden, so tests can make a record close to a query
// on exactly one dimension.
func completeVectors(base []float32, overrides map[memory.VectorKind][]float32) memory.VectorSet {
	vs := memory.VectorSet{}
	for _, k := range memory.AllKinds {
		if v, ok := overrides[k]; ok {
			vs[k] = v
		} else {
			vs[k] = base
		}
	}
	return vs
}

func testRecord(personaID, userID, content string, createdAt time.Time, vecs memory.VectorSet) memory.Record {
	return memory.Record{
		MemoryID:  memory.GenerateMemoryID(personaID, userID, content, createdAt),
		PersonaID: personaID,
		UserID:    userID,
		ChannelID: "chan-1",
		Content:   content,
		CreatedAt: createdAt,
		Vectors:   vecs,
		Payload: memory.Payload{
			PrimaryEmotion:    chat.EmotionJoy,
			EmotionConfidence: 0.8,
			EmotionIntensity:  0.6,
			TopicTags:         []string{"greeting"},
			Source:            memory.SourceTurn,
		},
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Vector store
// ─────────────────────────────────────────────────────────────────────────────

func TestCollection_UpsertAndSearchByContent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	coll := store.Collection("persona-luna")

	now := time.Now().UTC().Truncate(time.Second)
	near := testRecord("persona-luna", "user-1", "I love stargazing", now,
		completeVectors([]float32{1, 0, 0, 0}, nil))
	far := testRecord("persona-luna", "user-1", "taxes are due", now.Add(time.Second),
		completeVectors([]float32{0, 1, 0, 0}, nil))

	for _, rec := range []memory.Record{near, far} {
		if err := coll.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	got, err := coll.SearchByContent(ctx, "user-1", []float32{1, 0, 0, 0}, 2)
	if err != nil {
		t.Fatalf("SearchByContent: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("SearchByContent: want 2 results, got %d", len(got))
	}
	if got[0].Record.MemoryID != near.MemoryID {
		t.Errorf("top result = %q, want %q", got[0].Record.Content, near.Content)
	}
	if got[0].Score < 0.99 {
		t.Errorf("identical vector score = %g, want ≈1", got[0].Score)
	}
	if got[1].Score > 0.01 {
		t.Errorf("orthogonal vector score = %g, want ≈0", got[1].Score)
	}
}

func TestCollection_PersonaIsolation(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)

	luna := store.Collection("persona-luna")
	kai := store.Collection("persona-kai")

	lunaRec := testRecord("persona-luna", "user-1", "told luna a secret", now,
		completeVectors([]float32{1, 0, 0, 0}, nil))
	kaiRec := testRecord("persona-kai", "user-1", "told kai a joke", now,
		completeVectors([]float32{1, 0, 0, 0}, nil))

	if err := luna.Upsert(ctx, lunaRec); err != nil {
		t.Fatalf("Upsert luna: %v", err)
	}
	if err := kai.Upsert(ctx, kaiRec); err != nil {
		t.Fatalf("Upsert kai: %v", err)
	}

	// A collection must refuse records belonging to another persona.
	if err := luna.Upsert(ctx, kaiRec); !errors.Is(err, memory.ErrInvalid) {
		t.Errorf("cross-persona Upsert: err = %v, want ErrInvalid", err)
	}

	got, err := luna.SearchByContent(ctx, "user-1", []float32{1, 0, 0, 0}, 10)
	if err != nil {
		t.Fatalf("SearchByContent: %v", err)
	}
	for _, sr := range got {
		if sr.Record.PersonaID != "persona-luna" {
			t.Errorf("search leaked record from %q", sr.Record.PersonaID)
		}
	}
	if len(got) != 1 {
		t.Errorf("search: want 1 result, got %d", len(got))
	}

	recent, err := luna.ScrollRecent(ctx, "user-1", 10, time.Time{})
	if err != nil {
		t.Fatalf("ScrollRecent: %v", err)
	}
	for _, rec := range recent {
		if rec.PersonaID != "persona-luna" {
			t.Errorf("scroll leaked record from %q", rec.PersonaID)
		}
	}
}

func TestCollection_PartialVectorsSurvive(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	coll := store.Collection("persona-luna")

	vecs := completeVectors([]float32{1, 0, 0, 0}, nil)
	delete(vecs, memory.KindPersonality)
	rec := testRecord("persona-luna", "user-1", "incomplete", time.Now(), vecs)

	if err := coll.Upsert(ctx, rec); err != nil {
		t.Fatalf("partial Upsert: %v", err)
	}

	recent, err := coll.ScrollRecent(ctx, "user-1", 10, time.Time{})
	if err != nil {
		t.Fatalf("ScrollRecent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("got %d records, want 1", len(recent))
	}
	got := recent[0].Vectors
	if len(got[memory.KindContent]) == 0 {
		t.Error("content view missing after round trip")
	}
	if _, ok := got[memory.KindPersonality]; ok {
		t.Error("personality view resurrected from NULL column")
	}

	// Searching on the missing dimension must not surface the record.
	hits, err := coll.SearchByDimensions(ctx, "user-1",
		map[memory.VectorKind][]float32{memory.KindPersonality: {1, 0, 0, 0}},
		map[memory.VectorKind]float64{memory.KindPersonality: 1.0}, 10, nil)
	if err != nil {
		t.Fatalf("SearchByDimensions: %v", err)
	}
	if len(hits) != 0 {
		t.Errorf("record with NULL personality matched a personality search: %d hits", len(hits))
	}
}

func TestCollection_MissingContentVectorRejected(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	coll := store.Collection("persona-luna")

	vecs := completeVectors([]float32{1, 0, 0, 0}, nil)
	delete(vecs, memory.KindContent)
	rec := testRecord("persona-luna", "user-1", "no content view", time.Now(), vecs)

	if err := coll.Upsert(ctx, rec); !errors.Is(err, memory.ErrInvalid) {
		t.Fatalf("Upsert without content view: err = %v, want ErrInvalid", err)
	}
}

func TestCollection_UpsertIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	coll := store.Collection("persona-luna")

	now := time.Now().UTC().Truncate(time.Second)
	rec := testRecord("persona-luna", "user-1", "same turn twice", now,
		completeVectors([]float32{0, 0, 1, 0}, nil))

	if err := coll.Upsert(ctx, rec); err != nil {
		t.Fatalf("first Upsert: %v", err)
	}
	if err := coll.Upsert(ctx, rec); err != nil {
		t.Fatalf("second Upsert: %v", err)
	}

	recent, err := coll.ScrollRecent(ctx, "user-1", 10, time.Time{})
	if err != nil {
		t.Fatalf("ScrollRecent: %v", err)
	}
	if len(recent) != 1 {
		t.Errorf("after duplicate upsert: want 1 record, got %d", len(recent))
	}
}

func TestCollection_WeightedSearch(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	coll := store.Collection("persona-luna")

	now := time.Now().UTC().Truncate(time.Second)
	axis1 := []float32{1, 0, 0, 0}
	axis2 := []float32{0, 1, 0, 0}

	// contentMatch is close on content only; emotionMatch on emotion only.
	contentMatch := testRecord("persona-luna", "user-1", "content match", now,
		completeVectors(axis2, map[memory.VectorKind][]float32{memory.KindContent: axis1}))
	emotionMatch := testRecord("persona-luna", "user-1", "emotion match", now.Add(time.Second),
		completeVectors(axis2, map[memory.VectorKind][]float32{memory.KindEmotion: axis1}))

	for _, rec := range []memory.Record{contentMatch, emotionMatch} {
		if err := coll.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	dims := map[memory.VectorKind][]float32{
		memory.KindContent: axis1,
		memory.KindEmotion: axis1,
	}

	got, err := coll.SearchByDimensions(ctx, "user-1", dims,
		map[memory.VectorKind]float64{memory.KindContent: 0.1, memory.KindEmotion: 0.9}, 2, nil)
	if err != nil {
		t.Fatalf("SearchByDimensions: %v", err)
	}
	if len(got) == 0 || got[0].Record.MemoryID != emotionMatch.MemoryID {
		t.Errorf("emotion-weighted search did not rank emotion match first: %+v", got)
	}

	got, err = coll.SearchByDimensions(ctx, "user-1", dims,
		map[memory.VectorKind]float64{memory.KindContent: 0.9, memory.KindEmotion: 0.1}, 2, nil)
	if err != nil {
		t.Fatalf("SearchByDimensions: %v", err)
	}
	if len(got) == 0 || got[0].Record.MemoryID != contentMatch.MemoryID {
		t.Errorf("content-weighted search did not rank content match first: %+v", got)
	}

	_, err = coll.SearchByDimensions(ctx, "user-1", dims,
		map[memory.VectorKind]float64{memory.KindContent: -0.5}, 2, nil)
	if !errors.Is(err, memory.ErrInvalid) {
		t.Errorf("negative weight: err = %v, want ErrInvalid", err)
	}
}

func TestCollection_EmotionCoercedOnIngress(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	coll := store.Collection("persona-luna")

	rec := testRecord("persona-luna", "user-1", "weird emotion", time.Now(),
		completeVectors([]float32{1, 0, 0, 0}, nil))
	rec.Payload.PrimaryEmotion = chat.Emotion("ecstatic-beyond-words")
	rec.Payload.SecondaryEmotions = []chat.Emotion{chat.EmotionJoy, "bamboozled"}

	if err := coll.Upsert(ctx, rec); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	recent, err := coll.ScrollRecent(ctx, "user-1", 1, time.Time{})
	if err != nil {
		t.Fatalf("ScrollRecent: %v", err)
	}
	if len(recent) != 1 {
		t.Fatalf("want 1 record, got %d", len(recent))
	}
	if got := recent[0].Payload.PrimaryEmotion; got != chat.EmotionNeutral {
		t.Errorf("primary emotion = %q, want neutral", got)
	}
	for _, e := range recent[0].Payload.SecondaryEmotions {
		if !e.IsValid() {
			t.Errorf("secondary emotion %q escaped the closed set", e)
		}
	}
}

func TestCollection_SearchFilter(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	coll := store.Collection("persona-luna")

	now := time.Now().UTC().Truncate(time.Second)
	old := testRecord("persona-luna", "user-1", "old memory", now.Add(-48*time.Hour),
		completeVectors([]float32{1, 0, 0, 0}, nil))
	recent := testRecord("persona-luna", "user-1", "recent memory", now,
		completeVectors([]float32{1, 0, 0, 0}, nil))

	for _, rec := range []memory.Record{old, recent} {
		if err := coll.Upsert(ctx, rec); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}

	got, err := coll.SearchByDimensions(ctx, "user-1",
		map[memory.VectorKind][]float32{memory.KindContent: {1, 0, 0, 0}},
		map[memory.VectorKind]float64{memory.KindContent: 1},
		10, &memory.SearchFilter{After: now.Add(-time.Hour)})
	if err != nil {
		t.Fatalf("SearchByDimensions: %v", err)
	}
	if len(got) != 1 || got[0].Record.MemoryID != recent.MemoryID {
		t.Errorf("After filter: want only the recent record, got %d results", len(got))
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Relational store
// ─────────────────────────────────────────────────────────────────────────────

func TestRelational_Users(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rel := store.Relational()

	missing, err := rel.GetUser(ctx, "nobody")
	if err != nil {
		t.Fatalf("GetUser missing: %v", err)
	}
	if missing != nil {
		t.Errorf("GetUser missing: want nil, got %+v", missing)
	}

	u := memory.User{UserID: "user-1", DisplayName: "Alice", Platform: "discord"}
	if err := rel.UpsertUser(ctx, u); err != nil {
		t.Fatalf("UpsertUser: %v", err)
	}

	got, err := rel.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got == nil || got.DisplayName != "Alice" || got.Platform != "discord" {
		t.Fatalf("GetUser: got %+v", got)
	}
	firstSeen := got.FirstSeen

	// Renames update display_name but never move first_seen.
	u.DisplayName = "Alice2"
	if err := rel.UpsertUser(ctx, u); err != nil {
		t.Fatalf("UpsertUser rename: %v", err)
	}
	got, err = rel.GetUser(ctx, "user-1")
	if err != nil {
		t.Fatalf("GetUser after rename: %v", err)
	}
	if got.DisplayName != "Alice2" {
		t.Errorf("display name = %q, want Alice2", got.DisplayName)
	}
	if !got.FirstSeen.Equal(firstSeen) {
		t.Errorf("first_seen moved: %v → %v", firstSeen, got.FirstSeen)
	}
}

func TestRelational_InsertTurnIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rel := store.Relational()

	turn := chat.Turn{
		TurnID:    "turn-1",
		PersonaID: "persona-luna",
		UserID:    "user-1",
		ChannelID: "chan-1",
		CreatedAt: time.Now(),
		UserText:  "hello",
		BotText:   "hi there!",
	}
	signals := chat.Signals{TopicTags: []string{"greeting"}}

	if err := rel.InsertTurn(ctx, turn, signals); err != nil {
		t.Fatalf("first InsertTurn: %v", err)
	}
	turn.BotText = "different text, same id"
	if err := rel.InsertTurn(ctx, turn, signals); err != nil {
		t.Fatalf("second InsertTurn: %v", err)
	}

	var count int
	var botText string
	err := storePool(t, store).QueryRow(ctx,
		"SELECT count(*), min(bot_text) FROM turns WHERE turn_id = 'turn-1'").Scan(&count, &botText)
	if err != nil {
		t.Fatalf("count turns: %v", err)
	}
	if count != 1 {
		t.Errorf("turn count = %d, want 1", count)
	}
	if botText != "hi there!" {
		t.Errorf("bot_text = %q, want the first write preserved", botText)
	}
}

// storePool reopens a plain pool on the same DSN for direct assertions.
func storePool(t *testing.T, _ *postgres.Store) *pgxpool.Pool {
	t.Helper()
	pool := mustPool(t, context.Background(), testDSN(t))
	t.Cleanup(pool.Close)
	return pool
}

func TestRelational_RelationshipState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rel := store.Relational()

	// Absent row reads back as the neutral default.
	s, err := rel.GetRelationshipState(ctx, "persona-luna", "user-1")
	if err != nil {
		t.Fatalf("GetRelationshipState default: %v", err)
	}
	if s.Trust != 0.5 || s.Comfort != 0.5 {
		t.Errorf("default state = %+v, want all 0.5", s)
	}

	delta := chat.RelationshipDelta{Trust: 0.01, Affection: 0.01}
	if err := rel.UpsertRelationshipState(ctx, "persona-luna", "user-1", delta); err != nil {
		t.Fatalf("UpsertRelationshipState: %v", err)
	}
	s, err = rel.GetRelationshipState(ctx, "persona-luna", "user-1")
	if err != nil {
		t.Fatalf("GetRelationshipState: %v", err)
	}
	if s.Trust < 0.509 || s.Trust > 0.511 {
		t.Errorf("trust = %g, want 0.51", s.Trust)
	}
	if s.Comfort != 0.5 {
		t.Errorf("comfort = %g, want unchanged 0.5", s.Comfort)
	}

	// Large deltas clamp at the bounds.
	if err := rel.UpsertRelationshipState(ctx, "persona-luna", "user-1",
		chat.RelationshipDelta{Trust: 5, Comfort: -5}); err != nil {
		t.Fatalf("UpsertRelationshipState clamp: %v", err)
	}
	s, err = rel.GetRelationshipState(ctx, "persona-luna", "user-1")
	if err != nil {
		t.Fatalf("GetRelationshipState after clamp: %v", err)
	}
	if s.Trust != 1 {
		t.Errorf("trust = %g, want clamped to 1", s.Trust)
	}
	if s.Comfort != 0 {
		t.Errorf("comfort = %g, want clamped to 0", s.Comfort)
	}

	// Per-persona state is independent.
	other, err := rel.GetRelationshipState(ctx, "persona-kai", "user-1")
	if err != nil {
		t.Fatalf("GetRelationshipState other persona: %v", err)
	}
	if other.Trust != 0.5 {
		t.Errorf("other persona trust = %g, want default 0.5", other.Trust)
	}
}

func TestRelational_Facts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	rel := store.Relational()

	now := time.Now().UTC().Truncate(time.Second)
	facts := []memory.Fact{
		{FactID: "f1", PersonaID: "persona-luna", UserID: "user-1", Category: "hobby", Content: "paints watercolors", Confidence: 0.9, CreatedAt: now.Add(-time.Hour)},
		{FactID: "f2", PersonaID: "persona-luna", UserID: "user-1", Category: "pet", Content: "has a cat named Miso", Confidence: 0.8, CreatedAt: now},
		{FactID: "f3", PersonaID: "persona-kai", UserID: "user-1", Category: "hobby", Content: "collects records", Confidence: 0.7, CreatedAt: now},
	}
	for _, f := range facts {
		if err := rel.UpsertFact(ctx, f); err != nil {
			t.Fatalf("UpsertFact %s: %v", f.FactID, err)
		}
	}

	got, err := rel.QueryFacts(ctx, "persona-luna", "user-1", 10)
	if err != nil {
		t.Fatalf("QueryFacts: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("QueryFacts: want 2 facts, got %d", len(got))
	}
	if got[0].FactID != "f2" {
		t.Errorf("facts not most-recent-first: first was %s", got[0].FactID)
	}
	for _, f := range got {
		if f.PersonaID != "persona-luna" {
			t.Errorf("fact %s leaked from persona %q", f.FactID, f.PersonaID)
		}
	}
}
