package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/reverie-chat/reverie/pkg/memory"
)

// Compile-time interface checks.
var (
	_ memory.VectorStore     = (*Store)(nil)
	_ memory.Collection      = (*Collection)(nil)
	_ memory.RelationalStore = (*RelationalStore)(nil)
)

// Store is the central PostgreSQL-backed store for Reverie. It holds a single
// [pgxpool.Pool] and exposes:
//
//   - [Store.Collection] returning a persona-bound [Collection] implementing
//     [memory.Collection]
//   - [Store.Relational] returning a [RelationalStore] implementing
//     [memory.RelationalStore]
//
// All operations are safe for concurrent use.
type Store struct {
	pool       *pgxpool.Pool
	relational *RelationalStore
}

// NewStore creates a new Store, establishes a connection pool to the
// PostgreSQL database at dsn, registers pgvector types on every connection,
// and runs [Migrate] to ensure all required tables and extensions exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// used to produce record vectors. Changing this value after the first
// migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres store: parse dsn: %w", err)
	}

	// Register pgvector types on every new connection so that vector columns
	// can be scanned into and inserted from pgvector.Vector values.
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres store: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres store: migrate: %w", err)
	}

	return &Store{
		pool:       pool,
		relational: &RelationalStore{pool: pool},
	}, nil
}

// Collection implements [memory.VectorStore]. The returned handle is bound to
// personaID for its lifetime: every statement it issues carries the persona.
func (s *Store) Collection(personaID string) memory.Collection {
	return &Collection{pool: s.pool, personaID: personaID}
}

// Relational returns the relational store implementation which satisfies
// [memory.RelationalStore].
func (s *Store) Relational() *RelationalStore { return s.relational }

// Ping verifies the database is reachable. Used by readiness probes.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all connections held by the underlying connection pool.
// It should be called when the Store is no longer needed, typically via defer.
func (s *Store) Close() {
	s.pool.Close()
}
