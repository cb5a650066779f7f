// Package postgres implements the campaigns persistence interfaces on
// PostgreSQL via pgx. The job claim and the batch checkpoint are the two
// operations that carry the concurrency guarantees: the claim is one
// conditional UPDATE with SKIP LOCKED candidate selection, and the checkpoint
// is one transaction covering results, counters and cursors.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
)

// Store implements campaigns.Store on a pgx connection pool.
type Store struct {
	pool          *pgxpool.Pool
	lockStaleness time.Duration
}

var _ campaigns.Store = (*Store)(nil)

const defaultLockStaleness = 5 * time.Minute

// NewStore wraps a pgx pool. lockStaleness is the lock age beyond which a
// claimed job is considered abandoned and eligible for re-claim; zero selects
// the default.
func NewStore(pool *pgxpool.Pool, lockStaleness time.Duration) *Store {
	if lockStaleness <= 0 {
		lockStaleness = defaultLockStaleness
	}
	return &Store{pool: pool, lockStaleness: lockStaleness}
}

// Connect opens a pgx pool against dsn and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse database DSN: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return pool, nil
}

// pgUUID converts a uuid.UUID into pgx's UUID representation.
func pgUUID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: true}
}

// fromPGUUID converts back, treating NULL as the zero UUID.
func fromPGUUID(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return uuid.UUID(id.Bytes)
}
