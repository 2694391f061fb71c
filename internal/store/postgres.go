package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements KV using PostgreSQL as the source of truth.
// Values are opaque BYTEA blobs keyed by TEXT; a batch is one transaction.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the key/value table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS kv_entries (
			key        TEXT PRIMARY KEY,
			value      BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("ensure kv schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE key = $1`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	return value, nil
}

func (s *PostgresStore) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT key, value FROM kv_entries
		 WHERE starts_with(key, $1)
		 ORDER BY key`, prefix)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", prefix, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, upsertSQL, key, value)
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Apply runs the whole batch inside one transaction; any failing statement
// rolls back every write.
func (s *PostgresStore) Apply(ctx context.Context, batch *Batch) error {
	if batch.Len() == 0 {
		return nil
	}
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		for _, op := range batch.Ops {
			var err error
			if op.Delete {
				_, err = tx.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, op.Key)
			} else {
				_, err = tx.Exec(ctx, upsertSQL, op.Key, op.Value)
			}
			if err != nil {
				return fmt.Errorf("apply %s: %w", op.Key, err)
			}
		}
		return nil
	})
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

const upsertSQL = `INSERT INTO kv_entries (key, value, updated_at)
	 VALUES ($1, $2, now())
	 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()`
