package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/lib/pq"
)

const schema = `
	CREATE TABLE IF NOT EXISTS session_queries (
		session_id VARCHAR(128) PRIMARY KEY,
		query TEXT NOT NULL,
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_session_queries_updated_at ON session_queries(updated_at);
`

// PostgresStore keeps session entries in PostgreSQL.
type PostgresStore struct {
	db  *sql.DB
	ttl time.Duration
}

// NewPostgresStore connects, pings and initializes the schema.
func NewPostgresStore(ctx context.Context, connectionString string, ttl time.Duration) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := NewPostgresStoreWithDB(db, ttl)
	if err := store.InitSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	slog.Info("PostgreSQL session store connected")
	return store, nil
}

// NewPostgresStoreWithDB wraps an existing handle without touching the schema.
func NewPostgresStoreWithDB(db *sql.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl}
}

func (ps *PostgresStore) InitSchema(ctx context.Context) error {
	if _, err := ps.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (ps *PostgresStore) cutoff() time.Time {
	if ps.ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(-ps.ttl)
}

func (ps *PostgresStore) LastQuery(ctx context.Context, id string) (string, bool, error) {
	var query string
	err := ps.db.QueryRowContext(ctx,
		`SELECT query FROM session_queries WHERE session_id = $1 AND updated_at > $2`,
		id, ps.cutoff(),
	).Scan(&query)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read session: %w", err)
	}
	return query, true, nil
}

// SaveQuery upserts so concurrent saves for one session never conflict.
func (ps *PostgresStore) SaveQuery(ctx context.Context, id, query string) error {
	if id == "" {
		return ErrEmptyID
	}
	_, err := ps.db.ExecContext(ctx, `
		INSERT INTO session_queries (session_id, query, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (session_id) DO UPDATE SET query = EXCLUDED.query, updated_at = NOW()
	`, id, query)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// Cleanup removes expired rows and reports how many were deleted.
func (ps *PostgresStore) Cleanup(ctx context.Context) (int64, error) {
	if ps.ttl <= 0 {
		return 0, nil
	}
	result, err := ps.db.ExecContext(ctx, `DELETE FROM session_queries WHERE updated_at < $1`, ps.cutoff())
	if err != nil {
		return 0, fmt.Errorf("failed to cleanup: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows > 0 {
		slog.Info("cleaned up expired sessions", "rows", rows)
	}
	return rows, nil
}

func (ps *PostgresStore) Sweep(ctx context.Context) (int64, error) {
	return ps.Cleanup(ctx)
}

func (ps *PostgresStore) GetStats(ctx context.Context) (map[string]int, error) {
	var total int
	if err := ps.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM session_queries`).Scan(&total); err != nil {
		return nil, err
	}
	return map[string]int{"total_items": total}, nil
}

func (ps *PostgresStore) Close() error {
	if ps.db != nil {
		return ps.db.Close()
	}
	return nil
}
