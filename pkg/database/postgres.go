package database

import (
	"context"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Querier is the part of *pgxpool.Pool the job and schema code runs on.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresDB wraps the database connection pool
type PostgresDB struct {
	Pool *pgxpool.Pool

	// q replaces Pool for queries when set.
	q Querier
}

func (db *PostgresDB) conn() Querier {
	if db.q != nil {
		return db.q
	}
	return db.Pool
}

// NewPostgresDB connects and pings the database.
func NewPostgresDB(ctx context.Context, databaseURL string) (*PostgresDB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is not set")
	}
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	// Each running job writes progress and log rows concurrently.
	config.MaxConns = 25
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresDB{Pool: pool}, nil
}

func (db *PostgresDB) Close() {
	db.Pool.Close()
}

// EnsureVectorExtension ensures the pgvector extension is installed
func (db *PostgresDB) EnsureVectorExtension(ctx context.Context) error {
	if _, err := db.conn().Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	return nil
}

var collectionPattern = regexp.MustCompile(`^[a-z_][a-zA-Z0-9_]{0,62}$`)

// CreateEmbeddingsTable creates the knowledge collection table and its
// indexes if they do not exist.
func (db *PostgresDB) CreateEmbeddingsTable(ctx context.Context, tableName string, dimension int) error {
	if !collectionPattern.MatchString(tableName) {
		return fmt.Errorf("invalid collection name %q", tableName)
	}
	if dimension <= 0 {
		return fmt.Errorf("invalid embedding dimension %d", dimension)
	}
	table := pgx.Identifier{tableName}.Sanitize()

	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
				content TEXT NOT NULL,
				metadata JSONB NOT NULL DEFAULT '{}',
				embedding vector(%d),
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			)`, table, dimension),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING gin (metadata jsonb_path_ops)`,
			pgx.Identifier{tableName + "_metadata_idx"}.Sanitize(), table),
	}
	// HNSW supports up to 2000 dimensions; above that search falls back to a scan.
	if dimension <= 2000 {
		stmts = append(stmts, fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)`,
			pgx.Identifier{tableName + "_embedding_idx"}.Sanitize(), table))
	}

	for _, stmt := range stmts {
		if _, err := db.conn().Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to prepare collection %s: %w", tableName, err)
		}
	}
	return nil
}
