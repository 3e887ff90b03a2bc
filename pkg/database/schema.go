package database

import (
	"context"
	"fmt"
)

var schemaStatements = []struct {
	name string
	sql  string
}{
	{"research_jobs table", `
		CREATE TABLE IF NOT EXISTS research_jobs (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			query TEXT NOT NULL,
			breadth INT NOT NULL,
			depth INT NOT NULL,
			feedback TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'pending',
			progress JSONB,
			result JSONB,
			report TEXT,
			error TEXT,
			created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		)`},
	{"research_logs table", `
		CREATE TABLE IF NOT EXISTS research_logs (
			id BIGSERIAL PRIMARY KEY,
			job_id UUID NOT NULL REFERENCES research_jobs(id) ON DELETE CASCADE,
			timestamp TIMESTAMP WITH TIME ZONE DEFAULT NOW(),
			level TEXT NOT NULL,
			message TEXT NOT NULL,
			metadata JSONB
		)`},
	{"research_logs index", "CREATE INDEX IF NOT EXISTS idx_research_logs_job_id ON research_logs(job_id)"},
	{"research_jobs index", "CREATE INDEX IF NOT EXISTS idx_research_jobs_created_at ON research_jobs(created_at DESC)"},
}

// InitSchema creates the job and log tables. It is idempotent.
func (db *PostgresDB) InitSchema(ctx context.Context) error {
	for _, s := range schemaStatements {
		if _, err := db.conn().Exec(ctx, s.sql); err != nil {
			return fmt.Errorf("failed to create %s: %w", s.name, err)
		}
	}
	return nil
}
