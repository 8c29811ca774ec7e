package migration

import (
	"context"

	"lmmpower/internal/errors"

	"github.com/jmoiron/sqlx"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations. Statements are written
// in the SQL subset shared by PostgreSQL and SQLite.
type MigrationRunner struct {
	version string
}

// NewRunner creates a new migration runner
func NewRunner() *MigrationRunner {
	return &MigrationRunner{
		version: "1.0.0",
	}
}

// Version returns the migration version
func (r *MigrationRunner) Version() string {
	return r.version
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	if err := r.createAnalysesTable(ctx, db); err != nil {
		return errors.StorageError("failed to create analyses table", err)
	}

	if err := r.createIndexes(ctx, db); err != nil {
		return errors.StorageError("failed to create indexes", err)
	}

	return nil
}

func (r *MigrationRunner) createAnalysesTable(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS analyses (
			id VARCHAR(36) PRIMARY KEY,
			fingerprint VARCHAR(64) NOT NULL,
			formula TEXT NOT NULL,
			method VARCHAR(20) NOT NULL,
			replicates INTEGER NOT NULL,
			seed BIGINT NOT NULL,
			request TEXT NOT NULL,
			power_table TEXT NOT NULL,
			created_at VARCHAR(40) NOT NULL,
			duration_ns BIGINT NOT NULL
		)
	`)
	return err
}

func (r *MigrationRunner) createIndexes(ctx context.Context, db *sqlx.DB) error {
	statements := []string{
		`CREATE INDEX IF NOT EXISTS idx_analyses_created_at ON analyses (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_fingerprint ON analyses (fingerprint)`,
	}
	for _, stmt := range statements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
