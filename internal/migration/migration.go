package migration

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"mixpower/internal/errors"
)

// Migrator defines the interface for database migration operations
type Migrator interface {
	Run(ctx context.Context, db *sqlx.DB) error
	Version() string
}

// MigrationRunner handles database schema migrations
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

// Statements returns the DDL executed by Run, in order.
func (r *MigrationRunner) Statements() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS power_results (
			id BIGSERIAL PRIMARY KEY,
			run_id TEXT NOT NULL,
			sweep_id TEXT NOT NULL DEFAULT '',
			subject_n INTEGER NOT NULL,
			item_n INTEGER NOT NULL,
			coefname TEXT NOT NULL,
			power DOUBLE PRECISION,
			mean_estimate DOUBLE PRECISION,
			lower_ci DOUBLE PRECISION,
			upper_ci DOUBLE PRECISION,
			valid_trials INTEGER NOT NULL,
			failed_trials INTEGER NOT NULL,
			nsims INTEGER NOT NULL,
			alpha DOUBLE PRECISION NOT NULL,
			seed BIGINT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (run_id, coefname)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_power_results_sweep ON power_results(sweep_id) WHERE sweep_id <> ''`,
		`CREATE INDEX IF NOT EXISTS idx_power_results_design ON power_results(subject_n, item_n)`,
	}
}

// Run executes all database migrations in the correct order
func (r *MigrationRunner) Run(ctx context.Context, db *sqlx.DB) error {
	for i, stmt := range r.Statements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return errors.Wrap(errors.DatabaseError(fmt.Sprintf("migration step %d failed", i+1), err), "failed to migrate power_results")
		}
	}
	return nil
}
