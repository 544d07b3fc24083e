package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"mixpower/domain/power"
	apperrors "mixpower/internal/errors"
	"mixpower/ports"
)

// PowerRepositoryImpl implements PowerRepository for PostgreSQL
type PowerRepositoryImpl struct {
	db *sqlx.DB
}

// NewPowerRepository creates a new PostgreSQL power repository
func NewPowerRepository(db *sqlx.DB) ports.PowerRepository {
	return &PowerRepositoryImpl{db: db}
}

const powerColumns = `run_id, sweep_id, subject_n, item_n, coefname, power, mean_estimate,
	lower_ci, upper_ci, valid_trials, failed_trials, nsims, alpha, seed, created_at`

// SaveRecords inserts the rows of one run or sweep in a single transaction.
// Re-saving a (run_id, coefname) pair overwrites it.
func (r *PowerRepositoryImpl) SaveRecords(ctx context.Context, records []power.PowerRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return apperrors.DatabaseError("failed to begin transaction", err)
	}
	defer tx.Rollback()

	for _, rec := range records {
		_, err := tx.NamedExecContext(ctx, `
			INSERT INTO power_results (`+powerColumns+`)
			VALUES (:run_id, :sweep_id, :subject_n, :item_n, :coefname, :power, :mean_estimate,
				:lower_ci, :upper_ci, :valid_trials, :failed_trials, :nsims, :alpha, :seed, :created_at)
			ON CONFLICT (run_id, coefname) DO UPDATE SET
				power = EXCLUDED.power,
				mean_estimate = EXCLUDED.mean_estimate,
				lower_ci = EXCLUDED.lower_ci,
				upper_ci = EXCLUDED.upper_ci,
				valid_trials = EXCLUDED.valid_trials,
				failed_trials = EXCLUDED.failed_trials
		`, rec)
		if err != nil {
			return wrapPQ(fmt.Sprintf("failed to insert power row %s/%s", rec.RunID, rec.CoefName), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return apperrors.DatabaseError("failed to commit power rows", err)
	}
	return nil
}

// ListByRun returns a run's rows in insertion order.
func (r *PowerRepositoryImpl) ListByRun(ctx context.Context, runID string) ([]power.PowerRecord, error) {
	var records []power.PowerRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT `+powerColumns+`
		FROM power_results
		WHERE run_id = $1
		ORDER BY id
	`, runID)
	if err != nil {
		return nil, wrapPQ("failed to list power rows for run "+runID, err)
	}
	return records, nil
}

// ListBySweep returns every row of a sweep, ordered by design point.
func (r *PowerRepositoryImpl) ListBySweep(ctx context.Context, sweepID string) ([]power.PowerRecord, error) {
	var records []power.PowerRecord
	err := r.db.SelectContext(ctx, &records, `
		SELECT `+powerColumns+`
		FROM power_results
		WHERE sweep_id = $1
		ORDER BY subject_n, item_n, id
	`, sweepID)
	if err != nil {
		return nil, wrapPQ("failed to list power rows for sweep "+sweepID, err)
	}
	return records, nil
}

func wrapPQ(message string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		message = fmt.Sprintf("%s (%s)", message, pqErr.Code.Name())
	}
	return apperrors.DatabaseError(message, err)
}
