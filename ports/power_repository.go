package ports

import (
	"context"

	"mixpower/domain/power"
)

// PowerRepository persists aggregated power rows.
type PowerRepository interface {
	SaveRecords(ctx context.Context, records []power.PowerRecord) error
	ListByRun(ctx context.Context, runID string) ([]power.PowerRecord, error)
	ListBySweep(ctx context.Context, sweepID string) ([]power.PowerRecord, error)
}

// RecordWriter writes power rows to a file-like sink (xlsx, csv).
type RecordWriter interface {
	WriteRecords(path string, records []power.PowerRecord) error
}
