package testkit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"mixpower/adapters/rng"
	"mixpower/domain/core"
	"mixpower/domain/design"
	"mixpower/domain/model"
	"mixpower/domain/power"
	"mixpower/ports"
)

// StandardFormula is the model used by the reference scenarios: one between-subject
// factor, one within factor, their interaction, crossed random intercepts.
const StandardFormula = "y ~ group * condition + (1 | subject_id) + (1 | item_id)"

// RNGAdapter returns the production stream provider; it is already deterministic.
func RNGAdapter() ports.RNGPort {
	return rng.NewStreams()
}

// MustCategorical builds a categorical factor or panics; for fixtures only.
func MustCategorical(name string, pop design.Population, levels ...string) design.FactorSpec {
	f, err := design.NewCategorical(name, pop, levels...)
	if err != nil {
		panic(err)
	}
	return f
}

// MustContinuous builds a continuous factor or panics; for fixtures only.
func MustContinuous(name string, pop design.Population, pool []float64) design.FactorSpec {
	f, err := design.NewContinuous(name, pop, pool)
	if err != nil {
		panic(err)
	}
	return f
}

// StandardSpec is subject_n per group, item_n items, group (2 levels, between
// subjects) and condition (2 levels, within).
func StandardSpec(subjectN, itemN int) design.Spec {
	return design.Spec{
		SubjectN: subjectN,
		ItemN:    itemN,
		Factors: []design.FactorSpec{
			MustCategorical("group", design.SubjectBetween, "control", "treatment"),
			MustCategorical("condition", design.Within, "easy", "hard"),
		},
	}
}

// StandardContrasts codes both factors with ±0.5 deviation coding.
func StandardContrasts() model.Contrasts {
	return model.Contrasts{"group": model.Deviation, "condition": model.Deviation}
}

// FlakyAdapter wraps a ModelAdapter and fails every Nth fit (N <= 0 never fails).
// Calls are counted atomically so it can be shared across workers.
type FlakyAdapter struct {
	Inner     ports.ModelAdapter
	FailEvery int
	// FailAll makes every fit fail, for aggregation-underflow tests.
	FailAll bool

	calls atomic.Int64
}

// Compile delegates to the wrapped adapter.
func (f *FlakyAdapter) Compile(formula string, table *design.Table, contrasts model.Contrasts) (*model.Structure, error) {
	return f.Inner.Compile(formula, table, contrasts)
}

// Fit fails deterministically by call count, otherwise delegates.
func (f *FlakyAdapter) Fit(ctx context.Context, structure *model.Structure, response []float64) (*model.Fit, error) {
	n := int(f.calls.Add(1))

	if f.FailAll || (f.FailEvery > 0 && n%f.FailEvery == 0) {
		return nil, fmt.Errorf("%w: injected failure on call %d", core.ErrNotConverged, n)
	}
	return f.Inner.Fit(ctx, structure, response)
}

// Calls returns how many fits were attempted.
func (f *FlakyAdapter) Calls() int {
	return int(f.calls.Load())
}

// InMemoryPowerRepository implements ports.PowerRepository without a database.
type InMemoryPowerRepository struct {
	records []power.PowerRecord
	mu      sync.RWMutex
}

// NewInMemoryPowerRepository creates an empty repository.
func NewInMemoryPowerRepository() *InMemoryPowerRepository {
	return &InMemoryPowerRepository{}
}

// SaveRecords appends records.
func (r *InMemoryPowerRepository) SaveRecords(ctx context.Context, records []power.PowerRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, records...)
	return nil
}

// ListByRun returns a run's records in insertion order.
func (r *InMemoryPowerRepository) ListByRun(ctx context.Context, runID string) ([]power.PowerRecord, error) {
	return r.filter(func(rec power.PowerRecord) bool { return rec.RunID == runID }), nil
}

// ListBySweep returns a sweep's records in insertion order.
func (r *InMemoryPowerRepository) ListBySweep(ctx context.Context, sweepID string) ([]power.PowerRecord, error) {
	return r.filter(func(rec power.PowerRecord) bool { return rec.SweepID == sweepID }), nil
}

func (r *InMemoryPowerRepository) filter(keep func(power.PowerRecord) bool) []power.PowerRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []power.PowerRecord
	for _, rec := range r.records {
		if keep(rec) {
			out = append(out, rec)
		}
	}
	return out
}
