// Package design builds fully crossed subject × item design tables from
// validated factor declarations.
package design

import (
	"math/rand/v2"

	"mixpower/domain/design"
	"mixpower/internal"
	"mixpower/ports"
)

// Builder expands a design.Spec into a design.Table.
type Builder struct {
	rngPort ports.RNGPort
	logger  *internal.Logger
}

// NewBuilder creates a builder drawing continuous-covariate samples from rngPort.
func NewBuilder(rngPort ports.RNGPort, logger *internal.Logger) *Builder {
	if logger == nil {
		logger = internal.DefaultLogger
	}
	return &Builder{rngPort: rngPort, logger: logger}
}

// Build validates spec and produces the crossed table. Subjects and items are
// assigned to between-factor cells in sequential blocks; seed only affects
// continuous covariates whose pool size differs from the unit count.
func (b *Builder) Build(spec design.Spec, seed int64) (*design.Table, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	nSubjects := spec.TotalSubjects()
	nItems := spec.TotalItems()
	rng := b.rngPort.SeededStream("design", seed)

	subjectBetween := spec.ByPopulation(design.SubjectBetween)
	itemBetween := spec.ByPopulation(design.ItemBetween)
	within := spec.ByPopulation(design.Within)

	subjectCells := cartesian(levelCounts(subjectBetween))
	itemCells := cartesian(levelCounts(itemBetween))
	withinCells := cartesian(levelCounts(within))

	subjectsPerCell := nSubjects / len(subjectCells)
	itemsPerCell := nItems / len(itemCells)

	subjectValues := resolvePools(spec.ByPopulation(design.SubjectContinuous), nSubjects, rng)
	itemValues := resolvePools(spec.ByPopulation(design.ItemContinuous), nItems, rng)

	rows := nSubjects * nItems * len(withinCells)
	subjectIDs := make([]int, 0, rows)
	itemIDs := make([]int, 0, rows)
	subjectCell := make([]int, 0, rows)
	itemCell := make([]int, 0, rows)
	withinCell := make([]int, 0, rows)

	for s := 0; s < nSubjects; s++ {
		for i := 0; i < nItems; i++ {
			for w := range withinCells {
				subjectIDs = append(subjectIDs, s+1)
				itemIDs = append(itemIDs, i+1)
				subjectCell = append(subjectCell, s/subjectsPerCell)
				itemCell = append(itemCell, i/itemsPerCell)
				withinCell = append(withinCell, w)
			}
		}
	}

	var columns []design.Column
	columns = append(columns, categoricalColumns(subjectBetween, subjectCells, subjectCell)...)
	columns = append(columns, categoricalColumns(itemBetween, itemCells, itemCell)...)
	columns = append(columns, categoricalColumns(within, withinCells, withinCell)...)
	columns = append(columns, numericColumns(spec.ByPopulation(design.SubjectContinuous), subjectValues, subjectIDs)...)
	columns = append(columns, numericColumns(spec.ByPopulation(design.ItemContinuous), itemValues, itemIDs)...)

	table, err := design.NewTable(subjectIDs, itemIDs, nSubjects, nItems, columns)
	if err != nil {
		return nil, err
	}

	b.logger.Debug("built design: %d subjects x %d items x %d within cells = %d rows",
		nSubjects, nItems, len(withinCells), table.Rows())
	return table, nil
}

func levelCounts(factors []design.FactorSpec) []int {
	counts := make([]int, len(factors))
	for i, f := range factors {
		counts[i] = f.NumLevels()
	}
	return counts
}

// cartesian enumerates level-index combinations with the first factor varying
// slowest. No factors yields a single empty combination.
func cartesian(counts []int) [][]int {
	combos := [][]int{{}}
	for _, n := range counts {
		next := make([][]int, 0, len(combos)*n)
		for _, prefix := range combos {
			for level := 0; level < n; level++ {
				combo := make([]int, len(prefix)+1)
				copy(combo, prefix)
				combo[len(prefix)] = level
				next = append(next, combo)
			}
		}
		combos = next
	}
	return combos
}

func categoricalColumns(factors []design.FactorSpec, cells [][]int, rowCell []int) []design.Column {
	columns := make([]design.Column, len(factors))
	for j, f := range factors {
		codes := make([]int, len(rowCell))
		for r, cell := range rowCell {
			codes[r] = cells[cell][j]
		}
		columns[j] = design.Column{
			Name:       f.Name(),
			Kind:       design.Categorical,
			Population: f.Population(),
			Levels:     f.Levels(),
			Codes:      codes,
		}
	}
	return columns
}

// resolvePools assigns one value per unit for each continuous factor: positional
// when the pool size equals the unit count, otherwise sampled with replacement
// from the whole pool.
func resolvePools(factors []design.FactorSpec, units int, rng *rand.Rand) [][]float64 {
	out := make([][]float64, len(factors))
	for j, f := range factors {
		pool := f.Pool()
		if len(pool) == units {
			out[j] = pool
			continue
		}
		values := make([]float64, units)
		for u := range values {
			values[u] = pool[rng.IntN(len(pool))]
		}
		out[j] = values
	}
	return out
}

func numericColumns(factors []design.FactorSpec, unitValues [][]float64, rowUnit []int) []design.Column {
	columns := make([]design.Column, len(factors))
	for j, f := range factors {
		values := make([]float64, len(rowUnit))
		for r, id := range rowUnit {
			values[r] = unitValues[j][id-1]
		}
		columns[j] = design.Column{
			Name:       f.Name(),
			Kind:       design.Numeric,
			Population: f.Population(),
			Values:     values,
		}
	}
	return columns
}
