package design

import (
	"fmt"
	"math"
	"strings"

	"mixpower/domain/core"
)

// Population identifies which experimental units a factor applies to.
type Population int

const (
	SubjectBetween Population = iota
	ItemBetween
	Within
	SubjectContinuous
	ItemContinuous
)

// Reserved column names for the unit identifiers.
const (
	SubjectIDColumn = "subject_id"
	ItemIDColumn    = "item_id"
)

func (p Population) String() string {
	switch p {
	case SubjectBetween:
		return "subject-between"
	case ItemBetween:
		return "item-between"
	case Within:
		return "within"
	case SubjectContinuous:
		return "subject-continuous"
	case ItemContinuous:
		return "item-continuous"
	default:
		return fmt.Sprintf("population(%d)", int(p))
	}
}

// ParsePopulation maps the string form back to a Population.
func ParsePopulation(s string) (Population, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "subject-between", "subject_between", "between-subject":
		return SubjectBetween, nil
	case "item-between", "item_between", "between-item":
		return ItemBetween, nil
	case "within":
		return Within, nil
	case "subject-continuous", "subject_continuous":
		return SubjectContinuous, nil
	case "item-continuous", "item_continuous":
		return ItemContinuous, nil
	}
	return 0, fmt.Errorf("%w: unknown population %q", core.ErrInvalidSpec, s)
}

// IsContinuous reports whether factors of this population carry numeric pools.
func (p Population) IsContinuous() bool {
	return p == SubjectContinuous || p == ItemContinuous
}

func (p Population) valid() bool {
	return p >= SubjectBetween && p <= ItemContinuous
}

// FactorSpec declares one factor. It is immutable once constructed; use
// NewCategorical or NewContinuous so malformed declarations never reach the builder.
type FactorSpec struct {
	name       string
	population Population
	levels     []string
	pool       []float64
}

// NewCategorical declares a between or within factor with ordered level labels.
func NewCategorical(name string, population Population, levels ...string) (FactorSpec, error) {
	if err := checkName(name); err != nil {
		return FactorSpec{}, err
	}
	if !population.valid() || population.IsContinuous() {
		return FactorSpec{}, core.NewSpecError(name, fmt.Sprintf("population %s cannot hold category levels", population))
	}
	if len(levels) < 2 {
		return FactorSpec{}, core.NewSpecError(name, fmt.Sprintf("needs at least 2 levels, got %d", len(levels)))
	}
	seen := make(map[string]bool, len(levels))
	for _, level := range levels {
		if strings.TrimSpace(level) == "" {
			return FactorSpec{}, core.NewSpecError(name, "level labels cannot be empty")
		}
		if seen[level] {
			return FactorSpec{}, core.NewSpecError(name, fmt.Sprintf("duplicate level %q", level))
		}
		seen[level] = true
	}
	return FactorSpec{
		name:       name,
		population: population,
		levels:     append([]string(nil), levels...),
	}, nil
}

// NewContinuous declares a subject- or item-level numeric covariate drawn from pool.
func NewContinuous(name string, population Population, pool []float64) (FactorSpec, error) {
	if err := checkName(name); err != nil {
		return FactorSpec{}, err
	}
	if !population.IsContinuous() {
		return FactorSpec{}, core.NewSpecError(name, fmt.Sprintf("population %s cannot hold a value pool", population))
	}
	if len(pool) == 0 {
		return FactorSpec{}, fmt.Errorf("%w: factor %q", core.ErrEmptyPool, name)
	}
	for i, v := range pool {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return FactorSpec{}, core.NewSpecError(name, fmt.Sprintf("pool value %d is not finite", i))
		}
	}
	return FactorSpec{
		name:       name,
		population: population,
		pool:       append([]float64(nil), pool...),
	}, nil
}

func checkName(name string) error {
	if strings.TrimSpace(name) == "" {
		return core.NewSpecError(name, "name cannot be empty")
	}
	if strings.ContainsAny(name, " ~+*:|()") {
		return core.NewSpecError(name, "name cannot contain whitespace or formula operators")
	}
	if name == SubjectIDColumn || name == ItemIDColumn {
		return fmt.Errorf("%w: %q is reserved for unit identifiers", core.ErrNameCollision, name)
	}
	return nil
}

func (f FactorSpec) Name() string           { return f.name }
func (f FactorSpec) Population() Population { return f.population }
func (f FactorSpec) NumLevels() int         { return len(f.levels) }

// Levels returns a copy of the ordered level labels (nil for continuous factors).
func (f FactorSpec) Levels() []string { return append([]string(nil), f.levels...) }

// Pool returns a copy of the value pool (nil for categorical factors).
func (f FactorSpec) Pool() []float64 { return append([]float64(nil), f.pool...) }

// CountMode says how SubjectN/ItemN relate to between-factor cells.
type CountMode int

const (
	// PerCell: SubjectN subjects in every combination of subject-between levels.
	PerCell CountMode = iota
	// Total: SubjectN subjects overall, which must split evenly across cells.
	Total
)

func (m CountMode) String() string {
	if m == Total {
		return "total"
	}
	return "per-cell"
}

// Spec is the full declarative design: unit counts plus factor declarations.
type Spec struct {
	SubjectN  int
	ItemN     int
	CountMode CountMode
	Factors   []FactorSpec
}

// Validate checks counts, name collisions and between-factor balance.
func (s Spec) Validate() error {
	if s.SubjectN <= 0 {
		return core.NewArgumentError("subject_n", fmt.Sprintf("must be positive, got %d", s.SubjectN))
	}
	if s.ItemN <= 0 {
		return core.NewArgumentError("item_n", fmt.Sprintf("must be positive, got %d", s.ItemN))
	}

	seen := make(map[string]Population, len(s.Factors))
	for _, f := range s.Factors {
		if f.name == "" {
			return core.NewSpecError("", "factor was not constructed with NewCategorical or NewContinuous")
		}
		if prev, dup := seen[f.name]; dup {
			return fmt.Errorf("%w: %q declared as %s and %s", core.ErrNameCollision, f.name, prev, f.population)
		}
		seen[f.name] = f.population
	}

	if s.CountMode == Total {
		if cells := s.Cells(SubjectBetween); s.SubjectN%cells != 0 {
			return fmt.Errorf("%w: subject_n=%d is not divisible by %d subject-between cells", core.ErrUnbalancedDesign, s.SubjectN, cells)
		}
		if cells := s.Cells(ItemBetween); s.ItemN%cells != 0 {
			return fmt.Errorf("%w: item_n=%d is not divisible by %d item-between cells", core.ErrUnbalancedDesign, s.ItemN, cells)
		}
	}
	return nil
}

// ByPopulation returns the factors of one population in declaration order.
func (s Spec) ByPopulation(p Population) []FactorSpec {
	var out []FactorSpec
	for _, f := range s.Factors {
		if f.population == p {
			out = append(out, f)
		}
	}
	return out
}

// Cells is the product of level counts for the given categorical population.
func (s Spec) Cells(p Population) int {
	cells := 1
	for _, f := range s.ByPopulation(p) {
		cells *= f.NumLevels()
	}
	return cells
}

// TotalSubjects is the number of distinct subjects the design will contain.
func (s Spec) TotalSubjects() int {
	if s.CountMode == Total {
		return s.SubjectN
	}
	return s.SubjectN * s.Cells(SubjectBetween)
}

// TotalItems is the number of distinct items the design will contain.
func (s Spec) TotalItems() int {
	if s.CountMode == Total {
		return s.ItemN
	}
	return s.ItemN * s.Cells(ItemBetween)
}

// ExpectedRows is subjects × items × within-combinations.
func (s Spec) ExpectedRows() int {
	return s.TotalSubjects() * s.TotalItems() * s.Cells(Within)
}

// WithCounts returns a copy of s with different unit counts, used by sweeps.
func (s Spec) WithCounts(subjectN, itemN int) Spec {
	out := s
	out.SubjectN = subjectN
	out.ItemN = itemN
	out.Factors = append([]FactorSpec(nil), s.Factors...)
	return out
}
