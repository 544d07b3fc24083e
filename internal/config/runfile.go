package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"mixpower/adapters/excel"
	"mixpower/domain/core"
	"mixpower/domain/design"
	"mixpower/domain/model"
	"mixpower/domain/power"
	"mixpower/internal/errors"
	"mixpower/ports"
)

// RunFile models a YAML run description.
type RunFile struct {
	Design     DesignSection     `yaml:"design"`
	Model      ModelSection      `yaml:"model"`
	Simulation SimulationSection `yaml:"simulation"`
	Sweep      *SweepSection     `yaml:"sweep,omitempty"`
	Output     OutputSection     `yaml:"output"`

	dir string // directory of the file, for relative pool paths
}

// DesignSection declares unit counts and factors.
type DesignSection struct {
	SubjectN  int             `yaml:"subject_n"`
	ItemN     int             `yaml:"item_n"`
	CountMode string          `yaml:"count_mode,omitempty"`
	Factors   []FactorSection `yaml:"factors"`
}

// FactorSection is one factor. Categorical factors list levels; continuous
// factors give a pool inline or as a column of an xlsx/csv file.
type FactorSection struct {
	Name       string    `yaml:"name"`
	Population string    `yaml:"population"`
	Levels     []string  `yaml:"levels,omitempty"`
	Pool       []float64 `yaml:"pool,omitempty"`
	PoolFile   string    `yaml:"pool_file,omitempty"`
	PoolColumn string    `yaml:"pool_column,omitempty"`
}

// ModelSection holds the formula and contrast codings.
type ModelSection struct {
	Formula   string            `yaml:"formula"`
	Contrasts map[string]string `yaml:"contrasts,omitempty"`
}

// SimulationSection holds the run parameters.
type SimulationSection struct {
	NSims   int       `yaml:"nsims"`
	Beta    []float64 `yaml:"beta"`
	Sigma   float64   `yaml:"sigma"`
	Theta   []float64 `yaml:"theta"`
	Alpha   float64   `yaml:"alpha,omitempty"`
	Seed    int64     `yaml:"seed"`
	Workers int       `yaml:"workers,omitempty"`
}

// SweepSection lists the grid of unit counts.
type SweepSection struct {
	SubjectN    []int `yaml:"subject_n"`
	ItemN       []int `yaml:"item_n"`
	Concurrency int   `yaml:"concurrency,omitempty"`
}

// OutputSection lists where results are written; empty paths are skipped.
type OutputSection struct {
	XLSX   string `yaml:"xlsx,omitempty"`
	CSV    string `yaml:"csv,omitempty"`
	Report string `yaml:"report,omitempty"`
}

// LoadRunFile reads and parses a YAML run file.
func LoadRunFile(path string) (*RunFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(errors.ConfigInvalid(err.Error()), "failed to read run file %s", path)
	}
	rf, err := ParseRunFile(data)
	if err != nil {
		return nil, err
	}
	rf.dir = filepath.Dir(path)
	return rf, nil
}

// ParseRunFile parses YAML run-file content.
func ParseRunFile(data []byte) (*RunFile, error) {
	var rf RunFile
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&rf); err != nil {
		return nil, errors.Wrap(errors.ConfigInvalid(err.Error()), "failed to parse run file")
	}
	if strings.TrimSpace(rf.Model.Formula) == "" {
		return nil, errors.ConfigInvalid("model.formula is required")
	}
	return &rf, nil
}

// Spec converts the design section, loading pool files relative to the run file.
func (rf *RunFile) Spec() (design.Spec, error) {
	spec := design.Spec{SubjectN: rf.Design.SubjectN, ItemN: rf.Design.ItemN}

	switch strings.ToLower(strings.TrimSpace(rf.Design.CountMode)) {
	case "", "per-cell", "per_cell":
		spec.CountMode = design.PerCell
	case "total":
		spec.CountMode = design.Total
	default:
		return design.Spec{}, core.NewArgumentError("design.count_mode", fmt.Sprintf("unknown mode %q", rf.Design.CountMode))
	}

	for _, fs := range rf.Design.Factors {
		pop, err := design.ParsePopulation(fs.Population)
		if err != nil {
			return design.Spec{}, core.NewSpecError(fs.Name, err.Error())
		}

		var factor design.FactorSpec
		if pop.IsContinuous() {
			pool := fs.Pool
			if fs.PoolFile != "" {
				if len(pool) > 0 {
					return design.Spec{}, core.NewSpecError(fs.Name, "give either pool or pool_file, not both")
				}
				column := fs.PoolColumn
				if column == "" {
					column = fs.Name
				}
				var reader ports.PoolReader = excel.NewDataReader(rf.resolve(fs.PoolFile), nil)
				pool, err = reader.ReadPool(column)
				if err != nil {
					return design.Spec{}, err
				}
			}
			factor, err = design.NewContinuous(fs.Name, pop, pool)
		} else {
			factor, err = design.NewCategorical(fs.Name, pop, fs.Levels...)
		}
		if err != nil {
			return design.Spec{}, err
		}
		spec.Factors = append(spec.Factors, factor)
	}
	return spec, nil
}

// Contrasts converts the contrast map.
func (rf *RunFile) Contrasts() (model.Contrasts, error) {
	out := make(model.Contrasts, len(rf.Model.Contrasts))
	for factor, name := range rf.Model.Contrasts {
		c, err := model.ParseContrast(name)
		if err != nil {
			return nil, core.NewArgumentError("model.contrasts", fmt.Sprintf("%s: %v", factor, err))
		}
		out[factor] = c
	}
	return out, nil
}

// SimulationConfig converts the simulation section. Alpha defaults to 0.05 and
// workers to defaultWorkers.
func (rf *RunFile) SimulationConfig(defaultWorkers int) power.SimulationConfig {
	sim := rf.Simulation
	alpha := sim.Alpha
	if alpha == 0 {
		alpha = power.DefaultAlpha
	}
	workers := sim.Workers
	if workers == 0 {
		workers = defaultWorkers
	}
	return power.SimulationConfig{
		SubjectN: rf.Design.SubjectN,
		ItemN:    rf.Design.ItemN,
		NSims:    sim.NSims,
		Target: power.TargetParameters{
			Beta:  append([]float64(nil), sim.Beta...),
			Sigma: sim.Sigma,
			Theta: append([]float64(nil), sim.Theta...),
		},
		Alpha:   alpha,
		Seed:    sim.Seed,
		Workers: workers,
	}
}

func (rf *RunFile) resolve(path string) string {
	if filepath.IsAbs(path) || rf.dir == "" {
		return path
	}
	return filepath.Join(rf.dir, path)
}
