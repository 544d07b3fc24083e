package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mixpower/domain/core"
	"mixpower/domain/design"
	"mixpower/domain/model"
	"mixpower/internal"
	"mixpower/internal/errors"
)

const sampleRunFile = `
design:
  subject_n: 10
  item_n: 30
  factors:
    - name: group
      population: subject-between
      levels: [control, treatment]
    - name: condition
      population: within
      levels: [easy, hard]
    - name: age
      population: subject-continuous
      pool_file: ages.csv
model:
  formula: "y ~ group * condition + (1 | subject_id) + (1 | item_id)"
  contrasts:
    group: deviation
    condition: sum
simulation:
  nsims: 1000
  beta: [0, 0.25, 0.25, 0]
  sigma: 2
  theta: [1, 1]
  seed: 42
sweep:
  subject_n: [20, 30, 40]
  item_n: [10, 20, 30]
output:
  xlsx: out/power.xlsx
  report: out/report.html
`

func TestLoadRunFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ages.csv"), []byte("age\n21\n35\n48\n"), 0o644))
	path := filepath.Join(dir, "run.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleRunFile), 0o644))

	rf, err := LoadRunFile(path)
	require.NoError(t, err)

	spec, err := rf.Spec()
	require.NoError(t, err)
	require.Len(t, spec.Factors, 3)
	assert.Equal(t, design.PerCell, spec.CountMode)
	assert.Equal(t, design.SubjectContinuous, spec.Factors[2].Population())
	assert.Equal(t, []float64{21, 35, 48}, spec.Factors[2].Pool())

	contrasts, err := rf.Contrasts()
	require.NoError(t, err)
	assert.Equal(t, model.Deviation, contrasts.For("group"))
	assert.Equal(t, model.Sum, contrasts.For("condition"))

	cfg := rf.SimulationConfig(8)
	assert.Equal(t, 10, cfg.SubjectN)
	assert.Equal(t, 1000, cfg.NSims)
	assert.Equal(t, 0.05, cfg.Alpha)
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, []float64{1, 1}, cfg.Target.Theta)
	require.NoError(t, cfg.Validate())

	require.NotNil(t, rf.Sweep)
	assert.Equal(t, []int{20, 30, 40}, rf.Sweep.SubjectN)
	assert.Equal(t, "out/report.html", rf.Output.Report)
}

func TestParseRunFile_Errors(t *testing.T) {
	_, err := ParseRunFile([]byte("design: {subject_n: 2}\nmodel: {formula: ''}\n"))
	assert.Equal(t, errors.CodeConfigInvalid, errors.GetCode(err))

	_, err = ParseRunFile([]byte("model: {formula: 'y ~ a + (1|subject_id)'}\nunknown: 1\n"))
	assert.Error(t, err)

	rf, err := ParseRunFile([]byte(`
design:
  subject_n: 2
  item_n: 2
  factors:
    - {name: group, population: sideways, levels: [a, b]}
model: {formula: "y ~ group + (1 | subject_id)"}
`))
	require.NoError(t, err)
	_, err = rf.Spec()
	assert.True(t, core.IsInvalidSpec(err))

	rf.Design.Factors = nil
	rf.Model.Contrasts = map[string]string{"group": "helmert"}
	_, err = rf.Contrasts()
	assert.True(t, core.IsInvalidArgument(err))
}

func TestLoad_FromEnvironment(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "9090")
	t.Setenv("MIXPOWER_WORKERS", "3")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	require.NoError(t, err)
	assert.False(t, cfg.Database.Enabled())
	assert.Equal(t, "9090", cfg.Server.Port)
	assert.Equal(t, 3, cfg.Sim.Workers)
	assert.Equal(t, internal.LogLevelDebug, cfg.LogLevel)

	t.Setenv("DATABASE_URL", "mysql://nope")
	_, err = Load()
	assert.Error(t, err)
}
