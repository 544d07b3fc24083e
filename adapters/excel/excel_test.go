package excel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"mixpower/domain/core"
	"mixpower/domain/power"
	apperrors "mixpower/internal/errors"
)

func ptr(v float64) *float64 { return &v }

func sampleRecords() []power.PowerRecord {
	return []power.PowerRecord{
		{RunID: "r1", SubjectN: 10, ItemN: 30, CoefName: "(Intercept)", Power: ptr(0.05), MeanEstimate: ptr(0.01), LowerCI: ptr(0.04), UpperCI: ptr(0.07), Valid: 1000, NSims: 1000, Alpha: 0.05, Seed: 1},
		{RunID: "r1", SubjectN: 10, ItemN: 30, CoefName: "conditionhard", Failed: 1000, NSims: 1000, Alpha: 0.05, Seed: 1},
	}
}

func TestReadPool_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ages.csv")
	require.NoError(t, os.WriteFile(path, []byte("subject,age\n1, 21\n2,\n3,34.5\n"), 0o644))

	pool, err := NewDataReader(path, nil).ReadPool("age")
	require.NoError(t, err)
	assert.Equal(t, []float64{21, 34.5}, pool)
}

func TestReadPool_Errors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.csv")
	require.NoError(t, os.WriteFile(path, []byte("age,note\nold,x\n"), 0o644))

	_, err := NewDataReader(path, nil).ReadPool("age")
	assert.True(t, core.IsInvalidSpec(err))

	_, err = NewDataReader(path, nil).ReadPool("height")
	assert.True(t, core.IsInvalidSpec(err))

	_, err = NewDataReader(path, nil).ReadPool("note")
	assert.True(t, core.IsInvalidSpec(err))

	empty := filepath.Join(dir, "empty.csv")
	require.NoError(t, os.WriteFile(empty, []byte("age,note\n,x\n"), 0o644))
	_, err = NewDataReader(empty, nil).ReadPool("age")
	assert.ErrorIs(t, err, core.ErrEmptyPool)

	_, err = NewDataReader(filepath.Join(dir, "missing.xlsx"), nil).ReadData()
	assert.Error(t, err)
}

func TestReadPool_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "items.xlsx")
	f := excelize.NewFile()
	require.NoError(t, f.SetSheetRow("Sheet1", "A1", &[]interface{}{"item", "frequency"}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A2", &[]interface{}{1, 3.5}))
	require.NoError(t, f.SetSheetRow("Sheet1", "A3", &[]interface{}{2, 7}))
	require.NoError(t, f.SaveAs(path))
	require.NoError(t, f.Close())

	pool, err := NewDataReader(path, nil).ReadPool("frequency")
	require.NoError(t, err)
	assert.Equal(t, []float64{3.5, 7}, pool)
}

func TestWriter_CSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "power.csv")
	require.NoError(t, NewWriter().WriteRecords(path, sampleRecords()))

	data, err := NewDataReader(path, nil).ReadData()
	require.NoError(t, err)
	assert.Equal(t, RecordHeaders, data.Headers)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, "0.05", data.Rows[0]["power"])
	assert.Equal(t, "NA", data.Rows[1]["power"])
	assert.Equal(t, "1000", data.Rows[1]["failed_trials"])
}

func TestWriter_XLSX(t *testing.T) {
	path := filepath.Join(t.TempDir(), "power.xlsx")
	require.NoError(t, NewWriter().WriteRecords(path, sampleRecords()))

	data, err := NewDataReader(path, nil).ReadData()
	require.NoError(t, err)
	assert.Equal(t, RecordHeaders, data.Headers)
	require.Len(t, data.Rows, 2)
	assert.Equal(t, "(Intercept)", data.Rows[0]["coefname"])
	assert.Equal(t, "NA", data.Rows[1]["mean_estimate"])
}

func TestWriter_UnsupportedExtension(t *testing.T) {
	err := NewWriter().WriteRecords(filepath.Join(t.TempDir(), "power.json"), sampleRecords())
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeInvalidInput, apperrors.GetCode(err))
}
