package excel

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"mixpower/domain/power"
	apperrors "mixpower/internal/errors"
)

// RecordHeaders are the column names of written power tables.
var RecordHeaders = []string{
	"run_id", "sweep_id", "subject_n", "item_n", "coefname", "power", "mean_estimate",
	"lower_ci", "upper_ci", "valid_trials", "failed_trials", "nsims", "alpha", "seed",
}

// missing marks an undefined value in written output.
const missing = "NA"

// Writer writes power records as xlsx or csv, chosen by file extension.
type Writer struct {
	sheet string
}

// NewWriter creates a writer; xlsx output goes to a sheet named "power".
func NewWriter() *Writer {
	return &Writer{sheet: "power"}
}

// WriteRecords implements ports.RecordWriter.
func (w *Writer) WriteRecords(path string, records []power.PowerRecord) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return apperrors.OutputError(path, err)
		}
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".csv":
		return w.writeCSV(path, records)
	case ".xlsx":
		return w.writeXLSX(path, records)
	default:
		return apperrors.InvalidInput("unsupported output extension for " + path + " (want .xlsx or .csv)")
	}
}

func (w *Writer) writeCSV(path string, records []power.PowerRecord) error {
	file, err := os.Create(path)
	if err != nil {
		return apperrors.OutputError(path, err)
	}
	defer file.Close()

	cw := csv.NewWriter(file)
	if err := cw.Write(RecordHeaders); err != nil {
		return apperrors.OutputError(path, err)
	}
	for _, rec := range records {
		if err := cw.Write(recordStrings(rec)); err != nil {
			return apperrors.OutputError(path, err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return apperrors.OutputError(path, err)
	}
	return nil
}

func (w *Writer) writeXLSX(path string, records []power.PowerRecord) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", w.sheet); err != nil {
		return apperrors.OutputError(path, err)
	}

	header := make([]interface{}, len(RecordHeaders))
	for i, h := range RecordHeaders {
		header[i] = h
	}
	if err := f.SetSheetRow(w.sheet, "A1", &header); err != nil {
		return apperrors.OutputError(path, err)
	}

	for i, rec := range records {
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return apperrors.OutputError(path, err)
		}
		row := recordCells(rec)
		if err := f.SetSheetRow(w.sheet, cell, &row); err != nil {
			return apperrors.OutputError(path, err)
		}
	}

	if err := f.SaveAs(path); err != nil {
		return apperrors.OutputError(path, err)
	}
	return nil
}

func recordStrings(rec power.PowerRecord) []string {
	return []string{
		rec.RunID,
		rec.SweepID,
		strconv.Itoa(rec.SubjectN),
		strconv.Itoa(rec.ItemN),
		rec.CoefName,
		formatOptional(rec.Power),
		formatOptional(rec.MeanEstimate),
		formatOptional(rec.LowerCI),
		formatOptional(rec.UpperCI),
		strconv.Itoa(rec.Valid),
		strconv.Itoa(rec.Failed),
		strconv.Itoa(rec.NSims),
		strconv.FormatFloat(rec.Alpha, 'g', -1, 64),
		strconv.FormatInt(rec.Seed, 10),
	}
}

func recordCells(rec power.PowerRecord) []interface{} {
	return []interface{}{
		rec.RunID,
		rec.SweepID,
		rec.SubjectN,
		rec.ItemN,
		rec.CoefName,
		optionalCell(rec.Power),
		optionalCell(rec.MeanEstimate),
		optionalCell(rec.LowerCI),
		optionalCell(rec.UpperCI),
		rec.Valid,
		rec.Failed,
		rec.NSims,
		rec.Alpha,
		rec.Seed,
	}
}

func formatOptional(v *float64) string {
	if v == nil {
		return missing
	}
	return strconv.FormatFloat(*v, 'g', -1, 64)
}

func optionalCell(v *float64) interface{} {
	if v == nil {
		return missing
	}
	return *v
}
