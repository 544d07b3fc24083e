package excel

// RawRowData represents a row of raw sheet data as string key-value pairs
type RawRowData map[string]string

// ExcelData represents one sheet: headers and rows keyed by header
type ExcelData struct {
	Headers []string
	Rows    []RawRowData
}
