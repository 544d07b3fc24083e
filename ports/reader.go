package ports

// PoolReader loads a numeric covariate pool from one column of a tabular file.
// Blank cells are skipped; a column with no values is an empty pool.
type PoolReader interface {
	ReadPool(column string) ([]float64, error)
}
