package migration

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStatements_CoverPowerRecordColumns(t *testing.T) {
	stmts := NewRunner().Statements()
	require.NotEmpty(t, stmts)
	assert.True(t, strings.HasPrefix(stmts[0], "CREATE TABLE IF NOT EXISTS power_results"))

	for _, col := range []string{"run_id", "sweep_id", "subject_n", "item_n", "coefname", "power", "mean_estimate",
		"lower_ci", "upper_ci", "valid_trials", "failed_trials", "nsims", "alpha", "seed", "created_at"} {
		assert.Contains(t, stmts[0], col+" ", col)
	}
	assert.Contains(t, stmts[0], "UNIQUE (run_id, coefname)")
	assert.Equal(t, "1.0.0", NewRunner().Version())
}
