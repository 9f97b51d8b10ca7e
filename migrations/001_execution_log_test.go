//go:build integration

package migrations

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-report-engine/pkg/testhelpers"
)

// Test_001_ExecutionLog verifies migration 001 creates the execution log table.
func Test_001_ExecutionLog(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)
	ctx := context.Background()

	var dataType string
	err := engineDB.DB.Pool.QueryRow(ctx, `
		SELECT data_type
		FROM information_schema.columns
		WHERE table_name = 'engine_sql_execution_log'
		AND column_name = 'parameters'
	`).Scan(&dataType)
	require.NoError(t, err, "parameters column should exist")
	assert.Equal(t, "jsonb", dataType)

	indexes := []string{
		"idx_engine_sql_execution_log_created_at",
		"idx_engine_sql_execution_log_backend",
		"idx_engine_sql_execution_log_task_id",
	}
	for _, name := range indexes {
		var exists bool
		err := engineDB.DB.Pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM pg_indexes
				WHERE tablename = 'engine_sql_execution_log'
				AND indexname = $1
			)
		`, name).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "index %s should exist", name)
	}

	var comment string
	err = engineDB.DB.Pool.QueryRow(ctx, `
		SELECT col_description('engine_sql_execution_log'::regclass,
			(SELECT ordinal_position
			 FROM information_schema.columns
			 WHERE table_name = 'engine_sql_execution_log'
			 AND column_name = 'parameters'))
	`).Scan(&comment)
	require.NoError(t, err)
	assert.Contains(t, comment, "masked")
}

// Test_001_ExecutionLog_Idempotent verifies re-running migrations is a no-op.
func Test_001_ExecutionLog_Idempotent(t *testing.T) {
	engineDB := testhelpers.GetEngineDB(t)

	var version int
	err := engineDB.DB.Pool.QueryRow(context.Background(),
		`SELECT version FROM engine_schema_migrations`).Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 1, version)
}
