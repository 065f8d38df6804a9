package repository

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"chatwiki/pkg/sqlite"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// setupTestDB opens a migrated SQLite database in a temp dir.
func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sqlite.Open(filepath.Join(t.TempDir(), "state.db"), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	require.NoError(t, Migrate(context.Background(), db))
	return db
}
