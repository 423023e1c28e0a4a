// Package dbtest opens throwaway SQLite databases with the production schema.
package dbtest

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/angelmondragon/engagement-tracker/pkg/db"
	"github.com/angelmondragon/engagement-tracker/pkg/migrate"
	"github.com/stretchr/testify/require"
)

// Open returns a migrated SQLite client living in t.TempDir.
func Open(t *testing.T) *db.Client {
	t.Helper()
	client, err := db.OpenSQLite(filepath.Join(t.TempDir(), "engagement.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, migrate.Apply(context.Background(), client))
	return client
}
