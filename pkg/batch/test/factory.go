// Package test provides fixtures shared by package tests: a migrated SQLite
// connection, a scriptable source system and model factories.
package test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/caseflow/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/caseflow/pkg/batch/component/migration"
	"github.com/tigerroll/caseflow/pkg/batch/core/domain/repository"
	reposql "github.com/tigerroll/caseflow/pkg/batch/infrastructure/repository/sql"
)

// NewSQLiteConnection returns a connection to a freshly migrated SQLite file
// that is closed when the test ends.
func NewSQLiteConnection(t testing.TB) *gormadapter.GormDBAdapter {
	t.Helper()
	cfg := dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(t.TempDir(), "caseflow.db"),
		// One connection serializes concurrent queue workers on the file.
		Pool: dbconfig.PoolConfig{MaxOpenConns: 1},
	}
	require.NoError(t, migration.NewMigrator(cfg).Up(context.Background()))

	conn, err := gormadapter.Open("test", cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// Repositories bundles the SQL repositories over one connection.
type Repositories struct {
	Processes repository.Process
	Batches   repository.Batch
	Records   repository.Record
}

// NewRepositories wires the SQL repositories over a fresh SQLite database.
func NewRepositories(t testing.TB) Repositories {
	t.Helper()
	conn := NewSQLiteConnection(t)
	return Repositories{
		Processes: reposql.NewProcessRepository(conn),
		Batches:   reposql.NewBatchRepository(conn),
		Records:   reposql.NewRecordStore(conn),
	}
}
