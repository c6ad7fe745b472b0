package migration_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/caseflow/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm/sqlite"
	"github.com/tigerroll/caseflow/pkg/batch/component/migration"
)

func TestUpCreatesSchemaAndIsRepeatable(t *testing.T) {
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "caseflow.db")}
	m := migration.NewMigrator(cfg)
	ctx := context.Background()

	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Up(ctx), "a second run has nothing to apply")

	v, dirty, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(1), v)
	assert.False(t, dirty)

	conn, err := gormadapter.Open("check", cfg)
	require.NoError(t, err)
	defer conn.Close()
	migrator := conn.GormDB(ctx).Migrator()
	for _, table := range []string{"processes", "batches", "clients", "cases", "sessions", "shallow_cases", "shallow_sessions", "enriched_cases", "enriched_sessions"} {
		assert.True(t, migrator.HasTable(table), table)
	}
}

func TestDown(t *testing.T) {
	cfg := dbconfig.DatabaseConfig{Type: "sqlite", Database: filepath.Join(t.TempDir(), "caseflow.db")}
	m := migration.NewMigrator(cfg)
	ctx := context.Background()
	require.NoError(t, m.Up(ctx))
	require.NoError(t, m.Down(ctx))

	v, _, err := m.Version()
	require.NoError(t, err)
	assert.Equal(t, uint(0), v)
}

func TestDatabaseURL(t *testing.T) {
	u, err := migration.DatabaseURL(dbconfig.DatabaseConfig{Type: "sqlite", Database: "/data/cf.db?_busy_timeout=5000"})
	require.NoError(t, err)
	assert.Equal(t, "sqlite:///data/cf.db?x-migrations-table=caseflow_schema_migrations", u)

	u, err = migration.DatabaseURL(dbconfig.DatabaseConfig{Type: "postgres", Host: "db", Port: 5432, User: "cf", Password: "p@ss", Database: "caseflow"})
	require.NoError(t, err)
	assert.Equal(t, "postgres://cf:p%40ss@db:5432/caseflow?sslmode=disable&x-migrations-table=caseflow_schema_migrations", u)

	u, err = migration.DatabaseURL(dbconfig.DatabaseConfig{Type: "mysql", Host: "db", Port: 3306, User: "cf", Password: "pw", Database: "caseflow"})
	require.NoError(t, err)
	assert.Contains(t, u, "mysql://cf:pw@tcp(db:3306)/caseflow?")
	assert.Contains(t, u, "multiStatements=true")

	_, err = migration.DatabaseURL(dbconfig.DatabaseConfig{Type: "oracle"})
	assert.Error(t, err)
	_, err = migration.SchemaFS("oracle")
	assert.Error(t, err)
}
