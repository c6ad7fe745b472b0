// Package database defines the connection abstraction shared by the
// repositories and the schema migrator.
package database

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/caseflow/pkg/batch/adapter/database/config"
)

// DBExecutor performs row-scoped writes and counts against a named table.
type DBExecutor interface {
	// ExecuteUpsert inserts model into tableName, updating updateColumns when
	// conflictColumns already match a row. With no updateColumns the insert is skipped.
	ExecuteUpsert(ctx context.Context, model interface{}, tableName string, conflictColumns []string, updateColumns []string) (rowsAffected int64, err error)
	// ExecuteUpdate applies values to the rows of tableName matching query.
	ExecuteUpdate(ctx context.Context, tableName string, values map[string]interface{}, query map[string]interface{}) (rowsAffected int64, err error)
	// Count counts the rows of tableName matching query.
	Count(ctx context.Context, tableName string, query map[string]interface{}) (int64, error)
}

// DBConnection is an open, named database connection.
type DBConnection interface {
	DBExecutor

	Name() string
	Type() string
	Close() error
	// Config returns the settings the connection was opened with.
	Config() dbconfig.DatabaseConfig
	// GetSQLDB returns the underlying pool.
	GetSQLDB() (*sql.DB, error)
	// RefreshConnection pings the pool.
	RefreshConnection(ctx context.Context) error
	// GormDB returns a session for queries the executor methods cannot express.
	GormDB(ctx context.Context) *gorm.DB
}
