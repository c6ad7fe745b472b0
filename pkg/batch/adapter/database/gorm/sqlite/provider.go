// Package sqlite registers the SQLite dialector.
package sqlite

import (
	"errors"
	"strings"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/caseflow/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm"
)

func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" {
			return nil, errors.New("SQLite database path cannot be empty")
		}
		return sqlite.Open(ConnectionString(cfg)), nil
	})
}

// ConnectionString returns the DSN for a SQLite file. Concurrent batch
// workers write to the same file, so a busy timeout is always set.
func ConnectionString(c dbconfig.DatabaseConfig) string {
	if strings.Contains(c.Database, "_busy_timeout") {
		return c.Database
	}
	sep := "?"
	if strings.Contains(c.Database, "?") {
		sep = "&"
	}
	return c.Database + sep + "_busy_timeout=5000"
}
