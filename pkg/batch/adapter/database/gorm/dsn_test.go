package gorm_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	dbconfig "github.com/tigerroll/caseflow/pkg/batch/adapter/database/config"
	"github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm/postgres"
	"github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm/sqlite"
)

func TestConnectionStrings(t *testing.T) {
	cfg := dbconfig.DatabaseConfig{Host: "db", Port: 5432, User: "cf", Password: "pw", Database: "caseflow"}

	assert.Equal(t, "host=db port=5432 user=cf password=pw dbname=caseflow sslmode=disable", postgres.ConnectionString(cfg))

	cfg.Schema = "app"
	assert.Contains(t, postgres.ConnectionString(cfg), "search_path=app")

	cfg.Port = 3306
	dsn := mysql.ConnectionString(cfg)
	assert.Contains(t, dsn, "cf:pw@tcp(db:3306)/caseflow?")
	assert.Contains(t, dsn, "parseTime=true")
	assert.Contains(t, dsn, "charset=utf8mb4")

	assert.Equal(t, "file.db?_busy_timeout=5000", sqlite.ConnectionString(dbconfig.DatabaseConfig{Database: "file.db"}))
	assert.Equal(t, "file.db?mode=rwc&_busy_timeout=5000", sqlite.ConnectionString(dbconfig.DatabaseConfig{Database: "file.db?mode=rwc"}))
}
