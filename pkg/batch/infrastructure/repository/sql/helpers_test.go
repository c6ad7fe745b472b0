package sql_test

import (
	"testing"

	gormadapter "github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/caseflow/pkg/batch/test"
)

func newTestConnection(t *testing.T) *gormadapter.GormDBAdapter {
	t.Helper()
	return test.NewSQLiteConnection(t)
}
