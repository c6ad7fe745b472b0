package gorm_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dbconfig "github.com/tigerroll/caseflow/pkg/batch/adapter/database/config"
	gormadapter "github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm"
	_ "github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm/sqlite"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
)

type widget struct {
	ID    int64  `gorm:"column:id;primaryKey"`
	Code  string `gorm:"column:code"`
	Label string `gorm:"column:label"`
}

func openTestDB(t *testing.T) *gormadapter.GormDBAdapter {
	t.Helper()
	conn, err := gormadapter.Open("test", dbconfig.DatabaseConfig{
		Type:     "sqlite",
		Database: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	require.NoError(t, conn.GormDB(context.Background()).
		Exec(`CREATE TABLE widgets (id INTEGER PRIMARY KEY AUTOINCREMENT, code TEXT NOT NULL UNIQUE, label TEXT)`).Error)
	return conn
}

func TestExecuteUpsertOverwritesOnConflict(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	_, err := conn.ExecuteUpsert(ctx, &widget{Code: "W-1", Label: "first"}, "widgets", []string{"code"}, []string{"label"})
	require.NoError(t, err)
	_, err = conn.ExecuteUpsert(ctx, &widget{Code: "W-1", Label: "second"}, "widgets", []string{"code"}, []string{"label"})
	require.NoError(t, err)

	count, err := conn.Count(ctx, "widgets", nil)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)

	var got widget
	require.NoError(t, conn.GormDB(ctx).Table("widgets").Where("code = ?", "W-1").First(&got).Error)
	assert.Equal(t, "second", got.Label)
}

func TestExecuteUpsertDoNothing(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()

	_, err := conn.ExecuteUpsert(ctx, &widget{Code: "W-1", Label: "first"}, "widgets", []string{"code"}, nil)
	require.NoError(t, err)
	rows, err := conn.ExecuteUpsert(ctx, &widget{Code: "W-1", Label: "ignored"}, "widgets", []string{"code"}, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)
}

func TestExecuteUpdate(t *testing.T) {
	conn := openTestDB(t)
	ctx := context.Background()
	_, err := conn.ExecuteUpsert(ctx, &widget{Code: "W-1", Label: "a"}, "widgets", []string{"code"}, nil)
	require.NoError(t, err)

	rows, err := conn.ExecuteUpdate(ctx, "widgets", map[string]interface{}{"label": "b"}, map[string]interface{}{"code": "W-1"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), rows)

	rows, err = conn.ExecuteUpdate(ctx, "widgets", map[string]interface{}{"label": "c"}, map[string]interface{}{"code": "W-404"})
	require.NoError(t, err)
	assert.Equal(t, int64(0), rows)

	_, err = conn.ExecuteUpdate(ctx, "widgets", map[string]interface{}{"label": "c"}, nil)
	assert.Error(t, err)
}

func TestOpenUnknownType(t *testing.T) {
	_, err := gormadapter.Open("x", dbconfig.DatabaseConfig{Type: "oracle"})
	assert.Error(t, err)
}

func TestProviderReusesConnections(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Caseflow.AdaptorConfigs = map[string]interface{}{
		"default": map[string]interface{}{
			"type":     "sqlite",
			"database": filepath.Join(t.TempDir(), "provider.db"),
			"pool":     map[string]interface{}{"max_open_conns": "4"},
		},
	}
	p := gormadapter.NewProvider(cfg)

	first, err := p.GetConnection("default")
	require.NoError(t, err)
	second, err := p.GetConnection("default")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, 4, first.Config().Pool.MaxOpenConns)
	require.NoError(t, first.RefreshConnection(context.Background()))

	_, err = p.GetConnection("missing")
	assert.Error(t, err)
	assert.NoError(t, p.CloseAll())
}
