package local_test

import (
	"context"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageAdapter "github.com/tigerroll/caseflow/pkg/batch/adapter/storage"
	storageConfig "github.com/tigerroll/caseflow/pkg/batch/adapter/storage/config"
	"github.com/tigerroll/caseflow/pkg/batch/adapter/storage/local"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
)

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{Type: "local", BaseDir: filepath.Join(t.TempDir(), "archive"), BucketName: "default"}, "test")
	require.NoError(t, err)

	require.NoError(t, conn.Upload(ctx, "", "raw/CASE/b-1.parquet", strings.NewReader("one"), "application/octet-stream"))
	require.NoError(t, conn.Upload(ctx, "", "raw/CASE/b-2.parquet", strings.NewReader("two"), "application/octet-stream"))
	require.NoError(t, conn.Upload(ctx, "", "other/x", strings.NewReader("x"), "text/plain"))

	r, err := conn.Download(ctx, "", "raw/CASE/b-2.parquet")
	require.NoError(t, err)
	body, err := io.ReadAll(r)
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.Equal(t, "two", string(body))

	var names []string
	require.NoError(t, conn.ListObjects(ctx, "", "raw/", func(name string) error {
		names = append(names, name)
		return nil
	}))
	assert.Equal(t, []string{"raw/CASE/b-1.parquet", "raw/CASE/b-2.parquet"}, names)

	require.NoError(t, conn.DeleteObject(ctx, "", "raw/CASE/b-1.parquet"))
	require.NoError(t, conn.DeleteObject(ctx, "", "raw/CASE/b-1.parquet"))
	_, err = conn.Download(ctx, "", "raw/CASE/b-1.parquet")
	assert.Error(t, err)
}

func TestLocalRejectsEscapingPaths(t *testing.T) {
	conn, err := local.NewLocalAdapter(storageConfig.StorageConfig{BaseDir: t.TempDir()}, "test")
	require.NoError(t, err)
	err = conn.Upload(context.Background(), "", "../../etc/passwd", strings.NewReader("x"), "")
	assert.ErrorContains(t, err, "outside of base_dir")
}

func TestLocalRequiresBaseDir(t *testing.T) {
	_, err := local.NewLocalAdapter(storageConfig.StorageConfig{}, "test")
	assert.Error(t, err)
}

func TestProviderOpensRegisteredType(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Caseflow.StorageConfigs = map[string]interface{}{
		"archive": map[string]interface{}{"type": "local", "base_dir": t.TempDir()},
		"broken":  map[string]interface{}{"type": "s3"},
	}
	p := storageAdapter.NewProvider(cfg)

	conn, err := p.GetConnection(context.Background(), "archive")
	require.NoError(t, err)
	assert.Equal(t, local.ProviderType, conn.Type())
	again, err := p.GetConnection(context.Background(), "archive")
	require.NoError(t, err)
	assert.Same(t, conn, again)

	_, err = p.GetConnection(context.Background(), "broken")
	assert.ErrorContains(t, err, "no storage factory registered")
	_, err = p.GetConnection(context.Background(), "missing")
	assert.Error(t, err)
	assert.NoError(t, p.CloseAll())
}
