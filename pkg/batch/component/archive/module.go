package archive

import (
	"context"

	"go.uber.org/fx"

	storageAdapter "github.com/tigerroll/caseflow/pkg/batch/adapter/storage"
	port "github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
)

// ListenerResult registers the archive with the executor.
type ListenerResult struct {
	fx.Out
	Archive       *PayloadArchive
	BatchListener port.BatchListener `group:"batchListeners"`
	ItemListener  port.ItemListener  `group:"itemListeners"`
}

// NewPayloadArchiveFromConfig builds the archive over the connection named
// by archive.storage_ref. The connection is opened on the first upload.
func NewPayloadArchiveFromConfig(p *storageAdapter.Provider, cfg *config.Config) (ListenerResult, error) {
	ac := cfg.Caseflow.Archive
	conn := func(ctx context.Context) (storageAdapter.StorageExecutor, error) {
		return p.GetConnection(ctx, ac.StorageRef)
	}
	a, err := NewPayloadArchive(conn, Options{
		Enabled:     ac.Enabled,
		Bucket:      ac.Bucket,
		Prefix:      ac.Prefix,
		Compression: ac.Compression,
	})
	if err != nil {
		return ListenerResult{}, err
	}
	return ListenerResult{Archive: a, BatchListener: a, ItemListener: a}, nil
}

// Module provides *PayloadArchive and attaches it to the executor.
var Module = fx.Provide(NewPayloadArchiveFromConfig)
