// Package archive snapshots the raw source payloads stored by each batch
// attempt as a parquet object.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	storageAdapter "github.com/tigerroll/caseflow/pkg/batch/adapter/storage"
	port "github.com/tigerroll/caseflow/pkg/batch/core/application/port"
	model "github.com/tigerroll/caseflow/pkg/batch/core/domain/model"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/exception"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

const moduleName = "archive"

// PayloadRow is one archived item.
type PayloadRow struct {
	NaturalID    string `parquet:"name=natural_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ResourceType string `parquet:"name=resource_type, type=BYTE_ARRAY, convertedtype=UTF8"`
	ProcessID    string `parquet:"name=process_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	BatchID      string `parquet:"name=batch_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	BatchNumber  int32  `parquet:"name=batch_number, type=INT32"`
	Attempt      int32  `parquet:"name=attempt, type=INT32"`
	ArchivedAt   int64  `parquet:"name=archived_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Payload      string `parquet:"name=payload, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// Options configures a PayloadArchive.
type Options struct {
	Enabled bool
	Bucket  string
	Prefix  string
	// Compression is SNAPPY, GZIP or NONE.
	Compression string
}

// ConnectionSource resolves the storage connection on first use.
type ConnectionSource func(ctx context.Context) (storageAdapter.StorageExecutor, error)

// PayloadArchive buffers the items stored by a batch attempt and uploads them
// when the attempt ends. Archive failures are logged and never affect the batch.
type PayloadArchive struct {
	opts  Options
	codec parquet.CompressionCodec
	conn  ConnectionSource

	mu      sync.Mutex
	pending map[string][]PayloadRow
	now     func() time.Time
}

// NewPayloadArchive creates an archive writing through conn.
func NewPayloadArchive(conn ConnectionSource, opts Options) (*PayloadArchive, error) {
	codec, err := compressionCodec(opts.Compression)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, fmt.Sprintf("invalid compression %q", opts.Compression), err, false, false)
	}
	return &PayloadArchive{
		opts:    opts,
		codec:   codec,
		conn:    conn,
		pending: make(map[string][]PayloadRow),
		now:     time.Now,
	}, nil
}

// ObjectPrefix is the object prefix holding the snapshots of a process.
func (a *PayloadArchive) ObjectPrefix(rt model.ResourceType, processID string) string {
	return path.Join(a.opts.Prefix, "resource_type="+rt.String(), "process_id="+processID) + "/"
}

// ObjectName is the object of one batch attempt.
func (a *PayloadArchive) ObjectName(b *model.Batch) string {
	return a.ObjectPrefix(b.ResourceType, b.ProcessID) + fmt.Sprintf("batch-%05d-attempt-%d.parquet", b.BatchNumber, b.Attempts)
}

func (a *PayloadArchive) BeforeBatch(ctx context.Context, batch *model.Batch) {}

func (a *PayloadArchive) OnItemStored(ctx context.Context, batch *model.Batch, item *model.Item) {
	if !a.opts.Enabled {
		return
	}
	row := PayloadRow{
		NaturalID:    item.ID,
		ResourceType: batch.ResourceType.String(),
		ProcessID:    batch.ProcessID,
		BatchID:      batch.ID,
		BatchNumber:  int32(batch.BatchNumber),
		Attempt:      int32(batch.Attempts),
		ArchivedAt:   a.now().UnixMilli(),
		Payload:      string(item.Raw),
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pending[batch.ID] = append(a.pending[batch.ID], row)
}

func (a *PayloadArchive) OnItemFailed(ctx context.Context, batch *model.Batch, itemID string, err error) {}

func (a *PayloadArchive) OnItemSkipped(ctx context.Context, batch *model.Batch, itemID string) {}

// AfterBatch uploads the rows buffered for the batch.
func (a *PayloadArchive) AfterBatch(ctx context.Context, batch *model.Batch, result model.BatchResult, err error) {
	if !a.opts.Enabled {
		return
	}
	a.mu.Lock()
	rows := a.pending[batch.ID]
	delete(a.pending, batch.ID)
	a.mu.Unlock()
	if len(rows) == 0 {
		return
	}
	if werr := a.flush(context.WithoutCancel(ctx), a.ObjectName(batch), rows); werr != nil {
		logger.With("process_id", batch.ProcessID, "batch_id", batch.ID).
			Errorf("Failed to archive %d payloads of batch %d: %v", len(rows), batch.BatchNumber, werr)
	}
}

func (a *PayloadArchive) flush(ctx context.Context, objectName string, rows []PayloadRow) error {
	conn, err := a.conn(ctx)
	if err != nil {
		return err
	}
	data, err := a.Encode(rows)
	if err != nil {
		return err
	}
	if err := conn.Upload(ctx, a.opts.Bucket, objectName, bytes.NewReader(data), "application/octet-stream"); err != nil {
		return exception.NewBatchError(moduleName, fmt.Sprintf("failed to upload %s", objectName), err, false, true)
	}
	logger.Infof("Archived %d payloads to %s.", len(rows), objectName)
	return nil
}

// Encode writes rows as one parquet file.
func (a *PayloadArchive) Encode(rows []PayloadRow) (data []byte, err error) {
	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(PayloadRow), 1)
	if err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to create parquet writer", err, false, false)
	}
	pw.CompressionType = a.codec
	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return nil, exception.NewBatchError(moduleName, fmt.Sprintf("failed to write payload of %s", row.NaturalID), err, false, false)
		}
	}
	defer func() {
		if r := recover(); r != nil {
			err = exception.NewBatchError(moduleName, fmt.Sprintf("parquet writer panicked: %v", r), nil, false, false)
		}
	}()
	if err := pw.WriteStop(); err != nil {
		return nil, exception.NewBatchError(moduleName, "failed to finalize parquet file", err, false, false)
	}
	return buf.Bytes(), nil
}

// List returns the archived objects of a process in name order.
func (a *PayloadArchive) List(ctx context.Context, rt model.ResourceType, processID string) ([]string, error) {
	if !a.opts.Enabled {
		return []string{}, nil
	}
	conn, err := a.conn(ctx)
	if err != nil {
		return nil, err
	}
	names := []string{}
	err = conn.ListObjects(ctx, a.opts.Bucket, a.ObjectPrefix(rt, processID), func(name string) error {
		names = append(names, name)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

func compressionCodec(compression string) (parquet.CompressionCodec, error) {
	switch strings.ToUpper(compression) {
	case "SNAPPY":
		return parquet.CompressionCodec_SNAPPY, nil
	case "GZIP":
		return parquet.CompressionCodec_GZIP, nil
	case "NONE", "":
		return parquet.CompressionCodec_UNCOMPRESSED, nil
	default:
		return 0, fmt.Errorf("unsupported compression type: %s", compression)
	}
}

var (
	_ port.BatchListener = (*PayloadArchive)(nil)
	_ port.ItemListener  = (*PayloadArchive)(nil)
)
