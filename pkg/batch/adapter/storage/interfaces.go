// Package storage abstracts object storage so archives can be written to the
// local file system or a cloud bucket through one API.
package storage

import (
	"context"
	"fmt"
	"io"
	"sync"

	storageConfig "github.com/tigerroll/caseflow/pkg/batch/adapter/storage/config"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// StorageExecutor defines object operations.
type StorageExecutor interface {
	// Upload writes data to objectName in bucket. An empty bucket uses the connection default.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens objectName. The caller closes the reader.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn for every object under prefix.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	DeleteObject(ctx context.Context, bucket, objectName string) error
}

// StorageConnection is an open, named storage connection.
type StorageConnection interface {
	StorageExecutor
	Name() string
	Type() string
	Close() error
}

// ConnectionFactory opens a connection of one storage type.
type ConnectionFactory func(ctx context.Context, name string, cfg storageConfig.StorageConfig) (StorageConnection, error)

var (
	factoryRegistry = make(map[string]ConnectionFactory)
	factoryMutex    sync.RWMutex
)

// RegisterFactory registers the factory of a storage type. Backend
// subpackages call it from init.
func RegisterFactory(storageType string, factory ConnectionFactory) {
	factoryMutex.Lock()
	defer factoryMutex.Unlock()
	if _, exists := factoryRegistry[storageType]; exists {
		logger.Warnf("Storage factory for type '%s' already registered. Overwriting.", storageType)
	}
	factoryRegistry[storageType] = factory
}

// Open opens a connection with the factory registered for cfg.Type.
func Open(ctx context.Context, name string, cfg storageConfig.StorageConfig) (StorageConnection, error) {
	factoryMutex.RLock()
	factory, ok := factoryRegistry[cfg.Type]
	factoryMutex.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no storage factory registered for type: %s", cfg.Type)
	}
	return factory(ctx, name, cfg)
}

// Provider opens named connections from the storage section of the
// configuration and keeps them for reuse.
type Provider struct {
	cfg         *config.Config
	connections map[string]StorageConnection
	mu          sync.Mutex
}

// NewProvider creates a Provider.
func NewProvider(cfg *config.Config) *Provider {
	return &Provider{cfg: cfg, connections: make(map[string]StorageConnection)}
}

// GetConnection returns the connection called name, opening it on first use.
func (p *Provider) GetConnection(ctx context.Context, name string) (StorageConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok := p.connections[name]; ok {
		return conn, nil
	}

	var sc storageConfig.StorageConfig
	if err := configbinder.BindNamed(p.cfg.Caseflow.StorageConfigs, name, &sc); err != nil {
		return nil, err
	}
	conn, err := Open(ctx, name, sc)
	if err != nil {
		return nil, fmt.Errorf("failed to open storage connection '%s': %w", name, err)
	}
	p.connections[name] = conn
	logger.Infof("Established new storage connection: %s (%s)", name, sc.Type)
	return conn, nil
}

// CloseAll closes every connection opened by the provider.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close storage connection '%s': %v", name, err)
			lastErr = err
		}
		delete(p.connections, name)
	}
	return lastErr
}
