package gorm

import (
	"fmt"
	"sync"
	"time"

	"gorm.io/gorm"

	dbconfig "github.com/tigerroll/caseflow/pkg/batch/adapter/database/config"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/configbinder"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// DialectorFactory builds a gorm.Dialector from connection settings.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorRegistry = make(map[string]DialectorFactory)
	dialectorMutex    sync.RWMutex
)

// RegisterDialector registers the factory for a database type. Driver
// subpackages call it from init.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorMutex.Lock()
	defer dialectorMutex.Unlock()
	if _, exists := dialectorRegistry[dbType]; exists {
		logger.Warnf("Dialector for type '%s' already registered. Overwriting.", dbType)
	}
	dialectorRegistry[dbType] = factory
}

// GetDialectorFactory returns the factory registered for dbType.
func GetDialectorFactory(dbType string) (DialectorFactory, error) {
	dialectorMutex.RLock()
	defer dialectorMutex.RUnlock()
	factory, ok := dialectorRegistry[dbType]
	if !ok {
		return nil, fmt.Errorf("no dialector registered for database type: %s", dbType)
	}
	return factory, nil
}

// Open connects using the dialector registered for cfg.Type and applies the pool settings.
func Open(name string, cfg dbconfig.DatabaseConfig) (*GormDBAdapter, error) {
	factory, err := GetDialectorFactory(cfg.Type)
	if err != nil {
		return nil, err
	}
	dialector, err := factory(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for %s: %w", cfg.Type, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{Logger: NewGormLogger(cfg.LogLevel)})
	if err != nil {
		return nil, fmt.Errorf("failed to open GORM connection: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	if cfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(cfg.Pool.MaxOpenConns)
	}
	if cfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(cfg.Pool.MaxIdleConns)
	}
	if cfg.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(cfg.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}
	return NewGormDBAdapter(db, cfg, name)
}

// Provider opens named connections from the database section of the
// configuration and keeps them for reuse.
type Provider struct {
	cfg         *config.Config
	connections map[string]*GormDBAdapter
	mu          sync.RWMutex
}

// NewProvider creates a Provider.
func NewProvider(cfg *config.Config) *Provider {
	return &Provider{cfg: cfg, connections: make(map[string]*GormDBAdapter)}
}

// GetConnection returns the connection called name, opening it on first use.
func (p *Provider) GetConnection(name string) (*GormDBAdapter, error) {
	p.mu.RLock()
	conn, ok := p.connections[name]
	p.mu.RUnlock()
	if ok {
		return conn, nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if conn, ok = p.connections[name]; ok {
		return conn, nil
	}

	var dbCfg dbconfig.DatabaseConfig
	if err := configbinder.BindNamed(p.cfg.Caseflow.AdaptorConfigs, name, &dbCfg); err != nil {
		return nil, err
	}
	conn, err := Open(name, dbCfg)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Infof("Established new DB connection: %s (%s)", name, dbCfg.Type)
	return conn, nil
}

// CloseAll closes every connection opened by the provider.
func (p *Provider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var lastErr error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			logger.Errorf("Failed to close connection '%s': %v", name, err)
			lastErr = err
		}
		delete(p.connections, name)
	}
	return lastErr
}
