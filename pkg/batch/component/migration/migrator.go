// Package migration applies the embedded caseflow schema with golang-migrate.
package migration

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	dbconfig "github.com/tigerroll/caseflow/pkg/batch/adapter/database/config"
	"github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm/mysql"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

// MigrationsTable tracks the applied schema version.
const MigrationsTable = "caseflow_schema_migrations"

//go:embed resource
var resources embed.FS

// Migrator applies and rolls back the schema of one database.
type Migrator interface {
	Up(ctx context.Context) error
	Down(ctx context.Context) error
	// Version reports the applied version and whether it is dirty.
	Version() (uint, bool, error)
}

type migrator struct {
	cfg dbconfig.DatabaseConfig
}

// NewMigrator creates a Migrator for the database described by cfg. The
// migrator opens its own connection for each run.
func NewMigrator(cfg dbconfig.DatabaseConfig) Migrator {
	return &migrator{cfg: cfg}
}

// SchemaFS returns the migration files for dbType.
func SchemaFS(dbType string) (fs.FS, error) {
	switch dbType {
	case "sqlite", "postgres", "mysql":
		return fs.Sub(resources, "resource/"+dbType)
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", dbType)
	}
}

// DatabaseURL returns the golang-migrate URL for cfg.
func DatabaseURL(cfg dbconfig.DatabaseConfig) (string, error) {
	table := "x-migrations-table=" + MigrationsTable
	switch cfg.Type {
	case "sqlite":
		if cfg.Database == "" {
			return "", errors.New("SQLite database path cannot be empty")
		}
		path := cfg.Database
		if i := strings.Index(path, "?"); i >= 0 {
			path = path[:i]
		}
		return "sqlite://" + path + "?" + table, nil
	case "postgres":
		sslmode := cfg.Sslmode
		if sslmode == "" {
			sslmode = "disable"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(cfg.User, cfg.Password),
			Host:     cfg.Host + ":" + strconv.Itoa(cfg.Port),
			Path:     "/" + cfg.Database,
			RawQuery: "sslmode=" + url.QueryEscape(sslmode) + "&" + table,
		}
		if cfg.Schema != "" {
			u.RawQuery += "&search_path=" + url.QueryEscape(cfg.Schema)
		}
		return u.String(), nil
	case "mysql":
		return "mysql://" + mysql.ConnectionString(cfg) + "&multiStatements=true&" + table, nil
	default:
		return "", fmt.Errorf("unsupported database type for migration: %s", cfg.Type)
	}
}

func (m *migrator) instance() (*migrate.Migrate, error) {
	schema, err := SchemaFS(m.cfg.Type)
	if err != nil {
		return nil, err
	}
	source, err := iofs.New(schema, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver: %w", err)
	}
	dbURL, err := DatabaseURL(m.cfg)
	if err != nil {
		return nil, err
	}
	mi, err := migrate.NewWithSourceInstance("iofs", source, dbURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	mi.Log = migrateLogger{}
	return mi, nil
}

func (m *migrator) run(command string, apply func(*migrate.Migrate) error) error {
	logger.Infof("Executing migration '%s' (DB: %s, Table: %s)", command, m.cfg.Type, MigrationsTable)
	mi, err := m.instance()
	if err != nil {
		return err
	}
	defer func() {
		if srcErr, dbErr := mi.Close(); srcErr != nil || dbErr != nil {
			logger.Warnf("Failed to close migrate instance: source=%v, database=%v", srcErr, dbErr)
		}
	}()

	if err := apply(mi); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		if _, dirty, verr := mi.Version(); verr == nil && dirty {
			logger.Errorf("Migration '%s' left the schema dirty", command)
		}
		return fmt.Errorf("migration failed for command '%s' (DB: %s): %w", command, m.cfg.Type, err)
	}
	logger.Infof("Migration '%s' completed successfully.", command)
	return nil
}

func (m *migrator) Up(ctx context.Context) error {
	return m.run("up", func(mi *migrate.Migrate) error { return mi.Up() })
}

func (m *migrator) Down(ctx context.Context) error {
	return m.run("down", func(mi *migrate.Migrate) error { return mi.Down() })
}

func (m *migrator) Version() (uint, bool, error) {
	mi, err := m.instance()
	if err != nil {
		return 0, false, err
	}
	defer mi.Close()
	v, dirty, err := mi.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return v, dirty, err
}

type migrateLogger struct{}

func (migrateLogger) Printf(format string, v ...interface{}) {
	logger.Debugf("[migrate] "+strings.TrimSpace(format), v...)
}

func (migrateLogger) Verbose() bool { return false }
