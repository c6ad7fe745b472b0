package gorm

import (
	"context"

	"go.uber.org/fx"

	"github.com/tigerroll/caseflow/pkg/batch/adapter/database"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
)

// NewDefaultConnection opens the connection named by infrastructure.database_ref.
func NewDefaultConnection(lc fx.Lifecycle, p *Provider, cfg *config.Config) (database.DBConnection, error) {
	conn, err := p.GetConnection(cfg.Caseflow.Infrastructure.DatabaseRef)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return p.CloseAll()
		},
	})
	return conn, nil
}

// Module provides the connection provider and the default connection.
// Dialects register themselves when their subpackage is imported.
var Module = fx.Options(
	fx.Provide(NewProvider),
	fx.Provide(NewDefaultConnection),
)
