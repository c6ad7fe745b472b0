// Package app assembles the caseflow service from the batch framework modules.
package app

import (
	"context"
	"time"

	"go.uber.org/fx"

	"github.com/tigerroll/caseflow/internal/api"
	gormAdapter "github.com/tigerroll/caseflow/pkg/batch/adapter/database/gorm"
	"github.com/tigerroll/caseflow/pkg/batch/adapter/source/rest"
	"github.com/tigerroll/caseflow/pkg/batch/adapter/storage"
	"github.com/tigerroll/caseflow/pkg/batch/component/archive"
	"github.com/tigerroll/caseflow/pkg/batch/component/migration"
	"github.com/tigerroll/caseflow/pkg/batch/component/partitioner"
	"github.com/tigerroll/caseflow/pkg/batch/core/application/usecase"
	config "github.com/tigerroll/caseflow/pkg/batch/core/config"
	"github.com/tigerroll/caseflow/pkg/batch/engine/executor"
	"github.com/tigerroll/caseflow/pkg/batch/engine/verification"
	metricsAdapter "github.com/tigerroll/caseflow/pkg/batch/infrastructure/metrics"
	"github.com/tigerroll/caseflow/pkg/batch/infrastructure/progress"
	"github.com/tigerroll/caseflow/pkg/batch/infrastructure/queue"
	sqlRepo "github.com/tigerroll/caseflow/pkg/batch/infrastructure/repository/sql"
	"github.com/tigerroll/caseflow/pkg/batch/infrastructure/scheduler"
	batchlistener "github.com/tigerroll/caseflow/pkg/batch/listener"
	"github.com/tigerroll/caseflow/pkg/batch/support/util/logger"
)

const stopTimeout = 30 * time.Second

// Options returns the fx options of the service. Start hooks run in the
// order below: schema migration, queue workers, scheduler, startup recovery,
// then the HTTP listener.
func Options(envFilePath string, embeddedConfig config.EmbeddedConfig) []fx.Option {
	return []fx.Option{
		fx.Supply(
			embeddedConfig,
			fx.Annotate(envFilePath, fx.ResultTags(`name:"envFilePath"`)),
		),
		logger.Module,
		config.Module,
		fx.Invoke(ApplyLogLevel),

		gormAdapter.Module,
		migration.Module,
		sqlRepo.Module,
		storage.Module,
		progress.Module,
		rest.Module,
		metricsAdapter.Module,
		batchlistener.Module,
		archive.Module,

		queue.Module,
		partitioner.Module,
		usecase.Module,
		executor.Module,
		verification.Module,
		scheduler.Module,
		Module,
		api.Module,
	}
}

// RunApplication runs the service until appCtx is cancelled or a component
// requests shutdown.
func RunApplication(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig) {
	app := fx.New(Options(envFilePath, embeddedConfig)...)

	startCtx, cancel := context.WithTimeout(appCtx, app.StartTimeout())
	defer cancel()
	if err := app.Start(startCtx); err != nil {
		logger.Fatalf("Application start failed: %v", err)
	}

	select {
	case <-appCtx.Done():
		logger.Warnf("Application context cancelled. Stopping.")
	case sig := <-app.Wait():
		logger.Infof("Shutdown requested (%v).", sig.Signal)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), stopTimeout)
	defer stopCancel()
	if err := app.Stop(stopCtx); err != nil {
		logger.Errorf("Application stop failed: %v", err)
	}
	_ = logger.Sync()
}
