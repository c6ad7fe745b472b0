package sql

import (
	"go.uber.org/fx"

	"github.com/tigerroll/caseflow/pkg/batch/core/domain/repository"
)

// Module provides the SQL repositories on the default connection.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewProcessRepository, fx.As(new(repository.Process))),
		fx.Annotate(NewBatchRepository, fx.As(new(repository.Batch))),
		fx.Annotate(NewRecordStore, fx.As(new(repository.Record))),
	),
)
