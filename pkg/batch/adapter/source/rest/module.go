package rest

import (
	"go.uber.org/fx"

	"github.com/tigerroll/caseflow/pkg/batch/core/application/port"
)

// Module provides the REST client as port.SourceClient.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(NewClientFromConfig, fx.As(new(port.SourceClient))),
	),
)
