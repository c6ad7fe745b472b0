// Package listener aggregates the observers attached to the executor and
// the verification engine.
package listener

import (
	"go.uber.org/fx"

	"github.com/tigerroll/caseflow/pkg/batch/listener/logging"
	"github.com/tigerroll/caseflow/pkg/batch/listener/metrics"
	"github.com/tigerroll/caseflow/pkg/batch/listener/tracing"
)

// Module aggregates all listener modules.
var Module = fx.Options(
	logging.Module,
	metrics.Module,
	tracing.Module,
)
