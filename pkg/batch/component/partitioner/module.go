package partitioner

import "go.uber.org/fx"

// Module provides *Planner.
var Module = fx.Options(
	fx.Provide(NewPlanner),
)
