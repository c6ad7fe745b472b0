package scheduler

import (
	"context"

	"go.uber.org/fx"
)

// NewScheduler provides a Scheduler bound to the fx lifecycle.
func NewScheduler(lc fx.Lifecycle) *Scheduler {
	s := New()
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: s.Stop,
	})
	return s
}

// Module provides *Scheduler.
var Module = fx.Provide(NewScheduler)
