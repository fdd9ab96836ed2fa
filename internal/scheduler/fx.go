package scheduler

import (
	"context"

	"go.uber.org/fx"
)

var Module = fx.Module("scheduler",
	fx.Provide(ProvideConfig),
	fx.Provide(New),
)

// Lifecycle starts the run loop when enabled. The scheduler itself is always
// provided so manual triggers keep working.
var Lifecycle = fx.Invoke(RegisterLifecycle)

func RegisterLifecycle(lc fx.Lifecycle, cfg Config, sched *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if !cfg.Enabled {
				return nil
			}
			return sched.Start()
		},
		OnStop: func(ctx context.Context) error {
			return sched.Stop(ctx)
		},
	})
}
