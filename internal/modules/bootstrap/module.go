package bootstrap

import (
	"context"

	bootstrap "fractal_bot/internal/modules/bootstrap/service"
	"fractal_bot/internal/modules/config"
	ctrader "fractal_bot/internal/modules/ctrader/service"
	health "fractal_bot/internal/modules/health/service"
	"fractal_bot/internal/modules/postgres/repo"
	strategy "fractal_bot/internal/modules/strategy/service"

	"go.uber.org/fx"
)

func newRunner(cfg *config.Config, c *ctrader.Client, r *repo.Repository, hub *strategy.Hub, st *health.State) *bootstrap.Runner {
	return bootstrap.NewRunner(bootstrap.Config{
		Symbol:    cfg.Strategy.Symbol,
		Timeframe: cfg.Strategy.Timeframe,
		Bars:      cfg.Strategy.IngestBars,
		Interval:  cfg.Strategy.RunInterval,
	}, c, r, hub, st)
}

func Module() fx.Option {
	return fx.Module("bootstrap",
		fx.Provide(newRunner),
		fx.Invoke(func(lc fx.Lifecycle, run *bootstrap.Runner) {
			ctx, cancel := context.WithCancel(context.Background())
			done := make(chan struct{})
			lc.Append(fx.Hook{
				OnStart: func(context.Context) error {
					go func() {
						defer close(done)
						run.Run(ctx)
					}()
					return nil
				},
				OnStop: func(stopCtx context.Context) error {
					cancel()
					select {
					case <-done:
					case <-stopCtx.Done():
					}
					return nil
				},
			})
		}),
	)
}
