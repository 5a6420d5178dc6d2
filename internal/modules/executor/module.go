package executor

import (
	"context"

	"fractal_bot/internal/modules/config"
	ctrader "fractal_bot/internal/modules/ctrader/service"
	"fractal_bot/internal/modules/executor/service"
	"fractal_bot/internal/modules/postgres/repo"
	telegram "fractal_bot/internal/modules/telegram_bot/service"

	"go.uber.org/fx"
)

func newExecutor(cfg *config.Config, r *repo.Repository, c *ctrader.Client, tg *telegram.Telegram) *service.Executor {
	e := cfg.Executor
	return service.NewExecutor(service.Config{
		Interval:  e.Interval,
		BatchSize: e.BatchSize,
		Sizing: service.SizingConfig{
			DefaultUnits:    e.DefaultUnits,
			RiskPct:         e.RiskPct,
			SlippagePct:     e.SlippagePct,
			VolumeStep:      e.VolumeStep,
			MinUnits:        e.MinUnits,
			MaxUnits:        e.MaxUnits,
			AccountCurrency: e.AccountCurrency,
		},
	}, r, c, tg)
}

func Module() fx.Option {
	return fx.Module("executor",
		fx.Provide(newExecutor),
		fx.Invoke(func(lc fx.Lifecycle, e *service.Executor) {
			lc.Append(fx.Hook{
				// ctx из OnStart живёт только до конца старта
				OnStart: func(ctx context.Context) error {
					e.Start(context.Background())
					return nil
				},
				OnStop: func(ctx context.Context) error {
					e.Stop()
					return nil
				},
			})
		}),
	)
}
