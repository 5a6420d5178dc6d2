package strategy

import (
	"fractal_bot/internal/models"
	"fractal_bot/internal/modules/config"
	executor "fractal_bot/internal/modules/executor/service"
	"fractal_bot/internal/modules/postgres/repo"
	"fractal_bot/internal/modules/strategy/service"
	telegram "fractal_bot/internal/modules/telegram_bot/service"

	"go.uber.org/fx"
)

func newEngine(cfg *config.Config) *service.Engine {
	s := cfg.Strategy
	return service.NewEngine(service.Settings{
		Strategy:       s.Name,
		Symbol:         s.Symbol,
		Timeframe:      s.Timeframe,
		PipSize:        s.PipSize,
		MinImpulsePips: s.MinImpulsePips,
		StopBufferPips: s.StopBufferPips,
	})
}

// newHub - хаб пишет в postgres и будит executor после постановки заявки.
func newHub(cfg *config.Config, e *service.Engine, r *repo.Repository, tg *telegram.Telegram, ex *executor.Executor) *service.Hub {
	return service.NewHub(e, r, tg, ex, service.HubConfig{
		LiveWindow: cfg.Strategy.LiveWindow,
		SizingMode: models.SizingMode(cfg.Executor.SizingMode),
	})
}

// Module - движок и хаб; периодический запуск живёт в bootstrap.
func Module() fx.Option {
	return fx.Module("strategy",
		fx.Provide(
			newEngine, // *service.Engine
			newHub,    // *service.Hub
		),
	)
}
