package ctrader

import (
	"context"

	"fractal_bot/internal/modules/config"
	"fractal_bot/internal/modules/ctrader/service"
	"fractal_bot/pkg/logger"

	"go.uber.org/fx"
)

func newClient(cfg *config.Config) *service.Client {
	c := cfg.CTrader
	return service.NewClient(service.Config{
		Endpoint:          c.Endpoint,
		ClientID:          c.ClientID,
		ClientSecret:      c.ClientSecret,
		AccessToken:       c.AccessToken,
		AccountID:         c.AccountID,
		ConnectTimeout:    c.ConnectTimeout,
		RequestTimeout:    c.RequestTimeout,
		OrderTimeout:      c.OrderTimeout,
		HeartbeatInterval: c.HeartbeatInterval,
		RateLimit:         c.RateLimit,
		RateBurst:         c.RateBurst,
		EventBuffer:       c.EventBuffer,
	})
}

// Module - клиент cTrader Open API. Соединение поднимается лениво через EnsureReady,
// на старте пробуем один раз, чтобы сразу увидеть ошибки авторизации в логах.
func Module() fx.Option {
	return fx.Module("ctrader",
		fx.Provide(newClient),
		fx.Invoke(func(lc fx.Lifecycle, c *service.Client) {
			lc.Append(fx.Hook{
				OnStart: func(ctx context.Context) error {
					go func() {
						if err := c.EnsureReady(context.Background()); err != nil {
							logger.Error("[VENUE] initial connect failed: %v", err)
						}
					}()
					return nil
				},
				OnStop: func(ctx context.Context) error {
					c.Close()
					return nil
				},
			})
		}),
	)
}
