package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"fractal_bot/internal/modules/bootstrap"
	"fractal_bot/internal/modules/config"
	"fractal_bot/internal/modules/ctrader"
	"fractal_bot/internal/modules/executor"
	"fractal_bot/internal/modules/health"
	"fractal_bot/internal/modules/postgres"
	"fractal_bot/internal/modules/strategy"
	telegram "fractal_bot/internal/modules/telegram_bot"
	"fractal_bot/pkg/logger"
	"fractal_bot/pkg/tracing"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
)

func main() {
	cfg, err := config.NewConfig()
	if err != nil {
		log.Fatal(err)
	}
	if err := logger.Init(cfg.Service.LogLevel); err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	logger.SetServiceName(cfg.Service.Name)
	tracing.SetServiceName(cfg.Service.Name)

	_, closeTracer, err := tracing.InitTracer(tracing.Config{
		Enabled: cfg.Tracing.Enabled,
		Host:    cfg.Tracing.Host,
		Port:    cfg.Tracing.Port,
	})
	if err != nil {
		logger.Fatal("tracer: %v", err)
	}
	defer closeTracer()

	app := fx.New(
		fx.WithLogger(func() fxevent.Logger {
			return &fxevent.ZapLogger{Logger: logger.InfoLogger}
		}),
		fx.Provide(
			func() context.Context {
				return context.Background()
			},
		),
		config.Module(cfg),
		postgres.Module(),
		telegram.Module(),
		ctrader.Module(),
		executor.Module(),
		strategy.Module(),
		health.Module(),
		bootstrap.Module(),
	)

	if err := app.Start(context.Background()); err != nil {
		logger.Fatal("start: %v", err)
	}
	logger.Info("[BOOT] %s started: %s %s", cfg.Service.Name, cfg.Strategy.Symbol, cfg.Strategy.Timeframe)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("[BOOT] stopping...")
	if err := app.Stop(context.Background()); err != nil {
		logger.Error("stop: %v", err)
	}
}
