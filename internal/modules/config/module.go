package config

import "go.uber.org/fx"

// Module - уже загруженный конфиг в граф fx (логгер и трейсер поднимаются до fx).
func Module(cfg *Config) fx.Option {
	return fx.Module("config",
		fx.Supply(cfg),
	)
}
