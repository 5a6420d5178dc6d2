package postgres

import (
	"context"
	"fmt"

	"fractal_bot/internal/modules/config"
	"fractal_bot/internal/modules/postgres/repo"
	"fractal_bot/pkg/db"
	"fractal_bot/pkg/logger"

	"go.uber.org/fx"
)

// Module - пул pgx, транзакционный менеджер и репозиторий.
func Module() fx.Option {
	return fx.Module("postgres",
		fx.Provide(
			func(ctx context.Context, lc fx.Lifecycle, cfg *config.Config) (*db.PgTxManager, error) {
				poolMaster, err := db.NewPool(ctx, db.PoolConfig{
					DSN:      cfg.DB,
					MaxConns: cfg.DBMaxConns,
				})
				if err != nil {
					return nil, fmt.Errorf("failed to create poolMaster: %w", err)
				}

				err = poolMaster.Ping(ctx)
				if err != nil {
					poolMaster.Close()
					return nil, err
				}

				m := db.NewPgTxManager(poolMaster)
				lc.Append(fx.Hook{
					OnStop: func(context.Context) error {
						logger.Info("[PG] closing pool")
						m.Close()
						return nil
					},
				})
				return m, nil
			},
			func(m *db.PgTxManager) db.TxManager { return m },
			repo.New,
		),
	)
}
