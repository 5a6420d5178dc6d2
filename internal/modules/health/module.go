package health

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"fractal_bot/internal/modules/config"
	ctrader "fractal_bot/internal/modules/ctrader/service"
	executor "fractal_bot/internal/modules/executor/service"
	"fractal_bot/internal/modules/health/service"
	telegram "fractal_bot/internal/modules/telegram_bot/service"
	"fractal_bot/pkg/db"
	"fractal_bot/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Config struct {
	Addr string // например ":8081"
}

func NewConfig(cfg *config.Config) Config {
	return Config{Addr: fmt.Sprintf("%s:%d", cfg.Service.Host, cfg.Service.AdminPort)}
}

func NewRouter(state *service.State, e *executor.Executor, c *ctrader.Client, m *db.PgTxManager, cfg *config.Config) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	return service.NewRouter(service.Deps{
		State:     state,
		Executor:  e,
		Venue:     c,
		DB:        m,
		OpTimeout: cfg.CTrader.OrderTimeout + cfg.CTrader.ConnectTimeout,
	})
}

// bind - состояние площадки в health и /status в чат.
func bind(state *service.State, c *ctrader.Client, tg *telegram.Telegram) {
	c.OnStateChange(func(s ctrader.State) { state.SetVenueState(s.String()) })
	tg.SetStatusSource(state)
}

func RunHTTP(lc fx.Lifecycle, cfg Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", cfg.Addr)
			if err != nil {
				return err
			}
			logger.Info("[HTTP] admin listening on %s", cfg.Addr)
			go func() {
				if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("[HTTP] serve: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}

func Module() fx.Option {
	return fx.Module("health",
		fx.Provide(
			service.NewState,
			NewConfig,
			NewRouter,
		),
		fx.Invoke(bind, RunHTTP),
	)
}
