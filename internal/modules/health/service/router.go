package service

import (
	"context"
	"net/http"
	"time"

	executor "fractal_bot/internal/modules/executor/service"
	"fractal_bot/pkg/logger"

	"github.com/gin-gonic/gin"
)

type Executor interface {
	Tick(ctx context.Context) (executor.TickReport, error)
	Wake()
}

type Venue interface {
	Reconnect(ctx context.Context) error
}

// Pinger - проверка базы для readiness.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Deps struct {
	State    *State
	Executor Executor
	Venue    Venue
	DB       Pinger
	// таймаут ручных операций (tick, reconnect)
	OpTimeout time.Duration
}

func NewRouter(d Deps) *gin.Engine {
	if d.OpTimeout <= 0 {
		d.OpTimeout = 30 * time.Second
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/livez", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})

	r.GET("/readyz", func(c *gin.Context) {
		if !d.State.Ready() {
			c.String(http.StatusServiceUnavailable, "not ready")
			return
		}
		if d.DB != nil {
			ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
			defer cancel()
			if err := d.DB.Ping(ctx); err != nil {
				c.String(http.StatusServiceUnavailable, "db: %v", err)
				return
			}
		}
		c.String(http.StatusOK, "ready")
	})

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, d.State.Snapshot())
	})

	// ручной тик; параллельный вызов схлопывается с текущим
	r.POST("/executor/tick", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d.OpTimeout)
		defer cancel()
		rep, err := d.Executor.Tick(ctx)
		if err != nil {
			logger.Error("[HTTP] executor tick: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error(), "report": rep})
			return
		}
		c.JSON(http.StatusOK, rep)
	})

	// внешний пинок "в очереди появилась заявка"
	r.POST("/webhooks/queued", func(c *gin.Context) {
		d.Executor.Wake()
		c.JSON(http.StatusAccepted, gin.H{"woken": true})
	})

	r.POST("/venue/reconnect", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), d.OpTimeout)
		defer cancel()
		if err := d.Venue.Reconnect(ctx); err != nil {
			logger.Error("[HTTP] venue reconnect: %v", err)
			c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"venue": d.State.VenueState()})
	})

	return r
}
