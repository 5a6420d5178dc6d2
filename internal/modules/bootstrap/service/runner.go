package service

import (
	"context"
	"fmt"
	"time"

	"fractal_bot/internal/helper"
	"fractal_bot/internal/models"
	health "fractal_bot/internal/modules/health/service"
	strategy "fractal_bot/internal/modules/strategy/service"
	"fractal_bot/pkg/logger"
)

type TrendbarSource interface {
	Trendbars(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error)
}

type CandleStore interface {
	LastCandleTime(ctx context.Context, symbol, timeframe string) (*time.Time, error)
	UpsertCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) (int, error)
}

type Strategy interface {
	RunOnce(ctx context.Context) (strategy.RunReport, error)
}

type StateSink interface {
	SetReady(v bool)
	TouchRun(t time.Time, info health.RunInfo)
	SetError(err error)
}

type Config struct {
	Symbol    string
	Timeframe string
	// глубина первичной загрузки и размер окна догрузки, в свечах
	Bars     int
	Interval time.Duration
}

// Runner - цикл: догрузить закрытые свечи с площадки, прогнать стратегию.
type Runner struct {
	cfg   Config
	src   TrendbarSource
	store CandleStore
	strat Strategy
	state StateSink
	now   func() time.Time
}

func NewRunner(cfg Config, src TrendbarSource, store CandleStore, strat Strategy, state StateSink) *Runner {
	if cfg.Bars <= 0 {
		cfg.Bars = 500
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	return &Runner{cfg: cfg, src: src, store: store, strat: strat, state: state, now: time.Now}
}

// Ingest - свечи от последней сохранённой (или Bars назад) до текущей закрытой.
// Незакрытая свеча отбрасывается.
func (r *Runner) Ingest(ctx context.Context) (int, error) {
	tf := helper.TFDuration(r.cfg.Timeframe)
	if tf == 0 {
		return 0, fmt.Errorf("unsupported timeframe %q", r.cfg.Timeframe)
	}
	now := r.now().UTC()
	window := tf * time.Duration(r.cfg.Bars)

	from := now.Add(-window).Truncate(tf)
	last, err := r.store.LastCandleTime(ctx, r.cfg.Symbol, r.cfg.Timeframe)
	if err != nil {
		return 0, fmt.Errorf("last candle: %w", err)
	}
	if last != nil {
		from = last.Add(tf)
	}

	total := 0
	for from.Add(tf).Compare(now) <= 0 {
		to := from.Add(window)
		if to.After(now) {
			to = now
		}
		bars, err := r.src.Trendbars(ctx, r.cfg.Symbol, r.cfg.Timeframe, from, to)
		if err != nil {
			return total, fmt.Errorf("trendbars %s..%s: %w", from.Format(time.RFC3339), to.Format(time.RFC3339), err)
		}

		closed := bars[:0]
		for _, c := range bars {
			if c.Timestamp.Add(tf).Compare(now) <= 0 {
				closed = append(closed, c)
			}
		}
		if len(closed) > 0 {
			n, err := r.store.UpsertCandles(ctx, r.cfg.Symbol, r.cfg.Timeframe, closed)
			if err != nil {
				return total, fmt.Errorf("upsert candles: %w", err)
			}
			total += n
		}
		from = to
	}
	return total, nil
}

// Step - одна итерация цикла.
func (r *Runner) Step(ctx context.Context) error {
	n, err := r.Ingest(ctx)
	if err != nil {
		r.state.SetError(err)
		return fmt.Errorf("ingest: %w", err)
	}
	if n > 0 {
		logger.Info("[INGEST] %s %s: +%d candles", r.cfg.Symbol, r.cfg.Timeframe, n)
	}

	rep, err := r.strat.RunOnce(ctx)
	if err != nil {
		r.state.SetError(err)
		return fmt.Errorf("strategy: %w", err)
	}
	r.state.TouchRun(r.now(), health.RunInfo{
		State:     rep.State,
		LastIndex: rep.LastIndex,
		Candles:   rep.Candles,
		Signals:   rep.NewSignals,
		Enqueued:  rep.Enqueued,
	})
	r.state.SetReady(true)
	return nil
}

func (r *Runner) Run(ctx context.Context) {
	t := time.NewTicker(r.cfg.Interval)
	defer t.Stop()

	logger.Info("[BOOT] runner started: %s %s every %s", r.cfg.Symbol, r.cfg.Timeframe, r.cfg.Interval)
	for {
		if err := r.Step(ctx); err != nil {
			logger.Error("[BOOT] step: %v", err)
		}
		select {
		case <-ctx.Done():
			logger.Info("[BOOT] runner stopped")
			return
		case <-t.C:
		}
	}
}
