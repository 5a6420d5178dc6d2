package service

import (
	"context"
	"fmt"
	"sync"
	"time"

	"fractal_bot/internal/models"
	"fractal_bot/pkg/logger"
	"fractal_bot/pkg/tracing"

	"github.com/google/uuid"
)

type ServiceNotifier interface {
	SendService(ctx context.Context, format string, args ...any)
}

// Store - то, что движку нужно от хранилища.
type Store interface {
	LoadCandles(ctx context.Context, symbol, timeframe string) ([]models.Candle, error)
	LoadSnapshot(ctx context.Context, strategy, symbol, timeframe string) (*models.RuntimeSnapshot, error)
	UpsertSignal(ctx context.Context, s models.Signal) (bool, error)
	UpsertTrade(ctx context.Context, t models.Trade) error
	EnqueueOrderRequest(ctx context.Context, req models.BrokerOrderRequest) (bool, error)
	SaveSnapshot(ctx context.Context, snap models.RuntimeSnapshot) error
}

// Waker - будит executor, когда в очереди появилась работа.
type Waker interface {
	Wake()
}

type HubConfig struct {
	// сигналы с входом старше окна в очередь не ставятся
	LiveWindow time.Duration
	SizingMode models.SizingMode
}

type RunReport struct {
	Candles    int
	NewSignals int
	Trades     int
	Enqueued   int
	State      string
	LastIndex  int
}

// Hub - обвязка вокруг Engine: свечи и снапшот из хранилища, прогон,
// запись сигналов/сделок, постановка ордеров. Снапшот пишется последним.
type Hub struct {
	engine *Engine
	store  Store
	n      ServiceNotifier
	waker  Waker
	cfg    HubConfig
	now    func() time.Time

	mu sync.Mutex
}

func NewHub(engine *Engine, store Store, n ServiceNotifier, waker Waker, cfg HubConfig) *Hub {
	return &Hub{
		engine: engine,
		store:  store,
		n:      n,
		waker:  waker,
		cfg:    cfg,
		now:    time.Now,
	}
}

func (h *Hub) live(at *time.Time) bool {
	if at == nil {
		return false
	}
	return h.now().Sub(*at) <= h.cfg.LiveWindow
}

// RunOnce - один проход. Любая ошибка хранилища прерывает проход до записи снапшота,
// следующий проход повторит работу (все записи идемпотентны).
func (h *Hub) RunOnce(ctx context.Context) (rep RunReport, err error) {
	span, ctx := tracing.StartSpan(ctx, "strategy.RunOnce")
	defer func() { tracing.FinishSpan(span, err) }()

	h.mu.Lock()
	defer h.mu.Unlock()

	s := h.engine.Settings()
	candles, err := h.store.LoadCandles(ctx, s.Symbol, s.Timeframe)
	if err != nil {
		return rep, fmt.Errorf("load candles: %w", err)
	}
	prev, err := h.store.LoadSnapshot(ctx, s.Strategy, s.Symbol, s.Timeframe)
	if err != nil {
		return rep, fmt.Errorf("load snapshot: %w", err)
	}

	res := h.engine.Run(candles, prev)
	rep.Candles = len(candles)
	rep.Trades = len(res.Trades)

	for _, ev := range res.Events {
		logger.Debug("[STRAT] %s idx=%d bias=%s price=%.5f %s", ev.Kind, ev.Index, ev.Bias, ev.Price, ev.Detail)
	}

	for _, sig := range res.Signals {
		inserted, err := h.store.UpsertSignal(ctx, sig)
		if err != nil {
			return rep, fmt.Errorf("upsert signal %s: %w", sig.Key, err)
		}
		if inserted {
			rep.NewSignals++
			logger.Info("[STRAT] signal %s %s sl=%.5f tp=%.5f status=%s",
				sig.Key, sig.Direction, sig.StopLoss, sig.TakeProfit, sig.Status)
			if h.live(&sig.TriggerTime) || h.live(sig.PlannedEntryTime) {
				h.notify(ctx, "📐 Сигнал %s %s %s\nSL: %.5f\nTP: %.5f", sig.Direction, sig.Symbol, sig.Timeframe, sig.StopLoss, sig.TakeProfit)
			}
		}
	}

	for _, t := range res.Trades {
		if err := h.store.UpsertTrade(ctx, t); err != nil {
			return rep, fmt.Errorf("upsert trade %s: %w", t.Key, err)
		}
		if t.Status == models.TradeClosed && h.live(t.ExitTime) {
			h.notify(ctx, "🏁 Сделка %s закрыта: %s, R=%.2f", t.Key, t.ExitReason, deref(t.RMultiple))
		}
	}

	for _, sig := range res.Signals {
		if sig.Status != models.SignalReady || !h.live(sig.PlannedEntryTime) {
			continue
		}
		created, err := h.store.EnqueueOrderRequest(ctx, h.orderRequestFor(sig))
		if err != nil {
			return rep, fmt.Errorf("enqueue %s: %w", sig.Key, err)
		}
		if created {
			rep.Enqueued++
			logger.Info("[STRAT] queued order request for %s", sig.Key)
		}
	}

	snap := res.Snapshot
	snap.UpdatedAt = h.now()
	if err := h.store.SaveSnapshot(ctx, snap); err != nil {
		return rep, fmt.Errorf("save snapshot: %w", err)
	}
	rep.State = snap.State
	rep.LastIndex = snap.LastIndex

	if rep.Enqueued > 0 && h.waker != nil {
		h.waker.Wake()
	}
	return rep, nil
}

func (h *Hub) orderRequestFor(sig models.Signal) models.BrokerOrderRequest {
	return models.BrokerOrderRequest{
		ID:               uuid.NewString(),
		Key:              sig.Key,
		SignalKey:        sig.Key,
		Strategy:         sig.Strategy,
		Symbol:           sig.Symbol,
		Timeframe:        sig.Timeframe,
		Direction:        sig.Direction,
		PlannedEntry:     sig.PlannedEntry,
		PlannedEntryTime: sig.PlannedEntryTime,
		StopLoss:         sig.StopLoss,
		TakeProfit:       sig.TakeProfit,
		SizingMode:       h.cfg.SizingMode,
		Status:           models.OrderQueued,
	}
}

func (h *Hub) notify(ctx context.Context, format string, args ...any) {
	if h.n != nil {
		h.n.SendService(ctx, format, args...)
	}
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
