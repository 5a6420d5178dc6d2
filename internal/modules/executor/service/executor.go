package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"fractal_bot/internal/models"
	ctrader "fractal_bot/internal/modules/ctrader/service"
	"fractal_bot/pkg/logger"
	"fractal_bot/pkg/tracing"

	"github.com/bytedance/sonic"
)

const (
	maxBackoff = 30 * time.Minute
	// запись итога заявки переживает отмену тика
	outcomeTimeout = 10 * time.Second
	// свежие события ещё может разбирать consume
	redriveGrace = time.Minute
)

type ServiceNotifier interface {
	SendService(ctx context.Context, format string, args ...any)
}

type Store interface {
	ListDueOrderRequests(ctx context.Context, limit int) ([]models.BrokerOrderRequest, error)
	ClaimOrderRequest(ctx context.Context, id string) (bool, error)
	MarkSubmitted(ctx context.Context, id string, out models.SubmitOutcome) error
	MarkFailed(ctx context.Context, id string, out models.FailureOutcome) error
	UpdateSignalStatus(ctx context.Context, key string, status models.SignalStatus) error

	RecordExecutionEvent(ctx context.Context, ev models.ExecutionEvent) (pending bool, err error)
	MarkEventProcessed(ctx context.Context, signature string, at time.Time) error
	ListUnprocessedEvents(ctx context.Context, before time.Time, limit int) ([]models.ExecutionEvent, error)
	FindOrderRequestByVenueIDs(ctx context.Context, positionID, orderID string) (*models.BrokerOrderRequest, error)
	GetTrade(ctx context.Context, key string) (*models.Trade, error)
	CloseTrade(ctx context.Context, key string, c models.TradeClose) (bool, error)
}

type Broker interface {
	EnsureReady(ctx context.Context) error
	SubmitOrder(ctx context.Context, req ctrader.OrderRequest) (ctrader.OrderResult, error)
	TraderSnapshot(ctx context.Context) (ctrader.TraderSnapshot, error)
	Events() <-chan ctrader.ExecutionEvent
}

type Config struct {
	Interval  time.Duration
	BatchSize int
	Sizing    SizingConfig
}

// TickReport - итог одного прохода по очереди.
type TickReport struct {
	Coalesced bool `json:"coalesced"`
	Fetched   int  `json:"fetched"`
	Skipped   int  `json:"skipped"`
	Claimed   int  `json:"claimed"`
	Submitted int  `json:"submitted"`
	Failed    int  `json:"failed"`
}

// Executor - единственный владелец переходов статусов заявок.
// Разбирает очередь по таймеру и по Wake, слушает execution-события площадки.
type Executor struct {
	cfg    Config
	store  Store
	broker Broker
	n      ServiceNotifier
	now    func() time.Time

	running atomic.Bool
	wake    chan struct{}

	mu     sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewExecutor(cfg Config, store Store, broker Broker, n ServiceNotifier) *Executor {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 25
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	return &Executor{
		cfg:    cfg,
		store:  store,
		broker: broker,
		n:      n,
		now:    time.Now,
		wake:   make(chan struct{}, 1),
	}
}

// Backoff - min(30, attempts) минут.
func Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := time.Duration(attempts) * time.Minute
	if d > maxBackoff {
		return maxBackoff
	}
	return d
}

// Start - фоновые циклы: тикер очереди и потребитель событий.
func (e *Executor) Start(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	e.cancel = cancel

	e.wg.Add(2)
	go func() {
		defer e.wg.Done()
		e.loop(ctx)
	}()
	go func() {
		defer e.wg.Done()
		e.consume(ctx)
	}()
	logger.Info("[EXEC] started: interval=%s batch=%d", e.cfg.Interval, e.cfg.BatchSize)
}

func (e *Executor) Stop() {
	e.mu.Lock()
	cancel := e.cancel
	e.cancel = nil
	e.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	e.wg.Wait()
	logger.Info("[EXEC] stopped")
}

// Wake - неблокирующий пинок; лишние пинки схлопываются.
func (e *Executor) Wake() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}

func (e *Executor) loop(ctx context.Context) {
	t := time.NewTicker(e.cfg.Interval)
	defer t.Stop()

	e.runTick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
		case <-e.wake:
		}
		e.runTick(ctx)
	}
}

func (e *Executor) runTick(ctx context.Context) {
	rep, err := e.Tick(ctx)
	if err != nil {
		logger.Error("[EXEC] tick: %v", err)
	} else if rep.Claimed > 0 {
		logger.Info("[EXEC] tick: fetched=%d claimed=%d submitted=%d failed=%d",
			rep.Fetched, rep.Claimed, rep.Submitted, rep.Failed)
	}
	if ctx.Err() != nil {
		return
	}
	if _, err := e.RedriveEvents(ctx); err != nil {
		logger.Error("[EXEC] redrive: %v", err)
	}
}

// Tick - один проход: due-заявки, claim, расчёт объёма, отправка.
// Параллельный вызов во время активного прохода схлопывается.
func (e *Executor) Tick(ctx context.Context) (rep TickReport, err error) {
	if !e.running.CompareAndSwap(false, true) {
		rep.Coalesced = true
		return rep, nil
	}
	defer e.running.Store(false)

	span, ctx := tracing.StartSpan(ctx, "executor.tick")
	defer func() { tracing.FinishSpan(span, err) }()

	reqs, err := e.store.ListDueOrderRequests(ctx, e.cfg.BatchSize)
	if err != nil {
		return rep, fmt.Errorf("list due: %w", err)
	}
	rep.Fetched = len(reqs)

	now := e.now()
	for _, req := range reqs {
		if ctx.Err() != nil {
			return rep, ctx.Err()
		}
		if !req.Due(now) {
			rep.Skipped++
			continue
		}
		if perr := e.process(ctx, req, &rep); perr != nil {
			logger.Error("[EXEC] request %s: %v", req.ID, perr)
		}
	}
	return rep, nil
}

func (e *Executor) process(ctx context.Context, req models.BrokerOrderRequest, rep *TickReport) error {
	ok, err := e.store.ClaimOrderRequest(ctx, req.ID)
	if err != nil {
		return fmt.Errorf("claim: %w", err)
	}
	if !ok {
		logger.Debug("[EXEC] request %s already claimed", req.ID)
		return nil
	}
	rep.Claimed++
	attempts := req.Attempts + 1

	res, decision, serr := e.submit(ctx, req)
	audit := encodeAudit(decision)

	// claim уже сделан: итог пишем даже если тик отменён, иначе заявка останется в processing
	octx, cancel := context.WithTimeout(context.WithoutCancel(ctx), outcomeTimeout)
	defer cancel()

	if serr != nil {
		rep.Failed++
		next := e.now().Add(Backoff(attempts))
		if err := e.store.MarkFailed(octx, req.ID, models.FailureOutcome{
			Message:          serr.Error(),
			Code:             ctrader.ErrorCode(serr),
			NextAttemptAfter: next,
			SizingAudit:      audit,
		}); err != nil {
			return fmt.Errorf("mark failed: %w", err)
		}
		if err := e.store.UpdateSignalStatus(octx, req.SignalKey, models.SignalFailed); err != nil {
			logger.Warn("[EXEC] signal %s status: %v", req.SignalKey, err)
		}
		kind := "venue"
		if IsSizingError(serr) {
			kind = "sizing"
		}
		logger.Warn("[EXEC] request %s attempt %d failed (%s): %v, retry after %s",
			req.ID, attempts, kind, serr, next.Format(time.RFC3339))
		e.notify(octx, "⚠️ %s %s %s: попытка %d не удалась: %v", req.Symbol, req.Timeframe, req.Direction, attempts, serr)
		return nil
	}

	status := models.OrderSubmitted
	sigStatus := models.SignalSubmitted
	if res.Accepted {
		status = models.OrderAccepted
		sigStatus = models.SignalAccepted
	}
	if err := e.store.MarkSubmitted(octx, req.ID, models.SubmitOutcome{
		Status:           status,
		VenueOrderID:     res.OrderID,
		VenuePositionID:  res.PositionID,
		ExecutionPayload: res.Raw,
		SizingAudit:      audit,
	}); err != nil {
		return fmt.Errorf("mark submitted: %w", err)
	}
	rep.Submitted++
	if err := e.store.UpdateSignalStatus(octx, req.SignalKey, sigStatus); err != nil {
		logger.Warn("[EXEC] signal %s status: %v", req.SignalKey, err)
	}
	logger.Info("[EXEC] request %s %s: order=%s position=%s units=%.0f",
		req.ID, status, res.OrderID, res.PositionID, decision.Units)
	e.notify(octx, "✅ %s %s %s: ордер %s, объём %.0f, SL %.5f, TP %.5f",
		req.Symbol, req.Timeframe, req.Direction, status, decision.Units, req.StopLoss, req.TakeProfit)
	return nil
}

func (e *Executor) submit(ctx context.Context, req models.BrokerOrderRequest) (ctrader.OrderResult, *SizingDecision, error) {
	if req.PlannedEntry == nil {
		return ctrader.OrderResult{}, nil, ctrader.ErrReferenceEntryRequired
	}
	if err := e.broker.EnsureReady(ctx); err != nil {
		return ctrader.OrderResult{}, nil, fmt.Errorf("venue not ready: %w", err)
	}

	in := SizingInput{
		Mode:     req.SizingMode,
		Symbol:   req.Symbol,
		Units:    req.Units,
		Entry:    *req.PlannedEntry,
		StopLoss: req.StopLoss,
	}
	if in.Mode == models.SizingRiskPercent {
		snap, err := e.broker.TraderSnapshot(ctx)
		if err != nil {
			return ctrader.OrderResult{}, nil, fmt.Errorf("trader snapshot: %w", err)
		}
		in.Balance, in.Equity = snap.Balance, snap.Equity
	}
	decision, err := SizePosition(e.cfg.Sizing, in)
	if err != nil {
		return ctrader.OrderResult{}, &decision, err
	}

	res, err := e.broker.SubmitOrder(ctx, ctrader.OrderRequest{
		Symbol:         req.Symbol,
		Direction:      req.Direction,
		Units:          decision.Units,
		ReferenceEntry: req.PlannedEntry,
		StopLoss:       req.StopLoss,
		TakeProfit:     req.TakeProfit,
		Label:          req.ID,
	})
	return res, &decision, err
}

func encodeAudit(d *SizingDecision) []byte {
	if d == nil {
		return nil
	}
	b, err := sonic.Marshal(d)
	if err != nil {
		logger.Warn("[EXEC] sizing audit: %v", err)
		return nil
	}
	return b
}

func (e *Executor) notify(ctx context.Context, format string, args ...any) {
	if e.n == nil {
		return
	}
	e.n.SendService(ctx, format, args...)
}

// IsSizingError - локальный отказ расчёта объёма.
func IsSizingError(err error) bool {
	var se *SizingError
	return errors.As(err, &se)
}
