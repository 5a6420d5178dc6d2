package service

import (
	"context"
	"fmt"
	"time"

	"fractal_bot/internal/models"
	ctrader "fractal_bot/internal/modules/ctrader/service"
	"fractal_bot/pkg/logger"
)

func (e *Executor) consume(ctx context.Context) {
	events := e.broker.Events()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := e.HandleEvent(ctx, ev); err != nil {
				logger.Error("[EXEC] execution event %s pos=%s order=%s: %v",
					ev.ExecutionType, ev.PositionID, ev.OrderID, err)
			}
		}
	}
}

// HandleEvent - запись события (дедуп по сигнатуре) и закрытие сделки,
// если событие несёт признак TP/SL. Повтор разобранного события ничего не меняет;
// повтор события, разбор которого сорвался, доводит закрытие до конца.
func (e *Executor) HandleEvent(ctx context.Context, ev ctrader.ExecutionEvent) error {
	rec := models.ExecutionEvent{
		Signature:     models.EventSignature(ev.PayloadType, ev.ExecutionType, ev.PositionID, ev.OrderID, ev.Timestamp),
		PayloadType:   ev.PayloadType,
		ExecutionType: ev.ExecutionType,
		PositionID:    ev.PositionID,
		OrderID:       ev.OrderID,
		VenueTime:     ev.Timestamp,
		CloseReason:   ev.CloseReason,
		ExitPrice:     ev.ExitPrice,
		Payload:       ev.Raw,
		ReceivedAt:    e.now(),
	}
	pending, err := e.store.RecordExecutionEvent(ctx, rec)
	if err != nil {
		return fmt.Errorf("record event: %w", err)
	}
	if !pending {
		logger.Debug("[EXEC] duplicate event %s", rec.Signature[:12])
		return nil
	}
	return e.settle(ctx, rec)
}

// RedriveEvents - повторный разбор событий, застрявших без processed_at
// (ошибка стора между записью и закрытием сделки).
func (e *Executor) RedriveEvents(ctx context.Context) (int, error) {
	evs, err := e.store.ListUnprocessedEvents(ctx, e.now().Add(-redriveGrace), e.cfg.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("list unprocessed events: %w", err)
	}
	done := 0
	for _, ev := range evs {
		if err := e.settle(ctx, ev); err != nil {
			logger.Warn("[EXEC] redrive event %s: %v", ev.Signature[:12], err)
			continue
		}
		done++
	}
	if done > 0 {
		logger.Info("[EXEC] redriven %d execution events", done)
	}
	return done, nil
}

// settle - processed_at ставится только после того, как закрытие применено.
func (e *Executor) settle(ctx context.Context, rec models.ExecutionEvent) error {
	if err := e.applyClose(ctx, rec); err != nil {
		return err
	}
	if err := e.store.MarkEventProcessed(ctx, rec.Signature, e.now()); err != nil {
		return fmt.Errorf("mark event processed: %w", err)
	}
	return nil
}

func (e *Executor) applyClose(ctx context.Context, rec models.ExecutionEvent) error {
	if rec.CloseReason == "" {
		return nil
	}

	req, err := e.store.FindOrderRequestByVenueIDs(ctx, rec.PositionID, rec.OrderID)
	if err != nil {
		return fmt.Errorf("find request: %w", err)
	}
	if req == nil {
		logger.Warn("[EXEC] %s event for unknown position=%s order=%s", rec.CloseReason, rec.PositionID, rec.OrderID)
		return nil
	}

	trade, err := e.store.GetTrade(ctx, req.SignalKey)
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	if trade == nil {
		logger.Warn("[EXEC] no trade for signal %s", req.SignalKey)
		return nil
	}
	if trade.Status == models.TradeClosed {
		logger.Debug("[EXEC] trade %s already closed", trade.Key)
		return nil
	}

	exitPrice := trade.StopLoss
	if rec.CloseReason == models.ExitTakeProfit {
		exitPrice = trade.TakeProfit
	}
	if rec.ExitPrice != nil {
		exitPrice = *rec.ExitPrice
	}
	exitTime := e.now()
	if rec.VenueTime > 0 {
		exitTime = time.UnixMilli(rec.VenueTime).UTC()
	}

	c := models.TradeClose{ExitPrice: exitPrice, ExitTime: exitTime, Reason: rec.CloseReason}
	if r, ok := models.RiskMultiple(trade.Direction, trade.EntryPrice, trade.StopLoss, exitPrice); ok {
		c.RMultiple = &r
	}

	closed, err := e.store.CloseTrade(ctx, trade.Key, c)
	if err != nil {
		return fmt.Errorf("close trade: %w", err)
	}
	if !closed {
		return nil
	}

	rm := "n/a"
	if c.RMultiple != nil {
		rm = fmt.Sprintf("%.2fR", *c.RMultiple)
	}
	logger.Info("[EXEC] trade %s closed by %s at %.5f (%s)", trade.Key, c.Reason, exitPrice, rm)
	e.notify(ctx, "🏁 %s %s %s закрыта: %s @ %.5f (%s)",
		trade.Symbol, trade.Timeframe, trade.Direction, c.Reason, exitPrice, rm)
	return nil
}
