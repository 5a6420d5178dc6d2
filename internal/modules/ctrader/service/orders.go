package service

import (
	"context"
	"fmt"
	"math"

	"fractal_bot/internal/models"
	"fractal_bot/pkg/logger"
	"fractal_bot/pkg/tracing"
)

const (
	tradeSideBuy  = 1
	tradeSideSell = 2
)

// OrderRequest - логический рыночный ордер. Уровни абсолютные,
// ReferenceEntry обязателен для перевода их в относительные.
type OrderRequest struct {
	Symbol         string
	Direction      models.Direction
	Units          float64
	ReferenceEntry *float64
	StopLoss       float64
	TakeProfit     float64
	Label          string
}

type OrderResult struct {
	// исполнение принято или заполнено
	Accepted      bool
	ExecutionType string
	OrderID       string
	PositionID    string
	Raw           []byte
}

type newOrderPayload struct {
	AccountID          int64  `json:"ctidTraderAccountId"`
	SymbolID           int64  `json:"symbolId"`
	OrderType          int    `json:"orderType"`
	TradeSide          int    `json:"tradeSide"`
	Volume             int64  `json:"volume"`
	RelativeStopLoss   int64  `json:"relativeStopLoss,omitempty"`
	RelativeTakeProfit int64  `json:"relativeTakeProfit,omitempty"`
	Label              string `json:"label,omitempty"`
}

// WireVolume - объём в минорных единицах площадки (units × 100).
func WireVolume(units float64) int64 {
	return int64(math.Round(units * 100))
}

// RelativeDistance - |entry − level| в 1/100000 цены.
func RelativeDistance(entry, level float64) int64 {
	return int64(math.Round(math.Abs(entry-level) * priceScale))
}

func buildNewOrder(accountID, symbolID int64, req OrderRequest) (newOrderPayload, error) {
	if req.ReferenceEntry == nil {
		return newOrderPayload{}, ErrReferenceEntryRequired
	}
	if req.Units <= 0 {
		return newOrderPayload{}, fmt.Errorf("ctrader: non-positive volume %v", req.Units)
	}
	side := tradeSideBuy
	switch req.Direction {
	case models.DirectionLong:
	case models.DirectionShort:
		side = tradeSideSell
	default:
		return newOrderPayload{}, fmt.Errorf("ctrader: unknown direction %q", req.Direction)
	}

	entry := *req.ReferenceEntry
	p := newOrderPayload{
		AccountID: accountID,
		SymbolID:  symbolID,
		OrderType: orderTypeMarket,
		TradeSide: side,
		Volume:    WireVolume(req.Units),
		Label:     req.Label,
	}
	if req.StopLoss > 0 {
		p.RelativeStopLoss = RelativeDistance(entry, req.StopLoss)
	}
	if req.TakeProfit > 0 {
		p.RelativeTakeProfit = RelativeDistance(entry, req.TakeProfit)
	}
	return p, nil
}

// SubmitOrder отправляет рыночный ордер и ждёт первый execution event по нему.
func (c *Client) SubmitOrder(ctx context.Context, req OrderRequest) (res OrderResult, err error) {
	span, ctx := tracing.StartSpan(ctx, "ctrader.SubmitOrder")
	defer func() { tracing.FinishSpan(span, err) }()

	// проверка входа до сети
	if _, err := buildNewOrder(c.cfg.AccountID, 0, req); err != nil {
		return OrderResult{}, err
	}

	s, err := c.readySession(ctx)
	if err != nil {
		return OrderResult{}, err
	}
	symbolID, err := c.SymbolID(ctx, req.Symbol)
	if err != nil {
		return OrderResult{}, err
	}
	payload, err := buildNewOrder(c.cfg.AccountID, symbolID, req)
	if err != nil {
		return OrderResult{}, err
	}

	f, err := c.roundTrip(ctx, s, PayloadNewOrderReq, payload, PayloadExecutionEvent, c.cfg.OrderTimeout)
	if err != nil {
		return OrderResult{}, err
	}

	ev := parseExecutionEvent(f)
	res = OrderResult{
		ExecutionType: ev.ExecutionType,
		OrderID:       ev.OrderID,
		PositionID:    ev.PositionID,
		Raw:           f.Raw,
	}
	switch ev.ExecutionType {
	case "ORDER_ACCEPTED", "ORDER_FILLED", "ORDER_PARTIAL_FILL":
		res.Accepted = true
	}
	logger.Info("[VENUE] order %s %s units=%.0f -> %s order=%s position=%s",
		req.Direction, req.Symbol, req.Units, ev.ExecutionType, ev.OrderID, ev.PositionID)
	return res, nil
}
