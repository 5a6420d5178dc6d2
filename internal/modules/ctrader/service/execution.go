package service

import (
	"math"
	"strconv"
	"time"

	"fractal_bot/internal/models"

	"github.com/tidwall/gjson"
)

const priceScale = 100000.0

var executionTypeNames = map[int64]string{
	2:  "ORDER_ACCEPTED",
	3:  "ORDER_FILLED",
	4:  "ORDER_REPLACED",
	5:  "ORDER_CANCELLED",
	6:  "ORDER_EXPIRED",
	7:  "ORDER_REJECTED",
	8:  "ORDER_CANCEL_REJECTED",
	9:  "SWAP",
	10: "DEPOSIT_WITHDRAW",
	11: "ORDER_PARTIAL_FILL",
	12: "BONUS_DEPOSIT_WITHDRAW",
}

const (
	orderTypeMarket             = 1
	orderTypeStopLossTakeProfit = 4
)

// ExecutionEvent - разобранный 2126. Raw хранится целиком для аудита.
type ExecutionEvent struct {
	PayloadType   int
	ClientMsgID   string
	ExecutionType string
	PositionID    string
	OrderID       string
	// venue time, ms
	Timestamp int64

	// "" - событие не закрывает позицию (или причину определить нельзя)
	CloseReason models.ExitReason
	ExitPrice   *float64

	Raw []byte
}

// VenueTime - время события на площадке, zero если его нет.
func (e ExecutionEvent) VenueTime() time.Time {
	if e.Timestamp == 0 {
		return time.Time{}
	}
	return time.UnixMilli(e.Timestamp).UTC()
}

// executionTypeName принимает и число, и имя enum.
func executionTypeName(v gjson.Result) string {
	if !v.Exists() {
		return ""
	}
	if v.Type == gjson.Number {
		if name, ok := executionTypeNames[v.Int()]; ok {
			return name
		}
		return strconv.FormatInt(v.Int(), 10)
	}
	return v.String()
}

func isOrderType(v gjson.Result, code int64, name string) bool {
	if !v.Exists() {
		return false
	}
	if v.Type == gjson.Number {
		return v.Int() == code
	}
	return v.String() == name
}

func parseExecutionEvent(f Frame) ExecutionEvent {
	p := f.Payload
	ev := ExecutionEvent{
		PayloadType:   f.PayloadType,
		ClientMsgID:   f.ClientMsgID,
		ExecutionType: executionTypeName(p.Get("executionType")),
		Raw:           f.Raw,
	}

	ev.PositionID = firstString(p, "position.positionId", "order.positionId", "deal.positionId")
	ev.OrderID = firstString(p, "order.orderId", "deal.orderId")
	for _, path := range []string{
		"deal.executionTimestamp",
		"order.utcLastUpdateTimestamp",
		"position.utcLastUpdateTimestamp",
		"deal.createTimestamp",
	} {
		if ts, ok := optInt(p, path); ok && ts > 0 {
			ev.Timestamp = ts
			break
		}
	}

	if px, ok := optFloat(p, "deal.executionPrice"); ok {
		ev.ExitPrice = &px
	}
	ev.CloseReason = detectCloseReason(ev.ExecutionType, p, ev.ExitPrice)
	if ev.CloseReason == "" {
		ev.ExitPrice = nil
	}
	return ev
}

// detectCloseReason: закрывающий ордер типа STOP_LOSS_TAKE_PROFIT с limitPrice - тейк,
// со stopPrice - стоп. Иначе ближайший к цене сделки уровень позиции.
func detectCloseReason(executionType string, p gjson.Result, dealPrice *float64) models.ExitReason {
	if executionType != "ORDER_FILLED" && executionType != "ORDER_PARTIAL_FILL" {
		return ""
	}
	if !optBool(p, "order.closingOrder") {
		return ""
	}

	if isOrderType(p.Get("order.orderType"), orderTypeStopLossTakeProfit, "STOP_LOSS_TAKE_PROFIT") {
		if _, ok := optFloat(p, "order.limitPrice"); ok {
			return models.ExitTakeProfit
		}
		if _, ok := optFloat(p, "order.stopPrice"); ok {
			return models.ExitStopLoss
		}
	}

	if dealPrice == nil {
		return ""
	}
	tp, hasTP := optFloat(p, "position.takeProfit")
	sl, hasSL := optFloat(p, "position.stopLoss")
	switch {
	case hasTP && hasSL:
		if math.Abs(*dealPrice-tp) <= math.Abs(*dealPrice-sl) {
			return models.ExitTakeProfit
		}
		return models.ExitStopLoss
	case hasTP:
		return models.ExitTakeProfit
	case hasSL:
		return models.ExitStopLoss
	}
	return ""
}

func firstString(p gjson.Result, paths ...string) string {
	for _, path := range paths {
		if s := optString(p, path); s != "" {
			return s
		}
	}
	return ""
}
