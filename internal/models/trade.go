package models

import "time"

type TradeStatus string

const (
	TradeOpen   TradeStatus = "OPEN"
	TradeClosed TradeStatus = "CLOSED"
)

type ExitReason string

const (
	ExitTakeProfit ExitReason = "take_profit"
	ExitStopLoss   ExitReason = "stop_loss"
)

// Trade - 1:1 из Signal, как только известна следующая свеча.
// OPEN -> CLOSED, обратно не бывает.
type Trade struct {
	Key       string    `json:"key"`
	SignalKey string    `json:"signal_key"`
	Strategy  string    `json:"strategy"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Direction Direction `json:"direction"`

	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`

	ExitPrice  *float64   `json:"exit_price,omitempty"`
	ExitTime   *time.Time `json:"exit_time,omitempty"`
	ExitReason ExitReason `json:"exit_reason,omitempty"`
	RMultiple  *float64   `json:"r_multiple,omitempty"`

	Status TradeStatus `json:"status"`
}

// RiskMultiple - reward/risk, где риск = entry-stop (long) или stop-entry (short).
// Возвращает false при нулевом/отрицательном риске.
func RiskMultiple(dir Direction, entry, stop, exit float64) (float64, bool) {
	var risk, reward float64
	if dir == DirectionLong {
		risk = entry - stop
		reward = exit - entry
	} else {
		risk = stop - entry
		reward = entry - exit
	}
	if risk <= 0 {
		return 0, false
	}
	return reward / risk, true
}
