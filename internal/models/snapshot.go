package models

import "time"

// RuntimeSnapshot - возобновляемое состояние автомата по (strategy, symbol, timeframe).
// Восстановление из снапшота + догон свечей эквивалентно прогону с начала.
type RuntimeSnapshot struct {
	Strategy  string `json:"strategy"`
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`

	State string `json:"state"`
	Bias  string `json:"bias"`

	// курсор: последняя обработанная свеча
	LastIndex    int       `json:"last_index"`
	LastCandleAt time.Time `json:"last_candle_at"`

	AnchorPrice   float64 `json:"anchor_price"`
	AnchorIndex   int     `json:"anchor_index"`
	CausalExtreme float64 `json:"causal_extreme"`
	CausalIndex   int     `json:"causal_index"`
	BOSIndex      int     `json:"bos_index"`
	Midpoint      float64 `json:"midpoint"`

	PullbackStartIndex int     `json:"pullback_start_index"`
	PullbackExtreme    float64 `json:"pullback_extreme"`
	PullbackTarget     float64 `json:"pullback_target"`
	TargetFrozen       bool    `json:"target_frozen"`
	MidpointIndex      int     `json:"midpoint_index"`

	UsedHighPivot int `json:"used_high_pivot"`
	UsedLowPivot  int `json:"used_low_pivot"`

	ActiveTradeKey string      `json:"active_trade_key,omitempty"`
	ActiveTrade    *TradeState `json:"active_trade,omitempty"`

	UpdatedAt time.Time `json:"updated_at"`
}

// TradeState - всё, что нужно движку, чтобы закрыть сделку в следующем прогоне.
type TradeState struct {
	Key        string    `json:"key"`
	SignalKey  string    `json:"signal_key"`
	Direction  Direction `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	EntryTime  time.Time `json:"entry_time"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
}
