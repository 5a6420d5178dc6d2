package models

import (
	"fmt"
	"time"
)

type Direction string

const (
	DirectionLong  Direction = "LONG"
	DirectionShort Direction = "SHORT"
)

type SignalStatus string

const (
	SignalPendingNextOpen SignalStatus = "pending_next_open"
	SignalReady           SignalStatus = "ready"
	SignalQueued          SignalStatus = "queued"
	SignalSubmitted       SignalStatus = "submitted"
	SignalAccepted        SignalStatus = "accepted"
	SignalFailed          SignalStatus = "failed"
)

// Signal - неизменяемая запись о найденной точке продолжения.
type Signal struct {
	Key       string    `json:"key"`
	Strategy  string    `json:"strategy"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Direction Direction `json:"direction"`

	TriggerTime  time.Time `json:"trigger_time"`
	TriggerIndex int       `json:"trigger_index"`
	TriggerClose float64   `json:"trigger_close"`

	StopLoss         float64      `json:"stop_loss"`
	TakeProfit       float64      `json:"take_profit"`
	PlannedEntry     *float64     `json:"planned_entry,omitempty"`
	PlannedEntryTime *time.Time   `json:"planned_entry_time,omitempty"`
	Status           SignalStatus `json:"status"`

	// структура цикла
	AnchorPrice        float64 `json:"anchor_price"`
	CausalExtreme      float64 `json:"causal_extreme"`
	PullbackLevel      float64 `json:"pullback_level"`
	CauseFractalPrice  float64 `json:"cause_fractal_price"`
	ImpulseSize        float64 `json:"impulse_size"`
	BarsBOSToPullback  int     `json:"bars_bos_to_pullback"`
	BarsPullbackToTrig int     `json:"bars_pullback_to_trigger"`

	CreatedAt time.Time `json:"created_at"`
}

// SignalKey детерминирован: повторный прогон даёт тот же ключ (idempotent upsert).
func SignalKey(strategy, symbol, timeframe string, dir Direction, trigger time.Time) string {
	return fmt.Sprintf("%s:%s:%s:%s:%d", strategy, symbol, timeframe, dir, trigger.Unix())
}
