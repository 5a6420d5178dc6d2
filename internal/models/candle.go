package models

import "time"

// Candle - закрытая OHLC-свеча. Неизменна после сохранения,
// уникальна по (symbol, timeframe, timestamp).
type Candle struct {
	Timestamp time.Time `json:"ts"`
	Open      float64   `json:"o"`
	High      float64   `json:"h"`
	Low       float64   `json:"l"`
	Close     float64   `json:"c"`
	Volume    *float64  `json:"v,omitempty"`
}

type FractalType string

const (
	FractalHigh FractalType = "high"
	FractalLow  FractalType = "low"
)

// Fractal - подтверждённый локальный пивот из трёх свечей.
type Fractal struct {
	Type             FractalType `json:"type"`
	PivotIndex       int         `json:"pivot_index"`
	Price            float64     `json:"price"`
	ConfirmedAtIndex int         `json:"confirmed_at_index"`
}

// VisibleAt - фрактал виден движку только на свече после подтверждения.
func (f Fractal) VisibleAt(i int) bool {
	return f.ConfirmedAtIndex < i
}
