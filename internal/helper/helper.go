package helper

import (
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// PricePrecision - количество знаков для цен FX-пар (5 знаков, pip = 0.0001).
const PricePrecision = 5

func NormTF(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))
	s = strings.TrimPrefix(s, "candle")
	switch s {
	case "60m", "1h", "h1":
		return "1h"
	case "15m", "m15":
		return "15m"
	case "5m", "m5":
		return "5m"
	case "1m", "m1":
		return "1m"
	default:
		return s
	}
}

// TFDuration - длительность свечи для нормализованного таймфрейма, 0 если неизвестен.
func TFDuration(tf string) time.Duration {
	switch NormTF(tf) {
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "15m":
		return 15 * time.Minute
	case "1h":
		return time.Hour
	default:
		return 0
	}
}

// RoundPrice округляет цену до фиксированной точности через decimal,
// чтобы 1.0970+0.0002 не превращалось в 1.0971999999.
func RoundPrice(px float64, places int32) float64 {
	f, _ := decimal.NewFromFloat(px).Round(places).Float64()
	return f
}

func RoundDownToStep(v, step float64) float64 {
	if step <= 0 {
		return v
	}
	steps := math.Floor(v/step + 1e-9)
	return steps * step
}
