package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"fractal_bot/internal/helper"
	"fractal_bot/internal/models"
)

// коды ProtoOATrendbarPeriod
var trendbarPeriods = map[string]int{
	"1m":  1,
	"5m":  5,
	"15m": 7,
	"1h":  9,
}

// Trendbars - исторические свечи [from, to) по возрастанию времени.
// Цены приходят в 1/100000: low + дельты для open/close/high.
func (c *Client) Trendbars(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]models.Candle, error) {
	period, ok := trendbarPeriods[helper.NormTF(timeframe)]
	if !ok {
		return nil, fmt.Errorf("ctrader: unsupported timeframe %q", timeframe)
	}

	s, err := c.readySession(ctx)
	if err != nil {
		return nil, err
	}
	symbolID, err := c.SymbolID(ctx, symbol)
	if err != nil {
		return nil, err
	}

	f, err := c.roundTrip(ctx, s, PayloadTrendbarsReq, map[string]any{
		"ctidTraderAccountId": c.cfg.AccountID,
		"symbolId":            symbolID,
		"period":              period,
		"fromTimestamp":       from.UnixMilli(),
		"toTimestamp":         to.UnixMilli(),
	}, PayloadTrendbarsRes, c.cfg.RequestTimeout)
	if err != nil {
		return nil, err
	}

	bars := f.Payload.Get("trendbar").Array()
	out := make([]models.Candle, 0, len(bars))
	for _, b := range bars {
		low, okLow := optInt(b, "low")
		minutes, okTs := optInt(b, "utcTimestampInMinutes")
		if !okLow || !okTs {
			continue
		}
		dOpen, _ := optInt(b, "deltaOpen")
		dClose, _ := optInt(b, "deltaClose")
		dHigh, _ := optInt(b, "deltaHigh")

		candle := models.Candle{
			Timestamp: time.Unix(minutes*60, 0).UTC(),
			Open:      helper.RoundPrice(float64(low+dOpen)/priceScale, helper.PricePrecision),
			High:      helper.RoundPrice(float64(low+dHigh)/priceScale, helper.PricePrecision),
			Low:       helper.RoundPrice(float64(low)/priceScale, helper.PricePrecision),
			Close:     helper.RoundPrice(float64(low+dClose)/priceScale, helper.PricePrecision),
		}
		if v, ok := optFloat(b, "volume"); ok {
			candle.Volume = &v
		}
		out = append(out, candle)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
