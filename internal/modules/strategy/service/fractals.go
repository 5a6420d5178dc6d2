package service

import "fractal_bot/internal/models"

// DetectFractals - строгие 3-свечные пивоты. Пивот подтверждается следующей свечой,
// поэтому на последней свече фрактала быть не может.
func DetectFractals(candles []models.Candle) []models.Fractal {
	var out []models.Fractal
	for p := 1; p+1 < len(candles); p++ {
		prev, cur, next := candles[p-1], candles[p], candles[p+1]
		if cur.High > prev.High && cur.High > next.High {
			out = append(out, models.Fractal{
				Type:             models.FractalHigh,
				PivotIndex:       p,
				Price:            cur.High,
				ConfirmedAtIndex: p + 1,
			})
		}
		if cur.Low < prev.Low && cur.Low < next.Low {
			out = append(out, models.Fractal{
				Type:             models.FractalLow,
				PivotIndex:       p,
				Price:            cur.Low,
				ConfirmedAtIndex: p + 1,
			})
		}
	}
	return out
}

// fractalIndex - фракталы по типам в порядке пивотов.
type fractalIndex struct {
	highs []models.Fractal
	lows  []models.Fractal
}

func newFractalIndex(fs []models.Fractal) fractalIndex {
	var idx fractalIndex
	for _, f := range fs {
		if f.Type == models.FractalHigh {
			idx.highs = append(idx.highs, f)
		} else {
			idx.lows = append(idx.lows, f)
		}
	}
	return idx
}

func (x fractalIndex) of(t models.FractalType) []models.Fractal {
	if t == models.FractalHigh {
		return x.highs
	}
	return x.lows
}

// lastVisible - самый поздний видимый на свече i фрактал с пивотом в (after, before).
func (x fractalIndex) lastVisible(t models.FractalType, i, after, before int) (models.Fractal, bool) {
	fs := x.of(t)
	for k := len(fs) - 1; k >= 0; k-- {
		f := fs[k]
		if !f.VisibleAt(i) {
			continue
		}
		if f.PivotIndex <= after || f.PivotIndex >= before {
			continue
		}
		return f, true
	}
	return models.Fractal{}, false
}
