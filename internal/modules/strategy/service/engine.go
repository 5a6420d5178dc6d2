package service

import (
	"math"

	"fractal_bot/internal/helper"
	"fractal_bot/internal/models"
)

// Settings - параметры движка; пороги в пипсах переводятся в цену через PipSize.
type Settings struct {
	Strategy  string
	Symbol    string
	Timeframe string

	PipSize        float64
	MinImpulsePips float64
	StopBufferPips float64
}

type EventKind string

const (
	EventCycleStart     EventKind = "cycle_start"
	EventCycleDiscarded EventKind = "cycle_discarded"
	EventPullbackStart  EventKind = "pullback_start"
	EventTargetFrozen   EventKind = "target_frozen"
	EventStructureFlip  EventKind = "structure_flip"
	EventTriggerSkipped EventKind = "trigger_skipped"
	EventSignal         EventKind = "signal"
	EventTradeOpen      EventKind = "trade_open"
	EventTradeClose     EventKind = "trade_close"
)

// Event - структурное событие автомата, для логов и разбора.
type Event struct {
	Kind   EventKind
	Index  int
	Bias   string
	Price  float64
	Detail string
}

type Result struct {
	Signals  []models.Signal
	Trades   []models.Trade
	Events   []Event
	Snapshot models.RuntimeSnapshot
}

// Engine - чистая функция над свечами: ни часов, ни I/O.
type Engine struct {
	cfg Settings
}

func NewEngine(cfg Settings) *Engine {
	return &Engine{cfg: cfg}
}

func (e *Engine) Settings() Settings { return e.cfg }

func (e *Engine) minImpulse() float64 {
	return helper.RoundPrice(e.cfg.MinImpulsePips*e.cfg.PipSize, helper.PricePrecision)
}

func (e *Engine) stopBuffer() float64 {
	return e.cfg.StopBufferPips * e.cfg.PipSize
}

// Run прогоняет свечи через автомат. С валидным снапшотом продолжает с курсора,
// иначе - полный прогон с начала. Результат обоих путей совпадает.
func (e *Engine) Run(candles []models.Candle, prev *models.RuntimeSnapshot) Result {
	if len(candles) < 3 {
		if prev != nil {
			return Result{Snapshot: cloneSnapshot(*prev)}
		}
		return Result{Snapshot: NewSnapshot(e.cfg.Strategy, e.cfg.Symbol, e.cfg.Timeframe)}
	}

	r := &run{
		e:        e,
		candles:  candles,
		fractals: newFractalIndex(DetectFractals(candles)),
		tradeAt:  make(map[string]int),
	}

	start := 0
	if prev != nil && e.resumable(*prev, candles) {
		r.st = cloneSnapshot(*prev)
		start = prev.LastIndex + 1
	} else {
		r.st = NewSnapshot(e.cfg.Strategy, e.cfg.Symbol, e.cfg.Timeframe)
	}

	for i := start; i < len(candles); i++ {
		before := cloneSnapshot(r.st)
		pending := r.step(i)
		if pending && i == len(candles)-1 {
			// сигнал ждёт следующую свечу: курсор остаётся перед ней,
			// следующий прогон переоценит её вместе с open следующей
			r.st = before
			break
		}
		r.st.LastIndex = i
		r.st.LastCandleAt = candles[i].Timestamp
	}

	return Result{
		Signals:  r.signals,
		Trades:   r.trades,
		Events:   r.events,
		Snapshot: r.st,
	}
}

func (e *Engine) resumable(s models.RuntimeSnapshot, candles []models.Candle) bool {
	if s.Strategy != e.cfg.Strategy || s.Symbol != e.cfg.Symbol || s.Timeframe != e.cfg.Timeframe {
		return false
	}
	if s.LastIndex < 0 || s.LastIndex >= len(candles) {
		return false
	}
	return candles[s.LastIndex].Timestamp.Equal(s.LastCandleAt)
}

type run struct {
	e        *Engine
	candles  []models.Candle
	fractals fractalIndex
	st       models.RuntimeSnapshot

	signals []models.Signal
	trades  []models.Trade
	tradeAt map[string]int
	events  []Event
}

func (r *run) emit(ev Event) {
	r.events = append(r.events, ev)
}

func (r *run) putTrade(t models.Trade) {
	if k, ok := r.tradeAt[t.Key]; ok {
		r.trades[k] = t
		return
	}
	r.tradeAt[t.Key] = len(r.trades)
	r.trades = append(r.trades, t)
}

// step обрабатывает свечу i. true - выпущен сигнал без следующей свечи.
func (r *run) step(i int) bool {
	switch r.st.State {
	case StateWaitSwingBOS:
		r.waitSwingBOS(i)
	case StateBearWaitPullbackStart, StateBullWaitPullbackStart:
		r.waitPullbackStart(i)
	case StateBearTrackPullback, StateBullTrackPullback:
		r.trackPullback(i)
	case StateBearWaitContinuation, StateBullWaitContinuation:
		return r.waitContinuation(i)
	case StateInTrade:
		r.inTrade(i)
	default:
		resetCycle(&r.st)
		r.waitSwingBOS(i)
	}
	return false
}

func (r *run) waitSwingBOS(i int) {
	c := r.candles[i]

	if low, ok := r.fractals.lastVisible(models.FractalLow, i, -1, i); ok &&
		low.PivotIndex != r.st.UsedLowPivot && c.Close < low.Price {
		r.st.UsedLowPivot = low.PivotIndex
		r.startCycle(BiasBear, low.Price, low.PivotIndex, i)
		return
	}
	if high, ok := r.fractals.lastVisible(models.FractalHigh, i, -1, i); ok &&
		high.PivotIndex != r.st.UsedHighPivot && c.Close > high.Price {
		r.st.UsedHighPivot = high.PivotIndex
		r.startCycle(BiasBull, high.Price, high.PivotIndex, i)
	}
}

// startCycle: каузальный экстремум - крайний high (bear) / low (bull) на [anchorIdx, i].
func (r *run) startCycle(bias string, anchor float64, anchorIdx, i int) {
	causal, causalIdx := r.extreme(bias == BiasBear, anchorIdx, i)
	impulse := helper.RoundPrice(math.Abs(causal-anchor), helper.PricePrecision)

	if impulse < r.e.minImpulse() {
		resetCycle(&r.st)
		r.emit(Event{Kind: EventCycleDiscarded, Index: i, Bias: bias, Price: impulse})
		return
	}

	resetCycle(&r.st)
	r.st.Bias = bias
	r.st.AnchorPrice = anchor
	r.st.AnchorIndex = anchorIdx
	r.st.CausalExtreme = causal
	r.st.CausalIndex = causalIdx
	r.st.BOSIndex = i
	r.st.Midpoint = helper.RoundPrice((anchor+causal)/2, helper.PricePrecision)
	if bias == BiasBear {
		r.st.State = StateBearWaitPullbackStart
	} else {
		r.st.State = StateBullWaitPullbackStart
	}
	r.emit(Event{Kind: EventCycleStart, Index: i, Bias: bias, Price: anchor})
}

// extreme - max high (highs=true) или min low на [from, to].
func (r *run) extreme(highs bool, from, to int) (float64, int) {
	if from < 0 {
		from = 0
	}
	best, idx := 0.0, -1
	for k := from; k <= to; k++ {
		c := r.candles[k]
		if highs {
			if idx < 0 || c.High > best {
				best, idx = c.High, k
			}
		} else if idx < 0 || c.Low < best {
			best, idx = c.Low, k
		}
	}
	return best, idx
}

func (r *run) waitPullbackStart(i int) {
	c := r.candles[i]
	bear := r.st.Bias == BiasBear

	// противоположный фрактал, появившийся не раньше BOS
	ft := models.FractalLow
	if bear {
		ft = models.FractalHigh
	}
	f, ok := r.fractals.lastVisible(ft, i, r.st.BOSIndex-1, i)
	if !ok {
		return
	}
	if (bear && c.Close > f.Price) || (!bear && c.Close < f.Price) {
		ext, _ := r.extreme(!bear, r.st.BOSIndex, i)
		r.st.PullbackStartIndex = i
		r.st.PullbackExtreme = ext
		if bear {
			r.st.State = StateBearTrackPullback
		} else {
			r.st.State = StateBullTrackPullback
		}
		r.emit(Event{Kind: EventPullbackStart, Index: i, Bias: r.st.Bias, Price: f.Price})
	}
}

func (r *run) trackPullback(i int) {
	c := r.candles[i]
	bear := r.st.Bias == BiasBear

	if bear && c.Low < r.st.PullbackExtreme {
		r.st.PullbackExtreme = c.Low
	}
	if !bear && c.High > r.st.PullbackExtreme {
		r.st.PullbackExtreme = c.High
	}

	if i <= r.st.PullbackStartIndex {
		return
	}
	if (bear && c.Close > r.st.Midpoint) || (!bear && c.Close < r.st.Midpoint) {
		r.st.PullbackTarget = r.st.PullbackExtreme
		r.st.TargetFrozen = true
		r.st.MidpointIndex = i
		if bear {
			r.st.State = StateBearWaitContinuation
		} else {
			r.st.State = StateBullWaitContinuation
		}
		r.emit(Event{Kind: EventTargetFrozen, Index: i, Bias: r.st.Bias, Price: r.st.PullbackTarget})
	}
}

func (r *run) waitContinuation(i int) bool {
	c := r.candles[i]
	bear := r.st.Bias == BiasBear

	// инвалидация: закрытие за каузальным экстремумом разворачивает структуру
	if (bear && c.Close > r.st.CausalExtreme) || (!bear && c.Close < r.st.CausalExtreme) {
		anchor, anchorIdx := r.st.CausalExtreme, r.st.CausalIndex
		next := BiasBull
		if !bear {
			next = BiasBear
		}
		r.emit(Event{Kind: EventStructureFlip, Index: i, Bias: next, Price: anchor})
		r.startCycle(next, anchor, anchorIdx, i)
		return false
	}

	if (bear && c.Close >= r.st.AnchorPrice) || (!bear && c.Close <= r.st.AnchorPrice) {
		return false
	}

	// причина: последний видимый противоположный фрактал между BOS и триггером
	ft := models.FractalLow
	if bear {
		ft = models.FractalHigh
	}
	cause, ok := r.fractals.lastVisible(ft, i, r.st.BOSIndex, i)
	if !ok || !r.st.TargetFrozen {
		r.emit(Event{Kind: EventTriggerSkipped, Index: i, Bias: r.st.Bias, Detail: "no cause fractal"})
		resetCycle(&r.st)
		return false
	}

	buf := r.e.stopBuffer()
	dir := models.DirectionLong
	sl := helper.RoundPrice(cause.Price-buf, helper.PricePrecision)
	if bear {
		dir = models.DirectionShort
		sl = helper.RoundPrice(cause.Price+buf, helper.PricePrecision)
	}
	tp := helper.RoundPrice(r.st.PullbackTarget, helper.PricePrecision)

	if (bear && !(sl > c.Close && tp < c.Close)) || (!bear && !(sl < c.Close && tp > c.Close)) {
		r.emit(Event{Kind: EventTriggerSkipped, Index: i, Bias: r.st.Bias, Detail: "invalid geometry"})
		resetCycle(&r.st)
		return false
	}

	cfg := r.e.cfg
	sig := models.Signal{
		Key:                models.SignalKey(cfg.Strategy, cfg.Symbol, cfg.Timeframe, dir, c.Timestamp),
		Strategy:           cfg.Strategy,
		Symbol:             cfg.Symbol,
		Timeframe:          cfg.Timeframe,
		Direction:          dir,
		TriggerTime:        c.Timestamp,
		TriggerIndex:       i,
		TriggerClose:       c.Close,
		StopLoss:           sl,
		TakeProfit:         tp,
		Status:             models.SignalPendingNextOpen,
		AnchorPrice:        r.st.AnchorPrice,
		CausalExtreme:      r.st.CausalExtreme,
		PullbackLevel:      r.st.PullbackTarget,
		CauseFractalPrice:  cause.Price,
		ImpulseSize:        helper.RoundPrice(math.Abs(r.st.CausalExtreme-r.st.AnchorPrice), helper.PricePrecision),
		BarsBOSToPullback:  r.st.PullbackStartIndex - r.st.BOSIndex,
		BarsPullbackToTrig: i - r.st.PullbackStartIndex,
	}

	if i+1 >= len(r.candles) {
		r.signals = append(r.signals, sig)
		r.emit(Event{Kind: EventSignal, Index: i, Bias: r.st.Bias, Price: c.Close, Detail: sig.Key})
		resetCycle(&r.st)
		return true
	}

	next := r.candles[i+1]
	entry, entryAt := next.Open, next.Timestamp
	sig.PlannedEntry = &entry
	sig.PlannedEntryTime = &entryAt
	sig.Status = models.SignalReady
	r.signals = append(r.signals, sig)
	r.emit(Event{Kind: EventSignal, Index: i, Bias: r.st.Bias, Price: c.Close, Detail: sig.Key})

	ts := &models.TradeState{
		Key:        sig.Key,
		SignalKey:  sig.Key,
		Direction:  dir,
		EntryPrice: entry,
		EntryTime:  entryAt,
		StopLoss:   sl,
		TakeProfit: tp,
	}
	resetCycle(&r.st)
	r.st.State = StateInTrade
	r.st.ActiveTradeKey = ts.Key
	r.st.ActiveTrade = ts
	r.putTrade(r.tradeFrom(ts))
	r.emit(Event{Kind: EventTradeOpen, Index: i + 1, Price: entry, Detail: ts.Key})
	return false
}

func (r *run) tradeFrom(ts *models.TradeState) models.Trade {
	cfg := r.e.cfg
	return models.Trade{
		Key:        ts.Key,
		SignalKey:  ts.SignalKey,
		Strategy:   cfg.Strategy,
		Symbol:     cfg.Symbol,
		Timeframe:  cfg.Timeframe,
		Direction:  ts.Direction,
		EntryPrice: ts.EntryPrice,
		EntryTime:  ts.EntryTime,
		StopLoss:   ts.StopLoss,
		TakeProfit: ts.TakeProfit,
		Status:     models.TradeOpen,
	}
}

// inTrade: уровни проверяются начиная со свечи входа. Если в одной свече задеты оба,
// считаем, что первым сработал стоп.
func (r *run) inTrade(i int) {
	ts := r.st.ActiveTrade
	if ts == nil {
		resetCycle(&r.st)
		return
	}
	c := r.candles[i]
	if c.Timestamp.Before(ts.EntryTime) {
		return
	}

	var hitSL, hitTP bool
	if ts.Direction == models.DirectionLong {
		hitSL = c.Low <= ts.StopLoss
		hitTP = c.High >= ts.TakeProfit
	} else {
		hitSL = c.High >= ts.StopLoss
		hitTP = c.Low <= ts.TakeProfit
	}
	if !hitSL && !hitTP {
		return
	}

	exit, reason := ts.TakeProfit, models.ExitTakeProfit
	if hitSL {
		exit, reason = ts.StopLoss, models.ExitStopLoss
	}

	t := r.tradeFrom(ts)
	exitAt := c.Timestamp
	t.ExitPrice = &exit
	t.ExitTime = &exitAt
	t.ExitReason = reason
	if rm, ok := models.RiskMultiple(ts.Direction, ts.EntryPrice, ts.StopLoss, exit); ok {
		t.RMultiple = &rm
	}
	t.Status = models.TradeClosed
	r.putTrade(t)
	r.emit(Event{Kind: EventTradeClose, Index: i, Price: exit, Detail: string(reason)})

	resetCycle(&r.st)
}
