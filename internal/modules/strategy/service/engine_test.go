package service

import (
	"math/rand"
	"strconv"
	"testing"
	"time"

	"fractal_bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

func testSettings() Settings {
	return Settings{
		Strategy:       "fractal_continuation",
		Symbol:         "EURUSD",
		Timeframe:      "5m",
		PipSize:        0.0001,
		MinImpulsePips: 20,
		StopBufferPips: 2,
	}
}

// bar: o, h, l, c
func bars(rows ...[4]float64) []models.Candle {
	out := make([]models.Candle, len(rows))
	for i, r := range rows {
		out[i] = models.Candle{
			Timestamp: t0.Add(time.Duration(i) * 5 * time.Minute),
			Open:      r[0],
			High:      r[1],
			Low:       r[2],
			Close:     r[3],
		}
	}
	return out
}

// bearScenario: пробой low-фрактала (1), импульс до 1.1060, откат за середину 1.1015,
// high-фрактал-причина 1.1030 (13), повторный пробой 1.0970 на свече 16, тейк на 17.
func bearScenario() []models.Candle {
	return bars(
		[4]float64{1.1000, 1.1010, 1.0990, 1.1000}, // 0
		[4]float64{1.1000, 1.1005, 1.0970, 1.0980}, // 1 low fractal
		[4]float64{1.0980, 1.1020, 1.0985, 1.1015}, // 2
		[4]float64{1.1015, 1.1050, 1.1010, 1.1045}, // 3
		[4]float64{1.1045, 1.1060, 1.1030, 1.1040}, // 4 high fractal
		[4]float64{1.1040, 1.1045, 1.1000, 1.1005}, // 5
		[4]float64{1.1005, 1.1010, 1.0950, 1.0960}, // 6 BOS
		[4]float64{1.0960, 1.0965, 1.0930, 1.0940}, // 7
		[4]float64{1.0940, 1.0975, 1.0935, 1.0960}, // 8 high fractal
		[4]float64{1.0960, 1.0955, 1.0920, 1.0925}, // 9
		[4]float64{1.0925, 1.0950, 1.0905, 1.0945}, // 10 low fractal
		[4]float64{1.0945, 1.0985, 1.0940, 1.0980}, // 11 pullback start
		[4]float64{1.0980, 1.1025, 1.0975, 1.1020}, // 12 midpoint crossed
		[4]float64{1.1020, 1.1030, 1.1000, 1.1010}, // 13 cause high fractal
		[4]float64{1.1010, 1.1015, 1.0985, 1.0990}, // 14
		[4]float64{1.0990, 1.0995, 1.0960, 1.0970}, // 15
		[4]float64{1.0970, 1.0975, 1.0940, 1.0950}, // 16 trigger
		[4]float64{1.0948, 1.0955, 1.0900, 1.0910}, // 17 entry, take profit
	)
}

func eventsOf(res Result, kind EventKind) []Event {
	var out []Event
	for _, ev := range res.Events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestDetectFractals(t *testing.T) {
	fs := DetectFractals(bearScenario())

	var highs, lows []int
	for _, f := range fs {
		assert.Equal(t, f.PivotIndex+1, f.ConfirmedAtIndex)
		if f.Type == models.FractalHigh {
			highs = append(highs, f.PivotIndex)
		} else {
			lows = append(lows, f.PivotIndex)
		}
	}
	assert.Equal(t, []int{4, 8, 13}, highs)
	assert.Equal(t, []int{1, 7, 10}, lows)
}

func TestDetectFractals_StrictAndNoLookAhead(t *testing.T) {
	// равные хаи не дают фрактал; последняя свеча пивотом быть не может
	cs := bars(
		[4]float64{1, 1.2, 0.9, 1},
		[4]float64{1, 1.2, 0.8, 1},
		[4]float64{1, 1.1, 0.85, 1},
		[4]float64{1, 1.3, 0.7, 1},
	)
	fs := DetectFractals(cs)
	require.Len(t, fs, 1)
	assert.Equal(t, models.FractalLow, fs[0].Type)
	assert.Equal(t, 1, fs[0].PivotIndex)
	assert.False(t, fs[0].VisibleAt(2))
	assert.True(t, fs[0].VisibleAt(3))
}

func TestRun_BearScenarioShortSignal(t *testing.T) {
	res := NewEngine(testSettings()).Run(bearScenario(), nil)

	require.Len(t, res.Signals, 1)
	sig := res.Signals[0]
	assert.Equal(t, models.DirectionShort, sig.Direction)
	assert.Equal(t, 16, sig.TriggerIndex)
	assert.Equal(t, 1.1032, sig.StopLoss)
	assert.Equal(t, 1.0905, sig.TakeProfit)
	assert.Equal(t, 1.1030, sig.CauseFractalPrice)
	assert.Equal(t, 1.0970, sig.AnchorPrice)
	assert.Equal(t, 1.1060, sig.CausalExtreme)
	assert.Equal(t, 0.009, sig.ImpulseSize)
	assert.Equal(t, 5, sig.BarsBOSToPullback)
	assert.Equal(t, 5, sig.BarsPullbackToTrig)
	assert.Equal(t, models.SignalReady, sig.Status)
	require.NotNil(t, sig.PlannedEntry)
	assert.Equal(t, 1.0948, *sig.PlannedEntry)
	assert.Equal(t, t0.Add(17*5*time.Minute), *sig.PlannedEntryTime)
	assert.Equal(t, "fractal_continuation:EURUSD:5m:SHORT:"+strconv.FormatInt(t0.Add(16*5*time.Minute).Unix(), 10), sig.Key)

	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, sig.Key, tr.Key)
	assert.Equal(t, models.TradeClosed, tr.Status)
	assert.Equal(t, models.ExitTakeProfit, tr.ExitReason)
	require.NotNil(t, tr.ExitPrice)
	assert.Equal(t, 1.0905, *tr.ExitPrice)
	require.NotNil(t, tr.RMultiple)
	assert.InDelta(t, 0.0043/0.0084, *tr.RMultiple, 1e-6)

	assert.Len(t, eventsOf(res, EventCycleStart), 1)
	assert.Len(t, eventsOf(res, EventPullbackStart), 1)
	assert.Len(t, eventsOf(res, EventTargetFrozen), 1)
	assert.Empty(t, eventsOf(res, EventStructureFlip))

	assert.Equal(t, StateWaitSwingBOS, res.Snapshot.State)
	assert.Equal(t, 17, res.Snapshot.LastIndex)
	assert.Equal(t, 1, res.Snapshot.UsedLowPivot)
}

func TestRun_PendingSignalRollsBackCursor(t *testing.T) {
	cs := bearScenario()[:17]
	res := NewEngine(testSettings()).Run(cs, nil)

	require.Len(t, res.Signals, 1)
	assert.Equal(t, models.SignalPendingNextOpen, res.Signals[0].Status)
	assert.Nil(t, res.Signals[0].PlannedEntry)
	assert.Empty(t, res.Trades)

	// снапшот - состояние перед свечой-триггером
	assert.Equal(t, 15, res.Snapshot.LastIndex)
	assert.Equal(t, StateBearWaitContinuation, res.Snapshot.State)
	assert.True(t, res.Snapshot.TargetFrozen)

	next := NewEngine(testSettings()).Run(bearScenario(), &res.Snapshot)
	require.Len(t, next.Signals, 1)
	assert.Equal(t, res.Signals[0].Key, next.Signals[0].Key)
	assert.Equal(t, models.SignalReady, next.Signals[0].Status)
	require.Len(t, next.Trades, 1)
	assert.Equal(t, models.TradeClosed, next.Trades[0].Status)
}

func TestRun_TooFewCandles(t *testing.T) {
	e := NewEngine(testSettings())
	res := e.Run(bearScenario()[:2], nil)
	assert.Empty(t, res.Signals)
	assert.Empty(t, res.Trades)
	assert.Equal(t, -1, res.Snapshot.LastIndex)

	prev := NewSnapshot("fractal_continuation", "EURUSD", "5m")
	prev.LastIndex = 7
	res = e.Run(nil, &prev)
	assert.Equal(t, 7, res.Snapshot.LastIndex)
}

func TestRun_ImpulseBelowMinimumDiscarded(t *testing.T) {
	// якорь 1.0990 (low-фрактал 1), BOS на свече 4; каузальный хай меняем вокруг порога
	for _, tc := range []struct {
		high    float64
		discard bool
	}{
		{1.1001, true},
		{1.1005, true},
		{1.1009, true},
		{1.1010, false},
		{1.1015, false},
	} {
		cs := bars(
			[4]float64{1.1000, 1.1000, 1.0995, 1.0998},
			[4]float64{1.0998, 1.0999, 1.0990, 1.0995},
			[4]float64{1.0995, 1.1000, 1.0996, 1.0999},
			[4]float64{1.0999, tc.high, 1.0997, 1.0999},
			[4]float64{1.0999, 1.0999, 1.0985, 1.0986},
		)
		res := NewEngine(testSettings()).Run(cs, nil)

		assert.Empty(t, res.Signals)
		if tc.discard {
			assert.Len(t, eventsOf(res, EventCycleDiscarded), 1, "high=%v", tc.high)
			assert.Equal(t, StateWaitSwingBOS, res.Snapshot.State, "high=%v", tc.high)
		} else {
			assert.Empty(t, eventsOf(res, EventCycleDiscarded), "high=%v", tc.high)
			assert.Equal(t, StateBearWaitPullbackStart, res.Snapshot.State, "high=%v", tc.high)
		}
		// пивот израсходован в любом случае
		assert.Equal(t, 1, res.Snapshot.UsedLowPivot)
	}
}

func TestRun_StructureFlip(t *testing.T) {
	cs := append([]models.Candle{}, bearScenario()[:13]...)
	cs = append(cs, models.Candle{
		Timestamp: t0.Add(13 * 5 * time.Minute),
		Open:      1.1020, High: 1.1075, Low: 1.1015, Close: 1.1070,
	})

	res := NewEngine(testSettings()).Run(cs, nil)
	flips := eventsOf(res, EventStructureFlip)
	require.Len(t, flips, 1)
	assert.Equal(t, BiasBull, flips[0].Bias)

	snap := res.Snapshot
	assert.Equal(t, StateBullWaitPullbackStart, snap.State)
	assert.Equal(t, 1.1060, snap.AnchorPrice)
	assert.Equal(t, 4, snap.AnchorIndex)
	assert.Equal(t, 1.0905, snap.CausalExtreme)
	assert.Equal(t, 10, snap.CausalIndex)
	assert.Equal(t, 13, snap.BOSIndex)
	assert.Empty(t, res.Signals)
}

func inTradeSnapshot(cs []models.Candle, dir models.Direction, entry, sl, tp float64) models.RuntimeSnapshot {
	s := NewSnapshot("fractal_continuation", "EURUSD", "5m")
	s.State = StateInTrade
	s.LastIndex = 2
	s.LastCandleAt = cs[2].Timestamp
	s.ActiveTradeKey = "k"
	s.ActiveTrade = &models.TradeState{
		Key: "k", SignalKey: "k", Direction: dir,
		EntryPrice: entry, EntryTime: cs[2].Timestamp, StopLoss: sl, TakeProfit: tp,
	}
	return s
}

func TestRun_TieBreakStopLossFirst(t *testing.T) {
	cs := bars(
		[4]float64{1.1000, 1.1005, 1.0995, 1.1000},
		[4]float64{1.1000, 1.1005, 1.0995, 1.1000},
		[4]float64{1.1000, 1.1005, 1.0995, 1.1000},
		[4]float64{1.1000, 1.1060, 1.0940, 1.1000}, // задеты оба уровня
	)
	snap := inTradeSnapshot(cs, models.DirectionLong, 1.1000, 1.0950, 1.1050)

	res := NewEngine(testSettings()).Run(cs, &snap)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, models.ExitStopLoss, tr.ExitReason)
	assert.Equal(t, 1.0950, *tr.ExitPrice)
	assert.InDelta(t, -1.0, *tr.RMultiple, 1e-9)
	assert.Equal(t, StateWaitSwingBOS, res.Snapshot.State)
	assert.Nil(t, res.Snapshot.ActiveTrade)
}

func TestRun_ShortTakeProfit(t *testing.T) {
	cs := bars(
		[4]float64{1.1000, 1.1005, 1.0995, 1.1000},
		[4]float64{1.1000, 1.1005, 1.0995, 1.1000},
		[4]float64{1.1000, 1.1005, 1.0995, 1.1000},
		[4]float64{1.1000, 1.1010, 1.0940, 1.0950},
	)
	snap := inTradeSnapshot(cs, models.DirectionShort, 1.1000, 1.1020, 1.0950)

	res := NewEngine(testSettings()).Run(cs, &snap)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, models.ExitTakeProfit, res.Trades[0].ExitReason)
	assert.InDelta(t, 2.5, *res.Trades[0].RMultiple, 1e-9)
}

func TestRun_CursorMismatchReplaysFromStart(t *testing.T) {
	cs := bearScenario()
	full := NewEngine(testSettings()).Run(cs, nil)

	stale := NewSnapshot("fractal_continuation", "EURUSD", "5m")
	stale.LastIndex = 10
	stale.LastCandleAt = t0.Add(-time.Hour)
	stale.State = StateInTrade

	res := NewEngine(testSettings()).Run(cs, &stale)
	assert.Equal(t, full.Signals, res.Signals)
	assert.Equal(t, full.Trades, res.Trades)
	assert.Equal(t, full.Snapshot, res.Snapshot)
}

type merged struct {
	signals map[string]models.Signal
	trades  map[string]models.Trade
}

func (m *merged) add(res Result) {
	for _, s := range res.Signals {
		m.signals[s.Key] = s
	}
	for _, tr := range res.Trades {
		m.trades[tr.Key] = tr
	}
}

func mergeOf(rs ...Result) merged {
	m := merged{signals: map[string]models.Signal{}, trades: map[string]models.Trade{}}
	for _, r := range rs {
		m.add(r)
	}
	return m
}

// assertResumeEquivalent возвращает число сигналов полного прогона.
func assertResumeEquivalent(t *testing.T, cs []models.Candle) int {
	t.Helper()
	e := NewEngine(testSettings())
	full := e.Run(cs, nil)
	want := mergeOf(full)

	for k := 3; k <= len(cs); k++ {
		head := e.Run(cs[:k], nil)
		tail := e.Run(cs, &head.Snapshot)
		got := mergeOf(head, tail)

		require.Equal(t, want.signals, got.signals, "split at %d", k)
		require.Equal(t, want.trades, got.trades, "split at %d", k)
		require.Equal(t, full.Snapshot, tail.Snapshot, "split at %d", k)
	}
	return len(full.Signals)
}

func TestRun_ResumeEquivalence_Scenario(t *testing.T) {
	require.Equal(t, 1, assertResumeEquivalent(t, bearScenario()))
}

// randomWalk - цены в целых пунктах, чтобы сравнения были точными.
// Шаг до 15 пипсов за свечу, чтобы импульс в 20 пипсов набирался регулярно.
func randomWalk(seed int64, n int) []models.Candle {
	rnd := rand.New(rand.NewSource(seed))
	px := 110000
	out := make([]models.Candle, n)
	for i := range out {
		open := px
		closep := open + rnd.Intn(301) - 150
		high := max(open, closep) + rnd.Intn(61)
		low := min(open, closep) - rnd.Intn(61)
		out[i] = models.Candle{
			Timestamp: t0.Add(time.Duration(i) * 5 * time.Minute),
			Open:      float64(open) / 100000,
			High:      float64(high) / 100000,
			Low:       float64(low) / 100000,
			Close:     float64(closep) / 100000,
		}
		px = closep
	}
	return out
}

func TestRun_ResumeEquivalence_RandomWalks(t *testing.T) {
	signals := 0
	for seed := int64(1); seed <= 30; seed++ {
		signals += assertResumeEquivalent(t, randomWalk(seed, 300))
	}
	assert.Positive(t, signals)
}

func TestRun_SignalsAlwaysHaveCauseAndTarget(t *testing.T) {
	total := 0
	for seed := int64(1); seed <= 60; seed++ {
		cs := randomWalk(seed, 300)
		fs := DetectFractals(cs)
		res := NewEngine(testSettings()).Run(cs, nil)
		total += len(res.Signals)

		for _, sig := range res.Signals {
			want := models.FractalHigh
			if sig.Direction == models.DirectionLong {
				want = models.FractalLow
			}
			found := false
			for _, f := range fs {
				if f.Type == want && f.Price == sig.CauseFractalPrice && f.ConfirmedAtIndex < sig.TriggerIndex {
					found = true
					break
				}
			}
			assert.True(t, found, "signal %s without cause fractal", sig.Key)
			assert.Equal(t, sig.PullbackLevel, sig.TakeProfit, "signal %s", sig.Key)

			if sig.Direction == models.DirectionShort {
				assert.Greater(t, sig.StopLoss, sig.TriggerClose)
				assert.Less(t, sig.TakeProfit, sig.TriggerClose)
			} else {
				assert.Less(t, sig.StopLoss, sig.TriggerClose)
				assert.Greater(t, sig.TakeProfit, sig.TriggerClose)
			}
		}
	}
	assert.Positive(t, total)
}
