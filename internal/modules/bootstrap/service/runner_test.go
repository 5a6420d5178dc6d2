package service

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"fractal_bot/internal/models"
	health "fractal_bot/internal/modules/health/service"
	strategy "fractal_bot/internal/modules/strategy/service"
	"fractal_bot/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMain(m *testing.M) {
	logger.InitNop()
	os.Exit(m.Run())
}

var t0 = time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)

type window struct{ from, to time.Time }

// fakeVenue отдаёт 5m-свечи с открытием в [from, to], как площадка: последняя может быть ещё не закрыта.
type fakeVenue struct {
	calls []window
	err   error
}

func (f *fakeVenue) Trendbars(_ context.Context, _, _ string, from, to time.Time) ([]models.Candle, error) {
	f.calls = append(f.calls, window{from, to})
	if f.err != nil {
		return nil, f.err
	}
	var out []models.Candle
	for ts := from; !ts.After(to); ts = ts.Add(5 * time.Minute) {
		out = append(out, models.Candle{Timestamp: ts, Open: 1.1, High: 1.101, Low: 1.099, Close: 1.1005})
	}
	return out, nil
}

type memCandles struct {
	byTime map[time.Time]models.Candle
	last   *time.Time
}

func (m *memCandles) LastCandleTime(context.Context, string, string) (*time.Time, error) {
	return m.last, nil
}

func (m *memCandles) UpsertCandles(_ context.Context, _, _ string, cs []models.Candle) (int, error) {
	if m.byTime == nil {
		m.byTime = map[time.Time]models.Candle{}
	}
	n := 0
	for _, c := range cs {
		if _, ok := m.byTime[c.Timestamp]; ok {
			continue
		}
		m.byTime[c.Timestamp] = c
		n++
		if m.last == nil || c.Timestamp.After(*m.last) {
			ts := c.Timestamp
			m.last = &ts
		}
	}
	return n, nil
}

type fakeStrategy struct {
	runs int
	err  error
}

func (f *fakeStrategy) RunOnce(context.Context) (strategy.RunReport, error) {
	f.runs++
	return strategy.RunReport{Candles: 12, State: "WAIT_SWING_BOS", LastIndex: 11}, f.err
}

func newTestRunner(src TrendbarSource, store CandleStore, strat Strategy, st StateSink, now *time.Time) *Runner {
	r := NewRunner(Config{Symbol: "EURUSD", Timeframe: "5m", Bars: 12, Interval: time.Minute}, src, store, strat, st)
	r.now = func() time.Time { return *now }
	return r
}

func TestIngest_InitialLoadDropsOpenBar(t *testing.T) {
	venue, store := &fakeVenue{}, &memCandles{}
	now := t0.Add(2 * time.Minute) // свеча 10:00 ещё не закрыта
	r := newTestRunner(venue, store, &fakeStrategy{}, health.NewState(), &now)

	n, err := r.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 12, n)
	_, open := store.byTime[t0]
	assert.False(t, open)
	assert.Equal(t, t0.Add(-5*time.Minute), *store.last)
	require.Len(t, venue.calls, 1)
	assert.Equal(t, t0.Add(-60*time.Minute), venue.calls[0].from)
}

func TestIngest_ResumesAfterLastCandle(t *testing.T) {
	venue := &fakeVenue{}
	last := t0.Add(-10 * time.Minute)
	store := &memCandles{last: &last}
	now := t0.Add(5 * time.Minute)
	r := newTestRunner(venue, store, &fakeStrategy{}, health.NewState(), &now)

	n, err := r.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n) // 09:55 и 10:00
	assert.Equal(t, t0.Add(-5*time.Minute), venue.calls[0].from)

	// повтор без новых закрытых свечей ничего не запрашивает
	venue.calls = nil
	n, err = r.Ingest(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, venue.calls)
}

func TestIngest_ChunksLongGap(t *testing.T) {
	venue := &fakeVenue{}
	last := t0.Add(-5 * time.Hour)
	store := &memCandles{last: &last}
	now := t0
	r := newTestRunner(venue, store, &fakeStrategy{}, health.NewState(), &now)

	n, err := r.Ingest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 59, n)
	assert.Len(t, venue.calls, 5)
	for _, w := range venue.calls {
		assert.LessOrEqual(t, w.to.Sub(w.from), time.Hour)
	}
}

func TestStep_UpdatesState(t *testing.T) {
	st := health.NewState()
	strat := &fakeStrategy{}
	now := t0
	r := newTestRunner(&fakeVenue{}, &memCandles{}, strat, st, &now)

	require.NoError(t, r.Step(context.Background()))
	assert.Equal(t, 1, strat.runs)
	assert.True(t, st.Ready())
	snap := st.Snapshot()
	assert.Equal(t, "WAIT_SWING_BOS", snap.LastRun.State)
	assert.Equal(t, t0.Unix(), snap.LastRunUnix)
}

func TestStep_IngestErrorSkipsStrategy(t *testing.T) {
	st := health.NewState()
	strat := &fakeStrategy{}
	now := t0
	r := newTestRunner(&fakeVenue{err: errors.New("timeout")}, &memCandles{}, strat, st, &now)

	err := r.Step(context.Background())
	require.Error(t, err)
	assert.Zero(t, strat.runs)
	assert.False(t, st.Ready())
	assert.Contains(t, st.Snapshot().LastError, "timeout")
}

func TestIngest_UnknownTimeframe(t *testing.T) {
	now := t0
	r := NewRunner(Config{Symbol: "EURUSD", Timeframe: "4h"}, &fakeVenue{}, &memCandles{}, &fakeStrategy{}, health.NewState())
	r.now = func() time.Time { return now }
	_, err := r.Ingest(context.Background())
	assert.Error(t, err)
}
