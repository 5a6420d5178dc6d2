package service

import "fractal_bot/internal/models"

const (
	StateWaitSwingBOS = "WAIT_SWING_BOS"

	StateBearWaitPullbackStart = "BEAR_WAIT_PULLBACK_START"
	StateBearTrackPullback     = "BEAR_TRACK_PULLBACK"
	StateBearWaitContinuation  = "BEAR_WAIT_CONTINUATION_TRIGGER"

	StateBullWaitPullbackStart = "BULL_WAIT_PULLBACK_START"
	StateBullTrackPullback     = "BULL_TRACK_PULLBACK"
	StateBullWaitContinuation  = "BULL_WAIT_CONTINUATION_TRIGGER"

	StateInTrade = "IN_TRADE"
)

const (
	BiasNone = ""
	BiasBear = "bear"
	BiasBull = "bull"
)

// NewSnapshot - состояние до первой свечи.
func NewSnapshot(strategy, symbol, timeframe string) models.RuntimeSnapshot {
	s := models.RuntimeSnapshot{
		Strategy:      strategy,
		Symbol:        symbol,
		Timeframe:     timeframe,
		LastIndex:     -1,
		UsedHighPivot: -1,
		UsedLowPivot:  -1,
	}
	resetCycle(&s)
	return s
}

// resetCycle сбрасывает все скаляры цикла; курсор и использованные пивоты остаются.
func resetCycle(s *models.RuntimeSnapshot) {
	s.State = StateWaitSwingBOS
	s.Bias = BiasNone
	s.AnchorPrice = 0
	s.AnchorIndex = -1
	s.CausalExtreme = 0
	s.CausalIndex = -1
	s.BOSIndex = -1
	s.Midpoint = 0
	s.PullbackStartIndex = -1
	s.PullbackExtreme = 0
	s.PullbackTarget = 0
	s.TargetFrozen = false
	s.MidpointIndex = -1
	s.ActiveTradeKey = ""
	s.ActiveTrade = nil
}

func cloneSnapshot(s models.RuntimeSnapshot) models.RuntimeSnapshot {
	out := s
	if s.ActiveTrade != nil {
		t := *s.ActiveTrade
		out.ActiveTrade = &t
	}
	return out
}
