package repo

import (
	"context"

	"fractal_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
)

type signalMetrics struct {
	AnchorPrice        float64 `json:"anchor_price"`
	CausalExtreme      float64 `json:"causal_extreme"`
	PullbackLevel      float64 `json:"pullback_level"`
	CauseFractalPrice  float64 `json:"cause_fractal_price"`
	ImpulseSize        float64 `json:"impulse_size"`
	BarsBOSToPullback  int     `json:"bars_bos_to_pullback"`
	BarsPullbackToTrig int     `json:"bars_pullback_to_trigger"`
}

// порядок статусов сигнала; статус двигается только вперёд
const signalStatusRank = `ARRAY['pending_next_open','ready','queued','failed','submitted','accepted']`

// UpsertSignal - идемпотентно по ключу. Уже известный planned entry не затирается,
// pending_next_open может стать ready, но не наоборот. inserted=true для новой записи.
func (r *Repository) UpsertSignal(ctx context.Context, s models.Signal) (inserted bool, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "pg.UpsertSignal")
		}
	}()

	metrics, err := sonic.Marshal(signalMetrics{
		AnchorPrice:        s.AnchorPrice,
		CausalExtreme:      s.CausalExtreme,
		PullbackLevel:      s.PullbackLevel,
		CauseFractalPrice:  s.CauseFractalPrice,
		ImpulseSize:        s.ImpulseSize,
		BarsBOSToPullback:  s.BarsBOSToPullback,
		BarsPullbackToTrig: s.BarsPullbackToTrig,
	})
	if err != nil {
		return false, err
	}

	err = r.db.Conn().QueryRow(ctx, `
		INSERT INTO signals (key, strategy, symbol, timeframe, direction, trigger_time, trigger_index,
		                     trigger_close, stop_loss, take_profit, planned_entry, planned_entry_time,
		                     status, metrics)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (key) DO UPDATE SET
			planned_entry      = COALESCE(signals.planned_entry, EXCLUDED.planned_entry),
			planned_entry_time = COALESCE(signals.planned_entry_time, EXCLUDED.planned_entry_time),
			status = CASE
				WHEN array_position(`+signalStatusRank+`, signals.status)
				   < array_position(`+signalStatusRank+`, EXCLUDED.status)
				THEN EXCLUDED.status ELSE signals.status END,
			updated_at = now()
		RETURNING (xmax = 0)`,
		s.Key, s.Strategy, s.Symbol, s.Timeframe, string(s.Direction), s.TriggerTime.UTC(), s.TriggerIndex,
		s.TriggerClose, s.StopLoss, s.TakeProfit, s.PlannedEntry, s.PlannedEntryTime,
		string(s.Status), metrics,
	).Scan(&inserted)
	return inserted, err
}

// UpdateSignalStatus двигает статус только вперёд, откат молча игнорируется.
func (r *Repository) UpdateSignalStatus(ctx context.Context, key string, status models.SignalStatus) error {
	_, err := r.db.Conn().Exec(ctx, `
		UPDATE signals SET status = $2, updated_at = now()
		WHERE key = $1
		  AND array_position(`+signalStatusRank+`, status) < array_position(`+signalStatusRank+`, $2::text)`,
		key, string(status))
	return errors.Wrap(err, "pg.UpdateSignalStatus")
}
