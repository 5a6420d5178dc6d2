package repo

import (
	"context"
	"errors"

	"fractal_bot/internal/models"

	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"
)

// UpsertTrade - закрытая сделка больше не меняется.
func (r *Repository) UpsertTrade(ctx context.Context, t models.Trade) error {
	var reason *string
	if t.ExitReason != "" {
		s := string(t.ExitReason)
		reason = &s
	}
	_, err := r.db.Conn().Exec(ctx, `
		INSERT INTO trades (key, signal_key, strategy, symbol, timeframe, direction, entry_price, entry_time,
		                    stop_loss, take_profit, exit_price, exit_time, exit_reason, r_multiple, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (key) DO UPDATE SET
			exit_price  = EXCLUDED.exit_price,
			exit_time   = EXCLUDED.exit_time,
			exit_reason = EXCLUDED.exit_reason,
			r_multiple  = EXCLUDED.r_multiple,
			status      = EXCLUDED.status,
			updated_at  = now()
		WHERE trades.status = 'OPEN'`,
		t.Key, t.SignalKey, t.Strategy, t.Symbol, t.Timeframe, string(t.Direction), t.EntryPrice, t.EntryTime.UTC(),
		t.StopLoss, t.TakeProfit, t.ExitPrice, t.ExitTime, reason, t.RMultiple, string(t.Status))
	return pkgerrors.Wrap(err, "pg.UpsertTrade")
}

// GetTrade - nil, если сделки ещё нет.
func (r *Repository) GetTrade(ctx context.Context, key string) (*models.Trade, error) {
	var (
		t         models.Trade
		direction string
		status    string
		reason    *string
	)
	err := r.db.Conn().QueryRow(ctx, `
		SELECT key, signal_key, strategy, symbol, timeframe, direction, entry_price, entry_time,
		       stop_loss, take_profit, exit_price, exit_time, exit_reason, r_multiple, status
		FROM trades WHERE key = $1`, key).Scan(
		&t.Key, &t.SignalKey, &t.Strategy, &t.Symbol, &t.Timeframe, &direction, &t.EntryPrice, &t.EntryTime,
		&t.StopLoss, &t.TakeProfit, &t.ExitPrice, &t.ExitTime, &reason, &t.RMultiple, &status)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "pg.GetTrade")
	}
	t.Direction = models.Direction(direction)
	t.Status = models.TradeStatus(status)
	if reason != nil {
		t.ExitReason = models.ExitReason(*reason)
	}
	return &t, nil
}

// CloseTrade - OPEN -> CLOSED ровно один раз; closed=false для уже закрытой.
func (r *Repository) CloseTrade(ctx context.Context, key string, c models.TradeClose) (closed bool, err error) {
	tag, err := r.db.Conn().Exec(ctx, `
		UPDATE trades SET
			exit_price = $2, exit_time = $3, exit_reason = $4, r_multiple = $5,
			status = 'CLOSED', updated_at = now()
		WHERE key = $1 AND status = 'OPEN'`,
		key, c.ExitPrice, c.ExitTime.UTC(), string(c.Reason), c.RMultiple)
	if err != nil {
		return false, pkgerrors.Wrap(err, "pg.CloseTrade")
	}
	return tag.RowsAffected() == 1, nil
}
