package repo

import (
	"context"
	"errors"

	"fractal_bot/internal/models"

	"github.com/bytedance/sonic"
	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"
)

// LoadSnapshot - nil, если движок по этой тройке ещё не запускался.
func (r *Repository) LoadSnapshot(ctx context.Context, strategy, symbol, timeframe string) (*models.RuntimeSnapshot, error) {
	var raw []byte
	err := r.db.Conn().QueryRow(ctx, `
		SELECT state FROM runtime_snapshots
		WHERE strategy = $1 AND symbol = $2 AND timeframe = $3`,
		strategy, symbol, timeframe).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "pg.LoadSnapshot")
	}

	var snap models.RuntimeSnapshot
	if err := sonic.Unmarshal(raw, &snap); err != nil {
		return nil, pkgerrors.Wrap(err, "pg.LoadSnapshot decode")
	}
	return &snap, nil
}

func (r *Repository) SaveSnapshot(ctx context.Context, snap models.RuntimeSnapshot) error {
	raw, err := sonic.Marshal(snap)
	if err != nil {
		return pkgerrors.Wrap(err, "pg.SaveSnapshot encode")
	}
	_, err = r.db.Conn().Exec(ctx, `
		INSERT INTO runtime_snapshots (strategy, symbol, timeframe, state, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (strategy, symbol, timeframe) DO UPDATE SET
			state = EXCLUDED.state, updated_at = now()`,
		snap.Strategy, snap.Symbol, snap.Timeframe, raw)
	return pkgerrors.Wrap(err, "pg.SaveSnapshot")
}
