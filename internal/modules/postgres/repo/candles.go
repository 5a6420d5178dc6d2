package repo

import (
	"context"
	"time"

	"fractal_bot/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// UpsertCandles - свечи неизменяемы: уже сохранённые не перезаписываются.
func (r *Repository) UpsertCandles(ctx context.Context, symbol, timeframe string, candles []models.Candle) (inserted int, err error) {
	defer func() {
		if err != nil {
			err = errors.Wrap(err, "pg.UpsertCandles")
		}
	}()
	if len(candles) == 0 {
		return 0, nil
	}

	err = r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, c := range candles {
			batch.Queue(`
				INSERT INTO candles (symbol, timeframe, ts, open, high, low, close, volume)
				VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
				ON CONFLICT (symbol, timeframe, ts) DO NOTHING`,
				symbol, timeframe, c.Timestamp.UTC(), c.Open, c.High, c.Low, c.Close, c.Volume)
		}
		br := tx.SendBatch(ctxTx, batch)
		for range candles {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return err
			}
			inserted += int(tag.RowsAffected())
		}
		return br.Close()
	})
	return inserted, err
}

// LoadCandles - вся история по паре/таймфрейму по возрастанию времени.
func (r *Repository) LoadCandles(ctx context.Context, symbol, timeframe string) ([]models.Candle, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM candles
		WHERE symbol = $1 AND timeframe = $2
		ORDER BY ts ASC`, symbol, timeframe)
	if err != nil {
		return nil, errors.Wrap(err, "pg.LoadCandles")
	}
	defer rows.Close()

	var out []models.Candle
	for rows.Next() {
		var c models.Candle
		if err := rows.Scan(&c.Timestamp, &c.Open, &c.High, &c.Low, &c.Close, &c.Volume); err != nil {
			return nil, errors.Wrap(err, "pg.LoadCandles scan")
		}
		out = append(out, c)
	}
	return out, errors.Wrap(rows.Err(), "pg.LoadCandles rows")
}

// LastCandleTime - nil, если свечей ещё нет.
func (r *Repository) LastCandleTime(ctx context.Context, symbol, timeframe string) (*time.Time, error) {
	var ts *time.Time
	err := r.db.Conn().QueryRow(ctx, `
		SELECT max(ts) FROM candles WHERE symbol = $1 AND timeframe = $2`,
		symbol, timeframe).Scan(&ts)
	if err != nil {
		return nil, errors.Wrap(err, "pg.LastCandleTime")
	}
	return ts, nil
}
