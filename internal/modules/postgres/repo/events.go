package repo

import (
	"context"
	"time"

	"fractal_bot/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// RecordExecutionEvent - вставка по сигнатуре. pending=true, пока событие не отмечено
// обработанным: повтор после сбоя разбора снова доходит до закрытия сделки.
func (r *Repository) RecordExecutionEvent(ctx context.Context, ev models.ExecutionEvent) (pending bool, err error) {
	err = r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		_, err := tx.Exec(ctxTx, `
			INSERT INTO execution_events (signature, payload_type, execution_type, position_id, order_id,
			                              venue_time, close_reason, exit_price, payload, received_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
			ON CONFLICT (signature) DO NOTHING`,
			ev.Signature, ev.PayloadType, ev.ExecutionType, nullString(ev.PositionID), nullString(ev.OrderID),
			ev.VenueTime, nullString(string(ev.CloseReason)), ev.ExitPrice, ev.Payload, ev.ReceivedAt.UTC())
		if err != nil {
			return err
		}
		return tx.QueryRow(ctxTx, `
			SELECT processed_at IS NULL FROM execution_events WHERE signature = $1`,
			ev.Signature).Scan(&pending)
	})
	if err != nil {
		return false, errors.Wrap(err, "pg.RecordExecutionEvent")
	}
	return pending, nil
}

func (r *Repository) MarkEventProcessed(ctx context.Context, signature string, at time.Time) error {
	_, err := r.db.Conn().Exec(ctx, `
		UPDATE execution_events SET processed_at = $2
		WHERE signature = $1 AND processed_at IS NULL`, signature, at.UTC())
	if err != nil {
		return errors.Wrap(err, "pg.MarkEventProcessed")
	}
	return nil
}

// ListUnprocessedEvents - недоразобранные события, полученные раньше before, старые первыми.
func (r *Repository) ListUnprocessedEvents(ctx context.Context, before time.Time, limit int) ([]models.ExecutionEvent, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT signature, payload_type, execution_type, position_id, order_id, venue_time,
		       close_reason, exit_price, payload, received_at
		FROM execution_events
		WHERE processed_at IS NULL AND received_at < $1
		ORDER BY received_at ASC
		LIMIT $2`, before.UTC(), limit)
	if err != nil {
		return nil, errors.Wrap(err, "pg.ListUnprocessedEvents")
	}
	defer rows.Close()

	var out []models.ExecutionEvent
	for rows.Next() {
		var (
			ev                          models.ExecutionEvent
			positionID, orderID, reason *string
		)
		if err := rows.Scan(&ev.Signature, &ev.PayloadType, &ev.ExecutionType, &positionID, &orderID,
			&ev.VenueTime, &reason, &ev.ExitPrice, &ev.Payload, &ev.ReceivedAt); err != nil {
			return nil, errors.Wrap(err, "pg.ListUnprocessedEvents scan")
		}
		ev.PositionID, ev.OrderID = deref(positionID), deref(orderID)
		ev.CloseReason = models.ExitReason(deref(reason))
		out = append(out, ev)
	}
	return out, errors.Wrap(rows.Err(), "pg.ListUnprocessedEvents rows")
}
