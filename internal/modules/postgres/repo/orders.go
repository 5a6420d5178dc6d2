package repo

import (
	"context"
	"errors"
	"time"

	"fractal_bot/internal/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pkgerrors "github.com/pkg/errors"
)

const orderRequestColumns = `
	id, key, signal_key, strategy, symbol, timeframe, direction, planned_entry, planned_entry_time,
	stop_loss, take_profit, sizing_mode, units, status, attempts, next_attempt_after,
	venue_order_id, venue_position_id, last_error, last_error_code, execution_payload, sizing_audit,
	created_at, updated_at`

// EnqueueOrderRequest создаёт queued-заявку и помечает сигнал queued в одной транзакции.
// Повтор по тому же ключу ничего не делает (created=false).
func (r *Repository) EnqueueOrderRequest(ctx context.Context, req models.BrokerOrderRequest) (created bool, err error) {
	defer func() {
		if err != nil {
			err = pkgerrors.Wrap(err, "pg.EnqueueOrderRequest")
		}
	}()
	id := uuid.New()
	if req.ID != "" {
		if id, err = uuid.Parse(req.ID); err != nil {
			return false, err
		}
	}

	err = r.db.RunMaster(ctx, func(ctxTx context.Context, tx pgx.Tx) error {
		tag, err := tx.Exec(ctxTx, `
			INSERT INTO broker_order_requests (id, key, signal_key, strategy, symbol, timeframe, direction,
			                                   planned_entry, planned_entry_time, stop_loss, take_profit,
			                                   sizing_mode, units, status)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, 'queued')
			ON CONFLICT (key) DO NOTHING`,
			id, req.Key, req.SignalKey, req.Strategy, req.Symbol, req.Timeframe, string(req.Direction),
			req.PlannedEntry, req.PlannedEntryTime, req.StopLoss, req.TakeProfit,
			string(req.SizingMode), req.Units)
		if err != nil {
			return err
		}
		created = tag.RowsAffected() == 1
		if !created {
			return nil
		}
		_, err = tx.Exec(ctxTx, `
			UPDATE signals SET status = 'queued', updated_at = now()
			WHERE key = $1 AND status IN ('pending_next_open', 'ready')`, req.SignalKey)
		return err
	})
	return created, err
}

// ListDueOrderRequests - до limit заявок queued/failed, старые первыми.
// Фильтр по next_attempt_after и planned_entry_time делает executor.
func (r *Repository) ListDueOrderRequests(ctx context.Context, limit int) ([]models.BrokerOrderRequest, error) {
	rows, err := r.db.Conn().Query(ctx, `
		SELECT `+orderRequestColumns+`
		FROM broker_order_requests
		WHERE status IN ('queued', 'failed')
		ORDER BY created_at ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "pg.ListDueOrderRequests")
	}
	defer rows.Close()

	var out []models.BrokerOrderRequest
	for rows.Next() {
		req, err := scanOrderRequest(rows)
		if err != nil {
			return nil, pkgerrors.Wrap(err, "pg.ListDueOrderRequests scan")
		}
		out = append(out, *req)
	}
	return out, pkgerrors.Wrap(rows.Err(), "pg.ListDueOrderRequests rows")
}

// ClaimOrderRequest - условный переход в processing; из двух конкурентов выигрывает один.
func (r *Repository) ClaimOrderRequest(ctx context.Context, id string) (bool, error) {
	uid, err := uuid.Parse(id)
	if err != nil {
		return false, pkgerrors.Wrap(err, "pg.ClaimOrderRequest")
	}
	tag, err := r.db.Conn().Exec(ctx, `
		UPDATE broker_order_requests
		SET status = 'processing', attempts = attempts + 1, updated_at = now()
		WHERE id = $1 AND status IN ('queued', 'failed')`, uid)
	if err != nil {
		return false, pkgerrors.Wrap(err, "pg.ClaimOrderRequest")
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Repository) MarkSubmitted(ctx context.Context, id string, out models.SubmitOutcome) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return pkgerrors.Wrap(err, "pg.MarkSubmitted")
	}
	_, err = r.db.Conn().Exec(ctx, `
		UPDATE broker_order_requests SET
			status = $2, venue_order_id = $3, venue_position_id = $4,
			execution_payload = $5, sizing_audit = $6,
			last_error = NULL, last_error_code = NULL, next_attempt_after = NULL,
			updated_at = now()
		WHERE id = $1`,
		uid, string(out.Status), nullString(out.VenueOrderID), nullString(out.VenuePositionID),
		out.ExecutionPayload, out.SizingAudit)
	return pkgerrors.Wrap(err, "pg.MarkSubmitted")
}

func (r *Repository) MarkFailed(ctx context.Context, id string, out models.FailureOutcome) error {
	uid, err := uuid.Parse(id)
	if err != nil {
		return pkgerrors.Wrap(err, "pg.MarkFailed")
	}
	_, err = r.db.Conn().Exec(ctx, `
		UPDATE broker_order_requests SET
			status = 'failed', last_error = $2, last_error_code = $3,
			next_attempt_after = $4, sizing_audit = COALESCE($5, sizing_audit),
			updated_at = now()
		WHERE id = $1`,
		uid, out.Message, nullString(out.Code), out.NextAttemptAfter.UTC(), out.SizingAudit)
	return pkgerrors.Wrap(err, "pg.MarkFailed")
}

// FindOrderRequestByVenueIDs - сначала по позиции, потом по ордеру; самая свежая. nil, если нет.
func (r *Repository) FindOrderRequestByVenueIDs(ctx context.Context, positionID, orderID string) (*models.BrokerOrderRequest, error) {
	lookups := []struct {
		column string
		value  string
	}{
		{"venue_position_id", positionID},
		{"venue_order_id", orderID},
	}
	for _, l := range lookups {
		if l.value == "" {
			continue
		}
		row := r.db.Conn().QueryRow(ctx, `
			SELECT `+orderRequestColumns+`
			FROM broker_order_requests
			WHERE `+l.column+` = $1
			ORDER BY updated_at DESC
			LIMIT 1`, l.value)
		req, err := scanOrderRequest(row)
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return nil, pkgerrors.Wrap(err, "pg.FindOrderRequestByVenueIDs")
		}
		return req, nil
	}
	return nil, nil
}

func scanOrderRequest(row pgx.Row) (*models.BrokerOrderRequest, error) {
	var (
		req                           models.BrokerOrderRequest
		id                            uuid.UUID
		direction, sizingMode, status string
		venueOrderID, venuePositionID *string
		lastError, lastErrorCode      *string
		nextAttempt, plannedTime      *time.Time
	)
	err := row.Scan(
		&id, &req.Key, &req.SignalKey, &req.Strategy, &req.Symbol, &req.Timeframe, &direction,
		&req.PlannedEntry, &plannedTime, &req.StopLoss, &req.TakeProfit, &sizingMode, &req.Units,
		&status, &req.Attempts, &nextAttempt, &venueOrderID, &venuePositionID, &lastError, &lastErrorCode,
		&req.ExecutionPayload, &req.SizingAudit, &req.CreatedAt, &req.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	req.ID = id.String()
	req.Direction = models.Direction(direction)
	req.SizingMode = models.SizingMode(sizingMode)
	req.Status = models.OrderRequestStatus(status)
	req.NextAttemptAfter = nextAttempt
	req.PlannedEntryTime = plannedTime
	req.VenueOrderID = deref(venueOrderID)
	req.VenuePositionID = deref(venuePositionID)
	req.LastError = deref(lastError)
	req.LastErrorCode = deref(lastErrorCode)
	return &req, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
