package models

import "time"

type OrderRequestStatus string

const (
	OrderQueued     OrderRequestStatus = "queued"
	OrderProcessing OrderRequestStatus = "processing"
	OrderSubmitted  OrderRequestStatus = "submitted"
	OrderAccepted   OrderRequestStatus = "accepted"
	OrderRejected   OrderRequestStatus = "rejected"
	OrderFailed     OrderRequestStatus = "failed"
	OrderCancelled  OrderRequestStatus = "cancelled"
)

type SizingMode string

const (
	SizingFixed       SizingMode = "fixed"
	SizingRiskPercent SizingMode = "risk_percent"
)

// BrokerOrderRequest - durable work item. Переходами статусов владеет только executor.
type BrokerOrderRequest struct {
	ID        string    `json:"id"`
	Key       string    `json:"key"`
	SignalKey string    `json:"signal_key"`
	Strategy  string    `json:"strategy"`
	Symbol    string    `json:"symbol"`
	Timeframe string    `json:"timeframe"`
	Direction Direction `json:"direction"`

	PlannedEntry     *float64   `json:"planned_entry,omitempty"`
	PlannedEntryTime *time.Time `json:"planned_entry_time,omitempty"`
	StopLoss         float64    `json:"stop_loss"`
	TakeProfit       float64    `json:"take_profit"`

	SizingMode SizingMode `json:"sizing_mode"`
	Units      *float64   `json:"units,omitempty"`

	Status           OrderRequestStatus `json:"status"`
	Attempts         int                `json:"attempts"`
	NextAttemptAfter *time.Time         `json:"next_attempt_after,omitempty"`

	VenueOrderID    string `json:"venue_order_id,omitempty"`
	VenuePositionID string `json:"venue_position_id,omitempty"`

	LastError     string `json:"last_error,omitempty"`
	LastErrorCode string `json:"last_error_code,omitempty"`

	ExecutionPayload []byte `json:"execution_payload,omitempty"`
	SizingAudit      []byte `json:"sizing_audit,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Due - можно ли брать в работу сейчас.
func (r BrokerOrderRequest) Due(now time.Time) bool {
	if r.Status != OrderQueued && r.Status != OrderFailed {
		return false
	}
	if r.NextAttemptAfter != nil && r.NextAttemptAfter.After(now) {
		return false
	}
	if r.PlannedEntryTime != nil && r.PlannedEntryTime.After(now) {
		return false
	}
	return true
}

// SubmitOutcome - то, что executor пишет после успешной отправки.
type SubmitOutcome struct {
	Status           OrderRequestStatus
	VenueOrderID     string
	VenuePositionID  string
	ExecutionPayload []byte
	SizingAudit      []byte
}

// FailureOutcome - то, что executor пишет после ошибки.
type FailureOutcome struct {
	Message          string
	Code             string
	NextAttemptAfter time.Time
	SizingAudit      []byte
}
