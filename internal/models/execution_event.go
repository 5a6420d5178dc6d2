package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// ExecutionEvent - сырой push от площадки. Уникален по Signature.
// ProcessedAt ставится после того, как закрытие сделки применено; до этого событие
// считается недоразобранным и может быть повторено.
type ExecutionEvent struct {
	Signature     string     `json:"signature"`
	PayloadType   int        `json:"payload_type"`
	ExecutionType string     `json:"execution_type"`
	PositionID    string     `json:"position_id,omitempty"`
	OrderID       string     `json:"order_id,omitempty"`
	VenueTime     int64      `json:"venue_time"`
	CloseReason   ExitReason `json:"close_reason,omitempty"`
	ExitPrice     *float64   `json:"exit_price,omitempty"`
	Payload       []byte     `json:"payload"`
	ReceivedAt    time.Time  `json:"received_at"`
	ProcessedAt   *time.Time `json:"processed_at,omitempty"`
}

// EventSignature - sha256(payloadType|executionType|positionId|orderId|venueTimestamp).
func EventSignature(payloadType int, executionType, positionID, orderID string, venueTime int64) string {
	parts := []string{
		strconv.Itoa(payloadType),
		executionType,
		positionID,
		orderID,
		strconv.FormatInt(venueTime, 10),
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// TradeClose - данные для закрытия сделки по событию площадки.
type TradeClose struct {
	ExitPrice float64
	ExitTime  time.Time
	Reason    ExitReason
	RMultiple *float64
}
