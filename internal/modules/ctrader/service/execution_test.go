package service

import (
	"testing"

	"fractal_bot/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frameOf(t *testing.T, raw string) Frame {
	t.Helper()
	f, err := decodeFrame([]byte(raw))
	require.NoError(t, err)
	return f
}

func TestParseExecution_StopLossMarker(t *testing.T) {
	ev := parseExecutionEvent(frameOf(t, `{"payloadType":2126,"payload":{
		"executionType":3,
		"order":{"orderId":11,"positionId":22,"closingOrder":true,"orderType":4,"stopPrice":1.1032},
		"deal":{"executionPrice":1.1033,"executionTimestamp":1700000001000}}}`))

	assert.Equal(t, "ORDER_FILLED", ev.ExecutionType)
	assert.Equal(t, models.ExitStopLoss, ev.CloseReason)
	assert.Equal(t, "22", ev.PositionID)
	assert.Equal(t, "11", ev.OrderID)
	require.NotNil(t, ev.ExitPrice)
	assert.Equal(t, 1.1033, *ev.ExitPrice)
}

func TestParseExecution_NearestLevelFallback(t *testing.T) {
	ev := parseExecutionEvent(frameOf(t, `{"payloadType":2126,"payload":{
		"executionType":"ORDER_FILLED",
		"order":{"orderId":11,"closingOrder":true,"orderType":"MARKET"},
		"position":{"positionId":22,"stopLoss":1.1032,"takeProfit":1.0905},
		"deal":{"executionPrice":1.0907}}}`))

	assert.Equal(t, models.ExitTakeProfit, ev.CloseReason)
	assert.Equal(t, "22", ev.PositionID)
}

func TestParseExecution_OpeningFillHasNoReason(t *testing.T) {
	ev := parseExecutionEvent(frameOf(t, `{"payloadType":2126,"payload":{
		"executionType":"ORDER_FILLED",
		"order":{"orderId":11,"positionId":22,"orderType":1},
		"deal":{"executionPrice":1.0948}}}`))

	assert.Equal(t, models.ExitReason(""), ev.CloseReason)
	assert.Nil(t, ev.ExitPrice)
}

func TestParseExecution_MissingFieldsNeverPanic(t *testing.T) {
	ev := parseExecutionEvent(frameOf(t, `{"payloadType":2126}`))
	assert.Empty(t, ev.ExecutionType)
	assert.Empty(t, ev.PositionID)
	assert.Zero(t, ev.Timestamp)
	assert.True(t, ev.VenueTime().IsZero())
}

func TestDecodeFrame_Rejects(t *testing.T) {
	_, err := decodeFrame([]byte(`not json`))
	assert.Error(t, err)
	_, err = decodeFrame([]byte(`{"payload":{}}`))
	assert.Error(t, err)
}

func TestWireConversions(t *testing.T) {
	assert.Equal(t, int64(100000), WireVolume(1000))
	assert.Equal(t, int64(840), RelativeDistance(1.0948, 1.1032))
	assert.Equal(t, int64(840), RelativeDistance(1.1032, 1.0948))
}

func TestBuildNewOrder_Validation(t *testing.T) {
	entry := 1.1
	_, err := buildNewOrder(1, 1, OrderRequest{Direction: models.DirectionLong, Units: 0, ReferenceEntry: &entry})
	assert.Error(t, err)
	_, err = buildNewOrder(1, 1, OrderRequest{Direction: "SIDEWAYS", Units: 1000, ReferenceEntry: &entry})
	assert.Error(t, err)

	p, err := buildNewOrder(1, 1, OrderRequest{Direction: models.DirectionLong, Units: 1000, ReferenceEntry: &entry, StopLoss: 1.099})
	require.NoError(t, err)
	assert.Equal(t, tradeSideBuy, p.TradeSide)
	assert.Equal(t, int64(100), p.RelativeStopLoss)
	assert.Zero(t, p.RelativeTakeProfit)
}
