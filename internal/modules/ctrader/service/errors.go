package service

import (
	"errors"
	"fmt"
	"time"
)

// ErrConnectionClosed - соединение закрыто, все ожидающие вызовы отклоняются этой ошибкой.
var ErrConnectionClosed = errors.New("ctrader: connection closed")

// ErrReferenceEntryRequired - без опорной цены нельзя перевести SL/TP в относительные.
var ErrReferenceEntryRequired = errors.New("ctrader: reference entry price is required")

// VenueError - явная ошибка площадки (error frame или order error event).
type VenueError struct {
	Code        string
	Description string
	PayloadType int
	Raw         []byte
}

func (e *VenueError) Error() string {
	if e.Description == "" {
		return fmt.Sprintf("ctrader venue error %s (payloadType=%d)", e.Code, e.PayloadType)
	}
	return fmt.Sprintf("ctrader venue error %s (payloadType=%d): %s", e.Code, e.PayloadType, e.Description)
}

// TimeoutError - ответ не пришёл за отведённое время. Соединение при этом живо.
type TimeoutError struct {
	PayloadType int
	ClientMsgID string
	After       time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("ctrader request %s (payloadType=%d) timed out after %s", e.ClientMsgID, e.PayloadType, e.After)
}

// UnexpectedFrameError - на наш clientMsgId пришёл кадр не того типа.
type UnexpectedFrameError struct {
	Expected int
	Got      int
	Raw      []byte
}

func (e *UnexpectedFrameError) Error() string {
	return fmt.Sprintf("ctrader unexpected frame: expected payloadType=%d, got %d", e.Expected, e.Got)
}

// ErrorCode - код площадки, если он есть в цепочке ошибок.
func ErrorCode(err error) string {
	var ve *VenueError
	if errors.As(err, &ve) {
		return ve.Code
	}
	return ""
}
