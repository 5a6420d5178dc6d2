package service

import (
	"fmt"
	"strconv"

	"github.com/bytedance/sonic"
	"github.com/tidwall/gjson"
)

// Payload types Open API (JSON-вариант).
const (
	PayloadHeartbeat = 51

	PayloadAppAuthReq     = 2100
	PayloadAppAuthRes     = 2101
	PayloadAccountAuthReq = 2102
	PayloadAccountAuthRes = 2103
	PayloadNewOrderReq    = 2106
	PayloadSymbolsListReq = 2114
	PayloadSymbolsListRes = 2115
	PayloadTraderReq      = 2121
	PayloadTraderRes      = 2122
	PayloadExecutionEvent = 2126
	PayloadOrderErrorEvt  = 2132
	PayloadTrendbarsReq   = 2137
	PayloadTrendbarsRes   = 2138
	PayloadErrorRes       = 2142
)

type outFrame struct {
	ClientMsgID string `json:"clientMsgId,omitempty"`
	PayloadType int    `json:"payloadType"`
	Payload     any    `json:"payload,omitempty"`
}

// Frame - входящий кадр. Payload разбирается лениво через gjson:
// отсутствующее поле даёт пустой Result, а не панику.
type Frame struct {
	ClientMsgID string
	PayloadType int
	Payload     gjson.Result
	Raw         []byte
}

func encodeFrame(clientMsgID string, payloadType int, payload any) ([]byte, error) {
	return sonic.Marshal(outFrame{
		ClientMsgID: clientMsgID,
		PayloadType: payloadType,
		Payload:     payload,
	})
}

func decodeFrame(raw []byte) (Frame, error) {
	if !gjson.ValidBytes(raw) {
		return Frame{}, fmt.Errorf("ctrader: invalid frame json")
	}
	pt := gjson.GetBytes(raw, "payloadType")
	if !pt.Exists() {
		return Frame{}, fmt.Errorf("ctrader: frame without payloadType")
	}
	return Frame{
		ClientMsgID: gjson.GetBytes(raw, "clientMsgId").String(),
		PayloadType: int(pt.Int()),
		Payload:     gjson.GetBytes(raw, "payload"),
		Raw:         raw,
	}, nil
}

// venueErrorFromFrame - для 2142 и 2132, иначе nil.
func venueErrorFromFrame(f Frame) *VenueError {
	if f.PayloadType != PayloadErrorRes && f.PayloadType != PayloadOrderErrorEvt {
		return nil
	}
	code := optString(f.Payload, "errorCode")
	if code == "" {
		code = "UNKNOWN"
	}
	return &VenueError{
		Code:        code,
		Description: optString(f.Payload, "description"),
		PayloadType: f.PayloadType,
		Raw:         f.Raw,
	}
}

// optString - строковое значение поля или "" если его нет. Числа отдаются как есть.
func optString(r gjson.Result, path string) string {
	v := r.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return ""
	}
	return v.String()
}

// optFloat - значение и признак наличия.
func optFloat(r gjson.Result, path string) (float64, bool) {
	v := r.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return 0, false
	}
	if v.Type == gjson.String {
		f, err := strconv.ParseFloat(v.Str, 64)
		return f, err == nil
	}
	return v.Float(), v.Type == gjson.Number
}

func optInt(r gjson.Result, path string) (int64, bool) {
	v := r.Get(path)
	if !v.Exists() || v.Type == gjson.Null {
		return 0, false
	}
	if v.Type == gjson.String {
		n, err := strconv.ParseInt(v.Str, 10, 64)
		return n, err == nil
	}
	return v.Int(), v.Type == gjson.Number
}

func optBool(r gjson.Result, path string) bool {
	v := r.Get(path)
	return v.Exists() && v.Bool()
}
