package helper

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNormTF(t *testing.T) {
	assert.Equal(t, "1h", NormTF("60m"))
	assert.Equal(t, "1h", NormTF(" H1 "))
	assert.Equal(t, "5m", NormTF("candle5m"))
	assert.Equal(t, "15m", NormTF("M15"))
	assert.Equal(t, "2d", NormTF("2d"))
}

func TestTFDuration(t *testing.T) {
	assert.Equal(t, 5*time.Minute, TFDuration("5m"))
	assert.Equal(t, time.Hour, TFDuration("1h"))
	assert.Equal(t, time.Duration(0), TFDuration("weird"))
}

func TestRoundPrice(t *testing.T) {
	assert.Equal(t, 1.1032, RoundPrice(1.1030+0.0002, PricePrecision))
	assert.Equal(t, 1.09701, RoundPrice(1.097009, PricePrecision))
}

func TestRoundDownToStep(t *testing.T) {
	assert.Equal(t, 90000.0, RoundDownToStep(90000, 1000))
	assert.Equal(t, 89000.0, RoundDownToStep(89999.9, 1000))
	assert.Equal(t, 12.5, RoundDownToStep(12.5, 0))
}
