package status

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpiotest"
)

func TestLED(t *testing.T) {
	tests := []struct {
		name     string
		inverted bool
		on, off  gpio.Level
	}{
		{"active high", false, gpio.High, gpio.Low},
		{"active low", true, gpio.Low, gpio.High},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pin := &gpiotest.Pin{N: "GPIO17"}
			led, err := New(pin, tt.inverted)
			require.NoError(t, err)
			assert.Equal(t, tt.off, pin.Read())
			assert.False(t, led.On())

			require.NoError(t, led.Set(true))
			assert.Equal(t, tt.on, pin.Read())
			assert.True(t, led.On())

			require.NoError(t, led.Set(false))
			assert.Equal(t, tt.off, pin.Read())
		})
	}
}

func TestNoop(t *testing.T) {
	assert.NoError(t, Noop{}.Set(true))
}
