package ads1115

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"periph.io/x/conn/v3/physic"
)

func TestRescale(t *testing.T) {
	tests := []struct {
		name string
		v    physic.ElectricPotential
		want uint16
	}{
		{name: "negative clamps", v: -physic.Volt, want: 0},
		{name: "zero", v: 0, want: 0},
		{name: "half scale", v: 1650 * physic.MilliVolt, want: 2048},
		{name: "over scale clamps", v: 4 * physic.Volt, want: 4095},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rescale(tt.v, 3.3, 12))
		})
	}
}
