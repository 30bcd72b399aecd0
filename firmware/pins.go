//go:build tinygo

package main

import (
	"machine"
	"time"
)

const (
	// Acquisition mode: MODE_SAMPLING, MODE_CAPTURE or MODE_STREAM
	MODE = MODE_SAMPLING

	MODE_SAMPLING = 0 // Accelerometer frames, one line per label
	MODE_CAPTURE  = 1 // Microphone frames, bracketed score line
	MODE_STREAM   = 2 // Prints "unix_micros,sample" lines for the host stream driver

	// ADC configuration
	ADC_REFERENCE_MV = 3300 // Reference voltage in millivolts (3.3V)
	ADC_RESOLUTION   = 12   // ADC resolution in bits (12-bit = 0-4095)
	ZERO_OFFSET      = 1.65 // Accelerometer output at 0 g (V)

	// Sampling configuration
	NUM_SAMPLES  = 10                   // Raw readings averaged per value
	SAMPLE_DELAY = time.Millisecond     // Delay after every raw reading
	FRAME_LENGTH = 150                  // Values per frame (3 per stride)
	FRAME_RATE   = 50                   // Strides per second
	ANNOUNCE     = 2 * time.Second      // Pause before each cycle
	FAULT_BLINK  = 250 * time.Millisecond

	// Microphone configuration
	MIC_BIAS        = 1.25 // Bias voltage of the microphone (V)
	MIC_SAMPLE_RATE = 8000 // Hz
	MIC_BUFFER_SIZE = 256  // Samples per block and per frame
)

var (
	// Accelerometer on GPIO28 (ADC channel 2)
	PIN_ACCEL = machine.ADC2
	// Microphone on GPIO26 (ADC channel 0)
	PIN_MIC = machine.ADC0

	PIN_LED = machine.LED
)
