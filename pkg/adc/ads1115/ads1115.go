// Package ads1115 reads a TI ADS1115 I2C converter as an adc.ADC.
package ads1115

import (
	"fmt"
	"log"
	"sync"

	"github.com/itohio/goei/pkg/adc"
	"periph.io/x/conn/v3/analog"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/devices/v3/ads1x15"
	"periph.io/x/host/v3"
)

// Ensure Dev implements adc.ADC.
var _ adc.ADC = (*Dev)(nil)

// Config configures the external I2C converter.
type Config struct {
	Bus        string  // I2C bus name, empty for the first available bus
	Address    uint16  // I2C address (0x48 by default)
	FullScale  float64 // Input voltage (V) mapped to the top count, use it as the calibration reference
	Frequency  int     // Data rate in Hz
	Resolution int     // Bits the readings are rescaled to
}

// Dev reads single-ended channels of a TI ADS1115 through periph.io.
// Readings are rescaled to Resolution bits so the calibration matches an
// on-chip converter of the same reference voltage.
type Dev struct {
	cfg      Config
	bus      i2c.BusCloser
	dev      *ads1x15.Dev
	pins     map[int]analog.PinADC
	selected int
	mu       sync.Mutex
}

var channels = map[int]ads1x15.Channel{
	0: ads1x15.Channel0,
	1: ads1x15.Channel1,
	2: ads1x15.Channel2,
	3: ads1x15.Channel3,
}

// Open initializes the periph host and the converter.
func Open(cfg Config) (*Dev, error) {
	if cfg.Address == 0 {
		cfg.Address = ads1x15.DefaultOpts.I2cAddress
	}
	if cfg.FullScale == 0 {
		cfg.FullScale = 4.096
	}
	if cfg.Frequency == 0 {
		cfg.Frequency = 860
	}
	if cfg.Resolution == 0 {
		cfg.Resolution = 12
	}

	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("ads1115: periph host init: %w", err)
	}

	bus, err := i2creg.Open(cfg.Bus)
	if err != nil {
		return nil, fmt.Errorf("ads1115: open I2C bus %q: %w", cfg.Bus, err)
	}

	opts := ads1x15.DefaultOpts
	opts.I2cAddress = cfg.Address
	dev, err := ads1x15.NewADS1115(bus, &opts)
	if err != nil {
		bus.Close()
		return nil, fmt.Errorf("ads1115: device creation: %w", err)
	}

	return &Dev{
		cfg:      cfg,
		bus:      bus,
		dev:      dev,
		pins:     make(map[int]analog.PinADC),
		selected: -1,
	}, nil
}

// Channels returns the channels the converter can read.
func (a *Dev) Channels() []int {
	return []int{0, 1, 2, 3}
}

// Init prepares a single-ended channel.
func (a *Dev) Init(channel int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	c, ok := channels[channel]
	if !ok {
		return fmt.Errorf("%w: ads1115 has no channel %d", adc.ErrChannel, channel)
	}
	if _, ok := a.pins[channel]; ok {
		return nil
	}

	maxV := physic.ElectricPotential(a.cfg.FullScale * float64(physic.Volt))
	freq := physic.Frequency(a.cfg.Frequency) * physic.Hertz
	pin, err := a.dev.PinForChannel(c, maxV, freq, ads1x15.BestQuality)
	if err != nil {
		return fmt.Errorf("ads1115: channel %d: %w", channel, err)
	}
	a.pins[channel] = pin
	log.Printf("ads1115: channel %d ready (full scale %.3fV, %d Hz)", channel, a.cfg.FullScale, a.cfg.Frequency)
	return nil
}

// Select chooses the channel for subsequent reads.
func (a *Dev) Select(channel int) {
	a.mu.Lock()
	a.selected = channel
	a.mu.Unlock()
}

// Read returns one conversion of the selected channel rescaled to the
// configured resolution. Negative differential readings clamp to 0. A failed
// conversion is logged and reads as 0.
func (a *Dev) Read() uint16 {
	a.mu.Lock()
	pin := a.pins[a.selected]
	a.mu.Unlock()

	if pin == nil {
		return 0
	}

	s, err := pin.Read()
	if err != nil {
		log.Printf("ads1115: read channel %d: %v", a.selected, err)
		return 0
	}
	return rescale(s.V, a.cfg.FullScale, a.cfg.Resolution)
}

// Close halts the pins and releases the bus.
func (a *Dev) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()

	for ch, pin := range a.pins {
		if err := pin.Halt(); err != nil {
			log.Printf("ads1115: halt channel %d: %v", ch, err)
		}
	}
	a.pins = make(map[int]analog.PinADC)

	if err := a.dev.Halt(); err != nil {
		log.Printf("ads1115: halt device: %v", err)
	}
	return a.bus.Close()
}

// rescale maps a voltage in [0, fullScale] to [0, 2^bits-1].
func rescale(v physic.ElectricPotential, fullScale float64, bits int) uint16 {
	if v <= 0 {
		return 0
	}
	steps := int64(1) << uint(bits)
	fs := int64(fullScale * float64(physic.Volt))
	raw := int64(v) * steps / fs
	if raw > steps-1 {
		raw = steps - 1
	}
	return uint16(raw)
}
