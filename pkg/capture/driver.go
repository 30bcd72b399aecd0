package capture

import (
	"errors"
	"fmt"
	"log"
	"sync"
)

// ErrDriver is returned for invalid driver configuration or use.
var ErrDriver = errors.New("capture: driver error")

// MaxSampleRate bounds DriverConfig.SampleRate so the sample period stays
// representable as a time.Duration.
const MaxSampleRate = 1_000_000

// DriverConfig is enumerated at startup and immutable afterwards.
type DriverConfig struct {
	Channel    int     // ADC input the microphone is wired to
	Bias       float32 // Microphone bias level (V), subtracted from readings
	SampleRate int     // Samples per second
	BufferSize int     // Samples per block; the ready callback fires when a block is full
}

// Validate checks the configuration.
func (c DriverConfig) Validate() error {
	if c.SampleRate <= 0 || c.SampleRate > MaxSampleRate {
		return fmt.Errorf("%w: sample rate must be in (0, %d], got %d", ErrDriver, MaxSampleRate, c.SampleRate)
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("%w: buffer size must be positive, got %d", ErrDriver, c.BufferSize)
	}
	return nil
}

// Driver is a block capture device. The ready callback runs in the driver's
// own context each time an internal block is full; Read copies that block
// and is only valid inside the callback.
type Driver interface {
	Init(cfg DriverConfig) error
	Start() error
	Stop() error
	SetReadyCallback(fn func())
	Read(block []int16) int
}

// Capture connects a Driver to a Handoff.
type Capture struct {
	driver  Driver
	handoff Handoff
	cfg     DriverConfig

	mu      sync.Mutex
	running bool
}

// New creates a Capture. The handoff block size must match the driver buffer size.
func New(driver Driver, cfg DriverConfig, handoff Handoff) (*Capture, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if handoff.BlockSize() != cfg.BufferSize {
		return nil, fmt.Errorf("%w: handoff block %d, driver buffer %d", ErrDriver, handoff.BlockSize(), cfg.BufferSize)
	}
	return &Capture{
		driver:  driver,
		handoff: handoff,
		cfg:     cfg,
	}, nil
}

// Handoff returns the handoff fed by the driver.
func (c *Capture) Handoff() Handoff {
	return c.handoff
}

// Start registers the ready callback, initializes and starts the driver.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.running {
		return fmt.Errorf("%w: already started", ErrDriver)
	}

	c.driver.SetReadyCallback(c.onReady)
	if err := c.driver.Init(c.cfg); err != nil {
		return fmt.Errorf("capture: driver init failed: %w", err)
	}
	if err := c.driver.Start(); err != nil {
		return fmt.Errorf("capture: driver start failed: %w", err)
	}

	c.running = true
	log.Printf("capture: started on channel %d at %d Hz, %d samples per block",
		c.cfg.Channel, c.cfg.SampleRate, c.cfg.BufferSize)
	return nil
}

// Stop stops the driver.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil
	}
	c.running = false
	return c.driver.Stop()
}

func (c *Capture) onReady() {
	c.handoff.Produce(c.driver.Read)
}
