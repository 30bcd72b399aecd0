package capture

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/itohio/goei/pkg/adc"
)

var _ Driver = (*ADCDriver)(nil)

// ADCDriver captures an analog microphone through an adc.ADC, removing the
// bias level. Samples are taken on a ticker, so the achieved rate is best
// effort on a general purpose host.
type ADCDriver struct {
	adc    adc.ADC
	factor float32 // Volts per raw count

	mu      sync.Mutex
	cfg     DriverConfig
	bias    int32
	ready   func()
	block   []int16
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewADCDriver creates a driver reading a with the given conversion factor,
// used to convert the bias voltage to raw counts.
func NewADCDriver(a adc.ADC, factor float32) *ADCDriver {
	return &ADCDriver{adc: a, factor: factor}
}

// Init initializes the input channel.
func (d *ADCDriver) Init(cfg DriverConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	if d.factor <= 0 {
		return fmt.Errorf("%w: conversion factor must be positive", ErrDriver)
	}
	if err := d.adc.Init(cfg.Channel); err != nil {
		return fmt.Errorf("%w: init channel %d: %v", ErrDriver, cfg.Channel, err)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.cfg = cfg
	d.bias = int32(cfg.Bias / d.factor)
	d.block = make([]int16, cfg.BufferSize)
	return nil
}

// SetReadyCallback registers fn.
func (d *ADCDriver) SetReadyCallback(fn func()) {
	d.mu.Lock()
	d.ready = fn
	d.mu.Unlock()
}

// Start begins sampling.
func (d *ADCDriver) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.block == nil {
		return fmt.Errorf("%w: not initialized", ErrDriver)
	}
	if d.started {
		return fmt.Errorf("%w: already started", ErrDriver)
	}

	var ctx context.Context
	ctx, d.cancel = context.WithCancel(context.Background())
	d.done = make(chan struct{})
	d.started = true

	go d.sample(ctx, d.done, d.ready)
	return nil
}

// Stop ends sampling and waits for the sampling goroutine.
func (d *ADCDriver) Stop() error {
	d.mu.Lock()
	if !d.started {
		d.mu.Unlock()
		return nil
	}
	d.started = false
	d.cancel()
	done := d.done
	d.mu.Unlock()

	<-done
	return nil
}

// Read copies the completed block. Only valid inside the ready callback.
func (d *ADCDriver) Read(block []int16) int {
	return copy(block, d.block)
}

func (d *ADCDriver) sample(ctx context.Context, done chan struct{}, ready func()) {
	defer close(done)

	ticker := time.NewTicker(time.Second / time.Duration(d.cfg.SampleRate))
	defer ticker.Stop()

	d.adc.Select(d.cfg.Channel)
	i := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			v := int32(d.adc.Read()) - d.bias
			d.block[i] = int16(max(-32768, min(32767, v)))
			i++
			if i == len(d.block) {
				i = 0
				if ready != nil {
					ready()
				}
			}
		}
	}
}
