package adc

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrChannel is returned when a channel is not one of the configured ADC inputs.
	ErrChannel = errors.New("adc: channel not available")
	// ErrConfig is returned for invalid sampler parameters.
	ErrConfig = errors.New("adc: invalid sampler configuration")
)

// ADC is the hardware channel interface. Init must be called for a channel
// before the first Read after selecting it.
type ADC interface {
	Init(channel int) error
	Select(channel int)
	Read() uint16
}

// Calibration is the linear transform from a raw mean to a physical value:
// value = mean*Factor - ZeroOffset.
type Calibration struct {
	Factor     float32
	ZeroOffset float32
}

// FactorFor returns the conversion factor for an ADC with the given reference
// voltage and resolution in bits, e.g. 3.3/4096 for a 12-bit 3.3V converter.
func FactorFor(vref float32, bits int) float32 {
	return vref / float32(uint32(1)<<uint(bits))
}

// Apply converts a raw mean to a calibrated reading.
func (c Calibration) Apply(mean uint16) float32 {
	return float32(mean)*c.Factor - c.ZeroOffset
}

// SamplerConfig holds the oversampling and calibration parameters.
type SamplerConfig struct {
	Allowed     []int         // ADC-capable channels of the device
	Channels    []int         // Channels that will be read, validated against Allowed
	Oversample  int           // Raw readings averaged per calibrated reading
	SampleDelay time.Duration // Delay after each raw reading
	Calibration Calibration
}

// Sampler reads one channel with oversampling and yields a calibrated reading.
type Sampler struct {
	adc   ADC
	n     int
	delay time.Duration
	cal   Calibration
	sleep func(time.Duration)
}

// SamplerOption customizes a Sampler.
type SamplerOption func(*Sampler)

// WithSleep replaces the wait used between raw readings.
func WithSleep(sleep func(time.Duration)) SamplerOption {
	return func(s *Sampler) {
		s.sleep = sleep
	}
}

// NewSampler validates the configuration and initializes every configured channel.
func NewSampler(a ADC, cfg SamplerConfig, opts ...SamplerOption) (*Sampler, error) {
	if a == nil {
		return nil, fmt.Errorf("%w: no ADC", ErrConfig)
	}
	if cfg.Oversample < 1 {
		return nil, fmt.Errorf("%w: oversample must be >= 1, got %d", ErrConfig, cfg.Oversample)
	}
	if cfg.Calibration.Factor <= 0 {
		return nil, fmt.Errorf("%w: conversion factor must be positive", ErrConfig)
	}
	if cfg.SampleDelay < 0 {
		return nil, fmt.Errorf("%w: negative sample delay", ErrConfig)
	}

	for _, ch := range cfg.Channels {
		if !contains(cfg.Allowed, ch) {
			return nil, fmt.Errorf("%w: %d (allowed %v)", ErrChannel, ch, cfg.Allowed)
		}
	}

	s := &Sampler{
		adc:   a,
		n:     cfg.Oversample,
		delay: cfg.SampleDelay,
		cal:   cfg.Calibration,
		sleep: time.Sleep,
	}
	for _, opt := range opts {
		opt(s)
	}

	for _, ch := range uniq(cfg.Channels) {
		if err := a.Init(ch); err != nil {
			return nil, fmt.Errorf("failed to init ADC channel %d: %w", ch, err)
		}
	}

	return s, nil
}

// RawMean selects the channel, takes N raw readings and returns their
// integer mean. The division truncates.
func (s *Sampler) RawMean(channel int) uint16 {
	s.adc.Select(channel)

	var sum uint32
	for range s.n {
		sum += uint32(s.adc.Read())
		if s.delay > 0 {
			s.sleep(s.delay)
		}
	}

	return uint16(sum / uint32(s.n))
}

// Read returns one calibrated reading for the channel.
func (s *Sampler) Read(channel int) float32 {
	return s.cal.Apply(s.RawMean(channel))
}

// Calibration returns the calibration in use.
func (s *Sampler) Calibration() Calibration {
	return s.cal
}

func contains(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func uniq(list []int) []int {
	out := make([]int, 0, len(list))
	for _, v := range list {
		if !contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
