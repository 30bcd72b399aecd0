// Package status drives the acquisition indicator.
package status

import (
	"fmt"
	"log"
	"sync"

	"github.com/itohio/goei/pkg/scheduler"
	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

var (
	_ scheduler.Indicator = (*LED)(nil)
	_ scheduler.Indicator = Noop{}
)

// Noop ignores every state change.
type Noop struct{}

// Set does nothing.
func (Noop) Set(bool) error { return nil }

// LED is a GPIO driven indicator.
type LED struct {
	pin      gpio.PinOut
	inverted bool

	mu sync.Mutex
	on bool
}

// Open initializes the periph host and looks the pin up by name, e.g.
// "GPIO17". Inverted pins are driven low for on.
func Open(name string, inverted bool) (*LED, error) {
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("status: periph host init: %w", err)
	}

	pin := gpioreg.ByName(name)
	if pin == nil {
		return nil, fmt.Errorf("status: unknown GPIO %q", name)
	}
	led, err := New(pin, inverted)
	if err != nil {
		return nil, err
	}
	log.Printf("status: indicator on %s", pin.Name())
	return led, nil
}

// New drives pin, starting in the off state.
func New(pin gpio.PinOut, inverted bool) (*LED, error) {
	l := &LED{pin: pin, inverted: inverted}
	if err := l.Set(false); err != nil {
		return nil, err
	}
	return l, nil
}

// Set switches the indicator.
func (l *LED) Set(on bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	level := gpio.Level(on != l.inverted)
	if err := l.pin.Out(level); err != nil {
		return fmt.Errorf("status: set %s to %v: %w", l.pin.Name(), level, err)
	}
	l.on = on
	return nil
}

// On reports the last state set.
func (l *LED) On() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.on
}
