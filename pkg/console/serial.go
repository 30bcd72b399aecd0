// Package console connects the host to serial ports: a line sink for reports
// and a capture driver for samples streamed by a device.
package console

import (
	"fmt"
	"io"
	"log"
	"sync"

	"go.bug.st/serial"
)

// DefaultBaudRate is the USB CDC console rate of the firmware.
const DefaultBaudRate = 115200

// Port represents a serial port.
type Port struct {
	Name        string
	Description string
}

// Ports returns a list of available serial ports.
func Ports() ([]Port, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("failed to list serial ports: %w", err)
	}

	result := make([]Port, 0, len(ports))
	for _, name := range ports {
		result = append(result, Port{Name: name, Description: name})
	}
	return result, nil
}

func open(name string, baudRate int) (serial.Port, error) {
	if baudRate == 0 {
		baudRate = DefaultBaudRate
	}
	port, err := serial.Open(name, &serial.Mode{BaudRate: baudRate})
	if err != nil {
		return nil, fmt.Errorf("failed to open serial port %s: %w", name, err)
	}
	return port, nil
}

// Sink is a line-oriented writer. Writes are serialized so that reports from
// several goroutines do not interleave.
type Sink struct {
	mu   sync.Mutex
	conn io.WriteCloser
}

// Open opens the serial port as a report sink.
func Open(name string, baudRate int) (*Sink, error) {
	port, err := open(name, baudRate)
	if err != nil {
		return nil, err
	}
	log.Printf("console: writing reports to %s", name)
	return NewSink(port), nil
}

// NewSink wraps an already open connection.
func NewSink(conn io.WriteCloser) *Sink {
	return &Sink{conn: conn}
}

// Write writes p to the port.
func (s *Sink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return 0, fmt.Errorf("console: sink closed")
	}
	n, err := s.conn.Write(p)
	if err != nil {
		return n, fmt.Errorf("console: write failed: %w", err)
	}
	return n, nil
}

// Close closes the port. Closing twice is a no-op.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.conn == nil {
		return nil
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}
