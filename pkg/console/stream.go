package console

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/itohio/goei/pkg/capture"
)

var _ capture.Driver = (*Stream)(nil)

// Sample is one streamed reading.
type Sample struct {
	Timestamp time.Time // Zero when the line carries no timestamp
	Value     int16
}

// ParseLine parses one streamed line.
// Format: [unix_micros,]sample, the sample being a bias-free signed count.
// Example: 1234567890123,-512
func ParseLine(line string) (Sample, error) {
	parts := strings.Split(line, ",")
	if len(parts) > 2 {
		return Sample{}, fmt.Errorf("invalid line format: expected 1 or 2 comma-separated values, got %d", len(parts))
	}

	var s Sample
	if len(parts) == 2 {
		micros, err := strconv.ParseInt(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return Sample{}, fmt.Errorf("invalid timestamp: %w", err)
		}
		s.Timestamp = time.Unix(0, micros*1000)
	}

	v, err := strconv.ParseInt(strings.TrimSpace(parts[len(parts)-1]), 10, 32)
	if err != nil {
		return Sample{}, fmt.Errorf("invalid sample: %w", err)
	}
	if v < math.MinInt16 || v > math.MaxInt16 {
		return Sample{}, fmt.Errorf("sample out of range: %d", v)
	}
	s.Value = int16(v)
	return s, nil
}

// Stream is a capture driver fed by sample lines, e.g. a microcontroller
// printing its microphone readings over USB serial. The ready callback fires
// from the reading goroutine each time BufferSize samples have arrived.
type Stream struct {
	conn io.ReadCloser

	mu      sync.Mutex
	cfg     capture.DriverConfig
	block   []int16
	fill    int
	ready   func()
	done    chan struct{}
	started bool
	closed  bool
	bad     int
}

// OpenStream opens a serial port as a capture driver.
func OpenStream(name string, baudRate int) (*Stream, error) {
	port, err := open(name, baudRate)
	if err != nil {
		return nil, err
	}
	return NewStream(port), nil
}

// NewStream reads sample lines from conn. Stop closes conn.
func NewStream(conn io.ReadCloser) *Stream {
	return &Stream{conn: conn}
}

// Init validates and stores the configuration.
func (s *Stream) Init(cfg capture.DriverConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = cfg
	s.block = make([]int16, cfg.BufferSize)
	return nil
}

// SetReadyCallback registers fn.
func (s *Stream) SetReadyCallback(fn func()) {
	s.mu.Lock()
	s.ready = fn
	s.mu.Unlock()
}

// Start begins reading lines.
func (s *Stream) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.block == nil {
		return fmt.Errorf("%w: not initialized", capture.ErrDriver)
	}
	if s.started {
		return fmt.Errorf("%w: already started", capture.ErrDriver)
	}
	s.started = true
	s.done = make(chan struct{})

	go s.readSamples(s.done, s.ready)
	return nil
}

// Stop closes the connection and waits for the reader goroutine.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.closed = true
	done := s.done
	s.mu.Unlock()

	err := s.conn.Close()
	<-done
	return err
}

// Close stops the stream if it runs and closes the connection once.
func (s *Stream) Close() error {
	if err := s.Stop(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.conn.Close()
}

// Read copies the current block. Only valid inside the ready callback.
func (s *Stream) Read(block []int16) int {
	return copy(block, s.block[:s.fill])
}

// Rejected returns the number of lines that failed to parse.
func (s *Stream) Rejected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bad
}

func (s *Stream) readSamples(done chan struct{}, ready func()) {
	defer close(done)

	scanner := bufio.NewScanner(s.conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		sample, err := ParseLine(line)
		if err != nil {
			s.mu.Lock()
			s.bad++
			s.mu.Unlock()
			log.Printf("console: failed to parse line '%s': %v", line, err)
			continue
		}

		s.block[s.fill] = sample.Value
		s.fill++
		if s.fill < len(s.block) {
			continue
		}
		if ready != nil {
			ready()
		}
		s.fill = 0
	}

	if err := scanner.Err(); err != nil && err != io.EOF {
		log.Printf("console: stream ended: %v", err)
	}
}
