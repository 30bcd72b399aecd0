package capture

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

// Ensure the drivers implement Driver.
var (
	_ Driver = (*Mock)(nil)
	_ Driver = (*Manual)(nil)
)

// MockConfig describes the synthetic microphone signal.
type MockConfig struct {
	ToneHz    float64 // Frequency of the tone
	Amplitude float64 // Tone amplitude in raw counts
	Noise     float64 // Peak noise in raw counts
}

// Mock simulates a microphone driver. It generates a tone with noise at the
// configured sample rate and fires the ready callback from its own goroutine
// once per block.
type Mock struct {
	cfg   MockConfig
	drv   DriverConfig
	block []int16
	phase float64
	rng   *rand.Rand

	mu      sync.Mutex
	ready   func()
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewMock creates a mocked capture driver.
func NewMock(cfg MockConfig) *Mock {
	if cfg.ToneHz == 0 {
		cfg.ToneHz = 440
	}
	if cfg.Amplitude == 0 {
		cfg.Amplitude = 1000
	}
	return &Mock{
		cfg: cfg,
		rng: rand.New(rand.NewPCG(1, 2)),
	}
}

// Init validates and stores the configuration.
func (m *Mock) Init(cfg DriverConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	m.drv = cfg
	m.block = make([]int16, cfg.BufferSize)
	return nil
}

// SetReadyCallback registers fn.
func (m *Mock) SetReadyCallback(fn func()) {
	m.mu.Lock()
	m.ready = fn
	m.mu.Unlock()
}

// Start begins generating blocks.
func (m *Mock) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.block == nil {
		return fmt.Errorf("%w: not initialized", ErrDriver)
	}
	if m.started {
		return fmt.Errorf("%w: already started", ErrDriver)
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.done = make(chan struct{})
	m.started = true

	go m.generate(m.ctx, m.done, m.ready)
	return nil
}

// Stop ends generation and waits for the generator goroutine.
func (m *Mock) Stop() error {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = false
	m.cancel()
	done := m.done
	m.mu.Unlock()

	<-done
	return nil
}

// Read copies the current block. Only valid inside the ready callback.
func (m *Mock) Read(block []int16) int {
	return copy(block, m.block)
}

func (m *Mock) generate(ctx context.Context, done chan struct{}, ready func()) {
	defer close(done)

	period := time.Duration(float64(time.Second) * float64(m.drv.BufferSize) / float64(m.drv.SampleRate))
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	step := 2 * math.Pi * m.cfg.ToneHz / float64(m.drv.SampleRate)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i := range m.block {
				v := m.cfg.Amplitude*math.Sin(m.phase) + m.cfg.Noise*(2*m.rng.Float64()-1)
				m.block[i] = int16(max(math.MinInt16, min(math.MaxInt16, v)))
				m.phase += step
			}
			m.phase = math.Mod(m.phase, 2*math.Pi)
			if ready != nil {
				ready()
			}
		}
	}
}

// Manual is a driver for tests: each Fire delivers one block synchronously
// through the ready callback.
type Manual struct {
	mu      sync.Mutex
	cfg     DriverConfig
	ready   func()
	current []int16
	started bool
	fired   int
}

// NewManual creates a manual driver.
func NewManual() *Manual {
	return &Manual{}
}

// Init stores the configuration.
func (d *Manual) Init(cfg DriverConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	d.mu.Lock()
	d.cfg = cfg
	d.mu.Unlock()
	return nil
}

// SetReadyCallback registers fn.
func (d *Manual) SetReadyCallback(fn func()) {
	d.mu.Lock()
	d.ready = fn
	d.mu.Unlock()
}

// Start enables Fire.
func (d *Manual) Start() error {
	d.mu.Lock()
	d.started = true
	d.mu.Unlock()
	return nil
}

// Stop disables Fire.
func (d *Manual) Stop() error {
	d.mu.Lock()
	d.started = false
	d.mu.Unlock()
	return nil
}

// Fire delivers samples as one ready block. It reports false when the driver
// is not started.
func (d *Manual) Fire(samples []int16) bool {
	d.mu.Lock()
	if !d.started || d.ready == nil {
		d.mu.Unlock()
		return false
	}
	d.current = samples
	d.fired++
	ready := d.ready
	d.mu.Unlock()

	ready()
	return true
}

// Fired returns the number of delivered blocks.
func (d *Manual) Fired() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fired
}

// Read copies the block being delivered.
func (d *Manual) Read(block []int16) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return copy(block, d.current)
}
