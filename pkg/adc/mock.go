package adc

import (
	"fmt"
	"sync"
)

// Ensure Mock implements ADC.
var _ ADC = (*Mock)(nil)

// Mock simulates an ADC for testing and development. Each channel returns its
// scripted values in order, cycling when the script is exhausted.
type Mock struct {
	mu       sync.Mutex
	values   map[int][]uint16
	pos      map[int]int
	inited   map[int]bool
	selected int
	reads    int
	selects  int
	maxRaw   uint16
}

// NewMock creates a mock ADC with the given resolution in bits.
func NewMock(bits int) *Mock {
	return &Mock{
		values:   make(map[int][]uint16),
		pos:      make(map[int]int),
		inited:   make(map[int]bool),
		selected: -1,
		maxRaw:   uint16(uint32(1)<<uint(bits) - 1),
	}
}

// Set scripts the raw values returned for a channel.
func (m *Mock) Set(channel int, values ...uint16) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.values[channel] = append([]uint16(nil), values...)
	m.pos[channel] = 0
}

// Init marks the channel as initialized.
func (m *Mock) Init(channel int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if channel < 0 {
		return fmt.Errorf("invalid channel %d", channel)
	}
	m.inited[channel] = true
	return nil
}

// Select switches the multiplexer to the channel.
func (m *Mock) Select(channel int) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.selected = channel
	m.selects++
}

// Read returns the next scripted value of the selected channel. Reading an
// uninitialized or unscripted channel returns 0.
func (m *Mock) Read() uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.reads++
	if !m.inited[m.selected] {
		return 0
	}

	vals := m.values[m.selected]
	if len(vals) == 0 {
		return 0
	}

	i := m.pos[m.selected]
	m.pos[m.selected] = (i + 1) % len(vals)

	v := vals[i]
	if v > m.maxRaw {
		v = m.maxRaw
	}
	return v
}

// Reads returns the total number of raw reads.
func (m *Mock) Reads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reads
}

// Selects returns the number of channel selections.
func (m *Mock) Selects() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.selects
}

// Initialized reports whether Init was called for the channel.
func (m *Mock) Initialized(channel int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inited[channel]
}
