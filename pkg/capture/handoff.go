// Package capture hands fixed-size raw sample blocks from a driver callback
// to a consumer loop without locks.
package capture

import (
	"fmt"
	"sync/atomic"
)

// Handoff passes completed blocks from one producer to one consumer.
//
// Produce is called from the driver's ready callback and never blocks. Claim
// and Release bracket the consumer's use of a block: the returned slice must
// not be used after Release.
type Handoff interface {
	Produce(read func(block []int16) int)
	Claim() ([]int16, bool)
	Release()
	Notify() <-chan struct{}
	BlockSize() int
	Overruns() uint64
}

// Policy selects a Handoff implementation.
type Policy string

const (
	// PolicySingle is one lossy slot; a block produced while the previous one
	// is pending or being drained overwrites it.
	PolicySingle Policy = "single"
	// PolicySwap double-buffers so the consumer never sees a block being overwritten.
	PolicySwap Policy = "swap"
)

// HandoffOption customizes a handoff.
type HandoffOption func(*handoffOpts)

type handoffOpts struct {
	onOverrun func(total uint64)
}

// WithOverrunHook registers fn to be called from the producer context each
// time a block is lost. fn must not block.
func WithOverrunHook(fn func(total uint64)) HandoffOption {
	return func(o *handoffOpts) {
		o.onOverrun = fn
	}
}

// NewHandoff creates the handoff selected by policy.
func NewHandoff(policy Policy, blockSize int, opts ...HandoffOption) (Handoff, error) {
	if blockSize <= 0 {
		return nil, fmt.Errorf("capture: block size must be positive, got %d", blockSize)
	}
	switch policy {
	case PolicySingle, "":
		return NewSingle(blockSize, opts...), nil
	case PolicySwap:
		return NewSwap(blockSize, opts...), nil
	default:
		return nil, fmt.Errorf("capture: unknown handoff policy %q", policy)
	}
}

// Single state layout: sample count in the low 32 bits, draining flag above.
const singleDraining = uint64(1) << 32

// Single is the single-slot handoff. The readiness flag holds the number of
// samples in the block; the producer sets it and the consumer clears it.
type Single struct {
	block     []int16
	state     atomic.Uint64
	overruns  atomic.Uint64
	notify    chan struct{}
	onOverrun func(total uint64)
}

// NewSingle creates a single-slot handoff for blocks of size samples.
func NewSingle(size int, opts ...HandoffOption) *Single {
	var o handoffOpts
	for _, opt := range opts {
		opt(&o)
	}
	return &Single{
		block:     make([]int16, size),
		notify:    make(chan struct{}, 1),
		onOverrun: o.onOverrun,
	}
}

// Produce copies one block from read into the slot and sets the readiness
// flag. A pending or draining block is overwritten and counted as an overrun.
func (h *Single) Produce(read func(block []int16) int) {
	n := clampCount(read(h.block), len(h.block))
	if n == 0 {
		return
	}

	for {
		s := h.state.Load()
		if h.state.CompareAndSwap(s, s&singleDraining|uint64(n)) {
			if s != 0 {
				h.lost()
			}
			break
		}
	}
	wake(h.notify)
}

// Claim reads and clears the readiness flag.
func (h *Single) Claim() ([]int16, bool) {
	for {
		s := h.state.Load()
		n := int(uint32(s))
		if n == 0 {
			return nil, false
		}
		if h.state.CompareAndSwap(s, singleDraining) {
			return h.block[:n], true
		}
	}
}

// Release ends the drain of the claimed block.
func (h *Single) Release() {
	for {
		s := h.state.Load()
		if h.state.CompareAndSwap(s, s&^singleDraining) {
			return
		}
	}
}

// Notify returns a channel that receives after a block is published.
func (h *Single) Notify() <-chan struct{} {
	return h.notify
}

// BlockSize returns the slot capacity in samples.
func (h *Single) BlockSize() int {
	return len(h.block)
}

// Overruns returns the number of blocks overwritten before they were drained.
func (h *Single) Overruns() uint64 {
	return h.overruns.Load()
}

func (h *Single) lost() {
	total := h.overruns.Add(1)
	if h.onOverrun != nil {
		h.onOverrun(total)
	}
}

func clampCount(n, limit int) int {
	if n < 0 {
		return 0
	}
	if n > limit {
		return limit
	}
	return n
}

func wake(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
