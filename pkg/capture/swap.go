package capture

import "sync/atomic"

// Swap state layout: sample count in bits 0-31, pending buffer (index+1) in
// bits 32-33, draining buffer (index+1) in bits 34-35. Zero means none.
const (
	swapPendingShift  = 32
	swapDrainingShift = 34
	swapSlotMask      = 0x3
)

func swapState(pending, draining, count int) uint64 {
	return uint64(draining)<<swapDrainingShift | uint64(pending)<<swapPendingShift | uint64(uint32(count))
}

func swapFields(s uint64) (pending, draining, count int) {
	return int(s >> swapPendingShift & swapSlotMask), int(s >> swapDrainingShift & swapSlotMask), int(uint32(s))
}

// Swap is a double-buffered handoff. The producer always writes a buffer the
// consumer does not hold, then publishes it as pending. When the consumer
// holds one buffer and the other is still pending, the producer revokes the
// pending block and reuses its buffer: the newest block wins and the revoked
// one is counted as an overrun. A block being drained is never overwritten.
type Swap struct {
	blocks    [2][]int16
	state     atomic.Uint64
	overruns  atomic.Uint64
	notify    chan struct{}
	onOverrun func(total uint64)
}

// NewSwap creates a double-buffered handoff for blocks of size samples.
func NewSwap(size int, opts ...HandoffOption) *Swap {
	var o handoffOpts
	for _, opt := range opts {
		opt(&o)
	}
	return &Swap{
		blocks:    [2][]int16{make([]int16, size), make([]int16, size)},
		notify:    make(chan struct{}, 1),
		onOverrun: o.onOverrun,
	}
}

// Produce fills a free buffer from read and publishes it.
func (h *Swap) Produce(read func(block []int16) int) {
	w := h.writable()

	n := clampCount(read(h.blocks[w]), len(h.blocks[w]))
	if n == 0 {
		return
	}

	for {
		s := h.state.Load()
		pending, draining, _ := swapFields(s)
		if h.state.CompareAndSwap(s, swapState(w+1, draining, n)) {
			if pending != 0 {
				h.lost()
			}
			break
		}
	}
	wake(h.notify)
}

// writable returns the index of a buffer neither pending nor draining,
// revoking the pending block if both are taken.
func (h *Swap) writable() int {
	for {
		s := h.state.Load()
		pending, draining, _ := swapFields(s)
		for i := range h.blocks {
			if i+1 != pending && i+1 != draining {
				return i
			}
		}
		if h.state.CompareAndSwap(s, swapState(0, draining, 0)) {
			h.lost()
			return pending - 1
		}
	}
}

// Claim takes the pending block, if any.
func (h *Swap) Claim() ([]int16, bool) {
	for {
		s := h.state.Load()
		pending, _, n := swapFields(s)
		if pending == 0 {
			return nil, false
		}
		if h.state.CompareAndSwap(s, swapState(0, pending, 0)) {
			return h.blocks[pending-1][:n], true
		}
	}
}

// Release returns the drained buffer to the producer.
func (h *Swap) Release() {
	for {
		s := h.state.Load()
		pending, _, n := swapFields(s)
		if h.state.CompareAndSwap(s, swapState(pending, 0, n)) {
			return
		}
	}
}

// Notify returns a channel that receives after a block is published.
func (h *Swap) Notify() <-chan struct{} {
	return h.notify
}

// BlockSize returns the buffer capacity in samples.
func (h *Swap) BlockSize() int {
	return len(h.blocks[0])
}

// Overruns returns the number of published blocks replaced before they were claimed.
func (h *Swap) Overruns() uint64 {
	return h.overruns.Load()
}

func (h *Swap) lost() {
	total := h.overruns.Add(1)
	if h.onOverrun != nil {
		h.onOverrun(total)
	}
}
