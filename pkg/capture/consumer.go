package capture

import (
	"context"
	"fmt"
	"log"
	"runtime"
	"sync/atomic"

	"github.com/itohio/goei/pkg/frame"
)

// WaitMode selects how the consumer waits for a block.
type WaitMode string

const (
	// WaitBlock sleeps on the handoff's notification channel.
	WaitBlock WaitMode = "block"
	// WaitPoll spins cooperatively on the readiness flag.
	WaitPoll WaitMode = "poll"
)

// ParseWaitMode validates a wait mode name. Empty selects WaitBlock.
func ParseWaitMode(s string) (WaitMode, error) {
	switch WaitMode(s) {
	case WaitBlock, "":
		return WaitBlock, nil
	case WaitPoll:
		return WaitPoll, nil
	default:
		return "", fmt.Errorf("capture: unknown wait mode %q", s)
	}
}

// Consumer drains blocks from a Handoff into frame buffers.
type Consumer struct {
	handoff Handoff
	wait    WaitMode

	seenOverruns uint64
	dropped      atomic.Uint64
	blocks       atomic.Uint64
	onDrop       func(n int)
}

// ConsumerOption customizes a Consumer.
type ConsumerOption func(*Consumer)

// WithDropHook is called with the number of samples dropped at the end of a frame.
func WithDropHook(fn func(n int)) ConsumerOption {
	return func(c *Consumer) {
		c.onDrop = fn
	}
}

// NewConsumer creates a consumer of h.
func NewConsumer(h Handoff, wait WaitMode, opts ...ConsumerOption) *Consumer {
	if wait == "" {
		wait = WaitBlock
	}
	c := &Consumer{
		handoff: h,
		wait:    wait,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Next waits for a block and claims it. The caller must call Release when it
// is done with the block. It returns ctx.Err() when ctx is done.
func (c *Consumer) Next(ctx context.Context) ([]int16, error) {
	for {
		if block, ok := c.handoff.Claim(); ok {
			c.blocks.Add(1)
			c.reportOverruns()
			return block, nil
		}

		switch c.wait {
		case WaitPoll:
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			runtime.Gosched()
		default:
			select {
			case <-c.handoff.Notify():
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
}

// Release hands the claimed block back to the producer.
func (c *Consumer) Release() {
	c.handoff.Release()
}

// Acquire resets buf and fills it from consecutive blocks, widening each raw
// sample to float32 unscaled. Samples that do not fit the remaining room of
// the frame are dropped.
func (c *Consumer) Acquire(ctx context.Context, buf *frame.Buffer) error {
	buf.Reset()

	for buf.Remaining() > 0 {
		block, err := c.Next(ctx)
		if err != nil {
			return err
		}

		n := min(len(block), buf.Remaining())
		for _, v := range block[:n] {
			if err := buf.Append(float32(v)); err != nil {
				c.Release()
				return err
			}
		}
		c.Release()

		if extra := len(block) - n; extra > 0 {
			c.dropped.Add(uint64(extra))
			if c.onDrop != nil {
				c.onDrop(extra)
			}
		}
	}
	return nil
}

// Dropped returns the number of samples that did not fit a frame.
func (c *Consumer) Dropped() uint64 {
	return c.dropped.Load()
}

// Blocks returns the number of blocks claimed.
func (c *Consumer) Blocks() uint64 {
	return c.blocks.Load()
}

// Overruns returns the handoff's overrun count.
func (c *Consumer) Overruns() uint64 {
	return c.handoff.Overruns()
}

func (c *Consumer) reportOverruns() {
	total := c.handoff.Overruns()
	if total > c.seenOverruns {
		log.Printf("capture: overrun, %d block(s) lost (%d total)", total-c.seenOverruns, total)
		c.seenOverruns = total
	}
}
