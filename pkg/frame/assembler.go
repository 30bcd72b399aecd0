package frame

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// ErrConfig is returned for an invalid assembler configuration.
var ErrConfig = errors.New("frame: invalid assembler configuration")

// StandardGravity converts g to m/s².
const StandardGravity = 9.80665

// Reader yields one calibrated reading for a channel.
// *adc.Sampler satisfies it.
type Reader interface {
	Read(channel int) float32
}

// Axis is one slot of a stride: the channel it reads and the factor applied
// after calibration.
type Axis struct {
	Channel int
	Scale   float32
}

// AccelAxes returns three axes on one channel converting g to m/s², with the
// relative gains of the reference accelerometer board.
func AccelAxes(channel int) []Axis {
	return []Axis{
		{Channel: channel, Scale: StandardGravity},
		{Channel: channel, Scale: StandardGravity * 0.2},
		{Channel: channel, Scale: StandardGravity * 0.5},
	}
}

// Config describes the frame to assemble.
type Config struct {
	Length          int     // Total number of values in a frame
	Axes            []Axis  // One entry per slot of a stride
	Rate            float64 // Target strides per second
	SleepToDeadline bool    // Wait for the next stride deadline after sampling
}

// Stats describes one Fill.
type Stats struct {
	Strides  int           // Strides written
	Overruns int           // Strides whose sampling took longer than the interval
	Elapsed  time.Duration // Wall time of the fill
}

// Rate returns the achieved strides per second.
func (s Stats) Rate() float64 {
	if s.Elapsed <= 0 {
		return 0
	}
	return float64(s.Strides) / s.Elapsed.Seconds()
}

// Assembler fills frame buffers stride by stride at a target cadence.
type Assembler struct {
	reader   Reader
	axes     []Axis
	length   int
	interval time.Duration
	sleep    bool
	now      func() time.Time
	wait     func(ctx context.Context, d time.Duration) error
	onFill   func(Stats)
}

// Option customizes an Assembler.
type Option func(*Assembler)

// WithClock replaces the time source and the context-aware wait.
func WithClock(now func() time.Time, wait func(ctx context.Context, d time.Duration) error) Option {
	return func(a *Assembler) {
		if now != nil {
			a.now = now
		}
		if wait != nil {
			a.wait = wait
		}
	}
}

// WithFillHook is called with the stats of every Acquire.
func WithFillHook(fn func(Stats)) Option {
	return func(a *Assembler) {
		a.onFill = fn
	}
}

// New validates cfg and creates an Assembler.
func New(reader Reader, cfg Config, opts ...Option) (*Assembler, error) {
	if reader == nil {
		return nil, fmt.Errorf("%w: no reader", ErrConfig)
	}
	if len(cfg.Axes) == 0 {
		return nil, fmt.Errorf("%w: at least one axis required", ErrConfig)
	}
	if err := CheckShape(cfg.Length, len(cfg.Axes)); err != nil {
		return nil, err
	}
	if cfg.Rate <= 0 {
		return nil, fmt.Errorf("%w: rate must be positive, got %v", ErrConfig, cfg.Rate)
	}

	a := &Assembler{
		reader:   reader,
		axes:     append([]Axis(nil), cfg.Axes...),
		length:   cfg.Length,
		interval: time.Duration(float64(time.Second) / cfg.Rate),
		sleep:    cfg.SleepToDeadline,
		now:      time.Now,
		wait:     Sleep,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Interval returns the target time between strides.
func (a *Assembler) Interval() time.Duration {
	return a.interval
}

// Length returns the configured frame length.
func (a *Assembler) Length() int {
	return a.length
}

// Stride returns the number of axes per stride.
func (a *Assembler) Stride() int {
	return len(a.axes)
}

// NewBuffer allocates a buffer shaped for this assembler.
func (a *Assembler) NewBuffer() *Buffer {
	b, _ := NewBuffer(a.length, len(a.axes))
	return b
}

// Fill resets buf and writes every slot. The deadline of each stride is taken
// before sampling it; sampling that takes longer than the interval is counted
// but not compensated. Cancellation between strides leaves buf incomplete.
func (a *Assembler) Fill(ctx context.Context, buf *Buffer) (Stats, error) {
	if buf.Len() != a.length || buf.Stride() != len(a.axes) {
		return Stats{}, fmt.Errorf("%w: buffer %dx%d, assembler %dx%d",
			ErrShape, buf.Strides(), buf.Stride(), a.length/len(a.axes), len(a.axes))
	}

	buf.Reset()
	var stats Stats
	start := a.now()

	for buf.Remaining() > 0 {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		deadline := a.now().Add(a.interval)

		for _, axis := range a.axes {
			if err := buf.Append(a.reader.Read(axis.Channel) * axis.Scale); err != nil {
				return stats, err
			}
		}
		stats.Strides++

		left := deadline.Sub(a.now())
		if left < 0 {
			stats.Overruns++
		} else if a.sleep {
			if err := a.wait(ctx, left); err != nil {
				return stats, err
			}
		}
	}

	stats.Elapsed = a.now().Sub(start)
	return stats, nil
}

// Acquire fills buf, reporting the stats to the fill hook.
func (a *Assembler) Acquire(ctx context.Context, buf *Buffer) error {
	stats, err := a.Fill(ctx, buf)
	if err != nil {
		return err
	}
	if stats.Overruns > 0 {
		log.Printf("frame: %d of %d strides overran %v", stats.Overruns, stats.Strides, a.interval)
	}
	if a.onFill != nil {
		a.onFill(stats)
	}
	return nil
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
