// Package frame holds the fixed-length window handed to inference and the
// assembler that fills it from per-axis readings.
package frame

import (
	"errors"
	"fmt"
)

var (
	// ErrShape is returned when the length is not a positive multiple of the stride.
	ErrShape = errors.New("frame: length must be a positive multiple of the stride")
	// ErrFull is returned when writing past the end of a buffer.
	ErrFull = errors.New("frame: buffer full")
)

// Buffer is a fixed-length sequence of values partitioned into strides of
// equal width. Slots are written in order through Append, each exactly once
// per cycle; Reset begins a new cycle.
type Buffer struct {
	values []float32
	stride int
	filled int
}

// NewBuffer allocates a buffer of length values grouped in strides of the given width.
func NewBuffer(length, stride int) (*Buffer, error) {
	if err := CheckShape(length, stride); err != nil {
		return nil, err
	}
	return &Buffer{
		values: make([]float32, length),
		stride: stride,
	}, nil
}

// CheckShape validates a frame length against a stride width.
func CheckShape(length, stride int) error {
	if length <= 0 || stride <= 0 || length%stride != 0 {
		return fmt.Errorf("%w: length %d, stride %d", ErrShape, length, stride)
	}
	return nil
}

// Reset rewinds the write cursor. Previous values stay in place until overwritten.
func (b *Buffer) Reset() {
	b.filled = 0
}

// Append writes the next slot.
func (b *Buffer) Append(v float32) error {
	if b.filled >= len(b.values) {
		return ErrFull
	}
	b.values[b.filled] = v
	b.filled++
	return nil
}

// Len returns the total number of slots.
func (b *Buffer) Len() int {
	return len(b.values)
}

// Stride returns the number of slots per sampling instant.
func (b *Buffer) Stride() int {
	return b.stride
}

// Strides returns the number of sampling instants the buffer holds.
func (b *Buffer) Strides() int {
	return len(b.values) / b.stride
}

// Filled returns the number of slots written since the last Reset.
func (b *Buffer) Filled() int {
	return b.filled
}

// Remaining returns the number of slots still to be written.
func (b *Buffer) Remaining() int {
	return len(b.values) - b.filled
}

// Complete reports whether every slot has been written.
func (b *Buffer) Complete() bool {
	return b.filled == len(b.values)
}

// Values returns the underlying values once the buffer is complete, nil otherwise.
// The slice is only valid until the next Reset.
func (b *Buffer) Values() []float32 {
	if !b.Complete() {
		return nil
	}
	return b.values
}
