// Package signal exposes a completed frame as a pull-based, offset-addressable
// data source of known length.
package signal

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/itohio/goei/pkg/frame"
)

var (
	// ErrOutOfRange is returned for reads past the end of the signal.
	ErrOutOfRange = errors.New("signal: read out of range")
	// ErrIncomplete is returned when adapting a frame that is not fully written.
	ErrIncomplete = errors.New("signal: frame is incomplete")
)

// Signal is a read-only view of TotalLength values. GetData copies
// len(out) values starting at offset into out; callers should use Read,
// which checks bounds first.
type Signal struct {
	TotalLength int
	GetData     func(offset int, out []float32) error
}

// Read copies len(out) values starting at offset into out.
func (s *Signal) Read(offset int, out []float32) error {
	if offset < 0 || offset+len(out) > s.TotalLength {
		return fmt.Errorf("%w: offset %d, length %d, total %d", ErrOutOfRange, offset, len(out), s.TotalLength)
	}
	if len(out) == 0 {
		return nil
	}
	return s.GetData(offset, out)
}

// FromBuffer adapts a completed frame. The signal is valid until the buffer
// is reset for the next cycle.
func FromBuffer(b *frame.Buffer) (*Signal, error) {
	vals := b.Values()
	if vals == nil {
		return nil, fmt.Errorf("%w: %d of %d slots written", ErrIncomplete, b.Filled(), b.Len())
	}
	return FromSlice(vals), nil
}

// FromSlice adapts an in-memory slice.
func FromSlice(vals []float32) *Signal {
	return &Signal{
		TotalLength: len(vals),
		GetData: func(offset int, out []float32) error {
			copy(out, vals[offset:offset+len(out)])
			return nil
		},
	}
}

// FromReaderAt adapts total little-endian float32 values stored in r, for
// frames kept in storage rather than in memory.
func FromReaderAt(r io.ReaderAt, total int) *Signal {
	return &Signal{
		TotalLength: total,
		GetData: func(offset int, out []float32) error {
			raw := make([]byte, 4*len(out))
			if _, err := r.ReadAt(raw, int64(offset)*4); err != nil {
				return fmt.Errorf("signal: read storage at %d: %w", offset, err)
			}
			for i := range out {
				out[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[4*i:]))
			}
			return nil
		},
	}
}

// WriteTo writes every value of s to w as little-endian float32, the layout
// FromReaderAt reads.
func WriteTo(w io.Writer, s *Signal) (int64, error) {
	const chunk = 256

	var (
		n   int64
		buf = make([]float32, chunk)
		raw = make([]byte, 4*chunk)
	)
	for off := 0; off < s.TotalLength; off += chunk {
		size := min(chunk, s.TotalLength-off)
		if err := s.Read(off, buf[:size]); err != nil {
			return n, err
		}
		for i, v := range buf[:size] {
			binary.LittleEndian.PutUint32(raw[4*i:], math.Float32bits(v))
		}
		m, err := w.Write(raw[:4*size])
		n += int64(m)
		if err != nil {
			return n, fmt.Errorf("signal: write: %w", err)
		}
	}
	return n, nil
}
