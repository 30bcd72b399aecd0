package signal

import (
	"bytes"
	"testing"

	"github.com/itohio/goei/pkg/frame"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func filledBuffer(t *testing.T, length, stride int) *frame.Buffer {
	t.Helper()
	b, err := frame.NewBuffer(length, stride)
	require.NoError(t, err)
	for i := range length {
		require.NoError(t, b.Append(float32(i)*0.5-3))
	}
	return b
}

func TestFromBuffer_RoundTrip(t *testing.T) {
	b := filledBuffer(t, 12, 3)
	sig, err := FromBuffer(b)
	require.NoError(t, err)
	assert.Equal(t, 12, sig.TotalLength)

	want := b.Values()
	for offset := 0; offset <= 12; offset++ {
		for length := 0; offset+length <= 12; length++ {
			out := make([]float32, length)
			require.NoError(t, sig.Read(offset, out))
			assert.Equal(t, want[offset:offset+length], out, "offset %d length %d", offset, length)

			// Repeated reads see the same data.
			again := make([]float32, length)
			require.NoError(t, sig.Read(offset, again))
			assert.Equal(t, out, again)
		}
	}
}

func TestRead_OutOfRange(t *testing.T) {
	sig := FromSlice([]float32{1, 2, 3, 4})

	tests := []struct {
		name   string
		offset int
		length int
	}{
		{name: "past end", offset: 2, length: 3},
		{name: "offset at end", offset: 4, length: 1},
		{name: "negative offset", offset: -1, length: 1},
		{name: "too long", offset: 0, length: 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := make([]float32, tt.length)
			err := sig.Read(tt.offset, out)
			assert.ErrorIs(t, err, ErrOutOfRange)
		})
	}
}

func TestRead_CopiesOut(t *testing.T) {
	vals := []float32{1, 2, 3}
	sig := FromSlice(vals)

	out := make([]float32, 3)
	require.NoError(t, sig.Read(0, out))
	out[0] = 42
	assert.Equal(t, float32(1), vals[0])
}

func TestFromBuffer_Incomplete(t *testing.T) {
	b, err := frame.NewBuffer(6, 3)
	require.NoError(t, err)
	require.NoError(t, b.Append(1))

	_, err = FromBuffer(b)
	assert.ErrorIs(t, err, ErrIncomplete)
}

func TestStorageRoundTrip(t *testing.T) {
	b := filledBuffer(t, 600, 3)
	mem, err := FromBuffer(b)
	require.NoError(t, err)

	var raw bytes.Buffer
	n, err := WriteTo(&raw, mem)
	require.NoError(t, err)
	assert.Equal(t, int64(600*4), n)

	stored := FromReaderAt(bytes.NewReader(raw.Bytes()), 600)
	out := make([]float32, 37)
	require.NoError(t, stored.Read(300, out))
	assert.Equal(t, b.Values()[300:337], out)

	assert.ErrorIs(t, stored.Read(590, make([]float32, 11)), ErrOutOfRange)
}

func TestFromReaderAt_ShortStorage(t *testing.T) {
	stored := FromReaderAt(bytes.NewReader(make([]byte, 8)), 4)
	err := stored.Read(0, make([]float32, 4))
	assert.Error(t, err)
	assert.NotErrorIs(t, err, ErrOutOfRange)
}
