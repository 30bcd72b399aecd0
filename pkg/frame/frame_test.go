package frame

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingReader returns a distinct value for every call.
type countingReader struct {
	calls    int
	channels []int
	delay    func()
}

func (r *countingReader) Read(channel int) float32 {
	r.calls++
	r.channels = append(r.channels, channel)
	if r.delay != nil {
		r.delay()
	}
	return float32(r.calls)
}

// fakeClock advances only when told to.
type fakeClock struct {
	t     time.Time
	waits []time.Duration
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) wait(_ context.Context, d time.Duration) error {
	c.waits = append(c.waits, d)
	c.t = c.t.Add(d)
	return nil
}

func TestNewBuffer_Shape(t *testing.T) {
	tests := []struct {
		name    string
		length  int
		stride  int
		wantErr bool
	}{
		{name: "99 by 3", length: 99, stride: 3},
		{name: "single stride", length: 1, stride: 1},
		{name: "not divisible", length: 100, stride: 3, wantErr: true},
		{name: "zero length", length: 0, stride: 3, wantErr: true},
		{name: "zero stride", length: 9, stride: 0, wantErr: true},
		{name: "negative", length: -3, stride: 3, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := NewBuffer(tt.length, tt.stride)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrShape)
				assert.Nil(t, b)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.length, b.Len())
			assert.Equal(t, tt.length/tt.stride, b.Strides())
		})
	}
}

func TestBuffer_WriteOnce(t *testing.T) {
	b, err := NewBuffer(4, 2)
	require.NoError(t, err)

	assert.False(t, b.Complete())
	assert.Nil(t, b.Values())

	for i := range 4 {
		require.NoError(t, b.Append(float32(i)))
	}
	assert.True(t, b.Complete())
	assert.Equal(t, []float32{0, 1, 2, 3}, b.Values())
	assert.ErrorIs(t, b.Append(4), ErrFull)

	b.Reset()
	assert.Equal(t, 0, b.Filled())
	assert.Equal(t, 4, b.Remaining())
	assert.Nil(t, b.Values())
}

func TestAssembler_FillsEverySlotOnce(t *testing.T) {
	r := &countingReader{}
	a, err := New(r, Config{Length: 99, Axes: AccelAxes(2), Rate: 50})
	require.NoError(t, err)

	buf := a.NewBuffer()
	stats, err := a.Fill(context.Background(), buf)
	require.NoError(t, err)

	assert.Equal(t, 33, stats.Strides)
	assert.Equal(t, 99, r.calls)
	assert.True(t, buf.Complete())
	assert.Equal(t, 0, buf.Remaining())

	vals := buf.Values()
	scales := []float32{StandardGravity, StandardGravity * 0.2, StandardGravity * 0.5}
	for i, v := range vals {
		assert.Equal(t, float32(i+1)*scales[i%3], v, "slot %d", i)
	}
	for _, ch := range r.channels {
		assert.Equal(t, 2, ch)
	}
}

func TestAssembler_PerAxisChannels(t *testing.T) {
	r := &countingReader{}
	a, err := New(r, Config{
		Length: 6,
		Axes:   []Axis{{Channel: 0, Scale: 1}, {Channel: 1, Scale: 1}},
		Rate:   100,
	})
	require.NoError(t, err)

	_, err = a.Fill(context.Background(), a.NewBuffer())
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 0, 1, 0, 1}, r.channels)
}

func TestNew_Validation(t *testing.T) {
	r := &countingReader{}

	_, err := New(r, Config{Length: 100, Axes: AccelAxes(2), Rate: 50})
	assert.ErrorIs(t, err, ErrShape)

	_, err = New(r, Config{Length: 99, Rate: 50})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = New(r, Config{Length: 99, Axes: AccelAxes(2)})
	assert.ErrorIs(t, err, ErrConfig)

	_, err = New(nil, Config{Length: 99, Axes: AccelAxes(2), Rate: 50})
	assert.ErrorIs(t, err, ErrConfig)

	assert.Equal(t, 0, r.calls, "validation must not sample")
}

func TestAssembler_RejectsMismatchedBuffer(t *testing.T) {
	a, err := New(&countingReader{}, Config{Length: 9, Axes: AccelAxes(0), Rate: 50})
	require.NoError(t, err)

	buf, err := NewBuffer(12, 3)
	require.NoError(t, err)

	_, err = a.Fill(context.Background(), buf)
	assert.ErrorIs(t, err, ErrShape)
}

func TestAssembler_SleepsUntilDeadline(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := &countingReader{}
	r.delay = func() { clock.t = clock.t.Add(2 * time.Millisecond) }

	a, err := New(r, Config{Length: 6, Axes: AccelAxes(0), Rate: 50, SleepToDeadline: true},
		WithClock(clock.now, clock.wait))
	require.NoError(t, err)
	assert.Equal(t, 20*time.Millisecond, a.Interval())

	stats, err := a.Fill(context.Background(), a.NewBuffer())
	require.NoError(t, err)

	// Three reads of 2ms each leave 14ms of every 20ms interval.
	assert.Equal(t, []time.Duration{14 * time.Millisecond, 14 * time.Millisecond}, clock.waits)
	assert.Equal(t, 0, stats.Overruns)
	assert.Equal(t, 40*time.Millisecond, stats.Elapsed)
	assert.InDelta(t, 50.0, stats.Rate(), 0.001)
}

func TestAssembler_OverrunSkewsRate(t *testing.T) {
	clock := &fakeClock{t: time.Unix(0, 0)}
	r := &countingReader{}
	r.delay = func() { clock.t = clock.t.Add(10 * time.Millisecond) }

	a, err := New(r, Config{Length: 6, Axes: AccelAxes(0), Rate: 50, SleepToDeadline: true},
		WithClock(clock.now, clock.wait))
	require.NoError(t, err)

	stats, err := a.Fill(context.Background(), a.NewBuffer())
	require.NoError(t, err)

	assert.Empty(t, clock.waits)
	assert.Equal(t, 2, stats.Overruns)
	assert.Equal(t, 60*time.Millisecond, stats.Elapsed)
	assert.Less(t, stats.Rate(), 50.0)
}

func TestAssembler_Cancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	r := &countingReader{}
	r.delay = func() {
		if r.calls == 3 {
			cancel()
		}
	}

	a, err := New(r, Config{Length: 9, Axes: AccelAxes(0), Rate: 50})
	require.NoError(t, err)

	buf := a.NewBuffer()
	stats, err := a.Fill(ctx, buf)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, stats.Strides)
	assert.False(t, buf.Complete())
}

func TestSleep_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, Sleep(ctx, time.Hour), context.Canceled)
}

func TestAssembler_AcquireReportsStats(t *testing.T) {
	var got []Stats
	clk := &fakeClock{t: time.Unix(0, 0)}
	a, err := New(&countingReader{}, Config{Length: 9, Axes: AccelAxes(0), Rate: 10, SleepToDeadline: true},
		WithClock(clk.now, clk.wait),
		WithFillHook(func(s Stats) { got = append(got, s) }))
	require.NoError(t, err)

	buf := a.NewBuffer()
	require.NoError(t, a.Acquire(context.Background(), buf))
	require.NoError(t, a.Acquire(context.Background(), buf))

	require.Len(t, got, 2)
	assert.Equal(t, 3, got[1].Strides)
	assert.Equal(t, 300*time.Millisecond, got[1].Elapsed)
	assert.Equal(t, 0, got[1].Overruns)
}
