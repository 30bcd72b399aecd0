package capture

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func startManual(t *testing.T, h Handoff) *Manual {
	t.Helper()
	d := NewManual()
	c, err := New(d, DriverConfig{SampleRate: 8000, BufferSize: h.BlockSize()}, h)
	require.NoError(t, err)
	require.NoError(t, c.Start())
	t.Cleanup(func() { c.Stop() })
	return d
}

func block(n int, v int16) []int16 {
	b := make([]int16, n)
	for i := range b {
		b[i] = v
	}
	return b
}

func TestNewHandoff(t *testing.T) {
	h, err := NewHandoff(PolicySingle, 16)
	require.NoError(t, err)
	assert.IsType(t, &Single{}, h)

	h, err = NewHandoff(PolicySwap, 16)
	require.NoError(t, err)
	assert.IsType(t, &Swap{}, h)

	_, err = NewHandoff("triple", 16)
	assert.Error(t, err)

	_, err = NewHandoff(PolicySwap, 0)
	assert.Error(t, err)
}

func TestHandoff_OrderedWithoutLoss(t *testing.T) {
	for _, policy := range []Policy{PolicySingle, PolicySwap} {
		t.Run(string(policy), func(t *testing.T) {
			h, err := NewHandoff(policy, 8)
			require.NoError(t, err)
			d := startManual(t, h)

			counts := []int{8, 3, 5, 1, 8, 2}
			var seen []int
			for i, n := range counts {
				require.True(t, d.Fire(block(n, int16(i+1))))

				got, ok := h.Claim()
				require.True(t, ok)
				seen = append(seen, len(got))
				assert.Equal(t, block(n, int16(i+1)), got)
				h.Release()

				_, ok = h.Claim()
				assert.False(t, ok, "flag must be cleared after claim")
			}

			assert.Equal(t, counts, seen)
			assert.Equal(t, uint64(0), h.Overruns())
		})
	}
}

func TestSingle_LostUpdate(t *testing.T) {
	h := NewSingle(4)
	d := startManual(t, h)

	// The consumer is delayed past a second ready event.
	d.Fire([]int16{1, 1, 1, 1})
	d.Fire([]int16{2, 2})

	got, ok := h.Claim()
	require.True(t, ok)
	assert.Equal(t, []int16{2, 2}, got, "second block overwrites the first")
	assert.Equal(t, uint64(1), h.Overruns())
	h.Release()

	_, ok = h.Claim()
	assert.False(t, ok)
}

func TestSingle_OverwriteWhileDraining(t *testing.T) {
	h := NewSingle(4)
	d := startManual(t, h)

	d.Fire([]int16{1, 2, 3, 4})
	got, ok := h.Claim()
	require.True(t, ok)

	d.Fire([]int16{9, 9, 9, 9})
	assert.Equal(t, []int16{9, 9, 9, 9}, got, "block is overwritten under the consumer")
	assert.Equal(t, uint64(1), h.Overruns())
	h.Release()

	got, ok = h.Claim()
	require.True(t, ok)
	assert.Len(t, got, 4)
	h.Release()
}

func TestSwap_NewestWins(t *testing.T) {
	h := NewSwap(4)
	d := startManual(t, h)

	d.Fire([]int16{1, 1, 1, 1})
	d.Fire([]int16{2, 2, 2})

	got, ok := h.Claim()
	require.True(t, ok)
	assert.Equal(t, []int16{2, 2, 2}, got)
	assert.Equal(t, uint64(1), h.Overruns())
	h.Release()
}

func TestSwap_DrainingBlockIsNeverOverwritten(t *testing.T) {
	h := NewSwap(4)
	d := startManual(t, h)

	d.Fire([]int16{1, 2, 3, 4})
	got, ok := h.Claim()
	require.True(t, ok)

	d.Fire([]int16{5, 5, 5, 5})
	d.Fire([]int16{6, 6, 6, 6}) // both buffers taken: revokes the pending block
	assert.Equal(t, []int16{1, 2, 3, 4}, got)
	assert.Equal(t, uint64(1), h.Overruns())
	h.Release()

	got, ok = h.Claim()
	require.True(t, ok)
	assert.Equal(t, []int16{6, 6, 6, 6}, got)
	h.Release()
}

func TestHandoff_OverrunHook(t *testing.T) {
	var totals []uint64
	h := NewSingle(2, WithOverrunHook(func(total uint64) { totals = append(totals, total) }))
	h.Produce(func(b []int16) int { return copy(b, []int16{1, 1}) })
	h.Produce(func(b []int16) int { return copy(b, []int16{2, 2}) })
	h.Produce(func(b []int16) int { return copy(b, []int16{3, 3}) })
	assert.Equal(t, []uint64{1, 2}, totals)
}

func TestHandoff_EmptyReadPublishesNothing(t *testing.T) {
	for _, h := range []Handoff{NewSingle(4), NewSwap(4)} {
		h.Produce(func([]int16) int { return 0 })
		_, ok := h.Claim()
		assert.False(t, ok)
		assert.Zero(t, h.Overruns())

		h.Produce(func(b []int16) int { return 99 })
		got, ok := h.Claim()
		require.True(t, ok)
		assert.Len(t, got, 4, "count is clamped to the block size")
	}
}

func TestSwap_ConcurrentNoTornBlocks(t *testing.T) {
	const total = 5000
	h := NewSwap(64)

	var produced atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for k := 1; k <= total; k++ {
			v := int16(k % 30000)
			h.Produce(func(b []int16) int {
				for i := range b {
					b[i] = v
				}
				return len(b)
			})
			if k%7 == 0 {
				runtime.Gosched()
			}
		}
		produced.Store(true)
	}()

	received := 0
	torn := 0
	for {
		done := produced.Load()
		got, ok := h.Claim()
		if !ok {
			if done {
				break
			}
			runtime.Gosched()
			continue
		}
		for _, v := range got {
			if v != got[0] {
				torn++
				break
			}
		}
		received++
		h.Release()
	}
	wg.Wait()

	assert.Equal(t, 0, torn)
	assert.Equal(t, uint64(total), uint64(received)+h.Overruns())
}

func TestHandoff_EmptyReadOverPendingIsNotAnOverrun(t *testing.T) {
	for _, h := range []Handoff{NewSingle(4), NewSwap(4)} {
		h.Produce(func(b []int16) int { return copy(b, []int16{1, 1, 1, 1}) })
		h.Produce(func([]int16) int { return 0 })
		assert.Zero(t, h.Overruns())

		got, ok := h.Claim()
		require.True(t, ok)
		assert.Equal(t, []int16{1, 1, 1, 1}, got)
		h.Release()

		h.Produce(func([]int16) int { return 0 })
		assert.Zero(t, h.Overruns(), "nothing was overwritten")
	}
}
