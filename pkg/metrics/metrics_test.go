package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/itohio/goei/pkg/frame"
	"github.com/itohio/goei/pkg/inference"
	"github.com/itohio/goei/pkg/scheduler"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Cycles(t *testing.T) {
	m := New()

	m.CycleDone(scheduler.Cycle{
		Duration: 2 * time.Second,
		Acquired: 1900 * time.Millisecond,
		Result: inference.Result{
			Classification: []inference.Classification{{Label: "idle", Value: 0.5}},
			HasAnomaly:     true,
			Anomaly:        0.75,
		},
	})
	m.CycleFailed(&scheduler.CycleError{Cycle: 2, State: scheduler.StateInfer, Err: errors.New("x")})
	m.CycleFailed(&scheduler.CycleError{Cycle: 3, State: scheduler.StateInfer, Err: errors.New("x")})

	assert.Equal(t, 1.0, testutil.ToFloat64(m.cycles))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.failures.WithLabelValues("infer")))
	assert.Equal(t, 0.5, testutil.ToFloat64(m.score.WithLabelValues("idle")))
	assert.Equal(t, 0.75, testutil.ToFloat64(m.anomaly))
}

func TestMetrics_AcquisitionHooks(t *testing.T) {
	m := New()

	m.FrameFilled(frame.Stats{Strides: 50, Overruns: 3, Elapsed: time.Second})
	m.CaptureOverrun(1)
	m.CaptureOverrun(2)
	m.Dropped(5)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.strideOverruns))
	assert.Equal(t, 50.0, testutil.ToFloat64(m.strideRate))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.captureOverruns))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.dropped))
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.CycleDone(scheduler.Cycle{})

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "goei_cycles_total 1")
	assert.Contains(t, string(body), "goei_cycle_duration_seconds_bucket")
}

func TestMetrics_ServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- New().Serve(ctx, "127.0.0.1:0") }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errs:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
