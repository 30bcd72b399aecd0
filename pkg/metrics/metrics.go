// Package metrics exports acquisition and inference counters to Prometheus.
package metrics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/itohio/goei/pkg/frame"
	"github.com/itohio/goei/pkg/scheduler"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var _ scheduler.Observer = (*Metrics)(nil)

// Metrics holds the collectors on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	cycles          prometheus.Counter
	failures        *prometheus.CounterVec
	cycleDuration   prometheus.Histogram
	acquireDuration prometheus.Histogram
	strideOverruns  prometheus.Counter
	strideRate      prometheus.Gauge
	captureOverruns prometheus.Counter
	dropped         prometheus.Counter
	anomaly         prometheus.Gauge
	score           *prometheus.GaugeVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goei_cycles_total",
			Help: "Completed inference cycles.",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "goei_cycle_failures_total",
			Help: "Failed cycles by the state that failed.",
		}, []string{"state"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "goei_cycle_duration_seconds",
			Help:    "Time from the start of acquisition to the end of inference.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		acquireDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "goei_acquire_duration_seconds",
			Help:    "Time spent filling one frame.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		strideOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goei_stride_overruns_total",
			Help: "Strides whose sampling took longer than the stride interval.",
		}),
		strideRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goei_stride_rate_hertz",
			Help: "Achieved strides per second of the last frame.",
		}),
		captureOverruns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goei_capture_overruns_total",
			Help: "Capture blocks lost or overwritten before they were drained.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "goei_capture_dropped_samples_total",
			Help: "Captured samples past the end of a frame.",
		}),
		anomaly: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "goei_anomaly_score",
			Help: "Anomaly score of the last cycle.",
		}),
		score: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "goei_label_score",
			Help: "Score of every label in the last cycle.",
		}, []string{"label"}),
	}

	m.registry.MustRegister(
		m.cycles, m.failures, m.cycleDuration, m.acquireDuration,
		m.strideOverruns, m.strideRate, m.captureOverruns, m.dropped,
		m.anomaly, m.score,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// CycleDone records a completed cycle.
func (m *Metrics) CycleDone(c scheduler.Cycle) {
	m.cycles.Inc()
	m.cycleDuration.Observe(c.Duration.Seconds())
	m.acquireDuration.Observe(c.Acquired.Seconds())
	for _, cl := range c.Result.Classification {
		m.score.WithLabelValues(cl.Label).Set(float64(cl.Value))
	}
	if c.Result.HasAnomaly {
		m.anomaly.Set(float64(c.Result.Anomaly))
	}
}

// CycleFailed records a failed cycle.
func (m *Metrics) CycleFailed(err *scheduler.CycleError) {
	m.failures.WithLabelValues(err.State.String()).Inc()
}

// FrameFilled records the stats of an assembled frame. Use it as the
// assembler fill hook.
func (m *Metrics) FrameFilled(s frame.Stats) {
	m.strideOverruns.Add(float64(s.Overruns))
	m.strideRate.Set(s.Rate())
}

// CaptureOverrun records one lost capture block. Use it as the handoff
// overrun hook.
func (m *Metrics) CaptureOverrun(uint64) {
	m.captureOverruns.Inc()
}

// Dropped records samples discarded at the end of a frame.
func (m *Metrics) Dropped(n int) {
	m.dropped.Add(float64(n))
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errs := make(chan error, 1)
	go func() {
		log.Printf("metrics: serving on %s/metrics", addr)
		errs <- srv.ListenAndServe()
	}()

	select {
	case err := <-errs:
		return fmt.Errorf("metrics: %w", err)
	case <-ctx.Done():
		shutdown, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdown); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics: shutdown: %w", err)
		}
		return nil
	}
}
