package inference

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/goei/pkg/signal"
)

// Result codes of the centroid engine.
const (
	CodeShape    = -1 // Signal length differs from FrameSize
	CodeRead     = -2 // Reading the signal failed
	CodeNoLabels = -3 // No labels configured
)

// ErrCentroidConfig is returned for an invalid centroid engine configuration.
var ErrCentroidConfig = errors.New("inference: invalid centroid configuration")

// Label is a class described by its feature centroid.
type Label struct {
	Name     string
	Centroid []float32 // Mean and RMS of each axis, interleaved
}

// CentroidConfig configures the reference engine.
type CentroidConfig struct {
	FrameSize  int
	Axes       int
	Window     int // Values per signal read, a multiple of Axes
	Labels     []Label
	HasAnomaly bool
}

// Centroid extracts per-axis mean and RMS from the frame and scores every
// label with a softmax over negative feature distances. The anomaly score is
// the distance to the nearest centroid.
type Centroid struct {
	cfg CentroidConfig
}

var _ Engine = (*Centroid)(nil)

// NewCentroid validates cfg and creates the engine.
func NewCentroid(cfg CentroidConfig) (*Centroid, error) {
	if cfg.Axes <= 0 || cfg.FrameSize <= 0 || cfg.FrameSize%cfg.Axes != 0 {
		return nil, fmt.Errorf("%w: frame size %d, axes %d", ErrCentroidConfig, cfg.FrameSize, cfg.Axes)
	}
	if cfg.Window == 0 {
		cfg.Window = cfg.Axes * 16
	}
	if cfg.Window < 0 || cfg.Window%cfg.Axes != 0 {
		return nil, fmt.Errorf("%w: window %d is not a positive multiple of %d axes", ErrCentroidConfig, cfg.Window, cfg.Axes)
	}
	for _, l := range cfg.Labels {
		if len(l.Centroid) != 2*cfg.Axes {
			return nil, fmt.Errorf("%w: label %q has %d centroid values, want %d",
				ErrCentroidConfig, l.Name, len(l.Centroid), 2*cfg.Axes)
		}
	}
	return &Centroid{cfg: cfg}, nil
}

// FrameSize returns the number of values per frame.
func (c *Centroid) FrameSize() int {
	return c.cfg.FrameSize
}

// AxesPerFrame returns the number of values per sampling instant.
func (c *Centroid) AxesPerFrame() int {
	return c.cfg.Axes
}

// Run classifies the frame behind sig.
func (c *Centroid) Run(ctx context.Context, sig *signal.Signal, debug bool) (Result, error) {
	if sig.TotalLength != c.cfg.FrameSize {
		return Result{}, &CodeError{Code: CodeShape, Err: fmt.Errorf("signal length %d, want %d", sig.TotalLength, c.cfg.FrameSize)}
	}
	if len(c.cfg.Labels) == 0 {
		return Result{}, &CodeError{Code: CodeNoLabels}
	}

	var res Result

	start := time.Now()
	features, err := c.features(ctx, sig)
	if err != nil {
		return Result{}, err
	}
	res.Timing.DSP = int(time.Since(start).Milliseconds())
	if debug {
		log.Printf("inference: features %v", features)
	}

	start = time.Now()
	dist := make([]float32, len(c.cfg.Labels))
	for i, l := range c.cfg.Labels {
		dist[i] = distance(features, l.Centroid)
	}
	scores := softmin(dist)
	res.Classification = make([]Classification, len(c.cfg.Labels))
	for i, l := range c.cfg.Labels {
		res.Classification[i] = Classification{Label: l.Name, Value: scores[i]}
	}
	res.Timing.Classification = int(time.Since(start).Milliseconds())

	if c.cfg.HasAnomaly {
		start = time.Now()
		res.HasAnomaly = true
		res.Anomaly = math32.Inf(1)
		for _, d := range dist {
			res.Anomaly = math32.Min(res.Anomaly, d)
		}
		res.Timing.Anomaly = int(time.Since(start).Milliseconds())
	}

	return res, nil
}

// features reads the signal window by window and returns the mean and RMS of each axis.
func (c *Centroid) features(ctx context.Context, sig *signal.Signal) ([]float32, error) {
	axes := c.cfg.Axes
	sum := make([]float32, axes)
	sq := make([]float32, axes)
	window := make([]float32, c.cfg.Window)

	for off := 0; off < sig.TotalLength; off += len(window) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		w := window[:min(len(window), sig.TotalLength-off)]
		if err := sig.Read(off, w); err != nil {
			return nil, &CodeError{Code: CodeRead, Err: err}
		}
		for i, v := range w {
			sum[i%axes] += v
			sq[i%axes] += v * v
		}
	}

	n := float32(sig.TotalLength / axes)
	out := make([]float32, 2*axes)
	for a := range axes {
		out[2*a] = sum[a] / n
		out[2*a+1] = math32.Sqrt(sq[a] / n)
	}
	return out, nil
}

func distance(a, b []float32) float32 {
	var d float32
	for i := range a {
		x := a[i] - b[i]
		d += x * x
	}
	return math32.Sqrt(d)
}

// softmin returns softmax(-d), shifted by the minimum for stability.
func softmin(d []float32) []float32 {
	lo := math32.Inf(1)
	for _, v := range d {
		lo = math32.Min(lo, v)
	}

	out := make([]float32, len(d))
	var total float32
	for i, v := range d {
		out[i] = math32.Exp(lo - v)
		total += out[i]
	}
	for i := range out {
		out[i] /= total
	}
	return out
}
