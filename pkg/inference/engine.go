// Package inference defines the contract between the acquisition pipeline
// and an inference engine, and provides a small reference engine.
package inference

import (
	"context"
	"errors"
	"fmt"

	"github.com/itohio/goei/pkg/signal"
)

// ErrEngine marks a non-success result from an engine.
var ErrEngine = errors.New("inference: engine failure")

// Engine classifies one frame read through a signal.
type Engine interface {
	// FrameSize is the total number of values the engine reads per frame.
	FrameSize() int
	// AxesPerFrame is the number of values per sampling instant.
	AxesPerFrame() int
	// Run reads sig and returns the classification.
	Run(ctx context.Context, sig *signal.Signal, debug bool) (Result, error)
}

// Classification is one label score.
type Classification struct {
	Label string  `json:"label"`
	Value float32 `json:"value"`
}

// Timing is the per-stage duration in milliseconds.
type Timing struct {
	DSP            int `json:"dsp"`
	Classification int `json:"classification"`
	Anomaly        int `json:"anomaly"`
}

// Result is the output of one engine run.
type Result struct {
	Classification []Classification `json:"classification"`
	Anomaly        float32          `json:"anomaly,omitempty"`
	HasAnomaly     bool             `json:"has_anomaly"`
	Timing         Timing           `json:"timing"`
}

// Top returns the highest scoring label.
func (r Result) Top() (Classification, bool) {
	if len(r.Classification) == 0 {
		return Classification{}, false
	}
	best := r.Classification[0]
	for _, c := range r.Classification[1:] {
		if c.Value > best.Value {
			best = c
		}
	}
	return best, true
}

// CodeError is a numeric engine result code.
type CodeError struct {
	Code int
	Err  error
}

func (e *CodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("inference: engine returned %d: %v", e.Code, e.Err)
	}
	return fmt.Sprintf("inference: engine returned %d", e.Code)
}

// Is matches ErrEngine.
func (e *CodeError) Is(target error) bool {
	return target == ErrEngine
}

func (e *CodeError) Unwrap() error {
	return e.Err
}
