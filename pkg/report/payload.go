package report

import (
	"time"

	"github.com/chewxy/math32"
	"github.com/itohio/goei/pkg/inference"
	"github.com/itohio/goei/pkg/scheduler"
)

// FrameStats summarizes the values of a frame.
type FrameStats struct {
	Min  float32 `json:"min"`
	Max  float32 `json:"max"`
	Mean float32 `json:"mean"`
	RMS  float32 `json:"rms"`
}

// Summarize computes FrameStats. An empty frame yields zero stats.
func Summarize(values []float32) FrameStats {
	if len(values) == 0 {
		return FrameStats{}
	}
	s := FrameStats{Min: math32.Inf(1), Max: math32.Inf(-1)}
	var sum, sq float32
	for _, v := range values {
		s.Min = math32.Min(s.Min, v)
		s.Max = math32.Max(s.Max, v)
		sum += v
		sq += v * v
	}
	n := float32(len(values))
	s.Mean = sum / n
	s.RMS = math32.Sqrt(sq / n)
	return s
}

// Payload is the structured form of one cycle.
type Payload struct {
	Device         string                     `json:"device"`
	Cycle          int                        `json:"cycle"`
	Time           time.Time                  `json:"time"`
	Label          string                     `json:"label"`
	Score          float32                    `json:"score"`
	Classification []inference.Classification `json:"classification"`
	Anomaly        *float32                   `json:"anomaly,omitempty"`
	Timing         inference.Timing           `json:"timing"`
	AcquireMs      int64                      `json:"acquire_ms"`
	Frame          *FrameStats                `json:"frame,omitempty"`
}

// NewPayload builds the payload of c. Frame statistics are included when
// withFrame is set.
func NewPayload(device string, c scheduler.Cycle, withFrame bool) Payload {
	p := Payload{
		Device:         device,
		Cycle:          c.Number,
		Time:           c.Started.UTC(),
		Classification: c.Result.Classification,
		Timing:         c.Result.Timing,
		AcquireMs:      c.Acquired.Milliseconds(),
	}
	if top, ok := c.Result.Top(); ok {
		p.Label = top.Label
		p.Score = top.Value
	}
	if c.Result.HasAnomaly {
		a := c.Result.Anomaly
		p.Anomaly = &a
	}
	if withFrame {
		s := Summarize(c.Frame)
		p.Frame = &s
	}
	return p
}
