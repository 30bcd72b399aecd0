// Package report formats cycle results for line consoles and structured sinks.
package report

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/itohio/goei/pkg/scheduler"
)

var (
	_ scheduler.Reporter = (*Lines)(nil)
	_ scheduler.Reporter = (*Compact)(nil)
	_ scheduler.Reporter = Multi(nil)
)

func header(b *strings.Builder, c scheduler.Cycle) {
	fmt.Fprintf(b, "Predictions (DSP: %d ms., Classification: %d ms., Anomaly: %d ms.): \n",
		c.Result.Timing.DSP, c.Result.Timing.Classification, c.Result.Timing.Anomaly)
}

// Lines writes one line per label, the format of the accelerometer firmware.
type Lines struct {
	w io.Writer
}

// NewLines creates a Lines reporter writing to w.
func NewLines(w io.Writer) *Lines {
	return &Lines{w: w}
}

// Report writes the predictions of c.
func (l *Lines) Report(_ context.Context, c scheduler.Cycle) error {
	var b strings.Builder
	header(&b, c)
	for _, cl := range c.Result.Classification {
		fmt.Fprintf(&b, "    %s: %.5f\n", cl.Label, cl.Value)
	}
	if c.Result.HasAnomaly {
		fmt.Fprintf(&b, "    anomaly score: %.3f\n", c.Result.Anomaly)
	}
	_, err := io.WriteString(l.w, b.String())
	return err
}

// Compact writes all scores on one bracketed line, the format of the
// microphone firmware. The anomaly score, when present, is the last value.
type Compact struct {
	w io.Writer
}

// NewCompact creates a Compact reporter writing to w.
func NewCompact(w io.Writer) *Compact {
	return &Compact{w: w}
}

// Report writes the predictions of c.
func (l *Compact) Report(_ context.Context, c scheduler.Cycle) error {
	var b strings.Builder
	header(&b, c)
	b.WriteByte('[')
	for i, cl := range c.Result.Classification {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%.5f", cl.Value)
	}
	if c.Result.HasAnomaly {
		if len(c.Result.Classification) > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%.3f", c.Result.Anomaly)
	}
	b.WriteString("]\n")
	_, err := io.WriteString(l.w, b.String())
	return err
}

// Multi reports to every reporter and joins their errors.
type Multi []scheduler.Reporter

// Report calls every reporter even if an earlier one fails.
func (m Multi) Report(ctx context.Context, c scheduler.Cycle) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New returns the line reporter for a format name: "lines" or "compact".
func New(format string, w io.Writer) (scheduler.Reporter, error) {
	switch format {
	case "lines", "":
		return NewLines(w), nil
	case "compact":
		return NewCompact(w), nil
	default:
		return nil, fmt.Errorf("report: unknown format %q", format)
	}
}
