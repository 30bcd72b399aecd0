// Package scheduler drives the acquisition cycle: announce, acquire, adapt,
// infer, report, repeat.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	"github.com/itohio/goei/pkg/frame"
	"github.com/itohio/goei/pkg/inference"
	"github.com/itohio/goei/pkg/signal"
)

// ErrConfigMismatch is returned at INIT when the frame shape differs from
// what the engine requires.
var ErrConfigMismatch = errors.New("scheduler: frame configuration does not match engine")

// State is a step of the acquisition state machine.
type State int32

const (
	StateInit State = iota
	StateAnnounce
	StateAcquire
	StateAdapt
	StateInfer
	StateReport
	StateFault
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateAnnounce:
		return "announce"
	case StateAcquire:
		return "acquire"
	case StateAdapt:
		return "adapt"
	case StateInfer:
		return "infer"
	case StateReport:
		return "report"
	case StateFault:
		return "fault"
	case StateStopped:
		return "stopped"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// FailurePolicy decides what a failed cycle does.
type FailurePolicy string

const (
	// Halt stops the scheduler on the first failed cycle.
	Halt FailurePolicy = "halt"
	// Continue logs the failure and starts the next cycle.
	Continue FailurePolicy = "continue"
)

// ParseFailurePolicy validates a policy name. Empty selects Halt.
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch FailurePolicy(s) {
	case Halt, "":
		return Halt, nil
	case Continue:
		return Continue, nil
	default:
		return "", fmt.Errorf("scheduler: unknown failure policy %q", s)
	}
}

// CycleError is a failure of one cycle at the given state.
type CycleError struct {
	Cycle int
	State State
	Err   error
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("cycle %d: %s failed: %v", e.Cycle, e.State, e.Err)
}

func (e *CycleError) Unwrap() error {
	return e.Err
}

// Source fills a frame buffer: the frame assembler in sampling mode, the
// capture consumer in capture mode.
type Source interface {
	Acquire(ctx context.Context, buf *frame.Buffer) error
}

// Reporter emits the result of a cycle.
type Reporter interface {
	Report(ctx context.Context, c Cycle) error
}

// Indicator is a binary status output such as an LED.
type Indicator interface {
	Set(on bool) error
}

// Observer receives cycle outcomes, e.g. for metrics.
type Observer interface {
	CycleDone(c Cycle)
	CycleFailed(err *CycleError)
}

// Cycle is the outcome of one successful cycle.
type Cycle struct {
	Number   int
	Started  time.Time
	Acquired time.Duration // Time spent in ACQUIRE
	Duration time.Duration // Time from ACQUIRE to the end of INFER
	Result   inference.Result
	Frame    []float32 // Valid only during Report
}

// Config controls the cycle.
type Config struct {
	Length        int           // Frame length
	Stride        int           // Values per sampling instant
	AnnounceDelay time.Duration // Pause before each cycle
	OnFailure     FailurePolicy
	Cycles        int  // Stop after this many cycles, 0 runs forever
	Debug         bool // Passed to the engine
}

// Scheduler runs the acquisition state machine.
type Scheduler struct {
	cfg       Config
	source    Source
	engine    inference.Engine
	reporter  Reporter
	indicator Indicator
	observer  Observer
	start     func() error

	state atomic.Int32
	buf   *frame.Buffer
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithIndicator sets the status output driven during acquisition.
func WithIndicator(i Indicator) Option {
	return func(s *Scheduler) {
		s.indicator = i
	}
}

// WithObserver sets the cycle observer.
func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		s.observer = o
	}
}

// WithStart runs fn once after INIT passes and before the first cycle, so a
// capture driver only starts sampling for a frame the engine accepts.
func WithStart(fn func() error) Option {
	return func(s *Scheduler) {
		s.start = fn
	}
}

// New creates a Scheduler. Nothing is validated until Run.
func New(cfg Config, source Source, engine inference.Engine, reporter Reporter, opts ...Option) *Scheduler {
	if cfg.OnFailure == "" {
		cfg.OnFailure = Halt
	}
	s := &Scheduler{
		cfg:      cfg,
		source:   source,
		engine:   engine,
		reporter: reporter,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current state. Safe for concurrent use.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

func (s *Scheduler) enter(st State) {
	s.state.Store(int32(st))
}

// Run validates the configuration against the engine and then cycles until
// ctx is done, the configured number of cycles completes, or a cycle fails
// under the Halt policy. Nothing is sampled when validation fails.
func (s *Scheduler) Run(ctx context.Context) error {
	s.enter(StateInit)
	if err := s.init(); err != nil {
		s.enter(StateFault)
		log.Printf("scheduler: %v", err)
		return err
	}
	if s.start != nil {
		if err := s.start(); err != nil {
			s.enter(StateFault)
			log.Printf("scheduler: start: %v", err)
			return fmt.Errorf("scheduler: start: %w", err)
		}
	}

	for n := 1; s.cfg.Cycles == 0 || n <= s.cfg.Cycles; n++ {
		err := s.cycle(ctx, n)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			s.enter(StateStopped)
			return ctx.Err()
		}

		var cerr *CycleError
		if !errors.As(err, &cerr) {
			s.enter(StateFault)
			return err
		}
		if s.observer != nil {
			s.observer.CycleFailed(cerr)
		}
		if s.cfg.OnFailure == Halt {
			s.enter(StateFault)
			log.Printf("scheduler: halting: %v", cerr)
			return cerr
		}
		log.Printf("scheduler: %v, continuing", cerr)
	}

	s.enter(StateStopped)
	return nil
}

func (s *Scheduler) init() error {
	if s.source == nil || s.engine == nil || s.reporter == nil {
		return fmt.Errorf("scheduler: source, engine and reporter are required")
	}
	if s.cfg.Length != s.engine.FrameSize() {
		return fmt.Errorf("%w: frame length %d, engine expects %d",
			ErrConfigMismatch, s.cfg.Length, s.engine.FrameSize())
	}
	if s.cfg.Stride != s.engine.AxesPerFrame() {
		return fmt.Errorf("%w: stride %d, engine expects %d",
			ErrConfigMismatch, s.cfg.Stride, s.engine.AxesPerFrame())
	}
	buf, err := frame.NewBuffer(s.cfg.Length, s.cfg.Stride)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrConfigMismatch, err)
	}
	s.buf = buf
	return nil
}

func (s *Scheduler) cycle(ctx context.Context, n int) error {
	s.enter(StateAnnounce)
	log.Printf("scheduler: starting inferencing in %v", s.cfg.AnnounceDelay)
	if err := frame.Sleep(ctx, s.cfg.AnnounceDelay); err != nil {
		return err
	}

	s.enter(StateAcquire)
	s.setIndicator(true)
	defer s.setIndicator(false)

	c := Cycle{Number: n, Started: time.Now()}
	if err := s.source.Acquire(ctx, s.buf); err != nil {
		return &CycleError{Cycle: n, State: StateAcquire, Err: err}
	}
	c.Acquired = time.Since(c.Started)

	s.enter(StateAdapt)
	sig, err := signal.FromBuffer(s.buf)
	if err != nil {
		return &CycleError{Cycle: n, State: StateAdapt, Err: err}
	}

	s.enter(StateInfer)
	res, err := s.engine.Run(ctx, sig, s.cfg.Debug)
	if err != nil {
		return &CycleError{Cycle: n, State: StateInfer, Err: err}
	}
	c.Duration = time.Since(c.Started)
	c.Result = res
	c.Frame = s.buf.Values()

	s.enter(StateReport)
	if err := s.reporter.Report(ctx, c); err != nil {
		log.Printf("scheduler: report failed: %v", err)
	}
	if s.observer != nil {
		s.observer.CycleDone(c)
	}
	return nil
}

func (s *Scheduler) setIndicator(on bool) {
	if s.indicator == nil {
		return
	}
	if err := s.indicator.Set(on); err != nil {
		log.Printf("Warning: status indicator: %v", err)
	}
}
