//go:build tinygo

//go:generate tinygo flash -target=pico

package main

import (
	"context"
	"machine"
	"os"
	"time"

	"github.com/itohio/goei/pkg/adc"
	"github.com/itohio/goei/pkg/capture"
	"github.com/itohio/goei/pkg/frame"
	"github.com/itohio/goei/pkg/inference"
	"github.com/itohio/goei/pkg/report"
	"github.com/itohio/goei/pkg/scheduler"
)

// Channel numbers of the RP2040 ADC inputs.
var channelPins = map[int]machine.Pin{
	0: PIN_MIC,
	1: machine.ADC1,
	2: PIN_ACCEL,
}

// pinADC is the on-chip converter. machine.ADC returns 16-bit readings,
// shifted down to ADC_RESOLUTION bits.
type pinADC struct {
	inputs   map[int]machine.ADC
	selected machine.ADC
}

func (a *pinADC) Init(channel int) error {
	pin, ok := channelPins[channel]
	if !ok {
		return adc.ErrChannel
	}
	in := machine.ADC{Pin: pin}
	in.Configure(machine.ADCConfig{Reference: ADC_REFERENCE_MV, Resolution: ADC_RESOLUTION})
	a.inputs[channel] = in
	return nil
}

func (a *pinADC) Select(channel int) {
	a.selected = a.inputs[channel]
}

func (a *pinADC) Read() uint16 {
	return a.selected.Get() >> (16 - ADC_RESOLUTION)
}

type led struct{}

func (led) Set(on bool) error {
	PIN_LED.Set(on)
	return nil
}

func main() {
	machine.InitADC()
	PIN_LED.Configure(machine.PinConfig{Mode: machine.PinOutput})

	// Give the host a moment to open the USB console
	time.Sleep(ANNOUNCE)
	println("goei inferencing (Raspberry Pi Pico)")

	converter := &pinADC{inputs: make(map[int]machine.ADC)}
	factor := adc.FactorFor(ADC_REFERENCE_MV/1000.0, ADC_RESOLUTION)

	var err error
	switch MODE {
	case MODE_STREAM:
		err = stream(converter, factor)
	case MODE_CAPTURE:
		err = run(captureSource(converter, factor))
	default:
		err = run(samplingSource(converter, factor))
	}
	fault(err)
}

// acquisition is the front end of one mode.
type acquisition struct {
	source   scheduler.Source
	length   int
	stride   int
	reporter scheduler.Reporter
	start    func() error // Runs once the scheduler accepted the frame shape
}

func samplingSource(converter adc.ADC, factor float32) (acquisition, error) {
	sampler, err := adc.NewSampler(converter, adc.SamplerConfig{
		Allowed:     []int{0, 1, 2},
		Channels:    []int{2},
		Oversample:  NUM_SAMPLES,
		SampleDelay: SAMPLE_DELAY,
		Calibration: adc.Calibration{Factor: factor, ZeroOffset: ZERO_OFFSET},
	})
	if err != nil {
		return acquisition{}, err
	}
	asm, err := frame.New(sampler, frame.Config{
		Length: FRAME_LENGTH,
		Axes:   frame.AccelAxes(2),
		Rate:   FRAME_RATE,
	})
	if err != nil {
		return acquisition{}, err
	}
	return acquisition{
		source:   asm,
		length:   asm.Length(),
		stride:   asm.Stride(),
		reporter: report.NewLines(os.Stdout),
	}, nil
}

func captureSource(converter adc.ADC, factor float32) (acquisition, error) {
	h := capture.NewSingle(MIC_BUFFER_SIZE)
	c, err := capture.New(capture.NewADCDriver(converter, factor), capture.DriverConfig{
		Channel:    0,
		Bias:       MIC_BIAS,
		SampleRate: MIC_SAMPLE_RATE,
		BufferSize: MIC_BUFFER_SIZE,
	}, h)
	if err != nil {
		return acquisition{}, err
	}
	return acquisition{
		source:   capture.NewConsumer(h, capture.WaitPoll),
		length:   MIC_BUFFER_SIZE,
		stride:   1,
		reporter: report.NewCompact(os.Stdout),
		start: func() error {
			if err := c.Start(); err != nil {
				println("analog microphone initialization failed!")
				return err
			}
			return nil
		},
	}, nil
}

func run(a acquisition, err error) error {
	if err != nil {
		return err
	}

	engine, err := inference.NewCentroid(inference.CentroidConfig{
		FrameSize:  a.length,
		Axes:       a.stride,
		Labels:     labels(a.stride),
		HasAnomaly: true,
	})
	if err != nil {
		return err
	}

	opts := []scheduler.Option{scheduler.WithIndicator(led{})}
	if a.start != nil {
		opts = append(opts, scheduler.WithStart(a.start))
	}
	s := scheduler.New(scheduler.Config{
		Length:        a.length,
		Stride:        a.stride,
		AnnounceDelay: ANNOUNCE,
		OnFailure:     scheduler.Halt,
	}, a.source, engine, a.reporter, opts...)
	return s.Run(context.Background())
}

func labels(stride int) []inference.Label {
	if stride == 1 {
		return []inference.Label{
			{Name: "silence", Centroid: []float32{0, 20}},
			{Name: "tone", Centroid: []float32{0, 707}},
		}
	}
	return []inference.Label{
		{Name: "idle", Centroid: []float32{0, 0.1, 0, 0.02, 0, 0.05}},
		{Name: "tilt", Centroid: []float32{4.9, 4.9, 0.98, 0.98, 2.45, 2.45}},
		{Name: "wave", Centroid: []float32{0, 6.9, 0, 1.4, 0, 3.5}},
	}
}

// stream prints every captured microphone sample.
// Output format: "unix_micros,sample\n"
func stream(converter adc.ADC, factor float32) error {
	h := capture.NewSingle(MIC_BUFFER_SIZE)
	c, err := capture.New(capture.NewADCDriver(converter, factor), capture.DriverConfig{
		Channel:    0,
		Bias:       MIC_BIAS,
		SampleRate: MIC_SAMPLE_RATE,
		BufferSize: MIC_BUFFER_SIZE,
	}, h)
	if err != nil {
		return err
	}
	if err := c.Start(); err != nil {
		return err
	}

	cons := capture.NewConsumer(h, capture.WaitPoll)
	period := time.Second / MIC_SAMPLE_RATE
	for {
		block, err := cons.Next(context.Background())
		if err != nil {
			return err
		}
		ts := time.Now().Add(-period * time.Duration(len(block)))
		for _, v := range block {
			print(ts.UnixNano() / 1000)
			print(",")
			print(v)
			print("\n")
			ts = ts.Add(period)
		}
		cons.Release()
	}
}

// fault reports err and blinks the status pin forever.
func fault(err error) {
	for {
		if err != nil {
			println("ERR:", err.Error())
		}
		for range 8 {
			PIN_LED.High()
			time.Sleep(FAULT_BLINK)
			PIN_LED.Low()
			time.Sleep(FAULT_BLINK)
		}
	}
}
