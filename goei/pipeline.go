package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/itohio/goei/pkg/adc"
	"github.com/itohio/goei/pkg/adc/ads1115"
	"github.com/itohio/goei/pkg/capture"
	"github.com/itohio/goei/pkg/config"
	"github.com/itohio/goei/pkg/console"
	"github.com/itohio/goei/pkg/frame"
	"github.com/itohio/goei/pkg/inference"
	"github.com/itohio/goei/pkg/metrics"
	"github.com/itohio/goei/pkg/mqttpub"
	"github.com/itohio/goei/pkg/report"
	"github.com/itohio/goei/pkg/scheduler"
	"github.com/itohio/goei/pkg/signal"
	"github.com/itohio/goei/pkg/status"
)

// pipeline holds everything that needs closing on exit.
type pipeline struct {
	scheduler *scheduler.Scheduler
	closers   []func() error
}

func (p *pipeline) onClose(fn func() error) {
	p.closers = append(p.closers, fn)
}

// Close releases resources in reverse order of creation. Closing twice is a no-op.
func (p *pipeline) Close() {
	for i := len(p.closers) - 1; i >= 0; i-- {
		if err := p.closers[i](); err != nil {
			log.Printf("Warning: close: %v", err)
		}
	}
	p.closers = nil
}

func build(ctx context.Context, cfg *config.Config, dump string) (*pipeline, error) {
	p := &pipeline{}
	if err := p.setup(ctx, cfg, dump); err != nil {
		p.Close()
		return nil, err
	}
	return p, nil
}

func (p *pipeline) setup(ctx context.Context, cfg *config.Config, dump string) error {
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		go func() {
			if err := m.Serve(ctx, cfg.Metrics.Addr); err != nil {
				log.Printf("Warning: %v", err)
			}
		}()
	}

	converter, err := openADC(cfg)
	if err != nil {
		return err
	}
	if c, ok := converter.(io.Closer); ok {
		p.onClose(c.Close)
	}

	var (
		source scheduler.Source
		start  func() error
	)
	switch cfg.Mode {
	case config.ModeCapture:
		source, start, err = captureSource(p, cfg, converter, m)
	default:
		source, err = samplingSource(cfg, converter, m)
	}
	if err != nil {
		return err
	}

	engine, err := inference.NewCentroid(cfg.CentroidConfig())
	if err != nil {
		return err
	}

	reporter, err := reporters(ctx, p, cfg, dump)
	if err != nil {
		return err
	}

	opts := []scheduler.Option{scheduler.WithIndicator(status.Noop{})}
	if cfg.Status.Pin != "" {
		led, err := status.Open(cfg.Status.Pin, cfg.Status.Inverted)
		if err != nil {
			return err
		}
		opts = append(opts, scheduler.WithIndicator(led))
	}
	if m != nil {
		opts = append(opts, scheduler.WithObserver(m))
	}
	if start != nil {
		opts = append(opts, scheduler.WithStart(start))
	}

	p.scheduler = scheduler.New(cfg.SchedulerConfig(), source, engine, reporter, opts...)
	return nil
}

func openADC(cfg *config.Config) (adc.ADC, error) {
	switch cfg.Device.Backend {
	case "ads1115":
		dev, err := ads1115.Open(ads1115.Config{
			Bus:        cfg.Device.ADS1115.Bus,
			Address:    cfg.Device.ADS1115.Address,
			FullScale:  cfg.Device.ADS1115.FullScale,
			Frequency:  cfg.Device.ADS1115.Frequency,
			Resolution: cfg.Device.Bits,
		})
		if err != nil {
			return nil, err
		}
		return dev, nil
	default:
		m := adc.NewMock(cfg.Device.Bits)
		for ch, vals := range cfg.Device.Mock.Raw {
			m.Set(ch, vals...)
		}
		return m, nil
	}
}

func samplingSource(cfg *config.Config, converter adc.ADC, m *metrics.Metrics) (scheduler.Source, error) {
	sampler, err := adc.NewSampler(converter, cfg.SamplerConfig())
	if err != nil {
		return nil, err
	}

	var opts []frame.Option
	if m != nil {
		opts = append(opts, frame.WithFillHook(m.FrameFilled))
	}
	asm, err := frame.New(sampler, cfg.FrameConfig(), opts...)
	if err != nil {
		return nil, err
	}
	log.Printf("Sampling %d values per frame, %d per stride every %v", asm.Length(), asm.Stride(), asm.Interval())
	return asm, nil
}

// captureSource wires the capture chain. The returned start func begins
// sampling and is left to the scheduler.
func captureSource(p *pipeline, cfg *config.Config, converter adc.ADC, m *metrics.Metrics) (scheduler.Source, func() error, error) {
	var drv capture.Driver
	switch cfg.Capture.Driver {
	case "adc":
		drv = capture.NewADCDriver(converter, cfg.Calibration().Factor)
	case "serial":
		s, err := console.OpenStream(cfg.Capture.Port, cfg.Capture.BaudRate)
		if err != nil {
			return nil, nil, err
		}
		p.onClose(s.Close)
		drv = s
	default:
		drv = capture.NewMock(capture.MockConfig{
			ToneHz:    cfg.Device.Mock.ToneHz,
			Amplitude: cfg.Device.Mock.Amplitude,
			Noise:     cfg.Device.Mock.Noise,
		})
	}

	var hopts []capture.HandoffOption
	var copts []capture.ConsumerOption
	if m != nil {
		hopts = append(hopts, capture.WithOverrunHook(m.CaptureOverrun))
		copts = append(copts, capture.WithDropHook(m.Dropped))
	}
	h, err := capture.NewHandoff(capture.Policy(cfg.Capture.Handoff), cfg.Capture.BufferSize, hopts...)
	if err != nil {
		return nil, nil, err
	}
	wait, err := capture.ParseWaitMode(cfg.Capture.Wait)
	if err != nil {
		return nil, nil, err
	}

	c, err := capture.New(drv, cfg.DriverConfig(), h)
	if err != nil {
		return nil, nil, err
	}
	p.onClose(c.Stop)

	return capture.NewConsumer(h, wait, copts...), c.Start, nil
}

func reporters(ctx context.Context, p *pipeline, cfg *config.Config, dump string) (scheduler.Reporter, error) {
	var out io.Writer = os.Stdout
	if cfg.Report.Port != "" {
		sink, err := console.Open(cfg.Report.Port, cfg.Report.BaudRate)
		if err != nil {
			return nil, err
		}
		p.onClose(sink.Close)
		out = sink
	}

	lines, err := report.New(cfg.Report.Format, out)
	if err != nil {
		return nil, err
	}
	all := report.Multi{lines}

	if cfg.MQTT.Enabled {
		pub, err := mqttpub.Connect(ctx, mqttpub.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			Username:       cfg.MQTT.Username,
			Password:       cfg.MQTT.Password,
			Topic:          cfg.MQTT.Topic,
			QoS:            cfg.MQTT.QoS,
			Retained:       cfg.MQTT.Retained,
			ConnectTimeout: cfg.MQTT.ConnectTimeout,
			Device:         cfg.Device.Name,
			FrameStats:     cfg.MQTT.FrameStats,
		})
		if err != nil {
			return nil, err
		}
		p.onClose(pub.Close)
		all = append(all, pub)
	}

	if dump != "" {
		all = append(all, dumper(dump))
	}
	return all, nil
}

// dumper writes the frame of every cycle to a file, keeping the last one.
type dumper string

func (d dumper) Report(_ context.Context, c scheduler.Cycle) error {
	f, err := os.Create(string(d))
	if err != nil {
		return fmt.Errorf("dump: %w", err)
	}
	if _, err := signal.WriteTo(f, signal.FromSlice(c.Frame)); err != nil {
		f.Close()
		return fmt.Errorf("dump: %w", err)
	}
	return f.Close()
}

// replay classifies a stored frame once and prints the result.
func replay(ctx context.Context, cfg *config.Config, name string) error {
	f, err := os.Open(name)
	if err != nil {
		return err
	}
	defer f.Close()

	st, err := f.Stat()
	if err != nil {
		return err
	}
	if st.Size()%4 != 0 {
		return errors.New("replay: file is not a float32 frame")
	}

	engine, err := inference.NewCentroid(cfg.CentroidConfig())
	if err != nil {
		return err
	}
	sig := signal.FromReaderAt(f, int(st.Size()/4))
	res, err := engine.Run(ctx, sig, cfg.Scheduler.Debug)
	if err != nil {
		return err
	}

	lines, err := report.New(cfg.Report.Format, os.Stdout)
	if err != nil {
		return err
	}
	return lines.Report(ctx, scheduler.Cycle{Number: 1, Result: res})
}
