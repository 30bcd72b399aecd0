package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/itohio/goei/pkg/adc"
	"github.com/itohio/goei/pkg/capture"
	"github.com/itohio/goei/pkg/frame"
	"github.com/itohio/goei/pkg/inference"
	"github.com/itohio/goei/pkg/scheduler"
	"gopkg.in/yaml.v3"
)

// ErrInvalid is returned by Validate.
var ErrInvalid = errors.New("invalid configuration")

// Acquisition modes.
const (
	ModeSampling = "sampling"
	ModeCapture  = "capture"
)

// Config represents the application configuration.
type Config struct {
	Mode      string          `yaml:"mode"`
	Device    DeviceConfig    `yaml:"device"`
	Sampler   SamplerConfig   `yaml:"sampler"`
	Frame     FrameConfig     `yaml:"frame"`
	Capture   CaptureConfig   `yaml:"capture"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
	Engine    EngineConfig    `yaml:"engine"`
	Report    ReportConfig    `yaml:"report"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Status    StatusConfig    `yaml:"status"`
}

// DeviceConfig selects the analog converter.
type DeviceConfig struct {
	Name    string        `yaml:"name"`    // Reported with every result
	Backend string        `yaml:"backend"` // "mock" or "ads1115"
	VRef    float64       `yaml:"vref"`    // Reference voltage (V) of the mock backend
	Bits    int           `yaml:"bits"`    // Converter resolution
	ADS1115 ADS1115Config `yaml:"ads1115"`
	Mock    MockConfig    `yaml:"mock"`
}

// ADS1115Config contains the I2C converter settings.
type ADS1115Config struct {
	Bus       string  `yaml:"bus"`
	Address   uint16  `yaml:"address"`
	FullScale float64 `yaml:"full_scale"` // Input range (V), also the calibration reference
	Frequency int     `yaml:"frequency"`
}

// MockConfig contains the simulated signal settings.
type MockConfig struct {
	Raw       map[int][]uint16 `yaml:"raw"`       // Scripted raw readings per channel
	ToneHz    float64          `yaml:"tone_hz"`   // Capture tone frequency
	Amplitude float64          `yaml:"amplitude"` // Capture tone amplitude (counts)
	Noise     float64          `yaml:"noise"`     // Capture noise (counts)
}

// SamplerConfig contains the oversampling and calibration parameters.
type SamplerConfig struct {
	Allowed     []int         `yaml:"allowed"`
	Oversample  int           `yaml:"oversample"`
	SampleDelay time.Duration `yaml:"sample_delay"`
	ZeroOffset  float64       `yaml:"zero_offset"` // Subtracted after conversion (V)
}

// AxisConfig is one slot of a stride.
type AxisConfig struct {
	Channel int     `yaml:"channel"`
	Scale   float64 `yaml:"scale"`
}

// FrameConfig describes the frame assembled in sampling mode.
type FrameConfig struct {
	Length          int          `yaml:"length"`
	Rate            float64      `yaml:"rate"` // Strides per second
	SleepToDeadline bool         `yaml:"sleep_to_deadline"`
	Axes            []AxisConfig `yaml:"axes"`
}

// CaptureConfig describes block capture.
type CaptureConfig struct {
	Driver      string  `yaml:"driver"` // "mock", "adc" or "serial"
	Channel     int     `yaml:"channel"`
	Bias        float64 `yaml:"bias"`
	SampleRate  int     `yaml:"sample_rate"`
	BufferSize  int     `yaml:"buffer_size"`
	FrameLength int     `yaml:"frame_length"`
	Handoff     string  `yaml:"handoff"` // "single" or "swap"
	Wait        string  `yaml:"wait"`    // "block" or "poll"
	Port        string  `yaml:"port"`    // Serial port of the "serial" driver
	BaudRate    int     `yaml:"baud_rate"`
}

// SchedulerConfig contains the cycle parameters.
type SchedulerConfig struct {
	AnnounceDelay time.Duration `yaml:"announce_delay"`
	OnFailure     string        `yaml:"on_failure"`
	Cycles        int           `yaml:"cycles"`
	Debug         bool          `yaml:"debug"`
}

// LabelConfig is one class of the reference engine.
type LabelConfig struct {
	Name     string    `yaml:"name"`
	Centroid []float32 `yaml:"centroid"`
}

// EngineConfig configures the reference engine. Labels serve the sampling
// mode, CaptureLabels the single axis capture mode.
type EngineConfig struct {
	Window        int           `yaml:"window"`
	HasAnomaly    bool          `yaml:"has_anomaly"`
	Labels        []LabelConfig `yaml:"labels"`
	CaptureLabels []LabelConfig `yaml:"capture_labels"`
}

// ReportConfig selects the line reporter.
type ReportConfig struct {
	Format   string `yaml:"format"` // "lines" or "compact"
	Port     string `yaml:"port"`   // Empty writes to stdout
	BaudRate int    `yaml:"baud_rate"`
}

// MQTTConfig contains the broker settings.
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"`
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Topic          string        `yaml:"topic"`
	QoS            byte          `yaml:"qos"`
	Retained       bool          `yaml:"retained"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
	FrameStats     bool          `yaml:"frame_stats"`
}

// MetricsConfig contains the Prometheus endpoint settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// StatusConfig selects the indicator pin.
type StatusConfig struct {
	Pin      string `yaml:"pin"` // Empty disables the indicator
	Inverted bool   `yaml:"inverted"`
}

// Default returns a default configuration with sensible values.
func Default() *Config {
	return &Config{
		Mode: ModeSampling,
		Device: DeviceConfig{
			Name:    "goei",
			Backend: "mock",
			VRef:    3.3,
			Bits:    12,
			ADS1115: ADS1115Config{
				Address:   0x48,
				FullScale: 4.096,
				Frequency: 860,
			},
			Mock: MockConfig{
				Raw:       map[int][]uint16{2: {2048, 2060, 2036, 2052}},
				ToneHz:    440,
				Amplitude: 1000,
				Noise:     50,
			},
		},
		Sampler: SamplerConfig{
			Allowed:     []int{0, 1, 2},
			Oversample:  10,
			SampleDelay: time.Millisecond,
			ZeroOffset:  1.65,
		},
		Frame: FrameConfig{
			Length: 150,
			Rate:   50,
			Axes: []AxisConfig{
				{Channel: 2, Scale: frame.StandardGravity},
				{Channel: 2, Scale: frame.StandardGravity * 0.2},
				{Channel: 2, Scale: frame.StandardGravity * 0.5},
			},
		},
		Capture: CaptureConfig{
			Driver:      "mock",
			Channel:     0,
			Bias:        1.25,
			SampleRate:  8000,
			BufferSize:  256,
			FrameLength: 256,
			Handoff:     string(capture.PolicySingle),
			Wait:        string(capture.WaitBlock),
			BaudRate:    115200,
		},
		Scheduler: SchedulerConfig{
			AnnounceDelay: 2 * time.Second,
			OnFailure:     string(scheduler.Halt),
		},
		Engine: EngineConfig{
			Window:     48,
			HasAnomaly: true,
			Labels: []LabelConfig{
				{Name: "idle", Centroid: []float32{0, 0.1, 0, 0.02, 0, 0.05}},
				{Name: "tilt", Centroid: []float32{4.9, 4.9, 0.98, 0.98, 2.45, 2.45}},
				{Name: "wave", Centroid: []float32{0, 6.9, 0, 1.4, 0, 3.5}},
			},
			CaptureLabels: []LabelConfig{
				{Name: "silence", Centroid: []float32{0, 20}},
				{Name: "tone", Centroid: []float32{0, 707}},
			},
		},
		Report: ReportConfig{
			Format:   "lines",
			BaudRate: 115200,
		},
		MQTT: MQTTConfig{
			Broker:         "tcp://localhost:1883",
			Topic:          "goei/inference",
			ConnectTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
		},
	}
}

// Load loads configuration from a YAML file. If the file doesn't exist or
// fields are missing, it uses default values.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.ensureDefaults()

	return cfg, nil
}

// Save saves the configuration to a YAML file.
func (c *Config) Save(filename string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// ensureDefaults fills zero fields that have no meaningful zero value.
func (c *Config) ensureDefaults() {
	def := Default()

	if c.Mode == "" {
		c.Mode = def.Mode
	}
	if c.Device.Name == "" {
		c.Device.Name = def.Device.Name
	}
	if c.Device.Backend == "" {
		c.Device.Backend = def.Device.Backend
	}
	if c.Device.VRef == 0 {
		c.Device.VRef = def.Device.VRef
	}
	if c.Device.Bits == 0 {
		c.Device.Bits = def.Device.Bits
	}
	if c.Device.ADS1115.Address == 0 {
		c.Device.ADS1115.Address = def.Device.ADS1115.Address
	}
	if c.Device.ADS1115.FullScale == 0 {
		c.Device.ADS1115.FullScale = def.Device.ADS1115.FullScale
	}
	if c.Device.ADS1115.Frequency == 0 {
		c.Device.ADS1115.Frequency = def.Device.ADS1115.Frequency
	}

	if len(c.Sampler.Allowed) == 0 {
		c.Sampler.Allowed = def.Sampler.Allowed
	}
	if c.Sampler.Oversample == 0 {
		c.Sampler.Oversample = def.Sampler.Oversample
	}

	if c.Frame.Length == 0 {
		c.Frame.Length = def.Frame.Length
	}
	if c.Frame.Rate == 0 {
		c.Frame.Rate = def.Frame.Rate
	}
	if len(c.Frame.Axes) == 0 {
		c.Frame.Axes = def.Frame.Axes
	}

	if c.Capture.Driver == "" {
		c.Capture.Driver = def.Capture.Driver
	}
	if c.Capture.SampleRate == 0 {
		c.Capture.SampleRate = def.Capture.SampleRate
	}
	if c.Capture.BufferSize == 0 {
		c.Capture.BufferSize = def.Capture.BufferSize
	}
	if c.Capture.FrameLength == 0 {
		c.Capture.FrameLength = c.Capture.BufferSize
	}
	if c.Capture.Handoff == "" {
		c.Capture.Handoff = def.Capture.Handoff
	}
	if c.Capture.Wait == "" {
		c.Capture.Wait = def.Capture.Wait
	}
	if c.Capture.BaudRate == 0 {
		c.Capture.BaudRate = def.Capture.BaudRate
	}

	if c.Scheduler.OnFailure == "" {
		c.Scheduler.OnFailure = def.Scheduler.OnFailure
	}

	if len(c.Engine.Labels) == 0 {
		c.Engine.Labels = def.Engine.Labels
	}
	if len(c.Engine.CaptureLabels) == 0 {
		c.Engine.CaptureLabels = def.Engine.CaptureLabels
	}

	if c.Report.Format == "" {
		c.Report.Format = def.Report.Format
	}
	if c.Report.BaudRate == 0 {
		c.Report.BaudRate = def.Report.BaudRate
	}

	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = c.Device.Name
	}
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = def.MQTT.Topic
	}
	if c.MQTT.ConnectTimeout == 0 {
		c.MQTT.ConnectTimeout = def.MQTT.ConnectTimeout
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = def.Metrics.Addr
	}
}

// Validate checks settings that would otherwise fail at runtime.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch c.Mode {
	case ModeSampling:
		if err := frame.CheckShape(c.Frame.Length, len(c.Frame.Axes)); err != nil {
			add("frame: %v", err)
		}
		if c.Frame.Rate <= 0 {
			add("frame rate must be positive, got %v", c.Frame.Rate)
		}
		for _, a := range c.Frame.Axes {
			if !contains(c.Sampler.Allowed, a.Channel) {
				add("axis channel %d is not in the allowed set %v", a.Channel, c.Sampler.Allowed)
			}
		}
	case ModeCapture:
		if _, err := capture.NewHandoff(capture.Policy(c.Capture.Handoff), c.Capture.BufferSize); err != nil {
			add("capture: %v", err)
		}
		if _, err := capture.ParseWaitMode(c.Capture.Wait); err != nil {
			add("capture: %v", err)
		}
		if err := c.DriverConfig().Validate(); err != nil {
			add("capture: %v", err)
		}
		if c.Capture.FrameLength <= 0 {
			add("capture frame length must be positive, got %d", c.Capture.FrameLength)
		}
		switch c.Capture.Driver {
		case "mock":
		case "adc":
			if !contains(c.Sampler.Allowed, c.Capture.Channel) {
				add("capture channel %d is not in the allowed set %v", c.Capture.Channel, c.Sampler.Allowed)
			}
		case "serial":
			if c.Capture.Port == "" {
				add("capture driver serial needs a port")
			}
		default:
			add("unknown capture driver %q", c.Capture.Driver)
		}
	default:
		add("unknown mode %q", c.Mode)
	}

	switch c.Device.Backend {
	case "mock":
		if c.Device.VRef <= 0 {
			add("vref must be positive, got %v", c.Device.VRef)
		}
	case "ads1115":
		if c.Device.ADS1115.FullScale <= 0 {
			add("ads1115 full scale must be positive, got %v", c.Device.ADS1115.FullScale)
		}
	default:
		add("unknown device backend %q", c.Device.Backend)
	}
	if c.Sampler.Oversample < 1 {
		add("oversample must be >= 1, got %d", c.Sampler.Oversample)
	}

	if _, err := scheduler.ParseFailurePolicy(c.Scheduler.OnFailure); err != nil {
		add("%v", err)
	}

	switch c.Report.Format {
	case "lines", "compact":
	default:
		add("unknown report format %q", c.Report.Format)
	}

	axes := c.Stride()
	for _, l := range c.labels() {
		if len(l.Centroid) != 2*axes {
			add("label %q has %d centroid values, want %d", l.Name, len(l.Centroid), 2*axes)
		}
	}

	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		add("mqtt enabled without a broker")
	}

	return errors.Join(errs...)
}

// Length returns the frame length of the selected mode.
func (c *Config) Length() int {
	if c.Mode == ModeCapture {
		return c.Capture.FrameLength
	}
	return c.Frame.Length
}

// Stride returns the values per sampling instant of the selected mode.
func (c *Config) Stride() int {
	if c.Mode == ModeCapture {
		return 1
	}
	return len(c.Frame.Axes)
}

// Reference returns the voltage that maps to full scale on the selected
// backend. The ADS1115 readings are rescaled against its input range.
func (c *Config) Reference() float64 {
	if c.Device.Backend == "ads1115" {
		return c.Device.ADS1115.FullScale
	}
	return c.Device.VRef
}

// Calibration returns the converter calibration.
func (c *Config) Calibration() adc.Calibration {
	return adc.Calibration{
		Factor:     adc.FactorFor(float32(c.Reference()), c.Device.Bits),
		ZeroOffset: float32(c.Sampler.ZeroOffset),
	}
}

// SamplerConfig returns the channel sampler settings.
func (c *Config) SamplerConfig() adc.SamplerConfig {
	channels := make([]int, 0, len(c.Frame.Axes))
	for _, a := range c.Frame.Axes {
		channels = append(channels, a.Channel)
	}
	return adc.SamplerConfig{
		Allowed:     c.Sampler.Allowed,
		Channels:    channels,
		Oversample:  c.Sampler.Oversample,
		SampleDelay: c.Sampler.SampleDelay,
		Calibration: c.Calibration(),
	}
}

// FrameConfig returns the assembler settings.
func (c *Config) FrameConfig() frame.Config {
	axes := make([]frame.Axis, len(c.Frame.Axes))
	for i, a := range c.Frame.Axes {
		axes[i] = frame.Axis{Channel: a.Channel, Scale: float32(a.Scale)}
	}
	return frame.Config{
		Length:          c.Frame.Length,
		Axes:            axes,
		Rate:            c.Frame.Rate,
		SleepToDeadline: c.Frame.SleepToDeadline,
	}
}

// DriverConfig returns the capture driver settings.
func (c *Config) DriverConfig() capture.DriverConfig {
	return capture.DriverConfig{
		Channel:    c.Capture.Channel,
		Bias:       float32(c.Capture.Bias),
		SampleRate: c.Capture.SampleRate,
		BufferSize: c.Capture.BufferSize,
	}
}

// SchedulerConfig returns the cycle settings for the selected mode.
func (c *Config) SchedulerConfig() scheduler.Config {
	policy, _ := scheduler.ParseFailurePolicy(c.Scheduler.OnFailure)
	return scheduler.Config{
		Length:        c.Length(),
		Stride:        c.Stride(),
		AnnounceDelay: c.Scheduler.AnnounceDelay,
		OnFailure:     policy,
		Cycles:        c.Scheduler.Cycles,
		Debug:         c.Scheduler.Debug,
	}
}

// CentroidConfig returns the reference engine settings, shaped for the
// selected mode.
func (c *Config) CentroidConfig() inference.CentroidConfig {
	cl := c.labels()
	labels := make([]inference.Label, len(cl))
	for i, l := range cl {
		labels[i] = inference.Label{Name: l.Name, Centroid: l.Centroid}
	}
	return inference.CentroidConfig{
		FrameSize:  c.Length(),
		Axes:       c.Stride(),
		Window:     c.Engine.Window,
		Labels:     labels,
		HasAnomaly: c.Engine.HasAnomaly,
	}
}

func (c *Config) labels() []LabelConfig {
	if c.Mode == ModeCapture {
		return c.Engine.CaptureLabels
	}
	return c.Engine.Labels
}

func contains(list []int, v int) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
