// Package config loads the daemon configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"

	"github.com/sweeney/mux-scanner/internal/acquire"
	"github.com/sweeney/mux-scanner/internal/control"
	"github.com/sweeney/mux-scanner/internal/logic"
	"github.com/sweeney/mux-scanner/internal/mqtt"
	"github.com/sweeney/mux-scanner/internal/mux"
	"github.com/sweeney/mux-scanner/internal/serial"
)

// ErrInvalid is wrapped by every Validate error.
var ErrInvalid = errors.New("invalid config")

// ADC drivers.
const (
	DriverReal      = "real"
	DriverSimulated = "simulated"
)

// Config represents the application configuration.
type Config struct {
	Mux     MuxConfig     `yaml:"mux"`
	ADC     ADCConfig     `yaml:"adc"`
	Filter  FilterConfig  `yaml:"filter"`
	Timing  TimingConfig  `yaml:"timing"`
	Control ControlConfig `yaml:"control"`
	Scale   ScaleConfig   `yaml:"scale"`
	Serial  SerialConfig  `yaml:"serial"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	HTTP    HTTPConfig    `yaml:"http"`
	Log     LogConfig     `yaml:"log"`
}

// MuxConfig contains the GPIO lines driving the two multiplexers.
type MuxConfig struct {
	Chip  string `yaml:"chip"`
	Lines []int  `yaml:"lines"` // bit 0 first: secondary S0-S2, then primary S0-S2
}

// ADCConfig contains sample source configuration.
type ADCConfig struct {
	Driver  string        `yaml:"driver"`   // real or simulated
	SPIPort string        `yaml:"spi_port"` // empty opens the first SPI port
	SpeedHz int64         `yaml:"speed_hz"`
	Input   int           `yaml:"input"` // MCP3008 single-ended input
	Timeout time.Duration `yaml:"timeout"`
}

// FilterConfig contains the Stage-1 burst size.
type FilterConfig struct {
	BurstSize int `yaml:"burst_size"`
}

// TimingConfig contains every delay of the acquisition cycle.
type TimingConfig struct {
	Startup        time.Duration `yaml:"startup"`
	AddressSettle  time.Duration `yaml:"address_settle"`
	InputSettle    time.Duration `yaml:"input_settle"`
	SampleInterval time.Duration `yaml:"sample_interval"`
	BurstInterval  time.Duration `yaml:"burst_interval"`
	CycleDelay     time.Duration `yaml:"cycle_delay"`
	PostSweep      time.Duration `yaml:"post_sweep"`
}

// ControlConfig contains the loop cadence.
type ControlConfig struct {
	RescanEvery int `yaml:"rescan_every"`
}

// ScaleConfig converts counts to volts.
type ScaleConfig struct {
	VRef      float64 `yaml:"vref"`
	FullScale float64 `yaml:"full_scale"`
}

// SerialConfig contains the report output port.
type SerialConfig struct {
	Port        string        `yaml:"port"` // empty writes to stdout
	Baud        int           `yaml:"baud"`
	OpenTimeout time.Duration `yaml:"open_timeout"`
}

// MQTTConfig contains telemetry settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	TopicPrefix string        `yaml:"topic_prefix"`
	Heartbeat   time.Duration `yaml:"heartbeat"`
}

// HTTPConfig contains the status server address. Empty disables it.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	File  string `yaml:"file"`
	Level string `yaml:"level"`
}

// Default returns the configuration of the reference hardware.
func Default() *Config {
	t := acquire.DefaultTiming
	loop := control.DefaultConfig()
	return &Config{
		Mux: MuxConfig{
			Chip:  "gpiochip0",
			Lines: append([]int(nil), mux.DefaultLineOffsets[:]...),
		},
		ADC: ADCConfig{
			Driver:  DriverReal,
			SpeedHz: 1_000_000,
			Timeout: 100 * time.Millisecond,
		},
		Filter: FilterConfig{BurstSize: acquire.DefaultBurstSize},
		Timing: TimingConfig{
			Startup:        loop.StartupDelay,
			AddressSettle:  control.DefaultAddressSettle,
			InputSettle:    t.InputSettle,
			SampleInterval: t.SampleInterval,
			BurstInterval:  t.BurstInterval,
			CycleDelay:     loop.CycleDelay,
			PostSweep:      loop.PostSweepDelay,
		},
		Control: ControlConfig{RescanEvery: control.DefaultRescanEvery},
		Scale:   ScaleConfig{VRef: logic.DefaultScale.VRef, FullScale: logic.DefaultScale.FullScale},
		Serial: SerialConfig{
			Baud:        serial.DefaultBaudRate,
			OpenTimeout: 30 * time.Second,
		},
		MQTT: MQTTConfig{
			ClientID:    "mux-scanner",
			TopicPrefix: mqtt.DefaultTopicPrefix,
			Heartbeat:   15 * time.Minute,
		},
		HTTP: HTTPConfig{Addr: ":8080"},
		Log:  LogConfig{Level: "info"},
	}
}

// Load reads a YAML file over Default. Unknown keys are rejected.
func Load(filename string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Save writes the configuration as YAML.
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

// Validate reports every problem found, each wrapping ErrInvalid.
func (c *Config) Validate() error {
	var err error
	bad := func(format string, args ...any) {
		err = multierr.Append(err, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if len(c.Mux.Lines) != mux.Lines {
		bad("mux.lines: need %d offsets, got %d", mux.Lines, len(c.Mux.Lines))
	}
	seen := make(map[int]bool, len(c.Mux.Lines))
	for _, off := range c.Mux.Lines {
		if off < 0 {
			bad("mux.lines: negative offset %d", off)
		}
		if seen[off] {
			bad("mux.lines: offset %d used twice", off)
		}
		seen[off] = true
	}

	switch c.ADC.Driver {
	case DriverReal:
		if c.Mux.Chip == "" {
			bad("mux.chip is required for the real driver")
		}
	case DriverSimulated:
	default:
		bad("adc.driver: %q is not %s or %s", c.ADC.Driver, DriverReal, DriverSimulated)
	}
	if c.ADC.Input < 0 || c.ADC.Input > 7 {
		bad("adc.input: %d out of range [0,7]", c.ADC.Input)
	}
	if c.ADC.SpeedHz <= 0 {
		bad("adc.speed_hz must be positive")
	}
	if c.ADC.Timeout < 0 {
		bad("adc.timeout must not be negative")
	}

	if c.Filter.BurstSize < 1 || c.Filter.BurstSize > logic.MaxBurst {
		bad("filter.burst_size: %d out of range [1,%d]", c.Filter.BurstSize, logic.MaxBurst)
	}

	for name, d := range map[string]time.Duration{
		"startup":         c.Timing.Startup,
		"address_settle":  c.Timing.AddressSettle,
		"input_settle":    c.Timing.InputSettle,
		"sample_interval": c.Timing.SampleInterval,
		"burst_interval":  c.Timing.BurstInterval,
		"cycle_delay":     c.Timing.CycleDelay,
		"post_sweep":      c.Timing.PostSweep,
	} {
		if d < 0 {
			bad("timing.%s must not be negative", name)
		}
	}

	if c.Control.RescanEvery < 1 {
		bad("control.rescan_every must be at least 1")
	}

	if c.Scale.VRef <= 0 {
		bad("scale.vref must be positive")
	}
	if c.Scale.FullScale <= 0 {
		bad("scale.full_scale must be positive")
	}

	if c.Serial.Baud <= 0 {
		bad("serial.baud must be positive")
	}

	if c.MQTT.Broker != "" && c.MQTT.ClientID == "" {
		bad("mqtt.client_id is required with a broker")
	}
	if c.MQTT.Heartbeat < 0 {
		bad("mqtt.heartbeat must not be negative")
	}

	if _, perr := zapcore.ParseLevel(c.Log.Level); perr != nil {
		bad("log.level: %v", perr)
	}

	return err
}

// MuxLines returns the line offsets as a fixed array. Call after Validate.
func (c *Config) MuxLines() [mux.Lines]int {
	var out [mux.Lines]int
	copy(out[:], c.Mux.Lines)
	return out
}

// AcquireTiming returns the delays used inside one aggregated reading.
func (c *Config) AcquireTiming() acquire.Timing {
	return acquire.Timing{
		InputSettle:    c.Timing.InputSettle,
		SampleInterval: c.Timing.SampleInterval,
		BurstInterval:  c.Timing.BurstInterval,
	}
}

// LoopConfig returns the loop cadence.
func (c *Config) LoopConfig() control.Config {
	return control.Config{
		StartupDelay:   c.Timing.Startup,
		PostSweepDelay: c.Timing.PostSweep,
		CycleDelay:     c.Timing.CycleDelay,
		RescanEvery:    c.Control.RescanEvery,
	}
}

// ScaleValue returns the count-to-volts conversion.
func (c *Config) ScaleValue() logic.Scale {
	return logic.Scale{VRef: c.Scale.VRef, FullScale: c.Scale.FullScale}
}
