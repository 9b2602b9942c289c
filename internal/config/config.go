package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Serial  SerialConfig  `yaml:"serial"`
	Source  SourceConfig  `yaml:"source"`
	Sim     SimConfig     `yaml:"sim"`
	Link    LinkConfig    `yaml:"link"`
	Capture CaptureConfig `yaml:"capture"`
	Output  OutputConfig  `yaml:"output"`
	Web     WebConfig     `yaml:"web"`
	Log     LogConfig     `yaml:"log"`
}

type SerialConfig struct {
	// Port is a device path, or "auto" to probe USB serial adapters.
	Port    string        `yaml:"port"`
	Baud    int           `yaml:"baud"`
	Timeout time.Duration `yaml:"timeout"`
	// Driver is "auto", "termios" or "portable".
	Driver string `yaml:"driver"`
}

type SourceConfig struct {
	// Fake bypasses the transport and synthesizes records.
	Fake   bool         `yaml:"fake"`
	Replay ReplayConfig `yaml:"replay"`
}

type ReplayConfig struct {
	Enable bool    `yaml:"enable"`
	Path   string  `yaml:"path"`
	Speed  float64 `yaml:"speed"`
	Loop   bool    `yaml:"loop"`
}

type SimConfig struct {
	RateHz float64 `yaml:"rate_hz"`
	// Mode is "uniform", "walk" or "script".
	Mode   string `yaml:"mode"`
	Seed   int64  `yaml:"seed"`
	Script string `yaml:"script"`
	Loop   bool   `yaml:"loop"`

	// Framed sends synthetic records through the wire encoding and the
	// decoder instead of handing them over directly.
	Framed      bool    `yaml:"framed"`
	NoiseRate   float64 `yaml:"noise_rate"`
	CorruptRate float64 `yaml:"corrupt_rate"`
}

type LinkConfig struct {
	EventBuffer     int `yaml:"event_buffer"`
	DiagnosticsTail int `yaml:"diagnostics_tail"`
}

type CaptureConfig struct {
	Enable bool   `yaml:"enable"`
	Path   string `yaml:"path"`
}

type OutputConfig struct {
	JSONL JSONLConfig `yaml:"jsonl"`
	UDP   UDPConfig   `yaml:"udp"`
}

type JSONLConfig struct {
	Enable bool `yaml:"enable"`
	// Path is a file to append to, or "-" for stdout.
	Path string `yaml:"path"`
}

type UDPConfig struct {
	Enable bool   `yaml:"enable"`
	Dest   string `yaml:"dest"`
	// Format is "json" or "frame".
	Format string `yaml:"format"`
}

type WebConfig struct {
	Enable bool   `yaml:"enable"`
	Listen string `yaml:"listen"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// Format is "console" or "json".
	Format string `yaml:"format"`
	// Buffer is how many recent lines /api/logs keeps.
	Buffer int `yaml:"buffer"`
}

// Default returns the configuration used when no file is given.
func Default() Config {
	var cfg Config
	applyDefaults(&cfg)
	return cfg
}

func Load(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	return Parse(b)
}

// Parse decodes YAML, rejecting unknown fields, then applies defaults and
// validates.
func Parse(b []byte) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		var te *yaml.TypeError
		if errors.As(err, &te) && unknownFieldsOnly(te) {
			return Config{}, fmt.Errorf("config contains unknown fields: %s", strings.Join(stripLines(te.Errors), "; "))
		}
		return Config{}, err
	}
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func unknownFieldsOnly(te *yaml.TypeError) bool {
	for _, e := range te.Errors {
		if !strings.Contains(e, " not found in type ") {
			return false
		}
	}
	return len(te.Errors) > 0
}

// stripLines drops the "line N: " prefix yaml puts on each message.
func stripLines(msgs []string) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if strings.HasPrefix(m, "line ") {
			if i := strings.Index(m, ": "); i >= 0 {
				m = m[i+2:]
			}
		}
		out = append(out, m)
	}
	return out
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.Serial.Port) == "" {
		cfg.Serial.Port = "auto"
	}
	if cfg.Serial.Baud == 0 {
		cfg.Serial.Baud = 115200
	}
	if cfg.Serial.Timeout == 0 {
		cfg.Serial.Timeout = 1 * time.Second
	}
	if cfg.Serial.Driver == "" {
		cfg.Serial.Driver = "auto"
	}

	if cfg.Source.Replay.Speed == 0 {
		cfg.Source.Replay.Speed = 1
	}

	if cfg.Sim.RateHz == 0 {
		cfg.Sim.RateHz = 20
	}
	if cfg.Sim.Mode == "" {
		cfg.Sim.Mode = "uniform"
	}

	if cfg.Link.EventBuffer == 0 {
		cfg.Link.EventBuffer = 256
	}
	if cfg.Link.DiagnosticsTail == 0 {
		cfg.Link.DiagnosticsTail = 50
	}

	if cfg.Output.JSONL.Path == "" {
		cfg.Output.JSONL.Path = "-"
	}
	if cfg.Output.UDP.Format == "" {
		cfg.Output.UDP.Format = "json"
	}

	if cfg.Web.Listen == "" {
		cfg.Web.Listen = ":8080"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.Buffer == 0 {
		cfg.Log.Buffer = 500
	}
}

// Validate checks a fully defaulted config. CLI overrides are applied before
// calling it again.
func (cfg Config) Validate() error {
	if cfg.Serial.Baud <= 0 {
		return fmt.Errorf("serial.baud must be > 0")
	}
	if cfg.Serial.Timeout < time.Millisecond {
		return fmt.Errorf("serial.timeout must be >= 1ms (use a duration such as 1s)")
	}
	switch cfg.Serial.Driver {
	case "auto", "termios", "portable":
	default:
		return fmt.Errorf("serial.driver must be one of: auto, termios, portable")
	}

	if cfg.Source.Replay.Enable {
		if cfg.Source.Fake {
			return fmt.Errorf("source.fake and source.replay cannot both be enabled")
		}
		if cfg.Source.Replay.Path == "" {
			return fmt.Errorf("source.replay.path is required when source.replay.enable is true")
		}
		if cfg.Source.Replay.Speed < 0 {
			return fmt.Errorf("source.replay.speed must be > 0")
		}
	}

	if cfg.Sim.RateHz <= 0 || cfg.Sim.RateHz > 1000 {
		return fmt.Errorf("sim.rate_hz must be in (0, 1000]")
	}
	switch cfg.Sim.Mode {
	case "uniform", "walk":
	case "script":
		if cfg.Sim.Script == "" {
			return fmt.Errorf("sim.script is required when sim.mode is 'script'")
		}
	default:
		return fmt.Errorf("sim.mode must be one of: uniform, walk, script")
	}
	if cfg.Sim.NoiseRate < 0 || cfg.Sim.NoiseRate > 1 {
		return fmt.Errorf("sim.noise_rate must be in [0, 1]")
	}
	if cfg.Sim.CorruptRate < 0 || cfg.Sim.CorruptRate > 1 {
		return fmt.Errorf("sim.corrupt_rate must be in [0, 1]")
	}
	if (cfg.Sim.NoiseRate > 0 || cfg.Sim.CorruptRate > 0) && !cfg.Sim.Framed {
		return fmt.Errorf("sim.noise_rate and sim.corrupt_rate require sim.framed")
	}

	if cfg.Link.EventBuffer < 1 {
		return fmt.Errorf("link.event_buffer must be >= 1")
	}
	if cfg.Link.DiagnosticsTail < 1 {
		return fmt.Errorf("link.diagnostics_tail must be >= 1")
	}

	if cfg.Capture.Enable {
		if cfg.Capture.Path == "" {
			return fmt.Errorf("capture.path is required when capture.enable is true")
		}
		if cfg.Source.Replay.Enable {
			return fmt.Errorf("capture and source.replay cannot both be enabled")
		}
		if cfg.Source.Fake && !cfg.Sim.Framed {
			return fmt.Errorf("capture requires a byte stream (source.fake needs sim.framed)")
		}
	}

	if cfg.Output.UDP.Enable {
		if cfg.Output.UDP.Dest == "" {
			return fmt.Errorf("output.udp.dest is required when output.udp.enable is true")
		}
		switch cfg.Output.UDP.Format {
		case "json", "frame":
		default:
			return fmt.Errorf("output.udp.format must be one of: json, frame")
		}
	}

	switch strings.ToLower(cfg.Log.Level) {
	case "trace", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be one of: trace, debug, info, warn, error")
	}
	switch cfg.Log.Format {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be one of: console, json")
	}
	if cfg.Log.Buffer < 0 {
		return fmt.Errorf("log.buffer must be >= 0")
	}
	return nil
}
