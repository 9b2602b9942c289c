package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "cfg.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o644); err != nil {
		t.Fatalf("WriteFile() error: %v", err)
	}
	return path
}

func requireErrEq(t *testing.T, err error, want string) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected error %q, got nil", want)
	}
	if err.Error() != want {
		t.Fatalf("error=%q want %q", err.Error(), want)
	}
}

func TestLoad_DefaultsApplied(t *testing.T) {
	path := writeTempConfig(t, "")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg != Default() {
		t.Fatalf("empty file should equal Default()")
	}
	if cfg.Serial.Port != "auto" || cfg.Serial.Baud != 115200 || cfg.Serial.Timeout != time.Second {
		t.Fatalf("serial defaults: %+v", cfg.Serial)
	}
	if cfg.Sim.RateHz != 20 || cfg.Sim.Mode != "uniform" {
		t.Fatalf("sim defaults: %+v", cfg.Sim)
	}
	if cfg.Web.Listen != ":8080" || cfg.Output.UDP.Format != "json" || cfg.Output.JSONL.Path != "-" {
		t.Fatalf("output defaults: %+v %+v", cfg.Web, cfg.Output)
	}
	if cfg.Source.Replay.Speed != 1 {
		t.Fatalf("replay speed=%v want 1", cfg.Source.Replay.Speed)
	}
}

func TestLoad_ExplicitValues(t *testing.T) {
	path := writeTempConfig(t, `
serial:
  port: /dev/ttyUSB1
  baud: 57600
  timeout: 250ms
  driver: portable
source:
  fake: true
sim:
  rate_hz: 5
  mode: walk
  seed: 42
  framed: true
  noise_rate: 0.1
output:
  udp:
    enable: true
    dest: 127.0.0.1:4000
    format: frame
log:
  level: debug
  format: json
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if cfg.Serial.Port != "/dev/ttyUSB1" || cfg.Serial.Baud != 57600 || cfg.Serial.Timeout != 250*time.Millisecond {
		t.Fatalf("serial=%+v", cfg.Serial)
	}
	if !cfg.Source.Fake || !cfg.Sim.Framed || cfg.Sim.Seed != 42 || cfg.Sim.RateHz != 5 {
		t.Fatalf("sim=%+v source=%+v", cfg.Sim, cfg.Source)
	}
	if cfg.Output.UDP.Format != "frame" || cfg.Log.Format != "json" {
		t.Fatalf("output=%+v log=%+v", cfg.Output, cfg.Log)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatalf("expected error")
	}
}

func TestLoad_Validation(t *testing.T) {
	cases := []struct {
		name string
		body string
		want string
	}{
		{"NegativeBaud", "serial:\n  baud: -1\n", "serial.baud must be > 0"},
		{"TinyTimeout", "serial:\n  timeout: 500us\n", "serial.timeout must be >= 1ms (use a duration such as 1s)"},
		{"Driver", "serial:\n  driver: usb\n", "serial.driver must be one of: auto, termios, portable"},
		{"ReplayRequiresPath", "source:\n  replay:\n    enable: true\n", "source.replay.path is required when source.replay.enable is true"},
		{"ReplayNegativeSpeed", "source:\n  replay:\n    enable: true\n    path: ./x.cap\n    speed: -1\n", "source.replay.speed must be > 0"},
		{"FakeAndReplay", "source:\n  fake: true\n  replay:\n    enable: true\n    path: ./x.cap\n", "source.fake and source.replay cannot both be enabled"},
		{"Rate", "sim:\n  rate_hz: -3\n", "sim.rate_hz must be in (0, 1000]"},
		{"Mode", "sim:\n  mode: sine\n", "sim.mode must be one of: uniform, walk, script"},
		{"ScriptRequiresPath", "sim:\n  mode: script\n", "sim.script is required when sim.mode is 'script'"},
		{"NoiseRange", "sim:\n  framed: true\n  noise_rate: 2\n", "sim.noise_rate must be in [0, 1]"},
		{"CorruptNeedsFramed", "sim:\n  corrupt_rate: 0.5\n", "sim.noise_rate and sim.corrupt_rate require sim.framed"},
		{"EventBuffer", "link:\n  event_buffer: -1\n", "link.event_buffer must be >= 1"},
		{"CaptureRequiresPath", "capture:\n  enable: true\n", "capture.path is required when capture.enable is true"},
		{"CaptureAndReplay", "capture:\n  enable: true\n  path: ./a.cap\nsource:\n  replay:\n    enable: true\n    path: ./b.cap\n", "capture and source.replay cannot both be enabled"},
		{"CaptureUnframedFake", "capture:\n  enable: true\n  path: ./a.cap\nsource:\n  fake: true\n", "capture requires a byte stream (source.fake needs sim.framed)"},
		{"UDPRequiresDest", "output:\n  udp:\n    enable: true\n", "output.udp.dest is required when output.udp.enable is true"},
		{"UDPFormat", "output:\n  udp:\n    enable: true\n    dest: 127.0.0.1:1\n    format: xml\n", "output.udp.format must be one of: json, frame"},
		{"LogLevel", "log:\n  level: loud\n", "log.level must be one of: trace, debug, info, warn, error"},
		{"LogFormat", "log:\n  format: xml\n", "log.format must be one of: console, json"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeTempConfig(t, tc.body))
			requireErrEq(t, err, tc.want)
		})
	}
}

func TestLoad_BareNumberTimeoutRejected(t *testing.T) {
	_, err := Load(writeTempConfig(t, "serial:\n  timeout: 1\n"))
	if err == nil || !strings.Contains(err.Error(), "time.Duration") {
		t.Fatalf("expected duration type error, got %v", err)
	}
}

func TestLoad_RejectsUnknownField(t *testing.T) {
	path := writeTempConfig(t, "serial:\n  port: auto\n  parity: none\n")
	_, err := Load(path)
	requireErrEq(t, err, "config contains unknown fields: field parity not found in type config.SerialConfig")
}

func TestValidate_AfterOverride(t *testing.T) {
	cfg := Default()
	cfg.Serial.Baud = 0
	requireErrEq(t, cfg.Validate(), "serial.baud must be > 0")
}
