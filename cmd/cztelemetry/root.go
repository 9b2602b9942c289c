package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"cztelemetry/internal/config"
	"cztelemetry/internal/link"
	"cztelemetry/internal/logging"
	"cztelemetry/internal/source"
)

// globalOptions are the persistent flags. Flags the user set win over the
// config file.
type globalOptions struct {
	configPath string
	port       string
	baud       int
	timeout    time.Duration
	fake       bool
	logLevel   string
	logFormat  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "cztelemetry",
		Short: "Decode framed sensor telemetry from a serial link",
		Long: `cztelemetry reads 0x02 ... 0x03 framed telemetry records (header,
timestamp, temperature, pressure, altitude, checksum) from a serial port, a
capture file or a simulator, and publishes them to the terminal, JSONL, UDP
and a small web dashboard.`,
		SilenceUsage: true,
	}

	pf := root.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "", "path to YAML config (defaults apply when omitted)")
	pf.StringVar(&opts.port, "port", "", `serial device, or "auto"`)
	pf.IntVar(&opts.baud, "baud", 0, "serial baud rate")
	pf.DurationVar(&opts.timeout, "timeout", 0, "read timeout and frame body deadline")
	pf.BoolVar(&opts.fake, "fake", false, "synthesize records instead of opening the port")
	pf.StringVar(&opts.logLevel, "log-level", "", "trace, debug, info, warn or error")
	pf.StringVar(&opts.logFormat, "log-format", "", "console or json")

	root.AddCommand(
		newRunCmd(opts),
		newMonitorCmd(opts),
		newDumpCmd(opts),
		newGenCmd(),
		newSummaryCmd(),
	)
	return root
}

// load reads the config file (or defaults) and applies explicitly set flags.
func (o *globalOptions) load(cmd *cobra.Command) (config.Config, error) {
	cfg := config.Default()
	if strings.TrimSpace(o.configPath) != "" {
		var err error
		cfg, err = config.Load(o.configPath)
		if err != nil {
			return config.Config{}, fmt.Errorf("config load failed: %w", err)
		}
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Serial.Port = o.port
	}
	if flags.Changed("baud") {
		cfg.Serial.Baud = o.baud
	}
	if flags.Changed("timeout") {
		cfg.Serial.Timeout = o.timeout
	}
	if flags.Changed("fake") {
		cfg.Source.Fake = o.fake
	}
	if flags.Changed("log-level") {
		cfg.Log.Level = o.logLevel
	}
	if flags.Changed("log-format") {
		cfg.Log.Format = o.logFormat
	}
	return cfg, nil
}

func newLogger(cfg config.Config, out, tee io.Writer) (zerolog.Logger, error) {
	return logging.New(logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Out:    out,
		Tee:    tee,
	})
}

func linkConfig(cfg config.Config) link.Config {
	lc := link.Config{
		Serial: source.SerialConfig{
			Port:    cfg.Serial.Port,
			Baud:    cfg.Serial.Baud,
			Timeout: cfg.Serial.Timeout,
			Driver:  cfg.Serial.Driver,
		},
		Fake: cfg.Source.Fake,
		Sim: link.SimConfig{
			RateHz:      cfg.Sim.RateHz,
			Mode:        cfg.Sim.Mode,
			Seed:        cfg.Sim.Seed,
			Script:      cfg.Sim.Script,
			Loop:        cfg.Sim.Loop,
			Framed:      cfg.Sim.Framed,
			NoiseRate:   cfg.Sim.NoiseRate,
			CorruptRate: cfg.Sim.CorruptRate,
		},
		EventBuffer: cfg.Link.EventBuffer,
	}
	if cfg.Source.Replay.Enable {
		lc.Replay = link.ReplayConfig{
			Path:  cfg.Source.Replay.Path,
			Speed: cfg.Source.Replay.Speed,
			Loop:  cfg.Source.Replay.Loop,
		}
	}
	if cfg.Capture.Enable {
		lc.CapturePath = cfg.Capture.Path
	}
	return lc
}
