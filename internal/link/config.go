package link

import (
	"context"
	"fmt"
	"time"

	"cztelemetry/internal/replay"
	"cztelemetry/internal/sim"
	"cztelemetry/internal/source"
)

// Config selects the source and sizes the output stream. Exactly one of
// Fake, Replay or the serial port is used, in that order of precedence.
type Config struct {
	Serial source.SerialConfig
	Fake   bool
	Replay ReplayConfig
	Sim    SimConfig

	// CapturePath, when set, records every byte read from a byte source.
	CapturePath string

	EventBuffer int
}

type ReplayConfig struct {
	Path  string
	Speed float64
	Loop  bool
}

type SimConfig struct {
	RateHz float64
	Mode   string
	Seed   int64
	Script string
	Loop   bool

	Framed      bool
	NoiseRate   float64
	CorruptRate float64
}

func (c SimConfig) interval() time.Duration {
	if c.RateHz <= 0 {
		return 50 * time.Millisecond
	}
	return time.Duration(float64(time.Second) / c.RateHz)
}

func (c SimConfig) generatorConfig() (sim.Config, error) {
	gc := sim.Config{Mode: c.Mode, Seed: c.Seed, Loop: c.Loop}
	if c.Mode == sim.ModeScript {
		scn, err := sim.LoadScenario(c.Script)
		if err != nil {
			return sim.Config{}, err
		}
		gc.Scenario = scn
	}
	return gc, nil
}

func (c SimConfig) generator() (*sim.Generator, error) {
	gc, err := c.generatorConfig()
	if err != nil {
		return nil, err
	}
	return sim.NewGenerator(gc)
}

// Describe names the selected source for logs and status.
func (c Config) Describe() string {
	switch {
	case c.Fake && c.Sim.Framed:
		return fmt.Sprintf("sim(framed,%s,%.0fHz)", c.Sim.Mode, c.Sim.RateHz)
	case c.Fake:
		return fmt.Sprintf("sim(%s,%.0fHz)", c.Sim.Mode, c.Sim.RateHz)
	case c.Replay.Path != "":
		return "replay:" + c.Replay.Path
	default:
		return fmt.Sprintf("serial:%s@%d", c.Serial.Port, c.Serial.Baud)
	}
}

// opener builds the default OpenFunc for c. Unframed fake mode has no byte
// source and never reaches here.
func (c Config) opener(now func() time.Time) OpenFunc {
	return func(ctx context.Context) (source.Source, error) {
		var (
			src source.Source
			err error
		)
		switch {
		case c.Fake:
			src, err = c.openFramedSim(now)
		case c.Replay.Path != "":
			src, err = replay.Open(c.Replay.Path, replay.SourceConfig{
				Speed:   c.Replay.Speed,
				Loop:    c.Replay.Loop,
				Timeout: c.Serial.Timeout,
			})
		default:
			src, err = source.OpenSerial(c.Serial)
		}
		if err != nil {
			return nil, err
		}

		if c.CapturePath == "" {
			return src, nil
		}
		w, err := replay.CreateWriter(c.CapturePath)
		if err != nil {
			_ = src.Close()
			return nil, &source.OpenError{Kind: "capture", Path: c.CapturePath, Err: err}
		}
		_ = w.Comment(fmt.Sprintf("source=%s started=%s", c.Describe(), now().UTC().Format(time.RFC3339)))
		return replay.NewTee(src, w, now), nil
	}
}

func (c Config) openFramedSim(now func() time.Time) (source.Source, error) {
	gc, err := c.Sim.generatorConfig()
	if err != nil {
		return nil, &source.OpenError{Kind: "sim", Err: err}
	}
	src, err := sim.NewFrameSource(sim.FrameConfig{
		Generator:   gc,
		Interval:    c.Sim.interval(),
		NoiseRate:   c.Sim.NoiseRate,
		CorruptRate: c.Sim.CorruptRate,
		Timeout:     c.Serial.Timeout,
		Now:         now,
	})
	if err != nil {
		return nil, &source.OpenError{Kind: "sim", Err: err}
	}
	return src, nil
}
