package sim

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"cztelemetry/internal/telemetry"
)

const (
	ModeUniform = "uniform"
	ModeWalk    = "walk"
	ModeScript  = "script"

	DefaultHeader uint16 = 0xABCD
)

// Plausible ranges for a bench sensor package.
var (
	temperatureRange = [2]float64{15, 25}
	pressureRange    = [2]float64{99000, 102000}
	altitudeRange    = [2]float64{0, 100}
)

// Per-sample step bounds for the random walk.
const (
	temperatureStep = 0.1
	pressureStep    = 25
	altitudeStep    = 1
)

type Config struct {
	// Mode is "uniform" (independent jitter per sample), "walk" (bounded
	// random walk) or "script" (keyframed Scenario). Empty means uniform.
	Mode   string
	Seed   int64
	Header uint16

	Scenario *Scenario
	Loop     bool
}

// Generator produces synthetic telemetry records. It is deterministic for a
// given seed and sequence of timestamps, and not safe for concurrent use.
type Generator struct {
	mode   string
	header uint16
	rng    *rand.Rand

	scenario *Scenario
	loop     bool
	start    time.Time

	last    telemetry.Record
	started bool
}

func NewGenerator(cfg Config) (*Generator, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = ModeUniform
	}
	switch mode {
	case ModeUniform, ModeWalk:
	case ModeScript:
		if cfg.Scenario == nil {
			return nil, fmt.Errorf("sim mode %q requires a scenario", mode)
		}
	default:
		return nil, fmt.Errorf("unknown sim mode %q", cfg.Mode)
	}
	header := cfg.Header
	if header == 0 && cfg.Scenario != nil {
		header = cfg.Scenario.Header()
	}
	if header == 0 {
		header = DefaultHeader
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{
		mode:     mode,
		header:   header,
		rng:      rand.New(rand.NewSource(seed)),
		scenario: cfg.Scenario,
		loop:     cfg.Loop,
	}, nil
}

// Next returns a sealed record stamped with now in unix seconds. In script
// mode the profile clock starts at the first call.
func (g *Generator) Next(now time.Time) telemetry.Record {
	if !g.started {
		g.start = now
	}

	var rec telemetry.Record
	switch {
	case g.mode == ModeScript:
		s := g.scenario.SampleAt(now.Sub(g.start), g.loop)
		rec = telemetry.Record{
			Temperature: float32(s.Temperature),
			Pressure:    float32(s.Pressure),
			Altitude:    float32(s.Altitude),
		}
	case g.mode == ModeWalk && g.started:
		rec = telemetry.Record{
			Temperature: float32(g.walk(float64(g.last.Temperature), temperatureStep, temperatureRange)),
			Pressure:    float32(g.walk(float64(g.last.Pressure), pressureStep, pressureRange)),
			Altitude:    float32(g.walk(float64(g.last.Altitude), altitudeStep, altitudeRange)),
		}
	default:
		rec = telemetry.Record{
			Temperature: float32(g.uniform(temperatureRange)),
			Pressure:    float32(g.uniform(pressureRange)),
			Altitude:    float32(g.uniform(altitudeRange)),
		}
	}
	rec.Header = g.header
	rec.Timestamp = uint32(now.Unix())
	rec = rec.Seal()

	g.last = rec
	g.started = true
	return rec
}

func (g *Generator) uniform(r [2]float64) float64 {
	return r[0] + g.rng.Float64()*(r[1]-r[0])
}

func (g *Generator) walk(v, step float64, r [2]float64) float64 {
	v += (g.rng.Float64()*2 - 1) * step
	if v < r[0] {
		v = r[0]
	}
	if v > r[1] {
		v = r[1]
	}
	return v
}

// Garbage returns n random bytes that never contain a start marker.
func (g *Generator) Garbage(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		b := byte(g.rng.Intn(256))
		if b == telemetry.StartMarker {
			b ^= 0x80
		}
		out[i] = b
	}
	return out
}

// Float64 exposes the generator's random stream for fault injection.
func (g *Generator) Float64() float64 { return g.rng.Float64() }

func (g *Generator) Intn(n int) int { return g.rng.Intn(n) }
