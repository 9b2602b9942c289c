package sim

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"
)

// ScenarioScript is a deterministic, keyframed sensor profile.
//
// Time is expressed as Go duration strings ("0s", "250ms", "10s"). If
// Duration is zero it is derived from the latest keyframe.
//
// YAML schema (v1):
//
//	version: 1
//	duration: 60s
//	header: 0xABCD
//	keyframes:
//	  - t: 0s
//	    temperature: 18.5
//	    pressure: 101325
//	    altitude: 0
//	  - t: 30s
//	    temperature: 17.9
//	    pressure: 100120
//	    altitude: 100
//
// Keyframes must use non-decreasing t values.
type ScenarioScript struct {
	Version   int           `yaml:"version"`
	Duration  time.Duration `yaml:"duration"`
	Header    uint16        `yaml:"header"`
	Keyframes []Keyframe    `yaml:"keyframes"`
}

type Keyframe struct {
	T           time.Duration `yaml:"t"`
	Temperature float64       `yaml:"temperature"`
	Pressure    float64       `yaml:"pressure"`
	Altitude    float64       `yaml:"altitude"`
}

// Scenario is the validated runtime form of a script.
type Scenario struct {
	script   ScenarioScript
	duration time.Duration
}

func LoadScenarioScript(path string) (ScenarioScript, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return ScenarioScript{}, err
	}
	return ParseScenarioScriptYAML(b)
}

func ParseScenarioScriptYAML(b []byte) (ScenarioScript, error) {
	var s ScenarioScript
	if err := yaml.Unmarshal(b, &s); err != nil {
		return ScenarioScript{}, err
	}
	return s, nil
}

func NewScenario(script ScenarioScript) (*Scenario, error) {
	if script.Version == 0 {
		script.Version = 1
	}
	if script.Version != 1 {
		return nil, fmt.Errorf("unsupported scenario version %d", script.Version)
	}
	if len(script.Keyframes) == 0 {
		return nil, fmt.Errorf("keyframes is required")
	}
	for i, kf := range script.Keyframes {
		if kf.T < 0 {
			return nil, fmt.Errorf("keyframes[%d].t must be >= 0", i)
		}
		if i > 0 && kf.T < script.Keyframes[i-1].T {
			return nil, fmt.Errorf("keyframes must be sorted by t (index %d)", i)
		}
	}

	dur := script.Duration
	if dur <= 0 {
		dur = script.Keyframes[len(script.Keyframes)-1].T
	}
	if dur <= 0 {
		return nil, fmt.Errorf("duration is required (or derivable from keyframes)")
	}
	return &Scenario{script: script, duration: dur}, nil
}

// LoadScenario reads, parses and validates a script file.
func LoadScenario(path string) (*Scenario, error) {
	script, err := LoadScenarioScript(path)
	if err != nil {
		return nil, err
	}
	scn, err := NewScenario(script)
	if err != nil {
		return nil, fmt.Errorf("scenario %s: %w", path, err)
	}
	return scn, nil
}

func (s *Scenario) Duration() time.Duration {
	if s == nil {
		return 0
	}
	return s.duration
}

func (s *Scenario) Header() uint16 {
	if s == nil {
		return 0
	}
	return s.script.Header
}

// Sample is the interpolated sensor state at one instant.
type Sample struct {
	Temperature float64
	Pressure    float64
	Altitude    float64
}

// SampleAt linearly interpolates the keyframes at elapsed. With loop the
// profile repeats every Duration(); otherwise elapsed is clamped to it.
func (s *Scenario) SampleAt(elapsed time.Duration, loop bool) Sample {
	if s == nil {
		return Sample{}
	}
	if elapsed < 0 {
		elapsed = 0
	}
	if loop {
		elapsed %= s.duration
	} else if elapsed > s.duration {
		elapsed = s.duration
	}

	k0, k1, alpha := selectSegment(s.script.Keyframes, elapsed)
	return Sample{
		Temperature: lerp(k0.Temperature, k1.Temperature, alpha),
		Pressure:    lerp(k0.Pressure, k1.Pressure, alpha),
		Altitude:    lerp(k0.Altitude, k1.Altitude, alpha),
	}
}

func selectSegment(kfs []Keyframe, t time.Duration) (Keyframe, Keyframe, float64) {
	if len(kfs) == 1 {
		return kfs[0], kfs[0], 0
	}
	idx := sort.Search(len(kfs), func(i int) bool { return kfs[i].T > t })
	if idx <= 0 {
		return kfs[0], kfs[0], 0
	}
	if idx >= len(kfs) {
		last := kfs[len(kfs)-1]
		return last, last, 0
	}
	k0, k1 := kfs[idx-1], kfs[idx]
	dt := k1.T - k0.T
	if dt <= 0 {
		return k1, k1, 0
	}
	alpha := float64(t-k0.T) / float64(dt)
	if alpha < 0 {
		alpha = 0
	}
	if alpha > 1 {
		alpha = 1
	}
	return k0, k1, alpha
}

func lerp(a, b, t float64) float64 {
	return a + (b-a)*t
}
