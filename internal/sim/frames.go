package sim

import (
	"io"
	"sync"
	"time"

	"cztelemetry/internal/source"
	"cztelemetry/internal/telemetry"
)

type FrameConfig struct {
	Generator Config

	// Interval is the pause before each frame; zero emits back to back.
	Interval time.Duration
	// Count ends the stream with io.EOF after that many frames; zero is
	// unlimited.
	Count int
	// NoiseRate is the probability of a burst of line noise before a frame.
	NoiseRate float64
	// CorruptRate is the probability that a frame is damaged in transit
	// (checksum or end marker).
	CorruptRate float64
	Timeout     time.Duration

	Now func() time.Time
}

// FrameSource is a source.Source that speaks the wire protocol, for running
// the decoder end to end without hardware.
type FrameSource struct {
	gen         *Generator
	interval    time.Duration
	count       int
	noiseRate   float64
	corruptRate float64
	timeout     time.Duration
	now         func() time.Time

	pending []byte
	emitted int
	nextAt  time.Time

	closeOnce sync.Once
	closed    chan struct{}

	mu    sync.Mutex
	stats FrameStats
}

// FrameStats counts what the source injected, for comparing against what a
// decoder reported.
type FrameStats struct {
	Frames       int `json:"frames"`
	Corrupted    int `json:"corrupted"`
	NoiseBursts  int `json:"noise_bursts"`
	NoiseBytes   int `json:"noise_bytes"`
	BadChecksums int `json:"bad_checksums"`
	BadEnds      int `json:"bad_ends"`
}

var _ source.Source = (*FrameSource)(nil)

func NewFrameSource(cfg FrameConfig) (*FrameSource, error) {
	gen, err := NewGenerator(cfg.Generator)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &FrameSource{
		gen:         gen,
		interval:    cfg.Interval,
		count:       cfg.Count,
		noiseRate:   cfg.NoiseRate,
		corruptRate: cfg.CorruptRate,
		timeout:     timeout,
		now:         now,
		closed:      make(chan struct{}),
	}, nil
}

func (s *FrameSource) ReadTimeout() time.Duration { return s.timeout }

func (s *FrameSource) Stats() FrameStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

func (s *FrameSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *FrameSource) Read(p []byte) (int, error) {
	select {
	case <-s.closed:
		return 0, source.ErrClosed
	default:
	}

	if len(s.pending) == 0 {
		if s.count > 0 && s.emitted >= s.count {
			return 0, io.EOF
		}
		if !s.wait() {
			select {
			case <-s.closed:
				return 0, source.ErrClosed
			default:
				return 0, nil
			}
		}
		s.pending = s.produce(s.pending[:0])
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// wait blocks until the next frame is due, for at most one read timeout. It
// reports whether the frame is due.
func (s *FrameSource) wait() bool {
	if s.interval <= 0 {
		return true
	}
	now := s.now()
	if s.nextAt.IsZero() {
		s.nextAt = now.Add(s.interval)
	}
	d := s.nextAt.Sub(now)
	if d <= 0 {
		s.nextAt = s.nextAt.Add(s.interval)
		if s.nextAt.Before(now) {
			s.nextAt = now.Add(s.interval)
		}
		return true
	}
	due := d <= s.timeout
	if !due {
		d = s.timeout
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-s.closed:
		return false
	}
	if due {
		s.nextAt = s.nextAt.Add(s.interval)
	}
	return due
}

func (s *FrameSource) produce(dst []byte) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.noiseRate > 0 && s.gen.Float64() < s.noiseRate {
		noise := s.gen.Garbage(1 + s.gen.Intn(8))
		dst = append(dst, noise...)
		s.stats.NoiseBursts++
		s.stats.NoiseBytes += len(noise)
	}

	rec := s.gen.Next(s.now())
	s.emitted++
	s.stats.Frames++

	if s.corruptRate > 0 && s.gen.Float64() < s.corruptRate {
		s.stats.Corrupted++
		if s.gen.Intn(2) == 0 {
			rec.Checksum += uint8(1 + s.gen.Intn(255))
			s.stats.BadChecksums++
			return telemetry.AppendRawFrame(dst, rec)
		}
		dst = telemetry.AppendFrame(dst, rec)
		// Anything but the end marker, and not a start marker either, so the
		// damage costs exactly this frame.
		dst[len(dst)-1] = 0xFF
		s.stats.BadEnds++
		return dst
	}
	return telemetry.AppendFrame(dst, rec)
}
