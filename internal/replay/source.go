package replay

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"cztelemetry/internal/source"
)

// SleepFunc waits for d or until stop is closed, reporting whether the full
// duration elapsed.
type SleepFunc func(d time.Duration, stop <-chan struct{}) bool

func timerSleep(d time.Duration, stop <-chan struct{}) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-stop:
		return false
	}
}

type SourceConfig struct {
	// Speed scales the recorded gaps: 2 plays twice as fast. Zero means 1.
	Speed float64
	Loop  bool
	// Timeout bounds a single Read; gaps longer than it surface as empty
	// reads, exactly like a quiet serial line.
	Timeout time.Duration
	Sleep   SleepFunc
}

// Source plays a capture back through the source.Source contract.
type Source struct {
	chunks  []Chunk
	speed   float64
	loop    bool
	timeout time.Duration
	sleep   SleepFunc

	idx      int
	lastAt   time.Duration
	haveLast bool
	origin   time.Duration
	pending  []byte
	owed     time.Duration
	armed    bool

	closeOnce sync.Once
	closed    chan struct{}
}

var _ source.Source = (*Source)(nil)

func NewSource(chunks []Chunk, cfg SourceConfig) (*Source, error) {
	speed := cfg.Speed
	if speed == 0 {
		speed = 1
	}
	if speed < 0 {
		return nil, fmt.Errorf("replay speed must be > 0")
	}
	data := false
	for _, c := range chunks {
		if !c.IsStart() {
			data = true
			break
		}
	}
	if !data {
		return nil, errors.New("capture has no data")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = time.Second
	}
	sleep := cfg.Sleep
	if sleep == nil {
		sleep = timerSleep
	}
	return &Source{
		chunks:  chunks,
		speed:   speed,
		loop:    cfg.Loop,
		timeout: timeout,
		sleep:   sleep,
		closed:  make(chan struct{}),
	}, nil
}

// Open loads a capture file as a Source. Failures are *source.OpenError.
func Open(path string, cfg SourceConfig) (*Source, error) {
	chunks, err := ReadFile(path)
	if err != nil {
		return nil, &source.OpenError{Kind: "replay", Path: path, Err: err}
	}
	src, err := NewSource(chunks, cfg)
	if err != nil {
		return nil, &source.OpenError{Kind: "replay", Path: path, Err: err}
	}
	return src, nil
}

func (s *Source) ReadTimeout() time.Duration { return s.timeout }

func (s *Source) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

func (s *Source) isClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

func (s *Source) Read(p []byte) (int, error) {
	if s.isClosed() {
		return 0, source.ErrClosed
	}

	if len(s.pending) == 0 {
		if !s.armed {
			if !s.advance() {
				return 0, io.EOF
			}
		}
		if s.owed > 0 {
			d := s.owed
			if d > s.timeout {
				d = s.timeout
			}
			if !s.sleep(d, s.closed) {
				return 0, source.ErrClosed
			}
			s.owed -= d
			if s.owed > 0 {
				return 0, nil
			}
		}
		s.pending = s.chunks[s.idx].Data
		s.idx++
		s.armed = false
	}

	n := copy(p, s.pending)
	s.pending = s.pending[n:]
	return n, nil
}

// advance moves idx to the next data chunk, applying START markers and
// looping, and computes the scaled gap owed before it.
func (s *Source) advance() bool {
	for {
		if s.idx >= len(s.chunks) {
			if !s.loop {
				return false
			}
			s.idx = 0
			s.origin, s.lastAt, s.haveLast = 0, 0, false
		}
		c := s.chunks[s.idx]
		if c.IsStart() {
			s.origin, s.lastAt, s.haveLast = c.At, 0, false
			s.idx++
			continue
		}

		at := c.At - s.origin
		if at < 0 {
			at = 0
		}
		s.owed = 0
		if s.haveLast && at > s.lastAt {
			s.owed = time.Duration(float64(at-s.lastAt) / s.speed)
		}
		s.lastAt = at
		s.haveLast = true
		s.armed = true
		return true
	}
}
