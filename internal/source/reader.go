package source

import (
	"io"
	"sync"
	"time"
)

// ReaderSource adapts a plain io.Reader (a capture file, stdin) to Source.
//
// The bounded-wait guarantee is only as good as the wrapped reader: regular
// files never block, pipes may.
type ReaderSource struct {
	r       io.Reader
	timeout time.Duration

	mu     sync.Mutex
	closed bool
}

func NewReaderSource(r io.Reader, timeout time.Duration) *ReaderSource {
	if timeout <= 0 {
		timeout = time.Second
	}
	return &ReaderSource{r: r, timeout: timeout}
}

func (s *ReaderSource) Read(p []byte) (int, error) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return 0, ErrClosed
	}
	return s.r.Read(p)
}

func (s *ReaderSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if c, ok := s.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (s *ReaderSource) ReadTimeout() time.Duration { return s.timeout }
