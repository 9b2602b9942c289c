//go:build linux

package source

import (
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"
)

const defaultDriver = DriverTermios

// A read that returns nothing well before VTIME expires means the line hung
// up. A few in a row are treated as end of stream.
const hangupReads = 3

type termiosPort struct {
	fd      int
	path    string
	timeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error

	earlyZero int
}

func openTermios(path string, baud int, timeout time.Duration) (Source, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NOCTTY|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, err
	}

	ok := false
	defer func() {
		if !ok {
			_ = unix.Close(fd)
		}
	}()

	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return nil, err
	}

	spd, err := baudToUnix(baud)
	if err != nil {
		return nil, err
	}

	// Raw 8N1, no line processing.
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON | unix.IXOFF
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	t.Cflag |= unix.CS8 | unix.CREAD | unix.CLOCAL

	// VMIN=0 with VTIME set: read returns what is buffered, or zero bytes
	// once the inter-read timer expires.
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = vtime(timeout)

	t.Cflag &^= unix.CBAUD
	t.Cflag |= spd
	t.Ispeed = spd
	t.Ospeed = spd

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		return nil, err
	}
	ok = true
	return &termiosPort{fd: fd, path: path, timeout: timeout}, nil
}

func (p *termiosPort) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	if len(b) == 0 {
		return 0, nil
	}
	start := time.Now()
	n, err := unix.Read(p.fd, b)
	if err != nil {
		if err == unix.EINTR || err == unix.EAGAIN {
			return 0, nil
		}
		if p.closed.Load() {
			return 0, ErrClosed
		}
		return 0, fmt.Errorf("read %s: %w", p.path, err)
	}
	if n > 0 {
		p.earlyZero = 0
		return n, nil
	}
	if time.Since(start) < p.timeout/4 {
		p.earlyZero++
		if p.earlyZero >= hangupReads {
			return 0, io.EOF
		}
	} else {
		p.earlyZero = 0
	}
	return 0, nil
}

func (p *termiosPort) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.closeErr = unix.Close(p.fd)
	})
	return p.closeErr
}

func (p *termiosPort) ReadTimeout() time.Duration { return p.timeout }

// vtime converts a timeout to deciseconds, clamped to what VTIME can hold.
func vtime(d time.Duration) uint8 {
	ds := (d + 99*time.Millisecond) / (100 * time.Millisecond)
	if ds < 1 {
		return 1
	}
	if ds > 255 {
		return 255
	}
	return uint8(ds)
}

func baudToUnix(baud int) (uint32, error) {
	switch baud {
	case 4800:
		return unix.B4800, nil
	case 9600:
		return unix.B9600, nil
	case 19200:
		return unix.B19200, nil
	case 38400:
		return unix.B38400, nil
	case 57600:
		return unix.B57600, nil
	case 115200:
		return unix.B115200, nil
	case 230400:
		return unix.B230400, nil
	case 460800:
		return unix.B460800, nil
	case 921600:
		return unix.B921600, nil
	default:
		return 0, fmt.Errorf("unsupported baud %d", baud)
	}
}
