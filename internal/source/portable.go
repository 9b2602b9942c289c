package source

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.bug.st/serial"
)

type portablePort struct {
	port    serial.Port
	path    string
	timeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

func openPortable(path string, baud int, timeout time.Duration) (Source, error) {
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	p, err := serial.Open(path, mode)
	if err != nil {
		return nil, err
	}
	if err := p.SetReadTimeout(timeout); err != nil {
		_ = p.Close()
		return nil, err
	}
	return &portablePort{port: p, path: path, timeout: timeout}, nil
}

func (p *portablePort) Read(b []byte) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	n, err := p.port.Read(b)
	if err != nil {
		var perr *serial.PortError
		if p.closed.Load() || (errors.As(err, &perr) && perr.Code() == serial.PortClosed) {
			return 0, ErrClosed
		}
		return n, fmt.Errorf("read %s: %w", p.path, err)
	}
	return n, nil
}

func (p *portablePort) Close() error {
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		p.closeErr = p.port.Close()
	})
	return p.closeErr
}

func (p *portablePort) ReadTimeout() time.Duration { return p.timeout }
