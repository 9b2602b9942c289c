// Package source provides byte transports with bounded-wait reads for the
// frame decoder.
package source

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Source is a byte transport whose reads never block forever.
//
// Read returns (0, nil) when nothing arrived within ReadTimeout, io.EOF once
// the stream has ended, and any other error for a transport fault such as a
// disconnected device. Close is idempotent. A Source is owned by exactly one
// reader.
type Source interface {
	io.ReadCloser
	ReadTimeout() time.Duration
}

var ErrClosed = errors.New("source is closed")

// OpenError reports that a transport could not be acquired.
type OpenError struct {
	Kind string
	Path string
	Err  error
}

func (e *OpenError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("open %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("open %s %s: %v", e.Kind, e.Path, e.Err)
}

func (e *OpenError) Unwrap() error { return e.Err }

const (
	DriverAuto     = "auto"
	DriverTermios  = "termios"
	DriverPortable = "portable"
)

// SerialConfig selects and parameterizes a live serial transport.
//
// Port may be empty or "auto" to probe for a USB serial adapter.
type SerialConfig struct {
	Port    string
	Baud    int
	Timeout time.Duration
	Driver  string
}

// OpenSerial opens a live serial port. Every failure is an *OpenError.
func OpenSerial(cfg SerialConfig) (Source, error) {
	if cfg.Baud <= 0 {
		return nil, &OpenError{Kind: "serial", Path: cfg.Port, Err: fmt.Errorf("invalid baud %d", cfg.Baud)}
	}
	if cfg.Timeout <= 0 {
		return nil, &OpenError{Kind: "serial", Path: cfg.Port, Err: fmt.Errorf("invalid timeout %s", cfg.Timeout)}
	}

	port := strings.TrimSpace(cfg.Port)
	if port == "" || strings.EqualFold(port, "auto") {
		port = AutoDetect()
		if port == "" {
			return nil, &OpenError{Kind: "serial", Err: errors.New("auto-detect found no serial device")}
		}
	}

	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == DriverAuto {
		driver = defaultDriver
	}

	var (
		src Source
		err error
	)
	switch driver {
	case DriverTermios:
		src, err = openTermios(port, cfg.Baud, cfg.Timeout)
	case DriverPortable:
		src, err = openPortable(port, cfg.Baud, cfg.Timeout)
	default:
		err = fmt.Errorf("unknown serial driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, &OpenError{Kind: "serial", Path: port, Err: err}
	}
	return src, nil
}
