//go:build !linux

package source

import (
	"fmt"
	"time"
)

const defaultDriver = DriverPortable

func openTermios(path string, baud int, timeout time.Duration) (Source, error) {
	return nil, fmt.Errorf("termios driver not supported on this platform")
}
