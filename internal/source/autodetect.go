package source

import (
	"fmt"
	"os"
	"sort"

	"go.bug.st/serial"
)

// AutoDetect returns the first USB serial adapter found, or "".
//
// Linux device nodes are probed directly; elsewhere the platform port
// enumeration is used.
func AutoDetect() string {
	candidates := make([]string, 0, 20)
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyACM%d", i))
	}
	for i := 0; i < 10; i++ {
		candidates = append(candidates, fmt.Sprintf("/dev/ttyUSB%d", i))
	}
	for _, p := range candidates {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	ports, err := serial.GetPortsList()
	if err != nil || len(ports) == 0 {
		return ""
	}
	sort.Strings(ports)
	return ports[0]
}
