package sidecar

import (
	"fmt"
	"strconv"
	"strings"
)

// PortPrefix starts the single stdout line a sidecar prints once its
// control server is listening.
const PortPrefix = "SIDECAR_PORT:"

// FormatPortLine renders the startup announcement for port.
func FormatPortLine(port int) string {
	return fmt.Sprintf("%s%d", PortPrefix, port)
}

// ParsePortLine extracts the port from an announcement line. Any other
// line, or a port outside 1..65535, reports false.
func ParsePortLine(line string) (int, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(line), PortPrefix)
	if !ok {
		return 0, false
	}
	port, err := strconv.Atoi(strings.TrimSpace(rest))
	if err != nil || port < 1 || port > 65535 {
		return 0, false
	}
	return port, true
}
