package shared

import (
	"fmt"
	"net"
	"strconv"
)

// ParseTarget parses a target in the format "host:port". IPv6 hosts need
// brackets. Unless requireHost is set the host may be empty or "*" to bind
// to all interfaces. Returns the host, port, and any parsing error.
func ParseTarget(s string, requireHost bool) (host string, port int, err error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, parsingError(s)
	}

	if host == "*" { // also counts as all interfaces
		host = ""
	}
	if host == "" && requireHost {
		return "", 0, fmt.Errorf("parsing %s: specify a host", s)
	}

	port, err = strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return "", 0, parsingError(s)
	}

	return host, port, nil
}

func parsingError(s string) error {
	return fmt.Errorf("parsing %s: format should be 'host:port' with port in [1, 65535]", s)
}
