package tgd

import (
	"net"
	"net/url"
	"strconv"
)

// DefaultPort is used when a connection URI omits the port.
const DefaultPort = 7687

// ServerAddress identifies one cluster member. It is a comparable value and
// keys both pool partitions and routing table role entries.
type ServerAddress struct {
	Host string
	Port int
}

// NewServerAddress creates a ServerAddress from a host and port.
func NewServerAddress(host string, port int) ServerAddress {
	return ServerAddress{Host: host, Port: port}
}

// ServerAddressFromURI extracts the address portion of a parsed connection URI.
func ServerAddressFromURI(uri *url.URL) (ServerAddress, error) {
	host := uri.Hostname()
	if host == "" {
		return ServerAddress{}, NewConfigurationError("invalid connection uri %q: missing host", uri.String())
	}

	port := DefaultPort
	if uri.Port() != "" {
		parsed, err := strconv.Atoi(uri.Port())
		if err != nil {
			return ServerAddress{}, NewConfigurationError("invalid connection uri %q: bad port", uri.String())
		}
		port = parsed
	}

	return ServerAddress{Host: host, Port: port}, nil
}

// ParseServerAddress converts a "host:port" string into a ServerAddress.
func ParseServerAddress(hostPort string) (ServerAddress, error) {
	host, portStr, err := net.SplitHostPort(hostPort)
	if err != nil {
		return ServerAddress{}, err
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return ServerAddress{}, err
	}

	return ServerAddress{Host: host, Port: port}, nil
}

// String renders the address as "host:port".
func (sa ServerAddress) String() string {
	return net.JoinHostPort(sa.Host, strconv.Itoa(sa.Port))
}

// IsZero reports whether the address was never set.
func (sa ServerAddress) IsZero() bool {
	return sa.Host == "" && sa.Port == 0
}
