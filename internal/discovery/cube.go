package discovery

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Cube represents a MIYO cube discovered on the network
type Cube struct {
	// Name is the mDNS instance name (e.g., "MIYO-Cube-1A2B")
	Name string

	// Hostname is the mDNS hostname (e.g., "miyo-cube-1a2b.local.")
	Hostname string

	// IP is the IPv4 address, or IPv6 when the cube announces no IPv4 address
	IP string

	// Port is the HTTP port of the cube API (typically 80)
	Port int

	// Metadata contains the mDNS TXT record data
	Metadata map[string]string

	// DiscoveredAt is when the cube answered
	DiscoveredAt time.Time
}

// String returns a human-readable string representation of the cube
func (c *Cube) String() string {
	return fmt.Sprintf("MIYO cube %s (%s) at %s:%d", c.Name, c.Hostname, c.IP, c.Port)
}

// Address returns the host the cube client should talk to. The port is only
// included when it is not the default.
func (c *Cube) Address() string {
	if c.Port == 0 || c.Port == DefaultPort {
		return c.IP
	}
	return net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// BaseURL returns the HTTP base URL for cube.NewClientWithURL
func (c *Cube) BaseURL() string {
	return "http://" + net.JoinHostPort(c.IP, strconv.Itoa(c.Port))
}

// GetMetadata retrieves a TXT value by key, or returns empty string if not found
func (c *Cube) GetMetadata(key string) string {
	if c.Metadata == nil {
		return ""
	}
	return c.Metadata[key]
}
