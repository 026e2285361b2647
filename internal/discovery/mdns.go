package discovery

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
)

const (
	// ServiceType is the mDNS service type MIYO cubes advertise
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."

	// DefaultScanTimeout is the default timeout for cube discovery
	DefaultScanTimeout = 10 * time.Second

	// DefaultPort is the default HTTP port of the cube API
	DefaultPort = 80

	// ModelPrefix identifies a cube by its instance or host name
	ModelPrefix = "MIYO"
)

// Scanner handles mDNS cube discovery
type Scanner struct {
	// Timeout is the maximum time to wait for cubes to answer
	Timeout time.Duration
}

// NewScanner creates a new mDNS scanner with default settings
func NewScanner() *Scanner {
	return &Scanner{
		Timeout: DefaultScanTimeout,
	}
}

// ScanForCubes browses the local network until the timeout expires or ctx is
// cancelled and returns every cube that answered.
func (s *Scanner) ScanForCubes(ctx context.Context) ([]*Cube, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)

	var (
		mu    sync.Mutex
		cubes []*Cube
		seen  = make(map[string]bool)
	)

	go func() {
		for entry := range entries {
			c := parseServiceEntry(entry)
			if c == nil {
				continue
			}
			mu.Lock()
			if !seen[c.Name+"@"+c.IP] {
				seen[c.Name+"@"+c.IP] = true
				cubes = append(cubes, c)
			}
			mu.Unlock()
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	<-ctx.Done()

	mu.Lock()
	defer mu.Unlock()
	return append([]*Cube(nil), cubes...), nil
}

// WaitForCube returns as soon as a cube whose instance name, hostname or IP
// matches name answers. An empty name accepts the first cube.
func (s *Scanner) WaitForCube(ctx context.Context, name string) (*Cube, error) {
	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create mDNS resolver: %w", err)
	}

	entries := make(chan *zeroconf.ServiceEntry)
	found := make(chan *Cube, 1)

	go func() {
		for entry := range entries {
			c := parseServiceEntry(entry)
			if c != nil && c.matches(name) {
				select {
				case found <- c:
				default:
				}
				cancel()
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, ServiceType, ServiceDomain, entries); err != nil {
		return nil, fmt.Errorf("failed to browse for mDNS services: %w", err)
	}

	select {
	case c := <-found:
		return c, nil
	case <-ctx.Done():
		select {
		case c := <-found:
			return c, nil
		default:
		}
		if name == "" {
			return nil, fmt.Errorf("no MIYO cube found within %v", s.Timeout)
		}
		return nil, fmt.Errorf("cube %s not found within %v", name, s.Timeout)
	}
}

func (c *Cube) matches(name string) bool {
	if name == "" {
		return true
	}
	return strings.EqualFold(c.Name, name) ||
		strings.EqualFold(strings.TrimSuffix(c.Hostname, "."), strings.TrimSuffix(name, ".")) ||
		c.IP == name
}

// isCubeName reports whether an mDNS name carries the MIYO model prefix
func isCubeName(name string) bool {
	return len(name) >= len(ModelPrefix) && strings.EqualFold(name[:len(ModelPrefix)], ModelPrefix)
}

// parseServiceEntry converts a zeroconf service entry to a Cube.
// Returns nil if the entry is not a MIYO cube or has no address.
func parseServiceEntry(entry *zeroconf.ServiceEntry) *Cube {
	if entry == nil {
		return nil
	}
	if !isCubeName(entry.Instance) && !isCubeName(entry.HostName) {
		return nil
	}

	var ip string
	if len(entry.AddrIPv4) > 0 {
		ip = entry.AddrIPv4[0].String()
	} else if len(entry.AddrIPv6) > 0 {
		ip = entry.AddrIPv6[0].String()
	}
	if ip == "" {
		return nil
	}

	port := entry.Port
	if port == 0 {
		port = DefaultPort
	}

	metadata := make(map[string]string, len(entry.Text))
	for _, txt := range entry.Text {
		key, value, _ := strings.Cut(txt, "=")
		metadata[key] = value
	}

	name := entry.Instance
	if name == "" {
		name = strings.TrimSuffix(strings.TrimSuffix(entry.HostName, "."), ".local")
	}

	return &Cube{
		Name:         name,
		Hostname:     entry.HostName,
		IP:           ip,
		Port:         port,
		Metadata:     metadata,
		DiscoveredAt: time.Now(),
	}
}

// QuickScan performs a fast scan with a 3-second timeout
func QuickScan(ctx context.Context) ([]*Cube, error) {
	return (&Scanner{Timeout: 3 * time.Second}).ScanForCubes(ctx)
}
