// Package discovery finds MIYO cubes on the local network and tracks the
// circuits a connected cube reports.
//
// Cubes announce an "_http._tcp" service over multicast DNS. The Scanner
// keeps every answer whose instance or host name starts with "MIYO"
// (case-insensitive).
//
//	cubes, err := discovery.NewScanner().ScanForCubes(ctx)
//	for _, c := range cubes {
//	    fmt.Println(c)
//	}
//
// CircuitDiscovery is a bridge.CircuitListener that keeps the set of known
// circuits while activated on an engine, and can run an on-demand scan
// through the engine's ListCircuits.
//
// # Network Requirements
//
//   - Requires multicast support on the network interface
//   - Cubes must be on the same local network segment
//   - Firewall must allow mDNS (UDP port 5353)
package discovery
