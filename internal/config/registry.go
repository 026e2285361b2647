package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	appName    = "miyo"
	configFile = "config.yaml"

	// ConfigPathEnvVar overrides the configuration file location.
	ConfigPathEnvVar = "MIYO_CONFIG"
)

// ErrCubeNotFound is returned when a cube name or host is not configured.
var ErrCubeNotFound = errors.New("cube not found in configuration")

// GetConfigDir returns the OS-appropriate configuration directory for the application.
//   - Linux: $XDG_CONFIG_HOME/miyo or $HOME/.config/miyo
//   - macOS: $HOME/.config/miyo
//   - Windows: %LOCALAPPDATA%\miyo
func GetConfigDir() (string, error) {
	switch runtime.GOOS {
	case "windows":
		if localAppData := os.Getenv("LOCALAPPDATA"); localAppData != "" {
			return filepath.Join(localAppData, appName), nil
		}
		userProfile := os.Getenv("USERPROFILE")
		if userProfile == "" {
			return "", fmt.Errorf("cannot determine user profile directory (LOCALAPPDATA and USERPROFILE not set)")
		}
		return filepath.Join(userProfile, "AppData", "Local", appName), nil

	case "darwin":
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", appName), nil

	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			return filepath.Join(xdg, appName), nil
		}
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("cannot determine home directory: %w", err)
		}
		return filepath.Join(homeDir, ".config", appName), nil
	}
}

// GetConfigPath returns the full path to the configuration file.
// MIYO_CONFIG takes precedence over the platform directory.
func GetConfigPath() (string, error) {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		return p, nil
	}
	configDir, err := GetConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(configDir, configFile), nil
}

// LoadRegistry loads the registry from the default location.
// A missing file yields a new default registry.
func LoadRegistry() (*Registry, error) {
	path, err := GetConfigPath()
	if err != nil {
		return nil, fmt.Errorf("failed to get config path: %w", err)
	}
	return LoadRegistryFrom(path)
}

// LoadRegistryFrom loads the registry from path. Subsequent calls to Save
// write back to the same file.
func LoadRegistryFrom(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		reg := NewRegistry()
		reg.path = path
		return reg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if reg.Version != CurrentVersion {
		return nil, fmt.Errorf("unsupported config version: %d (expected %d)", reg.Version, CurrentVersion)
	}

	if reg.Cubes == nil {
		reg.Cubes = make(map[string]*Cube)
	}
	if reg.MQTT == nil {
		reg.MQTT = defaultMQTT()
	}
	if reg.Metrics == nil {
		reg.Metrics = &MetricsConfig{}
	}
	if reg.Preferences == nil {
		reg.Preferences = defaultPreferences()
	}
	reg.path = path

	return &reg, nil
}

// Path returns the file the registry was loaded from.
func (r *Registry) Path() string {
	return r.path
}

// Save writes the registry back to the file it was loaded from, or to the
// default location for a registry created with NewRegistry.
func (r *Registry) Save() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.save()
}

// SaveTo writes the registry to path and makes it the registry's file.
func (r *Registry) SaveTo(path string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.path = path
	return r.save()
}

func (r *Registry) save() error {
	if r.path == "" {
		path, err := GetConfigPath()
		if err != nil {
			return fmt.Errorf("failed to get config path: %w", err)
		}
		r.path = path
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	header := []byte(`# MIYO bridge configuration
# Cube tokens are written here after pairing. Keep this file private.
#
# Location: ` + r.path + `

`)
	data = append(header, data...)

	// Write to a temporary file first so a crash never leaves a partial config
	tmpPath := r.path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write temporary config file: %w", err)
	}
	if err := os.Rename(tmpPath, r.path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to save config file: %w", err)
	}

	return nil
}

// GetCube retrieves a cube by name. Returns nil if it doesn't exist.
func (r *Registry) GetCube(name string) *Cube {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.Cubes[name]
}

// EnsureCube ensures a cube entry exists, creating one with the given host.
// The host of an existing entry is left untouched.
func (r *Registry) EnsureCube(name, host string) *Cube {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.ensureCube(name, host)
}

func (r *Registry) ensureCube(name, host string) *Cube {
	if r.Cubes == nil {
		r.Cubes = make(map[string]*Cube)
	}
	if c, ok := r.Cubes[name]; ok {
		return c
	}
	c := &Cube{Host: host}
	r.Cubes[name] = c
	return c
}

// CubeNames returns the configured cube names in sorted order.
func (r *Registry) CubeNames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.Cubes))
	for name := range r.Cubes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindCube resolves a cube by name first, then by host.
func (r *Registry) FindCube(nameOrHost string) (string, *Cube, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c, ok := r.Cubes[nameOrHost]; ok {
		return nameOrHost, c, nil
	}
	if name, c := r.byHost(nameOrHost); c != nil {
		return name, c, nil
	}
	return "", nil, fmt.Errorf("%w: %s", ErrCubeNotFound, nameOrHost)
}

func (r *Registry) byHost(host string) (string, *Cube) {
	names := make([]string, 0, len(r.Cubes))
	for name := range r.Cubes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if strings.EqualFold(r.Cubes[name].Host, host) {
			return name, r.Cubes[name]
		}
	}
	return "", nil
}

// SetToken stores the API token of the cube at host. An unknown host gets a
// new entry named after it.
func (r *Registry) SetToken(host, token string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, c := r.byHost(host)
	if c == nil {
		c = r.ensureCube(host, host)
	}
	c.Token = token
}

// SaveToken stores the token and persists the registry. It lets the bridge
// write back the token obtained by pairing.
func (r *Registry) SaveToken(host, token string) error {
	r.SetToken(host, token)
	return r.Save()
}

// UpdateCubeLastSeen updates the last seen timestamp and host for a cube.
func (r *Registry) UpdateCubeLastSeen(name, host string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	c := r.ensureCube(name, host)
	c.Host = host
	c.LastSeen = time.Now()
}

// Validate checks the registry for values the bridge cannot run with.
// All problems are reported together.
func (r *Registry) Validate() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error

	names := make([]string, 0, len(r.Cubes))
	for name := range r.Cubes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c := r.Cubes[name]
		if c == nil || strings.TrimSpace(c.Host) == "" {
			errs = append(errs, fmt.Errorf("cube %q: host is required", name))
			continue
		}
		if c.PollInterval < 0 {
			errs = append(errs, fmt.Errorf("cube %q: poll_interval must be positive", name))
		}
		if c.RequestTimeout < 0 {
			errs = append(errs, fmt.Errorf("cube %q: request_timeout must be positive", name))
		}
	}

	if m := r.MQTT; m.Active() {
		if err := validateBroker(m.Broker); err != nil {
			errs = append(errs, err)
		}
		if m.QoS < 0 || m.QoS > 2 {
			errs = append(errs, fmt.Errorf("mqtt: qos must be 0, 1 or 2 (got %d)", m.QoS))
		}
	}

	if r.Preferences != nil && r.Preferences.DiscoverTimeout < 0 {
		errs = append(errs, fmt.Errorf("preferences: discover_timeout must be positive"))
	}

	return errors.Join(errs...)
}

func validateBroker(broker string) error {
	if broker == "" {
		return fmt.Errorf("mqtt: broker is required when enabled")
	}
	u, err := url.Parse(broker)
	if err != nil {
		return fmt.Errorf("mqtt: invalid broker URL: %w", err)
	}
	switch u.Scheme {
	case "tcp", "ssl", "tls", "mqtt", "mqtts", "ws", "wss":
	default:
		return fmt.Errorf("mqtt: unsupported broker scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("mqtt: broker URL has no host")
	}
	return nil
}
