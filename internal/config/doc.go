// Package config manages the YAML configuration file of the MIYO bridge.
//
// The file lists the cubes the bridge talks to together with the API token
// each one issued during pairing, plus the optional MQTT and Prometheus
// integrations.
//
// # Configuration File Location
//
//   - Linux: $XDG_CONFIG_HOME/miyo/config.yaml or $HOME/.config/miyo/config.yaml
//   - macOS: $HOME/.config/miyo/config.yaml
//   - Windows: %LOCALAPPDATA%\miyo\config.yaml
//
// The MIYO_CONFIG environment variable overrides the location.
//
// # Example
//
//	version: 1
//	cubes:
//	  garden:
//	    host: 192.168.1.50
//	    token: "1b4e28ba-2fa1-11d2-883f-0016d3cca427"
//	    poll_interval: 10
//	mqtt:
//	  enabled: true
//	  broker: tcp://localhost:1883
//	  topic_prefix: miyo
//	  qos: 1
//	metrics:
//	  listen: ":9108"
//
// # Security
//
// Tokens are stored in plain text. The file is written with 0600
// permissions through a temporary file and an atomic rename.
//
// # Usage
//
//	reg, err := config.LoadRegistry()
//	if err != nil {
//	    return err
//	}
//	name, c, err := reg.FindCube("garden")
//	...
//	engine.SetTokenStore(reg) // persists the token obtained by pairing
package config
