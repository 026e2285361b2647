// Package logging provides structured logging for the MIYO cube bridge.
//
// This package wraps a global zap logger with convenience functions for the
// logging patterns used throughout the bridge: poll cycles, circuit events,
// connection state changes and outbound cube requests.
//
// # Log Levels
//
//   - Debug: Per-request and per-circuit details (URLs, circuit events)
//   - Info: Connection state changes, pairing, startup and shutdown
//   - Warn: Recoverable failures (rejected tokens, refused commands)
//   - Error: Listener panics and failures the bridge cannot recover from
//
// # Configuration
//
// Logging is silent unless a level is given explicitly or through the
// MIYO_LOG_LEVEL environment variable:
//
//	if err := logging.Initialize("debug"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// # Secrets
//
// Cube API tokens travel as the apiKey query parameter. LogRequest and
// MaskAPIKey never write a full token.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use. Initialize and
// SetLogger should be called before other goroutines start logging.
package logging
