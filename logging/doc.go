// Package logging provides a minimal logging interface and adapters for swarmmesh.
//
// The Logger interface defines the standard logging methods (Debug, Info, Warn, Error)
// that the event bus, conversation engine and swarm coordinator use for
// observability. This package includes:
//
//   - Logger interface for dependency injection
//   - SlogAdapter wrapping Go's structured logging
//   - NoOpLogger for silent operation (testing, minimal setups)
//   - SwarmLogger with contextual helpers for swarm/turn correlation
//
// Usage:
//
//	logger := logging.NewSlogLogger(logging.LogLevelInfo, "json", false)
//	bus := eventbus.New(func(o *eventbus.Options) { o.Logger = logger })
//
// The design intentionally keeps the interface minimal to avoid vendor lock-in
// while supporting structured logging where available.
package logging
