// Package logging provides structured logging for the stashd server.
//
// This package wraps zap with convenience functions for the logging patterns
// used throughout the server: connection lifecycle events, per-request
// outcome lines carrying the correlation ID, security events, and internal
// faults with stack traces.
//
// # Log Levels
//
//   - Debug: detailed debugging info (parsed request lines, dispatch decisions)
//   - Info: normal operations (connections, request outcomes)
//   - Warn: security events (auth failures, lockouts, traversal attempts)
//   - Error: internal faults with stack traces
//
// # Configuration
//
// Initialize logging at server startup:
//
//	if err := logging.Initialize("info"); err != nil {
//	    log.Fatal(err)
//	}
//	defer logging.Sync()
//
// When no level is given, STASHD_LOG_LEVEL is consulted; if that is also
// unset the logger is a nop, which keeps covert deployments quiet by default.
//
// # Thread Safety
//
// All logging functions are safe for concurrent use.
package logging
