// Package server implements the connection lifecycle: a TCP (optionally
// TLS) accept loop feeding a bounded worker pool, a per-connection
// receive/parse/authorize/dispatch/respond state machine with
// independent header and body budgets, and the verb handlers for both
// the standard and covert operating modes.
package server
