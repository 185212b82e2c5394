// Package discovery announces the server over mDNS so LAN clients can
// find it without configuration. It is never used in covert mode.
package discovery
