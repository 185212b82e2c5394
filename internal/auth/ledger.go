package auth

import (
	"sync"
	"time"
)

const (
	// DefaultThreshold is the failure count that trips a lockout.
	DefaultThreshold = 5
	// DefaultWindow is how long failures count against an address.
	DefaultWindow = 30 * time.Second
)

type ledgerEntry struct {
	count       int
	windowStart time.Time
}

// Ledger tracks authentication failures per source address. An address
// with threshold failures inside the window is blocked until the
// window expires. Successful logins never clear an entry; a correct
// password after four wrong ones still leaves the address one failure
// from lockout.
type Ledger struct {
	mu        sync.Mutex
	entries   map[string]ledgerEntry
	threshold int
	window    time.Duration

	// now is replaceable in tests.
	now func() time.Time
}

// NewLedger creates an empty ledger.
func NewLedger(threshold int, window time.Duration) *Ledger {
	return &Ledger{
		entries:   make(map[string]ledgerEntry),
		threshold: threshold,
		window:    window,
		now:       time.Now,
	}
}

// Blocked reports whether addr has reached the failure threshold
// within the current window. Expired entries are dropped on the way.
func (l *Ledger) Blocked(addr string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	entry, ok := l.entries[addr]
	if !ok {
		return false
	}
	if l.now().Sub(entry.windowStart) >= l.window {
		delete(l.entries, addr)
		return false
	}
	return entry.count >= l.threshold
}

// RecordFailure counts one failed attempt against addr. The first
// failure of a window sets the window start; a failure after expiry
// starts a fresh window at count one.
func (l *Ledger) RecordFailure(addr string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	entry, ok := l.entries[addr]
	if !ok || now.Sub(entry.windowStart) >= l.window {
		l.entries[addr] = ledgerEntry{count: 1, windowStart: now}
		return
	}
	entry.count++
	l.entries[addr] = entry
}
