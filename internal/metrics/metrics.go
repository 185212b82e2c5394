// Package metrics collects server counters on a private Prometheus
// registry and renders them in text exposition format. The server
// speaks its own wire protocol, so exposition goes through expfmt
// directly instead of promhttp.
package metrics

import (
	"bytes"
	"fmt"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Collector holds the server's counters. All methods are safe for
// concurrent use.
type Collector struct {
	registry *prometheus.Registry

	connections  prometheus.Counter
	requests     *prometheus.CounterVec
	authFailures prometheus.Counter
	lockouts     prometheus.Counter
	uploadBytes  prometheus.Counter
	servedBytes  prometheus.Counter

	// Plain atomics shadow the counters the health endpoint reports, so
	// a health check never has to gather the registry.
	connCount    atomic.Int64
	requestCount atomic.Int64
	errorCount   atomic.Int64
}

// NewCollector builds the counter set on a fresh private registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		connections: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stashd_connections_total",
			Help: "Connections accepted.",
		}),
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "stashd_requests_total",
			Help: "Requests handled, by verb and status code.",
		}, []string{"verb", "status"}),
		authFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stashd_auth_failures_total",
			Help: "Failed authentication attempts.",
		}),
		lockouts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stashd_auth_lockouts_total",
			Help: "Requests refused due to an active lockout.",
		}),
		uploadBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stashd_upload_bytes_total",
			Help: "Bytes written to the upload directory.",
		}),
		servedBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "stashd_served_bytes_total",
			Help: "Response body bytes written to clients.",
		}),
	}

	c.registry.MustRegister(
		c.connections, c.requests, c.authFailures,
		c.lockouts, c.uploadBytes, c.servedBytes,
	)
	return c
}

// ConnectionAccepted counts an accepted connection.
func (c *Collector) ConnectionAccepted() {
	c.connections.Inc()
	c.connCount.Add(1)
}

// RequestHandled counts one completed request.
func (c *Collector) RequestHandled(verb string, status int) {
	c.requests.WithLabelValues(verb, fmt.Sprintf("%d", status)).Inc()
	c.requestCount.Add(1)
	if status >= 400 {
		c.errorCount.Add(1)
	}
}

// AuthFailure counts a failed authentication attempt.
func (c *Collector) AuthFailure() { c.authFailures.Inc() }

// Lockout counts a request refused while its source was locked out.
func (c *Collector) Lockout() { c.lockouts.Inc() }

// UploadedBytes counts bytes persisted from an upload.
func (c *Collector) UploadedBytes(n int64) {
	if n > 0 {
		c.uploadBytes.Add(float64(n))
	}
}

// ServedBytes counts response body bytes written out.
func (c *Collector) ServedBytes(n int64) {
	if n > 0 {
		c.servedBytes.Add(float64(n))
	}
}

// Snapshot is the counter summary embedded in the health response.
type Snapshot struct {
	Connections int64 `json:"connections"`
	Requests    int64 `json:"requests"`
	Errors      int64 `json:"errors"`
}

// Snapshot returns the current health counters.
func (c *Collector) Snapshot() Snapshot {
	return Snapshot{
		Connections: c.connCount.Load(),
		Requests:    c.requestCount.Load(),
		Errors:      c.errorCount.Load(),
	}
}

// Render gathers the registry and returns the text exposition body.
func (c *Collector) Render() ([]byte, error) {
	families, err := c.registry.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, mf := range families {
		if err := enc.Encode(mf); err != nil {
			return nil, fmt.Errorf("encode metric family %q: %w", mf.GetName(), err)
		}
	}
	return buf.Bytes(), nil
}
