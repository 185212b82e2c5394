package server

import (
	"github.com/quietlane/stashd/internal/covert"
	"github.com/quietlane/stashd/internal/metrics"
	"github.com/quietlane/stashd/internal/wire"
)

// Handler processes one parsed request into a response.
type Handler interface {
	Invoke(req *wire.Request) *wire.Response
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(req *wire.Request) *wire.Response

// Invoke calls f.
func (f HandlerFunc) Invoke(req *wire.Request) *wire.Response { return f(req) }

// Env is the immutable configuration every handler is constructed with.
// Nothing in it changes after startup; the mutable pieces (metrics,
// bundle registry) are internally synchronized.
type Env struct {
	Root      string
	UploadDir string
	Covert    bool
	Sandbox   bool
	MaxUpload int64
	Version   string

	Metrics *metrics.Collector
	Bundles *BundleRegistry
}

// advertisedMethods is what preflight and capability responses name in
// standard mode.
const advertisedMethods = "GET, POST, PUT, FETCH, INFO, PING, NONE, OPTIONS"

// Dispatcher resolves a verb to its handler. In standard mode the table
// is static and advertised; in covert mode it is the per-run alias
// table, and anything else gets the same not-found a missing path gets.
type Dispatcher struct {
	env      *Env
	standard map[string]Handler
	aliases  *covert.Methods
}

// NewDispatcher builds the verb table for the mode the server runs in.
// aliases must be non-nil exactly when env.Covert is set.
func NewDispatcher(env *Env, aliases *covert.Methods) *Dispatcher {
	d := &Dispatcher{env: env, aliases: aliases}
	if env.Covert {
		return d
	}

	h := &handlers{env: env}
	d.standard = map[string]Handler{
		"GET":     HandlerFunc(h.handleGet),
		"POST":    HandlerFunc(h.handleUpload),
		"PUT":     HandlerFunc(h.handleUpload),
		"NONE":    HandlerFunc(h.handleUpload),
		"FETCH":   HandlerFunc(h.handleFetch),
		"INFO":    HandlerFunc(h.handleInfo),
		"PING":    HandlerFunc(h.handlePing),
		"SMUGGLE": HandlerFunc(h.handleSmuggle),
		"OPTIONS": HandlerFunc(h.handleOptions),
	}
	return d
}

// Dispatch looks the verb up and invokes its handler.
func (d *Dispatcher) Dispatch(req *wire.Request) *wire.Response {
	if d.env.Covert {
		return d.dispatchCovert(req)
	}

	handler, ok := d.standard[req.Verb]
	if !ok {
		resp := wire.NewResponse(wire.StatusMethodNotAllowed)
		resp.SetHeader("Allow", advertisedMethods)
		resp.SetJSONBody(map[string]any{
			"error":  "Method Not Allowed",
			"status": wire.StatusMethodNotAllowed,
		})
		return resp
	}
	return handler.Invoke(req)
}

// dispatchCovert resolves through the alias table. An unknown verb is
// answered with the exact response a missing path produces, so probing
// verbs reveals nothing.
func (d *Dispatcher) dispatchCovert(req *wire.Request) *wire.Response {
	h := &handlers{env: d.env}
	switch d.aliases.Action(req.Verb) {
	case covert.ActionUpload:
		return h.handleCovertUpload(req)
	case covert.ActionDownload:
		return h.handleFetch(req)
	case covert.ActionList:
		return h.handleInfo(req)
	case covert.ActionHealth:
		return h.handlePing(req)
	default:
		return h.notFound(req.Path)
	}
}
