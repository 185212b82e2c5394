package wire

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// Response is a single outgoing response. Handlers construct one, the
// connection serializes it exactly once, and it is discarded.
type Response struct {
	Status int
	Header Header
	Body   []byte

	// Masked suppresses identifying headers (covert mode): the Server
	// header lies, and no correlation ID or method advertisement is
	// attached.
	Masked bool

	// StreamPath, when non-empty, names a file whose contents form the
	// body. The connection streams it in fixed-size chunks instead of
	// holding it in memory; StreamSize must be its size.
	StreamPath string
	StreamSize int64
}

// NewResponse returns a response with the given status code.
func NewResponse(status int) *Response {
	return &Response{Status: status}
}

// SetHeader sets a response header.
func (r *Response) SetHeader(name, value string) {
	r.Header.Set(name, value)
}

// SetBody sets the body and its content type.
func (r *Response) SetBody(body []byte, contentType string) {
	r.Body = body
	r.Header.Set("Content-Type", contentType)
}

// SetJSONBody marshals v as the body. Marshal failures degrade to a bare
// internal-error body rather than propagating; response objects are built
// from values the server controls.
func (r *Response) SetJSONBody(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		r.Status = StatusInternalServerError
		r.SetBody([]byte(`{"error":"Internal Server Error","status":500}`), "application/json")
		return
	}
	r.SetBody(data, "application/json")
}

// SetFile marks the response to stream a file from disk.
func (r *Response) SetFile(path string, size int64, contentType string) {
	r.StreamPath = path
	r.StreamSize = size
	r.Header.Set("Content-Type", contentType)
}

// BuildOptions carries the per-server serialization settings.
type BuildOptions struct {
	ServerVersion     string
	CORSOrigin        string
	AdvertisedMethods string // Access-Control-Allow-Methods value in standard mode
	ExposedHeaders    string // Access-Control-Expose-Headers value in standard mode
	Now               func() time.Time
}

// BuildHead serializes the status line and headers (terminated by the
// blank line) without any body bytes, for streamed responses. The
// Content-Length header is always derived here, never trusted stale.
func (r *Response) BuildHead(opts BuildOptions) []byte {
	r.finalizeHeaders(opts)

	var buf bytes.Buffer
	buf.Grow(256 + r.Header.Len()*48)
	buf.WriteString("HTTP/1.1 ")
	buf.WriteString(strconv.Itoa(r.Status))
	buf.WriteByte(' ')
	buf.WriteString(StatusText(r.Status))
	buf.WriteString("\r\n")
	r.Header.Each(func(name, value string) {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(sanitizeHeaderValue(value))
		buf.WriteString("\r\n")
	})
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// Build serializes the full response.
func (r *Response) Build(opts BuildOptions) []byte {
	head := r.BuildHead(opts)
	out := make([]byte, 0, len(head)+len(r.Body))
	out = append(out, head...)
	out = append(out, r.Body...)
	return out
}

func (r *Response) finalizeHeaders(opts BuildOptions) {
	if r.Masked {
		r.Header.Set("Server", "nginx")
	} else {
		r.Header.Set("Server", "stashd/"+opts.ServerVersion)
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}
	r.Header.Set("Date", now().UTC().Format("Mon, 02 Jan 2006 15:04:05")+" GMT")

	// One request per connection, no exceptions.
	r.Header.Set("Connection", "close")

	length := int64(len(r.Body))
	if r.StreamPath != "" {
		length = r.StreamSize
	}
	r.Header.Set("Content-Length", strconv.FormatInt(length, 10))

	r.setCORSHeaders(opts)
}

func (r *Response) setCORSHeaders(opts BuildOptions) {
	origin := opts.CORSOrigin
	if origin == "" {
		origin = "*"
	}
	if !r.Header.Has("Access-Control-Allow-Origin") {
		r.Header.Set("Access-Control-Allow-Origin", origin)
	}

	if !r.Header.Has("Access-Control-Allow-Methods") {
		if r.Masked {
			// Advertise only what any dull web server would.
			r.Header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		} else {
			r.Header.Set("Access-Control-Allow-Methods", opts.AdvertisedMethods)
		}
	}

	if !r.Header.Has("Access-Control-Allow-Headers") {
		r.Header.Set("Access-Control-Allow-Headers", "Content-Type, X-File-Name, Authorization")
	}

	if !r.Masked && opts.ExposedHeaders != "" && !r.Header.Has("Access-Control-Expose-Headers") {
		r.Header.Set("Access-Control-Expose-Headers", opts.ExposedHeaders)
	}
}
