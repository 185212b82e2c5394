package wire

import (
	"bytes"
	"net/url"
	"strconv"
	"strings"
)

// Request is a single parsed request. It is created once from exactly the
// bytes received for a connection and is not mutated afterwards.
type Request struct {
	Verb    string
	Path    string // percent-decoded
	RawPath string // as received, before decoding and query split
	Version string
	Query   map[string]string
	Header  Header
	Body    []byte

	// ContentLength is the declared body length. It is advisory only:
	// the receive loop enforces the real ceiling from counted bytes.
	ContentLength int64
}

// GetHeader returns a request header value, or def when absent.
func (r *Request) GetHeader(name, def string) string {
	if v := r.Header.Get(name); v != "" {
		return v
	}
	return def
}

// ContentType returns the declared content type, defaulting to
// application/octet-stream.
func (r *Request) ContentType() string {
	return r.GetHeader("Content-Type", "application/octet-stream")
}

// ParseRequest parses a complete raw request (head and body). It is the
// convenience form of ParseHead for callers that already hold all bytes.
func ParseRequest(raw []byte) (*Request, error) {
	head := raw
	var body []byte
	if i := bytes.Index(raw, []byte("\r\n\r\n")); i >= 0 {
		head = raw[:i]
		body = raw[i+4:]
	}
	req, err := ParseHead(head)
	if err != nil {
		return nil, err
	}
	req.Body = body
	return req, nil
}

// ParseHead parses the start line and header block (everything before the
// CRLFCRLF terminator). The grammar is strict about arity and the colon but
// forgiving about the space after it: both "name: value" and "name:value"
// are accepted.
func ParseHead(head []byte) (*Request, error) {
	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 || lines[0] == "" {
		return nil, New(KindMalformed, "empty request")
	}

	parts := strings.Split(lines[0], " ")
	if len(parts) != 3 {
		return nil, New(KindMalformed, "malformed request line")
	}

	req := &Request{
		Verb:    parts[0],
		RawPath: parts[1],
		Version: parts[2],
		Query:   map[string]string{},
	}

	rawPath := parts[1]
	if q := strings.IndexByte(rawPath, '?'); q >= 0 {
		req.Query = parseQuery(rawPath[q+1:])
		rawPath = rawPath[:q]
	}
	req.Path = decodePath(rawPath)

	for _, line := range lines[1:] {
		if line == "" {
			continue
		}
		i := strings.IndexByte(line, ':')
		if i <= 0 {
			return nil, New(KindMalformed, "malformed header line")
		}
		name := strings.TrimSpace(line[:i])
		if name == "" {
			return nil, New(KindMalformed, "malformed header line")
		}
		req.Header.Set(name, strings.TrimSpace(line[i+1:]))
	}

	if v := req.Header.Get("Content-Length"); v != "" {
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil || n < 0 {
			return nil, New(KindMalformed, "invalid content length")
		}
		req.ContentLength = n
	}

	return req, nil
}

// decodePath percent-decodes a path, leaving it untouched when the
// encoding is broken rather than rejecting the request.
func decodePath(p string) string {
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return p
	}
	return decoded
}

// parseQuery parses a query string into a single-valued map: last value
// wins, keys without '=' map to "", '+' decodes to space.
func parseQuery(q string) map[string]string {
	params := map[string]string{}
	for _, pair := range strings.Split(q, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		if k, err := url.QueryUnescape(key); err == nil {
			key = k
		}
		if v, err := url.QueryUnescape(value); err == nil {
			value = v
		}
		params[key] = value
	}
	return params
}
