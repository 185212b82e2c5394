package wire

import "strings"

type headerField struct {
	name  string
	value string
}

// Header is an ordered header collection. Lookup is case-insensitive;
// serialization walks the fields in insertion order and emits the exact
// name spelling that was last written, so an echo handler round-trips
// wire casing losslessly.
type Header struct {
	fields []headerField
}

// Get returns the value for name, or "" when absent.
func (h *Header) Get(name string) string {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			return h.fields[i].value
		}
	}
	return ""
}

// Has reports whether name is present.
func (h *Header) Has(name string) bool {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			return true
		}
	}
	return false
}

// Set stores value under name, replacing any existing entry that matches
// case-insensitively (last write wins, latest spelling kept) while
// preserving the entry's position in the serialization order.
func (h *Header) Set(name, value string) {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			h.fields[i].name = name
			h.fields[i].value = value
			return
		}
	}
	h.fields = append(h.fields, headerField{name: name, value: value})
}

// Del removes name, if present.
func (h *Header) Del(name string) {
	for i := range h.fields {
		if strings.EqualFold(h.fields[i].name, name) {
			h.fields = append(h.fields[:i], h.fields[i+1:]...)
			return
		}
	}
}

// Len returns the number of header fields.
func (h *Header) Len() int { return len(h.fields) }

// Each calls fn for every field in insertion order.
func (h *Header) Each(fn func(name, value string)) {
	for i := range h.fields {
		fn(h.fields[i].name, h.fields[i].value)
	}
}

// Clone returns a deep copy.
func (h *Header) Clone() Header {
	fields := make([]headerField, len(h.fields))
	copy(fields, h.fields)
	return Header{fields: fields}
}

// sanitizeHeaderValue strips CR, LF and other control bytes (except HTAB)
// so handler-supplied values cannot split the response.
func sanitizeHeaderValue(v string) string {
	clean := true
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\r' || c == '\n' || c == 0x7f || (c < 0x20 && c != '\t') {
			clean = false
			break
		}
	}
	if clean {
		return v
	}

	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c == '\r' || c == '\n' || c == 0x7f {
			continue
		}
		if c < 0x20 && c != '\t' {
			continue
		}
		b.WriteByte(c)
	}
	return b.String()
}
