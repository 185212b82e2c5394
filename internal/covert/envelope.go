package covert

import (
	"encoding/base64"
	"encoding/json"

	"github.com/quietlane/stashd/internal/wire"
)

// Envelope is the JSON carrier for covert uploads. Field names are
// single letters so the body blends in with generic API traffic. Long
// spellings are accepted on decode for the "n", "d" and "h" fields.
type Envelope struct {
	Name      string `json:"n,omitempty"`
	Data      string `json:"d,omitempty"`
	Scheme    string `json:"e,omitempty"`
	Key       string `json:"k,omitempty"`
	Tag       string `json:"h,omitempty"`
	KeyBase64 bool   `json:"kb64,omitempty"`
}

// envelopeWire mirrors Envelope with the long-form aliases the decoder
// also accepts.
type envelopeWire struct {
	Name      string `json:"n"`
	LongName  string `json:"name"`
	Data      string `json:"d"`
	LongData  string `json:"data"`
	Scheme    string `json:"e"`
	Key       string `json:"k"`
	Tag       string `json:"h"`
	LongTag   string `json:"hmac"`
	KeyBase64 bool   `json:"kb64"`
}

// SchemeXOR is the only masking scheme the envelope supports.
const SchemeXOR = "xor"

// Payload is the decoded result of opening an envelope.
type Payload struct {
	// Name is the declared filename. Empty when the sender left it out;
	// callers derive a content-hash name in that case.
	Name string
	// Data is the plaintext file content.
	Data []byte
	// Enveloped reports whether the body parsed as a JSON envelope. When
	// false the raw request body was taken verbatim.
	Enveloped bool
}

// NewEnvelope builds an envelope around data. When passphrase is
// non-empty the data is masked and tagged before base64 encoding, and
// the key rides along base64-encoded so binary-safe passphrases survive
// JSON transport.
func NewEnvelope(name string, data []byte, passphrase string) *Envelope {
	env := &Envelope{Name: name}
	if passphrase == "" {
		env.Data = base64.StdEncoding.EncodeToString(data)
		return env
	}

	masked, tag := MaskWithTag(data, passphrase)
	env.Data = base64.StdEncoding.EncodeToString(masked)
	env.Scheme = SchemeXOR
	env.Key = base64.StdEncoding.EncodeToString([]byte(passphrase))
	env.KeyBase64 = true
	env.Tag = tag
	return env
}

// Marshal renders the envelope as compact JSON.
func (e *Envelope) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Open decodes an upload body. Bodies that do not parse as a JSON
// envelope are returned as-is with Enveloped false, so plain binary
// uploads keep working on the covert endpoint. Enveloped bodies go
// through base64 decode, tag verification and unmasking in that order;
// a bad tag or undecodable field is a hard error, never a silent
// fallthrough to raw bytes.
func Open(body []byte) (*Payload, error) {
	if len(body) == 0 {
		return nil, wire.New(wire.KindMalformed, "empty body")
	}

	var env envelopeWire
	if err := json.Unmarshal(body, &env); err != nil {
		return &Payload{Data: body}, nil
	}
	if env.Name == "" {
		env.Name = env.LongName
	}
	if env.Data == "" {
		env.Data = env.LongData
	}
	if env.Tag == "" {
		env.Tag = env.LongTag
	}
	if env.Data == "" {
		// JSON, but not an envelope. Store the body verbatim.
		return &Payload{Data: body}, nil
	}

	data, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		return nil, wire.Wrap(wire.KindMalformed, "invalid base64 payload", err)
	}

	key := env.Key
	if key != "" && env.KeyBase64 {
		raw, err := base64.StdEncoding.DecodeString(key)
		if err != nil {
			return nil, wire.Wrap(wire.KindMalformed, "invalid base64 key", err)
		}
		key = string(raw)
	}

	// Tag covers the ciphertext, so verify before unmasking.
	if env.Tag != "" && key != "" {
		if !VerifyTag(data, key, env.Tag) {
			return nil, wire.New(wire.KindIntegrity, "integrity tag mismatch")
		}
	}

	if env.Scheme == SchemeXOR && key != "" {
		data = Mask(data, key)
	}

	return &Payload{Name: env.Name, Data: data, Enveloped: true}, nil
}
