package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"

	"github.com/quietlane/stashd/internal/logging"
)

const (
	// Realm appears in the WWW-Authenticate challenge.
	Realm = "Restricted Area"

	pbkdf2Iterations = 600_000
	saltBytes        = 16
	digestBytes      = sha256.Size
)

// Decision is the outcome of an authorization check.
type Decision int

const (
	// Allowed means the credentials verified.
	Allowed Decision = iota
	// Denied means the credentials were missing, malformed or wrong.
	Denied
	// LockedOut means the source address exceeded the failure threshold
	// and no verification was attempted.
	LockedOut
)

// Credentials is a parsed Basic authorization pair.
type Credentials struct {
	Username string
	Password string
}

// ParseBasic extracts a username/password pair from an Authorization
// header value. Returns false on anything that is not well-formed
// Basic auth: wrong scheme, bad base64, or no colon in the decoded
// pair. The password may contain colons; only the first one splits.
func ParseBasic(header string) (Credentials, bool) {
	scheme, encoded, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Basic") {
		return Credentials{}, false
	}

	decoded, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil {
		return Credentials{}, false
	}
	user, pass, found := strings.Cut(string(decoded), ":")
	if !found {
		return Credentials{}, false
	}
	return Credentials{Username: user, Password: pass}, true
}

// Challenge returns the WWW-Authenticate header value.
func Challenge() string {
	return fmt.Sprintf("Basic realm=%q", Realm)
}

// storedCredential is a PBKDF2 verifier. The salt is kept as the hex
// string it was generated as, matching the stored-format convention
// of hex(digest) + hex salt string fed to the KDF as UTF-8 bytes.
type storedCredential struct {
	digest []byte
	salt   string
}

// Authenticator verifies Basic credentials against PBKDF2 verifiers
// built once at startup. Verifiers are never mutated after
// construction, so lookups need no locking.
type Authenticator struct {
	users map[string]storedCredential

	// dummy is a verifier for a throwaway password. Unknown usernames
	// are checked against it so the work factor is identical whether or
	// not the user exists.
	dummy storedCredential
}

// NewAuthenticator builds verifiers for the given plaintext pairs.
// Hashing at 600k iterations is deliberately slow; with the usual one
// or two users this is a sub-second startup cost.
func NewAuthenticator(credentials map[string]string) (*Authenticator, error) {
	a := &Authenticator{users: make(map[string]storedCredential, len(credentials))}
	for user, pass := range credentials {
		if user == "" {
			return nil, fmt.Errorf("empty username")
		}
		cred, err := hashPassword(pass)
		if err != nil {
			return nil, err
		}
		a.users[user] = cred
	}

	decoy, err := randomToken(16)
	if err != nil {
		return nil, err
	}
	if a.dummy, err = hashPassword(decoy); err != nil {
		return nil, err
	}
	return a, nil
}

// Verify checks a credential pair. Unknown users burn the same PBKDF2
// work as known ones and always fail.
func (a *Authenticator) Verify(creds Credentials) bool {
	stored, known := a.users[creds.Username]
	if !known {
		stored = a.dummy
	}
	computed := deriveDigest(creds.Password, stored.salt)
	match := subtle.ConstantTimeCompare(computed, stored.digest) == 1
	return match && known
}

func hashPassword(password string) (storedCredential, error) {
	raw := make([]byte, saltBytes)
	if _, err := rand.Read(raw); err != nil {
		return storedCredential{}, fmt.Errorf("generate salt: %w", err)
	}
	salt := hex.EncodeToString(raw)
	return storedCredential{digest: deriveDigest(password, salt), salt: salt}, nil
}

func deriveDigest(password, salt string) []byte {
	return pbkdf2.Key([]byte(password), []byte(salt), pbkdf2Iterations, digestBytes, sha256.New)
}

// Guard couples an Authenticator with the per-address failure ledger.
type Guard struct {
	auth   *Authenticator
	ledger *Ledger
}

// NewGuard wires an authenticator to a fresh failure ledger.
func NewGuard(auth *Authenticator) *Guard {
	return &Guard{auth: auth, ledger: NewLedger(DefaultThreshold, DefaultWindow)}
}

// Authorize runs the full access decision for one request. A locked-out
// address is refused before any verification work. Failures are
// recorded; successes do not clear earlier failures, only the window
// expiring does.
func (g *Guard) Authorize(authHeader, sourceAddr string) Decision {
	if g.ledger.Blocked(sourceAddr) {
		logging.LogSecurityEvent(sourceAddr, "auth lockout")
		return LockedOut
	}

	creds, ok := ParseBasic(authHeader)
	if !ok {
		g.ledger.RecordFailure(sourceAddr)
		logging.LogSecurityEvent(sourceAddr, "auth malformed")
		return Denied
	}
	if !g.auth.Verify(creds) {
		g.ledger.RecordFailure(sourceAddr)
		logging.LogSecurityEvent(sourceAddr, "auth failed")
		return Denied
	}
	return Allowed
}

// GenerateCredentials makes a random username and password for the
// "random" auth mode.
func GenerateCredentials() (user, pass string, err error) {
	suffix, err := randomToken(4)
	if err != nil {
		return "", "", err
	}
	pass, err = randomToken(16)
	if err != nil {
		return "", "", err
	}
	return "user_" + suffix, pass, nil
}

// GeneratePassword makes a random password for a caller-chosen user.
func GeneratePassword() (string, error) {
	return randomToken(16)
}

func randomToken(n int) (string, error) {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}
