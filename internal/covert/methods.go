package covert

import (
	"crypto/rand"
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/quietlane/stashd/internal/wire"
)

// MethodsFile is the side file the alias table is written to. It lives
// in the served root and must stay in the hidden-file set.
const MethodsFile = ".covert_methods.json"

// Actions a covert alias can map to.
const (
	ActionUpload   = "upload"
	ActionDownload = "download"
	ActionList     = "list"
	ActionHealth   = "health"
)

var methodPrefixes = []string{
	"CHECK", "SYNC", "VERIFY", "UPDATE", "QUERY",
	"REPORT", "SUBMIT", "VALIDATE", "PROCESS", "EXECUTE",
}

var methodSuffixes = []string{
	"DATA", "STATUS", "INFO", "CONTENT", "RESOURCE",
	"ITEM", "OBJECT", "RECORD", "ENTRY", "",
}

// Methods maps covert actions to their randomized verb for this server
// run. A fresh table is generated every start; clients learn the verbs
// out of band by reading the side file.
type Methods struct {
	Upload   string `json:"upload"`
	Download string `json:"download"`
	List     string `json:"list"`
	Health   string `json:"health"`
}

// GenerateMethods builds an alias table with four distinct verbs.
// Collisions are resolved by regenerating the colliding entry, so the
// table never aliases two actions to the same verb.
func GenerateMethods() (*Methods, error) {
	seen := make(map[string]bool, 4)
	pick := func() (string, error) {
		for {
			name, err := randomMethodName()
			if err != nil {
				return "", err
			}
			if !seen[name] {
				seen[name] = true
				return name, nil
			}
		}
	}

	m := &Methods{}
	var err error
	if m.Upload, err = pick(); err != nil {
		return nil, err
	}
	if m.Download, err = pick(); err != nil {
		return nil, err
	}
	if m.List, err = pick(); err != nil {
		return nil, err
	}
	if m.Health, err = pick(); err != nil {
		return nil, err
	}
	return m, nil
}

// Action resolves a request verb against the table. The empty string
// means no alias matched; callers answer exactly as they would for a
// missing path.
func (m *Methods) Action(verb string) string {
	switch verb {
	case m.Upload:
		return ActionUpload
	case m.Download:
		return ActionDownload
	case m.List:
		return ActionList
	case m.Health:
		return ActionHealth
	default:
		return ""
	}
}

// Save writes the table to MethodsFile under rootDir with owner-only
// permissions. The file is truncated and rewritten atomically enough
// for a single writer at startup.
func (m *Methods) Save(rootDir string) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return wire.Wrap(wire.KindInternal, "marshal covert methods", err)
	}
	path := filepath.Join(rootDir, MethodsFile)
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return wire.Wrap(wire.KindInternal, "write covert methods file", err)
	}
	return nil
}

func randomMethodName() (string, error) {
	prefix, err := choice(methodPrefixes)
	if err != nil {
		return "", err
	}
	suffix, err := choice(methodSuffixes)
	if err != nil {
		return "", err
	}
	return prefix + suffix, nil
}

func choice(list []string) (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(list))))
	if err != nil {
		return "", fmt.Errorf("random choice: %w", err)
	}
	return list[n.Int64()], nil
}
