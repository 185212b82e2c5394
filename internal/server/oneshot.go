package server

import (
	"crypto/rand"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/quietlane/stashd/internal/logging"
	"go.uber.org/zap"
)

// bundlePrefix names the ephemeral HTML bundles under the upload dir.
// Startup cleanup globs on it, so anything else in uploads is safe.
const bundlePrefix = "bundle_"

// BundleRegistry tracks ephemeral one-shot artifacts. An artifact is
// retrievable exactly once: the first claim wins it, every later or
// concurrent claim sees not-found.
type BundleRegistry struct {
	mu    sync.Mutex
	paths map[string]bool
}

// NewBundleRegistry returns an empty registry.
func NewBundleRegistry() *BundleRegistry {
	return &BundleRegistry{paths: make(map[string]bool)}
}

// Register records a freshly written artifact.
func (r *BundleRegistry) Register(path string) {
	r.mu.Lock()
	r.paths[path] = true
	r.mu.Unlock()
}

// Contains reports whether path is a live artifact.
func (r *BundleRegistry) Contains(path string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.paths[path]
}

// Claim takes exclusive ownership of an artifact. The winner gets a
// private name the file has been renamed to; it reads and then removes
// it. The rename happens under the registry lock, so a concurrent
// claimant can neither win the entry nor open the original name.
func (r *BundleRegistry) Claim(path string) (string, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.paths[path] {
		return "", false
	}
	delete(r.paths, path)

	suffix := make([]byte, 6)
	if _, err := rand.Read(suffix); err != nil {
		// Keep exactly-once semantics even without entropy: serve in
		// place and let the caller delete the original name.
		return path, true
	}
	claimed := path + ".claimed-" + hex.EncodeToString(suffix)
	if err := os.Rename(path, claimed); err != nil {
		logging.Warn("Failed to rename claimed bundle",
			zap.String("path", path),
			zap.Error(err),
		)
		return path, true
	}
	return claimed, true
}

// RemoveAll deletes every artifact still registered. Called at shutdown
// so unclaimed bundles do not outlive the process.
func (r *BundleRegistry) RemoveAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for path := range r.paths {
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			logging.Warn("Failed to remove bundle", zap.String("path", path), zap.Error(err))
		}
		delete(r.paths, path)
	}
}

// CleanupStaleBundles removes bundle files a previous process left in
// the upload directory. Runs once at startup before the registry is
// populated.
func CleanupStaleBundles(uploadDir string) {
	matches, err := filepath.Glob(filepath.Join(uploadDir, bundlePrefix+"*.html"))
	if err != nil {
		return
	}
	for _, path := range matches {
		if err := os.Remove(path); err == nil {
			logging.Debug("Removed stale bundle", zap.String("path", path))
		}
	}
}
