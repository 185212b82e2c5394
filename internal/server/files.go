package server

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"mime"
	"path"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/quietlane/stashd/internal/covert"
)

// hiddenFiles are never served, whatever the verb. Requests for them get
// the generic not-found.
var hiddenFiles = map[string]bool{
	covert.MethodsFile: true,
	".env":             true,
	".gitignore":       true,
	".git":             true,
}

func isHiddenFile(requestPath string) bool {
	return hiddenFiles[path.Base(requestPath)]
}

// sanitizeFilename strips everything but letters, digits, and a small
// safe set, then collapses dot runs so a name can never smuggle a path
// component. An empty result gets a random placeholder name.
func sanitizeFilename(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune("._- ", r) {
			b.WriteRune(r)
		}
	}
	safe := b.String()
	for strings.Contains(safe, "..") {
		safe = strings.ReplaceAll(safe, "..", ".")
	}
	safe = strings.Trim(safe, ". ")
	if safe == "" {
		return "upload_" + randomHex(6)
	}
	return safe
}

// uniqueFilename returns filePath, or a variant with a random suffix
// before the extension when filePath already exists on disk.
func uniqueFilename(filePath string, exists func(string) bool) string {
	if !exists(filePath) {
		return filePath
	}

	dir := filepath.Dir(filePath)
	name := filepath.Base(filePath)
	suffix := randomHex(4)

	ext := filepath.Ext(name)
	if ext != "" && ext != name {
		stem := strings.TrimSuffix(name, ext)
		return filepath.Join(dir, fmt.Sprintf("%s_%s%s", stem, suffix, ext))
	}
	return filepath.Join(dir, name+"_"+suffix)
}

// contentTypeFor guesses a content type from the file extension.
func contentTypeFor(filePath string) string {
	if ct := mime.TypeByExtension(filepath.Ext(filePath)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func isHTMLContentType(ct string) bool {
	return strings.HasPrefix(ct, "text/html")
}

// formatSize renders a byte count for humans.
func formatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}

func randomHex(n int) string {
	raw := make([]byte, n)
	if _, err := rand.Read(raw); err != nil {
		// Entropy exhaustion is not survivable in any interesting way.
		panic(fmt.Sprintf("crypto/rand: %v", err))
	}
	return hex.EncodeToString(raw)
}
