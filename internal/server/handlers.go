package server

import (
	"errors"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/quietlane/stashd/internal/logging"
	"github.com/quietlane/stashd/internal/pathsafe"
	"github.com/quietlane/stashd/internal/wire"
	"go.uber.org/zap"
)

// cspHeader is attached to every HTML response.
const cspHeader = "default-src 'self'; script-src 'self' 'unsafe-inline'; " +
	"style-src 'self' 'unsafe-inline'; img-src 'self' data:; connect-src 'self'"

// handlers carries the immutable environment shared by every verb
// handler. It holds no per-request state.
type handlers struct {
	env *Env
}

// resolveFile maps a request path onto the filesystem. With
// confineToUploads set and sandbox mode on, resolution is rooted at the
// upload directory (an explicit "uploads/" prefix is collapsed);
// otherwise the served root is the containment root.
func (h *handlers) resolveFile(requestPath string, confineToUploads bool) (string, error) {
	clean := strings.TrimPrefix(requestPath, "/")

	base := h.env.Root
	if confineToUploads && h.env.Sandbox {
		clean = strings.TrimPrefix(clean, "uploads/")
		if clean == "uploads" {
			clean = ""
		}
		base = h.env.UploadDir
	}

	resolved, err := pathsafe.Resolve(clean, base)
	if err != nil {
		if errors.Is(err, pathsafe.ErrOutsideRoot) {
			return "", wire.Wrap(wire.KindForbidden, "path escapes root", err)
		}
		return "", wire.Wrap(wire.KindNotFound, "unresolvable path", err)
	}
	return resolved, nil
}

func (h *handlers) errorResponse(status int, message string) *wire.Response {
	resp := wire.NewResponse(status)
	resp.Masked = h.env.Covert
	if h.env.Covert {
		// Keep error bodies generic so probing learns nothing.
		message = wire.StatusText(status)
	}
	resp.SetJSONBody(map[string]any{"error": message, "status": status})
	return resp
}

// notFound is the one not-found answer. In covert mode it is emitted for
// unknown paths and unknown verbs alike, byte for byte.
func (h *handlers) notFound(requestPath string) *wire.Response {
	if h.env.Covert {
		return h.errorResponse(wire.StatusNotFound, "")
	}
	return h.errorResponse(wire.StatusNotFound, "File not found: "+requestPath)
}

func (h *handlers) kindResponse(err error) *wire.Response {
	kind := wire.KindOf(err)
	if kind == wire.KindNotFound || kind == wire.KindMethodUnknown {
		return h.notFound("")
	}
	status := kind.Status()
	return h.errorResponse(status, wire.StatusText(status))
}

// handleGet serves a file read. Directories fall back to their
// index.html, hidden files are invisible, and one-shot bundles are
// consumed by the first successful read.
func (h *handlers) handleGet(req *wire.Request) *wire.Response {
	if !h.env.Covert && req.Path == "/metrics" {
		return h.handleMetrics(req)
	}

	if isHiddenFile(req.Path) {
		return h.notFound(req.Path)
	}

	requestPath := req.Path
	if requestPath == "/" || requestPath == "" {
		requestPath = "/index.html"
	}

	if h.env.Sandbox && !sandboxAllowsGet(requestPath) {
		return h.notFound(req.Path)
	}

	resolved, err := h.resolveFile(requestPath, false)
	if err != nil {
		if wire.IsKind(err, wire.KindForbidden) {
			return h.kindResponse(err)
		}
		return h.notFound(req.Path)
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return h.notFound(req.Path)
	}
	if info.IsDir() {
		index := filepath.Join(resolved, "index.html")
		indexInfo, err := os.Stat(index)
		if err != nil || indexInfo.IsDir() {
			return h.notFound(req.Path)
		}
		resolved, info = index, indexInfo
	}

	contentType := contentTypeFor(resolved)
	resp := wire.NewResponse(wire.StatusOK)
	resp.Masked = h.env.Covert

	if h.env.Bundles.Contains(resolved) {
		return h.serveBundle(req, resolved, contentType)
	}

	resp.SetFile(resolved, info.Size(), contentType)
	if isHTMLContentType(contentType) {
		resp.SetHeader("Content-Security-Policy", cspHeader)
	}
	return resp
}

// serveBundle claims a one-shot artifact and serves it fully from
// memory, deleting it afterwards. Exactly one concurrent reader wins
// the claim; the rest see the same not-found a missing file gets.
func (h *handlers) serveBundle(req *wire.Request, resolved, contentType string) *wire.Response {
	claimed, ok := h.env.Bundles.Claim(resolved)
	if !ok {
		return h.notFound(req.Path)
	}

	content, err := os.ReadFile(claimed)
	removeErr := os.Remove(claimed)
	if removeErr != nil && !os.IsNotExist(removeErr) {
		logging.Warn("Failed to remove served bundle", zap.String("path", claimed), zap.Error(removeErr))
	}
	if err != nil {
		return h.notFound(req.Path)
	}

	resp := wire.NewResponse(wire.StatusOK)
	resp.Masked = h.env.Covert
	resp.SetBody(content, contentType)
	if isHTMLContentType(contentType) {
		resp.SetHeader("Content-Security-Policy", cspHeader)
	}
	return resp
}

// sandboxAllowsGet restricts sandboxed reads to root-level files plus
// the uploads and static trees.
func sandboxAllowsGet(requestPath string) bool {
	clean := strings.TrimPrefix(requestPath, "/")
	if !strings.Contains(clean, "/") {
		return true
	}
	return strings.HasPrefix(clean, "uploads/") || strings.HasPrefix(clean, "static/")
}

// handleUpload stores the request body as a file in the upload
// directory. POST, PUT and NONE all land here, so ordinary HTTP clients
// can upload without custom verbs.
func (h *handlers) handleUpload(req *wire.Request) *wire.Response {
	filename := req.GetHeader("X-File-Name", "")
	if filename != "" {
		if decoded, err := url.QueryUnescape(filename); err == nil {
			filename = decoded
		}
	}
	if filename == "" {
		if name := path.Base(strings.Trim(req.Path, "/")); name != "" && name != "." && name != "/" {
			filename = name
		} else {
			filename = "upload_" + time.Now().Format("20060102_150405")
		}
	}
	safeName := sanitizeFilename(filename)

	if len(req.Body) == 0 {
		resp := h.errorResponse(wire.StatusBadRequest, "No file data provided")
		resp.SetHeader("X-Upload-Status", "no-data")
		return resp
	}

	filePath := filepath.Join(h.env.UploadDir, safeName)
	filePath = uniqueFilename(filePath, func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	})
	safeName = filepath.Base(filePath)

	if err := os.WriteFile(filePath, req.Body, 0o644); err != nil {
		// An upload either completes wholly or leaves nothing behind.
		_ = os.Remove(filePath)
		logging.Error("Upload failed", zap.String("file", safeName), zap.Error(err))
		resp := h.errorResponse(wire.StatusInternalServerError, "Upload failed")
		resp.SetHeader("X-Upload-Status", "error")
		return resp
	}

	size := int64(len(req.Body))
	h.env.Metrics.UploadedBytes(size)
	logging.Debug("Upload stored", zap.String("file", safeName), zap.Int64("size", size))

	resp := wire.NewResponse(wire.StatusCreated)
	resp.Masked = h.env.Covert
	resp.SetHeader("X-Upload-Status", "success")
	resp.SetHeader("X-File-Name", safeName)
	resp.SetHeader("X-File-Size", strconv.FormatInt(size, 10))
	resp.SetHeader("X-File-Path", "/uploads/"+safeName)
	resp.SetJSONBody(map[string]any{
		"success":      true,
		"filename":     safeName,
		"size":         size,
		"size_human":   formatSize(size),
		"path":         "/uploads/" + safeName,
		"uploaded_at":  time.Now().Format(time.RFC3339),
		"content_type": req.ContentType(),
	})
	return resp
}

// handleFetch downloads a file with an attachment disposition. Sandbox
// mode confines it to the upload directory.
func (h *handlers) handleFetch(req *wire.Request) *wire.Response {
	if isHiddenFile(req.Path) {
		return h.notFound(req.Path)
	}

	resolved, err := h.resolveFile(req.Path, true)
	if err != nil {
		if wire.IsKind(err, wire.KindForbidden) {
			return h.kindResponse(err)
		}
		return h.fetchNotFound(req.Path)
	}

	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return h.fetchNotFound(req.Path)
	}

	resp := wire.NewResponse(wire.StatusOK)
	resp.Masked = h.env.Covert
	resp.SetFile(resolved, info.Size(), contentTypeFor(resolved))
	resp.SetHeader("Content-Disposition", `attachment; filename="`+filepath.Base(resolved)+`"`)
	resp.SetHeader("X-Fetch-Status", "success")
	resp.SetHeader("X-File-Name", filepath.Base(resolved))
	resp.SetHeader("X-File-Size", strconv.FormatInt(info.Size(), 10))
	resp.SetHeader("X-File-Modified", info.ModTime().Format(time.RFC3339))
	return resp
}

func (h *handlers) fetchNotFound(requestPath string) *wire.Response {
	resp := h.notFound(requestPath)
	if !h.env.Covert {
		resp.SetHeader("X-Fetch-Status", "file-not-found")
	}
	return resp
}

// handleInfo reports file or directory metadata as JSON. Directory
// listings paginate with ?offset and ?limit and are suppressed in
// covert mode.
func (h *handlers) handleInfo(req *wire.Request) *wire.Response {
	if isHiddenFile(req.Path) {
		return h.notFound(req.Path)
	}

	resolved, err := h.resolveFile(req.Path, true)
	if err != nil {
		if wire.IsKind(err, wire.KindForbidden) {
			return h.kindResponse(err)
		}
		return h.errorResponse(wire.StatusBadRequest, "Invalid path")
	}

	info, err := os.Stat(resolved)
	if err != nil {
		resp := wire.NewResponse(wire.StatusNotFound)
		resp.Masked = h.env.Covert
		resp.SetJSONBody(map[string]any{"exists": false, "path": req.Path})
		return resp
	}

	body := map[string]any{
		"exists":       true,
		"path":         req.Path,
		"name":         filepath.Base(resolved),
		"is_file":      !info.IsDir(),
		"is_directory": info.IsDir(),
		"size":         info.Size(),
		"size_human":   formatSize(info.Size()),
		"content_type": contentTypeFor(resolved),
		"modified":     info.ModTime().Format(time.RFC3339),
		"extension":    filepath.Ext(resolved),
		"sandbox_mode": h.env.Sandbox,
	}

	if info.IsDir() && !h.env.Covert {
		h.listDirectory(resolved, req.Query, body)
	}

	resp := wire.NewResponse(wire.StatusOK)
	resp.Masked = h.env.Covert
	resp.SetJSONBody(body)
	return resp
}

type dirEntry struct {
	Name  string `json:"name"`
	IsDir bool   `json:"is_dir"`
}

func (h *handlers) listDirectory(dir string, query map[string]string, body map[string]any) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}

	items := make([]dirEntry, 0, len(entries))
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".") {
			continue
		}
		items = append(items, dirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Name < items[j].Name })

	offset := 0
	if v, err := strconv.Atoi(query["offset"]); err == nil && v > 0 {
		offset = v
	}
	limit := 100
	if v, err := strconv.Atoi(query["limit"]); err == nil {
		limit = min(1000, max(1, v))
	}

	body["total_items"] = len(items)
	body["offset"] = offset
	body["limit"] = limit

	if offset >= len(items) {
		body["contents"] = []dirEntry{}
		return
	}
	end := min(len(items), offset+limit)
	body["contents"] = items[offset:end]
}

// handlePing answers the health check. Covert mode gives away nothing
// but liveness.
func (h *handlers) handlePing(req *wire.Request) *wire.Response {
	resp := wire.NewResponse(wire.StatusOK)
	resp.Masked = h.env.Covert

	if h.env.Covert {
		resp.SetJSONBody(map[string]any{
			"status":    "pong",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
		return resp
	}

	resp.SetHeader("X-Ping-Response", "pong")
	resp.SetJSONBody(map[string]any{
		"status":            "pong",
		"server":            "stashd/" + h.env.Version,
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
		"supported_methods": strings.Split(advertisedMethods, ", "),
		"sandbox_mode":      h.env.Sandbox,
		"metrics":           h.env.Metrics.Snapshot(),
	})
	return resp
}

// handleOptions answers CORS preflight. Standard mode only; covert
// dispatch treats OPTIONS like any other unaliased verb.
func (h *handlers) handleOptions(req *wire.Request) *wire.Response {
	resp := wire.NewResponse(wire.StatusNoContent)

	allowed := advertisedMethods
	if requested := req.GetHeader("Access-Control-Request-Method", ""); requested != "" &&
		!strings.Contains(allowed, requested) {
		allowed = allowed + ", " + requested
	}
	resp.SetHeader("Allow", allowed)
	resp.SetHeader("Access-Control-Allow-Methods", allowed)
	return resp
}

// handleMetrics renders the Prometheus text exposition. Standard mode
// only; covert deployments never advertise internals.
func (h *handlers) handleMetrics(req *wire.Request) *wire.Response {
	body, err := h.env.Metrics.Render()
	if err != nil {
		logging.Error("Metrics render failed", zap.Error(err))
		return h.errorResponse(wire.StatusInternalServerError, "Internal Server Error")
	}
	resp := wire.NewResponse(wire.StatusOK)
	resp.SetBody(body, "text/plain; version=0.0.4; charset=utf-8")
	return resp
}
