package server

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"

	"github.com/quietlane/stashd/internal/covert"
	"github.com/quietlane/stashd/internal/logging"
	"github.com/quietlane/stashd/internal/wire"
	"go.uber.org/zap"
)

// handleCovertUpload stores a covert-envelope upload. The body is either
// a JSON envelope (verified and unmasked by the codec) or raw bytes
// taken verbatim. Responses are minimal and carry no identifying
// headers.
func (h *handlers) handleCovertUpload(req *wire.Request) *wire.Response {
	payload, err := covert.Open(req.Body)
	if err != nil {
		if wire.IsKind(err, wire.KindIntegrity) {
			logging.Debug("Covert upload rejected", zap.String("reason", "integrity"))
			resp := wire.NewResponse(wire.StatusBadRequest)
			resp.Masked = true
			resp.SetJSONBody(map[string]any{"ok": false, "err": "hmac"})
			return resp
		}
		resp := wire.NewResponse(wire.StatusBadRequest)
		resp.Masked = true
		resp.SetJSONBody(map[string]any{"ok": false})
		return resp
	}

	name := payload.Name
	if name == "" {
		// Content-addressed fallback name.
		sum := sha256.Sum256(payload.Data)
		name = hex.EncodeToString(sum[:])[:12] + ".bin"
	}
	safeName := sanitizeFilename(name)

	filePath := filepath.Join(h.env.UploadDir, safeName)
	filePath = uniqueFilename(filePath, func(p string) bool {
		_, err := os.Stat(p)
		return err == nil
	})
	safeName = filepath.Base(filePath)

	if err := os.WriteFile(filePath, payload.Data, 0o644); err != nil {
		_ = os.Remove(filePath)
		logging.Error("Covert upload failed", zap.Error(err))
		resp := wire.NewResponse(wire.StatusInternalServerError)
		resp.Masked = true
		resp.SetJSONBody(map[string]any{"ok": false})
		return resp
	}

	h.env.Metrics.UploadedBytes(int64(len(payload.Data)))

	nameSum := sha256.Sum256([]byte(safeName))
	resp := wire.NewResponse(wire.StatusOK)
	resp.Masked = true
	resp.SetJSONBody(map[string]any{
		"ok": true,
		"id": hex.EncodeToString(nameSum[:])[:16],
		"sz": len(payload.Data),
	})
	return resp
}
