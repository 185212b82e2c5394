package server

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"math/big"
	"os"
	"path/filepath"

	"github.com/quietlane/stashd/internal/covert"
	"github.com/quietlane/stashd/internal/logging"
	"github.com/quietlane/stashd/internal/wire"
	"go.uber.org/zap"
)

const bundlePasswordAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// handleSmuggle wraps a served file into a self-extracting HTML page
// saved as a one-shot artifact under uploads/. With ?encrypt=1 the
// payload is masked with a server-generated password that the caller
// must relay out of band.
func (h *handlers) handleSmuggle(req *wire.Request) *wire.Response {
	if isHiddenFile(req.Path) {
		return h.notFound(req.Path)
	}

	resolved, err := h.resolveFile(req.Path, true)
	if err != nil {
		if wire.IsKind(err, wire.KindForbidden) {
			return h.kindResponse(err)
		}
		return h.notFound(req.Path)
	}

	info, err := os.Stat(resolved)
	if err != nil || info.IsDir() {
		return h.notFound(req.Path)
	}

	password := ""
	if req.Query["encrypt"] == "1" {
		password, err = generateBundlePassword()
		if err != nil {
			logging.Error("Bundle password generation failed", zap.Error(err))
			return h.errorResponse(wire.StatusInternalServerError, "Internal Server Error")
		}
	}

	fileData, err := os.ReadFile(resolved)
	if err != nil {
		return h.notFound(req.Path)
	}

	html := buildBundleHTML(fileData, filepath.Base(resolved), password)

	bundleName := bundlePrefix + randomHex(8) + ".html"
	bundlePath := filepath.Join(h.env.UploadDir, bundleName)
	if err := os.WriteFile(bundlePath, []byte(html), 0o644); err != nil {
		_ = os.Remove(bundlePath)
		logging.Error("Bundle write failed", zap.String("path", bundlePath), zap.Error(err))
		return h.errorResponse(wire.StatusInternalServerError, "Internal Server Error")
	}
	h.env.Bundles.Register(bundlePath)

	logging.Debug("Bundle created",
		zap.String("file", filepath.Base(resolved)),
		zap.String("bundle", bundleName),
		zap.Bool("encrypted", password != ""),
	)

	body := map[string]any{
		"url":       "/uploads/" + bundleName,
		"file":      filepath.Base(resolved),
		"encrypted": password != "",
	}
	if password != "" {
		body["password"] = password
	}

	resp := wire.NewResponse(wire.StatusOK)
	resp.Masked = h.env.Covert
	resp.SetHeader("X-Bundle-URL", "/uploads/"+bundleName)
	resp.SetJSONBody(body)
	return resp
}

func generateBundlePassword() (string, error) {
	out := make([]byte, 7)
	for i := range out {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(bundlePasswordAlphabet))))
		if err != nil {
			return "", err
		}
		out[i] = bundlePasswordAlphabet[n.Int64()]
	}
	return string(out), nil
}

// buildBundleHTML renders the download page. The payload rides as
// base64; when a password is set it is first masked with the covert
// codec, and the page asks for the password and reverses the mask in
// the browser with the same repeated-raw-bytes keystream.
func buildBundleHTML(fileData []byte, filename, password string) string {
	if password == "" {
		return fmt.Sprintf(bundlePlainTemplate, filename, base64.StdEncoding.EncodeToString(fileData))
	}
	masked := covert.Mask(fileData, password)
	return fmt.Sprintf(bundleMaskedTemplate, filename, base64.StdEncoding.EncodeToString(masked))
}

const bundlePlainTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>Download</title>
<style>
body{font-family:Arial,sans-serif;max-width:600px;margin:50px auto;padding:20px;text-align:center;background:#1a1a2e;color:#eee}
h2{color:#00d4ff}
.status{color:#888;margin:20px 0}
</style>
</head>
<body>
<h2>Downloading...</h2>
<div class="status" id="s">Preparing file...</div>
<script>
var fn=%q;
var data=%q;
function d(){
try{
document.getElementById("s").textContent="Processing...";
var b=atob(data);
var a=new Uint8Array(b.length);
for(var i=0;i<b.length;i++)a[i]=b.charCodeAt(i);
var blob=new Blob([a],{type:"application/octet-stream"});
var url=window.URL.createObjectURL(blob);
var el=document.createElement("a");
el.href=url;
el.download=fn;
document.body.appendChild(el);
el.click();
document.body.removeChild(el);
window.URL.revokeObjectURL(url);
document.getElementById("s").innerHTML="Done! File: <b>"+fn+"</b>";
}catch(e){document.getElementById("s").textContent="Error: "+e.message}
}
setTimeout(d,500);
</script>
</body>
</html>`

const bundleMaskedTemplate = `<!DOCTYPE html>
<html>
<head>
<meta charset="UTF-8">
<title>Download</title>
<style>
body{font-family:Arial,sans-serif;max-width:600px;margin:50px auto;padding:20px;text-align:center;background:#1a1a2e;color:#eee}
h2{color:#00d4ff}
.status{color:#888;margin:20px 0}
input{padding:8px;font-size:16px;width:200px}
button{padding:8px 20px;font-size:16px;margin-left:8px;cursor:pointer}
</style>
</head>
<body>
<h2>Protected Download</h2>
<div class="status" id="s">Enter the password to download.</div>
<input type="password" id="p" placeholder="Password">
<button onclick="d()">Download</button>
<script>
var fn=%q;
var data=%q;
function d(){
try{
var pw=document.getElementById("p").value;
if(!pw){document.getElementById("s").textContent="Password required";return}
var b=atob(data);
var a=new Uint8Array(b.length);
for(var i=0;i<b.length;i++)a[i]=b.charCodeAt(i)^pw.charCodeAt(i%%pw.length);
var blob=new Blob([a],{type:"application/octet-stream"});
var url=window.URL.createObjectURL(blob);
var el=document.createElement("a");
el.href=url;
el.download=fn;
document.body.appendChild(el);
el.click();
document.body.removeChild(el);
window.URL.revokeObjectURL(url);
document.getElementById("s").innerHTML="Done! File: <b>"+fn+"</b>";
}catch(e){document.getElementById("s").textContent="Error: "+e.message}
}
</script>
</body>
</html>`
