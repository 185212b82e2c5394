package server

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/quietlane/stashd/internal/config"
	"github.com/quietlane/stashd/internal/covert"
)

func tlsDial(addr string) (*tls.Conn, error) {
	dialer := &net.Dialer{Timeout: 2 * time.Second}
	return tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{InsecureSkipVerify: true})
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Port = 0
	cfg.RootDir = t.TempDir()
	cfg.MaxWorkers = 4
	return cfg
}

// startServer runs the accept loop in the background and blocks until
// the listener is bound.
func startServer(t *testing.T, cfg *config.Config, credentials map[string]string) *Server {
	t.Helper()
	srv, err := New(cfg, credentials)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})

	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not bind")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return srv
}

// roundTrip sends one raw request and returns status code, headers and
// body from the single response the connection yields.
func roundTrip(t *testing.T, addr, raw string) (int, map[string]string, []byte) {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := io.WriteString(conn, raw); err != nil {
		t.Fatal(err)
	}

	r := bufio.NewReader(conn)
	statusLine, err := r.ReadString('\n')
	if err != nil {
		t.Fatalf("no status line: %v", err)
	}
	parts := strings.SplitN(strings.TrimSpace(statusLine), " ", 3)
	if len(parts) < 2 {
		t.Fatalf("bad status line %q", statusLine)
	}
	var status int
	if _, err := fmt.Sscanf(parts[1], "%d", &status); err != nil {
		t.Fatalf("bad status %q", parts[1])
	}

	headers := map[string]string{}
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			t.Fatalf("headers truncated: %v", err)
		}
		line = strings.TrimSpace(line)
		if line == "" {
			break
		}
		name, value, _ := strings.Cut(line, ":")
		headers[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}

	body, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("body read failed: %v", err)
	}
	return status, headers, body
}

func TestServerEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	srv := startServer(t, cfg, nil)

	content := "<html><body>welcome</body></html>"
	if err := os.WriteFile(filepath.Join(cfg.RootDir, "index.html"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	status, headers, body := roundTrip(t, srv.Addr(), "GET /index.html HTTP/1.1\r\n\r\n")
	if status != 200 {
		t.Fatalf("status = %d, want 200 (body %s)", status, body)
	}
	if string(body) != content {
		t.Errorf("body = %q", body)
	}
	if headers["x-request-id"] == "" {
		t.Error("missing X-Request-Id")
	}
	if headers["connection"] != "close" {
		t.Errorf("Connection = %q", headers["connection"])
	}
	if !strings.HasPrefix(headers["server"], "stashd/") {
		t.Errorf("Server = %q", headers["server"])
	}
	if headers["content-length"] != fmt.Sprint(len(content)) {
		t.Errorf("Content-Length = %q", headers["content-length"])
	}
}

func TestServerUploadThenDownload(t *testing.T) {
	cfg := testConfig(t)
	srv := startServer(t, cfg, nil)

	payload := "round trip payload"
	raw := fmt.Sprintf("POST /upload HTTP/1.1\r\nX-File-Name: rt.txt\r\nContent-Length: %d\r\n\r\n%s",
		len(payload), payload)
	status, headers, _ := roundTrip(t, srv.Addr(), raw)
	if status != 201 {
		t.Fatalf("upload status = %d", status)
	}
	name := headers["x-file-name"]

	status, _, body := roundTrip(t, srv.Addr(), "FETCH /uploads/"+name+" HTTP/1.1\r\n\r\n")
	if status != 200 {
		t.Fatalf("fetch status = %d", status)
	}
	if string(body) != payload {
		t.Errorf("fetched %q, want %q", body, payload)
	}
}

func TestServerUnknownVerb(t *testing.T) {
	cfg := testConfig(t)
	srv := startServer(t, cfg, nil)

	status, headers, _ := roundTrip(t, srv.Addr(), "BREW /coffee HTTP/1.1\r\n\r\n")
	if status != 405 {
		t.Fatalf("status = %d, want 405", status)
	}
	if !strings.Contains(headers["allow"], "FETCH") {
		t.Errorf("Allow = %q", headers["allow"])
	}
}

func TestServerMalformedRequest(t *testing.T) {
	cfg := testConfig(t)
	srv := startServer(t, cfg, nil)

	status, _, _ := roundTrip(t, srv.Addr(), "not a request at all\r\n\r\n")
	if status != 400 {
		t.Fatalf("status = %d, want 400", status)
	}
}

func TestServerOversizedDeclaredLength(t *testing.T) {
	cfg := testConfig(t)
	cfg.MaxUploadSize = 1024
	srv := startServer(t, cfg, nil)

	raw := "POST /upload HTTP/1.1\r\nContent-Length: 1048576\r\n\r\n"
	status, _, _ := roundTrip(t, srv.Addr(), raw)
	if status != 413 {
		t.Fatalf("status = %d, want 413", status)
	}
}

func TestServerBasicAuth(t *testing.T) {
	cfg := testConfig(t)
	srv := startServer(t, cfg, map[string]string{"alice": "s3cret"})

	if err := os.WriteFile(filepath.Join(cfg.RootDir, "index.html"), []byte("hi"), 0o644); err != nil {
		t.Fatal(err)
	}

	// No credentials.
	status, headers, _ := roundTrip(t, srv.Addr(), "GET /index.html HTTP/1.1\r\n\r\n")
	if status != 401 {
		t.Fatalf("status = %d, want 401", status)
	}
	if !strings.HasPrefix(headers["www-authenticate"], "Basic realm=") {
		t.Errorf("WWW-Authenticate = %q", headers["www-authenticate"])
	}

	// Good credentials.
	cred := base64.StdEncoding.EncodeToString([]byte("alice:s3cret"))
	raw := "GET /index.html HTTP/1.1\r\nAuthorization: Basic " + cred + "\r\n\r\n"
	status, _, body := roundTrip(t, srv.Addr(), raw)
	if status != 200 {
		t.Fatalf("authed status = %d", status)
	}
	if string(body) != "hi" {
		t.Errorf("body = %q", body)
	}
}

func TestServerLockoutAfterRepeatedFailures(t *testing.T) {
	cfg := testConfig(t)
	srv := startServer(t, cfg, map[string]string{"alice": "s3cret"})

	bad := base64.StdEncoding.EncodeToString([]byte("alice:wrong"))
	raw := "GET / HTTP/1.1\r\nAuthorization: Basic " + bad + "\r\n\r\n"
	for i := 0; i < 5; i++ {
		status, _, _ := roundTrip(t, srv.Addr(), raw)
		if status != 401 {
			t.Fatalf("attempt %d status = %d, want 401", i, status)
		}
	}

	// The sixth attempt is refused before credentials are even checked.
	status, _, _ := roundTrip(t, srv.Addr(), raw)
	if status != 429 {
		t.Fatalf("status = %d, want 429", status)
	}

	// Correct credentials are refused too while locked out.
	good := base64.StdEncoding.EncodeToString([]byte("alice:s3cret"))
	raw = "GET / HTTP/1.1\r\nAuthorization: Basic " + good + "\r\n\r\n"
	status, _, _ = roundTrip(t, srv.Addr(), raw)
	if status != 429 {
		t.Fatalf("locked-out good creds status = %d, want 429", status)
	}
}

func TestServerCovertWritesMethodsFile(t *testing.T) {
	cfg := testConfig(t)
	cfg.CovertMode = true
	srv := startServer(t, cfg, nil)

	if _, err := os.Stat(filepath.Join(cfg.RootDir, covert.MethodsFile)); err != nil {
		t.Fatalf("alias table not written: %v", err)
	}

	// Standard verbs get the generic not-found, with the bland Server
	// header.
	status, headers, _ := roundTrip(t, srv.Addr(), "GET /index.html HTTP/1.1\r\n\r\n")
	if status != 404 {
		t.Fatalf("covert GET status = %d, want 404", status)
	}
	if headers["server"] != "nginx" {
		t.Errorf("Server = %q, want nginx", headers["server"])
	}
	if headers["x-request-id"] != "" {
		t.Error("covert response leaks X-Request-Id")
	}

	// The alias table file itself is invisible over the wire.
	status, _, _ = roundTrip(t, srv.Addr(), "GET /"+covert.MethodsFile+" HTTP/1.1\r\n\r\n")
	if status != 404 {
		t.Fatalf("methods file GET status = %d, want 404", status)
	}
}

func TestServerTLSEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	cfg.TLS.Enabled = true
	srv := startServer(t, cfg, nil)

	if err := os.WriteFile(filepath.Join(cfg.RootDir, "hello.txt"), []byte("over tls"), 0o644); err != nil {
		t.Fatal(err)
	}

	conn, err := tlsDial(srv.Addr())
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	if _, err := io.WriteString(conn, "GET /hello.txt HTTP/1.1\r\n\r\n"); err != nil {
		t.Fatal(err)
	}
	raw, err := io.ReadAll(conn)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(raw), "HTTP/1.1 200") {
		t.Fatalf("response = %q", raw)
	}
	if !strings.HasSuffix(string(raw), "over tls") {
		t.Errorf("body missing from %q", raw)
	}
}

func TestServerShutdownRemovesBundles(t *testing.T) {
	cfg := testConfig(t)
	srv, err := New(cfg, nil)
	if err != nil {
		t.Fatal(err)
	}
	go func() { _ = srv.Start() }()
	deadline := time.Now().Add(2 * time.Second)
	for srv.Addr() == "" {
		if time.Now().After(deadline) {
			t.Fatal("server did not bind")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if err := os.WriteFile(filepath.Join(cfg.UploadDir(), "payload.bin"), []byte("cargo"), 0o644); err != nil {
		t.Fatal(err)
	}
	status, headers, _ := roundTrip(t, srv.Addr(), "SMUGGLE /uploads/payload.bin HTTP/1.1\r\n\r\n")
	if status != 200 {
		t.Fatalf("smuggle status = %d", status)
	}
	bundleURL := headers["x-bundle-url"]
	bundlePath := filepath.Join(cfg.UploadDir(), strings.TrimPrefix(bundleURL, "/uploads/"))
	if _, err := os.Stat(bundlePath); err != nil {
		t.Fatalf("bundle missing before shutdown: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(bundlePath); !os.IsNotExist(err) {
		t.Error("unclaimed bundle survived shutdown")
	}
}
