package server

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/quietlane/stashd/internal/covert"
	"github.com/quietlane/stashd/internal/wire"
)

func testAliases() *covert.Methods {
	return &covert.Methods{
		Upload:   "SYNCDATA",
		Download: "QUERYITEM",
		List:     "CHECKSTATUS",
		Health:   "VERIFYRECORD",
	}
}

func TestDispatchStandardVerbs(t *testing.T) {
	env := newTestEnv(t, false, false)
	d := NewDispatcher(env, nil)

	// PING works without any filesystem setup; it proves the verb is
	// routed at all.
	for _, verb := range []string{"PING"} {
		resp := d.Dispatch(newRequest(verb, "/"))
		if resp.Status != wire.StatusOK {
			t.Errorf("%s status = %d, want 200", verb, resp.Status)
		}
	}

	// Upload aliases all land on the same handler.
	for _, verb := range []string{"POST", "PUT", "NONE"} {
		req := newRequest(verb, "/upload")
		req.Body = []byte("x")
		resp := d.Dispatch(req)
		if resp.Status != wire.StatusCreated {
			t.Errorf("%s status = %d, want 201", verb, resp.Status)
		}
	}
}

func TestDispatchUnknownVerbStandard(t *testing.T) {
	env := newTestEnv(t, false, false)
	d := NewDispatcher(env, nil)

	resp := d.Dispatch(newRequest("DELETE", "/index.html"))
	if resp.Status != wire.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.Status)
	}
	allow := resp.Header.Get("Allow")
	for _, verb := range []string{"GET", "FETCH", "INFO", "PING", "NONE", "OPTIONS"} {
		if !strings.Contains(allow, verb) {
			t.Errorf("Allow %q missing %s", allow, verb)
		}
	}
}

func TestDispatchCovertAliases(t *testing.T) {
	env := newTestEnv(t, true, false)
	aliases := testAliases()
	d := NewDispatcher(env, aliases)

	if err := os.WriteFile(filepath.Join(env.UploadDir, "doc.txt"), []byte("doc"), 0o644); err != nil {
		t.Fatal(err)
	}

	// Health alias.
	resp := d.Dispatch(newRequest(aliases.Health, "/"))
	if resp.Status != wire.StatusOK {
		t.Errorf("health alias status = %d, want 200", resp.Status)
	}

	// Download alias.
	resp = d.Dispatch(newRequest(aliases.Download, "/uploads/doc.txt"))
	if resp.Status != wire.StatusOK {
		t.Errorf("download alias status = %d, want 200", resp.Status)
	}

	// Upload alias with a raw body.
	req := newRequest(aliases.Upload, "/")
	req.Body = []byte("payload bytes")
	resp = d.Dispatch(req)
	if resp.Status != wire.StatusOK {
		t.Errorf("upload alias status = %d, want 200", resp.Status)
	}

	// List alias.
	resp = d.Dispatch(newRequest(aliases.List, "/uploads/doc.txt"))
	if resp.Status != wire.StatusOK {
		t.Errorf("list alias status = %d, want 200", resp.Status)
	}
}

func TestDispatchCovertStandardVerbsRefused(t *testing.T) {
	env := newTestEnv(t, true, false)
	if err := os.WriteFile(filepath.Join(env.Root, "index.html"), []byte("home"), 0o644); err != nil {
		t.Fatal(err)
	}
	d := NewDispatcher(env, testAliases())

	for _, verb := range []string{"GET", "POST", "PUT", "FETCH", "INFO", "PING", "OPTIONS", "DELETE"} {
		resp := d.Dispatch(newRequest(verb, "/index.html"))
		if resp.Status != wire.StatusNotFound {
			t.Errorf("covert %s status = %d, want 404", verb, resp.Status)
		}
	}
}

func TestCovertUnknownVerbMatchesMissingPath(t *testing.T) {
	env := newTestEnv(t, true, false)
	aliases := testAliases()
	d := NewDispatcher(env, aliases)

	unknownVerb := d.Dispatch(newRequest("GET", "/whatever"))
	missingPath := d.Dispatch(newRequest(aliases.Download, "/does-not-exist"))

	if unknownVerb.Status != missingPath.Status {
		t.Fatalf("status differs: %d vs %d", unknownVerb.Status, missingPath.Status)
	}
	if !bytes.Equal(unknownVerb.Body, missingPath.Body) {
		t.Errorf("bodies differ: %q vs %q", unknownVerb.Body, missingPath.Body)
	}
	if unknownVerb.Masked != missingPath.Masked {
		t.Error("masking differs between the two not-founds")
	}
}
