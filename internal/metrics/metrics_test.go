package metrics

import (
	"strings"
	"sync"
	"testing"
)

func TestSnapshotCounts(t *testing.T) {
	c := NewCollector()

	c.ConnectionAccepted()
	c.ConnectionAccepted()
	c.RequestHandled("GET", 200)
	c.RequestHandled("POST", 201)
	c.RequestHandled("GET", 404)
	c.RequestHandled("FETCH", 500)

	snap := c.Snapshot()
	if snap.Connections != 2 {
		t.Errorf("Connections = %d, want 2", snap.Connections)
	}
	if snap.Requests != 4 {
		t.Errorf("Requests = %d, want 4", snap.Requests)
	}
	if snap.Errors != 2 {
		t.Errorf("Errors = %d, want 2", snap.Errors)
	}
}

func TestRenderExposition(t *testing.T) {
	c := NewCollector()
	c.ConnectionAccepted()
	c.RequestHandled("GET", 200)
	c.AuthFailure()
	c.Lockout()
	c.UploadedBytes(1024)
	c.ServedBytes(2048)

	body, err := c.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	text := string(body)

	for _, want := range []string{
		"stashd_connections_total 1",
		`stashd_requests_total{status="200",verb="GET"} 1`,
		"stashd_auth_failures_total 1",
		"stashd_auth_lockouts_total 1",
		"stashd_upload_bytes_total 1024",
		"stashd_served_bytes_total 2048",
	} {
		if !strings.Contains(text, want) {
			t.Errorf("exposition missing %q\n%s", want, text)
		}
	}
}

func TestNegativeBytesIgnored(t *testing.T) {
	c := NewCollector()
	c.UploadedBytes(-5)
	c.ServedBytes(0)

	body, err := c.Render()
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(string(body), "stashd_upload_bytes_total 0") {
		t.Errorf("negative add should be ignored\n%s", body)
	}
}

func TestConcurrentUpdates(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				c.ConnectionAccepted()
				c.RequestHandled("GET", 200)
			}
		}()
	}
	wg.Wait()

	snap := c.Snapshot()
	if snap.Connections != 800 || snap.Requests != 800 {
		t.Errorf("snapshot = %+v, want 800/800", snap)
	}
}
