package server

import (
	"crypto/tls"
	"crypto/x509"
	"strings"
	"testing"
	"time"
)

func TestDefaultCertParams(t *testing.T) {
	tests := []struct {
		host    string
		wantCN  string
		wantSAN []string
	}{
		{"", "localhost", []string{"localhost"}},
		{"0.0.0.0", "localhost", []string{"localhost"}},
		{"files.example.com", "files.example.com", []string{"files.example.com", "localhost"}},
	}
	for _, tt := range tests {
		p := DefaultCertParams(tt.host)
		if p.CommonName != tt.wantCN {
			t.Errorf("host %q: CN = %q, want %q", tt.host, p.CommonName, tt.wantCN)
		}
		if len(p.SANs) != len(tt.wantSAN) {
			t.Errorf("host %q: SANs = %v, want %v", tt.host, p.SANs, tt.wantSAN)
			continue
		}
		for i := range p.SANs {
			if p.SANs[i] != tt.wantSAN[i] {
				t.Errorf("host %q: SANs = %v, want %v", tt.host, p.SANs, tt.wantSAN)
			}
		}
		if p.ValidDays != 365 {
			t.Errorf("host %q: ValidDays = %d", tt.host, p.ValidDays)
		}
	}
}

func TestGenerateSelfSignedCert(t *testing.T) {
	sc, err := GenerateSelfSignedCert(DefaultCertParams("files.example.com"))
	if err != nil {
		t.Fatal(err)
	}

	cert := sc.Certificate
	if cert.Subject.CommonName != "files.example.com" {
		t.Errorf("CN = %q", cert.Subject.CommonName)
	}
	if len(cert.Subject.Organization) != 1 || cert.Subject.Organization[0] != "stashd" {
		t.Errorf("O = %v", cert.Subject.Organization)
	}
	if err := cert.VerifyHostname("files.example.com"); err != nil {
		t.Errorf("hostname verify failed: %v", err)
	}
	if err := cert.VerifyHostname("localhost"); err != nil {
		t.Errorf("localhost SAN missing: %v", err)
	}
	if err := cert.VerifyHostname("127.0.0.1"); err != nil {
		t.Errorf("loopback IP SAN missing: %v", err)
	}
	if cert.IsCA {
		t.Error("server cert marked as CA")
	}
	if cert.KeyUsage&x509.KeyUsageDigitalSignature == 0 {
		t.Error("missing digital signature key usage")
	}

	wantExpiry := time.Now().AddDate(0, 0, 365)
	if cert.NotAfter.Before(wantExpiry.Add(-time.Hour)) || cert.NotAfter.After(wantExpiry.Add(time.Hour)) {
		t.Errorf("NotAfter = %v, want ~%v", cert.NotAfter, wantExpiry)
	}

	// The PEM pair must load as a usable key pair.
	if _, err := tls.X509KeyPair(sc.CertPEM, sc.KeyPEM); err != nil {
		t.Errorf("PEM pair does not load: %v", err)
	}
}

func TestTLSConfigFromMemory(t *testing.T) {
	sc, err := GenerateSelfSignedCert(DefaultCertParams("localhost"))
	if err != nil {
		t.Fatal(err)
	}
	cfg, err := NewTLSConfigFromMemory(sc.CertPEM, sc.KeyPEM)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.MinVersion != tls.VersionTLS12 {
		t.Errorf("MinVersion = %x", cfg.MinVersion)
	}
	if len(cfg.CipherSuites) != 6 {
		t.Errorf("got %d cipher suites, want 6", len(cfg.CipherSuites))
	}
	for _, id := range cfg.CipherSuites {
		name := tls.CipherSuiteName(id)
		if !strings.Contains(name, "ECDHE") {
			t.Errorf("non-ECDHE suite configured: %s", name)
		}
	}
}

func TestTLSConfigFromBadPEM(t *testing.T) {
	if _, err := NewTLSConfigFromMemory([]byte("garbage"), []byte("garbage")); err == nil {
		t.Error("bad PEM accepted")
	}
}
