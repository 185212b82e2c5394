package server

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"fmt"
	"math/big"
	"net"
	"time"
)

// CertParams holds parameters for generating a self-signed certificate.
type CertParams struct {
	// CommonName is the CN field, normally the configured host.
	CommonName string
	// Organization is the O field.
	Organization string
	// SANs are the DNS Subject Alternative Names.
	SANs []string
	// ValidDays is certificate validity in days.
	ValidDays int
}

// DefaultCertParams returns the parameters used when the operator supplies
// no certificate of their own.
func DefaultCertParams(host string) CertParams {
	cn := host
	if cn == "" || cn == "0.0.0.0" {
		cn = "localhost"
	}
	sans := []string{cn}
	if cn != "localhost" {
		sans = append(sans, "localhost")
	}
	return CertParams{
		CommonName:   cn,
		Organization: "stashd",
		SANs:         sans,
		ValidDays:    365,
	}
}

// ServerCert is a generated certificate with its key, in both parsed and
// PEM form. It only ever lives in memory.
type ServerCert struct {
	CertPEM     []byte
	KeyPEM      []byte
	Certificate *x509.Certificate
	PrivateKey  *rsa.PrivateKey
}

// GenerateSelfSignedCert creates an RSA-2048 self-signed server
// certificate. The cert carries the host CN, DNS SANs and a loopback IP
// SAN so local testing works out of the box.
func GenerateSelfSignedCert(params CertParams) (*ServerCert, error) {
	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}

	serialNumber, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("failed to generate serial: %w", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.AddDate(0, 0, params.ValidDays)

	template := x509.Certificate{
		SerialNumber: serialNumber,
		Subject: pkix.Name{
			Organization: []string{params.Organization},
			CommonName:   params.CommonName,
		},
		NotBefore: notBefore,
		NotAfter:  notAfter,

		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},

		DNSNames:    params.SANs,
		IPAddresses: []net.IP{net.ParseIP("127.0.0.1")},

		BasicConstraintsValid: true,
		IsCA:                  false,
	}

	certDER, err := x509.CreateCertificate(rand.Reader, &template, &template, &privateKey.PublicKey, privateKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create certificate: %w", err)
	}

	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("failed to parse certificate: %w", err)
	}

	certPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "CERTIFICATE",
		Bytes: certDER,
	})
	keyPEM := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(privateKey),
	})

	return &ServerCert{
		CertPEM:     certPEM,
		KeyPEM:      keyPEM,
		Certificate: cert,
		PrivateKey:  privateKey,
	}, nil
}
