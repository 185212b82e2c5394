package server

import (
	"crypto/tls"
	"fmt"

	"github.com/quietlane/stashd/internal/logging"
	"go.uber.org/zap"
)

// NewTLSConfig creates a TLS configuration from a certificate/key pair
// on disk.
func NewTLSConfig(certPath, keyPath string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate: %w", err)
	}

	logging.Info("TLS configuration created from files",
		zap.String("cert", certPath),
		zap.String("key", keyPath),
	)

	return buildTLSConfig(cert), nil
}

// NewTLSConfigFromMemory creates a TLS configuration from PEM data. Used
// with auto-generated certificates that never touch disk.
func NewTLSConfigFromMemory(certPEM, keyPEM []byte) (*tls.Config, error) {
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	if err != nil {
		return nil, fmt.Errorf("failed to load TLS certificate from memory: %w", err)
	}

	logging.Info("TLS configuration created from in-memory certificate",
		zap.String("source", "auto-generated"),
	)

	return buildTLSConfig(cert), nil
}

// buildTLSConfig applies the transport policy: TLS 1.2 minimum, ECDHE
// key exchange with AEAD ciphers only. TLS 1.3 suites are not listed
// because Go does not allow configuring them; 1.3 connections always
// get AEAD suites.
func buildTLSConfig(cert tls.Certificate) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		MinVersion:   tls.VersionTLS12,
		CipherSuites: []uint16{
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// GetTLSInfo returns human-readable TLS configuration information for
// the startup log line.
func GetTLSInfo(config *tls.Config) map[string]interface{} {
	cipherNames := make([]string, 0, len(config.CipherSuites))
	for _, id := range config.CipherSuites {
		cipherNames = append(cipherNames, tls.CipherSuiteName(id))
	}
	return map[string]interface{}{
		"min_version":   "TLS 1.2",
		"cipher_suites": cipherNames,
		"num_certs":     len(config.Certificates),
	}
}
