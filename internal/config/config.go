package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Default limits. MaxUploadSize bounds what a single request body may carry;
// the receive loop enforces it from counted bytes, not the declared length.
const (
	DefaultPort          = 8080
	DefaultMaxUploadSize = 100 << 20 // 100 MiB
	DefaultMaxWorkers    = 10
)

// TLS holds the transport security settings. When Enabled is true and no
// cert/key pair is given, the server generates a self-signed certificate
// in memory at startup.
type TLS struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file,omitempty"`
	KeyFile  string `yaml:"key_file,omitempty"`
}

// Config is the immutable server configuration. It is built once at startup
// (file values overridden by CLI flags) and handed by value to every handler
// constructor; nothing mutates it afterwards.
type Config struct {
	Host          string `yaml:"host"`
	Port          int    `yaml:"port"`
	RootDir       string `yaml:"root_dir"`
	CovertMode    bool   `yaml:"covert_mode"`
	SandboxMode   bool   `yaml:"sandbox_mode"`
	MaxUploadSize int64  `yaml:"max_upload_size"`
	MaxWorkers    int    `yaml:"max_workers"`
	TLS           TLS    `yaml:"tls"`

	// Auth is "user:password", "random", or a bare username (random
	// password generated and printed at startup). Empty disables auth.
	Auth string `yaml:"auth,omitempty"`

	CORSOrigin string `yaml:"cors_origin"`
	LogLevel   string `yaml:"log_level"`

	// Announce publishes the server over mDNS. Ignored in covert mode.
	Announce bool `yaml:"announce"`
}

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Host:          "127.0.0.1",
		Port:          DefaultPort,
		RootDir:       ".",
		MaxUploadSize: DefaultMaxUploadSize,
		MaxWorkers:    DefaultMaxWorkers,
		CORSOrigin:    "*",
		LogLevel:      "info",
	}
}

// Load reads a YAML config file over the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration and resolves RootDir to an absolute
// path, which later serves as the containment root for all file access.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("max_upload_size must be positive, got %d", c.MaxUploadSize)
	}
	if c.MaxWorkers <= 0 {
		return fmt.Errorf("max_workers must be positive, got %d", c.MaxWorkers)
	}

	root, err := filepath.Abs(c.RootDir)
	if err != nil {
		return fmt.Errorf("cannot resolve root dir %q: %w", c.RootDir, err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("root dir %q: %w", c.RootDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("root dir %q is not a directory", c.RootDir)
	}
	c.RootDir = root

	if (c.TLS.CertFile == "") != (c.TLS.KeyFile == "") {
		return fmt.Errorf("tls cert_file and key_file must be provided together")
	}

	return nil
}

// UploadDir returns the directory uploads are written to.
func (c *Config) UploadDir() string {
	return filepath.Join(c.RootDir, "uploads")
}
