package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/quietlane/stashd/internal/auth"
	"github.com/quietlane/stashd/internal/config"
	"github.com/quietlane/stashd/internal/logging"
	"github.com/quietlane/stashd/internal/server"
	"github.com/quietlane/stashd/internal/version"
)

// Serve command and flags
var (
	configPath    string
	host          string
	port          int
	rootDir       string
	covertMode    bool
	sandboxMode   bool
	maxUploadSize int64
	maxWorkers    int
	tlsEnabled    bool
	certPath      string
	keyPath       string
	authSpec      string
	corsOrigin    string
	logLevel      string
	announce      bool
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the server",
	Long: `Start the stashd server.

Configuration is read from the optional YAML file given with --config;
any flag set on the command line overrides the file value. With --tls
and no certificate pair, a self-signed certificate is generated in
memory at startup.

Credentials for --auth take three forms: 'user:password' uses the pair
as given, 'random' generates and prints both, and a bare username
generates and prints a random password for it.`,
	Example: `  # Serve the current directory on the default port
  stashd serve

  # Serve a directory over TLS with generated credentials
  stashd serve --root /srv/files --tls --auth random

  # Covert mode: randomized verbs, masked headers
  stashd serve --root /srv/files --covert

  # Sandbox mode confined to uploads/, config file with flag overrides
  stashd serve --config stashd.yaml --sandbox --port 9000`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "Path to YAML config file (optional)")
	serveCmd.Flags().StringVar(&host, "host", "127.0.0.1", "Address to listen on")
	serveCmd.Flags().IntVar(&port, "port", config.DefaultPort, "Port to listen on")
	serveCmd.Flags().StringVar(&rootDir, "root", ".", "Directory to serve")
	serveCmd.Flags().BoolVar(&covertMode, "covert", false, "Covert mode: randomized verbs, masked headers")
	serveCmd.Flags().BoolVar(&sandboxMode, "sandbox", false, "Confine file operations to the upload directory")
	serveCmd.Flags().Int64Var(&maxUploadSize, "max-upload", config.DefaultMaxUploadSize, "Maximum upload size in bytes")
	serveCmd.Flags().IntVar(&maxWorkers, "max-workers", config.DefaultMaxWorkers, "Maximum concurrent connections")
	serveCmd.Flags().BoolVar(&tlsEnabled, "tls", false, "Enable TLS (self-signed cert generated if none given)")
	serveCmd.Flags().StringVar(&certPath, "cert", "", "Path to TLS certificate file")
	serveCmd.Flags().StringVar(&keyPath, "key", "", "Path to TLS private key file")
	serveCmd.Flags().StringVar(&authSpec, "auth", "", "Basic auth: 'user:pass', 'random', or a username")
	serveCmd.Flags().StringVar(&corsOrigin, "cors-origin", "*", "Access-Control-Allow-Origin value")
	serveCmd.Flags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&announce, "announce", false, "Announce the server over mDNS (standard mode only)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := buildConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	level := cfg.LogLevel
	if cfg.CovertMode && !cmd.Flags().Changed("log-level") {
		// Covert deployments log quietly unless asked otherwise.
		level = "warn"
	}
	if err := logging.Initialize(level); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}

	credentials, err := resolveCredentials(cfg.Auth)
	if err != nil {
		return err
	}

	srv, err := server.New(cfg, credentials)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	errChan := make(chan error, 1)
	go func() {
		errChan <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case <-sigChan:
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(ctx)
	case err := <-errChan:
		return err
	}
}

// buildConfig loads the optional config file, then lays changed flags
// over it. Flags always win.
func buildConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg := config.Default()
	if configPath != "" {
		loaded, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Host = host
	}
	if flags.Changed("port") {
		cfg.Port = port
	}
	if flags.Changed("root") {
		cfg.RootDir = rootDir
	}
	if flags.Changed("covert") {
		cfg.CovertMode = covertMode
	}
	if flags.Changed("sandbox") {
		cfg.SandboxMode = sandboxMode
	}
	if flags.Changed("max-upload") {
		cfg.MaxUploadSize = maxUploadSize
	}
	if flags.Changed("max-workers") {
		cfg.MaxWorkers = maxWorkers
	}
	if flags.Changed("tls") {
		cfg.TLS.Enabled = tlsEnabled
	}
	if flags.Changed("cert") {
		cfg.TLS.CertFile = certPath
		cfg.TLS.Enabled = true
	}
	if flags.Changed("key") {
		cfg.TLS.KeyFile = keyPath
		cfg.TLS.Enabled = true
	}
	if flags.Changed("auth") {
		cfg.Auth = authSpec
	}
	if flags.Changed("cors-origin") {
		cfg.CORSOrigin = corsOrigin
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if flags.Changed("announce") {
		cfg.Announce = announce
	}
	return cfg, nil
}

// resolveCredentials expands the auth spec into a credential map,
// printing any generated values so the operator can hand them out.
func resolveCredentials(spec string) (map[string]string, error) {
	switch {
	case spec == "":
		return nil, nil
	case spec == "random":
		user, pass, err := auth.GenerateCredentials()
		if err != nil {
			return nil, fmt.Errorf("failed to generate credentials: %w", err)
		}
		fmt.Println("\n[AUTH] Generated credentials:")
		fmt.Printf("  Username: %s\n", user)
		fmt.Printf("  Password: %s\n", pass)
		return map[string]string{user: pass}, nil
	case strings.Contains(spec, ":"):
		user, pass, _ := strings.Cut(spec, ":")
		if user == "" {
			return nil, fmt.Errorf("empty username in --auth")
		}
		return map[string]string{user: pass}, nil
	default:
		pass, err := auth.GeneratePassword()
		if err != nil {
			return nil, fmt.Errorf("failed to generate password: %w", err)
		}
		fmt.Printf("\n[AUTH] Generated password for '%s': %s\n", spec, pass)
		return map[string]string{spec: pass}, nil
	}
}

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("stashd %s (commit: %s)\n", version.Version, version.Commit)
	},
}
