package server

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"github.com/quietlane/stashd/internal/auth"
	"github.com/quietlane/stashd/internal/config"
	"github.com/quietlane/stashd/internal/covert"
	"github.com/quietlane/stashd/internal/discovery"
	"github.com/quietlane/stashd/internal/logging"
	"github.com/quietlane/stashd/internal/metrics"
	"github.com/quietlane/stashd/internal/version"
	"github.com/quietlane/stashd/internal/wire"
	"go.uber.org/zap"
)

const (
	acceptWakeInterval = 500 * time.Millisecond
	shutdownGrace      = 10 * time.Second
)

// Server owns the listener, the bounded worker pool and every shared
// mutable structure the handlers touch. All of it is constructed here
// and injected; nothing is ambient global state.
type Server struct {
	cfg        *config.Config
	env        *Env
	dispatcher *Dispatcher
	guard      *auth.Guard
	metrics    *metrics.Collector
	buildOpts  wire.BuildOptions

	tlsConfig *tls.Config
	listener  net.Listener
	announcer *discovery.Announcer

	quit chan struct{}
	sem  chan struct{}
	wg   sync.WaitGroup
}

// New assembles a server from a validated configuration. credentials
// may be nil when authentication is disabled.
func New(cfg *config.Config, credentials map[string]string) (*Server, error) {
	if err := os.MkdirAll(cfg.UploadDir(), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	CleanupStaleBundles(cfg.UploadDir())

	collector := metrics.NewCollector()
	env := &Env{
		Root:      cfg.RootDir,
		UploadDir: cfg.UploadDir(),
		Covert:    cfg.CovertMode,
		Sandbox:   cfg.SandboxMode,
		MaxUpload: cfg.MaxUploadSize,
		Version:   version.Version,
		Metrics:   collector,
		Bundles:   NewBundleRegistry(),
	}

	var aliases *covert.Methods
	if cfg.CovertMode {
		var err error
		aliases, err = covert.GenerateMethods()
		if err != nil {
			return nil, fmt.Errorf("failed to generate covert methods: %w", err)
		}
		if err := aliases.Save(cfg.RootDir); err != nil {
			return nil, err
		}
		logging.Info("Covert alias table written",
			zap.String("file", covert.MethodsFile),
		)
	}

	var guard *auth.Guard
	if len(credentials) > 0 {
		authenticator, err := auth.NewAuthenticator(credentials)
		if err != nil {
			return nil, fmt.Errorf("failed to build authenticator: %w", err)
		}
		guard = auth.NewGuard(authenticator)
	}

	s := &Server{
		cfg:        cfg,
		env:        env,
		dispatcher: NewDispatcher(env, aliases),
		guard:      guard,
		metrics:    collector,
		buildOpts: wire.BuildOptions{
			ServerVersion:     version.Version,
			CORSOrigin:        cfg.CORSOrigin,
			AdvertisedMethods: advertisedMethods,
			ExposedHeaders:    "X-Request-Id, X-File-Name, X-File-Size, X-Upload-Status, X-Fetch-Status, X-Bundle-URL",
		},
		quit: make(chan struct{}),
		sem:  make(chan struct{}, cfg.MaxWorkers),
	}

	if cfg.TLS.Enabled {
		tlsConfig, err := s.buildTLS()
		if err != nil {
			return nil, err
		}
		s.tlsConfig = tlsConfig
	}

	return s, nil
}

func (s *Server) buildTLS() (*tls.Config, error) {
	if s.cfg.TLS.CertFile != "" {
		return NewTLSConfig(s.cfg.TLS.CertFile, s.cfg.TLS.KeyFile)
	}

	logging.Info("Generating self-signed certificate (in-memory)")
	cert, err := GenerateSelfSignedCert(DefaultCertParams(s.cfg.Host))
	if err != nil {
		return nil, fmt.Errorf("failed to generate certificate: %w", err)
	}
	logging.Info("Certificate generated",
		zap.String("cn", cert.Certificate.Subject.CommonName),
		zap.Time("not_after", cert.Certificate.NotAfter),
	)
	return NewTLSConfigFromMemory(cert.CertPEM, cert.KeyPEM)
}

// Addr returns the bound listen address, or empty before Start.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Start binds the listener and runs the accept loop until Shutdown. It
// blocks for the server's lifetime.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	logging.Info("Server listening",
		zap.String("addr", listener.Addr().String()),
		zap.Bool("tls", s.tlsConfig != nil),
		zap.Bool("covert", s.cfg.CovertMode),
		zap.Bool("sandbox", s.cfg.SandboxMode),
		zap.Int("max_workers", s.cfg.MaxWorkers),
	)
	if s.tlsConfig != nil {
		logging.Info("TLS policy", zap.Any("tls_info", GetTLSInfo(s.tlsConfig)))
	}

	// mDNS announcement never runs in covert mode.
	if s.cfg.Announce && !s.cfg.CovertMode {
		announcer, err := discovery.Announce("stashd", s.cfg.Port)
		if err != nil {
			logging.Warn("mDNS announce failed", zap.Error(err))
		} else {
			s.announcer = announcer
		}
	}

	return s.acceptLoop()
}

// acceptLoop admits connections into the bounded worker pool. The
// listener deadline makes Accept wake periodically so the shutdown flag
// is noticed promptly; saturation of the pool backs new connections up
// into the OS listen backlog.
func (s *Server) acceptLoop() error {
	tcpListener, _ := s.listener.(*net.TCPListener)
	for {
		select {
		case <-s.quit:
			return nil
		default:
		}

		if tcpListener != nil {
			_ = tcpListener.SetDeadline(time.Now().Add(acceptWakeInterval))
		}

		conn, err := s.listener.Accept()
		if err != nil {
			if isTimeout(err) {
				continue
			}
			select {
			case <-s.quit:
				return nil
			default:
			}
			logging.Error("Accept failed", zap.Error(err))
			continue
		}

		// Take a worker slot before spawning; blocks when the pool is
		// saturated, queueing peers at the listen backlog.
		select {
		case s.sem <- struct{}{}:
		case <-s.quit:
			_ = conn.Close()
			return nil
		}

		if s.tlsConfig != nil {
			conn = tls.Server(conn, s.tlsConfig)
		}

		s.wg.Add(1)
		go func(c net.Conn) {
			defer func() {
				<-s.sem
				s.wg.Done()
			}()
			s.handleConn(c)
		}(conn)
	}
}

// Shutdown stops admitting connections, waits out the grace period for
// in-flight workers, then forces the rest. Surviving one-shot bundles
// are removed.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down server")
	close(s.quit)

	if s.listener != nil {
		_ = s.listener.Close()
	}
	if s.announcer != nil {
		s.announcer.Shutdown()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logging.Info("All connections drained")
	case <-ctx.Done():
		logging.Warn("Shutdown cancelled, forcing close")
	case <-time.After(shutdownGrace):
		logging.Warn("Shutdown grace period elapsed, forcing close")
	}

	s.env.Bundles.RemoveAll()
	logging.Sync()
	return nil
}
