package discovery

import (
	"fmt"

	"github.com/grandcat/zeroconf"
	"github.com/quietlane/stashd/internal/logging"
	"github.com/quietlane/stashd/internal/version"
	"go.uber.org/zap"
)

const (
	// ServiceType is the mDNS service type the server announces as.
	ServiceType = "_http._tcp"

	// ServiceDomain is the mDNS domain (typically "local.")
	ServiceDomain = "local."
)

// Announcer publishes the server instance over mDNS until Shutdown.
type Announcer struct {
	server *zeroconf.Server
}

// Announce registers the service on all multicast-capable interfaces.
// Callers must not announce in covert mode; that check lives with the
// caller so this package stays a plain publisher.
func Announce(instance string, port int) (*Announcer, error) {
	txt := []string{"version=" + version.Version}

	server, err := zeroconf.Register(instance, ServiceType, ServiceDomain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}

	logging.Info("mDNS service announced",
		zap.String("instance", instance),
		zap.String("type", ServiceType),
		zap.Int("port", port),
	)

	return &Announcer{server: server}, nil
}

// Shutdown withdraws the announcement.
func (a *Announcer) Shutdown() {
	if a.server != nil {
		a.server.Shutdown()
		logging.Info("mDNS announcement withdrawn")
	}
}
