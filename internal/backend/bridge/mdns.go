//go:build mdns

package bridge

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/grandcat/zeroconf"
)

const (
	mdnsServiceType = "_sourcekit._tcp"
	mdnsDomain      = "local."
)

// advertise registers the bridge on the local network. Blocks until ctx is
// cancelled.
func advertise(ctx context.Context, name string, port int, path string, logger *slog.Logger) error {
	server, err := zeroconf.Register(name, mdnsServiceType, mdnsDomain, port, []string{"path=" + path}, nil)
	if err != nil {
		return fmt.Errorf("mdns register: %w", err)
	}

	logger.Info("mdns advertising", "name", name, "port", port)
	<-ctx.Done()
	server.Shutdown()
	return nil
}
