//go:build !mdns

package bridge

import (
	"context"
	"log/slog"
)

func advertise(_ context.Context, name string, _ int, _ string, logger *slog.Logger) error {
	logger.Debug("mdns support not compiled in; build with -tags mdns", "name", name)
	return nil
}
