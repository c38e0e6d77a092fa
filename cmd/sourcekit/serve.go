package main

import (
	"context"
	"encoding/json"
	"time"

	"sourcekit/internal/domain"
)

// runServe keeps the runtime up until ctx ends: the bridge accepts clients,
// the scheduler runs its tasks and every event is logged.
func runServe(ctx context.Context, a *app) error {
	unsub := a.bus.SubscribeAll(func(_ context.Context, ev domain.Event) {
		a.log.Info("event", "type", string(ev.Type), "subject", ev.Subject, "payload", json.RawMessage(ev.Payload))
	})
	defer unsub()

	if err := a.scheduler.Start(ctx); err != nil {
		return err
	}
	defer a.scheduler.Stop()

	errCh := make(chan error, 1)
	if a.bridge != nil {
		go func() { errCh <- a.bridge.Start(ctx) }()
	}

	descs, _ := a.sources.Descriptors(ctx)
	a.log.Info("sourcekit starting",
		"extensions", len(descs),
		"repositories", len(a.registry.URLs()),
		"bridge", a.bridge != nil,
		"scheduler", a.cfg.Scheduler.Enabled,
	)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	if a.bridge != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.bridge.Stop(shutdownCtx); err != nil {
			a.log.Warn("bridge shutdown error", "error", err)
		}
	}
	a.log.Info("sourcekit stopped")
	return nil
}
