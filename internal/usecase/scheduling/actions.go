package scheduling

import (
	"context"
	"log/slog"
)

// SourceUpdater updates installed extensions from their repositories.
type SourceUpdater interface {
	UpdateAll(ctx context.Context) ([]string, error)
}

// SourceCache drops cached extension sources.
type SourceCache interface {
	Refresh(ctx context.Context) (int, error)
}

// Resetter unloads every extension of a backend.
type Resetter interface {
	Reset()
}

// RefreshSources returns the refresh_sources action. Updates run first so
// the refreshed cache is repopulated with the new versions on next use.
func RefreshSources(updater SourceUpdater, cache SourceCache, logger *slog.Logger) func(context.Context) error {
	return func(ctx context.Context) error {
		if updater != nil {
			updated, err := updater.UpdateAll(ctx)
			if err != nil {
				return err
			}
			if len(updated) > 0 {
				logger.Info("extensions updated", "ids", updated)
			}
		}
		if cache == nil {
			return nil
		}
		n, err := cache.Refresh(ctx)
		if err != nil {
			return err
		}
		logger.Debug("source cache cleared", "count", n)
		return nil
	}
}

// ResetHeadless returns the reset_headless action.
func ResetHeadless(r Resetter) func(context.Context) error {
	return func(context.Context) error {
		r.Reset()
		return nil
	}
}
