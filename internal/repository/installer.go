package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/mod/semver"

	"sourcekit/internal/adapter/httpclient"
	"sourcekit/internal/domain"
)

// Installer installs, updates and removes extensions from repositories.
type Installer struct {
	store    domain.DescriptorStore
	registry *Registry
	client   *httpclient.Client
	bus      domain.EventBus
	logger   *slog.Logger
}

// NewInstaller creates an installer persisting into store.
func NewInstaller(store domain.DescriptorStore, registry *Registry, client *httpclient.Client, bus domain.EventBus, logger *slog.Logger) *Installer {
	return &Installer{
		store:    store,
		registry: registry,
		client:   client,
		bus:      bus,
		logger:   logger,
	}
}

// Install downloads an extension by ID from the registry and stores its
// descriptor together with the source text.
func (i *Installer) Install(ctx context.Context, id string) (*domain.Descriptor, error) {
	if _, err := i.store.Get(ctx, id); err == nil {
		return nil, domain.NewSubSystemError("extension", "Installer.Install", domain.ErrDuplicate, id)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	entry, err := i.registry.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	d := entry.Descriptor()
	if err := i.download(ctx, &d); err != nil {
		return nil, err
	}
	if err := i.store.Save(ctx, &d); err != nil {
		return nil, fmt.Errorf("save descriptor: %w", err)
	}

	i.logger.Info("extension installed", "extension", d.ID, "version", d.Version, "repository", d.RepositoryURL)
	i.publish(ctx, domain.EventExtensionInstalled, d.ID)
	return &d, nil
}

// Update re-downloads an installed extension when its repository publishes a
// newer version. It reports whether anything changed.
func (i *Installer) Update(ctx context.Context, id string) (bool, error) {
	current, err := i.store.Get(ctx, id)
	if err != nil {
		return false, err
	}

	entry, err := i.registry.Get(ctx, id)
	if err != nil {
		return false, err
	}
	if !newer(entry.Version, current.Version) {
		return false, nil
	}

	d := entry.Descriptor()
	d.InstalledAt = current.InstalledAt
	if d.RepositoryURL == "" {
		d.RepositoryURL = current.RepositoryURL
	}
	if err := i.download(ctx, &d); err != nil {
		return false, err
	}
	if err := i.store.Save(ctx, &d); err != nil {
		return false, domain.WrapOp("Installer.Update", err)
	}

	i.logger.Info("extension updated", "extension", id, "from", current.Version, "to", d.Version)
	i.publish(ctx, domain.EventExtensionUpdated, id)
	return true, nil
}

// UpdateAll runs Update for every installed extension and returns the IDs
// that changed. Individual failures are logged.
func (i *Installer) UpdateAll(ctx context.Context) ([]string, error) {
	installed, err := i.store.List(ctx)
	if err != nil {
		return nil, err
	}
	var updated []string
	for _, d := range installed {
		if d.RepositoryURL == "" {
			continue
		}
		ok, err := i.Update(ctx, d.ID)
		if err != nil {
			i.logger.Warn("extension update failed", "extension", d.ID, "error", err)
			continue
		}
		if ok {
			updated = append(updated, d.ID)
		}
	}
	return updated, nil
}

// Remove deletes an installed extension and its state.
func (i *Installer) Remove(ctx context.Context, id string) error {
	if err := i.store.Delete(ctx, id); err != nil {
		return err
	}
	i.logger.Info("extension removed", "extension", id)
	i.publish(ctx, domain.EventExtensionRemoved, id)
	return nil
}

// Installed returns every installed descriptor.
func (i *Installer) Installed(ctx context.Context) ([]domain.Descriptor, error) {
	return i.store.List(ctx)
}

func (i *Installer) download(ctx context.Context, d *domain.Descriptor) error {
	if d.RepositoryURL == "" {
		return domain.NewSubSystemError("extension", "Installer.download", domain.ErrSourceUnavailable,
			fmt.Sprintf("extension %q has no repository", d.ID))
	}
	src, err := fetch(ctx, i.client, d.SourceURL(), domain.ErrSourceUnavailable)
	if err != nil {
		return fmt.Errorf("download %s: %w", d.ID, err)
	}
	d.Source = src
	return nil
}

func (i *Installer) publish(ctx context.Context, t domain.EventType, id string) {
	if i.bus == nil {
		return
	}
	i.bus.Publish(ctx, domain.NewEvent(t, id, domain.ExtensionEventPayload{ExtensionID: id}))
}

// newer reports whether version a is newer than b. Versions that are not
// valid semver compare as plain strings.
func newer(a, b string) bool {
	va, vb := canonical(a), canonical(b)
	if semver.IsValid(va) && semver.IsValid(vb) {
		return semver.Compare(va, vb) > 0
	}
	return a != b && a > b
}

func canonical(v string) string {
	v = strings.TrimSpace(v)
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
