package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"sourcekit/internal/adapter/httpclient"
	"sourcekit/internal/adapter/sqlite"
	"sourcekit/internal/backend/bridge"
	"sourcekit/internal/backend/headless"
	"sourcekit/internal/capability"
	"sourcekit/internal/dispatch"
	"sourcekit/internal/domain"
	"sourcekit/internal/extension"
	"sourcekit/internal/extension/jsengine"
	"sourcekit/internal/extension/wasm"
	"sourcekit/internal/imaging"
	"sourcekit/internal/infra/config"
	"sourcekit/internal/repository"
	"sourcekit/internal/security"
	"sourcekit/internal/usecase/eventbus"
	"sourcekit/internal/usecase/scheduling"
)

// app holds the wired runtime.
type app struct {
	cfg       *config.Config
	log       *slog.Logger
	bus       *eventbus.Bus
	db        *sqlite.DB
	client    *httpclient.Client
	registry  *repository.Registry
	installer *repository.Installer
	sources   *repository.Sources
	headless  *headless.Backend
	bridge    *bridge.Bridge // nil unless bridge.enabled
	facade    *dispatch.Facade
	scheduler *scheduling.Scheduler
}

// newApp wires every component from cfg. The returned cleanup releases them
// in reverse order.
func newApp(ctx context.Context, cfg *config.Config, log *slog.Logger) (*app, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*app, func(), error) {
		cleanup()
		return nil, nil, err
	}

	// 1. Event bus
	bus := eventbus.New(log)
	cleanups = append(cleanups, bus.Close)

	// 2. Storage
	db, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return fail(fmt.Errorf("storage: %w", err))
	}
	cleanups = append(cleanups, func() { db.Close() })

	// 3. Keychain encryption
	var keychain *security.Keychain
	if pass := os.Getenv(cfg.Storage.KeychainKeyEnv); cfg.Storage.KeychainKeyEnv != "" && pass != "" {
		salt, err := db.KeychainSalt(ctx)
		if err != nil {
			return fail(fmt.Errorf("keychain: %w", err))
		}
		keychain, err = security.NewKeychain(pass, salt)
		if err != nil {
			return fail(fmt.Errorf("keychain: %w", err))
		}
		cleanups = append(cleanups, keychain.Zeroize)
	} else {
		log.Warn("keychain passphrase not set, keychain values are stored unencrypted", "env", cfg.Storage.KeychainKeyEnv)
	}

	// 4. Outbound HTTP
	client := httpclient.New(&http.Client{
		Timeout:   cfg.Network.RequestTimeout,
		Transport: security.NewTransport(cfg.Network.BlockPrivate),
	}, httpclient.Config{
		UserAgent:    cfg.Network.UserAgent,
		MaxBodyBytes: cfg.Network.MaxBodyBytes,
		MaxFailures:  cfg.Network.BreakerMaxFailures,
		Timeout:      cfg.Network.BreakerTimeout,
	}, log)

	// 5. Repositories and sources
	store := db.Extensions()
	registry := repository.NewRegistry(repository.RegistryConfig{
		URLs:     cfg.Repositories.URLs,
		CacheDir: cfg.Repositories.CacheDir,
		CacheTTL: cfg.Repositories.CacheTTL,
		Bus:      bus,
	}, client, log)
	installer := repository.NewInstaller(store, registry, client, bus, log)
	sources := repository.NewSources(store, client, cfg.Repositories.LocalDirs, log)
	if err := sources.Rescan(); err != nil {
		log.Warn("local extension scan failed", "error", err)
	}

	// 6. Engines and headless backend
	host := capability.NewHost(client, db.State(), keychain, capability.HostOptions{
		DefaultRequestsPerSecond: cfg.Network.DefaultRPS,
		RequestTimeout:           cfg.Network.RequestTimeout,
		Encoder:                  imaging.Encoder{JPEGQuality: cfg.Imaging.JPEGQuality, MaxPixels: cfg.Imaging.MaxPixels},
	}, log)
	wasmEngine, err := wasm.NewEngine(wasm.Config{
		MaxMemoryPages: cfg.Runtime.WASMMaxMemoryPages,
		Capabilities:   cfg.Runtime.WASMCapabilities,
	}, log)
	if err != nil {
		return fail(fmt.Errorf("wasm engine: %w", err))
	}
	cleanups = append(cleanups, func() { wasmEngine.Close(context.Background()) })

	loader := extension.NewLoader(extension.Config{
		Name:        headless.Name,
		Sources:     sources,
		Host:        host,
		Engines:     []extension.Engine{jsengine.New(log), wasmEngine},
		ExecTimeout: cfg.Runtime.ExecTimeout,
		Bus:         bus,
	}, log)
	hl := headless.New(loader, log)
	cleanups = append(cleanups, hl.Reset)

	// 7. Interactive bridge
	var interactive dispatch.Interactive
	var br *bridge.Bridge
	if cfg.Bridge.Enabled {
		br = newBridge(cfg, bus, log)
		registerBridgeHandlers(br, sources, registry)
		interactive = br
	}

	// 8. Dispatch facade
	facade := dispatch.New(dispatch.Config{
		Interactive:      interactive,
		Headless:         hl,
		Sources:          sources,
		Catalog:          sources,
		Images:           client,
		Bus:              bus,
		AttachWait:       cfg.Bridge.AttachWait,
		UrgentAttachWait: cfg.Bridge.UrgentAttachWait,
		MaxPages:         cfg.Dispatch.MaxPages,
		SearchWorkers:    cfg.Dispatch.SearchConcurrency,
	}, log)

	// 9. Scheduler
	scheduler := scheduling.NewScheduler(bus, log)
	scheduler.RegisterAction(scheduling.ActionRefreshSources, scheduling.RefreshSources(installer, sources, log))
	scheduler.RegisterAction(scheduling.ActionResetHeadless, scheduling.ResetHeadless(hl))
	if cfg.Scheduler.Enabled {
		for _, t := range cfg.Scheduler.Tasks {
			if err := scheduler.AddTask(scheduling.ScheduledTask{
				Name:     t.Name,
				Schedule: t.Schedule,
				Action:   scheduling.ScheduledAction(t.Action),
				OneShot:  t.OneShot,
			}); err != nil {
				return fail(fmt.Errorf("scheduler: %w", err))
			}
		}
	}

	return &app{
		cfg:       cfg,
		log:       log,
		bus:       bus,
		db:        db,
		client:    client,
		registry:  registry,
		installer: installer,
		sources:   sources,
		headless:  hl,
		bridge:    br,
		facade:    facade,
		scheduler: scheduler,
	}, cleanup, nil
}

func newBridge(cfg *config.Config, bus domain.EventBus, log *slog.Logger) *bridge.Bridge {
	var auth bridge.Authenticator
	if cfg.Bridge.Auth.Type == "static" {
		entries := make([]bridge.TokenEntry, len(cfg.Bridge.Auth.Tokens))
		for i, t := range cfg.Bridge.Auth.Tokens {
			entries[i] = bridge.TokenEntry{Token: t.Token, Name: t.Name}
		}
		auth = bridge.NewStaticTokenAuth(entries)
	}
	var mdnsName string
	if cfg.Bridge.MDNS {
		mdnsName = cfg.Bridge.MDNSName
	}
	return bridge.New(bridge.Config{
		Addr:            cfg.Bridge.Addr,
		Path:            cfg.Bridge.Path,
		Auth:            auth,
		Bus:             bus,
		MaxMessageBytes: cfg.Bridge.MaxMessageBytes,
		MDNSName:        mdnsName,
	}, log)
}

// registerBridgeHandlers exposes catalogue queries to the attached client so
// it can offer the same extensions the runtime knows about.
func registerBridgeHandlers(br *bridge.Bridge, sources *repository.Sources, registry *repository.Registry) {
	br.RegisterHandler("installed", func(ctx context.Context, _ *bridge.ClientInfo, _ json.RawMessage) (json.RawMessage, error) {
		descs, err := sources.Descriptors(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(descs)
	})
	br.RegisterHandler("repositorySearch", func(ctx context.Context, _ *bridge.ClientInfo, payload json.RawMessage) (json.RawMessage, error) {
		var req struct {
			Query string `json:"query"`
		}
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &req); err != nil {
				return nil, domain.NewDomainError("bridge.repositorySearch", domain.ErrRPCInvalidPayload, err.Error())
			}
		}
		entries, err := registry.Search(ctx, req.Query)
		if err != nil {
			return nil, err
		}
		return json.Marshal(entries)
	})
}
