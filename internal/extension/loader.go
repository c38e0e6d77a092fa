package extension

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sourcekit/internal/capability"
	"sourcekit/internal/domain"
	"sourcekit/internal/infra/tracer"
)

var wasmMagic = []byte{0x00, 0x61, 0x73, 0x6d}

// Config wires a Loader.
type Config struct {
	// Name identifies the owning backend in logs and events.
	Name        string
	Sources     domain.SourceProvider
	Host        *capability.Host
	Engines     []Engine
	// ExecTimeout bounds each invocation. Zero means unbounded.
	ExecTimeout time.Duration
	Bus         domain.EventBus
}

// Loader is the registry of loaded instances for one backend.
type Loader struct {
	name        string
	sources     domain.SourceProvider
	host        *capability.Host
	engines     map[domain.Engine]Engine
	execTimeout time.Duration
	bus         domain.EventBus
	logger      *slog.Logger

	group   singleflight.Group
	mu      sync.RWMutex
	workers map[string]*worker
}

// NewLoader creates a Loader.
func NewLoader(cfg Config, logger *slog.Logger) *Loader {
	engines := make(map[domain.Engine]Engine, len(cfg.Engines))
	for _, e := range cfg.Engines {
		engines[e.Name()] = e
	}
	name := cfg.Name
	if name == "" {
		name = "headless"
	}
	return &Loader{
		name:        name,
		sources:     cfg.Sources,
		host:        cfg.Host,
		engines:     engines,
		execTimeout: cfg.ExecTimeout,
		bus:         cfg.Bus,
		logger:      logger.With("backend", name),
		workers:     make(map[string]*worker),
	}
}

// IsLoaded reports whether id has a live instance.
func (l *Loader) IsLoaded(id string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	_, ok := l.workers[id]
	return ok
}

// Loaded returns the IDs of all live instances, sorted.
func (l *Loader) Loaded() []string {
	l.mu.RLock()
	ids := make([]string, 0, len(l.workers))
	for id := range l.workers {
		ids = append(ids, id)
	}
	l.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Load loads id from its installed source. Loading an already loaded
// extension succeeds immediately.
func (l *Loader) Load(ctx context.Context, id string) error {
	return l.LoadSource(ctx, id, nil)
}

// LoadSource loads id from source, or from the source provider when source is
// nil. Concurrent loads of one ID share a single instantiation, which runs
// detached from any one caller's cancellation; a caller whose ctx ends stops
// waiting without aborting the load for the others.
func (l *Loader) LoadSource(ctx context.Context, id string, source []byte) error {
	if l.IsLoaded(id) {
		return nil
	}
	shared := context.WithoutCancel(ctx)
	ch := l.group.DoChan(id, func() (any, error) {
		if l.IsLoaded(id) {
			return nil, nil
		}
		loadCtx := shared
		if l.execTimeout > 0 {
			var cancel context.CancelFunc
			loadCtx, cancel = context.WithTimeout(shared, l.execTimeout)
			defer cancel()
		}
		return nil, l.load(loadCtx, id, source)
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return domain.NewSubSystemError("extension", "Loader.Load", domain.ErrTimeout,
			fmt.Sprintf("%s: %v", id, ctx.Err()))
	}
}

func (l *Loader) load(ctx context.Context, id string, source []byte) (err error) {
	ctx, span := tracer.StartExtensionSpan(ctx, "extension.load", id, "")
	defer func() { tracer.End(span, err) }()

	start := time.Now()
	desc := domain.Descriptor{ID: id}
	if source == nil {
		if l.sources == nil {
			return l.fail(id, StageDownload, domain.NewDomainError("Loader.Load", domain.ErrSourceUnavailable, "no source provider"))
		}
		desc, source, err = l.sources.Source(ctx, id)
		if err != nil {
			return l.fail(id, StageDownload, err)
		}
	}

	engine, err := l.engineFor(desc, source)
	if err != nil {
		return l.fail(id, StageInstantiate, err)
	}

	session := l.host.NewSession(id)
	inst, err := engine.Instantiate(ctx, desc, source, session)
	if err != nil {
		return l.fail(id, stageOf(err), err)
	}

	w := newWorker(desc, inst, l.execTimeout, session.Logger())

	l.mu.Lock()
	// Double-check after instantiation in case a reset raced the load.
	if _, exists := l.workers[id]; exists {
		l.mu.Unlock()
		w.shutdown()
		return nil
	}
	l.workers[id] = w
	l.mu.Unlock()

	l.logger.Info("extension loaded",
		"extension", id,
		"engine", engine.Name(),
		"version", desc.Version,
		"duration", time.Since(start),
	)
	l.publish(domain.EventExtensionLoaded, domain.ExtensionEventPayload{ExtensionID: id, Backend: l.name})
	return nil
}

func (l *Loader) engineFor(desc domain.Descriptor, source []byte) (Engine, error) {
	kind := desc.Engine
	if kind == "" {
		kind = domain.EngineJS
		if bytes.HasPrefix(source, wasmMagic) {
			kind = domain.EngineWASM
		}
	}
	engine, ok := l.engines[kind]
	if !ok {
		return nil, domain.NewDomainError("Loader.Load", domain.ErrInvalidInput, fmt.Sprintf("no %s engine registered", kind))
	}
	return engine, nil
}

func (l *Loader) fail(id string, stage Stage, err error) error {
	lerr := &LoadError{ID: id, Stage: stage, Err: err}
	l.logger.Warn("extension load failed", "extension", id, "stage", stage, "error", err)
	l.publish(domain.EventExtensionLoadFailed, domain.ExtensionEventPayload{
		ExtensionID: id,
		Backend:     l.name,
		Stage:       string(stage),
		Error:       err.Error(),
	})
	return lerr
}

// Invoke calls method on the loaded instance of id.
func (l *Loader) Invoke(ctx context.Context, id, method string, args ...any) (result any, err error) {
	ctx, span := tracer.StartExtensionSpan(ctx, "extension.invoke", id, method)
	defer func() { tracer.End(span, err) }()

	l.mu.RLock()
	w, ok := l.workers[id]
	l.mu.RUnlock()
	if !ok {
		return nil, domain.NewSubSystemError("extension", "Loader.Invoke", domain.ErrNotLoaded, id)
	}
	if !w.inst.Has(method) {
		return nil, domain.NewSubSystemError("extension", "Loader.Invoke", domain.ErrMethodMissing, id+"."+method)
	}

	result, err = w.call(ctx, method, args)
	if err != nil {
		return nil, err
	}
	if method == domain.MethodChapterDetails {
		result = normalizeChapterDetails(id, result)
	}
	return result, nil
}

// Descriptor returns the descriptor a live instance was loaded from.
func (l *Loader) Descriptor(id string) (domain.Descriptor, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	w, ok := l.workers[id]
	if !ok {
		return domain.Descriptor{}, false
	}
	return w.desc, true
}

// Unload closes the instance of id. Unloading an unknown ID is a no-op.
func (l *Loader) Unload(id string) {
	l.mu.Lock()
	w, ok := l.workers[id]
	delete(l.workers, id)
	l.mu.Unlock()
	if !ok {
		return
	}
	w.shutdown()
	l.logger.Info("extension unloaded", "extension", id)
	l.publish(domain.EventExtensionUnloaded, domain.ExtensionEventPayload{ExtensionID: id, Backend: l.name})
}

// Reset closes every instance.
func (l *Loader) Reset() {
	l.mu.Lock()
	workers := l.workers
	l.workers = make(map[string]*worker)
	l.mu.Unlock()

	for id, w := range workers {
		w.shutdown()
		l.publish(domain.EventExtensionUnloaded, domain.ExtensionEventPayload{ExtensionID: id, Backend: l.name})
	}
	if len(workers) > 0 {
		l.logger.Info("extension registry reset", "closed", len(workers))
	}
}

func (l *Loader) publish(t domain.EventType, payload domain.ExtensionEventPayload) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(context.Background(), domain.NewEvent(t, payload.ExtensionID, payload))
}
