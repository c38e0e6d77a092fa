// Package dispatch is the single entry point callers use to run extension
// operations. Each call goes to the attached interactive backend when there
// is one and to the headless backend otherwise. Results are normalized and
// errors never escape: every operation returns an empty shape instead.
package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sourcekit/internal/adapter/httpclient"
	"sourcekit/internal/domain"
	"sourcekit/internal/infra/tracer"
)

// Default attachment waits.
const (
	DefaultAttachWait       = 2 * time.Second
	DefaultUrgentAttachWait = 250 * time.Millisecond
	DefaultMaxPages         = 50
	DefaultSearchWorkers    = 4
)

// Interactive is a backend that may attach at any time.
type Interactive interface {
	domain.Backend
	// WaitAttached blocks until the backend is available, d elapses or ctx ends.
	WaitAttached(ctx context.Context, d time.Duration) bool
}

// Catalog lists the extensions a multi-source search covers.
type Catalog interface {
	Descriptors(ctx context.Context) ([]domain.Descriptor, error)
}

// Config wires a Facade.
type Config struct {
	// Interactive is optional.
	Interactive Interactive
	Headless    domain.Backend
	Sources     domain.SourceProvider
	Catalog     Catalog
	// Images downloads pages directly when an extension has no fetchImage.
	Images      *httpclient.Client
	Bus         domain.EventBus

	AttachWait       time.Duration
	UrgentAttachWait time.Duration
	MaxPages         int
	SearchWorkers    int
}

// Facade dispatches extension operations to a backend.
type Facade struct {
	cfg    Config
	logger *slog.Logger
}

// New creates a Facade. Zero durations and limits take the package defaults.
func New(cfg Config, logger *slog.Logger) *Facade {
	if cfg.AttachWait <= 0 {
		cfg.AttachWait = DefaultAttachWait
	}
	if cfg.UrgentAttachWait <= 0 {
		cfg.UrgentAttachWait = DefaultUrgentAttachWait
	}
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if cfg.SearchWorkers <= 0 {
		cfg.SearchWorkers = DefaultSearchWorkers
	}
	if cfg.Images == nil {
		cfg.Images = httpclient.New(nil, httpclient.Config{}, logger)
	}
	return &Facade{cfg: cfg, logger: logger.With("component", "dispatch")}
}

// backend picks the interactive backend when it is, or becomes, available
// within the attachment wait. urgent selects the shorter wait.
func (f *Facade) backend(ctx context.Context, urgent bool) domain.Backend {
	in := f.cfg.Interactive
	if in == nil {
		return f.cfg.Headless
	}
	if in.Available() {
		return in
	}
	wait := f.cfg.AttachWait
	if urgent {
		wait = f.cfg.UrgentAttachWait
	}
	if in.WaitAttached(ctx, wait) {
		return in
	}
	return f.cfg.Headless
}

// invoke runs method on extension id and returns the raw result.
func (f *Facade) invoke(ctx context.Context, id, method string, urgent bool, args ...any) (result any, err error) {
	ctx, span := tracer.StartExtensionSpan(ctx, "dispatch."+method, id, method)
	defer func() { tracer.End(span, err) }()

	b := f.backend(ctx, urgent)
	if b != nil {
		span.SetAttributes(tracer.KeyBackend.String(b.Name()))
	}
	if b != f.cfg.Headless {
		result, err = f.invokeInteractive(ctx, b, id, method, args)
		if err == nil || !errors.Is(err, domain.ErrBridgeUnavailable) {
			return result, err
		}
		f.fallback(ctx, id, method, err)
	}
	if f.cfg.Headless == nil {
		return nil, domain.NewDomainError("Facade.invoke", domain.ErrBridgeUnavailable, "no headless backend")
	}
	return f.cfg.Headless.RunExtensionMethod(ctx, id, method, args...)
}

// invokeInteractive ensures id is loaded on b with its source text, then
// invokes. A failed load is reported as ErrBridgeUnavailable so the caller
// falls back to headless.
func (f *Facade) invokeInteractive(ctx context.Context, b domain.Backend, id, method string, args []any) (any, error) {
	if !b.IsLoaded(ctx, id) {
		if f.cfg.Sources == nil {
			return nil, domain.NewDomainError("Facade.invoke", domain.ErrBridgeUnavailable, "no source provider")
		}
		_, src, err := f.cfg.Sources.Source(ctx, id)
		if err != nil {
			return nil, err
		}
		if !b.LoadExtension(ctx, id, src) {
			return nil, domain.NewDomainError("Facade.invoke", domain.ErrBridgeUnavailable, "load "+id+" on "+b.Name()+" failed")
		}
	}
	return b.RunExtensionMethod(ctx, id, method, args...)
}

func (f *Facade) fallback(ctx context.Context, id, method string, err error) {
	f.logger.WarnContext(ctx, "interactive backend failed, falling back to headless",
		"extension", id, "method", method, "error", err)
	if f.cfg.Bus != nil {
		f.cfg.Bus.Publish(ctx, domain.NewEvent(domain.EventDispatchFallback, id,
			domain.ExtensionEventPayload{ExtensionID: id, Backend: f.cfg.Interactive.Name(), Error: err.Error()}))
	}
}

// report logs an operation failure. Missing advisory methods only mean the
// feature is absent.
func (f *Facade) report(id, method string, err error) {
	if err == nil {
		return
	}
	if domain.IsFeatureAbsent(err) && domain.IsAdvisoryMethod(method) {
		f.logger.Debug("extension feature absent", "extension", id, "method", method)
		return
	}
	f.logger.Error("extension operation failed",
		"extension", id,
		"method", method,
		"code", domain.ErrorCodeOf(err),
		"error", err,
	)
}

// call invokes and reports in one step.
func (f *Facade) call(ctx context.Context, id, method string, urgent bool, args ...any) (any, bool) {
	result, err := f.invoke(ctx, id, method, urgent, args...)
	if err != nil {
		f.report(id, method, err)
		return nil, false
	}
	return result, true
}
