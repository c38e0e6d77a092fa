// Package wasm runs WebAssembly extensions on wazero.
//
// Guest ABI: the module exports memory, malloc(size) -> ptr and
// free(ptr, size). Each implemented contract method is exported under its
// contract name with signature (args_ptr, args_len) -> status, where the
// arguments are a JSON array and a nonzero status is a failure. The method
// reports its return value by calling the host's result(ptr, len) with JSON.
// _init and _close are called when exported.
package wasm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"sourcekit/internal/capability"
	"sourcekit/internal/domain"
	"sourcekit/internal/extension"
	guest "sourcekit/pkg/extsdk/wasm"
)

// Config holds configuration for the WASM engine.
type Config struct {
	// MaxMemoryPages is the maximum number of 64KB WASM memory pages.
	// Default 1024 = 64MB.
	MaxMemoryPages uint32
	// Capabilities granted to every WASM extension. Empty grants all.
	Capabilities   []string
}

// Engine instantiates WASM extensions. Each extension gets its own wazero
// runtime because the host module is bound to one session; compiled code is
// shared through a cache.
type Engine struct {
	config Config
	cache  wazero.CompilationCache
	logger *slog.Logger
}

var _ extension.Engine = (*Engine)(nil)

// NewEngine creates an Engine. The caller must call Close when done.
func NewEngine(cfg Config, logger *slog.Logger) (*Engine, error) {
	if cfg.MaxMemoryPages == 0 {
		cfg.MaxMemoryPages = 1024
	}
	if err := ValidateCapabilities(cfg.Capabilities); err != nil {
		return nil, err
	}

	logger.Info("wasm engine created",
		"max_memory_pages", cfg.MaxMemoryPages,
		"max_memory_mb", cfg.MaxMemoryPages*64/1024,
	)

	return &Engine{
		config: cfg,
		cache:  wazero.NewCompilationCache(),
		logger: logger,
	}, nil
}

// Name implements extension.Engine.
func (e *Engine) Name() domain.Engine { return domain.EngineWASM }

// Close releases the compilation cache.
func (e *Engine) Close(ctx context.Context) error {
	return e.cache.Close(ctx)
}

// Instantiate implements extension.Engine.
func (e *Engine) Instantiate(ctx context.Context, desc domain.Descriptor, source []byte, session *capability.Session) (_ extension.Instance, err error) {
	rtCfg := wazero.NewRuntimeConfig().
		WithCompilationCache(e.cache).
		WithCloseOnContextDone(true).
		WithMemoryLimitPages(e.config.MaxMemoryPages)
	rt := wazero.NewRuntimeWithConfig(ctx, rtCfg)
	defer func() {
		if err != nil {
			_ = rt.Close(context.Background())
		}
	}()

	compiled, err := rt.CompileModule(ctx, source)
	if err != nil {
		return nil, fmt.Errorf("%w: compile: %v", domain.ErrInvalidInput, err)
	}

	sandbox := NewSandbox(e.config.Capabilities)
	if err := sandbox.checkImports(compiled); err != nil {
		return nil, err
	}

	logger := session.Logger()
	env := &hostEnv{session: session, sandbox: sandbox, logger: logger}

	hostCompiled, err := registerHostFunctions(ctx, rt, env)
	if err != nil {
		return nil, err
	}
	if _, err := rt.InstantiateModule(ctx, hostCompiled, wazero.NewModuleConfig().WithName(HostModule)); err != nil {
		return nil, fmt.Errorf("%w: instantiate host module: %v", domain.ErrInvalidInput, err)
	}

	// Don't auto-call _start; _init is called explicitly.
	modCfg := wazero.NewModuleConfig().
		WithName(desc.ID).
		WithStartFunctions()

	mod, err := rt.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, fmt.Errorf("%w: instantiate guest: %v", domain.ErrInvalidInput, err)
	}

	if mod.Memory() == nil || mod.ExportedFunction(guest.ExportMalloc) == nil || mod.ExportedFunction(guest.ExportFree) == nil {
		return nil, fmt.Errorf("%w: module must export memory, malloc and free", domain.ErrInvalidInput)
	}

	methods := make(map[string]api.Function, len(domain.ContractMethods))
	for _, m := range domain.ContractMethods {
		if fn := mod.ExportedFunction(m); fn != nil {
			methods[m] = fn
		}
	}
	if len(methods) == 0 {
		return nil, fmt.Errorf("%w: module exports no contract methods", extension.ErrClassNotFound)
	}

	if initFn := mod.ExportedFunction(guest.ExportInit); initFn != nil {
		if _, err := initFn.Call(ctx); err != nil {
			return nil, fmt.Errorf("%w: _init: %v", domain.ErrInvocation, err)
		}
	}

	logger.Info("wasm extension instantiated", "methods", len(methods))

	return &instance{
		rt:      rt,
		mod:     mod,
		env:     env,
		methods: methods,
		logger:  logger,
	}, nil
}

// instance is one instantiated guest module.
type instance struct {
	rt      wazero.Runtime
	mod     api.Module
	env     *hostEnv
	methods map[string]api.Function
	logger  *slog.Logger
}

func (i *instance) Has(method string) bool {
	_, ok := i.methods[method]
	return ok
}

// Call implements extension.Instance. If ctx ends mid-call the module is
// closed and the instance unusable afterwards.
func (i *instance) Call(ctx context.Context, method string, args ...any) (any, error) {
	fn, ok := i.methods[method]
	if !ok {
		return nil, domain.NewSubSystemError("extension", "wasm.Call", domain.ErrMethodMissing, method)
	}
	if args == nil {
		args = []any{}
	}
	payload, err := json.Marshal(args)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal arguments: %v", domain.ErrInvalidInput, err)
	}

	ptr, size, err := guestMemory(i.mod).write(ctx, payload)
	if err != nil {
		return nil, i.callError(ctx, method, err)
	}
	defer guestMemory(i.mod).free(context.WithoutCancel(ctx), ptr, size)

	i.env.result = nil
	results, err := fn.Call(ctx, uint64(ptr), uint64(size))
	if err != nil {
		return nil, i.callError(ctx, method, err)
	}
	if len(results) > 0 && int32(results[0]) != guest.StatusOK {
		return nil, domain.NewSubSystemError("wasm", "wasm.Call", domain.ErrInvocation,
			fmt.Sprintf("%s returned status %d", method, int32(results[0])))
	}

	out := i.env.result
	i.env.result = nil
	if len(out) == 0 {
		return nil, nil
	}
	var value any
	if err := json.Unmarshal(out, &value); err != nil {
		return string(out), nil
	}
	return value, nil
}

func (i *instance) callError(ctx context.Context, method string, err error) error {
	if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
		return domain.NewSubSystemError("wasm", "wasm.Call", domain.ErrTimeout, method)
	}
	return domain.NewSubSystemError("wasm", "wasm.Call", domain.ErrInvocation, fmt.Sprintf("%s: %v", method, err))
}

// Close calls _close when exported and tears down the runtime.
func (i *instance) Close() error {
	if closeFn := i.mod.ExportedFunction(guest.ExportClose); closeFn != nil && !i.mod.IsClosed() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := closeFn.Call(ctx); err != nil {
			i.logger.Warn("wasm _close failed", "error", err)
		}
	}
	return i.rt.Close(context.Background())
}
