// Package jsengine runs JavaScript extensions on goja. Every extension gets
// its own runtime whose globals are limited to the App capability object, the
// shared enumerations and console.
package jsengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/dop251/goja"

	"sourcekit/internal/capability"
	"sourcekit/internal/domain"
	"sourcekit/internal/extension"
)

// loaderGlobals are installed only while the source script runs.
var loaderGlobals = []string{"exports", "module", "Sources"}

// Engine instantiates JavaScript extensions.
type Engine struct {
	logger *slog.Logger
}

var _ extension.Engine = (*Engine)(nil)

// New creates an Engine.
func New(logger *slog.Logger) *Engine {
	return &Engine{logger: logger}
}

// Name implements extension.Engine.
func (e *Engine) Name() domain.Engine { return domain.EngineJS }

// Instantiate runs source in a fresh runtime, resolves the extension class
// and constructs it.
func (e *Engine) Instantiate(ctx context.Context, desc domain.Descriptor, source []byte, session *capability.Session) (inst extension.Instance, err error) {
	e.logger.Debug("instantiating js extension", "extension", desc.ID, "bytes", len(source))
	vm := goja.New()
	rt := &runtime{vm: vm, ctx: ctx}
	b := &binder{vm: vm, session: session, ctx: rt.context}
	if err := b.install(); err != nil {
		return nil, fmt.Errorf("install bindings: %w", err)
	}

	exports, err := rt.evaluate(ctx, desc.ID, source)
	if err != nil {
		return nil, err
	}

	class, name, err := resolveClass(exports, desc.ID)
	if err != nil {
		return nil, err
	}

	var obj *goja.Object
	err = rt.guard(ctx, func() error {
		var cerr error
		obj, cerr = class(nil)
		return cerr
	})
	if err != nil {
		return nil, fmt.Errorf("construct %s: %w", name, err)
	}

	methods := make(map[string]bool, len(domain.ContractMethods))
	for _, m := range domain.ContractMethods {
		if _, ok := goja.AssertFunction(obj.Get(m)); ok {
			methods[m] = true
		}
	}
	session.Logger().Debug("extension class resolved", "class", name, "methods", len(methods))
	return &instance{rt: rt, obj: obj, methods: methods}, nil
}

// runtime serializes access to one goja runtime and tracks the context of
// the call in progress so host functions can observe it.
type runtime struct {
	mu  sync.Mutex
	vm  *goja.Runtime
	ctx context.Context
}

func (r *runtime) context() context.Context {
	if r.ctx == nil {
		return context.Background()
	}
	return r.ctx
}

// guard runs fn with ctx installed, interrupting the runtime when ctx ends
// and converting panics into errors.
func (r *runtime) guard(ctx context.Context, fn func() error) (err error) {
	r.ctx = ctx
	stop := context.AfterFunc(ctx, func() { r.vm.Interrupt(ctx.Err()) })
	defer func() {
		stop()
		r.vm.ClearInterrupt()
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()
	err = fn()
	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return fmt.Errorf("%w: %w", domain.ErrTimeout, cause)
		}
		return fmt.Errorf("%w: interrupted", domain.ErrTimeout)
	}
	return err
}

// evaluate runs the extension source with the loader globals bound and
// returns the merged export namespace. The loader globals are restored to
// their previous values afterwards, whatever happens.
func (r *runtime) evaluate(ctx context.Context, id string, source []byte) (*goja.Object, error) {
	vm := r.vm
	exports := vm.NewObject()
	module := vm.NewObject()
	_ = module.Set("exports", exports)

	scope := bindScoped(vm, map[string]goja.Value{
		"exports": exports,
		"module":  module,
		"Sources": vm.NewObject(),
	})
	defer scope.restore()

	err := r.guard(ctx, func() error {
		_, err := vm.RunScript(id+".js", string(source))
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("evaluate source: %w", err)
	}

	merged := vm.NewObject()
	for _, name := range []string{"Sources", "exports"} {
		copyKeys(merged, vm.Get(name))
	}
	copyKeys(merged, module.Get("exports"))
	return merged, nil
}

func copyKeys(dst *goja.Object, v goja.Value) {
	src, ok := v.(*goja.Object)
	if !ok {
		return
	}
	for _, k := range src.Keys() {
		_ = dst.Set(k, src.Get(k))
	}
}

// scopedBindings restores overwritten globals on restore.
type scopedBindings struct {
	vm    *goja.Runtime
	saved map[string]goja.Value
}

func bindScoped(vm *goja.Runtime, values map[string]goja.Value) *scopedBindings {
	s := &scopedBindings{vm: vm, saved: make(map[string]goja.Value, len(values))}
	for name, v := range values {
		s.saved[name] = vm.Get(name)
		_ = vm.Set(name, v)
	}
	return s
}

func (s *scopedBindings) restore() {
	global := s.vm.GlobalObject()
	for _, name := range loaderGlobals {
		prev, ok := s.saved[name]
		if !ok {
			continue
		}
		if prev == nil {
			_ = global.Delete(name)
			continue
		}
		_ = global.Set(name, prev)
	}
}

// resolveClass picks the extension class: the export named exactly id, then
// a case-insensitive match, then the only exported constructor.
func resolveClass(exports *goja.Object, id string) (goja.Constructor, string, error) {
	if c, ok := goja.AssertConstructor(exports.Get(id)); ok {
		return c, id, nil
	}

	var only goja.Constructor
	var onlyName string
	count := 0
	for _, k := range exports.Keys() {
		c, ok := goja.AssertConstructor(exports.Get(k))
		if !ok {
			continue
		}
		if strings.EqualFold(k, id) {
			return c, k, nil
		}
		only, onlyName = c, k
		count++
	}
	if count == 1 {
		return only, onlyName, nil
	}
	return nil, "", fmt.Errorf("%w: %d candidate classes for %q", extension.ErrClassNotFound, count, id)
}

// instance is a constructed extension object.
// Its contract methods are fixed at construction.
type instance struct {
	rt      *runtime
	obj     *goja.Object
	methods map[string]bool
}

func (i *instance) Has(method string) bool { return i.methods[method] }

func (i *instance) Call(ctx context.Context, method string, args ...any) (any, error) {
	i.rt.mu.Lock()
	defer i.rt.mu.Unlock()

	fn, ok := goja.AssertFunction(i.obj.Get(method))
	if !ok {
		return nil, domain.NewSubSystemError("js", "instance.Call", domain.ErrMethodMissing, method)
	}
	jsArgs := make([]goja.Value, len(args))
	for n, a := range args {
		jsArgs[n] = toJS(i.rt.vm, a)
	}

	var result goja.Value
	err := i.rt.guard(ctx, func() error {
		res, err := fn(i.obj, jsArgs...)
		if err != nil {
			return err
		}
		result, err = settle(res)
		return err
	})
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) {
			return nil, domain.NewSubSystemError("js", "instance.Call", domain.ErrTimeout, method)
		}
		return nil, domain.NewSubSystemError("js", "instance.Call", domain.ErrInvocation, fmt.Sprintf("%s: %v", method, err))
	}
	return fromJS(result), nil
}

func (i *instance) Close() error {
	i.rt.vm.Interrupt("closed")
	return nil
}

// settle unwraps a promise result. Promises still pending after the call
// returns can never settle because nothing else drives the runtime.
func settle(v goja.Value) (goja.Value, error) {
	if v == nil {
		return goja.Undefined(), nil
	}
	p, ok := v.Export().(*goja.Promise)
	if !ok {
		return v, nil
	}
	switch p.State() {
	case goja.PromiseStateFulfilled:
		return p.Result(), nil
	case goja.PromiseStateRejected:
		return nil, fmt.Errorf("rejected: %s", p.Result().String())
	default:
		return nil, errors.New("promise never settled")
	}
}
