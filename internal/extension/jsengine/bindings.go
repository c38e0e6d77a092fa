package jsengine

import (
	"context"
	"errors"
	"fmt"

	"github.com/dop251/goja"

	"sourcekit/internal/capability"
	"sourcekit/internal/imaging"
)

// imageHandleKey holds the Go image behind a decodeImage result.
const imageHandleKey = "__image"

// binder installs the ambient bindings of one runtime: the App capability
// object, the shared enumerations and a console routed to the session logger.
type binder struct {
	vm      *goja.Runtime
	session *capability.Session
	// ctx is the context of the call currently executing on this runtime.
	ctx     func() context.Context
}

type constructor func(map[string]any) map[string]any

func (b *binder) install() error {
	app := b.vm.NewObject()

	constructors := map[string]constructor{
		"createPartialSourceManga": capability.NewPartialManga,
		"createSourceManga":        capability.NewManga,
		"createMangaInfo":          capability.NewManga,
		"createChapter":            capability.NewChapter,
		"createChapterDetails":     capability.NewChapterDetails,
		"createTag":                capability.NewTag,
		"createTagSection":         capability.NewTagSection,
		"createHomeSection":        capability.NewHomeSection,
		"createPagedResults":       capability.NewPagedResults,
		"createDUIForm":            capability.NewSourceMenu,
		"createDUISection":         capability.NewFormSection,
	}
	for name, build := range constructors {
		if err := app.Set(name, b.construct(build)); err != nil {
			return err
		}
	}

	rows := map[string]string{
		"createDUIButton":           "button",
		"createDUIStepper":          "stepper",
		"createDUIInputField":       "input",
		"createDUILabel":            "label",
		"createDUISwitch":           "switch",
		"createDUISelect":           "select",
		"createDUINavigationButton": "navigation",
	}
	for name, kind := range rows {
		kind := kind
		if err := app.Set(name, func(call goja.FunctionCall) goja.Value {
			return toJS(b.vm, capability.NewFormRow(kind, objectArg(call, 0)))
		}); err != nil {
			return err
		}
	}

	bindings := map[string]any{
		"createRequest":            b.createRequest,
		"createRequestManager":     b.createRequestManager,
		"createSourceStateManager": b.createStateManager,
		"decodeImage":              b.decodeImage,
		"createCanvas":             b.createCanvas,
	}
	for name, fn := range bindings {
		if err := app.Set(name, fn); err != nil {
			return err
		}
	}
	if err := b.vm.Set("App", app); err != nil {
		return err
	}

	for name, values := range capability.Enums() {
		if err := b.vm.Set(name, toJS(b.vm, values)); err != nil {
			return err
		}
	}
	return b.installConsole()
}

func (b *binder) construct(build constructor) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		return toJS(b.vm, build(objectArg(call, 0)))
	}
}

func (b *binder) installConsole() error {
	log := b.session.Logger()
	console := b.vm.NewObject()
	levels := map[string]func(msg string, args ...any){
		"log":   log.Info,
		"info":  log.Info,
		"debug": log.Debug,
		"warn":  log.Warn,
		"error": log.Error,
	}
	for name, fn := range levels {
		fn := fn
		if err := console.Set(name, func(call goja.FunctionCall) goja.Value {
			parts := make([]any, len(call.Arguments))
			for i, a := range call.Arguments {
				parts[i] = a.String()
			}
			fn(fmt.Sprint(parts...))
			return goja.Undefined()
		}); err != nil {
			return err
		}
	}
	return b.vm.Set("console", console)
}

// resolved wraps v in an already-settled promise. Host calls are synchronous,
// so awaiting them never yields to other work.
func (b *binder) resolved(v goja.Value) goja.Value {
	promise := b.vm.Get("Promise").ToObject(b.vm)
	resolve, ok := goja.AssertFunction(promise.Get("resolve"))
	if !ok {
		return v
	}
	p, err := resolve(promise, v)
	if err != nil {
		return v
	}
	return p
}

func (b *binder) createRequest(call goja.FunctionCall) goja.Value {
	return toJS(b.vm, capability.RequestFromMap(objectArg(call, 0)).Map())
}

func (b *binder) createRequestManager(call goja.FunctionCall) goja.Value {
	info := call.Argument(0)
	cfg := capability.ManagerConfigFromMap(objectArg(call, 0))
	if obj, ok := info.(*goja.Object); ok {
		if ic, ok := obj.Get("interceptor").(*goja.Object); ok {
			cfg.Interceptor = &interceptor{vm: b.vm, obj: ic}
		}
	}
	sched := b.session.NewRequestManager(cfg)

	manager := b.vm.NewObject()
	_ = manager.Set("schedule", func(call goja.FunctionCall) goja.Value {
		req := capability.RequestFromMap(objectArg(call, 0))
		resp := sched.Schedule(b.ctx(), req, capability.PriorityNormal)
		return b.resolved(toJS(b.vm, resp.Map()))
	})
	_ = manager.Set("requestsPerSecond", cfg.RequestsPerSecond)
	_ = manager.Set("requestTimeout", cfg.RequestTimeout.Milliseconds())
	return manager
}

func (b *binder) createStateManager(goja.FunctionCall) goja.Value {
	manager := b.storeObject(b.session.State())
	_ = manager.Set("keychain", b.storeObject(b.session.Keychain()))
	return manager
}

func (b *binder) storeObject(store *capability.StateStore) *goja.Object {
	obj := b.vm.NewObject()
	_ = obj.Set("store", func(call goja.FunctionCall) goja.Value {
		store.Store(b.ctx(), call.Argument(0).String(), fromJS(call.Argument(1)))
		return b.resolved(goja.Undefined())
	})
	_ = obj.Set("retrieve", func(call goja.FunctionCall) goja.Value {
		return b.resolved(toJS(b.vm, store.Retrieve(b.ctx(), call.Argument(0).String())))
	})
	return obj
}

func (b *binder) decodeImage(call goja.FunctionCall) goja.Value {
	info := b.session.DecodeImage(bytesOf(b.vm, call.Argument(0)))
	obj := b.vm.NewObject()
	_ = obj.Set("width", info.Width)
	_ = obj.Set("height", info.Height)
	_ = obj.DefineDataProperty(imageHandleKey, b.vm.ToValue(info.Image), goja.FLAG_FALSE, goja.FLAG_FALSE, goja.FLAG_FALSE)
	return obj
}

func (b *binder) imageOf(v goja.Value) *imaging.Image {
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil
	}
	img, _ := obj.Get(imageHandleKey).Export().(*imaging.Image)
	return img
}

func (b *binder) createCanvas(goja.FunctionCall) goja.Value {
	canvas := b.session.CreateCanvas()
	obj := b.vm.NewObject()
	_ = obj.Set("setSize", func(call goja.FunctionCall) goja.Value {
		canvas.SetSize(int(call.Argument(0).ToInteger()), int(call.Argument(1).ToInteger()))
		return goja.Undefined()
	})
	_ = obj.Set("drawImage", func(call goja.FunctionCall) goja.Value {
		img := b.imageOf(call.Argument(0))
		if img == nil {
			return goja.Undefined()
		}
		canvas.DrawImage(img,
			int(call.Argument(1).ToInteger()), int(call.Argument(2).ToInteger()),
			int(call.Argument(3).ToInteger()), int(call.Argument(4).ToInteger()),
			int(call.Argument(5).ToInteger()), int(call.Argument(6).ToInteger()),
		)
		return goja.Undefined()
	})
	_ = obj.Set("encode", func(goja.FunctionCall) goja.Value {
		out := canvas.Encode()
		if out == nil {
			return goja.Null()
		}
		return b.vm.ToValue(b.vm.NewArrayBuffer(out))
	})
	return obj
}

// interceptor adapts a JS {interceptRequest, interceptResponse} object. It
// runs on the runtime's own goroutine because Schedule is called from inside
// extension code.
type interceptor struct {
	vm  *goja.Runtime
	obj *goja.Object
}

func (i *interceptor) invoke(name string, arg map[string]any) (map[string]any, error) {
	fn, ok := goja.AssertFunction(i.obj.Get(name))
	if !ok {
		return arg, nil
	}
	res, err := fn(i.obj, toJS(i.vm, arg))
	if err != nil {
		return nil, err
	}
	value, err := settle(res)
	if err != nil {
		return nil, err
	}
	out, ok := fromJS(value).(map[string]any)
	if !ok {
		return nil, errors.New(name + " returned no object")
	}
	return out, nil
}

func (i *interceptor) InterceptRequest(_ context.Context, req *capability.Request) (*capability.Request, error) {
	out, err := i.invoke("interceptRequest", req.Map())
	if err != nil {
		return nil, err
	}
	return capability.RequestFromMap(out), nil
}

func (i *interceptor) InterceptResponse(_ context.Context, resp *capability.Response) (*capability.Response, error) {
	out, err := i.invoke("interceptResponse", resp.Map())
	if err != nil {
		return nil, err
	}
	return capability.ResponseFromMap(out), nil
}
