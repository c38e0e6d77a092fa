package wasm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"sourcekit/internal/capability"
	"sourcekit/internal/domain"
	guest "sourcekit/pkg/extsdk/wasm"
)

// HostModule is the namespace under which host functions are registered.
const HostModule = guest.HostModule

var (
	i32   = api.ValueTypeI32
	ptrs  = []api.ValueType{i32, i32}
	pairs = []api.ValueType{i32, i32, i32, i32}
)

// hostEnv holds the dependencies injected into host functions of one
// extension instance.
type hostEnv struct {
	session *capability.Session
	sandbox *Sandbox
	logger  *slog.Logger
	result  []byte // last result written by guest
}

// registerHostFunctions compiles the sourcekit_v1 host module. Functions
// outside the sandbox grant are not registered.
func registerHostFunctions(ctx context.Context, rt wazero.Runtime, env *hostEnv) (wazero.CompiledModule, error) {
	builder := rt.NewHostModuleBuilder(HostModule)

	// log(level, ptr, len)
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			level := int32(stack[0])
			msg, err := guestMemory(mod).string(uint32(stack[1]), uint32(stack[2]))
			if err != nil {
				env.logger.Error("wasm log: read failed", "error", err)
				return
			}

			switch {
			case level <= guest.LogDebug:
				env.logger.Debug(msg)
			case level == guest.LogInfo:
				env.logger.Info(msg)
			case level == guest.LogWarn:
				env.logger.Warn(msg)
			default:
				env.logger.Error(msg)
			}
		}), []api.ValueType{i32, i32, i32}, nil).
		Export("log")

	// result(ptr, len) sets the value returned by the method being called.
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			data, err := guestMemory(mod).read(uint32(stack[0]), uint32(stack[1]))
			if err != nil {
				env.logger.Error("wasm result: read failed", "error", err)
				return
			}
			env.result = data
		}), ptrs, nil).
		Export("result")

	// request(ptr, len) -> (ptr, len): JSON request in, JSON response out.
	if env.sandbox.AllowCapability(CapRequest) {
		builder.NewFunctionBuilder().
			WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
				raw, err := guestMemory(mod).read(uint32(stack[0]), uint32(stack[1]))
				resp := &capability.Response{Headers: map[string]string{}}
				var req capability.Request
				if err == nil {
					err = json.Unmarshal(raw, &req)
				}
				if err != nil {
					env.logger.Warn("wasm request: malformed request", "error", err)
				} else {
					resp = env.session.Requests().Schedule(ctx, &req, capability.PriorityNormal)
				}
				writeJSON(ctx, env, mod, stack, resp)
			}), ptrs, ptrs).
			Export("request")
	}

	if env.sandbox.AllowCapability(CapState) {
		exportStore(builder, env, "state", env.session.State())
	}
	if env.sandbox.AllowCapability(CapKeychain) {
		exportStore(builder, env, "keychain", env.session.Keychain())
	}

	compiled, err := builder.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: compile host module: %v", domain.ErrInvalidInput, err)
	}

	return compiled, nil
}

// exportStore registers <prefix>_get(key_ptr, key_len) -> (ptr, len) and
// <prefix>_set(key_ptr, key_len, val_ptr, val_len). Values are JSON; an
// empty value deletes the key.
func exportStore(builder wazero.HostModuleBuilder, env *hostEnv, prefix string, store *capability.StateStore) {
	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			key, err := guestMemory(mod).string(uint32(stack[0]), uint32(stack[1]))
			if err != nil {
				env.logger.Error("wasm "+prefix+"_get: read failed", "error", err)
				stack[0], stack[1] = 0, 0
				return
			}
			value := store.Retrieve(ctx, key)
			if value == nil {
				stack[0], stack[1] = 0, 0
				return
			}
			writeJSON(ctx, env, mod, stack, value)
		}), ptrs, ptrs).
		Export(prefix + "_get")

	builder.NewFunctionBuilder().
		WithGoModuleFunction(api.GoModuleFunc(func(ctx context.Context, mod api.Module, stack []uint64) {
			key, err := guestMemory(mod).string(uint32(stack[0]), uint32(stack[1]))
			if err != nil {
				env.logger.Error("wasm "+prefix+"_set: read key failed", "error", err)
				return
			}
			raw, err := guestMemory(mod).read(uint32(stack[2]), uint32(stack[3]))
			if err != nil {
				env.logger.Error("wasm "+prefix+"_set: read value failed", "error", err)
				return
			}
			if len(raw) == 0 {
				store.Store(ctx, key, nil)
				return
			}
			var value any
			if err := json.Unmarshal(raw, &value); err != nil {
				value = string(raw)
			}
			store.Store(ctx, key, value)
		}), pairs, nil).
		Export(prefix + "_set")
}

// writeJSON marshals v into guest memory and returns (ptr, len) on stack.
func writeJSON(ctx context.Context, env *hostEnv, mod api.Module, stack []uint64, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		env.logger.Error("wasm: marshal failed", "error", err)
		stack[0], stack[1] = 0, 0
		return
	}
	ptr, size, err := guestMemory(mod).write(ctx, data)
	if err != nil {
		env.logger.Error("wasm: write failed", "error", err)
		stack[0], stack[1] = 0, 0
		return
	}
	stack[0] = uint64(ptr)
	stack[1] = uint64(size)
}
