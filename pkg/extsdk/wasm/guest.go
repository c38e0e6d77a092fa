// Package wasm documents the ABI a WebAssembly extension implements and
// exports its constants for guest tooling.
//
// A guest module, typically built with TinyGo for the wasip1 target, looks
// like this:
//
//	//go:wasmimport sourcekit_v1 result
//	func hostResult(ptr, size uint32)
//
//	//export malloc
//	func malloc(size uint32) uint32 { ... }
//
//	//export free
//	func free(ptr, size uint32) { ... }
//
//	//export getChapterDetails
//	func getChapterDetails(argsPtr, argsLen uint32) int32 { ... }
//
// # Host functions (sourcekit_v1 module)
//
//   - log(level, ptr, len): write a log line. Levels: 0=debug, 1=info, 2=warn, 3=error.
//   - result(ptr, len): report the JSON return value of the running method.
//   - request(ptr, len) -> (ptr, len): perform an HTTP request. Takes a JSON
//     request object and returns a JSON response object in guest memory.
//     Requires the "request" capability.
//   - state_get(key_ptr, key_len) -> (ptr, len) and
//     state_set(key_ptr, key_len, val_ptr, val_len): extension state. An empty
//     value deletes the key. Requires "state".
//   - keychain_get and keychain_set: as the state functions, stored encrypted.
//     Requires "keychain".
//
// # Exports
//
// memory, malloc and free are required. Each implemented contract method is
// exported under its contract name as (args_ptr, args_len) -> status. The
// arguments are a JSON array; a nonzero status is a failure. _init and _close
// are optional lifecycle hooks.
//
// Importing a host function the runtime does not grant fails the load.
package wasm

// HostModule is the import module name of the host functions.
const HostModule = "sourcekit_v1"

// LogLevel constants for the host log function.
const (
	LogDebug int32 = 0
	LogInfo  int32 = 1
	LogWarn  int32 = 2
	LogError int32 = 3
)

// Method status codes.
const (
	StatusOK     int32 = 0
	StatusFailed int32 = 1
)

// Capability names as configured in runtime.wasm_capabilities.
const (
	CapLog      = "log"
	CapRequest  = "request"
	CapState    = "state"
	CapKeychain = "keychain"
)

// Export names the runtime looks up.
const (
	ExportMemory = "memory"
	ExportMalloc = "malloc"
	ExportFree   = "free"
	ExportInit   = "_init"
	ExportClose  = "_close"
)
