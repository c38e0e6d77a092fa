package domain

import (
	"errors"
	"fmt"
)

// Category sentinels. Pair with NewSubSystemError for subsystem-specific codes.
var (
	ErrNotFound         = fmt.Errorf("not found")
	ErrDuplicate        = fmt.Errorf("duplicate")
	ErrTimeout          = fmt.Errorf("operation timed out")
	ErrPermissionDenied = fmt.Errorf("permission denied")
	ErrInvalidInput     = fmt.Errorf("invalid input")
)

// Runtime sentinels. Every failure that can reach the dispatch boundary wraps
// exactly one of these.
var (
	ErrNotLoaded         = fmt.Errorf("extension not loaded")
	ErrMethodMissing     = fmt.Errorf("extension method not found")
	ErrTransport         = fmt.Errorf("transport failure")
	ErrDecode            = fmt.Errorf("image decode failed")
	ErrEncode            = fmt.Errorf("image encode failed")
	ErrBridgeUnavailable = fmt.Errorf("no backend available")
	ErrInvocation        = fmt.Errorf("extension invocation failed")
	ErrSourceUnavailable = fmt.Errorf("extension source unavailable")

	// Bridge errors.
	ErrBridgeAuthFailed  = fmt.Errorf("bridge: authentication failed")
	ErrRPCMethodNotFound = fmt.Errorf("rpc method not found")
	ErrRPCInvalidPayload = fmt.Errorf("rpc payload invalid")

	ErrConfigLoad = fmt.Errorf("failed to load configuration")
	ErrEncryption = fmt.Errorf("encryption operation failed")
	ErrDecryption = fmt.Errorf("decryption failed")
	ErrStateStore = fmt.Errorf("state store operation failed")
)

// DomainError wraps a sentinel error with context.
type DomainError struct {
	Op        string // operation name (e.g., "Loader.Invoke")
	Err       error  // underlying sentinel or wrapped error
	Detail    string // human-readable detail
	SubSystem string // subsystem identifier (e.g., "wasm", "bridge"); used for ErrorCode dispatch
}

func (e *DomainError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Detail, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Err)
}

func (e *DomainError) Unwrap() error { return e.Err }

// NewDomainError creates a new DomainError.
func NewDomainError(op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail}
}

// NewSubSystemError creates a DomainError tagged with a subsystem for ErrorCode dispatch.
func NewSubSystemError(subsystem, op string, err error, detail string) *DomainError {
	return &DomainError{Op: op, Err: err, Detail: detail, SubSystem: subsystem}
}

// WrapOp adds operation context to an error using fmt.Errorf wrapping.
// Returns nil if err is nil, enabling idiomatic use: return domain.WrapOp("op", err)
func WrapOp(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsFeatureAbsent reports whether err only means the extension does not
// implement an optional method.
func IsFeatureAbsent(err error) bool {
	return errors.Is(err, ErrMethodMissing)
}

// ErrorCode is a machine-parseable error category for monitoring and alerting.
type ErrorCode string

const (
	CodeUnknown           ErrorCode = "UNKNOWN"
	CodeNotLoaded         ErrorCode = "NOT_LOADED"
	CodeMethodMissing     ErrorCode = "METHOD_MISSING"
	CodeTransport         ErrorCode = "TRANSPORT"
	CodeDecode            ErrorCode = "DECODE"
	CodeEncode            ErrorCode = "ENCODE"
	CodeBridgeUnavailable ErrorCode = "BRIDGE_UNAVAILABLE"
	CodeInvocation        ErrorCode = "INVOCATION"
	CodeSourceUnavailable ErrorCode = "SOURCE_UNAVAILABLE"
	CodeBridgeAuth        ErrorCode = "BRIDGE_AUTH"
	CodeRPCMethodNotFound ErrorCode = "RPC_METHOD_NOT_FOUND"
	CodeRPCInvalidPayload ErrorCode = "RPC_INVALID_PAYLOAD"
	CodeConfigLoad        ErrorCode = "CONFIG_LOAD"
	CodeEncryption        ErrorCode = "ENCRYPTION"
	CodeDecryption        ErrorCode = "DECRYPTION"
	CodeStateStore        ErrorCode = "STATE_STORE"

	// Subsystem-specific codes used by subSystemCodeMap.
	CodeExtensionNotFound ErrorCode = "EXTENSION_NOT_FOUND"
	CodeRepositoryMissing ErrorCode = "REPOSITORY_NOT_FOUND"
	CodeWASMTimeout       ErrorCode = "WASM_TIMEOUT"
	CodeJSTimeout         ErrorCode = "JS_TIMEOUT"
	CodeBridgeTimeout     ErrorCode = "BRIDGE_TIMEOUT"
	CodeWASMCapability    ErrorCode = "WASM_CAPABILITY"

	// Category error codes, the fallback when no subsystem-specific code matches.
	CodeNotFound         ErrorCode = "NOT_FOUND"
	CodeDuplicate        ErrorCode = "DUPLICATE"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
)

// errorCodeMap maps sentinel errors to their machine-parseable codes.
var errorCodeMap = map[error]ErrorCode{
	ErrNotFound:         CodeNotFound,
	ErrDuplicate:        CodeDuplicate,
	ErrTimeout:          CodeTimeout,
	ErrPermissionDenied: CodePermissionDenied,
	ErrInvalidInput:     CodeInvalidInput,

	ErrNotLoaded:         CodeNotLoaded,
	ErrMethodMissing:     CodeMethodMissing,
	ErrTransport:         CodeTransport,
	ErrDecode:            CodeDecode,
	ErrEncode:            CodeEncode,
	ErrBridgeUnavailable: CodeBridgeUnavailable,
	ErrInvocation:        CodeInvocation,
	ErrSourceUnavailable: CodeSourceUnavailable,
	ErrBridgeAuthFailed:  CodeBridgeAuth,
	ErrRPCMethodNotFound: CodeRPCMethodNotFound,
	ErrRPCInvalidPayload: CodeRPCInvalidPayload,
	ErrConfigLoad:        CodeConfigLoad,
	ErrEncryption:        CodeEncryption,
	ErrDecryption:        CodeDecryption,
	ErrStateStore:        CodeStateStore,
}

// subSystemCodeMap maps (category sentinel, subsystem) pairs to specific ErrorCodes.
var subSystemCodeMap = map[error]map[string]ErrorCode{
	ErrNotFound: {
		"extension":  CodeExtensionNotFound,
		"repository": CodeRepositoryMissing,
	},
	ErrTimeout: {
		"wasm":   CodeWASMTimeout,
		"js":     CodeJSTimeout,
		"bridge": CodeBridgeTimeout,
	},
	ErrPermissionDenied: {
		"wasm": CodeWASMCapability,
	},
}

// ErrorCodeOf returns the machine-parseable error code for the given error.
// It unwraps DomainError and uses errors.Is to match sentinel errors.
// Returns CodeUnknown if no matching sentinel is found.
func ErrorCodeOf(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	// Fast path: direct sentinel lookup.
	if code, ok := errorCodeMap[err]; ok {
		return code
	}

	var de *DomainError
	if errors.As(err, &de) {
		if code := de.Code(); code != CodeUnknown {
			return code
		}
	}

	// Walk the error chain with errors.Is.
	for sentinel, code := range errorCodeMap {
		if errors.Is(err, sentinel) {
			return code
		}
	}

	return CodeUnknown
}

// Code returns the ErrorCode for this DomainError's underlying sentinel.
// If SubSystem is set, checks the subSystemCodeMap for a specific code.
func (e *DomainError) Code() ErrorCode {
	if e.SubSystem != "" {
		if subsysMap, ok := subSystemCodeMap[e.Err]; ok {
			if code, ok := subsysMap[e.SubSystem]; ok {
				return code
			}
		}
	}
	if code, ok := errorCodeMap[e.Err]; ok {
		return code
	}
	return CodeUnknown
}
