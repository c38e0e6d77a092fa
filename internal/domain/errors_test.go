package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDomainErrorFormat(t *testing.T) {
	err := NewDomainError("Loader.Invoke", ErrNotLoaded, "extension 'mangadex'")
	want := "Loader.Invoke: extension 'mangadex': extension not loaded"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorFormatNoDetail(t *testing.T) {
	err := NewDomainError("Codec.Decode", ErrDecode, "")
	want := "Codec.Decode: image decode failed"
	if err.Error() != want {
		t.Errorf("got %q, want %q", err.Error(), want)
	}
}

func TestDomainErrorUnwrap(t *testing.T) {
	err := NewDomainError("Instance.Call", ErrMethodMissing, "getSearchTags")
	if !errors.Is(err, ErrMethodMissing) {
		t.Error("errors.Is should match ErrMethodMissing")
	}
}

func TestDomainErrorAs(t *testing.T) {
	err := NewDomainError("Dispatch.Resolve", ErrBridgeUnavailable, "")
	var de *DomainError
	if !errors.As(err, &de) {
		t.Fatal("errors.As should match *DomainError")
	}
	if de.Op != "Dispatch.Resolve" {
		t.Errorf("Op = %q, want %q", de.Op, "Dispatch.Resolve")
	}
}

// --- ErrorCode tests ---

func TestErrorCodeOf_DirectSentinel(t *testing.T) {
	assert.Equal(t, CodeNotLoaded, ErrorCodeOf(ErrNotLoaded))
	assert.Equal(t, CodeMethodMissing, ErrorCodeOf(ErrMethodMissing))
	assert.Equal(t, CodeTransport, ErrorCodeOf(ErrTransport))
	assert.Equal(t, CodeDecode, ErrorCodeOf(ErrDecode))
	assert.Equal(t, CodeBridgeUnavailable, ErrorCodeOf(ErrBridgeUnavailable))
}

func TestErrorCodeOf_WrappedError(t *testing.T) {
	wrapped := fmt.Errorf("download: %w", ErrTransport)
	assert.Equal(t, CodeTransport, ErrorCodeOf(wrapped))
}

func TestErrorCodeOf_UnknownError(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(fmt.Errorf("some random error")))
}

func TestErrorCodeOf_Nil(t *testing.T) {
	assert.Equal(t, CodeUnknown, ErrorCodeOf(nil))
}

func TestAllSentinelsHaveCodes(t *testing.T) {
	require.NotEmpty(t, errorCodeMap)
	for sentinel, code := range errorCodeMap {
		assert.NotEmpty(t, code, "sentinel %v has empty code", sentinel)
		assert.NotEqual(t, CodeUnknown, code, "sentinel %v maps to UNKNOWN", sentinel)
	}
}

func TestErrorCodeOf_SubSystem(t *testing.T) {
	tests := []struct {
		subsystem string
		sentinel  error
		want      ErrorCode
	}{
		{"extension", ErrNotFound, CodeExtensionNotFound},
		{"repository", ErrNotFound, CodeRepositoryMissing},
		{"wasm", ErrTimeout, CodeWASMTimeout},
		{"js", ErrTimeout, CodeJSTimeout},
		{"bridge", ErrTimeout, CodeBridgeTimeout},
		{"wasm", ErrPermissionDenied, CodeWASMCapability},
		{"unknown-subsystem", ErrNotFound, CodeNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.subsystem+"/"+string(tt.want), func(t *testing.T) {
			err := NewSubSystemError(tt.subsystem, "Op", tt.sentinel, "")
			assert.Equal(t, tt.want, ErrorCodeOf(err))
			assert.True(t, errors.Is(err, tt.sentinel))
		})
	}
}

func TestNewSubSystemError_Format(t *testing.T) {
	err := NewSubSystemError("repository", "Listing.Get", ErrNotFound, "mangadex")
	// SubSystem is metadata, not included in Error() output.
	assert.Equal(t, "Listing.Get: mangadex: not found", err.Error())
	assert.Equal(t, "repository", err.SubSystem)
}

func TestWrapOp(t *testing.T) {
	assert.Nil(t, WrapOp("anything", nil))

	inner := WrapOp("inner", ErrInvocation)
	outer := WrapOp("outer", inner)
	assert.Equal(t, "outer: inner: extension invocation failed", outer.Error())
	assert.True(t, errors.Is(outer, ErrInvocation))
	assert.Equal(t, CodeInvocation, ErrorCodeOf(outer))
}

func TestIsFeatureAbsent(t *testing.T) {
	assert.True(t, IsFeatureAbsent(NewDomainError("Call", ErrMethodMissing, "getSourceMenu")))
	assert.False(t, IsFeatureAbsent(ErrNotLoaded))
	assert.False(t, IsFeatureAbsent(nil))
}
