package wasm

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"

	"sourcekit/internal/domain"
	guest "sourcekit/pkg/extsdk/wasm"
)

// maxTransfer caps a single buffer crossing the host/guest boundary.
const maxTransfer = 32 << 20

// memory moves buffers in and out of a guest's linear memory. Allocation goes
// through the guest's own malloc/free exports so the guest allocator stays
// consistent.
type memory struct {
	mod api.Module
}

func guestMemory(mod api.Module) memory { return memory{mod: mod} }

func memoryError(format string, args ...any) error {
	return domain.NewSubSystemError("wasm", "wasm.memory", domain.ErrInvocation, fmt.Sprintf(format, args...))
}

// read copies [ptr, ptr+size) out of guest memory.
func (m memory) read(ptr, size uint32) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	if size > maxTransfer {
		return nil, memoryError("read of %d bytes exceeds limit", size)
	}
	view, ok := m.mod.Memory().Read(ptr, size)
	if !ok {
		return nil, memoryError("read out of bounds at ptr=%d len=%d", ptr, size)
	}
	return append([]byte(nil), view...), nil
}

func (m memory) string(ptr, size uint32) (string, error) {
	b, err := m.read(ptr, size)
	return string(b), err
}

// write allocates len(data) bytes in the guest and copies data there. The
// caller releases the buffer with free. Empty data yields (0, 0).
func (m memory) write(ctx context.Context, data []byte) (ptr, size uint32, err error) {
	if len(data) == 0 {
		return 0, 0, nil
	}
	if len(data) > maxTransfer {
		return 0, 0, memoryError("write of %d bytes exceeds limit", len(data))
	}
	size = uint32(len(data))

	malloc := m.mod.ExportedFunction(guest.ExportMalloc)
	if malloc == nil {
		return 0, 0, memoryError("guest does not export %s", guest.ExportMalloc)
	}
	results, err := malloc.Call(ctx, uint64(size))
	switch {
	case err != nil:
		return 0, 0, memoryError("%s(%d): %v", guest.ExportMalloc, size, err)
	case len(results) == 0 || uint32(results[0]) == 0:
		return 0, 0, memoryError("%s(%d) returned no buffer", guest.ExportMalloc, size)
	}
	ptr = uint32(results[0])

	if !m.mod.Memory().Write(ptr, data) {
		m.free(ctx, ptr, size)
		return 0, 0, memoryError("write out of bounds at ptr=%d len=%d", ptr, size)
	}
	return ptr, size, nil
}

// free releases a buffer from write. Guests without a free export leak by
// choice.
func (m memory) free(ctx context.Context, ptr, size uint32) {
	if ptr == 0 || size == 0 {
		return
	}
	if fn := m.mod.ExportedFunction(guest.ExportFree); fn != nil {
		_, _ = fn.Call(ctx, uint64(ptr), uint64(size))
	}
}
