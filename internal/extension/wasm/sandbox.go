package wasm

import (
	"fmt"
	"sort"

	"github.com/tetratelabs/wazero"

	"sourcekit/internal/domain"
	guest "sourcekit/pkg/extsdk/wasm"
)

// Capability constants name the host functions a WASM extension can import.
const (
	CapLog      = guest.CapLog
	CapRequest  = guest.CapRequest
	CapState    = guest.CapState
	CapKeychain = guest.CapKeychain
)

// hostFunctionCaps maps each host function to the capability it requires.
var hostFunctionCaps = map[string]string{
	"log":          CapLog,
	"result":       CapLog,
	"request":      CapRequest,
	"state_get":    CapState,
	"state_set":    CapState,
	"keychain_get": CapKeychain,
	"keychain_set": CapKeychain,
}

// knownCapabilities is the set of all valid capability strings.
var knownCapabilities = map[string]bool{
	CapLog:      true,
	CapRequest:  true,
	CapState:    true,
	CapKeychain: true,
}

// Sandbox decides which host functions extensions may import. log and
// result are always granted.
type Sandbox struct {
	capabilities map[string]bool
}

// NewSandbox grants caps. An empty list grants everything.
func NewSandbox(caps []string) *Sandbox {
	granted := make(map[string]bool, len(knownCapabilities))
	if len(caps) == 0 {
		for c := range knownCapabilities {
			granted[c] = true
		}
	}
	for _, c := range caps {
		granted[c] = true
	}
	granted[CapLog] = true
	return &Sandbox{capabilities: granted}
}

// AllowCapability reports whether the given capability is permitted.
func (s *Sandbox) AllowCapability(c string) bool {
	return s.capabilities[c]
}

// checkImports rejects modules that import host functions outside the grant,
// so the failure names the capability instead of surfacing as a link error.
func (s *Sandbox) checkImports(compiled wazero.CompiledModule) error {
	var denied []string
	for _, def := range compiled.ImportedFunctions() {
		module, name, ok := def.Import()
		if !ok || module != HostModule {
			continue
		}
		c, known := hostFunctionCaps[name]
		if !known {
			denied = append(denied, name)
			continue
		}
		if !s.AllowCapability(c) {
			denied = append(denied, name+" ("+c+")")
		}
	}
	if len(denied) > 0 {
		sort.Strings(denied)
		return domain.NewSubSystemError("wasm", "Sandbox.checkImports", domain.ErrPermissionDenied,
			fmt.Sprintf("imports not granted: %v", denied))
	}
	return nil
}

// ValidateCapabilities checks that all requested capabilities are known.
// Returns an error listing unknown capabilities.
func ValidateCapabilities(requested []string) error {
	var unknown []string
	for _, c := range requested {
		if !knownCapabilities[c] {
			unknown = append(unknown, c)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: unknown capabilities: %v", domain.ErrPermissionDenied, unknown)
	}
	return nil
}
