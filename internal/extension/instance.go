// Package extension loads extension source into isolated instances and keeps
// at most one live instance per extension ID.
package extension

import (
	"context"
	"errors"
	"fmt"

	"sourcekit/internal/capability"
	"sourcekit/internal/domain"
)

// Instance is a loaded extension.
type Instance interface {
	// Has reports whether the extension implements method.
	Has(method string) bool
	// Call invokes method. Implementations are not safe for concurrent use;
	// the Loader serializes calls.
	Call(ctx context.Context, method string, args ...any) (any, error)
	Close() error
}

// Engine instantiates extension source. The only host access an instance
// receives is session.
type Engine interface {
	Name() domain.Engine
	Instantiate(ctx context.Context, desc domain.Descriptor, source []byte, session *capability.Session) (Instance, error)
}

// ErrClassNotFound is returned by engines when the source ran but exposed no
// usable extension class.
var ErrClassNotFound = errors.New("no extension class found")

// Stage names the step of a load that failed.
type Stage string

const (
	StageDownload    Stage = "download"
	StageInstantiate Stage = "instantiate"
	StageResolve     Stage = "resolve"
)

// LoadError reports a failed load together with its stage.
type LoadError struct {
	ID    string
	Stage Stage
	Err   error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load extension %q: %s: %v", e.ID, e.Stage, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

func stageOf(err error) Stage {
	if errors.Is(err, ErrClassNotFound) {
		return StageResolve
	}
	return StageInstantiate
}
