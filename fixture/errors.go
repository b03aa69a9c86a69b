package fixture

import (
	"errors"
	"fmt"

	"github.com/jhump/aptest"
	"github.com/jhump/aptest/collect"
	"github.com/jhump/aptest/compile"
	"github.com/jhump/aptest/diag"
)

var (
	// ErrInvalidArgument is aptest.ErrInvalidArgument.
	ErrInvalidArgument = aptest.ErrInvalidArgument
	// ErrSourceNotFound is returned when a source path does not name an
	// existing file. It wraps ErrInvalidArgument.
	ErrSourceNotFound = fmt.Errorf("%w: source not found", ErrInvalidArgument)
	// ErrPreconditionViolated is returned when a fixture is used in a state
	// that does not allow it.
	ErrPreconditionViolated = errors.New("precondition violated")
	// ErrNotEvaluated is returned by queries on a fixture whose sources have
	// not been compiled. It wraps ErrPreconditionViolated.
	ErrNotEvaluated = fmt.Errorf("%w: fixture has not been evaluated", ErrPreconditionViolated)
	// ErrUniqueNotFound is matched by every *UniqueNotFoundError.
	ErrUniqueNotFound = collect.ErrUniqueNotFound
)

// UniqueNotFoundError is returned by ElementWithUniqueID when the number of
// elements with the ID is not exactly one.
type UniqueNotFoundError = collect.UniqueNotFoundError

// CompilationFailedError is returned when a fixture that requires success
// compiles with errors.
type CompilationFailedError struct {
	Result *compile.Result
}

func (e *CompilationFailedError) Error() string {
	return e.Result.String()
}

// Diagnostics returns the diagnostics of the failed compilation.
func (e *CompilationFailedError) Diagnostics() []*diag.Diagnostic {
	return e.Result.Diagnostics()
}
