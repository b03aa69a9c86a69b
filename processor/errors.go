package processor

import (
	"errors"
	"fmt"
	"go/token"

	"github.com/jhump/aptest"
)

// ErrInvalidArgument is aptest.ErrInvalidArgument.
var ErrInvalidArgument = aptest.ErrInvalidArgument

// ErrFileExists is returned by the Filer when a processor tries to create a
// file that was already created during the same compilation.
var ErrFileExists = errors.New("file already exists")

// ErrorWithPosition is an error that has source position information associated
// with it. The position indicates the location in a source file where the error
// was encountered.
type ErrorWithPosition struct {
	err error
	pos token.Position
}

// NewErrorWithPosition returns the given error, but associates it with the
// given source code location.
func NewErrorWithPosition(pos token.Position, err error) *ErrorWithPosition {
	return &ErrorWithPosition{err: err, pos: pos}
}

func posError(pos token.Position, err error) *ErrorWithPosition {
	return NewErrorWithPosition(pos, err)
}

// Error implements the error interface. It includes position information in the
// returned message.
func (e *ErrorWithPosition) Error() string {
	if !e.pos.IsValid() {
		return e.err.Error()
	}
	return fmt.Sprintf("%v: %v", e.pos, e.err)
}

// Unwrap returns the underlying error.
func (e *ErrorWithPosition) Unwrap() error {
	return e.err
}

// Pos returns the location in source where the underlying error was
// encountered.
func (e *ErrorWithPosition) Pos() token.Position {
	return e.pos
}

// positionOf returns the position carried by err, if any, and the message
// without it.
func positionOf(err error) (token.Position, string) {
	var pe *ErrorWithPosition
	if errors.As(err, &pe) {
		return pe.pos, pe.err.Error()
	}
	return token.Position{}, err.Error()
}
