package parser

import (
	"fmt"
	"go/ast"
	"go/token"
)

// Identifier is a possibly-qualified name, such as the type of an annotation.
type Identifier struct {
	// The package qualifier. Empty if the name is not qualified.
	PackageAlias string
	Name         string
	Pos          token.Position
}

func (id Identifier) String() string {
	if id.PackageAlias == "" {
		return id.Name
	}
	return fmt.Sprintf("%s.%s", id.PackageAlias, id.Name)
}

// Annotation is a single annotation as written in a comment, before any of
// its names are resolved.
type Annotation struct {
	// The type of the annotation.
	Type Identifier
	// The value of the annotation or nil if it has no value. For annotations
	// written as @Type{...}, this is a composite literal without a type. For
	// annotations written as @Type(expr), it is expr.
	Value ast.Expr
	// The location of the '@' that introduces the annotation.
	Pos token.Position

	positions *positionMap
}

// Position maps a position of a node in Value back to the location in the
// original comment where that node was written.
func (a Annotation) Position(p token.Pos) token.Position {
	if a.positions == nil || !p.IsValid() {
		return a.Pos
	}
	return a.positions.position(p)
}

// ParseError describes malformed annotation syntax.
type ParseError struct {
	err error
	pos token.Position
}

func (e *ParseError) Error() string {
	if e.pos.Filename == "" {
		return fmt.Sprintf("line %d, column %d: %v", e.pos.Line, e.pos.Column, e.err)
	}
	return fmt.Sprintf("%v: %v", e.pos, e.err)
}

// Unwrap returns the underlying cause, without position information.
func (e *ParseError) Unwrap() error {
	return e.err
}

// Pos returns the location of the error.
func (e *ParseError) Pos() token.Position {
	return e.pos
}
