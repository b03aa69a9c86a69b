package collect

import (
	"context"
	"errors"
	"fmt"

	"github.com/jhump/aptest/compile"
	"github.com/jhump/aptest/processor"
	"github.com/jhump/aptest/vfs"
)

// ErrUniqueNotFound is matched, with errors.Is, by every *UniqueNotFoundError.
var ErrUniqueNotFound = errors.New("unique element not found")

// UniqueNotFoundError is returned when a lookup that expects exactly one
// element with an ID finds none or several.
type UniqueNotFoundError struct {
	ID    string
	Count int
}

func (e *UniqueNotFoundError) Error() string {
	if e.Count == 0 {
		return fmt.Sprintf("no elements found for ID %q", e.ID)
	}
	return fmt.Sprintf("multiple elements (%d) found for ID %q", e.Count, e.ID)
}

func (e *UniqueNotFoundError) Is(target error) bool {
	return target == ErrUniqueNotFound
}

// Unique returns the only element in elems, or a *UniqueNotFoundError
// describing how many elements there are.
func Unique(id string, elems processor.ElementSet) (*processor.Element, error) {
	if elems.Len() != 1 {
		return nil, &UniqueNotFoundError{ID: id, Count: elems.Len()}
	}
	return elems.Slice()[0], nil
}

func supply(ctx context.Context, c Collector[processor.ElementSet], sources []vfs.FileObject, opts []compile.Option) (processor.ElementSet, error) {
	// elements are returned even if the sources have errors
	if _, err := compile.Compile(ctx, c, sources, opts...); err != nil {
		return nil, err
	}
	return c.CollectedElements(), nil
}

// RootElementsFrom compiles the sources and returns the root elements of
// every round.
func RootElementsFrom(ctx context.Context, sources []vfs.FileObject, opts ...compile.Option) (processor.ElementSet, error) {
	return supply(ctx, NewRootCollector(), sources, opts)
}

// ElementsAnnotatedWithFrom compiles the sources and returns the elements
// annotated with the given type.
func ElementsAnnotatedWithFrom(ctx context.Context, at processor.AnnotationType, sources []vfs.FileObject, opts ...compile.Option) (processor.ElementSet, error) {
	c, err := NewAnnotatedCollector(at)
	if err != nil {
		return nil, err
	}
	return supply(ctx, c, sources, opts)
}

// ElementsWithIDFrom compiles the sources and returns the elements with the
// given ID.
func ElementsWithIDFrom(ctx context.Context, id string, sources []vfs.FileObject, opts ...compile.Option) (processor.ElementSet, error) {
	c, err := NewIDCollector(id)
	if err != nil {
		return nil, err
	}
	return supply(ctx, c, sources, opts)
}

// TaggedElementsFrom compiles the sources and returns the elements annotated
// with any of the given types.
func TaggedElementsFrom(ctx context.Context, tags []processor.AnnotationType, sources []vfs.FileObject, opts ...compile.Option) (processor.ElementSet, error) {
	c, err := NewTaggedCollector(tags...)
	if err != nil {
		return nil, err
	}
	return supply(ctx, c, sources, opts)
}

// UniqueElementWithIDFrom compiles the sources and returns the only element
// with the given ID.
func UniqueElementWithIDFrom(ctx context.Context, id string, sources []vfs.FileObject, opts ...compile.Option) (*processor.Element, error) {
	elems, err := ElementsWithIDFrom(ctx, id, sources, opts...)
	if err != nil {
		return nil, err
	}
	return Unique(id, elems)
}
