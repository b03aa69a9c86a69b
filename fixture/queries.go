package fixture

import (
	"fmt"
	"testing"

	"github.com/jhump/aptest/collect"
	"github.com/jhump/aptest/compile"
	"github.com/jhump/aptest/processor"
)

func (f *Fixture) evaluated() error {
	if f.state != EvaluatedOK {
		return fmt.Errorf("%w (state is %v)", ErrNotEvaluated, f.state)
	}
	return nil
}

// ProcessingEnvironment returns the environment given to the processor.
func (f *Fixture) ProcessingEnvironment() (*processor.Environment, error) {
	if err := f.evaluated(); err != nil {
		return nil, err
	}
	return f.proc.Env, nil
}

// CompilationResult returns the result of compiling the sources.
func (f *Fixture) CompilationResult() (*compile.Result, error) {
	if err := f.evaluated(); err != nil {
		return nil, err
	}
	return f.result, nil
}

// RoundEnvironments returns the environment of every round, in order.
func (f *Fixture) RoundEnvironments() ([]*processor.RoundEnvironment, error) {
	if err := f.evaluated(); err != nil {
		return nil, err
	}
	return append([]*processor.RoundEnvironment(nil), f.proc.rounds...), nil
}

// RootElements returns the root elements of every round.
func (f *Fixture) RootElements() (processor.ElementSet, error) {
	if err := f.evaluated(); err != nil {
		return nil, err
	}
	return f.proc.roots.Clone(), nil
}

// ElementsWithAnnotation returns the elements annotated with the given type in
// any round. It returns an empty set if no element has such an annotation.
func (f *Fixture) ElementsWithAnnotation(at processor.AnnotationType) (processor.ElementSet, error) {
	if at.IsZero() {
		return nil, fmt.Errorf("%w: zero annotation type", ErrInvalidArgument)
	}
	if err := f.evaluated(); err != nil {
		return nil, err
	}
	return lookup(f.proc.byAnnotation, at.String()), nil
}

// ElementsWithID returns the elements with the given ID. It returns an empty
// set if no element has it.
func (f *Fixture) ElementsWithID(id string) (processor.ElementSet, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidArgument)
	}
	if err := f.evaluated(); err != nil {
		return nil, err
	}
	return lookup(f.proc.byID, id), nil
}

// ElementWithUniqueID returns the only element with the given ID. If there
// are none or several, it returns a *UniqueNotFoundError.
func (f *Fixture) ElementWithUniqueID(id string) (*processor.Element, error) {
	elems, err := f.ElementsWithID(id)
	if err != nil {
		return nil, err
	}
	return collect.Unique(id, elems)
}

func lookup(index map[string]processor.ElementSet, key string) processor.ElementSet {
	set := index[key]
	if set == nil {
		return processor.ElementSet{}
	}
	return set.Clone()
}

func must[T any](t testing.TB, v T, err error) T {
	t.Helper()
	if err != nil {
		t.Fatal(err)
	}
	return v
}

// MustProcessingEnvironment is ProcessingEnvironment but fails t on error.
func (f *Fixture) MustProcessingEnvironment(t testing.TB) *processor.Environment {
	t.Helper()
	env, err := f.ProcessingEnvironment()
	return must(t, env, err)
}

// MustCompilationResult is CompilationResult but fails t on error.
func (f *Fixture) MustCompilationResult(t testing.TB) *compile.Result {
	t.Helper()
	res, err := f.CompilationResult()
	return must(t, res, err)
}

// MustRoundEnvironments is RoundEnvironments but fails t on error.
func (f *Fixture) MustRoundEnvironments(t testing.TB) []*processor.RoundEnvironment {
	t.Helper()
	rounds, err := f.RoundEnvironments()
	return must(t, rounds, err)
}

// MustRootElements is RootElements but fails t on error.
func (f *Fixture) MustRootElements(t testing.TB) processor.ElementSet {
	t.Helper()
	elems, err := f.RootElements()
	return must(t, elems, err)
}

// MustElementsWithAnnotation is ElementsWithAnnotation but fails t on error.
func (f *Fixture) MustElementsWithAnnotation(t testing.TB, at processor.AnnotationType) processor.ElementSet {
	t.Helper()
	elems, err := f.ElementsWithAnnotation(at)
	return must(t, elems, err)
}

// MustElementsWithID is ElementsWithID but fails t on error.
func (f *Fixture) MustElementsWithID(t testing.TB, id string) processor.ElementSet {
	t.Helper()
	elems, err := f.ElementsWithID(id)
	return must(t, elems, err)
}

// MustElementWithUniqueID is ElementWithUniqueID but fails t on error.
func (f *Fixture) MustElementWithUniqueID(t testing.TB, id string) *processor.Element {
	t.Helper()
	e, err := f.ElementWithUniqueID(id)
	return must(t, e, err)
}
