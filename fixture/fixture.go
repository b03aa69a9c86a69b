// Package fixture compiles sources for a test and lets the test query the
// elements that an annotation processor would see.
//
// A Fixture is created with its sources but does not compile them until it is
// evaluated, normally by Run:
//
//	f, err := fixture.New(vfs.SourceString("data/data.go", src))
//	require.NoError(t, err)
//	f.Run(t, func(t testing.TB) {
//	    e := f.MustElementWithUniqueID(t, "counter")
//	    assert.Equal(t, aptest.Fields, e.Kind())
//	})
//
// Sources mark the elements a test wants with the aptest.ID annotation. Every
// query fails with ErrNotEvaluated outside of an evaluation. A Fixture must not
// be shared by tests that run in parallel.
package fixture

import (
	"context"
	"fmt"
	"os"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/jhump/aptest/collect"
	"github.com/jhump/aptest/compile"
	"github.com/jhump/aptest/processor"
	"github.com/jhump/aptest/vfs"
)

// State is the stage of a fixture's life.
type State int

const (
	// Unevaluated fixtures have not compiled their sources. New fixtures
	// start here, and Reset returns fixtures here.
	Unevaluated State = iota
	// Evaluating fixtures are compiling their sources.
	Evaluating
	// EvaluatedOK fixtures compiled their sources and can be queried.
	EvaluatedOK
	// FailedCompile fixtures require success but their sources did not
	// compile.
	FailedCompile
)

func (s State) String() string {
	switch s {
	case Unevaluated:
		return "unevaluated"
	case Evaluating:
		return "evaluating"
	case EvaluatedOK:
		return "evaluated"
	case FailedCompile:
		return "failed compile"
	default:
		return fmt.Sprintf("?%d?", int(s))
	}
}

// Fixture holds sources and, once evaluated, what a processor saw when they
// were compiled.
type Fixture struct {
	sources        []vfs.FileObject
	requireSuccess bool
	opts           []compile.Option

	state  State
	result *compile.Result
	proc   *omnibus
}

// New returns a fixture for the given sources.
func New(sources ...vfs.FileObject) (*Fixture, error) {
	for i, src := range sources {
		if src == nil {
			return nil, fmt.Errorf("%w: source %d is nil", ErrInvalidArgument, i)
		}
	}
	return &Fixture{sources: append([]vfs.FileObject{}, sources...)}, nil
}

// ForFilesAt returns a fixture for the source files at the given paths. Each
// path must name an existing file.
func ForFilesAt(paths ...string) (*Fixture, error) {
	sources, err := filesAt(paths)
	if err != nil {
		return nil, err
	}
	return &Fixture{sources: sources}, nil
}

// WithoutSources returns a fixture that compiles nothing. Evaluating it still
// runs a processor, so the processing environment is available.
func WithoutSources() *Fixture {
	return &Fixture{sources: []vfs.FileObject{}}
}

func filesAt(paths []string) ([]vfs.FileObject, error) {
	sources := make([]vfs.FileObject, 0, len(paths))
	for _, p := range paths {
		if p == "" {
			return nil, fmt.Errorf("%w: empty path", ErrInvalidArgument)
		}
		if _, err := os.Stat(p); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrSourceNotFound, p, err)
		}
		src, err := vfs.SourceFile(p)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
		}
		sources = append(sources, src)
	}
	return sources, nil
}

// State returns the fixture's current state.
func (f *Fixture) State() State {
	return f.state
}

// RequiresSuccess reports whether evaluation fails when the sources do not
// compile cleanly.
func (f *Fixture) RequiresSuccess() bool {
	return f.requireSuccess
}

// Sources returns the fixture's sources.
func (f *Fixture) Sources() []vfs.FileObject {
	return append([]vfs.FileObject(nil), f.sources...)
}

// Run evaluates the fixture, runs body, and then resets the fixture. If the
// fixture cannot be evaluated, body does not run and the test fails.
func (f *Fixture) Run(t testing.TB, body func(t testing.TB)) {
	t.Helper()
	defer f.Reset()
	if err := f.evaluate(t.Context(), compile.WithLogger(zaptest.NewLogger(t))); err != nil {
		t.Fatal(err)
	}
	body(t)
}

// Evaluate compiles the fixture's sources and indexes what the processor saw.
// Evaluating a fixture that was already evaluated starts over. A compilation
// with errors is only an error, a *CompilationFailedError, if the fixture
// requires success.
func (f *Fixture) Evaluate(ctx context.Context) error {
	return f.evaluate(ctx)
}

func (f *Fixture) evaluate(ctx context.Context, defaults ...compile.Option) error {
	if f.state == Evaluating {
		return fmt.Errorf("%w: fixture is already being evaluated", ErrPreconditionViolated)
	}
	f.Reset()
	f.state = Evaluating
	defer func() {
		// a panicking processor must not leave the fixture stuck
		if f.state == Evaluating {
			f.state = Unevaluated
		}
	}()
	proc := newOmnibus()
	opts := append(defaults, f.opts...)
	res, err := compile.Compile(ctx, proc, f.sources, opts...)
	if err != nil {
		return err
	}
	f.result = res
	if f.requireSuccess && !res.Success() {
		f.state = FailedCompile
		return &CompilationFailedError{Result: res}
	}
	f.proc = proc
	f.state = EvaluatedOK
	return nil
}

// Reset discards the results of evaluation.
func (f *Fixture) Reset() {
	f.state = Unevaluated
	f.result = nil
	f.proc = nil
}

// omnibus records everything it sees, in every round.
type omnibus struct {
	processor.Base
	rounds       []*processor.RoundEnvironment
	roots        processor.ElementSet
	byAnnotation map[string]processor.ElementSet
	byID         map[string]processor.ElementSet
}

func newOmnibus() *omnibus {
	return &omnibus{
		roots:        processor.ElementSet{},
		byAnnotation: map[string]processor.ElementSet{},
		byID:         map[string]processor.ElementSet{},
	}
}

func (p *omnibus) Init(env *processor.Environment) error {
	if p.Env != nil {
		return fmt.Errorf("%w: processor initialized twice", ErrPreconditionViolated)
	}
	return p.Base.Init(env)
}

func (p *omnibus) Process(_ []processor.AnnotationType, round *processor.RoundEnvironment) (bool, error) {
	p.rounds = append(p.rounds, round)
	p.roots.AddAll(round.RootElements())
	for _, at := range round.Annotations() {
		addTo(p.byAnnotation, at.String(), round.ElementsAnnotatedWith(at))
	}
	for e := range round.ElementsAnnotatedWith(processor.IDAnnotation) {
		for _, id := range collect.IDs(e) {
			addTo(p.byID, id, processor.NewElementSet(e))
		}
	}
	return false, nil
}

func addTo(index map[string]processor.ElementSet, key string, elems processor.ElementSet) {
	set := index[key]
	if set == nil {
		set = processor.ElementSet{}
		index[key] = set
	}
	set.AddAll(elems)
}
