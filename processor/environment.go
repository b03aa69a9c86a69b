package processor

import (
	"fmt"
	"go/token"
	"sort"

	"go.uber.org/zap"
	"golang.org/x/text/language"

	"github.com/jhump/aptest/diag"
)

// Environment gives processors access to the compilation. A processor gets it
// once, in Init, and it stays valid for every round.
type Environment struct {
	messager *Messager
	filer    *Filer
	options  Options
	locale   language.Tag
	logger   *zap.Logger
	taskID   string

	checker *checker
}

// Fset returns the file set for all positions in the in-memory sources.
func (env *Environment) Fset() *token.FileSet {
	return env.checker.fset
}

// Packages returns the packages compiled from in-memory sources, including
// those that received generated sources, sorted by path.
func (env *Environment) Packages() []*Package {
	return env.checker.packages()
}

// Messager returns the messager used to report diagnostics.
func (env *Environment) Messager() *Messager {
	return env.messager
}

// Filer returns the filer used to create new files.
func (env *Environment) Filer() *Filer {
	return env.filer
}

// Options returns the processor options given to the compilation. The map
// must not be modified.
func (env *Environment) Options() Options {
	return env.options
}

func (env *Environment) Locale() language.Tag {
	return env.locale
}

// Logger returns the logger of the compilation. It is never nil.
func (env *Environment) Logger() *zap.Logger {
	return env.logger
}

// TaskID returns the unique ID of the compilation.
func (env *Environment) TaskID() string {
	return env.taskID
}

// Metadata returns the metadata for the given annotation type, or nil if the
// type is not an annotation type. Types outside the in-memory sources are
// loaded from source if necessary.
func (env *Environment) Metadata(at AnnotationType) (*AnnotationMetadata, error) {
	if at.IsZero() {
		return nil, fmt.Errorf("%w: zero annotation type", ErrInvalidArgument)
	}
	return env.checker.res.getMetadata(at)
}

// Messager reports diagnostics on behalf of processors.
type Messager struct {
	reporter *reporter
}

// PrintMessage reports a diagnostic with the given severity. If e is not nil,
// the diagnostic is located at the element. Reporting an error causes the
// compilation to fail.
func (m *Messager) PrintMessage(sev diag.Severity, msg string, e *Element) {
	d := &diag.Diagnostic{Severity: sev, Message: msg, Source: diag.SourceProcessor}
	if e != nil {
		d.Pos = e.Pos()
	}
	m.reporter.report(d)
}

// Printf is like PrintMessage but formats the message.
func (m *Messager) Printf(sev diag.Severity, e *Element, format string, args ...any) {
	m.PrintMessage(sev, fmt.Sprintf(format, args...), e)
}

// PrintError reports err as an error. If err has a position (see
// ErrorWithPosition), the diagnostic is located there.
func (m *Messager) PrintError(err error) {
	m.reporter.reportError(diag.SourceProcessor, err)
}

// RoundEnvironment describes one round of processing. It does not change
// after it is given to processors.
type RoundEnvironment struct {
	round       int
	roots       []*Element
	over        bool
	errorRaised bool

	annotations []AnnotationType
	annotated   map[AnnotationType]ElementSet
}

func newRoundEnvironment(round int, roots []*Element, over, errorRaised bool) *RoundEnvironment {
	re := &RoundEnvironment{
		round:       round,
		roots:       roots,
		over:        over,
		errorRaised: errorRaised,
		annotated:   map[AnnotationType]ElementSet{},
	}
	for _, root := range roots {
		root.walk(func(e *Element) {
			for _, a := range e.Annotations {
				at := a.Type()
				set := re.annotated[at]
				if set == nil {
					set = ElementSet{}
					re.annotated[at] = set
					re.annotations = append(re.annotations, at)
				}
				set.Add(e)
			}
		})
	}
	sort.Slice(re.annotations, func(i, j int) bool {
		return re.annotations[i].less(re.annotations[j])
	})
	return re
}

// Round returns the index of the round, starting at zero.
func (r *RoundEnvironment) Round() int {
	return r.round
}

// RootElements returns the top-level elements of the sources processed in
// this round. For the first round, that is every in-memory source. For later
// rounds, it is the sources generated in the round before.
func (r *RoundEnvironment) RootElements() ElementSet {
	return NewElementSet(r.roots...)
}

// ElementsAnnotatedWith returns the elements in this round, at any depth,
// that have an annotation of the given type.
func (r *RoundEnvironment) ElementsAnnotatedWith(at AnnotationType) ElementSet {
	return r.annotated[at].Clone()
}

// Annotations returns the annotation types that appear in this round.
func (r *RoundEnvironment) Annotations() []AnnotationType {
	return append([]AnnotationType(nil), r.annotations...)
}

// ProcessingOver reports whether this is the final round. The final round has
// no root elements.
func (r *RoundEnvironment) ProcessingOver() bool {
	return r.over
}

// ErrorRaised reports whether an error was reported before this round began.
func (r *RoundEnvironment) ErrorRaised() bool {
	return r.errorRaised
}
