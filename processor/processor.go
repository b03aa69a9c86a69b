package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/language"
	"golang.org/x/tools/go/gcexportdata"

	"github.com/jhump/aptest/diag"
	"github.com/jhump/aptest/vfs"
)

// DefaultMaxRounds is the number of rounds after which processing stops if
// processors keep generating sources.
const DefaultMaxRounds = 32

// Processor processes annotations. A processor is initialized once per
// compilation and then called for each round whose annotations it supports.
type Processor interface {
	// Init is called before the first round. An error aborts the compilation.
	Init(env *Environment) error
	// SupportedAnnotationTypes returns the qualified names of the supported
	// annotation types. A name may also be "*", which matches every type, or
	// a package path followed by ".*", which matches every type in the
	// package.
	SupportedAnnotationTypes() []string
	// Process handles the annotations of one round that this processor
	// supports and that no earlier processor claimed. If it returns true, the
	// annotations are claimed and later processors do not see them. An error
	// aborts the compilation.
	Process(annotations []AnnotationType, round *RoundEnvironment) (claimed bool, err error)
}

// Base can be embedded in a processor. It supports all annotation types and
// stores the environment given to Init.
type Base struct {
	Env *Environment
}

func (b *Base) Init(env *Environment) error {
	b.Env = env
	return nil
}

func (b *Base) SupportedAnnotationTypes() []string {
	return []string{"*"}
}

// Func is a processor that supports all annotation types and never needs
// initialization.
type Func func(annotations []AnnotationType, round *RoundEnvironment) (bool, error)

var _ Processor = Func(nil)

func (f Func) Init(*Environment) error {
	return nil
}

func (f Func) SupportedAnnotationTypes() []string {
	return []string{"*"}
}

func (f Func) Process(annotations []AnnotationType, round *RoundEnvironment) (bool, error) {
	return f(annotations, round)
}

// Config represents the configuration for compiling sources and running
// processors on them. Callers should configure the exported fields and then
// call the Execute method.
type Config struct {
	// The sources to compile. The directory of each source's name is the
	// import path of its package. Sources without a directory belong to a
	// package whose import path is its name.
	Sources    []vfs.FileObject
	Processors []Processor
	// Receives generated sources and export data. Required.
	FileManager vfs.FileManager
	// Receives all diagnostics. Required.
	Diagnostics diag.Listener
	// Provides the packages that are not in Sources. If nil, a
	// PackagesLoader for the current directory is used.
	Loader  Loader
	Options Options
	Locale  language.Tag
	// If nil, nothing is logged.
	Logger *zap.Logger
	// If empty, a random ID is used.
	TaskID string
	// If zero, DefaultMaxRounds is used.
	MaxRounds int
}

type procState struct {
	proc      Processor
	supported []string
	called    bool
}

func (p *procState) supports(at AnnotationType) bool {
	name := at.String()
	for _, s := range p.supported {
		switch {
		case s == "*":
			return true
		case strings.HasSuffix(s, ".*"):
			if at.PkgPath == strings.TrimSuffix(s, ".*") {
				return true
			}
		case s == name:
			return true
		}
	}
	return false
}

func (p *procState) wildcard() bool {
	for _, s := range p.supported {
		if s == "*" {
			return true
		}
	}
	return false
}

// engine holds the state of one call to Config.Execute.
type engine struct {
	cfg      *Config
	logger   *zap.Logger
	reporter *reporter
	checker  *checker
	filer    *Filer
	procs    []*procState
}

// Execute compiles the configured sources and runs the configured processors
// until they stop generating sources. It reports whether the compilation
// succeeded, which is to say that no errors were reported. A non-nil error
// means the compilation could not run to completion, for example because a
// processor returned an error.
func (cfg *Config) Execute(ctx context.Context) (bool, error) {
	if cfg.FileManager == nil {
		return false, fmt.Errorf("%w: no file manager", ErrInvalidArgument)
	}
	if cfg.Diagnostics == nil {
		return false, fmt.Errorf("%w: no diagnostics listener", ErrInvalidArgument)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	loader := cfg.Loader
	if loader == nil {
		loader = &PackagesLoader{Logger: logger}
	}
	taskID := cfg.TaskID
	if taskID == "" {
		taskID = uuid.NewString()
	}
	logger = logger.With(zap.String("task", taskID))

	rep := &reporter{listener: cfg.Diagnostics}
	e := &engine{
		cfg:      cfg,
		logger:   logger,
		reporter: rep,
		checker:  newChecker(newResolver(ctx, loader, logger), rep, logger),
		filer:    newFiler(cfg.FileManager, rep, logger),
	}
	env := &Environment{
		messager: &Messager{reporter: rep},
		filer:    e.filer,
		options:  cfg.Options.Clone(),
		locale:   cfg.Locale,
		logger:   logger,
		taskID:   taskID,
		checker:  e.checker,
	}

	roots, err := e.compile(cfg.Sources, nil)
	if err != nil {
		return false, err
	}
	for _, p := range cfg.Processors {
		if p == nil {
			return false, fmt.Errorf("%w: nil processor", ErrInvalidArgument)
		}
		if err := p.Init(env); err != nil {
			return false, fmt.Errorf("initializing processor %T: %w", p, err)
		}
		e.procs = append(e.procs, &procState{proc: p, supported: p.SupportedAnnotationTypes()})
	}

	if err := e.rounds(ctx, roots); err != nil {
		return false, err
	}
	if rep.err != nil {
		return false, fmt.Errorf("reporting diagnostics: %w", rep.err)
	}
	if rep.errors == 0 {
		if err := e.writeExportData(); err != nil {
			return false, err
		}
	}
	logger.Debug("compilation finished", zap.Bool("success", rep.errors == 0), zap.Int("errors", rep.errors))
	return rep.errors == 0, nil
}

func (e *engine) rounds(ctx context.Context, roots []*Element) error {
	maxRounds := e.cfg.MaxRounds
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	round := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := e.round(newRoundEnvironment(round, roots, false, e.reporter.errors > 0)); err != nil {
			return err
		}
		generated := e.filer.takePending()
		if len(generated) == 0 {
			break
		}
		round++
		if round >= maxRounds {
			e.reporter.report(&diag.Diagnostic{
				Severity: diag.Error,
				Message:  fmt.Sprintf("processing did not finish after %d rounds", maxRounds),
				Source:   diag.SourceProcessor,
			})
			break
		}
		newFiles := map[string]bool{}
		for _, src := range generated {
			newFiles[src.Name()] = true
		}
		var err error
		if roots, err = e.compile(generated, newFiles); err != nil {
			return err
		}
	}
	e.filer.lastRound = true
	if err := e.round(newRoundEnvironment(round+1, nil, true, e.reporter.errors > 0)); err != nil {
		return err
	}
	e.filer.takePending()
	e.checker.finish()
	return nil
}

func (e *engine) round(re *RoundEnvironment) error {
	e.logger.Debug("round started",
		zap.Int("round", re.Round()),
		zap.Stringers("annotationTypes", re.annotations),
		zap.Int("roots", len(re.roots)),
		zap.Bool("over", re.ProcessingOver()))
	unclaimed := re.Annotations()
	for _, p := range e.procs {
		var matched []AnnotationType
		for _, at := range unclaimed {
			if p.supports(at) {
				matched = append(matched, at)
			}
		}
		if len(matched) == 0 && !p.called && !p.wildcard() {
			continue
		}
		p.called = true
		claimed, err := p.proc.Process(matched, re)
		if err != nil {
			return fmt.Errorf("processor %T: %w", p.proc, err)
		}
		if claimed && len(matched) > 0 {
			remaining := unclaimed[:0:0]
			for _, at := range unclaimed {
				if !p.supports(at) {
					remaining = append(remaining, at)
				}
			}
			unclaimed = remaining
		}
	}
	e.logger.Debug("round finished", zap.Int("round", re.Round()), zap.Int("errors", e.reporter.errors))
	return nil
}

// compile adds the given sources to the compilation and returns the elements
// they declare. When newFiles is not nil, the sources were generated and only
// elements in them are returned.
func (e *engine) compile(sources []vfs.FileObject, newFiles map[string]bool) ([]*Element, error) {
	units := e.checker.parse(sources)
	if err := e.checker.resolveImports(units); err != nil {
		return nil, err
	}
	// type errors are held until processing is over since later rounds may
	// generate the declarations they complain about
	e.checker.recheck(units)
	e.logger.Debug("packages compiled", zap.Int("packages", len(units)), zap.Int("sources", len(sources)))

	var roots []*Element
	for _, u := range units {
		if u.pkg == nil {
			continue
		}
		files := u.files
		if newFiles != nil {
			files = nil
			for _, f := range u.files {
				if newFiles[e.checker.fset.Position(f.Package).Filename] {
					files = append(files, f)
				}
			}
		}
		elems, errs := e.checker.res.buildElements(u.pkg, files)
		for _, err := range errs {
			e.reporter.reportError(diag.SourceAnnotations, err)
		}
		roots = append(roots, elems...)
	}
	return roots, nil
}

func (e *engine) writeExportData() error {
	for _, pkg := range e.checker.packages() {
		if pkg.Types == nil {
			continue
		}
		out, err := e.cfg.FileManager.FileForOutput(vfs.ClassOutput, "", pkg.Path+vfs.KindClass.Extension(), nil)
		if err != nil {
			return fmt.Errorf("creating export data for %s: %w", pkg.Path, err)
		}
		w, err := out.Create()
		if err != nil {
			return fmt.Errorf("creating export data for %s: %w", pkg.Path, err)
		}
		if err := gcexportdata.Write(w, e.checker.fset, pkg.Types); err != nil {
			_ = w.Close()
			return fmt.Errorf("writing export data for %s: %w", pkg.Path, err)
		}
		if err := w.Close(); err != nil {
			return fmt.Errorf("writing export data for %s: %w", pkg.Path, err)
		}
		e.logger.Debug("export data written", zap.String("package", pkg.Path), zap.String("file", out.Name()))
	}
	return nil
}
