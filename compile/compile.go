// Package compile runs one processor over in-memory sources and reports what
// happened. Every call is hermetic: generated files and export data are kept in
// memory and discarded with the Result.
package compile

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"

	"github.com/jhump/aptest"
	"github.com/jhump/aptest/diag"
	"github.com/jhump/aptest/processor"
	"github.com/jhump/aptest/vfs"
)

// ErrInvalidArgument is aptest.ErrInvalidArgument.
var ErrInvalidArgument = aptest.ErrInvalidArgument

// ErrCompilerMissing is returned when no Go toolchain can be found. The
// toolchain is needed to load the packages that the sources import.
var ErrCompilerMissing = errors.New("compile: Go toolchain not found")

// Option configures a compilation.
type Option func(*config)

type config struct {
	logger      *zap.Logger
	options     map[string]string
	optionsFile string
	locale      language.Tag
	dir         string
	maxRounds   int
	locate      func() (string, error)
	clock       func() time.Time
}

// WithLogger sets the logger for the compilation and its processor. By
// default nothing is logged.
func WithLogger(logger *zap.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// WithOptions sets processor options. They take precedence over options read
// from a file given with WithOptionsFile.
func WithOptions(opts map[string]string) Option {
	return func(c *config) {
		c.options = opts
	}
}

// WithOptionsFile reads processor options from a YAML or TOML file. See
// processor.LoadOptions.
func WithOptionsFile(path string) Option {
	return func(c *config) {
		c.optionsFile = path
	}
}

// WithLocale sets the locale given to the file manager and processors.
func WithLocale(locale language.Tag) Option {
	return func(c *config) {
		c.locale = locale
	}
}

// WithDir sets the directory whose module resolves the packages that sources
// import. By default, the current directory is used.
func WithDir(dir string) Option {
	return func(c *config) {
		c.dir = dir
	}
}

// WithMaxRounds limits the number of processing rounds. See
// processor.DefaultMaxRounds.
func WithMaxRounds(n int) Option {
	return func(c *config) {
		c.maxRounds = n
	}
}

// WithToolchainLocator replaces the function that finds the go command. The
// default looks for "go" in PATH.
func WithToolchainLocator(locate func() (string, error)) Option {
	return func(c *config) {
		c.locate = locate
	}
}

// WithClock sets the clock that stamps files written during compilation.
func WithClock(clock func() time.Time) Option {
	return func(c *config) {
		c.clock = clock
	}
}

func defaultLocator() (string, error) {
	return exec.LookPath("go")
}

// CompileSources is Compile with the sources given as arguments.
func CompileSources(ctx context.Context, proc processor.Processor, sources ...vfs.FileObject) (*Result, error) {
	if sources == nil {
		sources = []vfs.FileObject{}
	}
	return Compile(ctx, proc, sources)
}

// Compile compiles the given sources with proc as the only processor.
//
// A compilation that reports errors is not an error: the Result says whether
// the compilation succeeded and holds its diagnostics. An error is returned
// when the arguments are invalid, when the Go toolchain is missing, and when
// the compilation could not run to completion, such as when the processor
// returns an error.
func Compile(ctx context.Context, proc processor.Processor, sources []vfs.FileObject, opts ...Option) (*Result, error) {
	if proc == nil {
		return nil, fmt.Errorf("%w: nil processor", ErrInvalidArgument)
	}
	if sources == nil {
		return nil, fmt.Errorf("%w: nil sources", ErrInvalidArgument)
	}
	for i, src := range sources {
		if src == nil {
			return nil, fmt.Errorf("%w: source %d is nil", ErrInvalidArgument, i)
		}
	}
	c := config{
		locale: language.Und,
		locate: defaultLocator,
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.locate == nil {
		return nil, fmt.Errorf("%w: nil toolchain locator", ErrInvalidArgument)
	}
	if c.clock == nil {
		return nil, fmt.Errorf("%w: nil clock", ErrInvalidArgument)
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}

	goCmd, err := c.locate()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCompilerMissing, err)
	}

	procOpts := processor.Options{}
	if c.optionsFile != "" {
		if procOpts, err = processor.LoadOptions(c.optionsFile); err != nil {
			return nil, err
		}
	}
	for k, v := range c.options {
		procOpts[k] = v
	}

	diags := diag.NewCollector()
	base := vfs.NewStandardFileManager(unicode.UTF8, c.locale)
	defer func() {
		if err := base.Close(); err != nil {
			c.logger.Warn("closing file manager", zap.Error(err))
		}
	}()
	store := vfs.NewStore(base, vfs.WithClock(c.clock))
	taskID := uuid.NewString()
	logger := c.logger.With(zap.String("task", taskID))
	logger.Debug("compiling", zap.Int("sources", len(sources)), zap.String("toolchain", goCmd))

	cfg := processor.Config{
		Sources:     append([]vfs.FileObject(nil), sources...),
		Processors:  []processor.Processor{proc},
		FileManager: store,
		Diagnostics: diags,
		Loader: &processor.PackagesLoader{
			Dir:    c.dir,
			Env:    toolchainEnv(goCmd),
			Logger: logger,
		},
		Options:   procOpts,
		Locale:    c.locale,
		Logger:    logger,
		TaskID:    taskID,
		MaxRounds: c.maxRounds,
	}
	success, err := cfg.Execute(ctx)
	if err != nil {
		return nil, err
	}
	res := &Result{
		success:     success,
		diagnostics: diags.Diagnostics(),
		taskID:      taskID,
	}
	for _, e := range store.Files() {
		if e.HasPayload() {
			res.generated = append(res.generated, e)
		}
	}
	logger.Debug("compiled",
		zap.Bool("success", success),
		zap.Int("diagnostics", len(res.diagnostics)),
		zap.Int("generated", len(res.generated)))
	return res, nil
}

// toolchainEnv returns an environment in which the go command is goCmd.
func toolchainEnv(goCmd string) []string {
	dir := filepath.Dir(goCmd)
	if dir == "." {
		return nil
	}
	path := dir
	if p := os.Getenv("PATH"); p != "" {
		path += string(os.PathListSeparator) + p
	}
	return append(os.Environ(), "PATH="+path)
}
