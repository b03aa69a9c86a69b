// Command aptgo compiles Go source files with every registered annotation
// processor, the way a test fixture would, and reports what happened. It is
// useful for checking what a fixture's sources look like to a processor.
//
//	aptgo -ids -output_dir out data/data.go data/more.go
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"

	"github.com/jhump/aptest/collect"
	"github.com/jhump/aptest/diag"
	"github.com/jhump/aptest/processor"
	"github.com/jhump/aptest/vfs"
)

func main() {
	outputDir := flag.String("output_dir", "", "Indicates the directory where generated files are written."+
		" Files are created in sub-directories, organized by package path. If empty, generated files are discarded.")
	optionsFile := flag.String("options", "", "A YAML or TOML file with options for processors.")
	maxRounds := flag.Int("max_rounds", 0, "The maximum number of processing rounds. Zero uses the default.")
	ids := flag.Bool("ids", false, "Prints the elements that have aptest.ID annotations.")
	verbose := flag.Bool("v", false, "Logs processing to stderr.")
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "Must supply at least one source file")
		os.Exit(1)
	}

	if *outputDir != "" {
		if info, err := os.Stat(*outputDir); os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "Specified directory, %s, does not exist!\n", *outputDir)
			os.Exit(1)
		} else if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to check specified directory, %s: %s!\n", *outputDir, err.Error())
			os.Exit(1)
		} else if !info.IsDir() {
			fmt.Fprintf(os.Stderr, "Specified path, %s, is not a directory!\n", *outputDir)
			os.Exit(1)
		}
	}

	logger := zap.NewNop()
	if *verbose {
		var err error
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintln(os.Stderr, err.Error())
			os.Exit(1)
		}
		defer func() {
			_ = logger.Sync()
		}()
	}

	cfg := runConfig{
		files:       flag.Args(),
		outputDir:   *outputDir,
		optionsFile: *optionsFile,
		maxRounds:   *maxRounds,
		listIDs:     *ids,
		logger:      logger,
	}
	if err := run(context.Background(), cfg, os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

type runConfig struct {
	files       []string
	outputDir   string
	optionsFile string
	maxRounds   int
	listIDs     bool
	logger      *zap.Logger
}

func run(ctx context.Context, cfg runConfig, stdout, stderr io.Writer) error {
	sources := make([]vfs.FileObject, 0, len(cfg.files))
	for _, f := range cfg.files {
		src, err := vfs.SourceFile(f)
		if err != nil {
			return err
		}
		sources = append(sources, src)
	}
	opts := processor.Options{}
	if cfg.optionsFile != "" {
		var err error
		if opts, err = processor.LoadOptions(cfg.optionsFile); err != nil {
			return err
		}
	}

	procs := processor.AllRegisteredProcessors()
	if cfg.listIDs {
		procs = append(procs, &idPrinter{out: stdout})
	}

	diags := diag.NewCollector()
	store := vfs.NewStore(vfs.NewStandardFileManager(unicode.UTF8, language.Und))
	defer func() {
		_ = store.Close()
	}()
	success, err := (&processor.Config{
		Sources:     sources,
		Processors:  procs,
		FileManager: store,
		Diagnostics: diags,
		Loader:      &processor.PackagesLoader{Logger: cfg.logger},
		Options:     opts,
		Logger:      cfg.logger,
		MaxRounds:   cfg.maxRounds,
	}).Execute(ctx)
	if err != nil {
		return err
	}
	for _, d := range diags.Diagnostics() {
		fmt.Fprintln(stderr, d.String())
	}

	if cfg.outputDir != "" {
		for _, e := range store.Files() {
			if !e.HasPayload() {
				continue
			}
			if err := writeOutput(cfg.outputDir, e); err != nil {
				return err
			}
		}
	}
	if !success {
		return fmt.Errorf("compilation failed with %d error(s)", diags.Count(diag.Error))
	}
	return nil
}

func writeOutput(dir string, e *vfs.Entry) error {
	out := filepath.Join(dir, filepath.FromSlash(e.Name()))
	if err := os.MkdirAll(filepath.Dir(out), os.ModePerm); err != nil {
		return fmt.Errorf("could not create output directory %s: %s", filepath.Dir(out), err.Error())
	}
	r, err := e.Open()
	if err != nil {
		return err
	}
	defer func() {
		_ = r.Close()
	}()
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

// idPrinter prints one line for each ID on each element, in source order.
type idPrinter struct {
	processor.Base
	out io.Writer
}

func (p *idPrinter) SupportedAnnotationTypes() []string {
	return []string{processor.IDAnnotation.String()}
}

func (p *idPrinter) Process(_ []processor.AnnotationType, round *processor.RoundEnvironment) (bool, error) {
	for _, e := range round.ElementsAnnotatedWith(processor.IDAnnotation).Slice() {
		for _, id := range collect.IDs(e) {
			if _, err := fmt.Fprintf(p.out, "%s\t%v\t%s\n", id, e.Kind(), e.QualifiedName()); err != nil {
				return false, err
			}
		}
	}
	return false, nil
}
