package processor

import (
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/jhump/gopoet"
	"go.uber.org/zap"

	"github.com/jhump/aptest/diag"
	"github.com/jhump/aptest/vfs"
)

// Filer creates the files that processors generate. Go sources created with
// CreateSourceFile are compiled in the next round. Each file can only be
// created once per compilation.
type Filer struct {
	fm       vfs.FileManager
	reporter *reporter
	logger   *zap.Logger

	created map[string]bool
	// sources created since the start of the current round
	pending   []vfs.File
	lastRound bool
}

func newFiler(fm vfs.FileManager, rep *reporter, logger *zap.Logger) *Filer {
	return &Filer{fm: fm, reporter: rep, logger: logger, created: map[string]bool{}}
}

func (f *Filer) create(loc vfs.Location, pkg, rel string) (vfs.File, error) {
	if !loc.Output {
		return nil, fmt.Errorf("%w: %v is not an output location", ErrInvalidArgument, loc)
	}
	if rel == "" {
		return nil, fmt.Errorf("%w: empty file name", ErrInvalidArgument)
	}
	uri := vfs.PackageURI(loc, pkg, rel)
	if f.created[uri] {
		return nil, fmt.Errorf("%s: %w", uri, ErrFileExists)
	}
	file, err := f.fm.FileForOutput(loc, pkg, rel, nil)
	if err != nil {
		return nil, err
	}
	f.created[uri] = true
	if f.lastRound {
		f.reporter.report(&diag.Diagnostic{
			Severity: diag.Warning,
			Message:  fmt.Sprintf("file %s created in the last round will not be processed", file.Name()),
			Source:   diag.SourceProcessor,
		})
	}
	f.logger.Debug("file created", zap.String("uri", uri))
	return file, nil
}

// CreateSourceFile creates a Go source file in the package with the given
// import path. A ".go" extension is added to name if it has none.
func (f *Filer) CreateSourceFile(pkgPath, name string) (vfs.File, error) {
	if name == "" || strings.Contains(name, "/") {
		return nil, fmt.Errorf("%w: invalid source file name %q", ErrInvalidArgument, name)
	}
	if path.Ext(name) != ".go" {
		name += ".go"
	}
	file, err := f.create(vfs.SourceOutput, "", path.Join(pkgPath, name))
	if err != nil {
		return nil, err
	}
	f.pending = append(f.pending, file)
	return file, nil
}

// CreateResource creates a file that is not compiled, relative to the given
// package in an output location.
func (f *Filer) CreateResource(loc vfs.Location, pkg, rel string) (vfs.File, error) {
	return f.create(loc, pkg, rel)
}

// GetResource returns an existing file. If there is no such file, the error
// wraps fs.ErrNotExist.
func (f *Filer) GetResource(loc vfs.Location, pkg, rel string) (vfs.File, error) {
	file, err := f.fm.FileForInput(loc, pkg, rel)
	if err != nil {
		return nil, err
	}
	if file == nil {
		return nil, &fs.PathError{Op: "open", Path: vfs.PackageURI(loc, pkg, rel), Err: fs.ErrNotExist}
	}
	return file, nil
}

// WriteGoFile renders file into a new source file, named file.Name, in the
// package with the given import path.
func (f *Filer) WriteGoFile(pkgPath string, file *gopoet.GoFile) error {
	out, err := f.CreateSourceFile(pkgPath, file.Name)
	if err != nil {
		return err
	}
	w, err := out.Create()
	if err != nil {
		return err
	}
	if err := gopoet.WriteGoFile(w, file); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// takePending returns the sources created since the last call that have
// contents.
func (f *Filer) takePending() []vfs.FileObject {
	var srcs []vfs.FileObject
	for _, file := range f.pending {
		if file.LastModified() == 0 {
			f.logger.Debug("skipping empty generated source", zap.String("name", file.Name()))
			continue
		}
		srcs = append(srcs, file)
	}
	f.pending = nil
	return srcs
}
