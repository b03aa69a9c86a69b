package processor

import (
	"errors"
	"fmt"
	"go/ast"
	goparser "go/parser"
	"go/scanner"
	"go/token"
	"go/types"
	"path"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/jhump/aptest/diag"
	"github.com/jhump/aptest/vfs"
)

// unit is a package whose sources are compiled in memory.
type unit struct {
	path   string
	name   string
	files  []*ast.File
	broken bool

	checking bool
	pkg      *Package
	// type errors from the latest check, reported once processing is over
	typeErrs []*diag.Diagnostic
}

// reporter forwards diagnostics to a listener and counts errors.
type reporter struct {
	listener diag.Listener
	errors   int
	// the first error returned by the listener
	err error
}

func (r *reporter) report(d *diag.Diagnostic) {
	if d.Severity == diag.Error {
		r.errors++
	}
	if err := r.listener.Report(d); err != nil && r.err == nil {
		r.err = err
	}
}

func (r *reporter) reportError(source string, err error) {
	pos, msg := positionOf(err)
	r.report(&diag.Diagnostic{Severity: diag.Error, Pos: pos, Message: msg, Source: source})
}

// checker parses and type-checks in-memory sources.
type checker struct {
	fset     *token.FileSet
	res      *resolver
	reporter *reporter
	logger   *zap.Logger

	units    map[string]*unit
	external map[string]bool
	importer types.Importer
}

func newChecker(res *resolver, rep *reporter, logger *zap.Logger) *checker {
	return &checker{
		fset:     token.NewFileSet(),
		res:      res,
		reporter: rep,
		logger:   logger,
		units:    map[string]*unit{},
		external: map[string]bool{},
	}
}

// parse parses the given sources and adds them to their packages. It returns
// the packages that received files, sorted by path.
func (c *checker) parse(sources []vfs.FileObject) []*unit {
	touched := map[string]*unit{}
	for _, src := range sources {
		name := src.Name()
		text, err := src.Contents()
		if err != nil {
			c.reporter.report(&diag.Diagnostic{
				Severity: diag.Error,
				Message:  fmt.Sprintf("could not read %s: %v", name, err),
				Source:   diag.SourceParser,
			})
			continue
		}
		file, err := goparser.ParseFile(c.fset, name, text, goparser.ParseComments|goparser.AllErrors)
		if err != nil {
			c.reportParseError(err)
		}
		pkgPath := path.Dir(name)
		if pkgPath == "." {
			if file == nil || file.Name == nil || file.Name.Name == "" {
				continue
			}
			pkgPath = file.Name.Name
		}
		u := c.units[pkgPath]
		if u == nil {
			u = &unit{path: pkgPath}
			c.units[pkgPath] = u
		}
		touched[pkgPath] = u
		if err != nil || file == nil {
			u.broken = true
			continue
		}
		switch {
		case u.name == "":
			u.name = file.Name.Name
		case u.name != file.Name.Name:
			c.reporter.report(&diag.Diagnostic{
				Severity: diag.Error,
				Pos:      c.fset.Position(file.Name.Pos()),
				Message:  fmt.Sprintf("found packages %s and %s in %s", u.name, file.Name.Name, pkgPath),
				Source:   diag.SourceParser,
			})
			u.broken = true
		}
		u.files = append(u.files, file)
	}
	units := make([]*unit, 0, len(touched))
	for _, u := range touched {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool {
		return units[i].path < units[j].path
	})
	return units
}

func (c *checker) reportParseError(err error) {
	var list scanner.ErrorList
	if !errors.As(err, &list) {
		c.reporter.reportError(diag.SourceParser, err)
		return
	}
	for _, e := range list {
		c.reporter.report(&diag.Diagnostic{Severity: diag.Error, Pos: e.Pos, Message: e.Msg, Source: diag.SourceParser})
	}
}

// resolveImports makes sure the importer can provide every package imported
// by the given units that is not compiled in memory.
func (c *checker) resolveImports(units []*unit) error {
	added := false
	for _, u := range units {
		for _, f := range u.files {
			for _, imp := range f.Imports {
				p, err := strconv.Unquote(imp.Path.Value)
				if err != nil || p == "unsafe" || p == "C" || c.units[p] != nil || c.external[p] {
					continue
				}
				c.external[p] = true
				added = true
			}
		}
	}
	if !added && c.importer != nil {
		return nil
	}
	paths := make([]string, 0, len(c.external))
	for p := range c.external {
		paths = append(paths, p)
	}
	imp, err := c.res.loader.Importer(c.res.ctx, paths)
	if err != nil {
		return err
	}
	c.importer = imp
	return nil
}

// check type-checks the unit, if it has not been already, and registers the
// result with the resolver.
func (c *checker) check(u *unit) (*Package, error) {
	if u.pkg != nil {
		return u.pkg, nil
	}
	if u.broken {
		return nil, fmt.Errorf("package %s has errors", u.path)
	}
	if u.checking {
		return nil, fmt.Errorf("import cycle through package %s", u.path)
	}
	u.checking = true
	defer func() {
		u.checking = false
	}()
	u.typeErrs = nil

	info := &types.Info{
		Types:  map[ast.Expr]types.TypeAndValue{},
		Defs:   map[*ast.Ident]types.Object{},
		Uses:   map[*ast.Ident]types.Object{},
		Scopes: map[ast.Node]*types.Scope{},
	}
	conf := types.Config{
		Importer: importerFunc(c.importPackage),
		Error: func(err error) {
			d := &diag.Diagnostic{Severity: diag.Error, Source: diag.SourceTypes}
			var te types.Error
			if errors.As(err, &te) {
				d.Pos, d.Message = te.Fset.Position(te.Pos), te.Msg
			} else {
				d.Pos, d.Message = positionOf(err)
			}
			u.typeErrs = append(u.typeErrs, d)
		},
	}
	// errors are delivered to conf.Error
	tpkg, _ := conf.Check(u.path, c.fset, u.files, info)
	u.pkg = &Package{
		Path:  u.path,
		Name:  u.name,
		Files: u.files,
		Types: tpkg,
		Info:  info,
		fset:  c.fset,
	}
	c.res.packages[u.path] = u.pkg
	c.logger.Debug("package checked", zap.String("package", u.path), zap.Int("files", len(u.files)))
	return u.pkg, nil
}

func (c *checker) importPackage(pkgPath string) (*types.Package, error) {
	if pkgPath == "unsafe" {
		return types.Unsafe, nil
	}
	if u := c.units[pkgPath]; u != nil {
		pkg, err := c.check(u)
		if err != nil {
			return nil, err
		}
		return pkg.Types, nil
	}
	if c.importer == nil {
		return nil, fmt.Errorf("package %q not found", pkgPath)
	}
	return c.importer.Import(pkgPath)
}

// recheck discards the results of checking the given units and checks them
// again.
func (c *checker) recheck(units []*unit) {
	for _, u := range units {
		u.pkg = nil
		delete(c.res.packages, u.path)
	}
	for _, u := range units {
		// the error only says that the package is broken, which was
		// already reported
		_, _ = c.check(u)
	}
}

// finish checks every unit again, now that no more sources will be added,
// and reports the type errors that remain. Errors from earlier checks may
// refer to declarations that processors generated later.
func (c *checker) finish() {
	units := make([]*unit, 0, len(c.units))
	for _, u := range c.units {
		units = append(units, u)
	}
	sort.Slice(units, func(i, j int) bool {
		return units[i].path < units[j].path
	})
	c.recheck(units)
	for _, u := range units {
		for _, d := range u.typeErrs {
			c.reporter.report(d)
		}
	}
}

// packages returns the checked packages, sorted by path.
func (c *checker) packages() []*Package {
	var pkgs []*Package
	for _, u := range c.units {
		if u.pkg != nil {
			pkgs = append(pkgs, u.pkg)
		}
	}
	sort.Slice(pkgs, func(i, j int) bool {
		return pkgs[i].Path < pkgs[j].Path
	})
	return pkgs
}
