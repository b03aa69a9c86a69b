package processor

import (
	"context"
	"errors"
	"fmt"
	"go/types"
	"slices"
	"strings"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"golang.org/x/tools/go/packages"
)

// Loader supplies the packages that are not compiled in memory.
type Loader interface {
	// Importer returns an importer that can import the given packages. The
	// importer must not be asked for any other package.
	Importer(ctx context.Context, paths []string) (types.Importer, error)
	// Syntax returns the parsed and type-checked source of a package. The
	// engine uses it to read the declarations of annotation types.
	Syntax(ctx context.Context, pkgPath string) (*Package, error)
}

// PackagesLoader is a Loader that uses golang.org/x/tools/go/packages, and so
// the go command. Results are cached for the life of the process, keyed by
// directory, environment and the requested packages, so loaders that run
// different go commands do not share results.
type PackagesLoader struct {
	// The directory in which to run the go command. If empty, the current
	// working directory is used.
	Dir string
	// Environment for the go command. If nil, the current environment is used.
	Env []string
	// If nil, nothing is logged.
	Logger *zap.Logger
}

const (
	importerMode = packages.NeedName | packages.NeedImports | packages.NeedDeps | packages.NeedTypes
	syntaxMode   = packages.NeedName | packages.NeedFiles | packages.NeedImports |
		packages.NeedTypes | packages.NeedSyntax | packages.NeedTypesInfo
)

type loadCache struct {
	mu      sync.Mutex
	results map[string]any
	group   singleflight.Group
}

var sharedCache = &loadCache{results: map[string]any{}}

func (c *loadCache) get(key string, load func() (any, error)) (v any, hit bool, err error) {
	c.mu.Lock()
	v, ok := c.results[key]
	c.mu.Unlock()
	if ok {
		return v, true, nil
	}
	v, err, _ = c.group.Do(key, func() (any, error) {
		v, err := load()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.results[key] = v
		c.mu.Unlock()
		return v, nil
	})
	return v, false, err
}

func (l *PackagesLoader) logger() *zap.Logger {
	if l.Logger == nil {
		return zap.NewNop()
	}
	return l.Logger
}

func (l *PackagesLoader) cacheKey(kind string, paths ...string) string {
	var sb strings.Builder
	sb.WriteString(kind)
	sb.WriteByte(0)
	sb.WriteString(l.Dir)
	sb.WriteByte(0)
	if l.Env == nil {
		sb.WriteString("inherit")
	} else {
		// the order of the environment matters: later entries win
		sb.WriteString("env\x01" + strings.Join(l.Env, "\x01"))
	}
	for _, p := range paths {
		sb.WriteByte(0)
		sb.WriteString(p)
	}
	return sb.String()
}

func (l *PackagesLoader) config(ctx context.Context, mode packages.LoadMode) *packages.Config {
	return &packages.Config{Context: ctx, Mode: mode, Dir: l.Dir, Env: l.Env}
}

// Importer loads the given packages, and everything they depend on, from
// export data.
func (l *PackagesLoader) Importer(ctx context.Context, paths []string) (types.Importer, error) {
	paths = slices.Compact(slices.Sorted(slices.Values(paths)))
	if len(paths) == 0 {
		return importerFunc(func(path string) (*types.Package, error) {
			return nil, fmt.Errorf("package %q not found", path)
		}), nil
	}
	key := l.cacheKey("types", paths...)
	v, hit, err := sharedCache.get(key, func() (any, error) {
		pkgs, err := packages.Load(l.config(ctx, importerMode), paths...)
		if err != nil {
			return nil, fmt.Errorf("loading dependencies: %w", err)
		}
		all := map[string]*types.Package{}
		failed := map[string]error{}
		packages.Visit(pkgs, nil, func(p *packages.Package) {
			if len(p.Errors) > 0 {
				errs := make([]error, len(p.Errors))
				for i := range p.Errors {
					errs[i] = p.Errors[i]
				}
				failed[p.PkgPath] = errors.Join(errs...)
				return
			}
			if p.Types != nil {
				all[p.PkgPath] = p.Types
			}
		})
		return &importResult{pkgs: all, failed: failed}, nil
	})
	if err != nil {
		return nil, err
	}
	l.logger().Debug("dependencies loaded", zap.Strings("packages", paths), zap.Bool("cached", hit))
	return v.(*importResult), nil
}

type importResult struct {
	pkgs   map[string]*types.Package
	failed map[string]error
}

func (r *importResult) Import(path string) (*types.Package, error) {
	if err := r.failed[path]; err != nil {
		return nil, err
	}
	if pkg := r.pkgs[path]; pkg != nil {
		return pkg, nil
	}
	return nil, fmt.Errorf("package %q not found", path)
}

type importerFunc func(path string) (*types.Package, error)

func (f importerFunc) Import(path string) (*types.Package, error) {
	return f(path)
}

// Syntax loads the source of the given package.
func (l *PackagesLoader) Syntax(ctx context.Context, pkgPath string) (*Package, error) {
	key := l.cacheKey("syntax", pkgPath)
	v, hit, err := sharedCache.get(key, func() (any, error) {
		pkgs, err := packages.Load(l.config(ctx, syntaxMode), pkgPath)
		if err != nil {
			return nil, fmt.Errorf("loading %q: %w", pkgPath, err)
		}
		if len(pkgs) != 1 {
			return nil, fmt.Errorf("loading %q: expecting 1 package, got %d", pkgPath, len(pkgs))
		}
		p := pkgs[0]
		if len(p.Errors) > 0 {
			return nil, fmt.Errorf("loading %q: %w", pkgPath, p.Errors[0])
		}
		return &Package{
			Path:  p.PkgPath,
			Name:  p.Name,
			Files: p.Syntax,
			Types: p.Types,
			Info:  p.TypesInfo,
			fset:  p.Fset,
		}, nil
	})
	if err != nil {
		return nil, err
	}
	l.logger().Debug("package source loaded", zap.String("package", pkgPath), zap.Bool("cached", hit))
	return v.(*Package), nil
}
