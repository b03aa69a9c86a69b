package fixture

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jhump/aptest/compile"
	"github.com/jhump/aptest/vfs"
)

// FixtureBuilder configures a Fixture. Invalid arguments given to its methods
// are returned by Build.
type FixtureBuilder struct {
	sources        []vfs.FileObject
	requireSuccess bool
	opts           []compile.Option
	errs           []error
}

// Builder returns a builder for a fixture with no sources that does not
// require success.
func Builder() *FixtureBuilder {
	return &FixtureBuilder{}
}

func (b *FixtureBuilder) fail(err error) *FixtureBuilder {
	b.errs = append(b.errs, err)
	return b
}

// WithSources adds sources.
func (b *FixtureBuilder) WithSources(sources ...vfs.FileObject) *FixtureBuilder {
	for i, src := range sources {
		if src == nil {
			return b.fail(fmt.Errorf("%w: source %d is nil", ErrInvalidArgument, i))
		}
	}
	b.sources = append(b.sources, sources...)
	return b
}

// WithSourcesAt adds the source files at the given paths, which must exist.
func (b *FixtureBuilder) WithSourcesAt(paths ...string) *FixtureBuilder {
	sources, err := filesAt(paths)
	if err != nil {
		return b.fail(err)
	}
	b.sources = append(b.sources, sources...)
	return b
}

// WithSourceString adds an in-memory source. See vfs.SourceString.
func (b *FixtureBuilder) WithSourceString(name, src string) *FixtureBuilder {
	if name == "" {
		return b.fail(fmt.Errorf("%w: empty source name", ErrInvalidArgument))
	}
	b.sources = append(b.sources, vfs.SourceString(name, src))
	return b
}

// WithSourceStrings adds in-memory sources keyed by name, in name order.
func (b *FixtureBuilder) WithSourceStrings(sources map[string]string) *FixtureBuilder {
	names := make([]string, 0, len(sources))
	for name := range sources {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		b.WithSourceString(name, sources[name])
	}
	return b
}

// RequireSuccess sets whether evaluation fails when the sources do not
// compile cleanly. When it does, queries are not available.
func (b *FixtureBuilder) RequireSuccess(require bool) *FixtureBuilder {
	b.requireSuccess = require
	return b
}

// WithCompileOptions adds options for the compilation.
func (b *FixtureBuilder) WithCompileOptions(opts ...compile.Option) *FixtureBuilder {
	for i, opt := range opts {
		if opt == nil {
			return b.fail(fmt.Errorf("%w: compile option %d is nil", ErrInvalidArgument, i))
		}
	}
	b.opts = append(b.opts, opts...)
	return b
}

// Build returns the configured fixture.
func (b *FixtureBuilder) Build() (*Fixture, error) {
	if len(b.errs) > 0 {
		return nil, errors.Join(b.errs...)
	}
	return &Fixture{
		sources:        append([]vfs.FileObject{}, b.sources...),
		requireSuccess: b.requireSuccess,
		opts:           append([]compile.Option(nil), b.opts...),
	}, nil
}
