package vfs

import (
	"sort"
	"sync"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// Store is a file manager that keeps everything written during a compilation
// in memory. Reads from locations that are not output locations go to the base
// file manager. Everything else, including closing, is delegated to the base
// as well.
type Store struct {
	base    FileManager
	charset encoding.Encoding
	clock   func() time.Time

	mu      sync.Mutex
	entries map[string]*Entry
}

var _ FileManager = (*Store)(nil)

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithCharset sets the encoding of entries created by the store. The default
// is UTF-8.
func WithCharset(charset encoding.Encoding) StoreOption {
	return func(s *Store) {
		s.charset = charset
	}
}

// WithClock sets the clock used to stamp entries when they are written.
func WithClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		s.clock = clock
	}
}

// NewStore returns an empty store in front of the given base file manager.
func NewStore(base FileManager, opts ...StoreOption) *Store {
	s := &Store{base: base, charset: unicode.UTF8, clock: time.Now, entries: map[string]*Entry{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) getOrCreate(uri, name string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[uri]; ok {
		return e
	}
	e := newEntry(uri, name, s.charset, s.clock)
	s.entries[uri] = e
	return e
}

// FileForInput returns the existing entry for an output location, or nil if
// there is none. Other locations are looked up in the base file manager.
func (s *Store) FileForInput(loc Location, pkg, rel string) (File, error) {
	if !loc.Output {
		return s.base.FileForInput(loc, pkg, rel)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[PackageURI(loc, pkg, rel)]; ok {
		return e, nil
	}
	return nil, nil
}

// KindFileForInput returns the entry for an output location, creating it if
// necessary. Other locations are looked up in the base file manager.
func (s *Store) KindFileForInput(loc Location, qualifiedName string, kind Kind) (File, error) {
	if !loc.Output {
		return s.base.KindFileForInput(loc, qualifiedName, kind)
	}
	return s.getOrCreate(QualifiedURI(loc, qualifiedName, kind), qualifiedRelative(qualifiedName, kind)), nil
}

// FileForOutput returns the entry for the given location, package and name,
// creating it if necessary.
func (s *Store) FileForOutput(loc Location, pkg, rel string, _ FileObject) (File, error) {
	return s.getOrCreate(PackageURI(loc, pkg, rel), packageRelative(pkg, rel)), nil
}

// KindFileForOutput returns the entry for the given location, qualified name
// and kind, creating it if necessary.
func (s *Store) KindFileForOutput(loc Location, qualifiedName string, kind Kind, _ FileObject) (File, error) {
	return s.getOrCreate(QualifiedURI(loc, qualifiedName, kind), qualifiedRelative(qualifiedName, kind)), nil
}

func (s *Store) IsSameFile(a, b FileObject) bool {
	return s.base.IsSameFile(a, b)
}

func (s *Store) HasLocation(loc Location) bool {
	return s.base.HasLocation(loc)
}

// Close closes the base file manager. The entries remain readable.
func (s *Store) Close() error {
	return s.base.Close()
}

// Entry returns the entry with the given URI, or nil.
func (s *Store) Entry(uri string) *Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.entries[uri]
}

// Files returns all entries the store has created, ordered by URI. The slice
// is a copy; later changes to the store do not affect it.
func (s *Store) Files() []*Entry {
	s.mu.Lock()
	files := make([]*Entry, 0, len(s.entries))
	for _, e := range s.entries {
		files = append(files, e)
	}
	s.mu.Unlock()
	sort.Slice(files, func(i, j int) bool {
		return files[i].uri < files[j].uri
	})
	return files
}
