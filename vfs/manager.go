package vfs

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/language"
	"golang.org/x/text/transform"
)

// ErrClosed is returned by a file manager that has been closed.
var ErrClosed = errors.New("vfs: file manager is closed")

// ErrLocationNotSet is returned when writing to a location that has no
// directory.
var ErrLocationNotSet = errors.New("vfs: location not set")

// FileManager finds and creates the files that a compilation uses. Lookups
// that find nothing return a nil file and a nil error.
type FileManager interface {
	// FileForInput returns the existing file with the given name, relative to
	// the given package in a location.
	FileForInput(loc Location, pkg, rel string) (File, error)
	// KindFileForInput returns the existing file for the given qualified name
	// and kind in a location.
	KindFileForInput(loc Location, qualifiedName string, kind Kind) (File, error)
	// FileForOutput returns a file for writing with the given name, relative to
	// the given package in a location. The sibling, if not nil, is a hint for
	// where to put it.
	FileForOutput(loc Location, pkg, rel string, sibling FileObject) (File, error)
	// KindFileForOutput returns a file for writing for the given qualified name
	// and kind in a location.
	KindFileForOutput(loc Location, qualifiedName string, kind Kind, sibling FileObject) (File, error)
	IsSameFile(a, b FileObject) bool
	HasLocation(loc Location) bool
	Close() error
}

// StandardFileManager finds files on the host file system. Each location is
// searched through its list of directories, in order.
type StandardFileManager struct {
	charset encoding.Encoding
	locale  language.Tag

	mu     sync.Mutex
	dirs   map[Location][]string
	closed bool
}

var _ FileManager = (*StandardFileManager)(nil)

// NewStandardFileManager returns a file manager over the host file system. A
// nil charset means UTF-8. No location has directories until SetLocation is
// called.
func NewStandardFileManager(charset encoding.Encoding, locale language.Tag) *StandardFileManager {
	if charset == nil {
		charset = unicode.UTF8
	}
	return &StandardFileManager{charset: charset, locale: locale, dirs: map[Location][]string{}}
}

// Charset returns the encoding used for text files.
func (m *StandardFileManager) Charset() encoding.Encoding {
	return m.charset
}

// Locale returns the locale given when the manager was created.
func (m *StandardFileManager) Locale() language.Tag {
	return m.locale
}

// SetLocation sets the directories searched for the given location.
func (m *StandardFileManager) SetLocation(loc Location, dirs ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dirs[loc] = append([]string(nil), dirs...)
}

// Location returns the directories of the given location.
func (m *StandardFileManager) Location(loc Location) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.dirs[loc]...)
}

func (m *StandardFileManager) locationDirs(loc Location) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, ErrClosed
	}
	return m.dirs[loc], nil
}

func (m *StandardFileManager) FileForInput(loc Location, pkg, rel string) (File, error) {
	return m.find(loc, packageRelative(pkg, rel))
}

func (m *StandardFileManager) KindFileForInput(loc Location, qualifiedName string, kind Kind) (File, error) {
	return m.find(loc, qualifiedRelative(qualifiedName, kind))
}

func (m *StandardFileManager) find(loc Location, rel string) (File, error) {
	dirs, err := m.locationDirs(loc)
	if err != nil {
		return nil, err
	}
	for _, dir := range dirs {
		p := filepath.Join(dir, filepath.FromSlash(rel))
		info, err := os.Stat(p)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		} else if err != nil {
			return nil, err
		}
		if info.IsDir() {
			continue
		}
		return newHostFile(p, rel, m.charset), nil
	}
	return nil, nil
}

func (m *StandardFileManager) FileForOutput(loc Location, pkg, rel string, _ FileObject) (File, error) {
	return m.output(loc, packageRelative(pkg, rel))
}

func (m *StandardFileManager) KindFileForOutput(loc Location, qualifiedName string, kind Kind, _ FileObject) (File, error) {
	return m.output(loc, qualifiedRelative(qualifiedName, kind))
}

func (m *StandardFileManager) output(loc Location, rel string) (File, error) {
	dirs, err := m.locationDirs(loc)
	if err != nil {
		return nil, err
	}
	if len(dirs) == 0 {
		return nil, fmt.Errorf("%w: %v", ErrLocationNotSet, loc)
	}
	return newHostFile(filepath.Join(dirs[0], filepath.FromSlash(rel)), rel, m.charset), nil
}

func (m *StandardFileManager) IsSameFile(a, b FileObject) bool {
	return IsSameFile(a, b)
}

func (m *StandardFileManager) HasLocation(loc Location) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.dirs[loc]) > 0
}

// Close marks the manager closed. Later lookups fail with ErrClosed.
func (m *StandardFileManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// Closed reports whether Close has been called.
func (m *StandardFileManager) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// hostFile is a file on the host file system. It is read lazily.
type hostFile struct {
	path    string
	name    string
	charset encoding.Encoding
}

func newHostFile(path, name string, charset encoding.Encoding) *hostFile {
	return &hostFile{path: path, name: name, charset: charset}
}

func (f *hostFile) URI() string {
	p := f.path
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return "file://" + filepath.ToSlash(p)
}

func (f *hostFile) Name() string {
	return f.name
}

func (f *hostFile) Kind() Kind {
	return KindOf(f.path)
}

func (f *hostFile) String() string {
	return f.path
}

func (f *hostFile) Contents() (string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		return "", err
	}
	decoded, _, err := transform.Bytes(f.charset.NewDecoder(), data)
	if err != nil {
		return "", err
	}
	return string(decoded), nil
}

func (f *hostFile) Open() (io.ReadCloser, error) {
	return os.Open(f.path)
}

func (f *hostFile) Create() (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o755); err != nil {
		return nil, err
	}
	return os.Create(f.path)
}

func (f *hostFile) LastModified() int64 {
	info, err := os.Stat(f.path)
	if err != nil {
		return 0
	}
	return info.ModTime().UnixMilli()
}

func (f *hostFile) Delete() bool {
	return os.Remove(f.path) == nil
}
