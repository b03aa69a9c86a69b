// Package vfs provides the in-memory files that a compilation reads and
// writes, the store that holds them, and a file manager backed by the host
// file system for everything else.
package vfs

import (
	"bytes"
	"io"
	"io/fs"
	"sync"
	"time"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// FileObject is a file that can be given to a compilation as a source.
type FileObject interface {
	// URI uniquely identifies the file.
	URI() string
	// Name is the file's path relative to its location or, for files on the
	// host file system, its base name.
	Name() string
	Kind() Kind
	// Contents returns the decoded text of the file.
	Contents() (string, error)
}

// File is a file managed by a FileManager. It can be read and written.
type File interface {
	FileObject
	Open() (io.ReadCloser, error)
	Create() (io.WriteCloser, error)
	// LastModified returns the modification time in milliseconds since the
	// epoch, or zero if the file has no contents.
	LastModified() int64
	Delete() bool
}

// IsSameFile reports whether a and b refer to the same file, meaning their
// URIs are textually equal.
func IsSameFile(a, b FileObject) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.URI() == b.URI()
}

// Entry is a file that only exists in memory. An entry has no payload until
// something writes it. Writes are buffered and replace the payload when the
// writer is closed.
type Entry struct {
	uri     string
	name    string
	kind    Kind
	charset encoding.Encoding
	clock   func() time.Time

	mu      sync.Mutex
	payload []byte
	stamp   int64
}

var _ File = (*Entry)(nil)

func newEntry(uri, name string, charset encoding.Encoding, clock func() time.Time) *Entry {
	if charset == nil {
		charset = unicode.UTF8
	}
	if clock == nil {
		clock = time.Now
	}
	return &Entry{uri: uri, name: name, kind: KindOf(uri), charset: charset, clock: clock}
}

func (e *Entry) URI() string {
	return e.uri
}

func (e *Entry) Name() string {
	return e.name
}

func (e *Entry) Kind() Kind {
	return e.kind
}

func (e *Entry) String() string {
	return e.uri
}

// Charset returns the encoding used to read and write text.
func (e *Entry) Charset() encoding.Encoding {
	return e.charset
}

func (e *Entry) contents() ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.payload == nil {
		return nil, &fs.PathError{Op: "open", Path: e.uri, Err: fs.ErrNotExist}
	}
	return e.payload, nil
}

// HasPayload reports whether the entry has been written.
func (e *Entry) HasPayload() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.payload != nil
}

// Open returns a reader of the raw bytes of the entry.
func (e *Entry) Open() (io.ReadCloser, error) {
	data, err := e.contents()
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

// Reader returns a reader of the entry's text, decoded with its charset. If
// ignoreEncodingErrors is false and the charset is UTF-8, invalid input is
// reported as an error instead of being replaced.
func (e *Entry) Reader(ignoreEncodingErrors bool) (io.Reader, error) {
	data, err := e.contents()
	if err != nil {
		return nil, err
	}
	var t transform.Transformer = e.charset.NewDecoder()
	if !ignoreEncodingErrors && e.charset == unicode.UTF8 {
		t = transform.Chain(encoding.UTF8Validator, t)
	}
	return transform.NewReader(bytes.NewReader(data), t), nil
}

// Contents returns the entry's decoded text.
func (e *Entry) Contents() (string, error) {
	r, err := e.Reader(true)
	if err != nil {
		return "", err
	}
	b, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Create returns a writer of raw bytes. The entry's payload is replaced when
// the writer is closed.
func (e *Entry) Create() (io.WriteCloser, error) {
	return &entryWriter{entry: e}, nil
}

// Writer returns a writer of text, encoded with the entry's charset. The
// entry's payload is replaced when the writer is closed.
func (e *Entry) Writer() (io.WriteCloser, error) {
	w := &entryWriter{entry: e}
	return &textWriter{enc: transform.NewWriter(w, e.charset.NewEncoder()), w: w}, nil
}

// LastModified returns the time of the last write in milliseconds since the
// epoch. Every write advances it by at least one, even when the clock does
// not move.
func (e *Entry) LastModified() int64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stamp
}

// Delete removes the entry's payload and resets its modification time. The
// entry itself remains in its store and can be written again.
func (e *Entry) Delete() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.payload = nil
	e.stamp = 0
	return true
}

func (e *Entry) commit(data []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if data == nil {
		data = []byte{}
	}
	e.payload = data
	e.stamp = max(e.clock().UnixMilli(), e.stamp+1)
}

type entryWriter struct {
	entry  *Entry
	buf    bytes.Buffer
	closed bool
}

func (w *entryWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, fs.ErrClosed
	}
	return w.buf.Write(p)
}

func (w *entryWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.entry.commit(bytes.Clone(w.buf.Bytes()))
	return nil
}

type textWriter struct {
	enc *transform.Writer
	w   *entryWriter
}

func (w *textWriter) Write(p []byte) (int, error) {
	return w.enc.Write(p)
}

func (w *textWriter) Close() error {
	if w.w.closed {
		return nil
	}
	if err := w.enc.Close(); err != nil {
		return err
	}
	return w.w.Close()
}
