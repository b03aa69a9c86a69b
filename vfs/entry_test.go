package vfs

import (
	"errors"
	"io"
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/language"
)

func fixedClock(millis int64) func() time.Time {
	return func() time.Time {
		return time.UnixMilli(millis)
	}
}

func newTestStore(opts ...StoreOption) *Store {
	return NewStore(NewStandardFileManager(nil, language.English), opts...)
}

func outputEntry(t *testing.T, s *Store, rel string) *Entry {
	t.Helper()
	f, err := s.FileForOutput(SourceOutput, "p", rel, nil)
	require.NoError(t, err)
	return f.(*Entry)
}

func write(t *testing.T, f File, data string) {
	t.Helper()
	w, err := f.Create()
	require.NoError(t, err)
	_, err = io.WriteString(w, data)
	require.NoError(t, err)
	require.NoError(t, w.Close())
}

func TestEntry_NoPayload(t *testing.T) {
	e := outputEntry(t, newTestStore(), "x.go")
	assert.False(t, e.HasPayload())
	assert.Zero(t, e.LastModified())

	_, err := e.Open()
	assert.True(t, errors.Is(err, fs.ErrNotExist), "unexpected error: %v", err)
	_, err = e.Reader(false)
	assert.True(t, errors.Is(err, fs.ErrNotExist), "unexpected error: %v", err)
	_, err = e.Contents()
	assert.True(t, errors.Is(err, fs.ErrNotExist), "unexpected error: %v", err)

	var pathErr *fs.PathError
	require.ErrorAs(t, err, &pathErr)
	assert.Equal(t, e.URI(), pathErr.Path)
}

func TestEntry_WriteAndRead(t *testing.T) {
	e := outputEntry(t, newTestStore(WithClock(fixedClock(5000))), "x.go")
	assert.Equal(t, KindSource, e.Kind())

	w, err := e.Create()
	require.NoError(t, err)
	_, err = io.WriteString(w, "package p\n")
	require.NoError(t, err)
	// nothing is visible until the writer is closed
	assert.False(t, e.HasPayload())
	require.NoError(t, w.Close())
	// closing twice is harmless
	require.NoError(t, w.Close())
	_, err = w.Write([]byte("more"))
	assert.ErrorIs(t, err, fs.ErrClosed)

	contents, err := e.Contents()
	require.NoError(t, err)
	assert.Equal(t, "package p\n", contents)
	assert.Equal(t, int64(5000), e.LastModified())

	r, err := e.Open()
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte("package p\n"), data)

	// an empty write still produces a payload
	write(t, e, "")
	contents, err = e.Contents()
	require.NoError(t, err)
	assert.Empty(t, contents)
}

func TestEntry_StampIsMonotonic(t *testing.T) {
	e := outputEntry(t, newTestStore(WithClock(fixedClock(1000))), "x.go")
	write(t, e, "a")
	assert.Equal(t, int64(1000), e.LastModified())
	write(t, e, "b")
	assert.Equal(t, int64(1001), e.LastModified())
	write(t, e, "c")
	assert.Equal(t, int64(1002), e.LastModified())

	assert.True(t, e.Delete())
	assert.Zero(t, e.LastModified())
	assert.False(t, e.HasPayload())
	_, err := e.Contents()
	assert.ErrorIs(t, err, fs.ErrNotExist)

	write(t, e, "d")
	assert.Equal(t, int64(1000), e.LastModified())
}

func TestEntry_Charset(t *testing.T) {
	e := outputEntry(t, newTestStore(WithCharset(charmap.ISO8859_1)), "notes.txt")
	assert.Equal(t, KindOther, e.Kind())

	w, err := e.Writer()
	require.NoError(t, err)
	_, err = io.WriteString(w, "café")
	require.NoError(t, err)
	require.NoError(t, w.Close())

	r, err := e.Open()
	require.NoError(t, err)
	raw, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, []byte{'c', 'a', 'f', 0xE9}, raw)

	contents, err := e.Contents()
	require.NoError(t, err)
	assert.Equal(t, "café", contents)
}

func TestEntry_EncodingErrors(t *testing.T) {
	e := outputEntry(t, newTestStore(), "bad.go")
	write(t, e, "ok\xff")

	r, err := e.Reader(false)
	require.NoError(t, err)
	_, err = io.ReadAll(r)
	assert.ErrorIs(t, err, encoding.ErrInvalidUTF8)

	r, err = e.Reader(true)
	require.NoError(t, err)
	data, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, "ok�", string(data))
}

func TestIsSameFile(t *testing.T) {
	s := newTestStore()
	a := outputEntry(t, s, "a.go")
	b := outputEntry(t, s, "b.go")
	assert.True(t, IsSameFile(a, a))
	assert.False(t, IsSameFile(a, b))
	assert.False(t, IsSameFile(a, SourceString("a.go", "")))
	assert.True(t, s.IsSameFile(a, outputEntry(t, s, "a.go")))
	assert.False(t, IsSameFile(a, nil))
}
