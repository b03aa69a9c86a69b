package vfs

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/text/encoding/unicode"
)

// SourceString returns an in-memory source file with the given name and
// contents. The name is a slash-separated path, such as "data/data.go". Its
// directory, if it has one, is the import path of the file's package.
func SourceString(name, content string) *Entry {
	rel := cleanRelative(name)
	e := newEntry(PackageURI(SourcePath, "", rel), rel, unicode.UTF8, time.Now)
	e.commit([]byte(content))
	return e
}

// SourceFile returns a source file on the host file system. The file is not
// read until its contents are needed, but it must exist now.
func SourceFile(path string) (FileObject, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", path)
	}
	return newHostFile(path, filepath.Base(path), unicode.UTF8), nil
}
