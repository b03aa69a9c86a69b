package vfs

import (
	"path"
	"strings"
)

// Location names a place where a file manager finds or puts files. Output
// locations receive files produced during compilation.
type Location struct {
	Name   string
	Output bool
}

func (l Location) String() string {
	return l.Name
}

// The standard locations.
var (
	SourcePath         = Location{Name: "SOURCE_PATH"}
	ClassPath          = Location{Name: "CLASS_PATH"}
	SourceOutput       = Location{Name: "SOURCE_OUTPUT", Output: true}
	ClassOutput        = Location{Name: "CLASS_OUTPUT", Output: true}
	NativeHeaderOutput = Location{Name: "NATIVE_HEADER_OUTPUT", Output: true}
)

// Kind classifies a file by its extension.
type Kind int

const (
	// KindOther is any file not covered by another kind.
	KindOther Kind = iota
	// KindSource is Go source.
	KindSource
	// KindClass is compiler export data.
	KindClass
	// KindHeader is a native header.
	KindHeader
)

// Extension returns the file extension, including the dot, for the kind.
// KindOther has no extension.
func (k Kind) Extension() string {
	switch k {
	case KindSource:
		return ".go"
	case KindClass:
		return ".x"
	case KindHeader:
		return ".h"
	default:
		return ""
	}
}

func (k Kind) String() string {
	switch k {
	case KindSource:
		return "source"
	case KindClass:
		return "class"
	case KindHeader:
		return "header"
	default:
		return "other"
	}
}

// KindOf derives a kind from the suffix of the given name or URI.
func KindOf(name string) Kind {
	switch path.Ext(name) {
	case ".go":
		return KindSource
	case ".x":
		return KindClass
	case ".h":
		return KindHeader
	default:
		return KindOther
	}
}

const scheme = "memory:///"

// PackageURI returns the URI of the file with the given relative name in the
// given package of a location. Dots in the package name become path
// separators. An empty package name is omitted.
func PackageURI(loc Location, pkg, rel string) string {
	return scheme + loc.Name + "/" + packageRelative(pkg, rel)
}

// QualifiedURI returns the URI of the file for the given fully-qualified name
// and kind in a location. Dots in the name become path separators and the
// kind's extension is appended.
func QualifiedURI(loc Location, fqn string, kind Kind) string {
	return scheme + loc.Name + "/" + qualifiedRelative(fqn, kind)
}

func packageRelative(pkg, rel string) string {
	rel = cleanRelative(rel)
	if pkg == "" {
		return rel
	}
	return cleanRelative(strings.ReplaceAll(pkg, ".", "/") + "/" + rel)
}

func qualifiedRelative(fqn string, kind Kind) string {
	return cleanRelative(strings.ReplaceAll(fqn, ".", "/")) + kind.Extension()
}

// cleanRelative cleans p so that it cannot climb out of its location.
func cleanRelative(p string) string {
	return strings.TrimPrefix(path.Clean("/"+p), "/")
}
