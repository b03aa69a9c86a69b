package processor

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"reflect"
	"sort"

	"github.com/jhump/aptest"
)

// AnnotationType identifies an annotation type by its package import path and
// its name. The zero value identifies no type.
type AnnotationType struct {
	PkgPath string
	Name    string
}

// TypeFor returns the annotation type for the Go type T, which must be a named
// type.
func TypeFor[T any]() AnnotationType {
	rt := reflect.TypeFor[T]()
	return AnnotationType{PkgPath: rt.PkgPath(), Name: rt.Name()}
}

func annotationTypeOf(tn *types.TypeName) AnnotationType {
	if tn.Pkg() == nil {
		return AnnotationType{Name: tn.Name()}
	}
	return AnnotationType{PkgPath: tn.Pkg().Path(), Name: tn.Name()}
}

// IsZero returns true if t identifies no type.
func (t AnnotationType) IsZero() bool {
	return t == AnnotationType{}
}

// String returns the qualified name of the type, such as
// "github.com/jhump/aptest.ID".
func (t AnnotationType) String() string {
	if t.PkgPath == "" {
		return t.Name
	}
	return t.PkgPath + "." + t.Name
}

func (t AnnotationType) less(o AnnotationType) bool {
	if t.PkgPath == o.PkgPath {
		return t.Name < o.Name
	}
	return t.PkgPath < o.PkgPath
}

var (
	annotationAnnotation = TypeFor[aptest.Annotation]()
	requiredAnnotation   = TypeFor[aptest.Required]()
	defaultAnnotation    = TypeFor[aptest.DefaultValue]()

	// IDAnnotation is the annotation type of aptest.ID.
	IDAnnotation = TypeFor[aptest.ID]()
)

// Package is a package compiled from in-memory sources.
type Package struct {
	Path  string
	Name  string
	Files []*ast.File
	Types *types.Package
	Info  *types.Info

	fset *token.FileSet
}

// Element is a declaration in the compiled sources: a type, field, method,
// function, parameter, type parameter, variable, or constant. Elements are
// created by the compiler and compared by identity.
type Element struct {
	// The element as a types.Object.
	Obj types.Object
	// The element's identifier in the source AST.
	Ident *ast.Ident
	// The AST for the file in which this element is declared.
	File *ast.File
	// The package in which this element is declared.
	Package *Package

	// The enclosing element. Top-level declarations have no parent. Fields,
	// methods, and type parameters are enclosed by their type. Parameters and
	// local variables are enclosed by their function or method.
	Parent *Element
	// Enclosed elements, in source order.
	Children []*Element

	// The element types that apply to this element, most general first.
	ApplicableTypes []aptest.ElementType
	// The annotations on this element, grouped by annotation type.
	Annotations []AnnotationMirror

	pos token.Position
}

// Name returns the simple name of the element.
func (e *Element) Name() string {
	return e.Ident.Name
}

// QualifiedName returns the name of the element qualified by the package path
// and any enclosing type. Parameters, type parameters, and local variables
// have no qualified name beyond their simple name.
func (e *Element) QualifiedName() string {
	switch e.Kind() {
	case aptest.Parameters, aptest.TypeParameters, aptest.LocalVariables:
		return e.Name()
	}
	if e.Parent != nil {
		return e.Parent.QualifiedName() + "." + e.Name()
	}
	return e.Package.Path + "." + e.Name()
}

// Kind returns the most specific element type that applies to this element.
func (e *Element) Kind() aptest.ElementType {
	return e.ApplicableTypes[len(e.ApplicableTypes)-1]
}

// IsElementType returns true if this element is the given element type. It is
// considered to be the given type if the given type appears in the element's
// set of applicable types.
func (e *Element) IsElementType(et aptest.ElementType) bool {
	for _, t := range e.ApplicableTypes {
		if t == et {
			return true
		}
	}
	return false
}

// Exported reports whether the element's name is exported.
func (e *Element) Exported() bool {
	return ast.IsExported(e.Name())
}

// Pos returns the location of the element's name in source.
func (e *Element) Pos() token.Position {
	return e.pos
}

// FindAnnotations returns annotation mirrors whose annotation type is the given
// type.
func (e *Element) FindAnnotations(at AnnotationType) []AnnotationMirror {
	return findAnnotations(e.Annotations, at)
}

func (e *Element) String() string {
	return fmt.Sprintf("%v %s", e.Kind(), e.QualifiedName())
}

func findAnnotations(annos []AnnotationMirror, at AnnotationType) []AnnotationMirror {
	i := sort.Search(len(annos), func(n int) bool {
		return !annos[n].Type().less(at)
	})
	var matches []AnnotationMirror
	for ; i < len(annos) && annos[i].Type() == at; i++ {
		matches = append(matches, annos[i])
	}
	return matches
}

// walk calls fn for e and each element it encloses, depth first.
func (e *Element) walk(fn func(*Element)) {
	fn(e)
	for _, c := range e.Children {
		c.walk(fn)
	}
}

// ElementSet is a set of elements.
type ElementSet map[*Element]struct{}

// NewElementSet returns a set holding the given elements.
func NewElementSet(elems ...*Element) ElementSet {
	s := make(ElementSet, len(elems))
	for _, e := range elems {
		s.Add(e)
	}
	return s
}

func (s ElementSet) Add(e *Element) {
	s[e] = struct{}{}
}

func (s ElementSet) AddAll(o ElementSet) {
	for e := range o {
		s[e] = struct{}{}
	}
}

func (s ElementSet) Contains(e *Element) bool {
	_, ok := s[e]
	return ok
}

func (s ElementSet) Len() int {
	return len(s)
}

// Slice returns the elements in source order: by file name, then offset, then
// name.
func (s ElementSet) Slice() []*Element {
	elems := make([]*Element, 0, len(s))
	for e := range s {
		elems = append(elems, e)
	}
	sort.Slice(elems, func(i, j int) bool {
		pi, pj := elems[i].pos, elems[j].pos
		if pi.Filename != pj.Filename {
			return pi.Filename < pj.Filename
		}
		if pi.Offset != pj.Offset {
			return pi.Offset < pj.Offset
		}
		return elems[i].Name() < elems[j].Name()
	})
	return elems
}

// Clone returns a copy of the set. The copy of a nil set is empty, not nil.
func (s ElementSet) Clone() ElementSet {
	c := make(ElementSet, len(s))
	c.AddAll(s)
	return c
}
