package aptest

import (
	"errors"
	"fmt"
)

// ErrInvalidArgument is the error returned, possibly wrapped, whenever a
// function in this module is given an argument it cannot accept: a nil
// processor, a nil source, an empty identifier, and so on.
var ErrInvalidArgument = errors.New("invalid argument")

// Annotation is a meta-annotation. Other types that will be used as annotations
// must be annotated with it. For example:
//
//	// @aptest.Annotation{AllowedElements: {aptest.Types, aptest.Functions}}
//	type Marker struct {
//	    Label string
//	}
//
// A source file that refers to annotations from another package only through
// comments must still import that package, typically as a blank import, so
// that the package is part of the compilation:
//
//	import _ "github.com/jhump/aptest"
//
// Annotations must be the last thing in a doc comment. The first line that
// begins with '@' starts the annotations, each subsequent line that begins
// with '@' starts another one, and all other lines continue the annotation
// above them.
//
// @Annotation{AllowedElements: Types}
type Annotation struct {
	// RuntimeVisible indicates that the annotation describes something a
	// program may want to know about at run time. Annotations that are not
	// runtime-visible only exist for tools that read source, such as
	// annotation processors.
	//
	// @DefaultValue(true)
	RuntimeVisible bool

	// AllowedElements indicates the kinds of elements that can be annotated. If
	// it is empty, the annotation can be used on any kind of element.
	AllowedElements []ElementType

	// AllowRepeated indicates whether an element can have more than one
	// annotation of this type on it.
	AllowRepeated bool
}

// DefaultValue is an annotation that indicates a default value for an
// annotation field. It is not valid to use on types or methods. It is also not
// valid to use with fields in structs that are not themselves annotations.
//
// @Annotation{AllowedElements: AnnotationFields}
type DefaultValue struct {
	// @Required
	Value any
}

// Required is an annotation that indicates an annotation field that must be
// defined in an annotation. Fields that are not required and not given take
// their DefaultValue, if they have one, or else the zero value of the field's
// type.
//
// @Annotation{AllowedElements: AnnotationFields}
type Required bool

// ID gives an element a name that tests can use to find it. Unlike the
// element's own name, an ID does not need to be unique: several elements may
// share one, and a test asks for all of them or insists that exactly one
// exists.
//
//	type Data struct {
//	    // @aptest.ID("counter")
//	    n int
//	}
//
// @Annotation{RuntimeVisible: false, AllowedElements: {Types, Fields, Methods,
// InterfaceMethods, Functions, Parameters, TypeParameters, LocalVariables,
// Variables, Constants}}
type ID string

// ElementType is an enumeration of the kinds of elements that can be annotated.
type ElementType int

const (
	// AnnotationTypes are type elements that are themselves annotations (e.g.
	// annotated with @aptest.Annotation).
	AnnotationTypes ElementType = iota

	// AnnotationFields are fields of annotation types that are structs.
	AnnotationFields

	// Types are type elements. This is a superset of AnnotationTypes and is
	// also the union of ConcreteTypes and Interfaces.
	//
	// Only top-level, named types are elements. Types defined inside of
	// functions and methods are not.
	Types

	// ConcreteTypes are type elements that are *not* interfaces.
	ConcreteTypes

	// Interfaces are type elements that are defined to be interfaces.
	Interfaces

	// Fields are fields of struct type elements. Annotations that allow fields
	// will also allow annotation fields.
	Fields

	// Methods are methods with bodies, declared on named types.
	Methods

	// InterfaceMethods are the methods that comprise an interface.
	InterfaceMethods

	// InterfaceEmbeds are the types embedded in an interface.
	InterfaceEmbeds

	// Functions are top-level, named functions. Methods are functions, too. So
	// an annotation that allows function elements also allows methods that
	// have bodies. Interface methods are not allowed unless InterfaceMethods is
	// also used.
	Functions

	// Variables are package-level variables.
	Variables

	// Constants are package-level constants.
	Constants

	// Parameters are the named parameters of functions, methods, and interface
	// methods.
	Parameters

	// TypeParameters are the type parameters of generic types and functions.
	TypeParameters

	// LocalVariables are variables declared with a var statement inside of a
	// function or method body. Only annotated local variables are elements.
	LocalVariables
)

func (et ElementType) String() string {
	switch et {
	case AnnotationTypes:
		return "annotation types"
	case AnnotationFields:
		return "annotation fields"
	case Types:
		return "types"
	case ConcreteTypes:
		return "concrete types"
	case Interfaces:
		return "interfaces"
	case Fields:
		return "fields"
	case Methods:
		return "methods"
	case InterfaceMethods:
		return "interface methods"
	case InterfaceEmbeds:
		return "interface embeds"
	case Functions:
		return "functions"
	case Variables:
		return "variables"
	case Constants:
		return "constants"
	case Parameters:
		return "parameters"
	case TypeParameters:
		return "type parameters"
	case LocalVariables:
		return "local variables"
	default:
		return fmt.Sprintf("?%d?", int(et))
	}
}
