// Package processor compiles Go sources in memory and runs annotation
// processors over them.
//
// This package defines an interface, Processor, which is implemented by things
// that can process annotations:
//
//	Init(env *Environment) error
//	SupportedAnnotationTypes() []string
//	Process(annotations []AnnotationType, round *RoundEnvironment) (bool, error)
//
// Processing is generally expected to validate annotation values and,
// optionally, generate code that is derived from the annotation values.
// Problems with annotation values should be reported through the Environment's
// Messager, so that they become diagnostics of the compilation. If a processor
// returns an error, the compilation is aborted and the error is returned to
// the caller.
//
// The remaining APIs and types in this package can be broken into three main
// categories: Processor Invocation, Elements, and Mirrors.
//
// # Processor Invocation
//
// Key among the types used to invoke processors is processor.Config. This
// struct defines the sources that will be compiled, the processors that will
// be invoked, the file manager that receives output, and the listener that
// receives diagnostics.
//
// After a processor.Config is constructed, its Execute method is used to
// compile the sources and invoke the processors. This involves parsing all
// sources, performing full type analysis on them, and then extracting
// annotations. Processing then happens in rounds. The first round covers
// every source. Sources that processors create with the Filer are compiled
// and become the subject of the next round. When a round creates no sources,
// a final round is run in which RoundEnvironment.ProcessingOver returns true.
//
// Processors can also be registered with RegisterProcessor. All registered
// processors can later be queried with the AllRegisteredProcessors function.
//
// # Elements
//
// An Element is a declaration in the compiled sources: a type, field, method,
// function, parameter, variable, or constant. It provides access to the
// declaration via the corresponding types.Object as well as its identifier in
// the AST. It also provides the AnnotationMirror for every annotation present
// on the declaration. Elements form a tree: top-level declarations are the
// roots of a round, and everything they enclose are their children.
//
// # Mirrors
//
// The "mirrors" API consists of several key types:
//
// AnnotationMirror: The mirror is a representation of the annotation that
// processors can query. The mirror refers to an AnnotationMetadata instance,
// which describes the annotation type, and to an AnnotationValue instance,
// which describes the actual value.
//
// AnnotationMetadata: The metadata describes the type of an annotation. It
// augments the "go/types" representation of the type with the values of its
// @aptest.Annotation annotation and of the @aptest.Required and
// @aptest.DefaultValue annotations on its fields.
//
// AnnotationValue: Since the annotation types may not be compiled into the
// processor, values expose their data in a way that is similar to reflection,
// where the consumer need not know the actual type ahead of time. A value also
// records where in the source it was defined. A value that refers to a
// function does so with a *types.Func. When the annotation type is compiled
// into the processor, Reify copies a value into a variable of that type.
package processor
