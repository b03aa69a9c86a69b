// Package collect provides processors that gather elements during a
// compilation, and functions that compile sources just to gather them.
//
// Collectors never claim annotations, so other processors in the same
// compilation still see them. Collectors accumulate across rounds and are
// meant for a single compilation.
package collect

import (
	"fmt"

	"github.com/jhump/aptest"
	"github.com/jhump/aptest/processor"
)

// ErrInvalidArgument is aptest.ErrInvalidArgument.
var ErrInvalidArgument = aptest.ErrInvalidArgument

// Collector is a processor that exposes what it collected.
type Collector[T any] interface {
	processor.Processor
	// CollectedElements returns what was collected so far.
	CollectedElements() T
}

// elementCollector collects elements into a set using a per-round selection.
type elementCollector struct {
	processor.Base
	supported []string
	selectFn  func(round *processor.RoundEnvironment, into processor.ElementSet)
	elems     processor.ElementSet
}

var _ Collector[processor.ElementSet] = (*elementCollector)(nil)

func newElementCollector(supported []string, selectFn func(*processor.RoundEnvironment, processor.ElementSet)) *elementCollector {
	return &elementCollector{supported: supported, selectFn: selectFn, elems: processor.ElementSet{}}
}

func (c *elementCollector) SupportedAnnotationTypes() []string {
	return c.supported
}

func (c *elementCollector) Process(_ []processor.AnnotationType, round *processor.RoundEnvironment) (bool, error) {
	c.selectFn(round, c.elems)
	return false, nil
}

// CollectedElements returns a copy of the elements collected so far.
func (c *elementCollector) CollectedElements() processor.ElementSet {
	return c.elems.Clone()
}

// NewRootCollector returns a collector of the root elements of every round.
func NewRootCollector() Collector[processor.ElementSet] {
	return newElementCollector([]string{"*"}, func(round *processor.RoundEnvironment, into processor.ElementSet) {
		into.AddAll(round.RootElements())
	})
}

// NewAnnotatedCollector returns a collector of the elements annotated with
// the given annotation type.
func NewAnnotatedCollector(at processor.AnnotationType) (Collector[processor.ElementSet], error) {
	if at.IsZero() {
		return nil, fmt.Errorf("%w: zero annotation type", ErrInvalidArgument)
	}
	return newElementCollector([]string{at.String()}, func(round *processor.RoundEnvironment, into processor.ElementSet) {
		into.AddAll(round.ElementsAnnotatedWith(at))
	}), nil
}

// NewIDCollector returns a collector of the elements with an aptest.ID
// annotation whose value is id.
func NewIDCollector(id string) (Collector[processor.ElementSet], error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidArgument)
	}
	return newElementCollector([]string{"*"}, func(round *processor.RoundEnvironment, into processor.ElementSet) {
		for e := range round.ElementsAnnotatedWith(processor.IDAnnotation) {
			if HasID(e, id) {
				into.Add(e)
			}
		}
	}), nil
}

// NewTaggedCollector returns a collector of the elements annotated with any
// of the given annotation types.
func NewTaggedCollector(tags ...processor.AnnotationType) (Collector[processor.ElementSet], error) {
	if len(tags) == 0 {
		return nil, fmt.Errorf("%w: no annotation types", ErrInvalidArgument)
	}
	supported := make([]string, len(tags))
	for i, tag := range tags {
		if tag.IsZero() {
			return nil, fmt.Errorf("%w: annotation type %d is zero", ErrInvalidArgument, i)
		}
		supported[i] = tag.String()
	}
	tags = append([]processor.AnnotationType(nil), tags...)
	return newElementCollector(supported, func(round *processor.RoundEnvironment, into processor.ElementSet) {
		for _, tag := range tags {
			into.AddAll(round.ElementsAnnotatedWith(tag))
		}
	}), nil
}

// IDs returns the values of the aptest.ID annotations on e.
func IDs(e *processor.Element) []string {
	annos := e.FindAnnotations(processor.IDAnnotation)
	ids := make([]string, 0, len(annos))
	for _, a := range annos {
		ids = append(ids, a.Value.AsString())
	}
	return ids
}

// HasID reports whether e has an aptest.ID annotation with the given value.
func HasID(e *processor.Element, id string) bool {
	for _, v := range IDs(e) {
		if v == id {
			return true
		}
	}
	return false
}
