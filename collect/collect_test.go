package collect

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/jhump/aptest"
	"github.com/jhump/aptest/compile"
	"github.com/jhump/aptest/processor"
	"github.com/jhump/aptest/vfs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const shapesSource = `package shapes

import _ "github.com/jhump/aptest"

// @aptest.Annotation
type Tag struct{}

// @aptest.Annotation
type Mark struct{}

// @aptest.ID("shape")
// @Tag
type Circle struct {
	// @aptest.ID("radius")
	// @Mark
	r float64
}

// @aptest.ID("shape")
type Square struct {
	// @aptest.ID("side")
	side float64
}

// @aptest.ID("area")
// @Tag
func (c Circle) Area() float64 {
	return 3 * c.r * c.r
}

const Sides = 4
`

var (
	tagType  = processor.AnnotationType{PkgPath: "shapes", Name: "Tag"}
	markType = processor.AnnotationType{PkgPath: "shapes", Name: "Mark"}
)

func sources() []vfs.FileObject {
	return []vfs.FileObject{vfs.SourceString("shapes/shapes.go", shapesSource)}
}

func names(set processor.ElementSet) []string {
	ns := []string{}
	for _, e := range set.Slice() {
		ns = append(ns, e.Name())
	}
	return ns
}

func TestCollectors_InvalidArguments(t *testing.T) {
	testCases := []struct {
		name string
		make func() (Collector[processor.ElementSet], error)
	}{
		{"zero annotation type", func() (Collector[processor.ElementSet], error) {
			return NewAnnotatedCollector(processor.AnnotationType{})
		}},
		{"empty id", func() (Collector[processor.ElementSet], error) {
			return NewIDCollector("")
		}},
		{"no tags", func() (Collector[processor.ElementSet], error) {
			return NewTaggedCollector()
		}},
		{"zero tag", func() (Collector[processor.ElementSet], error) {
			return NewTaggedCollector(tagType, processor.AnnotationType{})
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := tc.make()
			assert.Nil(t, c)
			assert.ErrorIs(t, err, aptest.ErrInvalidArgument)
		})
	}
}

func TestSuppliers(t *testing.T) {
	ctx := context.Background()
	opts := []compile.Option{compile.WithLogger(zaptest.NewLogger(t))}
	testCases := []struct {
		name   string
		supply func() (processor.ElementSet, error)
		want   []string
	}{
		{
			name: "roots",
			supply: func() (processor.ElementSet, error) {
				return RootElementsFrom(ctx, sources(), opts...)
			},
			want: []string{"Tag", "Mark", "Circle", "Square", "Sides"},
		},
		{
			name: "annotated",
			supply: func() (processor.ElementSet, error) {
				return ElementsAnnotatedWithFrom(ctx, tagType, sources(), opts...)
			},
			want: []string{"Circle", "Area"},
		},
		{
			name: "annotated with id",
			supply: func() (processor.ElementSet, error) {
				return ElementsAnnotatedWithFrom(ctx, processor.IDAnnotation, sources(), opts...)
			},
			want: []string{"Circle", "r", "Square", "side", "Area"},
		},
		{
			name: "with id",
			supply: func() (processor.ElementSet, error) {
				return ElementsWithIDFrom(ctx, "shape", sources(), opts...)
			},
			want: []string{"Circle", "Square"},
		},
		{
			name: "with unknown id",
			supply: func() (processor.ElementSet, error) {
				return ElementsWithIDFrom(ctx, "nothing", sources(), opts...)
			},
			want: []string{},
		},
		{
			name: "tagged",
			supply: func() (processor.ElementSet, error) {
				return TaggedElementsFrom(ctx, []processor.AnnotationType{tagType, markType}, sources(), opts...)
			},
			want: []string{"Circle", "r", "Area"},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			elems, err := tc.supply()
			require.NoError(t, err)
			assert.ElementsMatch(t, tc.want, names(elems))
		})
	}
}

func TestSuppliers_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	_, err := ElementsWithIDFrom(ctx, "", sources())
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = TaggedElementsFrom(ctx, nil, sources())
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = RootElementsFrom(ctx, nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = UniqueElementWithIDFrom(ctx, "", sources())
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestUniqueElementWithIDFrom(t *testing.T) {
	ctx := context.Background()

	e, err := UniqueElementWithIDFrom(ctx, "radius", sources())
	require.NoError(t, err)
	assert.Equal(t, "r", e.Name())
	assert.Equal(t, aptest.Fields, e.Kind())
	assert.Equal(t, []string{"radius"}, IDs(e))
	assert.True(t, HasID(e, "radius"))
	assert.False(t, HasID(e, "shape"))

	testCases := []struct {
		id      string
		count   int
		message string
	}{
		{"nothing", 0, `no elements found for ID "nothing"`},
		{"shape", 2, `multiple elements (2) found for ID "shape"`},
	}
	for _, tc := range testCases {
		t.Run(tc.id, func(t *testing.T) {
			e, err := UniqueElementWithIDFrom(ctx, tc.id, sources())
			assert.Nil(t, e)
			assert.ErrorIs(t, err, ErrUniqueNotFound)
			var notFound *UniqueNotFoundError
			require.ErrorAs(t, err, &notFound)
			assert.Equal(t, tc.id, notFound.ID)
			assert.Equal(t, tc.count, notFound.Count)
			assert.EqualError(t, err, tc.message)
		})
	}
}

func TestCollector_WithOtherProcessors(t *testing.T) {
	// collectors do not claim, so a second processor in the same round still
	// sees the annotation
	ids, err := NewIDCollector("side")
	require.NoError(t, err)
	var seen []string
	other := processor.Func(func(_ []processor.AnnotationType, round *processor.RoundEnvironment) (bool, error) {
		for e := range round.ElementsAnnotatedWith(processor.IDAnnotation) {
			seen = append(seen, e.Name())
		}
		return true, nil
	})
	res, err := compile.Compile(context.Background(), both{ids, other}, sources())
	require.NoError(t, err)
	require.True(t, res.Success(), "%v", res)
	assert.Equal(t, []string{"side"}, names(ids.CollectedElements()))
	assert.ElementsMatch(t, []string{"Circle", "r", "Square", "side", "Area"}, seen)

	// the returned set is a copy
	got := ids.CollectedElements()
	for e := range got {
		delete(got, e)
	}
	assert.Equal(t, 1, ids.CollectedElements().Len())
}

func TestCollector_SourceErrors(t *testing.T) {
	src := shapesSource + "\nvar broken int = \"no\"\n"
	elems, err := ElementsWithIDFrom(context.Background(), "shape", []vfs.FileObject{vfs.SourceString("shapes/shapes.go", src)})
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"Circle", "Square"}, names(elems))
}

// both runs a collector and then another processor as one processor, the way
// compile.Compile requires.
type both struct {
	first  Collector[processor.ElementSet]
	second processor.Processor
}

func (b both) SupportedAnnotationTypes() []string {
	return []string{"*"}
}

func (b both) Init(env *processor.Environment) error {
	if err := b.first.Init(env); err != nil {
		return err
	}
	return b.second.Init(env)
}

func (b both) Process(annotations []processor.AnnotationType, round *processor.RoundEnvironment) (bool, error) {
	if _, err := b.first.Process(annotations, round); err != nil {
		return false, err
	}
	return b.second.Process(annotations, round)
}
