package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jhump/gopoet"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
	"golang.org/x/text/language"

	"github.com/jhump/aptest"
	"github.com/jhump/aptest/diag"
	"github.com/jhump/aptest/vfs"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const dataSource = `package data

import _ "github.com/jhump/aptest"

// @aptest.ID("A")
type Data struct {
	// @aptest.ID("A")
	x int
	// @aptest.ID("A")
	y string
}

// @aptest.ID("B")
func (d *Data) m(/* @aptest.ID("p") */ s string) {
	// @aptest.ID("local")
	var n int
	_ = n
}

const Limit = 10

var unannotated int
`

type recorder struct {
	Base
	supported []string
	claim     bool
	rounds    []*RoundEnvironment
	seen      [][]AnnotationType
	process   func(*recorder, *RoundEnvironment) error
}

func (r *recorder) SupportedAnnotationTypes() []string {
	if r.supported == nil {
		return r.Base.SupportedAnnotationTypes()
	}
	return r.supported
}

func (r *recorder) Process(annotations []AnnotationType, round *RoundEnvironment) (bool, error) {
	r.rounds = append(r.rounds, round)
	r.seen = append(r.seen, annotations)
	if r.process != nil {
		if err := r.process(r, round); err != nil {
			return false, err
		}
	}
	return r.claim, nil
}

type execResult struct {
	success bool
	diags   *diag.Collector
	store   *vfs.Store
}

func execute(t *testing.T, procs []Processor, srcs ...vfs.FileObject) execResult {
	t.Helper()
	res, err := tryExecute(t, 0, procs, srcs...)
	require.NoError(t, err)
	return res
}

func tryExecute(t *testing.T, maxRounds int, procs []Processor, srcs ...vfs.FileObject) (execResult, error) {
	t.Helper()
	logger := zaptest.NewLogger(t)
	diags := diag.NewCollector()
	store := vfs.NewStore(vfs.NewStandardFileManager(nil, language.English))
	cfg := Config{
		Sources:     srcs,
		Processors:  procs,
		FileManager: store,
		Diagnostics: diags,
		Loader:      &PackagesLoader{Logger: logger},
		Locale:      language.English,
		Logger:      logger,
		MaxRounds:   maxRounds,
	}
	success, err := cfg.Execute(context.Background())
	return execResult{success: success, diags: diags, store: store}, err
}

func names(set ElementSet) []string {
	var ns []string
	for _, e := range set.Slice() {
		ns = append(ns, e.Name())
	}
	return ns
}

func TestExecute_Elements(t *testing.T) {
	rec := &recorder{}
	res := execute(t, []Processor{rec}, vfs.SourceString("data/data.go", dataSource))
	require.True(t, res.success, "%v", res.diags.Err())
	require.Len(t, rec.rounds, 2)

	first := rec.rounds[0]
	assert.Equal(t, 0, first.Round())
	assert.False(t, first.ProcessingOver())
	assert.False(t, first.ErrorRaised())
	assert.Equal(t, []string{"Data", "Limit", "unannotated"}, names(first.RootElements()))
	assert.Equal(t, []AnnotationType{IDAnnotation}, first.Annotations())
	assert.Equal(t, []AnnotationType{IDAnnotation}, rec.seen[0])

	ids := first.ElementsAnnotatedWith(IDAnnotation)
	assert.Equal(t, []string{"Data", "x", "y", "m", "s", "n"}, names(ids))
	byName := map[string]*Element{}
	for e := range ids {
		byName[e.Name()] = e
	}

	data := byName["Data"]
	assert.Equal(t, aptest.ConcreteTypes, data.Kind())
	assert.True(t, data.IsElementType(aptest.Types))
	assert.Equal(t, "data.Data", data.QualifiedName())
	assert.True(t, data.Exported())
	assert.Equal(t, "data/data.go", data.Pos().Filename)

	x := byName["x"]
	assert.Equal(t, aptest.Fields, x.Kind())
	assert.Same(t, data, x.Parent)
	assert.Equal(t, "data.Data.x", x.QualifiedName())
	assert.False(t, x.Exported())

	m := byName["m"]
	assert.Equal(t, aptest.Methods, m.Kind())
	assert.Same(t, data, m.Parent)

	s := byName["s"]
	assert.Equal(t, aptest.Parameters, s.Kind())
	assert.Equal(t, "s", s.QualifiedName())
	assert.Same(t, m, s.Parent)

	n := byName["n"]
	assert.Equal(t, aptest.LocalVariables, n.Kind())
	assert.Same(t, m, n.Parent)

	annos := s.FindAnnotations(IDAnnotation)
	require.Len(t, annos, 1)
	assert.Equal(t, "p", annos[0].Value.AsString())
	var id aptest.ID
	require.NoError(t, annos[0].Reify(&id))
	assert.Equal(t, aptest.ID("p"), id)

	last := rec.rounds[1]
	assert.Equal(t, 1, last.Round())
	assert.True(t, last.ProcessingOver())
	assert.Zero(t, last.RootElements().Len())
	assert.Empty(t, rec.seen[1])

	// export data for the compiled package
	out := res.store.Entry(vfs.PackageURI(vfs.ClassOutput, "", "data.x"))
	require.NotNil(t, out)
	assert.NotZero(t, out.LastModified())
}

func TestExecute_EnvironmentAndPackageGrouping(t *testing.T) {
	rec := &recorder{}
	res := execute(t, []Processor{rec},
		vfs.SourceString("a/a.go", "package a\n\nfunc A() int { return 1 }\n"),
		vfs.SourceString("b/b.go", "package b\n\nimport \"a\"\n\nvar B = a.A()\n"),
		vfs.SourceString("main.go", "package main\n\nfunc main() {}\n"),
	)
	require.True(t, res.success, "%v", res.diags.Err())
	env := rec.Env
	require.NotNil(t, env)
	var paths []string
	for _, pkg := range env.Packages() {
		paths = append(paths, pkg.Path)
	}
	assert.Equal(t, []string{"a", "b", "main"}, paths)
	assert.NotNil(t, env.Fset())
	assert.Equal(t, language.English, env.Locale())
	assert.NotEmpty(t, env.TaskID())
	assert.NotNil(t, env.Logger())
	assert.NotNil(t, env.Messager())
	assert.NotNil(t, env.Filer())

	meta, err := env.Metadata(IDAnnotation)
	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.False(t, meta.RuntimeVisible)
	assert.Contains(t, meta.AllowedElements, aptest.Parameters)

	_, err = env.Metadata(AnnotationType{})
	assert.ErrorIs(t, err, aptest.ErrInvalidArgument)
}

func TestExecute_LocalAnnotationTypes(t *testing.T) {
	src := `package tags

import _ "github.com/jhump/aptest"

// @aptest.Annotation
type Tag struct{}

// @aptest.Annotation{AllowedElements: {aptest.Functions}}
type Other struct {
	// @aptest.Required
	Name string
	// @aptest.DefaultValue(3)
	Count int
}

// @Tag
type A struct{}

// @Other{Name: "f"}
func f() {}

// @Tag
// @Other{Name: "g", Count: 5}
func g() {}
`
	tag := AnnotationType{PkgPath: "tags", Name: "Tag"}
	other := AnnotationType{PkgPath: "tags", Name: "Other"}
	rec := &recorder{}
	res := execute(t, []Processor{rec}, vfs.SourceString("tags.go", src))
	require.True(t, res.success, "%v", res.diags.Err())

	first := rec.rounds[0]
	assert.Subset(t, first.Annotations(), []AnnotationType{tag, other, TypeFor[aptest.Annotation](), TypeFor[aptest.Required](), TypeFor[aptest.DefaultValue]()})
	assert.Equal(t, []string{"A", "g"}, names(first.ElementsAnnotatedWith(tag)))
	assert.Equal(t, []string{"f", "g"}, names(first.ElementsAnnotatedWith(other)))

	for e := range first.ElementsAnnotatedWith(other) {
		annos := e.FindAnnotations(other)
		require.Len(t, annos, 1)
		count, ok := annos[0].Value.Field("Count")
		require.True(t, ok)
		switch e.Name() {
		case "f":
			assert.Equal(t, int64(3), count.AsInt())
		case "g":
			assert.Equal(t, int64(5), count.AsInt())
		}
	}
	for e := range first.ElementsAnnotatedWith(TypeFor[aptest.Annotation]()) {
		assert.Equal(t, aptest.AnnotationTypes, e.Kind())
	}
}

func TestExecute_FuncLiteralLocals(t *testing.T) {
	src := `package lit

import _ "github.com/jhump/aptest"

var F = func() {
	// @aptest.ID("z")
	var z int
	_ = z
}

var G, H = 1, func() int {
	// @aptest.ID("w")
	var w int
	return w
}
`
	rec := &recorder{}
	res := execute(t, []Processor{rec}, vfs.SourceString("lit/lit.go", src))
	require.True(t, res.success, "%v", res.diags.Err())
	ids := rec.rounds[0].ElementsAnnotatedWith(IDAnnotation)
	require.Equal(t, []string{"z", "w"}, names(ids))
	for e := range ids {
		assert.Equal(t, aptest.LocalVariables, e.Kind())
		require.NotNil(t, e.Parent)
		switch e.Name() {
		case "z":
			assert.Equal(t, "F", e.Parent.Name())
		case "w":
			assert.Equal(t, "H", e.Parent.Name())
		}
	}
}

func TestExecute_Errors(t *testing.T) {
	testCases := []struct {
		name    string
		src     string
		source  string
		message string
		// type errors are only reported once processing is over
		lateOnly bool
	}{
		{
			name:   "syntax error",
			src:    "package bad\n\nfunc f( {\n",
			source: diag.SourceParser,
		},
		{
			name:     "type error",
			src:      "package bad\n\nvar x int = \"s\"\n",
			source:   diag.SourceTypes,
			message:  "cannot use",
			lateOnly: true,
		},
		{
			name:    "wrong annotation value",
			src:     "package bad\n\nimport _ \"github.com/jhump/aptest\"\n\n// @aptest.ID(123)\nfunc f() {}\n",
			source:  diag.SourceAnnotations,
			message: "",
		},
		{
			name:    "annotated import",
			src:     "package bad\n\nimport (\n\t// @aptest.ID(\"x\")\n\t_ \"github.com/jhump/aptest\"\n)\n",
			source:  diag.SourceAnnotations,
			message: "annotations are only allowed",
		},
		{
			name:    "not allowed on element",
			src:     "package bad\n\nimport _ \"github.com/jhump/aptest\"\n\n// @aptest.Required\nfunc f() {}\n",
			source:  diag.SourceAnnotations,
			message: "cannot be used on",
		},
		{
			name:    "repeated",
			src:     "package bad\n\nimport _ \"github.com/jhump/aptest\"\n\n// @aptest.ID(\"a\")\n// @aptest.ID(\"b\")\nfunc f() {}\n",
			source:  diag.SourceAnnotations,
			message: "cannot be repeated",
		},
		{
			name:     "import cycle",
			src:      "package bad\n\nimport _ \"bad\"\n",
			source:   diag.SourceTypes,
			lateOnly: true,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			rec := &recorder{}
			res := execute(t, []Processor{rec}, vfs.SourceString("bad/bad.go", tc.src))
			assert.False(t, res.success)
			require.True(t, res.diags.HasErrors())
			var found bool
			for _, d := range res.diags.Diagnostics() {
				if d.Severity == diag.Error && d.Source == tc.source {
					assert.Contains(t, d.Message, tc.message)
					assert.Equal(t, "bad/bad.go", d.Pos.Filename)
					assert.Positive(t, d.Pos.Line)
					found = true
				}
			}
			assert.True(t, found, "no %s error in %v", tc.source, res.diags.Diagnostics())
			// processors still run, and later rounds know about the errors
			require.NotEmpty(t, rec.rounds)
			assert.Equal(t, !tc.lateOnly, rec.rounds[len(rec.rounds)-1].ErrorRaised())
			assert.Nil(t, res.store.Entry(vfs.PackageURI(vfs.ClassOutput, "", "bad.x")))
		})
	}
}

func TestExecute_Claiming(t *testing.T) {
	claimer := &recorder{supported: []string{IDAnnotation.String()}, claim: true}
	skipped := &recorder{supported: []string{"github.com/jhump/aptest.*"}}
	wildcard := &recorder{}
	res := execute(t, []Processor{claimer, skipped, wildcard}, vfs.SourceString("data/data.go", dataSource))
	require.True(t, res.success, "%v", res.diags.Err())

	require.Len(t, claimer.rounds, 2)
	assert.Equal(t, []AnnotationType{IDAnnotation}, claimer.seen[0])
	assert.Empty(t, skipped.rounds)
	require.Len(t, wildcard.rounds, 2)
	assert.Empty(t, wildcard.seen[0])
}

func TestExecute_GeneratedSources(t *testing.T) {
	gen := &recorder{}
	gen.process = func(r *recorder, round *RoundEnvironment) error {
		if round.Round() != 0 {
			return nil
		}
		f, err := r.Env.Filer().CreateSourceFile("data", "gen")
		if err != nil {
			return err
		}
		w, err := f.Create()
		if err != nil {
			return err
		}
		_, err = fmt.Fprint(w, "package data\n\nimport _ \"github.com/jhump/aptest\"\n\n// @aptest.ID(\"gen\")\nfunc Generated() *Data { return nil }\n")
		if err != nil {
			return err
		}
		if err := w.Close(); err != nil {
			return err
		}
		// the same file cannot be created twice
		_, err = r.Env.Filer().CreateSourceFile("data", "gen.go")
		if !errors.Is(err, ErrFileExists) {
			return fmt.Errorf("expecting ErrFileExists, got %v", err)
		}
		return nil
	}
	res := execute(t, []Processor{gen}, vfs.SourceString("data/data.go", dataSource))
	require.True(t, res.success, "%v", res.diags.Err())
	require.Len(t, gen.rounds, 3)
	assert.Equal(t, []string{"Generated"}, names(gen.rounds[1].RootElements()))
	assert.Equal(t, []string{"Generated"}, names(gen.rounds[1].ElementsAnnotatedWith(IDAnnotation)))
	assert.True(t, gen.rounds[2].ProcessingOver())

	src := res.store.Entry(vfs.PackageURI(vfs.SourceOutput, "", "data/gen.go"))
	require.NotNil(t, src)
	contents, err := src.Contents()
	require.NoError(t, err)
	assert.Contains(t, contents, "func Generated()")
}

func TestExecute_WriteGoFile(t *testing.T) {
	gen := &recorder{}
	gen.process = func(r *recorder, round *RoundEnvironment) error {
		if round.Round() != 0 {
			return nil
		}
		file := gopoet.NewGoFile("hello.go", "hello", "hello")
		fn := gopoet.NewFunc("Hello")
		fn.Printlnf("println(%q)", "hello")
		file.AddElement(fn)
		return r.Env.Filer().WriteGoFile("hello", file)
	}
	res := execute(t, []Processor{gen})
	require.True(t, res.success, "%v", res.diags.Err())
	require.Len(t, gen.rounds, 3)
	assert.Equal(t, []string{"Hello"}, names(gen.rounds[1].RootElements()))
	assert.NotNil(t, res.store.Entry(vfs.PackageURI(vfs.ClassOutput, "", "hello.x")))
}

func TestExecute_GeneratedSourceErrors(t *testing.T) {
	gen := &recorder{}
	gen.process = func(r *recorder, round *RoundEnvironment) error {
		if round.Round() != 0 {
			return nil
		}
		f, err := r.Env.Filer().CreateSourceFile("data", "broken.go")
		if err != nil {
			return err
		}
		w, err := f.Create()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprint(w, "package data\n\nvar z int = \"no\"\n")
		return w.Close()
	}
	res := execute(t, []Processor{gen}, vfs.SourceString("data/data.go", dataSource))
	assert.False(t, res.success)
	errs := 0
	for _, d := range res.diags.Diagnostics() {
		if d.Severity == diag.Error {
			errs++
			assert.Equal(t, "data/broken.go", d.Pos.Filename)
		}
	}
	assert.Equal(t, 1, errs)
}

func TestExecute_ReferencesGeneratedSource(t *testing.T) {
	gen := &recorder{}
	gen.process = func(r *recorder, round *RoundEnvironment) error {
		if round.Round() != 0 {
			return nil
		}
		f, err := r.Env.Filer().CreateSourceFile("data", "data_gen.go")
		if err != nil {
			return err
		}
		w, err := f.Create()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprint(w, "package data\n\ntype Gen_Data struct{ N int }\n")
		return w.Close()
	}
	src := vfs.SourceString("data/use.go", "package data\n\nvar Made = Gen_Data{N: 1}\n")
	res := execute(t, []Processor{gen}, src)
	require.True(t, res.success, "%v", res.diags.Err())
	assert.Empty(t, res.diags.Diagnostics())
	require.Len(t, gen.rounds, 3)
	assert.False(t, gen.rounds[1].ErrorRaised())
	assert.Equal(t, []string{"Gen_Data"}, names(gen.rounds[1].RootElements()))
	assert.NotNil(t, res.store.Entry(vfs.PackageURI(vfs.ClassOutput, "", "data.x")))
}

func TestExecute_MaxRounds(t *testing.T) {
	gen := &recorder{}
	gen.process = func(r *recorder, round *RoundEnvironment) error {
		if round.ProcessingOver() {
			_, err := r.Env.Filer().CreateSourceFile("loop", "late.go")
			return err
		}
		f, err := r.Env.Filer().CreateSourceFile("loop", fmt.Sprintf("gen%d.go", round.Round()))
		if err != nil {
			return err
		}
		w, err := f.Create()
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(w, "package loop\n\nconst C%d = %d\n", round.Round(), round.Round())
		return w.Close()
	}
	res, err := tryExecute(t, 3, []Processor{gen})
	require.NoError(t, err)
	assert.False(t, res.success)
	require.Len(t, gen.rounds, 4)
	assert.True(t, gen.rounds[3].ProcessingOver())
	var messages []string
	for _, d := range res.diags.Diagnostics() {
		messages = append(messages, d.Message)
	}
	assert.Contains(t, messages, "processing did not finish after 3 rounds")
	// the file created in the final round is reported
	assert.Equal(t, 1, res.diags.Count(diag.Warning))
}

func TestExecute_Messager(t *testing.T) {
	rec := &recorder{}
	rec.process = func(r *recorder, round *RoundEnvironment) error {
		for _, e := range round.ElementsAnnotatedWith(IDAnnotation).Slice() {
			if e.Name() == "x" {
				r.Env.Messager().Printf(diag.Note, e, "found %s", e.QualifiedName())
			}
			if e.Name() == "y" {
				r.Env.Messager().PrintMessage(diag.Error, "bad field", e)
			}
		}
		return nil
	}
	res := execute(t, []Processor{rec}, vfs.SourceString("data/data.go", dataSource))
	assert.False(t, res.success)
	diags := res.diags.Diagnostics()
	require.Len(t, diags, 2)
	assert.Equal(t, diag.Note, diags[0].Severity)
	assert.Equal(t, "found data.Data.x", diags[0].Message)
	assert.Equal(t, diag.Error, diags[1].Severity)
	assert.Equal(t, diag.SourceProcessor, diags[1].Source)
	assert.Equal(t, "data/data.go", diags[1].Pos.Filename)
	assert.True(t, rec.rounds[1].ErrorRaised())
}

func TestExecute_ProcessorErrors(t *testing.T) {
	boom := errors.New("boom")
	t.Run("process", func(t *testing.T) {
		_, err := tryExecute(t, 0, []Processor{Func(func([]AnnotationType, *RoundEnvironment) (bool, error) {
			return false, boom
		})})
		assert.ErrorIs(t, err, boom)
	})
	t.Run("init", func(t *testing.T) {
		_, err := tryExecute(t, 0, []Processor{&failingInit{err: boom}})
		assert.ErrorIs(t, err, boom)
	})
	t.Run("nil processor", func(t *testing.T) {
		_, err := tryExecute(t, 0, []Processor{nil})
		assert.ErrorIs(t, err, aptest.ErrInvalidArgument)
	})
	t.Run("missing file manager", func(t *testing.T) {
		cfg := Config{Diagnostics: diag.NewCollector()}
		_, err := cfg.Execute(context.Background())
		assert.ErrorIs(t, err, aptest.ErrInvalidArgument)
	})
}

type failingInit struct {
	Base
	err error
}

func (f *failingInit) Init(*Environment) error {
	return f.err
}

func (f *failingInit) Process([]AnnotationType, *RoundEnvironment) (bool, error) {
	return false, nil
}

func TestRegistry(t *testing.T) {
	before := AllRegisteredProcessors()
	p := Func(func([]AnnotationType, *RoundEnvironment) (bool, error) { return false, nil })
	RegisterProcessor(p)
	after := AllRegisteredProcessors()
	require.Len(t, after, len(before)+1)
	assert.Panics(t, func() { RegisterProcessor(nil) })
}
