package compile

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/jhump/aptest"
	"github.com/jhump/aptest/diag"
	"github.com/jhump/aptest/processor"
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
}
`

type envCapture struct {
	processor.Base
	rounds int
}

func (p *envCapture) Process([]processor.AnnotationType, *processor.RoundEnvironment) (bool, error) {
	p.rounds++
	return false, nil
}

func TestCompile_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	proc := &envCapture{}
	testCases := []struct {
		name    string
		proc    processor.Processor
		sources []vfs.FileObject
		opts    []Option
	}{
		{"nil processor", nil, []vfs.FileObject{}, nil},
		{"nil sources", proc, nil, nil},
		{"nil source", proc, []vfs.FileObject{vfs.SourceString("a.go", "package a\n"), nil}, nil},
		{"nil locator", proc, []vfs.FileObject{}, []Option{WithToolchainLocator(nil)}},
		{"nil clock", proc, []vfs.FileObject{}, []Option{WithClock(nil)}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Compile(ctx, tc.proc, tc.sources, tc.opts...)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.ErrorIs(t, err, aptest.ErrInvalidArgument)
		})
	}
	assert.Zero(t, proc.rounds)
}

func TestCompile_CompilerMissing(t *testing.T) {
	proc := &envCapture{}
	res, err := Compile(context.Background(), proc, []vfs.FileObject{vfs.SourceString("data/data.go", dataSource)},
		WithToolchainLocator(func() (string, error) {
			return "", exec.ErrNotFound
		}))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, ErrCompilerMissing)
	assert.Zero(t, proc.rounds)
}

func TestCompile_Success(t *testing.T) {
	stamp := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	proc := &envCapture{}
	res, err := Compile(context.Background(), proc,
		[]vfs.FileObject{vfs.SourceString("data/data.go", dataSource)},
		WithLogger(zaptest.NewLogger(t)),
		WithClock(func() time.Time { return stamp }))
	require.NoError(t, err)
	require.True(t, res.Success(), "%v", res)
	assert.Empty(t, res.Errors())
	assert.Equal(t, 2, proc.rounds)

	_, err = uuid.Parse(res.TaskID())
	require.NoError(t, err)
	assert.Equal(t, res.TaskID(), proc.Env.TaskID())

	exported := res.GeneratedFile(vfs.PackageURI(vfs.ClassOutput, "", "data.x"))
	require.NotNil(t, exported)
	assert.Equal(t, vfs.KindClass, exported.Kind())
	assert.Equal(t, stamp.UnixMilli(), exported.LastModified())
	assert.Len(t, res.GeneratedFiles(), 1)
}

func TestCompile_NoSources(t *testing.T) {
	proc := &envCapture{}
	res, err := CompileSources(context.Background(), proc)
	require.NoError(t, err)
	assert.True(t, res.Success())
	assert.Empty(t, res.Diagnostics())
	assert.NotNil(t, proc.Env)
}

func TestCompile_Failure(t *testing.T) {
	res, err := CompileSources(context.Background(), &envCapture{},
		vfs.SourceString("bad/bad.go", "package bad\n\nvar x int = \"no\"\n"),
		vfs.SourceString("worse/worse.go", "package worse\n\nfunc {\n"))
	require.NoError(t, err)
	assert.False(t, res.Success())
	sources := map[string]bool{}
	for _, d := range res.Errors() {
		sources[d.Source] = true
	}
	assert.Equal(t, map[string]bool{diag.SourceTypes: true, diag.SourceParser: true}, sources)
	assert.Empty(t, res.GeneratedFiles())
	assert.Contains(t, res.String(), "compilation failed")
}

func TestCompile_ProcessorError(t *testing.T) {
	boom := errors.New("boom")
	res, err := CompileSources(context.Background(), processor.Func(func([]processor.AnnotationType, *processor.RoundEnvironment) (bool, error) {
		return false, boom
	}))
	assert.Nil(t, res)
	assert.ErrorIs(t, err, boom)
}

func TestCompile_Options(t *testing.T) {
	file := filepath.Join(t.TempDir(), "opts.yaml")
	require.NoError(t, os.WriteFile(file, []byte("mode: file\nlevel: 2\n"), 0o644))
	proc := &envCapture{}
	res, err := Compile(context.Background(), proc, []vfs.FileObject{},
		WithOptionsFile(file),
		WithOptions(map[string]string{"mode": "explicit"}),
		WithMaxRounds(4),
		WithDir("."))
	require.NoError(t, err)
	require.True(t, res.Success())
	assert.Equal(t, processor.Options{"mode": "explicit", "level": "2"}, proc.Env.Options())

	_, err = Compile(context.Background(), proc, []vfs.FileObject{}, WithOptionsFile(filepath.Join(t.TempDir(), "missing.toml")))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestToolchainEnv(t *testing.T) {
	assert.Nil(t, toolchainEnv("go"))
	env := toolchainEnv(filepath.Join("opt", "go", "bin", "go"))
	require.NotEmpty(t, env)
	assert.Contains(t, env[len(env)-1], "PATH="+filepath.Join("opt", "go", "bin"))
}
