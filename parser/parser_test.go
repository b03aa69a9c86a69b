package parser

import (
	"go/ast"
	goparser "go/parser"
	"go/token"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAnnotations(t *testing.T) {
	var input = `
@NoValue
@SimpleValue(123)
@StructAnnotation{Foo: {Bar, Baz}, Id: 10101, Name: "dilapidacious"}
@SliceAnnotation{1, 2, 3, 4, 5, 6, 7, 8}
@MapAnnotation{0x101: "foo", 0x202: "bar", 0x303: "baz"}
@Arithmetic(imag(100i * complex(0.01, 2.0002)) - 1.0234E-56 + 1024/4096 * real(3456+9876i))
@Logical(111 >= 109 && -111 <= 109)
@Strings("foo" + "bar" + "baz" + "bonkers" + "bedazzle")
@pkg.Qualified{
	A: 1,
	B: "two",
}
`

	annos, err := ParseAnnotations("foo", strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, annos, 9)

	testCases := []struct {
		typeName string
		line     int
		value    func(t *testing.T, e ast.Expr)
	}{
		{"NoValue", 2, func(t *testing.T, e ast.Expr) {
			assert.Nil(t, e)
		}},
		{"SimpleValue", 3, func(t *testing.T, e ast.Expr) {
			lit, ok := e.(*ast.BasicLit)
			require.True(t, ok, "expecting literal, got %T", e)
			assert.Equal(t, token.INT, lit.Kind)
			assert.Equal(t, "123", lit.Value)
		}},
		{"StructAnnotation", 4, func(t *testing.T, e ast.Expr) {
			cl, ok := e.(*ast.CompositeLit)
			require.True(t, ok, "expecting composite literal, got %T", e)
			assert.Nil(t, cl.Type)
			require.Len(t, cl.Elts, 3)
			kv := cl.Elts[0].(*ast.KeyValueExpr)
			assert.Equal(t, "Foo", kv.Key.(*ast.Ident).Name)
			assert.Len(t, kv.Value.(*ast.CompositeLit).Elts, 2)
		}},
		{"SliceAnnotation", 5, func(t *testing.T, e ast.Expr) {
			assert.Len(t, e.(*ast.CompositeLit).Elts, 8)
		}},
		{"MapAnnotation", 6, func(t *testing.T, e ast.Expr) {
			assert.Len(t, e.(*ast.CompositeLit).Elts, 3)
		}},
		{"Arithmetic", 7, func(t *testing.T, e ast.Expr) {
			bin, ok := e.(*ast.BinaryExpr)
			require.True(t, ok, "expecting binary expression, got %T", e)
			assert.Equal(t, token.ADD, bin.Op)
		}},
		{"Logical", 8, func(t *testing.T, e ast.Expr) {
			assert.Equal(t, token.LAND, e.(*ast.BinaryExpr).Op)
		}},
		{"Strings", 9, func(t *testing.T, e ast.Expr) {
			assert.Equal(t, token.ADD, e.(*ast.BinaryExpr).Op)
		}},
		{"Qualified", 10, func(t *testing.T, e ast.Expr) {
			assert.Len(t, e.(*ast.CompositeLit).Elts, 2)
		}},
	}
	for i, tc := range testCases {
		t.Run(tc.typeName, func(t *testing.T) {
			a := annos[i]
			assert.Equal(t, tc.typeName, a.Type.Name)
			assert.Equal(t, tc.line, a.Pos.Line)
			assert.Equal(t, 1, a.Pos.Column)
			assert.Equal(t, "foo", a.Pos.Filename)
			tc.value(t, a.Value)
		})
	}
	assert.Equal(t, "pkg", annos[8].Type.PackageAlias)
	assert.Equal(t, "pkg.Qualified", annos[8].Type.String())
}

func TestParseAnnotations_Positions(t *testing.T) {
	annos, err := ParseAnnotations("foo", strings.NewReader("\n@SimpleValue(123)\n@Multi{\n\tKey: 1}"))
	require.NoError(t, err)
	require.Len(t, annos, 2)

	a := annos[0]
	assert.Equal(t, token.Position{Filename: "foo", Offset: 1, Line: 2, Column: 1}, a.Pos)
	assert.Equal(t, 2, a.Type.Pos.Column)
	valPos := a.Position(a.Value.Pos())
	assert.Equal(t, 2, valPos.Line)
	assert.Equal(t, 14, valPos.Column)
	assert.Equal(t, 14, valPos.Offset)

	a = annos[1]
	kv := a.Value.(*ast.CompositeLit).Elts[0].(*ast.KeyValueExpr)
	keyPos := a.Position(kv.Key.Pos())
	assert.Equal(t, 4, keyPos.Line)
	assert.Equal(t, 2, keyPos.Column)
}

func TestParseAnnotations_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		input  string
		errMsg string
		line   int
		column int
	}{
		{"too many args", "@Foo(1, 2)", "single expression", 1, 5},
		{"no args", "\n@Foo()", "single expression", 2, 5},
		{"not a name", "@123", "expecting annotation type name", 1, 1},
		{"nested selector", "@a.b.C", "expecting annotation type name", 1, 2},
		{"bad value", "@Foo{A: }", "expected operand", 1, 9},
		{"trailing text", "@Foo(1) more words", "expected 'EOF'", 1, 9},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseAnnotations("", strings.NewReader(tc.input))
			require.Error(t, err)
			var perr *ParseError
			require.ErrorAs(t, err, &perr)
			assert.Contains(t, err.Error(), tc.errMsg)
			assert.Equal(t, tc.line, perr.Pos().Line)
			assert.Equal(t, tc.column, perr.Pos().Column)
		})
	}
}

func TestParseComments(t *testing.T) {
	src := `package p

// T is a type.
//
// @pkg.Marker
// @Other{A: 1,
//   B: 2}
type T int

// Plain has no annotations.
type Plain int

func f(/* @aptest.ID("p") */ s string) {}
`
	fset := token.NewFileSet()
	file, err := goparser.ParseFile(fset, "p.go", src, goparser.ParseComments)
	require.NoError(t, err)

	doc := file.Decls[0].(*ast.GenDecl).Doc
	require.True(t, HasAnnotations(doc))
	annos, err := ParseComments(fset, doc)
	require.NoError(t, err)
	require.Len(t, annos, 2)

	assert.Equal(t, Identifier{PackageAlias: "pkg", Name: "Marker", Pos: token.Position{Filename: "p.go", Offset: 34, Line: 5, Column: 5}}, annos[0].Type)
	assert.Equal(t, 4, annos[0].Pos.Column)
	assert.Nil(t, annos[0].Value)

	kv := annos[1].Value.(*ast.CompositeLit).Elts[1].(*ast.KeyValueExpr)
	keyPos := annos[1].Position(kv.Key.Pos())
	assert.Equal(t, "p.go", keyPos.Filename)
	assert.Equal(t, 7, keyPos.Line)
	assert.Equal(t, 6, keyPos.Column)

	plain := file.Decls[1].(*ast.GenDecl).Doc
	assert.False(t, HasAnnotations(plain))
	annos, err = ParseComments(fset, plain)
	require.NoError(t, err)
	assert.Empty(t, annos)

	var block *ast.CommentGroup
	for _, cg := range file.Comments {
		if strings.HasPrefix(cg.List[0].Text, "/*") {
			block = cg
		}
	}
	require.NotNil(t, block)
	annos, err = ParseComments(fset, block)
	require.NoError(t, err)
	require.Len(t, annos, 1)
	assert.Equal(t, "aptest.ID", annos[0].Type.String())
	assert.Equal(t, 13, annos[0].Pos.Line)
	assert.Equal(t, 11, annos[0].Pos.Column)
	assert.Equal(t, 22, annos[0].Position(annos[0].Value.Pos()).Column)
}
