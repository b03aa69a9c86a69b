// Package parser extracts annotations from Go comments.
//
// An annotation is an '@' followed by the annotation type's name, which may be
// qualified with a package name, and an optional value. The value is either a
// single expression in parentheses or a composite literal body in braces:
//
//	@Marker
//	@pkg.Name("value")
//	@pkg.Config{Size: 10, Tags: {"a", "b"}}
//
// The text after the '@' uses ordinary Go expression syntax, so it is parsed
// with go/parser. Names in the value are not resolved here.
package parser

import (
	"errors"
	"fmt"
	"go/ast"
	goparser "go/parser"
	"go/scanner"
	"go/token"
	"io"
	"strings"
)

type line struct {
	text string
	// position of the first byte of text
	pos token.Position
}

// ParseAnnotations parses annotations from plain text, such as the contents of
// a comment with the comment markers removed. Positions in the results and in
// any error are relative to the start of the text, and use the given file name.
func ParseAnnotations(filename string, r io.Reader) ([]Annotation, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	pos := token.Position{Filename: filename, Line: 1, Column: 1}
	var lines []line
	for _, l := range strings.Split(string(data), "\n") {
		lines = append(lines, line{text: l, pos: pos})
		pos.Offset += len(l) + 1
		pos.Line++
	}
	return parseLines(lines)
}

// ParseComments parses the annotations in the given comment group, typically
// the doc comment of a declaration. It returns nil if there are no
// annotations. Positions are reported relative to the file in fset that
// contains the comments.
func ParseComments(fset *token.FileSet, doc *ast.CommentGroup) ([]Annotation, error) {
	lines := extractLines(fset, doc)
	if lines == nil {
		return nil, nil
	}
	return parseLines(lines)
}

// HasAnnotations returns true if the given comment group appears to contain
// annotations. It does not check that they are well-formed.
func HasAnnotations(doc *ast.CommentGroup) bool {
	if doc == nil {
		return false
	}
	for _, c := range doc.List {
		for _, l := range strings.Split(stripMarkers(c.Text), "\n") {
			if isAnnotationStart(l) {
				return true
			}
		}
	}
	return false
}

func isAnnotationStart(text string) bool {
	return strings.HasPrefix(strings.TrimSpace(text), "@")
}

func stripMarkers(txt string) string {
	if strings.HasPrefix(txt, "/*") {
		return strings.TrimSuffix(txt[2:], "*/")
	}
	return strings.TrimPrefix(txt, "//")
}

// extractLines returns the lines of the comment group starting at the first
// one that begins an annotation. Annotations may not span line comments and
// block comments, so switching from one to the other starts over.
func extractLines(fset *token.FileSet, doc *ast.CommentGroup) []line {
	if doc == nil {
		return nil
	}
	var lines []line
	found := false
	prevSingleLine := false
	for i, c := range doc.List {
		singleLine := strings.HasPrefix(c.Text, "//")
		if i > 0 && singleLine != prevSingleLine {
			found = false
			lines = nil
		}
		prevSingleLine = singleLine

		pos := fset.Position(c.Slash)
		// skip past opening "//" or "/*"
		pos.Offset += 2
		pos.Column += 2
		for _, l := range strings.Split(stripMarkers(c.Text), "\n") {
			if !found && isAnnotationStart(l) {
				found = true
			}
			if found {
				lines = append(lines, line{text: l, pos: pos})
			}
			pos.Offset += len(l) + 1
			pos.Line++
			pos.Column = 1
		}
	}
	if !found {
		return nil
	}
	return lines
}

func parseLines(lines []line) ([]Annotation, error) {
	var annos []Annotation
	var chunk []line
	for _, l := range lines {
		if isAnnotationStart(l.text) {
			if len(chunk) > 0 {
				a, err := parseAnnotation(chunk)
				if err != nil {
					return nil, err
				}
				annos = append(annos, a)
			}
			chunk = chunk[:0:0]
		} else if len(chunk) == 0 {
			// text before the first annotation
			continue
		}
		chunk = append(chunk, l)
	}
	if len(chunk) > 0 {
		a, err := parseAnnotation(chunk)
		if err != nil {
			return nil, err
		}
		annos = append(annos, a)
	}
	return annos, nil
}

// positionMap translates positions in the text handed to go/parser back to
// positions in the source. Each line of that text starts at a known source
// position, and columns within a line are preserved.
type positionMap struct {
	fset  *token.FileSet
	lines []token.Position
}

func (m *positionMap) position(p token.Pos) token.Position {
	return m.translate(m.fset.Position(p))
}

func (m *positionMap) translate(p token.Position) token.Position {
	if p.Line < 1 || p.Line > len(m.lines) {
		return m.lines[len(m.lines)-1]
	}
	res := m.lines[p.Line-1]
	res.Column += p.Column - 1
	res.Offset += p.Column - 1
	return res
}

func parseAnnotation(chunk []line) (Annotation, error) {
	first := chunk[0]
	at := strings.IndexByte(first.text, '@')
	annoPos := first.pos
	annoPos.Column += at
	annoPos.Offset += at

	pm := &positionMap{fset: token.NewFileSet()}
	var src strings.Builder
	for i, l := range chunk {
		base := l.pos
		text := l.text
		if i == 0 {
			text = text[at+1:]
			base.Column += at + 1
			base.Offset += at + 1
		}
		pm.lines = append(pm.lines, base)
		src.WriteString(text)
		src.WriteByte('\n')
	}

	expr, err := goparser.ParseExprFrom(pm.fset, "", src.String(), goparser.SkipObjectResolution)
	if err != nil {
		var errs scanner.ErrorList
		if errors.As(err, &errs) && len(errs) > 0 {
			return Annotation{}, &ParseError{err: errors.New(errs[0].Msg), pos: pm.translate(errs[0].Pos)}
		}
		return Annotation{}, &ParseError{err: err, pos: annoPos}
	}

	a := Annotation{Pos: annoPos, positions: pm}
	var typeExpr ast.Expr
	switch e := expr.(type) {
	case *ast.Ident, *ast.SelectorExpr:
		typeExpr = e
	case *ast.CallExpr:
		typeExpr = e.Fun
		if len(e.Args) != 1 || e.Ellipsis.IsValid() {
			return Annotation{}, &ParseError{
				err: fmt.Errorf("annotation value must be a single expression, found %d", len(e.Args)),
				pos: pm.position(e.Lparen),
			}
		}
		a.Value = e.Args[0]
	case *ast.CompositeLit:
		typeExpr = e.Type
		a.Value = &ast.CompositeLit{Lbrace: e.Lbrace, Elts: e.Elts, Rbrace: e.Rbrace}
	default:
		return Annotation{}, &ParseError{err: errors.New("expecting annotation type name"), pos: annoPos}
	}

	id, ok := typeName(typeExpr, pm)
	if !ok {
		pos := annoPos
		if typeExpr != nil {
			pos = pm.position(typeExpr.Pos())
		}
		return Annotation{}, &ParseError{err: errors.New("expecting annotation type name"), pos: pos}
	}
	a.Type = id
	return a, nil
}

func typeName(expr ast.Expr, pm *positionMap) (Identifier, bool) {
	switch e := expr.(type) {
	case *ast.Ident:
		return Identifier{Name: e.Name, Pos: pm.position(e.Pos())}, true
	case *ast.SelectorExpr:
		pkg, ok := e.X.(*ast.Ident)
		if !ok {
			return Identifier{}, false
		}
		return Identifier{PackageAlias: pkg.Name, Name: e.Sel.Name, Pos: pm.position(pkg.Pos())}, true
	default:
		return Identifier{}, false
	}
}
