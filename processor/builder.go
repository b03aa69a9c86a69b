package processor

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"sort"

	"github.com/jhump/aptest"
	"github.com/jhump/aptest/parser"
)

// builder creates the elements declared in a set of files of one package.
type builder struct {
	r   *resolver
	pkg *Package

	roots       []*Element
	typesByName map[string]*Element
	processed   map[*ast.CommentGroup]struct{}
	errs        []error
}

// buildElements returns the top-level elements declared in files, in source
// order, along with every annotation error found in them.
func (r *resolver) buildElements(pkg *Package, files []*ast.File) ([]*Element, []error) {
	b := &builder{
		r:           r,
		pkg:         pkg,
		typesByName: map[string]*Element{},
		processed:   map[*ast.CommentGroup]struct{}{},
	}
	// types first, so that methods can find their receivers
	for _, file := range files {
		for _, decl := range file.Decls {
			if decl, ok := decl.(*ast.GenDecl); ok {
				b.genDecl(file, decl)
			}
		}
	}
	for _, file := range files {
		for _, decl := range file.Decls {
			if decl, ok := decl.(*ast.FuncDecl); ok {
				b.funcDecl(file, decl)
			}
		}
	}
	for _, file := range files {
		b.checkUnprocessed(file)
	}
	sort.SliceStable(b.roots, func(i, j int) bool {
		pi, pj := b.roots[i].pos, b.roots[j].pos
		if pi.Filename != pj.Filename {
			return pi.Filename < pj.Filename
		}
		return pi.Offset < pj.Offset
	})
	return b.roots, b.errs
}

func (b *builder) annotations(file *ast.File, doc *ast.CommentGroup, ets []aptest.ElementType) []AnnotationMirror {
	if doc == nil {
		return nil
	}
	b.processed[doc] = struct{}{}
	annos, errs := b.r.annotationsFor(b.pkg, file, doc)
	b.errs = append(b.errs, errs...)
	if ets != nil {
		b.errs = append(b.errs, checkAnnotations(annos, ets)...)
	}
	return annos
}

func (b *builder) newElement(file *ast.File, id *ast.Ident, obj types.Object, annos []AnnotationMirror, ets []aptest.ElementType, parent *Element) *Element {
	e := &Element{
		Obj:             obj,
		Ident:           id,
		File:            file,
		Package:         b.pkg,
		Parent:          parent,
		ApplicableTypes: ets,
		Annotations:     annos,
		pos:             b.pkg.fset.Position(id.Pos()),
	}
	if parent != nil {
		parent.Children = append(parent.Children, e)
	} else {
		b.roots = append(b.roots, e)
	}
	return e
}

// element creates an element whose annotations are checked against ets.
func (b *builder) element(file *ast.File, id *ast.Ident, doc *ast.CommentGroup, ets []aptest.ElementType, parent *Element) *Element {
	obj := b.pkg.Info.Defs[id]
	annos := b.annotations(file, doc, ets)
	return b.newElement(file, id, obj, annos, ets, parent)
}

func (b *builder) genDecl(file *ast.File, decl *ast.GenDecl) {
	for _, s := range decl.Specs {
		switch spec := s.(type) {
		case *ast.TypeSpec:
			doc := spec.Doc
			if doc == nil {
				doc = decl.Doc
			}
			b.typeSpec(file, spec, doc)
		case *ast.ValueSpec:
			doc := spec.Doc
			if doc == nil {
				doc = decl.Doc
			}
			et := aptest.Variables
			if decl.Tok == token.CONST {
				et = aptest.Constants
			}
			elems := make([]*Element, len(spec.Names))
			for i, id := range spec.Names {
				elems[i] = b.element(file, id, doc, []aptest.ElementType{et}, nil)
			}
			// func literals in the initializer may declare annotated locals
			for i, v := range spec.Values {
				b.locals(file, v, elems[min(i, len(elems)-1)])
			}
		}
	}
}

func (b *builder) typeSpec(file *ast.File, spec *ast.TypeSpec, doc *ast.CommentGroup) {
	ets := []aptest.ElementType{aptest.Types}
	if _, ok := spec.Type.(*ast.InterfaceType); ok {
		ets = append(ets, aptest.Interfaces)
	} else {
		ets = append(ets, aptest.ConcreteTypes)
	}
	annos := b.annotations(file, doc, nil)
	isAnnotation := false
	for _, a := range annos {
		if a.Type() == annotationAnnotation {
			isAnnotation = true
			ets = append(ets, aptest.AnnotationTypes)
			break
		}
	}
	b.errs = append(b.errs, checkAnnotations(annos, ets)...)
	te := b.newElement(file, spec.Name, b.pkg.Info.Defs[spec.Name], annos, ets, nil)
	b.typesByName[spec.Name.Name] = te

	b.params(file, spec.TypeParams, aptest.TypeParameters, te)

	switch t := spec.Type.(type) {
	case *ast.StructType:
		if t.Fields == nil {
			return
		}
		fieldTypes := []aptest.ElementType{aptest.Fields}
		if isAnnotation {
			fieldTypes = append(fieldTypes, aptest.AnnotationFields)
		}
		for _, fld := range t.Fields.List {
			names := fld.Names
			if names == nil {
				names = []*ast.Ident{embeddedName(fld.Type)}
			}
			for _, n := range names {
				if n != nil {
					b.element(file, n, fld.Doc, fieldTypes, te)
				}
			}
		}

	case *ast.InterfaceType:
		if t.Methods == nil {
			return
		}
		for _, m := range t.Methods.List {
			if len(m.Names) == 0 {
				id := embeddedName(m.Type)
				if id == nil {
					// unions and other constraint terms
					continue
				}
				ets := []aptest.ElementType{aptest.InterfaceEmbeds}
				annos := b.annotations(file, m.Doc, ets)
				b.newElement(file, id, b.pkg.Info.Uses[id], annos, ets, te)
				continue
			}
			for _, n := range m.Names {
				me := b.element(file, n, m.Doc, []aptest.ElementType{aptest.InterfaceMethods}, te)
				if ft, ok := m.Type.(*ast.FuncType); ok {
					b.params(file, ft.Params, aptest.Parameters, me)
				}
			}
		}
	}
}

// embeddedName returns the name of an embedded type, or nil if it is not a
// possibly qualified, possibly instantiated, name.
func embeddedName(expr ast.Expr) *ast.Ident {
	switch e := expr.(type) {
	case *ast.Ident:
		return e
	case *ast.StarExpr:
		return embeddedName(e.X)
	case *ast.SelectorExpr:
		return e.Sel
	case *ast.IndexExpr:
		return embeddedName(e.X)
	case *ast.IndexListExpr:
		return embeddedName(e.X)
	case *ast.ParenExpr:
		return embeddedName(e.X)
	default:
		return nil
	}
}

// params creates elements for the named entries of a parameter or type
// parameter list. The parser does not attach comments to parameters, so the
// doc of each is the last comment between it and the previous one.
func (b *builder) params(file *ast.File, list *ast.FieldList, et aptest.ElementType, parent *Element) {
	if list == nil {
		return
	}
	from := list.Opening
	for _, fld := range list.List {
		doc := commentBetween(file, from, fld.Pos())
		from = fld.End()
		for _, n := range fld.Names {
			b.element(file, n, doc, []aptest.ElementType{et}, parent)
		}
	}
}

func commentBetween(file *ast.File, from, to token.Pos) *ast.CommentGroup {
	var doc *ast.CommentGroup
	for _, cg := range file.Comments {
		if cg.Pos() >= from && cg.End() <= to {
			doc = cg
		}
	}
	return doc
}

func (b *builder) funcDecl(file *ast.File, decl *ast.FuncDecl) {
	ets := []aptest.ElementType{aptest.Functions}
	var parent *Element
	if decl.Recv != nil {
		ets = append(ets, aptest.Methods)
		if len(decl.Recv.List) > 0 {
			if id := embeddedName(decl.Recv.List[0].Type); id != nil {
				parent = b.typesByName[id.Name]
			}
		}
	}
	fe := b.element(file, decl.Name, decl.Doc, ets, parent)
	b.params(file, decl.Type.TypeParams, aptest.TypeParameters, fe)
	b.params(file, decl.Type.Params, aptest.Parameters, fe)
	if decl.Body != nil {
		b.locals(file, decl.Body, fe)
	}
}

// locals creates elements for the annotated local variables declared in the
// given node, including in nested func literals.
func (b *builder) locals(file *ast.File, node ast.Node, parent *Element) {
	ast.Inspect(node, func(n ast.Node) bool {
		ds, ok := n.(*ast.DeclStmt)
		if !ok {
			return true
		}
		gd, ok := ds.Decl.(*ast.GenDecl)
		if !ok || gd.Tok != token.VAR {
			return true
		}
		for _, s := range gd.Specs {
			spec := s.(*ast.ValueSpec)
			doc := spec.Doc
			if doc == nil {
				doc = gd.Doc
			}
			if !parser.HasAnnotations(doc) {
				continue
			}
			for _, id := range spec.Names {
				b.element(file, id, doc, []aptest.ElementType{aptest.LocalVariables}, parent)
			}
		}
		return true
	})
}

// checkUnprocessed reports annotations in comments that do not belong to any
// element, such as those on the package clause or on imports.
func (b *builder) checkUnprocessed(file *ast.File) {
	ast.Inspect(file, func(n ast.Node) bool {
		var doc *ast.CommentGroup
		switch n := n.(type) {
		case *ast.File:
			doc = n.Doc
		case *ast.ImportSpec:
			doc = n.Doc
		case *ast.TypeSpec:
			doc = n.Doc
		case *ast.ValueSpec:
			doc = n.Doc
		case *ast.GenDecl:
			doc = n.Doc
		case *ast.FuncDecl:
			doc = n.Doc
		case *ast.Field:
			doc = n.Doc
		}
		if doc == nil {
			return true
		}
		if _, ok := b.processed[doc]; ok || !parser.HasAnnotations(doc) {
			return true
		}
		b.processed[doc] = struct{}{}
		b.errs = append(b.errs, posError(b.pkg.fset.Position(doc.Pos()),
			fmt.Errorf("annotations are only allowed on declarations of types, fields, functions, methods, parameters, variables, and constants")))
		return true
	})
}
