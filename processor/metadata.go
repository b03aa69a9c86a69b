package processor

import (
	"context"
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"sort"
	"strconv"

	"go.uber.org/zap"

	"github.com/jhump/aptest"
	"github.com/jhump/aptest/parser"
)

// resolver turns annotation syntax into mirrors. It memoizes the metadata of
// annotation types for the duration of one compilation.
type resolver struct {
	ctx    context.Context
	loader Loader
	logger *zap.Logger

	// packages compiled in memory, by path
	packages map[string]*Package
	// packages whose syntax came from the loader, by path
	loaded   map[string]*Package
	metadata map[AnnotationType]*AnnotationMetadata
}

func newResolver(ctx context.Context, loader Loader, logger *zap.Logger) *resolver {
	return &resolver{
		ctx:      ctx,
		loader:   loader,
		logger:   logger,
		packages: map[string]*Package{},
		loaded:   map[string]*Package{},
		metadata: map[AnnotationType]*AnnotationMetadata{},
	}
}

// scope is where an annotation is evaluated: the file that contains it.
type scope struct {
	r    *resolver
	pkg  *Package
	file *ast.File
	anno parser.Annotation
}

func (s *scope) pos(n ast.Node) token.Position {
	return s.anno.Position(n.Pos())
}

func (r *resolver) source(pkgPath string) (*Package, error) {
	if pkg := r.packages[pkgPath]; pkg != nil {
		return pkg, nil
	}
	if pkg, ok := r.loaded[pkgPath]; ok {
		return pkg, nil
	}
	if r.loader == nil {
		return nil, fmt.Errorf("no source for package %q", pkgPath)
	}
	pkg, err := r.loader.Syntax(r.ctx, pkgPath)
	if err != nil {
		return nil, err
	}
	r.logger.Debug("loaded annotation source", zap.String("package", pkgPath), zap.Int("files", len(pkg.Files)))
	r.loaded[pkgPath] = pkg
	return pkg, nil
}

func findTypeSpec(pkg *Package, name string) (*ast.File, *ast.TypeSpec, *ast.CommentGroup) {
	for _, f := range pkg.Files {
		for _, d := range f.Decls {
			decl, ok := d.(*ast.GenDecl)
			if !ok || decl.Tok != token.TYPE {
				continue
			}
			for _, s := range decl.Specs {
				spec := s.(*ast.TypeSpec)
				if spec.Name.Name != name {
					continue
				}
				doc := spec.Doc
				if doc == nil {
					doc = decl.Doc
				}
				return f, spec, doc
			}
		}
	}
	return nil, nil, nil
}

// getMetadata returns the metadata for the given type, or nil if the type is
// not an annotation type.
func (r *resolver) getMetadata(at AnnotationType) (*AnnotationMetadata, error) {
	if meta, ok := r.metadata[at]; ok {
		return meta, nil
	}
	pkg, err := r.source(at.PkgPath)
	if err != nil {
		return nil, fmt.Errorf("could not load source for %v: %w", at, err)
	}
	file, spec, doc := findTypeSpec(pkg, at.Name)
	if spec == nil {
		return nil, fmt.Errorf("type %v not found in source", at)
	}
	tn, ok := pkg.Info.Defs[spec.Name].(*types.TypeName)
	if !ok {
		return nil, fmt.Errorf("type %v has no type information", at)
	}

	// A provisional entry breaks cycles, such as the one between
	// aptest.Annotation and its own doc comment.
	meta := &AnnotationMetadata{Type: at, TypeName: tn}
	r.metadata[at] = meta
	s := &scope{r: r, pkg: pkg, file: file}
	if at == annotationAnnotation {
		// defaults of @aptest.Annotation are needed to interpret its own
		// doc comment
		if err := s.fieldMetadata(meta, spec); err != nil {
			delete(r.metadata, at)
			return nil, err
		}
	}
	mirror, found, err := s.typeMetadata(doc)
	if err != nil {
		delete(r.metadata, at)
		return nil, err
	}
	if !found {
		r.metadata[at] = nil
		return nil, nil
	}
	for _, e := range mirror.Value.AsStruct() {
		val := e.Value
		switch e.Field.Name() {
		case "RuntimeVisible":
			meta.RuntimeVisible = val.AsBool()
		case "AllowRepeated":
			meta.AllowRepeated = val.AsBool()
		case "AllowedElements":
			if val.Kind != KindSlice {
				continue
			}
			meta.AllowedElements = nil
			for _, v := range val.AsSlice() {
				meta.AllowedElements = append(meta.AllowedElements, aptest.ElementType(v.AsInt()))
			}
		}
	}
	if at != annotationAnnotation {
		if err := s.fieldMetadata(meta, spec); err != nil {
			delete(r.metadata, at)
			return nil, err
		}
	}
	return meta, nil
}

// typeMetadata finds and evaluates the @aptest.Annotation in doc.
func (s *scope) typeMetadata(doc *ast.CommentGroup) (AnnotationMirror, bool, error) {
	annos, err := parser.ParseComments(s.pkg.fset, doc)
	if err != nil {
		return AnnotationMirror{}, false, parseError(err)
	}
	for _, a := range annos {
		tn, err := s.annotationTypeName(a)
		if err != nil {
			return AnnotationMirror{}, false, err
		}
		if annotationTypeOf(tn) != annotationAnnotation {
			continue
		}
		m, err := s.convertAnnotation(a)
		if err != nil {
			return AnnotationMirror{}, false, err
		}
		return m, true, nil
	}
	return AnnotationMirror{}, false, nil
}

// fieldMetadata records the @aptest.Required and @aptest.DefaultValue
// annotations on the fields of the struct declared by spec.
func (s *scope) fieldMetadata(meta *AnnotationMetadata, spec *ast.TypeSpec) error {
	st, ok := spec.Type.(*ast.StructType)
	if !ok || st.Fields == nil {
		return nil
	}
	for _, f := range st.Fields.List {
		if len(f.Names) == 0 || f.Doc == nil {
			continue
		}
		annos, err := parser.ParseComments(s.pkg.fset, f.Doc)
		if err != nil {
			return parseError(err)
		}
		for _, a := range annos {
			tn, err := s.annotationTypeName(a)
			if err != nil {
				return err
			}
			at := annotationTypeOf(tn)
			if at != requiredAnnotation && at != defaultAnnotation {
				continue
			}
			m, err := s.convertAnnotation(a)
			if err != nil {
				return err
			}
			for _, name := range f.Names {
				if at == requiredAnnotation {
					if m.Value.Kind == KindBool && m.Value.AsBool() {
						if meta.RequiredFields == nil {
							meta.RequiredFields = map[string]bool{}
						}
						meta.RequiredFields[name.Name] = true
					}
					continue
				}
				def, ok := m.Value.Field("Value")
				if !ok {
					continue
				}
				if meta.DefaultFieldValues == nil {
					meta.DefaultFieldValues = map[string]AnnotationValue{}
				}
				meta.DefaultFieldValues[name.Name] = def
			}
		}
	}
	return nil
}

func parseError(err error) error {
	var pe *parser.ParseError
	if errors.As(err, &pe) {
		return posError(pe.Pos(), pe.Unwrap())
	}
	return err
}

// annotationsFor evaluates the annotations in doc. Each annotation is
// evaluated even if another fails.
func (r *resolver) annotationsFor(pkg *Package, file *ast.File, doc *ast.CommentGroup) ([]AnnotationMirror, []error) {
	annos, err := parser.ParseComments(pkg.fset, doc)
	if err != nil {
		return nil, []error{parseError(err)}
	}
	if len(annos) == 0 {
		return nil, nil
	}
	s := &scope{r: r, pkg: pkg, file: file}
	mirrors := make([]AnnotationMirror, 0, len(annos))
	var errs []error
	for _, a := range annos {
		m, err := s.convertAnnotation(a)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		mirrors = append(mirrors, m)
	}
	// group repeated annotations but otherwise keep source order
	sort.SliceStable(mirrors, func(i, j int) bool {
		return mirrors[i].Type().less(mirrors[j].Type())
	})
	return mirrors, errs
}

func (s *scope) annotationTypeName(a parser.Annotation) (*types.TypeName, error) {
	obj, err := s.resolveSymbol(a.Type)
	if err != nil {
		return nil, err
	}
	tn, ok := obj.(*types.TypeName)
	if !ok {
		return nil, posError(a.Type.Pos, fmt.Errorf("%v is not a type", a.Type))
	}
	return tn, nil
}

func (s *scope) convertAnnotation(a parser.Annotation) (AnnotationMirror, error) {
	as := *s
	as.anno = a
	tn, err := as.annotationTypeName(a)
	if err != nil {
		return AnnotationMirror{}, err
	}
	meta, err := s.r.getMetadata(annotationTypeOf(tn))
	if err != nil {
		var pe *ErrorWithPosition
		if !errors.As(err, &pe) {
			err = posError(a.Type.Pos, err)
		}
		return AnnotationMirror{}, err
	}
	if meta == nil {
		return AnnotationMirror{}, posError(a.Type.Pos, fmt.Errorf("%v is not an annotation type", a.Type))
	}

	target := tn.Type()
	var av AnnotationValue
	if a.Value != nil {
		av, err = as.convertExpression(a.Value, target)
	} else {
		tv := typeAndVal{pos: a.Type.Pos}
		_, u := getUnderlyingType(target)
		switch u.(type) {
		case *types.Basic:
			tv.v = true
		case *types.Struct:
			tv.v = composite(nil)
		default:
			return AnnotationMirror{}, posError(tv.pos, fmt.Errorf("annotation %v requires a value since its type is not bool or struct", a.Type))
		}
		av, err = as.convertValue(tv, target)
	}
	if err != nil {
		return AnnotationMirror{}, err
	}
	return AnnotationMirror{Metadata: meta, Pos: a.Pos, Value: av}, nil
}

// lookup resolves a name used in an annotation value. Unqualified names that
// are not otherwise defined come from the universe scope.
func (s *scope) lookup(expr ast.Expr) (types.Object, error) {
	var id parser.Identifier
	switch e := expr.(type) {
	case *ast.Ident:
		id = parser.Identifier{Name: e.Name, Pos: s.pos(e)}
	case *ast.SelectorExpr:
		x, ok := e.X.(*ast.Ident)
		if !ok {
			return nil, posError(s.pos(e), fmt.Errorf("invalid qualified name"))
		}
		id = parser.Identifier{PackageAlias: x.Name, Name: e.Sel.Name, Pos: s.pos(x)}
	default:
		return nil, posError(s.pos(expr), fmt.Errorf("expecting a name"))
	}
	obj, err := s.resolveSymbol(id)
	if err != nil && id.PackageAlias == "" {
		if u := types.Universe.Lookup(id.Name); u != nil {
			return u, nil
		}
	}
	return obj, err
}

func (s *scope) resolveSymbol(id parser.Identifier) (types.Object, error) {
	if id.PackageAlias == "" {
		if obj := s.pkg.Types.Scope().Lookup(id.Name); obj != nil {
			return obj, nil
		}
		for _, imp := range s.file.Imports {
			if imp.Name == nil || imp.Name.Name != "." {
				continue
			}
			if p := s.imported(imp); p != nil {
				if obj := p.Scope().Lookup(id.Name); obj != nil && obj.Exported() {
					return obj, nil
				}
			}
		}
		return nil, posError(id.Pos, fmt.Errorf("undefined: %v", id))
	}

	var obj types.Object
	for _, imp := range s.file.Imports {
		p := s.imported(imp)
		if p == nil {
			continue
		}
		var match bool
		switch {
		case imp.Name == nil:
			match = p.Name() == id.PackageAlias
		case imp.Name.Name == "_":
			// blank imports are referenced by package name
			match = p.Name() == id.PackageAlias
		default:
			match = imp.Name.Name == id.PackageAlias
		}
		if !match {
			continue
		}
		o := p.Scope().Lookup(id.Name)
		if o == nil {
			continue
		}
		if obj != nil && obj != o {
			return nil, posError(id.Pos, fmt.Errorf("package name %s is ambiguous; could be %q or %q", id.PackageAlias, obj.Pkg().Path(), o.Pkg().Path()))
		}
		obj = o
	}
	if obj == nil || !obj.Exported() {
		return nil, posError(id.Pos, fmt.Errorf("symbol %v does not exist", id))
	}
	return obj, nil
}

func (s *scope) imported(imp *ast.ImportSpec) *types.Package {
	path, err := strconv.Unquote(imp.Path.Value)
	if err != nil {
		return nil
	}
	for _, p := range s.pkg.Types.Imports() {
		if p.Path() == path {
			return p
		}
	}
	return nil
}

// checkAnnotations verifies that each annotation may be used on an element
// with the given types, and that only repeatable annotations repeat. The
// annotations must be grouped by type.
func checkAnnotations(annos []AnnotationMirror, ets []aptest.ElementType) []error {
	contains := func(et aptest.ElementType) bool {
		for _, e := range ets {
			if e == et {
				return true
			}
		}
		return false
	}
	var errs []error
	var prevType AnnotationType
	for _, a := range annos {
		at := a.Type()
		if len(a.Metadata.AllowedElements) > 0 {
			found := false
			for _, aet := range a.Metadata.AllowedElements {
				if contains(aet) {
					found = true
					break
				}
			}
			if !found {
				errs = append(errs, posError(a.Pos, fmt.Errorf("annotation type %v cannot be used on %v", at, ets[len(ets)-1])))
			}
		}
		if at == prevType && !a.Metadata.AllowRepeated {
			errs = append(errs, posError(a.Pos, fmt.Errorf("annotation type %v appears more than once but cannot be repeated", at)))
		}
		prevType = at
	}
	return errs
}
