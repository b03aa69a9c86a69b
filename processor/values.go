package processor

import (
	"errors"
	"fmt"
	"go/ast"
	"go/token"
	"go/types"
	"math"
	"strings"
)

func (s *scope) convertExpression(expr ast.Expr, target types.Type) (AnnotationValue, error) {
	tv, err := s.expressionValue(expr)
	if err != nil {
		return nilValue, err
	}
	return s.convertValue(tv, target)
}

// convertValue converts tv to the target type. A single value is accepted
// where a one-element array, a slice, or a struct whose only field is named
// Value is expected.
func (s *scope) convertValue(tv typeAndVal, target types.Type) (AnnotationValue, error) {
	av, err := s.tryConvertValue(tv, target)
	var wte wrongTypeError
	if !errors.As(err, &wte) {
		return av, err
	}

	ntyp, typ := getUnderlyingType(target)
	var elemType types.Type
	var fld *types.Var
	switch t := typ.(type) {
	case *types.Array:
		if t.Len() != 1 {
			return nilValue, posError(tv.pos, fmt.Errorf("array must have length %d but given literal value has 1 element", t.Len()))
		}
		elemType = t.Elem()
	case *types.Slice:
		elemType = t.Elem()
	case *types.Struct:
		if t.NumFields() == 1 && t.Field(0).Name() == "Value" {
			fld = t.Field(0)
			elemType = fld.Type()
		}
	}
	if elemType == nil {
		return nilValue, wte.err
	}
	av, err = s.tryConvertValue(tv, elemType)
	if errors.As(err, &wte) {
		return nilValue, wte.err
	} else if err != nil {
		return nilValue, err
	}
	if fld != nil {
		return newValue(ntyp, KindStruct, []AnnotationStructEntry{{Field: fld, Pos: tv.pos, Value: av}}, tv.pos), nil
	}
	return newValue(ntyp, KindSlice, []AnnotationValue{av}, tv.pos), nil
}

func (s *scope) tryConvertValue(tv typeAndVal, target types.Type) (av AnnotationValue, err error) {
	defer func() {
		if err == nil {
			av.Ref = tv.ref
		}
	}()

	ntyp, typ := getUnderlyingType(target)

	var sourceType string
	if tv.t != nil {
		sourceType = tv.t.String()
		if types.AssignableTo(tv.t, ntyp) {
			conv := ntyp
			if types.IsInterface(ntyp) && !types.IsInterface(tv.t) {
				// keep the more specific type
				conv = tv.t
			}
			return s.convertValue(typeAndVal{v: tv.v, pos: tv.pos}, conv)
		}
	} else {
		switch v := tv.v.(type) {
		case int64:
			sourceType = "int"
			if av, ok := convertInt(v, typ, ntyp, tv.pos); ok {
				return av, nil
			}

		case uint64:
			sourceType = "uint"
			if av, ok := convertUint(v, typ, ntyp, tv.pos); ok {
				return av, nil
			}

		case float64:
			sourceType = "float"
			if av, ok := convertFloat(v, typ, ntyp, tv.pos); ok {
				return av, nil
			}

		case complex128:
			sourceType = "complex"
			if av, ok := convertComplex(v, typ, ntyp, tv.pos); ok {
				return av, nil
			}

		case bool:
			sourceType = "bool"
			if types.AssignableTo(typeBool, typ) {
				return annotationValue(typeBool, ntyp, v, KindBool, tv.pos), nil
			}

		case string:
			sourceType = "string"
			if types.AssignableTo(typeString, typ) {
				return annotationValue(typeString, ntyp, v, KindString, tv.pos), nil
			}

		case composite:
			sourceType = "composite"
			switch t := typ.(type) {
			case *types.Struct:
				return s.convertStructValue(v, tv.pos, t, ntyp)
			case *types.Map:
				return s.convertMapValue(v, tv.pos, t, ntyp)
			case *types.Array:
				if t.Len() != int64(len(v)) {
					return nilValue, posError(tv.pos, fmt.Errorf("array must have length %d but given literal value has %d elements", t.Len(), len(v)))
				}
				return s.convertSliceValue(v, tv.pos, t.Elem(), ntyp)
			case *types.Slice:
				return s.convertSliceValue(v, tv.pos, t.Elem(), ntyp)
			case *types.Interface:
				if t.Empty() {
					return s.convertCompositeValue(v, tv.pos)
				}
			}

		case *types.Func:
			sourceType = v.Type().String()
			if t := canAssignIndirect(v.Type(), target); t != nil {
				return annotationValue(v.Type(), t, v, KindFunc, tv.pos), nil
			}

		case nil:
			sourceType = "nil"
			switch target.Underlying().(type) {
			case *types.Pointer, *types.Slice, *types.Signature, *types.Interface, *types.Map, *types.Chan:
				return newValue(target, KindNil, nil, tv.pos), nil
			}

		default:
			panic(fmt.Sprintf("%v: unsupported kind of value: %T", tv.pos, v))
		}
	}

	return nilValue, wrongTypeError{err: posError(tv.pos, fmt.Errorf("annotation value of type %s cannot be assigned to %v", sourceType, target))}
}

// wrongTypeError marks a value that does not match the target type, so that
// the caller may try wrapping it.
type wrongTypeError struct {
	err error
}

func (e wrongTypeError) Error() string {
	return e.err.Error()
}

// Candidate types for untyped constants, in order of preference.
var (
	intTypes     = []*types.Basic{typeInt, typeInt64, typeInt32, typeInt16, typeInt8}
	uintTypes    = []*types.Basic{typeUint, typeUint64, typeUint32, typeUint16, typeUint8, typeUintptr}
	floatTypes   = []*types.Basic{typeFloat64, typeFloat32}
	complexTypes = []*types.Basic{typeComplex128, typeComplex64}
)

func convertInt(i int64, t, nt types.Type, pos token.Position) (AnnotationValue, bool) {
	for _, k := range intTypes {
		if types.AssignableTo(k, t) && intFits(i, k.Kind()) {
			return annotationValue(k, nt, i, KindInt, pos), true
		}
	}
	if i >= 0 {
		// not convertUint, which would come back here
		u := uint64(i)
		for _, k := range uintTypes {
			if types.AssignableTo(k, t) && uintFits(u, k.Kind()) {
				return annotationValue(k, nt, u, KindUint, pos), true
			}
		}
	}
	return convertFloat(float64(i), t, nt, pos)
}

func convertUint(u uint64, t, nt types.Type, pos token.Position) (AnnotationValue, bool) {
	for _, k := range uintTypes {
		if types.AssignableTo(k, t) && uintFits(u, k.Kind()) {
			return annotationValue(k, nt, u, KindUint, pos), true
		}
	}
	if u <= math.MaxInt64 {
		i := int64(u)
		for _, k := range intTypes {
			if types.AssignableTo(k, t) && intFits(i, k.Kind()) {
				return annotationValue(k, nt, i, KindInt, pos), true
			}
		}
	}
	return convertFloat(float64(u), t, nt, pos)
}

func convertFloat(f float64, t, nt types.Type, pos token.Position) (AnnotationValue, bool) {
	for _, k := range floatTypes {
		if !types.AssignableTo(k, t) {
			continue
		}
		if k.Kind() == types.Float32 && float64(float32(f)) != f {
			continue
		}
		return annotationValue(k, nt, f, KindFloat, pos), true
	}
	return convertComplex(complex(f, 0), t, nt, pos)
}

func convertComplex(c complex128, t, nt types.Type, pos token.Position) (AnnotationValue, bool) {
	for _, k := range complexTypes {
		if !types.AssignableTo(k, t) {
			continue
		}
		if k.Kind() == types.Complex64 && complex128(complex64(c)) != c {
			continue
		}
		return annotationValue(k, nt, c, KindComplex, pos), true
	}
	return nilValue, false
}

func annotationValue(sourceType, targetType types.Type, value any, kind ValueKind, pos token.Position) AnnotationValue {
	// for interface targets, record the concrete type of the value
	if types.IsInterface(targetType) && !types.IsInterface(sourceType) {
		if b, ok := sourceType.Underlying().(*types.Basic); ok {
			switch b.Kind() {
			case types.UntypedBool:
				sourceType = typeBool
			case types.UntypedString:
				sourceType = typeString
			case types.UntypedComplex:
				sourceType = typeComplex128
			case types.UntypedFloat:
				sourceType = typeFloat64
			case types.UntypedRune:
				sourceType = typeInt32
			case types.UntypedInt:
				sourceType = typeInt
			case types.UntypedNil:
				sourceType = targetType
			}
		}
		return newValue(sourceType, kind, value, pos)
	}
	return newValue(targetType, kind, value, pos)
}

func canAssignIndirect(sourceType, targetType types.Type) types.Type {
	for {
		if types.AssignableTo(sourceType, targetType) {
			return targetType
		}
		p, ok := targetType.Underlying().(*types.Pointer)
		if !ok {
			return nil
		}
		targetType = p.Elem()
	}
}

// getUnderlyingType strips pointers from t. It returns the pointed-to type
// and its underlying type.
func getUnderlyingType(t types.Type) (named types.Type, underlying types.Type) {
	nt := t
	for {
		t = nt.Underlying()
		p, ok := t.(*types.Pointer)
		if !ok {
			break
		}
		nt = p.Elem()
	}
	return nt, t
}

// splitElements checks that the elements of a composite are either all keyed
// or all unkeyed.
func (s *scope) splitElements(v composite) (keyed bool, err error) {
	for i, e := range v {
		_, isKV := e.(*ast.KeyValueExpr)
		if i == 0 {
			keyed = isKV
		} else if isKV != keyed {
			return false, posError(s.pos(e), fmt.Errorf("mixture of keyed and unkeyed elements in composite value"))
		}
	}
	return keyed, nil
}

func (s *scope) convertStructValue(v composite, pos token.Position, structType *types.Struct, nt types.Type) (AnnotationValue, error) {
	local := true
	var meta *AnnotationMetadata
	if named, ok := types.Unalias(nt).(*types.Named); ok {
		obj := named.Obj()
		local = obj.Pkg() == nil || obj.Pkg().Path() == s.pkg.Path
		var err error
		if meta, err = s.r.getMetadata(annotationTypeOf(obj)); err != nil {
			return nilValue, err
		}
	}

	keyed, err := s.splitElements(v)
	if err != nil {
		return nilValue, err
	}
	strct := make([]AnnotationStructEntry, 0, len(v))
	if !keyed && len(v) > 0 {
		if len(v) != structType.NumFields() {
			return nilValue, posError(pos, fmt.Errorf("wrong number of values for struct type %v; expecting %d, got %d", nt, structType.NumFields(), len(v)))
		}
		for i, e := range v {
			fld := structType.Field(i)
			fldPos := s.pos(e)
			if !fld.Exported() && !local {
				return nilValue, posError(fldPos, fmt.Errorf("cannot set non-exported field %s of type %v", fld.Name(), nt))
			}
			av, err := s.convertExpression(e, fld.Type())
			if err != nil {
				return nilValue, err
			}
			strct = append(strct, AnnotationStructEntry{Field: fld, Pos: fldPos, Value: av})
		}
		return newValue(nt, KindStruct, strct, pos), nil
	}

	fields := map[string]*types.Var{}
	for i := 0; i < structType.NumFields(); i++ {
		fields[structType.Field(i).Name()] = structType.Field(i)
	}
	set := map[string]struct{}{}
	for _, e := range v {
		kv := e.(*ast.KeyValueExpr)
		keyPos := s.pos(kv.Key)
		id, ok := kv.Key.(*ast.Ident)
		if !ok {
			return nilValue, posError(keyPos, fmt.Errorf("invalid field name in value for struct type %v", nt))
		}
		if _, ok := set[id.Name]; ok {
			return nilValue, posError(keyPos, fmt.Errorf("struct value has duplicate entries: field %q", id.Name))
		}
		fld := fields[id.Name]
		if fld == nil {
			return nilValue, posError(keyPos, fmt.Errorf("struct type %v has no field named %s", nt, id.Name))
		}
		if !fld.Exported() && !local {
			return nilValue, posError(keyPos, fmt.Errorf("cannot set non-exported field %s of type %v", fld.Name(), nt))
		}
		av, err := s.convertExpression(kv.Value, fld.Type())
		if err != nil {
			return nilValue, err
		}
		set[id.Name] = struct{}{}
		strct = append(strct, AnnotationStructEntry{Field: fld, Pos: keyPos, Value: av})
	}

	if meta != nil {
		for i := 0; i < structType.NumFields(); i++ {
			fld := structType.Field(i)
			if _, ok := set[fld.Name()]; ok {
				continue
			}
			if meta.RequiredFields[fld.Name()] {
				return nilValue, posError(pos, fmt.Errorf("field %s is not specified but is required", fld.Name()))
			}
			if def, ok := meta.DefaultFieldValues[fld.Name()]; ok {
				strct = append(strct, AnnotationStructEntry{Field: fld, Pos: def.Pos, Value: def})
			}
		}
	}
	return newValue(nt, KindStruct, strct, pos), nil
}

func (s *scope) convertMapValue(v composite, pos token.Position, mapType *types.Map, nt types.Type) (AnnotationValue, error) {
	if keyed, err := s.splitElements(v); err != nil {
		return nilValue, err
	} else if !keyed && len(v) > 0 {
		return nilValue, posError(s.pos(v[0]), fmt.Errorf("map values must have keys"))
	}
	mp := make([]AnnotationMapEntry, 0, len(v))
	keys := map[string]struct{}{}
	for _, e := range v {
		kv := e.(*ast.KeyValueExpr)
		avk, err := s.convertExpression(kv.Key, mapType.Key())
		if err != nil {
			return nilValue, err
		}
		k := valueKey(avk)
		if _, ok := keys[k]; ok {
			return nilValue, posError(s.pos(kv.Key), fmt.Errorf("map value has duplicate entries: key = %s", k))
		}
		avv, err := s.convertExpression(kv.Value, mapType.Elem())
		if err != nil {
			return nilValue, err
		}
		keys[k] = struct{}{}
		mp = append(mp, AnnotationMapEntry{Key: avk, Value: avv})
	}
	return newValue(nt, KindMap, mp, pos), nil
}

func (s *scope) convertSliceValue(v composite, pos token.Position, elemType, nt types.Type) (AnnotationValue, error) {
	sl := make([]AnnotationValue, len(v))
	for i, e := range v {
		if kv, ok := e.(*ast.KeyValueExpr); ok {
			return nilValue, posError(s.pos(kv.Key), fmt.Errorf("slice/array values should not have keys"))
		}
		av, err := s.convertExpression(e, elemType)
		if err != nil {
			return nilValue, err
		}
		sl[i] = av
	}
	return newValue(nt, KindSlice, sl, pos), nil
}

// convertCompositeValue converts a composite whose target is the empty
// interface. If every key is a plain name it is a struct, if it has other
// keys it is a map, and otherwise it is an array.
func (s *scope) convertCompositeValue(v composite, pos token.Position) (AnnotationValue, error) {
	keyed, err := s.splitElements(v)
	if err != nil {
		return nilValue, err
	}
	isStruct := keyed
	for _, e := range v {
		if kv, ok := e.(*ast.KeyValueExpr); ok {
			if _, ok := kv.Key.(*ast.Ident); !ok {
				isStruct = false
			}
		}
	}

	switch {
	case isStruct:
		strct := make([]AnnotationStructEntry, 0, len(v))
		fields := make([]*types.Var, 0, len(v))
		names := map[string]struct{}{}
		for _, e := range v {
			kv := e.(*ast.KeyValueExpr)
			name := kv.Key.(*ast.Ident).Name
			keyPos := s.pos(kv.Key)
			if _, ok := names[name]; ok {
				return nilValue, posError(keyPos, fmt.Errorf("struct value has duplicate entries: field %q", name))
			}
			names[name] = struct{}{}
			av, err := s.convertExpression(kv.Value, emptyInterface)
			if err != nil {
				return nilValue, err
			}
			fld := types.NewField(token.NoPos, s.pkg.Types, name, av.Type, false)
			fields = append(fields, fld)
			strct = append(strct, AnnotationStructEntry{Field: fld, Pos: keyPos, Value: av})
		}
		return newValue(types.NewStruct(fields, nil), KindStruct, strct, pos), nil

	case keyed:
		mp := make([]AnnotationMapEntry, 0, len(v))
		keys := map[string]struct{}{}
		var elType, keyType types.Type
		for _, e := range v {
			kv := e.(*ast.KeyValueExpr)
			avk, err := s.convertExpression(kv.Key, emptyInterface)
			if err != nil {
				return nilValue, err
			}
			k := valueKey(avk)
			if _, ok := keys[k]; ok {
				return nilValue, posError(s.pos(kv.Key), fmt.Errorf("map value has duplicate entries: key = %s", k))
			}
			keys[k] = struct{}{}
			keyType = unify(keyType, avk.Type)
			avv, err := s.convertExpression(kv.Value, emptyInterface)
			if err != nil {
				return nilValue, err
			}
			elType = unify(elType, avv.Type)
			mp = append(mp, AnnotationMapEntry{Key: avk, Value: avv})
		}
		if keyType == nil || !types.Comparable(keyType) {
			keyType = emptyInterface
		}
		if elType == nil {
			elType = emptyInterface
		}
		return newValue(types.NewMap(keyType, elType), KindMap, mp, pos), nil

	default:
		sl := make([]AnnotationValue, len(v))
		var elType types.Type
		for i, e := range v {
			av, err := s.convertExpression(e, emptyInterface)
			if err != nil {
				return nilValue, err
			}
			elType = unify(elType, av.Type)
			sl[i] = av
		}
		if elType == nil {
			elType = emptyInterface
		}
		return newValue(types.NewArray(elType, int64(len(sl))), KindSlice, sl, pos), nil
	}
}

// unify returns the type that can hold values of both prev and next.
func unify(prev, next types.Type) types.Type {
	switch {
	case prev == nil:
		return next
	case types.AssignableTo(next, prev):
		return prev
	default:
		return emptyInterface
	}
}

// valueKey renders av so that equal values have equal keys.
func valueKey(av AnnotationValue) string {
	var sb strings.Builder
	writeKey(&sb, av)
	return sb.String()
}

func writeKey(sb *strings.Builder, av AnnotationValue) {
	switch av.Kind {
	case KindSlice:
		sb.WriteByte('[')
		for i, e := range av.AsSlice() {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeKey(sb, e)
		}
		sb.WriteByte(']')
	case KindMap:
		sb.WriteString("map[")
		for i, e := range av.AsMap() {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeKey(sb, e.Key)
			sb.WriteByte(':')
			writeKey(sb, e.Value)
		}
		sb.WriteByte(']')
	case KindStruct:
		sb.WriteByte('{')
		for i, e := range av.AsStruct() {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(e.Field.Name())
			sb.WriteByte(':')
			writeKey(sb, e.Value)
		}
		sb.WriteByte('}')
	case KindFunc:
		sb.WriteString(av.AsFunc().FullName())
	case KindString:
		fmt.Fprintf(sb, "%q", av.Value)
	default:
		fmt.Fprintf(sb, "%v", av.Value)
	}
}
