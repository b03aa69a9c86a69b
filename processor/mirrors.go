package processor

import (
	"fmt"
	"go/token"
	"go/types"
	"reflect"
	"slices"
	"unicode"
	"unicode/utf8"
	"unsafe"

	"fortio.org/safecast"

	"github.com/jhump/aptest"
)

// AnnotationMirror is a view of an annotation instance that appears in source.
type AnnotationMirror struct {
	// Metadata for the type of the annotation.
	Metadata *AnnotationMetadata
	// The location in source where this annotation is defined.
	Pos token.Position
	// The actual value of the annotation.
	Value AnnotationValue
}

// Type returns the annotation's type.
func (m AnnotationMirror) Type() AnnotationType {
	return m.Metadata.Type
}

// Reify populates the given pointer with the data in this mirror. The
// pointed-to type must be the annotation type. For example:
//
//	var id aptest.ID
//	err := mirror.Reify(&id)
func (m AnnotationMirror) Reify(target any) error {
	targetType := reflect.TypeOf(target)
	for targetType != nil && targetType.Kind() == reflect.Ptr {
		targetType = targetType.Elem()
	}
	if targetType == nil || targetType.PkgPath() != m.Metadata.Type.PkgPath || targetType.Name() != m.Metadata.Type.Name {
		return fmt.Errorf("annotation mirror of type %v cannot be reified into value of type %T", m.Metadata.Type, target)
	}
	return m.Value.Reify(target)
}

// AnnotationMetadata describes an annotation type as it appears in source.
type AnnotationMetadata struct {
	// The annotation type.
	Type AnnotationType
	// The declaration of the type, as seen by the package where the metadata
	// was first needed.
	TypeName *types.TypeName

	// Corresponds to the field of the same name on @aptest.Annotation.
	RuntimeVisible bool
	// The kinds of elements on which this annotation is allowed to appear. If
	// empty, it may appear anywhere.
	AllowedElements []aptest.ElementType
	// If true, this annotation can appear more than once on a single element.
	AllowRepeated bool

	// Fields that must be present in all instances of the annotation. These
	// are all fields that had an @aptest.Required annotation.
	RequiredFields map[string]bool
	// Default values for fields that have an @aptest.DefaultValue annotation.
	DefaultFieldValues map[string]AnnotationValue
}

// ValueKind indicates the type of underlying value for an annotation.
type ValueKind int

const (
	// KindInvalid indicates an uninitialized value.
	KindInvalid ValueKind = iota
	KindInt
	KindUint
	KindFloat
	KindComplex
	KindString
	KindBool
	KindNil
	// KindFunc is for values that name a function or method.
	KindFunc
	// KindSlice is for values whose type is a slice or array.
	KindSlice
	KindMap
	KindStruct
)

var kindNames = map[ValueKind]string{
	KindInt:     "int",
	KindUint:    "uint",
	KindFloat:   "float",
	KindComplex: "complex",
	KindString:  "string",
	KindBool:    "bool",
	KindNil:     "nil",
	KindFunc:    "func",
	KindSlice:   "slice",
	KindMap:     "map",
	KindStruct:  "struct",
}

func (k ValueKind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "<invalid>"
}

// IsScalar returns true for numbers, strings, and bools.
func (k ValueKind) IsScalar() bool {
	return k >= KindInt && k <= KindBool
}

// AnnotationStructEntry represents a field in an annotation value whose type
// is a struct.
type AnnotationStructEntry struct {
	Field *types.Var
	// The position in source where this field value is defined.
	Pos   token.Position
	Value AnnotationValue
}

// AnnotationMapEntry is a key-value pair in an annotation value whose type is
// a map.
type AnnotationMapEntry struct {
	Key   AnnotationValue
	Value AnnotationValue
}

// AnnotationValue represents the value of an annotation. All values are
// constant expressions, known at compile-time.
type AnnotationValue struct {
	// The type of the value.
	Type types.Type
	Kind ValueKind
	// The actual value. It will be an int64, uint64, float64, complex128, bool,
	// or string for scalar values. For function values, it will be a
	// *types.Func. For aggregate values, it will be a []AnnotationValue,
	// []AnnotationMapEntry, or []AnnotationStructEntry.
	Value any
	// If the value is a reference to a constant, this is the constant that
	// was referenced. The expression "someConst + 1" has a nil Ref.
	Ref *types.Const

	// The position in source where this annotation value is defined.
	Pos token.Position
}

func (v *AnnotationValue) AsInt() int64 {
	return v.Value.(int64)
}

func (v *AnnotationValue) AsUint() uint64 {
	return v.Value.(uint64)
}

func (v *AnnotationValue) AsFloat() float64 {
	return v.Value.(float64)
}

func (v *AnnotationValue) AsComplex() complex128 {
	return v.Value.(complex128)
}

func (v *AnnotationValue) AsString() string {
	return v.Value.(string)
}

func (v *AnnotationValue) AsBool() bool {
	return v.Value.(bool)
}

func (v *AnnotationValue) AsFunc() *types.Func {
	return v.Value.(*types.Func)
}

func (v *AnnotationValue) AsSlice() []AnnotationValue {
	return v.Value.([]AnnotationValue)
}

func (v *AnnotationValue) AsMap() []AnnotationMapEntry {
	return v.Value.([]AnnotationMapEntry)
}

func (v *AnnotationValue) AsStruct() []AnnotationStructEntry {
	return v.Value.([]AnnotationStructEntry)
}

// Field returns the value of the named field of a struct value.
func (v *AnnotationValue) Field(name string) (AnnotationValue, bool) {
	if v.Kind != KindStruct {
		return AnnotationValue{}, false
	}
	for _, e := range v.AsStruct() {
		if e.Field.Name() == name {
			return e.Value, true
		}
	}
	return AnnotationValue{}, false
}

// Reify populates the given target with the data in this value. The target
// must be a non-nil pointer whose element type is structurally compatible
// with the value. Composite values are reified recursively.
//
// Functions cannot be called from a reified value. A reified function panics
// with an *ErrMirroredFunction that refers to the function in source.
//
// When the target is an empty interface, the value's type is synthesized with
// reflection. Synthesized structs have all of their fields exported.
func (v *AnnotationValue) Reify(target any) error {
	rv := reflect.ValueOf(target)
	if rv.Kind() != reflect.Ptr {
		return fmt.Errorf("cannot reify into non-pointer value of type %T", target)
	}
	if rv.IsNil() {
		return fmt.Errorf("cannot reify into nil pointer of type %T", target)
	}
	rv.Elem().Set(reflect.Zero(rv.Elem().Type()))
	return v.reify(rv.Elem(), false)
}

func (v *AnnotationValue) reify(target reflect.Value, ignoreFieldNames bool) error {
	if v.Kind == KindNil {
		return reifyFromNil(target)
	}
	if target.Kind() == reflect.Ptr {
		target.Set(reflect.New(target.Type().Elem()))
		return v.reify(target.Elem(), ignoreFieldNames)
	}
	if target.Kind() == reflect.Interface {
		return v.reifyInterface(target)
	}
	if v.Kind.IsScalar() {
		return v.reifyScalar(target)
	}

	switch v.Kind {
	case KindFunc:
		return reifyFromFunc(target, v.AsFunc())
	case KindSlice:
		return reifyFromSlice(target, v.AsSlice(), ignoreFieldNames)
	case KindMap:
		return reifyFromMap(target, v.AsMap(), ignoreFieldNames)
	case KindStruct:
		return reifyFromStruct(target, v.Type, v.AsStruct(), ignoreFieldNames)
	default:
		return fmt.Errorf("unexpected kind of annotation value: %v", v.Kind)
	}
}

func (v *AnnotationValue) reifyInterface(target reflect.Value) error {
	if target.NumMethod() > 0 {
		return fmt.Errorf("cannot reify %v value into non-empty interface %v", v.Kind, target.Type())
	}
	typ, exact := makeType(v.Type)
	if typ.Kind() == reflect.Interface {
		typ = defaultReflectType(v)
	}
	reified := reflect.New(typ).Elem()
	if err := v.reify(reified, !exact); err != nil {
		return err
	}
	target.Set(reified)
	return nil
}

// defaultReflectType picks a concrete type for a value whose declared type is
// an interface.
func defaultReflectType(v *AnnotationValue) reflect.Type {
	switch v.Kind {
	case KindInt:
		return reflect.TypeFor[int64]()
	case KindUint:
		return reflect.TypeFor[uint64]()
	case KindFloat:
		return reflect.TypeFor[float64]()
	case KindComplex:
		return reflect.TypeFor[complex128]()
	case KindString:
		return reflect.TypeFor[string]()
	case KindBool:
		return reflect.TypeFor[bool]()
	default:
		return typeOfEmptyInterface
	}
}

// reifyScalar stores a number, string, or bool in target. Integers may be
// stored in any numeric type that can represent them exactly.
func (v *AnnotationValue) reifyScalar(target reflect.Value) error {
	numeric := v.Kind >= KindInt && v.Kind <= KindComplex
	integral := v.Kind == KindInt || v.Kind == KindUint
	switch k := target.Kind(); {
	case k == reflect.Bool && v.Kind == KindBool:
		target.SetBool(v.AsBool())
	case k == reflect.String && v.Kind == KindString:
		target.SetString(v.AsString())
	case signedKinds[k] && integral:
		i, err := v.signed()
		if err != nil || target.OverflowInt(i) {
			return v.outOfRange(target.Type())
		}
		target.SetInt(i)
	case unsignedKinds[k] && integral:
		u, err := v.unsigned()
		if err != nil || target.OverflowUint(u) {
			return v.outOfRange(target.Type())
		}
		target.SetUint(u)
	case (k == reflect.Float32 || k == reflect.Float64) && numeric && v.Kind != KindComplex:
		f := real(v.complex())
		if target.OverflowFloat(f) {
			return v.outOfRange(target.Type())
		}
		target.SetFloat(f)
	case (k == reflect.Complex64 || k == reflect.Complex128) && numeric:
		c := v.complex()
		if target.OverflowComplex(c) {
			return v.outOfRange(target.Type())
		}
		target.SetComplex(c)
	default:
		return fmt.Errorf("%v value %v is not valid for type %v (%v)", v.Kind, v.Value, target.Type(), k)
	}
	return nil
}

var (
	signedKinds = map[reflect.Kind]bool{
		reflect.Int: true, reflect.Int8: true, reflect.Int16: true, reflect.Int32: true, reflect.Int64: true,
	}
	unsignedKinds = map[reflect.Kind]bool{
		reflect.Uint: true, reflect.Uint8: true, reflect.Uint16: true, reflect.Uint32: true, reflect.Uint64: true,
		reflect.Uintptr: true,
	}
)

func (v *AnnotationValue) signed() (int64, error) {
	if v.Kind == KindUint {
		return safecast.Conv[int64](v.AsUint())
	}
	return v.AsInt(), nil
}

func (v *AnnotationValue) unsigned() (uint64, error) {
	if v.Kind == KindInt {
		return safecast.Conv[uint64](v.AsInt())
	}
	return v.AsUint(), nil
}

// complex widens any numeric value.
func (v *AnnotationValue) complex() complex128 {
	switch v.Kind {
	case KindInt:
		return complex(float64(v.AsInt()), 0)
	case KindUint:
		return complex(float64(v.AsUint()), 0)
	case KindFloat:
		return complex(v.AsFloat(), 0)
	default:
		return v.AsComplex()
	}
}

func (v *AnnotationValue) outOfRange(t reflect.Type) error {
	return fmt.Errorf("value %v is out of range for type %v", v.Value, t)
}

func reifyFromNil(target reflect.Value) error {
	switch target.Kind() {
	case reflect.Slice, reflect.Map, reflect.Chan, reflect.Func,
		reflect.UnsafePointer, reflect.Ptr, reflect.Interface:
		target.Set(reflect.Zero(target.Type()))
		return nil
	}
	return fmt.Errorf("nil is not a valid value for type %v", target.Type())
}

func reifyFromFunc(target reflect.Value, fn *types.Func) error {
	if target.Kind() != reflect.Func {
		return fmt.Errorf("function %s is not valid for type %v (%v)", fn.FullName(), target.Type(), target.Kind())
	}
	target.Set(reflect.MakeFunc(target.Type(), func([]reflect.Value) []reflect.Value {
		panic((*ErrMirroredFunction)(fn))
	}))
	return nil
}

// sized prepares a slice or array target to hold n elements.
func sized(target reflect.Value, n int, what string) error {
	if target.Kind() == reflect.Slice {
		target.Set(reflect.MakeSlice(target.Type(), n, n))
		return nil
	}
	if target.Len() < n {
		return fmt.Errorf("%s with %d elements is not valid for type %v", what, n, target.Type())
	}
	return nil
}

func reifyFromSlice(target reflect.Value, elems []AnnotationValue, ignoreFieldNames bool) error {
	var slot func(i int) reflect.Value
	switch target.Kind() {
	case reflect.Array:
		if target.Len() != len(elems) {
			return fmt.Errorf("array literal with %d elements is not valid for type %v", len(elems), target.Type())
		}
		slot = target.Index
	case reflect.Slice:
		target.Set(reflect.MakeSlice(target.Type(), len(elems), len(elems)))
		slot = target.Index
	case reflect.Struct:
		// unkeyed struct literal
		if target.NumField() != len(elems) {
			return fmt.Errorf("unkeyed struct literal with %d elements is not valid for type %v", len(elems), target.Type())
		}
		slot = func(i int) reflect.Value {
			return makeSettable(target.Field(i))
		}
	default:
		return fmt.Errorf("slice value is not valid for type %v (%v)", target.Type(), target.Kind())
	}
	for i := range elems {
		if err := elems[i].reify(slot(i), ignoreFieldNames); err != nil {
			return err
		}
	}
	return nil
}

func reifyFromMap(target reflect.Value, entries []AnnotationMapEntry, ignoreFieldNames bool) error {
	switch target.Kind() {
	case reflect.Map:
		mt := target.Type()
		target.Set(reflect.MakeMapWithSize(mt, len(entries)))
		for _, entry := range entries {
			k, val := reflect.New(mt.Key()).Elem(), reflect.New(mt.Elem()).Elem()
			if err := entry.Key.reify(k, ignoreFieldNames); err != nil {
				return err
			}
			if err := entry.Value.reify(val, ignoreFieldNames); err != nil {
				return err
			}
			target.SetMapIndex(k, val)
		}
		return nil

	case reflect.Slice, reflect.Array:
		// a keyed literal for a sparse slice or array
		indexes := make([]int, len(entries))
		length := 0
		for i := range entries {
			index, err := sliceIndex(&entries[i].Key)
			if err != nil {
				return err
			}
			indexes[i] = index
			length = max(length, index+1)
		}
		if err := sized(target, length, "sparse array literal"); err != nil {
			return err
		}
		for i := range entries {
			if err := entries[i].Value.reify(target.Index(indexes[i]), ignoreFieldNames); err != nil {
				return err
			}
		}
		return nil

	default:
		return fmt.Errorf("map value is not valid for type %v (%v)", target.Type(), target.Kind())
	}
}

func sliceIndex(key *AnnotationValue) (int, error) {
	var index int
	var err error
	switch key.Kind {
	case KindInt:
		index, err = safecast.Conv[int](key.AsInt())
	case KindUint:
		index, err = safecast.Conv[int](key.AsUint())
	default:
		return 0, fmt.Errorf("sparse array/slice literal must have integer keys")
	}
	if err != nil || index < 0 {
		return 0, fmt.Errorf("value %v is out of range of int (array/slice index)", key.Value)
	}
	return index, nil
}

func reifyFromStruct(target reflect.Value, t types.Type, fields []AnnotationStructEntry, ignoreFieldNames bool) error {
	if target.Kind() != reflect.Struct {
		return fmt.Errorf("struct value is not valid for type %v (%v)", target.Type(), target.Kind())
	}
	// synthesized structs keep the field order of the source type but may
	// rename its fields
	names := make([]string, target.NumField())
	if ignoreFieldNames {
		st := underlyingStruct(t)
		for i := 0; i < st.NumFields() && i < len(names); i++ {
			names[i] = st.Field(i).Name()
		}
	} else {
		for i := range names {
			names[i] = target.Type().Field(i).Name
		}
	}
	for _, fld := range fields {
		index := slices.Index(names, fld.Field.Name())
		if index < 0 {
			return fmt.Errorf("struct has no field named %q", fld.Field.Name())
		}
		if err := fld.Value.reify(makeSettable(target.Field(index)), ignoreFieldNames); err != nil {
			return err
		}
	}
	return nil
}

func underlyingStruct(t types.Type) *types.Struct {
	if ptr, ok := types.Unalias(t).(*types.Pointer); ok {
		t = ptr.Elem()
	}
	if st, ok := t.Underlying().(*types.Struct); ok {
		return st
	}
	return types.NewStruct(nil, nil)
}

func makeSettable(v reflect.Value) reflect.Value {
	// unexported fields are set through their address
	if v.CanSet() {
		return v
	}
	return reflect.NewAt(v.Type(), unsafe.Pointer(v.UnsafeAddr())).Elem()
}

var typeOfEmptyInterface = reflect.TypeFor[any]()

// makeType synthesizes a reflect.Type for the given type. The bool is false
// if the synthesized type differs from the source form, such as a struct with
// renamed fields.
func makeType(t types.Type) (reflect.Type, bool) {
	switch t := t.(type) {
	case *types.Interface:
		return typeOfEmptyInterface, t.NumMethods() == 0
	case *types.Named:
		typ, _ := makeType(t.Underlying())
		return typ, false
	case *types.Pointer:
		typ, ok := makeType(t.Elem())
		return reflect.PointerTo(typ), ok
	case *types.Basic:
		return basicReflectType(t)
	case *types.Signature:
		in, inOk := makeTypes(t.Params())
		out, outOk := makeTypes(t.Results())
		return reflect.FuncOf(in, out, t.Variadic()), inOk && outOk
	case *types.Slice:
		typ, ok := makeType(t.Elem())
		return reflect.SliceOf(typ), ok
	case *types.Array:
		typ, ok := makeType(t.Elem())
		n, err := safecast.Conv[int](t.Len())
		if err != nil {
			return reflect.SliceOf(typ), false
		}
		return reflect.ArrayOf(n, typ), ok
	case *types.Map:
		ktyp, kOk := makeType(t.Key())
		vtyp, vOk := makeType(t.Elem())
		if !ktyp.Comparable() {
			ktyp = typeOfEmptyInterface
		}
		return reflect.MapOf(ktyp, vtyp), kOk && vOk
	case *types.Struct:
		return makeStruct(t)
	case *types.Alias:
		return makeType(types.Unalias(t))
	default:
		return typeOfEmptyInterface, false
	}
}

// basicReflectTypes maps basic types, including untyped constants, to the
// reflect types of synthesized values.
var basicReflectTypes = map[types.BasicKind]reflect.Type{
	types.Int:            reflect.TypeFor[int](),
	types.UntypedInt:     reflect.TypeFor[int](),
	types.Int64:          reflect.TypeFor[int64](),
	types.Int32:          reflect.TypeFor[int32](),
	types.UntypedRune:    reflect.TypeFor[int32](),
	types.Int16:          reflect.TypeFor[int16](),
	types.Int8:           reflect.TypeFor[int8](),
	types.Uint:           reflect.TypeFor[uint](),
	types.Uint64:         reflect.TypeFor[uint64](),
	types.Uint32:         reflect.TypeFor[uint32](),
	types.Uint16:         reflect.TypeFor[uint16](),
	types.Uint8:          reflect.TypeFor[uint8](),
	types.Uintptr:        reflect.TypeFor[uintptr](),
	types.Float64:        reflect.TypeFor[float64](),
	types.UntypedFloat:   reflect.TypeFor[float64](),
	types.Float32:        reflect.TypeFor[float32](),
	types.Complex128:     reflect.TypeFor[complex128](),
	types.UntypedComplex: reflect.TypeFor[complex128](),
	types.Complex64:      reflect.TypeFor[complex64](),
	types.String:         reflect.TypeFor[string](),
	types.UntypedString:  reflect.TypeFor[string](),
	types.Bool:           reflect.TypeFor[bool](),
	types.UntypedBool:    reflect.TypeFor[bool](),
	types.UnsafePointer:  reflect.TypeFor[unsafe.Pointer](),
}

func basicReflectType(t *types.Basic) (reflect.Type, bool) {
	if typ, ok := basicReflectTypes[t.Kind()]; ok {
		return typ, true
	}
	return typeOfEmptyInterface, true
}

func makeTypes(t *types.Tuple) ([]reflect.Type, bool) {
	exact := true
	typs := make([]reflect.Type, 0, t.Len())
	for v := range t.Variables() {
		typ, ok := makeType(v.Type())
		typs = append(typs, typ)
		exact = exact && ok
	}
	return typs, exact
}

// makeStruct synthesizes a struct type. Field names are exported, and made
// unique if exporting them causes a collision, so the result is only exact if
// no field needed renaming.
func makeStruct(st *types.Struct) (reflect.Type, bool) {
	exact := true
	fields := make([]reflect.StructField, 0, st.NumFields())
	used := make(map[string]bool, st.NumFields())
	for i, f := range slices.Collect(st.Fields()) {
		typ, ok := makeType(f.Type())
		// reflect.StructOf cannot promote methods of embedded fields
		exact = exact && ok && f.Exported() && !f.Anonymous()
		name := f.Name()
		if !f.Exported() {
			name = export(name)
		}
		for used[name] {
			name += "_"
			exact = false
		}
		used[name] = true
		fields = append(fields, reflect.StructField{Name: name, Tag: reflect.StructTag(st.Tag(i)), Type: typ})
	}
	return reflect.StructOf(fields), exact
}

func export(name string) string {
	r, sz := utf8.DecodeRuneInString(name)
	upperR := unicode.ToUpper(r)
	if upperR == r {
		// only for names that do not start with a letter, like '_'
		return "X" + name
	}
	return string(upperR) + name[sz:]
}

var nilValue AnnotationValue

func newValue(t types.Type, k ValueKind, v any, pos token.Position) AnnotationValue {
	var ok bool
	switch k {
	case KindInt:
		_, ok = v.(int64)
	case KindUint:
		_, ok = v.(uint64)
	case KindFloat:
		_, ok = v.(float64)
	case KindComplex:
		_, ok = v.(complex128)
	case KindBool:
		_, ok = v.(bool)
	case KindString:
		_, ok = v.(string)
	case KindFunc:
		_, ok = v.(*types.Func)
	case KindStruct:
		_, ok = v.([]AnnotationStructEntry)
	case KindMap:
		_, ok = v.([]AnnotationMapEntry)
	case KindSlice:
		_, ok = v.([]AnnotationValue)
	case KindNil:
		ok = v == nil
	}
	if !ok {
		panic(fmt.Sprintf("value of kind %v has wrong representation: %T", k, v))
	}
	return AnnotationValue{Type: t, Kind: k, Value: v, Pos: pos}
}

// ErrMirroredFunction is the value with which a reified function panics. A
// function in an annotation is only known in source form, so it cannot be
// called. AsFunc returns that source form.
type ErrMirroredFunction types.Func

func (e *ErrMirroredFunction) Error() string {
	return fmt.Sprintf("cannot invoke mirrored function %s", (*types.Func)(e).FullName())
}

// AsFunc returns the function referenced in source.
func (e *ErrMirroredFunction) AsFunc() *types.Func {
	return (*types.Func)(e)
}
