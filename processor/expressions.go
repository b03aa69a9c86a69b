package processor

import (
	"fmt"
	"go/ast"
	"go/constant"
	"go/token"
	"go/types"
	"math"

	"fortio.org/safecast"
)

var (
	typeInt   = types.Typ[types.Int]
	typeInt64 = types.Typ[types.Int64]
	typeInt32 = types.Typ[types.Int32]
	typeInt16 = types.Typ[types.Int16]
	typeInt8  = types.Typ[types.Int8]

	typeUintptr = types.Typ[types.Uintptr]
	typeUint    = types.Typ[types.Uint]
	typeUint64  = types.Typ[types.Uint64]
	typeUint32  = types.Typ[types.Uint32]
	typeUint16  = types.Typ[types.Uint16]
	typeUint8   = types.Typ[types.Uint8]

	typeFloat64    = types.Typ[types.Float64]
	typeFloat32    = types.Typ[types.Float32]
	typeComplex128 = types.Typ[types.Complex128]
	typeComplex64  = types.Typ[types.Complex64]

	typeBool   = types.Typ[types.Bool]
	typeString = types.Typ[types.String]

	typeUntypedInt     = types.Typ[types.UntypedInt]
	typeUntypedRune    = types.Typ[types.UntypedRune]
	typeUntypedFloat   = types.Typ[types.UntypedFloat]
	typeUntypedComplex = types.Typ[types.UntypedComplex]
	typeUntypedBool    = types.Typ[types.UntypedBool]
	typeUntypedString  = types.Typ[types.UntypedString]
	typeUntypedNil     = types.Typ[types.UntypedNil]

	emptyInterface = types.NewInterfaceType(nil, nil).Complete()
	emptyStruct    = types.NewStruct(nil, nil)
)

// funcConstant lets a reference to a function flow through constant
// evaluation. Its kind is constant.Unknown.
type funcConstant struct {
	constant.Value
	fn *types.Func
}

// composite holds the elements of a composite literal. They are converted
// once the target type is known.
type composite []ast.Expr

// typeAndVal is an evaluated expression. A nil t means the value is untyped.
type typeAndVal struct {
	t   types.Type
	v   any
	ref *types.Const
	pos token.Position
}

func (s *scope) expressionValue(expr ast.Expr) (typeAndVal, error) {
	tv := typeAndVal{pos: s.pos(expr)}
	if lit, ok := ast.Unparen(expr).(*ast.CompositeLit); ok {
		if lit.Type != nil {
			t, err := s.convertType(lit.Type)
			if err != nil {
				return tv, err
			}
			tv.t = t
		}
		tv.v = composite(lit.Elts)
		return tv, nil
	}

	t, v, err := s.constantValue(expr)
	if err != nil {
		return tv, err
	}
	tv.v = getConstantValue(t, v)
	if !isUntyped(t) {
		tv.t = t
	}
	switch e := ast.Unparen(expr).(type) {
	case *ast.Ident, *ast.SelectorExpr:
		if obj, err := s.lookup(e); err == nil {
			tv.ref, _ = obj.(*types.Const)
		}
	}
	return tv, nil
}

func getConstantValue(t types.Type, v constant.Value) any {
	if v == nil {
		return nil
	}
	if fn, ok := v.(funcConstant); ok {
		return fn.fn
	}
	switch {
	case isInt(t):
		v = constant.ToInt(v)
		if i, exact := constant.Int64Val(v); exact {
			return i
		}
		u, _ := constant.Uint64Val(v)
		return u
	case isFloat(t):
		f, _ := constant.Float64Val(constant.ToFloat(v))
		return f
	case isComplex(t):
		v = constant.ToComplex(v)
		r, _ := constant.Float64Val(constant.Real(v))
		i, _ := constant.Float64Val(constant.Imag(v))
		return complex(r, i)
	case isBool(t):
		return constant.BoolVal(v)
	case isString(t):
		return constant.StringVal(v)
	}
	panic(fmt.Sprintf("unrecognized type and value: %v, %v", t, v))
}

func (s *scope) constantValue(expr ast.Expr) (types.Type, constant.Value, error) {
	switch e := expr.(type) {
	case *ast.BasicLit:
		v := constant.MakeFromLiteral(e.Value, e.Kind, 0)
		if v.Kind() == constant.Unknown {
			return nil, nil, posError(s.pos(e), fmt.Errorf("malformed literal %s", e.Value))
		}
		switch e.Kind {
		case token.INT:
			return typeUntypedInt, v, nil
		case token.FLOAT:
			return typeUntypedFloat, v, nil
		case token.IMAG:
			return typeUntypedComplex, v, nil
		case token.CHAR:
			return typeUntypedRune, v, nil
		default:
			return typeUntypedString, v, nil
		}

	case *ast.Ident, *ast.SelectorExpr:
		obj, err := s.lookup(e)
		if err != nil {
			return nil, nil, err
		}
		switch obj := obj.(type) {
		case *types.Const:
			return obj.Type(), obj.Val(), nil
		case *types.Nil:
			return typeUntypedNil, nil, nil
		case *types.Func:
			return obj.Type(), funcConstant{Value: constant.MakeUnknown(), fn: obj}, nil
		default:
			return nil, nil, posError(s.pos(e), fmt.Errorf("%s must be a constant or a function", obj.Name()))
		}

	case *ast.CompositeLit:
		return nil, nil, posError(s.pos(e), fmt.Errorf("composite literal cannot be used in a constant expression"))

	case *ast.ParenExpr:
		return s.constantValue(e.X)

	case *ast.UnaryExpr:
		return s.unaryOp(e)

	case *ast.BinaryExpr:
		return s.binaryOp(e)

	case *ast.CallExpr:
		if b, ok := s.builtin(e.Fun); ok {
			return s.invokeBuiltin(b, e)
		}
		return s.conversion(e)

	default:
		return nil, nil, posError(s.pos(expr), fmt.Errorf("unsupported expression in annotation value"))
	}
}

func (s *scope) builtin(fun ast.Expr) (*types.Builtin, bool) {
	id, ok := ast.Unparen(fun).(*ast.Ident)
	if !ok {
		return nil, false
	}
	obj, err := s.lookup(id)
	if err != nil {
		return nil, false
	}
	b, ok := obj.(*types.Builtin)
	return b, ok
}

func (s *scope) conversion(call *ast.CallExpr) (types.Type, constant.Value, error) {
	pos := s.pos(call)
	if len(call.Args) != 1 || call.Ellipsis.IsValid() {
		return nil, nil, posError(pos, fmt.Errorf("conversion requires exactly one argument"))
	}
	t, err := s.convertType(call.Fun)
	if err != nil {
		return nil, nil, err
	}
	vt, v, err := s.constantValue(call.Args[0])
	if err != nil {
		return nil, nil, err
	}
	if !types.ConvertibleTo(vt, t) {
		return nil, nil, posError(pos, fmt.Errorf("cannot convert %v to %v", vt, t))
	}
	basic, ok := t.Underlying().(*types.Basic)
	if !ok || v == nil || isFunc(v) {
		// a function or typed nil; nothing to convert
		return t, v, nil
	}
	if types.Identical(basic, vt.Underlying()) || basic.Kind() == types.Bool {
		return t, v, nil
	}

	typePos := s.pos(call.Fun)
	switch {
	case basic.Info()&types.IsInteger != 0:
		v, err = convertToInt(v, basic, pos)
	case basic.Info()&types.IsFloat != 0:
		v, err = convertToFloat(v, basic, pos)
	case basic.Info()&types.IsComplex != 0:
		v, err = convertToComplex(v, basic, pos)
	case basic.Info()&types.IsString != 0:
		v, err = convertToString(v, pos)
	default:
		return nil, nil, posError(typePos, fmt.Errorf("type %v cannot be used in a constant expression", t))
	}
	if err != nil {
		return nil, nil, err
	}
	return t, v, nil
}

func (s *scope) unaryOp(e *ast.UnaryExpr) (types.Type, constant.Value, error) {
	t, v, err := s.constantValue(e.X)
	if err != nil {
		return nil, nil, err
	}
	pos := s.pos(e.X)
	if v == nil || isFunc(v) {
		return nil, nil, posError(pos, fmt.Errorf("operator %v not valid for %v values", e.Op, t))
	}

	switch e.Op {
	case token.ADD:
		if !isNumber(t) {
			return nil, nil, posError(pos, fmt.Errorf("operator not valid for %v values (only numbers)", t))
		}
		return t, v, nil

	case token.XOR:
		if !isInt(t) {
			return nil, nil, posError(pos, fmt.Errorf("operator not valid for %v values (only integers)", t))
		}
		var prec uint
		if isUnsigned(t) {
			prec = uint(basicSize(t) * 8)
		}
		return t, constant.UnaryOp(token.XOR, v, prec), nil

	case token.SUB:
		if !isNumber(t) {
			return nil, nil, posError(pos, fmt.Errorf("operator not valid for %v values (only numbers)", t))
		}
		return t, constant.UnaryOp(token.SUB, v, 0), nil

	case token.NOT:
		if !isBool(t) {
			return nil, nil, posError(pos, fmt.Errorf("operator not valid for %v values (only bools)", t))
		}
		return t, constant.MakeBool(!constant.BoolVal(v)), nil

	default:
		return nil, nil, posError(s.pos(e), fmt.Errorf("unsupported operator %v", e.Op))
	}
}

func (s *scope) binaryOp(e *ast.BinaryExpr) (types.Type, constant.Value, error) {
	lt, lv, err := s.constantValue(e.X)
	if err != nil {
		return nil, nil, err
	}
	rt, rv, err := s.constantValue(e.Y)
	if err != nil {
		return nil, nil, err
	}

	leftPos := s.pos(e.X)
	rightPos := s.pos(e.Y)
	opPos := s.anno.Position(e.OpPos)

	if lv == nil {
		return nil, nil, posError(leftPos, fmt.Errorf("operator not valid for nil values"))
	} else if rv == nil {
		return nil, nil, posError(rightPos, fmt.Errorf("operator not valid for nil values"))
	}
	if isFunc(lv) {
		return nil, nil, posError(leftPos, fmt.Errorf("operator not valid for func values"))
	} else if isFunc(rv) {
		return nil, nil, posError(rightPos, fmt.Errorf("operator not valid for func values"))
	}

	op := e.Op
	var tt types.Type
	if isShift(op) {
		tt = lt
	} else if untypedRank(lt) > 0 && untypedRank(rt) > 0 {
		tt = lt
		if untypedRank(rt) > untypedRank(lt) {
			tt = rt
		}
	} else if constAssignableTo(lt, rt) {
		tt = rt
	} else if constAssignableTo(rt, lt) {
		tt = lt
	}
	if tt == nil {
		return nil, nil, posError(opPos, fmt.Errorf("incompatible types: %v and %v", lt, rt))
	}

	switch {
	case isShift(op):
		if !isInt(lt) {
			return nil, nil, posError(leftPos, fmt.Errorf("operator not valid for %v values (only integers)", lt))
		}
		if !isInt(rt) || constant.Sign(rv) < 0 {
			return nil, nil, posError(rightPos, fmt.Errorf("shift count must be a non-negative integer"))
		}
		sh64, ok := constant.Uint64Val(constant.ToInt(rv))
		if !ok {
			return nil, nil, posError(rightPos, fmt.Errorf("shift count overflows uint: %v", rv))
		}
		sh, err := safecast.Conv[uint](sh64)
		if err != nil {
			return nil, nil, posError(rightPos, fmt.Errorf("shift count overflows uint: %v", rv))
		}
		return tt, constant.Shift(lv, op, sh), nil

	case isComparison(op):
		if isOrderedComparison(op) {
			if isComplex(lt) || isBool(lt) {
				return nil, nil, posError(leftPos, fmt.Errorf("operator not valid for %v values", lt))
			} else if isComplex(rt) || isBool(rt) {
				return nil, nil, posError(rightPos, fmt.Errorf("operator not valid for %v values", rt))
			}
		}
		return typeUntypedBool, constant.MakeBool(constant.Compare(lv, op, rv)), nil
	}

	if op == token.QUO {
		if isZero(rv) {
			return nil, nil, posError(rightPos, fmt.Errorf("division by zero"))
		}
		if isInt(tt) && lv.Kind() == constant.Int && rv.Kind() == constant.Int {
			// integer division
			op = token.QUO_ASSIGN
		}
	}
	if isIntOnlyOperation(op) {
		if !isInt(lt) {
			return nil, nil, posError(leftPos, fmt.Errorf("operator not valid for %v values (only integers)", lt))
		} else if !isInt(rt) {
			return nil, nil, posError(rightPos, fmt.Errorf("operator not valid for %v values (only integers)", rt))
		}
		if op == token.REM && isZero(rv) {
			return nil, nil, posError(rightPos, fmt.Errorf("division by zero"))
		}
	}
	if isLogicalOperation(op) {
		if !isBool(lt) {
			return nil, nil, posError(leftPos, fmt.Errorf("operator not valid for %v values (only bools)", lt))
		} else if !isBool(rt) {
			return nil, nil, posError(rightPos, fmt.Errorf("operator not valid for %v values (only bools)", rt))
		}
	} else if isBool(tt) {
		return nil, nil, posError(opPos, fmt.Errorf("operator %v not valid for bool values", op))
	}
	if isString(tt) && op != token.ADD {
		return nil, nil, posError(opPos, fmt.Errorf("operator %v not valid for string values", op))
	}
	return tt, constant.BinaryOp(lv, op, rv), nil
}

func (s *scope) invokeBuiltin(b *types.Builtin, call *ast.CallExpr) (types.Type, constant.Value, error) {
	pos := s.pos(call)
	switch b.Name() {
	case "real", "imag":
		if len(call.Args) != 1 {
			return nil, nil, posError(pos, fmt.Errorf("%s requires exactly one argument", b.Name()))
		}
		t, v, err := s.constantValue(call.Args[0])
		if err != nil {
			return nil, nil, err
		}
		argPos := s.pos(call.Args[0])
		if v == nil || isFunc(v) || !isNumber(t) {
			return nil, nil, posError(argPos, fmt.Errorf("invalid argument type for %s: %v", b.Name(), t))
		}
		v = constant.ToComplex(v)
		var res constant.Value
		if b.Name() == "real" {
			res = constant.Real(v)
		} else {
			res = constant.Imag(v)
		}
		switch t.Underlying().(*types.Basic).Kind() {
		case types.Complex128:
			t = typeFloat64
		case types.Complex64:
			t = typeFloat32
		default:
			if !isUntyped(t) {
				return nil, nil, posError(argPos, fmt.Errorf("invalid argument type for %s: %v", b.Name(), t))
			}
			t = typeUntypedFloat
		}
		return t, res, nil

	case "complex":
		if len(call.Args) != 2 {
			return nil, nil, posError(pos, fmt.Errorf("complex requires exactly two arguments"))
		}
		rt, rv, err := s.constantValue(call.Args[0])
		if err != nil {
			return nil, nil, err
		}
		it, iv, err := s.constantValue(call.Args[1])
		if err != nil {
			return nil, nil, err
		}
		realPos := s.pos(call.Args[0])
		imagPos := s.pos(call.Args[1])
		if !constAssignableTo(rt, it) && !constAssignableTo(it, rt) {
			return nil, nil, posError(pos, fmt.Errorf("incompatible types: %v and %v", rt, it))
		}
		if rv == nil || isFunc(rv) || !(isFloat(rt) || isUntyped(rt) && isNumber(rt)) {
			return nil, nil, posError(realPos, fmt.Errorf("invalid argument type for complex: %v", rt))
		}
		if iv == nil || isFunc(iv) || !(isFloat(it) || isUntyped(it) && isNumber(it)) {
			return nil, nil, posError(imagPos, fmt.Errorf("invalid argument type for complex: %v", it))
		}
		res := constant.BinaryOp(constant.ToFloat(rv), token.ADD, constant.MakeImag(constant.ToFloat(iv)))
		t := typeUntypedComplex
		for _, arg := range []types.Type{rt, it} {
			switch arg.Underlying().(*types.Basic).Kind() {
			case types.Float64:
				t = typeComplex128
			case types.Float32:
				t = typeComplex64
			}
		}
		return t, res, nil

	default:
		return nil, nil, posError(pos, fmt.Errorf("builtin %s cannot be used in a constant expression", b.Name()))
	}
}

// convertType resolves a type expression.
func (s *scope) convertType(expr ast.Expr) (types.Type, error) {
	switch e := expr.(type) {
	case *ast.Ident, *ast.SelectorExpr:
		obj, err := s.lookup(e)
		if err != nil {
			return nil, err
		}
		if _, ok := obj.(*types.TypeName); !ok {
			return nil, posError(s.pos(e), fmt.Errorf("%s is not a type", obj.Name()))
		}
		return obj.Type(), nil

	case *ast.ParenExpr:
		return s.convertType(e.X)

	case *ast.StarExpr:
		elem, err := s.convertType(e.X)
		if err != nil {
			return nil, err
		}
		return types.NewPointer(elem), nil

	case *ast.ArrayType:
		elem, err := s.convertType(e.Elt)
		if err != nil {
			return nil, err
		}
		if e.Len == nil {
			return types.NewSlice(elem), nil
		}
		lenPos := s.pos(e.Len)
		if _, ok := e.Len.(*ast.Ellipsis); ok {
			return nil, posError(lenPos, fmt.Errorf("array length must be given explicitly"))
		}
		lt, lv, err := s.constantValue(e.Len)
		if err != nil {
			return nil, err
		}
		if lv == nil || !isInt(lt) {
			return nil, posError(lenPos, fmt.Errorf("array bound must be integer type; got %v", lt))
		}
		n, ok := constant.Int64Val(constant.ToInt(lv))
		if !ok {
			return nil, posError(lenPos, fmt.Errorf("array bound overflows int64: %v", lv))
		}
		if n < 0 {
			return nil, posError(lenPos, fmt.Errorf("array bound is negative: %v", lv))
		}
		return types.NewArray(elem, n), nil

	case *ast.MapType:
		k, err := s.convertType(e.Key)
		if err != nil {
			return nil, err
		}
		v, err := s.convertType(e.Value)
		if err != nil {
			return nil, err
		}
		return types.NewMap(k, v), nil

	case *ast.InterfaceType:
		if e.Methods != nil && len(e.Methods.List) > 0 {
			return nil, posError(s.pos(e), fmt.Errorf("only the empty interface can be written inline"))
		}
		return emptyInterface, nil

	case *ast.StructType:
		if e.Fields != nil && len(e.Fields.List) > 0 {
			return nil, posError(s.pos(e), fmt.Errorf("only the empty struct can be written inline"))
		}
		return emptyStruct, nil

	default:
		return nil, posError(s.pos(expr), fmt.Errorf("unsupported type expression"))
	}
}

func constAssignableTo(t1, t2 types.Type) bool {
	if b1, ok := t1.(*types.Basic); ok {
		if b2, ok := t2.Underlying().(*types.Basic); ok {
			info := b2.Info()
			switch b1.Kind() {
			case types.UntypedInt, types.UntypedRune:
				if info&(types.IsInteger|types.IsFloat|types.IsComplex) != 0 {
					return true
				}
			case types.UntypedFloat:
				if info&(types.IsFloat|types.IsComplex) != 0 {
					return true
				}
			case types.UntypedComplex:
				if info&types.IsComplex != 0 {
					return true
				}
			}
		}
	}
	return types.AssignableTo(t1, t2)
}

// untypedRank orders untyped numeric kinds; mixed operands take the
// kind that ranks higher. Zero means t is not an untyped number.
func untypedRank(t types.Type) int {
	b, ok := t.(*types.Basic)
	if !ok {
		return 0
	}
	switch b.Kind() {
	case types.UntypedInt:
		return 1
	case types.UntypedRune:
		return 2
	case types.UntypedFloat:
		return 3
	case types.UntypedComplex:
		return 4
	default:
		return 0
	}
}

func isOrderedComparison(t token.Token) bool {
	return t == token.GTR || t == token.LSS || t == token.GEQ || t == token.LEQ
}

func isComparison(t token.Token) bool {
	return t == token.EQL || t == token.NEQ || isOrderedComparison(t)
}

func isShift(t token.Token) bool {
	return t == token.SHR || t == token.SHL
}

func isIntOnlyOperation(t token.Token) bool {
	return t == token.AND || t == token.OR || t == token.XOR || t == token.AND_NOT ||
		t == token.REM || isShift(t)
}

func isLogicalOperation(t token.Token) bool {
	return t == token.LAND || t == token.LOR
}

func isZero(v constant.Value) bool {
	switch v.Kind() {
	case constant.Int, constant.Float, constant.Complex:
		return constant.Sign(v) == 0
	default:
		return false
	}
}

func isFunc(v constant.Value) bool {
	_, ok := v.(funcConstant)
	return ok
}

func basicInfo(t types.Type) types.BasicInfo {
	if t == nil {
		return 0
	}
	b, ok := t.Underlying().(*types.Basic)
	if !ok {
		return 0
	}
	return b.Info()
}

func isInt(t types.Type) bool {
	return basicInfo(t)&types.IsInteger != 0
}

func isUnsigned(t types.Type) bool {
	return basicInfo(t)&types.IsUnsigned != 0
}

func isString(t types.Type) bool {
	return basicInfo(t)&types.IsString != 0
}

func isBool(t types.Type) bool {
	return basicInfo(t)&types.IsBoolean != 0
}

func isFloat(t types.Type) bool {
	return basicInfo(t)&types.IsFloat != 0
}

func isComplex(t types.Type) bool {
	return basicInfo(t)&types.IsComplex != 0
}

func isNumber(t types.Type) bool {
	return basicInfo(t)&types.IsNumeric != 0
}

func isUntyped(t types.Type) bool {
	b, ok := t.(*types.Basic)
	return ok && b.Info()&types.IsUntyped != 0
}

var sizes = types.SizesFor("gc", "amd64")

func basicSize(t types.Type) int64 {
	return sizes.Sizeof(t.Underlying())
}

func overflowErr(t types.Type, pos token.Position) error {
	return posError(pos, fmt.Errorf("cannot convert constant value to %v because it overflows", t))
}

func convertToInt(v constant.Value, t *types.Basic, pos token.Position) (constant.Value, error) {
	switch v.Kind() {
	case constant.Int:
	case constant.Float:
		iv := constant.ToInt(v)
		if iv.Kind() != constant.Int {
			return nil, posError(pos, fmt.Errorf("constant %v truncated to integer", v))
		}
		v = iv
	default:
		return nil, posError(pos, fmt.Errorf("cannot convert constant value to %v", t))
	}
	if !representable(v, t) {
		return nil, overflowErr(t, pos)
	}
	return v, nil
}

// representable checks that the integer constant v fits in t.
func representable(v constant.Value, t *types.Basic) bool {
	if i, ok := constant.Int64Val(v); ok {
		return intFits(i, t.Kind())
	}
	if u, ok := constant.Uint64Val(v); ok {
		return uintFits(u, t.Kind())
	}
	return false
}

func intFits(i int64, k types.BasicKind) bool {
	var err error
	switch k {
	case types.Int64, types.UntypedInt, types.UntypedRune:
		return true
	case types.Int:
		_, err = safecast.Conv[int](i)
	case types.Int32:
		_, err = safecast.Conv[int32](i)
	case types.Int16:
		_, err = safecast.Conv[int16](i)
	case types.Int8:
		_, err = safecast.Conv[int8](i)
	case types.Uint, types.Uint64, types.Uintptr:
		_, err = safecast.Conv[uint64](i)
	case types.Uint32:
		_, err = safecast.Conv[uint32](i)
	case types.Uint16:
		_, err = safecast.Conv[uint16](i)
	case types.Uint8:
		_, err = safecast.Conv[uint8](i)
	default:
		return false
	}
	return err == nil
}

func uintFits(u uint64, k types.BasicKind) bool {
	switch k {
	case types.Uint, types.Uint64, types.Uintptr:
		return true
	case types.Uint32:
		_, err := safecast.Conv[uint32](u)
		return err == nil
	case types.Uint16:
		_, err := safecast.Conv[uint16](u)
		return err == nil
	case types.Uint8:
		_, err := safecast.Conv[uint8](u)
		return err == nil
	default:
		// values above MaxInt64 fit in no signed type
		return false
	}
}

func convertToFloat(v constant.Value, t *types.Basic, pos token.Position) (constant.Value, error) {
	switch v.Kind() {
	case constant.Int, constant.Float:
	default:
		return nil, posError(pos, fmt.Errorf("cannot convert constant value to %v", t))
	}
	if t.Kind() == types.Float32 {
		f, _ := constant.Float32Val(v)
		if math.IsInf(float64(f), 0) {
			return nil, overflowErr(t, pos)
		}
		return constant.MakeFloat64(float64(f)), nil
	}
	f, _ := constant.Float64Val(v)
	if math.IsInf(f, 0) {
		return nil, overflowErr(t, pos)
	}
	return constant.ToFloat(v), nil
}

func convertToComplex(v constant.Value, t *types.Basic, pos token.Position) (constant.Value, error) {
	switch v.Kind() {
	case constant.Int, constant.Float, constant.Complex:
	default:
		return nil, posError(pos, fmt.Errorf("cannot convert constant value to %v", t))
	}
	v = constant.ToComplex(v)
	part := func(p constant.Value) (constant.Value, bool) {
		if t.Kind() == types.Complex64 {
			f, _ := constant.Float32Val(p)
			return constant.MakeFloat64(float64(f)), !math.IsInf(float64(f), 0)
		}
		f, _ := constant.Float64Val(p)
		return p, !math.IsInf(f, 0)
	}
	r, okR := part(constant.Real(v))
	i, okI := part(constant.Imag(v))
	if !okR || !okI {
		return nil, overflowErr(t, pos)
	}
	return constant.BinaryOp(r, token.ADD, constant.MakeImag(i)), nil
}

func convertToString(v constant.Value, pos token.Position) (constant.Value, error) {
	if v.Kind() == constant.String {
		return v, nil
	}
	if v.Kind() != constant.Int {
		return nil, posError(pos, fmt.Errorf("cannot convert constant value to string (integers only)"))
	}
	i, ok := constant.Int64Val(v)
	if !ok || i < 0 || i > math.MaxInt32 {
		// not a valid code point
		return constant.MakeString("\uFFFD"), nil
	}
	return constant.MakeString(string(rune(i))), nil
}
