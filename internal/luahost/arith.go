package luahost

import (
	lua "github.com/yuin/gopher-lua"

	"github.com/copyleftdev/dualfit/internal/dual"
	"github.com/copyleftdev/dualfit/internal/vector"
)

type operandKind uint8

const (
	invalidOperand operandKind = iota
	numberOperand
	realOperand
	dualOperand
)

// operand is a Lua value classified for the numeric library.
type operand struct {
	kind operandKind
	num  float64
	vec  *vector.Vector
	dual *dual.Vector
}

func classify(lv lua.LValue) operand {
	switch v := lv.(type) {
	case lua.LNumber:
		return operand{kind: numberOperand, num: float64(v)}
	case *lua.LUserData:
		switch x := v.Value.(type) {
		case *vector.Vector:
			return operand{kind: realOperand, vec: x}
		case *dual.Vector:
			return operand{kind: dualOperand, dual: x}
		}
	}
	return operand{kind: invalidOperand}
}

func (o operand) forVector() vector.Operand {
	if o.kind == numberOperand {
		return vector.Scalar(o.num)
	}
	return vector.Of(o.vec)
}

func (o operand) forDual() dual.Operand {
	switch o.kind {
	case numberOperand:
		return dual.Scalar(o.num)
	case realOperand:
		return dual.Real(o.vec)
	default:
		return dual.Of(o.dual)
	}
}

func checkOperand(L *lua.LState, n int) operand {
	o := classify(L.Get(n))
	if o.kind == invalidOperand {
		argTypeError(L, n, "number, RealVector or DualNVector")
	}
	return o
}

// arith returns the metamethod for op. It is shared by RealVector and
// DualNVector: any dual operand makes the result dual.
func (h *Host) arith(op vector.BinaryOp) lua.LGFunction {
	return func(L *lua.LState) int {
		a, b := checkOperand(L, 1), checkOperand(L, 2)
		if a.kind == dualOperand || b.kind == dualOperand {
			d, err := dual.Apply(op, a.forDual(), b.forDual())
			if err != nil {
				raise(L, err)
			}
			L.Push(h.newDualVector(d))
			return 1
		}
		v, err := vector.Apply(op, a.forVector(), b.forVector())
		if err != nil {
			raise(L, err)
		}
		if a.kind == numberOperand && b.kind == numberOperand {
			x, _ := v.At(1)
			L.Push(lua.LNumber(x))
			return 1
		}
		L.Push(h.newRealVector(v))
		return 1
	}
}

// unary returns the generic elementwise function for op.
func (h *Host) unary(op vector.UnaryOp) lua.LGFunction {
	return func(L *lua.LState) int {
		switch a := checkOperand(L, 1); a.kind {
		case numberOperand:
			v, err := vector.Map(op, vector.New(a.num))
			if err != nil {
				raise(L, err)
			}
			x, _ := v.At(1)
			L.Push(lua.LNumber(x))
		case realOperand:
			v, err := vector.Map(op, a.vec)
			if err != nil {
				raise(L, err)
			}
			L.Push(h.newRealVector(v))
		default:
			d, err := dual.Map(op, a.dual)
			if err != nil {
				raise(L, err)
			}
			L.Push(h.newDualVector(d))
		}
		return 1
	}
}

// concat joins two vectors; numbers count as vectors of length 1.
func (h *Host) concat(L *lua.LState) int {
	a, b := checkOperand(L, 1), checkOperand(L, 2)
	if a.kind == dualOperand || b.kind == dualOperand {
		d, err := dual.Concat(a.forDual(), b.forDual())
		if err != nil {
			raise(L, err)
		}
		L.Push(h.newDualVector(d))
		return 1
	}
	L.Push(h.newRealVector(vector.Concat(asVector(a), asVector(b))))
	return 1
}

func asVector(o operand) *vector.Vector {
	if o.kind == numberOperand {
		return vector.New(o.num)
	}
	return o.vec
}

var binaryMetamethods = map[string]vector.BinaryOp{
	"__add": vector.OpAdd,
	"__sub": vector.OpSub,
	"__mul": vector.OpMul,
	"__div": vector.OpDiv,
	"__pow": vector.OpPow,
}

var unaryFunctions = map[string]vector.UnaryOp{
	"abs":  vector.OpAbs,
	"exp":  vector.OpExp,
	"log":  vector.OpLog,
	"sqrt": vector.OpSqrt,
}

// installArith sets the arithmetic metamethods shared by the vector types.
func (h *Host) installArith(mt *lua.LTable) {
	for name, op := range binaryMetamethods {
		mt.RawSetString(name, h.L.NewFunction(h.arith(op)))
	}
	mt.RawSetString("__unm", h.L.NewFunction(h.unary(vector.OpNeg)))
	mt.RawSetString("__concat", h.L.NewFunction(h.concat))
}
