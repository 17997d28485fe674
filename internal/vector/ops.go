package vector

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

type operandKind uint8

const (
	scalarOperand operandKind = iota
	vectorOperand
)

// Operand is one side of an elementwise operation: either a scalar or a
// vector. Build it with Scalar or Of.
type Operand struct {
	kind operandKind
	x    float64
	v    *Vector
}

// Scalar wraps a number as an operand.
func Scalar(x float64) Operand {
	return Operand{kind: scalarOperand, x: x}
}

// Of wraps a vector as an operand.
func Of(v *Vector) Operand {
	return Operand{kind: vectorOperand, v: v}
}

// IsScalar reports whether the operand is a plain number.
func (o Operand) IsScalar() bool {
	return o.kind == scalarOperand
}

// Len returns 1 for a scalar and the vector length otherwise.
func (o Operand) Len() int {
	if o.kind == scalarOperand {
		return 1
	}
	return o.v.Len()
}

// BinaryOp identifies an elementwise binary operation.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpPow
)

// String returns the operation name.
func (op BinaryOp) String() string {
	if op < 0 || int(op) >= len(binaryKernels) {
		return "unknown"
	}
	return binaryKernels[op].name
}

type binaryKernel struct {
	name string
	elem func(a, b float64) float64
	// bulk is the equal-length vector fast path; nil falls back to elem.
	bulk func(dst, a, b []float64)
}

var binaryKernels = [...]binaryKernel{
	OpAdd: {
		name: "Add",
		elem: func(a, b float64) float64 { return a + b },
		bulk: func(dst, a, b []float64) { floats.AddTo(dst, a, b) },
	},
	OpSub: {
		name: "Sub",
		elem: func(a, b float64) float64 { return a - b },
		bulk: func(dst, a, b []float64) { floats.SubTo(dst, a, b) },
	},
	OpMul: {
		name: "Mul",
		elem: func(a, b float64) float64 { return a * b },
		bulk: func(dst, a, b []float64) { floats.MulTo(dst, a, b) },
	},
	OpDiv: {
		name: "Div",
		elem: func(a, b float64) float64 { return a / b },
		bulk: func(dst, a, b []float64) { floats.DivTo(dst, a, b) },
	},
	OpPow: {
		name: "Pow",
		elem: math.Pow,
	},
}

type shapeRule func(k binaryKernel, a, b Operand) (*Vector, error)

// shapeRules dispatches on the (left, right) operand kinds.
var shapeRules = [2][2]shapeRule{
	scalarOperand: {
		scalarOperand: scalarScalar,
		vectorOperand: scalarVector,
	},
	vectorOperand: {
		scalarOperand: vectorScalar,
		vectorOperand: vectorVector,
	},
}

// Apply evaluates op elementwise with broadcasting. A scalar, or a vector of
// length 1 facing a longer vector, is applied to every element of the other
// operand. Vectors of different lengths, neither of length 1, are rejected
// with ErrSizeMismatch.
func Apply(op BinaryOp, a, b Operand) (*Vector, error) {
	if op < 0 || int(op) >= len(binaryKernels) {
		return nil, fail("Apply", ErrUnknownOp, "binary op %d", int(op))
	}
	a, b = broadcast(a, b)
	return shapeRules[a.kind][b.kind](binaryKernels[op], a, b)
}

// Add returns a + b elementwise.
func Add(a, b Operand) (*Vector, error) { return Apply(OpAdd, a, b) }

// Sub returns a - b elementwise.
func Sub(a, b Operand) (*Vector, error) { return Apply(OpSub, a, b) }

// Mul returns a * b elementwise.
func Mul(a, b Operand) (*Vector, error) { return Apply(OpMul, a, b) }

// Div returns a / b elementwise.
func Div(a, b Operand) (*Vector, error) { return Apply(OpDiv, a, b) }

// Pow returns a ^ b elementwise.
func Pow(a, b Operand) (*Vector, error) { return Apply(OpPow, a, b) }

// broadcast demotes a length-1 vector to a scalar when the other side is a
// vector of a different length.
func broadcast(a, b Operand) (Operand, Operand) {
	if a.kind != vectorOperand || b.kind != vectorOperand {
		return a, b
	}
	la, lb := a.v.Len(), b.v.Len()
	switch {
	case la != 1 && lb == 1:
		b = Scalar(b.v.data[0])
	case la == 1 && lb != 1:
		a = Scalar(a.v.data[0])
	}
	return a, b
}

func scalarScalar(k binaryKernel, a, b Operand) (*Vector, error) {
	return &Vector{data: []float64{k.elem(a.x, b.x)}}, nil
}

func scalarVector(k binaryKernel, a, b Operand) (*Vector, error) {
	in := b.v.raw()
	out := make([]float64, len(in))
	for i, x := range in {
		out[i] = k.elem(a.x, x)
	}
	return &Vector{data: out}, nil
}

func vectorScalar(k binaryKernel, a, b Operand) (*Vector, error) {
	in := a.v.raw()
	out := make([]float64, len(in))
	for i, x := range in {
		out[i] = k.elem(x, b.x)
	}
	return &Vector{data: out}, nil
}

func vectorVector(k binaryKernel, a, b Operand) (*Vector, error) {
	x, y := a.v.raw(), b.v.raw()
	if len(x) != len(y) {
		return nil, fail(k.name, ErrSizeMismatch, "lengths %d and %d", len(x), len(y))
	}
	out := make([]float64, len(x))
	if k.bulk != nil && len(out) > 0 {
		k.bulk(out, x, y)
		return &Vector{data: out}, nil
	}
	for i := range out {
		out[i] = k.elem(x[i], y[i])
	}
	return &Vector{data: out}, nil
}

// UnaryOp identifies an elementwise unary operation.
type UnaryOp int

const (
	OpNeg UnaryOp = iota
	OpAbs
	OpExp
	OpLog
	OpSqrt
)

var unaryKernels = [...]struct {
	name string
	fn   func(float64) float64
}{
	OpNeg:  {"Neg", func(x float64) float64 { return -x }},
	OpAbs:  {"Abs", math.Abs},
	OpExp:  {"Exp", math.Exp},
	OpLog:  {"Log", math.Log},
	OpSqrt: {"Sqrt", math.Sqrt},
}

// String returns the operation name.
func (op UnaryOp) String() string {
	if op < 0 || int(op) >= len(unaryKernels) {
		return "unknown"
	}
	return unaryKernels[op].name
}

// Map applies op to every element of v.
func Map(op UnaryOp, v *Vector) (*Vector, error) {
	if op < 0 || int(op) >= len(unaryKernels) {
		return nil, fail("Map", ErrUnknownOp, "unary op %d", int(op))
	}
	fn := unaryKernels[op].fn
	in := v.raw()
	out := make([]float64, len(in))
	for i, x := range in {
		out[i] = fn(x)
	}
	return &Vector{data: out}, nil
}

// Neg returns -v.
func Neg(v *Vector) *Vector { return mustMap(OpNeg, v) }

// Abs returns |v|.
func Abs(v *Vector) *Vector { return mustMap(OpAbs, v) }

// Exp returns e^v.
func Exp(v *Vector) *Vector { return mustMap(OpExp, v) }

// Log returns the natural logarithm of v.
func Log(v *Vector) *Vector { return mustMap(OpLog, v) }

// Sqrt returns the square root of v.
func Sqrt(v *Vector) *Vector { return mustMap(OpSqrt, v) }

func mustMap(op UnaryOp, v *Vector) *Vector {
	out, err := Map(op, v)
	if err != nil {
		panic(err)
	}
	return out
}
