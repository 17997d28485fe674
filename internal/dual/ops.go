package dual

import (
	"github.com/copyleftdev/dualfit/internal/vector"
)

type operandKind uint8

const (
	scalarOperand operandKind = iota
	realOperand
	dualOperand
)

func (k operandKind) String() string {
	switch k {
	case scalarOperand:
		return "number"
	case realOperand:
		return "RealVector"
	default:
		return "DualNVector"
	}
}

// Operand is one side of a dual operation: a number, a real vector or a dual.
// Numbers and real vectors have zero derivatives.
type Operand struct {
	kind operandKind
	num  float64
	v    *vector.Vector
	d    *Vector
}

// Scalar wraps a number.
func Scalar(x float64) Operand {
	return Operand{kind: scalarOperand, num: x}
}

// Real wraps a real vector.
func Real(v *vector.Vector) Operand {
	return Operand{kind: realOperand, v: v}
}

// Of wraps a dual.
func Of(d *Vector) Operand {
	return Operand{kind: dualOperand, v: d.real, d: d}
}

// IsDual reports whether the operand carries derivatives.
func (o Operand) IsDual() bool {
	return o.kind == dualOperand
}

// value returns the real part as a vector engine operand.
func (o Operand) value() vector.Operand {
	if o.kind == scalarOperand {
		return vector.Scalar(o.num)
	}
	return vector.Of(o.v)
}

func (o Operand) asVector() *vector.Vector {
	if o.kind == scalarOperand {
		return vector.New(o.num)
	}
	return o.v
}

// partials returns the coefficients ca and cb of the chain rule
// d(a op b) = ca*da + cb*db, given the real result r. A coefficient is only
// computed when the matching operand is dual.
type partials func(a, b Operand, r *vector.Vector) (ca, cb vector.Operand, err error)

var binaryRules = [...]partials{
	vector.OpAdd: func(a, b Operand, _ *vector.Vector) (vector.Operand, vector.Operand, error) {
		return vector.Scalar(1), vector.Scalar(1), nil
	},
	vector.OpSub: func(a, b Operand, _ *vector.Vector) (vector.Operand, vector.Operand, error) {
		return vector.Scalar(1), vector.Scalar(-1), nil
	},
	vector.OpMul: func(a, b Operand, _ *vector.Vector) (vector.Operand, vector.Operand, error) {
		return b.value(), a.value(), nil
	},
	vector.OpDiv: divPartials,
	vector.OpPow: powPartials,
}

func divPartials(a, b Operand, r *vector.Vector) (ca, cb vector.Operand, err error) {
	if a.IsDual() {
		inv, err := vector.Div(vector.Scalar(1), b.value())
		if err != nil {
			return ca, cb, err
		}
		ca = vector.Of(inv)
	}
	if b.IsDual() {
		q, err := vector.Div(vector.Of(vector.Neg(r)), b.value())
		if err != nil {
			return ca, cb, err
		}
		cb = vector.Of(q)
	}
	return ca, cb, nil
}

// powPartials skips log(a) unless b is dual, so a negative base raised to a
// constant power keeps finite derivatives.
func powPartials(a, b Operand, r *vector.Vector) (ca, cb vector.Operand, err error) {
	if a.IsDual() {
		bm1, err := vector.Sub(b.value(), vector.Scalar(1))
		if err != nil {
			return ca, cb, err
		}
		p, err := vector.Pow(a.value(), vector.Of(bm1))
		if err != nil {
			return ca, cb, err
		}
		c, err := vector.Mul(b.value(), vector.Of(p))
		if err != nil {
			return ca, cb, err
		}
		ca = vector.Of(c)
	}
	if b.IsDual() {
		c, err := vector.Mul(vector.Of(r), vector.Of(vector.Log(a.asVector())))
		if err != nil {
			return ca, cb, err
		}
		cb = vector.Of(c)
	}
	return ca, cb, nil
}

// Apply evaluates op on a and b with the broadcasting rules of the vector
// engine and propagates derivatives by the chain rule. At least one operand
// must be dual; two duals must carry the same number of directions.
func Apply(op vector.BinaryOp, a, b Operand) (*Vector, error) {
	if op < 0 || int(op) >= len(binaryRules) {
		return nil, fail("Apply", ErrUnknownOp, "binary op %d", int(op))
	}
	m, err := dims(op.String(), a, b)
	if err != nil {
		return nil, err
	}
	r, err := vector.Apply(op, a.value(), b.value())
	if err != nil {
		return nil, err
	}
	ca, cb, err := binaryRules[op](a, b, r)
	if err != nil {
		return nil, err
	}

	n := r.Len()
	dirs := make([]*vector.Vector, m)
	for j := range dirs {
		var terms [2]*vector.Vector
		if a.IsDual() {
			if terms[0], err = vector.Mul(ca, vector.Of(a.d.imag[j])); err != nil {
				return nil, err
			}
		}
		if b.IsDual() {
			if terms[1], err = vector.Mul(cb, vector.Of(b.d.imag[j])); err != nil {
				return nil, err
			}
		}
		if dirs[j], err = sum(n, terms[0], terms[1]); err != nil {
			return nil, err
		}
	}
	return &Vector{real: r, imag: dirs}, nil
}

// Add returns a + b.
func Add(a, b Operand) (*Vector, error) { return Apply(vector.OpAdd, a, b) }

// Sub returns a - b.
func Sub(a, b Operand) (*Vector, error) { return Apply(vector.OpSub, a, b) }

// Mul returns a * b.
func Mul(a, b Operand) (*Vector, error) { return Apply(vector.OpMul, a, b) }

// Div returns a / b.
func Div(a, b Operand) (*Vector, error) { return Apply(vector.OpDiv, a, b) }

// Pow returns a ^ b.
func Pow(a, b Operand) (*Vector, error) { return Apply(vector.OpPow, a, b) }

// dims returns the shared direction count of a and b.
func dims(op string, a, b Operand) (int, error) {
	switch {
	case !a.IsDual() && !b.IsDual():
		return 0, fail(op, ErrNoDual, "operands are %s and %s", a.kind, b.kind)
	case a.IsDual() && b.IsDual() && a.d.Dims() != b.d.Dims():
		return 0, fail(op, ErrDimsMismatch, "%d and %d directions", a.d.Dims(), b.d.Dims())
	case a.IsDual():
		return a.d.Dims(), nil
	default:
		return b.d.Dims(), nil
	}
}

// sum adds the non-nil terms and broadcasts the result to length n.
func sum(n int, terms ...*vector.Vector) (*vector.Vector, error) {
	var acc *vector.Vector
	for _, t := range terms {
		if t == nil {
			continue
		}
		if acc == nil {
			acc = t
			continue
		}
		next, err := vector.Add(vector.Of(acc), vector.Of(t))
		if err != nil {
			return nil, err
		}
		acc = next
	}
	return expand(acc, n)
}

// expand returns v at length n. A nil v is all zeros and a length-1 v is
// repeated.
func expand(v *vector.Vector, n int) (*vector.Vector, error) {
	switch {
	case v == nil:
		return vector.Zeros(n)
	case v.Len() == n:
		return v, nil
	case v.Len() == 1:
		x, _ := v.At(1)
		out := make([]float64, n)
		for i := range out {
			out[i] = x
		}
		return vector.New(out...), nil
	default:
		return nil, fail("expand", ErrShape, "length %d cannot broadcast to %d", v.Len(), n)
	}
}

// coefficient returns the derivative factor f'(a) of an elementwise function
// f given a and r = f(a).
type coefficient func(a, r *vector.Vector) (vector.Operand, error)

var unaryRules = [...]coefficient{
	vector.OpNeg: func(_, _ *vector.Vector) (vector.Operand, error) {
		return vector.Scalar(-1), nil
	},
	vector.OpAbs: func(a, _ *vector.Vector) (vector.Operand, error) {
		return vector.Of(sign(a)), nil
	},
	vector.OpExp: func(_, r *vector.Vector) (vector.Operand, error) {
		return vector.Of(r), nil
	},
	vector.OpLog: func(a, _ *vector.Vector) (vector.Operand, error) {
		c, err := vector.Div(vector.Scalar(1), vector.Of(a))
		return vector.Of(c), err
	},
	vector.OpSqrt: func(_, r *vector.Vector) (vector.Operand, error) {
		c, err := vector.Div(vector.Scalar(0.5), vector.Of(r))
		return vector.Of(c), err
	},
}

// Map applies the elementwise function op to d.
func Map(op vector.UnaryOp, d *Vector) (*Vector, error) {
	if op < 0 || int(op) >= len(unaryRules) {
		return nil, fail("Map", ErrUnknownOp, "unary op %d", int(op))
	}
	r, err := vector.Map(op, d.real)
	if err != nil {
		return nil, err
	}
	c, err := unaryRules[op](d.real, r)
	if err != nil {
		return nil, err
	}
	dirs := make([]*vector.Vector, len(d.imag))
	for j, dir := range d.imag {
		if dirs[j], err = vector.Mul(c, vector.Of(dir)); err != nil {
			return nil, err
		}
	}
	return &Vector{real: r, imag: dirs}, nil
}

// Neg returns -d.
func Neg(d *Vector) (*Vector, error) { return Map(vector.OpNeg, d) }

// Abs returns |d|. The derivative at 0 is taken as 0.
func Abs(d *Vector) (*Vector, error) { return Map(vector.OpAbs, d) }

// Exp returns e^d.
func Exp(d *Vector) (*Vector, error) { return Map(vector.OpExp, d) }

// Log returns the natural logarithm of d.
func Log(d *Vector) (*Vector, error) { return Map(vector.OpLog, d) }

// Sqrt returns the square root of d.
func Sqrt(d *Vector) (*Vector, error) { return Map(vector.OpSqrt, d) }

func sign(v *vector.Vector) *vector.Vector {
	out := v.Values()
	for i, x := range out {
		switch {
		case x > 0:
			out[i] = 1
		case x < 0:
			out[i] = -1
		default:
			out[i] = 0
		}
	}
	return vector.New(out...)
}

// Index returns element i (1-based) of d as a length-1 dual.
func Index(d *Vector, i int) (*Vector, error) {
	x, err := d.real.At(i)
	if err != nil {
		return nil, err
	}
	dirs := make([]*vector.Vector, len(d.imag))
	for j, dir := range d.imag {
		dx, _ := dir.At(i)
		dirs[j] = vector.New(dx)
	}
	return &Vector{real: vector.New(x), imag: dirs}, nil
}

// Slice returns the elements of d selected by r.
func Slice(d *Vector, r vector.IndexRange) (*Vector, error) {
	real, err := vector.Slice(d.real, r)
	if err != nil {
		return nil, err
	}
	dirs := make([]*vector.Vector, len(d.imag))
	for j, dir := range d.imag {
		if dirs[j], err = vector.Slice(dir, r); err != nil {
			return nil, err
		}
	}
	return &Vector{real: real, imag: dirs}, nil
}

// Concat joins a and b. A number or real vector side contributes zero
// derivatives.
func Concat(a, b Operand) (*Vector, error) {
	m, err := dims("Concat", a, b)
	if err != nil {
		return nil, err
	}
	da, db := a.lift(m), b.lift(m)
	dirs := make([]*vector.Vector, m)
	for j := range dirs {
		dirs[j] = vector.Concat(da.imag[j], db.imag[j])
	}
	return &Vector{real: vector.Concat(da.real, db.real), imag: dirs}, nil
}

func (o Operand) lift(m int) *Vector {
	if o.IsDual() {
		return o.d
	}
	return Constant(o.asVector(), m)
}
