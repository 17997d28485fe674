// Package dual implements vector-valued forward-mode dual numbers on top of
// the vector engine.
//
// A dual Vector carries a real part of length n and m direction vectors of
// length n; direction j holds the derivative of every element with respect to
// the j-th seeded input. Seeding the m inputs with the identity directions
// (see NewSeed) makes one pass through a model produce its value and its full
// n x m Jacobian.
package dual

import (
	"github.com/copyleftdev/dualfit/internal/errors"
	"github.com/copyleftdev/dualfit/internal/vector"
)

var (
	// ErrNoDual is returned when an operation receives no dual operand.
	ErrNoDual = errors.New(errors.KindUsage, "dual: operation needs a dual operand")

	// ErrDimsMismatch is returned when two duals carry a different number of
	// directions.
	ErrDimsMismatch = errors.New(errors.KindUsage, "dual: direction counts differ")

	// ErrShape is returned when a direction's length differs from the real
	// part's length.
	ErrShape = errors.New(errors.KindShape, "dual: direction length differs from value length")

	// ErrUnknownOp is returned when an operation code is not in the table.
	ErrUnknownOp = errors.New(errors.KindUsage, "dual: unknown operation")
)

func fail(op string, sentinel *errors.Error, format string, args ...interface{}) error {
	return errors.Wrapf(sentinel.Kind, sentinel, format, args...).
		WithOperation(op).
		WithComponent("dual")
}

// Vector is a real vector together with its derivative directions.
// Values returned by Real and Direction are shared with the dual and must
// not be modified.
type Vector struct {
	real *vector.Vector
	imag []*vector.Vector
}

// New builds a dual from copies of its real part and directions. Every
// direction must have the real part's length.
func New(real *vector.Vector, imag ...*vector.Vector) (*Vector, error) {
	if real == nil {
		real = &vector.Vector{}
	}
	dirs := make([]*vector.Vector, len(imag))
	for j, d := range imag {
		if d.Len() != real.Len() {
			return nil, fail("New", ErrShape, "direction %d has length %d, value has %d", j+1, d.Len(), real.Len())
		}
		dirs[j] = d.Copy()
	}
	return &Vector{real: real.Copy(), imag: dirs}, nil
}

// Constant lifts a real vector into a dual with m zero directions.
func Constant(v *vector.Vector, m int) *Vector {
	dirs := make([]*vector.Vector, m)
	for j := range dirs {
		dirs[j], _ = vector.Zeros(v.Len())
	}
	return &Vector{real: v, imag: dirs}
}

// Len returns the number of elements of the real part.
func (d *Vector) Len() int {
	return d.real.Len()
}

// Dims returns the number of derivative directions.
func (d *Vector) Dims() int {
	return len(d.imag)
}

// Real returns the real part.
func (d *Vector) Real() *vector.Vector {
	return d.real
}

// Direction returns direction j (0-based).
func (d *Vector) Direction(j int) *vector.Vector {
	return d.imag[j]
}

// Directions returns all directions in order.
func (d *Vector) Directions() []*vector.Vector {
	out := make([]*vector.Vector, len(d.imag))
	copy(out, d.imag)
	return out
}

// Jacobian writes the directions into dst as a row-major Len() x Dims()
// matrix: dst[i*m+j] is the derivative of element i along direction j.
func (d *Vector) Jacobian(dst []float64) {
	m := len(d.imag)
	for j, dir := range d.imag {
		for i, x := range dir.Values() {
			dst[i*m+j] = x
		}
	}
}

// Seed is the identity-seeded starting point of a forward-mode pass: the
// evaluation point and one unit direction per coordinate.
type Seed struct {
	Value      *vector.Vector
	Directions []*vector.Vector
}

// NewSeed seeds beta with the standard basis: direction i is 1 at position i
// and 0 elsewhere. It allocates len(beta)+1 vectors of length len(beta).
func NewSeed(beta []float64) Seed {
	m := len(beta)
	dirs := make([]*vector.Vector, m)
	for i := range dirs {
		e, _ := vector.Zeros(m)
		_ = e.Set(i+1, 1)
		dirs[i] = e
	}
	return Seed{Value: vector.New(beta...), Directions: dirs}
}

// Dims returns the number of seeded directions.
func (s Seed) Dims() int {
	return len(s.Directions)
}

// Dual assembles the seed into a dual Vector.
func (s Seed) Dual() (*Vector, error) {
	return New(s.Value, s.Directions...)
}
