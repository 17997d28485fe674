// Package vector implements MATLAB-style numeric vectors: 1-based indexing at
// the API boundary, broadcasting elementwise arithmetic, range slicing and a
// few reductions. Every operation returns a freshly allocated Vector; the only
// in-place mutation is Set.
package vector

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/floats"
)

// Vector is a fixed-length sequence of float64 values. The zero value is an
// empty vector.
type Vector struct {
	data []float64
}

// Zeros returns a zero-filled vector of length n.
func Zeros(n int) (*Vector, error) {
	if n < 0 {
		return nil, fail("Zeros", ErrInvalidSize, "length %d", n)
	}
	return &Vector{data: make([]float64, n)}, nil
}

// New returns a vector holding a copy of values.
func New(values ...float64) *Vector {
	data := make([]float64, len(values))
	copy(data, values)
	return &Vector{data: data}
}

// FromMap builds a vector from 1-based sparse entries. The length is the
// largest key; slots without an entry are 0.
func FromMap(entries map[int]float64) (*Vector, error) {
	if len(entries) == 0 {
		return nil, fail("FromMap", ErrEmpty, "no entries")
	}

	n := 0
	for k := range entries {
		if k < 1 {
			return nil, fail("FromMap", ErrInvalidKey, "key %d", k)
		}
		if k > n {
			n = k
		}
	}

	data := make([]float64, n)
	for k, v := range entries {
		data[k-1] = v
	}
	return &Vector{data: data}, nil
}

// Linspace returns n evenly spaced points from a to b inclusive. n == 0 is
// treated as 1, and a single point is a.
func Linspace(a, b float64, n int) (*Vector, error) {
	if n < 0 {
		return nil, fail("Linspace", ErrInvalidSize, "n = %d", n)
	}
	if n <= 1 {
		return &Vector{data: []float64{a}}, nil
	}
	data := make([]float64, n)
	floats.Span(data, a, b)
	return &Vector{data: data}, nil
}

// Concat returns a followed by b.
func Concat(a, b *Vector) *Vector {
	data := make([]float64, 0, a.Len()+b.Len())
	data = append(data, a.raw()...)
	data = append(data, b.raw()...)
	return &Vector{data: data}
}

// Len returns the number of elements.
func (v *Vector) Len() int {
	if v == nil {
		return 0
	}
	return len(v.data)
}

// At returns element i (1-based).
func (v *Vector) At(i int) (float64, error) {
	if i < 1 || i > v.Len() {
		return 0, fail("At", ErrIndexOutOfRange, "index %d, length %d", i, v.Len())
	}
	return v.data[i-1], nil
}

// Set stores x at element i (1-based).
func (v *Vector) Set(i int, x float64) error {
	if i < 1 || i > v.Len() {
		return fail("Set", ErrIndexOutOfRange, "index %d, length %d", i, v.Len())
	}
	v.data[i-1] = x
	return nil
}

// Copy returns a deep copy.
func (v *Vector) Copy() *Vector {
	return New(v.raw()...)
}

// Values returns the elements as a new slice.
func (v *Vector) Values() []float64 {
	out := make([]float64, v.Len())
	copy(out, v.raw())
	return out
}

// CopyTo copies the elements into dst and returns the number copied.
func (v *Vector) CopyTo(dst []float64) int {
	return copy(dst, v.raw())
}

// Max returns the largest element. ok is false for an empty vector.
func (v *Vector) Max() (float64, bool) {
	if v.Len() == 0 {
		return 0, false
	}
	return floats.Max(v.data), true
}

// Min returns the smallest element. ok is false for an empty vector.
func (v *Vector) Min() (float64, bool) {
	if v.Len() == 0 {
		return 0, false
	}
	return floats.Min(v.data), true
}

// String renders the vector five values per line.
func (v *Vector) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "RealVector: %d elements\n  ", v.Len())
	for i, x := range v.raw() {
		if i%5 == 0 && i > 0 {
			sb.WriteString("\n  ")
		}
		fmt.Fprintf(&sb, "%12.5g ", x)
	}
	sb.WriteString("\n")
	return sb.String()
}

func (v *Vector) raw() []float64 {
	if v == nil {
		return nil
	}
	return v.data
}
