package dual

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	gdual "gonum.org/v1/gonum/num/dual"

	"github.com/copyleftdev/dualfit/internal/errors"
	"github.com/copyleftdev/dualfit/internal/vector"
)

func mustDual(t *testing.T, real []float64, dirs ...[]float64) *Vector {
	t.Helper()
	imag := make([]*vector.Vector, len(dirs))
	for j, d := range dirs {
		imag[j] = vector.New(d...)
	}
	d, err := New(vector.New(real...), imag...)
	require.NoError(t, err)
	return d
}

// number returns element i of direction j as a scalar gonum dual.
func number(d *Vector, i, j int) gdual.Number {
	x, _ := d.Real().At(i)
	e, _ := d.Direction(j).At(i)
	return gdual.Number{Real: x, Emag: e}
}

func TestBinaryAgainstScalarDuals(t *testing.T) {
	a := mustDual(t, []float64{0.5, 1.5, 2.5}, []float64{1, 0, 2}, []float64{0.3, -1, 0})
	b := mustDual(t, []float64{1.25, 0.75, 2}, []float64{0, 1, 0.5}, []float64{2, 0, -1})

	tests := []struct {
		name string
		op   func(a, b Operand) (*Vector, error)
		ref  func(x, y gdual.Number) gdual.Number
	}{
		{"add", Add, gdual.Add},
		{"sub", Sub, gdual.Sub},
		{"mul", Mul, gdual.Mul},
		{"div", Div, func(x, y gdual.Number) gdual.Number { return gdual.Mul(x, gdual.Inv(y)) }},
		{"pow", Pow, gdual.Pow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op(Of(a), Of(b))
			require.NoError(t, err)
			require.Equal(t, 3, got.Len())
			require.Equal(t, 2, got.Dims())
			for j := 0; j < 2; j++ {
				for i := 1; i <= 3; i++ {
					want := tt.ref(number(a, i, j), number(b, i, j))
					x, _ := got.Real().At(i)
					dx, _ := got.Direction(j).At(i)
					assert.InDelta(t, want.Real, x, 1e-12, "value %d", i)
					assert.InDelta(t, want.Emag, dx, 1e-12, "direction %d element %d", j, i)
				}
			}
		})
	}
}

func TestUnaryAgainstScalarDuals(t *testing.T) {
	a := mustDual(t, []float64{0.5, 1.5, 4}, []float64{1, -2, 0.5})

	tests := []struct {
		name string
		op   func(*Vector) (*Vector, error)
		ref  func(gdual.Number) gdual.Number
	}{
		{"neg", Neg, func(x gdual.Number) gdual.Number { return gdual.Scale(-1, x) }},
		{"exp", Exp, gdual.Exp},
		{"log", Log, gdual.Log},
		{"sqrt", Sqrt, gdual.Sqrt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := tt.op(a)
			require.NoError(t, err)
			for i := 1; i <= 3; i++ {
				want := tt.ref(number(a, i, 0))
				x, _ := got.Real().At(i)
				dx, _ := got.Direction(0).At(i)
				assert.InDelta(t, want.Real, x, 1e-12)
				assert.InDelta(t, want.Emag, dx, 1e-12)
			}
		})
	}
}

func TestAbsUsesSign(t *testing.T) {
	a := mustDual(t, []float64{-2, 0, 3}, []float64{5, 5, 5})
	got, err := Abs(a)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 0, 3}, got.Real().Values())
	assert.Equal(t, []float64{-5, 0, 5}, got.Direction(0).Values())
}

func TestIdentitySeedGivesLinearJacobian(t *testing.T) {
	// y = X * beta for a 4x3 design matrix X.
	x := [][]float64{
		{1, 0.5, -2},
		{1, 1.0, 0},
		{1, 1.5, 3},
		{1, 2.0, 7},
	}
	beta := []float64{0.3, -1.2, 2.5}

	seed := NewSeed(beta)
	require.Equal(t, 3, seed.Dims())
	b, err := seed.Dual()
	require.NoError(t, err)

	var y *Vector
	for k := range beta {
		col := make([]float64, len(x))
		for i := range x {
			col[i] = x[i][k]
		}
		bk, err := Index(b, k+1)
		require.NoError(t, err)
		term, err := Mul(Real(vector.New(col...)), Of(bk))
		require.NoError(t, err)
		if y == nil {
			y = term
			continue
		}
		y, err = Add(Of(y), Of(term))
		require.NoError(t, err)
	}

	jac := make([]float64, 4*3)
	y.Jacobian(jac)
	for i := range x {
		assert.InDeltaSlice(t, x[i], jac[i*3:(i+1)*3], 1e-15, "row %d", i)
	}
}

func TestMixedOperands(t *testing.T) {
	a := mustDual(t, []float64{2}, []float64{1}, []float64{0})
	r := vector.New(1, 2, 3)

	// a length-1 dual against a real vector broadcasts both value and
	// directions.
	got, err := Mul(Of(a), Real(r))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 6}, got.Real().Values())
	assert.Equal(t, []float64{1, 2, 3}, got.Direction(0).Values())
	assert.Equal(t, []float64{0, 0, 0}, got.Direction(1).Values())

	got, err = Sub(Scalar(10), Of(a))
	require.NoError(t, err)
	assert.Equal(t, []float64{8}, got.Real().Values())
	assert.Equal(t, []float64{-1}, got.Direction(0).Values())

	got, err = Add(Real(r), Of(a))
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1}, got.Direction(0).Values())
}

func TestPowNegativeBaseConstantExponent(t *testing.T) {
	a := mustDual(t, []float64{-2, 3}, []float64{1, 1})
	got, err := Pow(Of(a), Scalar(2))
	require.NoError(t, err)
	assert.Equal(t, []float64{4, 9}, got.Real().Values())
	assert.Equal(t, []float64{-4, 6}, got.Direction(0).Values())
}

func TestErrors(t *testing.T) {
	a := mustDual(t, []float64{1, 2}, []float64{1, 0})
	b := mustDual(t, []float64{1, 2}, []float64{1, 0}, []float64{0, 1})
	c := mustDual(t, []float64{1, 2, 3}, []float64{1, 0, 0})

	_, err := Add(Scalar(1), Real(vector.New(1, 2)))
	assert.True(t, errors.Is(err, ErrNoDual))

	_, err = Mul(Of(a), Of(b))
	assert.True(t, errors.Is(err, ErrDimsMismatch))

	_, err = Add(Of(a), Of(c))
	assert.True(t, errors.Is(err, vector.ErrSizeMismatch))
	assert.Equal(t, errors.KindUsage, errors.KindOf(err))

	_, err = New(vector.New(1, 2), vector.New(1))
	assert.True(t, errors.Is(err, ErrShape))
	assert.Equal(t, errors.KindShape, errors.KindOf(err))

	_, err = Index(a, 3)
	assert.True(t, errors.Is(err, vector.ErrIndexOutOfRange))
}

func TestSliceAndConcat(t *testing.T) {
	a := mustDual(t, []float64{1, 2, 3, 4}, []float64{10, 20, 30, 40})

	r, err := vector.NewRangeStep(2, 2, 4)
	require.NoError(t, err)
	s, err := Slice(a, r)
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4}, s.Real().Values())
	assert.Equal(t, []float64{20, 40}, s.Direction(0).Values())

	c, err := Concat(Of(s), Real(vector.New(7, 8)))
	require.NoError(t, err)
	assert.Equal(t, []float64{2, 4, 7, 8}, c.Real().Values())
	assert.Equal(t, []float64{20, 40, 0, 0}, c.Direction(0).Values())

	c, err = Concat(Scalar(5), Of(s))
	require.NoError(t, err)
	assert.Equal(t, []float64{5, 2, 4}, c.Real().Values())
	assert.Equal(t, []float64{0, 20, 40}, c.Direction(0).Values())
}

func TestNonFiniteValuesPropagate(t *testing.T) {
	a := mustDual(t, []float64{-1, 0}, []float64{1, 1})
	got, err := Log(a)
	require.NoError(t, err)
	x, _ := got.Real().At(1)
	assert.True(t, math.IsNaN(x))
	x, _ = got.Real().At(2)
	assert.True(t, math.IsInf(x, -1))
}

func BenchmarkSeededExpModel(b *testing.B) {
	src := vector.NewSource(1)
	xs, _ := src.Uniform(1024)
	seed := NewSeed([]float64{2, 0.5})
	p, _ := seed.Dual()
	amp, _ := Index(p, 1)
	rate, _ := Index(p, 2)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		e, _ := Mul(Of(rate), Real(xs))
		e, _ = Neg(e)
		e, _ = Exp(e)
		_, _ = Mul(Of(amp), Of(e))
	}
}

func TestNewCopiesInputs(t *testing.T) {
	real := vector.New(1, 2)
	dir := vector.New(1, 0)
	d, err := New(real, dir)
	require.NoError(t, err)

	require.NoError(t, real.Set(1, 100))
	require.NoError(t, dir.Set(2, 5))

	assert.Equal(t, []float64{1, 2}, d.Real().Values())
	assert.Equal(t, []float64{1, 0}, d.Direction(0).Values())
}
