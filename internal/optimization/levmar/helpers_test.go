package levmar

import (
	"math"
	"math/rand"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/copyleftdev/dualfit/internal/optimization"
)

// assertFloat64SlicesEqual checks if two float64 slices are approximately equal
func assertFloat64SlicesEqual(t *testing.T, got, want []float64, tol float64) {
	t.Helper()

	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d, want %d", len(got), len(want))
	}

	for i := range got {
		if math.Abs(got[i]-want[i]) > tol {
			t.Fatalf("at index %d: got %v, want %v (tolerance %v)", i, got[i], want[i], tol)
		}
	}
}

// assertMatEqual checks if two matrices are approximately equal
func assertMatEqual(t *testing.T, got, want mat.Matrix, tol float64) {
	t.Helper()

	rg, cg := got.Dims()
	rw, cw := want.Dims()
	if rg != rw || cg != cw {
		t.Fatalf("matrix dimensions mismatch: got %dx%d, want %dx%d", rg, cg, rw, cw)
	}

	for i := 0; i < rg; i++ {
		for j := 0; j < cg; j++ {
			g := got.At(i, j)
			w := want.At(i, j)
			if math.Abs(g-w) > tol*math.Max(1, math.Abs(w)) {
				t.Fatalf("at (%d,%d): got %v, want %v (tolerance %v)", i, j, g, w, tol)
			}
		}
	}
}

// generateRandomMatrix generates a random matrix with values in [min, max]
func generateRandomMatrix(rng *rand.Rand, rows, cols int, min, max float64) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = min + rng.Float64()*(max-min)
	}
	return mat.NewDense(rows, cols, data)
}

// decayProblem fits y = a*exp(-b*x) on x in [0, 4]. noise adds a fixed
// perturbation so the optimum has a nonzero cost.
func decayProblem(n int, noise float64) optimization.Problem {
	x := make([]float64, n)
	y := make([]float64, n)
	for i := range x {
		x[i] = 4 * float64(i) / float64(n-1)
		y[i] = 2*math.Exp(-0.5*x[i]) + noise*math.Sin(float64(3*i))
	}
	return optimization.Problem{
		Residuals: func(p, hx []float64) error {
			for i := range x {
				hx[i] = p[0]*math.Exp(-p[1]*x[i]) - y[i]
			}
			return nil
		},
		Jacobian: func(p, jac []float64) error {
			for i := range x {
				e := math.Exp(-p[1] * x[i])
				jac[2*i] = e
				jac[2*i+1] = -p[0] * x[i] * e
			}
			return nil
		},
		Initial: []float64{1, 1},
		N:       n,
	}
}

// rosenbrockProblem writes the Rosenbrock function as two residuals.
func rosenbrockProblem() optimization.Problem {
	return optimization.Problem{
		Residuals: func(p, hx []float64) error {
			hx[0] = 10 * (p[1] - p[0]*p[0])
			hx[1] = 1 - p[0]
			return nil
		},
		Jacobian: func(p, jac []float64) error {
			jac[0], jac[1] = -20*p[0], 10
			jac[2], jac[3] = -1, 0
			return nil
		},
		Initial: []float64{-1.2, 1},
		N:       2,
	}
}

// linearProblem returns r = A p - b.
func linearProblem(A *mat.Dense, b []float64) optimization.Problem {
	n, m := A.Dims()
	return optimization.Problem{
		Residuals: func(p, hx []float64) error {
			out := mat.NewVecDense(n, hx)
			out.MulVec(A, mat.NewVecDense(m, p))
			for i := range hx {
				hx[i] -= b[i]
			}
			return nil
		},
		Jacobian: func(p, jac []float64) error {
			copy(jac, A.RawMatrix().Data)
			return nil
		},
		Initial: make([]float64, m),
		N:       n,
	}
}

// jacobianAt evaluates problem's Jacobian at p as a matrix.
func jacobianAt(t *testing.T, problem optimization.Problem, p []float64) *mat.Dense {
	t.Helper()
	m := len(problem.Initial)
	jac := make([]float64, problem.N*m)
	if err := problem.Jacobian(p, jac); err != nil {
		t.Fatalf("jacobian: %v", err)
	}
	return mat.NewDense(problem.N, m, jac)
}
