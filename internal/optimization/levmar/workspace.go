package levmar

import (
	"math"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// workspace holds the buffers of one run. A Minimizer keeps its workspace
// between runs and only reallocates when the problem dimensions change.
type workspace struct {
	n, m int

	p, pNew   []float64
	hx, hxNew []float64
	jac       []float64

	jtj *mat.SymDense
	aug *mat.SymDense
	jte *mat.VecDense
	dp  *mat.VecDense
}

func (w *workspace) reset(n, m int) {
	if w.jtj != nil && w.n == n && w.m == m {
		return
	}
	w.n, w.m = n, m
	w.p = make([]float64, m)
	w.pNew = make([]float64, m)
	w.hx = make([]float64, n)
	w.hxNew = make([]float64, n)
	w.jac = make([]float64, n*m)
	w.jtj = mat.NewSymDense(m, nil)
	w.aug = mat.NewSymDense(m, nil)
	w.jte = mat.NewVecDense(m, nil)
	w.dp = mat.NewVecDense(m, nil)
}

// normalEquations computes J^T J and J^T e with e = -hx.
func (w *workspace) normalEquations() {
	J := mat.NewDense(w.n, w.m, w.jac)
	w.jtj.SymOuterK(1, J.T())
	w.jte.MulVec(J.T(), mat.NewVecDense(w.n, w.hx))
	w.jte.ScaleVec(-1, w.jte)
}

func (w *workspace) gradientNorm() float64 {
	return floats.Norm(w.jte.RawVector().Data, math.Inf(1))
}

func (w *workspace) maxDiag() float64 {
	out := 0.0
	for i := 0; i < w.m; i++ {
		out = math.Max(out, w.jtj.At(i, i))
	}
	return out
}

// solve computes dp from (J^T J + mu I) dp = J^T e. Cholesky is tried
// first; an SVD pseudo-inverse is used when the matrix is not positive
// definite. It reports false if no usable step was found.
func (w *workspace) solve(mu float64, logger *zap.Logger) bool {
	w.aug.CopySym(w.jtj)
	for i := 0; i < w.m; i++ {
		w.aug.SetSym(i, i, w.aug.At(i, i)+mu)
	}

	var chol mat.Cholesky
	if chol.Factorize(w.aug) {
		err := chol.SolveVecTo(w.dp, w.jte)
		if err == nil && allFinite(w.dp.RawVector().Data) {
			return true
		}
		logger.Debug("Cholesky solve failed, trying SVD", zap.Error(err), zap.Float64("mu", mu))
	} else {
		logger.Debug("Cholesky factorization failed, trying SVD", zap.Float64("mu", mu))
	}
	return w.solveSVD(logger)
}

func (w *workspace) solveSVD(logger *zap.Logger) bool {
	var svd mat.SVD
	if !svd.Factorize(w.aug, mat.SVDFull) {
		return false
	}
	s := svd.Values(nil)
	if len(s) == 0 || !(s[0] > 0) {
		return false
	}

	var U, V mat.Dense
	svd.UTo(&U)
	svd.VTo(&V)

	threshold := math.Max(float64(w.m), 1.0) * s[0] * 1e-15
	uty := make([]float64, w.m)
	rank := 0
	for k := range s {
		if s[k] <= threshold {
			break
		}
		sum := 0.0
		for i := 0; i < w.m; i++ {
			sum += U.At(i, k) * w.jte.AtVec(i)
		}
		uty[k] = sum / s[k]
		rank++
	}
	if rank == 0 {
		return false
	}

	for i := 0; i < w.m; i++ {
		sum := 0.0
		for k := 0; k < rank; k++ {
			sum += V.At(i, k) * uty[k]
		}
		w.dp.SetVec(i, sum)
	}

	logger.Debug("Using SVD solver",
		zap.Int("rank", rank),
		zap.Float64("condition_number", s[0]/math.Max(s[len(s)-1], 1e-300)),
	)
	return allFinite(w.dp.RawVector().Data)
}

// covariance estimates the parameter covariance as
// pinv(J^T J) * cost / (n - rank). It returns nil when n <= rank.
func (w *workspace) covariance(cost float64) ([]float64, int) {
	var svd mat.SVD
	if !svd.Factorize(w.jtj, mat.SVDFull) {
		return nil, 0
	}
	s := svd.Values(nil)
	if len(s) == 0 {
		return nil, 0
	}

	var U, V mat.Dense
	svd.UTo(&U)
	svd.VTo(&V)

	threshold := epsilon * s[0]
	rank := 0
	for rank < len(s) && s[rank] > threshold {
		rank++
	}
	if rank == 0 || w.n <= rank {
		return nil, rank
	}

	scale := cost / float64(w.n-rank)
	out := make([]float64, w.m*w.m)
	for i := 0; i < w.m; i++ {
		for j := 0; j < w.m; j++ {
			sum := 0.0
			for k := 0; k < rank; k++ {
				sum += V.At(i, k) * U.At(j, k) / s[k]
			}
			out[i*w.m+j] = sum * scale
		}
	}
	return out, rank
}

func allFinite(x []float64) bool {
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
